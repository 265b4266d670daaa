package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

const (
	MethodLLM    = "llm"
	defaultModel = "gemini-2.5-flash-lite"
)

// generator is the slice of *genai.GenerativeModel the detector uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Detector asks Gemini which AI tools an application was built with.
type Detector struct {
	client *genai.Client
	model  generator
}

// aiResponse is the JSON shape the prompt asks for.
type aiResponse struct {
	Tools []struct {
		Name       string  `json:"name"`
		Provider   string  `json:"provider"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"tools"`
}

func NewDetector(ctx context.Context, apiKey string) (*Detector, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, common.WrapError(common.ErrCodeAIProcessing, "create gemini client", err)
	}

	model := client.GenerativeModel(defaultModel)
	// JSON-only responses keep parsing failures rare.
	model.ResponseMIMEType = "application/json"

	return &Detector{client: client, model: model}, nil
}

func (d *Detector) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *Detector) Detect(ctx context.Context, app domain.Application) ([]domain.ToolDetection, error) {
	prompt := fmt.Sprintf(`
You are reviewing an application published on an AI app-building platform.

Name: %s
URL: %s
Description: %s

List the AI tools (models, coding agents, AI IDEs or app builders) that were
most likely used to build it. Answer with JSON only:
{"tools": [{"name": "...", "provider": "...", "category": "llm|agent|ide|assistant|app_builder", "confidence": 0.0}]}
Use an empty list when there is no evidence. Confidence is between 0 and 1.
`, app.Name, app.URL, truncate(app.Description, 2000))

	resp, err := d.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, common.WrapError(common.ErrCodeAIProcessing, "gemini request", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, common.NewError(common.ErrCodeAIProcessing, "empty gemini response")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, common.NewError(common.ErrCodeAIProcessing, "unexpected gemini response part")
	}

	res, err := parseAIResponse(string(text))
	if err != nil {
		return nil, common.WrapError(common.ErrCodeAIProcessing, "parse gemini response", err)
	}

	var out []domain.ToolDetection
	for _, t := range res.Tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		out = append(out, domain.ToolDetection{
			Tool:       name,
			Provider:   t.Provider,
			Category:   t.Category,
			Confidence: clamp(t.Confidence),
			Method:     MethodLLM,
		})
	}
	return out, nil
}

// parseAIResponse pulls the outermost JSON object out of the model output,
// tolerating markdown fences and chatter around it.
func parseAIResponse(raw string) (*aiResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response: %s", truncate(raw, 200))
	}

	var res aiResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &res); err != nil {
		return nil, fmt.Errorf("%w | raw: %s", err, truncate(raw, 200))
	}
	return &res, nil
}

func clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	return math.Min(c, 1)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
