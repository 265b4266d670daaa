package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

type fakeModel struct {
	resp   *genai.GenerateContentResponse
	err    error
	prompt string
}

func (f *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	if len(parts) > 0 {
		if text, ok := parts[0].(genai.Text); ok {
			f.prompt = string(text)
		}
	}
	return f.resp, f.err
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text(s)}}}},
	}
}

func TestParseAIResponse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
		expectTools int
	}{
		{
			name:        "valid JSON response",
			input:       `{"tools":[{"name":"Claude","provider":"Anthropic","confidence":0.9}]}`,
			expectTools: 1,
		},
		{
			name: "JSON wrapped in a markdown fence",
			input: "```json\n" + `{
				"tools": [
					{"name": "Cursor", "confidence": 0.6},
					{"name": "GPT-4", "confidence": 0.4}
				]
			}` + "\n```",
			expectTools: 2,
		},
		{
			name:        "empty list",
			input:       `{"tools":[]}`,
			expectTools: 0,
		},
		{
			name:        "invalid JSON",
			input:       `{"tools": nope}`,
			expectError: true,
		},
		{
			name:        "no JSON content",
			input:       `I could not tell.`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseAIResponse(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			assert.Len(t, result.Tools, tt.expectTools)
		})
	}
}

func TestDetector_Detect(t *testing.T) {
	model := &fakeModel{resp: textResponse(`{"tools":[
		{"name":"Claude","provider":"Anthropic","category":"llm","confidence":1.7},
		{"name":"  ","confidence":0.5},
		{"name":"Lovable","provider":"Lovable","category":"app_builder","confidence":-2}
	]}`)}
	d := &Detector{model: model}

	got, err := d.Detect(context.Background(), domain.Application{
		Name: "Habit tracker", URL: "https://lovable.dev/projects/abc", Description: "tracks habits",
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.ToolDetection{Tool: "Claude", Provider: "Anthropic", Category: "llm", Confidence: 1, Method: MethodLLM}, got[0])
	assert.Equal(t, 0.0, got[1].Confidence)
	assert.Contains(t, model.prompt, "Habit tracker")
	assert.Contains(t, model.prompt, "https://lovable.dev/projects/abc")
}

func TestDetector_DetectErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{name: "request fails", model: &fakeModel{err: errors.New("quota exceeded")}},
		{name: "no candidates", model: &fakeModel{resp: &genai.GenerateContentResponse{}}},
		{name: "not JSON", model: &fakeModel{resp: textResponse("sorry")}},
		{name: "wrong part type", model: &fakeModel{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Blob{MIMEType: "image/png"}}}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&Detector{model: tt.model}).Detect(context.Background(), domain.Application{Name: "x"})
			assert.Nil(t, got)
			assert.True(t, common.HasCode(err, common.ErrCodeAIProcessing))
		})
	}
}

func TestDetector_CloseWithoutClient(t *testing.T) {
	assert.NoError(t, (&Detector{}).Close())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "todo", n: 10, want: "todo"},
		{name: "ascii", in: "todo app", n: 4, want: "todo"},
		{name: "inside a multibyte rune", in: "待办事项", n: 4, want: "待"},
		{name: "on a rune boundary", in: "待办事项", n: 6, want: "待办"},
		{name: "emoji", in: "🚀🚀", n: 5, want: "🚀"},
		{name: "nothing fits", in: "é", n: 1, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestDetector_Detect_LongMultibyteDescription(t *testing.T) {
	model := &fakeModel{resp: textResponse(`{"tools":[]}`)}
	d := &Detector{model: model}

	_, err := d.Detect(context.Background(), domain.Application{
		Name:        "笔记",
		Description: "a" + strings.Repeat("笔记应用", 700),
	})
	require.NoError(t, err)
	require.NotEmpty(t, model.prompt)
	assert.True(t, utf8.ValidString(model.prompt), "prompt stays valid UTF-8")
}
