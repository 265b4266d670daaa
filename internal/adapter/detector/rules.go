// Package detector guesses which AI tools were used to build an application.
package detector

import (
	"context"
	"regexp"
	"strings"

	"vibe-apps-miner/internal/domain"
)

const (
	MethodKeyword     = "keyword"
	keywordConfidence = 0.5
)

// Rule links a set of keywords to one tool.
type Rule struct {
	Tool     string
	Provider string
	Category string
	Keywords []string
}

// DefaultRules covers the tools the default sources are built around.
var DefaultRules = []Rule{
	{Tool: "Claude", Provider: "Anthropic", Category: "llm", Keywords: []string{"claude", "anthropic", "claude.md"}},
	{Tool: "GPT-4", Provider: "OpenAI", Category: "llm", Keywords: []string{"gpt-4", "gpt4", "chatgpt", "openai"}},
	{Tool: "Gemini", Provider: "Google", Category: "llm", Keywords: []string{"gemini", "gemini.md"}},
	{Tool: "Codex", Provider: "OpenAI", Category: "agent", Keywords: []string{"codex", "agents.md"}},
	{Tool: "Jules", Provider: "Google", Category: "agent", Keywords: []string{"jules"}},
	{Tool: "Cursor", Provider: "Anysphere", Category: "ide", Keywords: []string{"cursor ai", "cursor ide", ".cursorrules"}},
	{Tool: "GitHub Copilot", Provider: "GitHub", Category: "assistant", Keywords: []string{"copilot"}},
	{Tool: "Windsurf", Provider: "Codeium", Category: "ide", Keywords: []string{"windsurf", "codeium"}},
	{Tool: "v0", Provider: "Vercel", Category: "app_builder", Keywords: []string{"v0.dev", "v0 by vercel"}},
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// RuleDetector matches keywords against an application's name, description
// and URL.
type RuleDetector struct {
	rules []compiledRule
}

// NewRuleDetector compiles rules; keywords match case-insensitively on word
// boundaries.
func NewRuleDetector(rules []Rule) *RuleDetector {
	d := &RuleDetector{}
	for _, r := range rules {
		alts := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			alts = append(alts, regexp.QuoteMeta(strings.ToLower(k)))
		}
		if len(alts) == 0 {
			continue
		}
		re := regexp.MustCompile(`(^|[^a-z0-9])(` + strings.Join(alts, "|") + `)($|[^a-z0-9])`)
		d.rules = append(d.rules, compiledRule{rule: r, re: re})
	}
	return d
}

// Detect never fails; an application with no keyword hits yields nothing.
func (d *RuleDetector) Detect(_ context.Context, app domain.Application) ([]domain.ToolDetection, error) {
	text := strings.ToLower(strings.Join([]string{app.Name, app.Description, app.URL}, " "))

	var out []domain.ToolDetection
	for _, cr := range d.rules {
		if !cr.re.MatchString(text) {
			continue
		}
		out = append(out, domain.ToolDetection{
			Tool:       cr.rule.Tool,
			Provider:   cr.rule.Provider,
			Category:   cr.rule.Category,
			Confidence: keywordConfidence,
			Method:     MethodKeyword,
		})
	}
	return out, nil
}
