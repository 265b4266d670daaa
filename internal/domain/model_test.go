package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalPlatformName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		aliases  map[string]string
		expected string
	}{
		{name: "plain name", input: "Bolt", expected: "bolt"},
		{name: "domain with suffix", input: "bolt.new", expected: "bolt"},
		{name: "full URL", input: "https://www.Lovable.dev/projects", expected: "lovable"},
		{name: "dotcom", input: "github.com", expected: "github"},
		{name: "mixed case", input: "GitHub", expected: "github"},
		{name: "short domain", input: "v0.dev", expected: "v0"},
		{name: "port stripped", input: "http://localhost:8080", expected: "localhost"},
		{name: "spaces collapse", input: "  Google   Jules ", expected: "google-jules"},
		{name: "default alias", input: "Jules", expected: "google-jules"},
		{name: "custom alias", input: "Replit Agent", aliases: map[string]string{"replit-agent": "replit"}, expected: "replit"},
		{name: "suffix only is kept", input: ".com", expected: "com"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanonicalPlatformName(tt.input, tt.aliases))
		})
	}
}

func TestCanonicalPlatformName_SameRowForSpellings(t *testing.T) {
	spellings := []string{"Bolt", "bolt.new", "https://bolt.new/", "BOLT", "www.bolt.new"}
	for _, s := range spellings {
		assert.Equal(t, "bolt", CanonicalPlatformName(s, nil), s)
	}
}

func TestIngestStats_Duration(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	s := IngestStats{StartedAt: start}
	assert.Zero(t, s.Duration())

	s.FinishedAt = start.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, s.Duration())
}

func TestDecisionAndModeStrings(t *testing.T) {
	assert.Equal(t, "insert", DecisionInsert.String())
	assert.Equal(t, "skip", DecisionSkip.String())
	assert.Equal(t, "update", DecisionUpdate.String())
	assert.Equal(t, "unknown", Decision(42).String())
	assert.Equal(t, "ingest", ModeIngest.String())
	assert.Equal(t, "refresh", ModeRefresh.String())
}

func TestAllModels(t *testing.T) {
	models := AllModels()
	assert.Len(t, models, 5)
	assert.IsType(t, &Platform{}, models[0])
	assert.Equal(t, "github_repositories", GitHubRepository{}.TableName())
	assert.Equal(t, "ai_tools", AITool{}.TableName())
	assert.Equal(t, "application_ai_tools", ApplicationAITool{}.TableName())
}
