// Package filter decides which stored applications an enrichment pass should touch.
package filter

import (
	"net/url"
	"strings"
	"time"

	"vibe-apps-miner/internal/domain"
)

// reservedOwners are github.com path prefixes that are not user or org accounts.
var reservedOwners = map[string]bool{
	"about": true, "apps": true, "collections": true, "enterprise": true,
	"explore": true, "features": true, "login": true, "marketplace": true,
	"orgs": true, "pricing": true, "settings": true, "sponsors": true,
	"topics": true, "trending": true, "users": true,
}

// ParseGitHubRepo extracts owner and repository name from a github.com URL
// such as https://github.com/owner/repo/blob/main/AGENTS.md.
func ParseGitHubRepo(rawURL string) (owner, name string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "github.com" {
		return "", "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	owner = parts[0]
	name = strings.TrimSuffix(parts[1], ".git")
	if reservedOwners[strings.ToLower(owner)] || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// RepoFilter applies the enrichment staleness rule.
type RepoFilter struct {
	nowFunc func() time.Time
}

func NewRepoFilter() *RepoFilter {
	return &RepoFilter{nowFunc: time.Now}
}

// NeedsEnrichment reports whether app is an active GitHub-hosted application
// never enriched or last enriched more than maxAge ago.
func (f *RepoFilter) NeedsEnrichment(app domain.Application, maxAge time.Duration) bool {
	if !app.IsActive {
		return false
	}
	if _, _, ok := ParseGitHubRepo(app.URL); !ok {
		return false
	}
	if app.LastEnrichedAt == nil {
		return true
	}
	return f.nowFunc().Sub(*app.LastEnrichedAt) > maxAge
}

// FilterStale keeps the applications NeedsEnrichment accepts.
func (f *RepoFilter) FilterStale(apps []domain.Application, maxAge time.Duration) []domain.Application {
	filtered := make([]domain.Application, 0, len(apps))
	for _, app := range apps {
		if f.NeedsEnrichment(app, maxAge) {
			filtered = append(filtered, app)
		}
	}
	return filtered
}
