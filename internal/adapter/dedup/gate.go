// Package dedup decides whether a normalized record is new.
//
// A record's identity within a platform is, in priority order, its
// source-native id, its canonical URL, or its case-folded name. The store
// enforces the same key with a unique index so concurrent writers cannot
// create twins.
package dedup

import (
	"strings"

	"vibe-apps-miner/internal/domain"
)

const (
	prefixExternal = "ext:"
	prefixURL      = "url:"
	prefixName     = "name:"
)

// IdentityKey returns the key used to recognise rec on its platform, or ""
// when rec carries nothing to identify it by.
func IdentityKey(rec domain.NormalizedRecord) string {
	if id := strings.TrimSpace(rec.ExternalID); id != "" {
		return prefixExternal + id
	}
	if u := strings.TrimSpace(rec.URL); u != "" {
		return prefixURL + u
	}
	if name := strings.TrimSpace(rec.Name); name != "" {
		return prefixName + strings.ToLower(name)
	}
	return ""
}

// Decide returns what to do with a record given whether its identity is
// already stored.
func Decide(exists bool, mode domain.IngestMode) domain.Decision {
	switch {
	case !exists:
		return domain.DecisionInsert
	case mode == domain.ModeRefresh:
		return domain.DecisionUpdate
	default:
		return domain.DecisionSkip
	}
}
