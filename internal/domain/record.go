package domain

import (
	"encoding/json"
	"time"
)

// RawRecord is one item exactly as a source returned it.
type RawRecord = json.RawMessage

// Page is one batch of raw records from a paginated source.
type Page struct {
	Number  int
	Records []RawRecord
}

// NormalizedRecord is the source-independent shape produced by the normalizer.
type NormalizedRecord struct {
	Source          string
	ExternalID      string
	Name            string
	Description     string
	URL             string
	CreatedAt       *time.Time
	UpdatedAt       *time.Time
	Featured        bool
	DiscoveryMethod string
	Raw             RawRecord
}

// IngestMode selects what the store does when an identity already exists.
type IngestMode int

const (
	// ModeIngest inserts new identities and skips known ones.
	ModeIngest IngestMode = iota
	// ModeRefresh updates mutable fields of known identities.
	ModeRefresh
)

func (m IngestMode) String() string {
	if m == ModeRefresh {
		return "refresh"
	}
	return "ingest"
}

// Decision is the deduplication outcome for one record.
type Decision int

const (
	DecisionInsert Decision = iota
	DecisionSkip
	DecisionUpdate
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionSkip:
		return "skip"
	case DecisionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// PlatformInput describes a platform as seen by a source.
type PlatformInput struct {
	Name           string
	BaseURL        string
	Description    string
	ScrapingMethod string
	ScrapedAt      *time.Time
}

// ToolDetection associates an application with an AI tool.
type ToolDetection struct {
	Tool       string
	Provider   string
	Category   string
	Confidence float64
	Method     string
}

// IngestStats summarises one source run.
type IngestStats struct {
	RunID      string
	Source     string
	Pages      int
	Fetched    int
	Normalized int
	Inserted   int
	Duplicates int
	Dropped    int
	Errors     int
	Truncated  bool
	Skipped    bool
	Err        string
	Snapshot   string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration reports how long the run took.
func (s IngestStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Snapshot is the on-disk record of one ingestion run.
type Snapshot struct {
	RunID        string      `json:"run_id"`
	Source       string      `json:"source"`
	Platform     string      `json:"platform"`
	ScrapedAt    time.Time   `json:"scraped_at"`
	TotalRecords int         `json:"total_records"`
	Truncated    bool        `json:"truncated"`
	Records      []RawRecord `json:"records"`
}

// MergePair asks for MergeID to be folded into KeepID.
type MergePair struct {
	KeepID  uint
	MergeID uint
}

// MergeResult reports what a single platform merge changed.
type MergeResult struct {
	KeepID    uint
	MergeID   uint
	Moved     int64
	Collapsed int64
	Skipped   bool
	Err       error
}

// ApplicationFilter narrows application listings. Zero values mean "any".
type ApplicationFilter struct {
	PlatformID      uint
	DiscoveryMethod string
	Active          *bool
	Limit           int
}

// PlatformStats aggregates a platform's applications.
type PlatformStats struct {
	PlatformID        uint
	Name              string
	Applications      int64
	Featured          int64
	ByDiscoveryMethod map[string]int64
}

// EnrichStats summarises one enrichment pass.
type EnrichStats struct {
	Candidates int
	Enriched   int
	Skipped    int
	Errors     int
	Aborted    bool
}

// DetectStats summarises one AI tool detection pass.
type DetectStats struct {
	Applications int
	Links        int
	Errors       int
}
