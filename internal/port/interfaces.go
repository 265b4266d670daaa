package port

import (
	"context"
	"iter"
	"time"

	"vibe-apps-miner/internal/domain"
)

// Fetcher (collector): walks one source and yields its pages in order.
// A failed page ends the sequence with a single error.
type Fetcher interface {
	Pages(ctx context.Context) iter.Seq2[*domain.Page, error]
}

// Truncator is implemented by fetchers that can stop at a result ceiling.
type Truncator interface {
	Truncated() bool
}

// Normalizer (translator): maps a source record onto the common shape.
// ok is false when the record has neither a title nor a URL.
type Normalizer interface {
	Normalize(raw domain.RawRecord) (rec domain.NormalizedRecord, ok bool)
}

// IngestStore is the persistence surface an ingestion run needs.
type IngestStore interface {
	UpsertPlatform(ctx context.Context, in domain.PlatformInput) (uint, error)
	UpsertApplication(ctx context.Context, platformID uint, rec domain.NormalizedRecord, mode domain.IngestMode) (uint, bool, error)
	LinkAITool(ctx context.Context, appID uint, d domain.ToolDetection) (bool, error)
}

// EnrichStore is what the GitHub enrichment pass reads and writes.
type EnrichStore interface {
	EnrichmentCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Application, error)
	UpsertApplication(ctx context.Context, platformID uint, rec domain.NormalizedRecord, mode domain.IngestMode) (uint, bool, error)
	UpsertGitHubRepository(ctx context.Context, repo *domain.GitHubRepository) error
	MarkEnriched(ctx context.Context, appID uint, at time.Time) error
}

// DetectStore is what AI tool detection reads and writes.
type DetectStore interface {
	ApplicationsWithoutTools(ctx context.Context, limit int) ([]domain.Application, error)
	LinkAITool(ctx context.Context, appID uint, d domain.ToolDetection) (bool, error)
}

// MergeStore folds duplicate platforms together.
type MergeStore interface {
	MergePlatforms(ctx context.Context, keepID, mergeID uint) (domain.MergeResult, error)
	PlatformStats(ctx context.Context) ([]domain.PlatformStats, error)
}

// Repository (warehouse keeper): the full store, including the read-only
// queries behind the CLI.
type Repository interface {
	IngestStore
	EnrichStore
	DetectStore
	MergeStore

	GetApplication(ctx context.Context, id uint) (*domain.Application, error)
	ListApplications(ctx context.Context, f domain.ApplicationFilter) ([]domain.Application, error)
	ListPlatforms(ctx context.Context) ([]domain.Platform, error)
	FindPlatform(ctx context.Context, name string) (*domain.Platform, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Application, error)
	CountApplications(ctx context.Context) (int64, error)
	Close() error
}

// RepoEnricher (archivist): looks up repository metadata on GitHub.
type RepoEnricher interface {
	FetchRepository(ctx context.Context, owner, name string) (*domain.GitHubRepository, error)
}

// Detector (appraiser): guesses which AI tools built an application.
type Detector interface {
	Detect(ctx context.Context, app domain.Application) ([]domain.ToolDetection, error)
}

// Notifier (messenger): pushes a run summary to a chat channel.
type Notifier interface {
	NotifyRunSummary(ctx context.Context, runs []domain.IngestStats) error
}

// SnapshotWriter archives the raw records of one run and returns the file path.
type SnapshotWriter interface {
	Write(snap domain.Snapshot) (string, error)
}
