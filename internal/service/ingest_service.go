package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/port"
)

// SourceRun is one source, wired and ready to ingest.
type SourceRun struct {
	Name       string
	Platform   domain.PlatformInput
	Fetcher    port.Fetcher
	Normalizer port.Normalizer
	// AITool is linked to every application this source stores or sees again.
	AITool *domain.ToolDetection
	// SkipReason, when set, keeps the source from running at all.
	SkipReason string
}

// IngestService drives Fetch → Normalize → Deduplicate → Persist for each source.
type IngestService struct {
	store       port.IngestStore
	snapshots   port.SnapshotWriter
	notifier    port.Notifier
	concurrency int
	newRunID    func() string
	nowFunc     func() time.Time
}

type IngestOption func(*IngestService)

// WithSnapshots archives each run's raw records.
func WithSnapshots(w port.SnapshotWriter) IngestOption {
	return func(s *IngestService) { s.snapshots = w }
}

// WithNotifier pushes a summary after RunAll.
func WithNotifier(n port.Notifier) IngestOption {
	return func(s *IngestService) { s.notifier = n }
}

// WithConcurrency bounds how many sources RunAll ingests at once.
func WithConcurrency(n int) IngestOption {
	return func(s *IngestService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRunIDs replaces the run identifier generator.
func WithRunIDs(f func() string) IngestOption {
	return func(s *IngestService) { s.newRunID = f }
}

func NewIngestService(store port.IngestStore, opts ...IngestOption) *IngestService {
	s := &IngestService{
		store:       store,
		concurrency: 1,
		newRunID:    func() string { return "" },
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSource ingests one source to exhaustion. Failures never escape: a
// fetch error ends the source with the pages already processed kept, and
// per-record store errors are counted. The returned stats describe the run.
func (s *IngestService) RunSource(ctx context.Context, run SourceRun) domain.IngestStats {
	stats := domain.IngestStats{
		RunID:     s.newRunID(),
		Source:    run.Name,
		StartedAt: s.nowFunc(),
	}
	log := slog.With("source", run.Name, "run_id", stats.RunID)

	if run.SkipReason != "" {
		stats.Skipped = true
		stats.Err = run.SkipReason
		stats.FinishedAt = s.nowFunc()
		log.Warn("source skipped", "reason", run.SkipReason)
		return stats
	}

	scrapedAt := stats.StartedAt.UTC()
	platform := run.Platform
	platform.ScrapedAt = &scrapedAt
	platformID, err := s.store.UpsertPlatform(ctx, platform)
	if err != nil {
		stats.Errors++
		stats.Err = err.Error()
		stats.FinishedAt = s.nowFunc()
		log.Error("cannot register platform", "platform", run.Platform.Name, "err", err)
		return stats
	}

	var raw []domain.RawRecord
	for page, err := range run.Fetcher.Pages(ctx) {
		if err != nil {
			stats.Err = err.Error()
			log.Warn("source aborted, keeping partial results", "after_pages", stats.Pages, "err", err)
			break
		}
		stats.Pages++
		if s.snapshots != nil {
			raw = append(raw, page.Records...)
		}
		for _, r := range page.Records {
			s.ingestRecord(ctx, log, platformID, run, r, &stats)
		}
		log.Debug("page processed", "page", page.Number, "records", len(page.Records),
			"inserted", stats.Inserted, "duplicates", stats.Duplicates)
	}

	if t, ok := run.Fetcher.(port.Truncator); ok {
		stats.Truncated = t.Truncated()
	}

	if s.snapshots != nil {
		path, err := s.snapshots.Write(domain.Snapshot{
			RunID:     stats.RunID,
			Source:    run.Name,
			Platform:  run.Platform.Name,
			ScrapedAt: scrapedAt,
			Truncated: stats.Truncated,
			Records:   raw,
		})
		if err != nil {
			log.Warn("snapshot not written", "err", err)
		} else {
			stats.Snapshot = path
		}
	}

	stats.FinishedAt = s.nowFunc()
	log.Info("source finished",
		"pages", stats.Pages,
		"fetched", stats.Fetched,
		"normalized", stats.Normalized,
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates,
		"dropped", stats.Dropped,
		"errors", stats.Errors,
		"truncated", stats.Truncated,
		"duration", stats.Duration().Round(time.Millisecond),
	)
	return stats
}

func (s *IngestService) ingestRecord(ctx context.Context, log *slog.Logger, platformID uint, run SourceRun, raw domain.RawRecord, stats *domain.IngestStats) {
	stats.Fetched++
	rec, ok := run.Normalizer.Normalize(raw)
	if !ok {
		stats.Dropped++
		return
	}
	stats.Normalized++

	id, inserted, err := s.store.UpsertApplication(ctx, platformID, rec, domain.ModeIngest)
	if err != nil {
		stats.Errors++
		log.Warn("record not stored", "external_id", rec.ExternalID, "url", rec.URL, "err", err)
		return
	}
	if inserted {
		stats.Inserted++
	} else {
		stats.Duplicates++
	}

	// Sources sharing a platform see the same application; each one adds
	// its own tool link.
	if run.AITool == nil {
		return
	}
	if _, err := s.store.LinkAITool(ctx, id, *run.AITool); err != nil {
		stats.Errors++
		log.Warn("ai tool not linked", "application", id, "tool", run.AITool.Tool, "err", err)
	}
}

// RunAll ingests every run, up to the configured number at a time, and
// returns their stats in input order. One source failing never affects another.
func (s *IngestService) RunAll(ctx context.Context, runs []SourceRun) []domain.IngestStats {
	results := make([]domain.IngestStats, len(runs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, run := range runs {
		g.Go(func() error {
			results[i] = s.RunSource(ctx, run)
			return nil
		})
	}
	_ = g.Wait()

	if s.notifier != nil && len(results) > 0 {
		if err := s.notifier.NotifyRunSummary(ctx, results); err != nil {
			slog.Warn("run summary not sent", "err", err)
		}
	}
	return results
}
