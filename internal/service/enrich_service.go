package service

import (
	"context"
	"log/slog"
	"time"

	"vibe-apps-miner/internal/adapter/filter"
	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/port"
)

// DefaultStaleAfter is how long enriched repository metadata stays fresh.
const DefaultStaleAfter = 7 * 24 * time.Hour

// EnrichService attaches GitHub repository metadata to GitHub-hosted applications.
type EnrichService struct {
	store    port.EnrichStore
	enricher port.RepoEnricher
	filter   *filter.RepoFilter
	nowFunc  func() time.Time
}

func NewEnrichService(store port.EnrichStore, enricher port.RepoEnricher) *EnrichService {
	return &EnrichService{
		store:    store,
		enricher: enricher,
		filter:   filter.NewRepoFilter(),
		nowFunc:  time.Now,
	}
}

// Run enriches up to limit applications whose metadata is missing or older
// than staleAfter. A rate limit that outlasts the retry policy ends the pass;
// everything enriched before it stays stored.
func (s *EnrichService) Run(ctx context.Context, limit int, staleAfter time.Duration) (domain.EnrichStats, error) {
	var stats domain.EnrichStats
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	candidates, err := s.store.EnrichmentCandidates(ctx, s.nowFunc().Add(-staleAfter), limit)
	if err != nil {
		return stats, err
	}
	candidates = s.filter.FilterStale(candidates, staleAfter)
	stats.Candidates = len(candidates)
	slog.Info("enrichment started", "candidates", stats.Candidates)

	for _, app := range candidates {
		if ctx.Err() != nil {
			stats.Aborted = true
			break
		}
		err := s.enrichOne(ctx, app)
		switch {
		case err == nil:
			stats.Enriched++
		case common.HasCode(err, common.ErrCodeNotFound):
			stats.Skipped++
			slog.Debug("repository gone", "application", app.ID, "url", app.URL)
			if err := s.store.MarkEnriched(ctx, app.ID, s.nowFunc().UTC()); err != nil {
				stats.Errors++
				slog.Warn("enrichment stamp not stored", "application", app.ID, "err", err)
			}
		case common.HasCode(err, common.ErrCodeRateLimited) || common.IsRateLimited(err):
			stats.Errors++
			stats.Aborted = true
			slog.Warn("enrichment aborted by rate limit", "enriched", stats.Enriched, "err", err)
			return stats, nil
		default:
			stats.Errors++
			slog.Warn("enrichment failed", "application", app.ID, "url", app.URL, "err", err)
		}
	}

	slog.Info("enrichment finished",
		"enriched", stats.Enriched, "skipped", stats.Skipped, "errors", stats.Errors, "aborted", stats.Aborted)
	return stats, nil
}

func (s *EnrichService) enrichOne(ctx context.Context, app domain.Application) error {
	owner, name, ok := filter.ParseGitHubRepo(app.URL)
	if !ok {
		return common.NewError(common.ErrCodeInvalidInput, "not a repository url: "+app.URL)
	}

	repo, err := s.enricher.FetchRepository(ctx, owner, name)
	if err != nil {
		return err
	}
	repo.ApplicationID = app.ID
	if err := s.store.UpsertGitHubRepository(ctx, repo); err != nil {
		return err
	}

	rec := domain.NormalizedRecord{
		ExternalID:  app.ExternalID,
		Name:        app.Name,
		URL:         app.URL,
		Description: repo.Description,
		UpdatedAt:   repo.PushedAt,
	}
	if rec.UpdatedAt == nil {
		rec.UpdatedAt = repo.RepoUpdatedAt
	}
	_, _, err = s.store.UpsertApplication(ctx, app.PlatformID, rec, domain.ModeRefresh)
	return err
}
