package service

import (
	"context"
	"log/slog"

	"vibe-apps-miner/internal/adapter/analyzer"
	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/port"
)

// DetectService links applications that have no AI tool yet to the tools a
// detector finds for them.
type DetectService struct {
	store port.DetectStore
	pool  *analyzer.Pool
}

func NewDetectService(store port.DetectStore, pool *analyzer.Pool) *DetectService {
	return &DetectService{store: store, pool: pool}
}

// Run processes up to limit unlinked applications. Detection and link
// failures are counted; only listing candidates or cancellation fails the run.
// Tools found alongside a detection error are still linked.
func (s *DetectService) Run(ctx context.Context, limit int) (domain.DetectStats, error) {
	var stats domain.DetectStats

	apps, err := s.store.ApplicationsWithoutTools(ctx, limit)
	if err != nil {
		return stats, err
	}
	stats.Applications = len(apps)
	if len(apps) == 0 {
		return stats, nil
	}

	results, err := s.pool.Detect(ctx, apps)
	for _, r := range results {
		if r.Err != nil {
			stats.Errors++
		}
		for _, d := range r.Detections {
			linked, linkErr := s.store.LinkAITool(ctx, r.App.ID, d)
			if linkErr != nil {
				stats.Errors++
				slog.Warn("ai tool not linked", "application", r.App.ID, "tool", d.Tool, "err", linkErr)
				continue
			}
			if linked {
				stats.Links++
			}
		}
	}

	slog.Info("tool detection finished",
		"applications", stats.Applications, "links", stats.Links, "errors", stats.Errors)
	return stats, err
}
