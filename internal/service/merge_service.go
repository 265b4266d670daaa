package service

import (
	"context"
	"log/slog"
	"sort"

	"github.com/antzucaro/matchr"

	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/port"
)

// DefaultSimilarity is the Jaro-Winkler score above which two platform names
// are suggested as duplicates.
const DefaultSimilarity = 0.9

// MergeService folds duplicate platforms into one.
type MergeService struct {
	store port.MergeStore
}

func NewMergeService(store port.MergeStore) *MergeService {
	return &MergeService{store: store}
}

// MergePairs merges each pair in its own transaction. A failing pair is
// logged and reported in its result; later pairs still run.
func (s *MergeService) MergePairs(ctx context.Context, pairs []domain.MergePair) []domain.MergeResult {
	results := make([]domain.MergeResult, 0, len(pairs))
	for _, p := range pairs {
		if ctx.Err() != nil {
			results = append(results, domain.MergeResult{KeepID: p.KeepID, MergeID: p.MergeID, Err: ctx.Err()})
			continue
		}
		res, err := s.store.MergePlatforms(ctx, p.KeepID, p.MergeID)
		if err != nil {
			slog.Error("platform merge failed", "keep", p.KeepID, "merge", p.MergeID, "err", err)
			res = domain.MergeResult{KeepID: p.KeepID, MergeID: p.MergeID, Err: err}
		} else if res.Skipped {
			slog.Info("nothing to merge", "keep", p.KeepID, "merge", p.MergeID)
		} else {
			slog.Info("platforms merged", "keep", p.KeepID, "merge", p.MergeID,
				"moved", res.Moved, "collapsed", res.Collapsed)
		}
		results = append(results, res)
	}
	return results
}

// Suggestion proposes folding Merge into Keep.
type Suggestion struct {
	Keep       domain.PlatformStats
	Merge      domain.PlatformStats
	Similarity float64
}

func (s Suggestion) Pair() domain.MergePair {
	return domain.MergePair{KeepID: s.Keep.PlatformID, MergeID: s.Merge.PlatformID}
}

// Suggest compares every pair of platform names and returns those at least
// threshold similar, best match first. The platform with more applications
// is kept.
func (s *MergeService) Suggest(ctx context.Context, threshold float64) ([]Suggestion, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarity
	}
	stats, err := s.store.PlatformStats(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(stats))
	for i, p := range stats {
		names[i] = domain.CanonicalPlatformName(p.Name, nil)
	}

	var out []Suggestion
	for i := range stats {
		for j := i + 1; j < len(stats); j++ {
			sim := matchr.JaroWinkler(names[i], names[j], false)
			if sim < threshold {
				continue
			}
			keep, merge := stats[i], stats[j]
			if merge.Applications > keep.Applications ||
				(merge.Applications == keep.Applications && merge.PlatformID < keep.PlatformID) {
				keep, merge = merge, keep
			}
			out = append(out, Suggestion{Keep: keep, Merge: merge, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Similarity > out[b].Similarity })
	return out, nil
}
