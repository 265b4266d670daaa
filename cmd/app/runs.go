package main

import (
	"fmt"
	"strings"

	gogithub "github.com/google/go-github/v53/github"

	"vibe-apps-miner/internal/adapter/github"
	"vibe-apps-miner/internal/adapter/httpsource"
	"vibe-apps-miner/internal/adapter/normalizer"
	"vibe-apps-miner/internal/adapter/snapshot"
	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/config"
	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/service"
)

// buildRuns wires the named sources, or every enabled one when names is
// empty. A source whose required environment is missing is still returned,
// marked as skipped, so the summary shows why it did not run.
func buildRuns(cfg *config.Config, names []string) ([]service.SourceRun, error) {
	var selected []config.SourceConfig
	if len(names) == 0 {
		for _, src := range cfg.Sources {
			if src.IsEnabled() {
				selected = append(selected, src)
			}
		}
	} else {
		for _, name := range names {
			src, ok := cfg.Source(name)
			if !ok {
				return nil, common.NewError(common.ErrCodeConfig, fmt.Sprintf("unknown source %q", name))
			}
			selected = append(selected, src)
		}
	}

	var client *gogithub.Client
	runs := make([]service.SourceRun, 0, len(selected))
	for _, src := range selected {
		run := newSourceRun(src)
		if missing := src.MissingEnv(); len(missing) > 0 {
			run.SkipReason = "missing environment: " + strings.Join(missing, ", ")
			runs = append(runs, run)
			continue
		}

		switch src.Kind {
		case config.KindHTTP:
			run.Fetcher = httpsource.New(src)
		default:
			if client == nil {
				client = github.NewClient(cfg.GitHubToken, src.RateLimit.Timeout.Std())
			}
			run.Fetcher = github.NewSearcher(client, src)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// newSourceRun fills everything but the fetcher.
func newSourceRun(src config.SourceConfig) service.SourceRun {
	run := service.SourceRun{
		Name: src.Name,
		Platform: domain.PlatformInput{
			Name:           src.Platform.Name,
			BaseURL:        src.Platform.BaseURL,
			Description:    src.Platform.Description,
			ScrapingMethod: src.DiscoveryMethod,
		},
		Normalizer: normalizer.New(normalizer.MappingFor(src)),
	}
	if t := src.AITool; t != nil && t.Name != "" {
		run.AITool = &domain.ToolDetection{
			Tool:       t.Name,
			Provider:   t.Provider,
			Category:   t.Category,
			Confidence: t.Confidence,
			Method:     t.Method,
		}
	}
	return run
}

// replayRun feeds a stored snapshot back through normalization and
// persistence, using the mapping of the source that produced it.
func replayRun(cfg *config.Config, path string) (service.SourceRun, error) {
	snap, err := snapshot.Read(path)
	if err != nil {
		return service.SourceRun{}, err
	}

	src, ok := cfg.Source(snap.Source)
	if !ok {
		if snap.Platform == "" {
			return service.SourceRun{}, common.NewError(common.ErrCodeInvalidInput,
				fmt.Sprintf("snapshot %s names unknown source %q and no platform", path, snap.Source))
		}
		src = config.SourceConfig{Name: snap.Source, Platform: config.PlatformConfig{Name: snap.Platform}}
	}

	run := newSourceRun(src)
	run.Fetcher = snapshot.NewReplayFetcher(snap)
	return run, nil
}
