package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vibe-apps-miner/internal/adapter/analyzer"
	"vibe-apps-miner/internal/adapter/detector"
	"vibe-apps-miner/internal/adapter/feishu"
	"vibe-apps-miner/internal/adapter/gemini"
	"vibe-apps-miner/internal/adapter/github"
	"vibe-apps-miner/internal/adapter/snapshot"
	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/port"
	"vibe-apps-miner/internal/service"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		fromSnapshot string
		noSnapshot   bool
		concurrency  int
		interval     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest [source...]",
		Short: "Fetch sources and store new applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			opts := []service.IngestOption{
				service.WithRunIDs(snapshot.NewRunID),
				service.WithConcurrency(a.cfg.Concurrency),
			}
			if concurrency > 0 {
				opts = append(opts, service.WithConcurrency(concurrency))
			}
			if !noSnapshot && fromSnapshot == "" {
				opts = append(opts, service.WithSnapshots(snapshot.NewWriter(a.cfg.SnapshotDir)))
			}
			if a.cfg.FeishuWebhook != "" {
				opts = append(opts, service.WithNotifier(feishu.NewNotifier(a.cfg.FeishuWebhook)))
			}
			svc := service.NewIngestService(store, opts...)

			cycle := func(ctx context.Context) error {
				var runs []service.SourceRun
				if fromSnapshot != "" {
					run, err := replayRun(a.cfg, fromSnapshot)
					if err != nil {
						return err
					}
					runs = []service.SourceRun{run}
				} else if runs, err = buildRuns(a.cfg, args); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "⛏️  Ingesting %d source(s)...\n", len(runs))
				printIngestSummary(cmd.OutOrStdout(), svc.RunAll(ctx, runs))
				return nil
			}

			if interval <= 0 || fromSnapshot != "" {
				return cycle(cmd.Context())
			}
			return runScheduled(cmd, interval, cycle)
		},
	}
	cmd.Flags().StringVar(&fromSnapshot, "from-snapshot", "", "replay a snapshot file instead of fetching")
	cmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "do not archive raw records")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "sources ingested in parallel (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat every interval until interrupted, e.g. 6h")
	return cmd
}

// runScheduled runs cycle now and then on every tick until the command's
// context ends. A failing cycle is logged and the schedule continues.
func runScheduled(cmd *cobra.Command, interval time.Duration, cycle func(context.Context) error) error {
	ctx := cmd.Context()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "⏰ Scheduled mode: every %s, Ctrl+C to stop\n", interval)
	for {
		if err := cycle(ctx); err != nil {
			slog.Error("ingestion cycle failed", "err", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			fmt.Fprintln(cmd.OutOrStdout(), "👋 Stopped")
			return nil
		}
	}
}

func newEnrichCmd(a *app) *cobra.Command {
	var (
		limit      int
		staleAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Attach GitHub repository metadata to GitHub-hosted applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if a.cfg.GitHubToken == "" {
				slog.Warn("GITHUB_TOKEN is not set, using the unauthenticated rate limit")
			}
			enricher := github.NewEnricher(github.NewClient(a.cfg.GitHubToken, github.DefaultTimeout), common.DefaultPolicy())

			stats, err := service.NewEnrichService(store, enricher).Run(cmd.Context(), limit, staleAfter)
			if err != nil {
				slog.Error("enrichment failed", "err", err)
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "📦 Candidates: %d\n", stats.Candidates)
			fmt.Fprintf(out, "✅ Enriched: %d  ⏭️  Skipped: %d  ❌ Errors: %d\n", stats.Enriched, stats.Skipped, stats.Errors)
			if stats.Aborted {
				fmt.Fprintln(out, "⚠️  Stopped early, run again later to continue")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum applications to enrich")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", service.DefaultStaleAfter, "re-enrich metadata older than this")
	return cmd
}

func newDetectCmd(a *app) *cobra.Command {
	var (
		limit       int
		useLLM      bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect AI tools for applications that have none linked",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			chain := detector.Chain{detector.NewRuleDetector(detector.DefaultRules)}
			if useLLM {
				llm, err := newLLMDetector(cmd.Context(), a.cfg.GeminiAPIKey)
				if err != nil {
					slog.Warn("LLM detection disabled", "err", err)
				} else {
					defer llm.Close()
					chain = append(chain, llm)
				}
			}
			pool := analyzer.NewPool(chain)
			pool.SetMaxGoroutines(concurrency)

			stats, err := service.NewDetectService(store, pool).Run(cmd.Context(), limit)
			if err != nil {
				slog.Error("detection failed", "err", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🧠 Applications: %d  🔗 Links: %d  ❌ Errors: %d\n",
				stats.Applications, stats.Links, stats.Errors)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "maximum applications to examine")
	cmd.Flags().BoolVar(&useLLM, "llm", false, "also ask Gemini (needs GEMINI_API_KEY)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 3, "parallel detections")
	return cmd
}

func newLLMDetector(ctx context.Context, apiKey string) (*gemini.Detector, error) {
	if apiKey == "" {
		return nil, common.NewError(common.ErrCodeConfig, "GEMINI_API_KEY is not set")
	}
	return gemini.NewDetector(ctx, apiKey)
}

func newMergeCmd(a *app) *cobra.Command {
	var (
		pairs     []string
		suggest   bool
		apply     bool
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Fold duplicate platforms into one",
		Example: "  vibe-miner merge --pair 1:4 --pair 1:7\n" +
			"  vibe-miner merge --suggest --threshold 0.92",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parsePairs(pairs)
			if err != nil {
				return err
			}
			if len(parsed) == 0 && !suggest {
				return common.NewError(common.ErrCodeInvalidInput, "nothing to do: pass --pair KEEP:MERGE or --suggest")
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			svc := service.NewMergeService(store)

			if suggest {
				suggestions, err := svc.Suggest(cmd.Context(), threshold)
				if err != nil {
					slog.Error("cannot compute suggestions", "err", err)
					return nil
				}
				printSuggestions(cmd.OutOrStdout(), suggestions)
				if apply {
					for _, s := range suggestions {
						parsed = append(parsed, s.Pair())
					}
				}
			}
			if len(parsed) > 0 {
				printMergeResults(cmd.OutOrStdout(), svc.MergePairs(cmd.Context(), parsed))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "pair", nil, "KEEP:MERGE platform ids, repeatable")
	cmd.Flags().BoolVar(&suggest, "suggest", false, "list platforms with similar names")
	cmd.Flags().BoolVar(&apply, "apply", false, "merge every suggested pair")
	cmd.Flags().Float64Var(&threshold, "threshold", service.DefaultSimilarity, "name similarity needed for a suggestion")
	return cmd
}

// parsePairs reads "KEEP:MERGE" platform id pairs.
func parsePairs(raw []string) ([]domain.MergePair, error) {
	out := make([]domain.MergePair, 0, len(raw))
	for _, r := range raw {
		keep, merge, ok := strings.Cut(r, ":")
		if !ok {
			return nil, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("pair %q is not KEEP:MERGE", r))
		}
		k, err1 := strconv.ParseUint(strings.TrimSpace(keep), 10, 0)
		m, err2 := strconv.ParseUint(strings.TrimSpace(merge), 10, 0)
		if err1 != nil || err2 != nil || k == 0 || m == 0 {
			return nil, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("pair %q needs two positive ids", r))
		}
		if k == m {
			return nil, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("pair %q merges a platform into itself", r))
		}
		out = append(out, domain.MergePair{KeepID: uint(k), MergeID: uint(m)})
	}
	return out, nil
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show application counts per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			stats, err := store.PlatformStats(cmd.Context())
			if err != nil {
				return err
			}
			total, err := store.CountApplications(cmd.Context())
			if err != nil {
				return err
			}
			printPlatformStats(cmd.OutOrStdout(), stats, total)
			return nil
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Find stored applications by name, description or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			return runSearch(cmd, store, args[0], limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func runSearch(cmd *cobra.Command, repo port.Repository, query string, limit int) error {
	apps, err := repo.Search(cmd.Context(), query, limit)
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "📭 Nothing matches %q. Run ingest first?\n", query)
		return nil
	}
	printApplications(cmd.OutOrStdout(), apps)
	return nil
}

func newSourcesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		Run: func(cmd *cobra.Command, args []string) {
			printSources(cmd.OutOrStdout(), a.cfg.Sources)
		},
	}
}
