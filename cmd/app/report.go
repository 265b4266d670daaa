package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"vibe-apps-miner/internal/config"
	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/service"
)

func newTable(out io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(header)
	t.SetStyle(table.StyleRounded)
	return t
}

func printIngestSummary(out io.Writer, results []domain.IngestStats) {
	t := newTable(out, table.Row{"Source", "Pages", "Fetched", "Inserted", "Duplicates", "Dropped", "Errors", "Time", "Status"})
	inserted := 0
	for _, r := range results {
		inserted += r.Inserted
		t.AppendRow(table.Row{
			r.Source, r.Pages, r.Fetched, r.Inserted, r.Duplicates, r.Dropped, r.Errors,
			r.Duration().Round(time.Millisecond), ingestStatus(r),
		})
	}
	t.AppendFooter(table.Row{"", "", "", inserted})
	t.Render()

	for _, r := range results {
		if r.Snapshot != "" {
			fmt.Fprintf(out, "💾 %s → %s\n", r.Source, r.Snapshot)
		}
	}
	fmt.Fprintf(out, "🎉 Done, %d new application(s)\n", inserted)
}

func ingestStatus(r domain.IngestStats) string {
	switch {
	case r.Skipped:
		return "⏭️  " + r.Err
	case r.Err != "":
		return "❌ " + r.Err
	case r.Truncated:
		return "⚠️  truncated"
	default:
		return "✅"
	}
}

func printPlatformStats(out io.Writer, stats []domain.PlatformStats, total int64) {
	t := newTable(out, table.Row{"ID", "Platform", "Applications", "Featured", "By discovery method"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.PlatformID, s.Name, s.Applications, s.Featured, formatCounts(s.ByDiscoveryMethod)})
	}
	t.AppendFooter(table.Row{"", "Total", total})
	t.Render()
}

func formatCounts(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		name := k
		if name == "" {
			name = "unknown"
		}
		parts = append(parts, fmt.Sprintf("%s=%d", name, m[k]))
	}
	return strings.Join(parts, " ")
}

func printApplications(out io.Writer, apps []domain.Application) {
	t := newTable(out, table.Row{"ID", "Name", "URL", "Discovered via"})
	for _, a := range apps {
		t.AppendRow(table.Row{a.ID, a.Name, a.URL, a.DiscoveryMethod})
	}
	t.Render()
}

func printSources(out io.Writer, sources []config.SourceConfig) {
	t := newTable(out, table.Row{"Source", "Kind", "Platform", "Paging", "Enabled", "Missing env"})
	for _, s := range sources {
		paging := s.Pagination.Style
		if paging == "" {
			paging = "page"
		}
		t.AppendRow(table.Row{s.Name, s.Kind, s.Platform.Name, paging, s.IsEnabled(), strings.Join(s.MissingEnv(), ", ")})
	}
	t.Render()
}

func printSuggestions(out io.Writer, suggestions []service.Suggestion) {
	if len(suggestions) == 0 {
		fmt.Fprintln(out, "🤝 No similar platform names")
		return
	}
	t := newTable(out, table.Row{"Keep", "Merge", "Similarity", "Pair"})
	for _, s := range suggestions {
		t.AppendRow(table.Row{
			fmt.Sprintf("%s (%d apps)", s.Keep.Name, s.Keep.Applications),
			fmt.Sprintf("%s (%d apps)", s.Merge.Name, s.Merge.Applications),
			fmt.Sprintf("%.3f", s.Similarity),
			fmt.Sprintf("%d:%d", s.Keep.PlatformID, s.Merge.PlatformID),
		})
	}
	t.Render()
}

func printMergeResults(out io.Writer, results []domain.MergeResult) {
	t := newTable(out, table.Row{"Keep", "Merge", "Moved", "Collapsed", "Status"})
	for _, r := range results {
		status := "✅"
		switch {
		case r.Err != nil:
			status = "❌ " + r.Err.Error()
		case r.Skipped:
			status = "⏭️  nothing to merge"
		}
		t.AppendRow(table.Row{r.KeepID, r.MergeID, r.Moved, r.Collapsed, status})
	}
	t.Render()
}
