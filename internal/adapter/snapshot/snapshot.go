// Package snapshot archives the raw records of each ingestion run as JSON
// files and replays them as a page source.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

const (
	fileTimeLayout = "20060102_150405.000000"
	runIDPrefix    = 8
	replayPageSize = 100
)

// NewRunID returns a fresh identifier for one ingestion run.
func NewRunID() string {
	return uuid.NewString()
}

// Writer stores snapshots under one directory.
type Writer struct {
	dir     string
	nowFunc func() time.Time
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, nowFunc: time.Now}
}

// Write saves snap as <source>_<YYYYMMDD_HHMMSS.micros>_<run>.json and
// returns the path. A zero ScrapedAt is filled with the current time and an
// empty RunID with a fresh one. An existing file is never overwritten.
func (w *Writer) Write(snap domain.Snapshot) (string, error) {
	if snap.ScrapedAt.IsZero() {
		snap.ScrapedAt = w.nowFunc()
	}
	if snap.RunID == "" {
		snap.RunID = NewRunID()
	}
	snap.ScrapedAt = snap.ScrapedAt.UTC()
	snap.TotalRecords = len(snap.Records)
	if snap.Records == nil {
		snap.Records = []domain.RawRecord{}
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", common.WrapError(common.ErrCodeInternal, "create snapshot dir", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", common.WrapError(common.ErrCodeInternal, "encode snapshot", err)
	}

	name := fmt.Sprintf("%s_%s_%s.json", snap.Source, snap.ScrapedAt.Format(fileTimeLayout), shortRunID(snap.RunID))
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", common.WrapError(common.ErrCodeInternal, "write snapshot", err)
	}
	defer os.Remove(tmp)
	// Link fails when path exists, unlike Rename.
	if err := os.Link(tmp, path); err != nil {
		return "", common.WrapError(common.ErrCodeInternal, "write snapshot", err)
	}
	return path, nil
}

func shortRunID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > runIDPrefix {
		id = id[:runIDPrefix]
	}
	return strings.Map(func(r rune) rune {
		if r == os.PathSeparator || r == '/' || r == '_' {
			return '-'
		}
		return r
	}, id)
}

// Read loads a snapshot file.
func Read(path string) (*domain.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "read snapshot "+path, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "parse snapshot "+path, err)
	}
	return &snap, nil
}

// Latest returns the newest snapshot of source in dir.
func Latest(dir, source string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, source+"_*.json"))
	if err != nil {
		return "", common.WrapError(common.ErrCodeInvalidInput, "list snapshots", err)
	}
	// "<source>_*" also matches sources whose name extends this one.
	matches = slices.DeleteFunc(matches, func(m string) bool {
		rest := strings.TrimPrefix(filepath.Base(m), source+"_")
		return rest == "" || rest[0] < '0' || rest[0] > '9'
	})
	if len(matches) == 0 {
		return "", common.NewError(common.ErrCodeNotFound, "no snapshot for "+source+" in "+dir)
	}
	slices.Sort(matches)
	return matches[len(matches)-1], nil
}

// ReplayFetcher serves a stored snapshot as if it were the live source.
type ReplayFetcher struct {
	snap     *domain.Snapshot
	pageSize int
}

func NewReplayFetcher(snap *domain.Snapshot) *ReplayFetcher {
	return &ReplayFetcher{snap: snap, pageSize: replayPageSize}
}

// Pages yields the snapshot's records in fixed-size pages.
func (r *ReplayFetcher) Pages(ctx context.Context) iter.Seq2[*domain.Page, error] {
	return func(yield func(*domain.Page, error) bool) {
		number := 0
		for chunk := range slices.Chunk(r.snap.Records, r.pageSize) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			number++
			if !yield(&domain.Page{Number: number, Records: chunk}, nil) {
				return
			}
		}
	}
}

// Truncated reports whether the original run stopped at its result ceiling.
func (r *ReplayFetcher) Truncated() bool { return r.snap.Truncated }
