package service

import (
	"context"
	"iter"
	"time"

	"github.com/stretchr/testify/mock"

	"vibe-apps-miner/internal/domain"
)

// MockStore implements every store port the services use.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertPlatform(ctx context.Context, in domain.PlatformInput) (uint, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockStore) UpsertApplication(ctx context.Context, platformID uint, rec domain.NormalizedRecord, mode domain.IngestMode) (uint, bool, error) {
	args := m.Called(ctx, platformID, rec, mode)
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *MockStore) LinkAITool(ctx context.Context, appID uint, d domain.ToolDetection) (bool, error) {
	args := m.Called(ctx, appID, d)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) EnrichmentCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Application, error) {
	args := m.Called(ctx, staleBefore, limit)
	return args.Get(0).([]domain.Application), args.Error(1)
}

func (m *MockStore) UpsertGitHubRepository(ctx context.Context, repo *domain.GitHubRepository) error {
	args := m.Called(ctx, repo)
	return args.Error(0)
}

func (m *MockStore) MarkEnriched(ctx context.Context, appID uint, at time.Time) error {
	args := m.Called(ctx, appID, at)
	return args.Error(0)
}

func (m *MockStore) ApplicationsWithoutTools(ctx context.Context, limit int) ([]domain.Application, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.Application), args.Error(1)
}

func (m *MockStore) MergePlatforms(ctx context.Context, keepID, mergeID uint) (domain.MergeResult, error) {
	args := m.Called(ctx, keepID, mergeID)
	return args.Get(0).(domain.MergeResult), args.Error(1)
}

func (m *MockStore) PlatformStats(ctx context.Context) ([]domain.PlatformStats, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.PlatformStats), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyRunSummary(ctx context.Context, runs []domain.IngestStats) error {
	args := m.Called(ctx, runs)
	return args.Error(0)
}

type MockSnapshotWriter struct {
	mock.Mock
}

func (m *MockSnapshotWriter) Write(snap domain.Snapshot) (string, error) {
	args := m.Called(snap)
	return args.String(0), args.Error(1)
}

type MockEnricher struct {
	mock.Mock
}

func (m *MockEnricher) FetchRepository(ctx context.Context, owner, name string) (*domain.GitHubRepository, error) {
	args := m.Called(ctx, owner, name)
	repo, _ := args.Get(0).(*domain.GitHubRepository)
	return repo, args.Error(1)
}

type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Detect(ctx context.Context, app domain.Application) ([]domain.ToolDetection, error) {
	args := m.Called(ctx, app)
	found, _ := args.Get(0).([]domain.ToolDetection)
	return found, args.Error(1)
}

// stubFetcher yields canned pages, then err if set.
type stubFetcher struct {
	pages     [][]string
	err       error
	truncated bool
}

func (f *stubFetcher) Pages(ctx context.Context) iter.Seq2[*domain.Page, error] {
	return func(yield func(*domain.Page, error) bool) {
		for i, records := range f.pages {
			page := &domain.Page{Number: i + 1}
			for _, r := range records {
				page.Records = append(page.Records, domain.RawRecord(r))
			}
			if !yield(page, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func (f *stubFetcher) Truncated() bool { return f.truncated }
