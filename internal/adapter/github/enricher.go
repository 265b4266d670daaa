package github

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v53/github"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

// Enricher fetches repository metadata for applications hosted on GitHub.
type Enricher struct {
	client    *github.Client
	policy    common.Policy
	throttled []int
	timeout   time.Duration
	nowFunc   func() time.Time
}

// NewEnricher wraps client with the given retry policy.
func NewEnricher(client *github.Client, policy common.Policy) *Enricher {
	return &Enricher{
		client:    client,
		policy:    policy,
		throttled: []int{403, 429},
		timeout:   DefaultTimeout,
		nowFunc:   time.Now,
	}
}

// FetchRepository loads owner/name. A repository that no longer exists is
// reported with ErrCodeNotFound; a throttled lookup keeps ErrCodeRateLimited
// in its chain.
func (e *Enricher) FetchRepository(ctx context.Context, owner, name string) (*domain.GitHubRepository, error) {
	var repo *github.Repository
	err := e.policy.Execute(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		r, _, err := e.client.Repositories.Get(reqCtx, owner, name)
		if err != nil {
			return classifyError(ctx, err, e.throttled, e.nowFunc())
		}
		repo = r
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, common.WrapError(common.ErrCodeNotFound, fmt.Sprintf("repository %s/%s", owner, name), err)
		}
		return nil, common.WrapError(common.ErrCodeGitHubAPI, fmt.Sprintf("get repository %s/%s", owner, name), err)
	}
	return toRepository(repo, e.nowFunc()), nil
}

func toRepository(r *github.Repository, fetchedAt time.Time) *domain.GitHubRepository {
	return &domain.GitHubRepository{
		RepoID:        r.GetID(),
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		Language:      r.GetLanguage(),
		DefaultBranch: r.GetDefaultBranch(),
		Archived:      r.GetArchived(),
		RepoCreatedAt: timestamp(r.CreatedAt),
		RepoUpdatedAt: timestamp(r.UpdatedAt),
		PushedAt:      timestamp(r.PushedAt),
		FetchedAt:     fetchedAt.UTC(),
	}
}

func timestamp(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.Time.IsZero() {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}
