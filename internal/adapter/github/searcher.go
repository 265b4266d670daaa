package github

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/config"
	"vibe-apps-miner/internal/domain"
)

const (
	// searchCeiling is the most results GitHub search returns for one query.
	searchCeiling = 1000
	maxPerPage    = 100
)

// Searcher pages through a GitHub code, issue or repository search.
type Searcher struct {
	name      string
	kind      string
	query     string
	sort      string
	order     string
	perPage   int
	max       int
	policy    common.Policy
	throttled []int
	pacer     *common.Pacer
	timeout   time.Duration
	client    *github.Client
	nowFunc   func() time.Time
	truncated bool
}

// NewSearcher builds a searcher for a github_* source. Each request is bounded
// by the source's rate_limit.timeout, or DefaultTimeout.
func NewSearcher(client *github.Client, src config.SourceConfig) *Searcher {
	timeout := src.RateLimit.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	perPage := src.Pagination.PageSize
	if perPage <= 0 || perPage > maxPerPage {
		perPage = maxPerPage
	}
	limit := src.Pagination.MaxResults
	if limit <= 0 || limit > searchCeiling {
		limit = searchCeiling
	}

	return &Searcher{
		name:      src.Name,
		kind:      src.Kind,
		query:     src.Query,
		sort:      src.Sort,
		order:     src.Order,
		perPage:   perPage,
		max:       limit,
		policy:    src.Policy(),
		throttled: src.RateLimitStatuses(),
		pacer:     common.NewPacer(src.RateLimit.PageDelay.Std()),
		timeout:   timeout,
		client:    client,
		nowFunc:   time.Now,
	}
}

// Pages yields search results page by page until a short page, the last
// page GitHub reports, or the result ceiling.
func (s *Searcher) Pages(ctx context.Context) iter.Seq2[*domain.Page, error] {
	return func(yield func(*domain.Page, error) bool) {
		s.truncated = false
		total := 0

		for page := 1; ; page++ {
			if err := s.pacer.Wait(ctx); err != nil {
				yield(nil, err)
				return
			}

			opts := &github.SearchOptions{
				Sort:        s.sort,
				Order:       s.order,
				ListOptions: github.ListOptions{Page: page, PerPage: s.perPage},
			}

			var (
				items []domain.RawRecord
				resp  *github.Response
			)
			err := s.policy.Execute(ctx, func() error {
				reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
				defer cancel()
				var err error
				items, resp, err = s.search(reqCtx, opts)
				return classifyError(ctx, err, s.throttled, s.nowFunc())
			})
			if err != nil {
				yield(nil, common.WrapError(common.ErrCodeGitHubAPI,
					fmt.Sprintf("%s: search page %d", s.name, page), err))
				return
			}

			truncated := false
			if total+len(items) >= s.max {
				items = items[:s.max-total]
				truncated = true
				s.truncated = true
			}
			total += len(items)

			if len(items) == 0 {
				return
			}
			slog.Debug("fetched search page", "source", s.name, "page", page, "records", len(items))
			if !yield(&domain.Page{Number: page, Records: items}, nil) {
				return
			}
			if truncated {
				slog.Info("search result ceiling reached", "source", s.name, "max_results", s.max)
				return
			}
			if len(items) < s.perPage || resp == nil || resp.NextPage == 0 {
				return
			}
		}
	}
}

// Truncated reports whether the last walk stopped at the result ceiling.
func (s *Searcher) Truncated() bool { return s.truncated }

func (s *Searcher) search(ctx context.Context, opts *github.SearchOptions) ([]domain.RawRecord, *github.Response, error) {
	switch s.kind {
	case config.KindGitHubCode:
		result, resp, err := s.client.Search.Code(ctx, s.query, opts)
		if err != nil {
			return nil, resp, err
		}
		items, err := marshalAll(result.CodeResults, func(c *github.CodeResult) any { return c })
		return items, resp, err
	case config.KindGitHubIssues:
		result, resp, err := s.client.Search.Issues(ctx, s.query, opts)
		if err != nil {
			return nil, resp, err
		}
		items, err := marshalAll(result.Issues, func(i *github.Issue) any { return newIssueRecord(i) })
		return items, resp, err
	case config.KindGitHubRepos:
		result, resp, err := s.client.Search.Repositories(ctx, s.query, opts)
		if err != nil {
			return nil, resp, err
		}
		items, err := marshalAll(result.Repositories, func(r *github.Repository) any { return r })
		return items, resp, err
	}
	return nil, nil, common.Permanent(fmt.Errorf("unsupported search kind %q", s.kind))
}

func marshalAll[T any](in []T, shape func(T) any) ([]domain.RawRecord, error) {
	out := make([]domain.RawRecord, 0, len(in))
	for _, v := range in {
		b, err := json.Marshal(shape(v))
		if err != nil {
			return nil, common.Permanent(err)
		}
		out = append(out, b)
	}
	return out, nil
}

// issueRecord flattens the repository an issue or pull request belongs to,
// which search results only carry as an API URL.
type issueRecord struct {
	*github.Issue
	RepositoryFullName string `json:"repository_full_name,omitempty"`
	RepositoryHTMLURL  string `json:"repository_html_url,omitempty"`
}

func newIssueRecord(issue *github.Issue) issueRecord {
	rec := issueRecord{Issue: issue}
	const prefix = "/repos/"
	apiURL := issue.GetRepositoryURL()
	if i := strings.Index(apiURL, prefix); i >= 0 {
		rec.RepositoryFullName = apiURL[i+len(prefix):]
		rec.RepositoryHTMLURL = "https://github.com/" + rec.RepositoryFullName
	}
	return rec
}
