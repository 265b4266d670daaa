package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v53/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/config"
	"vibe-apps-miner/internal/domain"
)

// setupMockGitHubServer starts a fake GitHub API and a client pointed at it.
func setupMockGitHubServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *github.Client) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	baseURL, _ := url.Parse(server.URL + "/")
	client.BaseURL = baseURL
	return server, client
}

func fastPolicy() common.Policy {
	return common.Policy{
		MaxRetries:       1,
		InitialDelay:     time.Millisecond,
		MaxDelay:         time.Millisecond,
		Cooldown:         time.Millisecond,
		MaxCooldown:      5 * time.Millisecond,
		RateLimitRetries: 1,
	}
}

// createMockRepo builds a search result repository.
func createMockRepo(id int64, fullName string, stars int) *github.Repository {
	return &github.Repository{
		ID:              github.Int64(id),
		FullName:        github.String(fullName),
		HTMLURL:         github.String("https://github.com/" + fullName),
		StargazersCount: github.Int(stars),
	}
}

func codeResults(from, n int) map[string]any {
	items := make([]*github.CodeResult, n)
	for i := range items {
		name := fmt.Sprintf("owner/repo-%d", from+i)
		items[i] = &github.CodeResult{
			Name:       github.String("AGENTS.md"),
			Path:       github.String("AGENTS.md"),
			HTMLURL:    github.String("https://github.com/" + name + "/blob/main/AGENTS.md"),
			Repository: createMockRepo(int64(from+i), name, 1),
		}
	}
	return map[string]any{"total_count": 500, "items": items}
}

func collect(t *testing.T, s *Searcher) ([]*domain.Page, error) {
	t.Helper()
	var pages []*domain.Page
	for page, err := range s.Pages(context.Background()) {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func newSearcher(client *github.Client, kind string, pageSize, maxResults int) *Searcher {
	s := NewSearcher(client, config.SourceConfig{
		Name:       "github_agents_md",
		Kind:       kind,
		Query:      "filename:AGENTS.md",
		Pagination: config.PaginationConfig{PageSize: pageSize, MaxResults: maxResults},
	})
	s.policy = fastPolicy()
	return s
}

func TestSearcher_CodeSearchFollowsNextPage(t *testing.T) {
	var requested []string
	_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/code", r.URL.Path)
		assert.Equal(t, "filename:AGENTS.md", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))

		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		w.Header().Set("Content-Type", "application/json")
		if page == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/search/code?page=2>; rel="next"`, "http://"+r.Host))
			json.NewEncoder(w).Encode(codeResults(0, 2))
			return
		}
		json.NewEncoder(w).Encode(codeResults(2, 1))
	})

	s := newSearcher(client, config.KindGitHubCode, 2, 0)
	pages, err := collect(t, s)

	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, []string{"1", "2"}, requested)
	assert.Equal(t, "owner/repo-0", gjson.GetBytes(pages[0].Records[0], "repository.full_name").String())
	assert.Equal(t, "owner/repo-2", gjson.GetBytes(pages[1].Records[0], "repository.full_name").String())
	assert.False(t, s.Truncated())
}

func TestSearcher_StopsWithoutNextLink(t *testing.T) {
	var calls atomic.Int32
	_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(codeResults(0, 2))
	})

	pages, err := collect(t, newSearcher(client, config.KindGitHubCode, 2, 0))
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearcher_ResultCeiling(t *testing.T) {
	_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/search/code?page=99>; rel="next"`, r.Host))
		json.NewEncoder(w).Encode(codeResults(0, 2))
	})

	s := newSearcher(client, config.KindGitHubCode, 2, 3)
	pages, err := collect(t, s)

	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Len(t, pages[1].Records, 1)
	assert.True(t, s.Truncated())
}

func TestSearcher_IssuesCarryRepository(t *testing.T) {
	_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/issues", r.URL.Path)
		fmt.Fprint(w, `{"total_count":1,"items":[{
			"id": 77, "number": 5, "title": "Add dark mode",
			"html_url": "https://github.com/acme/todo/pull/5",
			"repository_url": "https://api.github.com/repos/acme/todo"
		}]}`)
	})

	pages, err := collect(t, newSearcher(client, config.KindGitHubIssues, 50, 0))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	rec := pages[0].Records[0]
	assert.Equal(t, "acme/todo", gjson.GetBytes(rec, "repository_full_name").String())
	assert.Equal(t, "https://github.com/acme/todo", gjson.GetBytes(rec, "repository_html_url").String())
	assert.Equal(t, "Add dark mode", gjson.GetBytes(rec, "title").String())
	assert.Equal(t, int64(77), gjson.GetBytes(rec, "id").Int())
}

func TestSearcher_Repositories(t *testing.T) {
	_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		json.NewEncoder(w).Encode(&github.RepositoriesSearchResult{
			Total:        github.Int(1),
			Repositories: []*github.Repository{createMockRepo(9, "acme/site", 120)},
		})
	})

	pages, err := collect(t, newSearcher(client, config.KindGitHubRepos, 10, 0))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, int64(120), gjson.GetBytes(pages[0].Records[0], "stargazers_count").Int())
}

func TestSearcher_APIErrors(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []int
		expectPages   int
		expectCalls   int32
		expectError   bool
		expectLimited bool
	}{
		{name: "rate limited then recovers", statuses: []int{http.StatusTooManyRequests, http.StatusOK}, expectPages: 1, expectCalls: 2},
		{name: "server error then recovers", statuses: []int{http.StatusBadGateway, http.StatusOK}, expectPages: 1, expectCalls: 2},
		{name: "rate limited twice", statuses: []int{http.StatusTooManyRequests, http.StatusTooManyRequests}, expectCalls: 2, expectError: true, expectLimited: true},
		{name: "validation failed", statuses: []int{http.StatusUnprocessableEntity}, expectCalls: 1, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				if status != http.StatusOK {
					w.WriteHeader(status)
					fmt.Fprint(w, `{"message":"nope"}`)
					return
				}
				json.NewEncoder(w).Encode(codeResults(0, 1))
			})

			pages, err := collect(t, newSearcher(client, config.KindGitHubCode, 2, 0))
			assert.Len(t, pages, tt.expectPages)
			assert.Equal(t, tt.expectCalls, calls.Load())
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, common.HasCode(err, common.ErrCodeGitHubAPI))
				assert.Equal(t, tt.expectLimited, common.HasCode(err, common.ErrCodeRateLimited))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSearcher_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not reach the server after cancellation")
	})

	for _, err := range newSearcher(client, config.KindGitHubCode, 2, 0).Pages(ctx) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestNewSearcher_Limits(t *testing.T) {
	s := NewSearcher(github.NewClient(nil), config.SourceConfig{
		Kind:       config.KindGitHubCode,
		Pagination: config.PaginationConfig{PageSize: 500, MaxResults: 5000},
	})
	assert.Equal(t, maxPerPage, s.perPage)
	assert.Equal(t, searchCeiling, s.max)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		timeout time.Duration
		want    time.Duration
	}{
		{name: "with token", token: "ghp_test_token_1234567890", timeout: 5 * time.Second, want: 5 * time.Second},
		{name: "anonymous", token: "", timeout: 5 * time.Second, want: 5 * time.Second},
		{name: "default timeout", token: "ghp_test_token_1234567890", want: DefaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.token, tt.timeout)
			require.NotNil(t, c)
			assert.Equal(t, tt.want, c.Client().Timeout)
		})
	}
}

func TestSearcher_RetriesRequestTimeout(t *testing.T) {
	var calls atomic.Int32
	_, client := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_ = json.NewEncoder(w).Encode(codeResults(0, 3))
	})

	s := newSearcher(client, config.KindGitHubCode, 10, 0)
	s.timeout = 20 * time.Millisecond

	var records int
	for page, err := range s.Pages(context.Background()) {
		require.NoError(t, err, "a hung request is retried, not fatal")
		records += len(page.Records)
	}
	assert.Equal(t, 3, records)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClassifyError(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	resp := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Header: http.Header{}, Request: &http.Request{Method: "GET", URL: &url.URL{}}}
	}
	retryAfter := 30 * time.Second

	tests := []struct {
		name      string
		err       error
		transient bool
		limited   bool
		wait      time.Duration
	}{
		{name: "primary rate limit", err: &github.RateLimitError{Rate: github.Rate{Reset: github.Timestamp{Time: now.Add(time.Minute)}}, Response: resp(403)}, limited: true, wait: time.Minute},
		{name: "secondary rate limit", err: &github.AbuseRateLimitError{Response: resp(403), RetryAfter: &retryAfter}, limited: true, wait: retryAfter},
		{name: "plain 403", err: &github.ErrorResponse{Response: resp(403)}, limited: true},
		{name: "server error", err: &github.ErrorResponse{Response: resp(502)}, transient: true},
		{name: "not found", err: &github.ErrorResponse{Response: resp(404)}},
		{name: "cancelled", err: context.Canceled},
		{name: "request timeout", err: context.DeadlineExceeded, transient: true},
		{name: "network", err: fmt.Errorf("connection reset"), transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(context.Background(), tt.err, []int{403, 429}, now)
			assert.Equal(t, tt.transient, common.IsTransient(got))
			var rl *common.RateLimitError
			assert.Equal(t, tt.limited, errors.As(got, &rl))
			if tt.limited {
				assert.Equal(t, tt.wait, rl.RetryAfter)
			}
		})
	}
	assert.NoError(t, classifyError(context.Background(), nil, nil, now))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	got := classifyError(ctx, context.DeadlineExceeded, nil, now)
	assert.True(t, common.IsPermanent(got), "the caller's deadline ends the run")
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}
