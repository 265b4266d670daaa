// Package github talks to the GitHub REST API: search-based sources and
// repository metadata for enrichment.
package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"

	"vibe-apps-miner/internal/common"
)

// DefaultTimeout bounds one GitHub request when the caller sets none.
const DefaultTimeout = 30 * time.Second

// NewClient builds an API client whose requests give up after timeout
// (DefaultTimeout when non-positive). An empty token gives anonymous access,
// limited to 60 requests per hour and no code search.
func NewClient(token string, timeout time.Duration) *github.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if token == "" {
		return github.NewClient(&http.Client{Timeout: timeout})
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = timeout
	return github.NewClient(hc)
}

// classifyError maps go-github errors onto the shared retry taxonomy.
// throttled lists the statuses that count as rate limiting. Only the end of
// ctx, the caller's context, is final; a request that timed out on its own
// is retried.
func classifyError(ctx context.Context, err error, throttled []int, now time.Time) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return common.Permanent(ctx.Err())
	}
	if errors.Is(err, context.Canceled) {
		return common.Permanent(err)
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		wait := rle.Rate.Reset.Time.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return &common.RateLimitError{StatusCode: statusOf(rle.Response), RetryAfter: wait}
	}

	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		rl := &common.RateLimitError{StatusCode: statusOf(abuse.Response)}
		if abuse.RetryAfter != nil {
			rl.RetryAfter = *abuse.RetryAfter
		}
		return rl
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		for _, s := range throttled {
			if code == s {
				return &common.RateLimitError{StatusCode: code, RetryAfter: common.RetryAfter(er.Response.Header, now)}
			}
		}
		if code >= 500 || code == http.StatusRequestTimeout {
			return err
		}
		return common.Permanent(err)
	}
	return err
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return http.StatusForbidden
	}
	return resp.StatusCode
}

func isNotFound(err error) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
