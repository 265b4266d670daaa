package common

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	HeaderRetryAfter    = "Retry-After"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
)

// Pacer spaces out successive requests to one source. The first request
// goes through immediately.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows one request per interval. A non-positive interval never waits.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// RetryAfter reads the wait a throttled response asks for: Retry-After in
// seconds or as an HTTP date, else X-RateLimit-Reset when no requests remain.
// Zero means the response did not say.
func RetryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get(HeaderRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if h.Get(HeaderRateRemaining) == "0" {
		if reset, err := strconv.ParseInt(h.Get(HeaderRateReset), 10, 64); err == nil {
			if t := time.Unix(reset, 0); t.After(now) {
				return t.Sub(now)
			}
		}
	}
	return 0
}
