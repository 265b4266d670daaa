package common

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy is the retry behaviour shared by every source. Transient failures
// (timeouts, 5xx) are retried with backoff up to MaxRetries. A rate-limit
// response suspends the caller for a cool-down and retries the same call
// RateLimitRetries times; a rate limit after that is returned to the caller.
type Policy struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Cooldown         time.Duration
	MaxCooldown      time.Duration
	RateLimitRetries int
}

// DefaultPolicy returns the policy used when a source does not override it.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       2,
		InitialDelay:     time.Second,
		MaxDelay:         10 * time.Second,
		Cooldown:         60 * time.Second,
		MaxCooldown:      5 * time.Minute,
		RateLimitRetries: 1,
	}
}

// Execute runs fn under the policy.
func (p Policy) Execute(ctx context.Context, fn RetryableFunc) error {
	rateLimited := 0
	for {
		err := Do(ctx, fn,
			WithMaxRetries(p.MaxRetries),
			WithInitialDelay(p.InitialDelay),
			WithMaxDelay(p.MaxDelay),
			WithRetryIf(IsTransient),
		)
		rl, ok := asRateLimit(err)
		if !ok {
			return err
		}
		if rateLimited >= p.RateLimitRetries {
			return WrapError(ErrCodeRateLimited, "rate limited again after cool-down", err)
		}
		rateLimited++

		wait := p.CooldownFor(rl.RetryAfter)
		slog.Warn("rate limited, cooling down", "status", rl.StatusCode, "wait", wait)
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// CooldownFor picks the wait for a rate-limit response: the source's
// declared delay when given, the policy default otherwise, capped at MaxCooldown.
func (p Policy) CooldownFor(retryAfter time.Duration) time.Duration {
	wait := p.Cooldown
	if retryAfter > 0 {
		wait = retryAfter
	}
	if p.MaxCooldown > 0 && wait > p.MaxCooldown {
		wait = p.MaxCooldown
	}
	return wait
}

func asRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if err == nil || !errors.As(err, &rl) {
		return nil, false
	}
	return rl, true
}
