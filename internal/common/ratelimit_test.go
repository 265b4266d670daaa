package common

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{name: "no headers", want: 0},
		{name: "seconds", headers: map[string]string{"Retry-After": "30"}, want: 30 * time.Second},
		{name: "http date", headers: map[string]string{"Retry-After": now.Add(2 * time.Minute).Format(http.TimeFormat)}, want: 2 * time.Minute},
		{name: "garbage", headers: map[string]string{"Retry-After": "soon"}, want: 0},
		{
			name: "reset header when exhausted",
			headers: map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     strconv.FormatInt(now.Add(45*time.Second).Unix(), 10),
			},
			want: 45 * time.Second,
		},
		{
			name: "reset ignored while requests remain",
			headers: map[string]string{
				"X-RateLimit-Remaining": "12",
				"X-RateLimit-Reset":     strconv.FormatInt(now.Add(45*time.Second).Unix(), 10),
			},
			want: 0,
		},
		{
			name: "reset in the past",
			headers: map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, RetryAfter(h, now))
		})
	}
}

func TestPacer(t *testing.T) {
	ctx := context.Background()

	var nilPacer *Pacer
	assert.NoError(t, nilPacer.Wait(ctx))
	assert.NoError(t, NewPacer(0).Wait(ctx))

	p := NewPacer(30 * time.Millisecond)
	start := time.Now()
	assert.NoError(t, p.Wait(ctx))
	assert.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, NewPacer(time.Hour).Wait(cancelled))
}
