// Package httpsource pages through JSON HTTP listing endpoints declared in
// configuration.
package httpsource

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/config"
	"vibe-apps-miner/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "vibe-apps-miner/1.0"
)

// Fetcher walks one HTTP source page by page.
type Fetcher struct {
	name       string
	endpoint   string
	params     map[string]string
	headers    map[string]string
	pagination config.PaginationConfig
	policy     common.Policy
	throttled  []int
	pacer      *common.Pacer
	client     *resty.Client
	nowFunc    func() time.Time
	truncated  bool
}

type Option func(*Fetcher)

// WithClient replaces the resty client, mostly for tests.
func WithClient(c *resty.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithPolicy overrides the retry policy derived from the source config.
func WithPolicy(p common.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

// New builds a fetcher for an http source.
func New(src config.SourceConfig, opts ...Option) *Fetcher {
	timeout := src.RateLimit.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	p := src.Pagination
	if p.LimitParam == "" {
		p.LimitParam = "limit"
	}
	if p.OffsetParam == "" {
		p.OffsetParam = "offset"
	}
	if p.CursorParam == "" {
		p.CursorParam = "cursor"
	}
	if p.PageParam == "" {
		p.PageParam = "page"
	}
	if p.StartPage <= 0 {
		p.StartPage = 1
	}

	f := &Fetcher{
		name:       src.Name,
		endpoint:   src.Endpoint,
		params:     src.Params,
		headers:    src.ExpandedHeaders(),
		pagination: p,
		policy:     src.Policy(),
		throttled:  src.RateLimitStatuses(),
		pacer:      common.NewPacer(src.RateLimit.PageDelay.Std()),
		client:     resty.New().SetTimeout(timeout).SetHeader("User-Agent", userAgent),
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Pages yields each non-empty page in order. Iteration ends after the last
// page, or with a single error when a request fails for good; pages yielded
// before the error stay valid.
func (f *Fetcher) Pages(ctx context.Context) iter.Seq2[*domain.Page, error] {
	return func(yield func(*domain.Page, error) bool) {
		p := f.pagination
		f.truncated = false
		offset, page, cursor := 0, p.StartPage, ""
		total := 0

		for number := 1; ; number++ {
			if err := f.pacer.Wait(ctx); err != nil {
				yield(nil, err)
				return
			}

			params := maps.Clone(f.params)
			if params == nil {
				params = map[string]string{}
			}
			params[p.LimitParam] = strconv.Itoa(p.PageSize)
			switch p.Style {
			case config.StyleOffset:
				params[p.OffsetParam] = strconv.Itoa(offset)
			case config.StylePage:
				params[p.PageParam] = strconv.Itoa(page)
			case config.StyleCursor:
				if cursor != "" {
					params[p.CursorParam] = cursor
				}
			}

			body, err := f.get(ctx, params)
			if err != nil {
				yield(nil, common.WrapError(common.ErrCodeSourceHTTP,
					fmt.Sprintf("%s: fetch page %d", f.name, number), err))
				return
			}

			doc := gjson.ParseBytes(body)
			items, err := extractItems(body, p.ItemsPath)
			if err != nil {
				yield(nil, common.WrapError(common.ErrCodeSourceHTTP,
					fmt.Sprintf("%s: page %d", f.name, number), err))
				return
			}

			truncated := false
			if p.MaxResults > 0 && total+len(items) >= p.MaxResults {
				items = items[:p.MaxResults-total]
				truncated = true
				f.truncated = true
			}
			total += len(items)

			if len(items) == 0 {
				return
			}
			slog.Debug("fetched page", "source", f.name, "page", number, "records", len(items))
			if !yield(&domain.Page{Number: number, Records: items}, nil) {
				return
			}
			if truncated {
				slog.Info("result ceiling reached", "source", f.name, "max_results", p.MaxResults)
				return
			}

			switch p.Style {
			case config.StyleOffset:
				if len(items) < p.PageSize {
					return
				}
				offset += len(items)
			case config.StylePage:
				if len(items) < p.PageSize {
					return
				}
				page++
			case config.StyleCursor:
				if p.HasMorePath != "" {
					if more := doc.Get(p.HasMorePath); more.Exists() && !more.Bool() {
						return
					}
				}
				next := doc.Get(p.NextCursorPath).String()
				if next == "" || next == cursor {
					return
				}
				cursor = next
			default:
				return
			}
		}
	}
}

// Truncated reports whether the last walk stopped at the result ceiling.
func (f *Fetcher) Truncated() bool { return f.truncated }

func (f *Fetcher) get(ctx context.Context, params map[string]string) ([]byte, error) {
	var body []byte
	err := f.policy.Execute(ctx, func() error {
		resp, err := f.client.R().
			SetContext(ctx).
			SetHeaders(f.headers).
			SetQueryParams(params).
			Get(f.endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return common.Permanent(ctx.Err())
			}
			return err
		}
		if err := f.classify(resp); err != nil {
			return err
		}
		body = resp.Body()
		return nil
	})
	return body, err
}

// classify maps a response status onto the retry taxonomy: throttling,
// transient server trouble, or a permanent refusal.
func (f *Fetcher) classify(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case slices.Contains(f.throttled, code):
		return &common.RateLimitError{
			StatusCode: code,
			RetryAfter: common.RetryAfter(resp.Header(), f.nowFunc()),
		}
	case code >= 500 || code == http.StatusRequestTimeout:
		return fmt.Errorf("server error: status %d", code)
	case code >= 300:
		return common.Permanent(fmt.Errorf("unexpected status %d: %s", code, truncate(resp.String(), 200)))
	}
	return nil
}

func extractItems(body []byte, path string) ([]domain.RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	res := gjson.ParseBytes(body)
	if path != "" {
		res = res.Get(path)
	}
	if !res.Exists() {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("items at %q are not a list", path)
	}

	arr := res.Array()
	items := make([]domain.RawRecord, 0, len(arr))
	for _, el := range arr {
		items = append(items, domain.RawRecord(el.Raw))
	}
	return items, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
