package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

type Notifier struct {
	webhookURL string
	client     *resty.Client
	retries    int
	delay      time.Duration
}

func NewNotifier(webhook string) *Notifier {
	if webhook == "" {
		slog.Warn("feishu webhook is empty, run summaries will not be sent")
	}
	return &Notifier{
		webhookURL: webhook,
		client:     resty.New().SetTimeout(10 * time.Second),
		retries:    3,
		delay:      500 * time.Millisecond,
	}
}

// NotifyRunSummary posts one interactive card (schema 2.0) summarising an
// ingestion run across all sources.
func (n *Notifier) NotifyRunSummary(ctx context.Context, runs []domain.IngestStats) error {
	if n.webhookURL == "" {
		return common.NewError(common.ErrCodeNotification, "webhook URL is empty")
	}

	err := common.Do(ctx, func() error {
		resp, postErr := n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(summaryCard(runs)).
			Post(n.webhookURL)
		if postErr != nil {
			return postErr
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("feishu returned status %d", resp.StatusCode())
		}
		// Feishu reports payload problems with HTTP 200 and a non-zero code.
		if code := gjson.GetBytes(resp.Body(), "code"); code.Exists() && code.Int() != 0 {
			return common.Permanent(fmt.Errorf("feishu rejected card: %d %s",
				code.Int(), gjson.GetBytes(resp.Body(), "msg").String()))
		}
		return nil
	},
		common.WithMaxRetries(n.retries),
		common.WithInitialDelay(n.delay),
		common.WithRetryIf(common.IsTransient),
	)
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "send run summary", err)
	}
	return nil
}

func summaryCard(runs []domain.IngestStats) map[string]any {
	var (
		inserted, failed int
		lines            []string
	)
	for _, r := range runs {
		inserted += r.Inserted
		switch {
		case r.Skipped:
			lines = append(lines, fmt.Sprintf("⏭️ **%s**: skipped (%s)", r.Source, r.Err))
		case r.Err != "":
			failed++
			lines = append(lines, fmt.Sprintf("❌ **%s**: +%d new, %d duplicates before failing: %s",
				r.Source, r.Inserted, r.Duplicates, r.Err))
		default:
			line := fmt.Sprintf("✅ **%s**: +%d new, %d duplicates, %d dropped (%d pages, %s)",
				r.Source, r.Inserted, r.Duplicates, r.Dropped, r.Pages, r.Duration().Round(time.Second))
			if r.Truncated {
				line += " ⚠️ truncated"
			}
			lines = append(lines, line)
		}
	}

	template := "green"
	if failed > 0 {
		template = "red"
	}

	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"schema": "2.0",
			"config": map[string]any{
				"update_multi": true,
			},
			"header": map[string]any{
				"title": map[string]any{
					"tag":     "plain_text",
					"content": fmt.Sprintf("🧭 Vibe app ingestion: %d new applications", inserted),
				},
				"template": template,
			},
			"body": map[string]any{
				"direction": "vertical",
				"elements": []map[string]any{
					{
						"tag":       "markdown",
						"content":   strings.Join(lines, "\n"),
						"text_size": "normal",
					},
				},
			},
		},
	}
}
