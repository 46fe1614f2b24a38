// Package notify reports run outcomes over Telegram.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rthkpod/internal/app/rthkpod/podcast"
)

// Service is the notification surface the app talks to.
type Service interface {
	DailyReport(ctx context.Context, stats podcast.Stats) error
	ErrorAlert(ctx context.Context, msg string) error
}

// NewService builds a Telegram-backed service. When no token or chat id is
// configured, a noop implementation is returned.
func NewService(token, chatID string) Service {
	token = strings.TrimSpace(token)
	chatID = strings.TrimSpace(chatID)
	if token == "" || chatID == "" {
		return noopService{}
	}
	return &telegramService{
		endpoint: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token),
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

type telegramService struct {
	endpoint string
	chatID   string
	client   *http.Client
	now      func() time.Time
}

// DailyReport sends the run summary: new, downloaded, uploaded, failed, and
// up to three error lines.
func (t *telegramService) DailyReport(ctx context.Context, stats podcast.Stats) error {
	now := t.now()
	lines := []string{
		"🎙️ <b>Podcast update report</b>",
		fmt.Sprintf("📅 %s %s", now.Format("2006-01-02"), now.Format("15:04")),
		"",
		fmt.Sprintf("📋 New episodes: <b>%d</b>", stats.NewEpisodes),
		fmt.Sprintf("⬇️ Downloaded: <b>%d</b>", stats.Downloaded),
		fmt.Sprintf("⬆️ Uploaded: <b>%d</b>", stats.Uploaded),
	}
	if stats.Failed > 0 {
		lines = append(lines, fmt.Sprintf("❌ Failed: <b>%d</b>", stats.Failed))
	}
	if len(stats.Errors) > 0 {
		lines = append(lines, "", "⚠️ <b>Errors:</b>")
		errs := stats.Errors
		if len(errs) > 3 {
			errs = errs[:3]
		}
		for _, e := range errs {
			lines = append(lines, fmt.Sprintf("  • %s", e))
		}
	}
	switch {
	case stats.Uploaded == 0 && stats.NewEpisodes == 0:
		lines = append(lines, "", "💤 Nothing new today")
	case stats.Uploaded > 0 && stats.Failed == 0:
		lines = append(lines, "", "✅ Update complete")
	case stats.Uploaded > 0:
		lines = append(lines, "", "⚠️ Update complete with failures")
	}

	return t.send(ctx, strings.Join(lines, "\n"))
}

// ErrorAlert sends an unrecoverable-failure alert.
func (t *telegramService) ErrorAlert(ctx context.Context, msg string) error {
	body := fmt.Sprintf("🚨 <b>Podcast update failed</b>\n📅 %s\n\n❌ %s",
		t.now().Format("2006-01-02 15:04"), msg)
	return t.send(ctx, body)
}

func (t *telegramService) send(ctx context.Context, text string) error {
	form := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close() // nolint
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("telegram send: status %d, %s", resp.StatusCode, string(body))
	}
	return nil
}

type noopService struct{}

func (noopService) DailyReport(context.Context, podcast.Stats) error { return nil }
func (noopService) ErrorAlert(context.Context, string) error         { return nil }
