package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tiercache/internal/config"
	"tiercache/internal/progress"
)

const userAgent = "tiercache/0.1.0"

// Service defines the notification surface used by the engine.
type Service interface {
	NotifyRunSummary(ctx context.Context, summary progress.Summary) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// Doer abstracts http.Client.Do for testing.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewServiceWithClient(cfg, &http.Client{Timeout: timeout})
}

// NewServiceWithClient is NewService with an explicit HTTP backend.
func NewServiceWithClient(cfg *config.Config, client Doer) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   client,
		summary:  cfg.Notifications.RunSummary,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   Doer
	summary  bool
	errors   bool
}

func (n *ntfyService) NotifyRunSummary(ctx context.Context, s progress.Summary) error {
	if !n.summary {
		return nil
	}
	var b strings.Builder
	b.WriteString(s.Line())
	if s.Anomalies > 0 {
		fmt.Fprintf(&b, "\nAnomalies: %s", humanize.Comma(int64(s.Anomalies)))
	}
	if s.FeedFailures > 0 {
		fmt.Fprintf(&b, "\nFeed failures: %d", s.FeedFailures)
	}
	if s.Critical != "" {
		fmt.Fprintf(&b, "\nAborted: %s", s.Critical)
	}
	fmt.Fprintf(&b, "\nDuration: %s", s.Duration().Round(time.Second))

	data := payload{
		title:   "tiercache - Run Complete",
		message: b.String(),
		tags:    []string{"tiercache", s.Kind, "completed"},
	}
	if s.Failed > 0 || s.Critical != "" {
		data.title = "tiercache - Run Complete (with errors)"
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "tiercache - Error",
		message:  builder.String(),
		tags:     []string{"tiercache", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "tiercache - Test",
		message:  "Notification system test",
		tags:     []string{"tiercache", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunSummary(context.Context, progress.Summary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error        { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
