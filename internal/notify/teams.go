// Package notify posts human-readable run summaries to an operator channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

const (
	defaultThemeColor = "0076D7"
	reasonNoWebhook   = "no webhook"
	maxErrorBody      = 512
)

// Config configures the Teams notifier.
type Config struct {
	// URL is the incoming webhook. Empty disables sending.
	URL string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// ThemeColor is the card accent color (default 0076D7).
	ThemeColor string
}

// Teams sends MessageCard payloads to a Microsoft Teams incoming webhook.
// Sending is best effort: failures are reported in the result, never as an
// error.
type Teams struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

func NewTeams(cfg Config, logger *zap.Logger) *Teams {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ThemeColor == "" {
		cfg.ThemeColor = defaultThemeColor
	}
	return &Teams{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("notify"),
	}
}

// messageCard is the legacy connector card format Teams webhooks accept.
type messageCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	Summary    string `json:"summary"`
	ThemeColor string `json:"themeColor"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

func (t *Teams) Send(ctx context.Context, title, text string) domain.NotifyResult {
	if t.config.URL == "" {
		t.logger.Warn("notification skipped", zap.String("reason", reasonNoWebhook), zap.String("title", title))
		return domain.NotifyResult{Sent: false, Reason: reasonNoWebhook}
	}

	body, err := json.Marshal(messageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		Summary:    title,
		ThemeColor: t.config.ThemeColor,
		Title:      title,
		Text:       text,
	})
	if err != nil {
		return domain.NotifyResult{Sent: false, Error: fmt.Sprintf("marshal card: %v", err)}
	}

	status, err := t.doRequest(ctx, body)
	if err != nil {
		t.logger.Warn("notification failed", zap.String("title", title), zap.Int("status", status), zap.Error(err))
		return domain.NotifyResult{Sent: false, Status: status, Error: err.Error()}
	}
	t.logger.Info("notification sent", zap.String("title", title), zap.Int("status", status))
	return domain.NotifyResult{Sent: true, Status: status}
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// doRequest performs a single POST and returns the status code.
func (t *Teams) doRequest(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return resp.StatusCode, nil
}
