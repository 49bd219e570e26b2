package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/slack-go/slack"

	"github.com/callcatcherops/autonomy/internal/bus"
	"github.com/callcatcherops/autonomy/internal/config"
)

// WriteFile atomically replaces path with the text report and writes the
// JSON form next to it.
func WriteFile(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := renameio.WriteFile(path, []byte(r.Text()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	jsonPath := path + ".json"
	if ext := filepath.Ext(path); ext != "" {
		jsonPath = path[:len(path)-len(ext)] + ".json"
	}
	if err := renameio.WriteFile(jsonPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report json: %w", err)
	}
	return nil
}

// Slack posts reports to a channel.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack returns a poster. apiURL may be empty for the public API.
func NewSlack(token, channel, apiURL string, httpClient *http.Client) *Slack {
	opts := []slack.Option{}
	if httpClient != nil {
		opts = append(opts, slack.OptionHTTPClient(httpClient))
	}
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Slack{client: slack.New(token, opts...), channel: channel}
}

// Post sends the text report as a preformatted message.
func (s *Slack) Post(ctx context.Context, r *Report) error {
	text := fmt.Sprintf("*Outreach run %s*\n```%s```", r.RunID, r.Text())
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

// Deliver writes the report to every configured destination. Each failure is
// logged; the joined error is returned so the caller can surface it without
// failing the run.
func Deliver(ctx context.Context, r *Report, cfg config.ReportConfig, pub bus.Publisher, topic string) error {
	var errs []error
	if cfg.Path != "" {
		if err := WriteFile(cfg.Path, r); err != nil {
			slog.Warn("report: file write failed", "path", cfg.Path, "error", err)
			errs = append(errs, err)
		}
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		if err := NewSlack(cfg.SlackToken, cfg.SlackChannel, cfg.SlackAPIURL, nil).Post(ctx, r); err != nil {
			slog.Warn("report: slack delivery failed", "channel", cfg.SlackChannel, "error", err)
			errs = append(errs, err)
		}
	}
	if pub != nil && topic != "" {
		data, err := json.Marshal(r)
		if err == nil {
			err = pub.Publish(ctx, topic, []byte(r.RunID), data)
		}
		if err != nil {
			slog.Warn("report: publish failed", "topic", topic, "error", err)
			errs = append(errs, fmt.Errorf("publish report: %w", err))
		}
	}
	return errors.Join(errs...)
}
