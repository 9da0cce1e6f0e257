// Package notify delivers terminal batch notifications.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

const slackTimeout = 60 * time.Second

type slackPayload struct {
	Channel   string `json:"channel"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	LinkNames string `json:"link_names"`
}

// Slack posts notifications to an incoming webhook.
type Slack struct {
	webhook  string
	channel  string
	username string
	client   *http.Client
}

func NewSlack(webhook, channel, username string) *Slack {
	return &Slack{
		webhook:  webhook,
		channel:  channel,
		username: username,
		client: &http.Client{
			Timeout:   slackTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *Slack) Notify(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(slackPayload{
		Channel:   s.channel,
		Username:  s.username,
		Text:      n.Text,
		LinkNames: "1",
	})
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Log writes notifications to the process log. It is used when no webhook
// is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, n model.Notification) error {
	slog.InfoContext(ctx, "ingestion notification",
		"ingestion_id", n.IngestionID,
		"state", n.State,
		"text", n.Text)
	return nil
}
