package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const slackTimeout = 10 * time.Second

// ErrWebhookStatus is returned when the webhook answers with a non-2xx status.
var ErrWebhookStatus = errors.New("slack: webhook rejected message")

// Slack posts messages to an incoming webhook.
type Slack struct {
	http       *http.Client
	webhookURL string
}

// NewSlack creates a webhook sender.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		http:       &http.Client{Timeout: slackTimeout},
		webhookURL: webhookURL,
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

// Send implements Sender.
func (s *Slack) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(slackMessage{Text: text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}
