package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackChannel posts messages to an incoming-webhook URL.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel builds a SlackChannel. An empty webhookURL makes
// Send a no-op, which is how a deployment without Slack credentials
// downgrades this channel to disabled (spec §6) without a sentinel.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, message string, urgent bool) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f"
	pretext := "gridbot"
	if urgent {
		color = "#ff0000"
		pretext = "gridbot (urgent)"
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": pretext,
				"text":    message,
				"ts":      time.Now().Unix(),
			},
		},
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}
