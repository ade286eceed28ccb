package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cbtrader/internal/core"
)

// SlackChannel posts an attachment-formatted message to an incoming
// webhook URL.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel builds a channel against a Slack incoming webhook URL.
// An empty URL makes Send a no-op, so the channel can be registered
// unconditionally and simply do nothing when unconfigured.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Name identifies the channel in logs and metrics.
func (s *SlackChannel) Name() string { return "slack" }

// Send posts the alert as a colored Slack attachment.
func (s *SlackChannel) Send(ctx context.Context, severity core.AlertSeverity, title, message string, fields map[string]string) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f" // green: info
	switch severity {
	case core.SeverityWarning:
		color = "#ffcc00"
	case core.SeverityCritical:
		color = "#8b0000"
	}

	var slackFields []map[string]interface{}
	for k, v := range fields {
		slackFields = append(slackFields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", severity, title),
				"text":    message,
				"fields":  slackFields,
				"ts":      time.Now().Unix(),
				"footer":  "cbtrader",
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
