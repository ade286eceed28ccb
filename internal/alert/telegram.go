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

// TelegramChannel delivers an alert via the Telegram Bot API's
// sendMessage call.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel builds a channel against a bot token + chat id. Send
// is a no-op if either is empty.
func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Name identifies the channel in logs and metrics.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send posts a Markdown-formatted message to the configured chat.
func (t *TelegramChannel) Send(ctx context.Context, severity core.AlertSeverity, title, message string, fields map[string]string) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch severity {
	case core.SeverityWarning:
		icon = "⚠️"
	case core.SeverityCritical:
		icon = "🚨"
	}

	text := fmt.Sprintf("%s *[%s] %s*\n\n%s", icon, severity, title, message)
	for k, v := range fields {
		text += fmt.Sprintf("\n- *%s*: %s", k, v)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api failed with status: %d", resp.StatusCode)
	}
	return nil
}
