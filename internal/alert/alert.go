// Package alert fans an alert out to every configured channel (Slack,
// Telegram, a generic webhook) and, in front of the fan-out, runs the
// fingerprint-based dedupe/escalation state machine from the alert
// pipeline design: repeats of the same fingerprint within a dedupe window
// are suppressed, and a sustained repeat escalates severity.
package alert

import (
	"context"
	"sync"
	"time"

	"cbtrader/internal/core"
)

// Manager fans an alert out to every registered channel. Each channel gets
// its own send timeout; Manager does not wait for delivery to complete
// before returning, since alerting must never block the trading path.
type Manager struct {
	channels []core.AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
}

// NewManager builds an empty alert manager; channels are added with
// AddChannel.
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "alert_manager"),
	}
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch core.AlertChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("added alert channel", "name", ch.Name())
}

// Fire sends one alert to every channel concurrently, each bounded by its
// own 10s timeout. Failures are logged, not returned — a channel outage
// must never block the cycle that raised the alert.
func (m *Manager) Fire(ctx context.Context, severity core.AlertSeverity, title, message string, fields map[string]string) {
	m.logger.Info("firing alert", "title", title, "severity", severity)

	m.mu.RLock()
	channels := append([]core.AlertChannel(nil), m.channels...)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(c core.AlertChannel) {
			defer wg.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := c.Send(timeoutCtx, severity, title, message, fields); err != nil {
				m.logger.Error("alert delivery failed", "channel", c.Name(), "error", err.Error())
			}
		}(ch)
	}
}
