package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"cbtrader/internal/core"
)

const (
	dedupeWindow          = 60 * time.Second
	defaultEscalationSec  = 120 * time.Second
	lifecycleResetTimeout = 5 * time.Minute
)

// Fingerprint computes the dedupe key the alert model uses:
// SHA256(severity|title|message).
func Fingerprint(severity core.AlertSeverity, title, message string) string {
	h := sha256.Sum256([]byte(string(severity) + "|" + title + "|" + message))
	return hex.EncodeToString(h[:])
}

// Pipeline sits in front of Manager, running the fingerprint dedupe and
// escalation state machine before any alert reaches a channel.
type Pipeline struct {
	mu                sync.Mutex
	records           map[string]*core.AlertRecord
	escalationSeconds time.Duration
	manager           *Manager
	escalationWebhook core.AlertChannel
	logger            core.ILogger
	now               func() time.Time
}

// NewPipeline wraps manager with dedupe/escalation bookkeeping.
// escalationWebhook may be nil — an escalated alert then only re-fires
// through the channels already registered on manager.
func NewPipeline(manager *Manager, escalationWebhook core.AlertChannel, logger core.ILogger) *Pipeline {
	return &Pipeline{
		records:           make(map[string]*core.AlertRecord),
		escalationSeconds: defaultEscalationSec,
		manager:           manager,
		escalationWebhook: escalationWebhook,
		logger:            logger.WithField("component", "alert_pipeline"),
		now:               time.Now,
	}
}

// Notify raises an alert through the dedupe window: a repeat within 60s
// of first_seen increments count and updates last_seen without sending.
// After the window lapses, the next occurrence sends and starts a new
// window — unless the record is already escalated, in which case dedupe
// continues until it's resolved or goes stale.
func (p *Pipeline) Notify(ctx context.Context, severity core.AlertSeverity, title, message string, fields map[string]string) {
	fp := Fingerprint(severity, title, message)
	now := p.now()

	p.mu.Lock()
	p.sweepLocked(now)
	rec, exists := p.records[fp]
	if !exists {
		rec = &core.AlertRecord{
			Fingerprint: fp,
			Severity:    severity,
			Title:       title,
			Message:     message,
			FirstSeen:   now,
			LastSeen:    now,
			Count:       1,
		}
		p.records[fp] = rec
		p.mu.Unlock()
		p.manager.Fire(ctx, severity, title, message, fields)
		return
	}

	withinWindow := now.Sub(rec.FirstSeen) < dedupeWindow
	rec.Count++
	rec.LastSeen = now

	if withinWindow && !rec.Resolved {
		p.mu.Unlock()
		return
	}

	if rec.Escalated && !rec.Resolved {
		// Escalated alerts keep deduping until resolved or stale — no resend.
		p.mu.Unlock()
		return
	}

	// Window lapsed on a non-escalated record: send again, start fresh.
	rec.FirstSeen = now
	p.mu.Unlock()
	p.manager.Fire(ctx, severity, title, message, fields)
}

// Escalate checks every active, non-escalated record for one that has
// stayed open past escalationSeconds without resolution, and boosts it
// exactly once. Call once per cycle.
func (p *Pipeline) Escalate(ctx context.Context) {
	now := p.now()

	p.mu.Lock()
	var toEscalate []*core.AlertRecord
	for _, rec := range p.records {
		if rec.Resolved || rec.Escalated {
			continue
		}
		if now.Sub(rec.FirstSeen) >= p.escalationSeconds {
			rec.Escalated = true
			toEscalate = append(toEscalate, snapshotRecord(rec))
		}
	}
	p.mu.Unlock()

	for _, rec := range toEscalate {
		boosted := rec.Severity.Escalate()
		title := "ESCALATED: " + rec.Title
		message := fmt.Sprintf("%s (unresolved for %ds, %d occurrences)", rec.Message, int(now.Sub(rec.FirstSeen).Seconds()), rec.Count)

		p.manager.Fire(ctx, boosted, title, message, nil)
		if p.escalationWebhook != nil {
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := p.escalationWebhook.Send(timeoutCtx, boosted, title, message, nil); err != nil {
				p.logger.Error("escalation webhook delivery failed", "error", err.Error())
			}
			cancel()
		}
	}
}

// Resolve marks a fingerprint resolved, ending its dedupe/escalation
// lifecycle immediately rather than waiting for the 5-minute stale sweep.
func (p *Pipeline) Resolve(fingerprint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[fingerprint]; ok {
		rec.Resolved = true
	}
}

// sweepLocked removes records idle for lifecycleResetTimeout or already
// resolved. Caller must hold p.mu.
func (p *Pipeline) sweepLocked(now time.Time) {
	for fp, rec := range p.records {
		if rec.Resolved || now.Sub(rec.LastSeen) > lifecycleResetTimeout {
			delete(p.records, fp)
		}
	}
}

func snapshotRecord(rec *core.AlertRecord) *core.AlertRecord {
	cp := *rec
	return &cp
}
