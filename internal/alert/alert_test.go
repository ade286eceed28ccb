package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"cbtrader/internal/core"
)

type mockAlertChannel struct {
	name     string
	sent     []mockSend
	sendFunc func(ctx context.Context, severity core.AlertSeverity, title, message string) error
	mu       sync.Mutex
}

type mockSend struct {
	Severity core.AlertSeverity
	Title    string
	Message  string
	Fields   map[string]string
}

func (m *mockAlertChannel) Name() string { return m.name }

func (m *mockAlertChannel) Send(ctx context.Context, severity core.AlertSeverity, title, message string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mockSend{Severity: severity, Title: title, Message: message, Fields: fields})
	if m.sendFunc != nil {
		return m.sendFunc(ctx, severity, title, message)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []mockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]mockSend, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestManager_Fire(t *testing.T) {
	m := NewManager(&mockLogger{})

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}

	m.AddChannel(ch1)
	m.AddChannel(ch2)

	m.Fire(context.Background(), core.SeverityInfo, "Test Alert", "This is a test", map[string]string{"key": "value"})

	time.Sleep(100 * time.Millisecond)

	sent1 := ch1.getSent()
	sent2 := ch2.getSent()

	if len(sent1) != 1 {
		t.Errorf("expected ch1 to receive 1 alert, got %d", len(sent1))
	}
	if len(sent2) != 1 {
		t.Errorf("expected ch2 to receive 1 alert, got %d", len(sent2))
	}

	got := sent1[0]
	if got.Title != "Test Alert" {
		t.Errorf("expected title 'Test Alert', got '%s'", got.Title)
	}
	if got.Severity != core.SeverityInfo {
		t.Errorf("expected severity INFO, got %s", got.Severity)
	}
	if got.Fields["key"] != "value" {
		t.Errorf("expected field key=value, got %s", got.Fields["key"])
	}
}

func TestManager_Fire_ChannelErrorDoesNotBlockOthers(t *testing.T) {
	m := NewManager(&mockLogger{})

	failing := &mockAlertChannel{name: "failing", sendFunc: func(ctx context.Context, severity core.AlertSeverity, title, message string) error {
		return context.DeadlineExceeded
	}}
	ok := &mockAlertChannel{name: "ok"}

	m.AddChannel(failing)
	m.AddChannel(ok)

	m.Fire(context.Background(), core.SeverityCritical, "Kill switch", "halted", nil)
	time.Sleep(100 * time.Millisecond)

	if len(ok.getSent()) != 1 {
		t.Errorf("expected the healthy channel to still receive the alert")
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *mockAlertChannel, *fakeClock) {
	t.Helper()
	m := NewManager(&mockLogger{})
	ch := &mockAlertChannel{name: "mock"}
	m.AddChannel(ch)

	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewPipeline(m, nil, &mockLogger{})
	p.now = clock.Now
	return p, ch, clock
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func TestPipeline_DedupeWithinWindow(t *testing.T) {
	p, ch, clock := newTestPipeline(t)
	ctx := context.Background()

	p.Notify(ctx, core.SeverityWarning, "latency", "high latency", nil)
	clock.Advance(30 * time.Second)
	p.Notify(ctx, core.SeverityWarning, "latency", "high latency", nil)
	clock.Advance(20 * time.Second)
	p.Notify(ctx, core.SeverityWarning, "latency", "high latency", nil)

	time.Sleep(50 * time.Millisecond)
	if len(ch.getSent()) != 1 {
		t.Errorf("expected exactly 1 send within the dedupe window, got %d", len(ch.getSent()))
	}
}

func TestPipeline_ResendsAfterWindowLapses(t *testing.T) {
	p, ch, clock := newTestPipeline(t)
	ctx := context.Background()

	p.Notify(ctx, core.SeverityWarning, "latency", "high latency", nil)
	clock.Advance(61 * time.Second)
	p.Notify(ctx, core.SeverityWarning, "latency", "high latency", nil)

	time.Sleep(50 * time.Millisecond)
	if len(ch.getSent()) != 2 {
		t.Errorf("expected a resend once the 60s window lapses, got %d sends", len(ch.getSent()))
	}
}

func TestPipeline_EscalatesExactlyOnce(t *testing.T) {
	p, ch, clock := newTestPipeline(t)
	ctx := context.Background()

	p.Notify(ctx, core.SeverityWarning, "stall", "cycle stalled", nil)
	clock.Advance(121 * time.Second)

	p.Escalate(ctx)
	p.Escalate(ctx)
	p.Escalate(ctx)

	time.Sleep(50 * time.Millisecond)
	sent := ch.getSent()
	if len(sent) != 2 { // original fire + exactly one escalation
		t.Fatalf("expected 1 original send + 1 escalation send, got %d", len(sent))
	}

	escalated := sent[1]
	if escalated.Severity != core.SeverityCritical {
		t.Errorf("expected escalation to boost WARNING to CRITICAL, got %s", escalated.Severity)
	}
	if escalated.Title != "ESCALATED: stall" {
		t.Errorf("expected ESCALATED title prefix, got %q", escalated.Title)
	}
}

func TestPipeline_ResolveStopsEscalation(t *testing.T) {
	p, ch, clock := newTestPipeline(t)
	ctx := context.Background()

	p.Notify(ctx, core.SeverityInfo, "blip", "minor blip", nil)
	fp := Fingerprint(core.SeverityInfo, "blip", "minor blip")
	p.Resolve(fp)

	clock.Advance(200 * time.Second)
	p.Escalate(ctx)

	time.Sleep(50 * time.Millisecond)
	if len(ch.getSent()) != 1 {
		t.Errorf("expected no escalation after explicit resolve, got %d sends", len(ch.getSent()))
	}
}

func TestPipeline_LifecycleResetAfterInactivity(t *testing.T) {
	p, ch, clock := newTestPipeline(t)
	ctx := context.Background()

	p.Notify(ctx, core.SeverityInfo, "blip", "minor blip", nil)
	clock.Advance(6 * time.Minute)

	// Record should have been swept; this is treated as a brand new alert.
	p.Notify(ctx, core.SeverityInfo, "blip", "minor blip", nil)

	time.Sleep(50 * time.Millisecond)
	if len(ch.getSent()) != 2 {
		t.Errorf("expected the stale record to reset and resend, got %d sends", len(ch.getSent()))
	}
}
