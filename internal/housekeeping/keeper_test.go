package housekeeping

import (
	"testing"
	"time"

	"cbtrader/internal/core"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func TestRegister_RejectsInvalidSchedule(t *testing.T) {
	k := New(noopLogger{})
	if err := k.Register("not a cron spec", "bogus", ResetHourlyCounter); err == nil {
		t.Fatal("expected an error for a malformed cron spec")
	}
}

func TestSweep_SkipsJobsNotYetDue(t *testing.T) {
	k := New(noopLogger{})
	var ran bool
	if err := k.Register("0 0 1 1 *", "new-year-only", func(time.Time, *core.PersistentState) {
		ran = true
	}); err != nil {
		t.Fatalf("unexpected Register error: %v", err)
	}

	persistent := core.NewPersistentState()
	k.Sweep(time.Now(), persistent)
	if ran {
		t.Error("expected a job scheduled for next New Year's Day not to run today")
	}
}

func TestSweep_RunsDueJobAndAdvancesNextRun(t *testing.T) {
	k := New(noopLogger{})
	var calls int
	if err := k.Register("* * * * *", "every-minute", func(time.Time, *core.PersistentState) {
		calls++
	}); err != nil {
		t.Fatalf("unexpected Register error: %v", err)
	}

	job := k.jobs[0]
	firstDue := job.nextRun

	persistent := core.NewPersistentState()
	k.Sweep(firstDue.Add(time.Second), persistent)
	if calls != 1 {
		t.Fatalf("expected the job to run exactly once, ran %d times", calls)
	}
	if !job.nextRun.After(firstDue) {
		t.Error("expected nextRun to advance past the just-fired occurrence")
	}

	// Sweeping again immediately after shouldn't re-fire until the new
	// nextRun arrives.
	k.Sweep(firstDue.Add(time.Second), persistent)
	if calls != 1 {
		t.Errorf("expected no re-run before the next occurrence, ran %d times", calls)
	}
}

func TestResetHourlyCounter(t *testing.T) {
	persistent := core.NewPersistentState()
	persistent.HourlyTradeCount = 7
	now := time.Now()

	ResetHourlyCounter(now, persistent)

	if persistent.HourlyTradeCount != 0 {
		t.Errorf("expected HourlyTradeCount reset to 0, got %d", persistent.HourlyTradeCount)
	}
	if !persistent.HourlyCountResetAt.Equal(now) {
		t.Errorf("expected HourlyCountResetAt set to %v, got %v", now, persistent.HourlyCountResetAt)
	}
}

func TestResetDailyCounter(t *testing.T) {
	persistent := core.NewPersistentState()
	persistent.DailyTradeCount = 42
	persistent.PyramidAddsToday["BTC-USD"] = 3
	persistent.PyramidAddsToday["ETH-USD"] = 1
	now := time.Now()

	ResetDailyCounter(now, persistent)

	if persistent.DailyTradeCount != 0 {
		t.Errorf("expected DailyTradeCount reset to 0, got %d", persistent.DailyTradeCount)
	}
	if !persistent.DailyCountResetAt.Equal(now) {
		t.Errorf("expected DailyCountResetAt set to %v, got %v", now, persistent.DailyCountResetAt)
	}
	if len(persistent.PyramidAddsToday) != 0 {
		t.Errorf("expected PyramidAddsToday cleared, got %v", persistent.PyramidAddsToday)
	}
}

func TestSweepExpiredBans(t *testing.T) {
	now := time.Now()
	persistent := core.NewPersistentState()
	persistent.RedFlagBans["EXPIRED-USD"] = core.RedFlagBan{Reason: "stale", Expires: now.Add(-time.Minute)}
	persistent.RedFlagBans["ACTIVE-USD"] = core.RedFlagBan{Reason: "fresh", Expires: now.Add(time.Hour)}

	SweepExpiredBans(now, persistent)

	if _, ok := persistent.RedFlagBans["EXPIRED-USD"]; ok {
		t.Error("expected the expired ban to be removed")
	}
	if _, ok := persistent.RedFlagBans["ACTIVE-USD"]; !ok {
		t.Error("expected the still-active ban to survive the sweep")
	}
}

func TestSweepStalePurgeFailures(t *testing.T) {
	now := time.Now()
	persistent := core.NewPersistentState()
	persistent.PurgeFailures["OLD-USD"] = core.PurgeFailure{Count: 5, LastFailedAt: now.Add(-8 * 24 * time.Hour)}
	persistent.PurgeFailures["RECENT-USD"] = core.PurgeFailure{Count: 3, LastFailedAt: now.Add(-time.Hour)}

	SweepStalePurgeFailures(now, persistent)

	if _, ok := persistent.PurgeFailures["OLD-USD"]; ok {
		t.Error("expected the week-old purge failure to be swept")
	}
	if _, ok := persistent.PurgeFailures["RECENT-USD"]; !ok {
		t.Error("expected the recent purge failure to survive the sweep")
	}
}
