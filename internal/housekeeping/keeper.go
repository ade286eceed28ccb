// Package housekeeping runs the small maintenance jobs that don't belong
// in any single cycle stage: resetting the hourly/daily trade counters at
// their calendar boundary, and sweeping expired red-flag bans and
// purge-failure backoffs out of persistent state before they can pin
// memory or mask a ban that should have lapsed. It is grounded on the
// sentinel scheduler's cron.Schedule-driven Job registry, generalized
// from a background goroutine ticking its own cron.Cron loop to a
// synchronous due-check the orchestrator calls once per cycle — the
// system has exactly one mutator of PersistentState (the cycle loop
// itself), so a second goroutine racing on the same maps would only add
// a lock for no benefit.
package housekeeping

import (
	"fmt"
	"time"

	"cbtrader/internal/core"

	"github.com/robfig/cron/v3"
)

// JobFunc performs one maintenance pass against the live persistent
// document as of now.
type JobFunc func(now time.Time, persistent *core.PersistentState)

type trackedJob struct {
	name     string
	schedule cron.Schedule
	run      JobFunc
	nextRun  time.Time
}

// Keeper holds a small registry of cron-scheduled maintenance jobs and
// fires whichever are due on each Sweep call.
type Keeper struct {
	logger core.ILogger
	jobs   []*trackedJob
}

// New builds an empty registry; call Register for each job before the
// first Sweep.
func New(logger core.ILogger) *Keeper {
	return &Keeper{logger: logger.WithField("component", "housekeeping")}
}

// Register adds a job on a standard 5-field cron spec ("minute hour dom
// month dow"). Its first due time is computed from now, so a job
// registered mid-hour doesn't fire immediately.
func (k *Keeper) Register(spec, name string, run JobFunc) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("housekeeping: invalid schedule %q for job %q: %w", spec, name, err)
	}
	now := time.Now()
	k.jobs = append(k.jobs, &trackedJob{
		name:     name,
		schedule: schedule,
		run:      run,
		nextRun:  schedule.Next(now),
	})
	return nil
}

// Sweep runs every job whose scheduled time has passed, advancing each to
// its next occurrence. Safe to call every cycle; most calls find nothing
// due.
func (k *Keeper) Sweep(now time.Time, persistent *core.PersistentState) {
	for _, j := range k.jobs {
		if now.Before(j.nextRun) {
			continue
		}
		k.logger.Debug("running housekeeping job", "job", j.name)
		j.run(now, persistent)
		j.nextRun = j.schedule.Next(now)
	}
}

// ResetHourlyCounter zeroes HourlyTradeCount, registered on an hourly
// cron spec ("0 * * * *").
func ResetHourlyCounter(now time.Time, persistent *core.PersistentState) {
	persistent.HourlyTradeCount = 0
	persistent.HourlyCountResetAt = now
}

// ResetDailyCounter zeroes DailyTradeCount and the per-symbol pyramiding
// add counters, registered on a daily cron spec ("0 0 * * *").
func ResetDailyCounter(now time.Time, persistent *core.PersistentState) {
	persistent.DailyTradeCount = 0
	persistent.DailyCountResetAt = now
	for symbol := range persistent.PyramidAddsToday {
		delete(persistent.PyramidAddsToday, symbol)
	}
}

// SweepExpiredBans drops every red-flag ban whose TTL has elapsed, so a
// symbol can return to the universe once its ban lapses rather than
// staying excluded on stale state.
func SweepExpiredBans(now time.Time, persistent *core.PersistentState) {
	for symbol, ban := range persistent.RedFlagBans {
		if ban.Expired(now) {
			delete(persistent.RedFlagBans, symbol)
		}
	}
}

// SweepStalePurgeFailures drops purge-failure backoff entries once their
// computed backoff window has long since passed, so a symbol that
// eventually liquidates cleanly doesn't carry failure history forever.
func SweepStalePurgeFailures(now time.Time, persistent *core.PersistentState) {
	const staleAfter = 7 * 24 * time.Hour
	for symbol, failure := range persistent.PurgeFailures {
		if now.Sub(failure.LastFailedAt) > staleAfter {
			delete(persistent.PurgeFailures, symbol)
		}
	}
}
