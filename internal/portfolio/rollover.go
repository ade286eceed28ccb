package portfolio

import (
	"fmt"
	"time"

	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// RolloverTracker detects UTC calendar-day and ISO-week boundary
// crossings and re-baselines PersistentState's daily/weekly NAV
// markers there. Baselines live on PersistentState itself (not in an
// in-memory tracker field) so a restart mid-day resumes against the
// same baseline instead of silently re-zeroing the day's PnL%.
type RolloverTracker struct{}

// NewRolloverTracker returns a stateless tracker; all state it reads
// and writes lives on the PersistentState passed to Update.
func NewRolloverTracker() *RolloverTracker {
	return &RolloverTracker{}
}

// Update compares now's UTC day/week key against the keys stored on
// persistent and re-baselines NAV for any period that has rolled over.
// On first run (empty keys) it seeds both baselines from nav without
// treating that as a rollover.
func (t *RolloverTracker) Update(now time.Time, nav decimal.Decimal, persistent *core.PersistentState) {
	dayKey := dailyKey(now)
	weekKey := weeklyKey(now)

	if persistent.DailyBaselineKey == "" {
		persistent.DailyBaselineKey = dayKey
		persistent.DailyBaselineNAV = nav
	} else if persistent.DailyBaselineKey != dayKey {
		persistent.DailyBaselineKey = dayKey
		persistent.DailyBaselineNAV = nav
	}

	if persistent.WeeklyBaselineKey == "" {
		persistent.WeeklyBaselineKey = weekKey
		persistent.WeeklyBaselineNAV = nav
	} else if persistent.WeeklyBaselineKey != weekKey {
		persistent.WeeklyBaselineKey = weekKey
		persistent.WeeklyBaselineNAV = nav
	}
}

func dailyKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func weeklyKey(now time.Time) string {
	year, week := now.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
