package portfolio

import (
	"testing"
	"time"

	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestBuild_ComputesNAVAndExposure(t *testing.T) {
	b := NewBuilder("USD", d(1))
	persistent := core.NewPersistentState()
	persistent.Positions["BTC-USD"] = &core.Position{
		Symbol:        "BTC-USD",
		QuantityBase:  d(0.1),
		AvgEntryPrice: d(50000),
	}

	accounts := []core.AccountBalance{{Currency: "USD", Balance: d(5000)}}
	prices := map[string]decimal.Decimal{"BTC-USD": d(60000)}

	state := b.Build(accounts, prices, persistent)

	// quote balance 5000 + position value 0.1*60000=6000 => NAV 11000
	if !state.NAV.Equal(d(11000)) {
		t.Errorf("expected NAV 11000, got %s", state.NAV)
	}
	if !state.TotalExposurePct.Equal(d(6000).Div(d(11000))) {
		t.Errorf("unexpected exposure pct: %s", state.TotalExposurePct)
	}
	pos := persistent.Positions["BTC-USD"]
	if !pos.UnrealizedPnLPct.Equal(d(20)) {
		t.Errorf("expected unrealized pnl pct 20, got %s", pos.UnrealizedPnLPct)
	}
}

func TestBuild_DustPositionExcludedFromExposure(t *testing.T) {
	b := NewBuilder("USD", d(10))
	persistent := core.NewPersistentState()
	persistent.Positions["XRP-USD"] = &core.Position{
		Symbol:       "XRP-USD",
		QuantityBase: d(1),
	}
	accounts := []core.AccountBalance{{Currency: "USD", Balance: d(1000)}}
	prices := map[string]decimal.Decimal{"XRP-USD": d(2)} // usd_value=2, below min_dust=10

	state := b.Build(accounts, prices, persistent)

	if !state.TotalExposurePct.IsZero() {
		t.Errorf("expected dust position excluded from exposure, got %s", state.TotalExposurePct)
	}
}

func TestBuild_AdvancesHighWaterMarkOnlyUpward(t *testing.T) {
	b := NewBuilder("USD", d(1))
	persistent := core.NewPersistentState()
	persistent.HighWaterMark = d(20000)
	accounts := []core.AccountBalance{{Currency: "USD", Balance: d(15000)}}

	state := b.Build(accounts, nil, persistent)

	if !state.HighWaterMark.Equal(d(20000)) {
		t.Errorf("expected high water mark to stay at prior peak 20000, got %s", state.HighWaterMark)
	}

	persistent2 := core.NewPersistentState()
	persistent2.HighWaterMark = d(10000)
	state2 := b.Build(accounts, nil, persistent2)
	if !state2.HighWaterMark.Equal(d(15000)) {
		t.Errorf("expected high water mark to advance to new peak 15000, got %s", state2.HighWaterMark)
	}
}

func TestBuild_DailyAndWeeklyPnLPctAgainstBaseline(t *testing.T) {
	b := NewBuilder("USD", d(1))
	persistent := core.NewPersistentState()
	persistent.DailyBaselineNAV = d(10000)
	persistent.WeeklyBaselineNAV = d(8000)
	accounts := []core.AccountBalance{{Currency: "USD", Balance: d(11000)}}

	state := b.Build(accounts, nil, persistent)

	if !state.DailyPnLPct.Equal(d(0.1)) {
		t.Errorf("expected daily pnl pct 0.1, got %s", state.DailyPnLPct)
	}
	if !state.WeeklyPnLPct.Equal(d(0.375)) {
		t.Errorf("expected weekly pnl pct 0.375, got %s", state.WeeklyPnLPct)
	}
}

func TestRolloverTracker_SeedsBaselineOnFirstRun(t *testing.T) {
	tr := NewRolloverTracker()
	persistent := core.NewPersistentState()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	tr.Update(now, d(10000), persistent)

	if persistent.DailyBaselineKey != "2026-07-30" {
		t.Errorf("expected daily baseline key 2026-07-30, got %s", persistent.DailyBaselineKey)
	}
	if !persistent.DailyBaselineNAV.Equal(d(10000)) {
		t.Errorf("expected daily baseline nav seeded to 10000, got %s", persistent.DailyBaselineNAV)
	}
	if persistent.WeeklyBaselineKey == "" {
		t.Errorf("expected weekly baseline key to be seeded")
	}
}

func TestRolloverTracker_ResetsDailyBaselineOnDayRollover(t *testing.T) {
	tr := NewRolloverTracker()
	persistent := core.NewPersistentState()
	day1 := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	tr.Update(day1, d(10000), persistent)

	day2 := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	tr.Update(day2, d(10500), persistent)

	if persistent.DailyBaselineKey != "2026-07-31" {
		t.Errorf("expected daily baseline key to roll to 2026-07-31, got %s", persistent.DailyBaselineKey)
	}
	if !persistent.DailyBaselineNAV.Equal(d(10500)) {
		t.Errorf("expected daily baseline nav re-seeded to 10500 on rollover, got %s", persistent.DailyBaselineNAV)
	}
}

func TestRolloverTracker_HoldsWeeklyBaselineWithinSameWeek(t *testing.T) {
	tr := NewRolloverTracker()
	persistent := core.NewPersistentState()
	monday := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC) // Monday
	tr.Update(monday, d(10000), persistent)

	wednesday := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	tr.Update(wednesday, d(12000), persistent)

	if !persistent.WeeklyBaselineNAV.Equal(d(10000)) {
		t.Errorf("expected weekly baseline to hold at 10000 within the same ISO week, got %s", persistent.WeeklyBaselineNAV)
	}

	nextMonday := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	tr.Update(nextMonday, d(13000), persistent)
	if !persistent.WeeklyBaselineNAV.Equal(d(13000)) {
		t.Errorf("expected weekly baseline to re-seed to 13000 on new ISO week, got %s", persistent.WeeklyBaselineNAV)
	}
}

func TestBuild_ZeroBaselineYieldsZeroPnLPct(t *testing.T) {
	b := NewBuilder("USD", d(1))
	persistent := core.NewPersistentState()
	accounts := []core.AccountBalance{{Currency: "USD", Balance: d(5000)}}

	state := b.Build(accounts, nil, persistent)

	if !state.DailyPnLPct.IsZero() {
		t.Errorf("expected zero daily pnl pct with no baseline set, got %s", state.DailyPnLPct)
	}
}
