package signal

import (
	"testing"
	"time"

	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func flatCandles(n int, price, volume float64) []core.Candle {
	out := make([]core.Candle, n)
	now := time.Now()
	for i := range out {
		out[i] = core.Candle{
			Timestamp: now.Add(time.Duration(i-n) * time.Minute),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(volume),
		}
	}
	return out
}

func TestOutlierGuard_RejectsThinlyTradedSpike(t *testing.T) {
	guard := NewOutlierGuard(config.SignalsConfig{})
	candles := flatCandles(21, 100, 1000)
	candles[len(candles)-1].Close = decimal.NewFromFloat(130) // 30% jump
	candles[len(candles)-1].Volume = decimal.NewFromFloat(10) // thin volume

	if !guard.Reject(candles) {
		t.Errorf("expected a large move on thin volume to be rejected as an outlier")
	}
}

func TestOutlierGuard_AllowsConfirmedMove(t *testing.T) {
	guard := NewOutlierGuard(config.SignalsConfig{})
	candles := flatCandles(21, 100, 1000)
	candles[len(candles)-1].Close = decimal.NewFromFloat(130)
	candles[len(candles)-1].Volume = decimal.NewFromFloat(5000) // heavy volume confirms it

	if guard.Reject(candles) {
		t.Errorf("expected a heavily-traded move not to be rejected")
	}
}

func TestOutlierGuard_InsufficientHistoryNeverRejects(t *testing.T) {
	guard := NewOutlierGuard(config.SignalsConfig{})
	candles := flatCandles(5, 100, 1000)
	if guard.Reject(candles) {
		t.Errorf("expected too-short a history to never be judged an outlier")
	}
}

func TestPriceMoveSignal_FiresOnRegimeThreshold(t *testing.T) {
	sig := NewPriceMoveSignal(config.SignalsConfig{})
	candles := flatCandles(61, 100, 1000)
	// Sharp move over the last 15 bars, confirmed by heavy volume.
	for i := len(candles) - 15; i < len(candles); i++ {
		candles[i].Close = decimal.NewFromFloat(103)
		candles[i].Volume = decimal.NewFromFloat(3000)
	}

	trig, ok := sig.Scan(core.Asset{Symbol: "ETH-USD"}, candles, core.RegimeChop)
	if !ok {
		t.Fatalf("expected a price_move trigger in chop regime")
	}
	if trig.Direction != core.DirectionUp {
		t.Errorf("expected upward direction, got %s", trig.Direction)
	}
}

func TestPriceMoveSignal_NoTriggerBelowThreshold(t *testing.T) {
	sig := NewPriceMoveSignal(config.SignalsConfig{})
	candles := flatCandles(61, 100, 1000)
	_, ok := sig.Scan(core.Asset{Symbol: "ETH-USD"}, candles, core.RegimeChop)
	if ok {
		t.Errorf("expected no trigger on a flat candle series")
	}
}

func TestMomentumSignal_FiresOnSustainedUptrendWithGrowingVolume(t *testing.T) {
	sig := NewMomentumSignal(config.SignalsConfig{MomentumLookbackHours: 12})
	candles := make([]core.Candle, 14)
	now := time.Now()
	for i := range candles {
		candles[i] = core.Candle{
			Timestamp: now.Add(time.Duration(i-14) * time.Hour),
			Close:     decimal.NewFromFloat(100 + float64(i)),
			Volume:    decimal.NewFromFloat(float64(100 + i*50)),
		}
	}

	trig, ok := sig.Scan(core.Asset{Symbol: "BTC-USD"}, candles, core.RegimeBull)
	if !ok {
		t.Fatalf("expected a momentum trigger on a clean uptrend with growing volume")
	}
	if trig.Direction != core.DirectionUp {
		t.Errorf("expected upward direction, got %s", trig.Direction)
	}
}

func TestMomentumSignal_NoTriggerOnChoppyCloses(t *testing.T) {
	sig := NewMomentumSignal(config.SignalsConfig{MomentumLookbackHours: 12})
	candles := make([]core.Candle, 14)
	now := time.Now()
	for i := range candles {
		price := 100.0
		if i%2 == 0 {
			price = 101.0
		}
		candles[i] = core.Candle{Timestamp: now.Add(time.Duration(i-14) * time.Hour), Close: decimal.NewFromFloat(price), Volume: decimal.NewFromFloat(1000)}
	}
	_, ok := sig.Scan(core.Asset{Symbol: "BTC-USD"}, candles, core.RegimeBull)
	if ok {
		t.Errorf("expected no momentum trigger when closes alternate direction")
	}
}

func TestMeanReversionSignal_FiresOnlyInChop(t *testing.T) {
	sig := NewMeanReversionSignal(config.SignalsConfig{})
	candles := flatCandles(27, 100, 1000)
	// Deviate 5% above the trailing mean, then exhaust: declining volume and
	// a slowing move over the last 3 bars.
	candles[len(candles)-3].Close = decimal.NewFromFloat(104)
	candles[len(candles)-3].Volume = decimal.NewFromFloat(3000)
	candles[len(candles)-2].Close = decimal.NewFromFloat(105)
	candles[len(candles)-2].Volume = decimal.NewFromFloat(2000)
	candles[len(candles)-1].Close = decimal.NewFromFloat(105.2)
	candles[len(candles)-1].Volume = decimal.NewFromFloat(1000)

	if _, ok := sig.Scan(core.Asset{Symbol: "SOL-USD"}, candles, core.RegimeBull); ok {
		t.Errorf("expected mean_reversion to never fire outside chop")
	}

	trig, ok := sig.Scan(core.Asset{Symbol: "SOL-USD"}, candles, core.RegimeChop)
	if !ok {
		t.Fatalf("expected a mean_reversion trigger on exhausted upward deviation in chop")
	}
	if trig.Direction != core.DirectionDown {
		t.Errorf("expected reversion direction down from an above-mean deviation, got %s", trig.Direction)
	}
}

func TestManager_AppliesAutoTuneAfterZeroTriggerStreak(t *testing.T) {
	cfg := config.SignalsConfig{
		AutoTuneEnabled:           true,
		AutoTuneZeroTriggerCycles: 3,
		AutoTuneMaxLoosenPct:      0.2,
	}
	m := NewManager(cfg, noopLogger{})
	state := core.NewPersistentState()

	flat := []AssetCandles{{Asset: core.Asset{Symbol: "BTC-USD"}, Fine: flatCandles(61, 100, 1000), Coarse: flatCandles(30, 100, 1000)}}

	for i := 0; i < 3; i++ {
		m.Scan(flat, core.RegimeChop, state)
	}

	if !state.AutoTuneApplied {
		t.Fatalf("expected auto_tune_applied to be set after the configured zero-trigger streak")
	}
	if state.ZeroTriggerCycles < 3 {
		t.Errorf("expected zero_trigger_cycles to have reached the threshold, got %d", state.ZeroTriggerCycles)
	}
}

func TestManager_AutoTuneNeverReappliesOnceSet(t *testing.T) {
	cfg := config.SignalsConfig{AutoTuneEnabled: true, AutoTuneZeroTriggerCycles: 1}
	m := NewManager(cfg, noopLogger{})
	state := core.NewPersistentState()
	state.AutoTuneApplied = true

	before15 := m.cfg.PriceMove15mPctByRegime["chop"]
	flat := []AssetCandles{{Asset: core.Asset{Symbol: "BTC-USD"}, Fine: flatCandles(61, 100, 1000), Coarse: flatCandles(30, 100, 1000)}}
	m.Scan(flat, core.RegimeChop, state)

	if m.cfg.PriceMove15mPctByRegime["chop"] != before15 {
		t.Errorf("expected auto-tune to never reapply once auto_tune_applied was already set")
	}
}
