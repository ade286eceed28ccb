package signal

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

const defaultMomentumLookbackHours = 12

// MomentumSignal fires on a sustained directional trend over the lookback
// window (12h by default, hourly candles) accompanied by increasing
// volume — every bar's close moves the same direction as the overall
// trend and later bars trade heavier than earlier ones.
type MomentumSignal struct {
	lookbackBars int
}

// NewMomentumSignal builds the signal against signals.yaml's lookback
// window, in hourly bars.
func NewMomentumSignal(cfg config.SignalsConfig) *MomentumSignal {
	hours := cfg.MomentumLookbackHours
	if hours <= 0 {
		hours = defaultMomentumLookbackHours
	}
	return &MomentumSignal{lookbackBars: hours}
}

// Name identifies the signal in triggers and logs.
func (s *MomentumSignal) Name() string { return "momentum" }

// AllowedRegimes fires in trending regimes; it has no place in chop or
// crash.
func (s *MomentumSignal) AllowedRegimes() []core.Regime {
	return []core.Regime{core.RegimeBull, core.RegimeBear}
}

// Scan walks the lookback window's hourly candles and reports a trigger
// once every step moves the same direction and the second half trades
// heavier than the first — a trend building momentum, not just drifting.
func (s *MomentumSignal) Scan(asset core.Asset, candles []core.Candle, regime core.Regime) (*core.TriggerSignal, bool) {
	if len(candles) <= s.lookbackBars {
		return nil, false
	}
	window := candles[len(candles)-1-s.lookbackBars:]

	up, down := 0, 0
	for i := 1; i < len(window); i++ {
		if window[i].Close.GreaterThan(window[i-1].Close) {
			up++
		} else if window[i].Close.LessThan(window[i-1].Close) {
			down++
		}
	}
	steps := len(window) - 1
	if up != steps && down != steps {
		return nil, false // not a clean, sustained trend
	}

	half := len(window) / 2
	firstHalfVol, secondHalfVol := decimal.Zero, decimal.Zero
	for _, c := range window[:half] {
		firstHalfVol = firstHalfVol.Add(c.Volume)
	}
	for _, c := range window[half:] {
		secondHalfVol = secondHalfVol.Add(c.Volume)
	}
	if !secondHalfVol.GreaterThan(firstHalfVol) {
		return nil, false
	}

	move := percentMove(candles, s.lookbackBars)
	direction := core.DirectionUp
	if down == steps {
		direction = core.DirectionDown
	}

	volGrowth := decimal.NewFromInt(1)
	if !firstHalfVol.IsZero() {
		volGrowth = secondHalfVol.Div(firstHalfVol)
	}

	return &core.TriggerSignal{
		Symbol:     asset.Symbol,
		Type:       core.TriggerMomentum,
		Strength:   clamp01(move.Abs().Div(decimal.NewFromInt(10))),
		Confidence: clamp01(volGrowth.Div(decimal.NewFromInt(2))),
		Direction:  direction,
		Volatility: move.Abs().InexactFloat64(),
		Timestamp:  candles[len(candles)-1].Timestamp,
	}, true
}
