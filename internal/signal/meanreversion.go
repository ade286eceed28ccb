package signal

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

const (
	defaultMeanReversionDeviationPct = 3.0
	meanReversionLookbackBars        = 24 // 24h mean, hourly candles
)

// MeanReversionSignal fires when price has drifted materially from its
// 24h mean but the move is exhausting itself — declining volume and a
// slowing rate of change — and only in a chop regime, where reversion is
// the dominant dynamic rather than a trend continuing.
type MeanReversionSignal struct {
	deviationPct decimal.Decimal
}

// NewMeanReversionSignal builds the signal from signals.yaml's deviation
// floor.
func NewMeanReversionSignal(cfg config.SignalsConfig) *MeanReversionSignal {
	dev := cfg.MeanReversionDeviationPct
	if dev <= 0 {
		dev = defaultMeanReversionDeviationPct
	}
	return &MeanReversionSignal{deviationPct: decimal.NewFromFloat(dev)}
}

// Name identifies the signal in triggers and logs.
func (s *MeanReversionSignal) Name() string { return "mean_reversion" }

// AllowedRegimes restricts this signal to chop, per its exhaustion-based
// thesis.
func (s *MeanReversionSignal) AllowedRegimes() []core.Regime {
	return []core.Regime{core.RegimeChop}
}

// Scan compares the current close against the trailing 24h mean and
// requires both declining volume and a slowing move over the last three
// bars before calling it exhaustion.
func (s *MeanReversionSignal) Scan(asset core.Asset, candles []core.Candle, regime core.Regime) (*core.TriggerSignal, bool) {
	if regime != core.RegimeChop {
		return nil, false
	}
	if len(candles) <= meanReversionLookbackBars || len(candles) < 4 {
		return nil, false
	}

	window := candles[len(candles)-1-meanReversionLookbackBars : len(candles)-1]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Close)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(window))))
	if mean.IsZero() {
		return nil, false
	}

	current := candles[len(candles)-1]
	deviation := current.Close.Sub(mean).Div(mean).Mul(decimal.NewFromInt(100))
	if deviation.Abs().LessThan(s.deviationPct) {
		return nil, false
	}

	last3 := candles[len(candles)-3:]
	decliningVolume := last3[2].Volume.LessThan(last3[1].Volume) && last3[1].Volume.LessThan(last3[0].Volume)
	move1 := last3[1].Close.Sub(last3[0].Close).Abs()
	move2 := last3[2].Close.Sub(last3[1].Close).Abs()
	slowing := move2.LessThan(move1)
	if !decliningVolume || !slowing {
		return nil, false
	}

	direction := core.DirectionDown // price above mean reverts down
	if deviation.IsNegative() {
		direction = core.DirectionUp
	}

	return &core.TriggerSignal{
		Symbol:     asset.Symbol,
		Type:       core.TriggerMeanReversion,
		Strength:   clamp01(deviation.Abs().Div(s.deviationPct.Mul(decimal.NewFromInt(2)))),
		Confidence: clamp01(move1.Sub(move2).Div(move1.Add(decimal.NewFromFloat(1e-9)))),
		Direction:  direction,
		Volatility: deviation.Abs().InexactFloat64(),
		Timestamp:  current.Timestamp,
	}, true
}
