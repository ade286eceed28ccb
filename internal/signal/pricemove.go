package signal

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

const (
	defaultShortLookbackBars   = 15 // "15-min" move, assuming 1-minute candles
	defaultLongLookbackBars    = 60 // "60-min" move
	defaultPriceMoveVolRatio   = 1.9
	chopShort, chopLong        = 2.0, 4.0
	bullShort, bullLong        = 3.5, 7.0
	bearShort, bearLong        = 3.0, 7.0
)

// PriceMoveSignal fires when a symbol's short- or long-window percentage
// move clears its regime-dependent bar, backed by volume confirming the
// move is real rather than a thin print. Expects candles fine-grained
// enough to resolve the short lookback (1-minute bars by default).
type PriceMoveSignal struct {
	cfg           config.SignalsConfig
	shortBars     int
	longBars      int
	volumeRatioMin decimal.Decimal
}

// NewPriceMoveSignal builds the signal from signals.yaml, substituting
// documented defaults for unset lookback/ratio fields.
func NewPriceMoveSignal(cfg config.SignalsConfig) *PriceMoveSignal {
	short := cfg.PriceMoveShortLookbackBars
	if short <= 0 {
		short = defaultShortLookbackBars
	}
	long := cfg.PriceMoveLongLookbackBars
	if long <= 0 {
		long = defaultLongLookbackBars
	}
	ratio := cfg.PriceMoveVolumeRatioMin
	if ratio <= 0 {
		ratio = defaultPriceMoveVolRatio
	}
	return &PriceMoveSignal{cfg: cfg, shortBars: short, longBars: long, volumeRatioMin: decimal.NewFromFloat(ratio)}
}

// Name identifies the signal in triggers and logs.
func (s *PriceMoveSignal) Name() string { return "price_move" }

// AllowedRegimes fires in every non-crash regime; crash empties the
// universe upstream so the signal engine never sees it.
func (s *PriceMoveSignal) AllowedRegimes() []core.Regime {
	return []core.Regime{core.RegimeChop, core.RegimeBull, core.RegimeBear}
}

// thresholds returns the short/long move bars (percentage points) required
// to fire in the given regime.
func (s *PriceMoveSignal) thresholds(regime core.Regime) (decimal.Decimal, decimal.Decimal) {
	if v, ok := s.cfg.PriceMove15mPctByRegime[string(regime)]; ok {
		if v2, ok2 := s.cfg.PriceMove60mPctByRegime[string(regime)]; ok2 {
			return decimal.NewFromFloat(v), decimal.NewFromFloat(v2)
		}
	}
	switch regime {
	case core.RegimeChop:
		return decimal.NewFromFloat(chopShort), decimal.NewFromFloat(chopLong)
	case core.RegimeBull:
		return decimal.NewFromFloat(bullShort), decimal.NewFromFloat(bullLong)
	case core.RegimeBear:
		return decimal.NewFromFloat(bearShort), decimal.NewFromFloat(bearLong)
	default:
		return decimal.NewFromFloat(s.cfg.PriceMoveThresholdPct), decimal.NewFromFloat(s.cfg.PriceMoveThresholdPct * 2)
	}
}

// Scan reports a trigger when either lookback window's absolute move
// clears its regime threshold and volume confirms it.
func (s *PriceMoveSignal) Scan(asset core.Asset, candles []core.Candle, regime core.Regime) (*core.TriggerSignal, bool) {
	if len(candles) <= s.longBars {
		return nil, false
	}

	shortMove := percentMove(candles, s.shortBars)
	longMove := percentMove(candles, s.longBars)
	shortTh, longTh := s.thresholds(regime)

	if shortMove.Abs().LessThan(shortTh) && longMove.Abs().LessThan(longTh) {
		return nil, false
	}

	volRatio := volumeRatio(candles, s.longBars)
	if volRatio.LessThan(s.volumeRatioMin) {
		return nil, false
	}

	direction := core.DirectionUp
	if longMove.IsNegative() {
		direction = core.DirectionDown
	}

	strength := clamp01(longMove.Abs().Div(longTh))
	confidence := clamp01(volRatio.Div(s.volumeRatioMin))

	return &core.TriggerSignal{
		Symbol:     asset.Symbol,
		Type:       core.TriggerPriceMove,
		Strength:   strength,
		Confidence: confidence,
		Direction:  direction,
		Volatility: longMove.Abs().InexactFloat64(),
		Timestamp:  candles[len(candles)-1].Timestamp,
	}, true
}
