// Package regime classifies the market into bull/bear/chop/crash each
// cycle from breadth (the fraction of the universe trending up) and a
// volume-weighted index return. It generalizes an RSI-threshold
// bull/bear/range classifier over a single symbol's candle history to a
// basket-wide breadth/return composite, since this system trades a
// rotating universe, not one pair.
package regime

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// AssetReturn is one symbol's return over the detection lookback, plus
// the volume weight it contributes to the index composite.
type AssetReturn struct {
	Symbol    string
	ReturnPct decimal.Decimal
	Volume24h decimal.Decimal
}

// Detector classifies the market each cycle from a basket of AssetReturns.
type Detector struct {
	cfg    config.RegimeConfig
	logger core.ILogger
}

// NewDetector builds a detector against policy.yaml's regime thresholds.
func NewDetector(cfg config.RegimeConfig, logger core.ILogger) *Detector {
	return &Detector{cfg: cfg, logger: logger.WithField("component", "regime_detector")}
}

// Detect returns Chop when given no data (the conservative default: tight
// thresholds, no universe emptied). Otherwise it classifies from breadth
// (the fraction of symbols with a positive return) and a volume-weighted
// index return: both breadth below the crash floor and index return below
// the crash threshold together signal Crash; otherwise the index return
// alone picks Bull/Bear/Chop.
func (d *Detector) Detect(returns []AssetReturn) core.Regime {
	if len(returns) == 0 {
		return core.RegimeChop
	}

	up := 0
	weightedSum := decimal.Zero
	totalWeight := decimal.Zero
	for _, r := range returns {
		if r.ReturnPct.IsPositive() {
			up++
		}
		weight := r.Volume24h
		if !weight.IsPositive() {
			weight = decimal.NewFromInt(1)
		}
		weightedSum = weightedSum.Add(r.ReturnPct.Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}

	breadth := decimal.NewFromInt(int64(up)).Div(decimal.NewFromInt(int64(len(returns))))
	indexReturn := decimal.Zero
	if totalWeight.IsPositive() {
		indexReturn = weightedSum.Div(totalWeight)
	}

	crashBreadthFloor := decimal.NewFromFloat(d.cfg.CrashBreadthFloor)
	crashIndexReturn := decimal.NewFromFloat(d.cfg.CrashIndexReturnPct)
	bullIndexReturn := decimal.NewFromFloat(d.cfg.BullIndexReturnPct)
	bearIndexReturn := decimal.NewFromFloat(d.cfg.BearIndexReturnPct)

	if breadth.LessThanOrEqual(crashBreadthFloor) && indexReturn.LessThanOrEqual(crashIndexReturn) {
		d.logger.Warn("crash regime detected", "breadth", breadth.String(), "index_return_pct", indexReturn.String())
		return core.RegimeCrash
	}
	if indexReturn.GreaterThanOrEqual(bullIndexReturn) {
		return core.RegimeBull
	}
	if indexReturn.LessThanOrEqual(bearIndexReturn) {
		return core.RegimeBear
	}
	return core.RegimeChop
}

// ReturnsFromCandles computes one AssetReturn per symbol from its candle
// series: return is the close-over-close change across the configured
// lookback, volume is the sum of the same window's volume (a 24h-volume
// proxy when the series covers roughly a day).
func ReturnsFromCandles(candles map[string][]core.Candle, lookbackBars int) []AssetReturn {
	out := make([]AssetReturn, 0, len(candles))
	for symbol, series := range candles {
		if len(series) < 2 {
			continue
		}
		bars := lookbackBars
		if bars <= 0 || bars >= len(series) {
			bars = len(series) - 1
		}
		first := series[len(series)-1-bars]
		last := series[len(series)-1]
		if !first.Close.IsPositive() {
			continue
		}
		ret := last.Close.Sub(first.Close).Div(first.Close)

		volume := decimal.Zero
		for _, c := range series[len(series)-1-bars:] {
			volume = volume.Add(c.Volume)
		}
		out = append(out, AssetReturn{Symbol: symbol, ReturnPct: ret, Volume24h: volume})
	}
	return out
}
