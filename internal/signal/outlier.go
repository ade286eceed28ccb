package signal

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

const (
	defaultOutlierMAWindow        = 20
	defaultOutlierMaxDeviationPct = 0.10
	defaultOutlierMinVolumeRatio  = 0.10
)

// OutlierGuard runs ahead of every Signal.Scan. It compares the most recent
// candle against the trailing moving average and rejects it when the move
// is both large and thinly traded — a print that likely won't hold up,
// grounded on the volume-spike/price-drop anomaly check the risk monitor
// ran before every signal decision.
type OutlierGuard struct {
	window          int
	maxDeviationPct decimal.Decimal
	minVolumeRatio  decimal.Decimal
}

// NewOutlierGuard builds a guard from signals.yaml, substituting
// documented defaults for any zero-valued field.
func NewOutlierGuard(cfg config.SignalsConfig) *OutlierGuard {
	window := cfg.OutlierMAWindow
	if window <= 0 {
		window = defaultOutlierMAWindow
	}
	maxDev := cfg.OutlierMaxDeviationPct
	if maxDev <= 0 {
		maxDev = defaultOutlierMaxDeviationPct
	}
	minRatio := cfg.OutlierMinVolumeRatio
	if minRatio <= 0 {
		minRatio = defaultOutlierMinVolumeRatio
	}
	return &OutlierGuard{
		window:          window,
		maxDeviationPct: decimal.NewFromFloat(maxDev),
		minVolumeRatio:  decimal.NewFromFloat(minRatio),
	}
}

// Reject reports whether candles' last entry should be skipped this cycle.
// candles must be ordered oldest-first; the trailing window excludes the
// current bar. Too little history is not an outlier — it simply can't be
// judged yet, so Reject returns false.
func (g *OutlierGuard) Reject(candles []core.Candle) bool {
	if len(candles) < g.window+1 {
		return false
	}

	current := candles[len(candles)-1]
	trailing := candles[len(candles)-1-g.window : len(candles)-1]

	sumPrice, sumVolume := decimal.Zero, decimal.Zero
	for _, c := range trailing {
		sumPrice = sumPrice.Add(c.Close)
		sumVolume = sumVolume.Add(c.Volume)
	}
	n := decimal.NewFromInt(int64(len(trailing)))
	avgPrice := sumPrice.Div(n)
	avgVolume := sumVolume.Div(n)

	if avgPrice.IsZero() || avgVolume.IsZero() {
		return true
	}

	deviation := current.Close.Sub(avgPrice).Abs().Div(avgPrice)
	volumeRatio := current.Volume.Div(avgVolume)

	return deviation.GreaterThan(g.maxDeviationPct) && volumeRatio.LessThan(g.minVolumeRatio)
}
