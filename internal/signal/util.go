package signal

import (
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// percentMove returns the percentage change from the candle barsAgo before
// the last entry in candles (oldest-first) to the last entry, as a plain
// percentage (3.0 means 3%). Returns zero if there isn't enough history or
// the reference close is zero.
func percentMove(candles []core.Candle, barsAgo int) decimal.Decimal {
	if len(candles) <= barsAgo {
		return decimal.Zero
	}
	ref := candles[len(candles)-1-barsAgo]
	if ref.Close.IsZero() {
		return decimal.Zero
	}
	current := candles[len(candles)-1]
	return current.Close.Sub(ref.Close).Div(ref.Close).Mul(decimal.NewFromInt(100))
}

// averageVolume returns the mean volume over the last n bars preceding the
// most recent one (oldest-first order), or zero if there isn't enough
// history.
func averageVolume(candles []core.Candle, n int) decimal.Decimal {
	if len(candles) <= n {
		return decimal.Zero
	}
	window := candles[len(candles)-1-n : len(candles)-1]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(window))))
}

// volumeRatio compares the most recent bar's volume against the trailing
// n-bar average, returning zero if the average is zero or undefined.
func volumeRatio(candles []core.Candle, n int) decimal.Decimal {
	avg := averageVolume(candles, n)
	if avg.IsZero() {
		return decimal.Zero
	}
	return candles[len(candles)-1].Volume.Div(avg)
}

// clamp01 bounds x to [0, 1], the range TriggerSignal.Strength and
// Confidence require.
func clamp01(x decimal.Decimal) float64 {
	if x.LessThan(decimal.Zero) {
		return 0
	}
	if x.GreaterThan(decimal.NewFromInt(1)) {
		return 1
	}
	return x.InexactFloat64()
}
