// Package strategy turns the signal engine's triggers into trade
// proposals. Every Strategy.Generate is pure: no I/O, no wall-clock reads
// beyond what StrategyContext already carries, so each is independently
// unit-testable and safe to run in a backtest.
package strategy

import (
	"cbtrader/internal/config"

	"github.com/shopspring/decimal"
)

// sizeForConfidence linearly interpolates between a strategy's base and
// max size as trigger confidence climbs from 0 to 1.
func sizeForConfidence(sizing config.StrategySizing, confidence float64) decimal.Decimal {
	base := decimal.NewFromFloat(sizing.BaseSizePct)
	max := decimal.NewFromFloat(sizing.MaxSizePct)
	if max.LessThan(base) {
		max = base
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	span := max.Sub(base)
	return base.Add(span.Mul(decimal.NewFromFloat(confidence)))
}
