package strategy

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// MomentumStrategy rides a confirmed trend, sizing by the trigger's
// confidence multiplied by its strength (the lookback move's size, full
// strength at a 10% move), so a small move sizes below what its
// confidence alone would give.
type MomentumStrategy struct {
	sizing config.StrategySizing
}

// NewMomentumStrategy builds the strategy against its strategies.yaml
// sizing entry.
func NewMomentumStrategy(sizing config.StrategySizing) *MomentumStrategy {
	return &MomentumStrategy{sizing: sizing}
}

// Name identifies the strategy in proposals, budgets, and logs.
func (s *MomentumStrategy) Name() string { return "momentum" }

// Generate emits one proposal per eligible symbol with a momentum
// trigger, in the trend's direction.
func (s *MomentumStrategy) Generate(sctx core.StrategyContext) []core.TradeProposal {
	var out []core.TradeProposal
	for _, trig := range sctx.Triggers {
		if trig.Type != core.TriggerMomentum {
			continue
		}
		if sctx.Universe == nil || !sctx.Universe.IsEligible(trig.Symbol) {
			continue
		}

		side := core.SideBuy
		if trig.Direction == core.DirectionDown {
			side = core.SideSell
		}

		weight := trig.Confidence * trig.Strength
		sl := decimal.NewFromFloat(0.02)
		out = append(out, core.TradeProposal{
			Symbol:       trig.Symbol,
			Side:         side,
			SizePct:      sizeForConfidence(s.sizing, weight),
			Reason:       "momentum_trigger",
			Confidence:   trig.Confidence,
			StrategyName: s.Name(),
			StopLossPct:  &sl,
		})
	}
	return out
}
