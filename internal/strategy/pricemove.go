package strategy

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"
)

// PriceMoveStrategy converts price_move triggers into directional
// proposals sized by trigger confidence.
type PriceMoveStrategy struct {
	sizing config.StrategySizing
}

// NewPriceMoveStrategy builds the strategy against its strategies.yaml
// sizing entry.
func NewPriceMoveStrategy(sizing config.StrategySizing) *PriceMoveStrategy {
	return &PriceMoveStrategy{sizing: sizing}
}

// Name identifies the strategy in proposals, budgets, and logs.
func (s *PriceMoveStrategy) Name() string { return "price_move" }

// Generate emits one proposal per eligible symbol with a price_move
// trigger, buying into an upward move and selling into a downward one.
func (s *PriceMoveStrategy) Generate(sctx core.StrategyContext) []core.TradeProposal {
	var out []core.TradeProposal
	for _, trig := range sctx.Triggers {
		if trig.Type != core.TriggerPriceMove {
			continue
		}
		if sctx.Universe == nil || !sctx.Universe.IsEligible(trig.Symbol) {
			continue
		}

		side := core.SideBuy
		if trig.Direction == core.DirectionDown {
			side = core.SideSell
		}

		out = append(out, core.TradeProposal{
			Symbol:       trig.Symbol,
			Side:         side,
			SizePct:      sizeForConfidence(s.sizing, trig.Confidence),
			Reason:       "price_move_trigger",
			Confidence:   trig.Confidence,
			StrategyName: s.Name(),
		})
	}
	return out
}
