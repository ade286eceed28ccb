package strategy

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// MeanReversionStrategy fades an exhausted deviation from the 24h mean.
// Its thesis only plays out quickly, so every proposal carries a tight
// take-profit.
type MeanReversionStrategy struct {
	sizing config.StrategySizing
}

// NewMeanReversionStrategy builds the strategy against its
// strategies.yaml sizing entry.
func NewMeanReversionStrategy(sizing config.StrategySizing) *MeanReversionStrategy {
	return &MeanReversionStrategy{sizing: sizing}
}

// Name identifies the strategy in proposals, budgets, and logs.
func (s *MeanReversionStrategy) Name() string { return "mean_reversion" }

// Generate emits one proposal per eligible symbol with a mean_reversion
// trigger, trading toward the reversion direction the signal reported.
func (s *MeanReversionStrategy) Generate(sctx core.StrategyContext) []core.TradeProposal {
	var out []core.TradeProposal
	for _, trig := range sctx.Triggers {
		if trig.Type != core.TriggerMeanReversion {
			continue
		}
		if sctx.Universe == nil || !sctx.Universe.IsEligible(trig.Symbol) {
			continue
		}

		side := core.SideBuy
		if trig.Direction == core.DirectionDown {
			side = core.SideSell
		}

		tp := decimal.NewFromFloat(0.015)
		out = append(out, core.TradeProposal{
			Symbol:        trig.Symbol,
			Side:          side,
			SizePct:       sizeForConfidence(s.sizing, trig.Confidence),
			Reason:        "mean_reversion_trigger",
			Confidence:    trig.Confidence,
			StrategyName:  s.Name(),
			TakeProfitPct: &tp,
		})
	}
	return out
}
