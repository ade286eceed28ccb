package strategy

import (
	"testing"
	"time"

	"cbtrader/internal/config"
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func eligibleUniverse(symbols ...string) *core.UniverseSnapshot {
	snap := &core.UniverseSnapshot{
		EligibleByTier: map[core.Tier][]string{core.Tier1: symbols},
		Excluded:       make(map[string]string),
	}
	return snap
}

func TestPriceMoveStrategy_SkipsIneligibleSymbols(t *testing.T) {
	s := NewPriceMoveStrategy(config.StrategySizing{BaseSizePct: 0.01, MaxSizePct: 0.03})
	sctx := core.StrategyContext{
		Universe: eligibleUniverse("BTC-USD"),
		Triggers: []core.TriggerSignal{
			{Symbol: "ETH-USD", Type: core.TriggerPriceMove, Direction: core.DirectionUp, Confidence: 0.8},
		},
	}
	if out := s.Generate(sctx); len(out) != 0 {
		t.Errorf("expected no proposal for a symbol outside the eligible universe, got %v", out)
	}
}

func TestPriceMoveStrategy_SizesWithConfidence(t *testing.T) {
	s := NewPriceMoveStrategy(config.StrategySizing{BaseSizePct: 0.01, MaxSizePct: 0.03})
	sctx := core.StrategyContext{
		Universe: eligibleUniverse("BTC-USD"),
		Triggers: []core.TriggerSignal{
			{Symbol: "BTC-USD", Type: core.TriggerPriceMove, Direction: core.DirectionUp, Confidence: 1.0, Timestamp: time.Now()},
		},
	}
	out := s.Generate(sctx)
	if len(out) != 1 {
		t.Fatalf("expected one proposal, got %d", len(out))
	}
	if !out[0].SizePct.Equal(decimalFromFloat(0.03)) {
		t.Errorf("expected full confidence to size at max_size_pct, got %s", out[0].SizePct)
	}
	if out[0].Side != core.SideBuy {
		t.Errorf("expected a BUY proposal for an upward trigger, got %s", out[0].Side)
	}
}

func TestMerge_KeepsHigherConfidencePerSymbol(t *testing.T) {
	proposals := []core.TradeProposal{
		{Symbol: "BTC-USD", Confidence: 0.4, StrategyName: "price_move"},
		{Symbol: "BTC-USD", Confidence: 0.9, StrategyName: "momentum"},
		{Symbol: "ETH-USD", Confidence: 0.5, StrategyName: "price_move"},
	}
	merged := Merge(proposals)
	if len(merged) != 2 {
		t.Fatalf("expected 2 deduplicated proposals, got %d", len(merged))
	}
	if merged[0].Symbol != "BTC-USD" || merged[0].StrategyName != "momentum" {
		t.Errorf("expected BTC-USD's higher-confidence momentum proposal to survive and sort first, got %+v", merged[0])
	}
}

func TestManager_SkipsUnrecognizedStrategyName(t *testing.T) {
	cfg := config.StrategiesConfig{
		Enabled: []string{"price_move", "not_a_real_strategy"},
		Sizing:  map[string]config.StrategySizing{"price_move": {BaseSizePct: 0.01, MaxSizePct: 0.02}},
	}
	m := NewManager(cfg, noopLogger{})
	if len(m.strategies) != 1 {
		t.Errorf("expected the unrecognized strategy name to be skipped, got %d strategies", len(m.strategies))
	}
}
