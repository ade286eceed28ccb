package strategy

import (
	"sort"

	"cbtrader/internal/config"
	"cbtrader/internal/core"
)

// Manager holds the enabled strategies from strategies.yaml and merges
// their proposals into one deduplicated, priority-ordered batch for the
// risk engine.
type Manager struct {
	strategies []core.Strategy
}

// NewManager builds one Strategy per name in cfg.Enabled, skipping any
// name the registry doesn't recognize (config validation already requires
// a sizing entry per enabled name; an unrecognized name is a typo the
// operator should fix, not a reason to crash startup).
func NewManager(cfg config.StrategiesConfig, logger core.ILogger) *Manager {
	m := &Manager{}
	for _, name := range cfg.Enabled {
		sizing := cfg.Sizing[name]
		switch name {
		case "price_move":
			m.strategies = append(m.strategies, NewPriceMoveStrategy(sizing))
		case "momentum":
			m.strategies = append(m.strategies, NewMomentumStrategy(sizing))
		case "mean_reversion":
			m.strategies = append(m.strategies, NewMeanReversionStrategy(sizing))
		default:
			logger.Warn("unrecognized strategy name in strategies.yaml, skipping", "name", name)
		}
	}
	return m
}

// Generate runs every enabled strategy against the shared context and
// merges the result.
func (m *Manager) Generate(sctx core.StrategyContext) []core.TradeProposal {
	var all []core.TradeProposal
	for _, s := range m.strategies {
		all = append(all, s.Generate(sctx)...)
	}
	return Merge(all)
}

// Merge deduplicates proposals by symbol, keeping the higher-confidence
// one when two strategies propose the same symbol, then orders the
// result by descending confidence (the risk engine's capacity-constrained
// resizing is greedy by this order).
func Merge(proposals []core.TradeProposal) []core.TradeProposal {
	best := make(map[string]core.TradeProposal, len(proposals))
	for _, p := range proposals {
		existing, ok := best[p.Symbol]
		if !ok || p.Confidence > existing.Confidence {
			best[p.Symbol] = p
		}
	}

	out := make([]core.TradeProposal, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
