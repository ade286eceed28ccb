package risk

import (
	"time"

	"cbtrader/internal/config"

	"github.com/shopspring/decimal"
)

// NewPolicy converts policy.yaml's float64/int fields into the engine's
// decimal.Decimal/time.Duration Policy, once at startup. Any of the three
// cooldown tiers left at zero falls back to the generic
// symbol_cooldown_seconds value, so older configs that only set the
// single generic field keep working unchanged.
func NewPolicy(cfg config.PolicyConfig) Policy {
	fallback := cfg.SymbolCooldownSec
	winSec, lossSec, stopOutSec := cfg.CooldownWinSec, cfg.CooldownLossSec, cfg.CooldownStopOutSec
	if winSec == 0 {
		winSec = fallback
	}
	if lossSec == 0 {
		lossSec = fallback
	}
	if stopOutSec == 0 {
		stopOutSec = fallback
	}

	clusterCaps := make(map[string]decimal.Decimal, len(cfg.ClusterExposureCaps))
	for name, pct := range cfg.ClusterExposureCaps {
		clusterCaps[name] = decimal.NewFromFloat(pct)
	}
	strategyCaps := make(map[string]decimal.Decimal, len(cfg.StrategyExposureCaps))
	for name, pct := range cfg.StrategyExposureCaps {
		strategyCaps[name] = decimal.NewFromFloat(pct)
	}

	return Policy{
		DailyStopLossPct:     decimal.NewFromFloat(cfg.DailyStopLossPct),
		WeeklyStopLossPct:    decimal.NewFromFloat(cfg.WeeklyStopLossPct),
		MaxDrawdownPct:       decimal.NewFromFloat(cfg.MaxDrawdownPct),
		GlobalSpacing:        time.Duration(cfg.GlobalSpacingSec) * time.Second,
		MaxTradesPerHour:     cfg.MaxTradesPerHour,
		MaxTradesPerDay:      cfg.MaxTradesPerDay,
		StrategyDailyBudget:  cfg.StrategyDailyBudget,
		CooldownWin:          time.Duration(winSec) * time.Second,
		CooldownLoss:         time.Duration(lossSec) * time.Second,
		CooldownStopOut:      time.Duration(stopOutSec) * time.Second,
		SymbolPacing:         time.Duration(cfg.SymbolPacingSec) * time.Second,
		PyramidingEnabled:    cfg.PyramidingEnabled,
		MaxAddsPerSymbol:     cfg.MaxAddsPerSymbol,
		MaxPyramidPositions:  cfg.MaxPyramidPositions,
		MaxExposurePct:       decimal.NewFromFloat(cfg.MaxExposurePct),
		MaxPerSymbolPct:      decimal.NewFromFloat(cfg.MaxPerSymbolPct),
		ClusterOf:            cfg.ClusterOf,
		ClusterExposureCaps:  clusterCaps,
		StrategyExposureCaps: strategyCaps,
		MaxOpenPositions:     cfg.MaxOpenPositions,
		MinNotional:          decimal.NewFromFloat(cfg.MinNotionalUSD),
		TakerFeePct:          decimal.NewFromFloat(cfg.TakerFeePct),
	}
}
