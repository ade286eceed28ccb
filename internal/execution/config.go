package execution

import (
	"time"

	"cbtrader/internal/config"

	"github.com/shopspring/decimal"
)

// Config is the execution engine's tuning, converted once from the
// float64-based YAML config into decimal.Decimal/time.Duration so every
// downstream computation stays in exact decimal math.
type Config struct {
	MakerTTL               time.Duration
	MaxSlippageBps         decimal.Decimal
	PostTradeReconcileWait time.Duration
	GhostTTL               time.Duration
	PartialFillTolerance   decimal.Decimal
	FillMismatchAbsUSD     decimal.Decimal
	FillMismatchPct        decimal.Decimal
	TrimSliceNotionalUSD   decimal.Decimal
	TrimResidualThreshold  decimal.Decimal
	TrimMaxFailures        int
	MinLiquidationValueUSD decimal.Decimal
}

// NewConfig converts policy.yaml's execution block (plus the adjacent
// partial_fill_tolerance_pct) into engine-ready values.
func NewConfig(policy config.PolicyConfig) Config {
	e := policy.Execution
	return Config{
		MakerTTL:               time.Duration(e.MakerTTLSeconds) * time.Second,
		MaxSlippageBps:         decimal.NewFromFloat(e.MaxSlippageBps),
		PostTradeReconcileWait: time.Duration(e.PostTradeReconcileWaitMs) * time.Millisecond,
		GhostTTL:               time.Duration(e.GhostOrderTTLSeconds) * time.Second,
		PartialFillTolerance:   decimal.NewFromFloat(policy.PartialFillTolerancePct),
		FillMismatchAbsUSD:     decimal.NewFromFloat(e.FillNotionalMismatchAbsUSD),
		FillMismatchPct:        decimal.NewFromFloat(e.FillNotionalMismatchPct),
		TrimSliceNotionalUSD:   decimal.NewFromFloat(e.TrimSliceNotionalUSD),
		TrimResidualThreshold:  decimal.NewFromFloat(e.TrimResidualThresholdUSD),
		TrimMaxFailures:        e.TrimMaxConsecutiveFailures,
		MinLiquidationValueUSD: decimal.NewFromFloat(e.MinLiquidationValueUSD),
	}
}
