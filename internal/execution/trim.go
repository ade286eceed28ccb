package execution

import (
	"context"
	"sort"

	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// TWAPSlices splits qtyBase into constant-notional slices priced at
// price, each worth sliceNotionalUSD, folding a too-small final remainder
// into the last slice instead of leaving a dust order behind.
func TWAPSlices(qtyBase, price, sliceNotionalUSD, residualThresholdUSD decimal.Decimal) []decimal.Decimal {
	if !qtyBase.IsPositive() || !price.IsPositive() || !sliceNotionalUSD.IsPositive() {
		return nil
	}
	sliceQty := sliceNotionalUSD.Div(price)
	if sliceQty.GreaterThanOrEqual(qtyBase) {
		return []decimal.Decimal{qtyBase}
	}

	var slices []decimal.Decimal
	remaining := qtyBase
	for remaining.IsPositive() {
		if remaining.LessThanOrEqual(sliceQty) {
			slices = append(slices, remaining)
			break
		}
		afterSlice := remaining.Sub(sliceQty)
		if afterSlice.Mul(price).LessThan(residualThresholdUSD) {
			slices = append(slices, remaining)
			break
		}
		slices = append(slices, sliceQty)
		remaining = afterSlice
	}
	return slices
}

// TrimResult is the outcome of liquidating one symbol's TWAP slices.
type TrimResult struct {
	Symbol string
	Slices int
	Filled decimal.Decimal
	Err    error
}

// SelectTrimCandidates orders dust-excluded positions by trim priority:
// largest unrealized loss first, oldest entry time breaking ties — the
// positions hurting the portfolio most get exited before healthier ones.
func SelectTrimCandidates(positions map[string]*core.Position, minDust decimal.Decimal) []*core.Position {
	candidates := make([]*core.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsDust(minDust) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i], candidates[j]
		if !pi.UnrealizedPnLPct.Equal(pj.UnrealizedPnLPct) {
			return pi.UnrealizedPnLPct.LessThan(pj.UnrealizedPnLPct)
		}
		return pi.EntryTime.Before(pj.EntryTime)
	})
	return candidates
}

// Trimmer liquidates positions via TWAP when total_exposure_pct breaches
// its cap. It tracks consecutive cross-call failures so the caller can
// escalate after TrimMaxFailures in a row.
type Trimmer struct {
	engine              *Engine
	cfg                 Config
	logger              core.ILogger
	consecutiveFailures int
}

// NewTrimmer builds a trimmer over engine.
func NewTrimmer(engine *Engine, cfg Config, logger core.ILogger) *Trimmer {
	return &Trimmer{engine: engine, cfg: cfg, logger: logger.WithField("component", "trimmer")}
}

// Trim liquidates candidates, in order, until excessUSD of notional has
// been sold down or candidates run out.
func (t *Trimmer) Trim(ctx context.Context, excessUSD decimal.Decimal, candidates []*core.Position, quotes map[string]core.Quote, products map[string]core.Product) []TrimResult {
	var results []TrimResult
	remaining := excessUSD

	for _, pos := range candidates {
		if !remaining.IsPositive() {
			break
		}
		quote, qok := quotes[pos.Symbol]
		product, pok := products[pos.Symbol]
		if !qok || !pok || !quote.Mid.IsPositive() {
			continue
		}

		targetNotional := decimal.Min(remaining, pos.UsdValue.Abs())
		targetQty := targetNotional.Div(quote.Mid)
		if targetQty.GreaterThan(pos.QuantityBase) {
			targetQty = pos.QuantityBase
		}

		slices := TWAPSlices(targetQty, quote.Mid, t.cfg.TrimSliceNotionalUSD, t.cfg.TrimResidualThreshold)
		filled := decimal.Zero
		var lastErr error
		for _, slice := range slices {
			order, err := t.engine.Place(ctx, pos.Symbol, core.SideSell, slice, quote, product, "auto_trim")
			if err != nil {
				lastErr = err
				continue
			}
			filled = filled.Add(order.FilledSize)
		}

		if lastErr != nil && filled.IsZero() {
			t.consecutiveFailures++
		} else {
			t.consecutiveFailures = 0
		}

		results = append(results, TrimResult{Symbol: pos.Symbol, Slices: len(slices), Filled: filled, Err: lastErr})
		remaining = remaining.Sub(filled.Mul(quote.Mid))
	}
	return results
}

// ConsecutiveFailures reports how many trim attempts in a row produced no
// fill at all.
func (t *Trimmer) ConsecutiveFailures() int { return t.consecutiveFailures }

// ShouldEscalate reports whether the consecutive-failure streak has
// reached the configured CRITICAL-alert threshold.
func (t *Trimmer) ShouldEscalate() bool { return t.consecutiveFailures >= t.cfg.TrimMaxFailures }
