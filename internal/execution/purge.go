package execution

import (
	"context"
	"time"

	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// Purger liquidates holdings of ineligible or red-flag-banned assets via
// TWAP, tracking per-symbol exponential backoff on failure (3→1h, 4→2h,
// 5+→4h per core.PurgeFailure.BackoffUntil) and clearing it on success.
type Purger struct {
	engine *Engine
	cfg    Config
	logger core.ILogger
}

// NewPurger builds a purger over engine.
func NewPurger(engine *Engine, cfg Config, logger core.ILogger) *Purger {
	return &Purger{engine: engine, cfg: cfg, logger: logger.WithField("component", "purger")}
}

// ShouldSkip reports whether symbol is still within its backoff window
// from a prior purge failure.
func ShouldSkip(failures map[string]core.PurgeFailure, symbol string, now time.Time) bool {
	f, ok := failures[symbol]
	if !ok {
		return false
	}
	until := f.BackoffUntil()
	return !until.IsZero() && now.Before(until)
}

// Purge liquidates every symbol in targets above MinLiquidationValueUSD,
// mutating failures in place: a symbol where a slice order returned an
// error and less than the full position was sold has its failure count
// incremented (and backoff extended); any other outcome, including a
// short fill with no error, clears its failure entry.
func (p *Purger) Purge(ctx context.Context, targets []string, positions map[string]*core.Position, quotes map[string]core.Quote, products map[string]core.Product, failures map[string]core.PurgeFailure, now time.Time) []TrimResult {
	var results []TrimResult

	for _, symbol := range targets {
		pos, ok := positions[symbol]
		if !ok || pos.UsdValue.Abs().LessThan(p.cfg.MinLiquidationValueUSD) {
			continue
		}
		if ShouldSkip(failures, symbol, now) {
			continue
		}
		quote, qok := quotes[symbol]
		product, pok := products[symbol]
		if !qok || !pok || !quote.Mid.IsPositive() {
			continue
		}

		slices := TWAPSlices(pos.QuantityBase, quote.Mid, p.cfg.TrimSliceNotionalUSD, p.cfg.TrimResidualThreshold)
		filled := decimal.Zero
		var lastErr error
		for _, slice := range slices {
			order, err := p.engine.Place(ctx, symbol, core.SideSell, slice, quote, product, "purge")
			if err != nil {
				lastErr = err
				continue
			}
			filled = filled.Add(order.FilledSize)
		}

		if lastErr != nil && filled.LessThan(pos.QuantityBase) {
			prior := failures[symbol]
			failures[symbol] = core.PurgeFailure{
				Count:        prior.Count + 1,
				LastFailedAt: now,
				LastError:    lastErr.Error(),
			}
		} else {
			delete(failures, symbol)
		}

		results = append(results, TrimResult{Symbol: symbol, Slices: len(slices), Filled: filled, Err: lastErr})
	}
	return results
}
