package execution

import (
	"context"
	"time"

	"cbtrader/internal/core"
)

// CancelStaleOrders finds every tracked non-terminal order older than
// maxAge (measured from the state machine's own CreatedAt, never by
// parsing exchange timestamps) and batch-cancels them. Orders transition
// to CANCELED even if the cancel API call errors — the order may already
// be gone, and a stuck order is worse than a redundant cancel.
func (e *Engine) CancelStaleOrders(ctx context.Context, maxAge time.Duration) []*core.Order {
	now := e.clock.Now()
	var stale []*core.Order
	var exchangeIDs []string

	for _, o := range e.states.Open() {
		if now.Sub(o.CreatedAt) <= maxAge {
			continue
		}
		stale = append(stale, o)
		if o.ExchangeOrderID != "" {
			exchangeIDs = append(exchangeIDs, o.ExchangeOrderID)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	if len(exchangeIDs) > 0 {
		if err := e.exchange.CancelOrders(ctx, exchangeIDs); err != nil {
			e.logger.Warn("batch cancel of stale orders failed, falling back to individual cancels", "count", len(exchangeIDs), "error", err.Error())
			for _, id := range exchangeIDs {
				if err := e.exchange.CancelOrder(ctx, id); err != nil {
					e.logger.Warn("individual cancel of stale order failed", "exchange_order_id", id, "error", err.Error())
				}
			}
		}
	}

	for _, o := range stale {
		e.ghosts.Add(o.ExchangeOrderID)
		e.ghosts.Add(o.ClientOrderID)
		_ = e.states.Transition(o.ClientOrderID, core.OrderStatusCanceled)
	}
	return stale
}
