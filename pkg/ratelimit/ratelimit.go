// Package ratelimit provides per-endpoint-class token buckets for the
// exchange adapter, so a burst against one endpoint class (orders) never
// starves another (market data).
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Class names an exchange endpoint category with its own budget.
type Class string

const (
	ClassMarketData Class = "market_data"
	ClassOrders     Class = "orders"
	ClassAccounts   Class = "accounts"
)

// Limiter multiplexes a rate.Limiter per Class.
type Limiter struct {
	mu       sync.Mutex
	limiters map[Class]*rate.Limiter
}

// New builds a Limiter from a per-class (requests-per-second, burst) table.
func New(budgets map[Class][2]int) *Limiter {
	l := &Limiter{limiters: make(map[Class]*rate.Limiter, len(budgets))}
	for class, budget := range budgets {
		l.limiters[class] = rate.NewLimiter(rate.Limit(budget[0]), budget[1])
	}
	return l
}

// Wait blocks until a token is available for class, or ctx is canceled.
// An unconfigured class is unlimited.
func (l *Limiter) Wait(ctx context.Context, class Class) error {
	l.mu.Lock()
	lim, ok := l.limiters[class]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}

// DefaultBudgets returns the per-class (requests-per-second, burst)
// budgets for Coinbase Advanced Trade: market data 10/20, orders 15/30,
// accounts 10/20.
func DefaultBudgets() map[Class][2]int {
	return map[Class][2]int{
		ClassMarketData: {10, 20},
		ClassOrders:     {15, 30},
		ClassAccounts:   {10, 20},
	}
}
