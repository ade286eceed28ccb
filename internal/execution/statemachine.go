// Package execution implements the order state machine and maker-first/
// taker-fallback execution engine: order placement, fill reconciliation,
// the ghost-order TTL filter, stale-order cleanup, and the TWAP-based
// trim/purge liquidation paths.
package execution

import (
	"fmt"
	"sync"

	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// validTransitions is the order status graph. Terminal statuses
// have no outgoing edge here — OrderStateMachine.Transition treats a
// repeat of the same terminal status as a no-op rather than consulting
// this table.
var validTransitions = map[core.OrderStatus][]core.OrderStatus{
	core.OrderStatusNew:         {core.OrderStatusSubmitted},
	core.OrderStatusSubmitted:   {core.OrderStatusOpen, core.OrderStatusRejected},
	core.OrderStatusOpen:        {core.OrderStatusPartialFill, core.OrderStatusFilled, core.OrderStatusCanceled, core.OrderStatusExpired},
	core.OrderStatusPartialFill: {core.OrderStatusPartialFill, core.OrderStatusFilled, core.OrderStatusCanceled, core.OrderStatusExpired},
}

// OrderStateMachine tracks every order the execution engine has placed
// this run, keyed by client_order_id, and enforces the status graph.
type OrderStateMachine struct {
	mu     sync.RWMutex
	orders map[string]*core.Order
	clock  core.Clock
}

// NewOrderStateMachine returns an empty machine. clock defaults to
// core.SystemClock{} when nil, for deterministic tests.
func NewOrderStateMachine(clock core.Clock) *OrderStateMachine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &OrderStateMachine{orders: make(map[string]*core.Order), clock: clock}
}

// Track registers a newly created order. Re-tracking an already-known
// client_order_id replaces the tracked pointer, matching the idempotent
// "repeated attempts reuse the same client_order_id" retry contract.
func (m *OrderStateMachine) Track(o *core.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ClientOrderID] = o
}

// Get returns the tracked order for a client_order_id, if any.
func (m *OrderStateMachine) Get(clientOrderID string) (*core.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[clientOrderID]
	return o, ok
}

// Open returns every tracked order whose status is not terminal.
func (m *OrderStateMachine) Open() []*core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Order, 0)
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// Transition moves an order to newStatus, validating the edge against
// validTransitions. A transition to an order's current terminal status is
// a no-op (idempotent); any other transition attempted from a terminal
// status is rejected.
func (m *OrderStateMachine) Transition(clientOrderID string, newStatus core.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[clientOrderID]
	if !ok {
		return fmt.Errorf("execution: unknown order %s", clientOrderID)
	}

	if o.Status.IsTerminal() {
		if o.Status == newStatus {
			return nil
		}
		return fmt.Errorf("execution: order %s is terminal (%s), cannot transition to %s", clientOrderID, o.Status, newStatus)
	}

	for _, allowed := range validTransitions[o.Status] {
		if allowed == newStatus {
			o.Status = newStatus
			o.LastUpdatedAt = m.clock.Now()
			return nil
		}
	}
	return fmt.Errorf("execution: invalid transition for order %s: %s -> %s", clientOrderID, o.Status, newStatus)
}

// RecordFill applies one fill to an order, deduplicating by trade_id so a
// repeated fill event (exchange at-least-once delivery) never double-counts.
// It advances the order to PARTIAL_FILL or FILLED per partialFillTolerance,
// matching Order.IsFilled's threshold.
func (m *OrderStateMachine) RecordFill(clientOrderID string, fill core.Fill, partialFillTolerance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[clientOrderID]
	if !ok {
		return fmt.Errorf("execution: unknown order %s", clientOrderID)
	}
	if o.HasFillTradeID(fill.TradeID) {
		return nil
	}

	o.Fills = append(o.Fills, fill)
	o.FilledSize = o.FilledSize.Add(fill.SizeBase)
	o.FilledValue = o.FilledValue.Add(fill.SizeQuote)
	o.Fees = o.Fees.Add(fill.Fee)
	o.LastUpdatedAt = m.clock.Now()

	if o.Status.IsTerminal() {
		return nil
	}
	if o.IsFilled(partialFillTolerance) {
		o.Status = core.OrderStatusFilled
	} else if o.FilledSize.IsPositive() {
		o.Status = core.OrderStatusPartialFill
	}
	return nil
}
