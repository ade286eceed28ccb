package risk

import (
	"sync"
	"time"

	"cbtrader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// CircuitState is the breaker's two-value state machine: closed (trading
// allowed) or open (trading blocked until cooldown elapses).
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

// CircuitConfig bounds the streak/drawdown thresholds that trip a breaker.
type CircuitConfig struct {
	MaxConsecutiveLosses int
	MaxDrawdownAmount    decimal.Decimal
	CooldownPeriod       time.Duration
}

// CircuitBreaker trips trading off after a configured loss streak or
// drawdown and auto-resets once its cooldown elapses. The orchestrator
// builds one portfolio-level breaker named "global"; no per-strategy
// breaker is built. Name labels the exported metric series.
type CircuitBreaker struct {
	mu                sync.RWMutex
	name              string
	state             CircuitState
	config            CircuitConfig
	consecutiveLosses int
	totalPnL          decimal.Decimal
	lastTripped       time.Time
	tripReason        string
}

// NewCircuitBreaker builds a named breaker. name labels the
// circuit_breaker_state metric series ("global", or a strategy name).
func NewCircuitBreaker(name string, config CircuitConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		state:  CircuitClosed,
		config: config,
	}
}

// RecordTrade folds a realized PnL into the streak/drawdown tally and
// checks the trip thresholds.
func (cb *CircuitBreaker) RecordTrade(pnl decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if pnl.IsNegative() {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}
	cb.totalPnL = cb.totalPnL.Add(pnl)

	cb.checkThresholds()
}

func (cb *CircuitBreaker) checkThresholds() {
	if cb.state == CircuitOpen {
		return
	}
	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		cb.trip("max_consecutive_losses")
		return
	}
	if !cb.config.MaxDrawdownAmount.IsZero() && cb.totalPnL.LessThan(cb.config.MaxDrawdownAmount.Neg()) {
		cb.trip("max_drawdown_amount")
		return
	}
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.state = CircuitOpen
	cb.tripReason = reason
	cb.lastTripped = time.Now()
	telemetry.Global().SetCircuitBreakerOpen(cb.name, true)
}

// Trip forces the breaker open for an externally observed reason — the
// kill switch or a manual operator action, not a PnL threshold.
func (cb *CircuitBreaker) Trip(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip(reason)
}

// IsTripped reports the current state, auto-resetting once the cooldown
// period has elapsed since the last trip.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.config.CooldownPeriod > 0 && time.Since(cb.lastTripped) > cb.config.CooldownPeriod {
			cb.state = CircuitClosed
			cb.consecutiveLosses = 0
			cb.totalPnL = decimal.Zero
			cb.tripReason = ""
			telemetry.Global().SetCircuitBreakerOpen(cb.name, false)
			return false
		}
		return true
	}
	return false
}

// Reset clears the breaker back to closed, discarding its streak and
// drawdown tally.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.consecutiveLosses = 0
	cb.totalPnL = decimal.Zero
	cb.tripReason = ""
	telemetry.Global().SetCircuitBreakerOpen(cb.name, false)
}

// Status is a point-in-time snapshot for audit records and alerts.
type Status struct {
	Name              string
	IsOpen            bool
	ConsecutiveLosses int
	TotalPnL          decimal.Decimal
	Reason            string
	OpenedAt          time.Time
}

// GetStatus snapshots the breaker without mutating its state.
func (cb *CircuitBreaker) GetStatus() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Status{
		Name:              cb.name,
		IsOpen:            cb.state == CircuitOpen,
		ConsecutiveLosses: cb.consecutiveLosses,
		TotalPnL:          cb.totalPnL,
		Reason:            cb.tripReason,
		OpenedAt:          cb.lastTripped,
	}
}
