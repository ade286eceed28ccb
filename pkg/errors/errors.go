// Package apperrors carries the sentinel error taxonomy shared across the
// trading cycle: each kind from the error-handling design maps to one
// sentinel so callers can classify failures with errors.Is instead of
// string matching.
package apperrors

import "errors"

// Transient exchange errors: timeouts, 5xx, rate limiting. Retried once
// inside the adapter before being surfaced.
var (
	ErrTimeout           = errors.New("exchange request timed out")
	ErrExchangeMaintenance = errors.New("exchange maintenance")
	ErrSystemOverload    = errors.New("system overload")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")
)

// Order rejections: 4xx responses with a business reason attached.
var (
	ErrOrderRejected         = errors.New("order rejected")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Product/account state errors.
var (
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrProductNotTradable   = errors.New("product not tradable")
)

// State machine and accounting violations. These never retry — they are
// logged and investigated, or fail the order outright.
var (
	ErrInvalidTransition  = errors.New("invalid order state transition")
	ErrAccountingMismatch = errors.New("fill notional mismatch")
	ErrDuplicateFill      = errors.New("duplicate fill trade_id")
)

// Startup-time invariant violations. These refuse to start rather than run
// degraded.
var (
	ErrConfigInvariant  = errors.New("config invariant violated")
	ErrClockSkew        = errors.New("clock skew exceeds threshold")
	ErrStaleCredentials = errors.New("credentials stale or rotated")
	ErrReadOnlyMismatch = errors.New("live mode requires a non-read-only exchange adapter")
)

// Risk engine rejection reasons. These aren't Go errors returned up a call
// stack — they're the `reason` strings attached to RiskResult rejections —
// but are declared here as constants so every caller draws from the same
// bounded vocabulary, keeping Prometheus label cardinality bounded.
const (
	ReasonKillSwitch         = "kill_switch_active"
	ReasonConnectivity       = "exchange_connectivity"
	ReasonProductStatus      = "product_status_restricted"
	ReasonDailyStop          = "daily_stop_loss"
	ReasonWeeklyStop         = "weekly_stop_loss"
	ReasonMaxDrawdown        = "max_drawdown_exceeded"
	ReasonGlobalSpacing      = "global_trade_spacing"
	ReasonHourlyCap          = "hourly_trade_cap"
	ReasonDailyCap           = "daily_trade_cap"
	ReasonStrategyBudget     = "strategy_budget_exceeded"
	ReasonCooldown           = "symbol_cooldown"
	ReasonSymbolPacing       = "symbol_pacing"
	ReasonOutlier            = "outlier_rejected"
	ReasonPendingBuyExists   = "pending_buy_exists"
	ReasonPyramidingDisabled = "pyramiding_disabled"
	ReasonPyramidingCap      = "pyramiding_cap_exceeded"
	ReasonExposureCap        = "exposure_cap_exceeded"
	ReasonSizeConstraint     = "size_constraint"
	ReasonMaxOpenPositions   = "max_open_positions"
)

// ErrorType normalizes a raw error into one of a small, bounded set of
// labels suitable for a Prometheus counter.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExchangeMaintenance), errors.Is(err, ErrSystemOverload):
		return "unavailable"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limit"
	case errors.Is(err, ErrOrderRejected), errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInvalidOrderParameter):
		return "rejected"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAccountingMismatch), errors.Is(err, ErrDuplicateFill):
		return "invariant"
	default:
		return "other"
	}
}
