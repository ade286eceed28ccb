package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names for the required series.
const (
	MetricCyclesTotal       = "cbtrader_cycles_total"
	MetricStageDuration     = "cbtrader_stage_duration_ms"
	MetricCycleDuration     = "cbtrader_cycle_duration_ms"
	MetricExposureAtRisk    = "cbtrader_exposure_at_risk_pct"
	MetricExposurePending   = "cbtrader_exposure_pending_pct"
	MetricPositionsOpen     = "cbtrader_positions_open"
	MetricOrdersOpen        = "cbtrader_orders_open"
	MetricFillRatio         = "cbtrader_fill_ratio"
	MetricFillsBySide       = "cbtrader_fills_total"
	MetricOrderRejections   = "cbtrader_order_rejections_total"
	MetricCircuitBreaker    = "cbtrader_circuit_breaker_state"
	MetricAPIErrors         = "cbtrader_api_errors_total"
	MetricAPIConsecutive    = "cbtrader_api_consecutive_errors"
	MetricNoTradeReason     = "cbtrader_no_trade_reason_total"
)

// Holder holds every initialized instrument plus the backing state for
// observable gauges, mirroring the callback-per-gauge pattern used
// throughout the rest of the otel SDK.
type Holder struct {
	CyclesTotal     metric.Int64Counter
	StageDuration   metric.Float64Histogram
	CycleDuration   metric.Float64Histogram
	OrdersOpen      metric.Int64ObservableGauge
	PositionsOpen   metric.Int64ObservableGauge
	ExposureAtRisk  metric.Float64ObservableGauge
	FillRatio       metric.Float64ObservableGauge
	FillsTotal      metric.Int64Counter
	OrderRejections metric.Int64Counter
	CircuitBreaker  metric.Int64ObservableGauge
	APIErrors       metric.Int64Counter
	APIConsecutive  metric.Int64ObservableGauge
	NoTradeReason   metric.Int64Counter

	mu              sync.RWMutex
	ordersOpenMap   map[string]int64
	positionsMap    map[string]int64
	exposureMap     map[string]float64
	fillRatioMap    map[string]float64
	breakerStateMap map[string]int64
	apiConsecMap    map[string]int64
}

var (
	global   *Holder
	initOnce sync.Once
)

// Global returns the process-wide metrics holder.
func Global() *Holder {
	initOnce.Do(func() {
		global = &Holder{
			ordersOpenMap:   make(map[string]int64),
			positionsMap:    make(map[string]int64),
			exposureMap:     make(map[string]float64),
			fillRatioMap:    make(map[string]float64),
			breakerStateMap: make(map[string]int64),
			apiConsecMap:    make(map[string]int64),
		}
	})
	return global
}

// Init creates every instrument against the supplied meter. Call once
// during bootstrap, after the meter provider is wired.
func (h *Holder) Init(meter metric.Meter) error {
	var err error

	if h.CyclesTotal, err = meter.Int64Counter(MetricCyclesTotal, metric.WithDescription("Cycles run, labeled by outcome")); err != nil {
		return err
	}
	if h.StageDuration, err = meter.Float64Histogram(MetricStageDuration, metric.WithDescription("Per-stage latency"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if h.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration, metric.WithDescription("Total cycle latency"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if h.FillsTotal, err = meter.Int64Counter(MetricFillsBySide, metric.WithDescription("Fills recorded, labeled by side")); err != nil {
		return err
	}
	if h.OrderRejections, err = meter.Int64Counter(MetricOrderRejections, metric.WithDescription("Order rejections, labeled by reason")); err != nil {
		return err
	}
	if h.APIErrors, err = meter.Int64Counter(MetricAPIErrors, metric.WithDescription("Exchange API errors, labeled by normalized error type")); err != nil {
		return err
	}
	if h.NoTradeReason, err = meter.Int64Counter(MetricNoTradeReason, metric.WithDescription("Cycles ending NO_TRADE, labeled by reason")); err != nil {
		return err
	}

	if h.OrdersOpen, err = meter.Int64ObservableGauge(MetricOrdersOpen, metric.WithDescription("Open orders per symbol"),
		metric.WithInt64Callback(h.observeInt64(&h.ordersOpenMap))); err != nil {
		return err
	}
	if h.PositionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Open positions per symbol"),
		metric.WithInt64Callback(h.observeInt64(&h.positionsMap))); err != nil {
		return err
	}
	if h.ExposureAtRisk, err = meter.Float64ObservableGauge(MetricExposureAtRisk, metric.WithDescription("Exposure at risk as a percent of NAV"),
		metric.WithFloat64Callback(h.observeFloat64(&h.exposureMap))); err != nil {
		return err
	}
	if h.FillRatio, err = meter.Float64ObservableGauge(MetricFillRatio, metric.WithDescription("Filled/placed ratio per symbol"),
		metric.WithFloat64Callback(h.observeFloat64(&h.fillRatioMap))); err != nil {
		return err
	}
	if h.CircuitBreaker, err = meter.Int64ObservableGauge(MetricCircuitBreaker, metric.WithDescription("Circuit breaker state (1=open, 0=closed), labeled by breaker name"),
		metric.WithInt64Callback(h.observeInt64(&h.breakerStateMap))); err != nil {
		return err
	}
	if h.APIConsecutive, err = meter.Int64ObservableGauge(MetricAPIConsecutive, metric.WithDescription("Consecutive exchange API error count"),
		metric.WithInt64Callback(h.observeInt64(&h.apiConsecMap))); err != nil {
		return err
	}

	return nil
}

func (h *Holder) observeInt64(m *map[string]int64) metric.Int64Callback {
	return func(ctx context.Context, obs metric.Int64Observer) error {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for label, v := range *m {
			obs.Observe(v, metric.WithAttributes(attribute.String("label", label)))
		}
		return nil
	}
}

func (h *Holder) observeFloat64(m *map[string]float64) metric.Float64Callback {
	return func(ctx context.Context, obs metric.Float64Observer) error {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for label, v := range *m {
			obs.Observe(v, metric.WithAttributes(attribute.String("label", label)))
		}
		return nil
	}
}

// SetOrdersOpen records the open-order count for a symbol.
func (h *Holder) SetOrdersOpen(symbol string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ordersOpenMap[symbol] = int64(n)
}

// SetPositionsOpen records the open-position count for a symbol.
func (h *Holder) SetPositionsOpen(symbol string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positionsMap[symbol] = int64(n)
}

// SetExposureAtRisk records total_exposure_pct (labeled "total") or a
// per-symbol breakdown.
func (h *Holder) SetExposureAtRisk(label string, pct float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exposureMap[label] = pct
}

// SetFillRatio records the filled/placed ratio for a symbol.
func (h *Holder) SetFillRatio(symbol string, ratio float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fillRatioMap[symbol] = ratio
}

// SetCircuitBreakerOpen records a named breaker's open/closed state.
func (h *Holder) SetCircuitBreakerOpen(breaker string, open bool) {
	v := int64(0)
	if open {
		v = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakerStateMap[breaker] = v
}

// SetAPIConsecutiveErrors records the connectivity check's running tally.
func (h *Holder) SetAPIConsecutiveErrors(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.apiConsecMap["exchange"] = int64(n)
}
