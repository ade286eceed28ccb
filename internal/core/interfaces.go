package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IExchange is the contract every subsystem programs against — the
// boundary treated as an external collaborator. A real implementation
// talks to Coinbase Advanced Trade; DRY_RUN/PAPER modes use a simulated
// adapter satisfying the same interface.
type IExchange interface {
	Name() string
	ReadOnly() bool

	ListProducts(ctx context.Context) ([]Product, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetOrderBook(ctx context.Context, symbol string) (OrderBook, error)
	GetOHLCV(ctx context.Context, symbol, granularity string, lookback time.Duration) ([]Candle, error)
	GetAccounts(ctx context.Context) ([]AccountBalance, error)

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResponse, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	CancelOrders(ctx context.Context, exchangeOrderIDs []string) error
	ListOpenOrders(ctx context.Context) ([]Order, error)
	ListFills(ctx context.Context, exchangeOrderID string, lookback time.Duration, limit int) ([]Fill, error)
}

// Clock abstracts wall-clock time so components can be tested with
// deterministic timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// StateStore is the durable key-value contract: atomic writes,
// background flush, forward-compatible load.
type StateStore interface {
	Load(ctx context.Context) (*PersistentState, error)
	Save(ctx context.Context, state *PersistentState) error
	CloseOrder(ctx context.Context, clientOrderID string, status OrderStatus, metadata map[string]string) error
	Close() error
}

// Signal is one entry in the signal registry: scan a candle series for a
// symbol under the current regime and optionally emit a trigger.
type Signal interface {
	Name() string
	AllowedRegimes() []Regime
	Scan(asset Asset, candles []Candle, regime Regime) (*TriggerSignal, bool)
}

// StrategyContext is the immutable snapshot a Strategy reasons over. Per
// design note "Strategies are pure", Generate must not perform I/O.
type StrategyContext struct {
	Universe   *UniverseSnapshot
	Triggers   []TriggerSignal
	Regime     Regime
	Timestamp  time.Time
	Portfolio  *PortfolioState
	Persistent *PersistentState
}

// Strategy turns a StrategyContext into zero or more trade proposals.
type Strategy interface {
	Name() string
	Generate(sctx StrategyContext) []TradeProposal
}

// AlertChannel delivers one alert payload to an external sink (Slack,
// Telegram, a generic webhook).
type AlertChannel interface {
	Name() string
	Send(ctx context.Context, severity AlertSeverity, title, message string, fields map[string]string) error
}

// ILogger is the structured-logging interface every component depends on.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// ICircuitBreaker trips trading off after a configured loss/drawdown
// streak and auto-resets after its cooldown period elapses.
type ICircuitBreaker interface {
	RecordTrade(pnl decimal.Decimal)
	IsTripped() bool
	Reset()
	Trip(reason string)
}
