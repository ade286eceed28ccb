// Package core defines the domain types and interfaces shared by every
// subsystem of the trading cycle: the data model, plus the small set of
// contracts (IExchange, StateStore, Signal, Strategy) that let the
// orchestrator wire independently-testable components together without
// import cycles.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Regime labels the market state used to gate signal thresholds and
// universe eligibility.
type Regime string

const (
	RegimeBull  Regime = "bull"
	RegimeBear  Regime = "bear"
	RegimeChop  Regime = "chop"
	RegimeCrash Regime = "crash"
)

// Tier is a liquidity class: 1 (BTC/ETH-grade), 2 (mid-cap), 3 (long-tail).
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// Asset is one tradable product as seen by the universe manager.
type Asset struct {
	Symbol           string
	Tier             Tier
	Volume24h        decimal.Decimal
	SpreadBps        decimal.Decimal
	TopOfBookDepth   decimal.Decimal
	Eligible         bool
	IneligibleReason string
	MinAllocationPct decimal.Decimal
	MaxAllocationPct decimal.Decimal
	ForceEligible    bool
}

// UniverseSnapshot is the immutable output of one universe-build stage.
// Invariant: a symbol appears in at most one tier list, and the excluded
// set never intersects any tier's eligible list.
type UniverseSnapshot struct {
	Timestamp      time.Time
	Regime         Regime
	EligibleByTier map[Tier][]string
	Excluded       map[string]string // symbol -> reason
}

// AllEligible flattens the per-tier eligible lists.
func (u *UniverseSnapshot) AllEligible() []string {
	var out []string
	for _, tier := range []Tier{Tier1, Tier2, Tier3} {
		out = append(out, u.EligibleByTier[tier]...)
	}
	return out
}

// IsEligible reports whether symbol appears in any tier's eligible list.
func (u *UniverseSnapshot) IsEligible(symbol string) bool {
	for _, tier := range []Tier{Tier1, Tier2, Tier3} {
		for _, s := range u.EligibleByTier[tier] {
			if s == symbol {
				return true
			}
		}
	}
	return false
}

// TriggerType enumerates the supported signal families.
type TriggerType string

const (
	TriggerPriceMove     TriggerType = "price_move"
	TriggerVolumeSpike   TriggerType = "volume_spike"
	TriggerMomentum      TriggerType = "momentum"
	TriggerMeanReversion TriggerType = "mean_reversion"
)

// Direction is the side a trigger leans toward.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// TriggerSignal is immutable once constructed by a Signal implementation.
type TriggerSignal struct {
	Symbol     string
	Type       TriggerType
	Strength   float64 // [0,1]
	Confidence float64 // [0,1]
	Direction  Direction
	Volatility float64
	Timestamp  time.Time
}

// Side is the order/proposal direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeProposal is a candidate trade emitted by a Strategy, before risk
// checks resize or reject it. Invariant: 0 <= SizePct <= policy max,
// enforced by the risk engine's fee-aware sizing / exposure cap checks,
// not by this type.
type TradeProposal struct {
	Symbol        string
	Side          Side
	SizePct       decimal.Decimal // fraction of NAV, e.g. 0.02 == 2%
	Reason        string
	Confidence    float64
	StopLossPct   *decimal.Decimal
	TakeProfitPct *decimal.Decimal
	StrategyName  string
	Metadata      map[string]string
}

// OrderType mirrors the maker-first/taker-fallback execution modes.
type OrderType string

const (
	OrderTypePostOnlyLimit OrderType = "post_only_limit"
	OrderTypeIOCLimit      OrderType = "IOC_limit"
	OrderTypeMarket        OrderType = "market"
)

// OrderStatus is a node in the order state machine graph.
type OrderStatus string

const (
	OrderStatusNew         OrderStatus = "NEW"
	OrderStatusSubmitted   OrderStatus = "SUBMITTED"
	OrderStatusOpen        OrderStatus = "OPEN"
	OrderStatusPartialFill OrderStatus = "PARTIAL_FILL"
	OrderStatusFilled      OrderStatus = "FILLED"
	OrderStatusCanceled    OrderStatus = "CANCELED"
	OrderStatusRejected    OrderStatus = "REJECTED"
	OrderStatusExpired     OrderStatus = "EXPIRED"
)

// IsTerminal reports whether status can never transition again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// LiquidityIndicator identifies whether a fill removed or added liquidity.
type LiquidityIndicator string

const (
	LiquidityMaker LiquidityIndicator = "MAKER"
	LiquidityTaker LiquidityIndicator = "TAKER"
)

// Fill is one execution record against an Order, deduplicated by TradeID.
type Fill struct {
	TradeID   string
	Price     decimal.Decimal
	SizeBase  decimal.Decimal
	SizeQuote decimal.Decimal
	Fee       decimal.Decimal
	Liquidity LiquidityIndicator
	Timestamp time.Time
}

// Order tracks one exchange order end to end. ClientOrderID is assigned at
// creation and is stable across retries; ExchangeOrderID is empty until ack.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	OrderType       OrderType
	Price           decimal.Decimal
	SizeBase        decimal.Decimal
	SizeQuote       decimal.Decimal
	CreatedAt       time.Time
	LastUpdatedAt   time.Time
	Status          OrderStatus
	FilledSize      decimal.Decimal
	FilledValue     decimal.Decimal
	Fees            decimal.Decimal
	Fills           []Fill
	StrategyName    string
	RejectReason    string
	ExitReason      string // e.g. "stop_loss"; set on SELL orders that close a position via a strategy's stop, empty otherwise
}

// IsFilled reports whether filled size has crossed the partial-fill
// tolerance threshold (default 5%).
func (o *Order) IsFilled(partialFillTolerance decimal.Decimal) bool {
	threshold := o.SizeBase.Mul(decimal.NewFromInt(1).Sub(partialFillTolerance))
	return o.FilledSize.GreaterThanOrEqual(threshold)
}

// HasFillTradeID reports whether a fill with this trade id was already
// recorded, for idempotent fill ingestion.
func (o *Order) HasFillTradeID(tradeID string) bool {
	for _, f := range o.Fills {
		if f.TradeID == tradeID {
			return true
		}
	}
	return false
}

// Position is a held balance in one symbol. Dust positions (|UsdValue| <
// min_dust) are excluded from exposure accounting by callers, not by this
// type.
type Position struct {
	Symbol           string
	QuantityBase     decimal.Decimal
	AvgEntryPrice    decimal.Decimal
	UsdValue         decimal.Decimal
	UnrealizedPnLPct decimal.Decimal
	EntryTime        time.Time
	AddCount         int // number of buy-adds stacked into this position since it opened
}

// IsDust reports whether the position's absolute USD value falls under the
// configured dust threshold and should be excluded from exposure math.
func (p *Position) IsDust(minDust decimal.Decimal) bool {
	return p.UsdValue.Abs().LessThan(minDust)
}

// PortfolioState is the live, in-memory view of the account built each
// cycle from exchange accounts + the state store.
type PortfolioState struct {
	NAV                decimal.Decimal
	Positions          map[string]*Position
	PendingOrders      map[string]*Order // keyed by ClientOrderID
	TotalExposurePct   decimal.Decimal
	DailyPnLPct        decimal.Decimal
	WeeklyPnLPct       decimal.Decimal
	HighWaterMark      decimal.Decimal
	CycleCount         int64
	LastTradeTS        time.Time
	PerSymbolLastTrade map[string]time.Time
}

// Cooldown records why and until when a symbol may not be traded.
type Cooldown struct {
	Until  time.Time
	Reason string
}

// RedFlagBan auto-expires on read once Expires has passed.
type RedFlagBan struct {
	Reason  string
	Expires time.Time
}

// Expired reports whether the ban's TTL has elapsed as of now.
func (b RedFlagBan) Expired(now time.Time) bool {
	return now.After(b.Expires)
}

// PurgeFailure tracks the exponential-backoff state for one symbol's
// liquidation attempts (3 -> 1h, 4 -> 2h, 5+ -> 4h cap).
type PurgeFailure struct {
	Count        int
	LastFailedAt time.Time
	LastError    string
}

// BackoffUntil computes the skip-until timestamp implied by Count.
func (p PurgeFailure) BackoffUntil() time.Time {
	var d time.Duration
	switch {
	case p.Count >= 5:
		d = 4 * time.Hour
	case p.Count == 4:
		d = 2 * time.Hour
	case p.Count == 3:
		d = 1 * time.Hour
	default:
		return time.Time{}
	}
	return p.LastFailedAt.Add(d)
}

// PersistentState is the single durable document owned by the state
// store. It must survive a crash and be loaded atomically at startup.
type PersistentState struct {
	Positions          map[string]*Position
	PendingOrders      map[string]*Order
	Cooldowns          map[string]Cooldown
	RedFlagBans        map[string]RedFlagBan
	PurgeFailures      map[string]PurgeFailure
	PyramidAddsToday   map[string]int // symbol -> buy-adds today, reset daily alongside DailyTradeCount
	HighWaterMark      decimal.Decimal
	ZeroTriggerCycles  int
	PerSymbolLastTrade map[string]time.Time
	LastTradeTS        time.Time
	AutoTuneApplied    bool
	KillSwitchActive   bool
	HourlyTradeCount   int
	HourlyCountResetAt time.Time
	DailyTradeCount    int
	DailyCountResetAt  time.Time
	DailyBaselineNAV   decimal.Decimal
	DailyBaselineKey   string // e.g. "2026-07-30", UTC calendar day
	WeeklyBaselineNAV  decimal.Decimal
	WeeklyBaselineKey  string // e.g. "2026-W31", UTC ISO week
}

// NewPersistentState returns a zero-value state with every map initialized,
// so StateStore.Load never hands callers a nil map (forward-compatible defaults).
func NewPersistentState() *PersistentState {
	return &PersistentState{
		Positions:          make(map[string]*Position),
		PendingOrders:      make(map[string]*Order),
		Cooldowns:          make(map[string]Cooldown),
		RedFlagBans:        make(map[string]RedFlagBan),
		PurgeFailures:      make(map[string]PurgeFailure),
		PyramidAddsToday:   make(map[string]int),
		PerSymbolLastTrade: make(map[string]time.Time),
	}
}

// ApplyDefaults fills in any nil map left by an older, partially-populated
// persisted document (forward compatibility).
func (s *PersistentState) ApplyDefaults() {
	if s.Positions == nil {
		s.Positions = make(map[string]*Position)
	}
	if s.PendingOrders == nil {
		s.PendingOrders = make(map[string]*Order)
	}
	if s.Cooldowns == nil {
		s.Cooldowns = make(map[string]Cooldown)
	}
	if s.RedFlagBans == nil {
		s.RedFlagBans = make(map[string]RedFlagBan)
	}
	if s.PurgeFailures == nil {
		s.PurgeFailures = make(map[string]PurgeFailure)
	}
	if s.PyramidAddsToday == nil {
		s.PyramidAddsToday = make(map[string]int)
	}
	if s.PerSymbolLastTrade == nil {
		s.PerSymbolLastTrade = make(map[string]time.Time)
	}
}

// AlertSeverity is one of the three levels the alert pipeline understands.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Escalate returns the next severity up the ladder (CRITICAL stays put).
func (s AlertSeverity) Escalate() AlertSeverity {
	switch s {
	case SeverityInfo:
		return SeverityWarning
	case SeverityWarning:
		return SeverityCritical
	default:
		return SeverityCritical
	}
}

// AlertRecord is the dedupe/escalation bookkeeping entry for one
// fingerprinted alert.
type AlertRecord struct {
	Fingerprint string
	Severity    AlertSeverity
	Title       string
	Message     string
	FirstSeen   time.Time
	LastSeen    time.Time
	Count       int
	Escalated   bool
	Resolved    bool
}

// CycleOutcome is the terminal status of one orchestrator cycle.
type CycleOutcome string

const (
	OutcomeTrade   CycleOutcome = "TRADE"
	OutcomeNoTrade CycleOutcome = "NO_TRADE"
	OutcomeError   CycleOutcome = "ERROR"
)

// RiskResult is the verdict the risk engine returns for one batch of
// proposals.
type RiskResult struct {
	Approved            bool
	Reason              string
	ApprovedProposals    []TradeProposal
	ProposalRejections  map[string][]string // symbol -> reasons
	ViolatedChecks       []string
}

// ExecutionMode governs whether orders touch the real exchange.
type ExecutionMode string

const (
	ModeDryRun ExecutionMode = "DRY_RUN"
	ModePaper  ExecutionMode = "PAPER"
	ModeLive   ExecutionMode = "LIVE"
)

// ProductStatus is the exchange-reported tradability state for a symbol.
type ProductStatus string

const (
	ProductOnline     ProductStatus = "ONLINE"
	ProductPostOnly   ProductStatus = "POST_ONLY"
	ProductLimitOnly  ProductStatus = "LIMIT_ONLY"
	ProductCancelOnly ProductStatus = "CANCEL_ONLY"
	ProductOffline    ProductStatus = "OFFLINE"
)

// Tradable reports whether new orders may be placed against the product.
func (s ProductStatus) Tradable() bool {
	return s == ProductOnline
}

// Product describes one exchange-listed trading pair's static metadata.
type Product struct {
	Symbol         string
	Status         ProductStatus
	LotSize        decimal.Decimal
	PriceIncrement decimal.Decimal
	MinNotional    decimal.Decimal
}

// Quote is a top-of-book snapshot.
type Quote struct {
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Mid       decimal.Decimal
	Timestamp time.Time
}

// OrderBook is the top-of-book depth used for spread/liquidity filters.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// BookLevel is one price/size pair in an order book snapshot.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// TopDepth sums size across all levels, the "top-of-book depth" figure the
// universe manager's liquidity filter compares against a floor.
func (b OrderBook) TopDepth() decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range b.Bids {
		total = total.Add(lvl.Size)
	}
	for _, lvl := range b.Asks {
		total = total.Add(lvl.Size)
	}
	return total
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// AccountBalance is one currency balance line from the exchange account.
type AccountBalance struct {
	Currency string
	Balance  decimal.Decimal
	Hold     decimal.Decimal
}

// PlaceOrderRequest is the exchange-facing order placement payload.
type PlaceOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	OrderType     OrderType
	Price         decimal.Decimal
	SizeBase      decimal.Decimal
	PostOnly      bool
}

// PlaceOrderResponse carries either an accepted order id or a business
// error response from the exchange.
type PlaceOrderResponse struct {
	OrderID       string
	Error         string
	ErrorResponse map[string]string
}
