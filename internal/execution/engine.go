package execution

import (
	"context"
	"fmt"
	"time"

	"cbtrader/internal/core"
	"cbtrader/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Engine places and reconciles orders: maker-first post-only limit,
// taker IOC fallback on TTL expiry, fill reconciliation with the
// size_in_quote mismatch guard, and the stale-order/ghost-cache
// bookkeeping the orchestrator's later stages depend on.
type Engine struct {
	exchange core.IExchange
	states   *OrderStateMachine
	ghosts   *GhostCache
	cfg      Config
	logger   core.ILogger
	clock    core.Clock
}

// NewEngine builds an engine against exchange, using clock for
// deterministic testing when non-nil (defaults to core.SystemClock{}).
func NewEngine(exchange core.IExchange, cfg Config, logger core.ILogger, clock core.Clock) *Engine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Engine{
		exchange: exchange,
		states:   NewOrderStateMachine(clock),
		ghosts:   NewGhostCache(cfg.GhostTTL, clock),
		cfg:      cfg,
		logger:   logger.WithField("component", "execution_engine"),
		clock:    clock,
	}
}

// States exposes the tracked order set, for the orchestrator's stale-order
// cleanup and fill-reconciliation stages.
func (e *Engine) States() *OrderStateMachine { return e.states }

// Ghosts exposes the TTL cache so the orchestrator can filter
// ListOpenOrders results before reading pending-order state.
func (e *Engine) Ghosts() *GhostCache { return e.ghosts }

// Place submits sizeBase of symbol as a post-only maker order, waits up to
// MakerTTL for a fill, and on timeout cancels and falls back to an IOC
// taker order within MaxSlippageBps. Returns the order actually reconciled
// last (the fallback order if one was placed).
func (e *Engine) Place(ctx context.Context, symbol string, side core.Side, sizeBase decimal.Decimal, quote core.Quote, product core.Product, strategyName string) (*core.Order, error) {
	sizeBase = tradingutils.FloorToLotSize(sizeBase, product.LotSize)
	if !sizeBase.IsPositive() {
		return nil, fmt.Errorf("execution: size rounds to zero at lot size %s", product.LotSize)
	}

	makerOrder, err := e.placeMaker(ctx, symbol, side, sizeBase, quote, product, strategyName)
	if err != nil {
		return makerOrder, err
	}

	select {
	case <-ctx.Done():
		return makerOrder, ctx.Err()
	case <-time.After(e.cfg.MakerTTL):
	}

	if err := e.Reconcile(ctx, makerOrder); err != nil {
		e.logger.Warn("post-maker reconcile failed", "client_order_id", makerOrder.ClientOrderID, "error", err.Error())
	}
	if makerOrder.Status == core.OrderStatusFilled {
		return makerOrder, nil
	}

	if err := e.exchange.CancelOrder(ctx, makerOrder.ExchangeOrderID); err != nil {
		e.logger.Warn("cancel unfilled maker order failed", "client_order_id", makerOrder.ClientOrderID, "error", err.Error())
	}
	e.ghosts.Add(makerOrder.ExchangeOrderID)
	e.ghosts.Add(makerOrder.ClientOrderID)
	_ = e.states.Transition(makerOrder.ClientOrderID, core.OrderStatusCanceled)

	remaining := makerOrder.SizeBase.Sub(makerOrder.FilledSize)
	if !remaining.IsPositive() {
		return makerOrder, nil
	}

	takerOrder, err := e.placeTakerFallback(ctx, makerOrder, remaining, quote, product)
	if err != nil {
		return takerOrder, err
	}

	select {
	case <-ctx.Done():
		return takerOrder, ctx.Err()
	case <-time.After(e.cfg.PostTradeReconcileWait):
	}
	if err := e.Reconcile(ctx, takerOrder); err != nil {
		e.logger.Warn("post-taker reconcile failed", "client_order_id", takerOrder.ClientOrderID, "error", err.Error())
	}
	return takerOrder, nil
}

func (e *Engine) placeMaker(ctx context.Context, symbol string, side core.Side, sizeBase decimal.Decimal, quote core.Quote, product core.Product, strategyName string) (*core.Order, error) {
	price := makerPrice(side, quote, product.PriceIncrement)
	return e.submit(ctx, symbol, side, core.OrderTypePostOnlyLimit, price, sizeBase, true, strategyName)
}

func (e *Engine) placeTakerFallback(ctx context.Context, prior *core.Order, sizeBase decimal.Decimal, quote core.Quote, product core.Product) (*core.Order, error) {
	sizeBase = tradingutils.FloorToLotSize(sizeBase, product.LotSize)
	price := takerPrice(prior.Side, quote, e.cfg.MaxSlippageBps)
	return e.submit(ctx, prior.Symbol, prior.Side, core.OrderTypeIOCLimit, price, sizeBase, false, prior.StrategyName)
}

func (e *Engine) submit(ctx context.Context, symbol string, side core.Side, orderType core.OrderType, price, sizeBase decimal.Decimal, postOnly bool, strategyName string) (*core.Order, error) {
	clientID := uuid.NewString()
	now := e.clock.Now()
	order := &core.Order{
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		OrderType:     orderType,
		Price:         price,
		SizeBase:      sizeBase,
		SizeQuote:     price.Mul(sizeBase),
		CreatedAt:     now,
		LastUpdatedAt: now,
		Status:        core.OrderStatusNew,
		StrategyName:  strategyName,
	}
	e.states.Track(order)

	resp, err := e.exchange.PlaceOrder(ctx, core.PlaceOrderRequest{
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		OrderType:     orderType,
		Price:         price,
		SizeBase:      sizeBase,
		PostOnly:      postOnly,
	})
	if err != nil {
		_ = e.states.Transition(clientID, core.OrderStatusRejected)
		order.RejectReason = err.Error()
		return order, fmt.Errorf("execution: place order %s: %w", clientID, err)
	}
	if resp.Error != "" {
		_ = e.states.Transition(clientID, core.OrderStatusRejected)
		order.RejectReason = resp.Error
		return order, fmt.Errorf("execution: order %s rejected: %s", clientID, resp.Error)
	}

	order.ExchangeOrderID = resp.OrderID
	_ = e.states.Transition(clientID, core.OrderStatusSubmitted)
	_ = e.states.Transition(clientID, core.OrderStatusOpen)
	return order, nil
}

// Reconcile fetches fills for order's exchange_order_id and applies each
// one through the state machine, enforcing the size_in_quote fill-notional
// mismatch guard: a fill whose computed quote notional diverges from the
// order's requested notional by more than max(FillMismatchAbsUSD,
// FillMismatchPct * requested) is discarded rather than applied.
func (e *Engine) Reconcile(ctx context.Context, order *core.Order) error {
	if order.ExchangeOrderID == "" || order.Status.IsTerminal() {
		return nil
	}
	fills, err := e.exchange.ListFills(ctx, order.ExchangeOrderID, 24*time.Hour, 100)
	if err != nil {
		return fmt.Errorf("execution: list fills for %s: %w", order.ExchangeOrderID, err)
	}

	requested := order.SizeQuote
	tolerance := decimal.Max(e.cfg.FillMismatchAbsUSD, requested.Mul(e.cfg.FillMismatchPct))

	for _, fill := range fills {
		if order.HasFillTradeID(fill.TradeID) {
			continue
		}
		mismatch := fill.SizeQuote.Sub(requested).Abs()
		if requested.IsPositive() && mismatch.GreaterThan(tolerance) {
			e.logger.Error("fill-notional mismatch, discarding fill",
				"client_order_id", order.ClientOrderID,
				"trade_id", fill.TradeID,
				"requested", requested.String(),
				"computed", fill.SizeQuote.String())
			continue
		}
		if err := e.states.RecordFill(order.ClientOrderID, fill, e.cfg.PartialFillTolerance); err != nil {
			return err
		}
	}
	return nil
}

// makerPrice returns the best-bid/ask ± one price increment that keeps a
// post-only order from crossing the spread (staying a maker).
func makerPrice(side core.Side, quote core.Quote, increment decimal.Decimal) decimal.Decimal {
	if side == core.SideBuy {
		return quote.Bid.Add(increment)
	}
	return quote.Ask.Sub(increment)
}

// takerPrice returns the worst acceptable price for an IOC taker fallback:
// ask plus slippage for a BUY, bid minus slippage for a SELL.
func takerPrice(side core.Side, quote core.Quote, maxSlippageBps decimal.Decimal) decimal.Decimal {
	slip := func(base decimal.Decimal) decimal.Decimal {
		return base.Mul(maxSlippageBps).Div(bpsDivisor)
	}
	if side == core.SideBuy {
		return quote.Ask.Add(slip(quote.Ask))
	}
	return quote.Bid.Sub(slip(quote.Bid))
}
