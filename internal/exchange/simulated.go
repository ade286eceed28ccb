package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// SimulatedExchange backs DRY_RUN and PAPER modes: it never talks to a real
// exchange, but still satisfies core.IExchange so the orchestrator's cycle
// never branches on execution mode. Market data is supplied externally via
// Seed* setters (normally sourced from a read-only Coinbase adapter even in
// PAPER mode); order placement is filled synthetically against that data.
type SimulatedExchange struct {
	mu           sync.Mutex
	mode         core.ExecutionMode
	slippageBps  decimal.Decimal
	quotes       map[string]core.Quote
	books        map[string]core.OrderBook
	candles      map[string][]core.Candle
	products     map[string]core.Product
	balances     map[string]core.AccountBalance
	openOrders   map[string]*core.Order
	fills        map[string][]core.Fill
	nextTradeSeq int
}

// NewSimulatedExchange builds a simulator for the given mode (DRY_RUN or
// PAPER). slippageBps widens market-order fills against the quoted mid to
// emulate crossing the spread plus impact.
func NewSimulatedExchange(mode core.ExecutionMode, slippageBps decimal.Decimal) *SimulatedExchange {
	return &SimulatedExchange{
		mode:        mode,
		slippageBps: slippageBps,
		quotes:      make(map[string]core.Quote),
		books:       make(map[string]core.OrderBook),
		candles:     make(map[string][]core.Candle),
		products:    make(map[string]core.Product),
		balances:    make(map[string]core.AccountBalance),
		openOrders:  make(map[string]*core.Order),
		fills:       make(map[string][]core.Fill),
	}
}

// Name identifies the adapter in logs and metrics.
func (s *SimulatedExchange) Name() string { return "simulated_" + string(s.mode) }

// ReadOnly is true for DRY_RUN and false for PAPER; order handling is the
// same in both modes.
func (s *SimulatedExchange) ReadOnly() bool { return s.mode == core.ModeDryRun }

// SeedQuote injects a quote a market-data reader observed, for PlaceOrder
// to fill against.
func (s *SimulatedExchange) SeedQuote(symbol string, q core.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = q
}

// SeedOrderBook injects an order book snapshot.
func (s *SimulatedExchange) SeedOrderBook(symbol string, book core.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[symbol] = book
}

// SeedCandles injects an OHLCV series for a symbol/granularity pair.
func (s *SimulatedExchange) SeedCandles(symbol string, candles []core.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[symbol] = candles
}

// SeedProducts injects the static product metadata list.
func (s *SimulatedExchange) SeedProducts(products []core.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.Symbol] = p
	}
}

// SeedBalance sets (or resets) a currency balance, e.g. PAPER's starting
// USD allocation.
func (s *SimulatedExchange) SeedBalance(currency string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[currency] = core.AccountBalance{Currency: currency, Balance: balance}
}

// ListProducts returns the seeded product set.
func (s *SimulatedExchange) ListProducts(ctx context.Context) ([]core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

// GetQuote returns the seeded quote.
func (s *SimulatedExchange) GetQuote(ctx context.Context, symbol string) (core.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return core.Quote{}, fmt.Errorf("no seeded quote for %s", symbol)
	}
	return q, nil
}

// GetOrderBook returns the seeded order book.
func (s *SimulatedExchange) GetOrderBook(ctx context.Context, symbol string) (core.OrderBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[symbol]
	if !ok {
		return core.OrderBook{}, fmt.Errorf("no seeded order book for %s", symbol)
	}
	return book, nil
}

// GetOHLCV returns the seeded candle series trimmed to lookback.
func (s *SimulatedExchange) GetOHLCV(ctx context.Context, symbol, granularity string, lookback time.Duration) ([]core.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, ok := s.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no seeded candles for %s", symbol)
	}
	cutoff := time.Now().Add(-lookback)
	out := make([]core.Candle, 0, len(all))
	for _, c := range all {
		if c.Timestamp.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetAccounts returns the seeded balances.
func (s *SimulatedExchange) GetAccounts(ctx context.Context) ([]core.AccountBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AccountBalance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	return out, nil
}

// PlaceOrder fills synthetically against the seeded quote: market and
// IOC-limit orders fill immediately (with slippageBps applied against
// mid), post-only orders rest OPEN until FillRestingOrder marks them
// filled or CancelOrder removes them.
func (s *SimulatedExchange) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (core.PlaceOrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[req.Symbol]
	if !ok {
		return core.PlaceOrderResponse{Error: fmt.Sprintf("no market data for %s", req.Symbol)}, nil
	}

	s.nextTradeSeq++
	exchangeOrderID := fmt.Sprintf("sim-%d", s.nextTradeSeq)
	now := time.Now()

	order := &core.Order{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: exchangeOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       req.OrderType,
		Price:           req.Price,
		SizeBase:        req.SizeBase,
		CreatedAt:       now,
		LastUpdatedAt:   now,
		Status:          core.OrderStatusOpen,
	}

	if req.OrderType != core.OrderTypePostOnlyLimit {
		fillPrice := s.slippedPrice(quote, req.Side)
		order.Status = core.OrderStatusFilled
		order.FilledSize = req.SizeBase
		order.FilledValue = fillPrice.Mul(req.SizeBase)
		order.Fees = order.FilledValue.Mul(decimal.NewFromFloat(0.006))
		fill := core.Fill{
			TradeID:   exchangeOrderID + "-1",
			Price:     fillPrice,
			SizeBase:  req.SizeBase,
			SizeQuote: order.FilledValue,
			Fee:       order.Fees,
			Liquidity: core.LiquidityTaker,
			Timestamp: now,
		}
		order.Fills = []core.Fill{fill}
		s.fills[exchangeOrderID] = append(s.fills[exchangeOrderID], fill)
	} else {
		s.openOrders[exchangeOrderID] = order
	}

	return core.PlaceOrderResponse{OrderID: exchangeOrderID}, nil
}

// slippedPrice widens the fill away from mid by slippageBps, in the
// direction unfavorable to the trader (buys fill higher, sells fill lower).
func (s *SimulatedExchange) slippedPrice(q core.Quote, side core.Side) decimal.Decimal {
	factor := s.slippageBps.Div(decimal.NewFromInt(10000))
	if side == core.SideBuy {
		return q.Mid.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return q.Mid.Mul(decimal.NewFromInt(1).Sub(factor))
}

// FillRestingOrder lets a test or the cycle's simulated maker-fill pass
// mark a resting post-only order filled.
func (s *SimulatedExchange) FillRestingOrder(exchangeOrderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.openOrders[exchangeOrderID]
	if !ok {
		return
	}
	order.Status = core.OrderStatusFilled
	order.FilledSize = order.SizeBase
	order.FilledValue = order.Price.Mul(order.SizeBase)
	order.Fees = order.FilledValue.Mul(decimal.NewFromFloat(0.004))
	fill := core.Fill{
		TradeID:   exchangeOrderID + "-1",
		Price:     order.Price,
		SizeBase:  order.SizeBase,
		SizeQuote: order.FilledValue,
		Fee:       order.Fees,
		Liquidity: core.LiquidityMaker,
		Timestamp: time.Now(),
	}
	order.Fills = append(order.Fills, fill)
	s.fills[exchangeOrderID] = append(s.fills[exchangeOrderID], fill)
	delete(s.openOrders, exchangeOrderID)
}

// CancelOrder removes a resting simulated order.
func (s *SimulatedExchange) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.openOrders[exchangeOrderID]; ok {
		order.Status = core.OrderStatusCanceled
		delete(s.openOrders, exchangeOrderID)
	}
	return nil
}

// CancelOrders cancels a batch of resting simulated orders.
func (s *SimulatedExchange) CancelOrders(ctx context.Context, exchangeOrderIDs []string) error {
	for _, id := range exchangeOrderIDs {
		if err := s.CancelOrder(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ListOpenOrders returns every still-resting simulated order.
func (s *SimulatedExchange) ListOpenOrders(ctx context.Context) ([]core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Order, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		out = append(out, *o)
	}
	return out, nil
}

// ListFills returns the fills recorded for exchangeOrderID by
// PlaceOrder/FillRestingOrder, mirroring the real adapter's reconciliation
// path so execution engine tests exercise the same call.
func (s *SimulatedExchange) ListFills(ctx context.Context, exchangeOrderID string, lookback time.Duration, limit int) ([]core.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fills := s.fills[exchangeOrderID]
	if limit > 0 && len(fills) > limit {
		fills = fills[:limit]
	}
	out := make([]core.Fill, len(fills))
	copy(out, fills)
	return out, nil
}
