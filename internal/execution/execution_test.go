package execution

import (
	"context"
	"testing"
	"time"

	"cbtrader/internal/core"
	"cbtrader/internal/exchange"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func testConfig() Config {
	return Config{
		MakerTTL:               30 * time.Millisecond,
		MaxSlippageBps:         d(20),
		PostTradeReconcileWait: 10 * time.Millisecond,
		GhostTTL:               time.Minute,
		PartialFillTolerance:   d(0.05),
		FillMismatchAbsUSD:     d(0.20),
		FillMismatchPct:        d(0.02),
		TrimSliceNotionalUSD:   d(50),
		TrimResidualThreshold:  d(5),
		TrimMaxFailures:        3,
		MinLiquidationValueUSD: d(1),
	}
}

func TestOrderStateMachine_RejectsInvalidTransition(t *testing.T) {
	m := NewOrderStateMachine(nil)
	order := &core.Order{ClientOrderID: "c1", Status: core.OrderStatusNew}
	m.Track(order)

	if err := m.Transition("c1", core.OrderStatusFilled); err == nil {
		t.Errorf("expected NEW -> FILLED to be rejected")
	}
	if err := m.Transition("c1", core.OrderStatusSubmitted); err != nil {
		t.Errorf("expected NEW -> SUBMITTED to succeed, got %v", err)
	}
}

func TestOrderStateMachine_TerminalTransitionIsIdempotent(t *testing.T) {
	m := NewOrderStateMachine(nil)
	order := &core.Order{ClientOrderID: "c1", Status: core.OrderStatusFilled}
	m.Track(order)

	if err := m.Transition("c1", core.OrderStatusFilled); err != nil {
		t.Errorf("expected repeat of same terminal status to be a no-op, got %v", err)
	}
	if err := m.Transition("c1", core.OrderStatusCanceled); err == nil {
		t.Errorf("expected a terminal order to reject transition to a different status")
	}
}

func TestOrderStateMachine_RecordFillDedupesByTradeID(t *testing.T) {
	m := NewOrderStateMachine(nil)
	order := &core.Order{ClientOrderID: "c1", Status: core.OrderStatusOpen, SizeBase: d(1)}
	m.Track(order)

	fill := core.Fill{TradeID: "t1", SizeBase: d(1), SizeQuote: d(100)}
	if err := m.RecordFill("c1", fill, d(0.05)); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if err := m.RecordFill("c1", fill, d(0.05)); err != nil {
		t.Fatalf("RecordFill (repeat): %v", err)
	}
	if !order.FilledSize.Equal(d(1)) {
		t.Errorf("expected a repeated trade_id not to double-count, got filled_size=%s", order.FilledSize)
	}
	if order.Status != core.OrderStatusFilled {
		t.Errorf("expected order to transition to FILLED, got %s", order.Status)
	}
}

func TestOrderStateMachine_PartialFillBelowTolerance(t *testing.T) {
	m := NewOrderStateMachine(nil)
	order := &core.Order{ClientOrderID: "c1", Status: core.OrderStatusOpen, SizeBase: d(1)}
	m.Track(order)

	if err := m.RecordFill("c1", core.Fill{TradeID: "t1", SizeBase: d(0.5)}, d(0.05)); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if order.Status != core.OrderStatusPartialFill {
		t.Errorf("expected PARTIAL_FILL, got %s", order.Status)
	}
}

func TestGhostCache_ExpiresAfterTTL(t *testing.T) {
	g := NewGhostCache(10*time.Millisecond, nil)
	g.Add("ghost-1")
	if !g.IsGhost("ghost-1") {
		t.Errorf("expected ghost-1 to be a ghost immediately after Add")
	}
	time.Sleep(20 * time.Millisecond)
	if g.IsGhost("ghost-1") {
		t.Errorf("expected ghost-1 to have expired after TTL")
	}
}

func TestGhostCache_FilterDropsGhosts(t *testing.T) {
	g := NewGhostCache(time.Minute, nil)
	g.Add("ex-1")
	orders := []core.Order{
		{ClientOrderID: "c1", ExchangeOrderID: "ex-1"},
		{ClientOrderID: "c2", ExchangeOrderID: "ex-2"},
	}
	filtered := g.Filter(orders)
	if len(filtered) != 1 || filtered[0].ClientOrderID != "c2" {
		t.Errorf("expected only c2 to survive filtering, got %+v", filtered)
	}
}

func TestTWAPSlices_SplitsIntoConstantNotionalChunks(t *testing.T) {
	slices := TWAPSlices(d(1), d(100), d(30), d(5))
	// 1 unit at $100 = $100 notional, sliced into $30 chunks => 3 slices of
	// 0.3 plus a final 0.1 (worth $10, above the $5 residual threshold, so
	// it stays its own slice).
	if len(slices) != 4 {
		t.Fatalf("expected 4 slices, got %d: %v", len(slices), slices)
	}
	total := decimal.Zero
	for _, s := range slices {
		total = total.Add(s)
	}
	if !total.Equal(d(1)) {
		t.Errorf("expected slices to sum to 1, got %s", total)
	}
}

func TestTWAPSlices_FoldsDustRemainderIntoLastSlice(t *testing.T) {
	// 1.02 units at $100: after three $30 slices (0.9 units), 0.12 units
	// remain worth $12 > $5 residual -> stays separate. Use a case where
	// the remainder really is dust: 0.901 units leaves 0.001 ($0.10) after
	// one $90 slice, which is below the $5 threshold.
	slices := TWAPSlices(d(0.901), d(100), d(90), d(5))
	if len(slices) != 1 {
		t.Fatalf("expected the dust remainder folded into a single slice, got %d: %v", len(slices), slices)
	}
	if !slices[0].Equal(d(0.901)) {
		t.Errorf("expected the single slice to cover the full quantity, got %s", slices[0])
	}
}

func TestTWAPSlices_SmallQuantityIsOneSlice(t *testing.T) {
	slices := TWAPSlices(d(0.1), d(100), d(50), d(5))
	if len(slices) != 1 || !slices[0].Equal(d(0.1)) {
		t.Errorf("expected a quantity smaller than one slice to be a single slice, got %v", slices)
	}
}

func newSimExchange() (*exchange.SimulatedExchange, core.Product) {
	sim := exchange.NewSimulatedExchange(core.ModePaper, d(5))
	sim.SeedQuote("BTC-USD", core.Quote{Bid: d(100), Ask: d(100.1), Mid: d(100.05)})
	product := core.Product{Symbol: "BTC-USD", LotSize: d(0.0001), PriceIncrement: d(0.01)}
	return sim, product
}

func TestEngine_Place_FillsAsMakerWithinTTL(t *testing.T) {
	sim, product := newSimExchange()
	engine := NewEngine(sim, testConfig(), noopLogger{}, nil)

	go func() {
		for i := 0; i < 50; i++ {
			open := engine.States().Open()
			if len(open) > 0 {
				sim.FillRestingOrder(open[0].ExchangeOrderID)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	quote, _ := sim.GetQuote(context.Background(), "BTC-USD")
	order, err := engine.Place(context.Background(), "BTC-USD", core.SideBuy, d(0.01), quote, product, "test_strategy")
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if order.Status != core.OrderStatusFilled {
		t.Errorf("expected the maker order to be FILLED, got %s", order.Status)
	}
	if order.OrderType != core.OrderTypePostOnlyLimit {
		t.Errorf("expected the returned order to be the maker order, got type %s", order.OrderType)
	}
}

func TestEngine_Place_FallsBackToIOCAfterTTL(t *testing.T) {
	sim, product := newSimExchange()
	engine := NewEngine(sim, testConfig(), noopLogger{}, nil)

	quote, _ := sim.GetQuote(context.Background(), "BTC-USD")
	order, err := engine.Place(context.Background(), "BTC-USD", core.SideBuy, d(0.01), quote, product, "test_strategy")
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if order.OrderType != core.OrderTypeIOCLimit {
		t.Errorf("expected the returned order to be the IOC fallback, got type %s", order.OrderType)
	}
	if order.Status != core.OrderStatusFilled {
		t.Errorf("expected the IOC fallback to fill immediately in simulation, got %s", order.Status)
	}
}

type stubFillsExchange struct {
	fills []core.Fill
}

func (s *stubFillsExchange) Name() string       { return "stub" }
func (s *stubFillsExchange) ReadOnly() bool     { return true }
func (s *stubFillsExchange) ListProducts(ctx context.Context) ([]core.Product, error) {
	return nil, nil
}
func (s *stubFillsExchange) GetQuote(ctx context.Context, symbol string) (core.Quote, error) {
	return core.Quote{}, nil
}
func (s *stubFillsExchange) GetOrderBook(ctx context.Context, symbol string) (core.OrderBook, error) {
	return core.OrderBook{}, nil
}
func (s *stubFillsExchange) GetOHLCV(ctx context.Context, symbol, granularity string, lookback time.Duration) ([]core.Candle, error) {
	return nil, nil
}
func (s *stubFillsExchange) GetAccounts(ctx context.Context) ([]core.AccountBalance, error) {
	return nil, nil
}
func (s *stubFillsExchange) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (core.PlaceOrderResponse, error) {
	return core.PlaceOrderResponse{}, nil
}
func (s *stubFillsExchange) CancelOrder(ctx context.Context, id string) error { return nil }
func (s *stubFillsExchange) CancelOrders(ctx context.Context, ids []string) error { return nil }
func (s *stubFillsExchange) ListOpenOrders(ctx context.Context) ([]core.Order, error) {
	return nil, nil
}
func (s *stubFillsExchange) ListFills(ctx context.Context, exchangeOrderID string, lookback time.Duration, limit int) ([]core.Fill, error) {
	return s.fills, nil
}

func TestEngine_Reconcile_DiscardsMismatchedFill(t *testing.T) {
	stub := &stubFillsExchange{fills: []core.Fill{
		{TradeID: "t1", Price: d(100), SizeBase: d(5), SizeQuote: d(500)},
	}}
	engine := NewEngine(stub, testConfig(), noopLogger{}, nil)

	order := &core.Order{ClientOrderID: "c1", ExchangeOrderID: "e1", Symbol: "BTC-USD", Side: core.SideBuy, SizeBase: d(1), SizeQuote: d(100), Status: core.OrderStatusOpen}
	engine.States().Track(order)

	if err := engine.Reconcile(context.Background(), order); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if order.FilledSize.IsPositive() {
		t.Errorf("expected the mismatched fill to be discarded, got filled_size=%s", order.FilledSize)
	}
}

func TestEngine_Reconcile_AppliesMatchingFill(t *testing.T) {
	stub := &stubFillsExchange{fills: []core.Fill{
		{TradeID: "t1", Price: d(100), SizeBase: d(1), SizeQuote: d(100)},
	}}
	engine := NewEngine(stub, testConfig(), noopLogger{}, nil)

	order := &core.Order{ClientOrderID: "c1", ExchangeOrderID: "e1", Symbol: "BTC-USD", Side: core.SideBuy, SizeBase: d(1), SizeQuote: d(100), Status: core.OrderStatusOpen}
	engine.States().Track(order)

	if err := engine.Reconcile(context.Background(), order); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if order.Status != core.OrderStatusFilled {
		t.Errorf("expected order to be FILLED, got %s", order.Status)
	}
}

func TestSelectTrimCandidates_OrdersByLossThenAge(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	positions := map[string]*core.Position{
		"A": {Symbol: "A", UsdValue: d(100), UnrealizedPnLPct: d(-0.05), EntryTime: newer},
		"B": {Symbol: "B", UsdValue: d(100), UnrealizedPnLPct: d(-0.20), EntryTime: newer},
		"C": {Symbol: "C", UsdValue: d(100), UnrealizedPnLPct: d(-0.05), EntryTime: older},
		"DUST": {Symbol: "DUST", UsdValue: d(0.5)},
	}
	ordered := SelectTrimCandidates(positions, d(1))
	if len(ordered) != 3 {
		t.Fatalf("expected dust position excluded, got %d candidates", len(ordered))
	}
	if ordered[0].Symbol != "B" {
		t.Errorf("expected the biggest loser B first, got %s", ordered[0].Symbol)
	}
	if ordered[1].Symbol != "C" {
		t.Errorf("expected the older equal-loss position C to break the tie before A, got %s", ordered[1].Symbol)
	}
}

func TestPurger_ShouldSkipHonorsBackoffWindow(t *testing.T) {
	now := time.Now()
	failures := map[string]core.PurgeFailure{
		"BTC-USD": {Count: 3, LastFailedAt: now},
	}
	if !ShouldSkip(failures, "BTC-USD", now.Add(30*time.Minute)) {
		t.Errorf("expected symbol to still be in its 1h backoff window")
	}
	if ShouldSkip(failures, "BTC-USD", now.Add(2*time.Hour)) {
		t.Errorf("expected symbol to be clear of backoff after the window elapses")
	}
}

func TestCancelStaleOrders_CancelsOnlyAgedOrders(t *testing.T) {
	sim, _ := newSimExchange()
	engine := NewEngine(sim, testConfig(), noopLogger{}, nil)

	fresh := &core.Order{ClientOrderID: "fresh", ExchangeOrderID: "ex-fresh", Status: core.OrderStatusOpen, CreatedAt: time.Now()}
	stale := &core.Order{ClientOrderID: "stale", ExchangeOrderID: "ex-stale", Status: core.OrderStatusOpen, CreatedAt: time.Now().Add(-time.Hour)}
	engine.States().Track(fresh)
	engine.States().Track(stale)

	canceled := engine.CancelStaleOrders(context.Background(), time.Minute)
	if len(canceled) != 1 || canceled[0].ClientOrderID != "stale" {
		t.Errorf("expected only the stale order canceled, got %+v", canceled)
	}
	got, _ := engine.States().Get("fresh")
	if got.Status != core.OrderStatusOpen {
		t.Errorf("expected the fresh order to remain OPEN, got %s", got.Status)
	}
}
