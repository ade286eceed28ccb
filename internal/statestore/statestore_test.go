package statestore

import (
	"context"
	"testing"
	"time"

	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

func TestFileStore_LoadMissingFileReturnsFreshState(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Positions == nil || state.PendingOrders == nil {
		t.Errorf("expected a fresh state's maps to be initialized, not nil")
	}
}

func TestFileStore_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	state := core.NewPersistentState()
	state.HighWaterMark = decimal.NewFromInt(10000)
	state.Cooldowns["BTC-USD"] = core.Cooldown{Until: time.Now().Add(time.Hour), Reason: "stop_loss"}

	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore (reopen): %v", err)
	}
	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("Load (reopen): %v", err)
	}
	if !loaded.HighWaterMark.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected high_water_mark to round-trip, got %s", loaded.HighWaterMark)
	}
	if _, ok := loaded.Cooldowns["BTC-USD"]; !ok {
		t.Errorf("expected BTC-USD cooldown to round-trip")
	}
}

func TestFileStore_CloseOrderIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	state, _ := store.Load(context.Background())
	state.PendingOrders["order-1"] = &core.Order{ClientOrderID: "order-1", Status: core.OrderStatusSubmitted}
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.CloseOrder(context.Background(), "order-1", core.OrderStatusFilled, nil); err != nil {
		t.Fatalf("CloseOrder: %v", err)
	}
	if _, ok := state.PendingOrders["order-1"]; ok {
		t.Errorf("expected order-1 removed from pending orders after close")
	}

	// A second close of the same id must not error.
	if err := store.CloseOrder(context.Background(), "order-1", core.OrderStatusFilled, nil); err != nil {
		t.Errorf("expected a repeat CloseOrder to be a no-op, got error: %v", err)
	}
}

func TestFlusher_PersistsOnTick(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	state, _ := store.Load(context.Background())
	state.DailyTradeCount = 3

	flusher := NewFlusher(store, state, 20*time.Millisecond, noopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	flusher.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	flusher.Stop()
	cancel()

	reopened, _ := NewFileStore(dir)
	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DailyTradeCount != 3 {
		t.Errorf("expected the flusher to have persisted daily_trade_count=3, got %d", loaded.DailyTradeCount)
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }
