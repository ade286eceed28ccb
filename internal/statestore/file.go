// Package statestore persists the single PersistentState document across
// restarts: a file backend (atomic write-temp-then-rename) and a sqlite
// backend (single JSON row in a transaction), both behind core.StateStore,
// plus a background flusher goroutine.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cbtrader/internal/core"
)

// FileStore persists state as a single JSON document, written via a
// temp-file-then-rename so a crash mid-write never corrupts the existing
// file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	cached *core.PersistentState
}

// NewFileStore opens (creating if absent) the state directory and
// targets state.json within it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "state.json")}, nil
}

// Load reads state.json fresh from disk, applying forward-compatible
// defaults for any field an older version didn't write. A missing file is
// not an error: it means this is the first run.
func (f *FileStore) Load(ctx context.Context) (*core.PersistentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		state := core.NewPersistentState()
		f.cached = state
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	state := core.NewPersistentState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	state.ApplyDefaults()
	f.cached = state
	return state, nil
}

// Save writes state atomically and caches it for CloseOrder.
func (f *FileStore) Save(ctx context.Context, state *core.PersistentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(state)
}

func (f *FileStore) writeLocked(state *core.PersistentState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename temp state file: %w", err)
	}
	f.cached = state
	return nil
}

// CloseOrder idempotently removes an order from the pending set and
// persists the change. A client id already absent (a repeat close) is a
// no-op, not an error.
func (f *FileStore) CloseOrder(ctx context.Context, clientOrderID string, status core.OrderStatus, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached == nil {
		return fmt.Errorf("close order %s: state not loaded", clientOrderID)
	}
	order, ok := f.cached.PendingOrders[clientOrderID]
	if !ok {
		return nil
	}

	order.Status = status
	order.LastUpdatedAt = time.Now()
	if reason, ok := metadata["reject_reason"]; ok && order.RejectReason == "" {
		order.RejectReason = reason
	}
	delete(f.cached.PendingOrders, clientOrderID)

	return f.writeLocked(f.cached)
}

// Close is a no-op: the file store holds no open handle between calls.
func (f *FileStore) Close() error { return nil }
