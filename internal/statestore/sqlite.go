package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cbtrader/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists state as a single JSON row updated inside a
// serializable transaction, with WAL mode enabled for crash recovery.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	cached *core.PersistentState
}

// NewSQLiteStore opens (creating if absent) the sqlite database at path
// and ensures its single-row state table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite state db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite state db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable wal mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the single state row, applying forward-compatible defaults.
// An empty table (first run) returns a fresh zero-value state.
func (s *SQLiteStore) Load(ctx context.Context) (*core.PersistentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM state WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		state := core.NewPersistentState()
		s.cached = state
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state row: %w", err)
	}

	state := core.NewPersistentState()
	if err := json.Unmarshal([]byte(data), state); err != nil {
		return nil, fmt.Errorf("parse state row: %w", err)
	}
	state.ApplyDefaults()
	s.cached = state
	return state, nil
}

// Save writes state transactionally, upserting the single row.
func (s *SQLiteStore) Save(ctx context.Context, state *core.PersistentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, state)
}

func (s *SQLiteStore) saveLocked(ctx context.Context, state *core.PersistentState) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin state tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO state (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("write state row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state tx: %w", err)
	}
	s.cached = state
	return nil
}

// CloseOrder idempotently removes an order from the pending set and
// persists the change.
func (s *SQLiteStore) CloseOrder(ctx context.Context, clientOrderID string, status core.OrderStatus, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		return fmt.Errorf("close order %s: state not loaded", clientOrderID)
	}
	order, ok := s.cached.PendingOrders[clientOrderID]
	if !ok {
		return nil
	}

	order.Status = status
	order.LastUpdatedAt = time.Now()
	if reason, ok := metadata["reject_reason"]; ok && order.RejectReason == "" {
		order.RejectReason = reason
	}
	delete(s.cached.PendingOrders, clientOrderID)

	return s.saveLocked(ctx, s.cached)
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
