package statestore

import (
	"fmt"
	"path/filepath"

	"cbtrader/internal/config"
	"cbtrader/internal/core"
)

// New builds the StateStore backend named by app.yaml's
// state_store_backend, rooted at state_dir.
func New(cfg *config.Config) (core.StateStore, error) {
	switch cfg.App.StateStoreBackend {
	case "file":
		return NewFileStore(cfg.App.StateDir)
	case "sqlite":
		return NewSQLiteStore(filepath.Join(cfg.App.StateDir, "state.db"))
	default:
		return nil, fmt.Errorf("unknown state_store_backend %q", cfg.App.StateStoreBackend)
	}
}
