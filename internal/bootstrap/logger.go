package bootstrap

import (
	"fmt"

	"cbtrader/internal/core"
	"cbtrader/pkg/logging"
)

// InitLogger builds the zap-backed core.ILogger used across the cycle,
// tagged with the run mode so every line is attributable to a DRY_RUN /
// PAPER / LIVE run.
func InitLogger(cfg *Config) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tagged := logger.WithField("mode", cfg.App.Mode)
	logging.SetGlobalLogger(tagged)
	return tagged, nil
}
