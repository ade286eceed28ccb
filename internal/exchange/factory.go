package exchange

import (
	"fmt"

	"cbtrader/internal/config"
	"cbtrader/internal/core"
	"cbtrader/pkg/ratelimit"

	"github.com/shopspring/decimal"
)

// defaultSlippageBps approximates crossing the spread plus minor impact for
// PAPER-mode taker fills; DRY_RUN never places anything real so the figure
// only affects its own simulated fill price.
const defaultSlippageBps = 5

// New builds the IExchange implementation matching cfg.App.Mode: LIVE talks
// to Coinbase over the network, DRY_RUN and PAPER both use the in-memory
// simulator and handle orders the same way; the two differ only in
// ReadOnly(), which is true for DRY_RUN.
func New(cfg *config.Config, creds config.Credentials) (core.IExchange, error) {
	mode := core.ExecutionMode(cfg.App.Mode)

	switch mode {
	case core.ModeLive:
		limiter := ratelimit.New(ratelimit.DefaultBudgets())
		return NewCoinbaseExchange(creds, limiter), nil
	case core.ModeDryRun, core.ModePaper:
		return NewSimulatedExchange(mode, decimal.NewFromInt(defaultSlippageBps)), nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", cfg.App.Mode)
	}
}
