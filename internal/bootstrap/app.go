package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cbtrader/internal/config"
	"cbtrader/internal/core"
	"cbtrader/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App holds every dependency the orchestrator's cycle loop needs, wired up
// from the five-file YAML config, environment credentials, the zap/otel
// logger and the otel telemetry providers.
type App struct {
	Cfg         *Config
	Credentials config.Credentials
	Logger      core.ILogger
	Telemetry   *telemetry.Telemetry
}

// NewApp bootstraps configuration, credentials, logging and telemetry for
// the given config directory. It does not start anything — callers wire
// the exchange, state store and orchestrator on top, then call Run.
func NewApp(configDir string) (*App, error) {
	cfg, err := LoadConfig(configDir)
	if err != nil {
		return nil, err
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, err
	}

	creds, err := config.LoadCredentials(cfg.App.Mode)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	tel, err := telemetry.Setup("cbtrader")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger.Info("bootstrap complete", "mode", cfg.App.Mode, "cycle_interval_seconds", cfg.App.CycleIntervalSeconds)

	return &App{
		Cfg:         cfg,
		Credentials: creds,
		Logger:      logger,
		Telemetry:   tel,
	}, nil
}

// Runner is anything the app lifecycle runs until ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// Run drives every runner under one errgroup, canceling them together on
// SIGINT/SIGTERM. A runner returning an error cancels the rest; by policy
// only the kill switch or a termination signal should ever do that — a
// single bad cycle must not reach here.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application")

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		a.Logger.Error("application stopped with error", "error", err.Error())
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}

// Shutdown flushes telemetry and log buffers with a bounded timeout.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			a.Logger.Error("telemetry shutdown failed", "error", err.Error())
		}
	}
}
