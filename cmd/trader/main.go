package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cbtrader/internal/alert"
	"cbtrader/internal/bootstrap"
	"cbtrader/internal/core"
	"cbtrader/internal/exchange"
	"cbtrader/internal/orchestrator"
	"cbtrader/internal/statestore"
	"cbtrader/pkg/cli"
	"cbtrader/pkg/telemetry"
)

var (
	configDir = flag.String("config-dir", "configs", "Directory containing app/policy/universe/signals/strategies YAML")
	once      = flag.Bool("once", false, "Run a single cycle and exit instead of looping")
	mode      = flag.String("mode", "", "Override app.yaml's mode: DRY_RUN, PAPER, or LIVE")
)

// cycleRunner adapts a single RunCycle call to bootstrap.Runner for --once.
type cycleRunner struct {
	orch   *orchestrator.Orchestrator
	logger core.ILogger
}

func (r *cycleRunner) Run(ctx context.Context) error {
	_, record, err := r.orch.RunCycle(ctx)
	if record != nil {
		record.Emit(r.logger)
	}
	return err
}

func main() {
	flag.Parse()

	if err := cli.ValidateInput(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --config-dir: %v\n", err)
		os.Exit(1)
	}

	app, err := bootstrap.NewApp(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer app.Shutdown(10 * time.Second)

	if *mode != "" {
		app.Cfg.App.Mode = *mode
	}

	exch, err := exchange.New(app.Cfg, app.Credentials)
	if err != nil {
		app.Logger.Fatal("exchange init failed", "error", err.Error())
	}

	store, err := statestore.New(app.Cfg)
	if err != nil {
		app.Logger.Fatal("state store init failed", "error", err.Error())
	}
	defer store.Close()

	persistent, err := store.Load(context.Background())
	if err != nil {
		app.Logger.Fatal("state load failed", "error", err.Error())
	}

	alertMgr := alert.NewManager(app.Logger)
	if app.Cfg.App.AlertSlackWebhook != "" {
		alertMgr.AddChannel(alert.NewSlackChannel(app.Cfg.App.AlertSlackWebhook))
	}
	if app.Cfg.App.AlertTelegramChatID != "" {
		alertMgr.AddChannel(alert.NewTelegramChannel(os.Getenv("TELEGRAM_BOT_TOKEN"), app.Cfg.App.AlertTelegramChatID))
	}
	var escalationChannel core.AlertChannel
	if app.Cfg.App.AlertWebhookURL != "" {
		webhookChannel := alert.NewWebhookChannel(app.Cfg.App.AlertWebhookURL)
		alertMgr.AddChannel(webhookChannel)
		escalationChannel = webhookChannel
	}
	alertPipeline := alert.NewPipeline(alertMgr, escalationChannel, app.Logger)

	orch := orchestrator.New(app.Cfg, app.Logger, exch, store, alertPipeline, persistent)
	flusher := statestore.NewFlusher(store, persistent, time.Duration(app.Cfg.App.PersistIntervalSec)*time.Second, app.Logger)
	metricsSrv := telemetry.NewMetricsServer(app.Cfg.App.MetricsPort)

	if *once {
		runner := &cycleRunner{orch: orch, logger: app.Logger}
		if err := app.Run(runner); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := app.Run(orch, flusher, metricsSrv); err != nil {
		os.Exit(1)
	}
}
