// Package orchestrator drives the single-threaded trading cycle: the
// fixed, strictly-ordered stage pipeline that builds a picture of the
// market and the account, decides what (if anything) to trade, and
// reconciles the result, once per interval. It is grounded on the
// teacher's errgroup+signal.NotifyContext application lifecycle
// (internal/bootstrap/app.go), generalized from "run N independent
// long-lived workers" to "run one worker whose body is a 15-stage
// pipeline, timed and budgeted stage by stage."
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"cbtrader/internal/alert"
	"cbtrader/internal/config"
	"cbtrader/internal/core"
	"cbtrader/internal/execution"
	"cbtrader/internal/housekeeping"
	"cbtrader/internal/portfolio"
	"cbtrader/internal/regime"
	"cbtrader/internal/risk"
	"cbtrader/internal/signal"
	"cbtrader/internal/strategy"
	"cbtrader/internal/universe"
	apperrors "cbtrader/pkg/errors"
	"cbtrader/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// maxConsecutiveAPIErrors gates risk check 2 (exchange connectivity).
// There is no dedicated policy.yaml field for this — it is a hard-coded
// circuit-of-last-resort, distinct from the configurable global circuit
// breaker that trips on realized PnL.
const maxConsecutiveAPIErrors = 5

// exceptionBurstWindow and exceptionBurstThreshold implement the
// escalation rule: two top-of-cycle exceptions within five minutes raise
// a CRITICAL alert instead of being logged and swallowed individually.
const exceptionBurstWindow = 5 * time.Minute
const exceptionBurstThreshold = 2

// rejectionBurstWindow and rejectionBurstThreshold implement the WARNING
// alert for an order-rejection burst: 3 or more execution failures within
// 10 minutes usually means an exchange-side or config problem, not noise.
const rejectionBurstWindow = 10 * time.Minute
const rejectionBurstThreshold = 3

// apiErrorBurstThreshold implements the WARNING alert for an API error
// burst: 2 consecutive failed calls is worth paging on even though
// maxConsecutiveAPIErrors (the connectivity kill switch) is much higher.
const apiErrorBurstThreshold = 2

// Orchestrator wires every independently-testable subsystem together and
// drives RunCycle on a timer. It implements bootstrap.Runner so
// App.Run can manage its lifecycle alongside the state-store flusher and
// the metrics HTTP server.
type Orchestrator struct {
	cfg      *config.Config
	logger   core.ILogger
	exchange core.IExchange
	store    core.StateStore
	alerts   *alert.Pipeline
	metrics  *telemetry.Holder
	clock    core.Clock

	universeMgr  *universe.Manager
	signalMgr    *signal.Manager
	strategyMgr  *strategy.Manager
	riskEngine   *risk.Engine
	globalBreaker *risk.CircuitBreaker
	execEngine   *execution.Engine
	execCfg      execution.Config
	trimmer      *execution.Trimmer
	purger       *execution.Purger
	regimeDet    *regime.Detector
	rollover     *portfolio.RolloverTracker
	portfolioBld *portfolio.Builder
	keeper       *housekeeping.Keeper

	mu                   sync.Mutex
	persistent           *core.PersistentState
	firstCycle           bool
	cycleCount           int64
	currentRegime        core.Regime
	cachedUniverse       *core.UniverseSnapshot
	cachedUniverseRegime core.Regime
	consecutiveAPIErrors int
	recentExceptions     []time.Time
	recentRejections     []time.Time
	apiErrorBurstAlerted bool
}

// New wires every subsystem package against the loaded config. store must
// already be loaded (callers fetch its PersistentState up front so a
// startup failure surfaces before the first cycle, not mid-cycle).
func New(cfg *config.Config, logger core.ILogger, exchange core.IExchange, store core.StateStore, alerts *alert.Pipeline, persistent *core.PersistentState) *Orchestrator {
	policy := risk.NewPolicy(cfg.Policy)
	execCfg := execution.NewConfig(cfg.Policy)

	globalBreaker := risk.NewCircuitBreaker("global", risk.CircuitConfig{
		MaxConsecutiveLosses: cfg.Policy.CircuitBreakerMaxLosses,
		MaxDrawdownAmount:    decimal.Zero, // the HWM-relative drawdown check already lives in risk.Engine.Evaluate
		CooldownPeriod:       time.Duration(cfg.Policy.CircuitBreakerCooldownSec) * time.Second,
	})

	execEngine := execution.NewEngine(exchange, execCfg, logger, core.SystemClock{})

	keeper := housekeeping.New(logger)
	mustRegister := func(spec, name string, run housekeeping.JobFunc) {
		if err := keeper.Register(spec, name, run); err != nil {
			logger.Error("housekeeping job registration failed", "job", name, "error", err.Error())
		}
	}
	mustRegister("0 * * * *", "reset_hourly_counter", housekeeping.ResetHourlyCounter)
	mustRegister("0 0 * * *", "reset_daily_counter", housekeeping.ResetDailyCounter)
	mustRegister("*/5 * * * *", "sweep_expired_bans", housekeeping.SweepExpiredBans)
	mustRegister("*/5 * * * *", "sweep_stale_purge_failures", housekeeping.SweepStalePurgeFailures)

	o := &Orchestrator{
		cfg:           cfg,
		logger:        logger.WithField("component", "orchestrator"),
		exchange:      exchange,
		store:         store,
		alerts:        alerts,
		metrics:       telemetry.Global(),
		clock:         core.SystemClock{},
		universeMgr:   universe.NewManager(cfg.Universe, exchange, logger),
		signalMgr:     signal.NewManager(cfg.Signals, logger),
		strategyMgr:   strategy.NewManager(cfg.Strategies, logger),
		riskEngine:    risk.NewEngine(policy, globalBreaker, logger),
		globalBreaker: globalBreaker,
		execEngine:    execEngine,
		execCfg:       execCfg,
		trimmer:       execution.NewTrimmer(execEngine, execCfg, logger),
		purger:        execution.NewPurger(execEngine, execCfg, logger),
		regimeDet:     regime.NewDetector(cfg.Policy.Regime, logger),
		rollover:      portfolio.NewRolloverTracker(),
		portfolioBld:  portfolio.NewBuilder(cfg.App.QuoteCurrency, execCfg.MinLiquidationValueUSD),
		keeper:        keeper,
		persistent:    persistent,
		firstCycle:    true,
		currentRegime: core.RegimeChop,
	}

	for clientID, order := range persistent.PendingOrders {
		order.ClientOrderID = clientID
		o.execEngine.States().Track(order)
	}

	return o
}

// Run implements bootstrap.Runner: loop RunCycle until ctx is canceled,
// sleeping between cycles with jitter and exposure-driven backoff. A
// SIGINT/SIGTERM-triggered ctx cancellation is honored after the current
// cycle finishes, never mid-cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.cfg.App.CycleInterval()
	jitter := o.cfg.App.Jitter()

	for {
		select {
		case <-ctx.Done():
			o.shutdown(context.Background())
			return nil
		default:
		}

		start := time.Now()
		outcome, record, err := o.RunCycle(ctx)
		elapsed := time.Since(start)

		if err != nil {
			o.logger.Error("cycle failed", "error", err.Error(), "outcome", outcome)
		}
		if record != nil {
			record.Emit(o.logger)
		}

		sleep := o.nextSleep(interval, jitter, elapsed)
		select {
		case <-ctx.Done():
			o.shutdown(context.Background())
			return nil
		case <-time.After(sleep):
		}
	}
}

// nextSleep applies a random jitter of up to ±jitter (app.yaml's
// jitter_seconds), plus an auto-backoff extension
// when the cycle itself ran longer than the configured interval (cycle
// utilization > 100% of budget).
func (o *Orchestrator) nextSleep(interval, jitter time.Duration, elapsed time.Duration) time.Duration {
	base := interval
	if jitter > 0 {
		delta := time.Duration(rand.Int63n(int64(jitter)*2+1)) - jitter
		base += delta
	}
	if elapsed > interval {
		base += elapsed - interval
	}
	if base < 0 {
		base = 0
	}
	return base
}

// shutdown cancels every active order (batch, falling back to
// individual), flushes state, and emits a cleanup summary. Called once,
// after the in-flight cycle (if any) completes.
func (o *Orchestrator) shutdown(ctx context.Context) {
	o.logger.Info("shutdown requested, cleaning up")

	open := o.execEngine.States().Open()
	ids := make([]string, 0, len(open))
	for _, ord := range open {
		if ord.ExchangeOrderID != "" {
			ids = append(ids, ord.ExchangeOrderID)
		}
	}

	if len(ids) > 0 {
		if err := o.exchange.CancelOrders(ctx, ids); err != nil {
			o.logger.Warn("batch cancel failed on shutdown, falling back to individual cancels", "error", err.Error())
			for _, id := range ids {
				if cerr := o.exchange.CancelOrder(ctx, id); cerr != nil {
					o.logger.Error("individual cancel failed on shutdown", "exchange_order_id", id, "error", cerr.Error())
				}
			}
		}
	}

	if err := o.store.Save(ctx, o.persistent); err != nil {
		o.logger.Error("final state save failed on shutdown", "error", err.Error())
	}

	o.logger.Info("shutdown cleanup complete", "orders_canceled", len(ids), "cycles_run", o.cycleCount)
}

// RunCycle drives the 15-stage pipeline once. Stage failures that aren't
// the kill switch or a termination signal are logged and turn the cycle
// into an ERROR outcome rather than propagating — a single bad cycle must
// never crash the process.
func (o *Orchestrator) RunCycle(ctx context.Context) (core.CycleOutcome, *AuditRecord, error) {
	cycleStart := time.Now()
	o.mu.Lock()
	o.cycleCount++
	cycleNum := o.cycleCount
	o.mu.Unlock()

	record := &AuditRecord{CycleNumber: cycleNum, Timestamp: cycleStart}

	outcome, err := o.runStages(ctx, record)
	if err != nil {
		o.recordException(ctx, err)
		outcome = core.OutcomeError
		record.Error = err.Error()
	}

	record.Outcome = outcome
	record.CycleDurationMs = time.Since(cycleStart).Milliseconds()
	o.metrics.CyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	o.metrics.CycleDuration.Record(ctx, float64(record.CycleDurationMs))

	budget := o.cfg.Policy.Latency.TotalCycleMs
	if budget > 0 && record.CycleDurationMs > int64(budget) {
		o.alerts.Notify(ctx, core.SeverityWarning, "cycle latency budget exceeded",
			fmt.Sprintf("cycle %d took %dms, budget %dms", cycleNum, record.CycleDurationMs, budget), nil)
	}

	return outcome, record, nil
}

// alertOnHaltReason fires the CRITICAL alert for the three risk-engine
// halt reasons that risk.Engine.Evaluate itself has no alert pipeline
// access to raise: a batch-level reject on daily stop, weekly stop, or
// max-drawdown is a portfolio-wide event worth paging on, not just a
// no_trade_reason metric label.
func (o *Orchestrator) alertOnHaltReason(ctx context.Context, reason string) {
	var title string
	switch reason {
	case apperrors.ReasonDailyStop:
		title = "daily stop-loss hit"
	case apperrors.ReasonWeeklyStop:
		title = "weekly stop-loss hit"
	case apperrors.ReasonMaxDrawdown:
		title = "max drawdown breached"
	default:
		return
	}
	o.alerts.Notify(ctx, core.SeverityCritical, title,
		fmt.Sprintf("risk engine halted all proposals: %s", reason), nil)
}

// recordException folds a stage error into the 5-minute exception-burst
// window and escalates to CRITICAL on the second exception in that
// window, per the error-handling design's top-of-cycle catch-and-continue
// rule.
func (o *Orchestrator) recordException(ctx context.Context, err error) {
	now := time.Now()
	o.mu.Lock()
	cutoff := now.Add(-exceptionBurstWindow)
	kept := o.recentExceptions[:0]
	for _, ts := range o.recentExceptions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	o.recentExceptions = kept
	count := len(o.recentExceptions)
	o.mu.Unlock()

	o.logger.Error("cycle stage error", "error", err.Error(), "exceptions_in_window", count)
	if count >= exceptionBurstThreshold {
		o.alerts.Notify(ctx, core.SeverityCritical, "exception burst",
			fmt.Sprintf("%d cycle exceptions within %s: %s", count, exceptionBurstWindow, err.Error()), nil)
	}
}

// stageTimer times one pipeline stage, records it into the stage-duration
// histogram, and emits a WARNING alert (never a hard failure) if it
// overran its configured budget.
func (o *Orchestrator) stageTimer(ctx context.Context, name string, budgetMs int) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		o.metrics.StageDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("stage", name)))
		if budgetMs > 0 && elapsed.Milliseconds() > int64(budgetMs) {
			o.alerts.Notify(ctx, core.SeverityWarning, "stage latency budget exceeded",
				fmt.Sprintf("stage %q took %dms, budget %dms", name, elapsed.Milliseconds(), budgetMs), nil)
		}
	}
}

// runStages executes the 15-stage pipeline in order, filling record in
// place, and returns the outcome once execution/reconciliation settle.
func (o *Orchestrator) runStages(ctx context.Context, record *AuditRecord) (core.CycleOutcome, error) {
	now := o.clock.Now()
	lat := o.cfg.Policy.Latency

	// Stage 0 (folded into stage 1): kill switch sentinel scan, every
	// cycle, ahead of everything else so a dropped file is honored within
	// the configured detection budget regardless of what else is slow.
	done := o.stageTimer(ctx, "kill_switch_check", lat.KillSwitchCheckMs)
	o.checkKillSwitch(ctx)
	done()

	o.keeper.Sweep(now, o.persistent)

	// Stage 1: startup validations, first cycle only.
	if o.firstCycle {
		done = o.stageTimer(ctx, "startup_validations", 0)
		o.runStartupValidations(ctx)
		done()
		o.firstCycle = false
	}

	// Stage 2: reconcile open orders, clearing ghost markers first.
	done = o.stageTimer(ctx, "reconcile_open_orders", lat.ReconciliationMs)
	canceledStale := o.reconcileOpenOrders(ctx)
	record.CanceledStale = canceledStale
	done()

	// Stage 3: build portfolio state.
	done = o.stageTimer(ctx, "build_portfolio", 0)
	accounts, err := o.exchange.GetAccounts(ctx)
	o.noteAPIResult(err)
	if err != nil {
		done()
		return core.OutcomeError, fmt.Errorf("get accounts: %w", err)
	}
	products, err := o.exchange.ListProducts(ctx)
	o.noteAPIResult(err)
	if err != nil {
		done()
		return core.OutcomeError, fmt.Errorf("list products: %w", err)
	}
	productBySymbol := make(map[string]core.Product, len(products))
	for _, p := range products {
		productBySymbol[p.Symbol] = p
	}
	prices := o.fetchPrices(ctx, o.positionSymbols())
	portfolioState := o.portfolioBld.Build(accounts, prices, o.persistent)
	o.rollover.Update(now, portfolioState.NAV, o.persistent)
	record.NAV = portfolioState.NAV.String()
	record.TotalExposurePct = portfolioState.TotalExposurePct.String()
	done()

	// Stage 4: build UniverseSnapshot, cache-aware, force-refresh when the
	// regime detected in a prior cycle changed since the cached build.
	done = o.stageTimer(ctx, "build_universe", lat.UniverseBuildMs)
	snapshot, err := o.buildUniverse(ctx, now)
	done()
	if err != nil {
		return core.OutcomeError, fmt.Errorf("build universe: %w", err)
	}
	record.EligibleCount = len(snapshot.AllEligible())

	// Stage 5: detect regime from breadth + volume-weighted index return,
	// feeding both this cycle's signal scan and the next cycle's universe
	// cache-invalidation check.
	done = o.stageTimer(ctx, "detect_regime", 0)
	detectedRegime := o.detectRegime(ctx, snapshot)
	o.currentRegime = detectedRegime
	record.Regime = detectedRegime
	done()

	// Stage 6: scan triggers.
	done = o.stageTimer(ctx, "scan_triggers", lat.SignalScanMs)
	triggers := o.scanTriggers(ctx, snapshot, detectedRegime)
	record.TriggerCount = len(triggers)
	done()

	// Stage 7: auto-trim if exposure cap breached.
	done = o.stageTimer(ctx, "auto_trim", 0)
	record.TrimmedSymbols = o.autoTrim(ctx, portfolioState, productBySymbol)
	done()

	// Stage 8: purge ineligible/banned holdings.
	done = o.stageTimer(ctx, "purge", 0)
	record.PurgedSymbols = o.purgeIneligible(ctx, snapshot, productBySymbol, now)
	done()

	// Stage 9: generate proposals.
	done = o.stageTimer(ctx, "generate_proposals", 0)
	sctx := core.StrategyContext{
		Universe:   snapshot,
		Triggers:   triggers,
		Regime:     detectedRegime,
		Timestamp:  now,
		Portfolio:  portfolioState,
		Persistent: o.persistent,
	}
	proposals := o.strategyMgr.Generate(sctx)
	record.ProposalCount = len(proposals)
	done()

	if len(proposals) == 0 {
		o.metrics.NoTradeReason.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "no_proposals")))
		if saveErr := o.store.Save(ctx, o.persistent); saveErr != nil {
			o.logger.Error("state save failed", "error", saveErr.Error())
		}
		return core.OutcomeNoTrade, nil
	}

	// Stage 10: risk check.
	done = o.stageTimer(ctx, "risk_check", lat.RiskCheckMs)
	connectivityOK := o.consecutiveAPIErrors < maxConsecutiveAPIErrors
	result := o.riskEngine.Evaluate(proposals, portfolioState, o.persistent, productBySymbol, connectivityOK)
	record.RejectedSymbols = result.ProposalRejections
	record.ApprovedCount = len(result.ApprovedProposals)
	done()

	if !result.Approved && len(result.ApprovedProposals) == 0 {
		o.metrics.NoTradeReason.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", result.Reason)))
		o.alertOnHaltReason(ctx, result.Reason)
		if saveErr := o.store.Save(ctx, o.persistent); saveErr != nil {
			o.logger.Error("state save failed", "error", saveErr.Error())
		}
		return core.OutcomeNoTrade, nil
	}

	// Stage 11: execute approved proposals.
	done = o.stageTimer(ctx, "execute_approved", lat.ExecutionMs)
	executed := o.executeApproved(ctx, result.ApprovedProposals, portfolioState, productBySymbol, now)
	for _, ord := range executed {
		record.ExecutedOrders = append(record.ExecutedOrders, ord.ClientOrderID)
	}
	done()

	// Stage 12: post-trade wait then reconcile fills.
	done = o.stageTimer(ctx, "post_trade_reconcile", lat.ReconciliationMs)
	if o.execCfg.PostTradeReconcileWait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(o.execCfg.PostTradeReconcileWait):
		}
	}
	o.reconcileAndApplyFills(ctx, executed)
	done()

	// Stage 13: manage open orders (cancel stale).
	done = o.stageTimer(ctx, "manage_open_orders", 0)
	staleMaxAge := time.Duration(o.cfg.Policy.StaleOrderMaxAgeSec) * time.Second
	canceled := o.execEngine.CancelStaleOrders(ctx, staleMaxAge)
	record.CanceledStale += len(canceled)
	done()

	// Stage 14 (write audit record) happens in the caller once the
	// outcome is known; stage 15 (sleep with jitter) happens in Run.
	if saveErr := o.store.Save(ctx, o.persistent); saveErr != nil {
		o.logger.Error("state save failed", "error", saveErr.Error())
	}

	if len(executed) == 0 {
		return core.OutcomeNoTrade, nil
	}
	return core.OutcomeTrade, nil
}

// checkKillSwitch sets persistent.KillSwitchActive from the sentinel
// file's presence. A present file always wins; its absence only clears a
// previously-set flag when the flag was set by this same check (an
// operator using the in-state flag directly, e.g. via a future admin API,
// is left alone).
func (o *Orchestrator) checkKillSwitch(ctx context.Context) {
	path := o.cfg.App.KillSwitchFilePath
	if path == "" {
		return
	}
	present := killSwitchFileExists(path)
	if present && !o.persistent.KillSwitchActive {
		o.persistent.KillSwitchActive = true
		o.globalBreaker.Trip("kill_switch_file")
		o.alerts.Notify(ctx, core.SeverityCritical, "kill switch activated",
			fmt.Sprintf("sentinel file %s present", path), nil)
	} else if !present && o.persistent.KillSwitchActive {
		o.persistent.KillSwitchActive = false
		o.logger.Warn("kill switch sentinel file removed, resuming trading")
	}
}

// runStartupValidations performs the first-cycle-only checks: config is
// already validated at load time, so this stage logs the resolved mode
// and the adapter's read-only flag, and raises a CRITICAL alert when LIVE
// mode runs on a read-only adapter. No clock-skew check is made.
func (o *Orchestrator) runStartupValidations(ctx context.Context) {
	o.logger.Info("startup validations", "mode", o.cfg.App.Mode, "read_only", o.exchange.ReadOnly())
	if o.cfg.App.Mode == string(core.ModeLive) && o.exchange.ReadOnly() {
		o.alerts.Notify(ctx, core.SeverityCritical, "read-only mismatch",
			"LIVE mode requires a non-read-only exchange adapter", nil)
	}
}

// reconcileOpenOrders fetches the exchange's open orders and runs them
// through the ghost filter (the filtered list is not used further; the
// risk engine's pending-buy check reads PersistentState.PendingOrders),
// then pulls fresh fills for every still-tracked order so stage 3's
// portfolio build sees up-to-date pending-order state. Finally it cancels
// tracked orders older than stale_order_max_age_seconds, drops every
// terminal order from PendingOrders, and returns how many it canceled.
func (o *Orchestrator) reconcileOpenOrders(ctx context.Context) int {
	openOnExchange, err := o.exchange.ListOpenOrders(ctx)
	o.noteAPIResult(err)
	if err == nil {
		o.execEngine.Ghosts().Filter(openOnExchange)
	}

	for _, ord := range o.execEngine.States().Open() {
		if rerr := o.execEngine.Reconcile(ctx, ord); rerr != nil {
			o.logger.Error("reconcile open order failed", "client_order_id", ord.ClientOrderID, "error", rerr.Error())
			continue
		}
		o.applyOrderToPersistent(ord)
	}

	canceled := o.execEngine.CancelStaleOrders(ctx, time.Duration(o.cfg.Policy.StaleOrderMaxAgeSec)*time.Second)
	for id, ord := range o.persistent.PendingOrders {
		if ord.Status.IsTerminal() {
			delete(o.persistent.PendingOrders, id)
		}
	}
	return len(canceled)
}

// fetchPrices gets the current mid for every symbol the caller needs
// priced, skipping symbols whose quote fetch errors (the stale cached
// price, if any, stays on the position rather than being zeroed).
func (o *Orchestrator) fetchPrices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		q, err := o.exchange.GetQuote(ctx, sym)
		o.noteAPIResult(err)
		if err != nil {
			continue
		}
		prices[sym] = q.Mid
	}
	return prices
}

func (o *Orchestrator) positionSymbols() []string {
	out := make([]string, 0, len(o.persistent.Positions))
	for sym := range o.persistent.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// buildUniverse reuses the last cycle's snapshot when the regime hasn't
// changed since it was built (the cache-aware half of stage 4); any
// regime change forces a fresh build.
func (o *Orchestrator) buildUniverse(ctx context.Context, now time.Time) (*core.UniverseSnapshot, error) {
	if o.cachedUniverse != nil && o.cachedUniverseRegime == o.currentRegime {
		return o.cachedUniverse, nil
	}
	snapshot, err := o.universeMgr.Build(ctx, o.currentRegime, o.persistent.RedFlagBans, now)
	if err != nil {
		return nil, err
	}
	if len(snapshot.AllEligible()) < o.cfg.Universe.MinEligibleAssets {
		o.alerts.Notify(ctx, core.SeverityCritical, "empty universe",
			fmt.Sprintf("only %d eligible assets, floor is %d", len(snapshot.AllEligible()), o.cfg.Universe.MinEligibleAssets), nil)
	}
	o.cachedUniverse = snapshot
	o.cachedUniverseRegime = o.currentRegime
	return snapshot, nil
}

// detectRegime feeds the detector from the just-built universe's eligible
// symbols; when that set is empty (typically because the prior regime was
// Crash and the universe came back empty), it falls back to a basket of
// whatever products the exchange lists, so a recovery can still be seen.
func (o *Orchestrator) detectRegime(ctx context.Context, snapshot *core.UniverseSnapshot) core.Regime {
	symbols := snapshot.AllEligible()
	if len(symbols) == 0 {
		products, err := o.exchange.ListProducts(ctx)
		o.noteAPIResult(err)
		if err == nil {
			for _, p := range products {
				symbols = append(symbols, p.Symbol)
			}
		}
	}

	lookback := time.Duration(o.cfg.Policy.Regime.LookbackBars+1) * time.Hour
	candles := make(map[string][]core.Candle, len(symbols))
	for _, sym := range symbols {
		series, err := o.exchange.GetOHLCV(ctx, sym, "ONE_HOUR", lookback)
		o.noteAPIResult(err)
		if err != nil || len(series) < 2 {
			continue
		}
		candles[sym] = series
	}

	returns := regime.ReturnsFromCandles(candles, o.cfg.Policy.Regime.LookbackBars)
	return o.regimeDet.Detect(returns)
}

// scanTriggers builds one AssetCandles per eligible symbol (fine 1-minute
// bars for price-move/outlier, coarse hourly bars for momentum/mean
// reversion) and runs them through the signal registry.
func (o *Orchestrator) scanTriggers(ctx context.Context, snapshot *core.UniverseSnapshot, regimeNow core.Regime) []core.TriggerSignal {
	var assets []signal.AssetCandles
	for tier, symbols := range snapshot.EligibleByTier {
		for _, sym := range symbols {
			fine, err := o.exchange.GetOHLCV(ctx, sym, "ONE_MINUTE", 90*time.Minute)
			o.noteAPIResult(err)
			coarse, err2 := o.exchange.GetOHLCV(ctx, sym, "ONE_HOUR", 48*time.Hour)
			o.noteAPIResult(err2)
			if err != nil && err2 != nil {
				continue
			}
			assets = append(assets, signal.AssetCandles{
				Asset:  core.Asset{Symbol: sym, Tier: tier},
				Fine:   fine,
				Coarse: coarse,
			})
		}
	}
	return o.signalMgr.Scan(assets, regimeNow, o.persistent)
}

// autoTrim liquidates down to the exposure cap via TWAP when
// total_exposure_pct has breached max_exposure_pct.
func (o *Orchestrator) autoTrim(ctx context.Context, portfolioState *core.PortfolioState, products map[string]core.Product) []string {
	maxExposure := decimal.NewFromFloat(o.cfg.Policy.MaxExposurePct)
	if maxExposure.IsZero() || portfolioState.TotalExposurePct.LessThanOrEqual(maxExposure) {
		return nil
	}
	excessPct := portfolioState.TotalExposurePct.Sub(maxExposure)
	excessUSD := excessPct.Mul(portfolioState.NAV)

	candidates := execution.SelectTrimCandidates(o.persistent.Positions, o.execCfg.MinLiquidationValueUSD)
	symbols := make([]string, 0, len(candidates))
	for _, c := range candidates {
		symbols = append(symbols, c.Symbol)
	}
	quotes := o.quotesFor(ctx, symbols)

	results := o.trimmer.Trim(ctx, excessUSD, candidates, quotes, products)
	var trimmed []string
	for _, r := range results {
		trimmed = append(trimmed, r.Symbol)
		if r.Err != nil {
			o.logger.Warn("trim attempt failed", "symbol", r.Symbol, "error", r.Err.Error())
		}
	}
	if o.trimmer.ShouldEscalate() {
		o.alerts.Notify(ctx, core.SeverityCritical, "auto-trim failing repeatedly",
			fmt.Sprintf("%d consecutive trim attempts produced no fill", o.trimmer.ConsecutiveFailures()), nil)
	}
	return trimmed
}

// purgeIneligible liquidates holdings in symbols the universe snapshot
// excluded (ineligible or red-flag-banned), skipping any still inside
// their failure backoff window.
func (o *Orchestrator) purgeIneligible(ctx context.Context, snapshot *core.UniverseSnapshot, products map[string]core.Product, now time.Time) []string {
	var targets []string
	for sym := range snapshot.Excluded {
		if _, held := o.persistent.Positions[sym]; !held {
			continue
		}
		if execution.ShouldSkip(o.persistent.PurgeFailures, sym, now) {
			continue
		}
		targets = append(targets, sym)
	}
	if len(targets) == 0 {
		return nil
	}

	quotes := o.quotesFor(ctx, targets)
	results := o.purger.Purge(ctx, targets, o.persistent.Positions, quotes, products, o.persistent.PurgeFailures, now)

	var purged []string
	for _, r := range results {
		purged = append(purged, r.Symbol)
	}
	return purged
}

func (o *Orchestrator) quotesFor(ctx context.Context, symbols []string) map[string]core.Quote {
	quotes := make(map[string]core.Quote, len(symbols))
	for _, sym := range symbols {
		q, err := o.exchange.GetQuote(ctx, sym)
		o.noteAPIResult(err)
		if err != nil {
			continue
		}
		quotes[sym] = q
	}
	return quotes
}

// executeApproved places one maker-first/taker-fallback order per
// approved proposal, sizing from NAV × size_pct and capping SELL size at
// the held position so a signal can never oversell.
func (o *Orchestrator) executeApproved(ctx context.Context, approved []core.TradeProposal, portfolioState *core.PortfolioState, products map[string]core.Product, now time.Time) []*core.Order {
	var executed []*core.Order
	for _, p := range approved {
		quote, err := o.exchange.GetQuote(ctx, p.Symbol)
		o.noteAPIResult(err)
		if err != nil || !quote.Mid.IsPositive() {
			o.logger.Warn("skipping proposal, no quote available", "symbol", p.Symbol)
			continue
		}
		product, ok := products[p.Symbol]
		if !ok {
			o.logger.Warn("skipping proposal, no product metadata", "symbol", p.Symbol)
			continue
		}

		notional := portfolioState.NAV.Mul(p.SizePct)
		sizeBase := notional.Div(quote.Mid)
		if p.Side == core.SideSell {
			if pos, held := o.persistent.Positions[p.Symbol]; held && sizeBase.GreaterThan(pos.QuantityBase) {
				sizeBase = pos.QuantityBase
			}
		}
		if !sizeBase.IsPositive() {
			continue
		}

		order, perr := o.execEngine.Place(ctx, p.Symbol, p.Side, sizeBase, quote, product, p.StrategyName)
		o.noteAPIResult(perr)
		if perr != nil {
			o.metrics.OrderRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "execution_error")))
			o.logger.Error("order placement failed", "symbol", p.Symbol, "error", perr.Error())
			o.recordOrderRejection(ctx, now)
			continue
		}
		if p.Side == core.SideSell && p.StopLossPct != nil {
			order.ExitReason = "stop_loss"
		}

		executed = append(executed, order)
		o.persistent.PendingOrders[order.ClientOrderID] = order
		o.persistent.LastTradeTS = now
		o.persistent.PerSymbolLastTrade[p.Symbol] = now
		o.persistent.HourlyTradeCount++
		o.persistent.DailyTradeCount++
	}
	return executed
}

// reconcileAndApplyFills pulls fills for every just-placed order and folds
// any new ones into persistent.Positions and the global circuit breaker's
// realized-PnL tally.
func (o *Orchestrator) reconcileAndApplyFills(ctx context.Context, executed []*core.Order) {
	for _, ord := range executed {
		if err := o.execEngine.Reconcile(ctx, ord); err != nil {
			o.logger.Error("post-trade reconcile failed", "client_order_id", ord.ClientOrderID, "error", err.Error())
			continue
		}
		o.applyOrderToPersistent(ord)
	}
}

// applyOrderToPersistent folds a reconciled order's fills into its
// position (weighted-average entry on a buy, proportional reduction on a
// sell, realized PnL recorded against the global circuit breaker), stamps
// the per-symbol cooldown tier (win/loss/stop-out) a closed sell earns,
// tracks pyramiding adds on a buy into an already-held position, and
// drops the order from PendingOrders once it reaches a terminal state.
func (o *Orchestrator) applyOrderToPersistent(ord *core.Order) {
	minNotional := decimal.NewFromFloat(o.cfg.Policy.MinNotionalUSD)

	if ord.FilledSize.IsPositive() {
		pos, existed := o.persistent.Positions[ord.Symbol]
		if !existed {
			pos = &core.Position{Symbol: ord.Symbol, EntryTime: ord.CreatedAt}
			o.persistent.Positions[ord.Symbol] = pos
		}

		if ord.Side == core.SideBuy {
			wasHeld := existed && !pos.IsDust(minNotional)

			totalCost := pos.AvgEntryPrice.Mul(pos.QuantityBase).Add(ord.FilledValue)
			pos.QuantityBase = pos.QuantityBase.Add(ord.FilledSize)
			if pos.QuantityBase.IsPositive() {
				pos.AvgEntryPrice = totalCost.Div(pos.QuantityBase)
			}

			if wasHeld {
				pos.AddCount++
				o.persistent.PyramidAddsToday[ord.Symbol]++
			}
		} else {
			realized := decimal.Zero
			if pos.AvgEntryPrice.IsPositive() {
				fillPrice := decimal.Zero
				if ord.FilledSize.IsPositive() {
					fillPrice = ord.FilledValue.Div(ord.FilledSize)
				}
				realized = fillPrice.Sub(pos.AvgEntryPrice).Mul(ord.FilledSize).Sub(ord.Fees)
			}
			o.globalBreaker.RecordTrade(realized)
			o.applyCooldownTier(ord, realized)

			pos.QuantityBase = pos.QuantityBase.Sub(ord.FilledSize)
			if !pos.QuantityBase.IsPositive() {
				delete(o.persistent.Positions, ord.Symbol)
			}
		}
	}

	if ord.Status.IsTerminal() {
		delete(o.persistent.PendingOrders, ord.ClientOrderID)
	}
}

// applyCooldownTier records a per-symbol cooldown after a closed sell:
// a stop-loss exit (order.ExitReason == "stop_loss") earns the long
// stop-out cooldown regardless of realized PnL sign, any other losing
// close earns the medium loss cooldown, and a win earns the short
// cooldown. A zero-length tier (policy left it unset) records no
// cooldown at all.
func (o *Orchestrator) applyCooldownTier(ord *core.Order, realized decimal.Decimal) {
	win, loss, stopOut := o.riskEngine.CooldownDurations()

	var tier time.Duration
	var reason string
	switch {
	case ord.ExitReason == "stop_loss":
		tier, reason = stopOut, "cooldown_stop_out"
	case realized.IsNegative():
		tier, reason = loss, "cooldown_loss"
	default:
		tier, reason = win, "cooldown_win"
	}

	if tier <= 0 {
		return
	}
	o.persistent.Cooldowns[ord.Symbol] = core.Cooldown{
		Until:  o.clock.Now().Add(tier),
		Reason: reason,
	}
}

// noteAPIResult updates the consecutive-API-error streak risk check 2
// reads, the matching otel counter/gauge, and fires the WARNING alert the
// first time a streak crosses apiErrorBurstThreshold (reset once a call
// succeeds, so the next burst can alert again).
func (o *Orchestrator) noteAPIResult(err error) {
	o.mu.Lock()
	if err != nil {
		o.consecutiveAPIErrors++
		o.metrics.APIErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", apperrors.ErrorType(err))))
		o.metrics.SetAPIConsecutiveErrors(o.consecutiveAPIErrors)
		streak := o.consecutiveAPIErrors
		shouldAlert := streak >= apiErrorBurstThreshold && !o.apiErrorBurstAlerted
		if shouldAlert {
			o.apiErrorBurstAlerted = true
		}
		o.mu.Unlock()
		if shouldAlert {
			o.alerts.Notify(context.Background(), core.SeverityWarning, "API error burst",
				fmt.Sprintf("%d consecutive exchange API errors, latest: %s", streak, err.Error()), nil)
		}
		return
	}
	o.consecutiveAPIErrors = 0
	o.apiErrorBurstAlerted = false
	o.metrics.SetAPIConsecutiveErrors(0)
	o.mu.Unlock()
}

// recordOrderRejection folds an execution failure into the 10-minute
// rejection-burst window and fires a WARNING alert once the count crosses
// rejectionBurstThreshold, per the error-handling design's order-rejection
// burst rule.
func (o *Orchestrator) recordOrderRejection(ctx context.Context, now time.Time) {
	o.mu.Lock()
	cutoff := now.Add(-rejectionBurstWindow)
	kept := o.recentRejections[:0]
	for _, ts := range o.recentRejections {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	o.recentRejections = kept
	count := len(o.recentRejections)
	o.mu.Unlock()

	if count >= rejectionBurstThreshold {
		o.alerts.Notify(ctx, core.SeverityWarning, "order rejection burst",
			fmt.Sprintf("%d order rejections within %s", count, rejectionBurstWindow), nil)
	}
}

// StateStore exposes the orchestrator's store, for the flusher runner
// bootstrap.App wires alongside it.
func (o *Orchestrator) StateStore() core.StateStore { return o.store }

// PersistentState exposes the live, in-memory document, for the flusher
// runner to snapshot.
func (o *Orchestrator) PersistentState() *core.PersistentState { return o.persistent }
