// Package risk holds the ordered pre-trade checks and the circuit
// breaker that gates trading off after a loss streak or drawdown.
package risk

import (
	"context"
	"fmt"
	"time"

	"cbtrader/internal/core"
	apperrors "cbtrader/pkg/errors"
	"cbtrader/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Policy is the resolved set of thresholds the engine checks against. It
// is built from policy.yaml at startup and never mutated mid-cycle.
type Policy struct {
	DailyStopLossPct     decimal.Decimal
	WeeklyStopLossPct    decimal.Decimal
	MaxDrawdownPct       decimal.Decimal
	GlobalSpacing        time.Duration
	MaxTradesPerHour     int
	MaxTradesPerDay      int
	StrategyDailyBudget  map[string]int
	CooldownWin          time.Duration
	CooldownLoss         time.Duration
	CooldownStopOut      time.Duration
	SymbolPacing         time.Duration
	PyramidingEnabled    bool
	MaxAddsPerSymbol     int
	MaxPyramidPositions  int
	MaxExposurePct       decimal.Decimal
	MaxPerSymbolPct      decimal.Decimal
	ClusterOf            map[string]string
	ClusterExposureCaps  map[string]decimal.Decimal
	StrategyExposureCaps map[string]decimal.Decimal
	MaxOpenPositions     int
	MinNotional          decimal.Decimal
	TakerFeePct          decimal.Decimal
}

// Engine runs the ordered, short-circuiting pre-trade checks. Each
// check either rejects a specific proposal (recorded
// against that symbol, the rest keep going) or halts the whole batch
// (kill switch, connectivity, circuit breaker).
type Engine struct {
	policy    Policy
	logger    core.ILogger
	global    *CircuitBreaker
	perSymbol map[string]time.Time // last pacing check per symbol, in-cycle only
}

// NewEngine builds the risk engine against a resolved policy and the
// portfolio-level circuit breaker.
func NewEngine(policy Policy, global *CircuitBreaker, logger core.ILogger) *Engine {
	return &Engine{
		policy:    policy,
		logger:    logger.WithField("component", "risk_engine"),
		global:    global,
		perSymbol: make(map[string]time.Time),
	}
}

// CooldownDurations exposes the three resolved per-symbol cooldown tiers,
// for the orchestrator to apply when it records a closed trade against
// persistent.Cooldowns.
func (e *Engine) CooldownDurations() (win, loss, stopOut time.Duration) {
	return e.policy.CooldownWin, e.policy.CooldownLoss, e.policy.CooldownStopOut
}

// checkCtx bundles the read-only state every ordered check consults, plus
// the running exposure tallies the exposure-cap check (13) accumulates as
// proposals are approved within the same batch.
type checkCtx struct {
	proposals  []core.TradeProposal
	portfolio  *core.PortfolioState
	persistent *core.PersistentState
	products   map[string]core.Product
	now        time.Time

	strategyCount       map[string]int
	approvedExposurePct decimal.Decimal            // sum of approved SizePct this batch
	clusterHeldPct      map[string]decimal.Decimal // cluster -> current held exposure / NAV
	clusterApprovedPct  map[string]decimal.Decimal // cluster -> approved-this-batch exposure
	strategyApprovedPct map[string]decimal.Decimal // strategy -> approved-this-batch exposure
}

// clusterExposure returns cluster's current fraction of NAV: already-held
// positions plus whatever this batch has already approved into it.
func (c *checkCtx) clusterExposure(cluster string) decimal.Decimal {
	return c.clusterHeldPct[cluster].Add(c.clusterApprovedPct[cluster])
}

// Evaluate runs every proposal through the ordered checks and returns the
// approved subset plus a reason per rejected symbol. A batch-level halt
// (kill switch, connectivity, circuit breaker) rejects every proposal with
// the same reason and sets Approved=false.
func (e *Engine) Evaluate(
	proposals []core.TradeProposal,
	portfolio *core.PortfolioState,
	persistent *core.PersistentState,
	products map[string]core.Product,
	connectivityOK bool,
) core.RiskResult {
	now := time.Now()
	result := core.RiskResult{
		Approved:           true,
		ProposalRejections: make(map[string][]string),
	}

	if persistent.KillSwitchActive {
		return e.haltAll(proposals, apperrors.ReasonKillSwitch)
	}
	if !connectivityOK {
		return e.haltAll(proposals, apperrors.ReasonConnectivity)
	}
	if e.global != nil && e.global.IsTripped() {
		return e.haltAll(proposals, "circuit_breaker_open")
	}

	if !e.policy.DailyStopLossPct.IsZero() && portfolio.DailyPnLPct.LessThanOrEqual(e.policy.DailyStopLossPct.Neg()) {
		return e.haltAll(proposals, apperrors.ReasonDailyStop)
	}
	if !e.policy.WeeklyStopLossPct.IsZero() && portfolio.WeeklyPnLPct.LessThanOrEqual(e.policy.WeeklyStopLossPct.Neg()) {
		return e.haltAll(proposals, apperrors.ReasonWeeklyStop)
	}
	if !e.policy.MaxDrawdownPct.IsZero() && !portfolio.HighWaterMark.IsZero() {
		drawdown := portfolio.HighWaterMark.Sub(portfolio.NAV).Div(portfolio.HighWaterMark)
		if drawdown.GreaterThanOrEqual(e.policy.MaxDrawdownPct) {
			return e.haltAll(proposals, apperrors.ReasonMaxDrawdown)
		}
	}

	if e.policy.GlobalSpacing > 0 && !portfolio.LastTradeTS.IsZero() && now.Sub(portfolio.LastTradeTS) < e.policy.GlobalSpacing {
		return e.haltAll(proposals, apperrors.ReasonGlobalSpacing)
	}
	if e.policy.MaxTradesPerHour > 0 && persistent.HourlyTradeCount >= e.policy.MaxTradesPerHour {
		return e.haltAll(proposals, apperrors.ReasonHourlyCap)
	}
	if e.policy.MaxTradesPerDay > 0 && persistent.DailyTradeCount >= e.policy.MaxTradesPerDay {
		return e.haltAll(proposals, apperrors.ReasonDailyCap)
	}

	cctx := &checkCtx{
		proposals:           proposals,
		portfolio:           portfolio,
		persistent:          persistent,
		products:            products,
		now:                 now,
		strategyCount:       make(map[string]int),
		clusterHeldPct:      e.heldClusterExposure(portfolio),
		clusterApprovedPct:  make(map[string]decimal.Decimal),
		strategyApprovedPct: make(map[string]decimal.Decimal),
	}

	for _, p := range proposals {
		adjusted, reason, ok := e.checkProposal(cctx, p)
		if !ok {
			result.ProposalRejections[p.Symbol] = append(result.ProposalRejections[p.Symbol], reason)
			telemetry.Global().OrderRejections.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
			continue
		}
		result.ApprovedProposals = append(result.ApprovedProposals, adjusted)
		cctx.strategyCount[p.StrategyName]++
		cctx.approvedExposurePct = cctx.approvedExposurePct.Add(adjusted.SizePct)
		if cluster, ok := e.policy.ClusterOf[p.Symbol]; ok {
			cctx.clusterApprovedPct[cluster] = cctx.clusterApprovedPct[cluster].Add(adjusted.SizePct)
		}
		cctx.strategyApprovedPct[p.StrategyName] = cctx.strategyApprovedPct[p.StrategyName].Add(adjusted.SizePct)
	}

	if len(result.ApprovedProposals) == 0 && len(proposals) > 0 {
		result.Approved = false
		result.Reason = "all_proposals_rejected"
	}
	return result
}

// heldClusterExposure sums each cluster's currently-held (non-dust)
// position value as a fraction of NAV, using the symbol->cluster mapping
// from policy.yaml's symbol_clusters.
func (e *Engine) heldClusterExposure(portfolio *core.PortfolioState) map[string]decimal.Decimal {
	held := make(map[string]decimal.Decimal)
	if !portfolio.NAV.IsPositive() {
		return held
	}
	for symbol, pos := range portfolio.Positions {
		cluster, ok := e.policy.ClusterOf[symbol]
		if !ok || pos.IsDust(e.policy.MinNotional) {
			continue
		}
		held[cluster] = held[cluster].Add(pos.UsdValue.Abs().Div(portfolio.NAV))
	}
	return held
}

// checkProposal runs the per-symbol ordered checks: strategy budget,
// product status (fail-closed on a missing symbol), cooldown, pacing,
// pending-buy dedupe, pyramiding caps, exposure caps (resized down to
// fit rather than rejected outright), max open positions, and
// fee-aware sizing. Returns the possibly-resized proposal.
func (e *Engine) checkProposal(c *checkCtx, p core.TradeProposal) (core.TradeProposal, string, bool) {
	if budget, ok := e.policy.StrategyDailyBudget[p.StrategyName]; ok {
		if c.strategyCount[p.StrategyName] >= budget {
			return p, apperrors.ReasonStrategyBudget, false
		}
	}

	// Fail-closed: a symbol absent from the exchange's product list (e.g.
	// delisted between universe build and risk check, or a partial
	// adapter response) is treated the same as an explicitly untradable
	// status, not waved through.
	prod, ok := c.products[p.Symbol]
	if !ok || !prod.Status.Tradable() {
		return p, apperrors.ReasonProductStatus, false
	}

	if cd, ok := c.persistent.Cooldowns[p.Symbol]; ok && c.now.Before(cd.Until) {
		return p, apperrors.ReasonCooldown, false
	}

	if e.policy.SymbolPacing > 0 {
		if last, ok := c.portfolio.PerSymbolLastTrade[p.Symbol]; ok && c.now.Sub(last) < e.policy.SymbolPacing {
			return p, apperrors.ReasonSymbolPacing, false
		}
	}

	if p.Side == core.SideBuy {
		for _, ord := range c.portfolio.PendingOrders {
			if ord.Symbol == p.Symbol && ord.Side == core.SideBuy && !ord.Status.IsTerminal() {
				return p, apperrors.ReasonPendingBuyExists, false
			}
		}

		if pos, held := c.portfolio.Positions[p.Symbol]; held && !pos.IsDust(e.policy.MinNotional) {
			if !e.policy.PyramidingEnabled {
				return p, apperrors.ReasonPyramidingDisabled, false
			}
			if e.policy.MaxPyramidPositions > 0 && pos.AddCount+1 > e.policy.MaxPyramidPositions {
				return p, apperrors.ReasonPyramidingCap, false
			}
			if e.policy.MaxAddsPerSymbol > 0 && c.persistent.PyramidAddsToday[p.Symbol] >= e.policy.MaxAddsPerSymbol {
				return p, apperrors.ReasonPyramidingCap, false
			}
		}
	}

	adjusted := p

	// Per-symbol cap: resize down to fit rather than reject outright.
	if !e.policy.MaxPerSymbolPct.IsZero() && adjusted.SizePct.GreaterThan(e.policy.MaxPerSymbolPct) {
		adjusted.SizePct = e.policy.MaxPerSymbolPct
	}

	// Global exposure cap.
	if !e.policy.MaxExposurePct.IsZero() {
		headroom := e.policy.MaxExposurePct.Sub(c.portfolio.TotalExposurePct).Sub(c.approvedExposurePct)
		if headroom.LessThanOrEqual(decimal.Zero) {
			return p, apperrors.ReasonExposureCap, false
		}
		if adjusted.SizePct.GreaterThan(headroom) {
			adjusted.SizePct = headroom
		}
	}

	// Per-cluster/theme cap (e.g. "L2 <= 10%").
	if cluster, ok := e.policy.ClusterOf[p.Symbol]; ok {
		if cap, ok := e.policy.ClusterExposureCaps[cluster]; ok && !cap.IsZero() {
			headroom := cap.Sub(c.clusterExposure(cluster))
			if headroom.LessThanOrEqual(decimal.Zero) {
				return p, apperrors.ReasonExposureCap, false
			}
			if adjusted.SizePct.GreaterThan(headroom) {
				adjusted.SizePct = headroom
			}
		}
	}

	// Per-strategy cap.
	if cap, ok := e.policy.StrategyExposureCaps[p.StrategyName]; ok && !cap.IsZero() {
		headroom := cap.Sub(c.strategyApprovedPct[p.StrategyName])
		if headroom.LessThanOrEqual(decimal.Zero) {
			return p, apperrors.ReasonExposureCap, false
		}
		if adjusted.SizePct.GreaterThan(headroom) {
			adjusted.SizePct = headroom
		}
	}

	if e.policy.MaxOpenPositions > 0 && len(c.portfolio.Positions) >= e.policy.MaxOpenPositions {
		if _, held := c.portfolio.Positions[p.Symbol]; !held {
			return p, apperrors.ReasonMaxOpenPositions, false
		}
	}

	// Fee-aware sizing, against whatever size the caps above left: after
	// fee, the remaining notional must still clear the exchange minimum.
	notional := c.portfolio.NAV.Mul(adjusted.SizePct)
	fee := notional.Mul(e.policy.TakerFeePct)
	remaining := notional.Sub(fee)
	if remaining.LessThanOrEqual(decimal.Zero) || (e.policy.MinNotional.IsPositive() && remaining.LessThan(e.policy.MinNotional)) {
		return p, apperrors.ReasonSizeConstraint, false
	}

	return adjusted, "", true
}

func (e *Engine) haltAll(proposals []core.TradeProposal, reason string) core.RiskResult {
	rejections := make(map[string][]string, len(proposals))
	for _, p := range proposals {
		rejections[p.Symbol] = append(rejections[p.Symbol], reason)
	}
	e.logger.Warn("risk engine halted cycle", "reason", reason, "proposal_count", len(proposals))
	return core.RiskResult{
		Approved:           false,
		Reason:             reason,
		ProposalRejections: rejections,
		ViolatedChecks:     []string{reason},
	}
}

// String renders a short summary useful in audit logs.
func (r EvaluationSummary) String() string {
	return fmt.Sprintf("approved=%d rejected=%d reason=%s", r.ApprovedCount, r.RejectedCount, r.Reason)
}

// EvaluationSummary is a compact projection of RiskResult for logging.
type EvaluationSummary struct {
	ApprovedCount int
	RejectedCount int
	Reason        string
}

// Summarize projects a RiskResult into an EvaluationSummary.
func Summarize(r core.RiskResult) EvaluationSummary {
	rejected := 0
	for _, reasons := range r.ProposalRejections {
		rejected += len(reasons)
	}
	return EvaluationSummary{
		ApprovedCount: len(r.ApprovedProposals),
		RejectedCount: rejected,
		Reason:        r.Reason,
	}
}
