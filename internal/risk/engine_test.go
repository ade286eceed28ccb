package risk

import (
	"testing"
	"time"

	"cbtrader/internal/core"
	apperrors "cbtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                     {}
func (noopLogger) Info(string, ...interface{})                      {}
func (noopLogger) Warn(string, ...interface{})                      {}
func (noopLogger) Error(string, ...interface{})                     {}
func (noopLogger) Fatal(string, ...interface{})                     {}
func (l noopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func pct(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func basePortfolio() *core.PortfolioState {
	return &core.PortfolioState{
		NAV:                decimal.NewFromInt(100000),
		Positions:          make(map[string]*core.Position),
		PendingOrders:      make(map[string]*core.Order),
		PerSymbolLastTrade: make(map[string]time.Time),
		TotalExposurePct:   decimal.Zero,
	}
}

func baseProducts(symbols ...string) map[string]core.Product {
	out := make(map[string]core.Product, len(symbols))
	for _, s := range symbols {
		out[s] = core.Product{Symbol: s, Status: core.ProductOnline}
	}
	return out
}

func buyProposal(symbol string, sizePct float64) core.TradeProposal {
	return core.TradeProposal{
		Symbol:       symbol,
		Side:         core.SideBuy,
		SizePct:      pct(sizePct),
		StrategyName: "momentum",
	}
}

func TestCheckProposal_FailsClosedOnMissingProduct(t *testing.T) {
	policy := Policy{MaxOpenPositions: 10, MinNotional: decimal.NewFromInt(10)}
	e := NewEngine(policy, nil, noopLogger{})

	proposals := []core.TradeProposal{buyProposal("ZZZ-USD", 0.02)}
	portfolio := basePortfolio()
	persistent := core.NewPersistentState()
	// products map deliberately omits ZZZ-USD: delisted/partial response.
	products := baseProducts("BTC-USD")

	result := e.Evaluate(proposals, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected no approvals for a symbol missing from the product list, got %v", result.ApprovedProposals)
	}
	reasons := result.ProposalRejections["ZZZ-USD"]
	if len(reasons) != 1 || reasons[0] != apperrors.ReasonProductStatus {
		t.Errorf("expected rejection reason %q, got %v", apperrors.ReasonProductStatus, reasons)
	}
}

func TestCheckProposal_RejectsExplicitlyUntradableProduct(t *testing.T) {
	policy := Policy{MaxOpenPositions: 10, MinNotional: decimal.NewFromInt(10)}
	e := NewEngine(policy, nil, noopLogger{})

	proposals := []core.TradeProposal{buyProposal("BTC-USD", 0.02)}
	portfolio := basePortfolio()
	persistent := core.NewPersistentState()
	products := map[string]core.Product{"BTC-USD": {Symbol: "BTC-USD", Status: core.ProductCancelOnly}}

	result := e.Evaluate(proposals, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected cancel-only product to be rejected, got %v", result.ApprovedProposals)
	}
}

func TestCheckProposal_PyramidingDisabledRejectsAdd(t *testing.T) {
	policy := Policy{PyramidingEnabled: false, MaxOpenPositions: 10, MinNotional: decimal.NewFromInt(10)}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.Positions["BTC-USD"] = &core.Position{Symbol: "BTC-USD", UsdValue: decimal.NewFromInt(5000)}
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.02)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected an add to an already-held position to be rejected when pyramiding is disabled, got %v", result.ApprovedProposals)
	}
	if reasons := result.ProposalRejections["BTC-USD"]; len(reasons) != 1 || reasons[0] != apperrors.ReasonPyramidingDisabled {
		t.Errorf("expected reason %q, got %v", apperrors.ReasonPyramidingDisabled, reasons)
	}
}

func TestCheckProposal_MaxPyramidPositionsCap(t *testing.T) {
	policy := Policy{
		PyramidingEnabled:   true,
		MaxPyramidPositions: 2,
		MaxOpenPositions:    10,
		MinNotional:         decimal.NewFromInt(10),
	}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.Positions["BTC-USD"] = &core.Position{Symbol: "BTC-USD", UsdValue: decimal.NewFromInt(5000), AddCount: 2}
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.02)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected a third add beyond max_pyramid_positions=2 to be rejected, got %v", result.ApprovedProposals)
	}
	if reasons := result.ProposalRejections["BTC-USD"]; len(reasons) != 1 || reasons[0] != apperrors.ReasonPyramidingCap {
		t.Errorf("expected reason %q, got %v", apperrors.ReasonPyramidingCap, reasons)
	}
}

func TestCheckProposal_MaxAddsPerSymbolPerDayCap(t *testing.T) {
	policy := Policy{
		PyramidingEnabled: true,
		MaxAddsPerSymbol:  1,
		MaxOpenPositions:  10,
		MinNotional:       decimal.NewFromInt(10),
	}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.Positions["BTC-USD"] = &core.Position{Symbol: "BTC-USD", UsdValue: decimal.NewFromInt(5000)}
	persistent := core.NewPersistentState()
	persistent.PyramidAddsToday["BTC-USD"] = 1
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.02)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected an add beyond max_adds_per_symbol=1 today to be rejected, got %v", result.ApprovedProposals)
	}
	if reasons := result.ProposalRejections["BTC-USD"]; len(reasons) != 1 || reasons[0] != apperrors.ReasonPyramidingCap {
		t.Errorf("expected reason %q, got %v", apperrors.ReasonPyramidingCap, reasons)
	}
}

func TestCheckProposal_CooldownRejectsBeforeExpiry(t *testing.T) {
	policy := Policy{MaxOpenPositions: 10, MinNotional: decimal.NewFromInt(10)}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	persistent := core.NewPersistentState()
	persistent.Cooldowns["BTC-USD"] = core.Cooldown{Until: time.Now().Add(time.Hour), Reason: "cooldown_stop_out"}
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.02)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected a symbol under an active cooldown to be rejected, got %v", result.ApprovedProposals)
	}
	if reasons := result.ProposalRejections["BTC-USD"]; len(reasons) != 1 || reasons[0] != apperrors.ReasonCooldown {
		t.Errorf("expected reason %q, got %v", apperrors.ReasonCooldown, reasons)
	}
}

func TestCheckProposal_CooldownAllowsAfterExpiry(t *testing.T) {
	policy := Policy{MaxOpenPositions: 10, MinNotional: decimal.NewFromInt(10), TakerFeePct: pct(0.001)}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	persistent := core.NewPersistentState()
	persistent.Cooldowns["BTC-USD"] = core.Cooldown{Until: time.Now().Add(-time.Minute), Reason: "cooldown_win"}
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.02)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 1 {
		t.Fatalf("expected an expired cooldown to no longer block the proposal, rejections=%v", result.ProposalRejections)
	}
}

func TestCheckProposal_GlobalExposureCapResizesDown(t *testing.T) {
	policy := Policy{
		MaxExposurePct:   pct(0.10),
		MaxOpenPositions: 10,
		MinNotional:      decimal.NewFromInt(10),
		TakerFeePct:      pct(0.001),
	}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.TotalExposurePct = pct(0.07)
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.05)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 1 {
		t.Fatalf("expected the proposal to survive resized down, rejections=%v", result.ProposalRejections)
	}
	got := result.ApprovedProposals[0].SizePct
	want := pct(0.03)
	if !got.Equal(want) {
		t.Errorf("expected size resized down to headroom %s, got %s", want, got)
	}
}

func TestCheckProposal_GlobalExposureCapRejectsAtZeroHeadroom(t *testing.T) {
	policy := Policy{
		MaxExposurePct:   pct(0.10),
		MaxOpenPositions: 10,
		MinNotional:      decimal.NewFromInt(10),
	}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.TotalExposurePct = pct(0.10)
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.02)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected no headroom to reject outright, got %v", result.ApprovedProposals)
	}
	if reasons := result.ProposalRejections["BTC-USD"]; len(reasons) != 1 || reasons[0] != apperrors.ReasonExposureCap {
		t.Errorf("expected reason %q, got %v", apperrors.ReasonExposureCap, reasons)
	}
}

func TestCheckProposal_ClusterExposureCapResizesDown(t *testing.T) {
	policy := Policy{
		MaxOpenPositions: 10,
		MinNotional:      decimal.NewFromInt(10),
		TakerFeePct:      pct(0.001),
		ClusterOf:        map[string]string{"BTC-USD": "L1", "ETH-USD": "L1"},
		ClusterExposureCaps: map[string]decimal.Decimal{
			"L1": pct(0.10),
		},
	}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.NAV = decimal.NewFromInt(100000)
	portfolio.Positions["ETH-USD"] = &core.Position{Symbol: "ETH-USD", UsdValue: decimal.NewFromInt(7000)}
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD", "ETH-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.05)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 1 {
		t.Fatalf("expected the BTC-USD proposal to survive resized down against the L1 cluster cap, rejections=%v", result.ProposalRejections)
	}
	got := result.ApprovedProposals[0].SizePct
	want := pct(0.03) // 10% cap - 7% already held in the L1 cluster
	if !got.Equal(want) {
		t.Errorf("expected size resized to %s, got %s", want, got)
	}
}

func TestCheckProposal_StrategyExposureCapRejectsSecondProposal(t *testing.T) {
	policy := Policy{
		MaxOpenPositions: 10,
		MinNotional:      decimal.NewFromInt(10),
		TakerFeePct:      pct(0.001),
		StrategyExposureCaps: map[string]decimal.Decimal{
			"momentum": pct(0.04),
		},
	}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD", "ETH-USD")

	proposals := []core.TradeProposal{
		buyProposal("BTC-USD", 0.04),
		buyProposal("ETH-USD", 0.02),
	}
	result := e.Evaluate(proposals, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 1 {
		t.Fatalf("expected only the first momentum proposal to fit the 4%% strategy cap, got %v", result.ApprovedProposals)
	}
	if result.ApprovedProposals[0].Symbol != "BTC-USD" {
		t.Errorf("expected BTC-USD to be the one approved, got %s", result.ApprovedProposals[0].Symbol)
	}
	if reasons := result.ProposalRejections["ETH-USD"]; len(reasons) != 1 || reasons[0] != apperrors.ReasonExposureCap {
		t.Errorf("expected ETH-USD rejected on the exhausted strategy cap, got %v", reasons)
	}
}

func TestCheckProposal_FeeAwareSizingRejectsBelowMinNotional(t *testing.T) {
	policy := Policy{
		MaxOpenPositions: 10,
		MinNotional:      decimal.NewFromInt(50),
		TakerFeePct:      pct(0.001),
	}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.NAV = decimal.NewFromInt(1000)
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD")

	// 1% of a $1,000 NAV is $10, well under the $50 exchange minimum.
	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.01)}, portfolio, persistent, products, true)

	if len(result.ApprovedProposals) != 0 {
		t.Fatalf("expected a sub-minimum-notional proposal to be rejected, got %v", result.ApprovedProposals)
	}
	if reasons := result.ProposalRejections["BTC-USD"]; len(reasons) != 1 || reasons[0] != apperrors.ReasonSizeConstraint {
		t.Errorf("expected reason %q, got %v", apperrors.ReasonSizeConstraint, reasons)
	}
}

func TestEvaluate_HaltsAllOnMaxDrawdown(t *testing.T) {
	policy := Policy{MaxDrawdownPct: pct(0.20), MaxOpenPositions: 10}
	e := NewEngine(policy, nil, noopLogger{})

	portfolio := basePortfolio()
	portfolio.HighWaterMark = decimal.NewFromInt(100000)
	portfolio.NAV = decimal.NewFromInt(75000) // 25% drawdown, past the 20% floor
	persistent := core.NewPersistentState()
	products := baseProducts("BTC-USD")

	result := e.Evaluate([]core.TradeProposal{buyProposal("BTC-USD", 0.02)}, portfolio, persistent, products, true)

	if result.Approved {
		t.Fatal("expected the batch to halt on max drawdown breach")
	}
	if result.Reason != apperrors.ReasonMaxDrawdown {
		t.Errorf("expected reason %q, got %q", apperrors.ReasonMaxDrawdown, result.Reason)
	}
}
