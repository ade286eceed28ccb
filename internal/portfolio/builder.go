// Package portfolio builds the cycle's PortfolioState from exchange
// account balances plus the durable position/order bookkeeping in
// PersistentState, and tracks the daily/weekly NAV baselines and
// high-water mark the risk engine's stop-loss and drawdown checks
// consume.
package portfolio

import (
	"cbtrader/internal/core"

	"github.com/shopspring/decimal"
)

// Builder constructs a PortfolioState each cycle. Positions themselves
// are owned by PersistentState (the execution engine updates them on
// fills); Builder only refreshes their live USD valuation and derives
// the aggregate NAV/exposure figures from it.
type Builder struct {
	quoteCurrency string
	minDust       decimal.Decimal
}

// NewBuilder builds against the account's quote currency (e.g. "USD")
// and the dust floor below which a position is excluded from exposure
// accounting.
func NewBuilder(quoteCurrency string, minDust decimal.Decimal) *Builder {
	return &Builder{quoteCurrency: quoteCurrency, minDust: minDust}
}

// Build refreshes persistent's positions against current prices and
// derives NAV, exposure, and PnL% from the given rollover baselines.
// persistent.HighWaterMark is advanced in place if NAV set a new peak.
func (b *Builder) Build(accounts []core.AccountBalance, prices map[string]decimal.Decimal, persistent *core.PersistentState) *core.PortfolioState {
	quoteBalance := decimal.Zero
	for _, acct := range accounts {
		if acct.Currency == b.quoteCurrency {
			quoteBalance = quoteBalance.Add(acct.Balance)
		}
	}

	nav := quoteBalance
	exposure := decimal.Zero
	for symbol, pos := range persistent.Positions {
		price, ok := prices[symbol]
		if ok && pos.QuantityBase.IsPositive() {
			pos.UsdValue = pos.QuantityBase.Mul(price)
			if pos.AvgEntryPrice.IsPositive() {
				pos.UnrealizedPnLPct = price.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice).Mul(decimal.NewFromInt(100))
			}
		}
		nav = nav.Add(pos.UsdValue)
		if !pos.IsDust(b.minDust) {
			exposure = exposure.Add(pos.UsdValue.Abs())
		}
	}

	if nav.GreaterThan(persistent.HighWaterMark) {
		persistent.HighWaterMark = nav
	}

	totalExposurePct := decimal.Zero
	if nav.IsPositive() {
		totalExposurePct = exposure.Div(nav)
	}

	dailyPnLPct := pnlPct(nav, persistent.DailyBaselineNAV)
	weeklyPnLPct := pnlPct(nav, persistent.WeeklyBaselineNAV)

	return &core.PortfolioState{
		NAV:                nav,
		Positions:          persistent.Positions,
		PendingOrders:       persistent.PendingOrders,
		TotalExposurePct:   totalExposurePct,
		DailyPnLPct:        dailyPnLPct,
		WeeklyPnLPct:       weeklyPnLPct,
		HighWaterMark:      persistent.HighWaterMark,
		LastTradeTS:        persistent.LastTradeTS,
		PerSymbolLastTrade: persistent.PerSymbolLastTrade,
	}
}

func pnlPct(nav, baseline decimal.Decimal) decimal.Decimal {
	if !baseline.IsPositive() {
		return decimal.Zero
	}
	return nav.Sub(baseline).Div(baseline)
}
