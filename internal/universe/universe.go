// Package universe builds the tradable UniverseSnapshot each cycle: start
// from every listed product, strip exclusions and red-flag bans, fetch
// market data with bounded parallelism, apply tier-specific liquidity
// filters (loosened in chop, emptied in crash), then smooth
// promotion/demotion with a hysteresis grace period.
package universe

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"cbtrader/internal/config"
	"cbtrader/internal/core"
	"cbtrader/pkg/concurrency"

	"github.com/shopspring/decimal"
)

const (
	volumeLookback = 24 * time.Hour
	volumeGranularity = "ONE_HOUR"
	quoteFetchWorkers = 5
)

// Manager builds one UniverseSnapshot per cycle from exchange market data
// and the universe.yaml eligibility policy.
type Manager struct {
	cfg      config.UniverseConfig
	exchange core.IExchange
	logger   core.ILogger
	pool     *concurrency.WorkerPool

	mu            sync.Mutex
	graceCounters map[string]int // symbol -> consecutive cycles pending a state change
	lastEligible  map[string]bool
	lastTier      map[string]core.Tier
}

// NewManager builds a universe manager against cfg's tier thresholds and
// the given exchange adapter for market data.
func NewManager(cfg config.UniverseConfig, exchange core.IExchange, logger core.ILogger) *Manager {
	return &Manager{
		cfg:           cfg,
		exchange:      exchange,
		logger:        logger.WithField("component", "universe_manager"),
		pool:          concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "universe_quotes", MaxWorkers: quoteFetchWorkers, MaxCapacity: 256}, logger),
		graceCounters: make(map[string]int),
		lastEligible:  make(map[string]bool),
		lastTier:      make(map[string]core.Tier),
	}
}

// assetStats is the per-symbol market data gathered in the bounded-parallel
// fetch stage, before tier filters run.
type assetStats struct {
	symbol    string
	spreadBps decimal.Decimal
	depth     decimal.Decimal
	volume24h decimal.Decimal
	status    core.ProductStatus
	err       error
}

// Build runs the full eligibility pipeline and returns the resulting
// snapshot. bans lets callers merge in runtime red-flag bans (from
// PersistentState) not known at config load time.
func (m *Manager) Build(ctx context.Context, regime core.Regime, bans map[string]core.RedFlagBan, now time.Time) (*core.UniverseSnapshot, error) {
	snapshot := &core.UniverseSnapshot{
		Timestamp:      now,
		Regime:         regime,
		EligibleByTier: make(map[core.Tier][]string),
		Excluded:       make(map[string]string),
	}

	if regime == core.RegimeCrash {
		m.logger.Warn("crash regime detected: universe emptied, no trading this cycle")
		return snapshot, nil
	}

	products, err := m.exchange.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	neverTrade := toSet(m.cfg.NeverTrade)
	forceEligible := toSet(m.cfg.ForceEligible)

	candidates := make([]string, 0, len(products))
	productStatus := make(map[string]core.ProductStatus, len(products))
	for _, p := range products {
		productStatus[p.Symbol] = p.Status
		if neverTrade[p.Symbol] {
			snapshot.Excluded[p.Symbol] = "never_trade"
			continue
		}
		if ban, ok := bans[p.Symbol]; ok && !ban.Expired(now) {
			snapshot.Excluded[p.Symbol] = "red_flag_ban: " + ban.Reason
			continue
		}
		candidates = append(candidates, p.Symbol)
	}

	stats := m.fetchStats(ctx, candidates, productStatus)

	tiers := orderedTierKeys(m.cfg.Tiers)

	for _, s := range stats {
		if s.err != nil {
			snapshot.Excluded[s.symbol] = "market_data_error: " + s.err.Error()
			continue
		}
		if !s.status.Tradable() && !forceEligible[s.symbol] {
			snapshot.Excluded[s.symbol] = "product_status_" + string(s.status)
			continue
		}

		tier, eligible, reason := m.classify(s, tiers, regime, forceEligible[s.symbol])
		promoted, effectiveTier := m.applyHysteresis(s.symbol, eligible, tier, now)
		if !promoted {
			snapshot.Excluded[s.symbol] = reason
			continue
		}
		snapshot.EligibleByTier[effectiveTier] = append(snapshot.EligibleByTier[effectiveTier], s.symbol)
	}

	for tier := range snapshot.EligibleByTier {
		sort.Strings(snapshot.EligibleByTier[tier])
	}

	return snapshot, nil
}

// fetchStats gathers quote/book/volume for every candidate with bounded
// parallelism (5 workers) to keep universe builds within their latency
// budget even across a large candidate set.
func (m *Manager) fetchStats(ctx context.Context, candidates []string, productStatus map[string]core.ProductStatus) []assetStats {
	results := make([]assetStats, len(candidates))
	var wg sync.WaitGroup
	wg.Add(len(candidates))

	for i, symbol := range candidates {
		i, symbol := i, symbol
		err := m.pool.Submit(func() {
			defer wg.Done()
			results[i] = m.fetchOne(ctx, symbol, productStatus[symbol])
		})
		if err != nil {
			results[i] = assetStats{symbol: symbol, err: err}
			wg.Done()
		}
	}
	wg.Wait()
	return results
}

func (m *Manager) fetchOne(ctx context.Context, symbol string, status core.ProductStatus) assetStats {
	quote, err := m.exchange.GetQuote(ctx, symbol)
	if err != nil {
		return assetStats{symbol: symbol, status: status, err: fmt.Errorf("quote: %w", err)}
	}
	book, err := m.exchange.GetOrderBook(ctx, symbol)
	if err != nil {
		return assetStats{symbol: symbol, status: status, err: fmt.Errorf("order book: %w", err)}
	}
	candles, err := m.exchange.GetOHLCV(ctx, symbol, volumeGranularity, volumeLookback)
	if err != nil {
		return assetStats{symbol: symbol, status: status, err: fmt.Errorf("ohlcv: %w", err)}
	}

	volume := decimal.Zero
	for _, c := range candles {
		volume = volume.Add(c.Close.Mul(c.Volume))
	}

	spreadBps := decimal.Zero
	if quote.Mid.IsPositive() {
		spreadBps = quote.Ask.Sub(quote.Bid).Div(quote.Mid).Mul(decimal.NewFromInt(10000))
	}

	depthUSD := decimal.Zero
	for _, lvl := range book.Bids {
		depthUSD = depthUSD.Add(lvl.Price.Mul(lvl.Size))
	}
	for _, lvl := range book.Asks {
		depthUSD = depthUSD.Add(lvl.Price.Mul(lvl.Size))
	}

	return assetStats{
		symbol:    symbol,
		spreadBps: spreadBps,
		depth:     depthUSD,
		volume24h: volume,
		status:    status,
	}
}

// classify picks the lowest-numbered (strictest) tier whose thresholds the
// asset satisfies, loosening thresholds in a chop regime. forceEligible
// bypasses every liquidity gate and lands in the loosest configured tier.
func (m *Manager) classify(s assetStats, tiers []int, regime core.Regime, forceEligible bool) (core.Tier, bool, string) {
	if forceEligible {
		if len(tiers) == 0 {
			return core.Tier3, true, ""
		}
		return core.Tier(tiers[len(tiers)-1]), true, ""
	}

	for _, t := range tiers {
		rule := m.cfg.Tiers[strconv.Itoa(t)]
		minVolume := decimal.NewFromFloat(rule.MinVolume24hUSD)
		maxSpread := decimal.NewFromFloat(rule.MaxSpreadBps)
		minDepth := decimal.NewFromFloat(rule.MinTopDepthUSD)

		if regime == core.RegimeChop {
			maxSpread = maxSpread.Mul(decimal.NewFromFloat(1.5))
			minVolume = minVolume.Mul(decimal.NewFromFloat(0.7))
			minDepth = minDepth.Mul(decimal.NewFromFloat(0.7))
		}

		if s.volume24h.GreaterThanOrEqual(minVolume) &&
			s.spreadBps.LessThanOrEqual(maxSpread) &&
			s.depth.GreaterThanOrEqual(minDepth) {
			return core.Tier(t), true, ""
		}
	}
	return 0, false, fmt.Sprintf("no_tier_thresholds_met (volume=%s spread_bps=%s depth=%s)", s.volume24h, s.spreadBps, s.depth)
}

// applyHysteresis requires hysteresis_grace_cycles consecutive cycles in the
// opposite direction before flipping a symbol's eligibility, smoothing
// flapping near a threshold. It returns the tier the symbol should be
// recorded under this cycle: tierNow when promoted outright or once a
// demotion/promotion clears its grace period, or the last confirmed tier
// while a hold is in effect (tierNow is the zero value on an ineligible
// classification and must never be used as a map key on its own).
func (m *Manager) applyHysteresis(symbol string, eligibleNow bool, tierNow core.Tier, now time.Time) (bool, core.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grace := m.cfg.HysteresisGraceCycles
	last, seen := m.lastEligible[symbol]

	if !seen {
		m.lastEligible[symbol] = eligibleNow
		m.graceCounters[symbol] = 0
		if eligibleNow {
			m.lastTier[symbol] = tierNow
		}
		return eligibleNow, tierNow
	}

	if eligibleNow == last {
		m.graceCounters[symbol] = 0
		if eligibleNow {
			m.lastTier[symbol] = tierNow
		}
		return last, m.lastTier[symbol]
	}

	m.graceCounters[symbol]++
	if m.graceCounters[symbol] < grace {
		// Not enough consecutive cycles yet; hold the prior eligibility and
		// tier rather than trusting tierNow, which is 0 whenever this cycle's
		// raw classification was ineligible.
		return last, m.lastTier[symbol]
	}

	m.graceCounters[symbol] = 0
	m.lastEligible[symbol] = eligibleNow
	if eligibleNow {
		m.lastTier[symbol] = tierNow
	}
	return eligibleNow, tierNow
}

// Stop releases the bounded quote-fetch worker pool.
func (m *Manager) Stop() {
	m.pool.Stop()
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

func orderedTierKeys(tiers map[string]config.TierRule) []int {
	out := make([]int, 0, len(tiers))
	for k := range tiers {
		if n, err := strconv.Atoi(k); err == nil {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
