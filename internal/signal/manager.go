// Package signal scans each eligible asset's candle history for trade
// triggers: a registry of Signal implementations guarded by an outlier
// filter, with a bounded one-shot auto-tune pass that loosens chop
// thresholds after a long dry spell.
package signal

import (
	"cbtrader/internal/config"
	"cbtrader/internal/core"
)

const (
	defaultAutoTuneZeroTriggerCycles = 12
	defaultAutoTuneMaxLoosenPct      = 0.15
	defaultAutoTuneFloor15mPct       = 1.2
	defaultAutoTuneFloor60mPct       = 2.5
	regimeBoostTrending              = 0.05
	regimePenaltyChop                = 0.05
)

// AssetCandles bundles one symbol's fine-grained series (1-minute bars,
// enough history for the 60-minute price-move window and the outlier
// guard) with its coarse series (hourly bars, 24h+, for Momentum and
// MeanReversion).
type AssetCandles struct {
	Asset  core.Asset
	Fine   []core.Candle
	Coarse []core.Candle
}

// Manager holds the signal registry and runs the outlier guard ahead of
// every scan.
type Manager struct {
	cfg     config.SignalsConfig
	signals []core.Signal
	guard   *OutlierGuard
	logger  core.ILogger
}

// NewManager builds the registry (PriceMove, Momentum, MeanReversion)
// against signals.yaml.
func NewManager(cfg config.SignalsConfig, logger core.ILogger) *Manager {
	return &Manager{
		cfg: cfg,
		signals: []core.Signal{
			NewPriceMoveSignal(cfg),
			NewMomentumSignal(cfg),
			NewMeanReversionSignal(cfg),
		},
		guard:  NewOutlierGuard(cfg),
		logger: logger.WithField("component", "signal_manager"),
	}
}

// Scan runs the outlier guard then every regime-allowed signal over each
// asset's candle series, applying a regime-specific confidence
// boost/penalty, and updates state's zero-trigger-cycle/auto-tune
// bookkeeping.
func (m *Manager) Scan(assets []AssetCandles, regime core.Regime, state *core.PersistentState) []core.TriggerSignal {
	var triggers []core.TriggerSignal

	for _, a := range assets {
		if m.guard.Reject(a.Fine) {
			m.logger.Debug("outlier guard rejected candle", "symbol", a.Asset.Symbol)
			continue
		}

		for _, sig := range m.signals {
			if !regimeAllowed(sig, regime) {
				continue
			}
			candles := a.Fine
			if sig.Name() != "price_move" {
				candles = a.Coarse
			}
			trig, ok := sig.Scan(a.Asset, candles, regime)
			if !ok {
				continue
			}
			trig.Confidence = applyRegimeBoost(trig.Confidence, regime)
			triggers = append(triggers, *trig)
		}
	}

	m.updateAutoTuneState(len(triggers), state)
	return triggers
}

func regimeAllowed(sig core.Signal, regime core.Regime) bool {
	for _, r := range sig.AllowedRegimes() {
		if r == regime {
			return true
		}
	}
	return false
}

func applyRegimeBoost(confidence float64, regime core.Regime) float64 {
	switch regime {
	case core.RegimeBull, core.RegimeBear:
		confidence += regimeBoostTrending
	case core.RegimeChop:
		confidence -= regimePenaltyChop
	}
	if confidence > 1 {
		return 1
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

// updateAutoTuneState tracks consecutive zero-trigger cycles and applies
// the one-shot chop-threshold loosening once the configured streak is
// reached, gated by state.AutoTuneApplied so it never re-fires.
func (m *Manager) updateAutoTuneState(triggerCount int, state *core.PersistentState) {
	if triggerCount > 0 {
		state.ZeroTriggerCycles = 0
		return
	}
	state.ZeroTriggerCycles++

	threshold := m.cfg.AutoTuneZeroTriggerCycles
	if threshold <= 0 {
		threshold = defaultAutoTuneZeroTriggerCycles
	}

	if !m.cfg.AutoTuneEnabled || state.AutoTuneApplied || state.ZeroTriggerCycles < threshold {
		return
	}

	m.applyAutoTune()
	state.AutoTuneApplied = true
	m.logger.Warn("auto-tune applied: loosened chop price-move thresholds", "zero_trigger_cycles", state.ZeroTriggerCycles)
}

// applyAutoTune loosens the chop-regime price-move thresholds by
// AutoTuneMaxLoosenPct, clamped at the configured hard floors, and rebuilds
// the PriceMove signal against the adjusted config.
func (m *Manager) applyAutoTune() {
	loosen := m.cfg.AutoTuneMaxLoosenPct
	if loosen <= 0 {
		loosen = defaultAutoTuneMaxLoosenPct
	}
	floor15 := m.cfg.AutoTuneFloor15mPct
	if floor15 <= 0 {
		floor15 = defaultAutoTuneFloor15mPct
	}
	floor60 := m.cfg.AutoTuneFloor60mPct
	if floor60 <= 0 {
		floor60 = defaultAutoTuneFloor60mPct
	}

	short, long := chopShort, chopLong
	if v, ok := m.cfg.PriceMove15mPctByRegime["chop"]; ok {
		short = v
	}
	if v, ok := m.cfg.PriceMove60mPctByRegime["chop"]; ok {
		long = v
	}

	newShort := short * (1 - loosen)
	if newShort < floor15 {
		newShort = floor15
	}
	newLong := long * (1 - loosen)
	if newLong < floor60 {
		newLong = floor60
	}

	if m.cfg.PriceMove15mPctByRegime == nil {
		m.cfg.PriceMove15mPctByRegime = make(map[string]float64)
	}
	if m.cfg.PriceMove60mPctByRegime == nil {
		m.cfg.PriceMove60mPctByRegime = make(map[string]float64)
	}
	m.cfg.PriceMove15mPctByRegime["chop"] = newShort
	m.cfg.PriceMove60mPctByRegime["chop"] = newLong

	for i, sig := range m.signals {
		if sig.Name() == "price_move" {
			m.signals[i] = NewPriceMoveSignal(m.cfg)
		}
	}
}
