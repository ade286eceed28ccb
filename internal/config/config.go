// Package config loads the trading cycle's five YAML documents
// (app.yaml, policy.yaml, universe.yaml, signals.yaml, strategies.yaml)
// and runs the cross-field validation struct tags can't express.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-loaded, cross-validated configuration bundle.
type Config struct {
	App        AppConfig
	Policy     PolicyConfig
	Universe   UniverseConfig
	Signals    SignalsConfig
	Strategies StrategiesConfig
}

// AppConfig is app.yaml: process-level wiring (exchange, mode, timing).
type AppConfig struct {
	Mode                 string `yaml:"mode" validate:"required,oneof=DRY_RUN PAPER LIVE"`
	CycleIntervalSeconds int    `yaml:"cycle_interval_seconds" validate:"required,min=10,max=3600"`
	JitterSeconds        int    `yaml:"jitter_seconds" validate:"min=0,max=300"`
	LogLevel             string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	MetricsPort          int    `yaml:"metrics_port" validate:"required,min=1024,max=65535"`
	StateStoreBackend    string `yaml:"state_store_backend" validate:"required,oneof=file sqlite"`
	StateDir             string `yaml:"state_dir" validate:"required"`
	PersistIntervalSec   int    `yaml:"persist_interval_seconds" validate:"min=1,max=3600"`
	ClockSkewToleranceSec int   `yaml:"clock_skew_tolerance_seconds" validate:"min=1,max=300"`
	AlertWebhookURL      string `yaml:"alert_webhook_url"`
	AlertSlackWebhook    string `yaml:"alert_slack_webhook"`
	AlertTelegramChatID  string `yaml:"alert_telegram_chat_id"`
	KillSwitchFilePath   string `yaml:"kill_switch_file_path"`
	QuoteCurrency        string `yaml:"quote_currency"`
}

// PolicyConfig is policy.yaml: the risk engine's thresholds.
type PolicyConfig struct {
	DailyStopLossPct    float64        `yaml:"daily_stop_loss_pct" validate:"required,min=0,max=1"`
	WeeklyStopLossPct   float64        `yaml:"weekly_stop_loss_pct" validate:"required,min=0,max=1"`
	MaxDrawdownPct      float64        `yaml:"max_drawdown_pct" validate:"required,min=0,max=1"`
	GlobalSpacingSec    int            `yaml:"global_spacing_seconds" validate:"min=0"`
	MaxTradesPerHour    int            `yaml:"max_trades_per_hour" validate:"min=0"`
	MaxTradesPerDay     int            `yaml:"max_trades_per_day" validate:"min=0"`
	StrategyDailyBudget map[string]int `yaml:"strategy_daily_budget"`
	SymbolCooldownSec   int            `yaml:"symbol_cooldown_seconds" validate:"min=0"`
	CooldownWinSec      int            `yaml:"cooldown_win_seconds" validate:"min=0"`
	CooldownLossSec     int            `yaml:"cooldown_loss_seconds" validate:"min=0"`
	CooldownStopOutSec  int            `yaml:"cooldown_stop_out_seconds" validate:"min=0"`
	SymbolPacingSec     int            `yaml:"symbol_pacing_seconds" validate:"min=0"`
	PyramidingEnabled   bool           `yaml:"pyramiding_enabled"`
	MaxAddsPerSymbol    int            `yaml:"max_adds_per_symbol" validate:"min=0"`
	MaxPyramidPositions int            `yaml:"max_pyramid_positions" validate:"min=0"`
	MaxExposurePct      float64        `yaml:"max_exposure_pct" validate:"required,min=0,max=1"`
	MaxPerSymbolPct     float64        `yaml:"max_per_symbol_pct" validate:"required,min=0,max=1"`
	ClusterOf           map[string]string  `yaml:"symbol_clusters"`        // symbol -> cluster/theme name
	ClusterExposureCaps map[string]float64 `yaml:"cluster_exposure_caps"`  // cluster name -> max fraction of NAV
	StrategyExposureCaps map[string]float64 `yaml:"strategy_exposure_caps"` // strategy name -> max fraction of NAV
	MaxOpenPositions    int            `yaml:"max_open_positions" validate:"required,min=1"`
	MinNotionalUSD      float64        `yaml:"min_notional_usd" validate:"min=0"`
	TakerFeePct         float64        `yaml:"taker_fee_pct" validate:"required,min=0,max=0.05"`
	PartialFillTolerancePct float64    `yaml:"partial_fill_tolerance_pct" validate:"min=0,max=1"`
	StaleOrderMaxAgeSec int            `yaml:"stale_order_max_age_seconds" validate:"required,min=1"`
	CircuitBreakerMaxLosses int        `yaml:"circuit_breaker_max_consecutive_losses" validate:"min=0"`
	CircuitBreakerCooldownSec int      `yaml:"circuit_breaker_cooldown_seconds" validate:"min=0"`
	Execution           ExecutionConfig `yaml:"execution"`
	Latency             LatencyBudgets  `yaml:"latency_budgets"`
	Regime              RegimeConfig    `yaml:"regime"`
}

// RegimeConfig bounds the market-breadth/index-return thresholds
// regime.Detector uses to classify bull/bear/chop/crash each cycle.
type RegimeConfig struct {
	LookbackBars        int     `yaml:"lookback_bars" validate:"min=2"`
	CrashBreadthFloor    float64 `yaml:"crash_breadth_floor" validate:"min=0,max=1"`
	CrashIndexReturnPct  float64 `yaml:"crash_index_return_pct"`
	BullIndexReturnPct   float64 `yaml:"bull_index_return_pct"`
	BearIndexReturnPct   float64 `yaml:"bear_index_return_pct"`
}

// ApplyDefaults fills any zero-valued threshold with conservative figures:
// a crash needs both a collapsed breadth (under 15% of the universe green)
// and a sharply negative volume-weighted index return.
func (r *RegimeConfig) ApplyDefaults() {
	if r.LookbackBars == 0 {
		r.LookbackBars = 24
	}
	if r.CrashBreadthFloor == 0 {
		r.CrashBreadthFloor = 0.15
	}
	if r.CrashIndexReturnPct == 0 {
		r.CrashIndexReturnPct = -0.08
	}
	if r.BullIndexReturnPct == 0 {
		r.BullIndexReturnPct = 0.02
	}
	if r.BearIndexReturnPct == 0 {
		r.BearIndexReturnPct = -0.02
	}
}

// LatencyBudgets bounds how long each cycle stage is expected to take, in
// milliseconds. Overruns emit a WARNING alert; they never fail the cycle.
type LatencyBudgets struct {
	TotalCycleMs      int `yaml:"total_cycle_ms" validate:"min=0"`
	UniverseBuildMs   int `yaml:"universe_build_ms" validate:"min=0"`
	SignalScanMs      int `yaml:"signal_scan_ms" validate:"min=0"`
	RiskCheckMs       int `yaml:"risk_check_ms" validate:"min=0"`
	ExecutionMs       int `yaml:"execution_ms" validate:"min=0"`
	ReconciliationMs  int `yaml:"reconciliation_ms" validate:"min=0"`
	KillSwitchCheckMs int `yaml:"kill_switch_check_ms" validate:"min=0"`
}

// ApplyDefaults fills any zero-valued budget with documented figures
// (kill switch detection within 3s, universe build within 2s).
func (b *LatencyBudgets) ApplyDefaults() {
	if b.TotalCycleMs == 0 {
		b.TotalCycleMs = 10000
	}
	if b.UniverseBuildMs == 0 {
		b.UniverseBuildMs = 2000
	}
	if b.SignalScanMs == 0 {
		b.SignalScanMs = 1500
	}
	if b.RiskCheckMs == 0 {
		b.RiskCheckMs = 500
	}
	if b.ExecutionMs == 0 {
		b.ExecutionMs = 3000
	}
	if b.ReconciliationMs == 0 {
		b.ReconciliationMs = 1000
	}
	if b.KillSwitchCheckMs == 0 {
		b.KillSwitchCheckMs = 3000
	}
}

// ExecutionConfig is policy.yaml's execution: block — maker-first TTL,
// taker-fallback slippage ceiling, ghost-order cache lifetime, and the
// TWAP trim/purge tuning.
type ExecutionConfig struct {
	MakerTTLSeconds            int     `yaml:"maker_ttl_seconds" validate:"min=1"`
	MaxSlippageBps             float64 `yaml:"max_slippage_bps" validate:"min=0"`
	PostTradeReconcileWaitMs   int     `yaml:"post_trade_reconcile_wait_ms" validate:"min=0"`
	GhostOrderTTLSeconds       int     `yaml:"ghost_order_ttl_seconds" validate:"min=1"`
	FillNotionalMismatchAbsUSD float64 `yaml:"fill_notional_mismatch_abs_usd" validate:"min=0"`
	FillNotionalMismatchPct    float64 `yaml:"fill_notional_mismatch_pct" validate:"min=0"`
	TrimSliceNotionalUSD       float64 `yaml:"trim_slice_notional_usd" validate:"min=0"`
	TrimResidualThresholdUSD   float64 `yaml:"trim_residual_threshold_usd" validate:"min=0"`
	TrimMaxConsecutiveFailures int     `yaml:"trim_max_consecutive_failures" validate:"min=1"`
	MinLiquidationValueUSD     float64 `yaml:"min_liquidation_value_usd" validate:"min=0"`
}

// ApplyDefaults fills execution tuning with documented defaults for
// any field an operator's policy.yaml left at zero.
func (e *ExecutionConfig) ApplyDefaults() {
	if e.MakerTTLSeconds == 0 {
		e.MakerTTLSeconds = 25
	}
	if e.GhostOrderTTLSeconds == 0 {
		e.GhostOrderTTLSeconds = 60
	}
	if e.FillNotionalMismatchAbsUSD == 0 {
		e.FillNotionalMismatchAbsUSD = 0.20
	}
	if e.FillNotionalMismatchPct == 0 {
		e.FillNotionalMismatchPct = 0.02
	}
	if e.TrimMaxConsecutiveFailures == 0 {
		e.TrimMaxConsecutiveFailures = 3
	}
}

// UniverseConfig is universe.yaml: eligibility filters per liquidity tier.
type UniverseConfig struct {
	NeverTrade      []string          `yaml:"never_trade"`
	ForceEligible   []string          `yaml:"force_eligible"`
	Tiers           map[string]TierRule `yaml:"tiers" validate:"required"`
	HysteresisGraceCycles int         `yaml:"hysteresis_grace_cycles" validate:"min=0"`
	RedFlagBanDefaultSec  int         `yaml:"red_flag_ban_default_seconds" validate:"required,min=1"`
	MinEligibleAssets     int         `yaml:"min_eligible_assets" validate:"min=0"`
}

// TierRule bounds one liquidity tier's minimum volume/spread/depth.
type TierRule struct {
	MinVolume24hUSD float64 `yaml:"min_volume_24h_usd" validate:"min=0"`
	MaxSpreadBps    float64 `yaml:"max_spread_bps" validate:"min=0"`
	MinTopDepthUSD  float64 `yaml:"min_top_depth_usd" validate:"min=0"`
}

// SignalsConfig is signals.yaml: per-signal thresholds and the auto-tune
// bound.
type SignalsConfig struct {
	PriceMoveThresholdPct     float64              `yaml:"price_move_threshold_pct" validate:"required,min=0"`
	PriceMove15mPctByRegime   map[string]float64   `yaml:"price_move_15m_pct_by_regime"`
	PriceMove60mPctByRegime   map[string]float64   `yaml:"price_move_60m_pct_by_regime"`
	PriceMoveVolumeRatioMin   float64              `yaml:"price_move_volume_ratio_min" validate:"min=0"`
	PriceMoveShortLookbackBars int                `yaml:"price_move_short_lookback_bars" validate:"min=0"`
	PriceMoveLongLookbackBars  int                `yaml:"price_move_long_lookback_bars" validate:"min=0"`
	MomentumLookbackBars      int                  `yaml:"momentum_lookback_bars" validate:"required,min=2"`
	MomentumLookbackHours     int                  `yaml:"momentum_lookback_hours" validate:"min=1"`
	MeanReversionZScore       float64              `yaml:"mean_reversion_z_score" validate:"required,min=0"`
	MeanReversionDeviationPct float64              `yaml:"mean_reversion_deviation_pct" validate:"min=0"`
	OutlierVolumeMultiplier   float64              `yaml:"outlier_volume_multiplier" validate:"required,min=1"`
	OutlierMAWindow           int                  `yaml:"outlier_ma_window" validate:"min=1"`
	OutlierMaxDeviationPct    float64              `yaml:"outlier_max_deviation_pct" validate:"min=0"`
	OutlierMinVolumeRatio     float64              `yaml:"outlier_min_volume_ratio" validate:"min=0"`
	AutoTuneEnabled           bool                 `yaml:"auto_tune_enabled"`
	AutoTuneMaxLoosenPct      float64              `yaml:"auto_tune_max_loosen_pct" validate:"min=0,max=1"`
	AutoTuneZeroTriggerCycles int                  `yaml:"auto_tune_zero_trigger_cycles" validate:"min=1"`
	AutoTuneFloor15mPct       float64              `yaml:"auto_tune_floor_15m_pct" validate:"min=0"`
	AutoTuneFloor60mPct       float64              `yaml:"auto_tune_floor_60m_pct" validate:"min=0"`
}

// StrategiesConfig is strategies.yaml: which named strategies run and
// their independent sizing parameters.
type StrategiesConfig struct {
	Enabled []string                  `yaml:"enabled" validate:"required,min=1"`
	Sizing  map[string]StrategySizing `yaml:"sizing"`
}

// StrategySizing is one strategy's independent size bounds.
type StrategySizing struct {
	BaseSizePct decimal_ `yaml:"base_size_pct"`
	MaxSizePct  decimal_ `yaml:"max_size_pct"`
}

// decimal_ keeps strategies.yaml's percentages as plain float64 at the
// config layer; callers convert to decimal.Decimal when building proposals
// so config parsing never depends on shopspring/decimal's YAML quirks.
type decimal_ = float64

// ValidationError names one failed invariant with enough context to fix
// the YAML in place.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads all five YAML documents from dir and cross-validates the
// resulting bundle.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	if err := loadYAML(dir+"/app.yaml", &cfg.App); err != nil {
		return nil, err
	}
	if err := loadYAML(dir+"/policy.yaml", &cfg.Policy); err != nil {
		return nil, err
	}
	if err := loadYAML(dir+"/universe.yaml", &cfg.Universe); err != nil {
		return nil, err
	}
	if err := loadYAML(dir+"/signals.yaml", &cfg.Signals); err != nil {
		return nil, err
	}
	if err := loadYAML(dir+"/strategies.yaml", &cfg.Strategies); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate runs every cross-field invariant that a yaml struct tag can't
// express on its own.
func (c *Config) Validate() error {
	var errs []string

	if c.Policy.DailyStopLossPct >= c.Policy.WeeklyStopLossPct {
		errs = append(errs, ValidationError{
			Field:   "policy.daily_stop_loss_pct",
			Message: "must be strictly tighter (smaller) than weekly_stop_loss_pct",
		}.Error())
	}

	if c.Policy.PyramidingEnabled && c.Policy.MaxAddsPerSymbol < 1 {
		errs = append(errs, ValidationError{
			Field:   "policy.max_adds_per_symbol",
			Message: "must be >= 1 when pyramiding_enabled is true",
		}.Error())
	}
	if !c.Policy.PyramidingEnabled && c.Policy.MaxAddsPerSymbol > 0 {
		errs = append(errs, ValidationError{
			Field:   "policy.max_adds_per_symbol",
			Message: "must be 0 when pyramiding_enabled is false",
		}.Error())
	}
	if c.Policy.PyramidingEnabled && c.Policy.MaxPyramidPositions < 1 {
		errs = append(errs, ValidationError{
			Field:   "policy.max_pyramid_positions",
			Message: "must be >= 1 when pyramiding_enabled is true",
		}.Error())
	}
	if !c.Policy.PyramidingEnabled && c.Policy.MaxPyramidPositions > 0 {
		errs = append(errs, ValidationError{
			Field:   "policy.max_pyramid_positions",
			Message: "must be 0 when pyramiding_enabled is false",
		}.Error())
	}

	if c.Policy.Execution.MinLiquidationValueUSD > c.Policy.MinNotionalUSD && c.Policy.MinNotionalUSD > 0 {
		errs = append(errs, ValidationError{
			Field: "policy.execution.min_liquidation_value_usd",
			Message: fmt.Sprintf("must be <= policy.min_notional_usd (%.2f > %.2f): execution's liquidation floor can't exceed the risk engine's minimum trade size",
				c.Policy.Execution.MinLiquidationValueUSD, c.Policy.MinNotionalUSD),
		}.Error())
	}

	if c.Policy.MaxOpenPositions > 0 && c.Policy.MaxPerSymbolPct > 0 {
		impliedCap := c.Policy.MaxPerSymbolPct * float64(c.Policy.MaxOpenPositions)
		if impliedCap > c.Policy.MaxExposurePct {
			errs = append(errs, ValidationError{
				Field:   "policy.max_open_positions",
				Message: fmt.Sprintf("max_open_positions(%d) * max_per_symbol_pct(%.4f) = %.4f must be <= max_exposure_pct(%.4f), or fully-sized positions could exceed the exposure cap",
					c.Policy.MaxOpenPositions, c.Policy.MaxPerSymbolPct, impliedCap, c.Policy.MaxExposurePct),
			}.Error())
		}
	}

	for _, name := range c.Strategies.Enabled {
		sizing, ok := c.Strategies.Sizing[name]
		if !ok {
			errs = append(errs, ValidationError{
				Field:   "strategies.sizing",
				Message: fmt.Sprintf("strategy %q is enabled but has no sizing entry", name),
			}.Error())
			continue
		}
		if sizing.BaseSizePct > sizing.MaxSizePct {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("strategies.sizing.%s", name),
				Message: "base_size_pct must be <= max_size_pct",
			}.Error())
		}
		if sizing.MaxSizePct > c.Policy.MaxPerSymbolPct {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("strategies.sizing.%s.max_size_pct", name),
				Message: "must not exceed policy.max_per_symbol_pct",
			}.Error())
		}
	}

	if len(c.Universe.Tiers) == 0 {
		errs = append(errs, ValidationError{Field: "universe.tiers", Message: "at least one tier must be configured"}.Error())
	}

	if c.App.PersistIntervalSec <= 0 {
		c.App.PersistIntervalSec = 60
	}
	if c.Policy.PartialFillTolerancePct == 0 {
		c.Policy.PartialFillTolerancePct = 0.05
	}
	if c.App.QuoteCurrency == "" {
		c.App.QuoteCurrency = "USD"
	}

	c.Policy.Execution.ApplyDefaults()
	c.Policy.Latency.ApplyDefaults()
	c.Policy.Regime.ApplyDefaults()

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// CycleInterval returns app.yaml's cycle cadence as a time.Duration.
func (a AppConfig) CycleInterval() time.Duration {
	return time.Duration(a.CycleIntervalSeconds) * time.Second
}

// Jitter returns app.yaml's jitter window as a time.Duration.
func (a AppConfig) Jitter() time.Duration {
	return time.Duration(a.JitterSeconds) * time.Second
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
