package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "mode: ${TEST_MODE}",
			envVars:  map[string]string{"TEST_MODE": "PAPER"},
			expected: "mode: PAPER",
		},
		{
			name:     "missing env var returns empty string",
			input:    "mode: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "mode: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func writeYAML(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func validConfigDir(t *testing.T) string {
	dir := t.TempDir()
	writeYAML(t, dir, "app.yaml", `
mode: PAPER
cycle_interval_seconds: 300
jitter_seconds: 30
log_level: INFO
metrics_port: 9090
state_store_backend: file
state_dir: /tmp/cbtrader-state
persist_interval_seconds: 60
clock_skew_tolerance_seconds: 10
`)
	writeYAML(t, dir, "policy.yaml", `
daily_stop_loss_pct: 0.03
weekly_stop_loss_pct: 0.08
max_drawdown_pct: 0.15
global_spacing_seconds: 30
max_trades_per_hour: 10
max_trades_per_day: 40
symbol_cooldown_seconds: 600
symbol_pacing_seconds: 120
pyramiding_enabled: false
max_adds_per_symbol: 0
max_exposure_pct: 0.6
max_per_symbol_pct: 0.1
max_open_positions: 5
taker_fee_pct: 0.006
stale_order_max_age_seconds: 300
`)
	writeYAML(t, dir, "universe.yaml", `
tiers:
  1:
    min_volume_24h_usd: 10000000
    max_spread_bps: 10
    min_top_depth_usd: 50000
red_flag_ban_default_seconds: 3600
`)
	writeYAML(t, dir, "signals.yaml", `
price_move_threshold_pct: 0.02
momentum_lookback_bars: 14
mean_reversion_z_score: 2.0
outlier_volume_multiplier: 5.0
`)
	writeYAML(t, dir, "strategies.yaml", `
enabled: ["momentum"]
sizing:
  momentum:
    base_size_pct: 0.02
    max_size_pct: 0.05
`)
	return dir
}

func TestLoad_Valid(t *testing.T) {
	dir := validConfigDir(t)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "PAPER", cfg.App.Mode)
	assert.Equal(t, 0.03, cfg.Policy.DailyStopLossPct)
}

func TestLoad_DailyMustBeTighterThanWeekly(t *testing.T) {
	dir := validConfigDir(t)
	writeYAML(t, dir, "policy.yaml", `
daily_stop_loss_pct: 0.10
weekly_stop_loss_pct: 0.08
max_drawdown_pct: 0.15
max_exposure_pct: 0.6
max_per_symbol_pct: 0.1
max_open_positions: 5
taker_fee_pct: 0.006
stale_order_max_age_seconds: 300
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_PyramidingConsistency(t *testing.T) {
	dir := validConfigDir(t)
	writeYAML(t, dir, "policy.yaml", `
daily_stop_loss_pct: 0.03
weekly_stop_loss_pct: 0.08
max_drawdown_pct: 0.15
pyramiding_enabled: true
max_adds_per_symbol: 0
max_exposure_pct: 0.6
max_per_symbol_pct: 0.1
max_open_positions: 5
taker_fee_pct: 0.006
stale_order_max_age_seconds: 300
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_MaxPyramidPositionsConsistency(t *testing.T) {
	dir := validConfigDir(t)
	writeYAML(t, dir, "policy.yaml", `
daily_stop_loss_pct: 0.03
weekly_stop_loss_pct: 0.08
max_drawdown_pct: 0.15
pyramiding_enabled: true
max_adds_per_symbol: 2
max_pyramid_positions: 0
max_exposure_pct: 0.6
max_per_symbol_pct: 0.1
max_open_positions: 5
taker_fee_pct: 0.006
stale_order_max_age_seconds: 300
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_ExecutionMinMustNotExceedRiskMin(t *testing.T) {
	dir := validConfigDir(t)
	writeYAML(t, dir, "policy.yaml", `
daily_stop_loss_pct: 0.03
weekly_stop_loss_pct: 0.08
max_drawdown_pct: 0.15
max_exposure_pct: 0.6
max_per_symbol_pct: 0.1
max_open_positions: 5
taker_fee_pct: 0.006
stale_order_max_age_seconds: 300
min_notional_usd: 10
execution:
  min_liquidation_value_usd: 25
`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_StrategySizingMissing(t *testing.T) {
	dir := validConfigDir(t)
	writeYAML(t, dir, "strategies.yaml", `
enabled: ["momentum", "mean_reversion"]
sizing:
  momentum:
    base_size_pct: 0.02
    max_size_pct: 0.05
`)
	_, err := Load(dir)
	assert.Error(t, err)
}
