package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "bot.yaml", `
equity: 50000
engine: sim
bots:
  - id: bot-btc
    symbol: BTCUSDT
    bucket: 300000000000 # durations are nanoseconds
    enabled: true
    params:
      risk_pct: 0.5
      stop_atr: 2.0
      target_rr: 3.0
      rsi_buy: 25
      rsi_sell: 75
      adx_min: 20
      bandw_min: 0.01
      slope: 0.02
gate:
  enabled: true
  threshold: 0.6
portfolio:
  max_daily_loss_pct: 4
  max_open_risk: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50000.0, cfg.Equity)
	require.Len(t, cfg.Bots, 1)
	assert.Equal(t, "BTCUSDT", cfg.Bots[0].Symbol)
	assert.Equal(t, 5*time.Minute, cfg.Bots[0].Bucket)
	assert.Equal(t, 0.5, cfg.Bots[0].Params.RiskPct)
	assert.Equal(t, 0.6, cfg.Gate.Threshold)
	assert.Equal(t, 4.0, cfg.Portfolio.MaxDailyLossPct)

	// Untouched sections keep their defaults.
	assert.Equal(t, "./evobot.sqlite", cfg.Store.Path)
	assert.Equal(t, 2*time.Second, cfg.Runner.RestartDelay)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad engine", "engine: oanda\n", "engine must be"},
		{"no bots", "bots: []\n", "at least one bot"},
		{"duplicate symbol", `
bots:
  - {id: a, symbol: EURUSD, enabled: true}
  - {id: b, symbol: EURUSD, enabled: true}
`, "duplicate symbol"},
		{"bad threshold", "gate: {enabled: true, threshold: 1.5}\n", "gate.threshold"},
		{"negative equity", "equity: -1\n", "equity must be positive"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, "bad.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := Default()
	cfg.Equity = 12345
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12345.0, loaded.Equity)
}
