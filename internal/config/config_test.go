package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trading_mode: paper
scanner:
  symbols: [AAPL, NVDA]
  min_score: 55
risk:
  max_open_positions: 3
engine:
  monitor_interval: 15s
`), 0644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "NVDA"}, c.Scanner.Symbols)
	assert.Equal(t, 55.0, c.Scanner.MinScore)
	assert.Equal(t, 3, c.Risk.MaxOpenPositions)
	assert.Equal(t, 15*time.Second, c.Engine.MonitorInterval)
	assert.Equal(t, 5*time.Minute, c.Engine.ScanInterval)
	assert.Equal(t, 75.0, c.Selector.OptionsFloor)
	assert.Equal(t, 30*time.Minute, c.Confidence.Profiles.Scalp.MaxHold)
	assert.Equal(t, time.Duration(0), c.Confidence.Profiles.Swing.MaxHold)
	assert.True(t, *c.Confidence.ExitOnOracleFailure)
	assert.Len(t, c.Confidence.SentimentBands, 4)
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("ORACLE_API_KEY", "sk-test")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", c.Oracle.APIKey)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Root)
		ok     bool
	}{
		{"defaults", func(*Root) {}, true},
		{"floors inverted", func(c *Root) { c.Selector.StockFloor = 90 }, false},
		{"dte inverted", func(c *Root) { c.Risk.MinDTE = 60 }, false},
		{"close dte too high", func(c *Root) { c.Risk.CloseDTE = 45 }, false},
		{"bad moneyness", func(c *Root) { c.Selector.Moneyness = "deep" }, false},
		{"live on paper broker", func(c *Root) { c.TradingMode = "live" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			err := c.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "paper", c.TradingMode)
	assert.Equal(t, 30*time.Minute, c.Confidence.Profiles.Scalp.MaxHold)
	assert.Equal(t, 390*time.Minute, c.Confidence.Profiles.DayTrade.MaxHold)
	assert.Equal(t, Default().Risk, c.Risk)
	assert.False(t, c.Slack.Enabled)
}
