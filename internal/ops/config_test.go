package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isotope/internal/feed"
	"isotope/internal/schema"
	"isotope/internal/strategy"
	"isotope/pkg/conn"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "isotope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.Registry.Count())
	id, ok := loaded.Registry.InstrumentID("BANKNIFTY")
	require.True(t, ok)
	assert.Equal(t, int64(260105), id)

	assert.Equal(t, 1<<14, loaded.Engine.TickBufferSize)
	assert.Equal(t, feed.KindCSV, loaded.Feed.Kind)
	assert.Equal(t, "MAX", loaded.Feed.CSV.Speed)
	assert.Equal(t, schema.ModeFutures, loaded.Execution.Mode)
	assert.Equal(t, 1_000_000.0, loaded.Execution.InitialCapital)
	assert.Equal(t, "trades.csv", loaded.LedgerPath)
	assert.False(t, loaded.Store.Enabled)

	require.Len(t, loaded.Strategies, 1)
	assert.Equal(t, strategy.KindPairsTrading, loaded.Strategies[0].Kind)
	assert.Equal(t, strategy.DefaultPairsConfig(), loaded.Strategies[0].Pairs)
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
engine:
  tick_buffer_size: 1024
  order_buffer_size: 64
  wait_strategy: busy_spin
instruments:
  - symbol: NIFTY
    token: 256265
  - symbol: BANKNIFTY
    token: 260105
  - symbol: FINNIFTY
    token: 257801
data_source:
  type: simulated
  symbols: [NIFTY, BANKNIFTY]
  simulated:
    ticks_per_second: 500
    base_prices:
      NIFTY: 20000
    max_ticks: 1000
strategies:
  - kind: pairs_trading
    id: nifty_banknifty
    lookback_period: 50
    entry_z: 1.5
  - kind: pairs
    id: nifty_finnifty
    leg_b: FINNIFTY
execution:
  mode: synthetic
  initial_capital: 500000
  ledger_path: out/trades.csv
risk:
  max_order_qty: 500
  order_rate_limit: 10
  order_rate_window: 1s
store:
  enabled: true
  driver: postgres
  host: localhost
  port: 5432
  database: isotope
  flush_interval: 500ms
health:
  addr: ":8080"
`)
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, loaded.Registry.Count())
	assert.Equal(t, "busy_spin", loaded.Engine.WaitStrategy)
	assert.Equal(t, 64, loaded.Engine.OrderBufferSize)

	assert.Equal(t, feed.KindSimulated, loaded.Feed.Kind)
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, loaded.Symbols)
	assert.Equal(t, 500.0, loaded.Feed.Simulated.TicksPerSecond)
	assert.Equal(t, map[string]float64{"NIFTY": 20000}, loaded.Feed.Simulated.BasePrices)
	assert.Equal(t, int64(1000), loaded.Feed.Simulated.MaxTicks)

	require.Len(t, loaded.Strategies, 2)
	first := loaded.Strategies[0].Pairs
	assert.Equal(t, "nifty_banknifty", first.ID)
	assert.Equal(t, 50, first.LookbackPeriod)
	assert.Equal(t, 1.5, first.EntryZ)
	assert.Equal(t, strategy.DefaultPairsConfig().ExitZ, first.ExitZ, "unset fields keep defaults")
	second := loaded.Strategies[1].Pairs
	assert.Equal(t, "NIFTY", second.LegA)
	assert.Equal(t, "FINNIFTY", second.LegB)

	assert.Equal(t, schema.ModeSynthetic, loaded.Execution.Mode)
	assert.Equal(t, 500000.0, loaded.Execution.InitialCapital)
	assert.Equal(t, "out/trades.csv", loaded.LedgerPath)

	assert.Equal(t, int64(500), loaded.Risk.MaxOrderQty)
	assert.Equal(t, time.Second, loaded.Risk.OrderRateWindow)

	assert.True(t, loaded.Store.Enabled)
	assert.Equal(t, conn.DriverPostgres, loaded.Store.Conn.Driver)
	assert.Equal(t, 5432, loaded.Store.Conn.Port)
	assert.Equal(t, 500*time.Millisecond, loaded.Store.Mirror.FlushInterval)
	assert.Equal(t, ":8080", loaded.HealthAddr)
}

func TestCSVTimeZone(t *testing.T) {
	cfg := Default()
	cfg.DataSource.CSV.TimeZone = "UTC"
	loaded, err := Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loaded.Feed.CSV.Location)

	cfg.DataSource.CSV.TimeZone = "Mars/Olympus"
	_, err = Resolve(cfg)
	assert.Error(t, err)
}

func TestResolveRejectsBadConfig(t *testing.T) {
	for name, mutate := range map[string]func(*FileConfig){
		"no instruments":     func(c *FileConfig) { c.Instruments = nil },
		"duplicate token":    func(c *FileConfig) { c.Instruments[1].Token = c.Instruments[0].Token },
		"wait strategy":      func(c *FileConfig) { c.Engine.WaitStrategy = "sleep" },
		"feed type":          func(c *FileConfig) { c.DataSource.Type = "KITE" },
		"replay speed":       func(c *FileConfig) { c.DataSource.CSV.ReplaySpeed = "fast" },
		"csv path":           func(c *FileConfig) { c.DataSource.CSV.FilePath = "" },
		"websocket url":      func(c *FileConfig) { c.DataSource.Type = "WEBSOCKET" },
		"unknown symbol":     func(c *FileConfig) { c.DataSource.Symbols = []string{"SENSEX"} },
		"strategy kind":      func(c *FileConfig) { c.Strategies = []StrategyConfig{{Kind: "momentum", Pairs: strategy.DefaultPairsConfig()}} },
		"strategy leg":       func(c *FileConfig) { c.Strategies = []StrategyConfig{{Kind: "pairs", Pairs: withLegB("SENSEX")}} },
		"strategy values":    func(c *FileConfig) { c.Strategies = []StrategyConfig{{Kind: "pairs", Pairs: strategy.PairsConfig{}}} },
		"duplicate strategy": func(c *FileConfig) { c.Strategies = []StrategyConfig{{Kind: "pairs", Pairs: strategy.DefaultPairsConfig()}, {Kind: "pairs", Pairs: strategy.DefaultPairsConfig()}} },
		"execution mode":     func(c *FileConfig) { c.Execution.Mode = "OPTIONS" },
		"capital":            func(c *FileConfig) { c.Execution.InitialCapital = 0 },
		"ledger path":        func(c *FileConfig) { c.Execution.LedgerPath = "" },
		"risk":               func(c *FileConfig) { c.Risk.MaxPosition = -1 },
	} {
		cfg := Default()
		mutate(&cfg)
		_, err := Resolve(cfg)
		assert.Error(t, err, name)
	}
}

func withLegB(symbol string) strategy.PairsConfig {
	cfg := strategy.DefaultPairsConfig()
	cfg.LegB = symbol
	return cfg
}

func TestLoadExampleConfig(t *testing.T) {
	loaded, err := Load(filepath.Join("..", "..", "config", "isotope.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, feed.KindCSV, loaded.Feed.Kind)
	assert.Equal(t, "Asia/Kolkata", loaded.Feed.CSV.Location.String())
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, loaded.Symbols)
	require.Len(t, loaded.Strategies, 1)
	assert.Equal(t, strategy.KindPairsTrading, loaded.Strategies[0].Kind)
	assert.Equal(t, 100, loaded.Strategies[0].Pairs.LookbackPeriod)
	assert.Equal(t, time.Second, loaded.Risk.OrderRateWindow)
	assert.Equal(t, schema.ModeFutures, loaded.Execution.Mode)
	assert.False(t, loaded.Store.Enabled)
	assert.Equal(t, ":8080", loaded.HealthAddr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "engine: [1, 2\n"))
	assert.Error(t, err)
}
