package ops

import (
	"os"
	"time"
	_ "time/tzdata" // csv time_zone on hosts without zoneinfo

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"isotope/internal/engine"
	"isotope/internal/execution"
	"isotope/internal/feed"
	"isotope/internal/fee"
	"isotope/internal/risk"
	"isotope/internal/ring"
	"isotope/internal/schema"
	"isotope/internal/store"
	"isotope/internal/strategy"
	"isotope/pkg/conn"
	"isotope/pkg/exception"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Engine      EngineConfig       `yaml:"engine"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	DataSource  DataSourceConfig   `yaml:"data_source"`
	Strategies  []StrategyConfig   `yaml:"strategies"`
	Execution   ExecutionConfig    `yaml:"execution"`
	Risk        risk.Config        `yaml:"risk"`
	Store       StoreConfig        `yaml:"store"`
	Health      HealthConfig       `yaml:"health"`
	Profiling   ProfilingConfig    `yaml:"profiling"`
}

// EngineConfig sizes the two channels.
type EngineConfig struct {
	TickBufferSize  int    `yaml:"tick_buffer_size"`
	OrderBufferSize int    `yaml:"order_buffer_size"`
	WaitStrategy    string `yaml:"wait_strategy"`
}

// InstrumentConfig maps a symbol to its broker token.
type InstrumentConfig struct {
	Symbol string `yaml:"symbol"`
	Token  int64  `yaml:"token"`
}

// DataSourceConfig selects the market data producer.
type DataSourceConfig struct {
	Type string `yaml:"type"`
	// Symbols to subscribe, every instrument when empty.
	Symbols   []string        `yaml:"symbols"`
	CSV       CSVConfig       `yaml:"csv"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Simulated SimulatedConfig `yaml:"simulated"`
}

type CSVConfig struct {
	FilePath    string `yaml:"file_path"`
	ReplaySpeed string `yaml:"replay_speed"`
	TimeZone    string `yaml:"time_zone"`
}

type WebSocketConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
}

type SimulatedConfig struct {
	TicksPerSecond float64            `yaml:"ticks_per_second"`
	Burst          int                `yaml:"burst"`
	BasePrices     map[string]float64 `yaml:"base_prices"`
	Volatility     float64            `yaml:"volatility"`
	Seed           int64              `yaml:"seed"`
	MaxTicks       int64              `yaml:"max_ticks"`
}

// StrategyConfig is one strategy entry. Pairs fields sit inline next to
// kind and default to strategy.DefaultPairsConfig.
type StrategyConfig struct {
	Kind  string               `yaml:"kind"`
	Pairs strategy.PairsConfig `yaml:",inline"`
}

func (s *StrategyConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain StrategyConfig
	raw := plain{Kind: string(strategy.KindPairsTrading), Pairs: strategy.DefaultPairsConfig()}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = StrategyConfig(raw)
	return nil
}

type ExecutionConfig struct {
	Mode           string  `yaml:"mode"`
	InitialCapital float64 `yaml:"initial_capital"`
	PremiumRatio   float64 `yaml:"premium_ratio"`
	LedgerPath     string  `yaml:"ledger_path"`
	SnapshotPath   string  `yaml:"snapshot_path"`
}

// StoreConfig enables the SQL mirror of the ledger.
type StoreConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Driver        string        `yaml:"driver"`
	Path          string        `yaml:"path"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Database      string        `yaml:"database"`
	SSLMode       string        `yaml:"ssl_mode"`
	ConnString    string        `yaml:"conn_string"`
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type HealthConfig struct {
	// Addr is the listen address, empty disables the server.
	Addr string `yaml:"addr"`
}

type ProfilingConfig struct {
	// PyroscopeAddr is the pyroscope server, empty disables profiling.
	PyroscopeAddr string `yaml:"pyroscope_addr"`
	AppName       string `yaml:"app_name"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry   *schema.Registry
	Engine     engine.Config
	Feed       feed.Config
	Symbols    []string
	Strategies []strategy.Spec
	Execution  execution.Config
	LedgerPath string
	Risk       risk.Config
	Store      StoreSpec
	HealthAddr string
	Profiling  ProfilingConfig
}

// StoreSpec is the resolved mirror setup.
type StoreSpec struct {
	Enabled bool
	Conn    conn.Option
	Mirror  store.Config
}

// Default returns the NIFTY / BANKNIFTY pairs setup replaying a CSV file.
func Default() FileConfig {
	return FileConfig{
		Engine: EngineConfig{
			TickBufferSize:  1 << 14,
			OrderBufferSize: 1 << 10,
			WaitStrategy:    "blocking",
		},
		Instruments: []InstrumentConfig{
			{Symbol: "NIFTY", Token: 256265},
			{Symbol: "BANKNIFTY", Token: 260105},
		},
		DataSource: DataSourceConfig{
			Type: string(feed.KindCSV),
			CSV: CSVConfig{
				FilePath:    "data/market_data.csv",
				ReplaySpeed: "MAX",
			},
		},
		Execution: ExecutionConfig{
			Mode:           schema.ModeFutures.String(),
			InitialCapital: 1_000_000,
			PremiumRatio:   fee.DefaultPremiumRatio,
			LedgerPath:     "trades.csv",
			SnapshotPath:   "positions.json",
		},
		Store: StoreConfig{
			Driver: string(conn.DriverSQLite),
			Path:   "isotope.db",
		},
		Profiling: ProfilingConfig{AppName: "isotope"},
	}
}

// Load reads a YAML config file over Default and resolves it.
func Load(path string) (Loaded, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// LoadFile reads a YAML config file over Default without resolving it.
func LoadFile(path string) (FileConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config").With("path", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config").With("path", path)
	}
	return cfg, nil
}

// Resolve validates cfg and builds the runtime configuration.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}
	if _, err := ring.ParseWaitStrategy(cfg.Engine.WaitStrategy); err != nil {
		return Loaded{}, err
	}
	feedCfg, err := resolveFeed(cfg.DataSource)
	if err != nil {
		return Loaded{}, err
	}
	symbols := cfg.DataSource.Symbols
	for _, s := range symbols {
		if _, ok := registry.InstrumentID(s); !ok {
			return Loaded{}, errors.Wrapf(exception.ErrUnknownSymbol, "data source symbol %s", s)
		}
	}
	specs, err := resolveStrategies(cfg.Strategies, registry)
	if err != nil {
		return Loaded{}, err
	}
	exec, err := resolveExecution(cfg.Execution)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Risk.OrderRateLimit < 0 || cfg.Risk.MaxOrderQty < 0 || cfg.Risk.MaxPosition < 0 || cfg.Risk.MaxOrderNotional < 0 {
		return Loaded{}, errors.Wrap(exception.ErrInvalidArgument, "risk limits must be >= 0")
	}

	return Loaded{
		Registry: registry,
		Engine: engine.Config{
			TickBufferSize:  cfg.Engine.TickBufferSize,
			OrderBufferSize: cfg.Engine.OrderBufferSize,
			WaitStrategy:    cfg.Engine.WaitStrategy,
		},
		Feed:       feedCfg,
		Symbols:    symbols,
		Strategies: specs,
		Execution:  exec,
		LedgerPath: cfg.Execution.LedgerPath,
		Risk:       cfg.Risk,
		Store:      resolveStore(cfg.Store),
		HealthAddr: cfg.Health.Addr,
		Profiling:  cfg.Profiling,
	}, nil
}

func buildRegistry(instruments []InstrumentConfig) (*schema.Registry, error) {
	if len(instruments) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "no instruments configured")
	}
	reg := schema.NewRegistry()
	for _, inst := range instruments {
		if err := reg.AddInstrument(inst.Symbol, inst.Token); err != nil {
			return nil, errors.Wrap(err, "add instrument")
		}
	}
	return reg, nil
}

func resolveFeed(cfg DataSourceConfig) (feed.Config, error) {
	kind, err := feed.ParseKind(cfg.Type)
	if err != nil {
		return feed.Config{}, err
	}

	out := feed.Config{
		Kind: kind,
		WebSocket: feed.WebSocketConfig{
			URL:              cfg.WebSocket.URL,
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
			ReadTimeout:      cfg.WebSocket.ReadTimeout,
		},
		Simulated: feed.SimulatedConfig{
			TicksPerSecond: cfg.Simulated.TicksPerSecond,
			Burst:          cfg.Simulated.Burst,
			BasePrices:     cfg.Simulated.BasePrices,
			Volatility:     cfg.Simulated.Volatility,
			Seed:           cfg.Simulated.Seed,
			MaxTicks:       cfg.Simulated.MaxTicks,
		},
	}

	switch kind {
	case feed.KindCSV:
		if cfg.CSV.FilePath == "" {
			return feed.Config{}, errors.Wrap(exception.ErrInvalidArgument, "csv data source needs file_path")
		}
		if _, err := feed.ParseSpeed(cfg.CSV.ReplaySpeed); err != nil {
			return feed.Config{}, err
		}
		loc := time.Local
		if cfg.CSV.TimeZone != "" {
			if loc, err = time.LoadLocation(cfg.CSV.TimeZone); err != nil {
				return feed.Config{}, errors.Wrap(err, "load csv time zone").With("time_zone", cfg.CSV.TimeZone)
			}
		}
		out.CSV = feed.CSVConfig{Path: cfg.CSV.FilePath, Speed: cfg.CSV.ReplaySpeed, Location: loc}
	case feed.KindWebSocket:
		if cfg.WebSocket.URL == "" {
			return feed.Config{}, errors.Wrap(exception.ErrInvalidArgument, "websocket data source needs url")
		}
	}
	return out, nil
}

func resolveStrategies(cfgs []StrategyConfig, reg *schema.Registry) ([]strategy.Spec, error) {
	if len(cfgs) == 0 {
		cfgs = []StrategyConfig{{Kind: string(strategy.KindPairsTrading), Pairs: strategy.DefaultPairsConfig()}}
	}

	specs := make([]strategy.Spec, 0, len(cfgs))
	seen := make(map[string]struct{}, len(cfgs))
	for _, c := range cfgs {
		kind, err := strategy.ParseKind(c.Kind)
		if err != nil {
			return nil, err
		}
		if err := c.Pairs.Validate(); err != nil {
			return nil, err
		}
		for _, leg := range []string{c.Pairs.LegA, c.Pairs.LegB} {
			if _, ok := reg.InstrumentID(leg); !ok {
				return nil, errors.Wrapf(exception.ErrUnknownSymbol, "strategy %s leg %s", c.Pairs.ID, leg)
			}
		}
		if _, ok := seen[c.Pairs.ID]; ok {
			return nil, errors.Wrapf(exception.ErrDuplicateStrategy, "strategy id: %s", c.Pairs.ID)
		}
		seen[c.Pairs.ID] = struct{}{}
		specs = append(specs, strategy.Spec{Kind: kind, Pairs: c.Pairs})
	}
	return specs, nil
}

func resolveExecution(cfg ExecutionConfig) (execution.Config, error) {
	mode, err := schema.ParseExecutionMode(cfg.Mode)
	if err != nil {
		return execution.Config{}, errors.Wrap(exception.ErrInvalidArgument, err.Error())
	}
	if cfg.InitialCapital <= 0 {
		return execution.Config{}, errors.Wrap(exception.ErrInvalidArgument, "initial_capital must be > 0")
	}
	if cfg.PremiumRatio < 0 {
		return execution.Config{}, errors.Wrap(exception.ErrInvalidArgument, "premium_ratio must be >= 0")
	}
	if cfg.LedgerPath == "" {
		return execution.Config{}, errors.Wrap(exception.ErrInvalidArgument, "ledger_path is empty")
	}
	return execution.Config{
		Mode:           mode,
		InitialCapital: cfg.InitialCapital,
		PremiumRatio:   cfg.PremiumRatio,
		SnapshotPath:   cfg.SnapshotPath,
	}, nil
}

func resolveStore(cfg StoreConfig) StoreSpec {
	return StoreSpec{
		Enabled: cfg.Enabled,
		Conn: conn.Option{
			Driver:     conn.Driver(cfg.Driver),
			Host:       cfg.Host,
			Port:       cfg.Port,
			User:       cfg.User,
			Password:   cfg.Password,
			Database:   cfg.Database,
			SSLMode:    cfg.SSLMode,
			ConnString: cfg.ConnString,
			Path:       cfg.Path,
			LogLevel:   "silent",
		},
		Mirror: store.Config{
			QueueSize:     cfg.QueueSize,
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
		},
	}
}
