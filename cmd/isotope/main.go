package main

import (
	"context"
	"flag"
	"log"

	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"isotope/internal/engine"
	"isotope/internal/execution"
	"isotope/internal/feed"
	"isotope/internal/fee"
	"isotope/internal/health"
	"isotope/internal/ledger"
	"isotope/internal/obs"
	"isotope/internal/ops"
	"isotope/internal/risk"
	"isotope/internal/store"
	"isotope/internal/strategy"
	"isotope/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config, see config/isotope.example.yaml (default: built-in NIFTY/BANKNIFTY CSV replay)")
	ledgerPath := flag.String("ledger", "", "Trade ledger output, overrides execution.ledger_path")
	dataPath := flag.String("data", "", "CSV market data, overrides data_source.csv.file_path and selects the CSV source")
	replaySpeed := flag.String("speed", "", "CSV replay speed: 1x, 10x or MAX")
	mode := flag.String("mode", "", "Execution mode: FUTURES or SYNTHETIC")
	healthAddr := flag.String("health-addr", "", "Status and metrics listen address, e.g. :8080")
	flag.Parse()

	cfg := ops.Default()
	if *configPath != "" {
		var err error
		if cfg, err = ops.LoadFile(*configPath); err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}
	if *ledgerPath != "" {
		cfg.Execution.LedgerPath = *ledgerPath
	}
	if *dataPath != "" {
		cfg.DataSource.Type = string(feed.KindCSV)
		cfg.DataSource.CSV.FilePath = *dataPath
	}
	if *replaySpeed != "" {
		cfg.DataSource.CSV.ReplaySpeed = *replaySpeed
	}
	if *mode != "" {
		cfg.Execution.Mode = *mode
	}
	if *healthAddr != "" {
		cfg.Health.Addr = *healthAddr
	}

	loaded, err := ops.Resolve(cfg)
	if err != nil {
		log.Fatalf("config resolve failed: %v", err)
	}

	stopProfiler, err := startProfiler(loaded.Profiling)
	if err != nil {
		log.Fatalf("pyroscope start failed: %v", err)
	}

	err = run(context.Background(), loaded)
	stopProfiler()
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

// startProfiler returns a stop func, a no-op when profiling is disabled.
func startProfiler(cfg ops.ProfilingConfig) (func(), error) {
	if cfg.PyroscopeAddr == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.PyroscopeAddr,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := profiler.Stop(); err != nil {
			logs.Errorf("stop profiler, err: %+v", err)
		}
	}, nil
}

func run(ctx context.Context, loaded ops.Loaded) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.NewString()
	metrics := obs.NewMetrics()

	lw, err := ledger.Create(loaded.LedgerPath)
	if err != nil {
		return err
	}

	opts := []execution.Option{
		execution.WithRisk(risk.NewEngine(loaded.Risk)),
		execution.WithMetrics(metrics),
	}
	var client *conn.Client
	if loaded.Store.Enabled {
		mirror, c, err := openMirror(ctx, loaded.Store, runID)
		if err != nil {
			_ = lw.Close()
			return err
		}
		client = c
		opts = append(opts, execution.WithMirror(mirror))
	}
	defer func() {
		if client != nil {
			_ = client.Close()
		}
	}()

	execCfg := loaded.Execution
	execCfg.RunID = runID
	adapter, err := execution.New(execCfg, fee.NewCalculator(fee.DefaultSchedule()), lw, opts...)
	if err != nil {
		_ = lw.Close()
		return err
	}

	engCfg := loaded.Engine
	engCfg.RunID = runID
	engCfg.Metrics = metrics
	eng, err := engine.New(engCfg, adapter.Handle)
	if err != nil {
		_ = adapter.Close()
		return err
	}

	stop := func() error {
		eng.Stop()
		return adapter.Close()
	}

	for _, spec := range loaded.Strategies {
		s, err := strategy.New(spec, loaded.Registry)
		if err != nil {
			_ = stop()
			return err
		}
		if err := eng.RegisterStrategy(s); err != nil {
			_ = stop()
			return err
		}
	}

	feedCfg := loaded.Feed
	feedCfg.Metrics = metrics
	producer, err := feed.New(feedCfg, loaded.Registry)
	if err != nil {
		_ = stop()
		return err
	}

	srv := health.NewServer(loaded.HealthAddr, eng, metrics.Registry())
	srv.Start()
	defer srv.Stop()

	if err := eng.Start(); err != nil {
		_ = stop()
		return err
	}
	done, err := eng.RunProducer(ctx, producer, loaded.Symbols...)
	if err != nil {
		_ = stop()
		return err
	}
	logs.Infof("isotope %s running, mode %s, ledger %s", runID, execCfg.Mode, lw.Path())

	select {
	case <-sys.Shutdown():
		logs.Info("shutdown signal received")
	case err := <-done:
		if err != nil {
			logs.Errorf("market data producer failed, err: %+v", err)
		} else {
			logs.Info("market data source exhausted")
		}
	}

	if err := stop(); err != nil {
		return err
	}

	snapshot := metrics.Snapshot()
	logs.Infof("metrics: ticks=%d dispatched=%d skipped=%d strategy_errors=%d orders=%d executed=%d failed=%d mirror_dropped=%d dispatch=%+v execute=%+v",
		snapshot.TicksPublished, snapshot.TicksDispatched, snapshot.FeedSkipped, snapshot.StrategyErrors,
		snapshot.OrdersPublished, snapshot.OrdersExecuted, snapshot.OrdersFailed, snapshot.MirrorDropped,
		snapshot.DispatchLatency, snapshot.ExecuteLatency)
	logs.Infof("final balance %.2f, ledger rows %d", adapter.Balance(), lw.Rows())
	return nil
}

func openMirror(ctx context.Context, spec ops.StoreSpec, runID string) (*store.Mirror, *conn.Client, error) {
	client, err := conn.New(spec.Conn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open mirror database")
	}
	mirror, err := store.NewMirror(client.DB(), runID, spec.Mirror)
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "create mirror")
	}
	if err := mirror.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logs.Infof("ledger mirror enabled on %s", client.Driver())
	return mirror, client, nil
}

type profilerLogger struct{}

func (profilerLogger) Infof(string, ...interface{})  {}
func (profilerLogger) Debugf(string, ...interface{}) {}
func (profilerLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf(format, args...)
}
