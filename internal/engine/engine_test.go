package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isotope/internal/execution"
	"isotope/internal/fee"
	"isotope/internal/ledger"
	"isotope/internal/obs"
	"isotope/internal/ring"
	"isotope/internal/schema"
	"isotope/internal/strategy"
)

const (
	niftyToken     = 256265
	bankNiftyToken = 260105
)

func testConfig(m *obs.Metrics) Config {
	return Config{TickBufferSize: 8, OrderBufferSize: 4, WaitStrategy: "blocking", Metrics: m}
}

// tracer records every tick it sees into a shared journal.
type tracer struct {
	id      string
	journal *[]string
	seen    []int64
	fail    bool
	panics  bool
}

func (s *tracer) ID() string                                { return s.id }
func (s *tracer) SetOrderPublisher(strategy.OrderPublisher) {}

func (s *tracer) OnTick(t *schema.Tick) error {
	if s.journal != nil {
		*s.journal = append(*s.journal, s.id)
	}
	s.seen = append(s.seen, t.EventTime)
	if s.panics {
		panic("boom")
	}
	if s.fail {
		return errors.New("strategy failure")
	}
	return nil
}

type collector struct {
	mu     sync.Mutex
	orders []schema.OrderIntent
}

func (c *collector) handle(slot *schema.OrderIntent, _ int64, _ bool) {
	c.mu.Lock()
	c.orders = append(c.orders, *slot)
	c.mu.Unlock()
}

func TestPairsScenarioThroughExecution(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.AddInstrument("NIFTY", niftyToken))
	require.NoError(t, reg.AddInstrument("BANKNIFTY", bankNiftyToken))

	cfg := strategy.DefaultPairsConfig()
	// window [2.0, 3.0] on the last tick gives z = 1.0
	cfg.LookbackPeriod = 2
	cfg.EntryZ = 0.5
	cfg.ExitZ = 0.1
	cfg.StopLossZ = 3
	cfg.MinProfitThreshold = 0.1
	pairs, err := strategy.NewPairsTrading(cfg, reg)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "trades.csv")
	lw, err := ledger.Create(path)
	require.NoError(t, err)
	m := obs.NewMetrics()
	adapter, err := execution.New(execution.Config{Mode: schema.ModeFutures, InitialCapital: 1_000_000}, fee.NewCalculator(fee.DefaultSchedule()), lw, execution.WithMetrics(m))
	require.NoError(t, err)

	e, err := New(testConfig(m), adapter.Handle)
	require.NoError(t, err)
	require.NoError(t, e.RegisterStrategy(pairs))
	require.NoError(t, e.Start())

	for i, q := range []struct {
		id    int64
		price float64
	}{{niftyToken, 20000}, {bankNiftyToken, 40000}, {niftyToken, 20000}, {bankNiftyToken, 60000}} {
		require.NoError(t, e.PublishTick(schema.Tick{InstrumentID: q.id, LastPrice: q.price, EventTime: int64(1_700_000_000_000 + i)}))
	}
	e.Stop()
	require.NoError(t, adapter.Close())

	records, err := ledger.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "SELL", records[0].Action)
	assert.Equal(t, "BANKNIFTY", records[0].Symbol)
	assert.Equal(t, int64(16), records[0].Quantity)
	assert.Equal(t, 60000.0, records[0].Price)
	assert.Equal(t, "PairsTrading_Nifty_BankNifty", records[0].StrategyID)

	assert.Equal(t, "BUY", records[1].Action)
	assert.Equal(t, "NIFTY", records[1].Symbol)
	assert.Equal(t, int64(50), records[1].Quantity)
	assert.Equal(t, 20000.0, records[1].Price)
	assert.Equal(t, int64(1_700_000_000_003), records[1].Timestamp)

	snap := m.Snapshot()
	assert.Equal(t, uint64(4), snap.TicksPublished)
	assert.Equal(t, uint64(4), snap.TicksDispatched)
	assert.Equal(t, uint64(2), snap.OrdersPublished)
	assert.Equal(t, uint64(2), snap.OrdersExecuted)
}

func TestFailingStrategiesAreIsolated(t *testing.T) {
	m := obs.NewMetrics()
	c := &collector{}
	e, err := New(testConfig(m), c.handle)
	require.NoError(t, err)

	var journal []string
	panicking := &tracer{id: "panicking", journal: &journal, panics: true}
	failing := &tracer{id: "failing", journal: &journal, fail: true}
	healthy := &tracer{id: "healthy", journal: &journal}
	for _, s := range []*tracer{panicking, failing, healthy} {
		require.NoError(t, e.RegisterStrategy(s))
	}
	require.NoError(t, e.Start())

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, e.PublishTick(schema.Tick{InstrumentID: 1, LastPrice: 1, EventTime: int64(i)}))
	}
	e.Stop()

	require.Len(t, healthy.seen, n)
	for i, ts := range healthy.seen {
		require.Equal(t, int64(i), ts)
	}
	require.Len(t, journal, 3*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, []string{"panicking", "failing", "healthy"}, journal[3*i:3*i+3])
	}
	assert.Equal(t, uint64(2*n), m.Snapshot().StrategyErrors)
	assert.Equal(t, uint64(n), m.Snapshot().TicksDispatched)
}

func TestRegisterStrategyRules(t *testing.T) {
	e, err := New(testConfig(nil), (&collector{}).handle)
	require.NoError(t, err)

	require.NoError(t, e.RegisterStrategy(&tracer{id: "a"}))
	assert.Error(t, e.RegisterStrategy(&tracer{id: "a"}))
	assert.Error(t, e.RegisterStrategy(nil))

	require.NoError(t, e.Start())
	assert.Error(t, e.Start())
	assert.Error(t, e.RegisterStrategy(&tracer{id: "b"}))
	assert.Equal(t, []string{"a"}, e.Strategies())
	e.Stop()
}

func TestOrdersDrainBeforeStopReturns(t *testing.T) {
	c := &collector{}
	e, err := New(testConfig(nil), c.handle)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	const n = 50
	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				assert.NoError(t, e.PublishOrder("NIFTY", schema.SideBuy, int64(i+1), 100, "s", int64(p)))
			}
		}(p)
	}
	wg.Wait()
	e.Stop()
	e.Stop()

	require.Len(t, c.orders, 2*n)
	last := map[int64]int64{}
	for _, o := range c.orders {
		assert.Greater(t, o.Quantity, last[o.SignalTime], "per producer order is kept")
		last[o.SignalTime] = o.Quantity
	}

	assert.ErrorIs(t, e.PublishOrder("NIFTY", schema.SideBuy, 1, 1, "s", 0), ring.ErrClosed)
	assert.ErrorIs(t, e.PublishTick(schema.Tick{}), ring.ErrClosed)
	assert.False(t, e.Running())
}

func TestStopWithoutStart(t *testing.T) {
	e, err := New(testConfig(nil), (&collector{}).handle)
	require.NoError(t, err)
	e.Stop()
	assert.Error(t, e.Start())
	assert.NotEmpty(t, e.RunID())
}

type sliceProducer struct {
	connected  bool
	subscribed []string
	ticks      []schema.Tick
	connectErr error
}

func (p *sliceProducer) Connect(context.Context) error {
	p.connected = true
	return p.connectErr
}

func (p *sliceProducer) Subscribe(symbols ...string) error {
	p.subscribed = symbols
	return nil
}

func (p *sliceProducer) Publish(ctx context.Context, ticks *ring.Ring[schema.Tick]) error {
	for _, t := range p.ticks {
		if err := ctx.Err(); err != nil {
			return err
		}
		seq, err := ticks.Next()
		if err != nil {
			return err
		}
		*ticks.SlotAt(seq) = t
		ticks.Publish(seq)
	}
	return nil
}

func TestRunProducer(t *testing.T) {
	e, err := New(testConfig(nil), (&collector{}).handle)
	require.NoError(t, err)
	s := &tracer{id: "s"}
	require.NoError(t, e.RegisterStrategy(s))

	p := &sliceProducer{}
	for i := 0; i < 40; i++ {
		p.ticks = append(p.ticks, schema.Tick{InstrumentID: 1, EventTime: int64(i)})
	}

	_, err = e.RunProducer(context.Background(), p, "NIFTY")
	assert.Error(t, err, "producer needs a running engine")

	require.NoError(t, e.Start())
	done, err := e.RunProducer(context.Background(), p, "NIFTY", "BANKNIFTY")
	require.NoError(t, err)
	assert.True(t, p.connected)
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, p.subscribed)

	require.NoError(t, <-done)
	e.Stop()
	assert.Len(t, s.seen, 40)
}

func TestRunProducerConnectFailure(t *testing.T) {
	e, err := New(testConfig(nil), (&collector{}).handle)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	defer e.Stop()

	_, err = e.RunProducer(context.Background(), &sliceProducer{connectErr: errors.New("refused")})
	assert.Error(t, err)

	done, err := e.RunProducer(context.Background(), &sliceProducer{})
	require.NoError(t, err, "a failed connect releases the producer slot")
	assert.NoError(t, <-done)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(testConfig(nil), nil)
	assert.Error(t, err)

	cfg := testConfig(nil)
	cfg.TickBufferSize = 3
	_, err = New(cfg, (&collector{}).handle)
	assert.Error(t, err)

	cfg = testConfig(nil)
	cfg.WaitStrategy = "yield"
	_, err = New(cfg, (&collector{}).handle)
	assert.Error(t, err)
}
