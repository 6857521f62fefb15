package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"isotope/internal/feed"
	"isotope/internal/obs"
	"isotope/internal/ring"
	"isotope/internal/schema"
	"isotope/internal/strategy"
	"isotope/pkg/exception"
)

const (
	stateCreated int32 = iota
	stateRunning
	stateStopped
)

// Config sizes the channels.
type Config struct {
	TickBufferSize  int
	OrderBufferSize int
	// WaitStrategy is "blocking" (default) or "busy_spin".
	WaitStrategy string
	// RunID tags logs and mirror rows, generated when empty.
	RunID   string
	Metrics *obs.Metrics
}

// DefaultConfig returns the channel sizes used by the isotope command.
func DefaultConfig() Config {
	return Config{
		TickBufferSize:  1 << 14,
		OrderBufferSize: 1 << 10,
		WaitStrategy:    "blocking",
	}
}

// OrderHandler consumes the order channel, one slot at a time.
type OrderHandler = ring.Handler[schema.OrderIntent]

// Engine owns both channels and their consumer goroutines.
type Engine struct {
	runID   string
	metrics *obs.Metrics

	ticks         *ring.Ring[schema.Tick]
	orders        *ring.Ring[schema.OrderIntent]
	tickConsumer  *ring.Consumer[schema.Tick]
	orderConsumer *ring.Consumer[schema.OrderIntent]
	onOrder       OrderHandler

	strategies []strategy.Strategy
	ids        map[string]struct{}

	state          atomic.Int32
	producing      atomic.Bool
	producerCtx    context.Context
	stopProducers  context.CancelFunc
	producers      sync.WaitGroup
	dispatcherDone chan struct{}
	executorDone   chan struct{}
	stopOnce       sync.Once
}

// New creates both channels and registers their consumers.
func New(cfg Config, onOrder OrderHandler) (*Engine, error) {
	if onOrder == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil order handler")
	}
	if cfg.TickBufferSize == 0 {
		cfg.TickBufferSize = DefaultConfig().TickBufferSize
	}
	if cfg.OrderBufferSize == 0 {
		cfg.OrderBufferSize = DefaultConfig().OrderBufferSize
	}

	tickWait, err := ring.ParseWaitStrategy(cfg.WaitStrategy)
	if err != nil {
		return nil, err
	}
	orderWait, err := ring.ParseWaitStrategy(cfg.WaitStrategy)
	if err != nil {
		return nil, err
	}

	ticks, err := ring.New[schema.Tick](ring.Config{Size: cfg.TickBufferSize, Producer: ring.ProducerSingle, Wait: tickWait})
	if err != nil {
		return nil, errors.Wrap(err, "create market data channel")
	}
	orders, err := ring.New[schema.OrderIntent](ring.Config{Size: cfg.OrderBufferSize, Producer: ring.ProducerMulti, Wait: orderWait})
	if err != nil {
		return nil, errors.Wrap(err, "create order channel")
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		runID:         cfg.RunID,
		metrics:       cfg.Metrics,
		ticks:         ticks,
		orders:        orders,
		tickConsumer:  ticks.NewConsumer(),
		orderConsumer: orders.NewConsumer(),
		onOrder:       onOrder,
		ids:           make(map[string]struct{}),
		producerCtx:   ctx,
		stopProducers: cancel,
	}

	if err := e.metrics.RegisterGaugeFunc("tick_channel_remaining", "Free slots in the market data channel", func() float64 {
		return float64(e.ticks.Remaining())
	}); err != nil {
		return nil, errors.Wrap(err, "register tick channel gauge")
	}
	if err := e.metrics.RegisterGaugeFunc("order_channel_remaining", "Free slots in the order channel", func() float64 {
		return float64(e.orders.Remaining())
	}); err != nil {
		return nil, errors.Wrap(err, "register order channel gauge")
	}
	return e, nil
}

// RunID identifies this engine instance.
func (e *Engine) RunID() string {
	return e.runID
}

// Ticks returns the market data channel for producers.
func (e *Engine) Ticks() *ring.Ring[schema.Tick] {
	return e.ticks
}

// Running reports whether Start was called and Stop was not.
func (e *Engine) Running() bool {
	return e.state.Load() == stateRunning
}

// Strategies returns the registered strategy ids in dispatch order.
func (e *Engine) Strategies() []string {
	ids := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		ids = append(ids, s.ID())
	}
	return ids
}

// RegisterStrategy injects the engine as order publisher and appends s to
// the dispatch list. Only allowed before Start.
func (e *Engine) RegisterStrategy(s strategy.Strategy) error {
	if s == nil {
		return errors.Wrap(exception.ErrNilInstance, "nil strategy")
	}
	if e.state.Load() != stateCreated {
		return errors.Wrapf(exception.ErrEngineAlreadyStarted, "register strategy %s", s.ID())
	}
	if _, ok := e.ids[s.ID()]; ok {
		return errors.Wrapf(exception.ErrDuplicateStrategy, "strategy id: %s", s.ID())
	}
	s.SetOrderPublisher(e)
	e.ids[s.ID()] = struct{}{}
	e.strategies = append(e.strategies, s)
	logs.Infof("strategy registered: %s", s.ID())
	return nil
}

// PublishOrder claims an order slot, fills it and publishes it.
// Blocks while the order channel is full.
func (e *Engine) PublishOrder(symbol string, side schema.Side, qty int64, price float64, strategyID string, signalTime int64) error {
	seq, err := e.orders.Next()
	if err != nil {
		return err
	}
	slot := e.orders.SlotAt(seq)
	slot.Symbol = symbol
	slot.Side = side
	slot.Quantity = qty
	slot.Price = price
	slot.StrategyID = strategyID
	slot.SignalTime = signalTime
	e.orders.Publish(seq)
	e.metrics.IncOrderPublished()
	return nil
}

// PublishTick copies tick into the market data channel. It must only be
// called from the single producer goroutine.
func (e *Engine) PublishTick(tick schema.Tick) error {
	seq, err := e.ticks.Next()
	if err != nil {
		return err
	}
	*e.ticks.SlotAt(seq) = tick
	e.ticks.Publish(seq)
	e.metrics.IncTickPublished()
	return nil
}

// Start launches the dispatcher and the execution goroutines.
func (e *Engine) Start() error {
	if !e.state.CompareAndSwap(stateCreated, stateRunning) {
		return errors.Wrap(exception.ErrEngineAlreadyStarted, "start")
	}

	e.dispatcherDone = make(chan struct{})
	e.executorDone = make(chan struct{})

	go func() {
		defer close(e.dispatcherDone)
		if err := e.tickConsumer.Run(e.dispatch); err != nil {
			logs.Errorf("dispatcher stopped, err: %+v", err)
		}
	}()
	go func() {
		defer close(e.executorDone)
		if err := e.orderConsumer.Run(e.onOrder); err != nil {
			logs.Errorf("executor stopped, err: %+v", err)
		}
	}()

	logs.Infof("engine %s started, strategies %v, tick channel %d, order channel %d",
		e.runID, e.Strategies(), e.ticks.Cap(), e.orders.Cap())
	return nil
}

// RunProducer connects p, subscribes symbols and runs it on its own
// goroutine. The returned channel yields the publish result once.
// Only one producer may run, the market data channel has a single writer.
func (e *Engine) RunProducer(ctx context.Context, p feed.Producer, symbols ...string) (<-chan error, error) {
	if e.state.Load() != stateRunning {
		return nil, errors.Wrap(exception.ErrEngineStopped, "run producer before start or after stop")
	}
	if !e.producing.CompareAndSwap(false, true) {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "a producer is already running")
	}

	pctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.producerCtx, cancel)

	if err := p.Connect(pctx); err != nil {
		stop()
		cancel()
		e.producing.Store(false)
		return nil, errors.Wrap(err, "connect producer")
	}
	if err := p.Subscribe(symbols...); err != nil {
		stop()
		cancel()
		e.producing.Store(false)
		return nil, errors.Wrap(err, "subscribe producer").With("symbols", fmt.Sprint(symbols))
	}

	done := make(chan error, 1)
	e.producers.Add(1)
	go func() {
		defer e.producers.Done()
		defer close(done)
		defer stop()
		defer cancel()

		err := p.Publish(pctx, e.ticks)
		if err != nil && pctx.Err() == nil {
			logs.Errorf("producer stopped, err: %+v", err)
		}
		done <- err
	}()
	return done, nil
}

// Stop shuts down in dependency order: producer, market data channel,
// order channel. Both channels are fully drained. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		started := e.state.Swap(stateStopped) == stateRunning
		begin := time.Now()

		e.stopProducers()
		e.producers.Wait()

		e.ticks.Close()
		if started {
			<-e.dispatcherDone
		}

		e.orders.Close()
		if started {
			<-e.executorDone
		}

		logs.Infof("engine %s stopped in %s, ticks %d, orders %d",
			e.runID, time.Since(begin), e.tickConsumer.Sequence()+1, e.orderConsumer.Sequence()+1)
	})
}

func (e *Engine) dispatch(tick *schema.Tick, seq int64, _ bool) {
	start := time.Now()
	for _, s := range e.strategies {
		e.invoke(s, tick, seq)
	}
	e.metrics.ObserveDispatch(time.Since(start))
}

func (e *Engine) invoke(s strategy.Strategy, tick *schema.Tick, seq int64) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.IncStrategyError(s.ID())
			logs.Errorf("strategy %s panicked on tick seq %d instrument %d, err: %+v",
				s.ID(), seq, tick.InstrumentID, errors.Wrap(exception.ErrPanic, fmt.Sprint(r)))
		}
	}()

	if err := s.OnTick(tick); err != nil {
		e.metrics.IncStrategyError(s.ID())
		logs.Errorf("strategy %s failed on tick seq %d instrument %d, err: %+v", s.ID(), seq, tick.InstrumentID, err)
	}
}
