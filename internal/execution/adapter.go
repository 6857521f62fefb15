// Package execution turns order intents into ledger fills.
//
// The Adapter is the only consumer of the order channel. It runs on one
// goroutine and owns the position book and the running balance.
package execution

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"isotope/internal/fee"
	"isotope/internal/ledger"
	"isotope/internal/obs"
	"isotope/internal/risk"
	"isotope/internal/schema"
	"isotope/internal/state"
	"isotope/internal/store"
	"isotope/pkg/exception"
)

// Config configures fills and accounting.
type Config struct {
	Mode           schema.ExecutionMode
	InitialCapital float64
	// PremiumRatio estimates option premium as a fraction of price in synthetic mode.
	PremiumRatio float64
	// SnapshotPath receives the open positions on Close, skipped when empty.
	SnapshotPath string
	RunID        string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithRisk enables pre-trade checks.
func WithRisk(e *risk.Engine) Option {
	return func(a *Adapter) { a.risk = e }
}

// WithMirror copies every ledger row to a SQL mirror.
func WithMirror(m *store.Mirror) Option {
	return func(a *Adapter) { a.mirror = m }
}

// WithMetrics reports executions and failures.
func WithMetrics(m *obs.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter computes fees, nets positions and appends ledger rows.
type Adapter struct {
	cfg     Config
	fees    fee.Calculator
	ledger  *ledger.Writer
	risk    *risk.Engine
	mirror  *store.Mirror
	metrics *obs.Metrics

	book    *state.PositionBook
	balance float64
	// balanceBits mirrors balance for readers on other goroutines
	balanceBits atomic.Uint64
	executed    atomic.Int64
	failed      atomic.Int64
	closed      bool
}

// New creates an Adapter writing to lw.
func New(cfg Config, calc fee.Calculator, lw *ledger.Writer, opts ...Option) (*Adapter, error) {
	if lw == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil ledger writer")
	}
	if cfg.PremiumRatio <= 0 {
		cfg.PremiumRatio = fee.DefaultPremiumRatio
	}
	a := &Adapter{
		cfg:     cfg,
		fees:    calc,
		ledger:  lw,
		book:    state.NewPositionBook(),
		balance: cfg.InitialCapital,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.balanceBits.Store(math.Float64bits(a.balance))
	a.metrics.SetBalance(a.balance)
	return a, nil
}

// Handle processes one order channel slot. Failures are logged and counted,
// the channel always advances.
func (a *Adapter) Handle(slot *schema.OrderIntent, seq int64, _ bool) {
	if slot.Side == schema.SideNone {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.failed.Add(1)
			a.metrics.IncOrderFailed("panic")
			logs.Errorf("execute order seq %d %s %s, err: %+v", seq, slot.Side, slot.Symbol,
				errors.Wrap(exception.ErrPanic, fmt.Sprint(r)))
		}
	}()

	start := time.Now()
	if reason, err := a.execute(slot, start); err != nil {
		a.failed.Add(1)
		a.metrics.IncOrderFailed(reason)
		logs.Errorf("execute order seq %d %s %d %s @ %.2f from %s, err: %+v",
			seq, slot.Side, slot.Quantity, slot.Symbol, slot.Price, slot.StrategyID, err)
	}
}

// Execute processes one intent synchronously.
func (a *Adapter) Execute(intent *schema.OrderIntent) error {
	_, err := a.execute(intent, time.Now())
	return err
}

func (a *Adapter) execute(intent *schema.OrderIntent, start time.Time) (string, error) {
	if a.closed {
		return "closed", exception.ErrOrderAdapterClosed
	}
	switch intent.Side {
	case schema.SideBuy, schema.SideSell:
	default:
		return "unsupported_action", errors.Wrapf(exception.ErrOrderUnsupportedAction, "action: %s", intent.Side)
	}
	if intent.Symbol == "" {
		return "invalid", errors.Wrap(exception.ErrOrderInvalidRequest, "empty symbol")
	}

	current := a.book.Position(intent.Symbol)
	if a.risk != nil {
		decision := a.risk.Evaluate(intent, risk.StateView{Position: current.NetQty, Now: intent.SignalTime})
		if !decision.Allow {
			return "risk_" + string(decision.Reason),
				errors.Wrapf(exception.ErrOrderRejected, "reason: %s", decision.Reason).With("position", current.NetQty)
		}
	} else if intent.Quantity <= 0 || intent.Price <= 0 {
		return "invalid", errors.Wrapf(exception.ErrOrderInvalidRequest, "quantity %d, price %f", intent.Quantity, intent.Price)
	}

	var (
		fees      float64
		feeSaving float64
	)
	switch a.cfg.Mode {
	case schema.ModeSynthetic:
		synthetic, futures := a.fees.Synthetic(intent.Side, intent.Price, intent.Quantity, a.cfg.PremiumRatio)
		fees = synthetic.Total()
		feeSaving = futures.Total() - fees
	default:
		fees = a.fees.Futures(intent.Side, intent.Price, intent.Quantity).Total()
	}

	fill := a.book.Preview(intent.Symbol, intent.Side.Sign()*intent.Quantity, intent.Price)
	netCashFlow := fill.RealizedPnL - fees
	balance := a.balance + netCashFlow

	ts := intent.SignalTime
	if ts == 0 {
		ts = start.UnixMilli()
	}
	rec := ledger.Record{
		Timestamp:      ts,
		StrategyID:     intent.StrategyID,
		Symbol:         intent.Symbol,
		Action:         intent.Side.String(),
		Quantity:       intent.Quantity,
		Price:          intent.Price,
		Fees:           fees,
		NetCashFlow:    netCashFlow,
		RunningBalance: balance,
		FeeSaving:      feeSaving,
		HasFeeSaving:   a.cfg.Mode == schema.ModeSynthetic,
	}
	if err := a.ledger.Append(rec); err != nil {
		return "ledger", err
	}

	a.book.Commit(intent.Symbol, fill)
	a.balance = balance
	a.balanceBits.Store(math.Float64bits(balance))
	a.executed.Add(1)

	if a.mirror != nil {
		if err := a.mirror.TryAppend(rec); err != nil {
			a.metrics.IncMirrorDropped()
			logs.Errorf("mirror trade %s %s, err: %+v", rec.Action, rec.Symbol, err)
		}
	}
	a.metrics.ObserveExecution(rec.Symbol, rec.Action, fees, feeSaving, fill.RealizedPnL, balance, time.Since(start))

	logs.Infof("EXECUTED %s %d %s @ %.2f fees %.2f realized %.2f balance %.2f [%s]",
		rec.Action, rec.Quantity, rec.Symbol, rec.Price, fees, fill.RealizedPnL, balance, a.cfg.Mode)
	return "", nil
}

// Balance returns the running balance. Safe from any goroutine.
func (a *Adapter) Balance() float64 {
	return math.Float64frombits(a.balanceBits.Load())
}

// Executed returns the number of orders written to the ledger.
func (a *Adapter) Executed() int64 {
	return a.executed.Load()
}

// Failed returns the number of orders dropped.
func (a *Adapter) Failed() int64 {
	return a.failed.Load()
}

// Positions returns the open positions. Call only from the consumer
// goroutine or after the order channel is drained.
func (a *Adapter) Positions() state.Snapshot {
	snap := a.book.Snapshot()
	snap.RunID = a.cfg.RunID
	snap.Balance = a.balance
	return snap
}

// Close writes the position snapshot and closes the ledger and mirror.
// Call after the order channel is drained.
func (a *Adapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var first error
	keep := func(err error, what string) {
		if err == nil {
			return
		}
		logs.Errorf("close execution adapter, %s, err: %+v", what, err)
		if first == nil {
			first = err
		}
	}

	if a.cfg.SnapshotPath != "" {
		keep(state.WriteSnapshot(a.cfg.SnapshotPath, a.Positions()), "write snapshot")
	}
	keep(a.ledger.Close(), "close ledger")
	if a.mirror != nil {
		keep(a.mirror.Close(), "close mirror")
	}

	logs.Infof("execution adapter closed, executed %d, failed %d, balance %.2f", a.executed.Load(), a.failed.Load(), a.balance)
	return first
}
