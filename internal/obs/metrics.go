package obs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "isotope"

// Metrics collects pipeline counters. Every method is safe on a nil receiver,
// so components can run without metrics.
//
// Counters are kept both as atomics for Snapshot and as prometheus
// collectors on a private registry served at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	ticksPublished  atomic.Uint64
	ticksDispatched atomic.Uint64
	feedSkipped     atomic.Uint64
	strategyErrors  atomic.Uint64
	ordersPublished atomic.Uint64
	ordersExecuted  atomic.Uint64
	ordersFailed    atomic.Uint64
	mirrorDropped   atomic.Uint64

	dispatchLatency LatencyStats
	executeLatency  LatencyStats

	promTicksPublished  prometheus.Counter
	promTicksDispatched prometheus.Counter
	promFeedSkipped     *prometheus.CounterVec
	promStrategyErrors  *prometheus.CounterVec
	promOrdersPublished prometheus.Counter
	promOrdersExecuted  *prometheus.CounterVec
	promOrdersFailed    *prometheus.CounterVec
	promMirrorDropped   prometheus.Counter
	promFees            prometheus.Counter
	promFeeSaving       prometheus.Counter
	promRealizedPnL     prometheus.Gauge
	promBalance         prometheus.Gauge
	promDispatch        prometheus.Histogram
	promExecute         prometheus.Histogram
}

// Snapshot captures the current counter values.
type Snapshot struct {
	TicksPublished  uint64
	TicksDispatched uint64
	FeedSkipped     uint64
	StrategyErrors  uint64
	OrdersPublished uint64
	OrdersExecuted  uint64
	OrdersFailed    uint64
	MirrorDropped   uint64
	DispatchLatency LatencySnapshot
	ExecuteLatency  LatencySnapshot
}

var latencyBuckets = []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2, 5e-2}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		promTicksPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_published_total",
			Help:      "Ticks published on the market data channel",
		}),
		promTicksDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_dispatched_total",
			Help:      "Ticks delivered to every registered strategy",
		}),
		promFeedSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_skipped_total",
			Help:      "Feed records skipped before publishing",
		}, []string{"reason"}),
		promStrategyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_errors_total",
			Help:      "Errors and panics raised by strategy tick handlers",
		}, []string{"strategy"}),
		promOrdersPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_published_total",
			Help:      "Order intents published on the order channel",
		}),
		promOrdersExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_executed_total",
			Help:      "Orders written to the ledger",
		}, []string{"symbol", "action"}),
		promOrdersFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_failed_total",
			Help:      "Orders dropped by the execution adapter",
		}, []string{"reason"}),
		promMirrorDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_dropped_total",
			Help:      "Ledger rows not queued to the SQL mirror",
		}),
		promFees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_total",
			Help:      "Fees charged, in rupees",
		}),
		promFeeSaving: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_saving_total",
			Help:      "Fees saved by synthetic execution, in rupees",
		}),
		promRealizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized profit and loss before fees",
		}),
		promBalance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_balance",
			Help:      "Running account balance",
		}),
		promDispatch: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_dispatch_seconds",
			Help:      "Time to run every strategy on one tick",
			Buckets:   latencyBuckets,
		}),
		promExecute: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_execute_seconds",
			Help:      "Time to fee, book and persist one order",
			Buckets:   latencyBuckets,
		}),
	}
}

// Registry returns the private prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterGaugeFunc exposes a sampled value, such as free ring capacity.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) IncTickPublished() {
	if m == nil {
		return
	}
	m.ticksPublished.Add(1)
	m.promTicksPublished.Inc()
}

// ObserveDispatch records one tick delivered to all strategies.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.ticksDispatched.Add(1)
	m.promTicksDispatched.Inc()
	m.dispatchLatency.Observe(d)
	m.promDispatch.Observe(d.Seconds())
}

func (m *Metrics) IncFeedSkipped(reason string) {
	if m == nil {
		return
	}
	m.feedSkipped.Add(1)
	m.promFeedSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncStrategyError(strategyID string) {
	if m == nil {
		return
	}
	m.strategyErrors.Add(1)
	m.promStrategyErrors.WithLabelValues(strategyID).Inc()
}

func (m *Metrics) IncOrderPublished() {
	if m == nil {
		return
	}
	m.ordersPublished.Add(1)
	m.promOrdersPublished.Inc()
}

// ObserveExecution records one order written to the ledger.
func (m *Metrics) ObserveExecution(symbol, action string, fees, feeSaving, realized, balance float64, d time.Duration) {
	if m == nil {
		return
	}
	m.ordersExecuted.Add(1)
	m.promOrdersExecuted.WithLabelValues(symbol, action).Inc()
	m.promFees.Add(fees)
	if feeSaving > 0 {
		m.promFeeSaving.Add(feeSaving)
	}
	m.promRealizedPnL.Add(realized)
	m.promBalance.Set(balance)
	m.executeLatency.Observe(d)
	m.promExecute.Observe(d.Seconds())
}

func (m *Metrics) SetBalance(balance float64) {
	if m == nil {
		return
	}
	m.promBalance.Set(balance)
}

func (m *Metrics) IncOrderFailed(reason string) {
	if m == nil {
		return
	}
	m.ordersFailed.Add(1)
	m.promOrdersFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncMirrorDropped() {
	if m == nil {
		return
	}
	m.mirrorDropped.Add(1)
	m.promMirrorDropped.Inc()
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TicksPublished:  m.ticksPublished.Load(),
		TicksDispatched: m.ticksDispatched.Load(),
		FeedSkipped:     m.feedSkipped.Load(),
		StrategyErrors:  m.strategyErrors.Load(),
		OrdersPublished: m.ordersPublished.Load(),
		OrdersExecuted:  m.ordersExecuted.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		MirrorDropped:   m.mirrorDropped.Load(),
		DispatchLatency: m.dispatchLatency.Snapshot(),
		ExecuteLatency:  m.executeLatency.Snapshot(),
	}
}
