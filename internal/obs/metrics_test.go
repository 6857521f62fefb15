package obs

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncTickPublished()
	m.ObserveDispatch(time.Millisecond)
	m.IncStrategyError("s1")
	m.ObserveExecution("NIFTY", "BUY", 1, 0, 0, 100, time.Microsecond)
	m.IncOrderFailed("risk")
	assert.Nil(t, m.Registry())
	assert.Equal(t, Snapshot{}, m.Snapshot())
	assert.NoError(t, m.RegisterGaugeFunc("x", "x", func() float64 { return 1 }))
}

func TestMetricsSnapshotAndExport(t *testing.T) {
	m := NewMetrics()
	m.IncTickPublished()
	m.IncTickPublished()
	m.ObserveDispatch(2 * time.Microsecond)
	m.IncFeedSkipped("malformed")
	m.IncStrategyError("pairs")
	m.IncOrderPublished()
	m.ObserveExecution("NIFTY", "BUY", 12.5, 3, -40, 999_947.5, 5*time.Microsecond)
	m.IncOrderFailed("risk_max_qty")
	m.IncMirrorDropped()
	require.NoError(t, m.RegisterGaugeFunc("tick_ring_remaining", "free slots", func() float64 { return 7 }))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.TicksPublished)
	assert.Equal(t, uint64(1), snap.TicksDispatched)
	assert.Equal(t, uint64(1), snap.FeedSkipped)
	assert.Equal(t, uint64(1), snap.StrategyErrors)
	assert.Equal(t, uint64(1), snap.OrdersExecuted)
	assert.Equal(t, uint64(1), snap.OrdersFailed)
	assert.Equal(t, uint64(1), snap.MirrorDropped)
	assert.Equal(t, 5*time.Microsecond, snap.ExecuteLatency.Max)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.promTicksPublished))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.promFees))
	assert.Equal(t, 999_947.5, testutil.ToFloat64(m.promBalance))

	expected := `
# HELP isotope_orders_failed_total Orders dropped by the execution adapter
# TYPE isotope_orders_failed_total counter
isotope_orders_failed_total{reason="risk_max_qty"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "isotope_orders_failed_total"))

	count, err := testutil.GatherAndCount(m.Registry(), "isotope_tick_ring_remaining")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	assert.Equal(t, LatencySnapshot{}, l.Snapshot())

	l.Observe(3 * time.Millisecond)
	l.Observe(time.Millisecond)
	l.Observe(-time.Second)
	l.Observe(5 * time.Millisecond)

	s := l.Snapshot()
	assert.Equal(t, uint64(3), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 5*time.Millisecond, s.Max)
	assert.Equal(t, 3*time.Millisecond, s.Avg)
}
