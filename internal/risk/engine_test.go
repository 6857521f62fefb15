package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"isotope/internal/schema"
)

func intent(side schema.Side, qty int64, price float64) *schema.OrderIntent {
	return &schema.OrderIntent{Symbol: "NIFTY", Side: side, Quantity: qty, Price: price, StrategyID: "s1"}
}

func TestEvaluateAllowsWithinLimits(t *testing.T) {
	e := NewEngine(Config{MaxOrderQty: 100, MaxOrderNotional: 3_000_000, MaxPosition: 150})

	d := e.Evaluate(intent(schema.SideBuy, 50, 20000), StateView{Position: 50})
	assert.True(t, d.Allow)
	assert.Equal(t, ReasonNone, d.Reason)
	assert.Equal(t, int64(100), d.NextPos)
	assert.Equal(t, 1_000_000.0, d.Notional)
}

func TestEvaluateDenials(t *testing.T) {
	cases := []struct {
		name   string
		cfg    Config
		intent *schema.OrderIntent
		pos    int64
		reason Reason
	}{
		{"kill switch", Config{KillSwitch: true}, intent(schema.SideBuy, 1, 1), 0, ReasonKillSwitch},
		{"zero qty", Config{}, intent(schema.SideBuy, 0, 100), 0, ReasonInvalid},
		{"zero price", Config{}, intent(schema.SideSell, 5, 0), 0, ReasonInvalid},
		{"max qty", Config{MaxOrderQty: 10}, intent(schema.SideBuy, 11, 1), 0, ReasonMaxQty},
		{"max notional", Config{MaxOrderNotional: 999}, intent(schema.SideBuy, 10, 100), 0, ReasonMaxNotional},
		{"short position", Config{MaxPosition: 20}, intent(schema.SideSell, 15, 1), -10, ReasonPositionLimit},
	}
	for _, tc := range cases {
		d := NewEngine(tc.cfg).Evaluate(tc.intent, StateView{Position: tc.pos})
		assert.False(t, d.Allow, tc.name)
		assert.Equal(t, tc.reason, d.Reason, tc.name)
	}
}

func TestEvaluateReducingTradePassesPositionLimit(t *testing.T) {
	e := NewEngine(Config{MaxPosition: 20})
	d := e.Evaluate(intent(schema.SideSell, 30, 10), StateView{Position: 25})
	assert.True(t, d.Allow)
	assert.Equal(t, int64(-5), d.NextPos)
}

func TestEvaluateRateLimit(t *testing.T) {
	e := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Second})

	assert.True(t, e.Evaluate(intent(schema.SideBuy, 1, 1), StateView{Now: 1_000}).Allow)
	assert.True(t, e.Evaluate(intent(schema.SideBuy, 1, 1), StateView{Now: 1_200}).Allow)
	d := e.Evaluate(intent(schema.SideBuy, 1, 1), StateView{Now: 1_500})
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonRateLimit, d.Reason)

	assert.True(t, e.Evaluate(intent(schema.SideBuy, 1, 1), StateView{Now: 2_000}).Allow)
}
