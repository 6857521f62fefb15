package fee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isotope/internal/schema"
)

const eps = 1e-6

func TestFuturesBuyCapsBrokerage(t *testing.T) {
	c := NewCalculator(DefaultSchedule())
	turnover := 19500.0 * 50

	b := c.Futures(schema.SideBuy, 19500, 50)

	assert.InDelta(t, 20.0, b.Brokerage, eps)
	assert.Zero(t, b.STT)
	assert.InDelta(t, turnover*0.0000173, b.TransactionCharge, eps)
	assert.InDelta(t, turnover*0.000001, b.SEBICharge, eps)
	assert.InDelta(t, turnover*0.000001, b.IPFTCharge, eps)
	assert.InDelta(t, turnover*0.00002, b.StampDuty, eps)

	gst := (20 + turnover*0.0000173 + turnover*0.000001) * 0.18
	assert.InDelta(t, gst, b.GST, eps)
	assert.InDelta(t, 20+turnover*(0.0000173+0.000001+0.000001+0.00002)+gst, b.Total(), 1e-4)
}

func TestFuturesSellChargesSTT(t *testing.T) {
	c := NewCalculator(DefaultSchedule())
	turnover := 19600.0 * 50

	b := c.Futures(schema.SideSell, 19600, 50)

	assert.InDelta(t, turnover*0.0002, b.STT, eps)
	assert.Zero(t, b.StampDuty)

	gst := (20 + turnover*0.0000173 + turnover*0.000001) * 0.18
	expected := 20 + turnover*0.0002 + turnover*0.0000173 + turnover*0.000001*2 + gst
	assert.InDelta(t, expected, b.Total(), 1e-4)
}

func TestFuturesPercentageBrokerageBelowCap(t *testing.T) {
	c := NewCalculator(DefaultSchedule())
	b := c.Futures(schema.SideBuy, 100, 100)
	assert.InDelta(t, 3.0, b.Brokerage, eps)
}

func TestOptionBuyUsesNarrowGSTBase(t *testing.T) {
	c := NewCalculator(DefaultSchedule())
	turnover := 100.0 * 50

	b := c.Option(schema.SideBuy, 100, 50)

	assert.InDelta(t, 20.0, b.Brokerage, eps)
	assert.InDelta(t, (20+turnover*0.0003503)*0.18, b.GST, eps)
	expected := 20 + turnover*0.0003503 + turnover*0.000001*2 + turnover*0.00003 + (20+turnover*0.0003503)*0.18
	assert.InDelta(t, expected, b.Total(), 1e-4)

	sell := c.Option(schema.SideSell, 100, 50)
	assert.InDelta(t, turnover*0.001, sell.STT, eps)
	assert.Zero(t, sell.StampDuty)
}

func TestNonPositiveInputsAreFree(t *testing.T) {
	c := NewCalculator(DefaultSchedule())
	for _, tc := range []struct {
		price float64
		qty   int64
	}{
		{0, 10}, {-5, 10}, {100, 0}, {100, -3},
	} {
		assert.Zero(t, c.Futures(schema.SideBuy, tc.price, tc.qty).Total())
		assert.Zero(t, c.Option(schema.SideSell, tc.price, tc.qty).Total())
	}
}

func TestFeesAreMonotonicInTurnover(t *testing.T) {
	c := NewCalculator(DefaultSchedule())
	for _, side := range []schema.Side{schema.SideBuy, schema.SideSell} {
		prev := 0.0
		for qty := int64(1); qty <= 2000; qty += 37 {
			fut := c.Futures(side, 1234.5, qty).Total()
			require.GreaterOrEqual(t, fut, prev, "futures %s qty %d", side, qty)
			prev = fut
		}

		prev = 0.0
		for price := 1.0; price <= 5000; price += 97 {
			opt := c.Option(side, price, 25).Total()
			require.GreaterOrEqual(t, opt, prev, "option %s price %f", side, price)
			prev = opt
		}
	}
}

func TestFuturesLinearBelowBrokerageCap(t *testing.T) {
	c := NewCalculator(DefaultSchedule())
	for _, side := range []schema.Side{schema.SideBuy, schema.SideSell} {
		one := c.Futures(side, 150, 100).Total()
		two := c.Futures(side, 150, 200).Total()
		assert.InDelta(t, 2*one, two, 1e-9, side.String())
	}
}

func TestSyntheticLegs(t *testing.T) {
	c := NewCalculator(DefaultSchedule())

	synth, fut := c.Synthetic(schema.SideSell, 20000, 50, DefaultPremiumRatio)

	premium := 20000 * DefaultPremiumRatio
	want := c.Option(schema.SideBuy, premium, 50).Total() + c.Option(schema.SideSell, premium, 50).Total()
	assert.InDelta(t, want, synth.Total(), eps)
	assert.InDelta(t, c.Futures(schema.SideSell, 20000, 50).Total(), fut.Total(), eps)
	assert.Greater(t, fut.Total()-synth.Total(), 0.0)

	buySynth, _ := c.Synthetic(schema.SideBuy, 20000, 50, 0)
	assert.InDelta(t, synth.Total(), buySynth.Total(), eps)

	none, _ := c.Synthetic(schema.SideCancel, 20000, 50, DefaultPremiumRatio)
	assert.Zero(t, none.Total())
}
