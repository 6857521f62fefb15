// Package fee computes Indian exchange-traded derivatives charges for a
// single order: brokerage, securities transaction tax, exchange and
// regulator levies, stamp duty and GST.
package fee

import "isotope/internal/schema"

// DefaultPremiumRatio approximates an at-the-money option premium as a
// fraction of the underlying price.
const DefaultPremiumRatio = 0.0085

// Rates is one instrument class rate table. All rates are fractions of turnover
// except the brokerage amounts, which are rupees.
type Rates struct {
	BrokerageRate  float64 // 0 means flat brokerage
	BrokerageFlat  float64 // flat fee, or the cap when BrokerageRate > 0
	STTSell        float64
	Transaction    float64
	SEBI           float64
	IPFT           float64
	StampBuy       float64
	GST            float64
	GSTIncludeSEBI bool
}

// Schedule holds the futures and options rate tables.
type Schedule struct {
	Futures Rates
	Options Rates
}

// DefaultSchedule returns the NSE rates effective October 2024.
func DefaultSchedule() Schedule {
	return Schedule{
		Futures: Rates{
			BrokerageRate:  0.0003,
			BrokerageFlat:  20,
			STTSell:        0.0002,
			Transaction:    0.0000173,
			SEBI:           0.000001,
			IPFT:           0.000001,
			StampBuy:       0.00002,
			GST:            0.18,
			GSTIncludeSEBI: true,
		},
		// GST on options is charged on brokerage and exchange charges only.
		Options: Rates{
			BrokerageFlat: 20,
			STTSell:       0.001,
			Transaction:   0.0003503,
			SEBI:          0.000001,
			IPFT:          0.000001,
			StampBuy:      0.00003,
			GST:           0.18,
		},
	}
}

// Breakdown itemizes the charges of one order.
type Breakdown struct {
	Brokerage         float64
	STT               float64
	TransactionCharge float64
	SEBICharge        float64
	IPFTCharge        float64
	StampDuty         float64
	GST               float64
}

// Total sums every component.
func (b Breakdown) Total() float64 {
	return b.Brokerage + b.STT + b.TransactionCharge + b.SEBICharge + b.IPFTCharge + b.StampDuty + b.GST
}

// Add returns the component-wise sum.
func (b Breakdown) Add(o Breakdown) Breakdown {
	return Breakdown{
		Brokerage:         b.Brokerage + o.Brokerage,
		STT:               b.STT + o.STT,
		TransactionCharge: b.TransactionCharge + o.TransactionCharge,
		SEBICharge:        b.SEBICharge + o.SEBICharge,
		IPFTCharge:        b.IPFTCharge + o.IPFTCharge,
		StampDuty:         b.StampDuty + o.StampDuty,
		GST:               b.GST + o.GST,
	}
}

// Calculator is a pure function of its schedule and safe for concurrent use.
type Calculator struct {
	schedule Schedule
}

// NewCalculator creates a calculator over the schedule.
func NewCalculator(s Schedule) Calculator {
	return Calculator{schedule: s}
}

// Schedule returns the active rate tables.
func (c Calculator) Schedule() Schedule {
	return c.schedule
}

// Futures returns the charges of a futures order.
func (c Calculator) Futures(side schema.Side, price float64, qty int64) Breakdown {
	return compute(c.schedule.Futures, side, price, qty)
}

// Option returns the charges of an option order at the given premium.
func (c Calculator) Option(side schema.Side, premium float64, qty int64) Breakdown {
	return compute(c.schedule.Options, side, premium, qty)
}

// Synthetic prices a futures order executed as two option legs at
// premium = price * premiumRatio. A BUY is a bought call plus a sold put,
// a SELL is a bought put plus a sold call. The futures charges of the same
// order are returned alongside for the fee saving.
func (c Calculator) Synthetic(side schema.Side, price float64, qty int64, premiumRatio float64) (synthetic, futures Breakdown) {
	futures = c.Futures(side, price, qty)
	if premiumRatio <= 0 {
		premiumRatio = DefaultPremiumRatio
	}
	premium := price * premiumRatio

	// both decompositions contain one bought and one sold leg
	switch side {
	case schema.SideBuy, schema.SideSell:
		synthetic = c.Option(schema.SideBuy, premium, qty).Add(c.Option(schema.SideSell, premium, qty))
	}
	return synthetic, futures
}

func compute(r Rates, side schema.Side, price float64, qty int64) Breakdown {
	if price <= 0 || qty <= 0 {
		return Breakdown{}
	}
	turnover := price * float64(qty)

	b := Breakdown{
		Brokerage:         r.BrokerageFlat,
		TransactionCharge: turnover * r.Transaction,
		SEBICharge:        turnover * r.SEBI,
		IPFTCharge:        turnover * r.IPFT,
	}
	if r.BrokerageRate > 0 {
		b.Brokerage = min(turnover*r.BrokerageRate, r.BrokerageFlat)
	}
	switch side {
	case schema.SideSell:
		b.STT = turnover * r.STTSell
	case schema.SideBuy:
		b.StampDuty = turnover * r.StampBuy
	}

	base := b.Brokerage + b.TransactionCharge
	if r.GSTIncludeSEBI {
		base += b.SEBICharge
	}
	b.GST = base * r.GST
	return b
}
