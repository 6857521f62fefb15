package strategy

import (
	"math"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"isotope/internal/schema"
	"isotope/pkg/exception"
)

// SpreadPosition is the pairs strategy state.
type SpreadPosition uint8

const (
	Flat SpreadPosition = iota
	LongSpread
	ShortSpread
)

func (p SpreadPosition) String() string {
	switch p {
	case LongSpread:
		return "LONG_SPREAD"
	case ShortSpread:
		return "SHORT_SPREAD"
	default:
		return "FLAT"
	}
}

// PairsConfig configures a pairs trading strategy on ratio = price(LegB) / price(LegA).
type PairsConfig struct {
	ID                 string  `yaml:"id"`
	LegA               string  `yaml:"leg_a"`
	LegB               string  `yaml:"leg_b"`
	LookbackPeriod     int     `yaml:"lookback_period"`
	EntryZ             float64 `yaml:"entry_z"`
	ExitZ              float64 `yaml:"exit_z"`
	StopLossZ          float64 `yaml:"stop_loss_z"`
	MinProfitThreshold float64 `yaml:"min_profit_threshold"`
	AllocationPerLeg   float64 `yaml:"allocation_per_leg"`
	StdDevFloor        float64 `yaml:"stddev_floor"`
}

// DefaultPairsConfig trades BANKNIFTY against NIFTY.
func DefaultPairsConfig() PairsConfig {
	return PairsConfig{
		ID:                 "PairsTrading_Nifty_BankNifty",
		LegA:               "NIFTY",
		LegB:               "BANKNIFTY",
		LookbackPeriod:     100,
		EntryZ:             2.0,
		ExitZ:              0.5,
		StopLossZ:          4.0,
		MinProfitThreshold: 0,
		AllocationPerLeg:   1_000_000,
		StdDevFloor:        1e-9,
	}
}

func (c PairsConfig) Validate() error {
	switch {
	case c.ID == "":
		return errors.Wrap(exception.ErrInvalidStrategy, "empty id")
	case c.LegA == "" || c.LegB == "":
		return errors.Wrap(exception.ErrInvalidStrategy, "empty leg symbol").With("id", c.ID)
	case c.LegA == c.LegB:
		return errors.Wrapf(exception.ErrInvalidStrategy, "legs must differ: %s", c.LegA).With("id", c.ID)
	case c.LookbackPeriod < 1:
		return errors.Wrapf(exception.ErrInvalidStrategy, "lookback_period must be >= 1, got %d", c.LookbackPeriod).With("id", c.ID)
	case c.EntryZ <= 0:
		return errors.Wrapf(exception.ErrInvalidStrategy, "entry_z must be > 0, got %v", c.EntryZ).With("id", c.ID)
	case c.ExitZ < 0 || c.ExitZ >= c.EntryZ:
		return errors.Wrapf(exception.ErrInvalidStrategy, "exit_z must be in [0, entry_z), got %v", c.ExitZ).With("id", c.ID)
	case c.StopLossZ <= c.EntryZ:
		return errors.Wrapf(exception.ErrInvalidStrategy, "stop_loss_z must be > entry_z, got %v", c.StopLossZ).With("id", c.ID)
	case c.MinProfitThreshold < 0:
		return errors.Wrapf(exception.ErrInvalidStrategy, "min_profit_threshold must be >= 0, got %v", c.MinProfitThreshold).With("id", c.ID)
	case c.AllocationPerLeg <= 0:
		return errors.Wrapf(exception.ErrInvalidStrategy, "allocation_per_leg must be > 0, got %v", c.AllocationPerLeg).With("id", c.ID)
	case c.StdDevFloor < 0:
		return errors.Wrapf(exception.ErrInvalidStrategy, "stddev_floor must be >= 0, got %v", c.StdDevFloor).With("id", c.ID)
	}
	return nil
}

// PairsTrading is a mean reversion strategy on the price ratio of two instruments.
//
// Entry and exit orders always trade both legs; the quantities sized at
// entry are reused unchanged on exit.
type PairsTrading struct {
	cfg    PairsConfig
	idA    int64
	idB    int64
	pub    OrderPublisher
	window *RollingWindow

	priceA float64
	priceB float64

	position SpreadPosition
	heldA    int64
	heldB    int64
	lastZ    float64
}

// NewPairsTrading validates cfg and resolves both legs through reg.
func NewPairsTrading(cfg PairsConfig, reg *schema.Registry) (*PairsTrading, error) {
	if reg == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil registry")
	}
	if cfg.StdDevFloor == 0 {
		cfg.StdDevFloor = DefaultPairsConfig().StdDevFloor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	idA, ok := reg.InstrumentID(cfg.LegA)
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownSymbol, "leg a: %s", cfg.LegA).With("id", cfg.ID)
	}
	idB, ok := reg.InstrumentID(cfg.LegB)
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownSymbol, "leg b: %s", cfg.LegB).With("id", cfg.ID)
	}

	return &PairsTrading{
		cfg:    cfg,
		idA:    idA,
		idB:    idB,
		window: NewRollingWindow(cfg.LookbackPeriod),
	}, nil
}

func (s *PairsTrading) ID() string {
	return s.cfg.ID
}

func (s *PairsTrading) SetOrderPublisher(p OrderPublisher) {
	s.pub = p
}

// Position returns the current spread state.
func (s *PairsTrading) Position() SpreadPosition {
	return s.position
}

// HeldQuantities returns the leg quantities opened at entry, zero when flat.
func (s *PairsTrading) HeldQuantities() (legA, legB int64) {
	return s.heldA, s.heldB
}

// ZScore returns the z-score computed on the last evaluated tick.
func (s *PairsTrading) ZScore() float64 {
	return s.lastZ
}

func (s *PairsTrading) OnTick(tick *schema.Tick) error {
	// a NaN ratio would poison the window sum until the next resum
	if !(tick.LastPrice > 0) || math.IsInf(tick.LastPrice, 1) {
		return nil
	}
	switch tick.InstrumentID {
	case s.idA:
		s.priceA = tick.LastPrice
	case s.idB:
		s.priceB = tick.LastPrice
	default:
		return nil
	}
	if s.priceA <= 0 || s.priceB <= 0 {
		return nil
	}

	ratio := s.priceB / s.priceA
	s.window.Push(ratio)
	if s.window.Len() < s.cfg.LookbackPeriod {
		return nil
	}

	mean := s.window.Mean()
	z := 0.0
	if std := s.window.StdDev(); std > s.cfg.StdDevFloor {
		z = (ratio - mean) / std
	}
	s.lastZ = z

	switch s.position {
	case Flat:
		return s.enter(ratio, mean, z, tick.EventTime)
	case ShortSpread:
		if z < s.cfg.ExitZ {
			return s.exit("take_profit", z, tick.EventTime)
		}
		if z > s.cfg.StopLossZ {
			return s.exit("stop_loss", z, tick.EventTime)
		}
	case LongSpread:
		if z > -s.cfg.ExitZ {
			return s.exit("take_profit", z, tick.EventTime)
		}
		if z < -s.cfg.StopLossZ {
			return s.exit("stop_loss", z, tick.EventTime)
		}
	}
	return nil
}

func (s *PairsTrading) enter(ratio, mean, z float64, signalTime int64) error {
	var (
		next  SpreadPosition
		sideA schema.Side
		sideB schema.Side
	)
	switch {
	case z > s.cfg.EntryZ && ratio-mean > s.cfg.MinProfitThreshold:
		next, sideB, sideA = ShortSpread, schema.SideSell, schema.SideBuy
	case z < -s.cfg.EntryZ && mean-ratio > s.cfg.MinProfitThreshold:
		next, sideB, sideA = LongSpread, schema.SideBuy, schema.SideSell
	default:
		return nil
	}

	qtyA := int64(math.Floor(s.cfg.AllocationPerLeg / s.priceA))
	qtyB := int64(math.Floor(s.cfg.AllocationPerLeg / s.priceB))
	if qtyA <= 0 || qtyB <= 0 {
		logs.Infof("[%s] skip %s entry, allocation %.2f too small (qty a: %d, qty b: %d)", s.cfg.ID, next, s.cfg.AllocationPerLeg, qtyA, qtyB)
		return nil
	}

	if err := s.publish(s.cfg.LegB, sideB, qtyB, s.priceB, signalTime); err != nil {
		return errors.Wrap(err, "publish entry leg b").With("position", next.String())
	}
	if err := s.publish(s.cfg.LegA, sideA, qtyA, s.priceA, signalTime); err != nil {
		return errors.Wrap(err, "publish entry leg a").With("position", next.String())
	}

	s.position = next
	s.heldA, s.heldB = qtyA, qtyB
	logs.Infof("[%s] enter %s z=%.4f ratio=%.6f mean=%.6f %s %s %d, %s %s %d",
		s.cfg.ID, next, z, ratio, mean, sideB, s.cfg.LegB, qtyB, sideA, s.cfg.LegA, qtyA)
	return nil
}

func (s *PairsTrading) exit(reason string, z float64, signalTime int64) error {
	sideB, sideA := schema.SideBuy, schema.SideSell
	if s.position == LongSpread {
		sideB, sideA = schema.SideSell, schema.SideBuy
	}

	if err := s.publish(s.cfg.LegB, sideB, s.heldB, s.priceB, signalTime); err != nil {
		return errors.Wrap(err, "publish exit leg b").With("reason", reason)
	}
	if err := s.publish(s.cfg.LegA, sideA, s.heldA, s.priceA, signalTime); err != nil {
		return errors.Wrap(err, "publish exit leg a").With("reason", reason)
	}

	logs.Infof("[%s] exit %s (%s) z=%.4f %s %s %d, %s %s %d",
		s.cfg.ID, s.position, reason, z, sideB, s.cfg.LegB, s.heldB, sideA, s.cfg.LegA, s.heldA)
	s.position = Flat
	s.heldA, s.heldB = 0, 0
	return nil
}

func (s *PairsTrading) publish(symbol string, side schema.Side, qty int64, price float64, signalTime int64) error {
	if s.pub == nil {
		return errors.Wrap(exception.ErrNilInstance, "order publisher not set")
	}
	return s.pub.PublishOrder(symbol, side, qty, price, s.cfg.ID, signalTime)
}
