package feed

import (
	"context"
	"math"
	"math/rand"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"isotope/internal/obs"
	"isotope/internal/ring"
	"isotope/internal/schema"
	"isotope/pkg/exception"
)

const (
	defaultBasePrice  = 100.0
	defaultVolatility = 0.0005
	priceTick         = 0.05
)

// SimulatedConfig configures the random walk source.
type SimulatedConfig struct {
	// TicksPerSecond limits the publish rate, zero or less means unlimited.
	TicksPerSecond float64
	Burst          int
	// BasePrices seeds each symbol, missing symbols start at 100.
	BasePrices map[string]float64
	// Volatility is the stddev of the per tick log return.
	Volatility float64
	Seed       int64
	// MaxTicks ends the walk after that many ticks, zero runs until ctx is done.
	MaxTicks int64
}

type walker struct {
	id    int64
	price float64
}

// Simulated walks a geometric random walk per instrument and publishes the
// instruments round robin.
type Simulated struct {
	cfg     SimulatedConfig
	reg     *schema.Registry
	metrics *obs.Metrics
	clock   Clock
	limiter *rate.Limiter
	rng     *rand.Rand

	walkers   []walker
	published int64
}

func NewSimulated(cfg SimulatedConfig, reg *schema.Registry, m *obs.Metrics, clock Clock) (*Simulated, error) {
	if cfg.Volatility < 0 || cfg.MaxTicks < 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "negative simulated volatility or max ticks")
	}
	if cfg.Volatility == 0 {
		cfg.Volatility = defaultVolatility
	}
	limit := rate.Inf
	if cfg.TicksPerSecond > 0 {
		limit = rate.Limit(cfg.TicksPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Simulated{
		cfg:     cfg,
		reg:     reg,
		metrics: m,
		clock:   clockOrWall(clock),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (s *Simulated) Connect(context.Context) error {
	logs.Info("connected to simulated source")
	return nil
}

// Subscribe picks the instruments to walk, every registered one when empty.
func (s *Simulated) Subscribe(symbols ...string) error {
	if len(symbols) == 0 {
		for _, inst := range s.reg.Instruments() {
			symbols = append(symbols, inst.Symbol)
		}
	}
	if len(symbols) == 0 {
		return errors.Wrap(exception.ErrNothingSubscribed, "simulated subscribe")
	}

	walkers := make([]walker, 0, len(symbols))
	for _, symbol := range symbols {
		id, ok := s.reg.InstrumentID(symbol)
		if !ok {
			return errors.Wrapf(exception.ErrUnknownSymbol, "subscribe %s", symbol)
		}
		base := s.cfg.BasePrices[symbol]
		if base <= 0 {
			base = defaultBasePrice
		}
		walkers = append(walkers, walker{id: id, price: base})
	}
	s.walkers = walkers
	return nil
}

// Published returns the number of ticks written to the ring.
// Read it after Publish returns.
func (s *Simulated) Published() int64 {
	return s.published
}

func (s *Simulated) Publish(ctx context.Context, ticks *ring.Ring[schema.Tick]) error {
	if len(s.walkers) == 0 {
		return errors.Wrap(exception.ErrNothingSubscribed, "simulated publish")
	}

	var tick schema.Tick
	for i := 0; s.cfg.MaxTicks == 0 || s.published < s.cfg.MaxTicks; i++ {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "wait simulated rate")
		}

		w := &s.walkers[i%len(s.walkers)]
		w.price = roundToTick(w.price * math.Exp(s.cfg.Volatility*s.rng.NormFloat64()))

		tick.Reset()
		tick.InstrumentID = w.id
		tick.LastPrice = w.price
		tick.Volume = 1 + s.rng.Int63n(100)
		tick.EventTime = s.clock.Now().UnixMilli()
		tick.BidPrice = w.price - priceTick
		tick.AskPrice = w.price + priceTick
		tick.BidQty = tick.Volume
		tick.AskQty = tick.Volume

		if err := publish(ticks, s.metrics, &tick); err != nil {
			return err
		}
		s.published++
	}

	logs.Infof("simulated source finished, published %d", s.published)
	return nil
}

func roundToTick(p float64) float64 {
	return math.Max(priceTick, math.Round(p/priceTick)*priceTick)
}
