package risk

import (
	"math"
	"time"

	"isotope/internal/schema"
)

// Config defines static pre-trade limits. A zero limit is disabled.
type Config struct {
	KillSwitch       bool          `yaml:"kill_switch"`
	MaxOrderQty      int64         `yaml:"max_order_qty"`
	MaxOrderNotional float64       `yaml:"max_order_notional"`
	MaxPosition      int64         `yaml:"max_position"`
	OrderRateLimit   int           `yaml:"order_rate_limit"`
	OrderRateWindow  time.Duration `yaml:"order_rate_window"`
}

// Reason explains a decision.
type Reason string

const (
	ReasonNone          Reason = "none"
	ReasonKillSwitch    Reason = "kill_switch"
	ReasonRateLimit     Reason = "rate_limit"
	ReasonInvalid       Reason = "invalid_order"
	ReasonMaxQty        Reason = "max_qty"
	ReasonMaxNotional   Reason = "max_notional"
	ReasonPositionLimit Reason = "position_limit"
)

// Decision is the result of a pre-trade check.
type Decision struct {
	Allow       bool
	Reason      Reason
	Notional    float64
	NextPos     int64
	MaxPos      int64
	MaxNotional float64
}

// StateView provides the position the order would change.
type StateView struct {
	Position int64
	// Now is the evaluation time in epoch millis, wall clock when zero.
	Now int64
}

// Engine evaluates risk decisions. Not safe for concurrent use.
type Engine struct {
	cfg             Config
	rateWindowStart int64
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the active limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate applies the checks to an order intent in order: kill switch,
// rate, order sanity, quantity, notional and resulting position.
func (e *Engine) Evaluate(intent *schema.OrderIntent, state StateView) Decision {
	decision := Decision{
		Allow:       true,
		Reason:      ReasonNone,
		NextPos:     state.Position,
		MaxPos:      e.cfg.MaxPosition,
		MaxNotional: e.cfg.MaxOrderNotional,
	}
	if e.cfg.KillSwitch {
		return denied(decision, ReasonKillSwitch)
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		now := state.Now
		if now == 0 {
			now = time.Now().UTC().UnixMilli()
		}
		window := e.cfg.OrderRateWindow.Milliseconds()
		if e.rateWindowStart == 0 || now-e.rateWindowStart >= window {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return denied(decision, ReasonRateLimit)
		}
	}

	if intent.Quantity <= 0 || intent.Price <= 0 || math.IsNaN(intent.Price) || math.IsInf(intent.Price, 0) {
		return denied(decision, ReasonInvalid)
	}

	if e.cfg.MaxOrderQty > 0 && intent.Quantity > e.cfg.MaxOrderQty {
		return denied(decision, ReasonMaxQty)
	}

	decision.Notional = intent.Price * float64(intent.Quantity)
	if e.cfg.MaxOrderNotional > 0 && decision.Notional > e.cfg.MaxOrderNotional {
		return denied(decision, ReasonMaxNotional)
	}

	decision.NextPos = state.Position + intent.Side.Sign()*intent.Quantity
	if e.cfg.MaxPosition > 0 && absInt64(decision.NextPos) > e.cfg.MaxPosition {
		return denied(decision, ReasonPositionLimit)
	}

	return decision
}

func denied(d Decision, r Reason) Decision {
	d.Allow = false
	d.Reason = r
	return d
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
