package schema

import (
	"fmt"
	"strings"
)

// Side describes order direction.
type Side uint8

const (
	SideNone Side = iota
	SideBuy
	SideSell
	SideCancel
	SideModify
)

// String returns the ledger spelling of the side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	case SideCancel:
		return "CANCEL"
	case SideModify:
		return "MODIFY"
	default:
		return "NONE"
	}
}

// Sign returns +1 for buys, -1 for sells and 0 for everything else.
func (s Side) Sign() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// ParseSide parses BUY, SELL, CANCEL or MODIFY (case-insensitive).
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	case "CANCEL":
		return SideCancel, nil
	case "MODIFY":
		return SideModify, nil
	default:
		return SideNone, fmt.Errorf("unknown side: %q", s)
	}
}

// Tick is a reusable market data slot.
//
// A Tick lives inside the market data ring and is overwritten when the ring
// wraps. Handlers must copy out anything they keep after they return.
type Tick struct {
	InstrumentID int64
	LastPrice    float64
	Volume       int64
	EventTime    int64 // epoch millis
	BidPrice     float64
	BidQty       int64
	AskPrice     float64
	AskQty       int64
}

// Reset zeroes every field so a producer never leaks a previous lap's values.
func (t *Tick) Reset() {
	*t = Tick{}
}

// OrderIntent is a reusable order slot. Same lifetime rule as Tick.
type OrderIntent struct {
	Symbol     string
	Side       Side
	Quantity   int64
	Price      float64
	StrategyID string
	SignalTime int64 // epoch millis of the tick that produced the signal
}

// Reset zeroes every field.
func (o *OrderIntent) Reset() {
	*o = OrderIntent{}
}

// ExecutionMode selects how an order is costed.
type ExecutionMode uint8

const (
	// ModeFutures charges the futures fee on the instrument itself.
	ModeFutures ExecutionMode = iota
	// ModeSynthetic charges two option legs and reports the futures fee it avoided.
	ModeSynthetic
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeSynthetic:
		return "SYNTHETIC"
	default:
		return "FUTURES"
	}
}

// ParseExecutionMode parses FUTURES or SYNTHETIC. Empty input means FUTURES.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "FUTURES":
		return ModeFutures, nil
	case "SYNTHETIC":
		return ModeSynthetic, nil
	default:
		return ModeFutures, fmt.Errorf("unknown execution mode: %q", s)
	}
}
