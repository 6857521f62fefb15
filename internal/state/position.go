package state

import "math"

// Position is the net holding of one symbol. AvgEntryPrice is only
// meaningful while NetQty != 0.
type Position struct {
	NetQty        int64
	AvgEntryPrice float64
}

// Fill is the outcome of applying one trade to the book.
type Fill struct {
	RealizedPnL float64
	ClosedQty   int64
	// Opening is false when the trade only reduced or closed the position.
	Opening  bool
	Position Position
}

// PositionBook nets trades per symbol.
//
// It is owned by a single goroutine and carries no lock.
type PositionBook struct {
	positions map[string]Position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]Position)}
}

// Apply books signedQty (+buy, -sell) at price and returns the realized result.
func (b *PositionBook) Apply(symbol string, signedQty int64, price float64) Fill {
	fill := b.Preview(symbol, signedQty, price)
	b.Commit(symbol, fill)
	return fill
}

// Preview computes the result of a trade without changing the book.
func (b *PositionBook) Preview(symbol string, signedQty int64, price float64) Fill {
	current := b.positions[symbol]
	if signedQty == 0 {
		return Fill{Position: current}
	}

	var fill Fill
	next := current

	if current.NetQty != 0 && sign(current.NetQty) != sign(signedQty) {
		closed := min(abs(current.NetQty), abs(signedQty))
		fill.ClosedQty = closed
		fill.RealizedPnL = (price - current.AvgEntryPrice) * float64(closed) * float64(sign(current.NetQty))

		next.NetQty = current.NetQty + signedQty
		switch {
		case next.NetQty == 0:
			next.AvgEntryPrice = 0
		case sign(next.NetQty) != sign(current.NetQty):
			// flipped through zero, the remainder opens at the trade price
			next.AvgEntryPrice = price
			fill.Opening = true
		}
	} else {
		fill.Opening = true
		held := float64(abs(current.NetQty))
		added := float64(abs(signedQty))
		next.AvgEntryPrice = (current.AvgEntryPrice*held + price*added) / (held + added)
		next.NetQty = current.NetQty + signedQty
	}

	fill.Position = next
	return fill
}

// Commit stores the position produced by Preview.
func (b *PositionBook) Commit(symbol string, fill Fill) {
	if fill.Position.NetQty == 0 {
		delete(b.positions, symbol)
		return
	}
	b.positions[symbol] = fill.Position
}

// Position returns the current position for a symbol.
func (b *PositionBook) Position(symbol string) Position {
	return b.positions[symbol]
}

// Count returns the number of open positions.
func (b *PositionBook) Count() int {
	return len(b.positions)
}

// ApplySnapshot replaces the book with a snapshot.
func (b *PositionBook) ApplySnapshot(snapshot Snapshot) {
	clear(b.positions)
	for _, entry := range snapshot.Positions {
		if entry.NetQty == 0 {
			continue
		}
		b.positions[entry.Symbol] = Position{NetQty: entry.NetQty, AvgEntryPrice: entry.AvgEntryPrice}
	}
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	if v > 0 {
		return 1
	}
	return 0
}

func abs(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return -v
	}
	return v
}
