package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionRoundTrip(t *testing.T) {
	book := NewPositionBook()

	open := book.Apply("NIFTY", 100, 100)
	assert.True(t, open.Opening)
	assert.Zero(t, open.RealizedPnL)
	assert.Equal(t, Position{NetQty: 100, AvgEntryPrice: 100}, open.Position)

	closed := book.Apply("NIFTY", -100, 110)
	assert.False(t, closed.Opening)
	assert.Equal(t, int64(100), closed.ClosedQty)
	assert.InDelta(t, 1000.0, closed.RealizedPnL, 1e-9)
	assert.Equal(t, Position{}, closed.Position)
	assert.Equal(t, Position{}, book.Position("NIFTY"))
	assert.Zero(t, book.Count())
}

func TestPositionShortRealizesInverse(t *testing.T) {
	book := NewPositionBook()
	book.Apply("BANKNIFTY", -16, 60000)

	fill := book.Apply("BANKNIFTY", 16, 59000)
	assert.InDelta(t, 16000.0, fill.RealizedPnL, 1e-9)
	assert.Zero(t, fill.Position.NetQty)
}

func TestPositionWeightedAverageEntry(t *testing.T) {
	book := NewPositionBook()
	book.Apply("NIFTY", 10, 100)
	fill := book.Apply("NIFTY", 30, 120)

	assert.True(t, fill.Opening)
	assert.Equal(t, int64(40), fill.Position.NetQty)
	assert.InDelta(t, 115.0, fill.Position.AvgEntryPrice, 1e-9)
}

func TestPositionPartialCloseKeepsEntry(t *testing.T) {
	book := NewPositionBook()
	book.Apply("NIFTY", 50, 200)

	fill := book.Apply("NIFTY", -20, 190)
	assert.False(t, fill.Opening)
	assert.Equal(t, int64(20), fill.ClosedQty)
	assert.InDelta(t, -200.0, fill.RealizedPnL, 1e-9)
	assert.Equal(t, Position{NetQty: 30, AvgEntryPrice: 200}, fill.Position)
}

func TestPositionFlipOpensRemainderAtTradePrice(t *testing.T) {
	book := NewPositionBook()
	book.Apply("NIFTY", 10, 100)

	fill := book.Apply("NIFTY", -25, 105)
	assert.True(t, fill.Opening)
	assert.Equal(t, int64(10), fill.ClosedQty)
	assert.InDelta(t, 50.0, fill.RealizedPnL, 1e-9)
	assert.Equal(t, Position{NetQty: -15, AvgEntryPrice: 105}, fill.Position)
}

func TestPositionZeroQuantityIsNoop(t *testing.T) {
	book := NewPositionBook()
	book.Apply("NIFTY", 5, 100)
	fill := book.Apply("NIFTY", 0, 999)
	assert.Equal(t, Position{NetQty: 5, AvgEntryPrice: 100}, fill.Position)
	assert.False(t, fill.Opening)
}

func TestSnapshotPersistence(t *testing.T) {
	book := NewPositionBook()
	book.Apply("NIFTY", 50, 20000)
	book.Apply("BANKNIFTY", -16, 60000)

	snap := book.Snapshot()
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, "BANKNIFTY", snap.Positions[0].Symbol)
	assert.Equal(t, "NIFTY", snap.Positions[1].Symbol)

	snap.Balance = 1_000_000
	path := filepath.Join(t.TempDir(), "state", "positions.json")
	require.NoError(t, WriteSnapshot(path, snap))

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(snap, loaded))
	assert.Equal(t, 1_000_000.0, loaded.Balance)

	restored := NewPositionBook()
	restored.ApplySnapshot(loaded)
	assert.Equal(t, Position{NetQty: -16, AvgEntryPrice: 60000}, restored.Position("BANKNIFTY"))
	assert.Equal(t, 2, restored.Count())

	restored.Apply("NIFTY", -50, 20000)
	assert.Error(t, CompareSnapshots(snap, restored.Snapshot()))
}

func TestPreviewDoesNotMutate(t *testing.T) {
	book := NewPositionBook()
	book.Apply("NIFTY", 10, 100)

	fill := book.Preview("NIFTY", -10, 120)
	assert.InDelta(t, 200.0, fill.RealizedPnL, 1e-9)
	assert.Equal(t, Position{NetQty: 10, AvgEntryPrice: 100}, book.Position("NIFTY"))

	book.Commit("NIFTY", fill)
	assert.Equal(t, Position{}, book.Position("NIFTY"))
	assert.Zero(t, book.Count())
}
