package state

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
)

// Snapshot captures open positions at a point in time.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	RunID     string          `json:"runId,omitempty"`
	Balance   float64         `json:"balance"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol        string  `json:"symbol"`
	NetQty        int64   `json:"netQty"`
	AvgEntryPrice float64 `json:"avgEntryPrice"`
}

// Snapshot builds a snapshot sorted by symbol.
func (b *PositionBook) Snapshot() Snapshot {
	entries := make([]PositionEntry, 0, len(b.positions))
	for symbol, pos := range b.positions {
		entries = append(entries, PositionEntry{
			Symbol:        symbol,
			NetQty:        pos.NetQty,
			AvgEntryPrice: pos.AvgEntryPrice,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})
	return Snapshot{
		Timestamp: time.Now().UTC().UnixMilli(),
		Positions: entries,
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots hold the same positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[string]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.Symbol] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.Symbol]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", entry.Symbol)
		}
		if want.NetQty != entry.NetQty {
			return fmt.Errorf("snapshot qty mismatch: symbol=%s expected=%d actual=%d", entry.Symbol, want.NetQty, entry.NetQty)
		}
		if math.Abs(want.AvgEntryPrice-entry.AvgEntryPrice) > 1e-9 {
			return fmt.Errorf("snapshot entry price mismatch: symbol=%s expected=%f actual=%f", entry.Symbol, want.AvgEntryPrice, entry.AvgEntryPrice)
		}
	}
	return nil
}
