// Package ledger is the append-only CSV trade ledger, the durable state of a run.
package ledger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/yanun0323/errors"
)

// Header is written once when the ledger is created.
var Header = []string{
	"timestamp",
	"strategy_id",
	"symbol",
	"action",
	"quantity",
	"price",
	"fees",
	"net_cash_flow",
	"running_balance",
	"fee_saving",
}

// Record is one processed order. Rows are never rewritten.
type Record struct {
	Timestamp      int64
	StrategyID     string
	Symbol         string
	Action         string
	Quantity       int64
	Price          float64
	Fees           float64
	NetCashFlow    float64
	RunningBalance float64
	// FeeSaving is left empty in the file when HasFeeSaving is false.
	FeeSaving    float64
	HasFeeSaving bool
}

// Writer appends records and syncs every row to disk before returning.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	row  []string
	rows int64
}

// Create truncates path and writes the header.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create ledger dir").With("path", path)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger").With("path", path)
	}

	lw := &Writer{
		path: path,
		f:    f,
		w:    csv.NewWriter(f),
		row:  make([]string, len(Header)),
	}
	if err := lw.flush(Header); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "write ledger header").With("path", path)
	}
	return lw, nil
}

// Path returns the ledger file path.
func (lw *Writer) Path() string {
	return lw.path
}

// Rows returns the number of records appended.
func (lw *Writer) Rows() int64 {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.rows
}

// Append writes one record. The row is on disk when Append returns nil.
func (lw *Writer) Append(r Record) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.f == nil {
		return os.ErrClosed
	}

	lw.row[0] = strconv.FormatInt(r.Timestamp, 10)
	lw.row[1] = r.StrategyID
	lw.row[2] = r.Symbol
	lw.row[3] = r.Action
	lw.row[4] = strconv.FormatInt(r.Quantity, 10)
	lw.row[5] = money(r.Price)
	lw.row[6] = money(r.Fees)
	lw.row[7] = money(r.NetCashFlow)
	lw.row[8] = money(r.RunningBalance)
	lw.row[9] = ""
	if r.HasFeeSaving {
		lw.row[9] = money(r.FeeSaving)
	}

	if err := lw.flush(lw.row); err != nil {
		return errors.Wrap(err, "append ledger row").With("symbol", r.Symbol)
	}
	lw.rows++
	return nil
}

// Close flushes and closes the file. Safe to call more than once.
func (lw *Writer) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.f == nil {
		return nil
	}
	lw.w.Flush()
	err := lw.w.Error()
	if cerr := lw.f.Close(); err == nil {
		err = cerr
	}
	lw.f = nil
	return err
}

func (lw *Writer) flush(row []string) error {
	if err := lw.w.Write(row); err != nil {
		return err
	}
	lw.w.Flush()
	if err := lw.w.Error(); err != nil {
		return err
	}
	return lw.f.Sync()
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
