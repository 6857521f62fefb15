package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ReadFile parses a ledger file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses ledger rows after validating the header.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}
	for i, name := range Header {
		if head[i] != name {
			return nil, fmt.Errorf("unexpected ledger column %d: %q, want %q", i, head[i], name)
		}
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger line %d: %w", line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("parse ledger line %d: %w", line, err)
		}
		records = append(records, rec)
	}
}

func parseRow(row []string) (Record, error) {
	var (
		rec Record
		err error
	)
	if rec.Timestamp, err = strconv.ParseInt(row[0], 10, 64); err != nil {
		return rec, fmt.Errorf("timestamp: %w", err)
	}
	rec.StrategyID = row[1]
	rec.Symbol = row[2]
	rec.Action = row[3]
	if rec.Quantity, err = strconv.ParseInt(row[4], 10, 64); err != nil {
		return rec, fmt.Errorf("quantity: %w", err)
	}

	floats := []struct {
		name string
		dst  *float64
		raw  string
	}{
		{"price", &rec.Price, row[5]},
		{"fees", &rec.Fees, row[6]},
		{"net_cash_flow", &rec.NetCashFlow, row[7]},
		{"running_balance", &rec.RunningBalance, row[8]},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(f.raw, 64); err != nil {
			return rec, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	if row[9] != "" {
		if rec.FeeSaving, err = strconv.ParseFloat(row[9], 64); err != nil {
			return rec, fmt.Errorf("fee_saving: %w", err)
		}
		rec.HasFeeSaving = true
	}
	return rec, nil
}
