package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"isotope/internal/ledger"
	"isotope/internal/schema"
	"isotope/internal/state"
)

func main() {
	path := flag.String("ledger", "trades.csv", "Trade ledger to read")
	rows := flag.Bool("rows", false, "Print every ledger row")
	snapshotPath := flag.String("snapshot", "", "Position snapshot to verify against the ledger")
	flag.Parse()

	records, err := ledger.ReadFile(*path)
	if err != nil {
		log.Fatalf("ledger read failed: %v", err)
	}

	if *rows {
		for i, r := range records {
			saving := ""
			if r.HasFeeSaving {
				saving = fmt.Sprintf(" saving=%.2f", r.FeeSaving)
			}
			fmt.Printf("%06d %s %-28s %-4s %6d %-10s @ %10.2f fees=%.2f cash=%.2f balance=%.2f%s\n",
				i+1, formatTime(r.Timestamp), r.StrategyID, r.Action, r.Quantity, r.Symbol, r.Price,
				r.Fees, r.NetCashFlow, r.RunningBalance, saving)
		}
	}

	summary := ledger.Summarize(records)
	fmt.Printf("trades=%d fees=%.2f fee_saving=%.2f net_cash_flow=%.2f final_balance=%.2f\n",
		summary.Trades, summary.Fees, summary.FeeSaving, summary.NetCashFlow, summary.FinalBalance)
	if summary.Trades > 0 {
		fmt.Printf("window %s .. %s\n", formatTime(summary.FirstTime), formatTime(summary.LastTime))
	}
	for _, s := range summary.Strategies {
		fmt.Printf("  %s trades=%d qty=%d fees=%.2f fee_saving=%.2f net_cash_flow=%.2f\n",
			s.StrategyID, s.Trades, s.Quantity, s.Fees, s.FeeSaving, s.NetCashFlow)
	}

	positions, err := rebuild(records)
	if err != nil {
		log.Fatalf("position rebuild failed: %v", err)
	}
	actual := positions.Snapshot()
	for _, p := range actual.Positions {
		fmt.Printf("  open %s qty=%d avg=%.2f\n", p.Symbol, p.NetQty, p.AvgEntryPrice)
	}

	if *snapshotPath != "" {
		expected, err := state.ReadSnapshot(*snapshotPath)
		if err != nil {
			log.Fatalf("snapshot read failed: %v", err)
		}
		if err := state.CompareSnapshots(expected, actual); err != nil {
			log.Fatalf("snapshot mismatch: %v", err)
		}
		fmt.Printf("snapshot verified: run=%s positions=%d\n", expected.RunID, len(actual.Positions))
	}
}

// rebuild nets every ledger row into a fresh position book.
func rebuild(records []ledger.Record) (*state.PositionBook, error) {
	book := state.NewPositionBook()
	for i, r := range records {
		side, err := schema.ParseSide(r.Action)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		book.Apply(r.Symbol, side.Sign()*r.Quantity, r.Price)
	}
	return book, nil
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02T15:04:05.000")
}
