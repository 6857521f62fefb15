// Package store mirrors ledger rows into a SQL database for querying.
// The CSV ledger stays authoritative; the mirror is best effort.
package store

import (
	"time"

	"isotope/internal/ledger"
)

// TradeRow is one mirrored ledger record.
type TradeRow struct {
	ID             uint    `gorm:"primaryKey"`
	RunID          string  `gorm:"size:36;index:idx_trades_run_ts,priority:1"`
	Timestamp      int64   `gorm:"index:idx_trades_run_ts,priority:2"`
	StrategyID     string  `gorm:"size:128"`
	Symbol         string  `gorm:"size:64;index"`
	Action         string  `gorm:"size:16"`
	Quantity       int64
	Price          float64
	Fees           float64
	NetCashFlow    float64
	RunningBalance float64
	FeeSaving      *float64
	CreatedAt      time.Time
}

func (TradeRow) TableName() string {
	return "isotope_trades"
}

func newTradeRow(runID string, r ledger.Record) TradeRow {
	row := TradeRow{
		RunID:          runID,
		Timestamp:      r.Timestamp,
		StrategyID:     r.StrategyID,
		Symbol:         r.Symbol,
		Action:         r.Action,
		Quantity:       r.Quantity,
		Price:          r.Price,
		Fees:           r.Fees,
		NetCashFlow:    r.NetCashFlow,
		RunningBalance: r.RunningBalance,
	}
	if r.HasFeeSaving {
		saving := r.FeeSaving
		row.FeeSaving = &saving
	}
	return row
}

// Record converts the row back into a ledger record.
func (t TradeRow) Record() ledger.Record {
	r := ledger.Record{
		Timestamp:      t.Timestamp,
		StrategyID:     t.StrategyID,
		Symbol:         t.Symbol,
		Action:         t.Action,
		Quantity:       t.Quantity,
		Price:          t.Price,
		Fees:           t.Fees,
		NetCashFlow:    t.NetCashFlow,
		RunningBalance: t.RunningBalance,
	}
	if t.FeeSaving != nil {
		r.FeeSaving = *t.FeeSaving
		r.HasFeeSaving = true
	}
	return r
}
