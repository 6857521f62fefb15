package ledger

import "sort"

// StrategySummary aggregates the rows of one strategy.
type StrategySummary struct {
	StrategyID  string
	Trades      int
	Quantity    int64
	Fees        float64
	FeeSaving   float64
	NetCashFlow float64
}

// Summary aggregates a ledger.
type Summary struct {
	Trades       int
	Fees         float64
	FeeSaving    float64
	NetCashFlow  float64
	FinalBalance float64
	FirstTime    int64
	LastTime     int64
	Strategies   []StrategySummary
}

// Summarize aggregates records in file order.
func Summarize(records []Record) Summary {
	var s Summary
	byID := make(map[string]*StrategySummary)

	for i, r := range records {
		s.Trades++
		s.Fees += r.Fees
		s.FeeSaving += r.FeeSaving
		s.NetCashFlow += r.NetCashFlow
		s.FinalBalance = r.RunningBalance
		if i == 0 || r.Timestamp < s.FirstTime {
			s.FirstTime = r.Timestamp
		}
		if r.Timestamp > s.LastTime {
			s.LastTime = r.Timestamp
		}

		st, ok := byID[r.StrategyID]
		if !ok {
			st = &StrategySummary{StrategyID: r.StrategyID}
			byID[r.StrategyID] = st
		}
		st.Trades++
		st.Quantity += r.Quantity
		st.Fees += r.Fees
		st.FeeSaving += r.FeeSaving
		st.NetCashFlow += r.NetCashFlow
	}

	s.Strategies = make([]StrategySummary, 0, len(byID))
	for _, st := range byID {
		s.Strategies = append(s.Strategies, *st)
	}
	sort.Slice(s.Strategies, func(i, j int) bool {
		return s.Strategies[i].StrategyID < s.Strategies[j].StrategyID
	})
	return s
}
