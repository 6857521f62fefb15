package schema

import "fmt"

// Instrument describes a tradable instrument and its broker token.
type Instrument struct {
	ID     int64
	Symbol string
}

// Registry maps instrument symbols to broker tokens and back.
//
// It is built once at startup and only read afterwards, so it carries no lock.
type Registry struct {
	instruments []Instrument
	bySymbol    map[string]int64
	byID        map[int64]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bySymbol: make(map[string]int64),
		byID:     make(map[int64]string),
	}
}

// AddInstrument registers a symbol with its token.
func (r *Registry) AddInstrument(symbol string, id int64) error {
	if symbol == "" {
		return fmt.Errorf("instrument symbol is empty")
	}
	if id <= 0 {
		return fmt.Errorf("instrument id must be > 0: %s", symbol)
	}
	if _, ok := r.bySymbol[symbol]; ok {
		return fmt.Errorf("instrument already exists: %s", symbol)
	}
	if other, ok := r.byID[id]; ok {
		return fmt.Errorf("instrument id %d already used by %s", id, other)
	}
	r.instruments = append(r.instruments, Instrument{ID: id, Symbol: symbol})
	r.bySymbol[symbol] = id
	r.byID[id] = symbol
	return nil
}

// InstrumentID returns the token for a symbol.
func (r *Registry) InstrumentID(symbol string) (int64, bool) {
	id, ok := r.bySymbol[symbol]
	return id, ok
}

// Symbol returns the symbol for a token.
func (r *Registry) Symbol(id int64) (string, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Count returns the number of registered instruments.
func (r *Registry) Count() int {
	return len(r.instruments)
}

// Instruments returns the instruments in registration order.
func (r *Registry) Instruments() []Instrument {
	out := make([]Instrument, len(r.instruments))
	copy(out, r.instruments)
	return out
}
