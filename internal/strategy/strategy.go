// Package strategy holds the trading strategies run by the dispatcher.
//
// Strategies are invoked on the dispatcher goroutine only, so their state
// needs no locking. They emit order intents exclusively through the
// OrderPublisher injected at registration.
package strategy

import (
	"strings"

	"github.com/yanun0323/errors"

	"isotope/internal/schema"
	"isotope/pkg/exception"
)

// OrderPublisher is the only way a strategy emits order intents.
type OrderPublisher interface {
	PublishOrder(symbol string, side schema.Side, qty int64, price float64, strategyID string, signalTime int64) error
}

// Strategy reacts to ticks. The tick is owned by the channel and must not be
// retained after OnTick returns.
type Strategy interface {
	ID() string
	SetOrderPublisher(OrderPublisher)
	OnTick(tick *schema.Tick) error
}

// Kind names a built-in strategy.
type Kind string

const (
	KindPairsTrading Kind = "pairs_trading"
)

// ParseKind normalizes a configured kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPairsTrading, "pairs", "pairstrading":
		return KindPairsTrading, nil
	default:
		return "", errors.Wrapf(exception.ErrUnknownStrategyKind, "kind: %q", s)
	}
}

// Spec selects and configures one strategy instance.
type Spec struct {
	Kind  Kind
	Pairs PairsConfig
}

// New builds the strategy described by spec.
func New(spec Spec, reg *schema.Registry) (Strategy, error) {
	switch spec.Kind {
	case KindPairsTrading:
		return NewPairsTrading(spec.Pairs, reg)
	default:
		return nil, errors.Wrapf(exception.ErrUnknownStrategyKind, "kind: %q", spec.Kind)
	}
}
