// Package feed holds the market data producers: historical CSV replay,
// a live websocket stream and a simulated random walk.
//
// Every producer writes straight into the market data ring and is the only
// writer while it runs.
package feed

import (
	"context"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"isotope/internal/obs"
	"isotope/internal/ring"
	"isotope/internal/schema"
	"isotope/pkg/exception"
)

// Producer publishes ticks onto the market data ring.
type Producer interface {
	Connect(ctx context.Context) error
	Subscribe(symbols ...string) error
	// Publish blocks until ctx is done or the source is exhausted.
	Publish(ctx context.Context, ticks *ring.Ring[schema.Tick]) error
}

type Kind string

const (
	KindCSV       Kind = "CSV"
	KindWebSocket Kind = "WEBSOCKET"
	KindSimulated Kind = "SIMULATED"
)

// ParseKind accepts any letter case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindCSV, KindWebSocket, KindSimulated:
		return k, nil
	}
	return "", errors.Wrapf(exception.ErrUnknownFeed, "kind: %q", s)
}

// Config selects and configures one producer.
type Config struct {
	Kind      Kind
	CSV       CSVConfig
	WebSocket WebSocketConfig
	Simulated SimulatedConfig
	Metrics   *obs.Metrics
	// Clock defaults to the wall clock.
	Clock Clock
}

// New builds the producer named by cfg.Kind.
func New(cfg Config, reg *schema.Registry) (Producer, error) {
	if reg == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil registry")
	}
	switch cfg.Kind {
	case KindCSV:
		return NewCSVReplay(cfg.CSV, reg, cfg.Metrics, cfg.Clock)
	case KindWebSocket:
		return NewWebSocketFeed(cfg.WebSocket, reg, cfg.Metrics, cfg.Clock)
	case KindSimulated:
		return NewSimulated(cfg.Simulated, reg, cfg.Metrics, cfg.Clock)
	}
	return nil, errors.Wrapf(exception.ErrUnknownFeed, "kind: %q", cfg.Kind)
}

// Clock paces replays and stamps live ticks.
type Clock interface {
	Now() time.Time
	// Sleep returns ctx.Err() when ctx is done first.
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clockOrWall(c Clock) Clock {
	if c == nil {
		return wallClock{}
	}
	return c
}

// subscription is the set of instruments a producer forwards.
// An empty set forwards every registered instrument.
type subscription map[int64]struct{}

func resolve(reg *schema.Registry, symbols []string) (subscription, error) {
	sub := make(subscription, len(symbols))
	for _, s := range symbols {
		id, ok := reg.InstrumentID(s)
		if !ok {
			return nil, errors.Wrapf(exception.ErrUnknownSymbol, "subscribe %s", s)
		}
		sub[id] = struct{}{}
	}
	return sub, nil
}

func (s subscription) has(id int64) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[id]
	return ok
}

// publish copies t into the next slot. It blocks while the ring is full and
// returns ring.ErrClosed once the ring is closed.
func publish(ticks *ring.Ring[schema.Tick], m *obs.Metrics, t *schema.Tick) error {
	seq, err := ticks.Next()
	if err != nil {
		return err
	}
	*ticks.SlotAt(seq) = *t
	ticks.Publish(seq)
	m.IncTickPublished()
	return nil
}
