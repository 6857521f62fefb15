// Package ring implements a pre-allocated, sequence-numbered ring buffer
// channel with a claim/publish/consume protocol.
//
// Producers claim a sequence with Next, fill the slot returned by SlotAt and
// make it visible with Publish. Consumers wait for published sequences, read
// the slots in place and Release them. A producer never wraps onto a slot
// that a registered consumer has not released; it blocks instead.
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrClosed is returned by Next after Close, and by WaitFor once a closed
// ring has been drained.
var ErrClosed = errors.New("ring closed")

const (
	cacheLine       = 64
	initialSequence = int64(-1)
)

// ProducerMode selects the claim discipline.
type ProducerMode uint8

const (
	// ProducerSingle claims with a producer-local counter. Only one goroutine may call Next/Publish.
	ProducerSingle ProducerMode = iota
	// ProducerMulti claims with an atomic CAS and tracks publication per slot.
	ProducerMulti
)

func (m ProducerMode) String() string {
	if m == ProducerMulti {
		return "multi"
	}
	return "single"
}

// Sequence is an atomic counter padded to its own cache line.
type Sequence struct {
	_ [cacheLine]byte
	v atomic.Int64
	_ [cacheLine - 8]byte
}

// Load returns the current value.
func (s *Sequence) Load() int64 { return s.v.Load() }

// Store sets the value.
func (s *Sequence) Store(v int64) { s.v.Store(v) }

// CompareAndSwap sets the value to new if it still equals old.
func (s *Sequence) CompareAndSwap(old, new int64) bool { return s.v.CompareAndSwap(old, new) }

// Config describes a ring.
type Config struct {
	Size     int
	Producer ProducerMode
	Wait     WaitStrategy
}

// Ring is a fixed-capacity circular buffer of T slots.
type Ring[T any] struct {
	slots []T
	mask  int64
	size  int64
	mode  ProducerMode
	wait  WaitStrategy

	// single producer only, owned by the producer goroutine
	nextValue  int64
	cachedGate int64

	published Sequence // single: highest published
	claimed   Sequence // multi: highest claimed
	gateCache Sequence // multi: cached slowest consumer

	// multi: sequence last published into each slot
	available []atomic.Int64

	gating atomic.Pointer[[]*Sequence]
	closed atomic.Bool
}

// New allocates every slot up front. Size must be a power of two.
func New[T any](cfg Config) (*Ring[T], error) {
	if cfg.Size <= 0 || cfg.Size&(cfg.Size-1) != 0 {
		return nil, fmt.Errorf("ring size must be a power of two > 0, got %d", cfg.Size)
	}
	if cfg.Producer != ProducerSingle && cfg.Producer != ProducerMulti {
		return nil, fmt.Errorf("unknown producer mode: %d", cfg.Producer)
	}
	wait := cfg.Wait
	if wait == nil {
		wait = NewBlockingWait()
	}

	r := &Ring[T]{
		slots:      make([]T, cfg.Size),
		mask:       int64(cfg.Size - 1),
		size:       int64(cfg.Size),
		mode:       cfg.Producer,
		wait:       wait,
		nextValue:  initialSequence,
		cachedGate: initialSequence,
	}
	r.published.Store(initialSequence)
	r.claimed.Store(initialSequence)
	r.gateCache.Store(initialSequence)
	if r.mode == ProducerMulti {
		r.available = make([]atomic.Int64, cfg.Size)
		for i := range r.available {
			r.available[i].Store(initialSequence)
		}
	}
	empty := make([]*Sequence, 0)
	r.gating.Store(&empty)
	return r, nil
}

// Cap returns the number of slots.
func (r *Ring[T]) Cap() int {
	return int(r.size)
}

// Mode returns the producer mode.
func (r *Ring[T]) Mode() ProducerMode {
	return r.mode
}

// Cursor returns the highest published (single) or claimed (multi) sequence.
func (r *Ring[T]) Cursor() int64 {
	if r.mode == ProducerMulti {
		return r.claimed.Load()
	}
	return r.published.Load()
}

// Remaining returns how many sequences can be claimed without blocking.
func (r *Ring[T]) Remaining() int64 {
	cursor := r.Cursor()
	return r.size - (cursor - r.minGating(cursor))
}

// Closed reports whether Close was called.
func (r *Ring[T]) Closed() bool {
	return r.closed.Load()
}

// SlotAt returns the slot backing seq. The pointer is only valid between
// Next and Publish for producers, and between WaitFor and Release for consumers.
func (r *Ring[T]) SlotAt(seq int64) *T {
	return &r.slots[seq&r.mask]
}

// Next claims the next sequence, blocking while the ring is full.
func (r *Ring[T]) Next() (int64, error) {
	if r.mode == ProducerMulti {
		return r.nextMulti()
	}
	return r.nextSingle()
}

// Publish makes the slot at seq visible to consumers.
func (r *Ring[T]) Publish(seq int64) {
	if r.mode == ProducerMulti {
		r.available[seq&r.mask].Store(seq)
	} else {
		r.published.Store(seq)
	}
	r.wait.Signal()
}

// Close stops new claims and wakes every waiter. Sequences already claimed
// must still be published; consumers drain them before seeing ErrClosed.
// In single producer mode the owner stops the producer before closing.
func (r *Ring[T]) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.wait.Signal()
	}
}

// NewConsumer registers a gating sequence. Call it before the first claim.
func (r *Ring[T]) NewConsumer() *Consumer[T] {
	seq := &Sequence{}
	seq.Store(r.Cursor())
	for {
		old := r.gating.Load()
		next := make([]*Sequence, 0, len(*old)+1)
		next = append(next, *old...)
		next = append(next, seq)
		if r.gating.CompareAndSwap(old, &next) {
			break
		}
	}
	return &Consumer[T]{ring: r, seq: seq}
}

func (r *Ring[T]) nextSingle() (int64, error) {
	if r.closed.Load() {
		return initialSequence, ErrClosed
	}
	current := r.nextValue
	next := current + 1
	wrap := next - r.size
	if wrap > r.cachedGate {
		min := r.minGating(current)
		if wrap > min {
			r.wait.Wait(func() bool {
				return r.closed.Load() || wrap <= r.minGating(current)
			})
			if r.closed.Load() {
				return initialSequence, ErrClosed
			}
			min = r.minGating(current)
		}
		r.cachedGate = min
	}
	r.nextValue = next
	return next, nil
}

func (r *Ring[T]) nextMulti() (int64, error) {
	for {
		if r.closed.Load() {
			return initialSequence, ErrClosed
		}
		current := r.claimed.Load()
		next := current + 1
		wrap := next - r.size
		if wrap > r.gateCache.Load() {
			min := r.minGating(current)
			if wrap > min {
				r.wait.Wait(func() bool {
					return r.closed.Load() || wrap <= r.minGating(current)
				})
				continue
			}
			r.gateCache.Store(min)
			continue
		}
		if r.claimed.CompareAndSwap(current, next) {
			return next, nil
		}
	}
}

// minGating returns the slowest consumer sequence, or fallback when no
// consumer is registered.
func (r *Ring[T]) minGating(fallback int64) int64 {
	min := fallback
	for _, s := range *r.gating.Load() {
		if v := s.Load(); v < min {
			min = v
		}
	}
	return min
}

func (r *Ring[T]) isPublished(seq int64) bool {
	if r.mode == ProducerMulti {
		return r.available[seq&r.mask].Load() == seq
	}
	return r.published.Load() >= seq
}

// highestPublished returns the end of the contiguous published run starting at lo.
func (r *Ring[T]) highestPublished(lo int64) int64 {
	if r.mode != ProducerMulti {
		return r.published.Load()
	}
	hi := r.claimed.Load()
	for seq := lo; seq <= hi; seq++ {
		if !r.isPublished(seq) {
			return seq - 1
		}
	}
	return hi
}

// drained reports whether seq can never be published anymore.
func (r *Ring[T]) drained(seq int64) bool {
	return r.closed.Load() && seq > r.Cursor()
}
