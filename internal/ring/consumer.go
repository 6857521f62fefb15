package ring

import "errors"

// Handler processes one slot. endOfBatch is true for the last sequence of
// the currently available run.
type Handler[T any] func(slot *T, seq int64, endOfBatch bool)

// Consumer reads a ring through its own gating sequence.
type Consumer[T any] struct {
	ring *Ring[T]
	seq  *Sequence
}

// Sequence returns the last released sequence.
func (c *Consumer[T]) Sequence() int64 {
	return c.seq.Load()
}

// WaitFor blocks until seq is published and returns the highest contiguous
// published sequence. After Close it keeps returning data until the ring is
// drained, then returns ErrClosed.
func (c *Consumer[T]) WaitFor(seq int64) (int64, error) {
	r := c.ring
	if !r.isPublished(seq) {
		r.wait.Wait(func() bool {
			return r.isPublished(seq) || r.drained(seq)
		})
		if !r.isPublished(seq) {
			return c.seq.Load(), ErrClosed
		}
	}
	return r.highestPublished(seq), nil
}

// Release marks every sequence up to seq as consumed and wakes blocked producers.
func (c *Consumer[T]) Release(seq int64) {
	c.seq.Store(seq)
	c.ring.wait.Signal()
}

// Run delivers sequences to handler in order until the ring is closed and
// drained. Slots of a batch are released after the whole batch is handled.
func (c *Consumer[T]) Run(handler Handler[T]) error {
	next := c.seq.Load() + 1
	for {
		available, err := c.WaitFor(next)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		for ; next <= available; next++ {
			handler(c.ring.SlotAt(next), next, next == available)
		}
		c.Release(available)
	}
}
