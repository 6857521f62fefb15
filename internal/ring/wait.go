package ring

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// WaitStrategy decides how producers and consumers wait for each other.
//
// Wait returns once ready reports true. Signal is called after every state
// change that may flip a ready condition (publish, release, close).
type WaitStrategy interface {
	Wait(ready func() bool)
	Signal()
}

// BlockingWait parks waiters on a condition variable.
// Signal is a single atomic load when nobody is parked.
type BlockingWait struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiters atomic.Int32
}

// NewBlockingWait creates a BlockingWait.
func NewBlockingWait() *BlockingWait {
	w := &BlockingWait{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *BlockingWait) Wait(ready func() bool) {
	if ready() {
		return
	}
	w.mu.Lock()
	w.waiters.Add(1)
	for !ready() {
		w.cond.Wait()
	}
	w.waiters.Add(-1)
	w.mu.Unlock()
}

func (w *BlockingWait) Signal() {
	if w.waiters.Load() == 0 {
		return
	}
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// BusySpinWait polls and yields the processor between polls.
// Lowest wake-up latency, one core burned per waiter.
type BusySpinWait struct{}

func (BusySpinWait) Wait(ready func() bool) {
	for !ready() {
		runtime.Gosched()
	}
}

func (BusySpinWait) Signal() {}

// ParseWaitStrategy maps "blocking" (default) and "busy_spin" to a strategy.
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "blocking":
		return NewBlockingWait(), nil
	case "busy_spin", "busyspin", "spin":
		return BusySpinWait{}, nil
	default:
		return nil, fmt.Errorf("unknown wait strategy: %q", name)
	}
}
