package strategy

import "math"

// resumEvery bounds floating point drift of the running sum.
const resumEvery = 1024

// RollingWindow keeps the last N samples and their running sum.
type RollingWindow struct {
	buf       []float64
	head      int
	count     int
	sum       float64
	evictions int
}

// NewRollingWindow creates a window of n samples. n < 1 is treated as 1.
func NewRollingWindow(n int) *RollingWindow {
	if n < 1 {
		n = 1
	}
	return &RollingWindow{buf: make([]float64, n)}
}

// Push appends x, evicting the oldest sample once the window is full.
func (w *RollingWindow) Push(x float64) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = x
		w.count++
		w.sum += x
		return
	}

	w.sum += x - w.buf[w.head]
	w.buf[w.head] = x
	w.head = (w.head + 1) % len(w.buf)

	w.evictions++
	if w.evictions >= resumEvery {
		w.evictions = 0
		w.resum()
	}
}

func (w *RollingWindow) resum() {
	sum := 0.0
	for i := 0; i < w.count; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	w.sum = sum
}

// Len returns the number of samples held.
func (w *RollingWindow) Len() int { return w.count }

// Cap returns the window size.
func (w *RollingWindow) Cap() int { return len(w.buf) }

// Full reports whether Len == Cap.
func (w *RollingWindow) Full() bool { return w.count == len(w.buf) }

// Sum returns the running sum.
func (w *RollingWindow) Sum() float64 { return w.sum }

// Mean returns the running mean, 0 when empty.
func (w *RollingWindow) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Variance returns the population variance over the window.
func (w *RollingWindow) Variance() float64 {
	if w.count == 0 {
		return 0
	}
	mean := w.Mean()
	acc := 0.0
	for i := 0; i < w.count; i++ {
		d := w.buf[(w.head+i)%len(w.buf)] - mean
		acc += d * d
	}
	return acc / float64(w.count)
}

// StdDev returns the population standard deviation.
func (w *RollingWindow) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// Reset drops every sample.
func (w *RollingWindow) Reset() {
	w.head, w.count, w.sum, w.evictions = 0, 0, 0, 0
}
