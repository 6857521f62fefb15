package strategy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func naiveStats(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}

func TestRollingWindowWarmUpAndEviction(t *testing.T) {
	w := NewRollingWindow(3)
	assert.Zero(t, w.Mean())
	assert.Zero(t, w.StdDev())

	w.Push(1)
	w.Push(2)
	assert.Equal(t, 2, w.Len())
	assert.False(t, w.Full())
	assert.InDelta(t, 1.5, w.Mean(), 1e-12)

	w.Push(3)
	assert.True(t, w.Full())
	assert.InDelta(t, 2.0, w.Mean(), 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), w.StdDev(), 1e-12)

	w.Push(10)
	assert.Equal(t, 3, w.Len())
	assert.InDelta(t, 15.0, w.Sum(), 1e-12)
	assert.InDelta(t, 5.0, w.Mean(), 1e-12)

	w.Reset()
	assert.Zero(t, w.Len())
	assert.Zero(t, w.Sum())
}

func TestRollingWindowMatchesRecomputation(t *testing.T) {
	const k = 17
	rng := rand.New(rand.NewSource(7))
	w := NewRollingWindow(k)
	var all []float64

	for i := 0; i < 5000; i++ {
		x := 2.0 + rng.NormFloat64()*0.05
		w.Push(x)
		all = append(all, x)
		require.LessOrEqual(t, w.Len(), k)

		start := max(0, len(all)-k)
		mean, std := naiveStats(all[start:])
		require.InDelta(t, mean, w.Mean(), 1e-9, "sample %d", i)
		require.InDelta(t, std, w.StdDev(), 1e-9, "sample %d", i)
	}
}

func TestRollingWindowSingleSample(t *testing.T) {
	w := NewRollingWindow(0)
	assert.Equal(t, 1, w.Cap())
	w.Push(4)
	w.Push(9)
	assert.Equal(t, 9.0, w.Mean())
	assert.Zero(t, w.StdDev())
}
