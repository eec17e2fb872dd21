package increase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterDelta(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur float64
		delta     float64
		reset     bool
	}{
		{name: "increase", prev: 3, cur: 10, delta: 7},
		{name: "flat", prev: 3, cur: 3, delta: 0},
		{name: "reset to zero", prev: 50, cur: 0, delta: 0, reset: true},
		{name: "reset to non-zero", prev: 3, cur: 2, delta: 2, reset: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, reset := counterDelta(tt.prev, tt.cur)
			assert.Equal(t, tt.delta, delta)
			assert.Equal(t, tt.reset, reset)
		})
	}
}

func TestAccumulator(t *testing.T) {
	t.Run("first sample only seeds", func(t *testing.T) {
		var a accumulator
		a.observe(Sample{Timestamp: t0, Value: 42})

		assert.Equal(t, 0.0, a.total)
		assert.Equal(t, uint64(1), a.count)
		assert.Equal(t, a.first, a.last)
	})

	t.Run("total never decreases", func(t *testing.T) {
		var a accumulator
		prevTotal := 0.0
		for i, v := range []float64{5, 7, 1, 0, 0, 9, 3, 4} {
			a.observe(Sample{Timestamp: t0.Add(time.Duration(i) * time.Minute), Value: v})
			assert.GreaterOrEqual(t, a.total, prevTotal)
			prevTotal = a.total
		}
		// 2 + 1 + 0 + 0 + 9 + 3 + 1
		assert.Equal(t, 16.0, a.total)
		assert.Equal(t, uint64(3), a.resets)
		assert.True(t, !a.first.Timestamp.After(a.last.Timestamp))
	})

	t.Run("extrapolate", func(t *testing.T) {
		var a accumulator
		_, err := a.extrapolate(time.Minute)
		assert.ErrorIs(t, err, errNoSamples)

		a.observe(Sample{Timestamp: t0, Value: 1})
		_, err = a.extrapolate(time.Minute)
		assert.ErrorIs(t, err, errSingleSample)

		a.observe(Sample{Timestamp: t0, Value: 2})
		_, err = a.extrapolate(time.Minute)
		assert.ErrorIs(t, err, ErrDegenerateWindow)

		a.observe(Sample{Timestamp: t0.Add(15 * time.Second), Value: 4})
		v, err := a.extrapolate(time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 12.0, v)
	})
}
