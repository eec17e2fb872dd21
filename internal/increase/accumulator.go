package increase

import (
	"errors"
	"fmt"
	"time"
)

// Sample is one raw counter reading.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// accumulator holds the running state of a single window.
type accumulator struct {
	first Sample
	last  Sample
	// prev is the last raw value seen by this window. Reset detection is per window:
	// windows start observing at different samples, so they do not share it.
	prev   float64
	seeded bool
	total  float64
	count  uint64
	resets uint64
}

// counterDelta is the increase between two consecutive readings. A decrease means the
// counter restarted from zero, so the whole current value counts as increase.
func counterDelta(prev, cur float64) (delta float64, reset bool) {
	if cur < prev {
		return cur, true
	}
	return cur - prev, false
}

func (a *accumulator) observe(s Sample) {
	if !a.seeded {
		a.first = s
		a.prev = s.Value
		a.seeded = true
	} else {
		delta, reset := counterDelta(a.prev, s.Value)
		a.total += delta
		if reset {
			a.resets++
		}
		a.prev = s.Value
	}
	a.last = s
	a.count++
}

func (a *accumulator) empty() bool { return a.count == 0 }

// overlaps reports whether the samples of a and b interleave in time.
// Touching ranges (a.last == b.first) do not overlap.
func (a *accumulator) overlaps(b *accumulator) bool {
	if a.empty() || b.empty() {
		return false
	}
	earlier, later := orderPartials(a, b)
	return earlier.last.Timestamp.After(later.first.Timestamp)
}

// orderPartials returns the partial whose first sample comes first. When both start at
// the same instant the one ending first is earlier; a wins full ties.
func orderPartials(a, b *accumulator) (earlier, later *accumulator) {
	if comesFirst(b.first, b.last, a.first, a.last) {
		return b, a
	}
	return a, b
}

// comesFirst reports whether the partial spanning [xFirst, xLast] precedes the one
// spanning [yFirst, yLast].
func comesFirst(xFirst, xLast, yFirst, yLast Sample) bool {
	if c := xFirst.Timestamp.Compare(yFirst.Timestamp); c != 0 {
		return c < 0
	}
	return xLast.Timestamp.Before(yLast.Timestamp)
}

// merge folds b into a. Callers must have checked overlaps first.
func (a *accumulator) merge(b *accumulator) {
	switch {
	case b.empty():
		return
	case a.empty():
		*a = *b
		return
	}

	earlier, later := orderPartials(a, b)
	seam, reset := counterDelta(earlier.prev, later.first.Value)

	merged := accumulator{
		first:  earlier.first,
		last:   later.last,
		prev:   later.prev,
		seeded: true,
		total:  earlier.total + seam + later.total,
		count:  earlier.count + later.count,
		resets: earlier.resets + later.resets,
	}
	if reset {
		merged.resets++
	}
	*a = merged
}

var (
	errNoSamples    = errors.New("window holds no samples")
	errSingleSample = errors.New("window holds a single sample")
)

// extrapolate scales the observed increase to the nominal width rng, assuming the
// observed average rate held over the whole window.
func (a *accumulator) extrapolate(rng time.Duration) (float64, error) {
	switch a.count {
	case 0:
		return 0, errNoSamples
	case 1:
		return 0, errSingleSample
	}
	observed := a.last.Timestamp.Sub(a.first.Timestamp)
	if observed <= 0 {
		return 0, fmt.Errorf("%w: %d samples at %s", ErrDegenerateWindow, a.count, a.first.Timestamp.Format(time.RFC3339Nano))
	}
	return a.total * (float64(rng) / float64(observed)), nil
}
