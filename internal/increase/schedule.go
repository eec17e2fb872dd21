// Package increase computes the Prometheus-style increase of a counter over a series of
// evenly spaced evaluation windows.
//
// A State is created for one counter series and one evaluation span. Samples are fed to
// it in timestamp order with AddDataPoint; every window whose interval contains the
// sample observes it, compensating for counter resets on its own. Finalize then
// extrapolates the observed increase of each window to the nominal window width and
// returns one value per window, nil where the window does not hold enough data.
//
// States covering disjoint, time-ordered parts of the same series can be combined with
// Merge, which is what EvaluateParallel uses to split a large input across goroutines.
package increase

import (
	"fmt"
	"time"
)

// MaxWindows bounds the number of windows a single schedule may produce.
const MaxWindows = 11000

// Params describes one evaluation span.
type Params struct {
	// LowestTime is the earliest sample timestamp accepted, and the start of the first window.
	LowestTime time.Time
	// GreatestTime is the latest sample timestamp accepted. No window ends after it.
	GreatestTime time.Time
	// StepSize is the distance between successive evaluation points.
	StepSize time.Duration
	// Range is the nominal width of every window.
	Range time.Duration
}

// Validate reports whether the parameters describe a usable span.
func (p Params) Validate() error {
	if p.StepSize <= 0 {
		return fmt.Errorf("%w: step size must be positive, got %s", ErrInvalidParameters, p.StepSize)
	}
	if p.Range <= 0 {
		return fmt.Errorf("%w: range must be positive, got %s", ErrInvalidParameters, p.Range)
	}
	if p.LowestTime.After(p.GreatestTime) {
		return fmt.Errorf("%w: lowest time %s is after greatest time %s",
			ErrInvalidParameters, p.LowestTime.Format(time.RFC3339Nano), p.GreatestTime.Format(time.RFC3339Nano))
	}
	return nil
}

// equal compares by instant, ignoring location.
func (p Params) equal(o Params) bool {
	return p.LowestTime.Equal(o.LowestTime) &&
		p.GreatestTime.Equal(o.GreatestTime) &&
		p.StepSize == o.StepSize &&
		p.Range == o.Range
}

// Window is one evaluation interval. End is the evaluation point.
type Window struct {
	Start time.Time
	End   time.Time
}

// Schedule is the immutable set of windows derived from Params.
//
// Window k spans [LowestTime + k*StepSize, LowestTime + k*StepSize + Range]; windows are
// generated while their end does not pass GreatestTime. A window's end is inclusive.
// Its start is inclusive too, unless the same instant is also the end of an earlier
// window, in which case a sample at that instant belongs to the earlier window only.
type Schedule struct {
	params  Params
	windows []Window
}

// NewSchedule validates p and computes its windows.
func NewSchedule(p Params) (*Schedule, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	span := p.GreatestTime.Sub(p.LowestTime)
	n := 0
	if span >= p.Range {
		n = int((span-p.Range)/p.StepSize) + 1
	}
	if n > MaxWindows {
		return nil, fmt.Errorf("%w: span of %s with step %s yields %d windows, limit is %d",
			ErrInvalidParameters, span, p.StepSize, n, MaxWindows)
	}

	windows := make([]Window, n)
	for k := range windows {
		start := p.LowestTime.Add(time.Duration(k) * p.StepSize)
		windows[k] = Window{Start: start, End: start.Add(p.Range)}
	}
	return &Schedule{params: p, windows: windows}, nil
}

// Params returns the parameters the schedule was built from.
func (s *Schedule) Params() Params { return s.params }

// Len returns the number of windows.
func (s *Schedule) Len() int { return len(s.windows) }

// Window returns the k-th window.
func (s *Schedule) Window(k int) Window { return s.windows[k] }

// InSpan reports whether ts lies within [LowestTime, GreatestTime].
func (s *Schedule) InSpan(ts time.Time) bool {
	return !ts.Before(s.params.LowestTime) && !ts.After(s.params.GreatestTime)
}

// Route returns the inclusive index range [lo, hi] of the windows that observe a
// sample at ts. ok is false when no window does. ts must be within the span.
func (s *Schedule) Route(ts time.Time) (lo, hi int, ok bool) {
	n := len(s.windows)
	if n == 0 {
		return 0, 0, false
	}
	step, rng := s.params.StepSize, s.params.Range
	off := ts.Sub(s.params.LowestTime)

	// latest window starting at or before ts
	hi = int(off / step)
	if off%step == 0 && off >= rng && (off-rng)%step == 0 {
		// ts starts window hi and ends window hi - range/step: keep it in the earlier one
		hi--
	}
	if hi > n-1 {
		hi = n - 1
	}

	// earliest window ending at or after ts
	lo = 0
	if rest := off - rng; rest > 0 {
		lo = int((rest + step - 1) / step)
	}

	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
