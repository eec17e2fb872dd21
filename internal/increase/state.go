package increase

import (
	"fmt"
	"math"
	"time"
)

// Stats summarizes what a State has ingested.
type Stats struct {
	// Samples is the number of accepted samples.
	Samples uint64
	// Skipped is the number of NaN staleness markers ignored.
	Skipped uint64
	// Resets is the number of accepted samples lower than the sample before them.
	Resets uint64
}

// State is the transition state of one counter series over one evaluation span.
// It is not safe for concurrent use.
type State struct {
	schedule *Schedule
	accs     []accumulator

	first    Sample
	last     Sample
	hasLast  bool
	stats    Stats
	consumed bool
}

// New creates an empty State for p.
func New(p Params) (*State, error) {
	schedule, err := NewSchedule(p)
	if err != nil {
		return nil, err
	}
	return &State{
		schedule: schedule,
		accs:     make([]accumulator, schedule.Len()),
	}, nil
}

// Transition feeds one sample to s, creating the state from p when s is nil. Once the
// state exists p is ignored, the way an aggregate's transition function only reads its
// constant arguments on the first row.
func Transition(s *State, p Params, ts time.Time, value float64) (*State, error) {
	if s == nil {
		var err error
		if s, err = New(p); err != nil {
			return nil, err
		}
	}
	if err := s.AddDataPoint(ts, value); err != nil {
		return s, err
	}
	return s, nil
}

// Schedule returns the windows the state evaluates.
func (s *State) Schedule() *Schedule { return s.schedule }

// Stats returns ingestion counters.
func (s *State) Stats() Stats { return s.stats }

// AddDataPoint feeds one sample to every window that contains ts.
//
// Samples must arrive in non-decreasing timestamp order and within the span. NaN values
// are staleness markers and are skipped without error.
func (s *State) AddDataPoint(ts time.Time, value float64) error {
	if s.consumed {
		return ErrStateConsumed
	}
	if !s.schedule.InSpan(ts) {
		p := s.schedule.params
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrOutOfRangeSample,
			ts.Format(time.RFC3339Nano), p.LowestTime.Format(time.RFC3339Nano), p.GreatestTime.Format(time.RFC3339Nano))
	}
	if s.hasLast && ts.Before(s.last.Timestamp) {
		return fmt.Errorf("%w: %s before %s", ErrOutOfOrderSample,
			ts.Format(time.RFC3339Nano), s.last.Timestamp.Format(time.RFC3339Nano))
	}
	if math.IsNaN(value) {
		s.stats.Skipped++
		return nil
	}
	if value < 0 || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v at %s", ErrInvalidSample, value, ts.Format(time.RFC3339Nano))
	}

	sample := Sample{Timestamp: ts, Value: value}
	if s.hasLast && value < s.last.Value {
		s.stats.Resets++
	}
	if !s.hasLast {
		s.first = sample
	}
	s.last = sample
	s.hasLast = true
	s.stats.Samples++

	lo, hi, ok := s.schedule.Route(ts)
	if !ok {
		return nil
	}
	for k := lo; k <= hi; k++ {
		s.accs[k].observe(sample)
	}
	return nil
}
