package increase

import (
	"fmt"
	"time"
)

// Merge folds other into s and consumes other.
//
// Both states must have been created with the same Params, and for every window the
// samples each of them observed must not interleave in time: one partial has to end at
// or before the other begins. Partials produced by scanning disjoint, time-ordered
// slices of one series satisfy this. The result is the state a single instance would
// have reached by ingesting both inputs in order, including the reset check across the
// seam between them. On error neither state is modified.
func (s *State) Merge(other *State) error {
	if s.consumed || other.consumed {
		return ErrStateConsumed
	}
	if s == other {
		return fmt.Errorf("%w: cannot merge a state into itself", ErrUnmergeablePartials)
	}
	if !s.schedule.params.equal(other.schedule.params) {
		return fmt.Errorf("%w: evaluation parameters differ", ErrUnmergeablePartials)
	}
	for k := range s.accs {
		if s.accs[k].overlaps(&other.accs[k]) {
			w := s.schedule.Window(k)
			return fmt.Errorf("%w: samples overlap in window [%s, %s]", ErrUnmergeablePartials,
				w.Start.Format(time.RFC3339Nano), w.End.Format(time.RFC3339Nano))
		}
	}

	for k := range s.accs {
		s.accs[k].merge(&other.accs[k])
	}
	s.mergeStats(other)
	other.consumed = true
	return nil
}

func (s *State) mergeStats(other *State) {
	s.stats.Samples += other.stats.Samples
	s.stats.Skipped += other.stats.Skipped
	s.stats.Resets += other.stats.Resets

	switch {
	case !other.hasLast:
		return
	case !s.hasLast:
		s.first, s.last, s.hasLast = other.first, other.last, true
		return
	}

	earlier, later := s, other
	if comesFirst(other.first, other.last, s.first, s.last) {
		earlier, later = other, s
	}
	if !earlier.last.Timestamp.After(later.first.Timestamp) {
		if _, reset := counterDelta(earlier.last.Value, later.first.Value); reset {
			s.stats.Resets++
		}
	}
	first, last := earlier.first, later.last
	if earlier.last.Timestamp.After(last.Timestamp) {
		last = earlier.last
	}
	s.first, s.last = first, last
}
