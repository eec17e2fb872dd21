package increase

import (
	"errors"
	"time"
)

// Status tells why a window produced a value or not.
type Status int

const (
	StatusOK Status = iota
	StatusNoData
	StatusSingleSample
	StatusDegenerate
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "no_data"
	case StatusSingleSample:
		return "single_sample"
	case StatusDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// WindowResult is the finalized increase of one window. Value is nil unless Status is
// StatusOK.
type WindowResult struct {
	Window  Window
	Value   *float64
	Samples uint64
	Resets  uint64
	Status  Status
}

// FinalizeWindows consumes the state and returns one result per window, in window order.
func (s *State) FinalizeWindows() ([]WindowResult, error) {
	if s.consumed {
		return nil, ErrStateConsumed
	}
	s.consumed = true

	rng := s.schedule.params.Range
	results := make([]WindowResult, len(s.accs))
	for k := range s.accs {
		acc := &s.accs[k]
		res := WindowResult{
			Window:  s.schedule.Window(k),
			Samples: acc.count,
			Resets:  acc.resets,
		}
		v, err := acc.extrapolate(rng)
		switch {
		case err == nil:
			res.Value = &v
			res.Status = StatusOK
		case errors.Is(err, errNoSamples):
			res.Status = StatusNoData
		case errors.Is(err, errSingleSample):
			res.Status = StatusSingleSample
		case errors.Is(err, ErrDegenerateWindow):
			res.Status = StatusDegenerate
		}
		results[k] = res
	}
	s.accs = nil
	return results, nil
}

// Finalize consumes the state and returns the extrapolated increase of every window, in
// window order. A nil entry means the window did not hold enough data.
func (s *State) Finalize() ([]*float64, error) {
	results, err := s.FinalizeWindows()
	if err != nil {
		return nil, err
	}
	return Values(results), nil
}

// FinalizeRate is Finalize divided by the window range in seconds: the per-second
// average rate of the counter over each window.
func (s *State) FinalizeRate() ([]*float64, error) {
	results, err := s.FinalizeWindows()
	if err != nil {
		return nil, err
	}
	return Rates(results, s.schedule.params.Range), nil
}

// Values extracts the increase of each result.
func Values(results []WindowResult) []*float64 {
	out := make([]*float64, len(results))
	for i := range results {
		out[i] = results[i].Value
	}
	return out
}

// Rates converts each result's increase into a per-second rate over rng.
func Rates(results []WindowResult, rng time.Duration) []*float64 {
	out := make([]*float64, len(results))
	for i := range results {
		if results[i].Value == nil {
			continue
		}
		r := *results[i].Value / rng.Seconds()
		out[i] = &r
	}
	return out
}
