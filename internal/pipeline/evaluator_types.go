package pipeline

import (
	"time"

	"github.com/sanspareilsmyn/counterlens/internal/increase"
)

// IncreaseResult is the finalized increase of one series over one window.
type IncreaseResult struct {
	Series      string
	WindowStart time.Time
	WindowEnd   time.Time
	Increase    *float64 // nil when the window lacks data, see Status
	Rate        *float64 // Increase per second of range
	Samples     uint64
	Resets      uint64
	Status      increase.Status
}

// span is one engine evaluation span shared by every series. Each series gets its own
// increase.State the first time one of its samples lands in the span.
type span struct {
	index  int64
	params increase.Params
	states map[string]*increase.State
}

func newSpan(index int64, params increase.Params) *span {
	return &span{
		index:  index,
		params: params,
		states: make(map[string]*increase.State),
	}
}
