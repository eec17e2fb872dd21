package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sanspareilsmyn/counterlens/internal/increase"
)

// Reasons a sample never reaches an engine state.
const (
	dropParseError     = "parse_error"
	dropLate           = "late"
	dropOutsideWindows = "outside_windows"
	dropOutOfOrder     = "out_of_order"
	dropInvalidValue   = "invalid_value"
	dropOutOfRange     = "out_of_range"
	dropOther          = "other"
)

var (
	samplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counterlens_samples_ingested_total",
			Help: "Total number of samples accepted by at least one evaluation span.",
		},
	)
	samplesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counterlens_samples_dropped_total",
			Help: "Total number of samples discarded before evaluation, by reason.",
		},
		[]string{"reason"},
	)
	counterResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counterlens_counter_resets_total",
			Help: "Total number of counter resets observed per series.",
		},
		[]string{"series"},
	)
	openSpans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "counterlens_open_spans",
			Help: "Number of evaluation spans currently accepting samples.",
		},
	)
	windowResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counterlens_window_results_total",
			Help: "Total number of finalized windows, by status.",
		},
		[]string{"status"},
	)
)

// dropReason maps an engine error to the label used on samplesDropped.
func dropReason(err error) string {
	switch {
	case errors.Is(err, increase.ErrOutOfOrderSample):
		return dropOutOfOrder
	case errors.Is(err, increase.ErrInvalidSample):
		return dropInvalidValue
	case errors.Is(err, increase.ErrOutOfRangeSample):
		return dropOutOfRange
	default:
		return dropOther
	}
}
