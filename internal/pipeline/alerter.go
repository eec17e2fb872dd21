package pipeline

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/counterlens/internal/config"
	"github.com/sanspareilsmyn/counterlens/internal/increase"
	"github.com/sanspareilsmyn/counterlens/internal/store"
)

var (
	seriesIncrease = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "counterlens_series_window_increase",
			Help: "Extrapolated increase of a series over its most recent complete window.",
		},
		[]string{"series"},
	)
	seriesRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "counterlens_series_window_rate",
			Help: "Per-second rate of a series over its most recent complete window.",
		},
		[]string{"series"},
	)
	seriesSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "counterlens_series_window_samples",
			Help: "Number of samples in the most recent window of a series.",
		},
		[]string{"series"},
	)
	thresholdViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counterlens_threshold_violations_total",
			Help: "Total number of threshold violations detected for a series and specific check.",
		},
		[]string{"series", "check_type", "comparison"}, // check_type: increase, rate; comparison: <, >
	)
)

// ResultStore receives finalized windows. *store.RedisStore implements it.
type ResultStore interface {
	Save(ctx context.Context, records ...store.Record) error
	Prune(ctx context.Context, series string, cutoff time.Time) error
}

// Alerter receives increase results, exports them as metrics, checks them against the
// configured thresholds and optionally persists them.
type Alerter struct {
	series    map[string]config.SeriesConfig
	input     <-chan IncreaseResult
	store     ResultStore // nil disables persistence
	retention time.Duration
	logger    *zap.Logger
}

// NewAlerter creates a new Alerter instance. rs may be nil.
func NewAlerter(series []config.SeriesConfig, input <-chan IncreaseResult, rs ResultStore, retention time.Duration, logger *zap.Logger) *Alerter {
	seriesMap := make(map[string]config.SeriesConfig, len(series))
	for _, s := range series {
		seriesMap[s.Name] = s
	}

	logger.Debug("Alerter initialized",
		zap.Int("series_count", len(seriesMap)),
		zap.Bool("store_enabled", rs != nil),
		zap.Duration("retention", retention),
	)

	return &Alerter{
		series:    seriesMap,
		input:     input,
		store:     rs,
		retention: retention,
		logger:    logger,
	}
}

// Run starts the alerter's processing loop.
func (a *Alerter) Run(ctx context.Context) error {
	sugar := a.logger.Sugar()
	sugar.Info("Starting alerter loop...")
	defer sugar.Info("Alerter loop stopped.")

	for {
		select {
		case result, ok := <-a.input:
			if !ok {
				sugar.Info("Alerter input channel closed.")
				return nil
			}
			a.processResult(ctx, result)

		case <-ctx.Done():
			sugar.Info("Context cancelled, stopping alerter.")
			return ctx.Err()
		}
	}
}

// processResult updates metrics, checks thresholds, logs and persists one window.
func (a *Alerter) processResult(ctx context.Context, result IncreaseResult) {
	seriesSamples.WithLabelValues(result.Series).Set(float64(result.Samples))
	if result.Status == increase.StatusOK {
		seriesIncrease.WithLabelValues(result.Series).Set(*result.Increase)
		seriesRate.WithLabelValues(result.Series).Set(*result.Rate)

		if cfg, ok := a.series[result.Series]; ok {
			a.checkThresholds(result, cfg.Thresholds)
		}
	}

	a.logStats(result)
	a.persist(ctx, result)
}

func (a *Alerter) checkThresholds(result IncreaseResult, t config.Thresholds) {
	inc, rate := *result.Increase, *result.Rate
	if t.IncreaseMin != nil && inc < *t.IncreaseMin {
		a.violation(result, "increase", "<", inc, *t.IncreaseMin)
	}
	if t.IncreaseMax != nil && inc > *t.IncreaseMax {
		a.violation(result, "increase", ">", inc, *t.IncreaseMax)
	}
	if t.RateMax != nil && rate > *t.RateMax {
		a.violation(result, "rate", ">", rate, *t.RateMax)
	}
}

func (a *Alerter) violation(result IncreaseResult, checkType, comparison string, actual, threshold float64) {
	a.logger.Warn("Threshold violation",
		zap.String("series", result.Series),
		zap.String("check_type", checkType),
		zap.Time("window_start", result.WindowStart),
		zap.Time("window_end", result.WindowEnd),
		zap.Float64("actual", actual),
		zap.Float64("threshold", threshold),
		zap.String("comparison", comparison),
	)
	thresholdViolations.WithLabelValues(result.Series, checkType, comparison).Inc()
}

func (a *Alerter) logStats(result IncreaseResult) {
	fields := []zap.Field{
		zap.String("series", result.Series),
		zap.Time("window_end", result.WindowEnd),
		zap.Stringer("status", result.Status),
		zap.Uint64("samples", result.Samples),
		zap.Uint64("resets", result.Resets),
	}
	if result.Increase != nil {
		fields = append(fields, zap.Float64("increase", *result.Increase), zap.Float64("rate", *result.Rate))
	}
	a.logger.Debug("Window processed", fields...)
}

// persist hands the window to the store. Store failures are logged and do not stop the
// alerter; metrics stay authoritative.
func (a *Alerter) persist(ctx context.Context, result IncreaseResult) {
	if a.store == nil {
		return
	}
	rec := store.Record{
		Series:  result.Series,
		Start:   result.WindowStart,
		End:     result.WindowEnd,
		Value:   result.Increase,
		Samples: result.Samples,
		Status:  result.Status.String(),
	}
	if err := a.store.Save(ctx, rec); err != nil {
		a.logger.Error("Failed to save window result",
			zap.String("series", result.Series),
			zap.Time("window_end", result.WindowEnd),
			zap.Error(err),
		)
		return
	}
	if a.retention > 0 {
		if err := a.store.Prune(ctx, result.Series, result.WindowEnd.Add(-a.retention)); err != nil {
			a.logger.Warn("Failed to prune window results", zap.String("series", result.Series), zap.Error(err))
		}
	}
}
