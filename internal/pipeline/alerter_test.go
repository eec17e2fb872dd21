package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/counterlens/internal/config"
	"github.com/sanspareilsmyn/counterlens/internal/increase"
	"github.com/sanspareilsmyn/counterlens/internal/store"
)

func ptr(f float64) *float64 { return &f }

type recordingStore struct {
	saved   []store.Record
	pruned  []time.Time
	saveErr error
}

func (s *recordingStore) Save(_ context.Context, records ...store.Record) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, records...)
	return nil
}

func (s *recordingStore) Prune(_ context.Context, _ string, cutoff time.Time) error {
	s.pruned = append(s.pruned, cutoff)
	return nil
}

func okResult(series string, end time.Time, inc float64, rng time.Duration) IncreaseResult {
	rate := inc / rng.Seconds()
	return IncreaseResult{
		Series:      series,
		WindowStart: end.Add(-rng),
		WindowEnd:   end,
		Increase:    &inc,
		Rate:        &rate,
		Samples:     4,
		Status:      increase.StatusOK,
	}
}

// runAlerter feeds results through an alerter until the input is exhausted.
func runAlerter(t *testing.T, a *Alerter, input chan IncreaseResult, results ...IncreaseResult) {
	t.Helper()
	for _, r := range results {
		input <- r
	}
	close(input)
	require.NoError(t, a.Run(context.Background()))
}

func TestAlerterThresholds(t *testing.T) {
	series := []config.SeriesConfig{
		{Name: "alert_a_total", Thresholds: config.Thresholds{IncreaseMin: ptr(10), IncreaseMax: ptr(100)}},
		{Name: "alert_b_total", Thresholds: config.Thresholds{RateMax: ptr(1)}},
	}
	violations := func(series, check, cmp string) float64 {
		return testutil.ToFloat64(thresholdViolations.WithLabelValues(series, check, cmp))
	}
	beforeMin := violations("alert_a_total", "increase", "<")
	beforeMax := violations("alert_a_total", "increase", ">")
	beforeRate := violations("alert_b_total", "rate", ">")

	input := make(chan IncreaseResult, 10)
	a := NewAlerter(series, input, nil, 0, zap.NewNop())
	runAlerter(t, a, input,
		okResult("alert_a_total", at(10), 5, 10*time.Minute),
		okResult("alert_a_total", at(20), 50, 10*time.Minute),
		okResult("alert_a_total", at(30), 500, 10*time.Minute),
		okResult("alert_b_total", at(10), 1200, 10*time.Minute), // 2/s
		okResult("alert_b_total", at(20), 300, 10*time.Minute),
		okResult("alert_unconfigured_total", at(10), 1e9, 10*time.Minute),
	)

	assert.Equal(t, 1.0, violations("alert_a_total", "increase", "<")-beforeMin)
	assert.Equal(t, 1.0, violations("alert_a_total", "increase", ">")-beforeMax)
	assert.Equal(t, 1.0, violations("alert_b_total", "rate", ">")-beforeRate)

	assert.Equal(t, 500.0, testutil.ToFloat64(seriesIncrease.WithLabelValues("alert_a_total")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(seriesRate.WithLabelValues("alert_b_total")), 1e-12)
	assert.Equal(t, 1e9, testutil.ToFloat64(seriesIncrease.WithLabelValues("alert_unconfigured_total")))
}

func TestAlerterSkipsChecksWithoutData(t *testing.T) {
	series := []config.SeriesConfig{
		{Name: "alert_empty_total", Thresholds: config.Thresholds{IncreaseMin: ptr(1)}},
	}
	before := testutil.ToFloat64(thresholdViolations.WithLabelValues("alert_empty_total", "increase", "<"))

	input := make(chan IncreaseResult, 1)
	a := NewAlerter(series, input, nil, 0, zap.NewNop())
	runAlerter(t, a, input, IncreaseResult{
		Series:    "alert_empty_total",
		WindowEnd: at(10),
		Samples:   1,
		Status:    increase.StatusSingleSample,
	})

	assert.Equal(t, before, testutil.ToFloat64(thresholdViolations.WithLabelValues("alert_empty_total", "increase", "<")))
	assert.Equal(t, 1.0, testutil.ToFloat64(seriesSamples.WithLabelValues("alert_empty_total")))
}

func TestAlerterPersistsResults(t *testing.T) {
	t.Run("saves every window and prunes behind retention", func(t *testing.T) {
		rs := &recordingStore{}
		input := make(chan IncreaseResult, 2)
		a := NewAlerter(nil, input, rs, time.Hour, zap.NewNop())
		runAlerter(t, a, input,
			okResult("persist_total", at(10), 3, 10*time.Minute),
			IncreaseResult{Series: "persist_total", WindowStart: at(10), WindowEnd: at(20), Status: increase.StatusNoData},
		)

		require.Len(t, rs.saved, 2)
		assert.Equal(t, ptr(3), rs.saved[0].Value)
		assert.Equal(t, "ok", rs.saved[0].Status)
		assert.Nil(t, rs.saved[1].Value)
		assert.Equal(t, "no_data", rs.saved[1].Status)
		require.Len(t, rs.pruned, 2)
		assert.True(t, rs.pruned[1].Equal(at(20).Add(-time.Hour)))
	})

	t.Run("store failures do not stop the alerter", func(t *testing.T) {
		rs := &recordingStore{saveErr: errors.New("connection refused")}
		input := make(chan IncreaseResult, 2)
		a := NewAlerter(nil, input, rs, time.Hour, zap.NewNop())
		runAlerter(t, a, input,
			okResult("persist_total", at(10), 3, 10*time.Minute),
			okResult("persist_total", at(20), 3, 10*time.Minute),
		)
		assert.Empty(t, rs.pruned)
	})

	t.Run("redis store", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rs, err := store.NewRedisStore(context.Background(), store.Config{Addr: mr.Addr()})
		require.NoError(t, err)
		defer rs.Close()

		input := make(chan IncreaseResult, 2)
		a := NewAlerter(nil, input, rs, 0, zap.NewNop())
		runAlerter(t, a, input,
			okResult("redis_total", at(10), 3, 10*time.Minute),
			okResult("redis_total", at(20), 7, 10*time.Minute),
		)

		got, err := rs.Range(context.Background(), "redis_total", at(0), at(60))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ptr(7), got[1].Value)
	})
}
