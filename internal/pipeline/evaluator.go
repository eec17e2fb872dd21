package pipeline

import (
	"context"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/sanspareilsmyn/counterlens/internal/config"
	"github.com/sanspareilsmyn/counterlens/internal/increase"
	"github.com/sanspareilsmyn/counterlens/internal/message"
)

// Evaluator feeds samples of every series into per-span engine states and emits the
// finalized windows of a span once event time has moved past it.
//
// Span i starts at origin + i*Span and covers Span + Range - Step, so it holds exactly
// Span/Step windows and the window ends of consecutive spans continue one Step apart.
// When Range exceeds Step, neighbouring spans overlap and a sample lands in each of
// them, except that a sample on the start of a span is left to the earlier span whose
// window ends there.
type Evaluator struct {
	cfg      config.EvaluationConfig
	origin   time.Time
	coverage time.Duration
	input    <-chan message.Sample
	output   chan<- IncreaseResult
	logger   *zap.Logger

	spans     map[int64]*span
	watermark time.Time // newest accepted sample timestamp
	lastValue map[string]float64
}

// NewEvaluator creates an Evaluator. cfg is expected to be validated.
func NewEvaluator(cfg config.EvaluationConfig, input <-chan message.Sample, output chan<- IncreaseResult, logger *zap.Logger) *Evaluator {
	origin := cfg.Start
	if origin.IsZero() {
		origin = time.Unix(0, 0).UTC()
	}

	logger.Debug("Evaluator initialized",
		zap.Duration("span", cfg.Span),
		zap.Duration("step", cfg.Step),
		zap.Duration("range", cfg.Range),
		zap.Duration("allowed_lateness", cfg.AllowedLateness),
		zap.Time("origin", origin),
	)

	return &Evaluator{
		cfg:       cfg,
		origin:    origin,
		coverage:  cfg.Span + cfg.Range - cfg.Step,
		input:     input,
		output:    output,
		logger:    logger,
		spans:     make(map[int64]*span),
		lastValue: make(map[string]float64),
	}
}

// Run consumes samples until the input closes, then emits whatever complete windows the
// open spans hold. On context cancellation the open spans are discarded.
func (e *Evaluator) Run(ctx context.Context) error {
	sugar := e.logger.Sugar()
	sugar.Info("Starting evaluator loop...")
	defer sugar.Info("Evaluator loop stopped.")

	for {
		select {
		case s, ok := <-e.input:
			if !ok {
				sugar.Infow("Evaluator input channel closed, flushing open spans.", "open_spans", len(e.spans))
				return e.flush(ctx)
			}
			e.process(s)
			if err := e.closeExpired(ctx); err != nil {
				return err
			}

		case <-ctx.Done():
			sugar.Infow("Context cancelled, discarding open spans.", "open_spans", len(e.spans))
			return ctx.Err()
		}
	}
}

// process routes one sample to every open span covering its timestamp.
func (e *Evaluator) process(s message.Sample) {
	lo, hi, ok := e.spanRange(s.Timestamp)
	if !ok {
		e.drop(s, dropOutsideWindows, nil)
		return
	}

	accepted := false
	var firstErr error
	for i := lo; i <= hi; i++ {
		params := e.spanParams(i)
		if s.Timestamp.Equal(params.LowestTime) && e.endsEarlierWindow(i) {
			continue
		}
		if e.expired(params) {
			continue
		}
		sp := e.openSpan(i, params)
		st, err := increase.Transition(sp.states[s.Series], sp.params, s.Timestamp, s.Value)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sp.states[s.Series] = st
		accepted = true
	}

	switch {
	case accepted:
	case firstErr != nil:
		e.drop(s, dropReason(firstErr), firstErr)
		return
	default:
		e.drop(s, dropLate, nil)
		return
	}

	samplesIngested.Inc()
	if s.Timestamp.After(e.watermark) {
		e.watermark = s.Timestamp
	}
	e.trackReset(s)
}

// spanRange returns the indices of the spans whose coverage contains ts.
func (e *Evaluator) spanRange(ts time.Time) (lo, hi int64, ok bool) {
	d := int64(ts.Sub(e.origin))
	size := int64(e.cfg.Span)
	hi = floorDiv(d, size)
	lo = ceilDiv(d-int64(e.coverage), size)
	if lo < 0 {
		lo = 0
	}
	return lo, hi, lo <= hi
}

func (e *Evaluator) spanParams(i int64) increase.Params {
	lowest := e.origin.Add(time.Duration(i) * e.cfg.Span)
	return increase.Params{
		LowestTime:   lowest,
		GreatestTime: lowest.Add(e.coverage),
		StepSize:     e.cfg.Step,
		Range:        e.cfg.Range,
	}
}

// endsEarlierWindow reports whether some window ends exactly where span i starts. Such a
// window lives in an earlier span that also covers the boundary, and a sample on the
// boundary belongs to it alone.
func (e *Evaluator) endsEarlierWindow(i int64) bool {
	d := time.Duration(i)*e.cfg.Span - e.cfg.Range
	return d >= 0 && d%e.cfg.Step == 0
}

// expired reports whether event time has moved far enough past p to close it.
func (e *Evaluator) expired(p increase.Params) bool {
	if e.watermark.IsZero() {
		return false
	}
	return p.GreatestTime.Before(e.watermark.Add(-e.cfg.AllowedLateness))
}

func (e *Evaluator) openSpan(i int64, params increase.Params) *span {
	if sp, ok := e.spans[i]; ok {
		return sp
	}
	sp := newSpan(i, params)
	e.spans[i] = sp
	openSpans.Set(float64(len(e.spans)))
	e.logger.Debug("Span opened",
		zap.Int64("index", i),
		zap.Time("lowest", params.LowestTime),
		zap.Time("greatest", params.GreatestTime),
	)
	return sp
}

func (e *Evaluator) trackReset(s message.Sample) {
	if math.IsNaN(s.Value) {
		return
	}
	if last, ok := e.lastValue[s.Series]; ok && s.Value < last {
		counterResets.WithLabelValues(s.Series).Inc()
		e.logger.Debug("Counter reset detected",
			zap.String("series", s.Series),
			zap.Time("timestamp", s.Timestamp),
			zap.Float64("previous", last),
			zap.Float64("value", s.Value),
		)
	}
	e.lastValue[s.Series] = s.Value
}

func (e *Evaluator) drop(s message.Sample, reason string, err error) {
	samplesDropped.WithLabelValues(reason).Inc()
	fields := []zap.Field{
		zap.String("series", s.Series),
		zap.Time("timestamp", s.Timestamp),
		zap.Float64("value", s.Value),
		zap.String("reason", reason),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	e.logger.Warn("Sample dropped", fields...)
}

// closeExpired emits and forgets every span that event time has passed, oldest first.
func (e *Evaluator) closeExpired(ctx context.Context) error {
	var due []int64
	for i, sp := range e.spans {
		if e.expired(sp.params) {
			due = append(due, i)
		}
	}
	slices.Sort(due)
	for _, i := range due {
		sp := e.spans[i]
		delete(e.spans, i)
		openSpans.Set(float64(len(e.spans)))
		if err := e.emitSpan(ctx, sp, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// flush emits the windows of all open spans that end at or before the watermark.
// Windows past it could still receive data and are not reported.
func (e *Evaluator) flush(ctx context.Context) error {
	indices := make([]int64, 0, len(e.spans))
	for i := range e.spans {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	for _, i := range indices {
		sp := e.spans[i]
		delete(e.spans, i)
		if err := e.emitSpan(ctx, sp, e.watermark); err != nil {
			return err
		}
	}
	openSpans.Set(0)
	return nil
}

// emitSpan finalizes every series of sp and sends its windows downstream. A non-zero
// upTo limits the output to windows ending at or before it.
func (e *Evaluator) emitSpan(ctx context.Context, sp *span, upTo time.Time) error {
	series := make([]string, 0, len(sp.states))
	for name := range sp.states {
		series = append(series, name)
	}
	slices.Sort(series)

	emitted := 0
	for _, name := range series {
		st := sp.states[name]
		stats := st.Stats()
		results, err := st.FinalizeWindows()
		if err != nil {
			e.logger.Error("Failed to finalize series",
				zap.String("series", name),
				zap.Int64("span", sp.index),
				zap.Error(err),
			)
			continue
		}
		rates := increase.Rates(results, sp.params.Range)
		for k, r := range results {
			if !upTo.IsZero() && r.Window.End.After(upTo) {
				break
			}
			windowResults.WithLabelValues(r.Status.String()).Inc()
			res := IncreaseResult{
				Series:      name,
				WindowStart: r.Window.Start,
				WindowEnd:   r.Window.End,
				Increase:    r.Value,
				Rate:        rates[k],
				Samples:     r.Samples,
				Resets:      r.Resets,
				Status:      r.Status,
			}
			select {
			case e.output <- res:
				emitted++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		e.logger.Debug("Series finalized",
			zap.String("series", name),
			zap.Int64("span", sp.index),
			zap.Uint64("samples", stats.Samples),
			zap.Uint64("skipped", stats.Skipped),
			zap.Uint64("resets", stats.Resets),
		)
	}

	e.logger.Info("Span finalized",
		zap.Int64("index", sp.index),
		zap.Time("lowest", sp.params.LowestTime),
		zap.Time("greatest", sp.params.GreatestTime),
		zap.Int("series", len(series)),
		zap.Int("windows_emitted", emitted),
	)
	return nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}
