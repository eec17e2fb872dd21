// Command increasectl evaluates the increase of one counter series from a file of JSON
// samples, one per line, using the same sample format as the Kafka pipeline.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sanspareilsmyn/counterlens/internal/increase"
	"github.com/sanspareilsmyn/counterlens/internal/message"
)

const maxLineBytes = 1 << 20

var (
	ErrMultipleSeries = errors.New("input holds more than one series, pick one with -series")
	ErrNoSamples      = errors.New("no samples to evaluate")
	ErrInvalidFlag    = errors.New("invalid flag value")
)

type options struct {
	input      string
	series     string
	lowest     string
	greatest   string
	step       time.Duration
	rng        time.Duration
	partitions int
	verbose    bool
}

// WindowOutput is one evaluated window as printed.
type WindowOutput struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Increase *float64  `json:"increase"`
	Rate     *float64  `json:"rate"`
	Samples  uint64    `json:"samples"`
	Resets   uint64    `json:"resets"`
	Status   string    `json:"status"`
}

// Report is the document printed on success.
type Report struct {
	Series   string         `json:"series"`
	Lowest   time.Time      `json:"lowest"`
	Greatest time.Time      `json:"greatest"`
	Step     string         `json:"step"`
	Range    string         `json:"range"`
	Samples  int            `json:"samples"`
	Skipped  int            `json:"skipped"`
	Windows  []WindowOutput `json:"windows"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "increasectl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("increasectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.input, "input", "-", "JSON lines file of samples, - for stdin")
	fs.StringVar(&opts.series, "series", "", "Series to evaluate; required when the input holds several")
	fs.StringVar(&opts.lowest, "lowest", "", "Start of the evaluated span; defaults to the first sample")
	fs.StringVar(&opts.greatest, "greatest", "", "End of the evaluated span; defaults to the last sample")
	fs.DurationVar(&opts.step, "step", 5*time.Minute, "Distance between window starts")
	fs.DurationVar(&opts.rng, "range", 10*time.Minute, "Width of each window")
	fs.IntVar(&opts.partitions, "partitions", 4, "Number of partial states evaluated concurrently")
	fs.BoolVar(&opts.verbose, "v", false, "Log progress to stderr")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.partitions < 1 {
		return opts, fmt.Errorf("%w: -partitions must be at least 1", ErrInvalidFlag)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := zapcore.WarnLevel
	if opts.verbose {
		level = zapcore.DebugLevel
	}
	logger := newLogger(stderr, level)
	defer func() { _ = logger.Sync() }()

	in := stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	series, samples, err := readSamples(in, opts.series, logger)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return ErrNoSamples
	}
	slices.SortStableFunc(samples, func(a, b increase.Sample) int { return a.Timestamp.Compare(b.Timestamp) })

	params := increase.Params{
		LowestTime:   samples[0].Timestamp,
		GreatestTime: samples[len(samples)-1].Timestamp,
		StepSize:     opts.step,
		Range:        opts.rng,
	}
	if params.LowestTime, err = parseBound(opts.lowest, params.LowestTime); err != nil {
		return fmt.Errorf("%w: -lowest: %w", ErrInvalidFlag, err)
	}
	if params.GreatestTime, err = parseBound(opts.greatest, params.GreatestTime); err != nil {
		return fmt.Errorf("%w: -greatest: %w", ErrInvalidFlag, err)
	}

	inSpan := samples[:0]
	for _, s := range samples {
		if s.Timestamp.Before(params.LowestTime) || s.Timestamp.After(params.GreatestTime) {
			continue
		}
		inSpan = append(inSpan, s)
	}
	skipped := len(samples) - len(inSpan)
	if skipped > 0 {
		logger.Warn("Ignoring samples outside the span", zap.Int("count", skipped))
	}

	logger.Debug("Evaluating",
		zap.String("series", series),
		zap.Int("samples", len(inSpan)),
		zap.Time("lowest", params.LowestTime),
		zap.Time("greatest", params.GreatestTime),
		zap.Int("partitions", opts.partitions),
	)
	results, err := increase.EvaluateParallel(ctx, params, inSpan, opts.partitions)
	if err != nil {
		return err
	}

	report := Report{
		Series:   series,
		Lowest:   params.LowestTime,
		Greatest: params.GreatestTime,
		Step:     params.StepSize.String(),
		Range:    params.Range.String(),
		Samples:  len(inSpan),
		Skipped:  skipped,
		Windows:  make([]WindowOutput, len(results)),
	}
	rates := increase.Rates(results, params.Range)
	for k, r := range results {
		report.Windows[k] = WindowOutput{
			Start:    r.Window.Start,
			End:      r.Window.End,
			Increase: r.Value,
			Rate:     rates[k],
			Samples:  r.Samples,
			Resets:   r.Resets,
			Status:   r.Status.String(),
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// readSamples decodes every line and keeps the samples of one series. Undecodable
// lines are logged and skipped.
func readSamples(r io.Reader, want string, logger *zap.Logger) (string, []increase.Sample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	series := want
	var samples []increase.Sample
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		s, err := message.ParseSample(raw)
		if err != nil {
			logger.Warn("Skipping line", zap.Int("line", line), zap.Error(err))
			continue
		}
		switch {
		case series == "":
			series = s.Series
		case s.Series != series:
			if want != "" {
				continue
			}
			return "", nil, fmt.Errorf("%w: %q and %q", ErrMultipleSeries, series, s.Series)
		}
		samples = append(samples, increase.Sample{Timestamp: s.Timestamp, Value: s.Value})
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("failed to read input: %w", err)
	}
	return series, samples, nil
}

func parseBound(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return dateparse.ParseStrict(value)
}

func newLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)
	return zap.New(core)
}
