package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2000, 1, 2, 15, 0, 0, 0, time.UTC)

func jsonl(series string, minutes ...int) string {
	var b strings.Builder
	for _, m := range minutes {
		fmt.Fprintf(&b, `{"series":%q,"timestamp":%q,"value":%d}`+"\n",
			series, t0.Add(time.Duration(m)*time.Minute).Format(time.RFC3339), m)
	}
	return b.String()
}

func runReport(t *testing.T, input string, args ...string) Report {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), args, strings.NewReader(input), &out, io.Discard))
	var report Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	return report
}

func TestRun(t *testing.T) {
	t.Run("evaluates every window", func(t *testing.T) {
		for _, partitions := range []string{"1", "3"} {
			report := runReport(t, jsonl("jobs_total", 0, 5, 10, 15, 20),
				"-step", "10m", "-range", "10m", "-partitions", partitions)

			assert.Equal(t, "jobs_total", report.Series)
			assert.True(t, report.Lowest.Equal(t0))
			assert.True(t, report.Greatest.Equal(t0.Add(20*time.Minute)))
			require.Len(t, report.Windows, 2)
			for _, w := range report.Windows {
				assert.Equal(t, "ok", w.Status)
				require.NotNil(t, w.Increase)
				assert.InDelta(t, 10, *w.Increase, 1e-9)
				require.NotNil(t, w.Rate)
				assert.InDelta(t, 10.0/600, *w.Rate, 1e-12)
			}
		}
	})

	t.Run("explicit bounds skip samples outside them", func(t *testing.T) {
		report := runReport(t, jsonl("jobs_total", 0, 5, 10, 15, 20),
			"-lowest", t0.Add(10*time.Minute).Format(time.RFC3339),
			"-greatest", t0.Add(20*time.Minute).Format(time.RFC3339),
			"-step", "10m", "-range", "10m")

		assert.Equal(t, 3, report.Samples)
		assert.Equal(t, 2, report.Skipped)
		require.Len(t, report.Windows, 1)
		assert.InDelta(t, 10, *report.Windows[0].Increase, 1e-9)
	})

	t.Run("unsorted input and junk lines", func(t *testing.T) {
		input := jsonl("jobs_total", 10, 0) + "not json\n\n" + jsonl("jobs_total", 5)
		report := runReport(t, input, "-step", "10m", "-range", "10m")
		require.Len(t, report.Windows, 1)
		assert.Equal(t, uint64(3), report.Windows[0].Samples)
	})

	t.Run("series filter", func(t *testing.T) {
		input := jsonl("a_total", 0, 10) + jsonl("b_total", 0, 5, 10)
		report := runReport(t, input, "-series", "b_total", "-step", "10m", "-range", "10m")
		assert.Equal(t, "b_total", report.Series)
		assert.Equal(t, 3, report.Samples)
	})

	t.Run("several series without a filter", func(t *testing.T) {
		input := jsonl("a_total", 0) + jsonl("b_total", 5)
		err := run(context.Background(), nil, strings.NewReader(input), io.Discard, io.Discard)
		assert.ErrorIs(t, err, ErrMultipleSeries)
	})

	t.Run("empty input", func(t *testing.T) {
		err := run(context.Background(), nil, strings.NewReader(""), io.Discard, io.Discard)
		assert.ErrorIs(t, err, ErrNoSamples)
	})

	t.Run("bad flags", func(t *testing.T) {
		err := run(context.Background(), []string{"-partitions", "0"}, strings.NewReader(""), io.Discard, io.Discard)
		assert.ErrorIs(t, err, ErrInvalidFlag)

		err = run(context.Background(), []string{"-lowest", "someday"}, strings.NewReader(jsonl("x", 0)), io.Discard, io.Discard)
		assert.ErrorIs(t, err, ErrInvalidFlag)
	})
}
