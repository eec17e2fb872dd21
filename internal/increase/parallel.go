package increase

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// cancelCheckEvery is how many samples a partition ingests between context checks.
const cancelCheckEvery = 1024

// EvaluateParallel computes the windows of p over samples by ingesting up to partitions
// contiguous slices concurrently and merging the partial states in time order.
//
// samples must be sorted by timestamp. Slices are only cut where the timestamp changes,
// so no two partitions share an instant and the merge precondition always holds.
func EvaluateParallel(ctx context.Context, p Params, samples []Sample, partitions int) ([]WindowResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !slices.IsSortedFunc(samples, func(a, b Sample) int { return a.Timestamp.Compare(b.Timestamp) }) {
		return nil, fmt.Errorf("%w: input is not sorted by timestamp", ErrOutOfOrderSample)
	}

	chunks := splitPartitions(samples, partitions)
	states := make([]*State, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			st, err := New(p)
			if err != nil {
				return err
			}
			for j, smp := range chunk {
				if j%cancelCheckEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if err := st.AddDataPoint(smp.Timestamp, smp.Value); err != nil {
					return fmt.Errorf("partition %d: %w", i, err)
				}
			}
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := states[0]
	for i, st := range states[1:] {
		if err := merged.Merge(st); err != nil {
			return nil, fmt.Errorf("merging partition %d: %w", i+1, err)
		}
	}
	return merged.FinalizeWindows()
}

// splitPartitions cuts samples into at most n contiguous chunks of roughly equal size,
// moving each cut forward past samples sharing the timestamp before it. It always
// returns at least one chunk.
func splitPartitions(samples []Sample, n int) [][]Sample {
	if n < 1 {
		n = 1
	}
	if len(samples) <= 1 || n == 1 {
		return [][]Sample{samples}
	}

	size := (len(samples) + n - 1) / n
	chunks := make([][]Sample, 0, n)
	start := 0
	for start < len(samples) {
		end := start + size
		if end >= len(samples) {
			chunks = append(chunks, samples[start:])
			break
		}
		for end < len(samples) && samples[end].Timestamp.Equal(samples[end-1].Timestamp) {
			end++
		}
		chunks = append(chunks, samples[start:end])
		start = end
	}
	return chunks
}
