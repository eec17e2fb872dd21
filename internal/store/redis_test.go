package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), Config{Addr: mr.Addr(), TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func ptr(f float64) *float64 { return &f }

var base = time.Date(2000, 1, 2, 15, 0, 0, 0, time.UTC)

func window(series string, k int, value *float64, status string) Record {
	start := base.Add(time.Duration(k) * 10 * time.Minute)
	return Record{
		Series:  series,
		Start:   start,
		End:     start.Add(10 * time.Minute),
		Value:   value,
		Samples: 3,
		Status:  status,
	}
}

func TestNewRedisStore(t *testing.T) {
	t.Run("unreachable server", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		_, err = NewRedisStore(context.Background(), Config{Addr: addr})
		assert.ErrorIs(t, err, ErrConnect)
	})
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and range", func(t *testing.T) {
		s, _ := setupTestStore(t, 0)
		require.NoError(t, s.Save(ctx,
			window("jobs_total", 0, ptr(12), "ok"),
			window("jobs_total", 1, nil, "single_sample"),
			window("jobs_total", 2, ptr(7.5), "ok"),
			window("other_total", 0, ptr(1), "ok"),
		))

		got, err := s.Range(ctx, "jobs_total", base, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, ptr(12), got[0].Value)
		assert.Nil(t, got[1].Value)
		assert.Equal(t, "single_sample", got[1].Status)
		assert.Equal(t, ptr(7.5), got[2].Value)
		assert.True(t, got[2].End.Equal(base.Add(30*time.Minute)))

		got, err = s.Range(ctx, "jobs_total", base.Add(15*time.Minute), base.Add(25*time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "single_sample", got[0].Status)
	})

	t.Run("saving the same window again replaces it", func(t *testing.T) {
		s, _ := setupTestStore(t, 0)
		require.NoError(t, s.Save(ctx, window("jobs_total", 0, ptr(1), "ok")))
		require.NoError(t, s.Save(ctx, window("jobs_total", 0, ptr(2), "ok")))

		got, err := s.Range(ctx, "jobs_total", base, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ptr(2), got[0].Value)
	})

	t.Run("windows ending within the same second are kept apart", func(t *testing.T) {
		s, _ := setupTestStore(t, 0)
		records := make([]Record, 3)
		for i := range records {
			end := base.Add(time.Duration(i+1) * 250 * time.Millisecond)
			records[i] = Record{Series: "fast_total", Start: end.Add(-250 * time.Millisecond), End: end, Value: ptr(float64(i)), Status: "ok"}
		}
		require.NoError(t, s.Save(ctx, records...))
		require.NoError(t, s.Save(ctx, records[1]))

		got, err := s.Range(ctx, "fast_total", base, base.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, r := range got {
			assert.Equal(t, ptr(float64(i)), r.Value)
		}

		got, err = s.Range(ctx, "fast_total", base.Add(500*time.Millisecond), base.Add(500*time.Millisecond))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ptr(1), got[0].Value)
	})

	t.Run("keys expire after ttl", func(t *testing.T) {
		s, mr := setupTestStore(t, time.Hour)
		require.NoError(t, s.Save(ctx, window("jobs_total", 0, ptr(1), "ok")))

		assert.Equal(t, time.Hour, mr.TTL("increase:jobs_total"))
		mr.FastForward(2 * time.Hour)
		assert.False(t, mr.Exists("increase:jobs_total"))
	})

	t.Run("prune drops old windows", func(t *testing.T) {
		s, _ := setupTestStore(t, 0)
		require.NoError(t, s.Save(ctx,
			window("jobs_total", 0, ptr(1), "ok"),
			window("jobs_total", 1, ptr(2), "ok"),
			window("jobs_total", 2, ptr(3), "ok"),
		))
		require.NoError(t, s.Prune(ctx, "jobs_total", base.Add(20*time.Minute)))

		got, err := s.Range(ctx, "jobs_total", base, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ptr(2), got[0].Value)
	})

	t.Run("empty save is a no-op", func(t *testing.T) {
		s, mr := setupTestStore(t, 0)
		require.NoError(t, s.Save(ctx))
		assert.Empty(t, mr.Keys())
	})
}
