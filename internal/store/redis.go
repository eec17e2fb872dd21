// Package store persists finalized increase windows in Redis so that dashboards and
// other services can read recent results without scraping.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var (
	ErrConnect = errors.New("failed to connect to Redis")
	ErrEncode  = errors.New("failed to encode window result")
)

// Config holds Redis connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires a series key this long after its last write. Zero keeps keys forever.
	TTL time.Duration
}

// Record is what gets stored for one window. Value is nil when the window had no data.
type Record struct {
	Series  string    `json:"series"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Value   *float64  `json:"value"`
	Samples uint64    `json:"samples"`
	Status  string    `json:"status"`
}

// RedisStore keeps one sorted set per series, scored by window end in Unix milliseconds.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "increase"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: cfg.TTL}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) key(series string) string {
	return fmt.Sprintf("%s:%s", s.prefix, series)
}

// Save writes records, replacing any earlier record for the same series and window end.
func (s *RedisStore) Save(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	touched := make(map[string]struct{})
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEncode, err)
		}
		key := s.key(r.Series)
		score := r.End.UnixMilli()
		bound := strconv.FormatInt(score, 10)
		pipe.ZRemRangeByScore(ctx, key, bound, bound)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: string(data)})
		touched[key] = struct{}{}
	}
	if s.ttl > 0 {
		for key := range touched {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save window results: %w", err)
	}
	return nil
}

// Range returns the records of series whose window ends within [from, to], oldest first.
func (s *RedisStore) Range(ctx context.Context, series string, from, to time.Time) ([]Record, error) {
	entries, err := s.rdb.ZRangeByScore(ctx, s.key(series), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read window results: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		var r Record
		if err := json.Unmarshal([]byte(entry), &r); err != nil {
			return nil, fmt.Errorf("failed to decode window result: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Prune removes records of series whose window ended before cutoff.
func (s *RedisStore) Prune(ctx context.Context, series string, cutoff time.Time) error {
	upper := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	if err := s.rdb.ZRemRangeByScore(ctx, s.key(series), "-inf", upper).Err(); err != nil {
		return fmt.Errorf("failed to prune window results: %w", err)
	}
	return nil
}
