package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/counterlens/internal/message"
)

var (
	kafkaBroker = flag.String("broker", "localhost:9092", "Kafka bootstrap broker")
	topic       = flag.String("topic", "counter-samples", "Topic to write samples to")
	interval    = flag.Duration("interval", time.Second, "Time between scrape rounds")
	resetChance = flag.Float64("reset-chance", 0.01, "Probability that a counter restarts from zero on a round")
)

// CounterMessage is the sample format the pipeline consumes.
type CounterMessage struct {
	Metric    string            `json:"metric"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp int64             `json:"timestamp"` // epoch milliseconds
	Value     float64           `json:"value"`
}

// counter simulates one monotonically increasing series of a process that restarts now
// and then.
type counter struct {
	metric string
	labels map[string]string
	rate   float64 // mean increments per second
	value  float64
}

func (c *counter) advance(rng *rand.Rand, elapsed time.Duration) {
	if rng.Float64() < *resetChance {
		c.value = 0
		return
	}
	c.value += float64(rng.Intn(int(c.rate*elapsed.Seconds()*2) + 1))
}

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	writer := &kafka.Writer{
		Addr:     kafka.TCP(*kafkaBroker),
		Topic:    *topic,
		Balancer: &kafka.Hash{}, // keeps each series on one partition, in order
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("Error closing kafka writer", zap.Error(err))
		}
	}()
	logger.Info("Starting sample producer", zap.String("topic", *topic), zap.String("broker", *kafkaBroker))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("Shutdown signal received, stopping producer...")
		cancel()
	}()

	counters := []*counter{
		{metric: "http_requests_total", labels: map[string]string{"method": "GET", "code": "200"}, rate: 40},
		{metric: "http_requests_total", labels: map[string]string{"method": "GET", "code": "500"}, rate: 0.2},
		{metric: "jobs_processed_total", rate: 1},
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case now := <-ticker.C:
			msgs := make([]kafka.Message, 0, len(counters))
			for _, c := range counters {
				c.advance(rng, *interval)
				payload, err := json.Marshal(CounterMessage{
					Metric:    c.metric,
					Labels:    c.labels,
					Timestamp: now.UnixMilli(),
					Value:     c.value,
				})
				if err != nil {
					logger.Error("Error marshalling sample", zap.Error(err))
					continue
				}
				msgs = append(msgs, kafka.Message{Key: []byte(message.SeriesKey(c.metric, c.labels)), Value: payload})
			}

			if err := writer.WriteMessages(ctx, msgs...); err != nil {
				if ctx.Err() != nil {
					logger.Info("Context cancelled, exiting message loop.")
					return
				}
				logger.Error("Error writing samples", zap.Error(err))
				continue
			}
			logger.Debug("Produced samples", zap.Int("count", len(msgs)))

		case <-ctx.Done():
			logger.Info("Producer loop stopped.")
			return
		}
	}
}
