package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/counterlens/internal/config"
	"github.com/sanspareilsmyn/counterlens/internal/message"
	"github.com/sanspareilsmyn/counterlens/internal/store"
)

const (
	channelBufferSize   = 100
	storeConnectTimeout = 5 * time.Second
)

// Pipeline orchestrates the different stages: consumer, parsing, evaluation, alerting.
type Pipeline struct {
	consumer  *Consumer
	evaluator *Evaluator
	alerter   *Alerter
	store     *store.RedisStore
	closers   []io.Closer
	logger    *zap.Logger

	rawMessages chan []byte
	samples     chan message.Sample
	results     chan IncreaseResult
}

// New creates and wires up a new pipeline. When Redis is configured the result store is
// connected here, so an unreachable Redis fails fast.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	initLogger := logger.Named("pipeline.init")
	initLogger.Debug("Creating pipeline components...")

	rawMessages := make(chan []byte, channelBufferSize)
	consumerInstance, err := NewConsumer(cfg.Kafka, rawMessages, logger.Named("consumer"))
	if err != nil {
		initLogger.Error("Failed to create consumer", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrConsumerCreationFailed, err)
	}

	var (
		rs         ResultStore
		redisStore *store.RedisStore
		closers    []io.Closer
	)
	if cfg.Redis.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()
		redisStore, err = store.NewRedisStore(connectCtx, store.Config{
			Addr:      cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			initLogger.Error("Failed to connect result store", zap.String("address", cfg.Redis.Address), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrStoreCreationFailed, err)
		}
		initLogger.Info("Result store connected", zap.String("address", cfg.Redis.Address))
		rs = redisStore
		closers = append(closers, redisStore)
	}

	p := assemble(cfg, consumerInstance, rawMessages, rs, logger)
	p.store = redisStore
	p.closers = closers
	initLogger.Info("Pipeline instance created successfully")
	return p, nil
}

// assemble builds the stages behind an already constructed consumer.
func assemble(cfg *config.Config, consumer *Consumer, rawMessages chan []byte, rs ResultStore, logger *zap.Logger) *Pipeline {
	buffer := cfg.Evaluation.OutputBuffer
	samples := make(chan message.Sample, channelBufferSize)
	results := make(chan IncreaseResult, buffer)

	return &Pipeline{
		consumer:    consumer,
		evaluator:   NewEvaluator(cfg.Evaluation, samples, results, logger.Named("evaluator")),
		alerter:     NewAlerter(cfg.Series, results, rs, cfg.Redis.Retention, logger.Named("alerter")),
		logger:      logger.Named("pipeline"),
		rawMessages: rawMessages,
		samples:     samples,
		results:     results,
	}
}

// Run starts all pipeline components and waits until they stop. The first component
// error cancels the others and is returned; cancellation of ctx is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	sugar := p.logger.Sugar()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	pipelineErr := make(chan error, 4) // consumer, parser, evaluator, alerter

	sugar.Info("Pipeline Run: Starting components...")
	wg.Add(4)
	go p.runConsumer(ctx, &wg, pipelineErr)
	go p.runParser(ctx, &wg)
	go p.runEvaluator(ctx, &wg, pipelineErr)
	go p.runAlerter(ctx, &wg, pipelineErr)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	select {
	case <-ctx.Done():
		sugar.Info("Pipeline Run: Context cancelled. Waiting for components to finish...")
	case err := <-pipelineErr:
		sugar.Errorw("Pipeline Run: Received error from a component, initiating shutdown...", zap.Error(err))
		firstErr = err
		cancel()
	case <-done:
		select {
		case firstErr = <-pipelineErr:
		default:
		}
	}

	<-done
	sugar.Info("Pipeline Run: All components finished.")
	return firstErr
}

func (p *Pipeline) runConsumer(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()
	defer close(p.rawMessages)

	if err := p.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Consumer component exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrConsumerRunFailed, err)
	}
}

// runParser turns raw payloads into samples. Undecodable payloads are dropped.
func (p *Pipeline) runParser(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(p.samples)

	parserLogger := p.logger.Named("parser")
	for {
		select {
		case raw, ok := <-p.rawMessages:
			if !ok {
				parserLogger.Debug("Parser finished (raw message channel closed).")
				return
			}

			s, err := message.ParseSample(raw)
			if err != nil {
				samplesDropped.WithLabelValues(dropParseError).Inc()
				parserLogger.Warn("Failed to parse message, skipping",
					zap.ByteString("payload", truncate(raw, 256)),
					zap.Error(err),
				)
				continue
			}

			select {
			case p.samples <- s:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) runEvaluator(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()
	defer close(p.results)

	if err := p.evaluator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Evaluator component exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrEvaluatorRunFailed, err)
	}
}

func (p *Pipeline) runAlerter(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()

	if err := p.alerter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Alerter component exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrAlerterRunFailed, err)
	}
}

// Store returns the Redis result store, or nil when Redis is not configured.
func (p *Pipeline) Store() *store.RedisStore {
	return p.store
}

// Close releases resources that outlive Run, such as the result store connection.
func (p *Pipeline) Close() error {
	var errs error
	for _, c := range p.closers {
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
