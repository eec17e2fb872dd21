package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sanspareilsmyn/counterlens/internal/config"
	"github.com/sanspareilsmyn/counterlens/internal/logging"
	"github.com/sanspareilsmyn/counterlens/internal/pipeline"
	"github.com/sanspareilsmyn/counterlens/internal/store"
)

const (
	metricsShutdownTimeout = 5 * time.Second
	windowsPath            = "/windows"
)

var (
	configFile = flag.String("config", "configs/config.dev.yaml", "Path to the configuration file")
	logger     *zap.Logger
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration from %s: %v\n", *configFile, err)
		os.Exit(1)
	}

	var logErr error
	logger, logErr = logging.NewLogger(cfg.Log)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logger: %v\n", logErr)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync() // Flush buffered logs on exit
	}()

	sugar := logger.Sugar()
	sugar.Infow("Configuration loaded successfully",
		"path", *configFile,
		"span", cfg.Evaluation.Span,
		"step", cfg.Evaluation.Step,
		"range", cfg.Evaluation.Range,
		"series_with_thresholds", len(cfg.Series),
		"redis_enabled", cfg.Redis.Enabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		sugar.Infow("Received signal, initiating shutdown...", "signal", sig.String())
		cancel()
	}()

	pipe, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("Failed to initialize pipeline", "error", err)
	}
	defer func() {
		if err := pipe.Close(); err != nil {
			sugar.Errorw("Failed to release pipeline resources", zap.Error(err))
		}
	}()

	var queries http.Handler
	if rs := pipe.Store(); rs != nil {
		queries = store.NewQueryHandler(rs, logger.Named("query"))
	}
	metricsServer := serveMetrics(cfg.Metrics, queries, logger.Named("metrics"))

	sugar.Info("Starting counter pipeline...")
	runErr := pipe.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("Metrics server did not shut down cleanly", zap.Error(err))
	}

	finalLogLevel := zapcore.InfoLevel
	shutdownReason := "gracefully"
	finalErrorField := zap.Skip()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		shutdownReason = "due to error"
		finalLogLevel = zapcore.ErrorLevel
		finalErrorField = zap.Error(runErr)
	}
	logger.Log(finalLogLevel, fmt.Sprintf("Pipeline shutdown %s.", shutdownReason),
		zap.String("reason", shutdownReason),
		finalErrorField,
	)
	sugar.Info("CounterLens finished.")
}

// serveMetrics exposes the default Prometheus registry in the background, along with
// stored windows when a query handler is given.
func serveMetrics(cfg config.MetricsConfig, queries http.Handler, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	if queries != nil {
		mux.Handle(windowsPath, queries)
	}
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Serving metrics", zap.String("address", cfg.Address), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
