package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sanspareilsmyn/counterlens/internal/config"
)

var ErrNoOutputs = errors.New("no logging outputs configured (neither console nor file enabled)")

// NewLogger builds a zap logger from cfg. Console format writes colored lines to
// stdout, errors and above to stderr; file logging writes JSON lines to a file rotated
// by lumberjack. Both may be enabled at once.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARN: %v, defaulting to INFO level\n", err)
	}

	isConsole := strings.EqualFold(cfg.Format, "console")

	var cores []zapcore.Core
	if isConsole {
		cores = append(cores, consoleCores(level)...)
	}
	if cfg.FileLoggingEnabled {
		core, err := fileCore(cfg, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}
	if len(cores) == 0 {
		return nil, ErrNoOutputs
	}

	opts := []zap.Option{zap.AddCaller()}
	development := isConsole || level == zapcore.DebugLevel
	if development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), opts...)
	logger.Debug("Zap logger constructed",
		zap.Stringer("level", level),
		zap.String("format", cfg.Format),
		zap.Bool("file_logging_enabled", cfg.FileLoggingEnabled),
		zap.String("file_path", filepath.Join(cfg.Directory, cfg.Filename)),
		zap.Bool("development_mode", development),
	)
	return logger, nil
}

// consoleCores splits output by severity: below error to stdout, the rest to stderr.
func consoleCores(level zapcore.Level) []zapcore.Core {
	encoder := buildEncoder(true)
	info := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= level && lvl < zapcore.ErrorLevel
	})
	errs := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= level && lvl >= zapcore.ErrorLevel
	})
	return []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), info),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), errs),
	}
}

func fileCore(cfg config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory '%s': %w", cfg.Directory, err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, cfg.Filename),
		MaxSize:    cfg.MaxSize,    // megabytes
		MaxBackups: cfg.MaxBackups, // files
		MaxAge:     cfg.MaxAge,     // days
		Compress:   cfg.Compress,
	}
	return zapcore.NewCore(buildEncoder(false), zapcore.AddSync(rotator), level), nil
}

func parseLevel(levelStr string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(levelStr))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level '%s'", levelStr)
	}
	return level, nil
}

func buildEncoder(console bool) zapcore.Encoder {
	if console {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
