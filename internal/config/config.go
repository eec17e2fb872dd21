package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/sanspareilsmyn/counterlens/internal/increase"
)

const (
	defaultKafkaGroupID    = "counterlens-default-group"
	defaultEvaluationSpan  = 1 * time.Hour
	defaultEvaluationStep  = 1 * time.Minute
	defaultEvaluationRange = 5 * time.Minute
	defaultOutputBuffer    = 100
	defaultMetricsAddress  = ":9464"
	defaultMetricsPath     = "/metrics"
	defaultRedisKeyPrefix  = "increase"
	defaultRedisTTL        = 24 * time.Hour
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	defaultLogFileEnabled  = false
	defaultLogDirectory    = "log"
	defaultLogFilename     = "counterlens.log"
	defaultLogMaxSizeMB    = 100
	defaultLogMaxBackups   = 3
	defaultLogMaxAgeDays   = 7
	defaultLogCompress     = false

	// Environment variable prefix
	envPrefix = "COUNTERLENS"
)

type Config struct {
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Series     []SeriesConfig   `mapstructure:"series"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"groupID"`
}

// EvaluationConfig describes how samples are cut into spans and windows.
type EvaluationConfig struct {
	Span  time.Duration `mapstructure:"span"`  // length of one engine instance's [lowest, greatest]
	Step  time.Duration `mapstructure:"step"`  // distance between evaluation points
	Range time.Duration `mapstructure:"range"` // width of each window
	// Start aligns the first span. When zero, spans align to multiples of Span.
	Start time.Time `mapstructure:"start"`
	// AllowedLateness keeps a span open this long past its end, in event time, so
	// that slightly late series still land in it.
	AllowedLateness time.Duration `mapstructure:"allowedLateness"`
	OutputBuffer    int           `mapstructure:"outputBuffer"`
}

// SeriesConfig attaches alert thresholds to one counter series. Series without an
// entry are still evaluated, only not checked.
type SeriesConfig struct {
	Name       string     `mapstructure:"name"`
	Thresholds Thresholds `mapstructure:"thresholds"`
}

type Thresholds struct {
	IncreaseMin *float64 `mapstructure:"increaseMin"`
	IncreaseMax *float64 `mapstructure:"increaseMax"`
	RateMax     *float64 `mapstructure:"rateMax"` // per second
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// RedisConfig enables the result store when Address is set.
type RedisConfig struct {
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"keyPrefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	// Retention prunes windows older than this behind the newest saved one. Zero disables.
	Retention time.Duration `mapstructure:"retention"`
}

// Enabled reports whether results should be written to Redis.
func (r RedisConfig) Enabled() bool { return r.Address != "" }

type LogConfig struct {
	Level              string `mapstructure:"level"`
	Format             string `mapstructure:"format"`
	FileLoggingEnabled bool   `mapstructure:"fileLoggingEnabled"`
	Directory          string `mapstructure:"directory"`
	Filename           string `mapstructure:"filename"`
	MaxSize            int    `mapstructure:"maxSize"`    // Max size in MB
	MaxBackups         int    `mapstructure:"maxBackups"` // Max backup files
	MaxAge             int    `mapstructure:"maxAge"`     // Max days to retain
	Compress           bool   `mapstructure:"compress"`   // Compress rotated files?
}

// Load initializes viper, reads config, applies defaults, unmarshals, and validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	configureViper(v, configPath)

	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnmarshallingConfig, err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// decodeHooks extends viper's defaults with RFC 3339 timestamps for evaluation.start.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
	)
}

// configureViper sets up viper instance for file and environment variables.
func configureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults applies default configuration values using Viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.groupID", defaultKafkaGroupID)
	v.SetDefault("evaluation.span", defaultEvaluationSpan)
	v.SetDefault("evaluation.step", defaultEvaluationStep)
	v.SetDefault("evaluation.range", defaultEvaluationRange)
	v.SetDefault("evaluation.outputBuffer", defaultOutputBuffer)
	v.SetDefault("metrics.address", defaultMetricsAddress)
	v.SetDefault("metrics.path", defaultMetricsPath)
	v.SetDefault("redis.keyPrefix", defaultRedisKeyPrefix)
	v.SetDefault("redis.ttl", defaultRedisTTL)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("log.fileLoggingEnabled", defaultLogFileEnabled)
	v.SetDefault("log.directory", defaultLogDirectory)
	v.SetDefault("log.filename", defaultLogFilename)
	v.SetDefault("log.maxSize", defaultLogMaxSizeMB)
	v.SetDefault("log.maxBackups", defaultLogMaxBackups)
	v.SetDefault("log.maxAge", defaultLogMaxAgeDays)
	v.SetDefault("log.compress", defaultLogCompress)
}

// readConfigFile attempts to read the configuration file specified in viper.
func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) || errors.Is(err, fs.ErrNotExist) {
			return ErrConfigFileMissing
		}
		return fmt.Errorf("%w: %w", ErrReadingConfigFile, err)
	}
	return nil
}

// validateConfig reports every problem at once rather than the first one found.
func validateConfig(cfg *Config) error {
	var errs error
	if len(cfg.Kafka.Brokers) == 0 {
		errs = multierr.Append(errs, ErrEmptyKafkaBrokers)
	}
	if cfg.Kafka.Topic == "" {
		errs = multierr.Append(errs, ErrEmptyKafkaTopic)
	}
	if cfg.Kafka.GroupID == "" {
		errs = multierr.Append(errs, ErrEmptyKafkaGroupID)
	}
	errs = multierr.Append(errs, validateEvaluation(cfg.Evaluation))

	seen := make(map[string]struct{}, len(cfg.Series))
	for i, s := range cfg.Series {
		if s.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: series[%d]", ErrEmptySeriesName, i))
			continue
		}
		if _, dup := seen[s.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrDuplicateSeries, s.Name))
		}
		seen[s.Name] = struct{}{}
		t := s.Thresholds
		if t.IncreaseMin != nil && t.IncreaseMax != nil && *t.IncreaseMin > *t.IncreaseMax {
			errs = multierr.Append(errs, fmt.Errorf("%w: series %q", ErrInvalidThresholds, s.Name))
		}
	}
	return errs
}

func validateEvaluation(e EvaluationConfig) error {
	var errs error
	if e.Span <= 0 {
		errs = multierr.Append(errs, ErrInvalidEvaluationSpan)
	}
	if e.Step <= 0 {
		errs = multierr.Append(errs, ErrInvalidEvaluationStep)
	}
	if e.Range <= 0 {
		errs = multierr.Append(errs, ErrInvalidEvaluationRange)
	}
	if e.Span > 0 && e.Range > e.Span {
		errs = multierr.Append(errs, ErrRangeExceedsSpan)
	}
	if e.Span > 0 && e.Step > 0 {
		if e.Span%e.Step != 0 {
			errs = multierr.Append(errs, ErrSpanNotStepMultiple)
		} else if e.Span/e.Step > increase.MaxWindows {
			errs = multierr.Append(errs, fmt.Errorf("%w: %d > %d", ErrTooManyWindows, e.Span/e.Step, increase.MaxWindows))
		}
	}
	if e.AllowedLateness < 0 {
		errs = multierr.Append(errs, ErrNegativeLateness)
	}
	if e.OutputBuffer < 0 {
		errs = multierr.Append(errs, ErrInvalidOutputBuffer)
	}
	return errs
}
