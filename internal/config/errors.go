package config

import "errors"

var (
	ErrReadingConfigFile      = errors.New("failed to read config file")
	ErrUnmarshallingConfig    = errors.New("failed to unmarshal config")
	ErrEmptyKafkaBrokers      = errors.New("kafka brokers list cannot be empty")
	ErrEmptyKafkaTopic        = errors.New("kafka topic cannot be empty")
	ErrEmptyKafkaGroupID      = errors.New("kafka groupID cannot be empty")
	ErrInvalidEvaluationSpan  = errors.New("evaluation span must be positive")
	ErrInvalidEvaluationStep  = errors.New("evaluation step must be positive")
	ErrInvalidEvaluationRange = errors.New("evaluation range must be positive")
	ErrRangeExceedsSpan       = errors.New("evaluation range cannot exceed span")
	ErrSpanNotStepMultiple    = errors.New("evaluation span must be a multiple of step")
	ErrTooManyWindows         = errors.New("evaluation span holds too many windows")
	ErrNegativeLateness       = errors.New("evaluation allowedLateness cannot be negative")
	ErrInvalidOutputBuffer    = errors.New("evaluation outputBuffer cannot be negative")
	ErrEmptySeriesName        = errors.New("series name cannot be empty")
	ErrDuplicateSeries        = errors.New("series configured more than once")
	ErrInvalidThresholds      = errors.New("increaseMin cannot exceed increaseMax")
	ErrConfigFileMissing      = errors.New("config file not found")
)
