package pipeline

import "errors"

var (
	ErrInvalidKafkaConfig     = errors.New("invalid Kafka configuration provided")
	ErrKafkaFetchFailed       = errors.New("failed to fetch message from Kafka")
	ErrKafkaCommitFailed      = errors.New("failed to commit Kafka offsets")
	ErrConsumerCreationFailed = errors.New("failed to create consumer")
	ErrStoreCreationFailed    = errors.New("failed to create result store")
	ErrConsumerRunFailed      = errors.New("consumer component failed")
	ErrEvaluatorRunFailed     = errors.New("evaluator component failed")
	ErrAlerterRunFailed       = errors.New("alerter component failed")
)
