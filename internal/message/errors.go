package message

import "errors"

var (
	ErrJSONUnmarshalFailed = errors.New("failed to unmarshal JSON message")
	ErrMissingSeries       = errors.New("message has no series or metric name")
	ErrInvalidTimestamp    = errors.New("message timestamp missing or unparsable")
	ErrInvalidValue        = errors.New("message value is not a number")
)
