package message

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// ParseDynamicJSON parses JSON data from a byte slice into a DynamicMessage map.
// It returns ErrJSONUnmarshalFailed (wrapping the original error) if unmarshalling fails.
func ParseDynamicJSON(data []byte) (DynamicMessage, error) {
	var msg DynamicMessage

	err := json.Unmarshal(data, &msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJSONUnmarshalFailed, err)
	}
	return msg, nil
}

// ParseSample decodes one counter sample. The series is taken from "series", or built
// from "metric" and "labels". A null value is a staleness marker and decodes to NaN.
func ParseSample(data []byte) (Sample, error) {
	msg, err := ParseDynamicJSON(data)
	if err != nil {
		return Sample{}, err
	}
	return msg.ToSample()
}

// ToSample converts an already parsed message.
func (dm DynamicMessage) ToSample() (Sample, error) {
	series, ok := dm.GetString("series")
	if !ok {
		metric, ok := dm.GetString("metric")
		if !ok {
			return Sample{}, ErrMissingSeries
		}
		series = SeriesKey(metric, dm.GetLabels("labels"))
	}

	ts, ok := dm.GetTime("timestamp")
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, dm.GetFieldSnippet("timestamp", 40))
	}

	value := math.NaN()
	if dm.HasNonNull("value") {
		v, ok := dm.GetFloat64("value")
		if !ok {
			return Sample{}, fmt.Errorf("%w: %s", ErrInvalidValue, dm.GetFieldSnippet("value", 40))
		}
		value = *v
	} else if _, exists := dm["value"]; !exists {
		return Sample{}, fmt.Errorf("%w: <missing>", ErrInvalidValue)
	}

	return Sample{Series: series, Timestamp: *ts, Value: value}, nil
}
