package message

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Sample is one decoded counter reading with the series it belongs to.
type Sample struct {
	Series    string
	Timestamp time.Time
	Value     float64
}

// DynamicMessage represents a message with arbitrary key-value pairs,
// typically parsed from JSON.
type DynamicMessage map[string]interface{}

// GetFloat64 retrieves a float64 value for a given key.
// Handles missing keys, null values, and potential integer-to-float conversion.
// Returns the value pointer and true if successful, otherwise (nil, false).
func (dm DynamicMessage) GetFloat64(key string) (*float64, bool) {
	val, exists := dm[key]
	if !exists || val == nil {
		return nil, false
	}

	switch v := val.(type) {
	case float64:
		return &v, true
	case int:
		fVal := float64(v)
		return &fVal, true
	case int64:
		fVal := float64(v)
		return &fVal, true
	case float32:
		fVal := float64(v)
		return &fVal, true
	case string:
		// exposition formats spell special values as strings
		switch strings.ToLower(v) {
		case "nan":
			fVal := math.NaN()
			return &fVal, true
		case "+inf", "inf":
			fVal := math.Inf(1)
			return &fVal, true
		}
	}

	return nil, false
}

// HasNonNull checks if a key exists and its value is not explicitly null.
func (dm DynamicMessage) HasNonNull(key string) bool {
	val, exists := dm[key]
	return exists && val != nil
}

// GetString returns a non-empty string value for key.
func (dm DynamicMessage) GetString(key string) (string, bool) {
	s, ok := dm[key].(string)
	return s, ok && s != ""
}

// GetTime reads a timestamp either as a date string in any common layout or as a
// number of milliseconds since the Unix epoch.
func (dm DynamicMessage) GetTime(key string) (*time.Time, bool) {
	val, exists := dm[key]
	if !exists || val == nil {
		return nil, false
	}

	switch v := val.(type) {
	case string:
		t, err := dateparse.ParseStrict(v)
		if err != nil {
			return nil, false
		}
		return &t, true
	case float64:
		t := time.UnixMilli(int64(v)).UTC()
		return &t, true
	case int64:
		t := time.UnixMilli(v).UTC()
		return &t, true
	}
	return nil, false
}

// GetLabels returns the string-valued entries of a nested object.
func (dm DynamicMessage) GetLabels(key string) map[string]string {
	raw, ok := dm[key].(map[string]interface{})
	if !ok {
		return nil
	}
	labels := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			labels[k] = s
		}
	}
	return labels
}

// GetFieldSnippet returns a string snippet of a field's value, useful for logging.
// It handles missing keys and truncates long values.
func (dm DynamicMessage) GetFieldSnippet(fieldName string, maxLength int) string {
	value, exists := dm[fieldName]
	if !exists {
		return "<missing>"
	}

	strValue := fmt.Sprintf("%v", value)
	if maxLength <= 0 {
		return "..."
	}
	if len(strValue) > maxLength {
		return strValue[:maxLength] + "..."
	}
	return strValue
}

// SeriesKey renders a metric name and its labels the way Prometheus prints a series,
// with labels sorted by name: `http_requests_total{code="200",method="GET"}`.
func SeriesKey(metric string, labels map[string]string) string {
	if len(labels) == 0 {
		return metric
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(metric)
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", name, labels[name])
	}
	b.WriteByte('}')
	return b.String()
}
