package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultLookback is the query range used when the request gives no "from".
const DefaultLookback = time.Hour

var ErrBadQuery = errors.New("invalid window query")

// RangeReader reads stored windows for one series.
type RangeReader interface {
	Range(ctx context.Context, series string, from, to time.Time) ([]Record, error)
}

// QueryHandler serves stored windows as JSON:
//
//	GET ?series=jobs_total&from=2024-01-02T15:00:00Z&to=2024-01-02T16:00:00Z
//
// "to" defaults to now and "from" to DefaultLookback before "to". Both accept any layout
// dateparse understands.
type QueryHandler struct {
	reader RangeReader
	now    func() time.Time
	logger *zap.Logger
}

func NewQueryHandler(reader RangeReader, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{reader: reader, now: time.Now, logger: logger}
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	series, from, to, err := h.parseQuery(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.reader.Range(req.Context(), series, from, to)
	if err != nil {
		h.logger.Error("Failed to read stored windows", zap.String("series", series), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		h.logger.Warn("Failed to write window query response", zap.Error(err))
	}
}

func (h *QueryHandler) parseQuery(req *http.Request) (series string, from, to time.Time, err error) {
	q := req.URL.Query()
	series = q.Get("series")
	if series == "" {
		return "", time.Time{}, time.Time{}, fmt.Errorf("%w: series is required", ErrBadQuery)
	}

	to = h.now()
	if v := q.Get("to"); v != "" {
		if to, err = dateparse.ParseStrict(v); err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("%w: to: %w", ErrBadQuery, err)
		}
	}
	from = to.Add(-DefaultLookback)
	if v := q.Get("from"); v != "" {
		if from, err = dateparse.ParseStrict(v); err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("%w: from: %w", ErrBadQuery, err)
		}
	}
	if from.After(to) {
		return "", time.Time{}, time.Time{}, fmt.Errorf("%w: from is after to", ErrBadQuery)
	}
	return series, from, to, nil
}
