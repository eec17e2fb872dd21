package store

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingReader struct{}

func (failingReader) Range(context.Context, string, time.Time, time.Time) ([]Record, error) {
	return nil, errors.New("connection reset")
}

func query(t *testing.T, h http.Handler, method string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/windows?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQueryHandler(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t, 0)
	require.NoError(t, s.Save(ctx,
		window("jobs_total", 0, ptr(12), "ok"),
		window("jobs_total", 1, nil, "single_sample"),
		window("jobs_total", 2, ptr(7.5), "ok"),
	))
	h := NewQueryHandler(s, zap.NewNop())
	h.now = func() time.Time { return base.Add(25 * time.Minute) }

	t.Run("explicit range", func(t *testing.T) {
		rec := query(t, h, http.MethodGet, url.Values{
			"series": {"jobs_total"},
			"from":   {"2000-01-02T15:15:00Z"},
			"to":     {"2000-01-02T15:30:00Z"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got []Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Nil(t, got[0].Value)
		assert.Equal(t, ptr(7.5), got[1].Value)
		assert.True(t, got[1].End.Equal(base.Add(30*time.Minute)))
	})

	t.Run("defaults to the last hour", func(t *testing.T) {
		rec := query(t, h, http.MethodGet, url.Values{"series": {"jobs_total"}})
		require.Equal(t, http.StatusOK, rec.Code)

		var got []Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, ptr(12), got[0].Value)
	})

	t.Run("unknown series is an empty list", func(t *testing.T) {
		rec := query(t, h, http.MethodGet, url.Values{"series": {"missing_total"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("bad requests", func(t *testing.T) {
		tests := []struct {
			name   string
			params url.Values
		}{
			{"missing series", url.Values{}},
			{"unparseable from", url.Values{"series": {"jobs_total"}, "from": {"yesterday-ish"}}},
			{"unparseable to", url.Values{"series": {"jobs_total"}, "to": {"not a time"}}},
			{"inverted range", url.Values{
				"series": {"jobs_total"},
				"from":   {"2000-01-02T16:00:00Z"},
				"to":     {"2000-01-02T15:00:00Z"},
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := query(t, h, http.MethodGet, tt.params)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("only GET is allowed", func(t *testing.T) {
		rec := query(t, h, http.MethodPost, url.Values{"series": {"jobs_total"}})
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
	})

	t.Run("store failure", func(t *testing.T) {
		rec := query(t, NewQueryHandler(failingReader{}, zap.NewNop()), http.MethodGet, url.Values{"series": {"jobs_total"}})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
