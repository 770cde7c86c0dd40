package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseline-env/casefill/internal/fetcher"
	"github.com/baseline-env/casefill/internal/resilience"
)

func TestStatsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DT_1YL20631", r.URL.Query().Get("tblId"))
		assert.Equal(t, "pop_total", r.URL.Query().Get("itmId"))
		json.NewEncoder(w).Encode([]map[string]string{
			{"PRD_DE": "2019", "DT": "9720"},
			{"PRD_DE": "2020", "DT": "9660"},
		})
	}))
	defer srv.Close()

	s := NewStats(fetcher.New(), srv.URL, "secret")
	res, err := s.Fetch(context.Background(), map[string]any{
		"dataset": "DT_1YL20631",
		"item":    "pop_total",
	})
	require.NoError(t, err)

	rows, err := s.Rows(res.Body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2019", rows[0]["year"])
	assert.Equal(t, "9720", rows[0]["pop_total"], "value lands in a column named after the item")
	assert.NotContains(t, res.RequestURL, "secret", "api key redacted")
}

func TestStatsEmptySeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{})
	}))
	defer srv.Close()

	s := NewStats(fetcher.New(), srv.URL, "")
	_, err := s.Fetch(context.Background(), map[string]any{"dataset": "X", "item": "y"})
	assert.Error(t, err)
}

func TestStatsMissingParams(t *testing.T) {
	s := NewStats(fetcher.New(), "http://unused.test", "")
	_, err := s.Fetch(context.Background(), map[string]any{"dataset": "X"})
	assert.True(t, resilience.IsMalformedInput(err))
}
