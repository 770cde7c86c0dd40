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

func geocodeServer(t *testing.T, results map[string][]map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results[q]})
	}))
}

func TestGeocodeFetch(t *testing.T) {
	srv := geocodeServer(t, map[string][]map[string]string{
		"12 Quay Rd": {{"lat": "37.52", "lon": "127.04", "display_name": "12 Quay Rd, Riverside"}},
	})
	defer srv.Close()

	g := NewGeocode(fetcher.New(), srv.URL, "k")
	res, err := g.Fetch(context.Background(), map[string]any{"address": "12 Quay Rd"})
	require.NoError(t, err)

	rows, err := g.Rows(res.Body)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "37.52", rows[0]["lat"])
	assert.Equal(t, "127.04", rows[0]["lon"])
	assert.NotContains(t, res.RequestURL, "key=k", "credential redacted from recorded URL")
}

func TestGeocodeFallbackOnPrimaryMiss(t *testing.T) {
	primary := geocodeServer(t, nil)
	defer primary.Close()
	fallback := geocodeServer(t, map[string][]map[string]string{
		"12 Quay Rd": {{"lat": "37.52", "lon": "127.04"}},
	})
	defer fallback.Close()

	g := NewGeocode(fetcher.New(), primary.URL, "", WithGeocodeFallback(fallback.URL))
	res, err := g.Fetch(context.Background(), map[string]any{"address": "12 Quay Rd"})
	require.NoError(t, err)

	rows, err := g.Rows(res.Body)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "37.52", rows[0]["lat"])
}

func TestGeocodeNoMatchAnywhere(t *testing.T) {
	primary := geocodeServer(t, nil)
	defer primary.Close()

	g := NewGeocode(fetcher.New(), primary.URL, "")
	_, err := g.Fetch(context.Background(), map[string]any{"address": "nowhere"})
	assert.Error(t, err)
}

func TestGeocodeEmptyAddress(t *testing.T) {
	g := NewGeocode(fetcher.New(), "http://unused.test", "")
	_, err := g.Fetch(context.Background(), map[string]any{})
	assert.True(t, resilience.IsMalformedInput(err))
}
