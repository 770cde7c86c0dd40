package connector

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baseline-env/casefill/internal/fetcher"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/resilience"
)

// TypeGeocode resolves a site address to coordinates.
const TypeGeocode = "geocode"

const geocodeRecipe = "geocode/v1"

// Geocode is the address-to-coordinates connector. It queries the primary
// provider and, when configured, falls back to a secondary provider on an
// empty match set.
type Geocode struct {
	fetcher         *fetcher.Fetcher
	baseURL         string
	fallbackBaseURL string
	apiKey          string
}

// GeocodeOption configures the geocode connector.
type GeocodeOption func(*Geocode)

// WithGeocodeFallback sets the secondary provider tried on a primary miss.
func WithGeocodeFallback(baseURL string) GeocodeOption {
	return func(g *Geocode) { g.fallbackBaseURL = baseURL }
}

// NewGeocode builds the geocode connector.
func NewGeocode(f *fetcher.Fetcher, baseURL, apiKey string, opts ...GeocodeOption) *Geocode {
	g := &Geocode{fetcher: f, baseURL: baseURL, apiKey: apiKey}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Geocode) Type() string   { return TypeGeocode }
func (g *Geocode) Recipe() string { return geocodeRecipe }
func (g *Geocode) Local() bool    { return false }

// geocodeResponse is the provider wire format.
type geocodeResponse struct {
	Results []struct {
		Lat     string `json:"lat"`
		Lon     string `json:"lon"`
		Display string `json:"display_name"`
	} `json:"results"`
}

func (g *Geocode) Fetch(ctx context.Context, params map[string]any) (*Result, error) {
	address := paramString(params, "address")
	if address == "" {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("geocode: empty address"),
		}
	}

	rows, reqURL, err := g.query(ctx, g.baseURL, address)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 && g.fallbackBaseURL != "" {
		zap.L().Info("geocode primary miss, trying fallback",
			zap.String("address", address))
		rows, reqURL, err = g.query(ctx, g.fallbackBaseURL, address)
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("geocode: no match for %q", address)
	}

	body, err := encodeEnvelope(TypeGeocode, geocodeRecipe, reqURL, rows[:1])
	if err != nil {
		return nil, err
	}
	return &Result{
		Body:       body,
		Ext:        "json",
		RequestURL: RedactURL(reqURL),
		Origin:     model.OriginNetwork,
	}, nil
}

func (g *Geocode) Rows(artifact []byte) ([]model.Row, error) {
	return decodeEnvelope(artifact)
}

func (g *Geocode) query(ctx context.Context, baseURL, address string) ([]model.Row, string, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	reqURL := baseURL + "?" + q.Encode()

	res, err := g.fetcher.Fetch(ctx, reqURL)
	if err != nil {
		return nil, reqURL, err
	}

	var resp geocodeResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		// Some providers return a bare array.
		if aerr := json.Unmarshal(res.Body, &resp.Results); aerr != nil {
			return nil, reqURL, eris.Wrap(err, "geocode: decode response")
		}
	}

	rows := make([]model.Row, 0, len(resp.Results))
	for _, r := range resp.Results {
		rows = append(rows, model.Row{
			"lat":             r.Lat,
			"lon":             r.Lon,
			"matched_address": r.Display,
		})
	}
	return rows, reqURL, nil
}
