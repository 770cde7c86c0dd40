package connector

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/baseline-env/casefill/internal/fetcher"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/resilience"
)

// TypeStats pulls one statistical indicator series from the tabular
// statistics service, keyed by year.
const TypeStats = "stats"

const statsRecipe = "stats/v1"

// Stats is the statistics-service connector. A fanned-out rule issues one
// request per indicator; each result lands as a year-keyed column named after
// the indicator, ready for the merge join.
type Stats struct {
	fetcher *fetcher.Fetcher
	baseURL string
	apiKey  string
}

// NewStats builds the statistics connector.
func NewStats(f *fetcher.Fetcher, baseURL, apiKey string) *Stats {
	return &Stats{fetcher: f, baseURL: baseURL, apiKey: apiKey}
}

func (s *Stats) Type() string   { return TypeStats }
func (s *Stats) Recipe() string { return statsRecipe }
func (s *Stats) Local() bool    { return false }

// statsItem is one observation in the service's wire format.
type statsItem struct {
	Period string `json:"PRD_DE"`
	Value  string `json:"DT"`
}

func (s *Stats) Fetch(ctx context.Context, params map[string]any) (*Result, error) {
	dataset := paramString(params, "dataset")
	item := paramString(params, "item")
	if dataset == "" || item == "" {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("stats: dataset and item are required"),
		}
	}

	q := url.Values{}
	q.Set("tblId", dataset)
	q.Set("itmId", item)
	if v := paramString(params, "admin_code"); v != "" {
		q.Set("objL1", v)
	}
	if v := paramString(params, "year_from"); v != "" {
		q.Set("startPrdDe", v)
	}
	if v := paramString(params, "year_to"); v != "" {
		q.Set("endPrdDe", v)
	}
	q.Set("apiKey", s.apiKey)
	reqURL := s.baseURL + "?" + q.Encode()

	res, err := s.fetcher.Fetch(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var items []statsItem
	if err := json.Unmarshal(res.Body, &items); err != nil {
		return nil, eris.Wrap(err, "stats: decode response")
	}
	if len(items) == 0 {
		return nil, eris.Errorf("stats: empty series for %s/%s", dataset, item)
	}

	rows := make([]model.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, model.Row{
			"year": it.Period,
			item:   it.Value,
		})
	}

	body, err := encodeEnvelope(TypeStats, statsRecipe, reqURL, rows)
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

func (s *Stats) Rows(artifact []byte) ([]model.Row, error) {
	return decodeEnvelope(artifact)
}
