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

// TypeWeather pulls annual observations from the station nearest the site.
const TypeWeather = "weather"

const weatherRecipe = "weather/v1"

// Weather is the observation-service connector. It resolves the nearest
// station from the catalog, then requests annual summaries for it.
type Weather struct {
	fetcher *fetcher.Fetcher
	catalog *StationCatalog
	baseURL string
	apiKey  string
}

// NewWeather builds the weather connector.
func NewWeather(f *fetcher.Fetcher, catalog *StationCatalog, baseURL, apiKey string) *Weather {
	return &Weather{fetcher: f, catalog: catalog, baseURL: baseURL, apiKey: apiKey}
}

func (w *Weather) Type() string   { return TypeWeather }
func (w *Weather) Recipe() string { return weatherRecipe }
func (w *Weather) Local() bool    { return false }

// weatherObs is one annual summary in the service's wire format.
type weatherObs struct {
	Year        string `json:"year"`
	PrecipMM    string `json:"precip_mm"`
	PrecipMax1H string `json:"precip_max_1h"`
	PrecipMax1D string `json:"precip_max_1d"`
	TempAvg     string `json:"temp_avg"`
}

func (w *Weather) Fetch(ctx context.Context, params map[string]any) (*Result, error) {
	lat, okLat := paramFloat(params, "lat")
	lon, okLon := paramFloat(params, "lon")
	if !okLat || !okLon {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("weather: lat and lon are required"),
		}
	}

	station, distKm := w.catalog.Nearest(lat, lon)
	zap.L().Debug("nearest station resolved",
		zap.String("station_id", station.ID),
		zap.Float64("distance_km", distKm),
	)

	q := url.Values{}
	q.Set("stn", station.ID)
	if v := paramString(params, "year_from"); v != "" {
		q.Set("startYear", v)
	}
	if v := paramString(params, "year_to"); v != "" {
		q.Set("endYear", v)
	}
	q.Set("authKey", w.apiKey)
	reqURL := w.baseURL + "?" + q.Encode()

	res, err := w.fetcher.Fetch(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var obs []weatherObs
	if err := json.Unmarshal(res.Body, &obs); err != nil {
		return nil, eris.Wrap(err, "weather: decode response")
	}
	if len(obs) == 0 {
		return nil, eris.Errorf("weather: no observations for station %s", station.ID)
	}

	rows := make([]model.Row, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, model.Row{
			"year":          o.Year,
			"precip_mm":     o.PrecipMM,
			"precip_max_1h": o.PrecipMax1H,
			"precip_max_1d": o.PrecipMax1D,
			"temp_avg":      o.TempAvg,
			"station_id":    station.ID,
			"station_name":  station.Name,
		})
	}

	body, err := encodeEnvelope(TypeWeather, weatherRecipe, reqURL, rows)
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

func (w *Weather) Rows(artifact []byte) ([]model.Row, error) {
	return decodeEnvelope(artifact)
}
