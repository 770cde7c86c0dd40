package connector

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/baseline-env/casefill/internal/config"
	"github.com/baseline-env/casefill/internal/fetcher"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/resilience"
)

// TypeWMS renders a map overlay image around the site from a WMS layer.
const TypeWMS = "wms"

const wmsRecipe = "wms/v1"

// Default GetMap image size in pixels.
const wmsImageSize = 1024

// WMS is the map-overlay connector. The request is built from the site
// coordinate and a radius: the bounding box is computed in web mercator so a
// metric radius maps directly onto projection units.
type WMS struct {
	fetcher *fetcher.Fetcher
	layers  map[string]config.WMSLayer
	getenv  func(string) string
}

// NewWMS builds the map-overlay connector.
func NewWMS(f *fetcher.Fetcher, layers map[string]config.WMSLayer) *WMS {
	return &WMS{fetcher: f, layers: layers, getenv: os.Getenv}
}

func (w *WMS) Type() string   { return TypeWMS }
func (w *WMS) Recipe() string { return wmsRecipe }
func (w *WMS) Local() bool    { return false }

func (w *WMS) Fetch(ctx context.Context, params map[string]any) (*Result, error) {
	layerKey := paramString(params, "layer")
	layer, ok := w.layers[layerKey]
	if !ok {
		return nil, &resilience.MalformedInputError{
			Err: eris.Errorf("wms: unknown layer %q", layerKey),
		}
	}

	lat, okLat := paramFloat(params, "lat")
	lon, okLon := paramFloat(params, "lon")
	if !okLat || !okLon {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("wms: lat and lon are required"),
		}
	}
	radius, ok := paramFloat(params, "radius_m")
	if !ok || radius <= 0 {
		radius = 500
	}

	minX, minY, maxX, maxY := mercatorBBox(lat, lon, radius)

	q := url.Values{}
	q.Set("SERVICE", "WMS")
	q.Set("REQUEST", "GetMap")
	q.Set("VERSION", "1.3.0")
	q.Set("LAYERS", layer.Name)
	q.Set("CRS", "EPSG:3857")
	q.Set("BBOX", fmt.Sprintf("%.2f,%.2f,%.2f,%.2f", minX, minY, maxX, maxY))
	q.Set("WIDTH", fmt.Sprint(wmsImageSize))
	q.Set("HEIGHT", fmt.Sprint(wmsImageSize))
	q.Set("FORMAT", "image/png")
	q.Set("TRANSPARENT", "true")
	if layer.Credential != "" {
		q.Set("key", w.getenv(layer.Credential))
	}
	reqURL := layer.URL + "?" + q.Encode()

	res, err := w.fetcher.Fetch(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	// Misconfigured layers and expired keys often come back 200 with an HTML
	// or XML error page instead of image bytes.
	if looksLikeMarkup(res.Body, res.ContentType) {
		return nil, eris.Errorf(
			"wms: layer %s returned markup instead of an image (check layer name and credential)",
			layerKey)
	}

	return &Result{
		Body:       res.Body,
		Ext:        "png",
		RequestURL: RedactURL(reqURL),
		Origin:     model.OriginNetwork,
	}, nil
}

// Rows is nil for raster artifacts.
func (w *WMS) Rows(artifact []byte) ([]model.Row, error) {
	return nil, nil
}

const earthRadiusM = 6378137.0

// mercatorBBox converts a WGS84 center plus metric radius into an EPSG:3857
// bounding box.
func mercatorBBox(lat, lon, radiusM float64) (minX, minY, maxX, maxY float64) {
	x := earthRadiusM * lon * math.Pi / 180
	y := earthRadiusM * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x - radiusM, y - radiusM, x + radiusM, y + radiusM
}

func looksLikeMarkup(body []byte, contentType string) bool {
	if strings.Contains(contentType, "html") || strings.Contains(contentType, "xml") {
		return true
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '<'
}
