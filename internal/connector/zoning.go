package connector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/resilience"
)

// TypeZoning aggregates parcel records into a zoning area breakdown.
const TypeZoning = "zoning"

const zoningRecipe = "zoning/v1"

// Zoning is a local connector: it computes the per-zone area breakdown from
// the case's parcel rows, or from a projected parcel shapefile when the rows
// carry no areas.
type Zoning struct{}

// NewZoning builds the zoning-breakdown connector.
func NewZoning() *Zoning { return &Zoning{} }

func (z *Zoning) Type() string   { return TypeZoning }
func (z *Zoning) Recipe() string { return zoningRecipe }
func (z *Zoning) Local() bool    { return true }

func (z *Zoning) Fetch(ctx context.Context, params map[string]any) (*Result, error) {
	areas, err := z.collect(params)
	if err != nil {
		return nil, err
	}

	total := 0.0
	for _, a := range areas {
		total += a
	}
	if total <= 0 {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("zoning: total parcel area is zero"),
		}
	}

	zones := make([]string, 0, len(areas))
	for zone := range areas {
		zones = append(zones, zone)
	}
	// Largest zone first; name breaks ties so output is deterministic.
	sort.Slice(zones, func(i, j int) bool {
		if areas[zones[i]] != areas[zones[j]] {
			return areas[zones[i]] > areas[zones[j]]
		}
		return zones[i] < zones[j]
	})

	rows := make([]model.Row, 0, len(zones))
	for _, zone := range zones {
		rows = append(rows, model.Row{
			"zoning":  zone,
			"area_m2": math.Round(areas[zone]*100) / 100,
			"ratio":   math.Round(areas[zone]/total*10000) / 10000,
		})
	}

	body, err := encodeEnvelope(TypeZoning, zoningRecipe, "", rows)
	if err != nil {
		return nil, err
	}
	return &Result{
		Body:   body,
		Ext:    "json",
		Origin: model.OriginComputed,
	}, nil
}

func (z *Zoning) Rows(artifact []byte) ([]model.Row, error) {
	return decodeEnvelope(artifact)
}

func (z *Zoning) collect(params map[string]any) (map[string]float64, error) {
	if path := paramString(params, "shapefile"); path != "" {
		return zoningFromShapefile(path, paramString(params, "zoning_attr"))
	}

	parcels, ok := params["parcels"]
	if !ok {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("zoning: parcels or shapefile is required"),
		}
	}
	rows, err := asRows(parcels)
	if err != nil {
		return nil, &resilience.MalformedInputError{Err: err}
	}

	areas := make(map[string]float64)
	for i, row := range rows {
		zone := strings.TrimSpace(paramString(row, "zoning"))
		if zone == "" {
			zone = "unclassified"
		}
		area, ok := paramFloat(row, "area_m2")
		if !ok || area < 0 {
			return nil, &resilience.MalformedInputError{
				Err: eris.Errorf("zoning: parcel row %d has no usable area_m2", i),
			}
		}
		areas[zone] += area
	}
	if len(areas) == 0 {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("zoning: no parcel rows"),
		}
	}
	return areas, nil
}

// zoningFromShapefile sums polygon areas per zoning attribute. The shapefile
// must already be in a metric projection; geometry area is taken as m2.
func zoningFromShapefile(path, zoningAttr string) (map[string]float64, error) {
	if zoningAttr == "" {
		zoningAttr = "zoning"
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, &resilience.MalformedInputError{
			Err: eris.Wrapf(err, "zoning: open shapefile %s", path),
		}
	}
	defer r.Close()

	attrIdx := -1
	for i, f := range r.Fields() {
		if strings.EqualFold(strings.TrimRight(string(f.Name[:]), "\x00"), zoningAttr) {
			attrIdx = i
			break
		}
	}
	if attrIdx < 0 {
		return nil, &resilience.MalformedInputError{
			Err: eris.Errorf("zoning: shapefile has no attribute %q", zoningAttr),
		}
	}

	areas := make(map[string]float64)
	for r.Next() {
		n, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}
		zone := strings.TrimSpace(r.ReadAttribute(n, attrIdx))
		if zone == "" {
			zone = "unclassified"
		}
		areas[zone] += polygonArea(poly)
	}
	if err := r.Err(); err != nil {
		return nil, eris.Wrap(err, "zoning: read shapefile")
	}
	if len(areas) == 0 {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("zoning: shapefile has no polygons"),
		}
	}
	return areas, nil
}

// polygonArea computes the planar area of a shapefile polygon. Rings wind
// clockwise for outer boundaries and counter-clockwise for holes, so summing
// signed ring areas nets holes out.
func polygonArea(p *shp.Polygon) float64 {
	total := 0.0
	for i, start := range p.Parts {
		end := len(p.Points)
		if i+1 < len(p.Parts) {
			end = int(p.Parts[i+1])
		}
		pts := p.Points[int(start):end]
		coords := make([]geom.Coord, len(pts))
		for j, pt := range pts {
			coords[j] = geom.Coord{pt.X, pt.Y}
		}
		ring, err := geom.NewLinearRing(geom.XY).SetCoords(coords)
		if err != nil {
			continue
		}
		total += math.Abs(ring.Area())
	}
	return total
}

func asRows(v any) ([]model.Row, error) {
	switch t := v.(type) {
	case []model.Row:
		return t, nil
	case []any:
		out := make([]model.Row, 0, len(t))
		for _, e := range t {
			switch m := e.(type) {
			case model.Row:
				out = append(out, m)
			case map[string]any:
				out = append(out, model.Row(m))
			default:
				return nil, fmt.Errorf("zoning: parcel entry %T is not a row", e)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("zoning: parcels %T is not a row list", v)
	}
}
