package connector

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
)

// Station is one observation station from the catalog.
type Station struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// StationCatalog is an in-memory station list supporting nearest-station
// lookup against a site coordinate.
type StationCatalog struct {
	stations []Station
}

// LoadStationCatalog reads the station catalog CSV. Expected header columns:
// station_id, name, lat, lon.
func LoadStationCatalog(path string) (*StationCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "stations: open catalog")
	}
	defer f.Close()
	return ParseStationCatalog(f)
}

// ParseStationCatalog reads station CSV from a reader.
func ParseStationCatalog(r io.Reader) (*StationCatalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "stations: read header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, need := range []string{"station_id", "name", "lat", "lon"} {
		if _, ok := col[need]; !ok {
			return nil, eris.Errorf("stations: catalog missing column %s", need)
		}
	}

	cat := &StationCatalog{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "stations: read row")
		}
		lat, err := strconv.ParseFloat(rec[col["lat"]], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "stations: bad lat for %s", rec[col["station_id"]])
		}
		lon, err := strconv.ParseFloat(rec[col["lon"]], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "stations: bad lon for %s", rec[col["station_id"]])
		}
		cat.stations = append(cat.stations, Station{
			ID:   rec[col["station_id"]],
			Name: rec[col["name"]],
			Lat:  lat,
			Lon:  lon,
		})
	}
	if len(cat.stations) == 0 {
		return nil, eris.New("stations: empty catalog")
	}
	return cat, nil
}

// Len returns the number of stations in the catalog.
func (c *StationCatalog) Len() int { return len(c.stations) }

// Nearest returns the station closest to the given coordinate and the
// great-circle distance to it in kilometers.
func (c *StationCatalog) Nearest(lat, lon float64) (Station, float64) {
	best := c.stations[0]
	bestDist := haversineKm(lat, lon, best.Lat, best.Lon)
	for _, s := range c.stations[1:] {
		if d := haversineKm(lat, lon, s.Lat, s.Lon); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, bestDist
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
