package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/sony/gobreaker"

	"github.com/i474232898/station-dashboard/internal/weather"
)

const (
	openMeteoMarineURL = "https://marine-api.open-meteo.com/v1/marine"
	marineTimeout      = 6 * time.Second
)

// Rings of candidate sea points around the station, in metres. Inland grid
// cells come back with a null temperature and are discarded.
var marineRings = []float64{0, 10_000, 25_000, 50_000}

const marineBearings = 8

// MarineProvider finds the nearest sea-surface temperature.
type MarineProvider struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewMarineProvider(client *http.Client, baseURL string) *MarineProvider {
	if baseURL == "" {
		baseURL = openMeteoMarineURL
	}
	return &MarineProvider{
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client:   client,
			Timeouts: []time.Duration{marineTimeout},
		},
		circuit: newBreaker("openmeteo-marine"),
	}
}

type marineLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Current   struct {
		Time           string   `json:"time"`
		SeaSurfaceTemp *float64 `json:"sea_surface_temperature"`
	} `json:"current"`
}

// candidates returns the ring points around coords as orb points (lon, lat).
func candidates(coords weather.Coordinates) []orb.Point {
	center := orb.Point{coords.Lon, coords.Lat}
	points := []orb.Point{center}
	for _, r := range marineRings[1:] {
		for i := 0; i < marineBearings; i++ {
			bearing := float64(i) * 360 / marineBearings
			points = append(points, geo.PointAtBearingAndDistance(center, bearing, r))
		}
	}
	return points
}

// SeaTemperature queries every candidate in one request and keeps the
// closest one with a value.
func (p *MarineProvider) SeaTemperature(ctx context.Context, coords weather.Coordinates) (weather.SeaTemperature, error) {
	points := candidates(coords)

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		lats := make([]string, len(points))
		lons := make([]string, len(points))
		for i, pt := range points {
			lats[i] = formatCoord(pt.Lat())
			lons[i] = formatCoord(pt.Lon())
		}
		values := url.Values{}
		values.Set("latitude", strings.Join(lats, ","))
		values.Set("longitude", strings.Join(lons, ","))
		values.Set("current", "sea_surface_temperature")
		values.Set("timezone", "GMT")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := fetchBody(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.SeaTemperature{}, &FetchError{Family: "sea_temp", Err: err}
	}

	locs, err := decodeMarine(body)
	if err != nil {
		return weather.SeaTemperature{}, &FetchError{Family: "sea_temp", Stage: "decode", Err: err}
	}

	return nearestSea(coords, locs)
}

// decodeMarine accepts both the single-location object and the
// multi-location array forms.
func decodeMarine(body []byte) ([]marineLocation, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var locs []marineLocation
		err := json.Unmarshal(trimmed, &locs)
		return locs, err
	}
	var one marineLocation
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return []marineLocation{one}, nil
}

func nearestSea(coords weather.Coordinates, locs []marineLocation) (weather.SeaTemperature, error) {
	var (
		best  weather.SeaTemperature
		found bool
	)
	for _, l := range locs {
		if l.Current.SeaSurfaceTemp == nil {
			continue
		}
		d := weather.Distance(coords.Lat, coords.Lon, l.Latitude, l.Longitude)
		if !found || d < best.DistanceKm {
			v := *l.Current.SeaSurfaceTemp
			best = weather.SeaTemperature{
				ValueC:     &v,
				Lat:        l.Latitude,
				Lon:        l.Longitude,
				DistanceKm: d,
				ObservedAt: l.Current.Time,
			}
			found = true
		}
	}
	if !found {
		return weather.SeaTemperature{}, weather.ErrNoData
	}
	return best, nil
}
