package providers

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/sony/gobreaker"

	"github.com/i474232898/station-dashboard/internal/weather"
)

const (
	aviationWeatherURL = "https://aviationweather.gov"
	metarJSONPath      = "/api/data/metar"
	metarXMLPath       = "/cgi-bin/data/dataserver.php"
	kmPerMile          = 1.609344
)

// MetarConfig configures the METAR provider.
type MetarConfig struct {
	BaseURL     string
	DefaultICAO string
	RadiusKm    float64
}

// MetarProvider finds the nearest METAR report through a fallback chain:
// bounding-box JSON query, radial XML query, then a fixed airport.
type MetarProvider struct {
	baseURL     string
	defaultICAO string
	radiusKm    float64

	jsonCfg  HTTPClientConfig
	plainCfg HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

func NewMetarProvider(client *http.Client, cfg MetarConfig) *MetarProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = aviationWeatherURL
	}
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = 80
	}
	return &MetarProvider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		defaultICAO: strings.ToUpper(cfg.DefaultICAO),
		radiusKm:    cfg.RadiusKm,
		jsonCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      2,
				InitialInterval: 250 * time.Millisecond,
				MaxInterval:     1 * time.Second,
			},
			Timeouts:  []time.Duration{3 * time.Second, 5 * time.Second, 8 * time.Second},
			Retryable: IsTransient,
		},
		plainCfg: HTTPClientConfig{
			Client:   client,
			Timeouts: []time.Duration{5 * time.Second},
		},
		circuit: newBreaker("aviationweather"),
	}
}

type metarCandidate struct {
	Station    string
	Name       string
	Lat, Lon   float64
	Raw        string
	ObservedAt time.Time
}

// Nearest returns the closest METAR to coords. Stage failures are only
// reported when every stage failed.
func (p *MetarProvider) Nearest(ctx context.Context, coords weather.Coordinates) (weather.Metar, error) {
	stages := []struct {
		name string
		run  func(context.Context, weather.Coordinates) ([]metarCandidate, error)
	}{
		{"bbox", p.byBoundingBox},
		{"radial", p.byRadius},
		{"default", p.byDefaultStation},
	}

	var errs []error
	for _, s := range stages {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		list, err := s.run(ctx, coords)
		if err == nil && len(list) == 0 {
			err = weather.ErrNoData
		}
		if err != nil {
			errs = append(errs, &FetchError{Family: "metar", Stage: s.name, Err: err})
			continue
		}
		return nearestMetar(coords, list, s.name), nil
	}
	return weather.Metar{}, errors.Join(errs...)
}

func nearestMetar(coords weather.Coordinates, list []metarCandidate, source string) weather.Metar {
	var (
		best  metarCandidate
		bestD = -1.0
	)
	for _, c := range list {
		d := weather.Distance(coords.Lat, coords.Lon, c.Lat, c.Lon)
		if bestD < 0 || d < bestD {
			best, bestD = c, d
		}
	}
	return weather.Metar{
		Station:    best.Station,
		Name:       best.Name,
		Lat:        best.Lat,
		Lon:        best.Lon,
		DistanceKm: bestD,
		Source:     source,
		Raw:        best.Raw,
		ObservedAt: best.ObservedAt,
		Decoded:    DecodeMetar(best.Raw),
	}
}

type metarJSON struct {
	IcaoID  string  `json:"icaoId"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RawOb   string  `json:"rawOb"`
	ObsTime int64   `json:"obsTime"`
}

func (p *MetarProvider) queryJSON(ctx context.Context, cfg HTTPClientConfig, values url.Values) ([]metarCandidate, error) {
	values.Set("format", "json")
	u := p.baseURL + metarJSONPath + "?" + values.Encode()

	body, err := fetchBody(ctx, cfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}
	// The API answers 204/empty body when nothing matches.
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var rows []metarJSON
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode metar json: %w", err)
	}
	out := make([]metarCandidate, 0, len(rows))
	for _, r := range rows {
		if r.RawOb == "" {
			continue
		}
		out = append(out, metarCandidate{
			Station:    r.IcaoID,
			Name:       r.Name,
			Lat:        r.Lat,
			Lon:        r.Lon,
			Raw:        r.RawOb,
			ObservedAt: time.Unix(r.ObsTime, 0).UTC(),
		})
	}
	return out, nil
}

func (p *MetarProvider) byBoundingBox(ctx context.Context, coords weather.Coordinates) ([]metarCandidate, error) {
	b := geo.NewBoundAroundPoint(orb.Point{coords.Lon, coords.Lat}, p.radiusKm*1000)
	values := url.Values{}
	values.Set("bbox", strings.Join([]string{
		formatCoord(b.Bottom()), formatCoord(b.Left()),
		formatCoord(b.Top()), formatCoord(b.Right()),
	}, ","))
	return p.queryJSON(ctx, p.jsonCfg, values)
}

func (p *MetarProvider) byDefaultStation(ctx context.Context, _ weather.Coordinates) ([]metarCandidate, error) {
	if p.defaultICAO == "" {
		return nil, errors.New("no default station configured")
	}
	values := url.Values{}
	values.Set("ids", p.defaultICAO)
	return p.queryJSON(ctx, p.plainCfg, values)
}

type metarXMLResponse struct {
	Errors []string `xml:"errors>error"`
	METARs []struct {
		RawText         string  `xml:"raw_text"`
		StationID       string  `xml:"station_id"`
		ObservationTime string  `xml:"observation_time"`
		Latitude        float64 `xml:"latitude"`
		Longitude       float64 `xml:"longitude"`
	} `xml:"data>METAR"`
}

func (p *MetarProvider) byRadius(ctx context.Context, coords weather.Coordinates) ([]metarCandidate, error) {
	values := url.Values{}
	values.Set("dataSource", "metars")
	values.Set("requestType", "retrieve")
	values.Set("format", "xml")
	values.Set("hoursBeforeNow", "3")
	values.Set("mostRecentForEachStation", "constraint")
	values.Set("radialDistance", fmt.Sprintf("%s;%s,%s",
		strconv.FormatFloat(p.radiusKm/kmPerMile, 'f', 0, 64),
		formatCoord(coords.Lon), formatCoord(coords.Lat)))
	u := p.baseURL + metarXMLPath + "?" + values.Encode()

	body, err := fetchBody(ctx, p.plainCfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}

	var resp metarXMLResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode metar xml: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("metar xml: %s", strings.Join(resp.Errors, "; "))
	}

	out := make([]metarCandidate, 0, len(resp.METARs))
	for _, m := range resp.METARs {
		if m.RawText == "" {
			continue
		}
		obs, _ := time.Parse(time.RFC3339, m.ObservationTime)
		out = append(out, metarCandidate{
			Station:    m.StationID,
			Lat:        m.Latitude,
			Lon:        m.Longitude,
			Raw:        m.RawText,
			ObservedAt: obs,
		})
	}
	return out, nil
}
