package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
)

var station = weather.Coordinates{Lat: 43.3, Lon: 5.4}

func TestOpenMeteoForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "43.3000", r.URL.Query().Get("latitude"))
		assert.Contains(t, r.URL.Query().Get("daily"), "temperature_2m_max")
		fmt.Fprint(w, `{
			"timezone": "Europe/Paris",
			"current": {"time": "2024-06-01T12:00", "temperature_2m": 24.5},
			"daily": {
				"time": ["2024-06-01", "2024-06-02"],
				"weather_code": [0, 61],
				"temperature_2m_max": [27.1, 22.0],
				"temperature_2m_min": [18.3, null],
				"precipitation_sum": [0, 4.2],
				"wind_speed_10m_max": [12.0]
			}
		}`)
	}))
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client(), srv.URL)
	fc, err := p.Forecast(context.Background(), station)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Paris", fc.Timezone)
	assert.Equal(t, 24.5, *fc.CurrentTempC)
	require.Len(t, fc.Days, 2)
	assert.Equal(t, weather.ConditionClear, fc.Days[0].Condition)
	assert.Equal(t, weather.ConditionRain, fc.Days[1].Condition)
	assert.Nil(t, fc.Days[1].TempMinC)
	assert.Nil(t, fc.Days[1].WindMaxKmh)
}

func TestOpenMeteoForecastServerError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOpenMeteoProvider(srv.Client(), srv.URL).Forecast(context.Background(), station)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "forecast", fe.Family)
	assert.ErrorIs(t, err, errServerError)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestMarineNearestCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lats := strings.Split(r.URL.Query().Get("latitude"), ",")
		assert.Len(t, lats, 1+3*marineBearings)
		fmt.Fprint(w, `[
			{"latitude": 43.3, "longitude": 5.4, "current": {"time": "2024-06-01T12:00", "sea_surface_temperature": null}},
			{"latitude": 43.2, "longitude": 5.3, "current": {"time": "2024-06-01T12:00", "sea_surface_temperature": 18.4}},
			{"latitude": 42.9, "longitude": 5.0, "current": {"time": "2024-06-01T12:00", "sea_surface_temperature": 17.1}}
		]`)
	}))
	defer srv.Close()

	sea, err := NewMarineProvider(srv.Client(), srv.URL).SeaTemperature(context.Background(), station)
	require.NoError(t, err)
	assert.Equal(t, 18.4, *sea.ValueC)
	assert.Equal(t, 43.2, sea.Lat)
	assert.InDelta(t, weather.Distance(43.3, 5.4, 43.2, 5.3), sea.DistanceKm, 1e-9)
}

func TestMarineAllInland(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"latitude": 45.7, "longitude": 4.8, "current": {"sea_surface_temperature": null}}`)
	}))
	defer srv.Close()

	_, err := NewMarineProvider(srv.Client(), srv.URL).SeaTemperature(context.Background(), station)
	assert.ErrorIs(t, err, weather.ErrNoData)
}

func TestCandidatesRing(t *testing.T) {
	pts := candidates(station)
	require.Len(t, pts, 1+3*marineBearings)
	assert.Equal(t, station.Lat, pts[0].Lat())
	// First ring point heads north by 10 km.
	assert.InDelta(t, 10, weather.Distance(station.Lat, station.Lon, pts[1].Lat(), pts[1].Lon()), 0.1)
	assert.Greater(t, pts[1].Lat(), station.Lat)
}

const metarXML = `<?xml version="1.0" encoding="UTF-8"?>
<response>
  <errors />
  <data num_results="2">
    <METAR>
      <raw_text>LFMV 011200Z 27010KT CAVOK 25/12 Q1015</raw_text>
      <station_id>LFMV</station_id>
      <observation_time>2024-06-01T12:00:00Z</observation_time>
      <latitude>43.907</latitude>
      <longitude>4.901</longitude>
    </METAR>
    <METAR>
      <raw_text>LFML 011200Z 31015G25KT 9999 FEW040 24/10 Q1014</raw_text>
      <station_id>LFML</station_id>
      <observation_time>2024-06-01T12:00:00Z</observation_time>
      <latitude>43.437</latitude>
      <longitude>5.215</longitude>
    </METAR>
  </data>
</response>`

func TestMetarFallsBackToRadialWithoutRetryingHTTPErrors(t *testing.T) {
	var bboxHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == metarJSONPath && r.URL.Query().Get("bbox") != "":
			atomic.AddInt32(&bboxHits, 1)
			w.WriteHeader(http.StatusBadRequest)
		case r.URL.Path == metarXMLPath:
			assert.Contains(t, r.URL.Query().Get("radialDistance"), ";5.4000,43.3000")
			fmt.Fprint(w, metarXML)
		default:
			t.Errorf("unexpected request %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewMetarProvider(srv.Client(), MetarConfig{BaseURL: srv.URL, DefaultICAO: "LFML"})
	m, err := p.Nearest(context.Background(), station)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&bboxHits))
	assert.Equal(t, "radial", m.Source)
	assert.Equal(t, "LFML", m.Station)
	assert.Equal(t, 24.0, *m.Decoded.TempC)
	assert.InDelta(t, weather.Distance(43.3, 5.4, 43.437, 5.215), m.DistanceKm, 1e-9)
}

func TestMetarBoundingBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bbox := strings.Split(r.URL.Query().Get("bbox"), ",")
		if assert.Len(t, bbox, 4) {
			assert.Less(t, bbox[0], "43.3")
		}
		fmt.Fprint(w, `[
			{"icaoId":"LFMV","name":"Avignon","lat":43.907,"lon":4.901,"rawOb":"LFMV 011200Z 27010KT CAVOK 25/12 Q1015","obsTime":1717243200},
			{"icaoId":"LFML","name":"Marseille","lat":43.437,"lon":5.215,"rawOb":"LFML 011200Z 31015G25KT 9999 FEW040 24/10 Q1014","obsTime":1717243200}
		]`)
	}))
	defer srv.Close()

	m, err := NewMetarProvider(srv.Client(), MetarConfig{BaseURL: srv.URL}).Nearest(context.Background(), station)
	require.NoError(t, err)
	assert.Equal(t, "bbox", m.Source)
	assert.Equal(t, "LFML", m.Station)
	assert.Equal(t, "Marseille", m.Name)
	assert.Equal(t, time.Unix(1717243200, 0).UTC(), m.ObservedAt)
}

func TestMetarDefaultStation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("ids") == "LFML":
			fmt.Fprint(w, `[{"icaoId":"LFML","lat":43.437,"lon":5.215,"rawOb":"LFML 011200Z 31015KT 9999 FEW040 24/10 Q1014","obsTime":1717243200}]`)
		case r.URL.Path == metarXMLPath:
			fmt.Fprint(w, `<response><errors/><data num_results="0"></data></response>`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	m, err := NewMetarProvider(srv.Client(), MetarConfig{BaseURL: srv.URL, DefaultICAO: "lfml"}).Nearest(context.Background(), station)
	require.NoError(t, err)
	assert.Equal(t, "default", m.Source)
	assert.Equal(t, "LFML", m.Station)
}

func TestMetarAllStagesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewMetarProvider(srv.Client(), MetarConfig{BaseURL: srv.URL, DefaultICAO: "LFML"}).Nearest(context.Background(), station)
	require.Error(t, err)
	for _, stage := range []string{"metar/bbox", "metar/radial", "metar/default"} {
		assert.Contains(t, err.Error(), stage)
	}
}

func TestFetchBodyRetriesTransientOnly(t *testing.T) {
	// A closed server refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	var builds int
	cfg := HTTPClientConfig{
		Client:    http.DefaultClient,
		Backoff:   BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond},
		Timeouts:  []time.Duration{time.Second},
		Retryable: IsTransient,
	}
	_, err := fetchBody(context.Background(), cfg, newBreaker("test"), func(ctx context.Context) (*http.Request, error) {
		builds++
		return http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, builds)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&net.DNSError{Err: "no such host", Name: "x"}))
	assert.True(t, IsTransient(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(statusError(404)))
	assert.False(t, IsTransient(statusError(503)))
	assert.False(t, IsTransient(errors.New("json: bad")))
	assert.False(t, IsTransient(nil))
}

func TestDecodeMetar(t *testing.T) {
	d := DecodeMetar("METAR LFML 011200Z AUTO 31015G25KT 280V340 4000 -RA BR SCT012 BKN030CB M02/M05 Q1009 NOSIG=")
	assert.Equal(t, 310, *d.WindDirDeg)
	assert.Equal(t, 15, *d.WindSpeedKt)
	assert.Equal(t, 25, *d.WindGustKt)
	assert.True(t, d.WindVariable)
	assert.Equal(t, 4000, *d.VisibilityM)
	assert.Equal(t, []string{"-RA", "BR"}, d.Weather)
	require.Len(t, d.Clouds, 2)
	assert.Equal(t, 1200, *d.Clouds[0].BaseFt)
	assert.Equal(t, "CB", d.Clouds[1].Type)
	assert.Equal(t, -2.0, *d.TempC)
	assert.Equal(t, -5.0, *d.DewPointC)
	assert.Equal(t, 1009.0, *d.QNHhPa)

	cavok := DecodeMetar("LFMV 011200Z VRB03MPS CAVOK 25/12 A2992")
	assert.True(t, cavok.CAVOK)
	assert.True(t, cavok.WindVariable)
	assert.Nil(t, cavok.WindDirDeg)
	assert.Equal(t, 6, *cavok.WindSpeedKt)
	assert.Equal(t, 10000, *cavok.VisibilityM)
	assert.Equal(t, 1013.0, *cavok.QNHhPa)
}

const bulletin = `Vigilance météorologique
Bulletin du 16/10/2026
Bouches-du-Rhône (13) : rouge vent violent
Bulletin du 17/10/2026 à 06h00
Bouches-du-Rhône (13) : orange orages, jaune pluie-inondation
Var (83) : rouge orages
13 - jaune orages
Bulletin du 18 octobre 2026
Départements 13, 83, 84 : jaune vent violent`

func TestParseBulletin(t *testing.T) {
	today := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	alerts := ParseBulletin(bulletin, "13", today)

	require.Len(t, alerts, 3)
	assert.Equal(t, "thunderstorm", alerts[0].Type)
	assert.Equal(t, weather.SeverityOrange, alerts[0].Severity)
	assert.Equal(t, "orange", alerts[0].Level)
	// Yellow ties are ordered by label.
	assert.Equal(t, "Pluie-inondation", alerts[1].Label)
	assert.Equal(t, "Vent violent", alerts[2].Label)
	assert.Equal(t, weather.SeverityYellow, alerts[2].Severity)

	assert.Empty(t, ParseBulletin(bulletin, "06", today))
	assert.Empty(t, ParseBulletin(bulletin, "", today))
}

func TestVigilanceProviderHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!DOCTYPE html><html><head><style>p{}</style></head><body>
			<h2>Bulletin du 17/10/2026</h2>
			<table><tr><td>Bouches-du-Rhône (13)</td><td>Orange</td><td>Orages</td></tr>
			<tr><td>Var (83)</td><td>Rouge</td><td>Orages</td></tr></table>
			<script>var x = "13 rouge canicule";</script>
		</body></html>`)
	}))
	defer srv.Close()

	dept := func(context.Context) (string, error) { return "13", nil }
	p := NewVigilanceProvider(srv.Client(), srv.URL, dept, time.UTC)
	p.now = func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC) }

	v, err := p.Vigilance(context.Background(), station)
	require.NoError(t, err)
	assert.Equal(t, "13", v.Department)
	assert.Equal(t, "orange", v.Level)
	require.Len(t, v.Alerts, 1)
	assert.Equal(t, "Orages", v.Alerts[0].Label)
}

func TestVigilanceUnknownDepartment(t *testing.T) {
	p := NewVigilanceProvider(http.DefaultClient, "http://127.0.0.1:1", func(context.Context) (string, error) { return "", nil }, nil)
	_, err := p.Vigilance(context.Background(), station)
	assert.ErrorIs(t, err, weather.ErrNoData)
}

func TestDepartmentFromZipcode(t *testing.T) {
	cases := map[string]string{
		"13001": "13",
		"06000": "06",
		"20000": "2A",
		"20200": "2B",
		"97400": "974",
		"1300":  "",
		"abcde": "",
	}
	for zip, want := range cases {
		assert.Equal(t, want, DepartmentFromZipcode(zip), zip)
	}
}

const stationsData = `{"status":"ok","body":{"devices":[{
	"_id":"70:ee:50:00:00:01",
	"place":{"location":[5.41,43.31],"altitude":42},
	"dashboard_data":{"time_utc":1717243000,"Pressure":1014.2},
	"modules":[
		{"type":"NAModule1","reachable":true,"dashboard_data":{"time_utc":1717243180,"Temperature":21.5,"Humidity":64,"max_temp":24.1,"min_temp":15.2}},
		{"type":"NAModule2","reachable":false,"dashboard_data":{"time_utc":1717000000,"WindStrength":12,"WindAngle":270,"GustStrength":20}},
		{"type":"NAModule3","reachable":true,"dashboard_data":{"time_utc":1717243100,"Rain":0.2,"sum_rain_24":3.4}}
	]}]}}`

func TestNetatmoRefreshAndNormalize(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			atomic.AddInt32(&tokenCalls, 1)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
			fmt.Fprint(w, `{"access_token":"a2","refresh_token":"r2","expires_in":10800}`)
		case "/api/getstationsdata":
			if r.Header.Get("Authorization") != "Bearer a2" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			fmt.Fprint(w, stationsData)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	settings := store.NewMemorySettings()
	require.NoError(t, settings.Set(ctx, keyRefreshToken, "r1"))

	p := NewNetatmoProvider(srv.Client(), NetatmoConfig{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, settings)
	obs, err := p.FetchStation(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, time.Unix(1717243180, 0), obs.MeasuredAt)
	assert.Equal(t, 21.5, *obs.Temperature)
	assert.Equal(t, 64.0, *obs.Humidity)
	assert.Equal(t, 1014.2, *obs.Pressure)
	assert.Nil(t, obs.WindSpeed)
	assert.InDelta(t, 2.4, *obs.RainRate, 1e-9)
	assert.Equal(t, 3.4, *obs.RainDay)
	assert.Equal(t, 43.31, *obs.Position.Lat)
	assert.Equal(t, 5.41, *obs.Position.Lon)
	assert.Equal(t, 42.0, *obs.Position.Altitude)

	rt, _, _ := settings.Get(ctx, keyRefreshToken)
	assert.Equal(t, "r2", rt)

	// The stored token is reused.
	_, err = p.FetchStation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestNetatmoWithoutRefreshToken(t *testing.T) {
	p := NewNetatmoProvider(http.DefaultClient, NetatmoConfig{BaseURL: "http://127.0.0.1:1"}, store.NewMemorySettings())
	_, err := p.FetchStation(context.Background())
	assert.ErrorIs(t, err, errNoRefreshToken)
}
