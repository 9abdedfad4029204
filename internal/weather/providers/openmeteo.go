package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/station-dashboard/internal/weather"
)

const (
	openMeteoForecastURL = "https://api.open-meteo.com/v1/forecast"
	forecastTimeout      = 8 * time.Second
	forecastDays         = 7
)

// OpenMeteoProvider fetches the daily forecast grid from Open-Meteo.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewOpenMeteoProvider creates a forecast provider. An empty baseURL selects
// the public API.
func NewOpenMeteoProvider(client *http.Client, baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = openMeteoForecastURL
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client:   client,
			Timeouts: []time.Duration{forecastTimeout},
		},
		circuit: newBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

type openMeteoForecast struct {
	Timezone string `json:"timezone"`
	Current  struct {
		Time          string   `json:"time"`
		Temperature2m *float64 `json:"temperature_2m"`
	} `json:"current"`
	Daily struct {
		Time             []string   `json:"time"`
		WeatherCode      []*int     `json:"weather_code"`
		Temperature2mMax []*float64 `json:"temperature_2m_max"`
		Temperature2mMin []*float64 `json:"temperature_2m_min"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
		WindSpeed10mMax  []*float64 `json:"wind_speed_10m_max"`
	} `json:"daily"`
}

// Forecast returns today's current temperature and the next days' grid.
func (p *OpenMeteoProvider) Forecast(ctx context.Context, coords weather.Coordinates) (weather.Forecast, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", formatCoord(coords.Lat))
		values.Set("longitude", formatCoord(coords.Lon))
		values.Set("current", "temperature_2m")
		values.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_sum,wind_speed_10m_max")
		values.Set("timezone", "auto")
		values.Set("forecast_days", strconv.Itoa(forecastDays))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := fetchBody(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Forecast{}, &FetchError{Family: "forecast", Err: err}
	}

	var payload openMeteoForecast
	if err := json.Unmarshal(body, &payload); err != nil {
		return weather.Forecast{}, &FetchError{Family: "forecast", Stage: "decode", Err: err}
	}

	out := weather.Forecast{
		Timezone:     payload.Timezone,
		CurrentTempC: payload.Current.Temperature2m,
	}
	d := payload.Daily
	for i, date := range d.Time {
		day := weather.ForecastDay{
			Date:       date,
			TempMaxC:   at(d.Temperature2mMax, i),
			TempMinC:   at(d.Temperature2mMin, i),
			PrecipMm:   at(d.PrecipitationSum, i),
			WindMaxKmh: at(d.WindSpeed10mMax, i),
			Condition:  weather.ConditionUnknown,
		}
		if code := at(d.WeatherCode, i); code != nil {
			day.WeatherCode = *code
			day.Condition = mapOpenMeteoCondition(*code)
		}
		out.Days = append(out.Days, day)
	}

	if out.Empty() {
		return out, weather.ErrNoData
	}
	return out, nil
}

// at returns s[i] or nil when the column is short.
func at[T any](s []*T, i int) *T {
	if i < len(s) {
		return s[i]
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// WMO weather interpretation codes.
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionFog
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
