package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
)

const (
	netatmoURL     = "https://api.netatmo.com"
	netatmoTimeout = 8 * time.Second

	keyAccessToken  = "netatmo.access_token"
	keyRefreshToken = "netatmo.refresh_token"
	keyExpiresAt    = "netatmo.expires_at"
)

var errNoRefreshToken = errors.New("netatmo: no refresh token stored")

// NetatmoConfig holds the OAuth application credentials.
type NetatmoConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	DeviceID     string
}

// NetatmoProvider reads the station through the Netatmo weather API. OAuth
// tokens live in the settings store and are refreshed when expired.
type NetatmoProvider struct {
	cfg      NetatmoConfig
	settings store.SettingsStore
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	now      func() time.Time
}

func NewNetatmoProvider(client *http.Client, cfg NetatmoConfig, settings store.SettingsStore) *NetatmoProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = netatmoURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &NetatmoProvider{
		cfg:      cfg,
		settings: settings,
		httpCfg: HTTPClientConfig{
			Client:   client,
			Timeouts: []time.Duration{netatmoTimeout},
		},
		circuit: newBreaker("netatmo"),
		now:     time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// accessToken returns a valid access token, refreshing it when needed.
func (p *NetatmoProvider) accessToken(ctx context.Context, force bool) (string, error) {
	if !force {
		token, ok, err := p.settings.Get(ctx, keyAccessToken)
		if err != nil {
			return "", err
		}
		exp, _, err := store.GetFloat(ctx, p.settings, keyExpiresAt)
		if err != nil {
			return "", err
		}
		if ok && token != "" && p.now().Add(time.Minute).Unix() < int64(exp) {
			return token, nil
		}
	}
	return p.refresh(ctx)
}

func (p *NetatmoProvider) refresh(ctx context.Context) (string, error) {
	refresh, ok, err := p.settings.Get(ctx, keyRefreshToken)
	if err != nil {
		return "", err
	}
	if !ok || refresh == "" {
		return "", errNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	body, err := fetchBody(ctx, p.httpCfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("netatmo token refresh: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("netatmo token decode: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("netatmo token refresh: empty access token")
	}

	if err := p.settings.Set(ctx, keyAccessToken, tr.AccessToken); err != nil {
		return "", err
	}
	if tr.RefreshToken != "" {
		if err := p.settings.Set(ctx, keyRefreshToken, tr.RefreshToken); err != nil {
			return "", err
		}
	}
	exp := p.now().Add(time.Duration(tr.ExpiresIn) * time.Second).Unix()
	if err := p.settings.Set(ctx, keyExpiresAt, strconv.FormatInt(exp, 10)); err != nil {
		return "", err
	}
	return tr.AccessToken, nil
}

type netatmoData struct {
	TimeUTC      int64    `json:"time_utc"`
	Temperature  *float64 `json:"Temperature"`
	Humidity     *float64 `json:"Humidity"`
	Pressure     *float64 `json:"Pressure"`
	MaxTemp      *float64 `json:"max_temp"`
	MinTemp      *float64 `json:"min_temp"`
	WindStrength *float64 `json:"WindStrength"`
	WindAngle    *float64 `json:"WindAngle"`
	GustStrength *float64 `json:"GustStrength"`
	Rain         *float64 `json:"Rain"`
	SumRain24    *float64 `json:"sum_rain_24"`
}

type netatmoModule struct {
	Type          string       `json:"type"`
	Reachable     *bool        `json:"reachable"`
	DashboardData *netatmoData `json:"dashboard_data"`
}

type netatmoResponse struct {
	Body struct {
		Devices []struct {
			ID    string `json:"_id"`
			Place struct {
				Location []float64 `json:"location"`
				Altitude *float64  `json:"altitude"`
			} `json:"place"`
			DashboardData *netatmoData    `json:"dashboard_data"`
			Modules       []netatmoModule `json:"modules"`
		} `json:"devices"`
	} `json:"body"`
}

// FetchStation returns the latest normalized station payload.
func (p *NetatmoProvider) FetchStation(ctx context.Context) (weather.Observation, error) {
	token, err := p.accessToken(ctx, false)
	if err != nil {
		return weather.Observation{}, &FetchError{Family: "netatmo", Stage: "auth", Err: err}
	}

	body, err := p.stationsData(ctx, token)
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
		if token, err = p.accessToken(ctx, true); err != nil {
			return weather.Observation{}, &FetchError{Family: "netatmo", Stage: "auth", Err: err}
		}
		body, err = p.stationsData(ctx, token)
	}
	if err != nil {
		return weather.Observation{}, &FetchError{Family: "netatmo", Err: err}
	}

	obs, err := p.normalize(body)
	if err != nil {
		return weather.Observation{}, &FetchError{Family: "netatmo", Stage: "decode", Err: err}
	}
	return obs, nil
}

func (p *NetatmoProvider) stationsData(ctx context.Context, token string) ([]byte, error) {
	values := url.Values{}
	if p.cfg.DeviceID != "" {
		values.Set("device_id", p.cfg.DeviceID)
	}
	u := p.cfg.BaseURL + "/api/getstationsdata?" + values.Encode()

	return fetchBody(ctx, p.httpCfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
}

func (p *NetatmoProvider) normalize(body []byte) (weather.Observation, error) {
	var resp netatmoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return weather.Observation{}, err
	}
	if len(resp.Body.Devices) == 0 {
		return weather.Observation{}, weather.ErrNoData
	}
	dev := resp.Body.Devices[0]

	var obs weather.Observation
	latest := int64(0)
	seen := func(d *netatmoData) {
		if d.TimeUTC > latest {
			latest = d.TimeUTC
		}
	}

	if d := dev.DashboardData; d != nil {
		seen(d)
		obs.Pressure = d.Pressure
	}
	for _, m := range dev.Modules {
		if m.DashboardData == nil || (m.Reachable != nil && !*m.Reachable) {
			continue
		}
		d := m.DashboardData
		switch m.Type {
		case "NAModule1": // outdoor
			obs.Temperature = d.Temperature
			obs.Humidity = d.Humidity
			obs.TempMax = d.MaxTemp
			obs.TempMin = d.MinTemp
		case "NAModule2": // wind gauge
			obs.WindSpeed = d.WindStrength
			obs.GustSpeed = d.GustStrength
			obs.WindAngle = d.WindAngle
		case "NAModule3": // rain gauge
			if d.Rain != nil {
				// Rain is mm over the last 5 minutes.
				obs.RainRate = weather.Float(*d.Rain * 12)
			}
			obs.RainDay = d.SumRain24
		default:
			continue
		}
		seen(d)
	}

	if latest > 0 {
		obs.MeasuredAt = time.Unix(latest, 0)
	} else {
		obs.MeasuredAt = p.now()
	}

	if loc := dev.Place.Location; len(loc) == 2 {
		obs.Position.Lon = weather.Float(loc[0])
		obs.Position.Lat = weather.Float(loc[1])
	}
	obs.Position.Altitude = dev.Place.Altitude
	return obs, nil
}
