package weather

import "time"

// ForecastDay is one day of the Open-Meteo daily grid.
type ForecastDay struct {
	Date        string    `json:"date"`
	WeatherCode int       `json:"weather_code"`
	Condition   Condition `json:"condition"`
	TempMaxC    *float64  `json:"tmax_c"`
	TempMinC    *float64  `json:"tmin_c"`
	PrecipMm    *float64  `json:"precip_mm"`
	WindMaxKmh  *float64  `json:"wind_max_kmh"`
}

// Forecast is the payload of the forecast cache.
type Forecast struct {
	Timezone     string        `json:"timezone,omitempty"`
	CurrentTempC *float64      `json:"current_temp_c"`
	Days         []ForecastDay `json:"days"`
}

func (f Forecast) Empty() bool {
	return f.CurrentTempC == nil && len(f.Days) == 0
}

// SeaTemperature is the nearest sea-surface temperature found around the station.
type SeaTemperature struct {
	ValueC     *float64 `json:"value_c"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	DistanceKm float64  `json:"distance_km"`
	ObservedAt string   `json:"observed_at,omitempty"`
}

func (s SeaTemperature) Empty() bool {
	return s.ValueC == nil
}

// Cloud is one decoded METAR cloud layer.
type Cloud struct {
	Cover  string `json:"cover"`
	BaseFt *int   `json:"base_ft,omitempty"`
	Type   string `json:"type,omitempty"`
}

// MetarDecoded holds the structured fields extracted from a raw METAR.
type MetarDecoded struct {
	WindDirDeg   *int     `json:"wind_dir_deg,omitempty"`
	WindVariable bool     `json:"wind_variable,omitempty"`
	WindSpeedKt  *int     `json:"wind_speed_kt,omitempty"`
	WindGustKt   *int     `json:"wind_gust_kt,omitempty"`
	VisibilityM  *int     `json:"visibility_m,omitempty"`
	CAVOK        bool     `json:"cavok,omitempty"`
	Weather      []string `json:"weather,omitempty"`
	Clouds       []Cloud  `json:"clouds,omitempty"`
	TempC        *float64 `json:"temp_c,omitempty"`
	DewPointC    *float64 `json:"dew_point_c,omitempty"`
	QNHhPa       *float64 `json:"qnh_hpa,omitempty"`
}

// Metar is the payload of the METAR cache.
type Metar struct {
	Station    string       `json:"station"`
	Name       string       `json:"name,omitempty"`
	Lat        float64      `json:"lat"`
	Lon        float64      `json:"lon"`
	DistanceKm float64      `json:"distance_km"`
	Source     string       `json:"source"`
	Raw        string       `json:"raw"`
	ObservedAt time.Time    `json:"observed_at"`
	Decoded    MetarDecoded `json:"decoded"`
}

func (m Metar) Empty() bool {
	return m.Raw == ""
}

// Severity ranks vigilance colours; higher is worse.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityYellow
	SeverityOrange
	SeverityRed
)

func (s Severity) String() string {
	switch s {
	case SeverityYellow:
		return "yellow"
	case SeverityOrange:
		return "orange"
	case SeverityRed:
		return "red"
	default:
		return "green"
	}
}

// VigilanceAlert is one phenomenon for the station's department.
type VigilanceAlert struct {
	Source   string   `json:"source"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Level    string   `json:"level"`
	Severity Severity `json:"severity"`
}

// Vigilance is the payload of the vigilance cache. An empty alert list is a
// valid "green" answer.
type Vigilance struct {
	Department string           `json:"department"`
	Level      string           `json:"level"`
	Alerts     []VigilanceAlert `json:"alerts"`
}

func (v Vigilance) Empty() bool {
	return v.Department == ""
}
