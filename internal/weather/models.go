package weather

import (
	"errors"
	"time"
)

// ErrNoData is returned by fetchers when the upstream answered but had
// nothing usable for the requested place.
var ErrNoData = errors.New("no data")

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionFog     Condition = "fog"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
)

// Coordinates is the station position used to key geography-bound caches.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Position is an observed or configured station position. Nil fields are
// unknown and never overwrite stored values.
type Position struct {
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Altitude *float64 `json:"altitude,omitempty"`
	Zipcode  *string  `json:"zipcode,omitempty"`
}

// DateTimeLayout is the key format of the readings table, in station time.
const DateTimeLayout = "2006-01-02 15:04:05"

// Reading is one row of the readings time series. Nil columns are unknown
// (a module may have been unreachable for that cycle).
//
//	T     outdoor temperature (°C)
//	H     outdoor relative humidity (%)
//	W, G  wind and gust speed (km/h)
//	B     wind bearing (°)
//	RR    rain rate (mm/h)
//	R     rain since midnight (mm)
//	P     sea-level pressure (hPa)
//	D     dew point (°C)
//	A     apparent temperature (°C)
type Reading struct {
	DateTime time.Time `json:"datetime"`

	T    *float64 `json:"T"`
	H    *float64 `json:"H"`
	W    *float64 `json:"W"`
	G    *float64 `json:"G"`
	B    *float64 `json:"B"`
	RR   *float64 `json:"RR"`
	R    *float64 `json:"R"`
	P    *float64 `json:"P"`
	D    *float64 `json:"D"`
	A    *float64 `json:"A"`
	Tmax *float64 `json:"Tmax"`
	Tmin *float64 `json:"Tmin"`
}

// Key returns the table primary key for the reading.
func (r Reading) Key() string {
	return r.DateTime.Format(DateTimeLayout)
}

// Observation is a normalized station payload as returned by the station API.
type Observation struct {
	MeasuredAt time.Time

	Temperature *float64
	Humidity    *float64
	WindSpeed   *float64
	GustSpeed   *float64
	WindAngle   *float64
	RainRate    *float64
	RainDay     *float64
	Pressure    *float64
	TempMax     *float64
	TempMin     *float64

	Position Position
}

// Float returns a pointer to v. Handy for building readings in code and tests.
func Float(v float64) *float64 {
	return &v
}
