package weather

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// BucketSize is the granularity of the readings table.
const BucketSize = 5 * time.Minute

// ErrInconsistentRow is returned when a stored row cannot be recomputed.
var ErrInconsistentRow = errors.New("inconsistent reading")

// FloorBucket rounds t down to the 5-minute boundary in loc.
func FloorBucket(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute()-lt.Minute()%5, 0, 0, loc)
}

// DewPoint computes the dew point with the Magnus formula.
func DewPoint(tempC, humidity float64) float64 {
	const a, b = 17.27, 237.7
	gamma := a*tempC/(b+tempC) + math.Log(humidity/100)
	return b * gamma / (a - gamma)
}

// ApparentTemperature is the Steadman / BoM apparent temperature for shade,
// with wind given in km/h.
func ApparentTemperature(tempC, humidity, windKmh float64) float64 {
	e := humidity / 100 * 6.105 * math.Exp(17.27*tempC/(237.7+tempC))
	ws := windKmh / 3.6
	return tempC + 0.33*e - 0.70*ws - 4.00
}

// Derive turns a station observation into the reading stored for its bucket,
// including the derived D and A columns.
func Derive(obs Observation, loc *time.Location) Reading {
	r := Reading{
		DateTime: FloorBucket(obs.MeasuredAt, loc),
		T:        obs.Temperature,
		H:        obs.Humidity,
		W:        obs.WindSpeed,
		G:        obs.GustSpeed,
		B:        obs.WindAngle,
		RR:       obs.RainRate,
		R:        obs.RainDay,
		P:        obs.Pressure,
		Tmax:     obs.TempMax,
		Tmin:     obs.TempMin,
	}
	r.D, r.A = derived(r.T, r.H, r.W)
	return r
}

func derived(t, h, w *float64) (dew, apparent *float64) {
	if t == nil || h == nil || *h <= 0 || *h > 100 {
		return nil, nil
	}
	dew = round1(DewPoint(*t, *h))
	wind := 0.0
	if w != nil {
		wind = *w
	}
	apparent = round1(ApparentTemperature(*t, *h, wind))
	return dew, apparent
}

func round1(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	r := math.Round(v*10) / 10
	return &r
}

// AggregateDay recomputes the day-level columns of one day's rows: every row
// gets the day's Tmax/Tmin of T, and D/A are recomputed from T, H and W.
// Rows are returned in the same order. The function is pure, so running it
// again over its own output yields the same result.
func AggregateDay(rows []Reading) ([]Reading, error) {
	var tmax, tmin *float64
	for _, r := range rows {
		if r.H != nil && (*r.H < 0 || *r.H > 100) {
			return nil, fmt.Errorf("%w: %s humidity %.1f", ErrInconsistentRow, r.Key(), *r.H)
		}
		if r.T == nil {
			continue
		}
		if tmax == nil || *r.T > *tmax {
			tmax = Float(*r.T)
		}
		if tmin == nil || *r.T < *tmin {
			tmin = Float(*r.T)
		}
	}

	out := make([]Reading, len(rows))
	for i, r := range rows {
		if tmax != nil {
			r.Tmax = Float(*tmax)
			r.Tmin = Float(*tmin)
		}
		if d, a := derived(r.T, r.H, r.W); d != nil {
			r.D, r.A = d, a
		}
		out[i] = r
	}
	return out, nil
}
