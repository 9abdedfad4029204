// Package station tracks the station position used to anchor every
// geography-keyed cache.
package station

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
)

const (
	KeyLat      = "station.lat"
	KeyLon      = "station.lon"
	KeyAltitude = "station.altitude"
	KeyZipcode  = "station.zipcode"
	KeyLocked   = "station.position_locked"
)

// Geocoder resolves the postal code of a position.
type Geocoder interface {
	Zipcode(ctx context.Context, lat, lon float64) (string, error)
}

// Tracker reads and updates the station position in the settings store.
type Tracker struct {
	settings store.SettingsStore
	geocoder Geocoder
	log      zerolog.Logger
}

// NewTracker creates a tracker. geocoder may be nil.
func NewTracker(settings store.SettingsStore, geocoder Geocoder, logger zerolog.Logger) *Tracker {
	return &Tracker{settings: settings, geocoder: geocoder, log: logger}
}

// Current returns the stored coordinates, or nil when either axis is unset
// or not numeric.
func (t *Tracker) Current(ctx context.Context) (*weather.Coordinates, error) {
	lat, okLat, err := store.GetFloat(ctx, t.settings, KeyLat)
	if err != nil {
		return nil, err
	}
	lon, okLon, err := store.GetFloat(ctx, t.settings, KeyLon)
	if err != nil {
		return nil, err
	}
	if !okLat || !okLon || !validLat(lat) || !validLon(lon) {
		return nil, nil
	}
	return &weather.Coordinates{Lat: lat, Lon: lon}, nil
}

// Position returns every stored field and the lock flag.
func (t *Tracker) Position(ctx context.Context) (weather.Position, bool, error) {
	var p weather.Position
	for key, dst := range map[string]**float64{KeyLat: &p.Lat, KeyLon: &p.Lon, KeyAltitude: &p.Altitude} {
		v, ok, err := store.GetFloat(ctx, t.settings, key)
		if err != nil {
			return p, false, err
		}
		if ok {
			*dst = weather.Float(v)
		}
	}
	zip, err := t.Zipcode(ctx)
	if err != nil {
		return p, false, err
	}
	if zip != "" {
		p.Zipcode = &zip
	}
	locked, err := store.GetBool(ctx, t.settings, KeyLocked)
	return p, locked, err
}

// Zipcode returns the stored postal code or "".
func (t *Tracker) Zipcode(ctx context.Context) (string, error) {
	zip, _, err := t.settings.Get(ctx, KeyZipcode)
	return strings.TrimSpace(zip), err
}

// SetLocked pins (or releases) the position against automatic updates.
func (t *Tracker) SetLocked(ctx context.Context, locked bool) error {
	return t.settings.Set(ctx, KeyLocked, fmt.Sprintf("%t", locked))
}

// MaybeUpdate applies the observed position unless the position is locked.
// Each field is applied only when present and valid; the others keep their
// stored value. It reports whether anything changed.
func (t *Tracker) MaybeUpdate(ctx context.Context, observed weather.Position) (bool, error) {
	locked, err := store.GetBool(ctx, t.settings, KeyLocked)
	if err != nil {
		return false, err
	}
	if locked {
		return false, nil
	}

	fields := []struct {
		key   string
		value *float64
		valid func(float64) bool
	}{
		{KeyLat, observed.Lat, validLat},
		{KeyLon, observed.Lon, validLon},
		{KeyAltitude, observed.Altitude, validAltitude},
	}

	changed, moved := false, false
	for _, f := range fields {
		if f.value == nil || !f.valid(*f.value) {
			continue
		}
		prev, ok, err := store.GetFloat(ctx, t.settings, f.key)
		if err != nil {
			return changed, err
		}
		if ok && prev == *f.value {
			continue
		}
		if err := store.SetFloat(ctx, t.settings, f.key, *f.value); err != nil {
			return changed, err
		}
		changed = true
		if f.key != KeyAltitude {
			moved = true
		}
	}

	zip := ""
	if observed.Zipcode != nil {
		zip = strings.TrimSpace(*observed.Zipcode)
	}
	if zip == "" && moved {
		zip = t.lookupZipcode(ctx)
	}
	if zip != "" {
		prev, err := t.Zipcode(ctx)
		if err != nil {
			return changed, err
		}
		if prev != zip {
			if err := t.settings.Set(ctx, KeyZipcode, zip); err != nil {
				return changed, err
			}
			changed = true
		}
	}

	if changed {
		t.log.Info().Bool("moved", moved).Msg("station position updated")
	}
	return changed, nil
}

// lookupZipcode fills a missing postal code after a move. Failures only log.
func (t *Tracker) lookupZipcode(ctx context.Context) string {
	if t.geocoder == nil {
		return ""
	}
	known, err := t.Zipcode(ctx)
	if err != nil || known != "" {
		return ""
	}
	c, err := t.Current(ctx)
	if err != nil || c == nil {
		return ""
	}
	zip, err := t.geocoder.Zipcode(ctx, c.Lat, c.Lon)
	if err != nil {
		t.log.Warn().Err(err).Msg("reverse geocoding failed")
		return ""
	}
	return zip
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func validLat(v float64) bool      { return finite(v) && v >= -90 && v <= 90 }
func validLon(v float64) bool      { return finite(v) && v >= -180 && v <= 180 }
func validAltitude(v float64) bool { return finite(v) && v > -500 && v < 9000 }
