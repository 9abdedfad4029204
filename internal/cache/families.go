package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
)

// Family names, also used as settings key suffixes.
const (
	FamilyForecast  = "forecast"
	FamilySeaTemp   = "sea_temp"
	FamilyMetar     = "metar"
	FamilyVigilance = "vigilance"
)

// DefaultRetryAfter is the cool-down shared by every family.
const DefaultRetryAfter = 300 * time.Second

const (
	ForecastTTL  = 30 * time.Minute
	SeaTempTTL   = 30 * time.Minute
	MetarTTL     = 15 * time.Minute
	VigilanceTTL = 5 * time.Minute
)

// Fetchers bundles the remote fetcher of each family.
type Fetchers struct {
	Forecast  FetchFunc[weather.Forecast]
	SeaTemp   FetchFunc[weather.SeaTemperature]
	Metar     FetchFunc[weather.Metar]
	Vigilance FetchFunc[weather.Vigilance]
}

// Families holds the configured policy of every dashboard data family.
type Families struct {
	Forecast  *Family[weather.Forecast]
	SeaTemp   *Family[weather.SeaTemperature]
	Metar     *Family[weather.Metar]
	Vigilance *Family[weather.Vigilance]
}

func NewFamilies(f Fetchers, settings store.SettingsStore, logger zerolog.Logger) *Families {
	return &Families{
		Forecast:  NewFamily(FamilyForecast, ForecastTTL, DefaultRetryAfter, f.Forecast, settings, logger),
		SeaTemp:   NewFamily(FamilySeaTemp, SeaTempTTL, DefaultRetryAfter, f.SeaTemp, settings, logger),
		Metar:     NewFamily(FamilyMetar, MetarTTL, DefaultRetryAfter, f.Metar, settings, logger),
		Vigilance: NewFamily(FamilyVigilance, VigilanceTTL, DefaultRetryAfter, f.Vigilance, settings, logger),
	}
}

// WithClock sets the time source of every family.
func (fs *Families) WithClock(now func() time.Time) *Families {
	fs.Forecast.WithClock(now)
	fs.SeaTemp.WithClock(now)
	fs.Metar.WithClock(now)
	fs.Vigilance.WithClock(now)
	return fs
}

// Snapshot is what the dashboard shows for every family.
type Snapshot struct {
	Forecast  Result[weather.Forecast]       `json:"forecast"`
	SeaTemp   Result[weather.SeaTemperature] `json:"sea_temp"`
	Metar     Result[weather.Metar]          `json:"metar"`
	Vigilance Result[weather.Vigilance]      `json:"vigilance"`
}

// Options selects which families may call upstream.
type Options struct {
	AllowRemote bool
	// SeaTempRemote applies to the sea temperature family only; it is
	// normally refreshed by the external job.
	SeaTempRemote bool
}

// Resolve resolves every family for coords.
func (fs *Families) Resolve(ctx context.Context, coords *weather.Coordinates, opts Options) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	if snap.Forecast, err = fs.Forecast.Resolve(ctx, coords, opts.AllowRemote); err != nil {
		return snap, err
	}
	if snap.SeaTemp, err = fs.SeaTemp.Resolve(ctx, coords, opts.SeaTempRemote); err != nil {
		return snap, err
	}
	if snap.Metar, err = fs.Metar.Resolve(ctx, coords, opts.AllowRemote); err != nil {
		return snap, err
	}
	if snap.Vigilance, err = fs.Vigilance.Resolve(ctx, coords, opts.AllowRemote); err != nil {
		return snap, err
	}
	return snap, nil
}

// Summary maps each family to "available" or its unavailability reason.
func (s Snapshot) Summary() map[string]string {
	status := func(ok bool, r Reason) string {
		if ok {
			return "available"
		}
		return string(r)
	}
	return map[string]string{
		FamilyForecast:  status(s.Forecast.Available, s.Forecast.Reason),
		FamilySeaTemp:   status(s.SeaTemp.Available, s.SeaTemp.Reason),
		FamilyMetar:     status(s.Metar.Available, s.Metar.Reason),
		FamilyVigilance: status(s.Vigilance.Available, s.Vigilance.Reason),
	}
}
