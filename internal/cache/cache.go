// Package cache implements the freshness policy shared by every remote data
// family shown on the dashboard: serve fresh data, serve stale data during a
// cool-down, or attempt one remote fetch and persist its outcome.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
)

// Reason explains why a result is unavailable.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonNoCoords    Reason = "no_coords"
	ReasonRetryLater  Reason = "retry_later"
	ReasonCacheOnly   Reason = "cache_only"
	ReasonFetchFailed Reason = "fetch_failed"
	ReasonNoData      Reason = "no_data"
)

// Payload is implemented by every cached data family.
type Payload interface {
	Empty() bool
}

// Result is the persisted outcome of the last fetch attempt.
type Result[T Payload] struct {
	Available bool      `json:"available"`
	Reason    Reason    `json:"reason"`
	FetchedAt time.Time `json:"fetched_at"`
	AnchorLat float64   `json:"anchor_lat"`
	AnchorLon float64   `json:"anchor_lon"`
	Payload   T         `json:"payload"`
	Error     string    `json:"error,omitempty"`
}

func (r Result[T]) anchor() weather.Coordinates {
	return weather.Coordinates{Lat: r.AnchorLat, Lon: r.AnchorLon}
}

// FetchFunc retrieves a fresh payload for coords.
type FetchFunc[T Payload] func(ctx context.Context, coords weather.Coordinates) (T, error)

// Family is the freshness policy for one data family.
type Family[T Payload] struct {
	Name       string
	TTL        time.Duration
	RetryAfter time.Duration

	fetch    FetchFunc[T]
	settings store.SettingsStore
	now      func() time.Time
	log      zerolog.Logger
}

// NewFamily creates a policy persisting under "cache.<name>".
func NewFamily[T Payload](name string, ttl, retryAfter time.Duration, fetch FetchFunc[T], settings store.SettingsStore, logger zerolog.Logger) *Family[T] {
	return &Family[T]{
		Name:       name,
		TTL:        ttl,
		RetryAfter: retryAfter,
		fetch:      fetch,
		settings:   settings,
		now:        time.Now,
		log:        logger.With().Str("family", name).Logger(),
	}
}

// WithClock replaces the time source.
func (f *Family[T]) WithClock(now func() time.Time) *Family[T] {
	f.now = now
	return f
}

func (f *Family[T]) key() string        { return "cache." + f.Name }
func (f *Family[T]) lastTryKey() string { return "cache." + f.Name + ".last_try" }

// Cached returns the stored result without applying any policy.
func (f *Family[T]) Cached(ctx context.Context) (Result[T], bool, error) {
	res, ok, err := store.GetJSON[Result[T]](ctx, f.settings, f.key())
	if errors.Is(err, store.ErrMalformed) {
		f.log.Warn().Err(err).Msg("discarding unreadable cache entry")
		return Result[T]{}, false, nil
	}
	return res, ok, err
}

// Resolve decides what to show for coords. A nil coords means the station
// position is unknown. allowRemote=false never performs a remote call.
//
// The returned error is non-nil only when the settings store fails; fetch
// failures are reported through Result.Reason.
func (f *Family[T]) Resolve(ctx context.Context, coords *weather.Coordinates, allowRemote bool) (Result[T], error) {
	if coords == nil {
		return Result[T]{Reason: ReasonNoCoords}, nil
	}

	cached, hasCached, err := f.Cached(ctx)
	if err != nil {
		return Result[T]{}, err
	}
	lastTry, hasTry, err := store.GetFloat(ctx, f.settings, f.lastTryKey())
	if err != nil {
		return Result[T]{}, err
	}

	now := f.now()
	coolingDown := hasTry && now.Sub(time.Unix(int64(lastTry), 0)) < f.RetryAfter

	if hasCached {
		sameAnchor := weather.SameAnchor(*coords, cached.anchor())
		fresh := now.Sub(cached.FetchedAt) <= f.TTL

		switch {
		case cached.Available && fresh && sameAnchor:
			return cached, nil
		case sameAnchor && coolingDown:
			return cached, nil
		case sameAnchor && !allowRemote:
			return cached, nil
		}
	} else if coolingDown {
		return Result[T]{Reason: ReasonRetryLater}, nil
	}

	if !allowRemote {
		return Result[T]{Reason: ReasonCacheOnly}, nil
	}

	return f.refresh(ctx, *coords, now)
}

func (f *Family[T]) refresh(ctx context.Context, coords weather.Coordinates, now time.Time) (Result[T], error) {
	if err := f.settings.Set(ctx, f.lastTryKey(), strconv.FormatInt(now.Unix(), 10)); err != nil {
		return Result[T]{}, err
	}

	res := Result[T]{
		FetchedAt: now,
		AnchorLat: coords.Lat,
		AnchorLon: coords.Lon,
	}

	start := time.Now()
	payload, err := f.fetch(ctx, coords)
	switch {
	case errors.Is(err, weather.ErrNoData), err == nil && payload.Empty():
		res.Reason = ReasonNoData
		f.log.Info().Float64("lat", coords.Lat).Float64("lon", coords.Lon).Msg("no data for station position")
	case err != nil:
		res.Reason = ReasonFetchFailed
		res.Error = err.Error()
		f.log.Warn().Err(err).Dur("took", time.Since(start)).Msg("remote fetch failed")
	default:
		res.Available = true
		res.Payload = payload
		f.log.Debug().Dur("took", time.Since(start)).Msg("remote fetch ok")
	}

	if err := store.SetJSON(ctx, f.settings, f.key(), res); err != nil {
		return res, err
	}
	return res, nil
}
