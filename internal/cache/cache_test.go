package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type countingFetcher struct {
	calls int
	value *float64
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, _ weather.Coordinates) (weather.SeaTemperature, error) {
	f.calls++
	if f.err != nil {
		return weather.SeaTemperature{}, f.err
	}
	return weather.SeaTemperature{ValueC: f.value}, nil
}

func newSeaFamily(t *testing.T, f *countingFetcher) (*Family[weather.SeaTemperature], *fakeClock, store.SettingsStore) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	settings := store.NewMemorySettings()
	fam := NewFamily(FamilySeaTemp, SeaTempTTL, DefaultRetryAfter, f.Fetch, settings, zerolog.Nop()).WithClock(clock.Now)
	return fam, clock, settings
}

var (
	marseille = &weather.Coordinates{Lat: 43.3, Lon: 5.4}
	moved     = &weather.Coordinates{Lat: 43.9, Lon: 6.1}
)

func TestResolveWithoutCoordinates(t *testing.T) {
	f := &countingFetcher{value: weather.Float(18.4)}
	fam, _, _ := newSeaFamily(t, f)

	res, err := fam.Resolve(context.Background(), nil, true)
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, ReasonNoCoords, res.Reason)
	assert.Zero(t, f.calls)
}

func TestResolveFetchThenServeFromCache(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{value: weather.Float(18.4)}
	fam, clock, _ := newSeaFamily(t, f)

	res, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	require.True(t, res.Available)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.Equal(t, 18.4, *res.Payload.ValueC)
	assert.Equal(t, 43.3, res.AnchorLat)
	assert.Equal(t, 5.4, res.AnchorLon)

	clock.Advance(10 * time.Minute)
	again, err := fam.Resolve(ctx, marseille, false)
	require.NoError(t, err)
	assert.True(t, again.Available)
	assert.Equal(t, res.Payload, again.Payload)
	assert.Equal(t, 1, f.calls)
}

func TestResolveAnchorMismatchRefetches(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{value: weather.Float(18.4)}
	fam, clock, _ := newSeaFamily(t, f)

	_, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	// Fresh by TTL but anchored elsewhere: passive callers must not get it.
	passive, err := fam.Resolve(ctx, moved, false)
	require.NoError(t, err)
	assert.False(t, passive.Available)
	assert.Equal(t, ReasonCacheOnly, passive.Reason)
	assert.Equal(t, 1, f.calls)

	f.value = weather.Float(16.0)
	res, err := fam.Resolve(ctx, moved, true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.True(t, res.Available)
	assert.Equal(t, 43.9, res.AnchorLat)
	assert.Equal(t, 16.0, *res.Payload.ValueC)
}

func TestResolveCoolDownAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{err: errors.New("upstream 503")}
	fam, clock, _ := newSeaFamily(t, f)

	first, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	assert.False(t, first.Available)
	assert.Equal(t, ReasonFetchFailed, first.Reason)
	assert.Equal(t, "upstream 503", first.Error)

	clock.Advance(time.Minute)
	second, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, ReasonFetchFailed, second.Reason)

	clock.Advance(DefaultRetryAfter)
	f.err = nil
	f.value = weather.Float(17.0)
	third, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.True(t, third.Available)
}

func TestResolveStaleServedDuringCoolDown(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{value: weather.Float(18.4)}
	fam, clock, settings := newSeaFamily(t, f)

	_, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)

	// Stale entry, but someone tried a moment ago.
	clock.Advance(SeaTempTTL + time.Minute)
	require.NoError(t, store.SetFloat(ctx, settings, "cache.sea_temp.last_try", float64(clock.Now().Add(-time.Minute).Unix())))

	res, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, 1, f.calls)
}

func TestResolveRetryLaterWithoutCache(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{value: weather.Float(18.4)}
	fam, clock, settings := newSeaFamily(t, f)

	require.NoError(t, store.SetFloat(ctx, settings, "cache.sea_temp.last_try", float64(clock.Now().Add(-30*time.Second).Unix())))

	res, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	assert.Equal(t, ReasonRetryLater, res.Reason)
	assert.Zero(t, f.calls)
}

func TestPassiveResolveNeverFetches(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{value: weather.Float(18.4)}
	fam, clock, _ := newSeaFamily(t, f)

	// Absent.
	res, err := fam.Resolve(ctx, marseille, false)
	require.NoError(t, err)
	assert.Equal(t, ReasonCacheOnly, res.Reason)
	assert.Zero(t, f.calls)

	_, err = fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	require.Equal(t, 1, f.calls)

	// Fresh, stale, and anchor-mismatched.
	for _, step := range []time.Duration{time.Minute, time.Hour, 24 * time.Hour} {
		clock.Advance(step)
		for _, c := range []*weather.Coordinates{marseille, moved} {
			_, err := fam.Resolve(ctx, c, false)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, f.calls)

	stale, err := fam.Resolve(ctx, marseille, false)
	require.NoError(t, err)
	assert.True(t, stale.Available)
}

func TestResolveEmptyPayloadIsNoData(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{}
	fam, _, _ := newSeaFamily(t, f)

	res, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, ReasonNoData, res.Reason)

	cached, ok, err := fam.Cached(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ReasonNoData, cached.Reason)
}

func TestResolveIgnoresMalformedEntry(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{value: weather.Float(18.4)}
	fam, _, settings := newSeaFamily(t, f)

	require.NoError(t, settings.Set(ctx, "cache.sea_temp", "{garbage"))
	res, err := fam.Resolve(ctx, marseille, true)
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, 1, f.calls)
}

type brokenSettings struct{}

func (brokenSettings) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("db gone")
}
func (brokenSettings) Set(context.Context, string, string) error { return errors.New("db gone") }

func TestResolveSurfacesStoreFailure(t *testing.T) {
	f := &countingFetcher{value: weather.Float(18.4)}
	fam := NewFamily(FamilySeaTemp, SeaTempTTL, DefaultRetryAfter, f.Fetch, brokenSettings{}, zerolog.Nop())

	_, err := fam.Resolve(context.Background(), marseille, true)
	assert.Error(t, err)
	assert.Zero(t, f.calls)
}

func TestFamiliesSeaTempRemoteOption(t *testing.T) {
	ctx := context.Background()
	sea := &countingFetcher{value: weather.Float(18.4)}
	calls := map[string]int{}
	fs := NewFamilies(Fetchers{
		Forecast: func(context.Context, weather.Coordinates) (weather.Forecast, error) {
			calls[FamilyForecast]++
			return weather.Forecast{CurrentTempC: weather.Float(20)}, nil
		},
		SeaTemp: sea.Fetch,
		Metar: func(context.Context, weather.Coordinates) (weather.Metar, error) {
			calls[FamilyMetar]++
			return weather.Metar{}, errors.New("down")
		},
		Vigilance: func(context.Context, weather.Coordinates) (weather.Vigilance, error) {
			calls[FamilyVigilance]++
			return weather.Vigilance{Department: "13", Level: "green"}, nil
		},
	}, store.NewMemorySettings(), zerolog.Nop())

	snap, err := fs.Resolve(ctx, marseille, Options{AllowRemote: true})
	require.NoError(t, err)
	assert.Zero(t, sea.calls)
	assert.Equal(t, ReasonCacheOnly, snap.SeaTemp.Reason)
	assert.Equal(t, map[string]string{
		FamilyForecast:  "available",
		FamilySeaTemp:   "cache_only",
		FamilyMetar:     "fetch_failed",
		FamilyVigilance: "available",
	}, snap.Summary())

	snap, err = fs.Resolve(ctx, marseille, Options{AllowRemote: true, SeaTempRemote: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sea.calls)
	assert.True(t, snap.SeaTemp.Available)
	// Other families are within TTL or cool-down.
	assert.Equal(t, 1, calls[FamilyForecast])
	assert.Equal(t, 1, calls[FamilyMetar])
}
