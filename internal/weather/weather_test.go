package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	assert.Equal(t, 0.0, Distance(48.8566, 2.3522, 48.8566, 2.3522))

	half := Distance(0, 0, 0, 180)
	assert.InDelta(t, 20015, half, 20015*0.01)

	// Paris - Marseille is about 660 km.
	assert.InDelta(t, 661, Distance(48.8566, 2.3522, 43.2965, 5.3698), 10)
}

func TestSameAnchor(t *testing.T) {
	base := Coordinates{Lat: 43.3, Lon: 5.4}
	assert.True(t, SameAnchor(base, Coordinates{Lat: 43.30005, Lon: 5.40005}))
	assert.False(t, SameAnchor(base, Coordinates{Lat: 43.3002, Lon: 5.4}))
	assert.False(t, SameAnchor(base, Coordinates{Lat: 43.9, Lon: 6.1}))
}

func TestFloorBucket(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	in := time.Date(2024, 1, 1, 9, 7, 42, 0, time.UTC) // 10:07:42 in Paris
	got := FloorBucket(in, loc)
	assert.Equal(t, "2024-01-01 10:05:00", got.Format(DateTimeLayout))

	exact := time.Date(2024, 1, 1, 10, 0, 0, 0, loc)
	assert.Equal(t, exact, FloorBucket(exact, loc))
}

func TestDewPointAndApparent(t *testing.T) {
	// 20°C / 50% gives a dew point close to 9.3°C.
	assert.InDelta(t, 9.3, DewPoint(20, 50), 0.1)
	// Saturated air: dew point equals temperature.
	assert.InDelta(t, 15, DewPoint(15, 100), 1e-6)

	calm := ApparentTemperature(25, 60, 0)
	windy := ApparentTemperature(25, 60, 36)
	assert.Greater(t, calm, windy)
	assert.InDelta(t, 7.0, calm-windy, 1e-6) // 10 m/s * 0.70
}

func TestDeriveComputesDerivedColumns(t *testing.T) {
	obs := Observation{
		MeasuredAt:  time.Date(2024, 1, 1, 10, 3, 0, 0, time.UTC),
		Temperature: Float(12),
		Humidity:    Float(80),
		WindSpeed:   Float(10),
	}
	r := Derive(obs, time.UTC)

	assert.Equal(t, "2024-01-01 10:00:00", r.Key())
	require.NotNil(t, r.D)
	require.NotNil(t, r.A)
	assert.InDelta(t, 8.7, *r.D, 0.1)
}

func TestDeriveWithoutHumidityLeavesDerivedNil(t *testing.T) {
	r := Derive(Observation{MeasuredAt: time.Now(), Temperature: Float(12)}, time.UTC)
	assert.Nil(t, r.D)
	assert.Nil(t, r.A)
}

func TestAggregateDay(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Reading{
		{DateTime: day.Add(10 * time.Minute), T: Float(4), H: Float(90)},
		{DateTime: day.Add(20 * time.Minute), T: nil, H: Float(91), D: Float(1.5)},
		{DateTime: day.Add(30 * time.Minute), T: Float(9), H: Float(70), W: Float(5)},
	}

	out, err := AggregateDay(rows)
	require.NoError(t, err)
	require.Len(t, out, 3)

	for _, r := range out {
		assert.Equal(t, 9.0, *r.Tmax)
		assert.Equal(t, 4.0, *r.Tmin)
	}
	// A row without temperature keeps its stored dew point.
	assert.Equal(t, 1.5, *out[1].D)
	assert.NotNil(t, out[2].A)

	again, err := AggregateDay(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestAggregateDayRejectsInconsistentRow(t *testing.T) {
	_, err := AggregateDay([]Reading{{DateTime: time.Now(), T: Float(3), H: Float(140)}})
	assert.ErrorIs(t, err, ErrInconsistentRow)
}

type fakeSource struct {
	obs Observation
	err error
}

func (f fakeSource) FetchStation(context.Context) (Observation, error) { return f.obs, f.err }

type fakeStore struct {
	upserted []Reading
}

func (f *fakeStore) UpsertReading(_ context.Context, r Reading) error {
	f.upserted = append(f.upserted, r)
	return nil
}
func (f *fakeStore) GetLatest(context.Context) (Reading, error) { return Reading{}, nil }
func (f *fakeStore) GetRange(context.Context, time.Time, time.Time) ([]Reading, error) {
	return nil, nil
}
func (f *fakeStore) RecomputeDay(_ context.Context, _ time.Time, fn func([]Reading) ([]Reading, error)) (int, error) {
	out, err := fn(f.upserted)
	return len(out), err
}

type fakeTracker struct{ seen []Position }

func (f *fakeTracker) MaybeUpdate(_ context.Context, p Position) (bool, error) {
	f.seen = append(f.seen, p)
	return true, nil
}

type failingPublisher struct{}

func (failingPublisher) PublishReading(context.Context, Reading) error {
	return errors.New("broker down")
}

func TestServiceFetchAndStore(t *testing.T) {
	store := &fakeStore{}
	tracker := &fakeTracker{}
	src := fakeSource{obs: Observation{
		MeasuredAt:  time.Date(2024, 1, 1, 10, 4, 59, 0, time.UTC),
		Temperature: Float(12),
		Position:    Position{Lat: Float(43.3), Lon: Float(5.4)},
	}}
	svc := NewService(src, store, tracker, failingPublisher{}, time.UTC, zerolog.Nop())

	res, err := svc.FetchAndStore(context.Background())
	require.NoError(t, err)
	assert.True(t, res.PositionUpdated)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "2024-01-01 10:00:00", store.upserted[0].Key())
	require.Len(t, tracker.seen, 1)
	assert.Equal(t, 43.3, *tracker.seen[0].Lat)
}

func TestServiceFetchFailureStoresNothing(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(fakeSource{err: errors.New("timeout")}, store, nil, nil, time.UTC, zerolog.Nop())

	_, err := svc.FetchAndStore(context.Background())
	assert.Error(t, err)
	assert.Empty(t, store.upserted)
}
