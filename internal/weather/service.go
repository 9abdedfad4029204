package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Service orchestrates station ingestion and the readings table.
type Service struct {
	source    StationSource
	store     Store
	tracker   PositionUpdater
	publisher Publisher
	loc       *time.Location
	log       zerolog.Logger
}

// NewService creates a new Service. tracker and publisher may be nil.
func NewService(source StationSource, store Store, tracker PositionUpdater, publisher Publisher, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		source:    source,
		store:     store,
		tracker:   tracker,
		publisher: publisher,
		loc:       loc,
		log:       logger,
	}
}

// Location returns the station timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// FetchResult summarizes one ingestion cycle.
type FetchResult struct {
	Reading         Reading
	PositionUpdated bool
}

// FetchAndStore fetches the station, derives the computed columns and upserts
// the floored row. Re-running it for the same bucket never erases values
// already stored.
func (s *Service) FetchAndStore(ctx context.Context) (FetchResult, error) {
	if s.source == nil {
		return FetchResult{}, errors.New("no station source configured")
	}

	obs, err := s.source.FetchStation(ctx)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch station: %w", err)
	}
	if obs.MeasuredAt.IsZero() {
		obs.MeasuredAt = time.Now()
	}

	reading := Derive(obs, s.loc)
	if err := s.store.UpsertReading(ctx, reading); err != nil {
		return FetchResult{}, fmt.Errorf("upsert reading %s: %w", reading.Key(), err)
	}

	res := FetchResult{Reading: reading}
	if s.tracker != nil {
		updated, err := s.tracker.MaybeUpdate(ctx, obs.Position)
		if err != nil {
			return res, fmt.Errorf("update station position: %w", err)
		}
		res.PositionUpdated = updated
	}

	if s.publisher != nil {
		if err := s.publisher.PublishReading(ctx, reading); err != nil {
			// Downstream consumers are best effort; the row is already stored.
			s.log.Warn().Err(err).Str("datetime", reading.Key()).Msg("publish reading failed")
		}
	}

	return res, nil
}

// RecomputeDay recomputes Tmax/Tmin and D/A for every row of the day
// containing now (station time).
func (s *Service) RecomputeDay(ctx context.Context, now time.Time) (int, error) {
	lt := now.In(s.loc)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc)
	return s.store.RecomputeDay(ctx, day, AggregateDay)
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(ctx context.Context) (Reading, error) {
	return s.store.GetLatest(ctx)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(ctx context.Context, from, to time.Time) ([]Reading, error) {
	return s.store.GetRange(ctx, from, to)
}
