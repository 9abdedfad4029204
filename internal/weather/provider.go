package weather

import (
	"context"
	"time"
)

// StationSource fetches the latest station payload (Netatmo).
type StationSource interface {
	FetchStation(ctx context.Context) (Observation, error)
}

// Store is the contract the readings table implementation must satisfy.
type Store interface {
	// UpsertReading inserts r or, on an existing key, keeps stored values
	// for every column r leaves nil.
	UpsertReading(ctx context.Context, r Reading) error
	GetLatest(ctx context.Context) (Reading, error)
	GetRange(ctx context.Context, from, to time.Time) ([]Reading, error)
	// RecomputeDay rewrites the day's rows through fn inside one transaction
	// and returns the number of rows updated.
	RecomputeDay(ctx context.Context, day time.Time, fn func([]Reading) ([]Reading, error)) (int, error)
}

// PositionUpdater receives every observed station position.
type PositionUpdater interface {
	MaybeUpdate(ctx context.Context, observed Position) (bool, error)
}

// Publisher forwards ingested readings to downstream consumers.
type Publisher interface {
	PublishReading(ctx context.Context, r Reading) error
}
