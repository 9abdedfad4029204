package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/station-dashboard/internal/weather"
)

var (
	// ErrNotFound is returned when the readings table has no matching row.
	ErrNotFound = errors.New("no readings")
)

// MemorySettings is a concurrency-safe in-memory SettingsStore. Values do
// not survive a restart; it backs tests and SETTINGS_BACKEND=memory.
type MemorySettings struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{data: make(map[string]string)}
}

func (s *MemorySettings) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemorySettings) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// MemoryReadings is an in-memory readings table with the same merge
// semantics as the SQL one.
type MemoryReadings struct {
	mu sync.RWMutex

	// key: DateTimeLayout string
	rows map[string]weather.Reading

	// max number of rows kept; <= 0 is unlimited
	maxRows int
}

func NewMemoryReadings(maxRows int) *MemoryReadings {
	return &MemoryReadings{
		rows:    make(map[string]weather.Reading),
		maxRows: maxRows,
	}
}

func (s *MemoryReadings) UpsertReading(_ context.Context, r weather.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	if prev, ok := s.rows[key]; ok {
		r = merge(prev, r)
	}
	s.rows[key] = r

	if s.maxRows > 0 && len(s.rows) > s.maxRows {
		keys := s.sortedKeys()
		for _, k := range keys[:len(keys)-s.maxRows] {
			delete(s.rows, k)
		}
	}
	return nil
}

func (s *MemoryReadings) GetLatest(_ context.Context) (weather.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.sortedKeys()
	if len(keys) == 0 {
		return weather.Reading{}, ErrNotFound
	}
	return s.rows[keys[len(keys)-1]], nil
}

// GetRange returns rows between from and to (inclusive), oldest first.
func (s *MemoryReadings) GetRange(_ context.Context, from, to time.Time) ([]weather.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Reading
	for _, k := range s.sortedKeys() {
		r := s.rows[k]
		if !r.DateTime.Before(from) && !r.DateTime.After(to) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryReadings) RecomputeDay(_ context.Context, day time.Time, fn func([]weather.Reading) ([]weather.Reading, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := day.AddDate(0, 0, 1)
	var rows []weather.Reading
	for _, k := range s.sortedKeys() {
		r := s.rows[k]
		if !r.DateTime.Before(day) && r.DateTime.Before(next) {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	out, err := fn(rows)
	if err != nil {
		return 0, err
	}
	for _, r := range out {
		s.rows[r.Key()] = r
	}
	return len(out), nil
}

func (s *MemoryReadings) sortedKeys() []string {
	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// merge keeps prev's value for every column next leaves nil.
func merge(prev, next weather.Reading) weather.Reading {
	pick := func(n, p *float64) *float64 {
		if n != nil {
			return n
		}
		return p
	}
	next.T = pick(next.T, prev.T)
	next.H = pick(next.H, prev.H)
	next.W = pick(next.W, prev.W)
	next.G = pick(next.G, prev.G)
	next.B = pick(next.B, prev.B)
	next.RR = pick(next.RR, prev.RR)
	next.R = pick(next.R, prev.R)
	next.P = pick(next.P, prev.P)
	next.D = pick(next.D, prev.D)
	next.A = pick(next.A, prev.A)
	next.Tmax = pick(next.Tmax, prev.Tmax)
	next.Tmin = pick(next.Tmin, prev.Tmin)
	return next
}
