package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// ErrMalformed is returned by the typed getters when a stored value cannot be
// decoded. Callers usually treat it as a miss: the value gets overwritten.
var ErrMalformed = errors.New("malformed setting")

// SettingsStore is the durable key/value store for configuration and cached
// JSON blobs. A missing key is reported with ok=false, not an error.
type SettingsStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// SQLSettings stores settings in the settings table.
type SQLSettings struct {
	db *DB
}

func NewSQLSettings(db *DB) *SQLSettings {
	return &SQLSettings{db: db}
}

func (s *SQLSettings) Get(ctx context.Context, key string) (string, bool, error) {
	query, args, err := s.db.sb.Select("value").From("settings").Where(sq.Eq{"name": key}).ToSql()
	if err != nil {
		return "", false, err
	}
	var val string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return val, true, nil
}

func (s *SQLSettings) Set(ctx context.Context, key, value string) error {
	query, args, err := s.db.sb.Insert("settings").
		Columns("name", "value").
		Values(key, value).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the JSON blob stored under key into a T.
func GetJSON[T any](ctx context.Context, s SettingsStore, key string) (T, bool, error) {
	var v T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s SettingsStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}

// GetFloat returns the numeric value stored under key. Empty, non-numeric
// and non-finite values are reported as absent.
func GetFloat(ctx context.Context, s SettingsStore, key string) (float64, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, nil
	}
	return f, true, nil
}

// SetFloat stores f with the shortest exact representation.
func SetFloat(ctx context.Context, s SettingsStore, key string, f float64) error {
	return s.Set(ctx, key, strconv.FormatFloat(f, 'f', -1, 64))
}

// GetBool returns the boolean stored under key; unparseable values are false.
func GetBool(ctx context.Context, s SettingsStore, key string) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, _ := strconv.ParseBool(strings.TrimSpace(raw))
	return b, nil
}
