package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/i474232898/station-dashboard/internal/weather"
)

var readingColumns = []string{"t", "h", "w", "g", "b", "rr", "r", "p", "d", "a", "tmax", "tmin"}

// SQLReadings implements weather.Store on the readings table.
type SQLReadings struct {
	db  *DB
	loc *time.Location
}

// NewSQLReadings creates a readings store. loc is the station timezone the
// datetime keys are expressed in.
func NewSQLReadings(db *DB, loc *time.Location) *SQLReadings {
	if loc == nil {
		loc = time.UTC
	}
	return &SQLReadings{db: db, loc: loc}
}

func values(r weather.Reading) []any {
	return []any{r.T, r.H, r.W, r.G, r.B, r.RR, r.R, r.P, r.D, r.A, r.Tmax, r.Tmin}
}

func upsertSuffix() string {
	sets := make([]string, len(readingColumns))
	for i, c := range readingColumns {
		sets[i] = fmt.Sprintf("%s = COALESCE(excluded.%s, readings.%s)", c, c, c)
	}
	return "ON CONFLICT (datetime) DO UPDATE SET " + strings.Join(sets, ", ")
}

// UpsertReading inserts r, or merges it into the existing row keeping stored
// values for every column r leaves nil.
func (s *SQLReadings) UpsertReading(ctx context.Context, r weather.Reading) error {
	query, args, err := s.db.sb.Insert("readings").
		Columns(append([]string{"datetime"}, readingColumns...)...).
		Values(append([]any{r.DateTime.In(s.loc).Format(weather.DateTimeLayout)}, values(r)...)...).
		Suffix(upsertSuffix()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert reading: %w", err)
	}
	return nil
}

func (s *SQLReadings) selectBase() sq.SelectBuilder {
	return s.db.sb.Select(append([]string{"datetime"}, readingColumns...)...).From("readings")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLReadings) scan(row rowScanner) (weather.Reading, error) {
	var (
		r  weather.Reading
		dt string
	)
	if err := row.Scan(&dt, &r.T, &r.H, &r.W, &r.G, &r.B, &r.RR, &r.R, &r.P, &r.D, &r.A, &r.Tmax, &r.Tmin); err != nil {
		return r, err
	}
	t, err := time.ParseInLocation(weather.DateTimeLayout, dt, s.loc)
	if err != nil {
		return r, fmt.Errorf("bad datetime %q: %w", dt, err)
	}
	r.DateTime = t
	return r, nil
}

func (s *SQLReadings) GetLatest(ctx context.Context) (weather.Reading, error) {
	query, args, err := s.selectBase().OrderBy("datetime DESC").Limit(1).ToSql()
	if err != nil {
		return weather.Reading{}, err
	}
	r, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return weather.Reading{}, ErrNotFound
	}
	if err != nil {
		return weather.Reading{}, fmt.Errorf("get latest reading: %w", err)
	}
	return r, nil
}

// GetRange returns rows between from and to (inclusive), oldest first.
func (s *SQLReadings) GetRange(ctx context.Context, from, to time.Time) ([]weather.Reading, error) {
	query, args, err := s.selectBase().
		Where(sq.GtOrEq{"datetime": from.In(s.loc).Format(weather.DateTimeLayout)}).
		Where(sq.LtOrEq{"datetime": to.In(s.loc).Format(weather.DateTimeLayout)}).
		OrderBy("datetime ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.query(ctx, s.db.DB, query, args)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLReadings) query(ctx context.Context, q queryer, query string, args []any) ([]weather.Reading, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []weather.Reading
	for rows.Next() {
		r, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecomputeDay loads every row of day, passes them through fn and writes the
// result back in one transaction. Any error rolls the whole day back.
func (s *SQLReadings) RecomputeDay(ctx context.Context, day time.Time, fn func([]weather.Reading) ([]weather.Reading, error)) (int, error) {
	start := day.In(s.loc)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.selectBase().
		Where(sq.GtOrEq{"datetime": start.Format(weather.DateTimeLayout)}).
		Where(sq.Lt{"datetime": end.Format(weather.DateTimeLayout)}).
		OrderBy("datetime ASC").
		ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := s.query(ctx, tx, query, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	out, err := fn(rows)
	if err != nil {
		return 0, err
	}

	for _, r := range out {
		upd, uargs, err := s.db.sb.Update("readings").
			Set("tmax", r.Tmax).
			Set("tmin", r.Tmin).
			Set("d", r.D).
			Set("a", r.A).
			Where(sq.Eq{"datetime": r.DateTime.In(s.loc).Format(weather.DateTimeLayout)}).
			ToSql()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, upd, uargs...); err != nil {
			return 0, fmt.Errorf("update reading %s: %w", r.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(out), nil
}
