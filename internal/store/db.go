package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// DB wraps the sql.DB connection together with a statement builder using the
// driver's placeholder format.
type DB struct {
	*sql.DB
	Driver string
	sb     sq.StatementBuilderType
}

// Open connects to the database and runs migrations. driver is "sqlite"
// (dsn is a file path or ":memory:") or "pgx" (dsn is a PostgreSQL URL).
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite":
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create db dir: %w", err)
			}
		}
	case "pgx":
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	d := &DB{DB: db, Driver: driver, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if driver == "sqlite" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
		// Single writer connection avoids SQLITE_BUSY between our own statements.
		db.SetMaxOpenConns(1)
	} else {
		d.sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
	}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			name VARCHAR(191) PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			datetime VARCHAR(19) PRIMARY KEY,
			t DOUBLE PRECISION,
			h DOUBLE PRECISION,
			w DOUBLE PRECISION,
			g DOUBLE PRECISION,
			b DOUBLE PRECISION,
			rr DOUBLE PRECISION,
			r DOUBLE PRECISION,
			p DOUBLE PRECISION,
			d DOUBLE PRECISION,
			a DOUBLE PRECISION,
			tmax DOUBLE PRECISION,
			tmin DOUBLE PRECISION
		)`,
	}
	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
