package geocode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS geocode (
	query      TEXT PRIMARY KEY,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLiteStore keeps entries in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; also keeps a :memory: database alive on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create geocode table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (models.Coordinate, bool, error) {
	var c models.Coordinate
	err := s.db.QueryRowContext(ctx, `SELECT lat, lon FROM geocode WHERE query = ?`, key).Scan(&c.Lat, &c.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Coordinate{}, false, nil
	}
	if err != nil {
		return models.Coordinate{}, false, fmt.Errorf("select %s: %w", key, err)
	}
	return c, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, c models.Coordinate) error {
	query := `
		INSERT INTO geocode (query, lat, lon, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (query) DO UPDATE SET lat = excluded.lat, lon = excluded.lon, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, c.Lat, c.Lon, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
