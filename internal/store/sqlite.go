package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/labfleet/repair-engine/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS diagnoses (
	id         TEXT PRIMARY KEY,
	host       TEXT NOT NULL,
	strategy   TEXT NOT NULL,
	state      TEXT NOT NULL,
	healthy    INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diagnoses_host ON diagnoses(host, started_at DESC);
`

// SQLiteStore persists diagnoses in a SQLite database. The full diagnosis
// is stored as JSON next to a few indexed columns.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path
func NewSQLiteStore(ctx context.Context, path string, log *logrus.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.WithField("path", path).Info("Diagnosis store opened")
	return &SQLiteStore{db: db, log: log}, nil
}

// Save implements Store
func (s *SQLiteStore) Save(ctx context.Context, diag *models.Diagnosis) error {
	payload, err := encode(diag)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO diagnoses (id, host, strategy, state, healthy, started_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			healthy = excluded.healthy,
			payload = excluded.payload`,
		diag.ID, diag.Host, diag.Strategy, string(diag.State), diag.Healthy, diag.StartedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save diagnosis %s: %w", diag.ID, err)
	}
	return nil
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Diagnosis, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM diagnoses WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load diagnosis %s: %w", id, err)
	}
	return decode([]byte(payload))
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context, host string, limit int) ([]*models.Diagnosis, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM diagnoses
		WHERE host = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnoses for %s: %w", host, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close rows")
		}
	}()

	var out []*models.Diagnosis
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan diagnosis: %w", err)
		}
		diag, err := decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, diag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list diagnoses for %s: %w", host, err)
	}
	if out == nil {
		out = []*models.Diagnosis{}
	}
	return out, nil
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
