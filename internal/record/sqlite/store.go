// Package sqlite persists analysis records in a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/KaramelBytes/equipstat/internal/record"
)

var _ record.Store = (*Store)(nil)

var schema = []string{`CREATE TABLE IF NOT EXISTS analysis_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	original_filename TEXT NOT NULL DEFAULT '',
	source_key TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	total_count INTEGER NOT NULL,
	skipped_rows INTEGER NOT NULL DEFAULT 0,
	avg_flowrate REAL NOT NULL,
	avg_pressure REAL NOT NULL,
	avg_temperature REAL NOT NULL,
	type_distribution TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS analysis_records_history ON analysis_records (created_at DESC, id DESC)`,
}

const columns = `id, name, original_filename, source_key, created_at, total_count, skipped_rows,
	avg_flowrate, avg_pressure, avg_temperature, type_distribution`

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a record.Store backed by modernc.org/sqlite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) the database at path and ensures the schema.
func NewStore(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = "equipstat.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	s := &Store{db: db, path: path, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Create inserts a record in a single statement.
func (s *Store) Create(ctx context.Context, in record.NewRecord) (record.Record, error) {
	if err := in.Validate(); err != nil {
		return record.Record{}, err
	}
	rec := in.Build(0, s.now())
	dist, err := json.Marshal(rec.TypeDistribution)
	if err != nil {
		return record.Record{}, fmt.Errorf("encode distribution: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO analysis_records (
		name, original_filename, source_key, created_at, total_count, skipped_rows,
		avg_flowrate, avg_pressure, avg_temperature, type_distribution
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.OriginalFilename, rec.SourceKey, rec.CreatedAt.UnixMicro(), rec.TotalCount,
		rec.SkippedRows, rec.AvgFlowrate, rec.AvgPressure, rec.AvgTemperature, string(dist))
	if err != nil {
		return record.Record{}, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return record.Record{}, fmt.Errorf("insert record: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// Get loads the record with id.
func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM analysis_records WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, record.ErrNotFound
	}
	return rec, err
}

// Latest loads the newest record.
func (s *Store) Latest(ctx context.Context) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM analysis_records ORDER BY created_at DESC, id DESC LIMIT 1`)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, record.ErrEmptyHistory
	}
	return rec, err
}

// List loads every record, newest first.
func (s *Store) List(ctx context.Context) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM analysis_records ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []record.Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Delete removes the record with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return record.ErrNotFound
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (record.Record, error) {
	var (
		rec     record.Record
		created int64
		dist    string
	)
	if err := sc.Scan(&rec.ID, &rec.Name, &rec.OriginalFilename, &rec.SourceKey, &created,
		&rec.TotalCount, &rec.SkippedRows, &rec.AvgFlowrate, &rec.AvgPressure, &rec.AvgTemperature, &dist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, err
		}
		return record.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.CreatedAt = time.UnixMicro(created).UTC()
	if err := json.Unmarshal([]byte(dist), &rec.TypeDistribution); err != nil {
		return record.Record{}, fmt.Errorf("decode distribution for %d: %w", rec.ID, err)
	}
	return rec, nil
}
