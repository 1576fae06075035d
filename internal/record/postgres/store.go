// Package postgres persists analysis records in Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/KaramelBytes/equipstat/internal/record"
)

var _ record.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/equipstat?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const ddl = `CREATE TABLE IF NOT EXISTS analysis_records (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	original_filename TEXT NOT NULL DEFAULT '',
	source_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	total_count INTEGER NOT NULL CHECK (total_count > 0),
	skipped_rows INTEGER NOT NULL DEFAULT 0,
	avg_flowrate DOUBLE PRECISION NOT NULL,
	avg_pressure DOUBLE PRECISION NOT NULL,
	avg_temperature DOUBLE PRECISION NOT NULL,
	type_distribution JSONB NOT NULL
)`

const indexDDL = `CREATE INDEX IF NOT EXISTS analysis_records_history ON analysis_records (created_at DESC, id DESC)`

const columns = `id, name, original_filename, source_key, created_at, total_count, skipped_rows,
	avg_flowrate, avg_pressure, avg_temperature, type_distribution`

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a record.Store backed by Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and ensures the table exists.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range []string{ddl, indexDDL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure records table: %w", err)
		}
	}
	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Create inserts a record and returns it with the database-assigned id.
func (s *Store) Create(ctx context.Context, in record.NewRecord) (record.Record, error) {
	if err := in.Validate(); err != nil {
		return record.Record{}, err
	}
	rec := in.Build(0, s.now())
	dist, err := json.Marshal(rec.TypeDistribution)
	if err != nil {
		return record.Record{}, fmt.Errorf("encode distribution: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `INSERT INTO analysis_records (
		name, original_filename, source_key, created_at, total_count, skipped_rows,
		avg_flowrate, avg_pressure, avg_temperature, type_distribution
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb) RETURNING id`,
		rec.Name, rec.OriginalFilename, rec.SourceKey, rec.CreatedAt, rec.TotalCount,
		rec.SkippedRows, rec.AvgFlowrate, rec.AvgPressure, rec.AvgTemperature, string(dist)).Scan(&rec.ID)
	if err != nil {
		return record.Record{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// Get loads the record with id.
func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM analysis_records WHERE id = $1`, id)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_records WHERE id = $1`, id)
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

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (record.Record, error) {
	var (
		rec  record.Record
		dist []byte
	)
	if err := sc.Scan(&rec.ID, &rec.Name, &rec.OriginalFilename, &rec.SourceKey, &rec.CreatedAt,
		&rec.TotalCount, &rec.SkippedRows, &rec.AvgFlowrate, &rec.AvgPressure, &rec.AvgTemperature, &dist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, err
		}
		return record.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := json.Unmarshal(dist, &rec.TypeDistribution); err != nil {
		return record.Record{}, fmt.Errorf("decode distribution for %d: %w", rec.ID, err)
	}
	return rec, nil
}
