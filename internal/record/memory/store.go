// Package memory implements an in-process record.Store. Intended for tests and
// ephemeral servers.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/KaramelBytes/equipstat/internal/record"
)

var _ record.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps records in a mutex-guarded slice.
type Store struct {
	mu     sync.RWMutex
	recs   []record.Record
	nextID int64
	now    func() time.Time
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{nextID: 1, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create assigns the next id and the current time.
func (s *Store) Create(ctx context.Context, in record.NewRecord) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	if err := in.Validate(); err != nil {
		return record.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := in.Build(s.nextID, s.now())
	s.nextID++
	s.recs = append(s.recs, rec)
	return rec.Clone(), nil
}

// Get returns a copy of the record with id.
func (s *Store) Get(ctx context.Context, id int64) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recs {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return record.Record{}, record.ErrNotFound
}

// Latest returns the newest record.
func (s *Store) Latest(ctx context.Context) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.recs) == 0 {
		return record.Record{}, record.ErrEmptyHistory
	}
	best := s.recs[0]
	for _, r := range s.recs[1:] {
		if record.Less(r, best) {
			best = r
		}
	}
	return best.Clone(), nil
}

// List returns copies of all records, newest first.
func (s *Store) List(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]record.Record, len(s.recs))
	for i, r := range s.recs {
		out[i] = r.Clone()
	}
	s.mu.RUnlock()
	record.SortHistory(out)
	return out, nil
}

// Delete removes the record with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.recs {
		if r.ID == id {
			s.recs = append(s.recs[:i], s.recs[i+1:]...)
			return nil
		}
	}
	return record.ErrNotFound
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
