// Package recordtest holds the behavioral suite every record.Store driver must pass.
package recordtest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/equipstat/internal/analysis"
	"github.com/KaramelBytes/equipstat/internal/record"
)

// Factory opens a fresh, empty store whose records are stamped by now.
type Factory func(t *testing.T, now func() time.Time) record.Store

// Clock is a manually advanced, concurrency-safe time source.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewClock returns a clock starting at start that advances by step on every read.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{t: start, step: step}
}

// Now returns the current reading and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

// Start is the first reading of clocks built by the suite.
var Start = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

// Sample returns a valid NewRecord named name.
func Sample(name string) record.NewRecord {
	return record.NewRecord{
		Name:             name,
		OriginalFilename: "sample_equipment_data.csv",
		Summary: analysis.Summary{
			TotalCount:       3,
			AvgFlowrate:      20,
			AvgPressure:      30,
			AvgTemperature:   40.123456789,
			TypeDistribution: map[string]int{"A": 2, "B": 1},
		},
		Skipped: 1,
	}
}

// Run exercises open against the record.Store contract.
func Run(t *testing.T, open Factory) {
	t.Run("CreateThenGet", func(t *testing.T) {
		clock := NewClock(Start, time.Second)
		s := open(t, clock.Now)
		ctx := context.Background()

		in := Sample("plant-a")
		in.SourceKey = "uploads/abc/sample_equipment_data.csv"
		created, err := s.Create(ctx, in)
		require.NoError(t, err)
		assert.Positive(t, created.ID)
		assert.Equal(t, "plant-a", created.Name)
		assert.Equal(t, in.OriginalFilename, created.OriginalFilename)
		assert.Equal(t, in.SourceKey, created.SourceKey)
		assert.True(t, created.CreatedAt.Equal(Start.Truncate(time.Microsecond)), "created_at %s", created.CreatedAt)
		assert.Equal(t, time.UTC, created.CreatedAt.Location())
		assert.Equal(t, 3, created.TotalCount)
		assert.Equal(t, 1, created.SkippedRows)
		assert.Equal(t, 40.123456789, created.AvgTemperature)
		assert.Equal(t, map[string]int{"A": 2, "B": 1}, created.TypeDistribution)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
		got.CreatedAt = created.CreatedAt
		assert.Equal(t, created, got)
	})

	t.Run("DefaultName", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Second).Now)
		rec, err := s.Create(context.Background(), Sample(""))
		require.NoError(t, err)
		assert.Equal(t, "Dataset 2026-03-14 09:26", rec.Name)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Second).Now)
		_, err := s.Get(context.Background(), 4242)
		assert.ErrorIs(t, err, record.ErrNotFound)
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Second).Now)
		_, err := s.Latest(context.Background())
		assert.ErrorIs(t, err, record.ErrEmptyHistory)
		recs, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Second).Now)
		in := Sample("bad")
		in.Summary.TotalCount = 0
		in.Summary.TypeDistribution = map[string]int{}
		_, err := s.Create(context.Background(), in)
		assert.ErrorIs(t, err, analysis.ErrEmptyDataset)

		in = Sample("mismatch")
		in.Summary.TypeDistribution = map[string]int{"A": 1}
		_, err = s.Create(context.Background(), in)
		assert.Error(t, err)

		for _, bad := range []float64{math.Inf(-1), math.Inf(1), math.NaN()} {
			in = Sample("non-finite")
			in.Summary.AvgFlowrate = bad
			_, err = s.Create(context.Background(), in)
			assert.ErrorIs(t, err, analysis.ErrValidation)
		}

		recs, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("HistoryOrder", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Minute).Now)
		ctx := context.Background()
		var ids []int64
		for i := 0; i < 4; i++ {
			rec, err := s.Create(ctx, Sample(fmt.Sprintf("run-%d", i)))
			require.NoError(t, err)
			ids = append(ids, rec.ID)
		}
		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 4)
		for i := 1; i < len(recs); i++ {
			assert.True(t, recs[i-1].CreatedAt.After(recs[i].CreatedAt), "history not newest first")
		}
		assert.Equal(t, ids[3], recs[0].ID)
		latest, err := s.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, recs[0], latest)
	})

	t.Run("TiesBrokenByID", func(t *testing.T) {
		s := open(t, NewClock(Start, 0).Now)
		ctx := context.Background()
		a, err := s.Create(ctx, Sample("a"))
		require.NoError(t, err)
		b, err := s.Create(ctx, Sample("b"))
		require.NoError(t, err)
		require.Greater(t, b.ID, a.ID)

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, b.ID, recs[0].ID)
		latest, err := s.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, b.ID, latest.ID)
	})

	t.Run("IDsNeverReused", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Second).Now)
		ctx := context.Background()
		first, err := s.Create(ctx, Sample("first"))
		require.NoError(t, err)
		second, err := s.Create(ctx, Sample("second"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, second.ID))

		_, err = s.Get(ctx, second.ID)
		assert.ErrorIs(t, err, record.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, second.ID), record.ErrNotFound)

		third, err := s.Create(ctx, Sample("third"))
		require.NoError(t, err)
		assert.Greater(t, third.ID, second.ID)
		assert.Greater(t, second.ID, first.ID)
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Second).Now)
		ctx := context.Background()
		in := Sample("copy")
		rec, err := s.Create(ctx, in)
		require.NoError(t, err)

		in.Summary.TypeDistribution["A"] = 100
		rec.TypeDistribution["B"] = 100
		listed, err := s.List(ctx)
		require.NoError(t, err)
		listed[0].TypeDistribution["C"] = 1

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 2, "B": 1}, got.TypeDistribution)
	})

	t.Run("ConcurrentCreate", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Millisecond).Now)
		ctx := context.Background()
		const n = 16
		ids := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, err := s.Create(ctx, Sample(fmt.Sprintf("c-%d", i)))
				if assert.NoError(t, err) {
					ids <- rec.ID
				}
			}(i)
		}
		wg.Wait()
		close(ids)
		seen := make(map[int64]bool)
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
		recs, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, recs, n)
	})

	t.Run("Prune", func(t *testing.T) {
		s := open(t, NewClock(Start, time.Second).Now)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := s.Create(ctx, Sample(fmt.Sprintf("p-%d", i)))
			require.NoError(t, err)
		}
		deleted, err := record.Prune(ctx, s, 2)
		require.NoError(t, err)
		require.Len(t, deleted, 3)
		assert.Equal(t, "p-2", deleted[0].Name)

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "p-4", recs[0].Name)
		assert.Equal(t, "p-3", recs[1].Name)

		deleted, err = record.Prune(ctx, s, 10)
		require.NoError(t, err)
		assert.Empty(t, deleted)
	})
}
