// Package record defines the persisted analysis record and the store contract
// every persistence driver satisfies.
package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/KaramelBytes/equipstat/internal/analysis"
)

var (
	// ErrNotFound is returned when no record exists for the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrEmptyHistory is returned by Latest when the store holds no records.
	ErrEmptyHistory = errors.New("no records yet")
)

// DefaultNameLayout formats the label given to records created without a name.
const DefaultNameLayout = "Dataset 2006-01-02 15:04"

// Record is one immutable analysis result.
type Record struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	OriginalFilename string         `json:"original_filename"`
	SourceKey        string         `json:"source_key,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	TotalCount       int            `json:"total_count"`
	SkippedRows      int            `json:"skipped_rows"`
	AvgFlowrate      float64        `json:"avg_flowrate"`
	AvgPressure      float64        `json:"avg_pressure"`
	AvgTemperature   float64        `json:"avg_temperature"`
	TypeDistribution map[string]int `json:"type_distribution"`
}

// NewRecord carries everything a store needs to create a Record. The store
// assigns ID and CreatedAt.
type NewRecord struct {
	Name             string
	OriginalFilename string
	SourceKey        string
	Summary          analysis.Summary
	Skipped          int
}

// Store persists analysis records. Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, in NewRecord) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	Latest(ctx context.Context) (Record, error)
	List(ctx context.Context) ([]Record, error)
	// Delete removes a record. Administrative use only.
	Delete(ctx context.Context, id int64) error
	Close() error
}

// Build materializes in as a Record with the given identity.
func (in NewRecord) Build(id int64, createdAt time.Time) Record {
	createdAt = Timestamp(createdAt)
	name := in.Name
	if name == "" {
		name = createdAt.Format(DefaultNameLayout)
	}
	s := in.Summary.Clone()
	return Record{
		ID:               id,
		Name:             name,
		OriginalFilename: in.OriginalFilename,
		SourceKey:        in.SourceKey,
		CreatedAt:        createdAt,
		TotalCount:       s.TotalCount,
		SkippedRows:      in.Skipped,
		AvgFlowrate:      s.AvgFlowrate,
		AvgPressure:      s.AvgPressure,
		AvgTemperature:   s.AvgTemperature,
		TypeDistribution: s.TypeDistribution,
	}
}

// Validate rejects inputs that would break the record invariants.
func (in NewRecord) Validate() error {
	if in.Summary.TotalCount <= 0 {
		return fmt.Errorf("create record: %w", analysis.ErrEmptyDataset)
	}
	sum := 0
	for _, c := range in.Summary.TypeDistribution {
		sum += c
	}
	if sum != in.Summary.TotalCount {
		return fmt.Errorf("create record: type distribution sums to %d, total is %d", sum, in.Summary.TotalCount)
	}
	if in.Skipped < 0 {
		return fmt.Errorf("create record: negative skipped count %d", in.Skipped)
	}
	if err := in.Summary.CheckFinite(); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// Summary returns the statistics portion of r.
func (r Record) Summary() analysis.Summary {
	return analysis.Summary{
		TotalCount:       r.TotalCount,
		AvgFlowrate:      r.AvgFlowrate,
		AvgPressure:      r.AvgPressure,
		AvgTemperature:   r.AvgTemperature,
		TypeDistribution: r.TypeDistribution,
	}.Clone()
}

// Clone returns a copy of r that shares no map with it.
func (r Record) Clone() Record {
	c := r
	c.TypeDistribution = make(map[string]int, len(r.TypeDistribution))
	for k, v := range r.TypeDistribution {
		c.TypeDistribution[k] = v
	}
	return c
}

// Timestamp normalizes t to the precision every store round-trips.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Less reports whether a sorts before b in history order: newest first, ties
// broken by the higher id.
func Less(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// SortHistory orders recs newest first.
func SortHistory(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return Less(recs[i], recs[j]) })
}
