package record

import (
	"context"
	"errors"
	"fmt"
)

// Prune deletes every record past the newest keep records and returns the
// deleted ones, newest first.
func Prune(ctx context.Context, s Store, keep int) ([]Record, error) {
	if keep < 0 {
		return nil, fmt.Errorf("prune: keep must be >= 0, got %d", keep)
	}
	recs, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("prune: list: %w", err)
	}
	if len(recs) <= keep {
		return nil, nil
	}
	victims := recs[keep:]
	deleted := make([]Record, 0, len(victims))
	for _, r := range victims {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := s.Delete(ctx, r.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, fmt.Errorf("prune: delete %d: %w", r.ID, err)
		}
		deleted = append(deleted, r)
	}
	return deleted, nil
}
