package analysis

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks uploads whose header does not satisfy the column contract.
	ErrValidation = errors.New("dataset validation failed")
	// ErrEmptyDataset indicates that no valid data rows remain after validation.
	ErrEmptyDataset = errors.New("dataset has no valid rows")
	// ErrMalformedTable indicates the payload could not be read as a table at all.
	ErrMalformedTable = errors.New("malformed table")
)

// ValidationError lists the required columns missing from an uploaded header.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing columns: %s", strings.Join(e.Missing, ", "))
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
