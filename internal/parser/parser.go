package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TableReader turns an uploaded payload into raw rows, header first.
type TableReader interface {
	CanParse(filename string) bool
	Parse(content []byte) ([][]string, error)
}

var (
	mu       sync.RWMutex
	registry []TableReader
	fallback TableReader = csvReader{}
)

// Register adds a reader implementation to the registry. Later registrations
// take precedence over earlier ones.
func Register(r TableReader) {
	mu.Lock()
	defer mu.Unlock()
	registry = append([]TableReader{r}, registry...)
}

// ReadTable selects a reader based on filename and returns the parsed rows.
// Unknown extensions are read as CSV.
func ReadTable(filename string, content []byte) ([][]string, error) {
	return readerFor(filename).Parse(content)
}

// ReadFile reads path from disk and parses it with ReadTable.
func ReadFile(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ReadTable(filepath.Base(path), data)
}

func readerFor(filename string) TableReader {
	mu.RLock()
	defer mu.RUnlock()
	for _, r := range registry {
		if r.CanParse(filename) {
			return r
		}
	}
	return fallback
}

func init() {
	// Register default readers
	Register(csvReader{})
	Register(tsvReader{})
	Register(xlsxReader{})
}
