package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Required column names. Matching against an uploaded header is case-insensitive.
const (
	ColFlowrate    = "flowrate"
	ColPressure    = "pressure"
	ColTemperature = "temperature"
	ColType        = "type"
)

// RequiredColumns is the fixed column contract every upload must satisfy.
var RequiredColumns = []string{ColFlowrate, ColPressure, ColTemperature, ColType}

// maxIssues bounds how many rejected rows are described individually.
const maxIssues = 20

// Row is one validated measurement line.
type Row struct {
	Flowrate    float64
	Pressure    float64
	Temperature float64
	Type        string
}

// RowIssue describes a data row dropped during validation.
// Line is 1-based and counts the header as line 1.
type RowIssue struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Dataset is the typed result of validating a raw table.
type Dataset struct {
	Rows    []Row
	Skipped int
	Issues  []RowIssue
}

type columnIndex struct {
	flowrate, pressure, temperature, typ int
}

// Validate checks a raw table (header first) against the column contract and
// converts its data rows into typed Rows.
//
// Rows whose numeric cells fail to parse, or whose type is blank, are dropped and
// counted in Dataset.Skipped. Validation fails with ErrEmptyDataset only when no
// row survives.
func Validate(table [][]string) (*Dataset, error) {
	if len(table) == 0 {
		return nil, ErrEmptyDataset
	}
	idx, err := resolveColumns(table[0])
	if err != nil {
		return nil, err
	}
	body := table[1:]
	ds := &Dataset{Rows: make([]Row, 0, len(body))}
	for i, rec := range body {
		if blankRecord(rec) {
			continue
		}
		row, reason := parseRow(rec, idx)
		if reason != "" {
			ds.Skipped++
			if len(ds.Issues) < maxIssues {
				ds.Issues = append(ds.Issues, RowIssue{Line: i + 2, Reason: reason})
			}
			continue
		}
		ds.Rows = append(ds.Rows, row)
	}
	if len(ds.Rows) == 0 {
		if ds.Skipped > 0 {
			return nil, fmt.Errorf("%w: all %d data rows were rejected", ErrEmptyDataset, ds.Skipped)
		}
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

func resolveColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := pos[name]; !seen {
			pos[name] = i
		}
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := pos[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return columnIndex{}, &ValidationError{Missing: missing}
	}
	return columnIndex{
		flowrate:    pos[ColFlowrate],
		pressure:    pos[ColPressure],
		temperature: pos[ColTemperature],
		typ:         pos[ColType],
	}, nil
}

func parseRow(rec []string, idx columnIndex) (Row, string) {
	var row Row
	var reason string
	if row.Flowrate, reason = numericCell(rec, idx.flowrate, ColFlowrate); reason != "" {
		return Row{}, reason
	}
	if row.Pressure, reason = numericCell(rec, idx.pressure, ColPressure); reason != "" {
		return Row{}, reason
	}
	if row.Temperature, reason = numericCell(rec, idx.temperature, ColTemperature); reason != "" {
		return Row{}, reason
	}
	if idx.typ >= len(rec) {
		return Row{}, "missing type"
	}
	row.Type = strings.TrimSpace(rec[idx.typ])
	if row.Type == "" {
		return Row{}, "empty type"
	}
	return row, ""
}

func numericCell(rec []string, i int, name string) (float64, string) {
	if i >= len(rec) {
		return 0, "missing " + name
	}
	raw := strings.TrimSpace(strings.ReplaceAll(rec[i], "\u00a0", " "))
	if raw == "" {
		return 0, "empty " + name
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || hexLiteral(raw) {
		return 0, fmt.Sprintf("invalid %s %q", name, raw)
	}
	return f, ""
}

// hexLiteral reports Go hex-float syntax such as 0x1p4, which ParseFloat accepts
// but plain decimal data never contains.
func hexLiteral(raw string) bool {
	raw = strings.TrimLeft(raw, "+-")
	return strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X")
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
