package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KaramelBytes/equipstat/internal/analysis"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvReader struct{}

func (csvReader) CanParse(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".csv")
}

func (csvReader) Parse(content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	return readDelimited(content, sniffDelimiter(content))
}

type tsvReader struct{}

func (tsvReader) CanParse(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".tsv")
}

func (tsvReader) Parse(content []byte) ([][]string, error) {
	return readDelimited(bytes.TrimPrefix(content, utf8BOM), '\t')
}

func readDelimited(content []byte, delim rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comma = delim

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", analysis.ErrMalformedTable, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// sniffDelimiter picks the most frequent of ',', ';' and '\t' in the header
// line, preferring ',' on ties.
func sniffDelimiter(content []byte) rune {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	best, bestN := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
