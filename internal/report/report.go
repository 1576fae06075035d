// Package report renders stored analysis records as PDF documents.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/KaramelBytes/equipstat/internal/analysis"
	"github.com/KaramelBytes/equipstat/internal/record"
)

// Title heads every report.
const Title = "Chemical Equipment Parameter Report"

// UploadedAtLayout formats the record timestamp in reports.
const UploadedAtLayout = "2006-01-02 15:04:05"

// Field is one labelled line of a report.
type Field struct {
	Label string
	Value string
}

func (f Field) String() string { return f.Label + ": " + f.Value }

// Document is the renderer-independent content of a report.
type Document struct {
	Title        string
	Header       []Field
	Summary      []Field
	Distribution []analysis.TypeCount
}

// Content derives the report content for rec. The distribution is ordered by
// type ascending.
func Content(rec *record.Record) Document {
	return Document{
		Title: Title,
		Header: []Field{
			{"Dataset Name", rec.Name},
			{"Original File", rec.OriginalFilename},
			{"Uploaded At", rec.CreatedAt.UTC().Format(UploadedAtLayout)},
		},
		Summary: []Field{
			{"Total Equipment Count", fmt.Sprintf("%d", rec.TotalCount)},
			{"Average Flowrate", fmt.Sprintf("%.2f", rec.AvgFlowrate)},
			{"Average Pressure", fmt.Sprintf("%.2f", rec.AvgPressure)},
			{"Average Temperature", fmt.Sprintf("%.2f", rec.AvgTemperature)},
		},
		Distribution: rec.Summary().SortedTypes(),
	}
}

// Lines flattens the document into plain text lines in reading order.
func (d Document) Lines() []string {
	lines := []string{d.Title}
	for _, f := range d.Header {
		lines = append(lines, f.String())
	}
	lines = append(lines, sectionSummary)
	for _, f := range d.Summary {
		lines = append(lines, f.String())
	}
	lines = append(lines, sectionDistribution)
	for _, tc := range d.Distribution {
		lines = append(lines, fmt.Sprintf("%s: %d", tc.Type, tc.Count))
	}
	return lines
}

// Filename is the download name of the report for rec.
func Filename(rec *record.Record) string {
	return fmt.Sprintf("equipment_report_%d.pdf", rec.ID)
}

const (
	sectionSummary      = "Summary Statistics"
	sectionDistribution = "Equipment Type Distribution"
)

// Options tunes PDF output.
type Options struct {
	// Compress deflates page content streams.
	Compress bool
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{Compress: true}
}

// Renderer turns records into PDF bytes. It holds no state between calls and
// is safe for concurrent use.
type Renderer struct {
	opts Options
}

// NewRenderer returns a renderer using opts.
func NewRenderer(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Layout in points, measured from the bottom of an A4 page.
const (
	pageTop      = 800.0
	headerTop    = 770.0
	marginX      = 50.0
	indentX      = 60.0
	lineStep     = 20.0
	itemStep     = 18.0
	sectionGap   = 40.0
	headingGap   = 25.0
	bottomMargin = 50.0
)

// Render produces the PDF for rec. Rendering the same record twice yields
// identical bytes.
func (r *Renderer) Render(rec *record.Record) ([]byte, error) {
	if rec == nil {
		return nil, record.ErrNotFound
	}
	doc := Content(rec)

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(r.opts.Compress)
	pdf.SetCatalogSort(true)
	stamp := rec.CreatedAt.UTC()
	if stamp.IsZero() {
		stamp = time.Unix(0, 0).UTC()
	}
	pdf.SetCreationDate(stamp)
	pdf.SetModificationDate(stamp)
	pdf.SetTitle(doc.Title, true)
	pdf.SetSubject(rec.Name, true)
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	_, pageH := pdf.GetPageSize()
	text := func(x, y float64, s string) { pdf.Text(x, pageH-y, tr(drawable(s))) }

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	text(marginX, pageTop, doc.Title)

	pdf.SetFont("Helvetica", "", 12)
	y := headerTop
	for _, f := range doc.Header {
		text(marginX, y, f.String())
		y -= lineStep
	}
	y -= sectionGap - lineStep

	pdf.SetFont("Helvetica", "B", 14)
	text(marginX, y, sectionSummary)
	y -= headingGap
	pdf.SetFont("Helvetica", "", 12)
	for _, f := range doc.Summary {
		text(indentX, y, f.String())
		y -= lineStep
	}
	y -= sectionGap - lineStep

	pdf.SetFont("Helvetica", "B", 14)
	text(marginX, y, sectionDistribution)
	y -= headingGap
	pdf.SetFont("Helvetica", "", 12)
	for _, tc := range doc.Distribution {
		if y < bottomMargin {
			pdf.AddPage()
			pdf.SetFont("Helvetica", "", 12)
			y = pageTop
		}
		text(indentX, y, fmt.Sprintf("%s: %d", tc.Type, tc.Count))
		y -= itemStep
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// drawable replaces runes outside cp1252, which the core fonts cannot draw,
// with a U+XXXX escape so distinct values stay distinct on the page.
func drawable(s string) string {
	var b strings.Builder
	for _, r := range s {
		if _, ok := charmap.Windows1252.EncodeRune(r); ok && r >= 0x20 {
			b.WriteRune(r)
			continue
		}
		fmt.Fprintf(&b, "U+%04X", r)
	}
	return b.String()
}
