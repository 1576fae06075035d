// Package service runs the upload pipeline: parse, validate, aggregate,
// archive the source, persist the record and render reports on demand.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/KaramelBytes/equipstat/internal/analysis"
	"github.com/KaramelBytes/equipstat/internal/blob"
	"github.com/KaramelBytes/equipstat/internal/logging"
	"github.com/KaramelBytes/equipstat/internal/metrics"
	"github.com/KaramelBytes/equipstat/internal/parser"
	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/report"
)

// ErrNoSource is returned when a record has no retained upload.
var ErrNoSource = errors.New("source file not retained")

// UploadRequest is one file submitted for analysis.
type UploadRequest struct {
	// Name labels the record; empty selects the store's dated default.
	Name     string
	Filename string
	Content  []byte
}

// Options carries the optional collaborators of a Service.
type Options struct {
	// Blobs retains uploaded files; nil disables retention.
	Blobs    blob.Store
	Renderer *report.Renderer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Service is safe for concurrent use; only the record store is shared between calls.
type Service struct {
	store    record.Store
	blobs    blob.Store
	renderer *report.Renderer
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New wires a Service around store.
func New(store record.Store, opts Options) *Service {
	s := &Service{
		store:    store,
		blobs:    opts.Blobs,
		renderer: opts.Renderer,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
	if s.renderer == nil {
		s.renderer = report.NewRenderer(report.DefaultOptions())
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = logging.Component(s.log, "service")
	return s
}

// IsRejection reports whether err is a client-side data problem rather than a
// storage or rendering failure.
func IsRejection(err error) bool {
	return errors.Is(err, analysis.ErrValidation) ||
		errors.Is(err, analysis.ErrEmptyDataset) ||
		errors.Is(err, analysis.ErrMalformedTable)
}

// Upload analyzes req and persists the resulting record. No record is created
// when any step fails.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (record.Record, error) {
	log := s.log.With(slog.String("filename", req.Filename))
	rec, err := s.upload(ctx, req, log)
	switch {
	case err == nil:
		s.metrics.Uploads.WithLabelValues(metrics.OutcomeAccepted).Inc()
	case IsRejection(err):
		s.metrics.Uploads.WithLabelValues(metrics.OutcomeRejected).Inc()
		log.InfoContext(ctx, "upload rejected", slog.String("error", err.Error()))
	default:
		s.metrics.Uploads.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.ErrorContext(ctx, "upload failed", slog.String("error", err.Error()))
	}
	return rec, err
}

func (s *Service) upload(ctx context.Context, req UploadRequest, log *slog.Logger) (record.Record, error) {
	if len(bytes.TrimSpace(req.Content)) == 0 {
		return record.Record{}, analysis.ErrEmptyDataset
	}
	table, err := parser.ReadTable(req.Filename, req.Content)
	if err != nil {
		return record.Record{}, fmt.Errorf("read %s: %w", displayName(req.Filename), err)
	}
	ds, err := analysis.Validate(table)
	if err != nil {
		return record.Record{}, err
	}
	for _, is := range ds.Issues {
		log.DebugContext(ctx, "row skipped", slog.Int("line", is.Line), slog.String("reason", is.Reason))
	}
	summary, err := analysis.Aggregate(ds.Rows)
	if err != nil {
		return record.Record{}, err
	}

	original := baseName(req.Filename)
	var key string
	if s.blobs != nil {
		key = blob.NewKey(original)
		_, err := s.blobs.Put(ctx, key, bytes.NewReader(req.Content), blob.PutOptions{
			ContentType: contentType(original),
			Metadata:    map[string]string{"original_filename": original},
		})
		if err != nil {
			return record.Record{}, fmt.Errorf("store source: %w", err)
		}
	}

	rec, err := s.store.Create(ctx, record.NewRecord{
		Name:             strings.TrimSpace(req.Name),
		OriginalFilename: original,
		SourceKey:        key,
		Summary:          summary,
		Skipped:          ds.Skipped,
	})
	if err != nil {
		if key != "" {
			if _, derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
				log.WarnContext(ctx, "orphaned source blob", slog.String("key", key), slog.String("error", derr.Error()))
			}
		}
		return record.Record{}, fmt.Errorf("save record: %w", err)
	}

	s.metrics.RowsSkipped.Add(float64(ds.Skipped))
	s.metrics.UploadRows.Observe(float64(rec.TotalCount))
	log.InfoContext(ctx, "upload accepted",
		slog.Int64("id", rec.ID),
		slog.Int("rows", rec.TotalCount),
		slog.Int("skipped", rec.SkippedRows),
	)
	return rec, nil
}

// Latest returns the newest record.
func (s *Service) Latest(ctx context.Context) (record.Record, error) {
	return s.store.Latest(ctx)
}

// History returns records newest first, at most limit of them when limit > 0.
func (s *Service) History(ctx context.Context, limit int) ([]record.Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Get returns the record with id.
func (s *Service) Get(ctx context.Context, id int64) (record.Record, error) {
	return s.store.Get(ctx, id)
}

// Report renders the PDF for record id.
func (s *Service) Report(ctx context.Context, id int64) ([]byte, record.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, record.Record{}, err
	}
	return s.render(ctx, rec)
}

// LatestReport renders the PDF for the newest record.
func (s *Service) LatestReport(ctx context.Context) ([]byte, record.Record, error) {
	rec, err := s.store.Latest(ctx)
	if err != nil {
		return nil, record.Record{}, err
	}
	return s.render(ctx, rec)
}

func (s *Service) render(ctx context.Context, rec record.Record) ([]byte, record.Record, error) {
	pdf, err := s.renderer.Render(&rec)
	if err != nil {
		s.log.ErrorContext(ctx, "render failed", slog.Int64("id", rec.ID), slog.String("error", err.Error()))
		return nil, record.Record{}, err
	}
	s.metrics.ReportsRendered.Inc()
	return pdf, rec, nil
}

// Source opens the retained upload of record id. The caller closes the reader.
func (s *Service) Source(ctx context.Context, id int64) (blob.Info, io.ReadCloser, record.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return blob.Info{}, nil, record.Record{}, err
	}
	if s.blobs == nil || rec.SourceKey == "" {
		return blob.Info{}, nil, rec, ErrNoSource
	}
	info, rc, err := s.blobs.Get(ctx, rec.SourceKey)
	if errors.Is(err, blob.ErrNotFound) {
		return blob.Info{}, nil, rec, ErrNoSource
	}
	if err != nil {
		return blob.Info{}, nil, rec, err
	}
	return info, rc, rec, nil
}

// Prune keeps the newest keep records and deletes the rest along with their
// retained uploads.
func (s *Service) Prune(ctx context.Context, keep int) ([]record.Record, error) {
	deleted, err := record.Prune(ctx, s.store, keep)
	for _, rec := range deleted {
		if s.blobs == nil || rec.SourceKey == "" {
			continue
		}
		if _, derr := s.blobs.Delete(ctx, rec.SourceKey); derr != nil {
			s.log.WarnContext(ctx, "delete source failed", slog.Int64("id", rec.ID), slog.String("error", derr.Error()))
		}
	}
	if len(deleted) > 0 {
		s.log.InfoContext(ctx, "pruned history", slog.Int("deleted", len(deleted)), slog.Int("kept", keep))
	}
	return deleted, err
}

func baseName(filename string) string {
	b := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if b == "." || b == "/" {
		return ""
	}
	return b
}

func displayName(filename string) string {
	if b := baseName(filename); b != "" {
		return b
	}
	return "upload"
}

func contentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".tsv":
		return "text/tab-separated-values"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}
