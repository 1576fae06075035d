// Package httpapi serves the analysis pipeline over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/KaramelBytes/equipstat/internal/blob"
	"github.com/KaramelBytes/equipstat/internal/logging"
	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/report"
	"github.com/KaramelBytes/equipstat/internal/service"
)

// Pipeline is the subset of service.Service the handlers call.
type Pipeline interface {
	Upload(ctx context.Context, req service.UploadRequest) (record.Record, error)
	Latest(ctx context.Context) (record.Record, error)
	History(ctx context.Context, limit int) ([]record.Record, error)
	Get(ctx context.Context, id int64) (record.Record, error)
	Report(ctx context.Context, id int64) ([]byte, record.Record, error)
	LatestReport(ctx context.Context) ([]byte, record.Record, error)
	Source(ctx context.Context, id int64) (blob.Info, io.ReadCloser, record.Record, error)
}

// Options tunes the router.
type Options struct {
	// MaxUploadBytes caps the multipart body; 0 means 32 MiB.
	MaxUploadBytes int64
	// HistoryLimit applies when the request carries no limit; 0 lists everything.
	HistoryLimit int
	// Basic auth is enforced only when both are set.
	BasicAuthUser     string
	BasicAuthPassword string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	Logger  *slog.Logger
}

const defaultMaxUpload = 32 << 20

// multipart parts beyond this spill to disk
const maxMemory = 8 << 20

// Handler holds the HTTP handlers of the API.
type Handler struct {
	svc  Pipeline
	opts Options
	log  *slog.Logger
}

// NewHandler creates the API handlers around svc.
func NewHandler(svc Pipeline, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{svc: svc, opts: opts, log: logging.Component(log, "http")}
}

// Routes mounts the /api endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/upload", h.upload)
	r.Get("/summary/latest", h.latest)
	r.Get("/history", h.history)
	r.Route("/datasets/{id}", func(r chi.Router) {
		r.Get("/", h.dataset)
		r.Get("/source", h.source)
	})
	r.Get("/report", h.latestReport)
	r.Get("/report/{id}", h.report)
	return r
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, err)
			return
		}
		h.badRequest(w, r, "expected multipart/form-data with a file field")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		h.badRequest(w, r, "No file uploaded")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}
	rec, err := h.svc.Upload(r.Context(), service.UploadRequest{
		Name:     r.FormValue("name"),
		Filename: hdr.Filename,
		Content:  content,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Latest(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := h.opts.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.badRequest(w, r, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	recs, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []record.Record{}
	}
	render.JSON(w, r, recs)
}

func (h *Handler) dataset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

func (h *Handler) source(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	info, body, rec, err := h.svc.Source(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()
	ct := info.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", attachment(rec.OriginalFilename))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.log.WarnContext(r.Context(), "source download interrupted",
			slog.Int64("id", id), slog.String("error", err.Error()))
	}
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	pdf, rec, err := h.svc.Report(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePDF(w, pdf, rec)
}

func (h *Handler) latestReport(w http.ResponseWriter, r *http.Request) {
	pdf, rec, err := h.svc.LatestReport(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePDF(w, pdf, rec)
}

func writePDF(w http.ResponseWriter, pdf []byte, rec record.Record) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", attachment(report.Filename(&rec)))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", blob.SanitizeFilename(filename))
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, r, fmt.Sprintf("invalid dataset id %q", raw))
		return 0, false
	}
	return id, true
}
