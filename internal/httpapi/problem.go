package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/KaramelBytes/equipstat/internal/analysis"
	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/service"
)

// Problem types following RFC 7807.
const (
	TypeValidation      = "/errors/validation"
	TypeMalformedTable  = "/errors/malformed-table"
	TypeEmptyDataset    = "/errors/empty-dataset"
	TypeNotFound        = "/errors/not-found"
	TypeEmptyHistory    = "/errors/empty-history"
	TypeBadRequest      = "/errors/bad-request"
	TypePayloadTooLarge = "/errors/payload-too-large"
	TypeUnauthorized    = "/errors/unauthorized"
	TypeTimeout         = "/errors/timeout"
	TypeInternal        = "/errors/internal"
)

// ContentTypeProblem is the media type of error bodies.
const ContentTypeProblem = "application/problem+json"

// ProblemDetails is an RFC 7807 error body.
type ProblemDetails struct {
	Type       string
	Title      string
	Status     int
	Detail     string
	Instance   string
	Extensions map[string]any
}

// MarshalJSON flattens extensions into the top-level object.
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]any, len(p.Extensions)+5)
	for k, v := range p.Extensions {
		data[k] = v
	}
	data["type"] = p.Type
	data["title"] = p.Title
	data["status"] = p.Status
	if p.Detail != "" {
		data["detail"] = p.Detail
	}
	if p.Instance != "" {
		data["instance"] = p.Instance
	}
	return json.Marshal(data)
}

func newProblem(status int, typ, title, detail string) *ProblemDetails {
	return &ProblemDetails{Type: typ, Title: title, Status: status, Detail: detail}
}

// WithExtension adds a member to the problem object.
func (p *ProblemDetails) WithExtension(key string, value any) *ProblemDetails {
	if p.Extensions == nil {
		p.Extensions = make(map[string]any)
	}
	p.Extensions[key] = value
	return p
}

// problemFor maps pipeline errors onto HTTP problems.
func problemFor(err error) *ProblemDetails {
	var ve *analysis.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return newProblem(http.StatusBadRequest, TypeValidation, "Validation Failed", ve.Error()).
			WithExtension("missing_columns", ve.Missing)
	case errors.Is(err, analysis.ErrValidation):
		return newProblem(http.StatusBadRequest, TypeValidation, "Validation Failed", err.Error())
	case errors.Is(err, analysis.ErrMalformedTable):
		return newProblem(http.StatusBadRequest, TypeMalformedTable, "Unreadable Table", err.Error())
	case errors.Is(err, analysis.ErrEmptyDataset):
		return newProblem(http.StatusBadRequest, TypeEmptyDataset, "Empty Dataset", err.Error())
	case errors.Is(err, record.ErrEmptyHistory):
		return newProblem(http.StatusNotFound, TypeEmptyHistory, "No Datasets", "No datasets uploaded yet")
	case errors.Is(err, record.ErrNotFound):
		return newProblem(http.StatusNotFound, TypeNotFound, "Not Found", "Dataset not found")
	case errors.Is(err, service.ErrNoSource):
		return newProblem(http.StatusNotFound, TypeNotFound, "Not Found", err.Error())
	case errors.As(err, &tooLarge):
		return newProblem(http.StatusRequestEntityTooLarge, TypePayloadTooLarge, "Payload Too Large", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newProblem(http.StatusGatewayTimeout, TypeTimeout, "Request Timeout",
			"The request took too long to process and was cancelled")
	default:
		return newProblem(http.StatusInternalServerError, TypeInternal, "Internal Server Error",
			"An unexpected error occurred")
	}
}

// writeProblem logs err and writes the problem body for it.
func writeProblem(w http.ResponseWriter, r *http.Request, log *slog.Logger, p *ProblemDetails, err error) {
	reqID := middleware.GetReqID(r.Context())
	p.Instance = r.URL.Path
	if reqID != "" {
		p.WithExtension("request_id", reqID)
	}
	level := slog.LevelInfo
	if p.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []any{
		slog.Int("status", p.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	log.Log(r.Context(), level, "request failed", attrs...)

	w.Header().Set("Content-Type", ContentTypeProblem)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeProblem(w, r, h.log, problemFor(err), err)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, h.log, newProblem(http.StatusBadRequest, TypeBadRequest, "Bad Request", detail), nil)
}
