package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// NewRouter builds the full HTTP surface: middleware, /api, /healthz and /metrics.
func NewRouter(svc Pipeline, opts Options) http.Handler {
	h := NewHandler(svc, opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	notFound := func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, h.log, newProblem(http.StatusNotFound, TypeNotFound, "Not Found",
			"no route for "+r.URL.Path), nil)
	}
	notAllowed := func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, h.log, newProblem(http.StatusMethodNotAllowed, TypeBadRequest,
			"Method Not Allowed", r.Method+" is not supported on "+r.URL.Path), nil)
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notAllowed)

	api := h.Routes()
	api.NotFound(notFound)
	api.MethodNotAllowed(notAllowed)
	r.Group(func(r chi.Router) {
		if opts.BasicAuthUser != "" && opts.BasicAuthPassword != "" {
			r.Use(middleware.BasicAuth("equipstat", map[string]string{
				opts.BasicAuthUser: opts.BasicAuthPassword,
			}))
		}
		r.Mount("/api", api)
	})
	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				log.LogAttrs(r.Context(), slog.LevelDebug, "request",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", status),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("duration", time.Since(start)),
					slog.String("remote", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
