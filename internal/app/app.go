// Package app assembles the configured stores, service and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/equipstat/internal/blob"
	"github.com/KaramelBytes/equipstat/internal/config"
	"github.com/KaramelBytes/equipstat/internal/httpapi"
	"github.com/KaramelBytes/equipstat/internal/logging"
	"github.com/KaramelBytes/equipstat/internal/metrics"
	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/record/memory"
	"github.com/KaramelBytes/equipstat/internal/record/postgres"
	"github.com/KaramelBytes/equipstat/internal/record/sqlite"
	"github.com/KaramelBytes/equipstat/internal/report"
	"github.com/KaramelBytes/equipstat/internal/service"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 10 * time.Second

// OpenStore opens the record store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.Store) (record.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case "postgres":
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// OpenBlobs opens the upload archive selected by cfg.Driver. It returns a nil
// Store for driver "none".
func OpenBlobs(ctx context.Context, cfg config.Blob) (blob.Store, error) {
	switch blob.Driver(cfg.Driver) {
	case blob.DriverNone:
		return nil, nil
	case "", blob.DriverFilesystem:
		return blob.NewFilesystem(cfg.FSRoot)
	case blob.DriverS3:
		return blob.NewS3(ctx, blob.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case blob.DriverMemory:
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// App owns every long-lived component of a running process.
type App struct {
	Config  *config.Global
	Logger  *slog.Logger
	Store   record.Store
	Blobs   blob.Store
	Metrics *metrics.Metrics
	Service *service.Service
}

// New validates cfg and opens its stores. Logs go to logOut. Callers must Close the App.
func New(ctx context.Context, cfg *config.Global, logOut io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(logOut, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	blobs, err := OpenBlobs(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open %s blob store: %w", cfg.Blob.Driver, err)
	}

	m := metrics.New()
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Blobs:   blobs,
		Metrics: m,
		Service: service.New(store, service.Options{
			Blobs:    blobs,
			Renderer: report.NewRenderer(report.Options{Compress: cfg.Report.Compress}),
			Metrics:  m,
			Logger:   logger,
		}),
	}
	logger.DebugContext(ctx, "application assembled",
		slog.String("store", cfg.Store.Driver),
		slog.String("blob", cfg.Blob.Driver))
	return a, nil
}

// Handler returns the full HTTP surface of the App.
func (a *App) Handler() http.Handler {
	s := a.Config.Server
	return httpapi.NewRouter(a.Service, httpapi.Options{
		MaxUploadBytes:    int64(s.MaxUploadMB) << 20,
		HistoryLimit:      a.Config.History.Limit,
		BasicAuthUser:     s.BasicAuthUser,
		BasicAuthPassword: s.BasicAuthPassword,
		Metrics:           a.Metrics.Handler(),
		Logger:            a.Logger,
	})
}

// Server returns an http.Server bound to the configured address and timeouts.
func (a *App) Server() *http.Server {
	s := a.Config.Server
	return &http.Server{
		Addr:              s.Addr,
		Handler:           a.Handler(),
		ReadTimeout:       time.Duration(s.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(s.WriteTimeoutSec) * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs the HTTP server on ln until ctx is cancelled, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := a.Server()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(context.Background(), "shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ListenAndServe listens on the configured address and calls Serve.
func (a *App) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Config.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Close releases the record store.
func (a *App) Close() error {
	return a.Store.Close()
}
