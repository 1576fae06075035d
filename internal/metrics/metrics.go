// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	reg *prometheus.Registry

	Uploads         *prometheus.CounterVec
	RowsSkipped     prometheus.Counter
	ReportsRendered prometheus.Counter
	UploadRows      prometheus.Histogram
}

// New builds and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equipstat_uploads_total",
			Help: "Uploads processed, by outcome.",
		}, []string{"outcome"}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "equipstat_rows_skipped_total",
			Help: "Data rows dropped because a numeric cell failed to parse.",
		}),
		ReportsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "equipstat_reports_rendered_total",
			Help: "PDF reports rendered.",
		}),
		UploadRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "equipstat_upload_rows",
			Help:    "Valid rows per accepted upload.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(
		m.Uploads, m.RowsSkipped, m.ReportsRendered, m.UploadRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, o := range []string{OutcomeAccepted, OutcomeRejected, OutcomeFailed} {
		m.Uploads.WithLabelValues(o)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
