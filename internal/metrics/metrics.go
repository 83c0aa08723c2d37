package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder holds the pipeline counters on a private registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	reportPages      *prometheus.CounterVec
	barcodeEntries   prometheus.Counter
	coercionFailures *prometheus.CounterVec
	rowsLoaded       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopetl_http_requests_total",
			Help: "Shop API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		reportPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopetl_report_pages_total",
			Help: "Report page fetch results by report type and outcome.",
		}, []string{"report_type", "outcome"}),
		barcodeEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopetl_barcode_entries_total",
			Help: "Variation barcode entries collected.",
		}),
		coercionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopetl_coercion_failures_total",
			Help: "Values that fell back to a default during coercion.",
		}, []string{"table", "column"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopetl_rows_loaded_total",
			Help: "Rows inserted into the warehouse by table.",
		}, []string{"table"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopetl_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		}, []string{"stage", "status"}),
	}

	registry.MustRegister(r.httpRequests)
	registry.MustRegister(r.reportPages)
	registry.MustRegister(r.barcodeEntries)
	registry.MustRegister(r.coercionFailures)
	registry.MustRegister(r.rowsLoaded)
	registry.MustRegister(r.stageDuration)

	return r
}

// Registry returns the Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) HTTPRequest(method, outcome string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, outcome).Inc()
}

func (r *Recorder) ReportPage(reportType, outcome string) {
	if r == nil {
		return
	}
	r.reportPages.WithLabelValues(reportType, outcome).Inc()
}

func (r *Recorder) BarcodeEntries(n int) {
	if r == nil {
		return
	}
	r.barcodeEntries.Add(float64(n))
}

func (r *Recorder) CoercionFailure(table, column string) {
	if r == nil {
		return
	}
	r.coercionFailures.WithLabelValues(table, column).Inc()
}

func (r *Recorder) RowsLoaded(table string, n int) {
	if r == nil {
		return
	}
	r.rowsLoaded.WithLabelValues(table).Add(float64(n))
}

func (r *Recorder) StageFinished(stage, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// Push sends the registry to a Pushgateway. It is a no-op when url is empty.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
