// Package metrics holds the Prometheus collectors of the import service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ImportRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_import_runs_total",
		Help: "Total number of catalog import runs by final status",
	}, []string{"status"})

	ImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_import_rows_total",
		Help: "Total number of catalog rows processed",
	}, []string{"result"})

	ImportRowFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_import_row_failures_total",
		Help: "Total number of rejected catalog rows by error kind",
	}, []string{"kind"})

	ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_import_duration_seconds",
		Help:    "Duration of catalog import runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	ImageFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_image_fetch_duration_seconds",
		Help:    "Latency of product image downloads",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// RecordRow counts one processed row. kind is the error kind of a rejected
// row and ignored for imported ones.
func RecordRow(ok bool, kind string) {
	if ok {
		ImportRowsTotal.WithLabelValues("imported").Inc()
		return
	}
	ImportRowsTotal.WithLabelValues("failed").Inc()
	ImportRowFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordRun counts a finished import run.
func RecordRun(status string, d time.Duration) {
	ImportRunsTotal.WithLabelValues(status).Inc()
	ImportDuration.Observe(d.Seconds())
}

// ObserveImageFetch records the latency of one image download.
func ObserveImageFetch(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ImageFetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveHTTP records one served HTTP request. path should be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func ObserveHTTP(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
