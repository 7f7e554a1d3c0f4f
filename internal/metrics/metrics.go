package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsTotal counts report generations by report name and outcome.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_generations_total",
			Help: "Total number of report generations",
		},
		[]string{"report", "status"},
	)
	// ReportDuration is the end to end latency of a report generation.
	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_generation_duration_seconds",
			Help:    "Report generation latency in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"report"},
	)
	// RowsWritten counts rows appended to report sheets.
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_rows_written_total",
			Help: "Total number of rows written to report sheets",
		},
		[]string{"report", "sheet"},
	)
	// SearchPages counts paged search requests by index.
	SearchPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_search_pages_total",
			Help: "Total number of paged search requests",
		},
		[]string{"index"},
	)
	// MetadataLookups counts extended field metadata lookups.
	MetadataLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_metadata_lookups_total",
			Help: "Extended field metadata lookups",
		},
		[]string{"status"},
	)
)

// ObserveReport records the outcome of one generation.
func ObserveReport(report string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ReportsTotal.WithLabelValues(report, status).Inc()
	ReportDuration.WithLabelValues(report).Observe(time.Since(started).Seconds())
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
