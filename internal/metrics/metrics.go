package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tiktok_sheets"

var (
	once sync.Once

	scheduledJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduled_jobs",
		Help:      "Accounts with an active recurring job.",
	})

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation passes by result.",
		},
		[]string{"result"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Account ingestion runs by result.",
		},
		[]string{"result"},
	)

	marketplaceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marketplace_requests_total",
			Help:      "Marketplace API calls by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	sheetsRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheets_retries_total",
			Help:      "Spreadsheet call retries by reason.",
		},
		[]string{"reason"},
	)

	rowsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_written_total",
		Help:      "Report rows written to destination sheets.",
	})

	spreadsheetRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spreadsheet_rotations_total",
		Help:      "New spreadsheets created after hitting the cell ceiling.",
	})

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			scheduledJobs,
			reconcileRuns,
			jobRuns,
			marketplaceRequests,
			sheetsRetries,
			rowsWritten,
			spreadsheetRotations,
			httpRequests,
		)
	})
}

func SetScheduledJobs(n int) { scheduledJobs.Set(float64(n)) }

func IncReconcile(result string) { reconcileRuns.WithLabelValues(result).Inc() }

func IncJobRun(result string) { jobRuns.WithLabelValues(result).Inc() }

func IncMarketplace(endpoint, result string) {
	marketplaceRequests.WithLabelValues(endpoint, result).Inc()
}

func IncSheetsRetry(reason string) { sheetsRetries.WithLabelValues(reason).Inc() }

func AddRowsWritten(n int) { rowsWritten.Add(float64(n)) }

func IncSpreadsheetRotation() { spreadsheetRotations.Inc() }

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
