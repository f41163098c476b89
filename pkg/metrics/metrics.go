package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Observer metrics
	TransactionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchor_transactions_processed_total",
			Help: "Total number of ledger transactions processed by outcome",
		},
		[]string{"outcome"},
	)

	TransactionsUnderProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchor_transactions_under_processing",
			Help: "Number of transactions currently being processed",
		},
	)

	ObserverCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchor_observer_cycle_duration_seconds",
			Help:    "Time taken for one observing cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReorgsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anchor_reorgs_total",
			Help: "Total number of ledger reorganisations handled",
		},
	)

	UnresolvableRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anchor_unresolvable_retries_total",
			Help: "Total number of unresolvable transaction retry attempts",
		},
	)

	LastObservedLedgerHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchor_last_observed_ledger_height",
			Help: "Greatest ledger height the observer has processed",
		},
	)

	// CAS metrics
	CasDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchor_cas_downloads_total",
			Help: "Total number of CAS downloads by fetch result code",
		},
		[]string{"code"},
	)

	CasDownloadsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchor_cas_downloads_in_flight",
			Help: "Number of CAS downloads currently holding a concurrency slot",
		},
	)

	CasDownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchor_cas_download_duration_seconds",
			Help:    "CAS download duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Batch writer metrics
	BatchesAnchoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anchor_batches_anchored_total",
			Help: "Total number of operation batches anchored on the ledger",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchor_batch_size_operations",
			Help:    "Number of operations per anchored batch",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	BatchesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchor_batches_skipped_total",
			Help: "Total number of batching cycles that anchored nothing, by reason",
		},
		[]string{"reason"},
	)

	SpendingInPeriod = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchor_spending_in_period",
			Help: "Fees paid by this node within the current spending period",
		},
	)

	// Resolver metrics
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchor_resolutions_total",
			Help: "Total number of DID resolutions by outcome",
		},
		[]string{"outcome"},
	)

	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchor_resolution_duration_seconds",
			Help:    "DID resolution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchor_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	OperationsQueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anchor_operations_queued_total",
			Help: "Total number of operations accepted into the batching queue",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TransactionsProcessedTotal)
	prometheus.MustRegister(TransactionsUnderProcessing)
	prometheus.MustRegister(ObserverCycleDuration)
	prometheus.MustRegister(ReorgsTotal)
	prometheus.MustRegister(UnresolvableRetriesTotal)
	prometheus.MustRegister(LastObservedLedgerHeight)
	prometheus.MustRegister(CasDownloadsTotal)
	prometheus.MustRegister(CasDownloadsInFlight)
	prometheus.MustRegister(CasDownloadDuration)
	prometheus.MustRegister(BatchesAnchoredTotal)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(BatchesSkippedTotal)
	prometheus.MustRegister(SpendingInPeriod)
	prometheus.MustRegister(ResolutionsTotal)
	prometheus.MustRegister(ResolutionDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(OperationsQueuedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
