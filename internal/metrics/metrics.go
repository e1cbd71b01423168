package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_records_ingested_total",
		Help: "Candidate records seen by the dedup filter, labelled by outcome.",
	}, []string{"outcome"})

	IngestCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_ingest_cycles_total",
		Help: "Ingestion cycles, labelled by status (ok, error, skipped).",
	}, []string{"status"})

	IngestCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quakerisk_ingest_cycle_duration_ms",
		Help:    "Duration of a full ingestion cycle in milliseconds.",
		Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	StoredEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quakerisk_stored_events",
		Help: "Number of canonical events held by the store.",
	})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_alerts_emitted_total",
		Help: "Alerts created, labelled by severity.",
	}, []string{"severity"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_notifications_total",
		Help: "Alert notifications delivered to broadcast collaborators, labelled by notifier and status.",
	}, []string{"notifier", "status"})

	TasksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_tasks_dropped_total",
		Help: "Background tasks rejected because a worker queue was full.",
	}, []string{"pool"})

	LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_ledger_operations_total",
		Help: "Ledger publish/verify calls, labelled by operation and status.",
	}, []string{"op", "status"})

	RiskAssessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_risk_assessments_total",
		Help: "Risk score lookups, labelled by result (computed, cached, not_found).",
	}, []string{"result"})

	RiskCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quakerisk_risk_cache_entries",
		Help: "Risk assessments held in the scorer cache.",
	})

	CorrelatedSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quakerisk_correlated_samples_total",
		Help: "Rate samples annotated with a co-occurring seismic event.",
	})

	QuotaDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quakerisk_quota_decisions_total",
		Help: "Budget consumption attempts, labelled by result.",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quakerisk_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "status"})
)
