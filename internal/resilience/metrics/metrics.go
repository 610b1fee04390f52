package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsDetected tracks errors entering the recovery handler
	ErrorsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframate_errors_detected_total",
			Help: "Total number of errors handed to the recovery handler",
		},
		[]string{"error_type", "severity"},
	)

	// RecoveryOutcomes tracks the final state of each recovery cycle
	RecoveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframate_recovery_outcomes_total",
			Help: "Total number of recovery cycles by final state",
		},
		[]string{"error_type", "state"},
	)

	// LoopsDetected tracks signatures refused because they recur too often
	LoopsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframate_error_loops_detected_total",
			Help: "Total number of recovery cycles stopped by loop detection",
		},
		[]string{"error_type"},
	)

	// RetryBudgetExhausted tracks cycles refused for lack of retry budget
	RetryBudgetExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframate_retry_budget_exhausted_total",
			Help: "Total number of recovery cycles refused because the retry budget is spent",
		},
		[]string{"error_type", "severity"},
	)

	// BackoffSeconds tracks computed backoff delays handed back to callers
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inframate_backoff_seconds",
			Help:    "Backoff delay suggested to callers before retrying",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"error_type"},
	)

	// AdvisorCalls tracks advisor lookups by result (ok, error, timeout)
	AdvisorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframate_advisor_calls_total",
			Help: "Total number of AI advisor lookups",
		},
		[]string{"result"},
	)

	// AdvisorLatency tracks advisor call latency
	AdvisorLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inframate_advisor_latency_seconds",
			Help:    "AI advisor call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HistoryArchived tracks attempts written to durable storage
	HistoryArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframate_history_archived_total",
			Help: "Total number of recovery attempts handed to the archive",
		},
		[]string{"result"},
	)

	// PhaseRuns tracks workflow phase executions
	PhaseRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inframate_workflow_phase_runs_total",
			Help: "Total number of workflow phase executions",
		},
		[]string{"phase", "result"},
	)

	// DBConnectionPoolUsage tracks the percentage of open archive DB connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inframate_db_connection_pool_usage_percent",
			Help: "Percentage of the archive database pool in use",
		},
	)

	// ArchiveQueueDepth tracks attempts waiting to be archived
	ArchiveQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inframate_archive_queue_depth",
			Help: "Number of recovery attempts waiting to be archived",
		},
	)

	// HistoryPruned tracks attempts removed by retention
	HistoryPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inframate_history_pruned_total",
			Help: "Total number of archived attempts removed by retention",
		},
	)
)
