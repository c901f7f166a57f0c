// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsProjected       *prometheus.CounterVec
	EventProcessingErrors *prometheus.CounterVec
	DecodeErrors          prometheus.Counter
	HighestSlotSeen       prometheus.Gauge
	BatchLatency          prometheus.Histogram

	// Subscription metrics
	SubscriptionState   prometheus.Gauge
	ReconnectAttempts   prometheus.Counter
	LivenessCheckFailed prometheus.Counter

	// Backfill metrics
	BackfillSignatures *prometheus.CounterVec
	BackfillDuration   prometheus.Histogram

	// Ownership metrics
	CapTableQueries  *prometheus.CounterVec
	SnapshotsCreated prometheus.Counter

	// Corporate action metrics
	CorporateActions *prometheus.CounterVec

	// Notification metrics
	NotificationsPublished *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "captable_indexer"
	}

	return &Metrics{
		// Ingestion metrics
		EventsProjected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_projected_total",
			Help:      "Total number of program events projected by event type",
		}, []string{"event_type"}),
		EventProcessingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_errors_total",
			Help:      "Total number of event processing errors by type",
		}, []string{"event_type", "error_type"}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_errors_total",
			Help:      "Total number of log lines that failed to decode",
		}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number processed",
		}),
		BatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "batch_latency_seconds",
			Help:      "Time to project one transaction's log batch",
			Buckets:   prometheus.DefBuckets,
		}),

		// Subscription metrics
		SubscriptionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "state",
			Help:      "Current subscription state (0=stopped 1=starting 2=running 3=reconnecting 4=failed)",
		}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts",
		}),
		LivenessCheckFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "liveness_failures_total",
			Help:      "Total number of failed liveness probes",
		}),

		// Backfill metrics
		BackfillSignatures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "signatures_total",
			Help:      "Total number of backfill signatures by outcome",
		}, []string{"outcome"}),
		BackfillDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Backfill run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Ownership metrics
		CapTableQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ownership",
			Name:      "cap_table_queries_total",
			Help:      "Total number of cap table queries by source",
		}, []string{"source"}),
		SnapshotsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ownership",
			Name:      "snapshots_created_total",
			Help:      "Total number of snapshots created on demand",
		}),

		// Corporate action metrics
		CorporateActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "corporate",
			Name:      "actions_total",
			Help:      "Total number of corporate actions by type and status",
		}, []string{"action_type", "status"}),

		// Notification metrics
		NotificationsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Total number of notifications by type and outcome",
		}, []string{"type", "outcome"}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventProjected increments the projected events counter.
func RecordEventProjected(eventType string) {
	DefaultMetrics.EventsProjected.WithLabelValues(eventType).Inc()
}

// RecordEventError records an event processing error.
func RecordEventError(eventType, errorType string) {
	DefaultMetrics.EventProcessingErrors.WithLabelValues(eventType, errorType).Inc()
}

// RecordDecodeErrors adds n undecodable log lines.
func RecordDecodeErrors(n int) {
	DefaultMetrics.DecodeErrors.Add(float64(n))
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot int64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordBatchLatency records the time spent projecting one batch.
func RecordBatchLatency(seconds float64) {
	DefaultMetrics.BatchLatency.Observe(seconds)
}

// SetSubscriptionState publishes the subscription state ordinal.
func SetSubscriptionState(state int32) {
	DefaultMetrics.SubscriptionState.Set(float64(state))
}

// RecordReconnect increments the reconnect counter.
func RecordReconnect() {
	DefaultMetrics.ReconnectAttempts.Inc()
}

// RecordLivenessFailure increments the liveness failure counter.
func RecordLivenessFailure() {
	DefaultMetrics.LivenessCheckFailed.Inc()
}

// RecordBackfill records a finished backfill run.
func RecordBackfill(processed, skipped, failed int, durationSeconds float64) {
	DefaultMetrics.BackfillSignatures.WithLabelValues("processed").Add(float64(processed))
	DefaultMetrics.BackfillSignatures.WithLabelValues("skipped").Add(float64(skipped))
	DefaultMetrics.BackfillSignatures.WithLabelValues("failed").Add(float64(failed))
	DefaultMetrics.BackfillDuration.Observe(durationSeconds)
}

// RecordCapTableQuery counts a cap table query served from "cache" or "computed".
func RecordCapTableQuery(source string) {
	DefaultMetrics.CapTableQueries.WithLabelValues(source).Inc()
}

// RecordSnapshotCreated increments the snapshots counter.
func RecordSnapshotCreated() {
	DefaultMetrics.SnapshotsCreated.Inc()
}

// RecordCorporateAction records a corporate action outcome.
func RecordCorporateAction(actionType, status string) {
	DefaultMetrics.CorporateActions.WithLabelValues(actionType, status).Inc()
}

// RecordNotification records a notification publish outcome.
func RecordNotification(notificationType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DefaultMetrics.NotificationsPublished.WithLabelValues(notificationType, outcome).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
