package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message acceptance metrics
	MessagesAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_messages_accepted_total",
			Help: "Total number of messages accepted by interface and method",
		},
		[]string{"interface", "method"},
	)

	MessagesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_messages_rejected_total",
			Help: "Total number of messages rejected by error kind",
		},
		[]string{"kind"},
	)

	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dwn_records_total",
			Help: "Total number of records by tenant, latest base state only",
		},
		[]string{"tenant"},
	)

	TombstonesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwn_tombstones_total",
			Help: "Total number of tombstoned records across all tenants",
		},
	)

	// Grant engine metrics
	GrantInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_grant_invocations_total",
			Help: "Total number of permission grant invocations by outcome",
		},
		[]string{"outcome"},
	)

	// Protocol engine metrics
	ProtocolAuthorizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_protocol_authorizations_total",
			Help: "Total number of protocol-rule authorization evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// Raft metrics (per-tenant ordering log)
	RaftLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dwn_raft_is_leader",
			Help: "Whether this node holds the single voter seat for a tenant's ordering log (1 = leader, 0 = not yet elected)",
		},
		[]string{"tenant"},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwn_raft_apply_duration_seconds",
			Help:    "Time taken to apply a tenant ordering log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage controller metrics
	StoragePutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dwn_storage_put_duration_seconds",
			Help:    "Time taken for the storage controller to complete a put across data/message/event stores",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_events_appended_total",
			Help: "Total number of event log entries appended",
		},
	)

	EventsSubscribersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dwn_events_subscribers_active",
			Help: "Number of active event-stream subscribers by tenant",
		},
		[]string{"tenant"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwn_reconciliation_duration_seconds",
			Help:    "Time taken for a resumable-task reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_reconciliation_cycles_total",
			Help: "Total number of resumable-task reconciliation cycles completed",
		},
	)

	ResumableTasksPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwn_resumable_tasks_pending",
			Help: "Number of resumable tasks awaiting a reconciliation sweep",
		},
	)

	ResumableTasksRedriven = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_resumable_tasks_redriven_total",
			Help: "Total number of resumable tasks re-driven after a crash, by task kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(MessagesAcceptedTotal)
	prometheus.MustRegister(MessagesRejectedTotal)
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(TombstonesTotal)
	prometheus.MustRegister(GrantInvocationsTotal)
	prometheus.MustRegister(ProtocolAuthorizationsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(StoragePutDuration)
	prometheus.MustRegister(EventsAppendedTotal)
	prometheus.MustRegister(EventsSubscribersActive)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ResumableTasksPending)
	prometheus.MustRegister(ResumableTasksRedriven)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
