/*
Package metrics provides Prometheus metrics collection and exposition for
the DWN engine.

All metrics are registered at package init and exposed via the standard
promhttp handler for scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Messages: accepted/rejected, by kind       │          │
	│  │  Records: latest-state count, tombstones    │          │
	│  │  Grant/Protocol: authorization outcomes     │          │
	│  │  Ordering log: leader status, apply latency │          │
	│  │  Storage: put-stage latency                 │          │
	│  │  Events: appended, active subscribers       │          │
	│  │  Reconciler: cycle duration/count, ledger   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

dwn_messages_accepted_total{interface, method}:
  - Counter incremented once an interface handler accepts a message.

dwn_messages_rejected_total{kind}:
  - Counter incremented per rejection, labeled by the error kind.

dwn_records_total{tenant}:
  - Gauge of latest-base-state records per tenant.

dwn_tombstones_total:
  - Gauge of tombstoned records across all tenants.

dwn_grant_invocations_total{outcome}:
  - Counter of permission grant invocation checks by outcome.

dwn_protocol_authorizations_total{outcome}:
  - Counter of protocol-rule authorization evaluations by outcome.

dwn_raft_is_leader{tenant}:
  - Gauge: 1 if this process holds the tenant's single voter seat.

dwn_raft_apply_duration_seconds:
  - Histogram of ordering-log Apply latency.

dwn_storage_put_duration_seconds{stage}:
  - Histogram of storage controller put latency, by stage (data/message/event).

dwn_events_appended_total:
  - Counter of durable event-log entries appended.

dwn_events_subscribers_active{tenant}:
  - Gauge of live EventsSubscribe/RecordsSubscribe listeners per tenant.

dwn_reconciliation_duration_seconds / dwn_reconciliation_cycles_total:
  - Histogram/counter for the resumable-task reconciliation sweep.

dwn_resumable_tasks_pending:
  - Gauge of tasks awaiting the next reconciliation sweep.

dwn_resumable_tasks_redriven_total{kind}:
  - Counter of tasks successfully re-driven after a crash, by kind.

# Usage

	import "github.com/ryftlabs/dwn/pkg/metrics"

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoragePutDuration, "message")

# See Also

  - pkg/tenant for the ordering log Collector samples
  - pkg/storage for the resumable-task ledger Collector samples
  - pkg/reconciler for the sweep that drives the reconciliation metrics
*/
package metrics
