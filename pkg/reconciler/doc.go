/*
Package reconciler re-drives resumable tasks that were interrupted by a
crash between a ledger write and the cross-store mutation it protects.

A delete-older-but-keep-initial-write or purge-descendants operation
touches multiple bbolt buckets that cannot be committed atomically with
a tenant's ordering log entry. Before such an operation begins, its
already-resolved payload is enqueued to the task ledger; once the
operation completes, the task is removed. A crash in between leaves a
pending task behind, and the reconciler is what notices and finishes it.

# Architecture

	┌────────────────────────────────────────────┐
	│          Reconciliation Loop                │
	│            (every 10 seconds)               │
	└────────────────┬─────────────────────────────┘
	                 │
	                 ▼
	        List pending tasks
	                 │
	                 ▼
	   ┌─────────────┴─────────────┐
	   │   For each pending task:   │
	   │                            │
	   │  decode Payload by Kind    │
	   │  resubmit through the      │
	   │  tenant's ordering log     │
	   │  mark Complete on success  │
	   └────────────────────────────┘

# Idempotent Redrive

A redriven task replays the same operation the original caller would
have submitted. This is safe because the storage layer's delete and
purge operations are idempotent: removing a key that is already gone is
a no-op. A task that failed halfway through and one that never started
converge to the same end state when redriven.

The reconciler never recomputes a descendant-tree walk or a
newest-data-CID comparison; every redrive just unmarshals the payload
the original caller captured at enqueue time and calls
tenant.Manager.Submit with it.

# Usage

	rec := reconciler.NewReconciler(store.Tasks(), tenantMgr)
	rec.Start()
	defer rec.Stop()

# See Also

  - pkg/storage for the task ledger and the operations being protected
  - pkg/tenant for the ordering log tasks are resubmitted through
*/
package reconciler
