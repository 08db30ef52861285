/*
Package tenant provides the single-writer, crash-recoverable ordering log
that serializes mutations against a tenant's records.

Two operations racing against the same recordId (two concurrent
RecordsWrite calls, or a write racing a delete) must be applied in a
single, well-defined order — otherwise the "newest message wins" and
initial-write-immutability rules the storage controller enforces can
be checked against a state that changes underneath them. This package
gives each tenant its own Raft group, with exactly one voter by
default, so that every mutation against that tenant is appended to a
durable log and applied to the storage controller in log order before
the call that submitted it returns.

# Architecture

This reuses the log-replication machinery a Warren manager node uses
to keep cluster state consistent across a quorum, scoped down to a
single voter per tenant instead of one quorum for the whole cluster:

	┌──────────────────── TENANT ORDERING LOG ───────────────────┐
	│                                                              │
	│  ┌────────────────────────────────────────────┐            │
	│  │              Manager                         │            │
	│  │  - one Raft group per tenant, created lazily │            │
	│  │  - Submit(tenant, Command) applies in order  │            │
	│  └──────────────────┬───────────────────────────┘            │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐            │
	│  │          Raft Consensus Layer (1 voter)       │            │
	│  │  - in-memory transport, no network exposure   │            │
	│  │  - FSM applies committed commands             │            │
	│  └──────────────────┬───────────────────────────┘            │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐            │
	│  │               FSM                              │            │
	│  │  - Apply(): dispatch Command to the controller │            │
	│  │  - Snapshot()/Restore(): no-ops, state already  │            │
	│  │    durable in the storage controller's BoltDB  │            │
	│  └────────────────────────────────────────────────┘           │
	└──────────────────────────────────────────────────────────────┘

Unlike a Warren manager's cluster-wide quorum, a tenant's ordering log
is not meant to survive node loss by promoting a follower on another
host: it exists to serialize concurrent calls within one running
process, and to replay unapplied log entries after a crash and
restart of that same process. Every group the Manager creates has one
voter on an in-memory transport; the Manager exposes no way to add
voters or to use a network transport.

Snapshot/Restore are intentionally inert: the storage controller's
BoltDB files are already the durable state, written synchronously as
part of Apply, so a Raft snapshot would just be a redundant copy of
state that already survives a restart. Apply is therefore the FSM's
only load-bearing method.

# See Also

  - pkg/storage for the Controller every Command is dispatched against
  - pkg/reconciler for resumable-task re-drive after an Apply that
    committed but never reached its orphan-cleanup step
*/
package tenant
