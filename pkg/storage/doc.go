/*
Package storage provides BoltDB-backed persistence for a tenant's
messages, associated data, and event log.

The storage package implements MessageStore, DataStore, EventLog, and
TaskLedger using BoltDB as the underlying database, providing ACID
transactions over message metadata, raw data payloads, the durable
append log, and the resumable-task ledger. All data is serialized as
JSON and stored in separate bucket families, one nested bucket per
tenant within each family.

# Architecture

DWN storage uses BoltDB (bbolt) for embedded, transactional storage
with zero external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/dwn.db                   │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ messages / <tenant>        │             │          │
	│  │  │ data     / <tenant>        │             │          │
	│  │  │ events   / <tenant>        │             │          │
	│  │  │ tasks                      │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          JSON Serialization                  │          │
	│  │  - Marshal: Go struct → JSON bytes          │          │
	│  │  - Unmarshal: JSON bytes → Go struct        │          │
	│  │  - Indexes carried alongside each message   │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │           BoltDB File                        │          │
	│  │  - Copy-on-write B+tree                      │          │
	│  │  - Page size: 4KB                            │          │
	│  │  - mmap for reads                            │          │
	│  │  - Atomic writes with fsync                  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements MessageStore directly; Data(), EventLog(), and Tasks()
    return thin views over the same database implementing DataStore,
    EventLog, and TaskLedger respectively.
  - Single database file per process.
  - Automatic bucket creation on initialization; per-tenant buckets are
    created lazily on first write.
  - Thread-safe via BoltDB's transaction model; the per-tenant ordering
    log still serializes same-recordId operations above it.

Bucket families:
  - messages/<tenant>: keyed by messageCid, holds the message plus its
    computed indexes.
  - data/<tenant>: a content bucket keyed by dataCid holding one copy of
    the raw bytes, and a refs bucket keyed by dataCid\x00messageCid with
    one entry per referencing message; the content is deleted when its
    last ref goes.
  - events/<tenant>: keyed by a ulid cursor, holds the durable append
    log entries queryEvents/getEvents scan.
  - tasks: a single bucket (not tenant-nested) holding pending resumable
    tasks from the reconciliation ledger.

Transaction Model:
  - Read transactions: db.View() - Concurrent, consistent snapshots
  - Write transactions: db.Update() - Serialized, atomic commits
  - Isolation: Snapshot isolation (MVCC)
  - Durability: fsync on commit ensures crash recovery

# Query Evaluation

Query and QueryEvents implement a common filter contract: a
query is a list of Filters (conjunctive equality/range constraints);
a message matches if it satisfies at least one Filter in the list. The
implementation is a full bucket scan per query — acceptable at the
per-tenant, embedded-node scale this engine targets; a production
deployment fronting many tenants would replace this with dedicated
secondary indexes, without changing the MessageStore/EventLog contract.

# Data Integrity

Transaction Guarantees:
  - Atomicity: All-or-nothing commits
  - Consistency: JSON validation before commit
  - Isolation: Snapshot reads, serialized writes
  - Durability: fsync ensures crash recovery

Backup and Restore:
  - Database is a single file (easy to copy)
  - Backup: copy the file while closed, or read through db.View()
  - Restore: replace the file and restart the process

# Security

Encryption at Rest:
  - Database file is not encrypted by default.
  - Recommendation: use disk encryption (LUKS, dm-crypt).

File Permissions:
  - Database file: 0600 (owner read/write only).

Access Control:
  - No authentication within the database; callers reach storage only
    through the protocol/grant authorization checks upstream.

# See Also

  - pkg/tenant for the per-tenant single-writer ordering log
  - pkg/reconciler for resumable-task re-drive
  - pkg/dwntypes for the message and index shapes persisted here
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
