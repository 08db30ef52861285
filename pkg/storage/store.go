// Package storage implements the bbolt-backed message store, data store,
// and event log required by the storage controller's put/delete/purge
// orchestration.
package storage

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// MessageStore persists messages with their computed indexes and answers
// filtered queries over them.
type MessageStore interface {
	Put(tenant string, msg *dwntypes.Message, messageCID string, indexes map[string]any) error
	Get(tenant, messageCID string) (*dwntypes.IndexedMessage, bool, error)
	Query(tenant string, filters []dwntypes.Filter, page dwntypes.Pagination) ([]dwntypes.IndexedMessage, string, error)
	Delete(tenant, messageCID string) error
	Clear(tenant string) error
}

// DataResult is what a successful data-store ingestion reports back.
type DataResult struct {
	DataCID  string
	DataSize int64
}

// DataStore persists the byte payload associated with a message,
// independent of the message's own metadata.
type DataStore interface {
	Put(tenant, messageCID, dataCID string, stream io.Reader) (DataResult, error)
	Get(tenant, messageCID, dataCID string) (io.ReadCloser, bool, error)
	Associate(tenant, messageCID, dataCID string) (bool, error)
	Delete(tenant, messageCID, dataCID string) error
	Clear(tenant string) error
}

// EventLogEntry is one append-ordered record of the event log.
type EventLogEntry struct {
	Cursor     string
	MessageCID string
	Indexes    map[string]any
}

// EventLog is the durable, queryable append log every successful put
// and delete is recorded to, independent of live event-stream fan-out.
type EventLog interface {
	Append(tenant, messageCID string, indexes map[string]any) (cursor string, err error)
	GetEvents(tenant, cursor string) ([]EventLogEntry, string, error)
	QueryEvents(tenant string, filters []dwntypes.Filter, cursor string) ([]EventLogEntry, string, error)
	DeleteEventsByCID(tenant string, messageCIDs []string) error
}

// EventStream fans a tenant's accepted messages out to live subscribers;
// unlike EventLog it is not required to be durable.
type EventStream interface {
	Subscribe(tenant, subscriptionID string, handler func(dwntypes.Event)) error
	Unsubscribe(tenant, subscriptionID string)
	Emit(tenant string, event dwntypes.Event) error
	Close() error
}

// ResumableTask is a pending cross-store cleanup operation persisted
// before the store mutation it protects, so a crash mid-operation can be
// re-driven by the reconciliation sweep.
type ResumableTask struct {
	ID        string
	Tenant    string
	Kind      string
	RecordID  string
	CreatedAt time.Time
	// Payload is the kind-specific, already-resolved work to redrive:
	// a json-encoded DeleteOlderPayload or PurgeDescendantsPayload, so a
	// redrive never has to recompute a descendant tree walk the original
	// caller already did.
	Payload json.RawMessage
}

// TaskLedger tracks pending resumable tasks.
type TaskLedger interface {
	Enqueue(task ResumableTask) error
	Pending() ([]ResumableTask, error)
	Complete(taskID string) error
}
