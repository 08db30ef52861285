package tenant

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/storage"
)

// Op names one of the ordering-log commands the FSM knows how to apply.
type Op string

const (
	// OpPut is a write or delete that adds one new message (a tombstone
	// for delete) on top of the current state of a record.
	OpPut Op = "put"
	// OpDeleteOlder reclaims every message superseded by a new write.
	OpDeleteOlder Op = "deleteOlder"
	// OpPurgeDescendants removes every record rooted under a deleted parent.
	OpPurgeDescendants Op = "purgeDescendants"
)

// Command is the unit of work appended to a tenant's ordering log.
type Command struct {
	Op   Op              `json:"op"`
	Data json.RawMessage `json:"data"`
}

// PutPayload is OpPut's command body. The data referenced by DataCID, if
// any, has already been ingested into the data store by the caller before
// Submit — only its association with this message needs to happen inside
// the ordered Apply, since the message-store accept/reject decision is
// what must be serialized against concurrent writers of the same record.
type PutPayload struct {
	Message      *dwntypes.Message `json:"message"`
	MessageCID   string            `json:"messageCid"`
	Indexes      map[string]any    `json:"indexes"`
	DataCID      string            `json:"dataCid,omitempty"`
	DataSize     int64             `json:"dataSize,omitempty"`
	InitialWrite bool              `json:"initialWrite,omitempty"`
}

// RewriteInitialWrite carries the initial write's message re-indexed as
// not-latest, in place of deleting it, per the storage controller's
// delete-older-but-keep-initial-write rule.
type RewriteInitialWrite = storage.RewriteMessage

// DeleteOlderPayload is OpDeleteOlder's command body.
type DeleteOlderPayload struct {
	Older          []storage.OlderMessage `json:"older"`
	NewestDataCID  string                 `json:"newestDataCid"`
	RewriteInitial *RewriteInitialWrite   `json:"rewriteInitial,omitempty"`
}

// PurgeDescendantsPayload is OpPurgeDescendants's command body.
type PurgeDescendantsPayload struct {
	Descendants []storage.DescendantRecord `json:"descendants"`
}

// FSM dispatches committed commands against a single tenant's storage
// controller. Every FSM is scoped to one tenant: the Manager keeps one
// Raft group, and therefore one FSM, per tenant.
type FSM struct {
	mu      sync.Mutex
	tenant  string
	control *storage.Controller
}

// NewFSM builds an FSM that applies committed commands for tenant against
// control.
func NewFSM(tenant string, control *storage.Controller) *FSM {
	return &FSM{tenant: tenant, control: control}
}

// Apply is called by Raft once a log entry is committed. The returned
// value becomes the ApplyFuture's Response() for the caller that
// submitted it.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpPut:
		var p PutPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return fmt.Errorf("unmarshal put payload: %w", err)
		}
		return f.control.Put(storage.PutInput{
			Tenant:       f.tenant,
			Message:      p.Message,
			MessageCID:   p.MessageCID,
			Indexes:      p.Indexes,
			DataCID:      p.DataCID,
			DataSize:     p.DataSize,
			InitialWrite: p.InitialWrite,
		})

	case OpDeleteOlder:
		var p DeleteOlderPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return fmt.Errorf("unmarshal deleteOlder payload: %w", err)
		}
		var rewrite func(messageCID string) error
		if p.RewriteInitial != nil {
			r := p.RewriteInitial
			rewrite = func(messageCID string) error {
				return f.control.Messages.Put(f.tenant, r.Message, r.MessageCID, r.Indexes)
			}
		}
		return f.control.DeleteOlderButKeepInitialWrite(f.tenant, p.Older, p.NewestDataCID, rewrite)

	case OpPurgeDescendants:
		var p PurgeDescendantsPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return fmt.Errorf("unmarshal purgeDescendants payload: %w", err)
		}
		return f.control.PurgeRecordDescendants(f.tenant, p.Descendants)

	default:
		return fmt.Errorf("unknown ordering-log command: %s", cmd.Op)
	}
}

// Snapshot is a no-op: the storage controller's BoltDB files are already
// the durable state, written synchronously inside Apply, so a snapshot
// would only duplicate it.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptySnapshot{}, nil
}

// Restore is a no-op for the same reason Snapshot is.
func (f *FSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptySnapshot struct{}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (emptySnapshot) Release() {}
