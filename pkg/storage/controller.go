package storage

import (
	"bytes"
	"io"

	"github.com/ryftlabs/dwn/pkg/cidutil"
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// InlineDataThreshold is the byte size at and above which RecordsQuery
// and RecordsRead must stream the payload separately rather than
// returning it inline as base64url encodedData.
const InlineDataThreshold = 1 << 16 // 64 KiB

// Controller orchestrates the data store, message store, and event log
// into a strict put/delete/purge ordering, backed by a resumable-task
// ledger for crash recovery.
type Controller struct {
	Messages MessageStore
	DataSvc  DataStore
	Events   EventLog
	Stream   EventStream
	Tasks    TaskLedger
}

// NewController wires the four collaborators a storage controller needs.
func NewController(messages MessageStore, data DataStore, events EventLog, stream EventStream, tasks TaskLedger) *Controller {
	return &Controller{Messages: messages, DataSvc: data, Events: events, Stream: stream, Tasks: tasks}
}

// PutInput bundles the message, its computed messageCid/indexes, and an
// optional data stream for put.
type PutInput struct {
	Tenant       string
	Message      *dwntypes.Message
	MessageCID   string
	Indexes      map[string]any
	DataStream   io.Reader
	DataCID      string
	DataSize     int64
	InitialWrite bool
}

// Put writes data before metadata before events. Ingested data whose size
// or raw-data CID differs from the input's DataSize or DataCID is deleted
// again and Put fails with DataSizeMismatch or DataCidMismatch. Data
// ingested before a crash that precedes the message-store write is not
// reclaimed: the reconciler redrives only deleteOlder and purgeDescendants
// tasks.
func (c *Controller) Put(in PutInput) error {
	if in.DataCID != "" {
		if in.DataStream == nil {
			if _, err := c.DataSvc.Associate(in.Tenant, in.MessageCID, in.DataCID); err != nil {
				return err
			}
		} else {
			var ingested bytes.Buffer
			computed, _, err := cidutil.Raw(io.TeeReader(in.DataStream, &ingested))
			if err != nil {
				return err
			}
			result, err := c.DataSvc.Put(in.Tenant, in.MessageCID, in.DataCID, &ingested)
			if err != nil {
				return err
			}
			if result.DataSize != in.DataSize {
				_ = c.DataSvc.Delete(in.Tenant, in.MessageCID, in.DataCID)
				return dwnerr.New(dwnerr.KindDataSizeMismatch, "ingested dataSize %d does not match descriptor dataSize %d", result.DataSize, in.DataSize)
			}
			if computed.String() != in.DataCID {
				_ = c.DataSvc.Delete(in.Tenant, in.MessageCID, in.DataCID)
				return dwnerr.New(dwnerr.KindDataCidMismatch, "ingested dataCid %s does not match descriptor dataCid %s", computed, in.DataCID)
			}
		}
	}

	if err := c.Messages.Put(in.Tenant, in.Message, in.MessageCID, in.Indexes); err != nil {
		return err
	}

	if _, err := c.Events.Append(in.Tenant, in.MessageCID, in.Indexes); err != nil {
		return err
	}

	if c.Stream != nil {
		_ = c.Stream.Emit(in.Tenant, dwntypes.Event{
			Tenant:       in.Tenant,
			MessageCID:   in.MessageCID,
			Indexes:      in.Indexes,
			InitialWrite: in.InitialWrite,
		})
	}
	return nil
}

// OlderMessage is one message older than the newest reference, as
// DeleteOlderButKeepInitialWrite needs to see it.
type OlderMessage struct {
	MessageCID     string
	DataCID        string
	IsInitialWrite bool
}

// DeleteOlderButKeepInitialWrite reclaims every older message's
// data unless the newest write shares its dataCid, its
// message-store entry is removed (or, for the initial write, rewritten
// as not-latest rather than deleted), and its event-log entries are
// batch-deleted.
func (c *Controller) DeleteOlderButKeepInitialWrite(tenant string, older []OlderMessage, newestDataCID string, rewriteInitialWrite func(messageCID string) error) error {
	var batch []string
	for _, m := range older {
		if m.DataCID != "" && m.DataCID != newestDataCID {
			if err := c.DataSvc.Delete(tenant, m.MessageCID, m.DataCID); err != nil {
				return err
			}
		}
		if m.IsInitialWrite {
			if rewriteInitialWrite != nil {
				if err := rewriteInitialWrite(m.MessageCID); err != nil {
					return err
				}
			}
			continue
		}
		if err := c.Messages.Delete(tenant, m.MessageCID); err != nil {
			return err
		}
		batch = append(batch, m.MessageCID)
	}
	if len(batch) == 0 {
		return nil
	}
	return c.Events.DeleteEventsByCID(tenant, batch)
}

// RewriteMessage carries a message re-put in place under its existing
// messageCid with replacement indexes, used to demote an initial write to
// a not-latest tombstone stub.
type RewriteMessage struct {
	MessageCID string            `json:"messageCid"`
	Message    *dwntypes.Message `json:"message"`
	Indexes    map[string]any    `json:"indexes"`
}

// DescendantRecord is one record purgeRecordDescendants must reclaim: the
// data its newest write holds, every non-initial message, and the initial
// write rewritten as a tombstone stub.
type DescendantRecord struct {
	RecordID         string          `json:"recordId"`
	NewestMessageCID string          `json:"newestMessageCid"`
	NewestDataCID    string          `json:"newestDataCid,omitempty"`
	PurgeMessageCIDs []string        `json:"purgeMessageCids,omitempty"`
	RewriteInitial   *RewriteMessage `json:"rewriteInitial,omitempty"`
}

// PurgeRecordDescendants reclaims the records under a pruned parent,
// breadth-first by parentId, grouped by recordId. For each descendant the
// newest write's data is removed (older writes were already reclaimed by
// the normal write path), the non-initial event-log entries and messages
// are deleted, and the initial write is rewritten as a not-latest stub.
func (c *Controller) PurgeRecordDescendants(tenant string, descendants []DescendantRecord) error {
	for _, d := range descendants {
		if d.NewestDataCID != "" {
			if err := c.DataSvc.Delete(tenant, d.NewestMessageCID, d.NewestDataCID); err != nil {
				return err
			}
		}
		if len(d.PurgeMessageCIDs) > 0 {
			if err := c.Events.DeleteEventsByCID(tenant, d.PurgeMessageCIDs); err != nil {
				return err
			}
			for _, cid := range d.PurgeMessageCIDs {
				if err := c.Messages.Delete(tenant, cid); err != nil {
					return err
				}
			}
		}
		if d.RewriteInitial != nil {
			if err := c.Messages.Put(tenant, d.RewriteInitial.Message, d.RewriteInitial.MessageCID, d.RewriteInitial.Indexes); err != nil {
				return err
			}
		}
	}
	return nil
}
