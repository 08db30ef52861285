package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

var (
	bucketMessages = []byte("messages")
	bucketData     = []byte("data")
	bucketEvents   = []byte("events")
	bucketTasks    = []byte("tasks")
)

// BoltStore is a bbolt-backed implementation of MessageStore, DataStore,
// EventLog, and TaskLedger, one bucket family per store and one nested
// bucket per tenant within each family.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "dwn.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketData, bucketEvents, bucketTasks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Data returns the DataStore view of the same underlying database.
func (s *BoltStore) Data() DataStore {
	return boltDataStore{db: s.db}
}

// EventLog returns the EventLog view of the same underlying database.
func (s *BoltStore) EventLog() EventLog {
	return boltEventLog{db: s.db}
}

// Tasks returns the TaskLedger view of the same underlying database.
func (s *BoltStore) Tasks() TaskLedger {
	return boltTaskLedger{db: s.db}
}

func tenantBucket(tx *bolt.Tx, family []byte, tenant string) (*bolt.Bucket, error) {
	root := tx.Bucket(family)
	return root.CreateBucketIfNotExists([]byte(tenant))
}

// viewTenantBucket is the read-only counterpart of tenantBucket: nil when
// the tenant has never been written under this family, never an error.
func viewTenantBucket(tx *bolt.Tx, family []byte, tenant string) *bolt.Bucket {
	return tx.Bucket(family).Bucket([]byte(tenant))
}

// storedMessage is the on-disk envelope for a message plus its indexes.
type storedMessage struct {
	MessageCID string           `json:"messageCid"`
	Message    dwntypes.Message `json:"message"`
	Indexes    map[string]any   `json:"indexes"`
}

// Put persists a message and its indexes under messageCID.
func (s *BoltStore) Put(tenant string, msg *dwntypes.Message, messageCID string, indexes map[string]any) error {
	withCID := make(map[string]any, len(indexes)+1)
	for k, v := range indexes {
		withCID[k] = v
	}
	withCID["messageCid"] = messageCID

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, bucketMessages, tenant)
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedMessage{MessageCID: messageCID, Message: *msg, Indexes: withCID})
		if err != nil {
			return err
		}
		return b.Put([]byte(messageCID), data)
	})
}

// Get looks up a message by its messageCid.
func (s *BoltStore) Get(tenant, messageCID string) (*dwntypes.IndexedMessage, bool, error) {
	var out *dwntypes.IndexedMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := viewTenantBucket(tx, bucketMessages, tenant)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(messageCID))
		if data == nil {
			return nil
		}
		var sm storedMessage
		if err := json.Unmarshal(data, &sm); err != nil {
			return err
		}
		out = &dwntypes.IndexedMessage{Message: sm.Message, Indexes: sm.Indexes}
		return nil
	})
	return out, out != nil, err
}

// Query scans a tenant's messages for every stored message whose indexes
// satisfy at least one filter in filters (a disjunction of conjunctive
// equality/range constraints), applying pagination over the result.
func (s *BoltStore) Query(tenant string, filters []dwntypes.Filter, page dwntypes.Pagination) ([]dwntypes.IndexedMessage, string, error) {
	var matches []dwntypes.IndexedMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := viewTenantBucket(tx, bucketMessages, tenant)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var sm storedMessage
			if err := json.Unmarshal(v, &sm); err != nil {
				return err
			}
			if matchesAny(sm.Indexes, filters) {
				matches = append(matches, dwntypes.IndexedMessage{Message: sm.Message, Indexes: sm.Indexes})
			}
			return nil
		})
	})
	if err != nil {
		return nil, "", err
	}
	sort.Slice(matches, func(i, j int) bool {
		ti, _ := matches[i].Indexes["messageTimestamp"].(string)
		tj, _ := matches[j].Indexes["messageTimestamp"].(string)
		if ti != tj {
			return ti < tj
		}
		ci, _ := matches[i].Indexes["messageCid"].(string)
		cj, _ := matches[j].Indexes["messageCid"].(string)
		return ci < cj
	})
	return paginateMessages(matches, page)
}

func matchesAny(indexes map[string]any, filters []dwntypes.Filter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if matchesAll(indexes, f) {
			return true
		}
	}
	return false
}

func matchesAll(indexes map[string]any, filter dwntypes.Filter) bool {
	for key, want := range filter {
		got, ok := indexes[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case dwntypes.RangeValue:
			if !inRange(got, w) {
				return false
			}
		default:
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

func inRange(got any, r dwntypes.RangeValue) bool {
	gs, gok := got.(string)
	if gok {
		if from, ok := r.From.(string); ok && gs < from {
			return false
		}
		if to, ok := r.To.(string); ok && gs > to {
			return false
		}
		return true
	}
	gf, err := toFloat(got)
	if err != nil {
		return false
	}
	if r.From != nil {
		from, err := toFloat(r.From)
		if err == nil && gf < from {
			return false
		}
	}
	if r.To != nil {
		to, err := toFloat(r.To)
		if err == nil && gf > to {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func paginateMessages(all []dwntypes.IndexedMessage, page dwntypes.Pagination) ([]dwntypes.IndexedMessage, string, error) {
	start := 0
	if page.Cursor != "" {
		for i, m := range all {
			if m.Indexes["messageCid"] == page.Cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, "", nil
	}
	end := len(all)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	slice := all[start:end]
	var cursor string
	if end < len(all) && len(slice) > 0 {
		if cid, ok := slice[len(slice)-1].Indexes["messageCid"].(string); ok {
			cursor = cid
		}
	}
	return slice, cursor, nil
}

// Delete removes a message by its messageCid.
func (s *BoltStore) Delete(tenant, messageCID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, bucketMessages, tenant)
		if err != nil {
			return err
		}
		return b.Delete([]byte(messageCID))
	})
}

// Clear removes every message belonging to tenant.
func (s *BoltStore) Clear(tenant string) error {
	return clearTenant(s.db, bucketMessages, tenant)
}

func clearTenant(db *bolt.DB, family []byte, tenant string) error {
	return db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(family)
		if root.Bucket([]byte(tenant)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(tenant))
	})
}

var (
	dataContentBucket = []byte("content")
	dataRefsBucket    = []byte("refs")
)

// refKey joins dataCID and messageCID into one reference entry; the same
// content referenced by several messages keeps one copy and one ref per
// message, and the copy is reclaimed when the last ref goes.
func refKey(dataCID, messageCID string) []byte {
	return []byte(dataCID + "\x00" + messageCID)
}

// boltDataStore is the DataStore view of a BoltStore's database. Content
// is stored once per dataCid; each referencing message adds a ref entry.
type boltDataStore struct {
	db *bolt.DB
}

func dataBuckets(tx *bolt.Tx, tenant string) (content, refs *bolt.Bucket, err error) {
	b, err := tenantBucket(tx, bucketData, tenant)
	if err != nil {
		return nil, nil, err
	}
	content, err = b.CreateBucketIfNotExists(dataContentBucket)
	if err != nil {
		return nil, nil, err
	}
	refs, err = b.CreateBucketIfNotExists(dataRefsBucket)
	if err != nil {
		return nil, nil, err
	}
	return content, refs, nil
}

func viewDataBuckets(tx *bolt.Tx, tenant string) (content, refs *bolt.Bucket) {
	b := viewTenantBucket(tx, bucketData, tenant)
	if b == nil {
		return nil, nil
	}
	return b.Bucket(dataContentBucket), b.Bucket(dataRefsBucket)
}

// Put reads stream fully, persists the content under dataCID, and records
// messageCID's reference to it.
func (s boltDataStore) Put(tenant, messageCID, dataCID string, stream io.Reader) (DataResult, error) {
	buf, err := io.ReadAll(stream)
	if err != nil {
		return DataResult{}, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		content, refs, err := dataBuckets(tx, tenant)
		if err != nil {
			return err
		}
		if err := content.Put([]byte(dataCID), buf); err != nil {
			return err
		}
		return refs.Put(refKey(dataCID, messageCID), []byte{1})
	})
	if err != nil {
		return DataResult{}, err
	}
	return DataResult{DataCID: dataCID, DataSize: int64(len(buf))}, nil
}

// Get returns the content stream messageCID references under dataCID.
func (s boltDataStore) Get(tenant, messageCID, dataCID string) (io.ReadCloser, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		content, refs := viewDataBuckets(tx, tenant)
		if content == nil || refs == nil {
			return nil
		}
		if refs.Get(refKey(dataCID, messageCID)) == nil {
			return nil
		}
		if data := content.Get([]byte(dataCID)); data != nil {
			raw = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(raw)), true, nil
}

// Associate records messageCID's reference to content already ingested by
// an earlier message. The data store reporting the content absent is a
// DataNotFound failure, not a silent false.
func (s boltDataStore) Associate(tenant, messageCID, dataCID string) (bool, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		content, refs, err := dataBuckets(tx, tenant)
		if err != nil {
			return err
		}
		if content.Get([]byte(dataCID)) == nil {
			return dwnerr.New(dwnerr.KindDataNotFound, "no data stored for dataCid %s", dataCID)
		}
		return refs.Put(refKey(dataCID, messageCID), []byte{1})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes messageCID's reference to dataCID and reclaims the
// content itself once no other message references it.
func (s boltDataStore) Delete(tenant, messageCID, dataCID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		content, refs, err := dataBuckets(tx, tenant)
		if err != nil {
			return err
		}
		if err := refs.Delete(refKey(dataCID, messageCID)); err != nil {
			return err
		}
		prefix := []byte(dataCID + "\x00")
		c := refs.Cursor()
		if k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix) {
			return nil
		}
		return content.Delete([]byte(dataCID))
	})
}

// Clear removes every data payload belonging to tenant.
func (s boltDataStore) Clear(tenant string) error {
	return clearTenant(s.db, bucketData, tenant)
}

// storedEvent is the on-disk envelope for one event-log entry.
type storedEvent struct {
	Cursor     string         `json:"cursor"`
	MessageCID string         `json:"messageCid"`
	Indexes    map[string]any `json:"indexes"`
}

// boltEventLog is the EventLog view of a BoltStore's database.
type boltEventLog struct {
	db *bolt.DB
}

// Append assigns the entry a monotonic ulid-derived cursor and stores it
// keyed by that cursor, so GetEvents can resume a scan lexicographically.
func (s boltEventLog) Append(tenant, messageCID string, indexes map[string]any) (string, error) {
	cursor := ulid.Make().String()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, bucketEvents, tenant)
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedEvent{Cursor: cursor, MessageCID: messageCID, Indexes: indexes})
		if err != nil {
			return err
		}
		return b.Put([]byte(cursor), data)
	})
	return cursor, err
}

// GetEvents returns every event-log entry after cursor, in cursor order.
func (s boltEventLog) GetEvents(tenant, cursor string) ([]EventLogEntry, string, error) {
	return s.QueryEvents(tenant, nil, cursor)
}

// QueryEvents returns the entries after cursor matching filters, in
// cursor order.
func (s boltEventLog) QueryEvents(tenant string, filters []dwntypes.Filter, cursor string) ([]EventLogEntry, string, error) {
	var entries []EventLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := viewTenantBucket(tx, bucketEvents, tenant)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k, v []byte
		if cursor != "" {
			k, v = c.Seek([]byte(cursor))
			if k != nil && string(k) == cursor {
				k, v = c.Next()
			}
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			var se storedEvent
			if err := json.Unmarshal(v, &se); err != nil {
				return err
			}
			if len(filters) == 0 || matchesAny(se.Indexes, filters) {
				entries = append(entries, EventLogEntry{Cursor: se.Cursor, MessageCID: se.MessageCID, Indexes: se.Indexes})
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	var next string
	if len(entries) > 0 {
		next = entries[len(entries)-1].Cursor
	}
	return entries, next, nil
}

// DeleteEventsByCID removes every event-log entry referencing any of
// messageCIDs.
func (s boltEventLog) DeleteEventsByCID(tenant string, messageCIDs []string) error {
	want := make(map[string]bool, len(messageCIDs))
	for _, c := range messageCIDs {
		want[c] = true
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := viewTenantBucket(tx, bucketEvents, tenant)
		if b == nil {
			return nil
		}
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var se storedEvent
			if err := json.Unmarshal(v, &se); err != nil {
				return err
			}
			if want[se.MessageCID] {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// storedTask is the on-disk envelope for one pending resumable task.
type storedTask struct {
	ID        string          `json:"id"`
	Tenant    string          `json:"tenant"`
	Kind      string          `json:"kind"`
	RecordID  string          `json:"recordId"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// boltTaskLedger is the TaskLedger view of a BoltStore's database.
type boltTaskLedger struct {
	db *bolt.DB
}

// Enqueue persists task before the store mutation it protects runs.
func (s boltTaskLedger) Enqueue(task ResumableTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(storedTask{
			ID: task.ID, Tenant: task.Tenant, Kind: task.Kind,
			RecordID: task.RecordID, CreatedAt: task.CreatedAt, Payload: task.Payload,
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

// Pending returns every task not yet completed.
func (s boltTaskLedger) Pending() ([]ResumableTask, error) {
	var tasks []ResumableTask
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var st storedTask
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			tasks = append(tasks, ResumableTask{
				ID: st.ID, Tenant: st.Tenant, Kind: st.Kind,
				RecordID: st.RecordID, CreatedAt: st.CreatedAt, Payload: st.Payload,
			})
			return nil
		})
	})
	return tasks, err
}

// Complete removes a task from the ledger once its operation has fully
// re-driven.
func (s boltTaskLedger) Complete(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.Delete([]byte(taskID))
	})
}
