package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryftlabs/dwn/pkg/cidutil"
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

func newController(t *testing.T) (*Controller, *BoltStore) {
	t.Helper()
	store := openTestStore(t)
	ctrl := NewController(store, store.Data(), store.EventLog(), nil, store.Tasks())
	return ctrl, store
}

func TestControllerPutOrdersDataBeforeMessageBeforeEvent(t *testing.T) {
	ctrl, store := newController(t)
	dataCID, err := cidutil.RawBytes([]byte("payload"))
	require.NoError(t, err)
	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	err = ctrl.Put(PutInput{
		Tenant:     "t1",
		Message:    msg,
		MessageCID: "msgCid1",
		Indexes:    map[string]any{"recordId": "r1"},
		DataStream: bytes.NewReader([]byte("payload")),
		DataCID:    dataCID.String(),
		DataSize:   int64(len("payload")),
	})
	require.NoError(t, err)

	_, ok, err := store.Get("t1", "msgCid1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = store.Data().Get("t1", "msgCid1", dataCID.String())
	require.NoError(t, err)
	assert.True(t, ok)

	entries, _, err := store.EventLog().GetEvents("t1", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "msgCid1", entries[0].MessageCID)
}

func TestControllerPutRejectsDataCIDMismatch(t *testing.T) {
	ctrl, store := newController(t)
	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	err := ctrl.Put(PutInput{
		Tenant:     "t1",
		Message:    msg,
		MessageCID: "msgCid1",
		Indexes:    map[string]any{},
		DataStream: bytes.NewReader([]byte("payload")),
		DataCID:    "wrong-cid",
		DataSize:   int64(len("payload")),
	})
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindDataCidMismatch, err.(*dwnerr.Error).Kind)

	_, ok, getErr := store.Data().Get("t1", "msgCid1", "wrong-cid")
	require.NoError(t, getErr)
	assert.False(t, ok, "mismatched data must be reclaimed, not left orphaned")
}

func TestControllerPutRejectsDataSizeMismatch(t *testing.T) {
	ctrl, _ := newController(t)
	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	err := ctrl.Put(PutInput{
		Tenant:     "t1",
		Message:    msg,
		MessageCID: "msgCid1",
		Indexes:    map[string]any{},
		DataStream: bytes.NewReader([]byte("payload")),
		DataCID:    "dataCid1",
		DataSize:   999,
	})
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindDataSizeMismatch, err.(*dwnerr.Error).Kind)
}

func TestControllerPutAssociatesExistingData(t *testing.T) {
	ctrl, store := newController(t)
	_, err := store.Data().Put("t1", "msgCidOld", "dataCidShared", bytes.NewReader([]byte("shared")))
	require.NoError(t, err)

	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	err = ctrl.Put(PutInput{
		Tenant:     "t1",
		Message:    msg,
		MessageCID: "msgCidOld",
		Indexes:    map[string]any{},
		DataCID:    "dataCidShared",
	})
	assert.NoError(t, err)
}

func TestControllerPutFailsWhenAssociatedDataMissing(t *testing.T) {
	ctrl, _ := newController(t)
	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	err := ctrl.Put(PutInput{
		Tenant:     "t1",
		Message:    msg,
		MessageCID: "msgCid1",
		Indexes:    map[string]any{},
		DataCID:    "never-ingested",
	})
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindDataNotFound, err.(*dwnerr.Error).Kind)
}

func TestDeleteOlderButKeepInitialWrite(t *testing.T) {
	ctrl, store := newController(t)
	_, err := store.Data().Put("t1", "oldMsg", "oldData", bytes.NewReader([]byte("old")))
	require.NoError(t, err)
	initialMsg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	require.NoError(t, store.Put("t1", initialMsg, "initialMsg", map[string]any{}))
	require.NoError(t, store.Put("t1", initialMsg, "oldMsg", map[string]any{}))
	_, err = store.EventLog().Append("t1", "oldMsg", nil)
	require.NoError(t, err)

	rewritten := false
	err = ctrl.DeleteOlderButKeepInitialWrite("t1", []OlderMessage{
		{MessageCID: "oldMsg", DataCID: "oldData", IsInitialWrite: false},
		{MessageCID: "initialMsg", DataCID: "", IsInitialWrite: true},
	}, "newData", func(messageCID string) error {
		rewritten = true
		assert.Equal(t, "initialMsg", messageCID)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, rewritten)

	_, ok, err := store.Data().Get("t1", "oldMsg", "oldData")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get("t1", "oldMsg")
	require.NoError(t, err)
	assert.False(t, ok, "non-initial older message must be removed from the message store")
}

func TestDeleteOlderKeepsDataSharedWithNewest(t *testing.T) {
	ctrl, store := newController(t)
	_, err := store.Data().Put("t1", "oldMsg", "sharedData", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	err = ctrl.DeleteOlderButKeepInitialWrite("t1", []OlderMessage{
		{MessageCID: "oldMsg", DataCID: "sharedData", IsInitialWrite: false},
	}, "sharedData", nil)
	require.NoError(t, err)

	_, ok, err := store.Data().Get("t1", "oldMsg", "sharedData")
	require.NoError(t, err)
	assert.True(t, ok, "data referenced by the newest write must not be reclaimed")
}

func TestPurgeRecordDescendants(t *testing.T) {
	ctrl, store := newController(t)
	_, err := store.Data().Put("t1", "updateMsg", "childData", bytes.NewReader([]byte("child")))
	require.NoError(t, err)
	childMsg := &dwntypes.Message{RecordID: "child1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	require.NoError(t, store.Put("t1", childMsg, "initialMsg", map[string]any{"isLatestBaseState": false}))
	require.NoError(t, store.Put("t1", childMsg, "updateMsg", map[string]any{"isLatestBaseState": true}))
	_, err = store.EventLog().Append("t1", "initialMsg", nil)
	require.NoError(t, err)
	_, err = store.EventLog().Append("t1", "updateMsg", nil)
	require.NoError(t, err)

	err = ctrl.PurgeRecordDescendants("t1", []DescendantRecord{
		{
			RecordID:         "child1",
			NewestMessageCID: "updateMsg",
			NewestDataCID:    "childData",
			PurgeMessageCIDs: []string{"updateMsg"},
			RewriteInitial: &RewriteMessage{
				MessageCID: "initialMsg",
				Message:    childMsg,
				Indexes:    map[string]any{"isLatestBaseState": false},
			},
		},
	})
	require.NoError(t, err)

	_, ok, err := store.Data().Get("t1", "updateMsg", "childData")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get("t1", "updateMsg")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := store.Get("t1", "initialMsg")
	require.NoError(t, err)
	require.True(t, ok, "the initial write must survive as a tombstone stub")
	assert.Equal(t, false, got.Indexes["isLatestBaseState"])

	entries, _, err := store.EventLog().GetEvents("t1", "")
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the non-initial event entries are reclaimed")
	assert.Equal(t, "initialMsg", entries[0].MessageCID)
}
