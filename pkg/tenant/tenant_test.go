package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctrl := storage.NewController(store, store.Data(), store.EventLog(), nil, store.Tasks())
	mgr := NewManager(t.TempDir(), ctrl)
	t.Cleanup(func() { mgr.Close() })
	return mgr, store
}

func TestManagerSubmitPutAppliesInOrder(t *testing.T) {
	mgr, store := newTestManager(t)

	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	err := mgr.Submit("did:key:tenant1", OpPut, PutPayload{
		Message:    msg,
		MessageCID: "cidA",
		Indexes:    map[string]any{"recordId": "r1"},
	})
	require.NoError(t, err)

	got, ok, err := store.Get("did:key:tenant1", "cidA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", got.Message.RecordID)
}

func TestManagerSubmitPutFailureSurfacesDomainError(t *testing.T) {
	mgr, _ := newTestManager(t)

	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	err := mgr.Submit("did:key:tenant1", OpPut, PutPayload{
		Message:    msg,
		MessageCID: "cidA",
		Indexes:    map[string]any{},
		DataCID:    "never-ingested",
	})
	assert.Error(t, err, "associating a dataCid that was never ingested must fail")
}

func TestManagerSubmitDeleteOlderRewritesInitialWrite(t *testing.T) {
	mgr, store := newTestManager(t)
	tenantID := "did:key:tenant2"

	initial := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	require.NoError(t, store.Put(tenantID, initial, "initialCid", map[string]any{"isLatestBaseState": true}))
	require.NoError(t, store.Put(tenantID, initial, "secondCid", map[string]any{"isLatestBaseState": true}))
	_, err := store.EventLog().Append(tenantID, "secondCid", nil)
	require.NoError(t, err)

	err = mgr.Submit(tenantID, OpDeleteOlder, DeleteOlderPayload{
		Older: []storage.OlderMessage{
			{MessageCID: "initialCid", IsInitialWrite: true},
		},
		NewestDataCID: "",
		RewriteInitial: &RewriteInitialWrite{
			MessageCID: "initialCid",
			Message:    initial,
			Indexes:    map[string]any{"isLatestBaseState": false},
		},
	})
	require.NoError(t, err)

	got, ok, err := store.Get(tenantID, "initialCid")
	require.NoError(t, err)
	require.True(t, ok, "initial write must be rewritten, not deleted")
	assert.Equal(t, false, got.Indexes["isLatestBaseState"])
}

func TestManagerSubmitPurgeDescendants(t *testing.T) {
	mgr, store := newTestManager(t)
	tenantID := "did:key:tenant3"

	child := &dwntypes.Message{RecordID: "child1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	require.NoError(t, store.Put(tenantID, child, "childCid", map[string]any{}))
	_, err := store.EventLog().Append(tenantID, "childCid", nil)
	require.NoError(t, err)

	err = mgr.Submit(tenantID, OpPurgeDescendants, PurgeDescendantsPayload{
		Descendants: []storage.DescendantRecord{
			{RecordID: "child1", NewestMessageCID: "childCid", PurgeMessageCIDs: []string{"childCid"}},
		},
	})
	require.NoError(t, err)

	_, ok, err := store.Get(tenantID, "childCid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerIsolatesTenants(t *testing.T) {
	mgr, store := newTestManager(t)

	msg := &dwntypes.Message{RecordID: "r1", Descriptor: dwntypes.NewRecordsWriteDescriptor()}
	require.NoError(t, mgr.Submit("did:key:tenantA", OpPut, PutPayload{
		Message: msg, MessageCID: "cid1", Indexes: map[string]any{},
	}))

	_, ok, err := store.Get("did:key:tenantB", "cid1")
	require.NoError(t, err)
	assert.False(t, ok, "a command submitted for one tenant must not be visible to another")
}

func TestManagerIsLeaderAfterBootstrap(t *testing.T) {
	mgr, _ := newTestManager(t)
	leader, err := mgr.IsLeader("did:key:tenant4")
	require.NoError(t, err)
	assert.True(t, leader, "a single-voter group elects itself leader")
}
