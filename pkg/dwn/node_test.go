package dwn

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryftlabs/dwn/pkg/did"
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/record"
)

type identity struct {
	did  string
	priv ed25519.PrivateKey
}

func (id identity) keyID() string { return did.DefaultKeyID(id.did) }

func newIdentity(t *testing.T) identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	d, err := did.GenerateKeyDID(pub)
	require.NoError(t, err)
	return identity{did: d, priv: priv}
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := NewNode(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

// signedWrite builds and signs a record-write message. recordID empty
// means initial write (recordId = entryId).
func signedWrite(t *testing.T, n *Node, author identity, opts record.WriteOptions, recordID string, sigOpts record.SignaturePayloadOptions) (*dwntypes.Message, []byte) {
	t.Helper()
	data := opts.Data
	desc, err := record.BuildDescriptor(opts)
	require.NoError(t, err)
	entryID, err := record.EntryID(desc, author.did)
	require.NoError(t, err)
	rid := recordID
	if rid == "" {
		rid = entryID
	}
	msg := &dwntypes.Message{
		RecordID:   rid,
		ContextID:  record.ContextID(opts.Protocol, rid, opts.ParentContextID),
		Descriptor: desc,
	}
	require.NoError(t, record.Sign(n.sig, msg, author.keyID(), author.priv, sigOpts))
	return msg, data
}

func mustWrite(t *testing.T, n *Node, tenant string, msg *dwntypes.Message, data []byte) {
	t.Helper()
	reply, err := n.WriteRecord(tenant, msg, data)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Code)
}

func configureTestProtocol(t *testing.T, n *Node, tenant identity, def dwntypes.ProtocolDefinition) {
	t.Helper()
	desc := dwntypes.NewProtocolsConfigureDescriptor()
	desc.Definition = def
	desc.MessageTimestamp = time.Now().UTC()
	msg := &dwntypes.Message{Descriptor: desc}
	require.NoError(t, record.Sign(n.sig, msg, tenant.keyID(), tenant.priv, record.SignaturePayloadOptions{}))
	reply, err := n.ConfigureProtocol(tenant.did, msg)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Code)
}

func latestMessages(t *testing.T, n *Node, tenant, requester, recordID string) []dwntypes.Message {
	t.Helper()
	msgs, _, reply, err := n.QueryRecords(tenant, requester, "", []dwntypes.Filter{{
		"recordId": recordID, "isLatestBaseState": true,
	}}, dwntypes.Pagination{})
	require.NoError(t, err)
	require.Equal(t, 200, reply.Code)
	return msgs
}

func TestInitialWriteThenUpdate(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)
	t0 := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	msg1, data1 := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("hello"), DataFormat: "text/plain",
		DateCreated: t0, MessageTimestamp: t0,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, msg1, data1)
	recordID := msg1.RecordID

	msg2, data2 := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("world"), DataFormat: "text/plain",
		DateCreated: t0, MessageTimestamp: t0.Add(30 * time.Second),
	}, recordID, record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, msg2, data2)

	msgs := latestMessages(t, n, alice.did, alice.did, recordID)
	require.Len(t, msgs, 1)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("world")), msgs[0].EncodedData)
}

func TestImmutablePropertyViolation(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)
	t0 := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	msg1, data1 := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("hello"), DataFormat: "text/plain",
		DateCreated: t0, MessageTimestamp: t0,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, msg1, data1)

	msg2, data2 := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("x"), DataFormat: "text/plain", Schema: "https://example.com/other",
		DateCreated: t0, MessageTimestamp: t0.Add(time.Minute),
	}, msg1.RecordID, record.SignaturePayloadOptions{})
	reply, err := n.WriteRecord(alice.did, msg2, data2)
	require.Error(t, err)
	assert.Equal(t, 400, reply.Code)
	assert.Equal(t, string(dwnerr.KindImmutablePropertyChanged), reply.Kind)
}

const photosProtocol = "https://example.com/photos"

func photosDefinition() dwntypes.ProtocolDefinition {
	return dwntypes.ProtocolDefinition{
		Protocol:  photosProtocol,
		Published: true,
		Types: map[string]dwntypes.TypeDef{
			"album": {}, "photo": {},
		},
		Structure: map[string]*dwntypes.ProtocolRuleSet{
			"album": {Type: "album", Children: map[string]*dwntypes.ProtocolRuleSet{
				"photo": {Type: "photo"},
			}},
		},
	}
}

func TestDeleteWithPruneLeavesTombstoneStubs(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)
	configureTestProtocol(t, n, alice, photosDefinition())

	album, albumData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("album"), DataFormat: "application/json",
		Protocol: photosProtocol, ProtocolPath: "album",
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, album, albumData)

	photo, photoData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("photo"), DataFormat: "application/json",
		Protocol: photosProtocol, ProtocolPath: "album/photo",
		ParentContextID: album.ContextID,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, photo, photoData)

	del := record.NewDelete(album.RecordID, true, time.Time{})
	require.NoError(t, record.Sign(n.sig, del, alice.keyID(), alice.priv, record.SignaturePayloadOptions{}))
	reply, err := n.DeleteRecord(alice.did, del)
	require.NoError(t, err)
	assert.Equal(t, 202, reply.Code)

	// the album keeps its initial-write stub plus the delete
	albumMsgs, _, err := n.store.Query(alice.did, []dwntypes.Filter{{"recordId": album.RecordID}}, dwntypes.Pagination{})
	require.NoError(t, err)
	require.Len(t, albumMsgs, 2)
	for _, im := range albumMsgs {
		if _, isWrite := im.Message.Descriptor.(*dwntypes.RecordsWriteDescriptor); isWrite {
			assert.Equal(t, false, im.Indexes["isLatestBaseState"])
			assert.Empty(t, im.Message.EncodedData)
		}
	}

	// the pruned photo keeps only its initial-write stub
	photoMsgs, _, err := n.store.Query(alice.did, []dwntypes.Filter{{"recordId": photo.RecordID}}, dwntypes.Pagination{})
	require.NoError(t, err)
	require.Len(t, photoMsgs, 1)
	assert.Equal(t, false, photoMsgs[0].Indexes["isLatestBaseState"])

	// both data blobs are reclaimed
	albumCID, err := record.MessageCID(album)
	require.NoError(t, err)
	photoCID, err := record.MessageCID(photo)
	require.NoError(t, err)
	albumDesc := album.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	photoDesc := photo.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	_, ok, err := n.control.DataSvc.Get(alice.did, albumCID, albumDesc.DataCID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = n.control.DataSvc.Get(alice.did, photoCID, photoDesc.DataCID)
	require.NoError(t, err)
	assert.False(t, ok)
}

const communityProtocol = "https://example.com/community"

func communityDefinition() dwntypes.ProtocolDefinition {
	return dwntypes.ProtocolDefinition{
		Protocol:  communityProtocol,
		Published: true,
		Types: map[string]dwntypes.TypeDef{
			"community": {}, "gatedChannel": {}, "participant": {}, "message": {},
		},
		Structure: map[string]*dwntypes.ProtocolRuleSet{
			"community": {Type: "community", Children: map[string]*dwntypes.ProtocolRuleSet{
				"gatedChannel": {Type: "gatedChannel", Children: map[string]*dwntypes.ProtocolRuleSet{
					"participant": {Type: "participant", Role: true},
					"message": {Type: "message", Actions: []dwntypes.ActionRule{
						{Role: "community/gatedChannel/participant", Can: []dwntypes.Action{dwntypes.ActionCreate}},
					}},
				}},
			}},
		},
	}
}

func TestRoleGatedChannel(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)
	carol := newIdentity(t)
	mallory := newIdentity(t)
	configureTestProtocol(t, n, alice, communityDefinition())

	community, communityData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte(`{"name":"commons"}`), DataFormat: "application/json",
		Protocol: communityProtocol, ProtocolPath: "community",
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, community, communityData)

	channel, channelData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte(`{"name":"general"}`), DataFormat: "application/json",
		Protocol: communityProtocol, ProtocolPath: "community/gatedChannel",
		ParentContextID: community.ContextID,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, channel, channelData)

	participant, participantData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte(`{}`), DataFormat: "application/json",
		Protocol: communityProtocol, ProtocolPath: "community/gatedChannel/participant",
		ParentContextID: channel.ContextID, Recipient: carol.did,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, participant, participantData)

	chat, chatData := signedWrite(t, n, carol, record.WriteOptions{
		Data: []byte(`{"text":"hi"}`), DataFormat: "application/json",
		Protocol: communityProtocol, ProtocolPath: "community/gatedChannel/message",
		ParentContextID: channel.ContextID,
	}, "", record.SignaturePayloadOptions{ProtocolRole: "community/gatedChannel/participant"})
	mustWrite(t, n, alice.did, chat, chatData)

	intruder, intruderData := signedWrite(t, n, mallory, record.WriteOptions{
		Data: []byte(`{"text":"let me in"}`), DataFormat: "application/json",
		Protocol: communityProtocol, ProtocolPath: "community/gatedChannel/message",
		ParentContextID: channel.ContextID,
	}, "", record.SignaturePayloadOptions{ProtocolRole: "community/gatedChannel/participant"})
	reply, err := n.WriteRecord(alice.did, intruder, intruderData)
	require.Error(t, err)
	assert.Equal(t, 401, reply.Code)
	assert.Equal(t, string(dwnerr.KindMatchingRoleRecordNotFound), reply.Kind)
}

func TestGrantThenRevoke(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)
	bob := newIdentity(t)

	secret, secretData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("private note"), DataFormat: "text/plain",
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, secret, secretData)

	grantMsg, grantData, err := BuildGrant(GrantOptions{
		GrantedTo:   bob.did,
		GrantedBy:   alice.did,
		GrantedFor:  alice.did,
		DateExpires: time.Now().UTC().Add(24 * time.Hour),
		Scope:       dwntypes.GrantScope{Interface: dwntypes.InterfaceRecords, Method: dwntypes.MethodQuery},
	})
	require.NoError(t, err)
	require.NoError(t, record.Sign(n.sig, grantMsg, alice.keyID(), alice.priv, record.SignaturePayloadOptions{}))
	mustWrite(t, n, alice.did, grantMsg, grantData)
	grantID := grantMsg.RecordID

	// without a grant, the unpublished record is invisible to bob
	msgs, _, reply, err := n.QueryRecords(alice.did, bob.did, "", []dwntypes.Filter{{"recordId": secret.RecordID}}, dwntypes.Pagination{})
	require.NoError(t, err)
	require.Equal(t, 200, reply.Code)
	assert.Len(t, msgs, 0)

	// invoking the grant makes it visible
	msgs, _, reply, err = n.QueryRecords(alice.did, bob.did, grantID, []dwntypes.Filter{{"recordId": secret.RecordID}}, dwntypes.Pagination{})
	require.NoError(t, err)
	require.Equal(t, 200, reply.Code)
	require.Len(t, msgs, 1)

	revokeMsg, revokeData, err := BuildRevocation(grantID, alice.did, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, record.Sign(n.sig, revokeMsg, alice.keyID(), alice.priv, record.SignaturePayloadOptions{}))
	mustWrite(t, n, alice.did, revokeMsg, revokeData)

	_, _, reply, err = n.QueryRecords(alice.did, bob.did, grantID, []dwntypes.Filter{{"recordId": secret.RecordID}}, dwntypes.Pagination{})
	require.Error(t, err)
	assert.Equal(t, 401, reply.Code)
	assert.Equal(t, string(dwnerr.KindGrantRevoked), reply.Kind)
}

func TestTieBreakOnMessageCID(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)
	t0 := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	initial, initialData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("v0"), DataFormat: "text/plain",
		DateCreated: t0, MessageTimestamp: t0,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, initial, initialData)
	recordID := initial.RecordID

	t1 := t0.Add(10 * time.Second)
	updA, dataA := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("va"), DataFormat: "text/plain",
		DateCreated: t0, MessageTimestamp: t1,
	}, recordID, record.SignaturePayloadOptions{})
	updB, dataB := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("vb"), DataFormat: "text/plain",
		DateCreated: t0, MessageTimestamp: t1,
	}, recordID, record.SignaturePayloadOptions{})

	cidA, err := record.MessageCID(updA)
	require.NoError(t, err)
	cidB, err := record.MessageCID(updB)
	require.NoError(t, err)
	loser, loserData, winner, winnerData := updA, dataA, updB, dataB
	if cidA > cidB {
		loser, loserData, winner, winnerData = updB, dataB, updA, dataA
	}

	mustWrite(t, n, alice.did, loser, loserData)
	mustWrite(t, n, alice.did, winner, winnerData)

	msgs := latestMessages(t, n, alice.did, alice.did, recordID)
	require.Len(t, msgs, 1)
	winnerDesc := winner.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	gotDesc := msgs[0].Descriptor.(*dwntypes.RecordsWriteDescriptor)
	assert.Equal(t, winnerDesc.DataCID, gotDesc.DataCID)

	// the losing write cannot displace the winner
	reply, err := n.WriteRecord(alice.did, loser, loserData)
	require.Error(t, err)
	assert.Equal(t, 409, reply.Code)
	assert.Equal(t, string(dwnerr.KindNewerMessageExists), reply.Kind)
}

func TestResubmissionIsIdempotent(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)

	msg, data := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("once"), DataFormat: "text/plain",
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, msg, data)

	entries, _, err := n.control.Events.GetEvents(alice.did, "")
	require.NoError(t, err)
	before := len(entries)

	mustWrite(t, n, alice.did, msg, data)

	entries, _, err = n.control.Events.GetEvents(alice.did, "")
	require.NoError(t, err)
	assert.Equal(t, before, len(entries), "re-submitting an accepted message must not append a second event")
}

func TestSubscribeReceivesAcceptedWrites(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)

	got := make(chan dwntypes.Event, 1)
	reply, err := n.SubscribeRecords(alice.did, "sub1", func(e dwntypes.Event) {
		select {
		case got <- e:
		default:
		}
	})
	require.NoError(t, err)
	require.Equal(t, 200, reply.Code)
	defer n.Unsubscribe(alice.did, "sub1")

	msg, data := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("ping"), DataFormat: "text/plain",
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, msg, data)

	msgCID, err := record.MessageCID(msg)
	require.NoError(t, err)
	select {
	case ev := <-got:
		assert.Equal(t, msgCID, ev.MessageCID)
		assert.Equal(t, alice.did, ev.Tenant)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription delivery")
	}
}

func TestAnonymousQuerySeesOnlyPublished(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)

	pub, pubData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("public"), DataFormat: "text/plain", Published: true,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, pub, pubData)

	priv, privData := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("private"), DataFormat: "text/plain",
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, priv, privData)

	msgs, _, reply, err := n.QueryRecords(alice.did, "", "", []dwntypes.Filter{{"isLatestBaseState": true}}, dwntypes.Pagination{})
	require.NoError(t, err)
	require.Equal(t, 200, reply.Code)
	require.Len(t, msgs, 1)
	assert.Equal(t, pub.RecordID, msgs[0].RecordID)
}

func TestRecipientSeesUnpublishedRecord(t *testing.T) {
	n := newTestNode(t)
	alice := newIdentity(t)
	bob := newIdentity(t)

	msg, data := signedWrite(t, n, alice, record.WriteOptions{
		Data: []byte("for bob"), DataFormat: "text/plain", Recipient: bob.did,
	}, "", record.SignaturePayloadOptions{})
	mustWrite(t, n, alice.did, msg, data)

	read, reply, err := n.ReadRecord(alice.did, bob.did, msg.RecordID)
	require.NoError(t, err)
	require.Equal(t, 200, reply.Code)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("for bob")), read.EncodedData)

	mallory := newIdentity(t)
	_, reply, err = n.ReadRecord(alice.did, mallory.did, msg.RecordID)
	require.Error(t, err)
	assert.Equal(t, 401, reply.Code)
}
