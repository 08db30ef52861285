package dwn

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/record"
)

// Node itself answers the ancestor, role, protocol-definition, and grant
// lookups the protocol and grant engines need, all backed by queries
// against the message store: it implements protocol.Dependencies,
// protocol.DefinitionProvider, and grant.Lookup below.

// recordState is the set of existing messages on file for one recordId,
// as the record engine's ordering and immutability checks need to see it.
type recordState struct {
	initial    *record.ExistingWrite
	newest     *record.ExistingWrite // newest non-delete write, nil if none
	writes     []*record.ExistingWrite
	deleted    bool
	deleteCID  string
}

func (n *Node) loadRecordState(tenant, recordID string) (*recordState, error) {
	msgs, _, err := n.store.Query(tenant, []dwntypes.Filter{{"recordId": recordID}}, dwntypes.Pagination{})
	if err != nil {
		return nil, fmt.Errorf("dwn: load record state: %w", err)
	}
	st := &recordState{}
	for i := range msgs {
		im := msgs[i]
		switch desc := im.Message.Descriptor.(type) {
		case *dwntypes.RecordsWriteDescriptor:
			entryID, _ := im.Indexes["entryId"].(string)
			author, _ := im.Indexes["author"].(string)
			messageCID, _ := im.Indexes["messageCid"].(string)
			ew := &record.ExistingWrite{
				MessageCID: messageCID,
				RecordID:   recordID,
				ContextID:  im.Message.ContextID,
				EntryID:    entryID,
				Author:     author,
				Descriptor: desc,
			}
			st.writes = append(st.writes, ew)
			if ew.IsInitialWrite() {
				st.initial = ew
			}
		case *dwntypes.RecordsDeleteDescriptor:
			st.deleted = true
			if cid, ok := im.Indexes["messageCid"].(string); ok {
				st.deleteCID = cid
			}
		}
	}
	for _, w := range st.writes {
		st.newest = record.Newest(st.newest, w)
	}
	return st, nil
}

// parentWrite resolves the unique record-write whose recordId equals
// parentID, for structural-placement and ancestor-predicate lookups.
func (n *Node) parentWrite(tenant, parentID string) (*record.ExistingWrite, bool, error) {
	if parentID == "" {
		return nil, false, nil
	}
	st, err := n.loadRecordState(tenant, parentID)
	if err != nil {
		return nil, false, err
	}
	if st.newest != nil {
		return st.newest, true, nil
	}
	if st.initial != nil {
		return st.initial, true, nil
	}
	return nil, false, nil
}

// ancestorAtPath walks contextID's recordId chain looking for the write
// whose protocolPath equals ofPath, closest to the leaf first.
func (n *Node) ancestorAtPath(tenant, contextID, ofPath string) (*record.ExistingWrite, bool, error) {
	if ofPath == "" || contextID == "" {
		return nil, false, nil
	}
	segments := strings.Split(contextID, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		recordID := segments[i]
		st, err := n.loadRecordState(tenant, recordID)
		if err != nil {
			return nil, false, err
		}
		w := st.newest
		if w == nil {
			w = st.initial
		}
		if w == nil {
			continue
		}
		if w.Descriptor.ProtocolPath == ofPath {
			return w, true, nil
		}
	}
	return nil, false, nil
}

// AncestorAuthor implements protocol.Dependencies.
func (n *Node) AncestorAuthor(tenant, contextID, ofPath string) (string, bool, error) {
	w, found, err := n.ancestorAtPath(tenant, contextID, ofPath)
	if err != nil || !found {
		return "", found, err
	}
	return w.Author, true, nil
}

// AncestorRecipient implements protocol.Dependencies.
func (n *Node) AncestorRecipient(tenant, contextID, ofPath string) (string, bool, error) {
	w, found, err := n.ancestorAtPath(tenant, contextID, ofPath)
	if err != nil || !found {
		return "", found, err
	}
	return w.Descriptor.Recipient, true, nil
}

// RoleRecordExists implements protocol.Dependencies: a flat role matches
// any latest-base-state write at rolePath naming recipient, regardless of
// context; a contextual role is anchored at the subtree the role record
// was granted under, so the role record's parent context must be an
// ancestor of (or equal to) the candidate message's context.
func (n *Node) RoleRecordExists(tenant, rolePath, recipient, contextID string, contextual bool) (bool, error) {
	msgs, _, err := n.store.Query(tenant, []dwntypes.Filter{{
		"protocolPath":      rolePath,
		"recipient":         recipient,
		"isLatestBaseState": true,
	}}, dwntypes.Pagination{})
	if err != nil {
		return false, fmt.Errorf("dwn: role record lookup: %w", err)
	}
	for _, im := range msgs {
		if !contextual {
			return true, nil
		}
		anchor := parentContext(im.Message.ContextID)
		if anchor == "" {
			continue
		}
		if contextID == anchor || strings.HasPrefix(contextID, anchor+"/") {
			return true, nil
		}
	}
	return false, nil
}

// parentContext strips the last recordId segment off a contextId.
func parentContext(contextID string) string {
	if i := strings.LastIndex(contextID, "/"); i >= 0 {
		return contextID[:i]
	}
	return ""
}

// LatestDefinition implements protocol.DefinitionProvider: the newest
// ProtocolsConfigure for (tenant, protocolURI) wins, tie-broken by
// messageCid.
func (n *Node) LatestDefinition(tenant, protocolURI string) (*dwntypes.ProtocolDefinition, bool, error) {
	msgs, _, err := n.store.Query(tenant, []dwntypes.Filter{{
		"interface": string(dwntypes.InterfaceProtocols),
		"method":    string(dwntypes.MethodConfigure),
		"protocol":  protocolURI,
	}}, dwntypes.Pagination{})
	if err != nil {
		return nil, false, fmt.Errorf("dwn: load protocol definition: %w", err)
	}
	if len(msgs) == 0 {
		return nil, false, nil
	}
	var best *dwntypes.ProtocolsConfigureDescriptor
	var bestCID string
	for _, im := range msgs {
		desc, ok := im.Message.Descriptor.(*dwntypes.ProtocolsConfigureDescriptor)
		if !ok {
			continue
		}
		cid, _ := im.Indexes["messageCid"].(string)
		if best == nil || newerConfigure(desc, cid, best, bestCID) {
			best, bestCID = desc, cid
		}
	}
	if best == nil {
		return nil, false, nil
	}
	def := best.Definition
	return &def, true, nil
}

func newerConfigure(cand *dwntypes.ProtocolsConfigureDescriptor, candCID string, cur *dwntypes.ProtocolsConfigureDescriptor, curCID string) bool {
	if cand.MessageTimestamp.After(cur.MessageTimestamp) {
		return true
	}
	if cand.MessageTimestamp.Before(cur.MessageTimestamp) {
		return false
	}
	return candCID > curCID
}

// Grant implements grant.Lookup: a grant record is a RecordsWrite under
// PermissionsProtocol's grant path, stored under tenant = grantedFor.
func (n *Node) Grant(tenant, grantID string) (*dwntypes.GrantData, bool, error) {
	st, err := n.loadRecordState(tenant, grantID)
	if err != nil {
		return nil, false, err
	}
	w := st.newest
	if w == nil {
		w = st.initial
	}
	if w == nil || w.Descriptor.Protocol != PermissionsProtocol || w.Descriptor.ProtocolPath != permissionsGrantPath {
		return nil, false, nil
	}
	im, ok, err := n.store.Get(tenant, w.MessageCID)
	if err != nil || !ok {
		return nil, false, err
	}
	gd, err := decodeGrantData(&im.Message)
	if err != nil {
		return nil, false, err
	}
	return gd, true, nil
}

// RevokedAt implements grant.Lookup: a revocation record is a child write
// at the grant-revocation path whose parentId is the grant id.
func (n *Node) RevokedAt(tenant, grantID string) (time.Time, bool, error) {
	msgs, _, err := n.store.Query(tenant, []dwntypes.Filter{{
		"protocolPath":      permissionsRevocationPath,
		"parentId":          grantID,
		"isLatestBaseState": true,
	}}, dwntypes.Pagination{})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dwn: revocation lookup: %w", err)
	}
	if len(msgs) == 0 {
		return time.Time{}, false, nil
	}
	var rd dwntypes.RevocationData
	if err := decodeInto(&msgs[0].Message, &rd); err != nil {
		return time.Time{}, false, err
	}
	return rd.DateRevoked, true, nil
}

// decodeGrantData recovers a grant record's GrantData payload, which
// travels inline as base64url encodedData since grant payloads are well
// under the inline threshold.
func decodeGrantData(msg *dwntypes.Message) (*dwntypes.GrantData, error) {
	var gd dwntypes.GrantData
	if err := decodeInto(msg, &gd); err != nil {
		return nil, err
	}
	return &gd, nil
}

func decodeInto(msg *dwntypes.Message, v any) error {
	if msg.EncodedData == "" {
		return dwnerr.New(dwnerr.KindDataNotFound, "message has no inline data to decode")
	}
	raw, err := base64.RawURLEncoding.DecodeString(msg.EncodedData)
	if err != nil {
		return fmt.Errorf("dwn: decode inline data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("dwn: unmarshal inline data: %w", err)
	}
	return nil
}
