package dwn

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ryftlabs/dwn/pkg/cidutil"
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/grant"
	"github.com/ryftlabs/dwn/pkg/metrics"
	"github.com/ryftlabs/dwn/pkg/protocol"
	"github.com/ryftlabs/dwn/pkg/record"
	"github.com/ryftlabs/dwn/pkg/schema"
	"github.com/ryftlabs/dwn/pkg/storage"
	"github.com/ryftlabs/dwn/pkg/tenant"
)

// WriteRecord implements the RecordsWrite handler: parsing, the record
// engine, protocol authorization, and grant invocation in sequence.
// data is the record's raw payload, or nil when
// descriptor.dataCid already references data ingested by an earlier
// accepted write.
func (n *Node) WriteRecord(tenantDID string, msg *dwntypes.Message, data []byte) (*Reply, error) {
	if err := n.writeRecord(tenantDID, msg, data); err != nil {
		return toReply(err), err
	}
	metrics.MessagesAcceptedTotal.WithLabelValues(string(dwntypes.InterfaceRecords), string(dwntypes.MethodWrite)).Inc()
	return Accepted(), nil
}

func (n *Node) writeRecord(tenantDID string, msg *dwntypes.Message, data []byte) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dwn: marshal message: %w", err)
	}
	if err := schema.ValidateMessageShape(raw); err != nil {
		return err
	}
	desc, ok := msg.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	if !ok {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "expected a RecordsWrite descriptor")
	}
	if msg.Authorization == nil || msg.Authorization.Signature == "" {
		return dwnerr.New(dwnerr.KindInvalidSignature, "message carries no signature")
	}

	descriptorCID, err := record.DescriptorCID(desc)
	if err != nil {
		return err
	}

	signerDID, payload, err := n.sig.Verify(msg.Authorization.Signature)
	if err != nil {
		return err
	}
	var sigPayload dwntypes.SignaturePayload
	if err := json.Unmarshal(payload, &sigPayload); err != nil {
		return fmt.Errorf("dwn: decode signature payload: %w", err)
	}
	if sigPayload.DescriptorCID != descriptorCID {
		return dwnerr.New(dwnerr.KindDescriptorCidMismatch, "signaturePayload.descriptorCid does not match descriptor")
	}

	logicalAuthor, err := n.resolveLogicalAuthor(msg.Authorization, signerDID)
	if err != nil {
		return err
	}

	entryID, err := record.EntryID(desc, logicalAuthor)
	if err != nil {
		return err
	}
	recordID := msg.RecordID
	if recordID == "" {
		recordID = entryID
		msg.RecordID = recordID
	}
	isInitial := entryID == recordID

	existing, err := n.loadRecordState(tenantDID, recordID)
	if err != nil {
		return err
	}

	if err := record.ValidateIntegrity(record.IntegrityInput{
		Message:          msg,
		SignaturePayload: &sigPayload,
		DescriptorCID:    descriptorCID,
		EntryID:          entryID,
		InitialWrite:     existing.initial,
	}); err != nil {
		return err
	}

	attesterDID, err := n.checkAttestation(msg, descriptorCID)
	if err != nil {
		return err
	}

	ownerAuthorized, err := n.verifyOwnerSignature(tenantDID, msg.Authorization, descriptorCID)
	if err != nil {
		return err
	}

	if err := n.authorizeRecordWrite(tenantDID, logicalAuthor, isInitial, ownerAuthorized, desc, sigPayload, msg.ContextID, existing); err != nil {
		return err
	}

	messageCID, err := record.MessageCID(msg)
	if err != nil {
		return err
	}
	// Re-submitting an already-accepted message succeeds without a second
	// event-log entry.
	if _, ok, err := n.store.Get(tenantDID, messageCID); err != nil {
		return err
	} else if ok {
		return nil
	}
	candidate := &record.ExistingWrite{MessageCID: messageCID, RecordID: recordID, ContextID: msg.ContextID, EntryID: entryID, Author: logicalAuthor, Descriptor: desc}
	if existing.newest != nil {
		if record.Newest(existing.newest, candidate) != candidate {
			return dwnerr.New(dwnerr.KindNewerMessageExists, "a newer message already exists for record %s", recordID)
		}
	}

	if data != nil {
		ingestedCID, err := cidutil.RawBytes(data)
		if err != nil {
			return fmt.Errorf("dwn: hash data payload: %w", err)
		}
		if ingestedCID.String() != desc.DataCID {
			return dwnerr.New(dwnerr.KindDataCidMismatch, "ingested dataCid %s does not match descriptor dataCid %s", ingestedCID, desc.DataCID)
		}
		if int64(len(data)) != desc.DataSize {
			return dwnerr.New(dwnerr.KindDataSizeMismatch, "ingested dataSize %d does not match descriptor dataSize %d", len(data), desc.DataSize)
		}
		if _, err := n.control.DataSvc.Put(tenantDID, messageCID, desc.DataCID, bytes.NewReader(data)); err != nil {
			return err
		}
		if int64(len(data)) < storage.InlineDataThreshold {
			msg.EncodedData = base64.RawURLEncoding.EncodeToString(data)
		}
	}

	idx, err := record.Indexes(msg, logicalAuthor, attesterDID, entryID, true)
	if err != nil {
		return err
	}

	if err := n.tenants.Submit(tenantDID, tenant.OpPut, tenant.PutPayload{
		Message:      msg,
		MessageCID:   messageCID,
		Indexes:      idx,
		DataCID:      desc.DataCID,
		DataSize:     desc.DataSize,
		InitialWrite: isInitial,
	}); err != nil {
		return err
	}

	if !isInitial && len(existing.writes) > 0 {
		return n.purgeSupersededWrites(tenantDID, existing, desc.DataCID)
	}
	return nil
}

// purgeSupersededWrites handles the general "a newer write or delete has
// superseded these" case: every write on file before the one just
// accepted is reclaimed, except the initial write, which is rewritten
// rather than deleted.
func (n *Node) purgeSupersededWrites(tenantDID string, existing *recordState, newestDataCID string) error {
	older := make([]storage.OlderMessage, 0, len(existing.writes))
	for _, w := range existing.writes {
		older = append(older, storage.OlderMessage{MessageCID: w.MessageCID, DataCID: w.Descriptor.DataCID, IsInitialWrite: w.IsInitialWrite()})
	}
	var rewrite *tenant.RewriteInitialWrite
	if existing.initial != nil {
		stub, err := n.initialWriteStub(tenantDID, existing.initial.MessageCID)
		if err != nil {
			return err
		}
		rewrite = stub
	}
	return n.submitResumable(tenantDID, tenant.OpDeleteOlder, tenant.DeleteOlderPayload{
		Older:          older,
		NewestDataCID:  newestDataCID,
		RewriteInitial: rewrite,
	})
}

// initialWriteStub reloads an initial write and re-shapes it as a
// not-latest tombstone stub with its inline data stripped. Returns nil
// (no error) when the message is no longer on file.
func (n *Node) initialWriteStub(tenantDID, messageCID string) (*storage.RewriteMessage, error) {
	im, ok, err := n.store.Get(tenantDID, messageCID)
	if err != nil || !ok {
		return nil, err
	}
	stripped := im.Message
	stripped.EncodedData = ""
	idx := make(map[string]any, len(im.Indexes)+1)
	for k, v := range im.Indexes {
		idx[k] = v
	}
	idx["isLatestBaseState"] = false
	return &storage.RewriteMessage{MessageCID: messageCID, Message: &stripped, Indexes: idx}, nil
}

// submitResumable persists the intent of a cross-store operation to the
// task ledger before driving it, and clears the ledger entry only once
// the operation has actually completed: a crash in between leaves the
// task for the reconciler to redrive.
func (n *Node) submitResumable(tenantDID string, op tenant.Op, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dwn: marshal resumable payload: %w", err)
	}
	taskID := ulid.Make().String()
	if err := n.store.Tasks().Enqueue(storage.ResumableTask{
		ID: taskID, Tenant: tenantDID, Kind: string(op), CreatedAt: time.Now().UTC(), Payload: raw,
	}); err != nil {
		return fmt.Errorf("dwn: enqueue resumable task: %w", err)
	}
	if err := n.tenants.Submit(tenantDID, op, payload); err != nil {
		return err
	}
	return n.store.Tasks().Complete(taskID)
}

// resolveLogicalAuthor recovers the record's logical author: the signer
// itself, or (for an author-delegated write) the delegated grant's
// grantor, after checking that grant's referential integrity.
func (n *Node) resolveLogicalAuthor(auth *dwntypes.Authorization, signerDID string) (string, error) {
	if auth == nil || auth.AuthorDelegatedGrant == nil {
		return signerDID, nil
	}
	gd, err := decodeGrantData(auth.AuthorDelegatedGrant)
	if err != nil {
		return "", err
	}
	if !gd.Delegated {
		return "", dwnerr.New(dwnerr.KindGrantedByMismatch, "authorDelegatedGrant does not reference a delegated grant")
	}
	if err := record.ValidateDelegatedGrantReferentialIntegrity(gd.GrantedBy, signerDID, gd.GrantedBy, gd.GrantedTo); err != nil {
		return "", err
	}
	return gd.GrantedBy, nil
}

// verifyOwnerSignature cryptographically verifies an optional layered
// owner signature (or owner-delegate) and reports whether it actually
// admits the message into tenantDID's store.
func (n *Node) verifyOwnerSignature(tenantDID string, auth *dwntypes.Authorization, descriptorCID string) (bool, error) {
	if auth == nil || auth.OwnerSignature == "" {
		return false, nil
	}
	ownerDID, payload, err := n.sig.Verify(auth.OwnerSignature)
	if err != nil {
		return false, err
	}
	logicalOwner := ownerDID
	if auth.OwnerDelegatedGrant != nil {
		gd, err := decodeGrantData(auth.OwnerDelegatedGrant)
		if err != nil {
			return false, err
		}
		if err := record.ValidateDelegatedGrantReferentialIntegrity(gd.GrantedBy, ownerDID, gd.GrantedBy, gd.GrantedTo); err != nil {
			return false, err
		}
		logicalOwner = gd.GrantedBy
	}
	var sp dwntypes.SignaturePayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		return false, fmt.Errorf("dwn: decode owner signature payload: %w", err)
	}
	if sp.DescriptorCID != descriptorCID {
		return false, dwnerr.New(dwnerr.KindDescriptorCidMismatch, "ownerSignature payload descriptorCid mismatch")
	}
	return logicalOwner == tenantDID, nil
}

// checkAttestation validates an optional attestation's shape and binding
// and returns the attester's DID, or "" if msg carries no attestation.
func (n *Node) checkAttestation(msg *dwntypes.Message, descriptorCID string) (string, error) {
	if msg.Attestation == nil {
		return "", nil
	}
	attesterDID, payload, err := n.sig.Verify(msg.Attestation.Signature)
	if err != nil {
		return "", err
	}
	if err := schema.ValidateAttestationShape(payload); err != nil {
		return "", err
	}
	var ap dwntypes.AttestationPayload
	if err := json.Unmarshal(payload, &ap); err != nil {
		return "", fmt.Errorf("dwn: decode attestation payload: %w", err)
	}
	if ap.DescriptorCID != descriptorCID {
		return "", dwnerr.New(dwnerr.KindAttestationCidMismatch, "attestation payload descriptorCid does not match descriptor")
	}
	return attesterDID, nil
}

// authorizeRecordWrite runs the protocol authorization rule chain plus
// owner admission, with a carve-out for grant issuance: permission
// grant/revocation records are owned by the tenant regardless of who they
// name, so they bypass the protocol rule engine entirely and require
// direct tenant authorship.
func (n *Node) authorizeRecordWrite(tenantDID, logicalAuthor string, isInitial, ownerAuthorized bool, desc *dwntypes.RecordsWriteDescriptor, sigPayload dwntypes.SignaturePayload, contextID string, existing *recordState) error {
	if desc.Protocol == PermissionsProtocol {
		if tenantDID != logicalAuthor {
			return dwnerr.New(dwnerr.KindActionNotAllowed, "only the tenant may write permission grant records")
		}
		return nil
	}

	var node *dwntypes.ProtocolRuleSet
	if desc.Protocol != "" {
		var err error
		_, node, err = n.structuralAndTypeCheck(tenantDID, desc)
		if err != nil {
			return err
		}
	}

	if tenantDID == logicalAuthor || ownerAuthorized {
		return nil
	}

	if sigPayload.PermissionGrantID != "" {
		return n.checkGrantInvocation(tenantDID, logicalAuthor, sigPayload, dwntypes.MethodWrite, desc.Protocol, contextID, desc.ProtocolPath, desc.Schema, desc.MessageTimestamp, desc.Published)
	}

	if desc.Protocol == "" {
		return dwnerr.New(dwnerr.KindActionNotAllowed, "flat-space write requires tenant ownership, an owner signature, or a permission grant")
	}

	authorIsRecordAuthor := recordAuthorMatches(existing, logicalAuthor)
	action := protocol.DetermineAction(true, isInitial, authorIsRecordAuthor, false)
	return protocol.Authorize(node, action, protocol.EvalContext{
		Tenant: tenantDID, Author: logicalAuthor, Recipient: desc.Recipient, ContextID: contextID, ProtocolRole: sigPayload.ProtocolRole,
	}, n)
}

// structuralAndTypeCheck resolves the protocol definition lookup,
// structural placement, and type conformance in order.
func (n *Node) structuralAndTypeCheck(tenantDID string, desc *dwntypes.RecordsWriteDescriptor) (*dwntypes.ProtocolDefinition, *dwntypes.ProtocolRuleSet, error) {
	def, node, err := protocol.ResolveNode(n, tenantDID, desc.Protocol, desc.ProtocolPath)
	if err != nil {
		return nil, nil, err
	}
	_, parentFound, err := n.parentWrite(tenantDID, desc.ParentID)
	if err != nil {
		return nil, nil, err
	}
	if err := protocol.ValidateParentPlacement(desc.ProtocolPath, desc.ParentID == "" || parentFound); err != nil {
		return nil, nil, err
	}
	if err := protocol.CheckTypeConformance(def, node, protocol.TypeConformance{
		Schema: desc.Schema, DataFormat: desc.DataFormat, DataSize: desc.DataSize, Tags: desc.Tags,
	}); err != nil {
		return nil, nil, err
	}
	return def, node, nil
}

func recordAuthorMatches(existing *recordState, author string) bool {
	if existing.newest != nil {
		return existing.newest.Author == author
	}
	if existing.initial != nil {
		return existing.initial.Author == author
	}
	return true
}

// checkGrantInvocation runs the grant invocation checks for one non-owner message.
func (n *Node) checkGrantInvocation(tenantDID, author string, sigPayload dwntypes.SignaturePayload, method dwntypes.Method, protocolURI, contextID, protocolPath, recordSchema string, messageTimestamp time.Time, published bool) error {
	err := grant.CheckInvocation(n, grant.Invocation{
		Tenant:           tenantDID,
		GrantID:          sigPayload.PermissionGrantID,
		Author:           author,
		Interface:        dwntypes.InterfaceRecords,
		Method:           method,
		Protocol:         protocolURI,
		ContextID:        contextID,
		ProtocolPath:     protocolPath,
		Schema:           recordSchema,
		MessageTimestamp: messageTimestamp,
		Published:        published,
	})
	outcome := "allowed"
	if err != nil {
		outcome = "denied"
	}
	metrics.GrantInvocationsTotal.WithLabelValues(outcome).Inc()
	return err
}

// DeleteRecord implements the RecordsDelete handler.
func (n *Node) DeleteRecord(tenantDID string, msg *dwntypes.Message) (*Reply, error) {
	noOp, err := n.deleteRecord(tenantDID, msg)
	if err != nil {
		return toReply(err), err
	}
	if !noOp {
		metrics.MessagesAcceptedTotal.WithLabelValues(string(dwntypes.InterfaceRecords), string(dwntypes.MethodDelete)).Inc()
	}
	return Accepted(), nil
}

func (n *Node) deleteRecord(tenantDID string, msg *dwntypes.Message) (bool, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("dwn: marshal message: %w", err)
	}
	if err := schema.ValidateMessageShape(raw); err != nil {
		return false, err
	}
	desc, ok := msg.Descriptor.(*dwntypes.RecordsDeleteDescriptor)
	if !ok {
		return false, dwnerr.New(dwnerr.KindSchemaInvalid, "expected a RecordsDelete descriptor")
	}
	if msg.Authorization == nil || msg.Authorization.Signature == "" {
		return false, dwnerr.New(dwnerr.KindInvalidSignature, "message carries no signature")
	}

	descriptorCID, err := record.DescriptorCID(desc)
	if err != nil {
		return false, err
	}
	signerDID, payload, err := n.sig.Verify(msg.Authorization.Signature)
	if err != nil {
		return false, err
	}
	var sigPayload dwntypes.SignaturePayload
	if err := json.Unmarshal(payload, &sigPayload); err != nil {
		return false, fmt.Errorf("dwn: decode signature payload: %w", err)
	}
	if sigPayload.DescriptorCID != descriptorCID {
		return false, dwnerr.New(dwnerr.KindDescriptorCidMismatch, "signaturePayload.descriptorCid does not match descriptor")
	}
	if msg.RecordID != desc.RecordID {
		return false, dwnerr.New(dwnerr.KindRecordIdUnauthorized, "message.recordId does not match descriptor.recordId")
	}
	if msg.RecordID != sigPayload.RecordID {
		return false, dwnerr.New(dwnerr.KindRecordIdUnauthorized, "message.recordId does not match signaturePayload.recordId")
	}

	logicalAuthor, err := n.resolveLogicalAuthor(msg.Authorization, signerDID)
	if err != nil {
		return false, err
	}

	existing, err := n.loadRecordState(tenantDID, desc.RecordID)
	if err != nil {
		return false, err
	}
	decision, err := record.EvaluateDelete(desc.RecordID, existing.initial, existing.deleted, desc.Prune)
	if err != nil {
		return false, err
	}
	if decision.NoOp {
		return true, nil
	}
	if existing.newest != nil && existing.newest.Descriptor.MessageTimestamp.After(desc.MessageTimestamp) {
		return false, dwnerr.New(dwnerr.KindNewerMessageExists, "a newer write already exists for record %s", desc.RecordID)
	}

	ownerAuthorized, err := n.verifyOwnerSignature(tenantDID, msg.Authorization, descriptorCID)
	if err != nil {
		return false, err
	}

	if err := n.authorizeRecordDelete(tenantDID, logicalAuthor, ownerAuthorized, desc, sigPayload, existing); err != nil {
		return false, err
	}

	messageCID, err := record.MessageCID(msg)
	if err != nil {
		return false, err
	}
	idx := map[string]any{
		"interface":        string(dwntypes.InterfaceRecords),
		"method":            string(dwntypes.MethodDelete),
		"recordId":          desc.RecordID,
		"messageTimestamp": desc.MessageTimestamp,
		"prune":            desc.Prune,
		"author":           logicalAuthor,
	}
	if err := n.tenants.Submit(tenantDID, tenant.OpPut, tenant.PutPayload{
		Message: msg, MessageCID: messageCID, Indexes: idx,
	}); err != nil {
		return false, err
	}

	if err := n.purgeSupersededWrites(tenantDID, existing, ""); err != nil {
		return false, err
	}
	if desc.Prune {
		descendants, err := n.findDescendants(tenantDID, desc.RecordID)
		if err != nil {
			return false, err
		}
		if len(descendants) > 0 {
			if err := n.submitResumable(tenantDID, tenant.OpPurgeDescendants, tenant.PurgeDescendantsPayload{Descendants: descendants}); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// authorizeRecordDelete mirrors authorizeRecordWrite for the delete
// action, reading the record's protocol placement from its initial write
// since protocol/protocolPath are immutable once set.
func (n *Node) authorizeRecordDelete(tenantDID, logicalAuthor string, ownerAuthorized bool, desc *dwntypes.RecordsDeleteDescriptor, sigPayload dwntypes.SignaturePayload, existing *recordState) error {
	initial := existing.initial
	if initial.Descriptor.Protocol == PermissionsProtocol {
		if tenantDID != logicalAuthor {
			return dwnerr.New(dwnerr.KindActionNotAllowed, "only the tenant may delete permission grant records")
		}
		return nil
	}
	if tenantDID == logicalAuthor || ownerAuthorized {
		return nil
	}
	if sigPayload.PermissionGrantID != "" {
		return n.checkGrantInvocation(tenantDID, logicalAuthor, sigPayload, dwntypes.MethodDelete, initial.Descriptor.Protocol, initial.ContextID, initial.Descriptor.ProtocolPath, initial.Descriptor.Schema, desc.MessageTimestamp, initial.Descriptor.Published)
	}
	if initial.Descriptor.Protocol == "" {
		return dwnerr.New(dwnerr.KindActionNotAllowed, "flat-space delete requires tenant ownership, an owner signature, or a permission grant")
	}
	_, node, err := protocol.ResolveNode(n, tenantDID, initial.Descriptor.Protocol, initial.Descriptor.ProtocolPath)
	if err != nil {
		return err
	}
	authorIsRecordAuthor := recordAuthorMatches(existing, logicalAuthor)
	action := protocol.DetermineAction(false, false, authorIsRecordAuthor, desc.Prune)
	return protocol.Authorize(node, action, protocol.EvalContext{
		Tenant: tenantDID, Author: logicalAuthor, Recipient: initial.Descriptor.Recipient, ContextID: initial.ContextID, ProtocolRole: sigPayload.ProtocolRole,
	}, n)
}

// findDescendants walks a record's descendants breadth-first, grouped by
// recordId.
func (n *Node) findDescendants(tenantDID, rootRecordID string) ([]storage.DescendantRecord, error) {
	var out []storage.DescendantRecord
	seen := map[string]bool{}
	queue := []string{rootRecordID}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		children, _, err := n.store.Query(tenantDID, []dwntypes.Filter{{"parentId": parent}}, dwntypes.Pagination{})
		if err != nil {
			return nil, err
		}
		childIDs := map[string]bool{}
		for _, im := range children {
			if im.Message.RecordID != "" {
				childIDs[im.Message.RecordID] = true
			}
		}
		for childID := range childIDs {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			st, err := n.loadRecordState(tenantDID, childID)
			if err != nil {
				return nil, err
			}
			rec := storage.DescendantRecord{RecordID: childID}
			for _, w := range st.writes {
				if !w.IsInitialWrite() {
					rec.PurgeMessageCIDs = append(rec.PurgeMessageCIDs, w.MessageCID)
				}
			}
			if st.deleteCID != "" {
				rec.PurgeMessageCIDs = append(rec.PurgeMessageCIDs, st.deleteCID)
			}
			if st.newest != nil {
				rec.NewestMessageCID = st.newest.MessageCID
				rec.NewestDataCID = st.newest.Descriptor.DataCID
			}
			if st.initial != nil {
				stub, err := n.initialWriteStub(tenantDID, st.initial.MessageCID)
				if err != nil {
					return nil, err
				}
				rec.RewriteInitial = stub
			}
			out = append(out, rec)
			queue = append(queue, childID)
		}
	}
	return out, nil
}

// ReadRecord implements the RecordsRead handler. requesterDID is
// "" for an unauthenticated caller.
func (n *Node) ReadRecord(tenantDID, requesterDID, recordID string) (*dwntypes.Message, *Reply, error) {
	st, err := n.loadRecordState(tenantDID, recordID)
	if err != nil {
		return nil, toReply(err), err
	}
	w := st.newest
	if w == nil {
		w = st.initial
	}
	if w == nil {
		err := dwnerr.New(dwnerr.KindInitialWriteNotFound, "no write on file for recordId %s", recordID)
		return nil, toReply(err), err
	}
	if err := n.checkReadAuthorization(tenantDID, requesterDID, w); err != nil {
		return nil, toReply(err), err
	}
	im, ok, err := n.store.Get(tenantDID, w.MessageCID)
	if err != nil {
		return nil, toReply(err), err
	}
	if !ok {
		err := dwnerr.New(dwnerr.KindInitialWriteNotFound, "message %s is missing from the store", w.MessageCID)
		return nil, toReply(err), err
	}
	msg := im.Message
	n.attachInlineData(tenantDID, w.MessageCID, &msg)
	return &msg, OK(), nil
}

// checkReadAuthorization evaluates read authorization for one candidate write.
func (n *Node) checkReadAuthorization(tenantDID, requesterDID string, w *record.ExistingWrite) error {
	if tenantDID == requesterDID || w.Descriptor.Published {
		return nil
	}
	if requesterDID != "" && requesterDID == w.Descriptor.Recipient {
		return nil
	}
	if w.Descriptor.Protocol == "" {
		return dwnerr.New(dwnerr.KindActionNotAllowed, "not authorized to read this record")
	}
	_, node, err := protocol.ResolveNode(n, tenantDID, w.Descriptor.Protocol, w.Descriptor.ProtocolPath)
	if err != nil {
		return err
	}
	if !protocol.CanRead(node, protocol.ReadEvalContext{
		Tenant: tenantDID, Requester: requesterDID, Author: w.Author, Recipient: w.Descriptor.Recipient,
		ContextID: w.ContextID, Published: w.Descriptor.Published,
	}, n) {
		return dwnerr.New(dwnerr.KindActionNotAllowed, "not authorized to read this record")
	}
	return nil
}

// attachInlineData fills msg.EncodedData from the data store when it is
// absent and the payload is small enough to inline.
func (n *Node) attachInlineData(tenantDID, messageCID string, msg *dwntypes.Message) {
	if msg.EncodedData != "" {
		return
	}
	desc, ok := msg.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	if !ok || desc.DataCID == "" || desc.DataSize >= storage.InlineDataThreshold {
		return
	}
	rc, ok, err := n.control.DataSvc.Get(tenantDID, messageCID, desc.DataCID)
	if err != nil || !ok {
		return
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return
	}
	msg.EncodedData = base64.RawURLEncoding.EncodeToString(data)
}

// QueryRecords implements the RecordsQuery handler: candidates matching
// filters are further filtered by read authorization, per record. A
// non-owner requester may invoke a permission grant instead; the grant's
// record scope then bounds the visible results rather than gating each
// candidate individually.
func (n *Node) QueryRecords(tenantDID, requesterDID, permissionGrantID string, filters []dwntypes.Filter, page dwntypes.Pagination) ([]dwntypes.Message, string, *Reply, error) {
	grantAuthorized := false
	if permissionGrantID != "" && requesterDID != "" && requesterDID != tenantDID {
		scoped, err := n.authorizeGrantedQuery(tenantDID, requesterDID, permissionGrantID, filters)
		if err != nil {
			return nil, "", toReply(err), err
		}
		filters = scoped
		grantAuthorized = true
	}

	candidates, cursor, err := n.store.Query(tenantDID, filters, page)
	if err != nil {
		return nil, "", toReply(err), err
	}
	out := make([]dwntypes.Message, 0, len(candidates))
	for _, im := range candidates {
		w, ok := existingWriteFromIndexed(im)
		if !ok {
			continue
		}
		if !grantAuthorized {
			if err := n.checkReadAuthorization(tenantDID, requesterDID, w); err != nil {
				continue
			}
		}
		msg := im.Message
		n.attachInlineData(tenantDID, w.MessageCID, &msg)
		out = append(out, msg)
	}
	return out, cursor, OK(), nil
}

// authorizeGrantedQuery runs the grant-invocation checks for a query and
// returns filters narrowed to the grant's record scope.
func (n *Node) authorizeGrantedQuery(tenantDID, requesterDID, permissionGrantID string, filters []dwntypes.Filter) ([]dwntypes.Filter, error) {
	g, ok, err := n.Grant(tenantDID, permissionGrantID)
	if err != nil {
		return nil, err
	}
	inv := grant.Invocation{
		Tenant:           tenantDID,
		GrantID:          permissionGrantID,
		Author:           requesterDID,
		Interface:        dwntypes.InterfaceRecords,
		Method:           dwntypes.MethodQuery,
		MessageTimestamp: time.Now().UTC(),
		Published:        true,
	}
	if ok {
		// A query has no record of its own to match the scope against;
		// the scope constrains the result set below instead.
		inv.Protocol = g.Scope.Protocol
		inv.ContextID = g.Scope.ContextID
		inv.ProtocolPath = g.Scope.ProtocolPath
		inv.Schema = g.Scope.Schema
	}
	err = grant.CheckInvocation(n, inv)
	outcome := "allowed"
	if err != nil {
		outcome = "denied"
	}
	metrics.GrantInvocationsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, err
	}

	if len(filters) == 0 {
		filters = []dwntypes.Filter{{}}
	}
	scoped := make([]dwntypes.Filter, 0, len(filters))
	for _, f := range filters {
		nf := dwntypes.Filter{}
		for k, v := range f {
			nf[k] = v
		}
		if g.Scope.Protocol != "" {
			nf["protocol"] = g.Scope.Protocol
		}
		if g.Scope.ProtocolPath != "" {
			nf["protocolPath"] = g.Scope.ProtocolPath
		}
		if g.Scope.Schema != "" {
			nf["schema"] = g.Scope.Schema
		}
		if g.Conditions != nil && g.Conditions.Publication == "required" {
			nf["published"] = true
		}
		scoped = append(scoped, nf)
	}
	return scoped, nil
}

func existingWriteFromIndexed(im dwntypes.IndexedMessage) (*record.ExistingWrite, bool) {
	desc, ok := im.Message.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	if !ok {
		return nil, false
	}
	entryID, _ := im.Indexes["entryId"].(string)
	author, _ := im.Indexes["author"].(string)
	messageCID, _ := im.Indexes["messageCid"].(string)
	return &record.ExistingWrite{
		MessageCID: messageCID, RecordID: im.Message.RecordID, ContextID: im.Message.ContextID,
		EntryID: entryID, Author: author, Descriptor: desc,
	}, true
}

// SubscribeRecords and SubscribeEvents share one per-tenant broker;
// RecordsSubscribe callers are expected to filter the feed on the client
// side the way RecordsQuery callers filter a snapshot.

// SubscribeRecords implements the RecordsSubscribe handler.
func (n *Node) SubscribeRecords(tenantDID, subscriptionID string, handler func(dwntypes.Event)) (*Reply, error) {
	return n.subscribe(tenantDID, subscriptionID, handler)
}

func (n *Node) subscribe(tenantDID, subscriptionID string, handler func(dwntypes.Event)) (*Reply, error) {
	if err := n.stream.Subscribe(tenantDID, subscriptionID, handler); err != nil {
		return toReply(err), err
	}
	metrics.EventsSubscribersActive.WithLabelValues(tenantDID).Inc()
	return OK(), nil
}

// Unsubscribe removes a subscription registered by SubscribeRecords or
// SubscribeEvents. No further invocations happen once this call returns.
func (n *Node) Unsubscribe(tenantDID, subscriptionID string) {
	n.stream.Unsubscribe(tenantDID, subscriptionID)
	metrics.EventsSubscribersActive.WithLabelValues(tenantDID).Dec()
}
