package dwn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/grant"
	"github.com/ryftlabs/dwn/pkg/record"
)

// GrantOptions describes a permission grant to be issued. The grant is
// an ordinary RecordsWrite under PermissionsProtocol at "grant" —
// BuildGrant only shapes that write; the caller still signs and submits
// it like any other record.
type GrantOptions struct {
	GrantedTo   string
	GrantedBy   string
	GrantedFor  string
	DateGranted time.Time
	DateExpires time.Time
	Scope       dwntypes.GrantScope
	Conditions  *dwntypes.GrantConditions
	Delegated   bool
}

// BuildGrant validates opts.Scope against the grant engine's issuance
// rules and returns an unsigned grant message plus its data payload,
// ready for record.Sign and WriteRecord. The message's recordId/contextId are
// pre-computed (rather than left for WriteRecord to derive) since both
// must be bound into the signature payload before signing.
func BuildGrant(opts GrantOptions) (*dwntypes.Message, []byte, error) {
	if err := grant.ValidateScopeOnIssuance(opts.Scope); err != nil {
		return nil, nil, err
	}
	if opts.DateGranted.IsZero() {
		opts.DateGranted = time.Now().UTC()
	}

	gd := dwntypes.GrantData{
		GrantedTo:   opts.GrantedTo,
		GrantedBy:   opts.GrantedBy,
		GrantedFor:  opts.GrantedFor,
		DateGranted: opts.DateGranted,
		DateExpires: opts.DateExpires,
		Scope:       opts.Scope,
		Conditions:  opts.Conditions,
		Delegated:   opts.Delegated,
	}
	data, err := json.Marshal(gd)
	if err != nil {
		return nil, nil, fmt.Errorf("dwn: marshal grant data: %w", err)
	}

	desc, err := record.BuildDescriptor(record.WriteOptions{
		Data:             data,
		DataFormat:       "application/json",
		Protocol:         PermissionsProtocol,
		ProtocolPath:     permissionsGrantPath,
		Recipient:        opts.GrantedTo,
		DateCreated:      opts.DateGranted,
		MessageTimestamp: opts.DateGranted,
	})
	if err != nil {
		return nil, nil, err
	}
	entryID, err := record.EntryID(desc, opts.GrantedBy)
	if err != nil {
		return nil, nil, err
	}
	msg := &dwntypes.Message{RecordID: entryID, ContextID: entryID, Descriptor: desc}
	return msg, data, nil
}

// BuildRevocation returns an unsigned revocation message plus its data
// payload for the grant named by grantID, owned by the same grantedBy
// DID that issued it.
func BuildRevocation(grantID, grantedBy string, dateRevoked time.Time) (*dwntypes.Message, []byte, error) {
	if dateRevoked.IsZero() {
		dateRevoked = time.Now().UTC()
	}
	rd := dwntypes.RevocationData{DateRevoked: dateRevoked}
	data, err := json.Marshal(rd)
	if err != nil {
		return nil, nil, fmt.Errorf("dwn: marshal revocation data: %w", err)
	}

	desc, err := record.BuildDescriptor(record.WriteOptions{
		Data:             data,
		DataFormat:       "application/json",
		Protocol:         PermissionsProtocol,
		ProtocolPath:     permissionsRevocationPath,
		ParentContextID:  grantID,
		DateCreated:      dateRevoked,
		MessageTimestamp: dateRevoked,
	})
	if err != nil {
		return nil, nil, err
	}
	entryID, err := record.EntryID(desc, grantedBy)
	if err != nil {
		return nil, nil, err
	}
	contextID := record.ContextID(PermissionsProtocol, entryID, grantID)
	msg := &dwntypes.Message{RecordID: entryID, ContextID: contextID, Descriptor: desc}
	return msg, data, nil
}
