package record

import (
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// ExistingWrite is the minimal view of a stored write the ordering and
// immutability checks need; callers (the storage controller) populate it
// from the message store.
type ExistingWrite struct {
	MessageCID string
	RecordID   string
	ContextID  string
	EntryID    string
	Author     string
	Descriptor *dwntypes.RecordsWriteDescriptor
}

// IsInitialWrite reports whether w is the initial write of its record.
func (w *ExistingWrite) IsInitialWrite() bool {
	return w.EntryID == w.RecordID
}

// Newest implements the same-record ordering rule: the write with the
// higher messageTimestamp is newest; ties are broken by the
// lexicographically larger messageCid string.
func Newest(a, b *ExistingWrite) *ExistingWrite {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	at, bt := a.Descriptor.MessageTimestamp, b.Descriptor.MessageTimestamp
	if at.After(bt) {
		return a
	}
	if bt.After(at) {
		return b
	}
	if a.MessageCID > b.MessageCID {
		return a
	}
	return b
}

// mutableFields are the descriptor properties a non-initial write is
// permitted to change relative to the initial write.
var mutableFields = map[string]bool{
	"dataCid": true, "dataSize": true, "dataFormat": true,
	"datePublished": true, "published": true, "messageTimestamp": true, "tags": true,
}

// CheckImmutable verifies that every descriptor property not in the
// mutable set agrees between the record's initial write and a candidate
// write.
func CheckImmutable(initial, candidate *dwntypes.RecordsWriteDescriptor) error {
	if initial.Protocol != candidate.Protocol {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "protocol changed")
	}
	if initial.ProtocolPath != candidate.ProtocolPath {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "protocolPath changed")
	}
	if initial.Schema != candidate.Schema {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "schema changed")
	}
	if initial.ParentID != candidate.ParentID {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "parentId changed")
	}
	if initial.Recipient != candidate.Recipient {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "recipient changed")
	}
	if !initial.DateCreated.Equal(candidate.DateCreated) {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "dateCreated changed")
	}
	// dataFormat is immutable only for flat-space (no protocol) records.
	if initial.Protocol == "" && initial.DataFormat != candidate.DataFormat {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "dataFormat changed")
	}
	return nil
}

// CheckImmutableMessage extends CheckImmutable with the message-level
// identity fields (recordId, contextId) that must also never change across
// writes of the same record.
func CheckImmutableMessage(initial, candidate *dwntypes.Message) error {
	if initial.RecordID != candidate.RecordID {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "recordId changed")
	}
	if initial.ContextID != candidate.ContextID {
		return dwnerr.New(dwnerr.KindImmutablePropertyChanged, "contextId changed")
	}
	initDesc, ok := initial.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	if !ok {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "initial write descriptor is not a RecordsWrite descriptor")
	}
	candDesc, ok := candidate.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	if !ok {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "candidate descriptor is not a RecordsWrite descriptor")
	}
	return CheckImmutable(initDesc, candDesc)
}
