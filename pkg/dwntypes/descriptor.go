package dwntypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// Descriptor is the kind-specific payload embedded in every Message. The
// concrete type is determined by (Interface, Method); handlers type-assert
// to the variant they expect after dispatch.
type Descriptor interface {
	Iface() Interface
	Meth() Method
}

type baseDescriptor struct {
	Interface Interface `json:"interface"`
	Method    Method    `json:"method"`
}

func (b baseDescriptor) Iface() Interface { return b.Interface }
func (b baseDescriptor) Meth() Method     { return b.Method }

// RecordsWriteDescriptor is the descriptor of a record-write message,
// including permission grants and revocations, both of which are ordinary
// record-writes under a reserved protocol path.
type RecordsWriteDescriptor struct {
	baseDescriptor
	Protocol         string         `json:"protocol,omitempty"`
	ProtocolPath     string         `json:"protocolPath,omitempty"`
	Recipient        string         `json:"recipient,omitempty"`
	Schema           string         `json:"schema,omitempty"`
	ParentID         string         `json:"parentId,omitempty"`
	DataCID          string         `json:"dataCid"`
	DataSize         int64          `json:"dataSize"`
	DataFormat       string         `json:"dataFormat"`
	DateCreated      time.Time      `json:"dateCreated"`
	MessageTimestamp time.Time      `json:"messageTimestamp"`
	Published        bool           `json:"published,omitempty"`
	DatePublished    *time.Time     `json:"datePublished,omitempty"`
	Tags             map[string]any `json:"tags,omitempty"`
}

// NewRecordsWriteDescriptor returns a RecordsWriteDescriptor with its
// interface/method fields set.
func NewRecordsWriteDescriptor() *RecordsWriteDescriptor {
	return &RecordsWriteDescriptor{baseDescriptor: baseDescriptor{Interface: InterfaceRecords, Method: MethodWrite}}
}

// RecordsDeleteDescriptor is the descriptor of a record-delete message.
type RecordsDeleteDescriptor struct {
	baseDescriptor
	RecordID         string    `json:"recordId"`
	MessageTimestamp time.Time `json:"messageTimestamp"`
	Prune            bool      `json:"prune,omitempty"`
}

func NewRecordsDeleteDescriptor() *RecordsDeleteDescriptor {
	return &RecordsDeleteDescriptor{baseDescriptor: baseDescriptor{Interface: InterfaceRecords, Method: MethodDelete}}
}

// ProtocolsConfigureDescriptor is the descriptor of a protocol-definition
// message.
type ProtocolsConfigureDescriptor struct {
	baseDescriptor
	Definition       ProtocolDefinition `json:"definition"`
	MessageTimestamp time.Time          `json:"messageTimestamp"`
}

func NewProtocolsConfigureDescriptor() *ProtocolsConfigureDescriptor {
	return &ProtocolsConfigureDescriptor{baseDescriptor: baseDescriptor{Interface: InterfaceProtocols, Method: MethodConfigure}}
}

// descriptorEnvelope is used only to sniff interface/method before picking
// the concrete descriptor type to unmarshal into.
type descriptorEnvelope struct {
	Interface Interface `json:"interface"`
	Method    Method    `json:"method"`
}

// UnmarshalDescriptor decodes raw into the concrete Descriptor type implied
// by its interface/method fields.
func UnmarshalDescriptor(raw json.RawMessage) (Descriptor, error) {
	var env descriptorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("dwntypes: sniff descriptor envelope: %w", err)
	}
	switch {
	case env.Interface == InterfaceRecords && env.Method == MethodWrite:
		var d RecordsWriteDescriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("dwntypes: decode RecordsWrite descriptor: %w", err)
		}
		return &d, nil
	case env.Interface == InterfaceRecords && env.Method == MethodDelete:
		var d RecordsDeleteDescriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("dwntypes: decode RecordsDelete descriptor: %w", err)
		}
		return &d, nil
	case env.Interface == InterfaceProtocols && env.Method == MethodConfigure:
		var d ProtocolsConfigureDescriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("dwntypes: decode ProtocolsConfigure descriptor: %w", err)
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("dwntypes: no descriptor for %s/%s", env.Interface, env.Method)
	}
}
