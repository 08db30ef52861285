package dwntypes

import (
	"encoding/json"
	"fmt"
)

// SignaturePayload is the canonical byte payload a signature is computed
// over (see the record engine's Sign step). Undefined fields are elided
// before signing, never encoded as null.
type SignaturePayload struct {
	RecordID          string `json:"recordId"`
	ContextID         string `json:"contextId,omitempty"`
	DescriptorCID     string `json:"descriptorCid"`
	AttestationCID    string `json:"attestationCid,omitempty"`
	EncryptionCID     string `json:"encryptionCid,omitempty"`
	DelegatedGrantID  string `json:"delegatedGrantId,omitempty"`
	PermissionGrantID string `json:"permissionGrantId,omitempty"`
	ProtocolRole      string `json:"protocolRole,omitempty"`
}

// AttestationPayload is the signature payload carried by an Attestation; it
// is required to contain only descriptorCid (multi-attester attestation is
// not supported).
type AttestationPayload struct {
	DescriptorCID string `json:"descriptorCid"`
}

// Attestation is a single signature binding a second signer to a message's
// descriptor.
type Attestation struct {
	Signature string `json:"signature"`
}

// Encryption carries the opaque encryption envelope referenced by
// encryptionCid. Its internal shape is a JWE concern external to the
// engine; only the binding CID is verified here.
type Encryption struct {
	Signature string `json:"signature,omitempty"`
}

// Authorization is the signature block of a message: the primary
// author/delegate signature, an optional layered owner signature, and the
// delegated-grant messages referenced by either.
type Authorization struct {
	Signature            string   `json:"signature"`
	OwnerSignature        string   `json:"ownerSignature,omitempty"`
	AuthorDelegatedGrant *Message `json:"authorDelegatedGrant,omitempty"`
	OwnerDelegatedGrant  *Message `json:"ownerDelegatedGrant,omitempty"`
}

// Message is the wire-level container for every interface handler. Its
// Descriptor is a tagged variant resolved from the interface/method fields
// embedded in the encoded descriptor.
type Message struct {
	RecordID      string         `json:"recordId,omitempty"`
	ContextID     string         `json:"contextId,omitempty"`
	Descriptor    Descriptor     `json:"descriptor"`
	Authorization *Authorization `json:"authorization,omitempty"`
	Attestation   *Attestation   `json:"attestation,omitempty"`
	Encryption    *Encryption    `json:"encryption,omitempty"`
	EncodedData   string         `json:"encodedData,omitempty"`
}

// messageWire mirrors Message but keeps Descriptor as raw JSON so it can be
// resolved to its concrete type after the envelope is known.
type messageWire struct {
	RecordID      string          `json:"recordId,omitempty"`
	ContextID     string          `json:"contextId,omitempty"`
	Descriptor    json.RawMessage `json:"descriptor"`
	Authorization *Authorization  `json:"authorization,omitempty"`
	Attestation   *Attestation    `json:"attestation,omitempty"`
	Encryption    *Encryption     `json:"encryption,omitempty"`
	EncodedData   string          `json:"encodedData,omitempty"`
}

// MarshalJSON encodes m with its concrete descriptor inline.
func (m Message) MarshalJSON() ([]byte, error) {
	descRaw, err := json.Marshal(m.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("dwntypes: marshal descriptor: %w", err)
	}
	w := messageWire{
		RecordID:      m.RecordID,
		ContextID:     m.ContextID,
		Descriptor:    descRaw,
		Authorization: m.Authorization,
		Attestation:   m.Attestation,
		Encryption:    m.Encryption,
		EncodedData:   m.EncodedData,
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes m, resolving its descriptor to the concrete type
// implied by its interface/method fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("dwntypes: decode message envelope: %w", err)
	}
	desc, err := UnmarshalDescriptor(w.Descriptor)
	if err != nil {
		return err
	}
	m.RecordID = w.RecordID
	m.ContextID = w.ContextID
	m.Descriptor = desc
	m.Authorization = w.Authorization
	m.Attestation = w.Attestation
	m.Encryption = w.Encryption
	m.EncodedData = w.EncodedData
	return nil
}
