package record

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/signature"
)

// SignaturePayloadOptions carries the optional fields a signature payload
// may bind, beyond the always-present recordId/contextId/descriptorCid.
type SignaturePayloadOptions struct {
	AttestationCID    string
	EncryptionCID     string
	DelegatedGrantID  string
	PermissionGrantID string
	ProtocolRole      string
}

// BuildSignaturePayload constructs the canonical bytes a message's
// signature is computed over. Undefined fields are elided by
// dwntypes.SignaturePayload's omitempty tags; the payload is marshaled
// directly with encoding/json and is not canonicalized further, since JWS
// signs exact bytes, not a re-hashed structured CID.
func BuildSignaturePayload(recordID, contextID, descriptorCID string, opts SignaturePayloadOptions) ([]byte, error) {
	payload := dwntypes.SignaturePayload{
		RecordID:          recordID,
		ContextID:         contextID,
		DescriptorCID:     descriptorCID,
		AttestationCID:    opts.AttestationCID,
		EncryptionCID:     opts.EncryptionCID,
		DelegatedGrantID:  opts.DelegatedGrantID,
		PermissionGrantID: opts.PermissionGrantID,
		ProtocolRole:      opts.ProtocolRole,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("record: marshal signature payload: %w", err)
	}
	return raw, nil
}

// Sign signs msg as its author, attaching the resulting JWS as
// msg.Authorization.Signature. keyID is the signer's verification-method
// id (carries the DID); priv is the author's (or author-delegate's)
// private key.
func Sign(svc *signature.Service, msg *dwntypes.Message, keyID string, priv ed25519.PrivateKey, opts SignaturePayloadOptions) error {
	desc := msg.Descriptor
	descCID, err := DescriptorCID(desc)
	if err != nil {
		return err
	}
	payload, err := BuildSignaturePayload(msg.RecordID, msg.ContextID, descCID, opts)
	if err != nil {
		return err
	}
	jws, err := svc.Sign(payload, keyID, priv)
	if err != nil {
		return fmt.Errorf("record: sign message: %w", err)
	}
	if msg.Authorization == nil {
		msg.Authorization = &dwntypes.Authorization{}
	}
	msg.Authorization.Signature = jws
	return nil
}

// SignOwner layers an owner signature onto an already author-signed
// message, admitting it into the owner's tenant when the owner is not
// the author.
func SignOwner(svc *signature.Service, msg *dwntypes.Message, keyID string, priv ed25519.PrivateKey, opts SignaturePayloadOptions) error {
	descCID, err := DescriptorCID(msg.Descriptor)
	if err != nil {
		return err
	}
	payload, err := BuildSignaturePayload(msg.RecordID, msg.ContextID, descCID, opts)
	if err != nil {
		return err
	}
	jws, err := svc.Sign(payload, keyID, priv)
	if err != nil {
		return fmt.Errorf("record: sign owner envelope: %w", err)
	}
	if msg.Authorization == nil {
		msg.Authorization = &dwntypes.Authorization{}
	}
	msg.Authorization.OwnerSignature = jws
	return nil
}
