package record

import (
	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// IntegrityInput bundles what ValidateIntegrity needs beyond the message
// itself: the recovered signature payload and, if this is not an initial
// write, the record's existing initial write.
type IntegrityInput struct {
	Message          *dwntypes.Message
	SignaturePayload *dwntypes.SignaturePayload
	DescriptorCID    string
	EntryID          string
	InitialWrite     *ExistingWrite // nil for an initial write
}

// ValidateIntegrity runs the post-parse integrity checks for a
// record-write message. Schema-shape validation and descriptorCid
// binding are assumed already done by the generic parse step.
func ValidateIntegrity(in IntegrityInput) error {
	desc, ok := in.Message.Descriptor.(*dwntypes.RecordsWriteDescriptor)
	if !ok {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "expected a RecordsWrite descriptor")
	}

	// The create path normalizes before signing; a hand-crafted wire
	// message must arrive already normalized or every later protocol
	// lookup and immutability comparison would diverge.
	if desc.Protocol != "" && NormalizeURL(desc.Protocol) != desc.Protocol {
		return dwnerr.New(dwnerr.KindUrlNotNormalized, "protocol URL %q is not normalized", desc.Protocol)
	}
	if desc.Schema != "" && NormalizeURL(desc.Schema) != desc.Schema {
		return dwnerr.New(dwnerr.KindUrlNotNormalized, "schema URL %q is not normalized", desc.Schema)
	}

	isInitial := in.EntryID == in.Message.RecordID
	if isInitial {
		if !desc.MessageTimestamp.Equal(desc.DateCreated) {
			return dwnerr.New(dwnerr.KindDateCreatedMismatch, "initial write messageTimestamp must equal dateCreated")
		}
		if desc.Protocol != "" && desc.ParentID == "" && in.Message.ContextID != in.EntryID {
			return dwnerr.New(dwnerr.KindContextIdMismatch, "protocol-root initial write contextId must equal entryId")
		}
	}

	if in.Message.RecordID != in.SignaturePayload.RecordID {
		return dwnerr.New(dwnerr.KindRecordIdUnauthorized, "message.recordId does not match signaturePayload.recordId")
	}
	if in.Message.ContextID != in.SignaturePayload.ContextID {
		return dwnerr.New(dwnerr.KindContextIdMismatch, "message.contextId does not match signaturePayload.contextId")
	}
	if in.DescriptorCID != in.SignaturePayload.DescriptorCID {
		return dwnerr.New(dwnerr.KindDescriptorCidMismatch, "descriptorCid does not match signaturePayload.descriptorCid")
	}

	if in.Message.Attestation != nil && in.SignaturePayload.AttestationCID == "" {
		return dwnerr.New(dwnerr.KindAttestationCidMismatch, "message has an attestation but signaturePayload carries no attestationCid")
	}
	if in.Message.Encryption != nil && in.SignaturePayload.EncryptionCID == "" {
		return dwnerr.New(dwnerr.KindEncryptionCidMismatch, "message has encryption but signaturePayload carries no encryptionCid")
	}

	if !isInitial {
		if in.InitialWrite == nil {
			return dwnerr.New(dwnerr.KindInitialWriteNotFound, "no initial write on file for recordId %s", in.Message.RecordID)
		}
		if err := CheckImmutable(in.InitialWrite.Descriptor, desc); err != nil {
			return err
		}
	}

	return nil
}

// ValidateDelegatedGrantReferentialIntegrity checks that the
// logical author's DID equals the delegated grant's grantor, and the
// grant's grantee equals the signer.
func ValidateDelegatedGrantReferentialIntegrity(author, signer, grantor, grantee string) error {
	if author != grantor {
		return dwnerr.New(dwnerr.KindGrantedByMismatch, "author %s does not match delegated grant's grantor %s", author, grantor)
	}
	if signer != grantee {
		return dwnerr.New(dwnerr.KindGrantedByMismatch, "signer %s does not match delegated grant's grantee %s", signer, grantee)
	}
	return nil
}
