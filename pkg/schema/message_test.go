package schema

import "testing"

func TestValidateMessageShapeRejectsUnknownTopLevel(t *testing.T) {
	raw := []byte(`{"descriptor":{"interface":"Records","method":"Write","dataCid":"x","dataSize":1,"dataFormat":"text/plain","dateCreated":"2024-01-01T00:00:00Z","messageTimestamp":"2024-01-01T00:00:00Z"},"bogus":true}`)
	if err := ValidateMessageShape(raw); err == nil {
		t.Fatal("expected error for unknown top-level property")
	}
}

func TestValidateMessageShapeRejectsUnknownDescriptorField(t *testing.T) {
	raw := []byte(`{"descriptor":{"interface":"Records","method":"Write","dataCid":"x","dataSize":1,"dataFormat":"text/plain","dateCreated":"2024-01-01T00:00:00Z","messageTimestamp":"2024-01-01T00:00:00Z","bogus":1}}`)
	if err := ValidateMessageShape(raw); err == nil {
		t.Fatal("expected error for unknown descriptor property")
	}
}

func TestValidateMessageShapeAcceptsWellFormedWrite(t *testing.T) {
	raw := []byte(`{"descriptor":{"interface":"Records","method":"Write","dataCid":"x","dataSize":1,"dataFormat":"text/plain","dateCreated":"2024-01-01T00:00:00Z","messageTimestamp":"2024-01-01T00:00:00Z"}}`)
	if err := ValidateMessageShape(raw); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateAttestationShape(t *testing.T) {
	if err := ValidateAttestationShape([]byte(`{"descriptorCid":"abc"}`)); err != nil {
		t.Fatalf("expected valid attestation, got %v", err)
	}
	if err := ValidateAttestationShape([]byte(`{"descriptorCid":"abc","extra":1}`)); err == nil {
		t.Fatal("expected error for extra property")
	}
	if err := ValidateAttestationShape([]byte(`{}`)); err == nil {
		t.Fatal("expected error for missing descriptorCid")
	}
}
