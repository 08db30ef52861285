package signature

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ryftlabs/dwn/pkg/did"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	assert.NoError(t, err)

	signerDID, err := did.GenerateKeyDID(pub)
	assert.NoError(t, err)
	keyID := did.DefaultKeyID(signerDID)

	svc := NewService(did.NewKeyResolver())
	payload := []byte(`{"recordId":"abc","descriptorCid":"xyz"}`)

	jws, err := svc.Sign(payload, keyID, priv)
	assert.NoError(t, err)

	gotDID, gotPayload, err := svc.Verify(jws)
	assert.NoError(t, err)
	assert.Equal(t, signerDID, gotDID)
	assert.Equal(t, payload, gotPayload)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	assert.NoError(t, err)
	signerDID, err := did.GenerateKeyDID(pub)
	assert.NoError(t, err)
	keyID := did.DefaultKeyID(signerDID)

	svc := NewService(did.NewKeyResolver())
	jws, err := svc.Sign([]byte(`{"recordId":"abc"}`), keyID, priv)
	assert.NoError(t, err)

	tampered := jws[:len(jws)-2] + "aa"
	_, _, err = svc.Verify(tampered)
	assert.Error(t, err)
}

func TestVerifyRejectsUnknownSigner(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	assert.NoError(t, err)

	svc := NewService(did.NewKeyResolver())
	jws, err := svc.Sign([]byte(`{"a":1}`), "not-a-did#frag", priv)
	assert.NoError(t, err)

	_, _, err = svc.Verify(jws)
	assert.Error(t, err)
}
