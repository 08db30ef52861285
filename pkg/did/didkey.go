// Package did implements the did:key method as the default driver behind
// the DID-resolver contract the engine consumes: a did:key identifier is
// a multibase-encoded, multicodec-tagged Ed25519 public key, so
// resolution needs no network round-trip. Resolution of other DID
// methods remains an external collaborator.
package did

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-varint"
)

const keyPrefix = "did:key:"

// VerificationMethod is one entry of a resolved DID document.
type VerificationMethod struct {
	ID                  string
	Type                string
	Controller          string
	PublicKeyMultibase  string
	publicKey           ed25519.PublicKey
}

// Document is a resolved DID document, trimmed to the fields the engine
// needs: enough to recover the signer's verification key.
type Document struct {
	ID                 string
	VerificationMethod []VerificationMethod
}

// Resolver resolves a DID to its document. did:key resolution is local;
// other methods are an external collaborator implementing this interface.
type Resolver interface {
	Resolve(did string) (*Document, error)
}

// KeyResolver resolves did:key identifiers.
type KeyResolver struct{}

// NewKeyResolver returns a Resolver for the did:key method.
func NewKeyResolver() *KeyResolver { return &KeyResolver{} }

// Resolve decodes did's embedded Ed25519 public key into a one-method
// Document. It fails for any DID that is not a well-formed did:key.
func (KeyResolver) Resolve(did string) (*Document, error) {
	pub, err := PublicKeyFromDID(did)
	if err != nil {
		return nil, err
	}
	vmID := did + "#" + strings.TrimPrefix(did, keyPrefix)
	return &Document{
		ID: did,
		VerificationMethod: []VerificationMethod{{
			ID:                 vmID,
			Type:               "Ed25519VerificationKey2020",
			Controller:         did,
			PublicKeyMultibase: strings.TrimPrefix(did, keyPrefix),
			publicKey:          pub,
		}},
	}, nil
}

// PublicKey returns the method's decoded Ed25519 public key.
func (v VerificationMethod) PublicKey() ed25519.PublicKey { return v.publicKey }

// GenerateKeyDID encodes pub as a did:key identifier.
func GenerateKeyDID(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("did: invalid ed25519 public key length %d", len(pub))
	}
	code := varint.ToUvarint(uint64(multicodec.Ed25519Pub))
	tagged := append(code, pub...)
	enc, err := multibase.Encode(multibase.Base58BTC, tagged)
	if err != nil {
		return "", fmt.Errorf("did: multibase encode: %w", err)
	}
	return keyPrefix + enc, nil
}

// PublicKeyFromDID decodes the Ed25519 public key embedded in a did:key
// identifier.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, keyPrefix) {
		return nil, fmt.Errorf("did: %q is not a did:key identifier", did)
	}
	encoded := strings.TrimPrefix(did, keyPrefix)
	_, data, err := multibase.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("did: multibase decode: %w", err)
	}
	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("did: decode multicodec prefix: %w", err)
	}
	if multicodec.Code(code) != multicodec.Ed25519Pub {
		return nil, fmt.Errorf("did: unsupported key codec %#x", code)
	}
	pub := data[n:]
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("did: invalid embedded public key length %d", len(pub))
	}
	return ed25519.PublicKey(pub), nil
}

// DefaultKeyID returns the verification-method id a did:key document's sole
// key is registered under.
func DefaultKeyID(d string) string {
	return d + "#" + strings.TrimPrefix(d, keyPrefix)
}

// KeyIDDID extracts the DID portion of a JWS kid of the form
// "did:key:<...>#<...>".
func KeyIDDID(kid string) string {
	if i := strings.Index(kid, "#"); i >= 0 {
		return kid[:i]
	}
	return kid
}
