// Package signature wraps github.com/golang-jwt/jwt/v5 to produce and
// verify the general JWS-style signature envelopes the engine binds to
// messages: an EdDSA-signed compact token over the canonical signature
// payload bytes, carrying the signer's DID in the token's kid header.
package signature

import (
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ryftlabs/dwn/pkg/did"
	"github.com/ryftlabs/dwn/pkg/dwnerr"
)

// rawClaims carries the canonical signature payload through the jwt
// library verbatim: MarshalJSON/UnmarshalJSON round-trip the bytes
// unchanged instead of re-encoding a claims struct, so the JWS payload
// segment is exactly the caller's canonical bytes.
type rawClaims []byte

func (r rawClaims) MarshalJSON() ([]byte, error) { return []byte(r), nil }

func (r *rawClaims) UnmarshalJSON(data []byte) error {
	*r = append([]byte(nil), data...)
	return nil
}

func (rawClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (rawClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (rawClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (rawClaims) GetIssuer() (string, error)                   { return "", nil }
func (rawClaims) GetSubject() (string, error)                  { return "", nil }
func (rawClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// Service signs and verifies signature envelopes, resolving signer keys
// through a did.Resolver.
type Service struct {
	resolver did.Resolver
}

// NewService returns a Service that resolves signer keys via resolver.
func NewService(resolver did.Resolver) *Service {
	return &Service{resolver: resolver}
}

// Sign produces a compact EdDSA JWS over payload, tagging it with keyID
// (a DID verification-method id, "did:...#...") in the kid header.
func (s *Service) Sign(payload []byte, keyID string, priv ed25519.PrivateKey) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, rawClaims(payload))
	token.Header["kid"] = keyID
	jws, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("signature: sign: %w", err)
	}
	return jws, nil
}

// Verify cryptographically verifies jws and returns the signer's DID
// (extracted from the kid header) along with the recovered payload bytes.
func (s *Service) Verify(jws string) (signerDID string, payload []byte, err error) {
	var claims rawClaims
	token, parseErr := jwt.ParseWithClaims(jws, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("signature: missing kid header")
		}
		signerDID = did.KeyIDDID(kid)
		doc, resolveErr := s.resolver.Resolve(signerDID)
		if resolveErr != nil {
			return nil, fmt.Errorf("signature: resolve %s: %w", signerDID, resolveErr)
		}
		for _, vm := range doc.VerificationMethod {
			if vm.ID == kid || len(doc.VerificationMethod) == 1 {
				return vm.PublicKey(), nil
			}
		}
		return nil, fmt.Errorf("signature: no verification method matches kid %s", kid)
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if parseErr != nil {
		return "", nil, dwnerr.Wrap(dwnerr.KindInvalidSignature, parseErr, "jws verification failed")
	}
	if !token.Valid {
		return "", nil, dwnerr.New(dwnerr.KindInvalidSignature, "jws failed validation")
	}
	return signerDID, []byte(claims), nil
}
