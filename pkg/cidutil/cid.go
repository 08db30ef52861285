// Package cidutil computes the two CID families the engine's message
// identity rests on: a structured CID over a canonicalized JSON value, and
// a raw-bytes CID over an opaque stream. Both are deterministic content
// identifiers built from github.com/ipfs/go-cid and its multiformats
// dependencies.
package cidutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

const (
	codecJSON = 0x0200 // multicodec "json"
	codecRaw  = 0x55   // multicodec "raw"
)

// Structured computes the structured CID of v: v is canonicalized to a
// deterministic JSON encoding (sorted object keys, null/absent fields
// elided), hashed with SHA-256, and wrapped as a CIDv1 tagged with the json
// multicodec. Equal values produce identical CIDs regardless of the
// original field or key order.
func Structured(v any) (cid.Cid, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return cid.Undef, err
	}
	sum := sha256.Sum256(canon)
	mh, err := multihash.Encode(sum[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: encode multihash: %w", err)
	}
	return cid.NewCidV1(codecJSON, mh), nil
}

// Raw computes the raw-data CID of a byte stream by hashing it with
// SHA-256 and wrapping the digest as a CIDv1 tagged with the raw
// multicodec. The stream is consumed in full, and the number of bytes
// read is returned alongside the CID.
func Raw(r io.Reader) (cid.Cid, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return cid.Undef, 0, fmt.Errorf("cidutil: hash data stream: %w", err)
	}
	mh, err := multihash.Encode(h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return cid.Undef, 0, fmt.Errorf("cidutil: encode multihash: %w", err)
	}
	return cid.NewCidV1(codecRaw, mh), n, nil
}

// RawBytes is a convenience wrapper around Raw for data already fully in
// memory.
func RawBytes(data []byte) (cid.Cid, error) {
	c, _, err := Raw(bytes.NewReader(data))
	return c, err
}

// Canonicalize encodes v as deterministic JSON: object keys sorted
// lexicographically at every level, and any field whose value is JSON
// null dropped rather than retained, so that "absent" and "null" collapse
// to the same encoding.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cidutil: marshal value: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("cidutil: unmarshal to generic form: %w", err)
	}
	stripped := stripNulls(generic)
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, stripped); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stripNulls recursively removes object fields whose value is nil; nil
// entries inside arrays are kept (array positions are significant; only
// object keys are elided).
func stripNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if elem == nil {
				continue
			}
			out[k] = stripNulls(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = stripNulls(elem)
		}
		return out
	default:
		return v
	}
}

// encodeCanonical writes v as JSON with object keys sorted, no extra
// whitespace, matching the IPLD dag-json convention of deterministic
// encoding without relying on encoding/json's map key sort being part of
// any documented contract.
func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("cidutil: marshal key: %w", err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("cidutil: marshal scalar: %w", err)
		}
		buf.Write(b)
		return nil
	}
}
