package hashing

import (
	"encoding/json"
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// SHA256Code is the multihash code for sha2-256, the hash algorithm of
// protocol version 1
const SHA256Code = uint64(multihash.SHA2_256)

// Multihash hashes data with the given multihash algorithm code
func Multihash(data []byte, code uint64) ([]byte, error) {
	mh, err := multihash.Sum(data, code, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to compute multihash: %w", err)
	}
	return mh, nil
}

// Encode renders a raw multihash as a base64url multibase string. All hashes
// exchanged on the wire (commitments, CAS addresses, DID suffixes) use this
// encoding.
func Encode(mh []byte) (string, error) {
	s, err := multibase.Encode(multibase.Base64url, mh)
	if err != nil {
		return "", fmt.Errorf("failed to encode multihash: %w", err)
	}
	return s, nil
}

// Decode parses a multibase string back into a raw multihash, verifying that
// the payload is a well-formed multihash
func Decode(encoded string) ([]byte, error) {
	_, data, err := multibase.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("not a multibase string: %w", err)
	}
	if _, err := multihash.Decode(data); err != nil {
		return nil, fmt.Errorf("not a multihash: %w", err)
	}
	return data, nil
}

// HashThenEncode hashes data and returns the encoded multihash string
func HashThenEncode(data []byte, code uint64) (string, error) {
	mh, err := Multihash(data, code)
	if err != nil {
		return "", err
	}
	return Encode(mh)
}

// CanonicalJSON marshals v deterministically. Struct fields marshal in
// declaration order and map keys sort lexicographically, so equal values
// always produce identical bytes.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize: %w", err)
	}
	return data, nil
}

// HashObject canonicalizes v and returns its encoded multihash
func HashObject(v interface{}, code uint64) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return HashThenEncode(data, code)
}

// Commitment computes the commitment for a reveal value: the encoded
// multihash of the reveal string. A reveal value satisfies a previously
// anchored commitment iff Commitment(reveal) equals it.
func Commitment(revealValue string, code uint64) (string, error) {
	return HashThenEncode([]byte(revealValue), code)
}

// IsValidHash reports whether content hashes to the expected encoded
// multihash under the algorithm the hash itself declares
func IsValidHash(content []byte, encoded string) bool {
	raw, err := Decode(encoded)
	if err != nil {
		return false
	}
	decoded, err := multihash.Decode(raw)
	if err != nil {
		return false
	}
	computed, err := multihash.Sum(content, decoded.Code, -1)
	if err != nil {
		return false
	}
	return string(computed) == string(raw)
}
