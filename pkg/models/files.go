package models

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/anchor/pkg/types"
)

// CreateReference carries the suffix data of a create operation in the core
// index file. The DID suffix is derived from it, so no suffix is stored.
type CreateReference struct {
	SuffixData SuffixData `json:"suffixData"`
}

// SuffixData is the portion of a create operation that the DID suffix is
// computed over
type SuffixData struct {
	DeltaHash          string `json:"deltaHash"`
	RecoveryCommitment string `json:"recoveryCommitment"`
}

// SignedData is the authorizing payload of a recover or deactivate
// operation. Signature verification is delegated to the wallet layer; the
// anchor node validates structure and commit/reveal chaining only.
type SignedData struct {
	DeltaHash          string     `json:"deltaHash,omitempty"`
	RecoveryCommitment string     `json:"recoveryCommitment,omitempty"`
	RecoveryKey        *types.JWK `json:"recoveryKey,omitempty"`
	DidSuffix          string     `json:"didSuffix,omitempty"`
}

// OperationReference identifies a non-create operation in the core index
// file by its target DID and the reveal of its commitment. Recover and
// deactivate references carry their signed data inline.
type OperationReference struct {
	DidSuffix   string      `json:"didSuffix"`
	RevealValue string      `json:"revealValue"`
	SignedData  *SignedData `json:"signedData,omitempty"`
}

// CoreOperations groups the operation references of a batch by type
type CoreOperations struct {
	Create     []CreateReference    `json:"create,omitempty"`
	Update     []OperationReference `json:"update,omitempty"`
	Recover    []OperationReference `json:"recover,omitempty"`
	Deactivate []OperationReference `json:"deactivate,omitempty"`
}

// CoreIndexFile is the root file of an anchored batch. It references the
// chunk file holding the deltas of every create/update/recover operation.
type CoreIndexFile struct {
	ChunkFileHash string         `json:"chunkFileHash,omitempty"`
	Operations    CoreOperations `json:"operations"`
}

// OperationCount returns the total number of operations referenced
func (f *CoreIndexFile) OperationCount() uint64 {
	return uint64(len(f.Operations.Create) + len(f.Operations.Update) +
		len(f.Operations.Recover) + len(f.Operations.Deactivate))
}

// DidSuffixes returns every DID suffix referenced by non-create operations
func (f *CoreIndexFile) DidSuffixes() []string {
	var suffixes []string
	for _, ref := range f.Operations.Update {
		suffixes = append(suffixes, ref.DidSuffix)
	}
	for _, ref := range f.Operations.Recover {
		suffixes = append(suffixes, ref.DidSuffix)
	}
	for _, ref := range f.Operations.Deactivate {
		suffixes = append(suffixes, ref.DidSuffix)
	}
	return suffixes
}

// Delta is the mutation payload of a create, update or recover operation
type Delta struct {
	Patches          []Patch `json:"patches"`
	UpdateCommitment string  `json:"updateCommitment"`
}

// Patch is one document mutation. Action selects which of the optional
// members apply.
type Patch struct {
	Action     string             `json:"action"`
	Document   *types.Document    `json:"document,omitempty"`
	PublicKeys []types.PublicKey  `json:"publicKeys,omitempty"`
	Services   []types.DidService `json:"services,omitempty"`
	IDs        []string           `json:"ids,omitempty"`
}

// ChunkFile carries the deltas of a batch in operation order: creates first,
// then recoveries, then updates, matching the core index file references.
type ChunkFile struct {
	Deltas []Delta `json:"deltas"`
}

// Compress gzips a serialized batch file for CAS upload
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress gunzips a fetched batch file, refusing payloads whose
// decompressed size exceeds maxBytes
func Decompress(data []byte, maxBytes int64) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not gzip data: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if int64(len(out)) > maxBytes {
		return nil, fmt.Errorf("decompressed size exceeds %d bytes", maxBytes)
	}
	return out, nil
}

// MarshalFile serializes and compresses a batch file
func MarshalFile(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file: %w", err)
	}
	return Compress(data)
}

// UnmarshalFile decompresses and deserializes a batch file
func UnmarshalFile(data []byte, maxBytes int64, v interface{}) error {
	raw, err := Decompress(data, maxBytes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal file: %w", err)
	}
	return nil
}
