package did

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/models"
	"github.com/cuemby/anchor/pkg/types"
)

// ErrInvalidOperation indicates an operation request that fails schema
// validation
var ErrInvalidOperation = errors.New("invalid operation")

// SignedData is the authorizing payload of a recover or deactivate
// operation, shared with the batch file models
type SignedData = models.SignedData

// OperationRequest is the decoded form of an operation buffer. Which members
// must be present depends on Type.
type OperationRequest struct {
	Type        types.OperationType `json:"type"`
	SuffixData  *models.SuffixData  `json:"suffixData,omitempty"`
	DidSuffix   string              `json:"didSuffix,omitempty"`
	RevealValue string              `json:"revealValue,omitempty"`
	Delta       *models.Delta       `json:"delta,omitempty"`
	SignedData  *SignedData         `json:"signedData,omitempty"`
}

// ParseOperationRequest decodes and structurally validates an operation
// buffer
func ParseOperationRequest(buffer []byte) (*OperationRequest, error) {
	var req OperationRequest
	if err := json.Unmarshal(buffer, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks that the members required by the operation type are present
func (r *OperationRequest) Validate() error {
	switch r.Type {
	case types.OperationTypeCreate:
		if r.SuffixData == nil || r.Delta == nil {
			return fmt.Errorf("%w: create requires suffixData and delta", ErrInvalidOperation)
		}
		if r.SuffixData.DeltaHash == "" || r.SuffixData.RecoveryCommitment == "" {
			return fmt.Errorf("%w: create suffixData is incomplete", ErrInvalidOperation)
		}
	case types.OperationTypeUpdate:
		if r.DidSuffix == "" || r.RevealValue == "" || r.Delta == nil {
			return fmt.Errorf("%w: update requires didSuffix, revealValue and delta", ErrInvalidOperation)
		}
	case types.OperationTypeRecover:
		if r.DidSuffix == "" || r.RevealValue == "" || r.Delta == nil || r.SignedData == nil {
			return fmt.Errorf("%w: recover requires didSuffix, revealValue, delta and signedData", ErrInvalidOperation)
		}
		if r.SignedData.RecoveryCommitment == "" {
			return fmt.Errorf("%w: recover signedData missing next recovery commitment", ErrInvalidOperation)
		}
	case types.OperationTypeDeactivate:
		if r.DidSuffix == "" || r.RevealValue == "" {
			return fmt.Errorf("%w: deactivate requires didSuffix and revealValue", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, r.Type)
	}
	return nil
}

// TargetSuffix returns the DID suffix the request operates on, deriving it
// from suffix data for create operations
func (r *OperationRequest) TargetSuffix(hashCode uint64) (string, error) {
	if r.Type == types.OperationTypeCreate {
		return ComputeDidSuffix(*r.SuffixData, hashCode)
	}
	return r.DidSuffix, nil
}

// ComputeDidSuffix derives the unique suffix of a DID from the suffix data
// of its create operation
func ComputeDidSuffix(suffixData models.SuffixData, hashCode uint64) (string, error) {
	return hashing.HashObject(suffixData, hashCode)
}

// ShortFormDID renders the short-form DID string for a suffix
func ShortFormDID(methodName, didSuffix string) string {
	return "did:" + methodName + ":" + didSuffix
}
