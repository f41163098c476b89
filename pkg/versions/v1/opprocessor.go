package v1

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/did"
	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/types"
)

// OperationProcessor applies version-1 operations to DID state. An
// operation that does not apply returns the input state unchanged; callers
// detect progress by LastOperationTransactionNumber increasing.
type OperationProcessor struct {
	hashCode uint64
	logger   zerolog.Logger
}

// NewOperationProcessor creates the version-1 operation processor
func NewOperationProcessor(metadata *Metadata) *OperationProcessor {
	return &OperationProcessor{
		hashCode: metadata.HashAlgorithmCode(),
		logger:   log.WithComponent("opprocessor"),
	}
}

// Apply applies one anchored operation to the given state
func (p *OperationProcessor) Apply(op types.AnchoredOperation, state *types.DidState) (*types.DidState, error) {
	req, err := did.ParseOperationRequest(op.OperationBuffer)
	if err != nil {
		return state, err
	}
	if req.Type != op.Type {
		return state, fmt.Errorf("anchored type %q does not match buffer type %q", op.Type, req.Type)
	}

	switch req.Type {
	case types.OperationTypeCreate:
		return p.applyCreate(op, req, state)
	case types.OperationTypeUpdate:
		return p.applyUpdate(op, req, state)
	case types.OperationTypeRecover:
		return p.applyRecover(op, req, state)
	case types.OperationTypeDeactivate:
		return p.applyDeactivate(op, req, state)
	default:
		return state, fmt.Errorf("unknown operation type %q", req.Type)
	}
}

// CommitmentOfReveal computes the commitment hash the operation's reveal
// value answers to
func (p *OperationProcessor) CommitmentOfReveal(op types.AnchoredOperation) (string, error) {
	req, err := did.ParseOperationRequest(op.OperationBuffer)
	if err != nil {
		return "", err
	}
	if req.Type == types.OperationTypeCreate {
		return "", fmt.Errorf("create operations reveal no commitment")
	}
	return hashing.Commitment(req.RevealValue, p.hashCode)
}

func (p *OperationProcessor) applyCreate(op types.AnchoredOperation, req *did.OperationRequest, state *types.DidState) (*types.DidState, error) {
	// Only the first valid create applies
	if state != nil {
		return state, nil
	}

	if !p.deltaHashMatches(req.SuffixData.DeltaHash, req) {
		return nil, nil
	}

	document, err := did.ApplyPatches(nil, req.Delta.Patches)
	if err != nil {
		return nil, err
	}

	return &types.DidState{
		Document:                       document,
		NextRecoveryCommitmentHash:     req.SuffixData.RecoveryCommitment,
		NextUpdateCommitmentHash:       req.Delta.UpdateCommitment,
		LastOperationTransactionNumber: op.TransactionNumber,
	}, nil
}

func (p *OperationProcessor) applyUpdate(op types.AnchoredOperation, req *did.OperationRequest, state *types.DidState) (*types.DidState, error) {
	if state == nil || state.Deactivated() || state.NextUpdateCommitmentHash == "" {
		return state, nil
	}
	if !p.revealMatches(req.RevealValue, state.NextUpdateCommitmentHash) {
		return state, nil
	}
	if req.SignedData != nil && req.SignedData.DeltaHash != "" && !p.deltaHashMatches(req.SignedData.DeltaHash, req) {
		return state, nil
	}

	document, err := did.ApplyPatches(state.Document, req.Delta.Patches)
	if err != nil {
		return state, err
	}

	return &types.DidState{
		Document:                       document,
		RecoveryKey:                    state.RecoveryKey,
		NextRecoveryCommitmentHash:     state.NextRecoveryCommitmentHash,
		NextUpdateCommitmentHash:       req.Delta.UpdateCommitment,
		LastOperationTransactionNumber: op.TransactionNumber,
	}, nil
}

func (p *OperationProcessor) applyRecover(op types.AnchoredOperation, req *did.OperationRequest, state *types.DidState) (*types.DidState, error) {
	if state == nil || state.Deactivated() {
		return state, nil
	}
	if !p.revealMatches(req.RevealValue, state.NextRecoveryCommitmentHash) {
		return state, nil
	}
	if req.SignedData.DeltaHash != "" && !p.deltaHashMatches(req.SignedData.DeltaHash, req) {
		return state, nil
	}

	// Recovery replaces the document wholesale
	document, err := did.ApplyPatches(nil, req.Delta.Patches)
	if err != nil {
		return state, err
	}

	return &types.DidState{
		Document:                       document,
		RecoveryKey:                    req.SignedData.RecoveryKey,
		NextRecoveryCommitmentHash:     req.SignedData.RecoveryCommitment,
		NextUpdateCommitmentHash:       req.Delta.UpdateCommitment,
		LastOperationTransactionNumber: op.TransactionNumber,
	}, nil
}

func (p *OperationProcessor) applyDeactivate(op types.AnchoredOperation, req *did.OperationRequest, state *types.DidState) (*types.DidState, error) {
	if state == nil || state.Deactivated() {
		return state, nil
	}
	if !p.revealMatches(req.RevealValue, state.NextRecoveryCommitmentHash) {
		return state, nil
	}
	if req.SignedData != nil && req.SignedData.DidSuffix != "" && req.SignedData.DidSuffix != op.DidSuffix {
		return state, nil
	}

	// Both commitments become absent together; the last document is kept
	// for informational resolution of the deactivated DID
	return &types.DidState{
		Document:                       state.Document,
		LastOperationTransactionNumber: op.TransactionNumber,
	}, nil
}

// revealMatches checks a reveal value against a previously anchored
// commitment
func (p *OperationProcessor) revealMatches(revealValue, commitment string) bool {
	if commitment == "" {
		return false
	}
	computed, err := hashing.Commitment(revealValue, p.hashCode)
	if err != nil {
		return false
	}
	return computed == commitment
}

// deltaHashMatches checks the request's delta against a committed delta hash
func (p *OperationProcessor) deltaHashMatches(expected string, req *did.OperationRequest) bool {
	computed, err := hashing.HashObject(req.Delta, p.hashCode)
	if err != nil {
		return false
	}
	return computed == expected
}
