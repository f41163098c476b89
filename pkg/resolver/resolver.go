package resolver

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
	"github.com/cuemby/anchor/pkg/versions"
)

// OperationProcessorProvider yields the operation processor valid at an
// anchoring height. The versioning dispatcher satisfies it.
type OperationProcessorProvider interface {
	OperationProcessorAt(height uint64) (versions.OperationProcessor, error)
}

// Resolver reconstructs the current state of a DID by replaying its
// anchored operations in canonical order. It owns no mutable state; the
// same operation log always yields the same DID state.
type Resolver struct {
	operations store.OperationStore
	processors OperationProcessorProvider
	logger     zerolog.Logger
}

// New creates a resolver over the given operation store
func New(operations store.OperationStore, processors OperationProcessorProvider) *Resolver {
	return &Resolver{
		operations: operations,
		processors: processors,
		logger:     log.WithComponent("resolver"),
	}
}

// Resolve returns the DID state for a suffix, or nil when no valid create
// operation exists. Individual malformed operations never fail resolution;
// they simply do not apply.
func (r *Resolver) Resolve(didSuffix string) (*types.DidState, error) {
	ops, err := r.operations.GetOperations(didSuffix)
	if err != nil {
		return nil, err
	}

	var creates, updates, recoveries []types.AnchoredOperation
	for _, op := range ops {
		switch op.Type {
		case types.OperationTypeCreate:
			creates = append(creates, op)
		case types.OperationTypeUpdate:
			updates = append(updates, op)
		case types.OperationTypeRecover, types.OperationTypeDeactivate:
			recoveries = append(recoveries, op)
		}
	}

	state := r.applyFirstValidCreate(creates)
	if state == nil {
		return nil, nil
	}

	state = r.applyCommitChain(state, recoveries, func(s *types.DidState) string {
		return s.NextRecoveryCommitmentHash
	})
	if state.Deactivated() {
		return state, nil
	}

	state = r.applyCommitChain(state, updates, func(s *types.DidState) string {
		return s.NextUpdateCommitmentHash
	})
	return state, nil
}

// applyFirstValidCreate tries create operations in anchoring order until
// one yields a valid initial state
func (r *Resolver) applyFirstValidCreate(creates []types.AnchoredOperation) *types.DidState {
	for _, op := range creates {
		processor, err := r.processors.OperationProcessorAt(op.TransactionTime)
		if err != nil {
			r.logger.Warn().Err(err).Uint64("height", op.TransactionTime).Msg("No protocol version for create operation")
			continue
		}
		state, err := processor.Apply(op, nil)
		if err != nil || state == nil {
			continue
		}
		return state
	}
	return nil
}

// applyCommitChain walks a commit/reveal chain: while the state's current
// commitment is answered by anchored operations, the earliest one that
// advances the state applies; all later reveals of the same commitment are
// ignored. This tie-break is what makes resolution convergent.
func (r *Resolver) applyCommitChain(state *types.DidState, ops []types.AnchoredOperation, commitmentOf func(*types.DidState) string) *types.DidState {
	chain := r.groupByCommitment(ops)
	visited := make(map[string]bool)

	for {
		commitment := commitmentOf(state)
		if commitment == "" || visited[commitment] {
			return state
		}
		visited[commitment] = true

		candidates, ok := chain[commitment]
		if !ok {
			return state
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].TransactionNumber < candidates[j].TransactionNumber
		})

		applied := false
		for _, op := range candidates {
			processor, err := r.processors.OperationProcessorAt(op.TransactionTime)
			if err != nil {
				continue
			}
			newState, err := processor.Apply(op, state)
			if err != nil || newState == nil {
				continue
			}
			if newState.LastOperationTransactionNumber > state.LastOperationTransactionNumber {
				state = newState
				applied = true
				break
			}
		}
		if !applied || state.Deactivated() {
			return state
		}
	}
}

// groupByCommitment maps each operation's revealed commitment to the
// operations answering it
func (r *Resolver) groupByCommitment(ops []types.AnchoredOperation) map[string][]types.AnchoredOperation {
	chain := make(map[string][]types.AnchoredOperation)
	for _, op := range ops {
		processor, err := r.processors.OperationProcessorAt(op.TransactionTime)
		if err != nil {
			continue
		}
		commitment, err := processor.CommitmentOfReveal(op)
		if err != nil {
			continue
		}
		chain[commitment] = append(chain[commitment], op)
	}
	return chain
}
