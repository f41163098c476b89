package v1

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/did"
	"github.com/cuemby/anchor/pkg/download"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/models"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// TransactionProcessor parses and validates one anchored transaction and
// persists its operations grouped by DID suffix. Process returns true on a
// permanent outcome (including "validly invalid, discard") and false on a
// transient failure that should be retried.
type TransactionProcessor struct {
	downloads  *download.Manager
	operations store.OperationStore
	metadata   *Metadata
	hashCode   uint64
	logger     zerolog.Logger
}

// NewTransactionProcessor creates the version-1 transaction processor
func NewTransactionProcessor(downloads *download.Manager, operations store.OperationStore, metadata *Metadata) *TransactionProcessor {
	return &TransactionProcessor{
		downloads:  downloads,
		operations: operations,
		metadata:   metadata,
		hashCode:   metadata.HashAlgorithmCode(),
		logger:     log.WithComponent("txprocessor"),
	}
}

// Process downloads, validates and persists the batch anchored by txn
func (p *TransactionProcessor) Process(ctx context.Context, txn types.Transaction) (bool, error) {
	anchor, err := models.ParseAnchorString(txn.AnchorString)
	if err != nil {
		return true, fmt.Errorf("discarding transaction %d: %w", txn.TransactionNumber, err)
	}
	if anchor.NumberOfOperations > p.metadata.MaxOperationsPerBatch() {
		return true, fmt.Errorf("discarding transaction %d: %d operations exceeds batch cap %d",
			txn.TransactionNumber, anchor.NumberOfOperations, p.metadata.MaxOperationsPerBatch())
	}
	if txn.NormalizedTransactionFee > 0 {
		if required := requiredFee(txn.NormalizedTransactionFee, anchor.NumberOfOperations); txn.TransactionFeePaid < required {
			return true, fmt.Errorf("discarding transaction %d: fee %d below required %d",
				txn.TransactionNumber, txn.TransactionFeePaid, required)
		}
	}

	coreIndex, permanent, err := p.downloadCoreIndexFile(ctx, anchor)
	if err != nil {
		return permanent, err
	}
	if coreIndex.OperationCount() != anchor.NumberOfOperations {
		return true, fmt.Errorf("discarding transaction %d: core index has %d operations, anchor string declares %d",
			txn.TransactionNumber, coreIndex.OperationCount(), anchor.NumberOfOperations)
	}

	ops, permanent, err := p.composeOperations(ctx, txn, coreIndex)
	if err != nil {
		return permanent, err
	}

	// Operations are persisted before the observer persists the transaction
	if err := p.operations.PutOperations(ops); err != nil {
		return false, fmt.Errorf("failed to persist operations of transaction %d: %w", txn.TransactionNumber, err)
	}

	p.logger.Debug().
		Uint64("transaction_number", txn.TransactionNumber).
		Int("operations", len(ops)).
		Msg("Processed anchored transaction")
	return true, nil
}

// downloadCoreIndexFile fetches and decodes the core index file. The middle
// return value reports whether a failure is permanent.
func (p *TransactionProcessor) downloadCoreIndexFile(ctx context.Context, anchor models.AnchorString) (*models.CoreIndexFile, bool, error) {
	result := p.downloads.Download(ctx, anchor.CoreIndexFileHash, p.metadata.MaxCoreIndexFileSizeBytes())
	if permanent, err := classifyFetch(result.Code, anchor.CoreIndexFileHash); err != nil {
		return nil, permanent, err
	}

	var coreIndex models.CoreIndexFile
	if err := models.UnmarshalFile(result.Content, p.metadata.MaxCoreIndexFileSizeBytes()*10, &coreIndex); err != nil {
		return nil, true, fmt.Errorf("malformed core index file %s: %w", anchor.CoreIndexFileHash, err)
	}

	if err := validateCoreIndexFile(&coreIndex); err != nil {
		return nil, true, err
	}
	return &coreIndex, false, nil
}

// classifyFetch maps fetch result codes onto the processor's outcome space:
// only an unreachable CAS is transient
func classifyFetch(code types.FetchResultCode, hash string) (bool, error) {
	switch code {
	case types.FetchSuccess:
		return false, nil
	case types.FetchCasNotReachable:
		return false, fmt.Errorf("CAS unreachable fetching %s", hash)
	default:
		return true, fmt.Errorf("discarding batch: fetch of %s failed with %s", hash, code)
	}
}

// validateCoreIndexFile checks internal consistency: no DID may appear in
// more than one operation of a batch
func validateCoreIndexFile(coreIndex *models.CoreIndexFile) error {
	seen := make(map[string]bool)
	for _, suffix := range coreIndex.DidSuffixes() {
		if seen[suffix] {
			return fmt.Errorf("discarding batch: DID suffix %s appears more than once", suffix)
		}
		seen[suffix] = true
	}

	needsChunk := len(coreIndex.Operations.Create) > 0 ||
		len(coreIndex.Operations.Recover) > 0 ||
		len(coreIndex.Operations.Update) > 0
	if needsChunk && coreIndex.ChunkFileHash == "" {
		return fmt.Errorf("discarding batch: operations with deltas but no chunk file hash")
	}
	return nil
}

// composeOperations downloads the chunk file when needed and assembles the
// anchored operations of the batch in their canonical order: creates,
// recoveries, updates, then deactivates.
func (p *TransactionProcessor) composeOperations(ctx context.Context, txn types.Transaction, coreIndex *models.CoreIndexFile) ([]types.AnchoredOperation, bool, error) {
	deltaCount := len(coreIndex.Operations.Create) + len(coreIndex.Operations.Recover) + len(coreIndex.Operations.Update)

	var chunk models.ChunkFile
	if deltaCount > 0 {
		result := p.downloads.Download(ctx, coreIndex.ChunkFileHash, p.metadata.MaxChunkFileSizeBytes())
		if permanent, err := classifyFetch(result.Code, coreIndex.ChunkFileHash); err != nil {
			return nil, permanent, err
		}
		if err := models.UnmarshalFile(result.Content, p.metadata.MaxChunkFileSizeBytes()*10, &chunk); err != nil {
			return nil, true, fmt.Errorf("malformed chunk file %s: %w", coreIndex.ChunkFileHash, err)
		}
		if len(chunk.Deltas) != deltaCount {
			return nil, true, fmt.Errorf("discarding batch: chunk file has %d deltas, core index references %d",
				len(chunk.Deltas), deltaCount)
		}
	}

	var ops []types.AnchoredOperation
	index := 0
	delta := 0

	appendOp := func(suffix string, opType types.OperationType, req did.OperationRequest) error {
		buffer, err := json.Marshal(req)
		if err != nil {
			return err
		}
		ops = append(ops, types.AnchoredOperation{
			DidSuffix:         suffix,
			Type:              opType,
			OperationBuffer:   buffer,
			TransactionTime:   txn.TransactionTime,
			TransactionNumber: txn.TransactionNumber,
			OperationIndex:    index,
		})
		index++
		return nil
	}

	for _, ref := range coreIndex.Operations.Create {
		suffix, err := did.ComputeDidSuffix(ref.SuffixData, p.hashCode)
		if err != nil {
			return nil, true, fmt.Errorf("discarding batch: cannot derive DID suffix: %w", err)
		}
		suffixData := ref.SuffixData
		d := chunk.Deltas[delta]
		delta++
		err = appendOp(suffix, types.OperationTypeCreate, did.OperationRequest{
			Type:       types.OperationTypeCreate,
			SuffixData: &suffixData,
			Delta:      &d,
		})
		if err != nil {
			return nil, true, err
		}
	}

	for _, ref := range coreIndex.Operations.Recover {
		d := chunk.Deltas[delta]
		delta++
		err := appendOp(ref.DidSuffix, types.OperationTypeRecover, did.OperationRequest{
			Type:        types.OperationTypeRecover,
			DidSuffix:   ref.DidSuffix,
			RevealValue: ref.RevealValue,
			Delta:       &d,
			SignedData:  ref.SignedData,
		})
		if err != nil {
			return nil, true, err
		}
	}

	for _, ref := range coreIndex.Operations.Update {
		d := chunk.Deltas[delta]
		delta++
		err := appendOp(ref.DidSuffix, types.OperationTypeUpdate, did.OperationRequest{
			Type:        types.OperationTypeUpdate,
			DidSuffix:   ref.DidSuffix,
			RevealValue: ref.RevealValue,
			Delta:       &d,
			SignedData:  ref.SignedData,
		})
		if err != nil {
			return nil, true, err
		}
	}

	for _, ref := range coreIndex.Operations.Deactivate {
		err := appendOp(ref.DidSuffix, types.OperationTypeDeactivate, did.OperationRequest{
			Type:        types.OperationTypeDeactivate,
			DidSuffix:   ref.DidSuffix,
			RevealValue: ref.RevealValue,
			SignedData:  ref.SignedData,
		})
		if err != nil {
			return nil, true, err
		}
	}

	return ops, false, nil
}
