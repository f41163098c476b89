package v1

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/cas"
	"github.com/cuemby/anchor/pkg/did"
	"github.com/cuemby/anchor/pkg/fee"
	"github.com/cuemby/anchor/pkg/ledger"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/metrics"
	"github.com/cuemby/anchor/pkg/models"
	"github.com/cuemby/anchor/pkg/spending"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// BatchWriter aggregates queued operations into batch files, uploads them to
// the CAS and anchors the commitment on the ledger under fee and spending
// limits.
type BatchWriter struct {
	queue           store.OperationQueue
	cas             cas.Client
	ledger          ledger.Client
	feeCalculator   *fee.Calculator
	spendingMonitor *spending.Monitor
	metadata        *Metadata
	logger          zerolog.Logger
}

// NewBatchWriter creates the version-1 batch writer
func NewBatchWriter(queue store.OperationQueue, casClient cas.Client, ledgerClient ledger.Client,
	feeCalculator *fee.Calculator, spendingMonitor *spending.Monitor, metadata *Metadata) *BatchWriter {
	return &BatchWriter{
		queue:           queue,
		cas:             casClient,
		ledger:          ledgerClient,
		feeCalculator:   feeCalculator,
		spendingMonitor: spendingMonitor,
		metadata:        metadata,
		logger:          log.WithComponent("batchwriter"),
	}
}

// WriteBatch anchors one batch of queued operations. Operations stay queued
// until the ledger write succeeds, so a failed cycle retries them.
func (w *BatchWriter) WriteBatch(ctx context.Context) (int, error) {
	allowance := w.metadata.writerBatchAllowance()
	queued, err := w.queue.Peek(int(allowance))
	if err != nil {
		return 0, fmt.Errorf("failed to read operation queue: %w", err)
	}
	if len(queued) == 0 {
		return 0, nil
	}

	coreIndex, chunk, valid := w.assembleBatch(queued)
	if valid == 0 {
		// Nothing anchorable; drop the malformed entries
		if _, err := w.queue.Dequeue(len(queued)); err != nil {
			return 0, err
		}
		return 0, nil
	}

	anchorString, err := w.uploadBatch(ctx, coreIndex, chunk)
	if err != nil {
		return 0, err
	}

	latest, err := w.ledger.GetLatestTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger time: %w", err)
	}

	feeToPay, err := w.feeForBatch(ctx, latest.Time, uint64(valid))
	if err != nil {
		return 0, err
	}

	withinLimit, err := w.spendingMonitor.IsCurrentFeeWithinLimit(feeToPay, latest.Time)
	if err != nil {
		return 0, err
	}
	if !withinLimit {
		metrics.BatchesSkippedTotal.WithLabelValues("spending_cap").Inc()
		w.logger.Warn().
			Uint64("fee", feeToPay).
			Msg("Spending cap reached, deferring batch")
		return 0, nil
	}

	if err := w.ledger.Write(ctx, anchorString, feeToPay); err != nil {
		return 0, fmt.Errorf("failed to anchor batch: %w", err)
	}
	w.spendingMonitor.RecordAnchorString(anchorString)

	if _, err := w.queue.Dequeue(len(queued)); err != nil {
		return 0, fmt.Errorf("batch anchored but queue cleanup failed: %w", err)
	}

	metrics.BatchesAnchoredTotal.Inc()
	metrics.BatchSize.Observe(float64(valid))
	w.logger.Info().
		Str("anchor_string", anchorString).
		Int("operations", valid).
		Uint64("fee", feeToPay).
		Msg("Anchored operation batch")
	return valid, nil
}

// assembleBatch builds the batch files from queued operations, skipping
// entries whose buffers no longer parse
func (w *BatchWriter) assembleBatch(queued []types.QueuedOperation) (*models.CoreIndexFile, *models.ChunkFile, int) {
	coreIndex := &models.CoreIndexFile{}
	chunk := &models.ChunkFile{}
	valid := 0

	// Deltas are ordered creates, recoveries, updates; collect per type
	// then concatenate
	var createDeltas, recoverDeltas, updateDeltas []models.Delta

	for _, op := range queued {
		req, err := did.ParseOperationRequest(op.OperationBuffer)
		if err != nil {
			w.logger.Warn().
				Str("did_suffix", op.DidSuffix).
				Err(err).
				Msg("Dropping malformed queued operation")
			continue
		}

		switch req.Type {
		case types.OperationTypeCreate:
			coreIndex.Operations.Create = append(coreIndex.Operations.Create,
				models.CreateReference{SuffixData: *req.SuffixData})
			createDeltas = append(createDeltas, *req.Delta)
		case types.OperationTypeRecover:
			coreIndex.Operations.Recover = append(coreIndex.Operations.Recover,
				models.OperationReference{DidSuffix: req.DidSuffix, RevealValue: req.RevealValue, SignedData: req.SignedData})
			recoverDeltas = append(recoverDeltas, *req.Delta)
		case types.OperationTypeUpdate:
			coreIndex.Operations.Update = append(coreIndex.Operations.Update,
				models.OperationReference{DidSuffix: req.DidSuffix, RevealValue: req.RevealValue, SignedData: req.SignedData})
			updateDeltas = append(updateDeltas, *req.Delta)
		case types.OperationTypeDeactivate:
			coreIndex.Operations.Deactivate = append(coreIndex.Operations.Deactivate,
				models.OperationReference{DidSuffix: req.DidSuffix, RevealValue: req.RevealValue, SignedData: req.SignedData})
		}
		valid++
	}

	chunk.Deltas = append(chunk.Deltas, createDeltas...)
	chunk.Deltas = append(chunk.Deltas, recoverDeltas...)
	chunk.Deltas = append(chunk.Deltas, updateDeltas...)
	return coreIndex, chunk, valid
}

// uploadBatch writes the chunk and core index files to the CAS and returns
// the serialized anchor string
func (w *BatchWriter) uploadBatch(ctx context.Context, coreIndex *models.CoreIndexFile, chunk *models.ChunkFile) (string, error) {
	if len(chunk.Deltas) > 0 {
		chunkBytes, err := models.MarshalFile(chunk)
		if err != nil {
			return "", fmt.Errorf("failed to serialize chunk file: %w", err)
		}
		chunkHash, err := w.cas.Write(ctx, chunkBytes)
		if err != nil {
			return "", err
		}
		coreIndex.ChunkFileHash = chunkHash
	}

	coreBytes, err := models.MarshalFile(coreIndex)
	if err != nil {
		return "", fmt.Errorf("failed to serialize core index file: %w", err)
	}
	coreHash, err := w.cas.Write(ctx, coreBytes)
	if err != nil {
		return "", err
	}

	anchor := models.AnchorString{
		NumberOfOperations: coreIndex.OperationCount(),
		CoreIndexFileHash:  coreHash,
	}
	return anchor.Serialize(), nil
}

// feeForBatch computes the fee to pay, preferring the local calculator and
// falling back to the ledger's fee quote while the local block metadata
// window is still filling
func (w *BatchWriter) feeForBatch(ctx context.Context, height, numberOfOperations uint64) (uint64, error) {
	normalizedFee, err := w.feeCalculator.NormalizedFee(height)
	if err != nil {
		w.logger.Debug().Err(err).Msg("Local fee window incomplete, quoting ledger")
		normalizedFee, err = w.ledger.GetFee(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("failed to determine fee: %w", err)
		}
	}
	return requiredFee(normalizedFee, numberOfOperations), nil
}
