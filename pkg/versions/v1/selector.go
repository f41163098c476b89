package v1

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/models"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// TransactionSelector admits transactions of a single ledger height against
// the per-height operation and transaction budgets, prioritized by fee paid
// (highest first, transaction number breaking ties).
type TransactionSelector struct {
	transactions             store.TransactionStore
	maxTransactionsPerHeight uint64
	maxOperationsPerHeight   uint64
	logger                   zerolog.Logger
}

// NewTransactionSelector creates the version-1 transaction selector
func NewTransactionSelector(transactions store.TransactionStore, maxTransactionsPerHeight, maxOperationsPerHeight uint64) *TransactionSelector {
	return &TransactionSelector{
		transactions:             transactions,
		maxTransactionsPerHeight: maxTransactionsPerHeight,
		maxOperationsPerHeight:   maxOperationsPerHeight,
		logger:                   log.WithComponent("selector"),
	}
}

// SelectQualifiedTransactions returns the subset of txns that fit the
// remaining per-height budgets, in priority order. All input transactions
// must share the same transaction time.
func (s *TransactionSelector) SelectQualifiedTransactions(txns []types.Transaction) ([]types.Transaction, error) {
	if len(txns) == 0 {
		return nil, nil
	}

	height := txns[0].TransactionTime
	for _, txn := range txns {
		if txn.TransactionTime != height {
			return nil, fmt.Errorf("selector input mixes ledger heights %d and %d", height, txn.TransactionTime)
		}
	}

	opsBudget, txBudget, err := s.remainingBudgets(height)
	if err != nil {
		return nil, err
	}

	// Priority: fee paid descending, transaction number ascending on ties
	candidates := make([]types.Transaction, len(txns))
	copy(candidates, txns)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].TransactionFeePaid != candidates[j].TransactionFeePaid {
			return candidates[i].TransactionFeePaid > candidates[j].TransactionFeePaid
		}
		return candidates[i].TransactionNumber < candidates[j].TransactionNumber
	})

	var selected []types.Transaction
	var accumulatedOps, accumulatedTxns uint64
	for _, txn := range candidates {
		anchor, err := models.ParseAnchorString(txn.AnchorString)
		if err != nil {
			s.logger.Debug().
				Uint64("transaction_number", txn.TransactionNumber).
				Err(err).
				Msg("Skipping transaction with malformed anchor string")
			continue
		}
		if accumulatedOps+anchor.NumberOfOperations > opsBudget || accumulatedTxns >= txBudget {
			continue
		}
		accumulatedOps += anchor.NumberOfOperations
		accumulatedTxns++
		selected = append(selected, txn)
	}

	return selected, nil
}

// remainingBudgets subtracts the operations and transactions already
// persisted at the height from the per-height caps
func (s *TransactionSelector) remainingBudgets(height uint64) (uint64, uint64, error) {
	persisted, err := s.transactions.GetTransactionsAtTime(height)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count persisted transactions at height %d: %w", height, err)
	}

	var opsUsed uint64
	for _, txn := range persisted {
		if anchor, err := models.ParseAnchorString(txn.AnchorString); err == nil {
			opsUsed += anchor.NumberOfOperations
		}
	}

	opsBudget := uint64(0)
	if s.maxOperationsPerHeight > opsUsed {
		opsBudget = s.maxOperationsPerHeight - opsUsed
	}
	txBudget := uint64(0)
	if s.maxTransactionsPerHeight > uint64(len(persisted)) {
		txBudget = s.maxTransactionsPerHeight - uint64(len(persisted))
	}
	return opsBudget, txBudget, nil
}
