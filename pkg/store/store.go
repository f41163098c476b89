package store

import (
	"errors"

	"github.com/cuemby/anchor/pkg/types"
)

// ErrNotFound is returned by point lookups when no row matches
var ErrNotFound = errors.New("not found")

// TransactionStore persists processed ledger transactions. Rows are strictly
// ascending by transaction number with no gaps: the observer only writes the
// consecutively processed prefix.
type TransactionStore interface {
	// AddTransaction persists one processed transaction (idempotent upsert)
	AddTransaction(tx types.Transaction) error

	// GetLastTransaction returns the transaction with the highest number,
	// or ErrNotFound when the store is empty
	GetLastTransaction() (*types.Transaction, error)

	// GetTransactionsLaterThan returns up to max transactions with number
	// strictly greater than since, ascending. A nil since starts from the
	// beginning; max <= 0 means no limit.
	GetTransactionsLaterThan(since *uint64, max int) ([]types.Transaction, error)

	// GetTransactionsAtTime returns every persisted transaction mined at
	// the given ledger height, ascending by number
	GetTransactionsAtTime(height uint64) ([]types.Transaction, error)

	// GetExponentiallySpacedTransactions samples previously persisted
	// transactions newest first with exponentially growing gaps, for use
	// as reorg probe candidates
	GetExponentiallySpacedTransactions() ([]types.Transaction, error)

	// RemoveTransactionsLaterThan deletes every transaction with number
	// strictly greater than the given one. A nil number deletes all rows.
	RemoveTransactionsLaterThan(number *uint64) error
}

// UnresolvableTransactionStore tracks transactions whose anchored batch
// could not be fetched or processed, with exponential retry bookkeeping.
type UnresolvableTransactionStore interface {
	// RecordUnresolvableTransactionFetchAttempt inserts the transaction on
	// first failure or bumps its retry bookkeeping on a repeat failure
	RecordUnresolvableTransactionFetchAttempt(tx types.Transaction) error

	// RemoveUnresolvableTransaction deletes the row after a successful retry
	RemoveUnresolvableTransaction(tx types.Transaction) error

	// GetUnresolvableTransactionsDueForRetry returns up to max transactions
	// whose next retry time has passed, ascending by number. max <= 0 means
	// no limit.
	GetUnresolvableTransactionsDueForRetry(max int) ([]types.Transaction, error)

	// RemoveUnresolvableTransactionsLaterThan deletes rows with number
	// strictly greater than the given one; nil deletes all
	RemoveUnresolvableTransactionsLaterThan(number *uint64) error
}

// OperationStore persists anchored operations grouped by DID suffix.
// Operations for a transaction are always persisted before the transaction
// itself, and deleted before it on reorg revert.
type OperationStore interface {
	// PutOperations persists a batch of anchored operations (idempotent)
	PutOperations(ops []types.AnchoredOperation) error

	// GetOperations returns every operation for a DID suffix ascending by
	// (transactionNumber, operationIndex)
	GetOperations(didSuffix string) ([]types.AnchoredOperation, error)

	// DeleteOperationsLaterThan deletes operations with transactionNumber
	// strictly greater than the given one; nil deletes all
	DeleteOperationsLaterThan(number *uint64) error

	// DeleteUpdatesEarlierThan prunes update operations of one DID with
	// transactionNumber strictly smaller than the given one. Used once an
	// update commitment chain has moved past them for good.
	DeleteUpdatesEarlierThan(didSuffix string, number uint64) error
}

// BlockMetadataStore persists per-block fee statistics in height order
type BlockMetadataStore interface {
	// Add appends block metadata rows (idempotent per height)
	Add(blocks []types.BlockMetadata) error

	// Get returns blocks with height in [fromInclusive, toExclusive),
	// ascending
	Get(fromInclusive, toExclusive uint64) ([]types.BlockMetadata, error)

	// GetLast returns the block with the greatest height, or ErrNotFound
	GetLast() (*types.BlockMetadata, error)

	// LookBackExponentially samples persisted blocks newest first with
	// exponentially growing gaps
	LookBackExponentially() ([]types.BlockMetadata, error)

	// RemoveLaterThan deletes blocks with height strictly greater than the
	// given one; nil deletes all
	RemoveLaterThan(height *uint64) error
}

// ServiceStateStore persists this node's service state record
type ServiceStateStore interface {
	PutServiceState(state types.ServiceState) error
	GetServiceState() (*types.ServiceState, error)
}

// OperationQueue holds operations accepted by the request handler until the
// batch writer anchors them. At most one entry per DID suffix.
type OperationQueue interface {
	// Enqueue adds an operation; returns ErrSuffixAlreadyQueued when an
	// operation for the same DID suffix is already waiting
	Enqueue(op types.QueuedOperation) error

	// Peek returns up to max operations in arrival order without removing
	// them
	Peek(max int) ([]types.QueuedOperation, error)

	// Dequeue atomically removes and returns up to max operations in
	// arrival order
	Dequeue(max int) ([]types.QueuedOperation, error)

	// Len returns the number of queued operations
	Len() (int, error)
}

// ErrSuffixAlreadyQueued signals a second enqueue for a DID suffix that
// already has a pending operation
var ErrSuffixAlreadyQueued = errors.New("an operation for this DID suffix is already queued")
