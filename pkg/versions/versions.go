package versions

import (
	"context"

	"github.com/cuemby/anchor/pkg/cas"
	"github.com/cuemby/anchor/pkg/download"
	"github.com/cuemby/anchor/pkg/fee"
	"github.com/cuemby/anchor/pkg/ledger"
	"github.com/cuemby/anchor/pkg/spending"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// OperationProcessor applies a single anchored operation to a DID state
type OperationProcessor interface {
	// Apply returns the state after the operation. An operation that does
	// not apply (bad reveal, malformed buffer, wrong type for the current
	// state) returns the input state unchanged; callers detect progress by
	// LastOperationTransactionNumber increasing.
	Apply(op types.AnchoredOperation, state *types.DidState) (*types.DidState, error)

	// CommitmentOfReveal computes the commitment hash the operation's
	// reveal value answers to
	CommitmentOfReveal(op types.AnchoredOperation) (string, error)
}

// TransactionProcessor downloads and processes the batch anchored by one
// ledger transaction. The boolean is true on a permanent outcome (success
// or validly invalid, discard either way) and false on a transient failure
// that should be retried.
type TransactionProcessor interface {
	Process(ctx context.Context, txn types.Transaction) (bool, error)
}

// TransactionSelector applies per-height admission control. All input
// transactions must share the same transaction time.
type TransactionSelector interface {
	SelectQualifiedTransactions(txns []types.Transaction) ([]types.Transaction, error)
}

// BatchWriter aggregates queued operations into batch files, uploads them to
// the CAS and anchors the commitment on the ledger. Returns the number of
// operations anchored (zero when nothing was queued or limits applied).
type BatchWriter interface {
	WriteBatch(ctx context.Context) (int, error)
}

// ResponseStatus classifies a request handler outcome for the HTTP layer
type ResponseStatus string

const (
	ResponseSucceeded   ResponseStatus = "succeeded"
	ResponseBadRequest  ResponseStatus = "bad_request"
	ResponseNotFound    ResponseStatus = "not_found"
	ResponseDeactivated ResponseStatus = "deactivated"
	ResponseServerError ResponseStatus = "server_error"
)

// Response is a transport-agnostic request handler result
type Response struct {
	Status ResponseStatus `json:"status"`
	Body   interface{}    `json:"body,omitempty"`
}

// RequestHandler serves the user-facing surface of one protocol version
type RequestHandler interface {
	// HandleOperationRequest validates an operation request and enqueues it
	// for batching
	HandleOperationRequest(ctx context.Context, request []byte) *Response

	// HandleResolveRequest resolves a DID (short form, with or without the
	// method prefix)
	HandleResolveRequest(ctx context.Context, did string) *Response
}

// VersionMetadata exposes the protocol parameters of one version
type VersionMetadata interface {
	// Version is the version tag
	Version() string

	// HashAlgorithmCode is the multihash algorithm code in force
	HashAlgorithmCode() uint64

	// MaxOperationsPerBatch is the protocol cap on operations per anchored
	// batch; writers additionally scale their own allowance by their
	// value-time-lock entitlement
	MaxOperationsPerBatch() uint64

	// MaxCoreIndexFileSizeBytes bounds core index file downloads
	MaxCoreIndexFileSizeBytes() int64

	// MaxChunkFileSizeBytes bounds chunk file downloads
	MaxChunkFileSizeBytes() int64
}

// VersionMetadataFetcher is the read-only view of the dispatcher handed to
// per-version objects, avoiding a reference cycle with the registry
type VersionMetadataFetcher interface {
	VersionMetadataAt(height uint64) (VersionMetadata, error)
}

// Resolver reconstructs the state of a DID from its anchored operation log.
// A nil state with a nil error means the DID does not exist.
type Resolver interface {
	Resolve(didSuffix string) (*types.DidState, error)
}

// Dependencies carries the shared collaborators a version factory wires its
// objects against
type Dependencies struct {
	Config          ProtocolConfig
	Transactions    store.TransactionStore
	Operations      store.OperationStore
	Blocks          store.BlockMetadataStore
	Queue           store.OperationQueue
	Ledger          ledger.Client
	Cas             cas.Client
	Downloads       *download.Manager
	FeeCalculator   *fee.Calculator
	SpendingMonitor *spending.Monitor
	MetadataFetcher VersionMetadataFetcher
	Resolver        Resolver
}

// ProtocolConfig is the subset of node configuration protocol versions need
type ProtocolConfig struct {
	DidMethodName               string
	MaxOperationsPerBatch       uint64
	MaxTransactionsPerHeight    uint64
	MaxOperationsPerHeight      uint64
	ValueTimeLockDurationBlocks uint64
}

// ProtocolVersion is the sextuple of implementation objects active from
// StartingHeight onward
type ProtocolVersion struct {
	StartingHeight       uint64
	BatchWriter          BatchWriter
	OperationProcessor   OperationProcessor
	RequestHandler       RequestHandler
	TransactionProcessor TransactionProcessor
	TransactionSelector  TransactionSelector
	Metadata             VersionMetadata
}

// Factory builds one protocol version's sextuple
type Factory func(deps Dependencies) (*ProtocolVersion, error)

// VersionConfig pairs a starting height with the factory for the version
// that activates there
type VersionConfig struct {
	StartingHeight uint64
	Factory        Factory
}
