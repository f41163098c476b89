package types

import (
	"time"
)

// OperationType identifies the kind of a DID operation
type OperationType string

const (
	OperationTypeCreate     OperationType = "create"
	OperationTypeUpdate     OperationType = "update"
	OperationTypeRecover    OperationType = "recover"
	OperationTypeDeactivate OperationType = "deactivate"
)

// Transaction is one anchoring transaction observed on the ledger.
// TransactionNumber totally orders transactions across the chain; the pair
// (TransactionTime, TransactionTimeHash) identifies the block it was mined in.
type Transaction struct {
	TransactionNumber        uint64 `json:"transactionNumber"`
	TransactionTime          uint64 `json:"transactionTime"`
	TransactionTimeHash      string `json:"transactionTimeHash"`
	AnchorString             string `json:"anchorString"`
	TransactionFeePaid       uint64 `json:"transactionFeePaid"`
	NormalizedTransactionFee uint64 `json:"normalizedTransactionFee"`
	Writer                   string `json:"writer"`
}

// AnchoredOperation is a single DID operation extracted from an anchored
// batch. The ordering key across the system is (TransactionNumber,
// OperationIndex), lexicographically.
type AnchoredOperation struct {
	DidSuffix         string        `json:"didSuffix"`
	Type              OperationType `json:"type"`
	OperationBuffer   []byte        `json:"operationBuffer"`
	TransactionTime   uint64        `json:"transactionTime"`
	TransactionNumber uint64        `json:"transactionNumber"`
	OperationIndex    int           `json:"operationIndex"`
}

// BlockMetadata summarizes one ledger block as seen by the observer
type BlockMetadata struct {
	Height           uint64 `json:"height"`
	Hash             string `json:"hash"`
	PreviousHash     string `json:"previousHash"`
	TransactionCount uint64 `json:"transactionCount"`
	TotalFee         uint64 `json:"totalFee"`
	NormalizedFee    uint64 `json:"normalizedFee"`
}

// UnresolvableTransaction wraps a transaction whose batch could not be
// processed, together with its retry bookkeeping. NextRetryTime grows
// monotonically with RetryAttempts.
type UnresolvableTransaction struct {
	Transaction    Transaction `json:"transaction"`
	FirstFetchTime time.Time   `json:"firstFetchTime"`
	RetryAttempts  int         `json:"retryAttempts"`
	NextRetryTime  time.Time   `json:"nextRetryTime"`
}

// QueuedOperation is an operation accepted by the request handler but not
// yet anchored. At most one queued entry exists per DID suffix.
type QueuedOperation struct {
	ID              string    `json:"id"`
	DidSuffix       string    `json:"didSuffix"`
	OperationBuffer []byte    `json:"operationBuffer"`
	EnqueuedAt      time.Time `json:"enqueuedAt"`
}

// PublicKey is a verification key entry in a DID document
type PublicKey struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	PublicKeyJWK JWK      `json:"publicKeyJwk"`
	Purposes     []string `json:"purposes,omitempty"`
}

// JWK is a JSON Web Key restricted to the members the anchor protocol uses
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// DidService is a service endpoint entry in a DID document
type DidService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Document is the replaceable portion of a DID's state
type Document struct {
	PublicKeys []PublicKey  `json:"publicKeys,omitempty"`
	Services   []DidService `json:"services,omitempty"`
}

// DidState is the state of a DID reconstructed by the resolver. A deactivated
// DID has both commitment hashes absent. DidState is produced lazily on
// resolve and never stored.
type DidState struct {
	Document                      *Document `json:"document,omitempty"`
	RecoveryKey                   *JWK      `json:"recoveryKey,omitempty"`
	NextRecoveryCommitmentHash    string    `json:"nextRecoveryCommitmentHash,omitempty"`
	NextUpdateCommitmentHash      string    `json:"nextUpdateCommitmentHash,omitempty"`
	LastOperationTransactionNumber uint64   `json:"lastOperationTransactionNumber"`
}

// Deactivated reports whether the DID can accept no further operations
func (s *DidState) Deactivated() bool {
	return s.NextRecoveryCommitmentHash == "" && s.NextUpdateCommitmentHash == ""
}

// ServiceState is the persisted state of this node
type ServiceState struct {
	ServiceVersion           string `json:"serviceVersion"`
	LastObservedLedgerHeight uint64 `json:"lastObservedLedgerHeight"`
}

// FetchResultCode classifies the outcome of a CAS read
type FetchResultCode string

const (
	FetchSuccess         FetchResultCode = "success"
	FetchNotFound        FetchResultCode = "not_found"
	FetchMaxSizeExceeded FetchResultCode = "max_size_exceeded"
	FetchInvalidHash     FetchResultCode = "invalid_hash"
	FetchCasNotReachable FetchResultCode = "cas_not_reachable"
)

// FetchResult is the outcome of a CAS read. Content is set only on success.
type FetchResult struct {
	Code    FetchResultCode `json:"code"`
	Content []byte          `json:"content,omitempty"`
}
