package ledger

import (
	"context"
	"errors"

	"github.com/cuemby/anchor/pkg/types"
)

// ErrInvalidTransactionNumberOrTimeHash is raised by Read when the cursor's
// (number, timeHash) pair no longer exists on the canonical chain. The
// observer treats it as a reorg signal once the ledger has caught up past
// the cursor height.
var ErrInvalidTransactionNumberOrTimeHash = errors.New("invalid transaction number or time hash")

// BlockTime identifies a block by height and hash
type BlockTime struct {
	Time uint64 `json:"time"`
	Hash string `json:"hash"`
}

// ReadResult is one page of transactions in ledger order
type ReadResult struct {
	MoreTransactions bool                `json:"moreTransactions"`
	Transactions     []types.Transaction `json:"transactions"`
}

// Client is the ledger node contract
type Client interface {
	// Read returns transactions in ledger order strictly after the cursor.
	// A nil sinceTransactionNumber reads from the beginning. Returns
	// ErrInvalidTransactionNumberOrTimeHash when the cursor is no longer on
	// the canonical chain.
	Read(ctx context.Context, sinceTransactionNumber *uint64, transactionTimeHash string) (*ReadResult, error)

	// Write anchors an anchor string on the ledger with the given fee
	Write(ctx context.Context, anchorString string, fee uint64) error

	// GetFirstValidTransaction returns the newest of the given transactions
	// still on the canonical chain, or nil when none are
	GetFirstValidTransaction(ctx context.Context, transactions []types.Transaction) (*types.Transaction, error)

	// GetLatestTime returns the approximate current ledger time
	GetLatestTime(ctx context.Context) (*BlockTime, error)

	// GetFee returns the normalized fee for the given ledger height
	GetFee(ctx context.Context, height uint64) (uint64, error)
}
