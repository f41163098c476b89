package v1

import (
	"github.com/cuemby/anchor/pkg/versions"
)

// New builds the version-1 protocol sextuple
func New(deps versions.Dependencies) (*versions.ProtocolVersion, error) {
	metadata := NewMetadata(deps.Config)

	return &versions.ProtocolVersion{
		Metadata:           metadata,
		OperationProcessor: NewOperationProcessor(metadata),
		TransactionProcessor: NewTransactionProcessor(
			deps.Downloads, deps.Operations, metadata),
		TransactionSelector: NewTransactionSelector(
			deps.Transactions, deps.Config.MaxTransactionsPerHeight, deps.Config.MaxOperationsPerHeight),
		BatchWriter: NewBatchWriter(
			deps.Queue, deps.Cas, deps.Ledger, deps.FeeCalculator, deps.SpendingMonitor, metadata),
		RequestHandler: NewRequestHandler(
			deps.Queue, deps.Resolver, deps.Config.DidMethodName, metadata),
	}, nil
}
