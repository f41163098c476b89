package spending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// memTransactions is an in-memory TransactionStore for monitor tests
type memTransactions struct {
	txns []types.Transaction
}

func (m *memTransactions) AddTransaction(txn types.Transaction) error {
	m.txns = append(m.txns, txn)
	return nil
}

func (m *memTransactions) GetLastTransaction() (*types.Transaction, error) {
	if len(m.txns) == 0 {
		return nil, store.ErrNotFound
	}
	last := m.txns[len(m.txns)-1]
	return &last, nil
}

func (m *memTransactions) GetTransactionsLaterThan(since *uint64, max int) ([]types.Transaction, error) {
	var result []types.Transaction
	for _, txn := range m.txns {
		if since == nil || txn.TransactionNumber > *since {
			result = append(result, txn)
		}
	}
	return result, nil
}

func (m *memTransactions) GetTransactionsAtTime(height uint64) ([]types.Transaction, error) {
	return nil, nil
}

func (m *memTransactions) GetExponentiallySpacedTransactions() ([]types.Transaction, error) {
	return nil, nil
}

func (m *memTransactions) RemoveTransactionsLaterThan(number *uint64) error { return nil }

func addWrite(t *testing.T, txns *memTransactions, monitor *Monitor, number, height, fee uint64, anchor string) {
	t.Helper()
	require.NoError(t, txns.AddTransaction(types.Transaction{
		TransactionNumber:  number,
		TransactionTime:    height,
		AnchorString:       anchor,
		TransactionFeePaid: fee,
	}))
	monitor.RecordAnchorString(anchor)
}

func TestSpendingCapRefusesExcess(t *testing.T) {
	txns := &memTransactions{}
	monitor := NewMonitor(txns, 300_000_000, 100)

	addWrite(t, txns, monitor, 1, 4950, 100_000_000, "1.writeA")
	addWrite(t, txns, monitor, 2, 4990, 100_000_000, "1.writeB")

	// 1e8 + 1e8 already spent in the window; adding 1.01e8 would exceed
	// the 3e8 cap
	ok, err := monitor.IsCurrentFeeWithinLimit(101_000_000, 5000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpendingCapAllowsExactLimit(t *testing.T) {
	txns := &memTransactions{}
	monitor := NewMonitor(txns, 300_000_000, 100)

	addWrite(t, txns, monitor, 1, 4950, 100_000_000, "1.writeA")
	addWrite(t, txns, monitor, 2, 4990, 100_000_000, "1.writeB")

	ok, err := monitor.IsCurrentFeeWithinLimit(100_000_000, 5000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSpendingIgnoresWritesOutsideWindow(t *testing.T) {
	txns := &memTransactions{}
	monitor := NewMonitor(txns, 300_000_000, 100)

	// The window at height 5000 with period 100 covers heights >= 4899
	addWrite(t, txns, monitor, 1, 4898, 250_000_000, "1.old")
	addWrite(t, txns, monitor, 2, 4899, 100_000_000, "1.boundary")

	ok, err := monitor.IsCurrentFeeWithinLimit(150_000_000, 5000)
	require.NoError(t, err)
	assert.True(t, ok)

	// The boundary write alone fills 1e8; one height earlier and the old
	// write would have tipped the sum over the cap
	ok, err = monitor.IsCurrentFeeWithinLimit(250_000_000, 5000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpendingIgnoresOtherWriters(t *testing.T) {
	txns := &memTransactions{}
	monitor := NewMonitor(txns, 300_000_000, 100)

	// A foreign transaction in the window is not counted against this node
	require.NoError(t, txns.AddTransaction(types.Transaction{
		TransactionNumber:  1,
		TransactionTime:    4990,
		AnchorString:       "1.someoneElse",
		TransactionFeePaid: 250_000_000,
	}))
	addWrite(t, txns, monitor, 2, 4995, 100_000_000, "1.mine")

	ok, err := monitor.IsCurrentFeeWithinLimit(150_000_000, 5000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSpendingSingleBlockPeriod(t *testing.T) {
	monitor := NewMonitor(&memTransactions{}, 100, 1)

	ok, err := monitor.IsCurrentFeeWithinLimit(100, 5000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = monitor.IsCurrentFeeWithinLimit(101, 5000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpendingZeroCapDisablesThrottling(t *testing.T) {
	monitor := NewMonitor(&memTransactions{}, 0, 100)

	ok, err := monitor.IsCurrentFeeWithinLimit(^uint64(0), 5000)
	require.NoError(t, err)
	assert.True(t, ok)
}
