package spending

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/metrics"
	"github.com/cuemby/anchor/pkg/store"
)

// Monitor caps the ledger fees this node incurs over a rolling height
// window. Anchor strings written by this node are tracked in memory only: a
// restart can under-count past spending but never retroactively over-spend,
// so volatility is safe.
type Monitor struct {
	cap          uint64
	periodBlocks uint64
	transactions store.TransactionStore

	mu            sync.RWMutex
	anchorStrings map[string]bool

	logger zerolog.Logger
}

// NewMonitor creates a spending monitor. A zero cap disables throttling.
func NewMonitor(transactions store.TransactionStore, spendingCap, periodBlocks uint64) *Monitor {
	return &Monitor{
		cap:           spendingCap,
		periodBlocks:  periodBlocks,
		transactions:  transactions,
		anchorStrings: make(map[string]bool),
		logger:        log.WithComponent("spending"),
	}
}

// RecordAnchorString marks an anchor string as written by this node
func (m *Monitor) RecordAnchorString(anchorString string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchorStrings[anchorString] = true
}

// IsCurrentFeeWithinLimit reports whether paying feeToAdd keeps this node's
// spending over the rolling window at or under the cap
func (m *Monitor) IsCurrentFeeWithinLimit(feeToAdd, lastProcessedHeight uint64) (bool, error) {
	if m.cap == 0 {
		return true, nil
	}
	if m.periodBlocks == 1 {
		return feeToAdd <= m.cap, nil
	}

	// The window covers heights >= lastProcessedHeight - period - 1
	var windowStart uint64
	if lastProcessedHeight > m.periodBlocks+1 {
		windowStart = lastProcessedHeight - m.periodBlocks - 1
	}

	txns, err := m.transactions.GetTransactionsLaterThan(nil, 0)
	if err != nil {
		return false, fmt.Errorf("failed to fetch transactions for spending check: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var spent uint64
	for _, txn := range txns {
		if txn.TransactionTime < windowStart {
			continue
		}
		if m.anchorStrings[txn.AnchorString] {
			spent += txn.TransactionFeePaid
		}
	}
	metrics.SpendingInPeriod.Set(float64(spent))

	if spent+feeToAdd > m.cap {
		m.logger.Warn().
			Uint64("spent", spent).
			Uint64("fee_to_add", feeToAdd).
			Uint64("cap", m.cap).
			Msg("Spending cap would be exceeded, refusing to anchor")
		return false, nil
	}
	return true, nil
}
