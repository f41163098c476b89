package observer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/events"
	"github.com/cuemby/anchor/pkg/ledger"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/metrics"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
	"github.com/cuemby/anchor/pkg/versions"
)

const (
	// drainPollInterval is how long the loop yields while waiting for
	// in-flight processing to make progress
	drainPollInterval = 500 * time.Millisecond

	// maxUnderProcessingFactor times maxConcurrent bounds the in-memory set
	// when a failed transaction blocks the drain; fetching pauses until it
	// shrinks
	maxUnderProcessingFactor = 10

	// maxRetryBatch bounds how many unresolvable transactions one retry
	// pass redispatches
	maxRetryBatch = 100
)

// Processing status of one in-flight transaction
const (
	statusPending int32 = iota
	statusProcessed
)

// transactionUnderProcessing tracks one dispatched transaction. The loop
// owns the set; the processing task writes only its own status fields.
type transactionUnderProcessing struct {
	transaction types.Transaction
	status      atomic.Int32
	succeeded   atomic.Bool
}

// Observer drives the anchoring pipeline: it streams ledger transactions,
// admits them through the versioned selector, processes them with bounded
// concurrency, persists them in order with no gaps, retries unresolvable
// ones and reverts on reorganisations.
type Observer struct {
	ledger       ledger.Client
	transactions store.TransactionStore
	unresolvable store.UnresolvableTransactionStore
	operations   store.OperationStore
	blocks       store.BlockMetadataStore
	serviceState store.ServiceStateStore
	dispatcher   *versions.Dispatcher
	broker       *events.Broker

	interval      time.Duration
	maxConcurrent int

	// Owned exclusively by the observing loop
	cursor          *types.Transaction
	underProcessing []*transactionUnderProcessing

	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

// Config holds the observer's tunables
type Config struct {
	ObservingInterval     time.Duration
	MaxConcurrentDownloads int
}

// NewObserver creates an observer
func NewObserver(ledgerClient ledger.Client, transactions store.TransactionStore,
	unresolvable store.UnresolvableTransactionStore, operations store.OperationStore,
	blocks store.BlockMetadataStore, serviceState store.ServiceStateStore,
	dispatcher *versions.Dispatcher, broker *events.Broker, cfg Config) *Observer {
	return &Observer{
		ledger:        ledgerClient,
		transactions:  transactions,
		unresolvable:  unresolvable,
		operations:    operations,
		blocks:        blocks,
		serviceState:  serviceState,
		dispatcher:    dispatcher,
		broker:        broker,
		interval:      cfg.ObservingInterval,
		maxConcurrent: cfg.MaxConcurrentDownloads,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		logger:        log.WithComponent("observer"),
	}
}

// Start begins periodic observing
func (o *Observer) Start() {
	go o.run()
}

// Stop halts observing at the next quiescent point. In-flight processing
// tasks run to completion; their results are drained on a later start or
// re-read from the ledger after a restart.
func (o *Observer) Stop() {
	close(o.stopCh)
	<-o.doneCh
}

func (o *Observer) run() {
	defer close(o.doneCh)

	if err := o.initCursor(); err != nil {
		o.logger.Error().Err(err).Msg("Failed to initialise cursor")
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.logger.Info().Msg("Observer started")
	o.tick()

	for {
		select {
		case <-ticker.C:
			o.tick()
		case <-o.stopCh:
			o.logger.Info().Msg("Observer stopped")
			return
		}
	}
}

// tick runs one observing cycle, swallowing errors so the loop survives
func (o *Observer) tick() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ObserverCycleDuration)

	if err := o.processTransactions(); err != nil {
		o.logger.Error().Err(err).Msg("Observing cycle failed")
	}
	o.drain()
	o.retryUnresolvable()
	o.drain()
}

// initCursor restores the cursor from the last persisted transaction
func (o *Observer) initCursor() error {
	last, err := o.transactions.GetLastTransaction()
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	o.cursor = last
	o.logger.Info().Uint64("transaction_number", last.TransactionNumber).Msg("Cursor restored from store")
	return nil
}

// processTransactions pages through new ledger transactions past the cursor
// and dispatches the qualified ones
func (o *Observer) processTransactions() error {
	ctx := context.Background()

	for more := true; more; {
		select {
		case <-o.stopCh:
			return nil
		default:
		}

		if len(o.underProcessing) >= o.maxConcurrent*maxUnderProcessingFactor {
			// A blocked drain head is accumulating entries; stop fetching
			// until retries unblock it
			o.logger.Warn().Int("under_processing", len(o.underProcessing)).Msg("Pausing ledger reads until drain unblocks")
			return nil
		}
		o.throttle()

		var since *uint64
		var timeHash string
		if o.cursor != nil {
			since = &o.cursor.TransactionNumber
			timeHash = o.cursor.TransactionTimeHash
		}

		result, err := o.ledger.Read(ctx, since, timeHash)
		if errors.Is(err, ledger.ErrInvalidTransactionNumberOrTimeHash) {
			return o.handleReorg(ctx)
		}
		if err != nil {
			return fmt.Errorf("ledger read failed: %w", err)
		}
		more = result.MoreTransactions

		if len(result.Transactions) == 0 {
			continue
		}

		o.recordBlockMetadata(result.Transactions)

		qualified, err := o.selectQualified(result.Transactions)
		if err != nil {
			return err
		}

		sort.Slice(qualified, func(i, j int) bool {
			return qualified[i].TransactionNumber < qualified[j].TransactionNumber
		})
		for _, txn := range qualified {
			o.dispatch(txn)
		}

		// The cursor advances over unqualified transactions too
		last := result.Transactions[len(result.Transactions)-1]
		o.cursor = &last
		o.updateServiceState(last.TransactionTime)
		o.drain()
	}
	return nil
}

// throttle yields while the number of in-flight tasks is at the concurrency
// bound, draining as tasks finish
func (o *Observer) throttle() {
	for o.countPending() >= o.maxConcurrent {
		select {
		case <-o.stopCh:
			return
		case <-time.After(drainPollInterval):
			o.drain()
		}
	}
}

func (o *Observer) countPending() int {
	pending := 0
	for _, entry := range o.underProcessing {
		if entry.status.Load() == statusPending {
			pending++
		}
	}
	return pending
}

// selectQualified groups a page by ledger height and runs the versioned
// selector on each group
func (o *Observer) selectQualified(txns []types.Transaction) ([]types.Transaction, error) {
	groups := make(map[uint64][]types.Transaction)
	var heights []uint64
	for _, txn := range txns {
		if _, seen := groups[txn.TransactionTime]; !seen {
			heights = append(heights, txn.TransactionTime)
		}
		groups[txn.TransactionTime] = append(groups[txn.TransactionTime], txn)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	var qualified []types.Transaction
	for _, height := range heights {
		selector, err := o.dispatcher.TransactionSelectorAt(height)
		if err != nil {
			return nil, err
		}
		selected, err := selector.SelectQualifiedTransactions(groups[height])
		if err != nil {
			return nil, err
		}
		qualified = append(qualified, selected...)
	}
	return qualified, nil
}

// recordBlockMetadata appends one block metadata row per height seen in the
// page, summing fee statistics over the anchor transactions of that height
func (o *Observer) recordBlockMetadata(txns []types.Transaction) {
	byHeight := make(map[uint64]*types.BlockMetadata)
	var heights []uint64
	for _, txn := range txns {
		block, ok := byHeight[txn.TransactionTime]
		if !ok {
			block = &types.BlockMetadata{
				Height:        txn.TransactionTime,
				Hash:          txn.TransactionTimeHash,
				NormalizedFee: txn.NormalizedTransactionFee,
			}
			byHeight[txn.TransactionTime] = block
			heights = append(heights, txn.TransactionTime)
		}
		block.TransactionCount++
		block.TotalFee += txn.TransactionFeePaid
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	blocks := make([]types.BlockMetadata, 0, len(heights))
	for _, height := range heights {
		blocks = append(blocks, *byHeight[height])
	}
	if err := o.blocks.Add(blocks); err != nil {
		o.logger.Error().Err(err).Msg("Failed to record block metadata")
	}
}

// dispatch registers a transaction as under processing and launches its
// processing task
func (o *Observer) dispatch(txn types.Transaction) {
	entry := &transactionUnderProcessing{transaction: txn}
	o.underProcessing = append(o.underProcessing, entry)
	metrics.TransactionsUnderProcessing.Set(float64(len(o.underProcessing)))
	go o.process(entry)
}

// process runs one transaction through the versioned processor. It never
// panics the loop: every outcome ends with the entry marked processed.
func (o *Observer) process(entry *transactionUnderProcessing) {
	txn := entry.transaction
	defer entry.status.Store(statusProcessed)

	processor, err := o.dispatcher.TransactionProcessorAt(txn.TransactionTime)
	if err != nil {
		o.logger.Error().Err(err).Uint64("transaction_number", txn.TransactionNumber).Msg("No processor for transaction")
		o.recordUnresolvable(txn)
		return
	}

	ok, err := processor.Process(context.Background(), txn)
	if !ok {
		o.logger.Warn().
			Err(err).
			Uint64("transaction_number", txn.TransactionNumber).
			Msg("Transaction unresolvable, will retry")
		o.recordUnresolvable(txn)
		return
	}

	if err != nil {
		// Validly invalid: the batch is discarded but the transaction is
		// settled and will be persisted by the drain
		o.logger.Info().
			Err(err).
			Uint64("transaction_number", txn.TransactionNumber).
			Msg("Transaction permanently invalid, discarding batch")
		metrics.TransactionsProcessedTotal.WithLabelValues("invalid").Inc()
	} else {
		metrics.TransactionsProcessedTotal.WithLabelValues("success").Inc()
	}
	entry.succeeded.Store(true)

	// A retried transaction that finally succeeded leaves the unresolvable set
	if err := o.unresolvable.RemoveUnresolvableTransaction(txn); err != nil {
		o.logger.Error().Err(err).Uint64("transaction_number", txn.TransactionNumber).Msg("Failed to clear unresolvable record")
	}
}

func (o *Observer) recordUnresolvable(txn types.Transaction) {
	metrics.TransactionsProcessedTotal.WithLabelValues("unresolvable").Inc()
	if err := o.unresolvable.RecordUnresolvableTransactionFetchAttempt(txn); err != nil {
		o.logger.Error().Err(err).Uint64("transaction_number", txn.TransactionNumber).Msg("Failed to record unresolvable transaction")
	}
	o.broker.Publish(events.EventTransactionUnresolvable, "transaction processing failed", map[string]string{
		"transaction_number": strconv.FormatUint(txn.TransactionNumber, 10),
	})
}

// drain persists the consecutively processed prefix of the in-flight set in
// transaction number order. This is the only place transactions enter the
// transaction store, which is what keeps the store gap-free. A transaction
// that failed transiently blocks the drain until a retry succeeds.
func (o *Observer) drain() {
	for len(o.underProcessing) > 0 {
		head := o.underProcessing[0]
		if head.status.Load() != statusProcessed || !head.succeeded.Load() {
			break
		}

		txn := head.transaction
		if err := o.transactions.AddTransaction(txn); err != nil {
			o.logger.Error().Err(err).Uint64("transaction_number", txn.TransactionNumber).Msg("Failed to persist transaction")
			break
		}
		o.underProcessing = o.underProcessing[1:]

		metrics.LastObservedLedgerHeight.Set(float64(txn.TransactionTime))
		o.broker.Publish(events.EventTransactionProcessed, "transaction persisted", map[string]string{
			"transaction_number": strconv.FormatUint(txn.TransactionNumber, 10),
		})
	}
	metrics.TransactionsUnderProcessing.Set(float64(len(o.underProcessing)))
}

// retryUnresolvable redispatches blocked entries whose retry time has come
func (o *Observer) retryUnresolvable() {
	due, err := o.unresolvable.GetUnresolvableTransactionsDueForRetry(maxRetryBatch)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to fetch unresolvable transactions")
		return
	}

	dueNumbers := make(map[uint64]bool, len(due))
	for _, txn := range due {
		dueNumbers[txn.TransactionNumber] = true
	}

	for _, entry := range o.underProcessing {
		if entry.status.Load() != statusProcessed || entry.succeeded.Load() {
			continue
		}
		if !dueNumbers[entry.transaction.TransactionNumber] {
			continue
		}
		metrics.UnresolvableRetriesTotal.Inc()
		entry.status.Store(statusPending)
		go o.process(entry)
	}
	// Unresolvable rows with no in-flight entry (a restart cleared the
	// set) are re-read from the ledger by the main loop, since the cursor
	// restored from the store sits before them.
}

// handleReorg confirms and recovers from a ledger reorganisation. A cursor
// above the ledger's approximate height means the ledger node is still
// catching up; the observer waits instead of reverting.
func (o *Observer) handleReorg(ctx context.Context) error {
	latest, err := o.ledger.GetLatestTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger time during reorg check: %w", err)
	}
	if o.cursor != nil && o.cursor.TransactionTime > latest.Time {
		o.logger.Info().
			Uint64("cursor_height", o.cursor.TransactionTime).
			Uint64("ledger_height", latest.Time).
			Msg("Ledger node is catching up, waiting")
		return nil
	}

	metrics.ReorgsTotal.Inc()
	o.logger.Warn().Msg("Ledger reorganisation detected, reverting")
	o.broker.Publish(events.EventReorgDetected, "ledger reorganisation detected", nil)

	// Let in-flight tasks settle, then discard the whole set; the revert
	// resets the cursor below anything they were doing
	for o.countPending() > 0 {
		select {
		case <-o.stopCh:
			return nil
		case <-time.After(drainPollInterval):
		}
	}
	o.underProcessing = nil
	metrics.TransactionsUnderProcessing.Set(0)

	samples, err := o.transactions.GetExponentiallySpacedTransactions()
	if err != nil {
		return fmt.Errorf("failed to sample transactions for reorg probe: %w", err)
	}
	fork, err := o.ledger.GetFirstValidTransaction(ctx, samples)
	if err != nil {
		return fmt.Errorf("failed to locate fork point: %w", err)
	}

	var forkNumber, forkHeight *uint64
	if fork != nil {
		forkNumber = &fork.TransactionNumber
		forkHeight = &fork.TransactionTime
		o.logger.Info().Uint64("fork_transaction", fork.TransactionNumber).Msg("Reverting above fork point")
	} else {
		o.logger.Warn().Msg("No valid transaction found, reverting everything")
	}

	// Operations must be deleted before their transactions so a crash can
	// never leave a stored transaction without its operations
	if err := o.operations.DeleteOperationsLaterThan(forkNumber); err != nil {
		return fmt.Errorf("failed to revert operations: %w", err)
	}
	if err := o.transactions.RemoveTransactionsLaterThan(forkNumber); err != nil {
		return fmt.Errorf("failed to revert transactions: %w", err)
	}
	if err := o.unresolvable.RemoveUnresolvableTransactionsLaterThan(forkNumber); err != nil {
		return fmt.Errorf("failed to revert unresolvable transactions: %w", err)
	}
	if err := o.blocks.RemoveLaterThan(forkHeight); err != nil {
		return fmt.Errorf("failed to revert block metadata: %w", err)
	}

	o.cursor = fork
	return nil
}

func (o *Observer) updateServiceState(height uint64) {
	state, err := o.serviceState.GetServiceState()
	if errors.Is(err, store.ErrNotFound) {
		state = &types.ServiceState{}
	} else if err != nil {
		o.logger.Error().Err(err).Msg("Failed to read service state")
		return
	}
	if height <= state.LastObservedLedgerHeight {
		return
	}
	state.LastObservedLedgerHeight = height
	if err := o.serviceState.PutServiceState(*state); err != nil {
		o.logger.Error().Err(err).Msg("Failed to update service state")
	}
}
