package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/anchor/pkg/types"
)

var (
	// Bucket names
	bucketTransactions = []byte("transactions")
	bucketUnresolvable = []byte("unresolvable_transactions")
	bucketOperations   = []byte("operations")
	bucketBlocks       = []byte("block_metadata")
	bucketServiceState = []byte("service_state")
	bucketQueue        = []byte("operation_queue")
	bucketQueueIndex   = []byte("operation_queue_index")

	keyServiceState = []byte("state")
)

// BoltStore implements every store interface over a single BoltDB file.
// Rows are JSON-marshaled; ordered scans rely on big-endian numeric keys.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the node database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "anchor.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTransactions,
			bucketUnresolvable,
			bucketOperations,
			bucketBlocks,
			bucketServiceState,
			bucketQueue,
			bucketQueueIndex,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func uint64Key(n uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key
}

// operationKey orders one DID's operations by (transactionNumber,
// operationIndex). The '|' separator never appears in base64url suffixes.
func operationKey(op types.AnchoredOperation) []byte {
	key := make([]byte, 0, len(op.DidSuffix)+13)
	key = append(key, []byte(op.DidSuffix)...)
	key = append(key, '|')
	key = append(key, uint64Key(op.TransactionNumber)...)
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, uint32(op.OperationIndex))
	return append(key, idx...)
}

// --- TransactionStore ---

func (s *BoltStore) AddTransaction(txn types.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		data, err := json.Marshal(txn)
		if err != nil {
			return err
		}
		return b.Put(uint64Key(txn.TransactionNumber), data)
	})
}

func (s *BoltStore) GetLastTransaction() (*types.Transaction, error) {
	var txn *types.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketTransactions).Cursor().Last()
		if v == nil {
			return nil
		}
		txn = &types.Transaction{}
		return json.Unmarshal(v, txn)
	})
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrNotFound
	}
	return txn, nil
}

func (s *BoltStore) GetTransactionsLaterThan(since *uint64, max int) ([]types.Transaction, error) {
	var txns []types.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTransactions).Cursor()

		var k, v []byte
		if since == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(uint64Key(*since))
			// Seek lands on the cursor itself when present; skip to strictly later
			if k != nil && binary.BigEndian.Uint64(k) == *since {
				k, v = c.Next()
			}
		}

		for ; k != nil; k, v = c.Next() {
			if max > 0 && len(txns) >= max {
				break
			}
			var txn types.Transaction
			if err := json.Unmarshal(v, &txn); err != nil {
				return err
			}
			txns = append(txns, txn)
		}
		return nil
	})
	return txns, err
}

func (s *BoltStore) GetTransactionsAtTime(height uint64) ([]types.Transaction, error) {
	var txns []types.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).ForEach(func(k, v []byte) error {
			var txn types.Transaction
			if err := json.Unmarshal(v, &txn); err != nil {
				return err
			}
			if txn.TransactionTime == height {
				txns = append(txns, txn)
			}
			return nil
		})
	})
	return txns, err
}

func (s *BoltStore) GetExponentiallySpacedTransactions() ([]types.Transaction, error) {
	all, err := s.GetTransactionsLaterThan(nil, 0)
	if err != nil {
		return nil, err
	}

	// Newest first with gaps doubling each step: positions
	// last, last-2, last-6, last-14, ...
	var sampled []types.Transaction
	offset := 0
	step := 2
	for {
		pos := len(all) - 1 - offset
		if pos < 0 {
			break
		}
		sampled = append(sampled, all[pos])
		offset += step
		step *= 2
	}
	return sampled, nil
}

func (s *BoltStore) RemoveTransactionsLaterThan(number *uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteKeysAbove(tx.Bucket(bucketTransactions), number)
	})
}

// deleteKeysAbove removes rows keyed by big-endian uint64 strictly greater
// than number; a nil number clears the bucket
func deleteKeysAbove(b *bolt.Bucket, number *uint64) error {
	c := b.Cursor()
	var start []byte
	if number == nil {
		start, _ = c.First()
	} else {
		start, _ = c.Seek(uint64Key(*number))
		if start != nil && binary.BigEndian.Uint64(start) == *number {
			start, _ = c.Next()
		}
	}

	var toDelete [][]byte
	for k := start; k != nil; k, _ = c.Next() {
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- UnresolvableTransactionStore ---

// Retry backoff parameters for unresolvable transactions
const (
	retryBackoffBase = time.Minute
	retryBackoffMax  = 24 * time.Hour
)

func (s *BoltStore) RecordUnresolvableTransactionFetchAttempt(txn types.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnresolvable)
		key := uint64Key(txn.TransactionNumber)
		now := time.Now()

		record := types.UnresolvableTransaction{
			Transaction:    txn,
			FirstFetchTime: now,
		}
		if existing := b.Get(key); existing != nil {
			if err := json.Unmarshal(existing, &record); err != nil {
				return err
			}
			record.RetryAttempts++
		}

		backoff := retryBackoffBase << uint(record.RetryAttempts)
		if backoff > retryBackoffMax || backoff <= 0 {
			backoff = retryBackoffMax
		}
		record.NextRetryTime = now.Add(backoff)

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) RemoveUnresolvableTransaction(txn types.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnresolvable).Delete(uint64Key(txn.TransactionNumber))
	})
}

func (s *BoltStore) GetUnresolvableTransactionsDueForRetry(max int) ([]types.Transaction, error) {
	var due []types.Transaction
	now := time.Now()
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketUnresolvable).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if max > 0 && len(due) >= max {
				break
			}
			var record types.UnresolvableTransaction
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if !record.NextRetryTime.After(now) {
				due = append(due, record.Transaction)
			}
		}
		return nil
	})
	return due, err
}

func (s *BoltStore) RemoveUnresolvableTransactionsLaterThan(number *uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteKeysAbove(tx.Bucket(bucketUnresolvable), number)
	})
}

// --- OperationStore ---

func (s *BoltStore) PutOperations(ops []types.AnchoredOperation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		for _, op := range ops {
			data, err := json.Marshal(op)
			if err != nil {
				return err
			}
			if err := b.Put(operationKey(op), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetOperations(didSuffix string) ([]types.AnchoredOperation, error) {
	var ops []types.AnchoredOperation
	prefix := append([]byte(didSuffix), '|')
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOperations).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var op types.AnchoredOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	return ops, err
}

func (s *BoltStore) DeleteOperationsLaterThan(number *uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var op types.AnchoredOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if number == nil || op.TransactionNumber > *number {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteUpdatesEarlierThan(didSuffix string, number uint64) error {
	prefix := append([]byte(didSuffix), '|')
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var op types.AnchoredOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if op.Type == types.OperationTypeUpdate && op.TransactionNumber < number {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- BlockMetadataStore ---

func (s *BoltStore) Add(blocks []types.BlockMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		for _, block := range blocks {
			data, err := json.Marshal(block)
			if err != nil {
				return err
			}
			if err := b.Put(uint64Key(block.Height), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Get(fromInclusive, toExclusive uint64) ([]types.BlockMetadata, error) {
	var blocks []types.BlockMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, v := c.Seek(uint64Key(fromInclusive)); k != nil; k, v = c.Next() {
			if binary.BigEndian.Uint64(k) >= toExclusive {
				break
			}
			var block types.BlockMetadata
			if err := json.Unmarshal(v, &block); err != nil {
				return err
			}
			blocks = append(blocks, block)
		}
		return nil
	})
	return blocks, err
}

func (s *BoltStore) GetLast() (*types.BlockMetadata, error) {
	var block *types.BlockMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketBlocks).Cursor().Last()
		if v == nil {
			return nil
		}
		block = &types.BlockMetadata{}
		return json.Unmarshal(v, block)
	})
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, ErrNotFound
	}
	return block, nil
}

func (s *BoltStore) LookBackExponentially() ([]types.BlockMetadata, error) {
	var all []types.BlockMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, v []byte) error {
			var block types.BlockMetadata
			if err := json.Unmarshal(v, &block); err != nil {
				return err
			}
			all = append(all, block)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var sampled []types.BlockMetadata
	offset := 0
	step := 2
	for {
		pos := len(all) - 1 - offset
		if pos < 0 {
			break
		}
		sampled = append(sampled, all[pos])
		offset += step
		step *= 2
	}
	return sampled, nil
}

func (s *BoltStore) RemoveLaterThan(height *uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteKeysAbove(tx.Bucket(bucketBlocks), height)
	})
}

// --- ServiceStateStore ---

func (s *BoltStore) PutServiceState(state types.ServiceState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketServiceState).Put(keyServiceState, data)
	})
}

func (s *BoltStore) GetServiceState() (*types.ServiceState, error) {
	var state *types.ServiceState
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketServiceState).Get(keyServiceState)
		if v == nil {
			return nil
		}
		state = &types.ServiceState{}
		return json.Unmarshal(v, state)
	})
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNotFound
	}
	return state, nil
}

// --- OperationQueue ---

func (s *BoltStore) Enqueue(op types.QueuedOperation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketQueueIndex)
		if index.Get([]byte(op.DidSuffix)) != nil {
			return ErrSuffixAlreadyQueued
		}

		queue := tx.Bucket(bucketQueue)
		seq, err := queue.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		if err := queue.Put(uint64Key(seq), data); err != nil {
			return err
		}
		return index.Put([]byte(op.DidSuffix), uint64Key(seq))
	})
}

func (s *BoltStore) Peek(max int) ([]types.QueuedOperation, error) {
	var ops []types.QueuedOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if max > 0 && len(ops) >= max {
				break
			}
			var op types.QueuedOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	return ops, err
}

func (s *BoltStore) Dequeue(max int) ([]types.QueuedOperation, error) {
	var ops []types.QueuedOperation
	err := s.db.Update(func(tx *bolt.Tx) error {
		queue := tx.Bucket(bucketQueue)
		index := tx.Bucket(bucketQueueIndex)
		c := queue.Cursor()

		var keys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if max > 0 && len(ops) >= max {
				break
			}
			var op types.QueuedOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, op)
			keys = append(keys, append([]byte(nil), k...))
		}

		for i, k := range keys {
			if err := queue.Delete(k); err != nil {
				return err
			}
			if err := index.Delete([]byte(ops[i].DidSuffix)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *BoltStore) Len() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketQueue).Stats().KeyN
		return nil
	})
	return count, err
}
