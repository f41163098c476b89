package v1

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/did"
	"github.com/cuemby/anchor/pkg/download"
	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/models"
	"github.com/cuemby/anchor/pkg/types"
	"github.com/cuemby/anchor/pkg/versions"
)

// fakeCas serves prepared objects by hash
type fakeCas struct {
	objects     map[string][]byte
	unreachable bool
}

func (c *fakeCas) Read(ctx context.Context, hash string, maxBytes int64) types.FetchResult {
	if c.unreachable {
		return types.FetchResult{Code: types.FetchCasNotReachable}
	}
	content, ok := c.objects[hash]
	if !ok {
		return types.FetchResult{Code: types.FetchNotFound}
	}
	if int64(len(content)) > maxBytes {
		return types.FetchResult{Code: types.FetchMaxSizeExceeded}
	}
	return types.FetchResult{Code: types.FetchSuccess, Content: content}
}

func (c *fakeCas) Write(ctx context.Context, content []byte) (string, error) {
	hash, err := hashing.HashThenEncode(content, hashing.SHA256Code)
	if err != nil {
		return "", err
	}
	c.objects[hash] = content
	return hash, nil
}

// memOpStore is an in-memory OperationStore
type memOpStore struct {
	ops []types.AnchoredOperation
}

func (m *memOpStore) PutOperations(ops []types.AnchoredOperation) error {
	m.ops = append(m.ops, ops...)
	return nil
}

func (m *memOpStore) GetOperations(didSuffix string) ([]types.AnchoredOperation, error) {
	return nil, nil
}

func (m *memOpStore) DeleteOperationsLaterThan(number *uint64) error { return nil }

func (m *memOpStore) DeleteUpdatesEarlierThan(didSuffix string, number uint64) error { return nil }

func testMetadata() *Metadata {
	return NewMetadata(versions.ProtocolConfig{
		MaxOperationsPerBatch:    100,
		MaxTransactionsPerHeight: 100,
		MaxOperationsPerHeight:   1000,
	})
}

// storeBatch uploads a batch to the fake CAS and returns the anchor string
func storeBatch(t *testing.T, cas *fakeCas, coreIndex models.CoreIndexFile, chunk *models.ChunkFile) string {
	t.Helper()

	if chunk != nil {
		chunkBytes, err := models.MarshalFile(chunk)
		require.NoError(t, err)
		chunkHash, err := cas.Write(context.Background(), chunkBytes)
		require.NoError(t, err)
		coreIndex.ChunkFileHash = chunkHash
	}

	coreBytes, err := models.MarshalFile(&coreIndex)
	require.NoError(t, err)
	coreHash, err := cas.Write(context.Background(), coreBytes)
	require.NoError(t, err)

	anchor := models.AnchorString{
		NumberOfOperations: coreIndex.OperationCount(),
		CoreIndexFileHash:  coreHash,
	}
	return anchor.Serialize()
}

func newProcessor(cas *fakeCas, ops *memOpStore) *TransactionProcessor {
	downloads := download.NewManager(cas, 2)
	return NewTransactionProcessor(downloads, ops, testMetadata())
}

func TestProcessPersistsOperationsOfValidBatch(t *testing.T) {
	cas := &fakeCas{objects: make(map[string][]byte)}
	ops := &memOpStore{}

	delta := models.Delta{UpdateCommitment: "uEiNextUpdate"}
	coreIndex := models.CoreIndexFile{
		Operations: models.CoreOperations{
			Create: []models.CreateReference{{
				SuffixData: models.SuffixData{DeltaHash: "uEiDeltaHash", RecoveryCommitment: "uEiRecovery"},
			}},
			Deactivate: []models.OperationReference{{
				DidSuffix:   "uEiTargetSuffix",
				RevealValue: "reveal",
			}},
		},
	}
	anchorString := storeBatch(t, cas, coreIndex, &models.ChunkFile{Deltas: []models.Delta{delta}})

	txn := types.Transaction{
		TransactionNumber: 7,
		TransactionTime:   100,
		AnchorString:      anchorString,
	}

	ok, err := newProcessor(cas, ops).Process(context.Background(), txn)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, ops.ops, 2)
	create, deactivate := ops.ops[0], ops.ops[1]

	assert.Equal(t, types.OperationTypeCreate, create.Type)
	assert.Equal(t, 0, create.OperationIndex)
	assert.Equal(t, uint64(7), create.TransactionNumber)
	assert.Equal(t, uint64(100), create.TransactionTime)

	assert.Equal(t, types.OperationTypeDeactivate, deactivate.Type)
	assert.Equal(t, 1, deactivate.OperationIndex)
	assert.Equal(t, "uEiTargetSuffix", deactivate.DidSuffix)

	// Buffers round-trip through the operation parser
	req, err := did.ParseOperationRequest(create.OperationBuffer)
	require.NoError(t, err)
	assert.Equal(t, "uEiRecovery", req.SuffixData.RecoveryCommitment)
}

func TestProcessDiscardsMalformedAnchorString(t *testing.T) {
	ok, err := newProcessor(&fakeCas{objects: map[string][]byte{}}, &memOpStore{}).
		Process(context.Background(), types.Transaction{AnchorString: "garbage"})
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestProcessDiscardsOversizedBatchDeclaration(t *testing.T) {
	ok, err := newProcessor(&fakeCas{objects: map[string][]byte{}}, &memOpStore{}).
		Process(context.Background(), types.Transaction{AnchorString: "101.uEiCore"})
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestProcessDiscardsUnderpaidTransaction(t *testing.T) {
	ok, err := newProcessor(&fakeCas{objects: map[string][]byte{}}, &memOpStore{}).
		Process(context.Background(), types.Transaction{
			AnchorString:             "10.uEiCore",
			TransactionFeePaid:       5,
			NormalizedTransactionFee: 100,
		})
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestProcessRetriesWhenCasUnreachable(t *testing.T) {
	cas := &fakeCas{objects: make(map[string][]byte), unreachable: true}

	ok, err := newProcessor(cas, &memOpStore{}).
		Process(context.Background(), types.Transaction{AnchorString: "1.uEiCore"})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestProcessDiscardsMissingCoreIndexFile(t *testing.T) {
	cas := &fakeCas{objects: make(map[string][]byte)}

	ok, err := newProcessor(cas, &memOpStore{}).
		Process(context.Background(), types.Transaction{AnchorString: "1.uEiMissing"})
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestProcessDiscardsOperationCountMismatch(t *testing.T) {
	cas := &fakeCas{objects: make(map[string][]byte)}
	coreIndex := models.CoreIndexFile{
		Operations: models.CoreOperations{
			Deactivate: []models.OperationReference{{DidSuffix: "uEiS", RevealValue: "r"}},
		},
	}
	anchorString := storeBatch(t, cas, coreIndex, nil)
	// Tamper with the declared count
	anchor, err := models.ParseAnchorString(anchorString)
	require.NoError(t, err)
	anchor.NumberOfOperations = 3

	ok, err := newProcessor(cas, &memOpStore{}).
		Process(context.Background(), types.Transaction{AnchorString: anchor.Serialize()})
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestProcessDiscardsDuplicateSuffixInBatch(t *testing.T) {
	cas := &fakeCas{objects: make(map[string][]byte)}
	coreIndex := models.CoreIndexFile{
		Operations: models.CoreOperations{
			Deactivate: []models.OperationReference{
				{DidSuffix: "uEiSame", RevealValue: "r1"},
				{DidSuffix: "uEiSame", RevealValue: "r2"},
			},
		},
	}
	anchorString := storeBatch(t, cas, coreIndex, nil)

	ok, err := newProcessor(cas, &memOpStore{}).
		Process(context.Background(), types.Transaction{AnchorString: anchorString})
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestProcessDiscardsMalformedCoreIndexFile(t *testing.T) {
	cas := &fakeCas{objects: make(map[string][]byte)}
	hash, err := cas.Write(context.Background(), []byte("not gzip json"))
	require.NoError(t, err)

	ok, err := newProcessor(cas, &memOpStore{}).
		Process(context.Background(), types.Transaction{AnchorString: "1." + hash})
	assert.True(t, ok)
	assert.Error(t, err)
}
