package fee

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// memBlocks is an in-memory BlockMetadataStore
type memBlocks struct {
	blocks   map[uint64]types.BlockMetadata
	getCalls int
}

func newMemBlocks() *memBlocks {
	return &memBlocks{blocks: make(map[uint64]types.BlockMetadata)}
}

func (m *memBlocks) Add(blocks []types.BlockMetadata) error {
	for _, b := range blocks {
		m.blocks[b.Height] = b
	}
	return nil
}

func (m *memBlocks) Get(from, to uint64) ([]types.BlockMetadata, error) {
	m.getCalls++
	var result []types.BlockMetadata
	for h, b := range m.blocks {
		if h >= from && h < to {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Height < result[j].Height })
	return result, nil
}

func (m *memBlocks) GetLast() (*types.BlockMetadata, error) {
	var last *types.BlockMetadata
	for h := range m.blocks {
		b := m.blocks[h]
		if last == nil || b.Height > last.Height {
			last = &b
		}
	}
	if last == nil {
		return nil, store.ErrNotFound
	}
	return last, nil
}

func (m *memBlocks) LookBackExponentially() ([]types.BlockMetadata, error) { return nil, nil }

func (m *memBlocks) RemoveLaterThan(height *uint64) error {
	for h := range m.blocks {
		if height == nil || h > *height {
			delete(m.blocks, h)
		}
	}
	return nil
}

func TestNormalizedFeeBeforeGenesis(t *testing.T) {
	calc := NewCalculator(newMemBlocks(), 100, 3, 500, 0.1)

	fee, err := calc.NormalizedFee(99)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fee)
}

func TestNormalizedFeeWithinInitialWindow(t *testing.T) {
	calc := NewCalculator(newMemBlocks(), 100, 3, 500, 0.1)

	for _, height := range []uint64{100, 101, 102} {
		fee, err := calc.NormalizedFee(height)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), fee)
	}
}

func TestNormalizedFeeClampsUpwardFluctuation(t *testing.T) {
	blocks := newMemBlocks()
	require.NoError(t, blocks.Add([]types.BlockMetadata{
		{Height: 98, TotalFee: 2_000_000, TransactionCount: 2, NormalizedFee: 1_000_000},
		{Height: 99, TotalFee: 1_000_000, TransactionCount: 1, NormalizedFee: 1_000_000},
		{Height: 100, TotalFee: 10_000_000, TransactionCount: 2, NormalizedFee: 1_000_000},
	}))

	calc := NewCalculator(blocks, 1, 3, 1, 0.000002)

	// Average fee-per-transaction is 2,600,000, far above the allowed
	// drift; the result clamps at floor(previous * (1 + delta))
	fee, err := calc.NormalizedFee(101)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_002), fee)
}

func TestNormalizedFeeClampsDownwardFluctuation(t *testing.T) {
	blocks := newMemBlocks()
	require.NoError(t, blocks.Add([]types.BlockMetadata{
		{Height: 98, TotalFee: 10, TransactionCount: 10, NormalizedFee: 1_000_000},
		{Height: 99, TotalFee: 10, TransactionCount: 10, NormalizedFee: 1_000_000},
		{Height: 100, TotalFee: 10, TransactionCount: 10, NormalizedFee: 1_000_000},
	}))

	calc := NewCalculator(blocks, 1, 3, 1, 0.000002)

	fee, err := calc.NormalizedFee(101)
	require.NoError(t, err)
	assert.Equal(t, uint64(999_998), fee)
}

func TestNormalizedFeeUnadjustedWithinBounds(t *testing.T) {
	blocks := newMemBlocks()
	require.NoError(t, blocks.Add([]types.BlockMetadata{
		{Height: 98, TotalFee: 3000, TransactionCount: 3, NormalizedFee: 1000},
		{Height: 99, TotalFee: 2000, TransactionCount: 2, NormalizedFee: 1000},
		{Height: 100, TotalFee: 1050, TransactionCount: 1, NormalizedFee: 1000},
	}))

	calc := NewCalculator(blocks, 1, 3, 1, 0.1)

	// (3000+2000+1050)/6 = 1008, within [900, 1100]
	fee, err := calc.NormalizedFee(101)
	require.NoError(t, err)
	assert.Equal(t, uint64(1008), fee)
}

func TestNormalizedFeeIncompleteWindowFails(t *testing.T) {
	blocks := newMemBlocks()
	require.NoError(t, blocks.Add([]types.BlockMetadata{
		{Height: 99, TotalFee: 100, TransactionCount: 1, NormalizedFee: 100},
	}))

	calc := NewCalculator(blocks, 1, 3, 1, 0.1)

	_, err := calc.NormalizedFee(101)
	assert.Error(t, err)
}

func TestNormalizedFeeWindowCache(t *testing.T) {
	blocks := newMemBlocks()
	require.NoError(t, blocks.Add([]types.BlockMetadata{
		{Height: 98, TotalFee: 1000, TransactionCount: 1, NormalizedFee: 1000},
		{Height: 99, TotalFee: 1000, TransactionCount: 1, NormalizedFee: 1000},
		{Height: 100, TotalFee: 1000, TransactionCount: 1, NormalizedFee: 1000},
		{Height: 101, TotalFee: 1000, TransactionCount: 1, NormalizedFee: 1000},
	}))

	calc := NewCalculator(blocks, 1, 3, 1, 0.1)

	_, err := calc.NormalizedFee(101)
	require.NoError(t, err)

	// The shifted window is cached for height 102; dropping the old blocks
	// from the store must not matter
	for _, h := range []uint64{98, 99, 100} {
		delete(blocks.blocks, h)
	}
	fee, err := calc.NormalizedFee(102)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), fee)

	// A non-consecutive request misses the cache and needs the store again
	_, err = calc.NormalizedFee(104)
	assert.Error(t, err)
}
