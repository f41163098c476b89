package fee

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// Calculator computes the normalized fee for a ledger height as a moving
// average over the look-back window, with per-height drift bounded by the
// fluctuation multiplier.
type Calculator struct {
	blocks         store.BlockMetadataStore
	genesisHeight  uint64
	lookBack       uint64
	initialFee     uint64
	maxFluctuation float64

	// Cache of the look-back window for the next expected height. Valid iff
	// the requested height equals cachedWindowHeight and the window is full.
	mu                 sync.Mutex
	cachedWindow       []types.BlockMetadata
	cachedWindowHeight uint64

	logger zerolog.Logger
}

// NewCalculator creates a normalized fee calculator
func NewCalculator(blocks store.BlockMetadataStore, genesisHeight, lookBack, initialFee uint64, maxFluctuation float64) *Calculator {
	return &Calculator{
		blocks:         blocks,
		genesisHeight:  genesisHeight,
		lookBack:       lookBack,
		initialFee:     initialFee,
		maxFluctuation: maxFluctuation,
		logger:         log.WithComponent("fee"),
	}
}

// NormalizedFee returns the normalized fee for the given height. Heights
// before genesis have fee 0; heights within the first look-back window use
// the configured initial fee.
func (c *Calculator) NormalizedFee(height uint64) (uint64, error) {
	if height < c.genesisHeight {
		return 0, nil
	}
	if height < c.genesisHeight+c.lookBack {
		return c.initialFee, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	window, err := c.lookBackWindow(height)
	if err != nil {
		return 0, err
	}

	fee := calculateNormalizedFee(window, c.maxFluctuation)
	c.advanceCache(window, height)
	return fee, nil
}

// lookBackWindow returns the blocks with heights in [height-lookBack,
// height), from the cache when valid, otherwise from the store
func (c *Calculator) lookBackWindow(height uint64) ([]types.BlockMetadata, error) {
	if height == c.cachedWindowHeight && uint64(len(c.cachedWindow)) == c.lookBack {
		return c.cachedWindow, nil
	}

	c.logger.Debug().Uint64("height", height).Msg("Fee window cache miss, refetching")
	window, err := c.blocks.Get(height-c.lookBack, height)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch look-back window: %w", err)
	}
	if uint64(len(window)) != c.lookBack {
		return nil, fmt.Errorf("look-back window for height %d is incomplete: have %d of %d blocks",
			height, len(window), c.lookBack)
	}
	return window, nil
}

// advanceCache shifts the window forward so the next call for height+1 hits
// the cache. The block at the requested height may not be persisted yet; in
// that case the cache is invalidated instead.
func (c *Calculator) advanceCache(window []types.BlockMetadata, height uint64) {
	next, err := c.blocks.Get(height, height+1)
	if err != nil || len(next) != 1 {
		c.cachedWindow = nil
		c.cachedWindowHeight = 0
		return
	}
	shifted := make([]types.BlockMetadata, 0, c.lookBack)
	shifted = append(shifted, window[1:]...)
	shifted = append(shifted, next[0])
	c.cachedWindow = shifted
	c.cachedWindowHeight = height + 1
}

// calculateNormalizedFee averages fee-per-transaction over the window and
// clamps the result to the allowed fluctuation around the last block's
// normalized fee
func calculateNormalizedFee(window []types.BlockMetadata, maxFluctuation float64) uint64 {
	var totalFee, totalCount uint64
	for _, block := range window {
		totalFee += block.TotalFee
		totalCount += block.TransactionCount
	}

	var unadjusted uint64
	if totalCount > 0 {
		unadjusted = totalFee / totalCount
	}

	previous := window[len(window)-1].NormalizedFee
	lower := uint64(math.Floor(float64(previous) * (1 - maxFluctuation)))
	upper := uint64(math.Floor(float64(previous) * (1 + maxFluctuation)))

	if unadjusted < lower {
		return lower
	}
	if unadjusted > upper {
		return upper
	}
	return unadjusted
}
