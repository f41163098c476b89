package download

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/types"
)

// slowCas counts concurrent reads and blocks each one briefly
type slowCas struct {
	delay       time.Duration
	current     atomic.Int64
	peak        atomic.Int64
	totalReads  atomic.Int64
}

func (c *slowCas) Read(ctx context.Context, hash string, maxBytes int64) types.FetchResult {
	now := c.current.Add(1)
	defer c.current.Add(-1)
	for {
		peak := c.peak.Load()
		if now <= peak || c.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	c.totalReads.Add(1)
	time.Sleep(c.delay)
	return types.FetchResult{Code: types.FetchSuccess, Content: []byte(hash)}
}

func (c *slowCas) Write(ctx context.Context, content []byte) (string, error) { return "", nil }

func TestDownloadManagerBoundsConcurrency(t *testing.T) {
	cas := &slowCas{delay: 20 * time.Millisecond}
	m := NewManager(cas, 3)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := m.Download(context.Background(), "uEiHash", 1024)
			assert.Equal(t, types.FetchSuccess, result.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(12), cas.totalReads.Load())
	assert.LessOrEqual(t, cas.peak.Load(), int64(3))
	assert.Equal(t, 0, m.InFlight())
}

func TestDownloadCancelledWhileWaitingForSlot(t *testing.T) {
	cas := &slowCas{delay: 200 * time.Millisecond}
	m := NewManager(cas, 1)

	// Occupy the only slot
	go m.Download(context.Background(), "uEiFirst", 1024)
	require.Eventually(t, func() bool { return m.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := m.Download(ctx, "uEiSecond", 1024)
	assert.Equal(t, types.FetchCasNotReachable, result.Code)
}
