package download

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/cas"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/metrics"
	"github.com/cuemby/anchor/pkg/types"
)

// Manager schedules CAS downloads with bounded concurrency. Callers block
// until a slot frees up, so the observer can dispatch one download per
// in-flight transaction without overrunning the gateway.
type Manager struct {
	cas      cas.Client
	slots    chan struct{}
	inFlight atomic.Int64
	logger   zerolog.Logger
}

// NewManager creates a download manager allowing maxConcurrent parallel
// fetches
func NewManager(casClient cas.Client, maxConcurrent int) *Manager {
	return &Manager{
		cas:    casClient,
		slots:  make(chan struct{}, maxConcurrent),
		logger: log.WithComponent("download"),
	}
}

// Download fetches content by hash once a concurrency slot is available.
// Cancellation while waiting reports the CAS as unreachable, which the
// caller treats as transient.
func (m *Manager) Download(ctx context.Context, hash string, maxBytes int64) types.FetchResult {
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return types.FetchResult{Code: types.FetchCasNotReachable}
	}
	defer func() {
		<-m.slots
		m.inFlight.Add(-1)
		metrics.CasDownloadsInFlight.Dec()
	}()
	m.inFlight.Add(1)
	metrics.CasDownloadsInFlight.Inc()

	timer := metrics.NewTimer()
	result := m.cas.Read(ctx, hash, maxBytes)
	timer.ObserveDuration(metrics.CasDownloadDuration)
	metrics.CasDownloadsTotal.WithLabelValues(string(result.Code)).Inc()

	m.logger.Debug().
		Str("hash", hash).
		Str("code", string(result.Code)).
		Msg("CAS download finished")
	return result
}

// InFlight returns the number of downloads currently holding a slot
func (m *Manager) InFlight() int {
	return int(m.inFlight.Load())
}
