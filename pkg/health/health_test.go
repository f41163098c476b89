package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
)

// memServiceState is a single-record ServiceStateStore
type memServiceState struct {
	state *types.ServiceState
}

func (m *memServiceState) PutServiceState(state types.ServiceState) error {
	m.state = &state
	return nil
}

func (m *memServiceState) GetServiceState() (*types.ServiceState, error) {
	if m.state == nil {
		return nil, store.ErrNotFound
	}
	return m.state, nil
}

func TestRegistrySnapshotAggregatesComponents(t *testing.T) {
	states := &memServiceState{}
	require.NoError(t, states.PutServiceState(types.ServiceState{LastObservedLedgerHeight: 667123}))

	registry := NewRegistry("1.2.3", states)
	registry.SetComponent("ledger", true, "")
	registry.SetComponent("cas", true, "")

	status := registry.Snapshot()
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, uint64(667123), status.LastObservedLedgerHeight)
	assert.Len(t, status.Components, 2)

	registry.SetComponent("cas", false, "gateway timeout")
	status = registry.Snapshot()
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "gateway timeout", status.Components["cas"].Message)
}

func TestRegistryHandlerStatusCodes(t *testing.T) {
	registry := NewRegistry("test", nil)
	registry.SetComponent("ledger", true, "")

	rec := httptest.NewRecorder()
	registry.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	registry.SetComponent("ledger", false, "connection refused")
	rec = httptest.NewRecorder()
	registry.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
}

func TestHTTPCheckerClassifiesStatuses(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	assert.NoError(t, NewHTTPChecker("up", healthy.URL, time.Second).Check(context.Background()))
	assert.Error(t, NewHTTPChecker("down", broken.URL, time.Second).Check(context.Background()))
	assert.Error(t, NewHTTPChecker("gone", "http://127.0.0.1:1", time.Second).Check(context.Background()))
}

func TestMonitorFeedsRegistry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	registry := NewRegistry("test", nil)
	monitor := NewMonitor(registry, []Checker{
		NewHTTPChecker("ledger", ts.URL, time.Second),
		NewHTTPChecker("cas", "http://127.0.0.1:1", time.Second),
	}, time.Hour)

	monitor.check()

	status := registry.Snapshot()
	assert.Equal(t, "unhealthy", status.Status)
	assert.True(t, status.Components["ledger"].Healthy)
	assert.False(t, status.Components["cas"].Healthy)
}
