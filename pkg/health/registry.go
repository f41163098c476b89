package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/anchor/pkg/store"
)

// ComponentStatus is the last known state of one checked collaborator
type ComponentStatus struct {
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`
}

// Status is the health report served over the API. Besides collaborator
// checks it reports the node's anchoring progress: the last ledger height
// the observer has persisted state for.
type Status struct {
	Status                   string                     `json:"status"` // "healthy" or "unhealthy"
	Timestamp                time.Time                  `json:"timestamp"`
	Version                  string                     `json:"version,omitempty"`
	Uptime                   string                     `json:"uptime,omitempty"`
	LastObservedLedgerHeight uint64                     `json:"lastObservedLedgerHeight"`
	Components               map[string]ComponentStatus `json:"components,omitempty"`
}

// Registry aggregates component check results and the node's observed
// ledger progress into one health status
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus

	version   string
	startTime time.Time
	states    store.ServiceStateStore
}

// NewRegistry creates a health registry. The service state store supplies
// the last observed ledger height; it may be nil in tests.
func NewRegistry(version string, states store.ServiceStateStore) *Registry {
	return &Registry{
		components: make(map[string]ComponentStatus),
		version:    version,
		startTime:  time.Now(),
		states:     states,
	}
}

// SetComponent records the outcome of one component check
func (r *Registry) SetComponent(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = ComponentStatus{
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Snapshot assembles the current health status. The node is unhealthy iff
// any checked component is.
func (r *Registry) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := Status{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
		Components: make(map[string]ComponentStatus, len(r.components)),
	}
	for name, component := range r.components {
		status.Components[name] = component
		if !component.Healthy {
			status.Status = "unhealthy"
		}
	}

	if r.states != nil {
		if state, err := r.states.GetServiceState(); err == nil {
			status.LastObservedLedgerHeight = state.LastObservedLedgerHeight
		}
	}
	return status
}

// Handler serves the health status as JSON, with 503 when unhealthy
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := r.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
