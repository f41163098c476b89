package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/health"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/metrics"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/versions"
)

const maxRequestBodyBytes = 1 << 20

// Server is the node's HTTP request surface: DID resolution, operation
// submission, version and health.
type Server struct {
	dispatcher    *versions.Dispatcher
	serviceState  store.ServiceStateStore
	genesisHeight uint64
	version       string

	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the API server
func NewServer(addr string, dispatcher *versions.Dispatcher, serviceState store.ServiceStateStore,
	healthRegistry *health.Registry, genesisHeight uint64, version string) *Server {
	s := &Server{
		dispatcher:    dispatcher,
		serviceState:  serviceState,
		genesisHeight: genesisHeight,
		version:       version,
		logger:        log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /identifiers/{did}", s.handleResolve)
	mux.HandleFunc("POST /operations", s.handleOperation)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /healthz", healthRegistry.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// currentHeight is the ledger height requests are served at: the last
// observed height, floored at genesis so the node answers before it has
// observed anything
func (s *Server) currentHeight() uint64 {
	state, err := s.serviceState.GetServiceState()
	if err != nil || state.LastObservedLedgerHeight < s.genesisHeight {
		return s.genesisHeight
	}
	return state.LastObservedLedgerHeight
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	handler, err := s.dispatcher.RequestHandlerAt(s.currentHeight())
	if err != nil {
		s.writeResponse(w, "resolve", &versions.Response{Status: versions.ResponseServerError})
		return
	}
	resp := handler.HandleResolveRequest(r.Context(), r.PathValue("did"))
	s.writeResponse(w, "resolve", resp)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		s.writeResponse(w, "operations", &versions.Response{Status: versions.ResponseBadRequest})
		return
	}

	handler, err := s.dispatcher.RequestHandlerAt(s.currentHeight())
	if err != nil {
		s.writeResponse(w, "operations", &versions.Response{Status: versions.ResponseServerError})
		return
	}
	resp := handler.HandleOperationRequest(r.Context(), body)
	s.writeResponse(w, "operations", resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	height := s.currentHeight()
	protocolVersion := ""
	if metadata, err := s.dispatcher.VersionMetadataAt(height); err == nil {
		protocolVersion = metadata.Version()
	}

	body := map[string]interface{}{
		"service":                  s.version,
		"protocolVersion":          protocolVersion,
		"lastObservedLedgerHeight": height,
	}
	s.writeResponse(w, "version", &versions.Response{Status: versions.ResponseSucceeded, Body: body})
}

// writeResponse maps a handler response onto HTTP. Internal errors surface
// as a generic server error with no detail.
func (s *Server) writeResponse(w http.ResponseWriter, route string, resp *versions.Response) {
	status := http.StatusOK
	switch resp.Status {
	case versions.ResponseSucceeded:
		status = http.StatusOK
	case versions.ResponseBadRequest:
		status = http.StatusBadRequest
	case versions.ResponseNotFound:
		status = http.StatusNotFound
	case versions.ResponseDeactivated:
		status = http.StatusGone
	case versions.ResponseServerError:
		status = http.StatusInternalServerError
	}
	metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if resp.Body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(resp.Body); err != nil {
		s.logger.Error().Err(err).Str("route", route).Msg("Failed to encode response")
	}
}
