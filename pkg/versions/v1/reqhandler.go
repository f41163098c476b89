package v1

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/did"
	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/metrics"
	"github.com/cuemby/anchor/pkg/store"
	"github.com/cuemby/anchor/pkg/types"
	"github.com/cuemby/anchor/pkg/versions"
)

// RequestHandler serves the user-facing surface of protocol version 1:
// operation submission and DID resolution.
type RequestHandler struct {
	queue      store.OperationQueue
	resolver   versions.Resolver
	methodName string
	hashCode   uint64
	logger     zerolog.Logger
}

// NewRequestHandler creates the version-1 request handler
func NewRequestHandler(queue store.OperationQueue, resolver versions.Resolver, methodName string, metadata *Metadata) *RequestHandler {
	return &RequestHandler{
		queue:      queue,
		resolver:   resolver,
		methodName: methodName,
		hashCode:   metadata.HashAlgorithmCode(),
		logger:     log.WithComponent("reqhandler"),
	}
}

// errorBody is the JSON error shape returned to clients
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// operationResponse is returned on accepted operation requests
type operationResponse struct {
	Did       string `json:"did"`
	DidSuffix string `json:"didSuffix"`
}

// resolutionResult is the body of a successful resolution
type resolutionResult struct {
	DidDocument         *types.Document     `json:"didDocument"`
	DidDocumentMetadata documentMetadata    `json:"didDocumentMetadata"`
}

type documentMetadata struct {
	Deactivated        bool   `json:"deactivated"`
	RecoveryCommitment string `json:"recoveryCommitment,omitempty"`
	UpdateCommitment   string `json:"updateCommitment,omitempty"`
}

// HandleOperationRequest validates an operation request and enqueues it for
// batching
func (h *RequestHandler) HandleOperationRequest(ctx context.Context, request []byte) *versions.Response {
	if len(request) > maxOperationSizeBytes {
		return &versions.Response{
			Status: versions.ResponseBadRequest,
			Body:   errorBody{Code: "operation_too_large", Message: "operation exceeds the maximum size"},
		}
	}

	req, err := did.ParseOperationRequest(request)
	if err != nil {
		return &versions.Response{
			Status: versions.ResponseBadRequest,
			Body:   errorBody{Code: "invalid_operation", Message: err.Error()},
		}
	}

	suffix, err := req.TargetSuffix(h.hashCode)
	if err != nil {
		return &versions.Response{
			Status: versions.ResponseBadRequest,
			Body:   errorBody{Code: "invalid_operation", Message: err.Error()},
		}
	}

	err = h.queue.Enqueue(types.QueuedOperation{
		ID:              uuid.New().String(),
		DidSuffix:       suffix,
		OperationBuffer: request,
		EnqueuedAt:      time.Now(),
	})
	if errors.Is(err, store.ErrSuffixAlreadyQueued) {
		return &versions.Response{
			Status: versions.ResponseBadRequest,
			Body:   errorBody{Code: "queueing_multiple_operations_per_did_not_allowed", Message: err.Error()},
		}
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to enqueue operation")
		return &versions.Response{Status: versions.ResponseServerError}
	}

	metrics.OperationsQueuedTotal.Inc()
	h.logger.Info().
		Str("did_suffix", suffix).
		Str("type", string(req.Type)).
		Msg("Queued operation")
	return &versions.Response{
		Status: versions.ResponseSucceeded,
		Body: operationResponse{
			Did:       did.ShortFormDID(h.methodName, suffix),
			DidSuffix: suffix,
		},
	}
}

// HandleResolveRequest resolves a DID given in short form, with or without
// the method prefix
func (h *RequestHandler) HandleResolveRequest(ctx context.Context, didString string) *versions.Response {
	suffix := didString
	if prefix := "did:" + h.methodName + ":"; strings.HasPrefix(didString, prefix) {
		suffix = strings.TrimPrefix(didString, prefix)
	}
	if _, err := hashing.Decode(suffix); err != nil {
		return &versions.Response{
			Status: versions.ResponseBadRequest,
			Body:   errorBody{Code: "did_invalid", Message: "DID suffix is not a valid multihash"},
		}
	}

	timer := metrics.NewTimer()
	state, err := h.resolver.Resolve(suffix)
	timer.ObserveDuration(metrics.ResolutionDuration)
	if err != nil {
		h.logger.Error().Err(err).Str("did_suffix", suffix).Msg("Resolution failed")
		metrics.ResolutionsTotal.WithLabelValues("error").Inc()
		return &versions.Response{Status: versions.ResponseServerError}
	}
	if state == nil {
		metrics.ResolutionsTotal.WithLabelValues("not_found").Inc()
		return &versions.Response{Status: versions.ResponseNotFound}
	}

	body := resolutionResult{
		DidDocument: state.Document,
		DidDocumentMetadata: documentMetadata{
			Deactivated:        state.Deactivated(),
			RecoveryCommitment: state.NextRecoveryCommitmentHash,
			UpdateCommitment:   state.NextUpdateCommitmentHash,
		},
	}
	if state.Deactivated() {
		metrics.ResolutionsTotal.WithLabelValues("deactivated").Inc()
		return &versions.Response{Status: versions.ResponseDeactivated, Body: body}
	}
	metrics.ResolutionsTotal.WithLabelValues("found").Inc()
	return &versions.Response{Status: versions.ResponseSucceeded, Body: body}
}
