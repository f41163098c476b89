package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/types"
)

// HTTPClient talks to a CAS gateway over its REST interface
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	logger     zerolog.Logger
}

// NewHTTPClient creates a CAS client for the given gateway endpoint
func NewHTTPClient(endpoint string, maxRetries int) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: maxRetries,
		logger:     log.WithComponent("cas"),
	}
}

// Read fetches content by hash. Expected failures are classified into fetch
// result codes; the v1 transaction processor turns CasNotReachable into a
// retryable condition and the rest into permanent ones.
func (c *HTTPClient) Read(ctx context.Context, hash string, maxBytes int64) types.FetchResult {
	if _, err := hashing.Decode(hash); err != nil {
		return types.FetchResult{Code: types.FetchInvalidHash}
	}

	url := fmt.Sprintf("%s/%s?max-size=%d", c.endpoint, hash, maxBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.FetchResult{Code: types.FetchCasNotReachable}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("hash", hash).Msg("CAS unreachable")
		return types.FetchResult{Code: types.FetchCasNotReachable}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Fall through to body handling
	case http.StatusNotFound:
		return types.FetchResult{Code: types.FetchNotFound}
	case http.StatusBadRequest:
		return types.FetchResult{Code: types.FetchInvalidHash}
	case http.StatusRequestEntityTooLarge:
		return types.FetchResult{Code: types.FetchMaxSizeExceeded}
	default:
		c.logger.Warn().Int("status", resp.StatusCode).Str("hash", hash).Msg("Unexpected CAS response")
		return types.FetchResult{Code: types.FetchCasNotReachable}
	}

	// The gateway is not trusted to enforce the size bound
	content, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return types.FetchResult{Code: types.FetchCasNotReachable}
	}
	if int64(len(content)) > maxBytes {
		return types.FetchResult{Code: types.FetchMaxSizeExceeded}
	}
	if !hashing.IsValidHash(content, hash) {
		return types.FetchResult{Code: types.FetchInvalidHash}
	}

	return types.FetchResult{Code: types.FetchSuccess, Content: content}
}

// Write stores content on the gateway and returns its hash, retrying
// transient failures with exponential backoff
func (c *HTTPClient) Write(ctx context.Context, content []byte) (string, error) {
	var hash string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(content))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Length", strconv.Itoa(len(content)))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("CAS write returned status %d: %s", resp.StatusCode, body)
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}

		var result struct {
			Hash string `json:"hash"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed CAS write response: %w", err))
		}
		hash = result.Hash
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("failed to write to CAS: %w", err)
	}

	c.logger.Debug().Str("hash", hash).Int("bytes", len(content)).Msg("Wrote content to CAS")
	return hash, nil
}
