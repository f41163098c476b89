package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/types"
)

// reorgErrorCode is the error code the ledger adapter returns when the read
// cursor is no longer on the canonical chain
const reorgErrorCode = "invalid_transaction_number_or_time_hash"

const defaultRequestTimeout = 10 * time.Second

// HTTPClient talks to a ledger adapter service over its REST interface.
// Calls retry on timeout with a doubling per-attempt timeout, bounded by
// maxRetries; non-timeout errors propagate immediately.
type HTTPClient struct {
	endpoint       string
	httpClient     *http.Client
	requestTimeout time.Duration
	maxRetries     int
	logger         zerolog.Logger
}

// NewHTTPClient creates a ledger client for the given adapter endpoint
func NewHTTPClient(endpoint string, maxRetries int) *HTTPClient {
	return &HTTPClient{
		endpoint:       strings.TrimRight(endpoint, "/"),
		httpClient:     &http.Client{},
		requestTimeout: defaultRequestTimeout,
		maxRetries:     maxRetries,
		logger:         log.WithComponent("ledger"),
	}
}

type adapterError struct {
	Code string `json:"code"`
}

// do performs one request with retry. The per-attempt timeout doubles on
// each retry; waits between attempts follow exponential backoff.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	bo := backoff.NewExponentialBackOff()

	var err error
	for attempt := 0; ; attempt++ {
		timeout := c.requestTimeout << uint(attempt)
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err = c.attempt(attemptCtx, method, path, body, out)
		cancel()

		if err == nil {
			return nil
		}
		if !isTimeout(err) || attempt >= c.maxRetries {
			return err
		}

		wait := bo.NextBackOff()
		c.logger.Warn().Err(err).Str("path", path).Dur("wait", wait).Msg("Ledger request timed out, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *HTTPClient) attempt(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("ledger adapter: %w", errNoContent)
	case resp.StatusCode == http.StatusBadRequest:
		var ae adapterError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&ae); decodeErr == nil && ae.Code == reorgErrorCode {
			return ErrInvalidTransactionNumberOrTimeHash
		}
		return fmt.Errorf("ledger adapter rejected request to %s", path)
	default:
		return fmt.Errorf("ledger adapter returned status %d for %s", resp.StatusCode, path)
	}
}

// errNoContent marks a 404 from the adapter; callers that expect optional
// results translate it
var errNoContent = errors.New("no content")

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Read returns transactions in ledger order strictly after the cursor
func (c *HTTPClient) Read(ctx context.Context, sinceTransactionNumber *uint64, transactionTimeHash string) (*ReadResult, error) {
	path := "/transactions"
	if sinceTransactionNumber != nil {
		path = fmt.Sprintf("/transactions?since=%d&transaction-time-hash=%s", *sinceTransactionNumber, transactionTimeHash)
	}

	var result ReadResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Write anchors an anchor string on the ledger with the given fee
func (c *HTTPClient) Write(ctx context.Context, anchorString string, fee uint64) error {
	body := map[string]interface{}{
		"anchorString": anchorString,
		"fee":          fee,
	}
	return c.do(ctx, http.MethodPost, "/transactions", body, nil)
}

// GetFirstValidTransaction returns the newest of the given transactions
// still on the canonical chain, or nil when none are
func (c *HTTPClient) GetFirstValidTransaction(ctx context.Context, transactions []types.Transaction) (*types.Transaction, error) {
	body := map[string]interface{}{
		"transactions": transactions,
	}
	var result types.Transaction
	err := c.do(ctx, http.MethodPost, "/transactions/first-valid", body, &result)
	if errors.Is(err, errNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLatestTime returns the approximate current ledger time
func (c *HTTPClient) GetLatestTime(ctx context.Context) (*BlockTime, error) {
	var result BlockTime
	if err := c.do(ctx, http.MethodGet, "/time", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFee returns the normalized fee for the given ledger height
func (c *HTTPClient) GetFee(ctx context.Context, height uint64) (uint64, error) {
	var result struct {
		NormalizedTransactionFee uint64 `json:"normalizedTransactionFee"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/fee/%d", height), nil, &result); err != nil {
		return 0, err
	}
	return result.NormalizedTransactionFee, nil
}
