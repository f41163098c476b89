package cas

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/types"
)

func TestReadClassifiesResponses(t *testing.T) {
	content := []byte("batch file content")
	hash, err := hashing.HashThenEncode(content, hashing.SHA256Code)
	require.NoError(t, err)

	tests := []struct {
		name     string
		status   int
		body     []byte
		wantCode types.FetchResultCode
	}{
		{name: "success", status: http.StatusOK, body: content, wantCode: types.FetchSuccess},
		{name: "not found", status: http.StatusNotFound, wantCode: types.FetchNotFound},
		{name: "invalid hash", status: http.StatusBadRequest, wantCode: types.FetchInvalidHash},
		{name: "too large", status: http.StatusRequestEntityTooLarge, wantCode: types.FetchMaxSizeExceeded},
		{name: "gateway error", status: http.StatusBadGateway, wantCode: types.FetchCasNotReachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			}))
			defer ts.Close()

			client := NewHTTPClient(ts.URL, 0)
			result := client.Read(context.Background(), hash, 1<<20)
			assert.Equal(t, tt.wantCode, result.Code)
			if tt.wantCode == types.FetchSuccess {
				assert.Equal(t, content, result.Content)
			}
		})
	}
}

func TestReadRejectsContentNotMatchingHash(t *testing.T) {
	otherHash, err := hashing.HashThenEncode([]byte("expected content"), hashing.SHA256Code)
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered content"))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)
	result := client.Read(context.Background(), otherHash, 1<<20)
	assert.Equal(t, types.FetchInvalidHash, result.Code)
}

func TestReadRejectsInvalidHashWithoutNetworkCall(t *testing.T) {
	client := NewHTTPClient("http://localhost:1", 0)
	result := client.Read(context.Background(), "not-a-multihash", 1<<20)
	assert.Equal(t, types.FetchInvalidHash, result.Code)
}

func TestReadEnforcesMaxBytesClientSide(t *testing.T) {
	content := make([]byte, 2048)
	hash, err := hashing.HashThenEncode(content, hashing.SHA256Code)
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)
	result := client.Read(context.Background(), hash, 1024)
	assert.Equal(t, types.FetchMaxSizeExceeded, result.Code)
}

func TestReadUnreachableGateway(t *testing.T) {
	content := []byte("content")
	hash, err := hashing.HashThenEncode(content, hashing.SHA256Code)
	require.NoError(t, err)

	client := NewHTTPClient("http://127.0.0.1:1", 0)
	result := client.Read(context.Background(), hash, 1024)
	assert.Equal(t, types.FetchCasNotReachable, result.Code)
}

func TestWriteReturnsHash(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		hash, err := hashing.HashThenEncode(body, hashing.SHA256Code)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": hash})
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)
	content := []byte("chunk file")
	hash, err := client.Write(context.Background(), content)
	require.NoError(t, err)

	expected, err := hashing.HashThenEncode(content, hashing.SHA256Code)
	require.NoError(t, err)
	assert.Equal(t, expected, hash)
}

func TestWriteDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 3)
	_, err := client.Write(context.Background(), []byte("content"))
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
