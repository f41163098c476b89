package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/types"
)

func TestReadReturnsPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("since"))
		assert.Equal(t, "hashA", r.URL.Query().Get("transaction-time-hash"))

		_ = json.NewEncoder(w).Encode(ReadResult{
			MoreTransactions: true,
			Transactions: []types.Transaction{
				{TransactionNumber: 1001, TransactionTime: 500, AnchorString: "1.uEiHash"},
			},
		})
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)
	since := uint64(1000)
	result, err := client.Read(context.Background(), &since, "hashA")
	require.NoError(t, err)
	assert.True(t, result.MoreTransactions)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, uint64(1001), result.Transactions[0].TransactionNumber)
}

func TestReadSignalsReorg(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "invalid_transaction_number_or_time_hash"})
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)
	since := uint64(1000)
	_, err := client.Read(context.Background(), &since, "hashA")
	assert.ErrorIs(t, err, ErrInvalidTransactionNumberOrTimeHash)
}

func TestWritePostsAnchorString(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transactions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)
	require.NoError(t, client.Write(context.Background(), "2.uEiCore", 1000))
	assert.Equal(t, "2.uEiCore", got["anchorString"])
	assert.Equal(t, float64(1000), got["fee"])
}

func TestGetFirstValidTransactionHandlesNoMatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)
	txn, err := client.GetFirstValidTransaction(context.Background(), []types.Transaction{{TransactionNumber: 1}})
	require.NoError(t, err)
	assert.Nil(t, txn)
}

func TestGetLatestTimeAndFee(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/time":
			_ = json.NewEncoder(w).Encode(BlockTime{Time: 700000, Hash: "tip"})
		case "/fee/700000":
			_ = json.NewEncoder(w).Encode(map[string]uint64{"normalizedTransactionFee": 1234})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 0)

	latest, err := client.GetLatestTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(700000), latest.Time)
	assert.Equal(t, "tip", latest.Hash)

	fee, err := client.GetFee(context.Background(), 700000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), fee)
}

func TestNonTimeoutErrorsDoNotRetry(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, 3)
	_, err := client.GetLatestTime(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
