package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return &Client{
		BaseURL:       baseURL,
		AccessToken:   "token-abc",
		BackendWallet: "0xBACKEND",
		HTTPClient:    &http.Client{Timeout: 2 * time.Second},
	}
}

func TestTransferERC721(t *testing.T) {
	var gotPath string
	var gotHeaders http.Header
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(`{"result":{"queueId":"q-1"}}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)

	resp, err := client.TransferERC721(context.Background(), TransferRequest{
		ContractAddress: "0xCONTRACT",
		TokenID:         "42",
		To:              "0xBUYER",
		ChainID:         137,
		IdempotencyKey:  "pi_123",
	})
	require.NoError(t, err)

	assert.Equal(t, "/contract/137/0xCONTRACT/erc721/transfer", gotPath)
	assert.Equal(t, "Bearer token-abc", gotHeaders.Get("Authorization"))
	assert.Equal(t, "0xBACKEND", gotHeaders.Get("x-backend-wallet-address"))
	assert.Equal(t, "pi_123", gotHeaders.Get("x-idempotency-key"))

	assert.Equal(t, map[string]string{"to": "0xBUYER", "tokenId": "42"}, gotBody)
	assert.Equal(t, "q-1", resp.Result.QueueID)
}

func TestTransferERC1155CarriesQuantity(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"result":{"queueId":"q-2"}}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)

	_, err := client.TransferERC1155(context.Background(), TransferRequest{
		ContractAddress: "0xCONTRACT",
		TokenID:         "42",
		To:              "0xBUYER",
		ChainID:         137,
		Quantity:        3,
		IdempotencyKey:  "pi_456",
	})
	require.NoError(t, err)

	assert.Equal(t, "/contract/137/0xCONTRACT/erc1155/transfer", gotPath)
	assert.Equal(t, map[string]string{"to": "0xBUYER", "tokenId": "42", "amount": "3"}, gotBody)
}

func TestTransferRelayErrorIsTerminal(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"backend wallet has no balance"}}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)

	_, err := client.TransferERC721(context.Background(), TransferRequest{
		ContractAddress: "0xCONTRACT",
		TokenID:         "42",
		To:              "0xBUYER",
		ChainID:         137,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend wallet has no balance")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "non-2xx must not be retried")
}

func TestTransferTimeoutRetriesOnce(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(300 * time.Millisecond) // outlast the client timeout
			return
		}
		_, _ = w.Write([]byte(`{"result":{"queueId":"q-3"}}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	client.HTTPClient.Timeout = 100 * time.Millisecond

	resp, err := client.TransferERC721(context.Background(), TransferRequest{
		ContractAddress: "0xCONTRACT",
		TokenID:         "42",
		To:              "0xBUYER",
		ChainID:         137,
		IdempotencyKey:  "pi_789",
	})
	require.NoError(t, err)
	assert.Equal(t, "q-3", resp.Result.QueueID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
