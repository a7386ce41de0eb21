/**
 * @description
 * HTTP Client for the transaction-relay (Engine) API.
 * Submits ERC-721 and ERC-1155 transfers signed and paid for by a custodial
 * backend wallet; the buyer never signs or pays gas.
 *
 * @dependencies
 * - net/http
 * - backend/internal/config
 *
 * @notes
 * - Endpoints: POST /contract/{chainId}/{contractAddress}/erc721/transfer
 *   and .../erc1155/transfer.
 * - Auth: bearer access token plus x-backend-wallet-address header.
 * - Every submission carries an x-idempotency-key so a replayed purchase
 *   cannot double-transfer.
 * - Timeouts are retried exactly once; any other failure is terminal for the
 *   purchase attempt.
 */

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mintbay-project/backend/internal/config"
	"github.com/mintbay-project/backend/internal/logger"
)

const (
	DefaultTimeout = 30 * time.Second
)

type Client struct {
	BaseURL       string
	AccessToken   string
	BackendWallet string
	HTTPClient    *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:       cfg.Engine.URL,
		AccessToken:   cfg.Engine.AccessToken,
		BackendWallet: cfg.Engine.BackendWallet,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// TransferERC721 submits a single-ownership token transfer. Quantity is ignored.
func (c *Client) TransferERC721(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	payload := map[string]string{
		"to":      req.To,
		"tokenId": req.TokenID,
	}
	path := fmt.Sprintf("/contract/%d/%s/erc721/transfer", req.ChainID, req.ContractAddress)
	return c.submitTransfer(ctx, path, payload, req.IdempotencyKey)
}

// TransferERC1155 submits a semi-fungible token transfer of the given quantity.
func (c *Client) TransferERC1155(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}
	payload := map[string]string{
		"to":      req.To,
		"tokenId": req.TokenID,
		"amount":  strconv.Itoa(quantity),
	}
	path := fmt.Sprintf("/contract/%d/%s/erc1155/transfer", req.ChainID, req.ContractAddress)
	return c.submitTransfer(ctx, path, payload, req.IdempotencyKey)
}

// submitTransfer posts the payload to the relay, retrying once on timeout.
// The idempotency key makes the retry safe even if the first request landed.
func (c *Client) submitTransfer(ctx context.Context, path string, payload interface{}, idempotencyKey string) (*TransferResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, path, data, idempotencyKey)
	if err != nil && isTimeout(err) {
		logger.Error("Engine transfer timed out, retrying once: %v", err)
		resp, err = c.post(ctx, path, data, idempotencyKey)
	}
	return resp, err
}

func (c *Client) post(ctx context.Context, path string, data []byte, idempotencyKey string) (*TransferResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("x-backend-wallet-address", c.BackendWallet)
	if idempotencyKey != "" {
		req.Header.Set("x-idempotency-key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("engine returned status %d (failed to read error body: %v)", resp.StatusCode, readErr)
		}

		var relayErr relayError
		if jsonErr := json.Unmarshal(body, &relayErr); jsonErr == nil && relayErr.Error.Message != "" {
			return nil, fmt.Errorf("engine error (status %d): %s", resp.StatusCode, relayErr.Error.Message)
		}
		return nil, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(body))
	}

	var result TransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
