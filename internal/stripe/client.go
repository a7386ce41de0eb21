/**
 * @description
 * HTTP Client for the Stripe Payment Intents API.
 * Creates payment intents with purchase metadata attached and retrieves them
 * for confirmation. This client never mutates intent status; Stripe owns the
 * lifecycle and the checkout UI completes the charge against the client secret.
 *
 * @dependencies
 * - net/http
 * - backend/internal/config
 *
 * @notes
 * - Stripe request bodies are form-encoded, not JSON.
 * - Metadata is a string-only channel: callers must pre-serialize values.
 * - All failures wrap ErrGatewayUnavailable so the orchestrator can surface a
 *   single "payment gateway unavailable" condition.
 */

package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout = 15 * time.Second
)

// ErrGatewayUnavailable marks network or processor-side failures of the payment gateway
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// CreateIntent creates a payment intent for a major-unit amount with the given
// string-only metadata. Returns the intent carrying id and client secret.
func (c *Client) CreateIntent(ctx context.Context, amount float64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(MinorUnits(amount), 10))
	form.Set("currency", currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	return c.doIntent(req)
}

// GetIntent fetches the current state of a payment intent by id. Read-only.
func (c *Client) GetIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if id == "" {
		return nil, fmt.Errorf("payment intent id cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/v1/payment_intents/%s", c.BaseURL, url.PathEscape(id)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	return c.doIntent(req)
}

func (c *Client) doIntent(req *http.Request) (*PaymentIntent, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("%w: status %d (failed to read error body: %v)", ErrGatewayUnavailable, resp.StatusCode, readErr)
		}

		var apiErr apiError
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, string(body))
	}

	var intent PaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrGatewayUnavailable, err)
	}

	return &intent, nil
}
