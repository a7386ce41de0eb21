package handlers

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/mintbay-project/backend/internal/engine"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/mintbay-project/backend/internal/services"
	"github.com/mintbay-project/backend/internal/stripe"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	intent *stripe.PaymentIntent
	err    error
}

func (s *stubGateway) CreateIntent(ctx context.Context, amount float64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.intent, nil
}

func (s *stubGateway) GetIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.intent, nil
}

type stubTransferrer struct {
	erc721Calls  int
	erc1155Calls int
	lastRequest  engine.TransferRequest
	err          error
}

func (s *stubTransferrer) TransferERC721(ctx context.Context, req engine.TransferRequest) (*engine.TransferResponse, error) {
	s.erc721Calls++
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return &engine.TransferResponse{}, nil
}

func (s *stubTransferrer) TransferERC1155(ctx context.Context, req engine.TransferRequest) (*engine.TransferResponse, error) {
	s.erc1155Calls++
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return &engine.TransferResponse{}, nil
}

type stubDetector struct {
	standard services.TokenStandard
}

func (s *stubDetector) DetectStandard(ctx context.Context, chainID int64, contractAddress string) (services.TokenStandard, error) {
	return s.standard, nil
}

type purchaseFixture struct {
	app         *fiber.App
	gateway     *stubGateway
	transferrer *stubTransferrer
	directory   *services.MemoryWalletDirectory
}

func newPurchaseFixture(t *testing.T, standard services.TokenStandard, webhookSecret string) *purchaseFixture {
	t.Helper()

	gateway := &stubGateway{}
	transferrer := &stubTransferrer{}
	directory := services.NewMemoryWalletDirectory()
	service := services.NewPurchaseService(nil, nil, gateway, transferrer, &stubDetector{standard: standard}, directory)

	handler := NewPurchaseHandler(service, nil, webhookSecret)
	paymentHandler := NewPaymentHandler(service)

	app := fiber.New()
	app.Post("/api/v1/payments/intent", paymentHandler.CreateIntent)
	app.Post("/api/v1/purchases/process", handler.ProcessPurchase)
	app.Post("/api/v1/webhooks/bridge", handler.BridgeWebhook)

	return &purchaseFixture{app: app, gateway: gateway, transferrer: transferrer, directory: directory}
}

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateIntentRejectsMissingFields(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "")

	resp := postJSON(t, fx.app, "/api/v1/payments/intent", map[string]interface{}{
		"amount":    25.50,
		"listingId": "listing-9",
		// contractAddress et al. missing
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields", decodeBody(t, resp)["error"])
}

func TestCreateIntentReturnsClientSecret(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "")
	fx.gateway.intent = &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}

	resp := postJSON(t, fx.app, "/api/v1/payments/intent", map[string]interface{}{
		"amount":          25.50,
		"listingId":       "listing-9",
		"contractAddress": "0xCONTRACT",
		"tokenId":         "42",
		"chainId":         137,
		"buyerEmail":      "x@y.com",
		"quantity":        1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "pi_1", body["id"])
	assert.Equal(t, "pi_1_secret", body["client_secret"])
}

func TestProcessPurchaseHappyPath(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "")
	fx.gateway.intent = &stripe.PaymentIntent{
		ID:     "pi_1",
		Status: stripe.StatusSucceeded,
		Metadata: map[string]string{
			"contractAddress": "0xCONTRACT",
			"tokenId":         "42",
			"chainId":         "137",
			"buyerEmail":      "x@y.com",
			"quantity":        "1",
		},
	}
	require.NoError(t, fx.directory.Store(context.Background(), "x@y.com", "0xBUYER"))

	resp := postJSON(t, fx.app, "/api/v1/purchases/process", map[string]string{"paymentIntentId": "pi_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "0xBUYER", body["walletAddress"])

	assert.Equal(t, 1, fx.transferrer.erc721Calls)
	assert.Equal(t, 0, fx.transferrer.erc1155Calls)
	assert.Equal(t, "42", fx.transferrer.lastRequest.TokenID)
	assert.Equal(t, "0xBUYER", fx.transferrer.lastRequest.To)
}

func TestProcessPurchasePaymentNotSucceeded(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "")
	fx.gateway.intent = &stripe.PaymentIntent{
		ID:     "pi_1",
		Status: "requires_payment_method",
		Metadata: map[string]string{
			"contractAddress": "0xCONTRACT",
			"tokenId":         "42",
			"chainId":         "137",
			"buyerEmail":      "x@y.com",
		},
	}

	resp := postJSON(t, fx.app, "/api/v1/purchases/process", map[string]string{"paymentIntentId": "pi_1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Payment not successful", decodeBody(t, resp)["error"])

	assert.Equal(t, 0, fx.transferrer.erc721Calls)
	assert.Equal(t, 0, fx.transferrer.erc1155Calls)
}

func TestProcessPurchaseWalletNotFound(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "")
	fx.gateway.intent = &stripe.PaymentIntent{
		ID:     "pi_1",
		Status: stripe.StatusSucceeded,
		Metadata: map[string]string{
			"contractAddress": "0xCONTRACT",
			"tokenId":         "42",
			"chainId":         "137",
			"buyerEmail":      "stranger@y.com",
		},
	}

	resp := postJSON(t, fx.app, "/api/v1/purchases/process", map[string]string{"paymentIntentId": "pi_1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp)["error"], "wallet not found")
	assert.Equal(t, 0, fx.transferrer.erc721Calls)
}

func TestProcessPurchaseGatewayDown(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "")
	fx.gateway.err = stripe.ErrGatewayUnavailable

	resp := postJSON(t, fx.app, "/api/v1/purchases/process", map[string]string{"paymentIntentId": "pi_1"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Payment gateway unavailable", decodeBody(t, resp)["error"])
}

func bridgePayload() map[string]interface{} {
	return map[string]interface{}{
		"status":       "completed",
		"buyerAddress": "0xATTESTED",
		"paymentInfo": map[string]interface{}{
			"chain":         map[string]interface{}{"id": 137},
			"token":         map[string]interface{}{"address": "0xCONTRACT", "tokenId": "42"},
			"transactionId": "tx-1",
		},
	}
}

func TestBridgeWebhookTransfersToAttestedBuyer(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC1155, "")

	resp := postJSON(t, fx.app, "/api/v1/webhooks/bridge", bridgePayload())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "0xATTESTED", body["walletAddress"])
	assert.Equal(t, 1, fx.transferrer.erc1155Calls)
	assert.Equal(t, 1, fx.transferrer.lastRequest.Quantity)
}

func TestBridgeWebhookRejectsBadSignature(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "hook-secret")

	body, err := json.Marshal(bridgePayload())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/bridge", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(BridgeSignatureHeader, "deadbeef")

	resp, err := fx.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, fx.transferrer.erc721Calls)
}

func TestBridgeWebhookAcceptsValidSignature(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "hook-secret")

	body, err := json.Marshal(bridgePayload())
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/bridge", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(BridgeSignatureHeader, hex.EncodeToString(mac.Sum(nil)))

	resp, err := fx.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, fx.transferrer.erc721Calls)
}

func TestBridgeWebhookFailureLogsBridgeEntryPoint(t *testing.T) {
	fx := newPurchaseFixture(t, services.TokenStandardERC721, "")
	fx.transferrer.err = errors.New("engine returned status 500")

	var logs bytes.Buffer
	logger.ErrorLogger.SetOutput(&logs)
	t.Cleanup(func() { logger.ErrorLogger.SetOutput(os.Stderr) })

	resp := postJSON(t, fx.app, "/api/v1/webhooks/bridge", bridgePayload())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	assert.Contains(t, logs.String(), "BridgeWebhook:")
	assert.NotContains(t, logs.String(), "ProcessPurchase:")
}

func TestStreamPurchases(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	defer redisClient.Close()

	hub := services.NewPurchaseStreamHub(redisClient, services.PurchaseEventChannel)
	handler := NewPurchaseHandler(nil, hub, "")

	app := fiber.New()
	app.Get("/api/v1/purchases/stream", handler.StreamPurchases)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	defer app.Shutdown()
	srvURL := "http://" + ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	payload := `{"payment_intent_id":"pi_1","wallet_address":"0xBUYER","standard":"ERC721"}`
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = redisClient.Publish(context.Background(), services.PurchaseEventChannel, payload).Err()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srvURL+"/api/v1/purchases/stream", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to call SSE endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for SSE data")
		default:
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("failed to read SSE line: %v", err)
			}
			if strings.HasPrefix(line, "data:") {
				if !strings.Contains(line, `"pi_1"`) {
					t.Fatalf("unexpected SSE payload: %s", line)
				}
				return
			}
		}
	}
}
