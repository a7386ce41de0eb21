/**
 * @description
 * Purchase API Handlers.
 * Exposes the process-purchase endpoint (card flow), the bridge webhook
 * (embedded-payment flow), and the SSE feed of settled purchases.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/stripe
 */

package handlers

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/mintbay-project/backend/internal/services"
	"github.com/mintbay-project/backend/internal/stripe"
)

// BridgeSignatureHeader carries the HMAC-SHA256 of the webhook body
const BridgeSignatureHeader = "x-engine-signature"

type PurchaseHandler struct {
	Service       *services.PurchaseService
	Hub           *services.PurchaseStreamHub
	WebhookSecret string
}

func NewPurchaseHandler(service *services.PurchaseService, hub *services.PurchaseStreamHub, webhookSecret string) *PurchaseHandler {
	return &PurchaseHandler{
		Service:       service,
		Hub:           hub,
		WebhookSecret: webhookSecret,
	}
}

// ProcessPurchaseRequest defines the payload for settling a checkout
type ProcessPurchaseRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// ProcessPurchase confirms the payment and dispatches the NFT transfer
// POST /api/v1/purchases/process
func (h *PurchaseHandler) ProcessPurchase(c *fiber.Ctx) error {
	var req ProcessPurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.PaymentIntentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment intent ID is required"})
	}

	result, err := h.Service.ProcessPurchase(c.Context(), req.PaymentIntentID)
	if err != nil {
		return h.purchaseError(c, "ProcessPurchase", err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"message":       "NFT transferred successfully",
		"walletAddress": result.WalletAddress,
	})
}

// BridgeWebhook settles purchases that originated in the embedded payment bridge
// POST /api/v1/webhooks/bridge
func (h *PurchaseHandler) BridgeWebhook(c *fiber.Ctx) error {
	body := c.Body()

	if h.WebhookSecret != "" {
		signature := c.Get(BridgeSignatureHeader)
		if !verifyBridgeSignature(h.WebhookSecret, body, signature) {
			logger.Error("BridgeWebhook: rejected payload with bad signature")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid webhook signature"})
		}
	}

	var event services.BridgeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := h.Service.ProcessBridgeEvent(c.Context(), event)
	if err != nil {
		return h.purchaseError(c, "BridgeWebhook", err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"message":       "NFT transferred successfully via bridge",
		"walletAddress": result.WalletAddress,
	})
}

// purchaseError maps orchestration failures onto the HTTP taxonomy:
// business-rule failures are 400s, upstream failures are 500s with the
// detail kept in the logs. op names the entry point for the log line.
func (h *PurchaseHandler) purchaseError(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, services.ErrPaymentNotSucceeded):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment not successful"})
	case errors.Is(err, services.ErrPaymentNotCompleted):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment not completed"})
	case errors.Is(err, services.ErrWalletNotFound):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Buyer wallet not found. Please ensure wallet was created properly."})
	case errors.Is(err, services.ErrMissingBuyerAddress):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Buyer address not found"})
	case errors.Is(err, services.ErrIntentMetadataInvalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment is missing purchase details"})
	case errors.Is(err, stripe.ErrGatewayUnavailable):
		logger.Error("%s: gateway failure: %v", op, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Payment gateway unavailable"})
	default:
		logger.Error("%s: %v", op, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process purchase"})
	}
}

// StreamPurchases streams settled purchases over SSE
// GET /api/v1/purchases/stream
func (h *PurchaseHandler) StreamPurchases(c *fiber.Ctx) error {
	if h.Hub == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Purchase stream unavailable"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	requestCtx := c.Context()
	events, unsubscribe := h.Hub.Subscribe()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		requestDone := requestCtx.Done()

		for {
			select {
			case <-requestDone:
				return
			case payload, ok := <-events:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}

func verifyBridgeSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
