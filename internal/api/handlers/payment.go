/**
 * @description
 * Payment API Handlers.
 * Exposes the create-payment-intent endpoint the checkout UI calls before
 * rendering the card form.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/mintbay-project/backend/internal/services"
)

type PaymentHandler struct {
	Service *services.PurchaseService
}

func NewPaymentHandler(service *services.PurchaseService) *PaymentHandler {
	return &PaymentHandler{Service: service}
}

// CreateIntentRequest defines the payload for creating a payment intent.
// Field names match the checkout UI's wire format.
type CreateIntentRequest struct {
	Amount          float64 `json:"amount"`
	ListingID       string  `json:"listingId"`
	ContractAddress string  `json:"contractAddress"`
	TokenID         string  `json:"tokenId"`
	ChainID         int64   `json:"chainId"`
	BuyerEmail      string  `json:"buyerEmail"`
	Quantity        int     `json:"quantity"`
}

// CreateIntent creates a payment intent with the purchase metadata embedded
// POST /api/v1/payments/intent
func (h *PaymentHandler) CreateIntent(c *fiber.Ctx) error {
	var req CreateIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Amount <= 0 || req.ListingID == "" || req.ContractAddress == "" || req.TokenID == "" || req.ChainID == 0 || req.BuyerEmail == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing required fields"})
	}

	intent, err := h.Service.CreateIntent(c.Context(), services.CreateIntentParams{
		Amount:          req.Amount,
		ListingID:       req.ListingID,
		ContractAddress: req.ContractAddress,
		TokenID:         req.TokenID,
		ChainID:         req.ChainID,
		BuyerEmail:      req.BuyerEmail,
		Quantity:        req.Quantity,
	})
	if err != nil {
		logger.Error("CreateIntent: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create payment intent"})
	}

	return c.JSON(fiber.Map{
		"id":            intent.ID,
		"client_secret": intent.ClientSecret,
	})
}
