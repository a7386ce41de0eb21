/**
 * @description
 * Wallet API Handlers.
 * Exposes the wallet directory write endpoint and the email verification
 * round trip the checkout UI drives before payment.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/mintbay-project/backend/internal/services"
)

type WalletHandler struct {
	Directory    services.WalletDirectory
	Verification *services.VerificationService
	Env          string // "development" echoes codes in responses for local testing
}

func NewWalletHandler(directory services.WalletDirectory, verification *services.VerificationService, env string) *WalletHandler {
	return &WalletHandler{
		Directory:    directory,
		Verification: verification,
		Env:          env,
	}
}

// StoreWalletRequest defines the payload for recording a wallet address
type StoreWalletRequest struct {
	Email         string `json:"email"`
	WalletAddress string `json:"walletAddress"`
}

// StoreWallet records a wallet address for an email
// POST /api/v1/wallets
func (h *WalletHandler) StoreWallet(c *fiber.Ctx) error {
	var req StoreWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Email == "" || req.WalletAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and wallet address are required"})
	}

	if err := h.Directory.Store(c.Context(), req.Email, req.WalletAddress); err != nil {
		logger.Error("StoreWallet: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store wallet"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Wallet stored successfully",
	})
}

// RequestVerificationRequest defines the payload for requesting a code
type RequestVerificationRequest struct {
	Email string `json:"email"`
}

// RequestVerification issues a 6-digit code for the email
// POST /api/v1/verify/request
func (h *WalletHandler) RequestVerification(c *fiber.Ctx) error {
	var req RequestVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email is required"})
	}

	code, err := h.Verification.RequestCode(c.Context(), req.Email)
	if err != nil {
		logger.Error("RequestVerification: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to request verification"})
	}

	resp := fiber.Map{"success": true}
	if h.Env == "development" {
		// No mail transport in local dev; surface the code to the caller.
		resp["code"] = code
	}
	return c.JSON(resp)
}

// ConfirmVerificationRequest defines the payload for confirming a code.
// walletAddress is optional; when absent an in-app wallet is created.
type ConfirmVerificationRequest struct {
	Email         string `json:"email"`
	Code          string `json:"code"`
	WalletAddress string `json:"walletAddress"`
}

// ConfirmVerification checks the code and records the buyer's wallet
// POST /api/v1/verify/confirm
func (h *WalletHandler) ConfirmVerification(c *fiber.Ctx) error {
	var req ConfirmVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Email == "" || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and code are required"})
	}

	address, err := h.Verification.ConfirmCode(c.Context(), req.Email, req.Code, req.WalletAddress)
	if err != nil {
		if errors.Is(err, services.ErrCodeExpired) || errors.Is(err, services.ErrCodeMismatch) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid or expired verification code"})
		}
		logger.Error("ConfirmVerification: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to confirm verification"})
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"walletAddress": address,
	})
}
