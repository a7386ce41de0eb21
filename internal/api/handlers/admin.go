/**
 * @description
 * Admin API Handlers.
 * Read-only view over the purchase ledger for operators. Routes using these
 * handlers sit behind the JWKS-backed auth middleware.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - gorm.io/gorm
 * - backend/internal/models
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/mintbay-project/backend/internal/models"
	"gorm.io/gorm"
)

type AdminHandler struct {
	DB *gorm.DB
}

func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{DB: db}
}

// ListPurchases returns recent purchases, newest first
// GET /api/v1/admin/purchases?limit=50
func (h *AdminHandler) ListPurchases(c *fiber.Ctx) error {
	if h.DB == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Purchase ledger unavailable"})
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var purchases []models.Purchase
	if err := h.DB.WithContext(c.Context()).
		Order("created_at DESC").
		Limit(limit).
		Find(&purchases).Error; err != nil {
		logger.Error("ListPurchases: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch purchases"})
	}

	return c.JSON(purchases)
}
