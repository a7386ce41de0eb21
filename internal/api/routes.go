/**
 * @description
 * API Route definitions.
 * Wires the external adapters and services together and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 * - backend/internal/stripe
 * - backend/internal/engine
 */

package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/mintbay-project/backend/internal/api/handlers"
	"github.com/mintbay-project/backend/internal/api/middleware"
	"github.com/mintbay-project/backend/internal/config"
	"github.com/mintbay-project/backend/internal/engine"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/mintbay-project/backend/internal/services"
	"github.com/mintbay-project/backend/internal/stripe"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SetupRoutes configures all API routes.
// db may be nil (in-memory mode); rdb is required.
func SetupRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, cfg *config.Config) error {
	// 1. Initialize Middleware
	if err := middleware.InitAuthMiddleware(cfg); err != nil {
		logger.Error("Failed to init auth middleware: %v", err)
		// We don't panic here so the app can start in dev modes without valid keys,
		// but protected routes will fail.
	}

	// 2. Initialize External Adapters
	stripeClient := stripe.NewClient(cfg.Stripe.BaseURL, cfg.Stripe.SecretKey)
	engineClient := engine.NewClient(cfg)
	blockchain, err := services.NewBlockchainService(cfg)
	if err != nil {
		return fmt.Errorf("failed to init blockchain service: %w", err)
	}

	// 3. Initialize Services
	var directory services.WalletDirectory
	if db != nil {
		directory = services.NewPostgresWalletDirectory(db)
	} else {
		directory = services.NewMemoryWalletDirectory()
	}

	verification := services.NewVerificationService(rdb, directory)
	purchaseService := services.NewPurchaseService(db, rdb, stripeClient, engineClient, blockchain, directory)
	hub := services.NewPurchaseStreamHub(rdb, services.PurchaseEventChannel)

	// 4. Initialize Handlers
	paymentHandler := handlers.NewPaymentHandler(purchaseService)
	purchaseHandler := handlers.NewPurchaseHandler(purchaseService, hub, cfg.Engine.WebhookSecret)
	walletHandler := handlers.NewWalletHandler(directory, verification, cfg.Server.Env)
	adminHandler := handlers.NewAdminHandler(db)

	// 5. Define Routes
	apiGroup := app.Group("/api")
	v1 := apiGroup.Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Checkout Routes
	payments := v1.Group("/payments")
	payments.Post("/intent", paymentHandler.CreateIntent)

	purchases := v1.Group("/purchases")
	purchases.Post("/process", purchaseHandler.ProcessPurchase)
	purchases.Get("/stream", purchaseHandler.StreamPurchases)

	// Wallet + Verification Routes
	v1.Post("/wallets", walletHandler.StoreWallet)
	verify := v1.Group("/verify")
	verify.Post("/request", walletHandler.RequestVerification)
	verify.Post("/confirm", walletHandler.ConfirmVerification)

	// Webhooks
	webhooks := v1.Group("/webhooks")
	webhooks.Post("/bridge", purchaseHandler.BridgeWebhook)

	// Admin Routes (Protected)
	admin := v1.Group("/admin", middleware.Protected())
	admin.Get("/purchases", adminHandler.ListPurchases)

	return nil
}
