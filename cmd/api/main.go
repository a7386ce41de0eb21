/**
 * @description
 * Main entry point for the Mintbay Checkout API.
 * Initializes the Fiber web server, loads configuration, and sets up routes.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - backend/internal/config: Config loader
 * - backend/internal/db: Database connections
 *
 * @notes
 * - Connects to Redis on startup; Postgres is optional (in-memory mode when
 *   DATABASE_URL is unset).
 * - Sets up basic middleware (CORS, Logger, Recover).
 */

package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mintbay-project/backend/internal/api"
	"github.com/mintbay-project/backend/internal/config"
	"github.com/mintbay-project/backend/internal/db"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Database Connections
	var pgDB *gorm.DB
	if cfg.DB.URL != "" {
		pgDB, err = db.ConnectPostgres(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		if err := db.Migrate(pgDB); err != nil {
			log.Fatalf("Failed to migrate schema: %v", err)
		}
	}

	// Redis (verification codes & purchase event stream)
	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// 3. Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:       "Mintbay Checkout",
		StrictRouting: true,
		CaseSensitive: true,
	})

	// 4. Global Middleware
	app.Use(recover.New())     // Panic recovery
	app.Use(fiberlogger.New()) // Request logging
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*", // TODO: Lock this down in production
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// 5. Routes
	if err := api.SetupRoutes(app, pgDB, redisClient, cfg); err != nil {
		log.Fatalf("Failed to set up routes: %v", err)
	}

	// 6. Start Server
	log.Printf("🚀 Starting Mintbay Checkout on port %s", cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
