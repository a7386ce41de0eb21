/**
 * @description
 * Configuration loader for the Mintbay checkout backend.
 * Responsible for reading environment variables, setting defaults, and performing strict validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 * - standard "fmt": For error reporting
 *
 * @notes
 * - Fails fast if critical variables (Stripe key, Engine credentials) are missing.
 * - DATABASE_URL is optional: without it the wallet directory and purchase
 *   ledger fall back to process-lifetime in-memory storage.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mintbay-project/backend/internal/logger"
)

// Config holds all configuration for the application
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	Stripe StripeConfig
	Engine EngineConfig
	Chains ChainsConfig
	Admin  AdminConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development" or "production"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// StripeConfig holds payment processor credentials
type StripeConfig struct {
	SecretKey string
	BaseURL   string
}

// EngineConfig holds the transaction-relay (Engine) settings.
// The backend wallet is the custodial signer that pays gas for transfers.
type EngineConfig struct {
	URL           string
	AccessToken   string
	BackendWallet string
	WebhookSecret string // HMAC secret for bridge webhook payloads; empty disables verification
}

// ChainsConfig holds EVM RPC endpoints keyed by chain id
type ChainsConfig struct {
	RPCURLs map[int64]string
}

// AdminConfig holds settings for the protected admin surface
type AdminConfig struct {
	JWKSURL string // URL to fetch JSON Web Key Set for JWT validation
}

const polygonChainID = 137

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (k8s/prod might inject env vars directly)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Stripe: StripeConfig{
			SecretKey: sanitizeCredential(getEnv("STRIPE_SECRET_KEY", "")),
			BaseURL:   getEnv("STRIPE_API_URL", "https://api.stripe.com"),
		},
		Engine: EngineConfig{
			URL:           strings.TrimSuffix(getEnv("ENGINE_URL", ""), "/"),
			AccessToken:   sanitizeCredential(getEnv("ENGINE_ACCESS_TOKEN", "")),
			BackendWallet: sanitizeCredential(getEnv("ENGINE_BACKEND_WALLET", "")),
			WebhookSecret: sanitizeCredential(getEnv("ENGINE_WEBHOOK_SECRET", "")),
		},
		Chains: ChainsConfig{
			RPCURLs: parseRPCURLs(getEnv("EVM_RPC_URLS", "")),
		},
		Admin: AdminConfig{
			JWKSURL: getEnv("ADMIN_JWKS_URL", ""),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	if cfg.Server.Env == "test" {
		return nil
	}
	if cfg.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if cfg.Engine.URL == "" {
		return fmt.Errorf("ENGINE_URL is required")
	}
	if cfg.Engine.AccessToken == "" {
		return fmt.Errorf("ENGINE_ACCESS_TOKEN is required")
	}
	if cfg.Engine.BackendWallet == "" {
		return fmt.Errorf("ENGINE_BACKEND_WALLET is required")
	}
	if cfg.DB.URL == "" {
		logger.Info("⚠️ DATABASE_URL is missing. Wallet directory and purchase ledger will be in-memory only.")
	}
	return nil
}

// parseRPCURLs parses "137=https://polygon-rpc.com,1=https://eth.llamarpc.com"
// into a chain-id keyed map. Polygon gets a public default if not configured.
func parseRPCURLs(raw string) map[int64]string {
	urls := map[int64]string{
		polygonChainID: "https://polygon-rpc.com",
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		chainID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			continue
		}
		if u := strings.TrimSpace(parts[1]); u != "" {
			urls[chainID] = u
		}
	}
	return urls
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}
