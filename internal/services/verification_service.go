/**
 * @description
 * Email Verification Service.
 * Server side of the checkout wallet flow: issue a 6-digit code for an email,
 * then on a matching code record the buyer's wallet address in the directory.
 * When the buyer has no wallet of their own, an in-app wallet address is
 * generated for them.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: code storage with TTL
 * - github.com/ethereum/go-ethereum/crypto: in-app wallet key generation
 * - backend/internal/services: WalletDirectory
 *
 * @notes
 * - Re-requesting a code overwrites the previous one, so switching emails
 *   mid-flow discards any in-flight code.
 * - Codes live in Redis, not process memory, so verification survives restarts
 *   and horizontal scaling.
 */

package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	verifyCodeKeyPrefix = "verify:code:"
	verifyCodeTTL       = 10 * time.Minute
)

var (
	// ErrCodeExpired means no code is outstanding for the email
	ErrCodeExpired = errors.New("verification code expired or not requested")
	// ErrCodeMismatch means the submitted code does not match the outstanding one
	ErrCodeMismatch = errors.New("verification code does not match")
)

type VerificationService struct {
	Redis     *redis.Client
	Directory WalletDirectory
}

func NewVerificationService(rdb *redis.Client, directory WalletDirectory) *VerificationService {
	return &VerificationService{
		Redis:     rdb,
		Directory: directory,
	}
}

// RequestCode issues a fresh 6-digit code for the email, replacing any
// outstanding code. The code is returned so the delivery channel (mail, or
// the response body in development) is the caller's concern.
func (s *VerificationService) RequestCode(ctx context.Context, email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", errors.New("email cannot be empty")
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}

	if err := s.Redis.Set(ctx, verifyCodeKeyPrefix+normalized, code, verifyCodeTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store verification code: %w", err)
	}

	logger.Info("📧 Verification code issued for %s", normalized)
	return code, nil
}

// ConfirmCode checks the submitted code and, on success, records the wallet
// address for the email. An empty walletAddress asks the service to create an
// in-app wallet for the buyer. Returns the recorded address.
func (s *VerificationService) ConfirmCode(ctx context.Context, email, code, walletAddress string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", errors.New("email cannot be empty")
	}
	if code == "" {
		return "", ErrCodeMismatch
	}

	key := verifyCodeKeyPrefix + normalized
	stored, err := s.Redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCodeExpired
		}
		return "", fmt.Errorf("failed to read verification code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return "", ErrCodeMismatch
	}

	// Single use: burn the code before any side effects.
	if err := s.Redis.Del(ctx, key).Err(); err != nil {
		return "", fmt.Errorf("failed to consume verification code: %w", err)
	}

	address := walletAddress
	if address == "" {
		address, err = generateInAppWalletAddress()
		if err != nil {
			return "", err
		}
		logger.Info("🪪 Generated in-app wallet %s for %s", address, normalized)
	}

	if err := s.Directory.Store(ctx, normalized, address); err != nil {
		return "", err
	}

	return address, nil
}

// generateCode returns a zero-padded 6-digit numeric code
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// generateInAppWalletAddress derives a fresh EVM address for buyers without a
// self-custodied wallet.
// TODO: escrow the generated key with the relay's backend wallet service so
// the buyer can later export or spend from the in-app wallet.
func generateInAppWalletAddress() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate in-app wallet key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
