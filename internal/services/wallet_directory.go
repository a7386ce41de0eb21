/**
 * @description
 * Wallet Directory Service.
 * Maps normalized buyer emails to wallet addresses. Populated when a buyer
 * completes verification; read when resolving a payment's buyer to a transfer
 * destination. A lookup miss is a normal outcome (buyer not yet verified).
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/models
 *
 * @notes
 * - PostgresWalletDirectory is the production store and survives restarts.
 * - MemoryWalletDirectory keeps the original process-lifetime semantics for
 *   development (no DATABASE_URL) and tests.
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mintbay-project/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrWalletNotFound signals that no wallet is recorded for an email.
// This is an expected condition, not an upstream failure.
var ErrWalletNotFound = errors.New("wallet not found")

// WalletDirectory is the normalize-then-upsert/lookup contract shared by all stores
type WalletDirectory interface {
	Store(ctx context.Context, email, address string) error
	Lookup(ctx context.Context, email string) (string, error)
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PostgresWalletDirectory persists the directory in the user_wallets table
type PostgresWalletDirectory struct {
	DB *gorm.DB
}

func NewPostgresWalletDirectory(db *gorm.DB) *PostgresWalletDirectory {
	return &PostgresWalletDirectory{DB: db}
}

// Store upserts the wallet address for an email. Re-verification overwrites.
func (d *PostgresWalletDirectory) Store(ctx context.Context, email, address string) error {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return errors.New("email cannot be empty")
	}
	if strings.TrimSpace(address) == "" {
		return errors.New("wallet address cannot be empty")
	}

	wallet := models.UserWallet{
		Email:         normalized,
		WalletAddress: address,
		UpdatedAt:     time.Now(),
	}

	result := d.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"wallet_address": address,
			"updated_at":     time.Now(),
		}),
	}).Create(&wallet)

	if result.Error != nil {
		return fmt.Errorf("failed to store wallet: %w", result.Error)
	}
	return nil
}

// Lookup returns the wallet address for an email, or ErrWalletNotFound
func (d *PostgresWalletDirectory) Lookup(ctx context.Context, email string) (string, error) {
	var wallet models.UserWallet
	err := d.DB.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrWalletNotFound
		}
		return "", fmt.Errorf("failed to look up wallet: %w", err)
	}
	return wallet.WalletAddress, nil
}

// MemoryWalletDirectory is a process-lifetime directory.
// Safe for concurrent verifiers; each email key is written independently.
type MemoryWalletDirectory struct {
	mu      sync.RWMutex
	entries map[string]memoryWalletEntry
}

type memoryWalletEntry struct {
	Address   string
	CreatedAt time.Time
}

func NewMemoryWalletDirectory() *MemoryWalletDirectory {
	return &MemoryWalletDirectory{
		entries: make(map[string]memoryWalletEntry),
	}
}

func (d *MemoryWalletDirectory) Store(ctx context.Context, email, address string) error {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return errors.New("email cannot be empty")
	}
	if strings.TrimSpace(address) == "" {
		return errors.New("wallet address cannot be empty")
	}

	d.mu.Lock()
	d.entries[normalized] = memoryWalletEntry{
		Address:   address,
		CreatedAt: time.Now(),
	}
	d.mu.Unlock()
	return nil
}

func (d *MemoryWalletDirectory) Lookup(ctx context.Context, email string) (string, error) {
	d.mu.RLock()
	entry, ok := d.entries[NormalizeEmail(email)]
	d.mu.RUnlock()

	if !ok {
		return "", ErrWalletNotFound
	}
	return entry.Address, nil
}
