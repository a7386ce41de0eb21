/**
 * @description
 * UserWallet database model.
 * Maps a normalized buyer email to the wallet address recorded during
 * verification. One row per email; re-verification overwrites in place.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserWallet represents a verified email → wallet address mapping
type UserWallet struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Email         string    `gorm:"uniqueIndex;not null" json:"email"` // normalized: trimmed + lowercased
	WalletAddress string    `gorm:"column:wallet_address;not null" json:"wallet_address"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by UserWallet to `user_wallets`
func (UserWallet) TableName() string {
	return "user_wallets"
}

// BeforeCreate ensures UUID is generated if not present (though DB usually handles this)
func (w *UserWallet) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return
}
