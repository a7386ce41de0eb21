/**
 * @description
 * Purchase database model.
 * One row per settled checkout, keyed by the payment intent id. The unique
 * index on payment_intent_id is what makes transfer submission idempotent:
 * a replayed process-purchase call claims the same row and is answered from
 * the ledger instead of re-submitting to the relay.
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

// PurchaseSource identifies which entry point settled the purchase
type PurchaseSource string

const (
	PurchaseSourceCheckout PurchaseSource = "CHECKOUT" // card flow via process-purchase
	PurchaseSourceBridge   PurchaseSource = "BRIDGE"   // webhook from the external payment bridge
)

// PurchaseStatus tracks the transfer lifecycle for a purchase
type PurchaseStatus string

const (
	PurchaseStatusPending     PurchaseStatus = "PENDING"     // row claimed, transfer not yet accepted by relay
	PurchaseStatusTransferred PurchaseStatus = "TRANSFERRED" // relay accepted the transfer request
)

// Purchase represents a paid listing and the asset transfer issued for it
type Purchase struct {
	ID              uuid.UUID      `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	PaymentIntentID string         `gorm:"column:payment_intent_id;uniqueIndex;not null" json:"payment_intent_id"`
	ListingID       string         `gorm:"column:listing_id" json:"listing_id"`
	ContractAddress string         `gorm:"column:contract_address;not null" json:"contract_address"`
	TokenID         string         `gorm:"column:token_id;not null" json:"token_id"`
	ChainID         int64          `gorm:"column:chain_id;not null" json:"chain_id"`
	BuyerEmail      string         `gorm:"column:buyer_email" json:"buyer_email"` // empty on the bridge path
	WalletAddress   string         `gorm:"column:wallet_address" json:"wallet_address"`
	Quantity        int            `gorm:"column:quantity;default:1" json:"quantity"`
	TokenStandard   string         `gorm:"column:token_standard" json:"token_standard"` // ERC721 or ERC1155
	Status          PurchaseStatus `gorm:"column:status;not null" json:"status"`
	Source          PurchaseSource `gorm:"column:source;not null" json:"source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Purchase to `purchases`
func (Purchase) TableName() string {
	return "purchases"
}

// BeforeCreate ensures UUID is generated if not present
func (p *Purchase) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
