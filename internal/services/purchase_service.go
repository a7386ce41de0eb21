/**
 * @description
 * Purchase Orchestrator.
 * Sequences a checkout from payment confirmation to asset transfer:
 * confirm intent → resolve buyer wallet → detect token standard → dispatch
 * the matching relay transfer → record and report. Also handles the
 * bridge-webhook entry point, where the payment processor attests the buyer
 * address directly.
 *
 * @dependencies
 * - gorm.io/gorm: purchase ledger
 * - github.com/jackc/pgconn: PG error codes for idempotent replays
 * - github.com/redis/go-redis/v9: purchase event publishing
 * - backend/internal/stripe, backend/internal/engine: external adapters
 *
 * @notes
 * - A transfer is only ever issued after an intent is observed "succeeded",
 *   and only to an address resolved from the wallet directory (or, on the
 *   bridge path, attested by the processor). Client-supplied addresses are
 *   never trusted on the card path.
 * - The purchases table's unique payment_intent_id makes replays idempotent:
 *   a second process call for the same intent returns the recorded result
 *   without touching the relay.
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/mintbay-project/backend/internal/engine"
	"github.com/mintbay-project/backend/internal/logger"
	"github.com/mintbay-project/backend/internal/models"
	"github.com/mintbay-project/backend/internal/stripe"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// PurchaseEventChannel carries JSON purchase events for the SSE feed
const PurchaseEventChannel = "purchases:events"

var (
	// ErrPaymentNotSucceeded means the intent has not reached "succeeded"
	ErrPaymentNotSucceeded = errors.New("payment not successful")
	// ErrPaymentNotCompleted means a bridge event arrived before completion
	ErrPaymentNotCompleted = errors.New("payment not completed")
	// ErrMissingBuyerAddress means a bridge event carried no attested buyer
	ErrMissingBuyerAddress = errors.New("buyer address not found")
	// ErrIntentMetadataInvalid means the intent lacks usable purchase metadata
	ErrIntentMetadataInvalid = errors.New("payment intent metadata is incomplete")
)

// PaymentGateway is the slice of the Stripe client the orchestrator needs
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount float64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error)
	GetIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// AssetTransferrer is the slice of the Engine client the orchestrator needs
type AssetTransferrer interface {
	TransferERC721(ctx context.Context, req engine.TransferRequest) (*engine.TransferResponse, error)
	TransferERC1155(ctx context.Context, req engine.TransferRequest) (*engine.TransferResponse, error)
}

type PurchaseService struct {
	DB          *gorm.DB      // nil disables the ledger (in-memory dev mode)
	Redis       *redis.Client // nil disables event publishing
	Gateway     PaymentGateway
	Transferrer AssetTransferrer
	Detector    StandardDetector
	Directory   WalletDirectory
}

func NewPurchaseService(db *gorm.DB, rdb *redis.Client, gateway PaymentGateway, transferrer AssetTransferrer, detector StandardDetector, directory WalletDirectory) *PurchaseService {
	return &PurchaseService{
		DB:          db,
		Redis:       rdb,
		Gateway:     gateway,
		Transferrer: transferrer,
		Detector:    detector,
		Directory:   directory,
	}
}

// CreateIntentParams carries the validated create-payment-intent request
type CreateIntentParams struct {
	Amount          float64
	ListingID       string
	ContractAddress string
	TokenID         string
	ChainID         int64
	BuyerEmail      string
	Quantity        int
}

// PurchaseResult reports a settled purchase back to the handler
type PurchaseResult struct {
	WalletAddress    string
	Standard         TokenStandard
	Quantity         int
	AlreadyProcessed bool
}

// CreateIntent creates a payment intent with the purchase embedded as
// string-only metadata, so the purchase can be reconstructed from the intent
// alone when it later succeeds.
func (s *PurchaseService) CreateIntent(ctx context.Context, params CreateIntentParams) (*stripe.PaymentIntent, error) {
	quantity := params.Quantity
	if quantity < 1 {
		quantity = 1
	}

	metadata := map[string]string{
		"listingId":       params.ListingID,
		"contractAddress": params.ContractAddress,
		"tokenId":         params.TokenID,
		"chainId":         strconv.FormatInt(params.ChainID, 10),
		"buyerEmail":      NormalizeEmail(params.BuyerEmail),
		"quantity":        strconv.Itoa(quantity),
	}

	intent, err := s.Gateway.CreateIntent(ctx, params.Amount, "usd", metadata)
	if err != nil {
		return nil, err
	}

	logger.Info("💳 Created payment intent %s for listing %s (%s)", intent.ID, params.ListingID, metadata["buyerEmail"])
	return intent, nil
}

// ProcessPurchase settles a checkout after the buyer completed the card
// payment: verifies the intent succeeded, resolves the buyer's wallet, and
// dispatches the transfer matching the contract's token standard.
func (s *PurchaseService) ProcessPurchase(ctx context.Context, paymentIntentID string) (*PurchaseResult, error) {
	intent, err := s.Gateway.GetIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	if intent.Status != stripe.StatusSucceeded {
		return nil, fmt.Errorf("%w: intent %s is %q", ErrPaymentNotSucceeded, intent.ID, intent.Status)
	}

	meta, err := parseIntentMetadata(intent)
	if err != nil {
		return nil, err
	}

	walletAddress, err := s.Directory.Lookup(ctx, meta.BuyerEmail)
	if err != nil {
		return nil, err
	}

	row := &models.Purchase{
		PaymentIntentID: intent.ID,
		ListingID:       meta.ListingID,
		ContractAddress: meta.ContractAddress,
		TokenID:         meta.TokenID,
		ChainID:         meta.ChainID,
		BuyerEmail:      meta.BuyerEmail,
		WalletAddress:   walletAddress,
		Quantity:        meta.Quantity,
		Status:          models.PurchaseStatusPending,
		Source:          models.PurchaseSourceCheckout,
	}

	claimed, prior, err := s.claimPurchase(ctx, row)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		logger.Info("♻️ Purchase for intent %s already settled, replaying recorded result", intent.ID)
		return &PurchaseResult{
			WalletAddress:    prior.WalletAddress,
			Standard:         TokenStandard(prior.TokenStandard),
			Quantity:         prior.Quantity,
			AlreadyProcessed: true,
		}, nil
	}

	plan, err := s.transfer(ctx, meta.ChainID, meta.ContractAddress, meta.TokenID, walletAddress, meta.Quantity, intent.ID)
	if err != nil {
		return nil, err
	}

	s.finishPurchase(ctx, claimed, plan, walletAddress)
	s.publishEvent(ctx, row, plan, walletAddress)

	return &PurchaseResult{
		WalletAddress: walletAddress,
		Standard:      plan.Standard,
		Quantity:      plan.Quantity,
	}, nil
}

// BridgeEvent is the webhook payload from the external payment bridge
type BridgeEvent struct {
	Status       string            `json:"status"`
	BuyerAddress string            `json:"buyerAddress"`
	PaymentInfo  BridgePaymentInfo `json:"paymentInfo"`
	Metadata     map[string]string `json:"metadata"`
}

// BridgePaymentInfo describes the asset the bridge collected payment for
type BridgePaymentInfo struct {
	Chain         BridgeChain `json:"chain"`
	Token         BridgeToken `json:"token"`
	SellerAddress string      `json:"sellerAddress"`
	TransactionID string      `json:"transactionId"`
}

type BridgeChain struct {
	ID int64 `json:"id"`
}

type BridgeToken struct {
	Address string `json:"address"`
	TokenID string `json:"tokenId"`
}

// ProcessBridgeEvent settles a purchase that originated entirely in the
// external payment bridge. The buyer address is attested by the processor,
// so no directory lookup happens; quantity defaults to one.
func (s *PurchaseService) ProcessBridgeEvent(ctx context.Context, event BridgeEvent) (*PurchaseResult, error) {
	if event.Status != "completed" {
		return nil, fmt.Errorf("%w: status %q", ErrPaymentNotCompleted, event.Status)
	}
	if event.BuyerAddress == "" {
		return nil, ErrMissingBuyerAddress
	}
	if event.PaymentInfo.Token.Address == "" || event.PaymentInfo.Token.TokenID == "" || event.PaymentInfo.Chain.ID == 0 {
		return nil, fmt.Errorf("%w: bridge event missing token or chain", ErrIntentMetadataInvalid)
	}

	// The bridge doesn't go through our intent creation, so its transaction id
	// doubles as the idempotency key. Without one, replays cannot be deduplicated.
	key := event.PaymentInfo.TransactionID
	if key == "" {
		key = "bridge-" + uuid.NewString()
	}

	row := &models.Purchase{
		PaymentIntentID: key,
		ListingID:       event.Metadata["listingId"],
		ContractAddress: event.PaymentInfo.Token.Address,
		TokenID:         event.PaymentInfo.Token.TokenID,
		ChainID:         event.PaymentInfo.Chain.ID,
		WalletAddress:   event.BuyerAddress,
		Quantity:        1,
		Status:          models.PurchaseStatusPending,
		Source:          models.PurchaseSourceBridge,
	}

	claimed, prior, err := s.claimPurchase(ctx, row)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		logger.Info("♻️ Bridge purchase %s already settled, replaying recorded result", key)
		return &PurchaseResult{
			WalletAddress:    prior.WalletAddress,
			Standard:         TokenStandard(prior.TokenStandard),
			Quantity:         prior.Quantity,
			AlreadyProcessed: true,
		}, nil
	}

	plan, err := s.transfer(ctx, row.ChainID, row.ContractAddress, row.TokenID, event.BuyerAddress, 1, key)
	if err != nil {
		return nil, err
	}

	s.finishPurchase(ctx, claimed, plan, event.BuyerAddress)
	s.publishEvent(ctx, row, plan, event.BuyerAddress)

	return &PurchaseResult{
		WalletAddress: event.BuyerAddress,
		Standard:      plan.Standard,
		Quantity:      plan.Quantity,
	}, nil
}

// transfer detects the contract's standard and dispatches the matching relay call
func (s *PurchaseService) transfer(ctx context.Context, chainID int64, contractAddress, tokenID, to string, quantity int, idempotencyKey string) (*TransferPlan, error) {
	standard, err := s.Detector.DetectStandard(ctx, chainID, contractAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to detect token standard: %w", err)
	}

	req := engine.TransferRequest{
		ContractAddress: contractAddress,
		TokenID:         tokenID,
		To:              to,
		ChainID:         chainID,
		Quantity:        quantity,
		IdempotencyKey:  idempotencyKey,
	}

	plan := &TransferPlan{Standard: standard, Quantity: 1}
	if standard == TokenStandardERC1155 {
		plan.Quantity = quantity
		if _, err := s.Transferrer.TransferERC1155(ctx, req); err != nil {
			return nil, fmt.Errorf("transfer failed: %w", err)
		}
	} else {
		if _, err := s.Transferrer.TransferERC721(ctx, req); err != nil {
			return nil, fmt.Errorf("transfer failed: %w", err)
		}
	}

	logger.Info("🚚 Queued %s transfer of %s/%s on chain %d to %s", standard, contractAddress, tokenID, chainID, to)
	return plan, nil
}

// claimPurchase inserts the pending row, or detects that another call already
// owns this payment intent. Returns (claimedRow, priorTransferredRow, err);
// prior is non-nil only when the earlier claim already completed its transfer.
func (s *PurchaseService) claimPurchase(ctx context.Context, row *models.Purchase) (*models.Purchase, *models.Purchase, error) {
	if s.DB == nil {
		return nil, nil, nil
	}

	err := s.DB.WithContext(ctx).Create(row).Error
	if err == nil {
		return row, nil, nil
	}
	if !isUniqueViolation(err) {
		return nil, nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	var existing models.Purchase
	if err := s.DB.WithContext(ctx).Where("payment_intent_id = ?", row.PaymentIntentID).First(&existing).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load existing purchase: %w", err)
	}

	if existing.Status == models.PurchaseStatusTransferred {
		return nil, &existing, nil
	}

	// An earlier attempt claimed the row but died before the relay accepted the
	// transfer. The relay-side idempotency key makes re-dispatch safe.
	return &existing, nil, nil
}

// finishPurchase marks the claimed row transferred. Ledger write failures are
// logged, not fatal: the transfer was already accepted by the relay.
func (s *PurchaseService) finishPurchase(ctx context.Context, claimed *models.Purchase, plan *TransferPlan, walletAddress string) {
	if s.DB == nil || claimed == nil {
		return
	}

	err := s.DB.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ?", claimed.ID).
		Updates(map[string]interface{}{
			"status":         models.PurchaseStatusTransferred,
			"token_standard": string(plan.Standard),
			"wallet_address": walletAddress,
			"quantity":       plan.Quantity,
			"updated_at":     time.Now(),
		}).Error
	if err != nil {
		logger.Error("Failed to mark purchase %s transferred: %v", claimed.PaymentIntentID, err)
	}
}

// PurchaseEvent is the JSON payload published for each settled purchase
type PurchaseEvent struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ListingID       string `json:"listing_id,omitempty"`
	ContractAddress string `json:"contract_address"`
	TokenID         string `json:"token_id"`
	ChainID         int64  `json:"chain_id"`
	WalletAddress   string `json:"wallet_address"`
	Quantity        int    `json:"quantity"`
	Standard        string `json:"standard"`
	Source          string `json:"source"`
	Timestamp       string `json:"timestamp"`
}

func (s *PurchaseService) publishEvent(ctx context.Context, row *models.Purchase, plan *TransferPlan, walletAddress string) {
	if s.Redis == nil {
		return
	}

	payload, err := json.Marshal(PurchaseEvent{
		PaymentIntentID: row.PaymentIntentID,
		ListingID:       row.ListingID,
		ContractAddress: row.ContractAddress,
		TokenID:         row.TokenID,
		ChainID:         row.ChainID,
		WalletAddress:   walletAddress,
		Quantity:        plan.Quantity,
		Standard:        string(plan.Standard),
		Source:          string(row.Source),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("Failed to marshal purchase event: %v", err)
		return
	}

	if err := s.Redis.Publish(ctx, PurchaseEventChannel, payload).Err(); err != nil {
		logger.Error("Failed to publish purchase event: %v", err)
	}
}

// intentMetadata is the purchase reconstructed from intent metadata
type intentMetadata struct {
	ListingID       string
	ContractAddress string
	TokenID         string
	ChainID         int64
	BuyerEmail      string
	Quantity        int
}

func parseIntentMetadata(intent *stripe.PaymentIntent) (*intentMetadata, error) {
	meta := intent.Metadata
	if meta == nil {
		return nil, fmt.Errorf("%w: intent %s has no metadata", ErrIntentMetadataInvalid, intent.ID)
	}

	m := &intentMetadata{
		ListingID:       meta["listingId"],
		ContractAddress: meta["contractAddress"],
		TokenID:         meta["tokenId"],
		BuyerEmail:      NormalizeEmail(meta["buyerEmail"]),
		Quantity:        1,
	}

	if m.ContractAddress == "" || m.TokenID == "" || m.BuyerEmail == "" {
		return nil, fmt.Errorf("%w: intent %s", ErrIntentMetadataInvalid, intent.ID)
	}

	chainID, err := strconv.ParseInt(meta["chainId"], 10, 64)
	if err != nil || chainID == 0 {
		return nil, fmt.Errorf("%w: intent %s has invalid chainId %q", ErrIntentMetadataInvalid, intent.ID, meta["chainId"])
	}
	m.ChainID = chainID

	if q, err := strconv.Atoi(meta["quantity"]); err == nil && q >= 1 {
		m.Quantity = q
	}

	return m, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
