/**
 * @description
 * Blockchain Service for probing NFT contracts.
 * Detects the token standard of a contract (ERC-721 vs ERC-1155) via the
 * ERC-165 supportsInterface capability probe, so the orchestrator can pick
 * the matching relay transfer call.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum
 * - backend/internal/config
 */

package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mintbay-project/backend/internal/config"
)

// ERC-165 ABI for supportsInterface
const erc165ABI = `[{"constant":true,"inputs":[{"name":"interfaceId","type":"bytes4"}],"name":"supportsInterface","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

const detectCallTimeout = 8 * time.Second

// erc1155InterfaceID is the ERC-165 identifier for the ERC-1155 standard
var erc1155InterfaceID = [4]byte{0xd9, 0xb6, 0x7a, 0x26}

// TokenStandard tags which transfer shape a contract requires
type TokenStandard string

const (
	TokenStandardERC721  TokenStandard = "ERC721"
	TokenStandardERC1155 TokenStandard = "ERC1155"
)

// TransferPlan is the detection result the orchestrator dispatches on:
// Single for ERC-721 ownership tokens, FungibleSet (quantity ≥ 1) for ERC-1155.
type TransferPlan struct {
	Standard TokenStandard
	Quantity int // only meaningful for ERC1155
}

// StandardDetector abstracts the capability probe so tests can fake chains
type StandardDetector interface {
	DetectStandard(ctx context.Context, chainID int64, contractAddress string) (TokenStandard, error)
}

type BlockchainService struct {
	rpcURLs     map[int64]string
	supportsABI abi.ABI

	clientMu sync.Mutex
	clients  map[int64]*ethclient.Client

	cacheMu       sync.Mutex
	standardCache map[string]TokenStandard
}

func NewBlockchainService(cfg *config.Config) (*BlockchainService, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc165ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC165 ABI: %w", err)
	}

	return &BlockchainService{
		rpcURLs:       cfg.Chains.RPCURLs,
		supportsABI:   parsedABI,
		clients:       make(map[int64]*ethclient.Client),
		standardCache: make(map[string]TokenStandard),
	}, nil
}

// DetectStandard queries the contract's ERC-165 interface support for
// ERC-1155. A contract that does not report support (including contracts that
// revert the probe entirely) is treated as ERC-721.
func (s *BlockchainService) DetectStandard(ctx context.Context, chainID int64, contractAddress string) (TokenStandard, error) {
	addr := common.HexToAddress(contractAddress)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("invalid contract address: %s", contractAddress)
	}

	cacheKey := fmt.Sprintf("%d:%s", chainID, strings.ToLower(addr.Hex()))
	if std, ok := s.getCachedStandard(cacheKey); ok {
		return std, nil
	}

	client, err := s.clientFor(chainID)
	if err != nil {
		return "", err
	}

	data, err := s.supportsABI.Pack("supportsInterface", erc1155InterfaceID)
	if err != nil {
		return "", fmt.Errorf("failed to pack supportsInterface call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, detectCallTimeout)
	defer cancel()

	callMsg := ethereum.CallMsg{
		To:   &addr,
		Data: data,
	}

	result, err := client.CallContract(ctx, callMsg, nil)
	if err != nil {
		// Pre-ERC165 contracts revert the probe; that still means "not ERC-1155".
		if strings.Contains(err.Error(), "execution reverted") {
			s.setCachedStandard(cacheKey, TokenStandardERC721)
			return TokenStandardERC721, nil
		}
		return "", fmt.Errorf("failed to call contract: %w", err)
	}

	standard := TokenStandardERC721
	if len(result) > 0 {
		values, err := s.supportsABI.Unpack("supportsInterface", result)
		if err != nil {
			return "", fmt.Errorf("failed to unpack supportsInterface result: %w", err)
		}
		if len(values) > 0 {
			if supported, ok := values[0].(bool); ok && supported {
				standard = TokenStandardERC1155
			}
		}
	}

	// Contract standards are immutable; cache for the process lifetime.
	s.setCachedStandard(cacheKey, standard)
	return standard, nil
}

func (s *BlockchainService) clientFor(chainID int64) (*ethclient.Client, error) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	if client, ok := s.clients[chainID]; ok {
		return client, nil
	}

	rpcURL, ok := s.rpcURLs[chainID]
	if !ok {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %d", chainID)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d RPC: %w", chainID, err)
	}

	s.clients[chainID] = client
	return client, nil
}

func (s *BlockchainService) getCachedStandard(key string) (TokenStandard, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	std, ok := s.standardCache[key]
	return std, ok
}

func (s *BlockchainService) setCachedStandard(key string, std TokenStandard) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.standardCache[key] = std
}

// Close closes all chain client connections
func (s *BlockchainService) Close() {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for _, client := range s.clients {
		client.Close()
	}
}
