/**
 * @description
 * Types for the transaction-relay (Engine) API.
 * The Engine queues on-chain transactions signed by a custodial backend
 * wallet; callers only learn that the request was accepted, not that the
 * transaction was mined.
 */

package engine

// TransferRequest describes one NFT transfer to submit to the relay.
// Quantity is only meaningful for ERC-1155 transfers.
type TransferRequest struct {
	ContractAddress string
	TokenID         string
	To              string
	ChainID         int64
	Quantity        int
	IdempotencyKey  string // payment intent id; lets the relay deduplicate replays
}

// TransferResponse is the relay's acknowledgement of a queued transfer
type TransferResponse struct {
	Result struct {
		QueueID string `json:"queueId"`
	} `json:"result"`
}

// relayError is the relay's error envelope
type relayError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}
