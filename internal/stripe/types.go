/**
 * @description
 * Types for the Stripe Payment Intents API surface this service consumes.
 *
 * @dependencies
 * - encoding/json (struct tags)
 */

package stripe

// PaymentIntent lifecycle statuses this service branches on.
// The full lifecycle is owned by Stripe; we only ever read it.
const (
	StatusSucceeded = "succeeded"
)

// PaymentIntent is the subset of Stripe's payment_intent object we consume
type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Amount       int64             `json:"amount"` // minor units (cents)
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

// apiError is Stripe's error envelope
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
