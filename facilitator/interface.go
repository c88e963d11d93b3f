// Package facilitator defines the interface for x402 payment facilitator operations.
//
// A facilitator checks signed payment authorizations and settles them on
// chain. This package defines the contract shared by the HTTP facilitator
// client, the local verifier and the reference endpoints.
package facilitator

import (
	"context"

	x402 "github.com/nacorid/x402-go"
)

// Verifier checks a payment authorization without executing it.
type Verifier interface {
	// Verify checks that the encoded payment satisfies details.
	// An invalid payment is reported through VerifyResponse.IsValid; an
	// error means the check itself could not be performed.
	Verify(ctx context.Context, payload string, details x402.PaymentRequirements) (*x402.VerifyResponse, error)
}

// Settler executes a verified payment.
type Settler interface {
	// Settle executes the payment. It should only be called after Verify.
	Settle(ctx context.Context, payload string, details x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// Interface defines the standard facilitator contract for payment verification and settlement.
type Interface interface {
	Verifier
	Settler
}

// Request is the body of POST /verify and POST /settle.
type Request struct {
	// Payload is the X-PAYMENT header value sent by the client.
	Payload string `json:"payload"`

	// Details are the requirements the payment must satisfy.
	Details x402.PaymentRequirements `json:"details"`
}
