package x402

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedDataSigner is the account capability that signs EIP-712 typed data.
// Implementations may block for a long time (e.g., waiting for a user to
// confirm in a wallet) and should honor ctx cancellation.
type TypedDataSigner interface {
	// Address returns the account that produces signatures.
	Address() common.Address

	// SignTypedData returns a 65-byte r || s || v signature over data.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Signer creates signed payment payloads for payment requirements.
type Signer interface {
	// Scheme returns the payment scheme identifier (e.g., "exact").
	Scheme() string

	// CanSign checks if this signer can satisfy the given payment requirements.
	CanSign(requirements *PaymentRequirements) bool

	// Sign creates a signed PaymentPayloadV1 for the given requirements.
	Sign(ctx context.Context, requirements *PaymentRequirements) (*PaymentPayloadV1, error)
}
