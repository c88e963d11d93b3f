// Package x402 implements the client side of the x402 "pay, then retry" protocol.
//
// A resource server may answer a request with 402 Payment Required and a
// description of the payment it expects. The client signs a single-use
// EIP-3009 TransferWithAuthorization off-chain, encodes it into the
// X-PAYMENT request header and retries the original request exactly once.
//
// Import path: github.com/nacorid/x402-go
package x402

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// X402Version is the protocol version carried in payment payloads.
const X402Version = 1

// SchemeExact is the only payment scheme supported by this package.
const SchemeExact = "exact"

// Header names used by the protocol.
const (
	// HeaderPayment carries the encoded PaymentPayloadV1 on the retried request.
	HeaderPayment = "X-PAYMENT"

	// HeaderPaymentResponse carries the encoded settlement on the paid response.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	// HeaderExposeHeaders lets browser callers read HeaderPaymentResponse.
	HeaderExposeHeaders = "Access-Control-Expose-Headers"
)

// PaymentRequirements describes what a resource server wants to be paid.
// It is owned by the server side and always re-validated before use.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// NetworkID is the EVM chain id as a decimal string (e.g., "84532").
	NetworkID string `json:"networkId"`

	// MaxAmountRequired is the amount in atomic token units, as a decimal string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is a human-readable description of the resource.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// OutputSchema optionally describes the response body.
	OutputSchema interface{} `json:"outputSchema,omitempty"`

	// PayToAddress is the recipient of the transfer.
	PayToAddress string `json:"payToAddress"`

	// RequiredDeadlineSeconds is how long the authorization stays valid.
	RequiredDeadlineSeconds int `json:"requiredDeadlineSeconds"`

	// USDCAddress is the token contract that verifies the authorization.
	USDCAddress string `json:"usdcAddress"`

	// Extra contains scheme-specific data such as the EIP-712 domain "version".
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	// Error is a human-readable reason.
	Error string `json:"error,omitempty"`

	// PaymentRequirements is the payment the server expects.
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements,omitempty"`

	// PaymentDetails is the legacy name of PaymentRequirements.
	PaymentDetails *PaymentRequirements `json:"paymentDetails,omitempty"`
}

// Requirements returns whichever requirements key the server populated.
func (p PaymentRequired) Requirements() *PaymentRequirements {
	if p.PaymentRequirements != nil {
		return p.PaymentRequirements
	}
	return p.PaymentDetails
}

// AuthorizationParameters are the inputs of an EIP-3009 transferWithAuthorization.
type AuthorizationParameters struct {
	From            common.Address
	To              common.Address
	Value           *big.Int
	ValidAfter      int64
	ValidBefore     int64
	Nonce           common.Hash
	ChainID         uint64
	Version         string
	ContractAddress common.Address
}

// Equal reports whether both parameter sets describe the same authorization.
func (a AuthorizationParameters) Equal(b AuthorizationParameters) bool {
	if (a.Value == nil) != (b.Value == nil) {
		return false
	}
	if a.Value != nil && a.Value.Cmp(b.Value) != 0 {
		return false
	}
	return a.From == b.From &&
		a.To == b.To &&
		a.ValidAfter == b.ValidAfter &&
		a.ValidBefore == b.ValidBefore &&
		a.Nonce == b.Nonce &&
		a.ChainID == b.ChainID &&
		a.Version == b.Version &&
		a.ContractAddress == b.ContractAddress
}

// ExactPayload is the scheme-specific part of a PaymentPayloadV1.
type ExactPayload struct {
	// Signature is the 65-byte EIP-712 signature (r || s || v).
	Signature hexutil.Bytes

	// Params are the signed authorization parameters.
	Params AuthorizationParameters
}

// PaymentPayloadV1 is the signed payment sent in the X-PAYMENT header.
type PaymentPayloadV1 struct {
	X402Version int
	Scheme      string
	Network     string
	Payload     ExactPayload
}

// Equal reports whether two payloads are logically identical.
func (p PaymentPayloadV1) Equal(o PaymentPayloadV1) bool {
	return p.X402Version == o.X402Version &&
		p.Scheme == o.Scheme &&
		p.Network == o.Network &&
		string(p.Payload.Signature) == string(o.Payload.Signature) &&
		p.Payload.Params.Equal(o.Payload.Params)
}

// VerifyResponse is returned by a facilitator's /verify endpoint.
type VerifyResponse struct {
	// IsValid indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason explains why the payment is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer is the address that signed the authorization.
	Payer string `json:"payer,omitempty"`
}

// SettleResponse is returned by a facilitator's /settle endpoint.
type SettleResponse struct {
	// Success indicates whether the payment was settled.
	Success bool `json:"success"`

	// Error explains a failed settlement.
	Error string `json:"error,omitempty"`

	// TxHash is the settlement transaction hash.
	TxHash string `json:"txHash,omitempty"`

	// NetworkID is the chain the payment was settled on.
	NetworkID string `json:"networkId,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}
