package facilitator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/encoding"
	"github.com/nacorid/x402-go/internal/eip3009"
	"github.com/nacorid/x402-go/validation"
)

// Reasons reported in VerifyResponse.InvalidReason.
const (
	ReasonInvalidPayload     = "invalid_payment_payload"
	ReasonSchemeMismatch     = "invalid_scheme_mismatch"
	ReasonNetworkMismatch    = "invalid_network_mismatch"
	ReasonUnsupportedNetwork = "invalid_network"
	ReasonToAddressMismatch  = "invalid_authorization_to_address_mismatch"
	ReasonAssetMismatch      = "invalid_requirements_asset"
	ReasonValueExceeded      = "invalid_authorization_value_exceeded"
	ReasonNotYetValid        = "invalid_authorization_valid_after"
	ReasonExpired            = "invalid_authorization_valid_before"
	ReasonInvalidSignature   = "invalid_authorization_signature"
	ReasonSenderMismatch     = "invalid_authorization_sender_mismatch"
)

// LocalVerifier checks payments off-chain: payload shape, that the
// authorization matches the requirements, its validity window and the
// EIP-712 signature. It never touches the chain, so balances and nonce
// reuse are not checked.
type LocalVerifier struct {
	builder *eip3009.Builder
	codec   *encoding.PayloadCodec
	now     func() time.Time
}

var _ Verifier = (*LocalVerifier)(nil)

// VerifierOption configures a LocalVerifier.
type VerifierOption func(*LocalVerifier)

// WithCodec sets the codec used to decode payloads.
func WithCodec(codec *encoding.PayloadCodec) VerifierOption {
	return func(v *LocalVerifier) {
		v.codec = codec
	}
}

// WithClock replaces time.Now for validity window checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *LocalVerifier) {
		v.now = now
	}
}

// NewLocalVerifier returns a verifier for the chains in table.
func NewLocalVerifier(chains *x402.ChainTable, opts ...VerifierOption) *LocalVerifier {
	v := &LocalVerifier{
		builder: eip3009.NewBuilder(chains),
		codec:   encoding.Default,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify implements Verifier. Invalid details are an error; an invalid
// payment is a VerifyResponse with IsValid false.
func (v *LocalVerifier) Verify(ctx context.Context, payload string, details x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validation.ValidatePaymentRequirements(details); err != nil {
		return nil, err
	}

	payment, err := v.codec.Decode(payload)
	if err != nil {
		return &x402.VerifyResponse{InvalidReason: ReasonInvalidPayload}, nil
	}

	params := payment.Payload.Params
	result := &x402.VerifyResponse{Payer: params.From.Hex()}
	reject := func(reason string) (*x402.VerifyResponse, error) {
		result.InvalidReason = reason
		return result, nil
	}

	if payment.Scheme != details.Scheme {
		return reject(ReasonSchemeMismatch)
	}
	chainID, err := x402.ParseChainID(details.NetworkID)
	if err != nil || chainID != params.ChainID {
		return reject(ReasonNetworkMismatch)
	}
	if _, ok := v.builder.Chains().Lookup(chainID); !ok {
		return reject(ReasonUnsupportedNetwork)
	}
	if common.HexToAddress(details.PayToAddress) != params.To {
		return reject(ReasonToAddressMismatch)
	}
	if common.HexToAddress(details.USDCAddress) != params.ContractAddress {
		return reject(ReasonAssetMismatch)
	}

	maxAmount, err := validation.ParseUint256(details.MaxAmountRequired)
	if err != nil {
		return nil, err
	}
	if params.Value.Cmp(maxAmount) > 0 {
		return reject(ReasonValueExceeded)
	}

	now := v.now().Unix()
	if now < params.ValidAfter {
		return reject(ReasonNotYetValid)
	}
	if now >= params.ValidBefore {
		return reject(ReasonExpired)
	}

	signer, err := v.builder.RecoverSigner(params, payment.Payload.Signature)
	if err != nil {
		return reject(ReasonInvalidSignature)
	}
	if signer != params.From {
		return reject(ReasonSenderMismatch)
	}

	result.IsValid = true
	return result, nil
}
