// Package validation checks x402 structures at trust boundaries.
// Documents are first checked against a JSON schema for shape, then
// decoded values are checked for range and consistency.
package validation

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"

	"github.com/holiman/uint256"

	x402 "github.com/nacorid/x402-go"
)

// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
var evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ParseUint256 parses a decimal string into a value in [0, 2^256).
func ParseUint256(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: integer cannot be empty", x402.ErrValidation)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: invalid decimal integer %q", x402.ErrValidation, s)
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is outside the uint256 range: %v", x402.ErrValidation, s, err)
	}
	return v.ToBig(), nil
}

// ValidateUint256 reports whether v is a non-negative integer below 2^256.
func ValidateUint256(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: integer is missing", x402.ErrValidation)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: integer cannot be negative, got %s", x402.ErrValidation, v)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("%w: integer exceeds 256 bits", x402.ErrValidation)
	}
	return nil
}

// ValidateAddress validates a 0x-prefixed 20-byte hex address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: address cannot be empty", x402.ErrValidation)
	}
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("%w: invalid EVM address format: %s (expected 0x followed by 40 hex characters)", x402.ErrValidation, address)
	}
	return nil
}

// ValidatePaymentRequirements performs semantic checks on decoded requirements.
func ValidatePaymentRequirements(req x402.PaymentRequirements) error {
	wrap := func(err error) error {
		return fmt.Errorf("%w: %w", x402.ErrInvalidRequirements, err)
	}

	switch req.Scheme {
	case x402.SchemeExact:
	case "":
		return wrap(fmt.Errorf("%w: scheme cannot be empty", x402.ErrValidation))
	default:
		return wrap(fmt.Errorf("%w: %w: %s", x402.ErrValidation, x402.ErrUnsupportedScheme, req.Scheme))
	}

	if _, err := x402.ParseChainID(req.NetworkID); err != nil {
		return wrap(fmt.Errorf("%w: %w", x402.ErrValidation, err))
	}
	if _, err := ParseUint256(req.MaxAmountRequired); err != nil {
		return wrap(fmt.Errorf("maxAmountRequired: %w", err))
	}
	if err := ValidateAddress(req.PayToAddress); err != nil {
		return wrap(fmt.Errorf("payToAddress: %w", err))
	}
	if err := ValidateAddress(req.USDCAddress); err != nil {
		return wrap(fmt.Errorf("usdcAddress: %w", err))
	}
	if req.RequiredDeadlineSeconds < 0 {
		return wrap(fmt.Errorf("%w: deadline cannot be negative: %d", x402.ErrValidation, req.RequiredDeadlineSeconds))
	}
	if v, ok := req.Extra["version"]; ok {
		if s, isString := v.(string); !isString || s == "" {
			return wrap(fmt.Errorf("%w: extra.version must be a non-empty string", x402.ErrValidation))
		}
	}
	return nil
}

// ParsePaymentRequirements validates raw JSON as payment requirements and decodes it.
// The input is treated as untrusted regardless of its apparent shape.
func ParsePaymentRequirements(raw []byte) (*x402.PaymentRequirements, error) {
	if err := ValidateRequirementsDocument(raw); err != nil {
		return nil, err
	}

	normalized, err := quoteAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", x402.ErrInvalidRequirements, x402.ErrValidation, err)
	}

	var req x402.PaymentRequirements
	if err := json.Unmarshal(normalized, &req); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", x402.ErrInvalidRequirements, x402.ErrValidation, err)
	}

	if err := ValidatePaymentRequirements(req); err != nil {
		return nil, err
	}
	return &req, nil
}

// quoteAmount rewrites a numeric maxAmountRequired as a decimal string.
// Servers that type the amount as an integer send it as a bare JSON number.
func quoteAmount(raw []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	amount, ok := fields["maxAmountRequired"]
	if !ok || len(amount) == 0 || amount[0] == '"' {
		return raw, nil
	}

	quoted, err := json.Marshal(string(amount))
	if err != nil {
		return nil, err
	}
	fields["maxAmountRequired"] = quoted
	return json.Marshal(fields)
}

// ValidatePaymentPayload performs semantic checks on a payment payload.
func ValidatePaymentPayload(p x402.PaymentPayloadV1) error {
	if p.X402Version != x402.X402Version {
		return fmt.Errorf("%w: unsupported x402 version: %d (expected %d)", x402.ErrValidation, p.X402Version, x402.X402Version)
	}
	if p.Scheme != x402.SchemeExact {
		return fmt.Errorf("%w: %w: %q", x402.ErrValidation, x402.ErrUnsupportedScheme, p.Scheme)
	}

	chainID, err := x402.ParseChainID(p.Network)
	if err != nil {
		return fmt.Errorf("%w: %w", x402.ErrValidation, err)
	}

	params := p.Payload.Params
	if chainID != params.ChainID {
		return fmt.Errorf("%w: network %s does not match chainId %d", x402.ErrValidation, p.Network, params.ChainID)
	}
	if len(p.Payload.Signature) != 65 {
		return fmt.Errorf("%w: signature is %d bytes, want 65", x402.ErrValidation, len(p.Payload.Signature))
	}
	if err := ValidateUint256(params.Value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if params.ValidAfter < 0 {
		return fmt.Errorf("%w: validAfter cannot be negative", x402.ErrValidation)
	}
	if params.ValidAfter >= params.ValidBefore {
		return fmt.Errorf("%w: validAfter %d is not before validBefore %d", x402.ErrValidation, params.ValidAfter, params.ValidBefore)
	}
	if params.Version == "" {
		return fmt.Errorf("%w: version cannot be empty", x402.ErrValidation)
	}
	return nil
}
