// Package encoding provides utilities for encoding and decoding x402 payment data.
// Payloads are serialized to JSON with every integer written as a decimal
// string, then wrapped in a header-safe TransportCodec.
package encoding

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/validation"
)

// decimal is an integer carried as a JSON string. Unmarshal also accepts a
// bare JSON number so that payloads from lenient producers still decode.
type decimal string

func (d decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(d))
}

func (d *decimal) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = decimal(n.String())
	return nil
}

type wireParams struct {
	From            common.Address `json:"from"`
	To              common.Address `json:"to"`
	Value           decimal        `json:"value"`
	ValidAfter      decimal        `json:"validAfter"`
	ValidBefore     decimal        `json:"validBefore"`
	Nonce           common.Hash    `json:"nonce"`
	ChainID         decimal        `json:"chainId"`
	Version         string         `json:"version"`
	ContractAddress common.Address `json:"contractAddress"`
}

type wireExact struct {
	Signature hexutil.Bytes `json:"signature"`
	Params    wireParams    `json:"params"`
}

type wirePayload struct {
	X402Version int       `json:"x402Version"`
	Scheme      string    `json:"scheme"`
	Network     string    `json:"network"`
	Payload     wireExact `json:"payload"`
}

// toWire copies p into its wire form; the caller's payload is never mutated.
func toWire(p x402.PaymentPayloadV1) wirePayload {
	params := p.Payload.Params
	sig := make(hexutil.Bytes, len(p.Payload.Signature))
	copy(sig, p.Payload.Signature)

	return wirePayload{
		X402Version: p.X402Version,
		Scheme:      p.Scheme,
		Network:     p.Network,
		Payload: wireExact{
			Signature: sig,
			Params: wireParams{
				From:            params.From,
				To:              params.To,
				Value:           decimal(params.Value.String()),
				ValidAfter:      decimal(fmt.Sprint(params.ValidAfter)),
				ValidBefore:     decimal(fmt.Sprint(params.ValidBefore)),
				Nonce:           params.Nonce,
				ChainID:         decimal(fmt.Sprint(params.ChainID)),
				Version:         params.Version,
				ContractAddress: params.ContractAddress,
			},
		},
	}
}

func fromWire(w wirePayload) (x402.PaymentPayloadV1, error) {
	var p x402.PaymentPayloadV1
	wp := w.Payload.Params

	value, err := validation.ParseUint256(string(wp.Value))
	if err != nil {
		return p, fmt.Errorf("value: %w", err)
	}
	validAfter, err := validation.ParseUint256(string(wp.ValidAfter))
	if err != nil || !validAfter.IsInt64() {
		return p, fmt.Errorf("%w: validAfter %q is not a unix timestamp", x402.ErrValidation, wp.ValidAfter)
	}
	validBefore, err := validation.ParseUint256(string(wp.ValidBefore))
	if err != nil || !validBefore.IsInt64() {
		return p, fmt.Errorf("%w: validBefore %q is not a unix timestamp", x402.ErrValidation, wp.ValidBefore)
	}
	chainID, err := validation.ParseUint256(string(wp.ChainID))
	if err != nil || !chainID.IsUint64() {
		return p, fmt.Errorf("%w: chainId %q out of range", x402.ErrValidation, wp.ChainID)
	}

	p = x402.PaymentPayloadV1{
		X402Version: w.X402Version,
		Scheme:      w.Scheme,
		Network:     w.Network,
		Payload: x402.ExactPayload{
			Signature: w.Payload.Signature,
			Params: x402.AuthorizationParameters{
				From:            wp.From,
				To:              wp.To,
				Value:           value,
				ValidAfter:      validAfter.Int64(),
				ValidBefore:     validBefore.Int64(),
				Nonce:           wp.Nonce,
				ChainID:         chainID.Uint64(),
				Version:         wp.Version,
				ContractAddress: wp.ContractAddress,
			},
		},
	}
	return p, nil
}

// PayloadCodec encodes PaymentPayloadV1 values for the X-PAYMENT header.
// It is stateless and safe for concurrent use.
type PayloadCodec struct {
	transport TransportCodec
}

// NewPayloadCodec returns a codec using transport, or Base64 when nil.
func NewPayloadCodec(transport TransportCodec) *PayloadCodec {
	if transport == nil {
		transport = Base64
	}
	return &PayloadCodec{transport: transport}
}

// Default is the codec used by the package-level helpers.
var Default = NewPayloadCodec(Base64)

// Encode validates p and converts it to its header form.
// Identical payloads always produce identical strings.
func (c *PayloadCodec) Encode(p x402.PaymentPayloadV1) (string, error) {
	if err := validation.ValidatePaymentPayload(p); err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeValidation, "refusing to encode invalid payment", err)
	}

	paymentJSON, err := json.Marshal(toWire(p))
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeEncoding, "failed to marshal payment",
			fmt.Errorf("%w: %w", x402.ErrEncoding, err))
	}
	return c.transport.Encode(paymentJSON), nil
}

// Decode reverses Encode and validates the result.
// Malformed transport data or JSON yields ErrEncoding; shape or range
// violations yield ErrValidation.
func (c *PayloadCodec) Decode(encoded string) (x402.PaymentPayloadV1, error) {
	var payment x402.PaymentPayloadV1

	if encoded == "" {
		return payment, x402.NewPaymentError(x402.ErrCodeEncoding, "failed to decode payment",
			fmt.Errorf("%w: empty payment", x402.ErrEncoding))
	}

	decoded, err := c.transport.Decode(encoded)
	if err != nil {
		return payment, x402.NewPaymentError(x402.ErrCodeEncoding, "failed to decode payment",
			fmt.Errorf("%w: %w", x402.ErrEncoding, err))
	}
	if !json.Valid(decoded) {
		return payment, x402.NewPaymentError(x402.ErrCodeEncoding, "failed to decode payment",
			fmt.Errorf("%w: payment is not valid JSON", x402.ErrEncoding))
	}

	if err := validation.ValidatePayloadDocument(decoded); err != nil {
		return payment, x402.NewPaymentError(x402.ErrCodeValidation, "invalid payment", err)
	}

	var wire wirePayload
	if err := json.Unmarshal(decoded, &wire); err != nil {
		return payment, x402.NewPaymentError(x402.ErrCodeValidation, "invalid payment",
			fmt.Errorf("%w: %v", x402.ErrValidation, err))
	}

	payment, err = fromWire(wire)
	if err != nil {
		return x402.PaymentPayloadV1{}, x402.NewPaymentError(x402.ErrCodeValidation, "invalid payment", err)
	}
	if err := validation.ValidatePaymentPayload(payment); err != nil {
		return x402.PaymentPayloadV1{}, x402.NewPaymentError(x402.ErrCodeValidation, "invalid payment", err)
	}
	return payment, nil
}

// EncodePayment encodes a payment with the Default codec.
func EncodePayment(payment x402.PaymentPayloadV1) (string, error) {
	return Default.Encode(payment)
}

// DecodePayment decodes a payment with the Default codec.
func DecodePayment(encoded string) (x402.PaymentPayloadV1, error) {
	return Default.Decode(encoded)
}

// EncodeSettlement converts a SettleResponse to base64-encoded JSON string.
// This is used for HTTP X-PAYMENT-RESPONSE headers.
func EncodeSettlement(settlement x402.SettleResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return Base64.Encode(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to SettleResponse.
func DecodeSettlement(encoded string) (x402.SettleResponse, error) {
	var settlement x402.SettleResponse

	decoded, err := Base64.Decode(encoded)
	if err != nil {
		return settlement, fmt.Errorf("%w: failed to decode base64: %w", x402.ErrEncoding, err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("%w: failed to unmarshal settlement: %w", x402.ErrEncoding, err)
	}

	return settlement, nil
}
