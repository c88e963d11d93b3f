// Package helpers provides internal HTTP utilities for x402 protocol handling.
package helpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/encoding"
)

// ErrNilSettlement is returned when settlement is nil in AddPaymentResponseHeader.
var ErrNilSettlement = errors.New("settlement is nil")

// ErrNilPayment is returned when payment is nil in BuildPaymentHeader.
var ErrNilPayment = errors.New("payment is nil")

// RequirementsDocument returns the raw paymentRequirements object of a 402 body,
// falling back to the legacy paymentDetails key. ok is false when the body is
// not JSON or carries neither key.
func RequirementsDocument(body []byte) (raw json.RawMessage, ok bool) {
	var envelope struct {
		PaymentRequirements json.RawMessage `json:"paymentRequirements"`
		PaymentDetails      json.RawMessage `json:"paymentDetails"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}

	for _, candidate := range []json.RawMessage{envelope.PaymentRequirements, envelope.PaymentDetails} {
		trimmed := bytes.TrimSpace(candidate)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			return trimmed, true
		}
	}
	return nil, false
}

// ParsePaymentHeader extracts and decodes a payment from the X-PAYMENT header.
func ParsePaymentHeader(r *http.Request, codec *encoding.PayloadCodec) (*x402.PaymentPayloadV1, error) {
	paymentHeader := r.Header.Get(x402.HeaderPayment)
	if paymentHeader == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeEncoding, "missing payment header", x402.ErrEncoding)
	}

	payment, err := codec.Decode(paymentHeader)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SendPaymentRequired writes a 402 Payment Required response with the given requirements.
// Returns an error if JSON encoding fails.
func SendPaymentRequired(w http.ResponseWriter, requirements x402.PaymentRequirements, errMsg string) error {
	response := x402.PaymentRequired{
		Error:               errMsg,
		PaymentRequirements: &requirements,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("encoding PaymentRequired response: %w", err)
	}
	return nil
}

// AddPaymentResponseHeader adds the X-PAYMENT-RESPONSE header with settlement information.
// Returns an error if settlement is nil or encoding fails.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettleResponse) error {
	if settlement == nil {
		return fmt.Errorf("AddPaymentResponseHeader: %w", ErrNilSettlement)
	}
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return fmt.Errorf("AddPaymentResponseHeader: encode settlement: %w", err)
	}
	w.Header().Set(x402.HeaderPaymentResponse, encoded)
	return nil
}

// ParseSettlement extracts settlement information from the X-PAYMENT-RESPONSE header.
// Returns nil if the header is empty or cannot be parsed.
func ParseSettlement(headerValue string) *x402.SettleResponse {
	if headerValue == "" {
		return nil
	}

	settlement, err := encoding.DecodeSettlement(headerValue)
	if err != nil {
		return nil
	}

	return &settlement
}

// BuildPaymentHeader creates the X-PAYMENT header value from a payment.
func BuildPaymentHeader(codec *encoding.PayloadCodec, payment *x402.PaymentPayloadV1) (string, error) {
	if payment == nil {
		return "", x402.NewPaymentError(x402.ErrCodeEncoding, "cannot build payment header",
			fmt.Errorf("%w: %w", x402.ErrEncoding, ErrNilPayment))
	}
	return codec.Encode(*payment)
}

// BuildResourceURL constructs the full URL for the protected resource from the request.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}
