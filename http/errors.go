package http

import (
	"fmt"

	x402 "github.com/nacorid/x402-go"
)

// PaymentRequiredError is returned when a 402 response could not be paid.
// It carries the original 402 so callers can inspect what the server asked
// for; the cause is reachable through errors.Is and errors.As.
type PaymentRequiredError struct {
	// StatusCode is the status of the original response (always 402).
	StatusCode int

	// Body is the original 402 response body.
	Body []byte

	// Requirements are the validated requirements, or nil if validation failed.
	Requirements *x402.PaymentRequirements

	// Err is the validation, signing or encoding failure.
	Err error
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("x402: payment required (status %d): %v", e.StatusCode, e.Err)
}

func (e *PaymentRequiredError) Unwrap() error {
	return e.Err
}
