package x402

import "errors"

// Sentinel errors for x402 payment operations.
var (
	// ErrChainNotConfigured indicates the chain id is absent from the chain table.
	ErrChainNotConfigured = errors.New("x402: chain not configured")

	// ErrSigningFailed indicates the signing capability failed or rejected the request.
	ErrSigningFailed = errors.New("x402: payment signing failed")

	// ErrValidation indicates a structure violates its shape or range constraints.
	ErrValidation = errors.New("x402: validation failed")

	// ErrInvalidRequirements indicates the server-declared payment requirements are invalid.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrEncoding indicates malformed data was supplied to the payload codec.
	ErrEncoding = errors.New("x402: malformed payment encoding")

	// ErrRetryExhausted indicates the server answered 402 to the paid retry.
	ErrRetryExhausted = errors.New("x402: payment retry exhausted")

	// ErrAmountExceeded indicates the payment amount exceeds the per-call limit.
	ErrAmountExceeded = errors.New("x402: payment amount exceeds per-call limit")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrInvalidNetwork indicates a malformed network identifier.
	ErrInvalidNetwork = errors.New("x402: invalid network")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrFacilitatorUnavailable indicates the facilitator service could not be reached.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrVerificationFailed indicates the facilitator rejected a verify call.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates the facilitator rejected a settle call.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	ErrCodeConfiguration  ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeSigningFailed  ErrorCode = "SIGNING_FAILED"
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeEncoding       ErrorCode = "ENCODING_ERROR"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeAmountExceeded ErrorCode = "AMOUNT_EXCEEDED"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the ErrorCode of the first PaymentError in err's chain,
// or the empty code when there is none.
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
