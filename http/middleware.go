package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/encoding"
	"github.com/nacorid/x402-go/facilitator"
	"github.com/nacorid/x402-go/http/internal/helpers"
)

// Config holds the configuration for the x402 payment middleware.
type Config struct {
	// Facilitator verifies and settles payments.
	// NewFacilitatorClient returns a remote one; facilitator.NewLocalVerifier
	// can back verify-only deployments.
	Facilitator facilitator.Interface

	// PaymentRequirements is the payment asked for every gated request.
	// An empty Resource is filled from the request URL.
	PaymentRequirements x402.PaymentRequirements

	// VerifyOnly skips settlement if true (only verifies payments).
	VerifyOnly bool

	// Codec decodes X-PAYMENT headers. Defaults to encoding.Default.
	Codec *encoding.PayloadCodec

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing verified payment information.
const PaymentContextKey = contextKey("x402_payment")

// NewX402Middleware creates a payment-gating middleware for net/http handlers.
//
// A request without X-PAYMENT gets a 402 carrying the requirements. A payment
// is verified before the handler runs and settled only once the handler
// commits a status below 400, so failed requests are never charged.
func NewX402Middleware(config Config) func(http.Handler) http.Handler {
	codec := config.Codec
	if codec == nil {
		codec = encoding.Default
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requirements := config.PaymentRequirements
			if requirements.Resource == "" {
				requirements.Resource = helpers.BuildResourceURL(r)
			}
			if requirements.Description == "" {
				requirements.Description = "Payment required for " + r.URL.Path
			}

			paymentHeader := r.Header.Get(x402.HeaderPayment)
			if paymentHeader == "" {
				logger.Info("no payment header provided", "path", r.URL.Path)
				if err := helpers.SendPaymentRequired(w, requirements, "X-PAYMENT header is required"); err != nil {
					logger.Error("failed to send payment required response", "error", err)
				}
				return
			}

			payment, err := helpers.ParsePaymentHeader(r, codec)
			if err != nil {
				logger.Warn("invalid payment header", "error", err)
				http.Error(w, "Invalid payment header", http.StatusBadRequest)
				return
			}

			logger.Info("verifying payment", "payer", payment.Payload.Params.From.Hex(), "network", payment.Network)
			verifyResp, err := config.Facilitator.Verify(r.Context(), paymentHeader, requirements)
			if err != nil {
				logger.Error("facilitator verification failed", "error", err)
				http.Error(w, "Payment verification failed", http.StatusServiceUnavailable)
				return
			}
			if !verifyResp.IsValid {
				logger.Warn("payment verification failed", "reason", verifyResp.InvalidReason)
				if err := helpers.SendPaymentRequired(w, requirements, verifyResp.InvalidReason); err != nil {
					logger.Error("failed to send payment required response", "error", err)
				}
				return
			}

			logger.Info("payment verified", "payer", verifyResp.Payer)

			r = r.WithContext(context.WithValue(r.Context(), PaymentContextKey, verifyResp))

			interceptor := &settlementInterceptor{
				w: w,
				settleFunc: func() bool {
					if config.VerifyOnly {
						return true
					}

					logger.Info("settling payment", "payer", verifyResp.Payer)
					settlement, err := config.Facilitator.Settle(r.Context(), paymentHeader, requirements)
					if err != nil {
						logger.Error("settlement failed", "error", err)
						http.Error(w, "Payment settlement failed", http.StatusServiceUnavailable)
						return false
					}
					if settlement == nil || !settlement.Success {
						reason := "settlement failed"
						if settlement != nil && settlement.Error != "" {
							reason = settlement.Error
						}
						logger.Warn("settlement unsuccessful", "reason", reason)
						if err := helpers.SendPaymentRequired(w, requirements, reason); err != nil {
							logger.Error("failed to send payment required response", "error", err)
						}
						return false
					}

					logger.Info("payment settled", "txHash", settlement.TxHash)
					if err := helpers.AddPaymentResponseHeader(w, settlement); err != nil {
						logger.Warn("failed to add payment response header", "error", err)
					}
					return true
				},
				onFailure: func(statusCode int) {
					logger.Warn("handler returned non-success, skipping payment settlement", "status", statusCode)
				},
			}
			next.ServeHTTP(interceptor, r)
			interceptor.finish()
		})
	}
}

// settlementInterceptor settles at the moment the handler commits a status.
type settlementInterceptor struct {
	w          http.ResponseWriter
	settleFunc func() bool
	onFailure  func(statusCode int)
	committed  bool
	// hijacked is set when settlement failed and the error response replaced the handler's.
	hijacked bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if i.hijacked {
		return len(b), nil
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	if statusCode >= 400 {
		if i.onFailure != nil {
			i.onFailure(statusCode)
		}
		i.w.WriteHeader(statusCode)
		return
	}

	if !i.settleFunc() {
		i.hijacked = true
		return
	}
	i.w.WriteHeader(statusCode)
}

// finish settles for handlers that returned without writing anything,
// which net/http answers with 200.
func (i *settlementInterceptor) finish() {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
}

// Flush implements http.Flusher to support streaming responses.
func (i *settlementInterceptor) Flush() {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if i.hijacked {
		return
	}
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker. Upgrades are settled before the connection is handed over.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := i.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	if !i.committed {
		i.committed = true
		if !i.settleFunc() {
			i.hijacked = true
			return nil, nil, x402.ErrSettlementFailed
		}
	}
	return hijacker.Hijack()
}

// GetPaymentFromContext extracts the verified payment information from the request context.
// Returns nil if no payment was verified or the context does not contain payment info.
func GetPaymentFromContext(ctx context.Context) *x402.VerifyResponse {
	resp, _ := ctx.Value(PaymentContextKey).(*x402.VerifyResponse)
	return resp
}
