// Package gin provides Gin handlers for x402: a payment-gating middleware for
// resource servers and the reference facilitator endpoints.
package gin

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/encoding"
	"github.com/nacorid/x402-go/facilitator"
	"github.com/nacorid/x402-go/http/internal/helpers"
)

// PaymentContextKey is the gin context key for storing verified payment information.
const PaymentContextKey = "x402_payment"

// Config configures NewX402Middleware.
type Config struct {
	// Facilitator verifies and settles payments.
	Facilitator facilitator.Interface

	// PaymentRequirements is the payment asked for every gated request.
	// An empty Resource is filled from the request URL.
	PaymentRequirements x402.PaymentRequirements

	// VerifyOnly skips settlement.
	VerifyOnly bool

	// Codec decodes X-PAYMENT headers. Defaults to encoding.Default.
	Codec *encoding.PayloadCodec

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewX402Middleware creates a payment-gating middleware.
//
// The middleware:
//   - Returns 402 with {error, paymentRequirements} if X-PAYMENT is missing
//   - Returns 400 if the header cannot be decoded
//   - Verifies the payment with the facilitator, answering 402 if it is invalid
//   - Stores the VerifyResponse under PaymentContextKey and calls c.Next()
//   - Settles the payment (unless VerifyOnly) once the handler commits a
//     status below 400, setting X-PAYMENT-RESPONSE before the headers go out
//
// Example usage:
//
//	client, err := x402http.NewFacilitatorClient("https://facilitator.example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r := gin.Default()
//	r.Use(x402gin.NewX402Middleware(x402gin.Config{
//	    Facilitator: client,
//	    PaymentRequirements: x402.PaymentRequirements{
//	        Scheme:            "exact",
//	        NetworkID:         "84532",
//	        MaxAmountRequired: "10000",
//	        PayToAddress:      "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
//	        USDCAddress:       "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
//	    },
//	}))
func NewX402Middleware(config Config) gin.HandlerFunc {
	codec := config.Codec
	if codec == nil {
		codec = encoding.Default
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		requirements := config.PaymentRequirements
		if requirements.Resource == "" {
			requirements.Resource = helpers.BuildResourceURL(c.Request)
		}
		if requirements.Description == "" {
			requirements.Description = "Payment required for " + c.Request.URL.Path
		}

		paymentHeader := c.GetHeader(x402.HeaderPayment)
		if paymentHeader == "" {
			logger.Info("no payment header provided", "path", c.Request.URL.Path)
			sendPaymentRequiredGin(c, requirements, "X-PAYMENT header is required")
			return
		}

		payment, err := helpers.ParsePaymentHeader(c.Request, codec)
		if err != nil {
			logger.Warn("invalid payment header", "error", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid payment header"})
			return
		}

		logger.Info("verifying payment", "payer", payment.Payload.Params.From.Hex(), "network", payment.Network)
		verifyResp, err := config.Facilitator.Verify(c.Request.Context(), paymentHeader, requirements)
		if err != nil {
			logger.Error("facilitator verification failed", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Payment verification failed"})
			return
		}
		if !verifyResp.IsValid {
			logger.Warn("payment verification failed", "reason", verifyResp.InvalidReason)
			sendPaymentRequiredGin(c, requirements, verifyResp.InvalidReason)
			return
		}

		logger.Info("payment verified", "payer", verifyResp.Payer)

		c.Set(PaymentContextKey, verifyResp)

		if config.VerifyOnly {
			c.Next()
			return
		}

		writer := &settlementWriter{
			ResponseWriter: c.Writer,
			settle: func(w gin.ResponseWriter) bool {
				logger.Info("settling payment", "payer", verifyResp.Payer)
				settlement, err := config.Facilitator.Settle(c.Request.Context(), paymentHeader, requirements)
				if err != nil {
					logger.Error("settlement failed", "error", err)
					writeJSON(w, http.StatusServiceUnavailable, gin.H{"error": "Payment settlement failed"})
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
			onFailure: func(status int) {
				logger.Warn("handler returned non-success, skipping payment settlement", "status", status)
			},
		}
		c.Writer = writer
		defer func() { c.Writer = writer.ResponseWriter }()

		c.Next()
		writer.commit()
	}
}

// settlementWriter settles the payment when the handler commits its response.
// Statuses of 400 and above pass through unsettled. When settlement fails its
// error response replaces whatever the handler goes on to write.
type settlementWriter struct {
	gin.ResponseWriter
	settle    func(w gin.ResponseWriter) bool
	onFailure func(status int)
	committed bool
	discard   bool
}

func (w *settlementWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true

	if status := w.ResponseWriter.Status(); status >= 400 {
		w.onFailure(status)
		return
	}
	if !w.settle(w.ResponseWriter) {
		w.discard = true
	}
}

func (w *settlementWriter) WriteHeader(code int) {
	if !w.committed {
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *settlementWriter) WriteHeaderNow() {
	w.commit()
	if !w.discard {
		w.ResponseWriter.WriteHeaderNow()
	}
}

func (w *settlementWriter) Write(data []byte) (int, error) {
	w.commit()
	if w.discard {
		return len(data), nil
	}
	return w.ResponseWriter.Write(data)
}

func (w *settlementWriter) WriteString(s string) (int, error) {
	w.commit()
	if w.discard {
		return len(s), nil
	}
	return w.ResponseWriter.WriteString(s)
}

func (w *settlementWriter) Flush() {
	w.commit()
	if !w.discard {
		w.ResponseWriter.Flush()
	}
}

func (w *settlementWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.commit()
	if w.discard {
		return nil, nil, x402.ErrSettlementFailed
	}
	return w.ResponseWriter.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// sendPaymentRequiredGin aborts the chain with a 402 carrying the requirements.
func sendPaymentRequiredGin(c *gin.Context, requirements x402.PaymentRequirements, errMsg string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentRequired{
		Error:               errMsg,
		PaymentRequirements: &requirements,
	})
}

// GetPaymentFromContext extracts the verified payment information from the Gin context.
// Returns nil if no payment was verified or the context does not contain payment info.
func GetPaymentFromContext(c *gin.Context) *x402.VerifyResponse {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	resp, ok := value.(*x402.VerifyResponse)
	if !ok {
		return nil
	}
	return resp
}
