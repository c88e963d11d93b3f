package gin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/facilitator"
	"github.com/nacorid/x402-go/validation"
)

// FacilitatorConfig configures RegisterFacilitatorRoutes.
type FacilitatorConfig struct {
	// Verifier backs POST /verify. Required.
	Verifier facilitator.Verifier

	// Settler backs POST /settle. When nil, POST /settle answers 503.
	Settler facilitator.Settler

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type facilitatorRequest struct {
	Payload string          `json:"payload"`
	Details json.RawMessage `json:"details"`
}

// RegisterFacilitatorRoutes mounts GET and POST /verify and /settle on router.
// GET routes describe the expected body; POST routes take {payload, details}.
func RegisterFacilitatorRoutes(router gin.IRouter, cfg FacilitatorConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.GET("/verify", usage("/verify", "POST to verify x402 payments"))
	router.GET("/settle", usage("/settle", "POST to settle x402 payments"))

	router.POST("/verify", func(c *gin.Context) {
		payload, details, ok := bindFacilitatorRequest(c, logger)
		if !ok {
			return
		}

		resp, err := cfg.Verifier.Verify(c.Request.Context(), payload, *details)
		if err != nil {
			respondFacilitatorError(c, logger, "verify", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	router.POST("/settle", func(c *gin.Context) {
		if cfg.Settler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Settlement is not configured"})
			return
		}

		payload, details, ok := bindFacilitatorRequest(c, logger)
		if !ok {
			return
		}

		resp, err := cfg.Settler.Settle(c.Request.Context(), payload, *details)
		if err != nil {
			respondFacilitatorError(c, logger, "settle", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})
}

func usage(endpoint, description string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"endpoint":    endpoint,
			"description": description,
			"body": gin.H{
				"payload": "string",
				"details": "PaymentRequirements",
			},
		})
	}
}

// bindFacilitatorRequest decodes the body and validates details against the
// requirements schema. It writes the 400 response itself on failure.
func bindFacilitatorRequest(c *gin.Context, logger *slog.Logger) (string, *x402.PaymentRequirements, bool) {
	var req facilitatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("malformed facilitator request", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return "", nil, false
	}
	if req.Payload == "" || len(req.Details) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return "", nil, false
	}

	details, err := validation.ParsePaymentRequirements(req.Details)
	if err != nil {
		logger.Warn("invalid payment details", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return "", nil, false
	}
	return req.Payload, details, true
}

func respondFacilitatorError(c *gin.Context, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, x402.ErrFacilitatorUnavailable), errors.Is(err, x402.ErrSettlementFailed):
		logger.Error("upstream facilitator failed", "op", op, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream facilitator failed"})
	default:
		logger.Warn("facilitator request rejected", "op", op, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
	}
}
