package facilitator

import (
	"context"
	"fmt"
	"log/slog"

	x402 "github.com/nacorid/x402-go"
)

// ForwardingSettler verifies a payment locally and hands settlement to an
// upstream facilitator. Payments that fail local verification never leave
// the process.
type ForwardingSettler struct {
	// Verifier runs before anything is forwarded.
	Verifier Verifier

	// Upstream performs the on-chain settlement.
	Upstream Settler

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

var _ Settler = (*ForwardingSettler)(nil)

// Settle implements Settler.
func (s *ForwardingSettler) Settle(ctx context.Context, payload string, details x402.PaymentRequirements) (*x402.SettleResponse, error) {
	if s.Verifier == nil || s.Upstream == nil {
		return nil, fmt.Errorf("%w: settler is not configured", x402.ErrFacilitatorUnavailable)
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	verified, err := s.Verifier.Verify(ctx, payload, details)
	if err != nil {
		return nil, err
	}
	if verified == nil {
		return nil, fmt.Errorf("%w: verifier returned no result", x402.ErrVerificationFailed)
	}
	if !verified.IsValid {
		logger.Warn("refusing to settle invalid payment", "reason", verified.InvalidReason, "payer", verified.Payer)
		return &x402.SettleResponse{
			Success:   false,
			Error:     verified.InvalidReason,
			NetworkID: details.NetworkID,
			Payer:     verified.Payer,
		}, nil
	}

	logger.Info("forwarding settlement", "payer", verified.Payer, "network", details.NetworkID, "amount", details.MaxAmountRequired)
	settled, err := s.Upstream.Settle(ctx, payload, details)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", x402.ErrSettlementFailed, err)
	}
	if settled == nil {
		return nil, fmt.Errorf("%w: upstream returned no result", x402.ErrSettlementFailed)
	}
	if settled.Payer == "" {
		settled.Payer = verified.Payer
	}
	if settled.NetworkID == "" {
		settled.NetworkID = details.NetworkID
	}
	return settled, nil
}
