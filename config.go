package x402

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FacilitatorOp names a facilitator endpoint for timeout selection.
type FacilitatorOp string

const (
	OpVerify FacilitatorOp = "verify"
	OpSettle FacilitatorOp = "settle"
)

// TimeoutConfig bounds the calls a resource server makes to its facilitator.
// The client-side 402 retry has no timeout of its own; callers bound it
// through the request context or http.Client.Timeout.
type TimeoutConfig struct {
	// VerifyTimeout bounds POST /verify.
	VerifyTimeout time.Duration

	// SettleTimeout bounds POST /settle, which waits for the chain.
	SettleTimeout time.Duration

	// RequestTimeout is the http.Client ceiling for any facilitator request.
	RequestTimeout time.Duration
}

// DefaultTimeouts is used by facilitator clients unless overridden.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// For returns the timeout for op. Unknown operations get RequestTimeout.
func (tc TimeoutConfig) For(op FacilitatorOp) time.Duration {
	switch op {
	case OpVerify:
		return tc.VerifyTimeout
	case OpSettle:
		return tc.SettleTimeout
	default:
		return tc.RequestTimeout
	}
}

// Bound limits ctx by the timeout for op. A ctx that already has a deadline
// is returned as is, as is every ctx when the timeout is not positive.
func (tc TimeoutConfig) Bound(ctx context.Context, op FacilitatorOp) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	d := tc.For(op)
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Validate rejects non-positive timeouts, and orderings in which the
// http.Client ceiling or the verify step would cut settlement short.
func (tc TimeoutConfig) Validate() error {
	var problems []string
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"verify", tc.VerifyTimeout},
		{"settle", tc.SettleTimeout},
		{"request", tc.RequestTimeout},
	} {
		if d.value <= 0 {
			problems = append(problems, fmt.Sprintf("%s timeout must be positive, got %v", d.name, d.value))
		}
	}
	if len(problems) == 0 {
		if tc.SettleTimeout < tc.VerifyTimeout {
			problems = append(problems, fmt.Sprintf("settle timeout %v is shorter than verify timeout %v", tc.SettleTimeout, tc.VerifyTimeout))
		}
		if tc.RequestTimeout < tc.SettleTimeout {
			problems = append(problems, fmt.Sprintf("request timeout %v is shorter than settle timeout %v", tc.RequestTimeout, tc.SettleTimeout))
		}
	}
	if len(problems) > 0 {
		return NewPaymentError(ErrCodeConfiguration, "invalid facilitator timeouts",
			fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; ")))
	}
	return nil
}
