package facilitator

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/encoding"
	"github.com/nacorid/x402-go/signers/evm"
)

// testPrivateKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

var signedAt = time.Unix(1700000000, 0)

func testDetails() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:                  x402.SchemeExact,
		NetworkID:               "84532",
		MaxAmountRequired:       "10000",
		Resource:                "https://api.example.com/data",
		PayToAddress:            "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		RequiredDeadlineSeconds: 60,
		USDCAddress:             x402.BaseSepolia.USDCAddress.Hex(),
	}
}

func signPayment(t *testing.T) x402.PaymentPayloadV1 {
	t.Helper()
	signer, err := evm.NewSignerFromPrivateKey(testPrivateKey, evm.WithClock(func() time.Time { return signedAt }))
	require.NoError(t, err)

	details := testDetails()
	payment, err := signer.Sign(context.Background(), &details)
	require.NoError(t, err)
	return *payment
}

func encode(t *testing.T, payment x402.PaymentPayloadV1) string {
	t.Helper()
	encoded, err := encoding.EncodePayment(payment)
	require.NoError(t, err)
	return encoded
}

func verifierAt(at time.Time) *LocalVerifier {
	return NewLocalVerifier(x402.DefaultChains, WithClock(func() time.Time { return at }))
}

func TestLocalVerifier_Valid(t *testing.T) {
	resp, err := verifierAt(signedAt).Verify(context.Background(), encode(t, signPayment(t)), testDetails())
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Empty(t, resp.InvalidReason)
	assert.Equal(t, testAddress, resp.Payer)
}

func TestLocalVerifier_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		verifier *LocalVerifier
		payment  func(*x402.PaymentPayloadV1)
		details  func(*x402.PaymentRequirements)
		reason   string
	}{
		{
			name:    "network mismatch",
			details: func(d *x402.PaymentRequirements) { d.NetworkID = "8453" },
			reason:  ReasonNetworkMismatch,
		},
		{
			name:     "chain not in table",
			verifier: NewLocalVerifier(x402.MustChainTable(x402.BaseMainnet), WithClock(func() time.Time { return signedAt })),
			reason:   ReasonUnsupportedNetwork,
		},
		{
			name:    "recipient mismatch",
			details: func(d *x402.PaymentRequirements) { d.PayToAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8" },
			reason:  ReasonToAddressMismatch,
		},
		{
			name:    "asset mismatch",
			details: func(d *x402.PaymentRequirements) { d.USDCAddress = x402.BaseMainnet.USDCAddress.Hex() },
			reason:  ReasonAssetMismatch,
		},
		{
			name:    "value above maximum",
			details: func(d *x402.PaymentRequirements) { d.MaxAmountRequired = "9999" },
			reason:  ReasonValueExceeded,
		},
		{
			name:     "not yet valid",
			verifier: verifierAt(signedAt.Add(-time.Minute)),
			reason:   ReasonNotYetValid,
		},
		{
			name:     "expired",
			verifier: verifierAt(signedAt.Add(60 * time.Second)),
			reason:   ReasonExpired,
		},
		{
			name:    "unrecoverable signature",
			payment: func(p *x402.PaymentPayloadV1) { p.Payload.Signature[64] = 99 },
			reason:  ReasonInvalidSignature,
		},
		{
			name:    "tampered authorization",
			payment: func(p *x402.PaymentPayloadV1) { p.Payload.Params.Value = big.NewInt(5000) },
			reason:  ReasonSenderMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payment := signPayment(t)
			if tt.payment != nil {
				tt.payment(&payment)
			}
			details := testDetails()
			if tt.details != nil {
				tt.details(&details)
			}
			verifier := tt.verifier
			if verifier == nil {
				verifier = verifierAt(signedAt)
			}

			resp, err := verifier.Verify(context.Background(), encode(t, payment), details)
			require.NoError(t, err)
			assert.False(t, resp.IsValid)
			assert.Equal(t, tt.reason, resp.InvalidReason)
			assert.Equal(t, payment.Payload.Params.From.Hex(), resp.Payer)
		})
	}
}

func TestLocalVerifier_UndecodablePayload(t *testing.T) {
	resp, err := verifierAt(signedAt).Verify(context.Background(), "not-a-payment", testDetails())
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, ReasonInvalidPayload, resp.InvalidReason)
	assert.Empty(t, resp.Payer)
}

func TestLocalVerifier_Errors(t *testing.T) {
	payload := encode(t, signPayment(t))

	t.Run("invalid details", func(t *testing.T) {
		details := testDetails()
		details.PayToAddress = "nowhere"
		_, err := verifierAt(signedAt).Verify(context.Background(), payload, details)
		assert.ErrorIs(t, err, x402.ErrInvalidRequirements)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := verifierAt(signedAt).Verify(ctx, payload, testDetails())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalVerifier_WithCodec(t *testing.T) {
	payment := signPayment(t)
	urlCodec := encoding.NewPayloadCodec(encoding.Base64URL)
	encoded, err := urlCodec.Encode(payment)
	require.NoError(t, err)

	resp, err := NewLocalVerifier(x402.DefaultChains,
		WithCodec(urlCodec),
		WithClock(func() time.Time { return signedAt }),
	).Verify(context.Background(), encoded, testDetails())
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
}

type stubSettler struct {
	calls atomic.Int32
	resp  *x402.SettleResponse
	err   error
}

func (s *stubSettler) Settle(context.Context, string, x402.PaymentRequirements) (*x402.SettleResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.resp == nil {
		return nil, nil
	}
	resp := *s.resp
	return &resp, nil
}

type nilVerifier struct{}

func (nilVerifier) Verify(context.Context, string, x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return nil, nil
}

func TestForwardingSettler(t *testing.T) {
	payload := encode(t, signPayment(t))

	t.Run("forwards verified payments", func(t *testing.T) {
		upstream := &stubSettler{resp: &x402.SettleResponse{Success: true, TxHash: "0xabc"}}
		settler := &ForwardingSettler{Verifier: verifierAt(signedAt), Upstream: upstream}

		resp, err := settler.Settle(context.Background(), payload, testDetails())
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "0xabc", resp.TxHash)
		assert.Equal(t, testAddress, resp.Payer)
		assert.Equal(t, "84532", resp.NetworkID)
		assert.Equal(t, int32(1), upstream.calls.Load())
	})

	t.Run("keeps invalid payments local", func(t *testing.T) {
		upstream := &stubSettler{resp: &x402.SettleResponse{Success: true}}
		settler := &ForwardingSettler{Verifier: verifierAt(signedAt.Add(time.Hour)), Upstream: upstream}

		resp, err := settler.Settle(context.Background(), payload, testDetails())
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, ReasonExpired, resp.Error)
		assert.Equal(t, testAddress, resp.Payer)
		assert.Zero(t, upstream.calls.Load())
	})

	t.Run("wraps upstream failures", func(t *testing.T) {
		boom := errors.New("rpc unavailable")
		settler := &ForwardingSettler{Verifier: verifierAt(signedAt), Upstream: &stubSettler{err: boom}}

		_, err := settler.Settle(context.Background(), payload, testDetails())
		assert.ErrorIs(t, err, x402.ErrSettlementFailed)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty upstream result is a settlement failure", func(t *testing.T) {
		upstream := &stubSettler{}
		settler := &ForwardingSettler{Verifier: verifierAt(signedAt), Upstream: upstream}

		var (
			resp *x402.SettleResponse
			err  error
		)
		require.NotPanics(t, func() {
			resp, err = settler.Settle(context.Background(), payload, testDetails())
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, x402.ErrSettlementFailed)
		assert.Equal(t, int32(1), upstream.calls.Load())
	})

	t.Run("empty verifier result is a verification failure", func(t *testing.T) {
		upstream := &stubSettler{resp: &x402.SettleResponse{Success: true}}
		settler := &ForwardingSettler{Verifier: nilVerifier{}, Upstream: upstream}

		_, err := settler.Settle(context.Background(), payload, testDetails())
		assert.ErrorIs(t, err, x402.ErrVerificationFailed)
		assert.Zero(t, upstream.calls.Load())
	})

	t.Run("requires verifier and upstream", func(t *testing.T) {
		_, err := (&ForwardingSettler{Verifier: verifierAt(signedAt)}).Settle(context.Background(), payload, testDetails())
		assert.ErrorIs(t, err, x402.ErrFacilitatorUnavailable)
	})
}
