// Package evm creates EIP-3009 payment payloads for the "exact" scheme.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/internal/eip3009"
	"github.com/nacorid/x402-go/validation"
)

// ValidAfterSkew backdates validAfter to tolerate clock drift between
// the client and the chain.
const ValidAfterSkew = 10 * time.Second

// DefaultDeadline is used when requirements carry no deadline.
const DefaultDeadline = 60 * time.Second

// NonceFunc returns a fresh authorization nonce.
type NonceFunc func() (common.Hash, error)

// Signer turns payment requirements into signed PaymentPayloadV1 values.
// It holds no per-request state and is safe for concurrent use.
type Signer struct {
	account   x402.TypedDataSigner
	builder   *eip3009.Builder
	maxAmount *big.Int
	nonce     NonceFunc
	now       func() time.Time
}

var _ x402.Signer = (*Signer)(nil)

// Option configures a Signer.
type Option func(*Signer) error

// NewSigner creates a Signer that delegates signatures to account.
func NewSigner(account x402.TypedDataSigner, opts ...Option) (*Signer, error) {
	if account == nil {
		return nil, fmt.Errorf("evm: account is nil")
	}

	s := &Signer{
		account: account,
		builder: eip3009.NewBuilder(x402.DefaultChains),
		nonce:   eip3009.GenerateNonce,
		now:     time.Now,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// NewSignerFromPrivateKey creates a Signer backed by a local private key.
func NewSignerFromPrivateKey(privateKeyHex string, opts ...Option) (*Signer, error) {
	account, err := NewAccount(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewSigner(account, opts...)
}

// WithChains replaces the default chain table.
func WithChains(chains *x402.ChainTable) Option {
	return func(s *Signer) error {
		if chains == nil {
			return fmt.Errorf("evm: chain table is nil")
		}
		s.builder = eip3009.NewBuilder(chains)
		return nil
	}
}

// WithMaxAmount sets a per-call spending limit in atomic units.
func WithMaxAmount(amount *big.Int) Option {
	return func(s *Signer) error {
		s.maxAmount = amount
		return nil
	}
}

// WithNonceFunc replaces the crypto/rand nonce source.
func WithNonceFunc(fn NonceFunc) Option {
	return func(s *Signer) error {
		if fn == nil {
			return fmt.Errorf("evm: nonce func is nil")
		}
		s.nonce = fn
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) error {
		if now == nil {
			return fmt.Errorf("evm: clock is nil")
		}
		s.now = now
		return nil
	}
}

// Scheme returns "exact".
func (s *Signer) Scheme() string {
	return x402.SchemeExact
}

// Address returns the paying account.
func (s *Signer) Address() common.Address {
	return s.account.Address()
}

// GetMaxAmount returns the per-call spending limit, or nil if no limit is set.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// CanSign reports whether the requirements use the exact scheme on a configured chain.
func (s *Signer) CanSign(requirements *x402.PaymentRequirements) bool {
	if requirements == nil || requirements.Scheme != x402.SchemeExact {
		return false
	}
	chainID, err := x402.ParseChainID(requirements.NetworkID)
	if err != nil {
		return false
	}
	_, ok := s.builder.Chains().Lookup(chainID)
	return ok
}

// Sign creates a fresh authorization for requirements and signs it.
func (s *Signer) Sign(ctx context.Context, requirements *x402.PaymentRequirements) (*x402.PaymentPayloadV1, error) {
	if requirements == nil {
		return nil, invalid("requirements are nil")
	}
	if requirements.Scheme != x402.SchemeExact {
		return nil, x402.NewPaymentError(x402.ErrCodeValidation, "cannot sign requirements",
			fmt.Errorf("%w: %q", x402.ErrUnsupportedScheme, requirements.Scheme))
	}

	chainID, err := x402.ParseChainID(requirements.NetworkID)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeValidation, "cannot sign requirements", err)
	}
	chain, err := s.builder.Chains().Get(chainID)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "cannot sign requirements", err)
	}

	amount, err := validation.ParseUint256(requirements.MaxAmountRequired)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeValidation, "cannot sign requirements",
			fmt.Errorf("maxAmountRequired: %w", err))
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeAmountExceeded, "cannot sign requirements", x402.ErrAmountExceeded).
			WithDetails("amount", amount.String()).
			WithDetails("limit", s.maxAmount.String())
	}
	if !common.IsHexAddress(requirements.PayToAddress) {
		return nil, invalid("invalid payToAddress " + requirements.PayToAddress)
	}

	contract := chain.USDCAddress
	if requirements.USDCAddress != "" {
		if !common.IsHexAddress(requirements.USDCAddress) {
			return nil, invalid("invalid usdcAddress " + requirements.USDCAddress)
		}
		contract = common.HexToAddress(requirements.USDCAddress)
	}

	version := chain.Version
	if v, ok := requirements.Extra["version"].(string); ok && v != "" {
		version = v
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	deadline := DefaultDeadline
	if requirements.RequiredDeadlineSeconds > 0 {
		deadline = time.Duration(requirements.RequiredDeadlineSeconds) * time.Second
	}
	now := s.now()

	params := x402.AuthorizationParameters{
		From:            s.account.Address(),
		To:              common.HexToAddress(requirements.PayToAddress),
		Value:           amount,
		ValidAfter:      now.Add(-ValidAfterSkew).Unix(),
		ValidBefore:     now.Add(deadline).Unix(),
		Nonce:           nonce,
		ChainID:         chainID,
		Version:         version,
		ContractAddress: contract,
	}

	signature, err := s.builder.Sign(ctx, s.account, params)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayloadV1{
		X402Version: x402.X402Version,
		Scheme:      requirements.Scheme,
		Network:     requirements.NetworkID,
		Payload: x402.ExactPayload{
			Signature: signature,
			Params:    params,
		},
	}, nil
}

func invalid(msg string) error {
	return x402.NewPaymentError(x402.ErrCodeValidation, "cannot sign requirements",
		fmt.Errorf("%w: %s", x402.ErrValidation, msg))
}
