// Package eip3009 builds and signs EIP-712 TransferWithAuthorization messages.
package eip3009

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/validation"
)

// PrimaryType is the EIP-712 primary type signed for every authorization.
const PrimaryType = "TransferWithAuthorization"

// SignatureLength is the length of an r || s || v signature.
const SignatureLength = 65

// Types returns the EIP-712 type descriptors. Field order and types must
// match the token contract's TRANSFER_WITH_AUTHORIZATION_TYPEHASH.
func Types() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		PrimaryType: []apitypes.Type{
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// GenerateNonce returns 32 bytes from crypto/rand.
func GenerateNonce() (common.Hash, error) {
	var nonce common.Hash
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// Builder assembles typed data for authorizations using an immutable chain table.
type Builder struct {
	chains *x402.ChainTable
}

// NewBuilder returns a Builder bound to chains.
func NewBuilder(chains *x402.ChainTable) *Builder {
	return &Builder{chains: chains}
}

// Chains returns the chain table the builder was constructed with.
func (b *Builder) Chains() *x402.ChainTable {
	return b.chains
}

// TypedData builds the domain/type/message triple for params.
// An unknown chain id fails with ErrChainNotConfigured before anything else.
func (b *Builder) TypedData(params x402.AuthorizationParameters) (apitypes.TypedData, error) {
	chain, err := b.chains.Get(params.ChainID)
	if err != nil {
		return apitypes.TypedData{}, x402.NewPaymentError(x402.ErrCodeConfiguration, "failed to build authorization", err)
	}
	if err := validation.ValidateUint256(params.Value); err != nil {
		return apitypes.TypedData{}, x402.NewPaymentError(x402.ErrCodeValidation, "failed to build authorization",
			fmt.Errorf("value: %w", err))
	}
	if params.ValidAfter < 0 {
		return apitypes.TypedData{}, x402.NewPaymentError(x402.ErrCodeValidation, "failed to build authorization",
			fmt.Errorf("%w: validAfter cannot be negative", x402.ErrValidation))
	}
	if params.ValidAfter >= params.ValidBefore {
		return apitypes.TypedData{}, x402.NewPaymentError(x402.ErrCodeValidation, "failed to build authorization",
			fmt.Errorf("%w: validAfter %d is not before validBefore %d", x402.ErrValidation, params.ValidAfter, params.ValidBefore))
	}

	version := params.Version
	if version == "" {
		version = chain.Version
	}
	contract := params.ContractAddress
	if contract == (common.Address{}) {
		contract = chain.USDCAddress
	}

	return apitypes.TypedData{
		Types:       Types(),
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              chain.Name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(params.ChainID)),
			VerifyingContract: contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        params.From.Hex(),
			"to":          params.To.Hex(),
			"value":       (*math.HexOrDecimal256)(new(big.Int).Set(params.Value)),
			"validAfter":  (*math.HexOrDecimal256)(big.NewInt(params.ValidAfter)),
			"validBefore": (*math.HexOrDecimal256)(big.NewInt(params.ValidBefore)),
			"nonce":       params.Nonce.Hex(),
		},
	}, nil
}

// Sign builds the typed data for params and asks signer for exactly one signature.
// Signing failures are returned as ErrSigningFailed and never retried.
func (b *Builder) Sign(ctx context.Context, signer x402.TypedDataSigner, params x402.AuthorizationParameters) (hexutil.Bytes, error) {
	typedData, err := b.TypedData(params)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignTypedData(ctx, typedData)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign authorization",
			fmt.Errorf("%w: %w", x402.ErrSigningFailed, err))
	}
	if len(sig) != SignatureLength {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign authorization",
			fmt.Errorf("%w: signature is %d bytes, want %d", x402.ErrSigningFailed, len(sig), SignatureLength))
	}
	return hexutil.Bytes(sig), nil
}

// Digest returns keccak256(0x19 0x01 || domainSeparator || hashStruct(message)).
func Digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// RecoverSigner returns the address that produced sig over params.
func (b *Builder) RecoverSigner(params x402.AuthorizationParameters, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature is %d bytes, want %d", x402.ErrValidation, len(sig), SignatureLength)
	}

	typedData, err := b.TypedData(params)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := Digest(typedData)
	if err != nil {
		return common.Address{}, err
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
