package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/internal/eip3009"
)

// Account is a TypedDataSigner backed by an in-memory private key.
type Account struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ x402.TypedDataSigner = (*Account)(nil)

// NewAccount parses a hex private key, with or without the 0x prefix.
func NewAccount(privateKeyHex string) (*Account, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewAccountFromKey(privateKey), nil
}

// NewAccountFromKey wraps an existing key.
func NewAccountFromKey(key *ecdsa.PrivateKey) *Account {
	return &Account{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the account address.
func (a *Account) Address() common.Address {
	return a.address
}

// SignTypedData signs the EIP-712 digest of data with v in {27, 28}.
func (a *Account) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := eip3009.Digest(data)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}

	signature[64] += 27
	return signature, nil
}
