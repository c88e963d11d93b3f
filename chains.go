package x402

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EVM chain ids with a known USDC deployment.
const (
	ChainIDEthereum      uint64 = 1
	ChainIDBase          uint64 = 8453
	ChainIDPolygon       uint64 = 137
	ChainIDAvalanche     uint64 = 43114
	ChainIDSepolia       uint64 = 11155111
	ChainIDBaseSepolia   uint64 = 84532
	ChainIDPolygonAmoy   uint64 = 80002
	ChainIDAvalancheFuji uint64 = 43113
)

// ChainConfig holds the EIP-712 domain data for a token on one chain.
type ChainConfig struct {
	// ChainID is the EIP-155 chain id.
	ChainID uint64

	// Network is the human-readable network name.
	Network string

	// Name is the EIP-712 domain "name" of the token contract.
	Name string

	// Version is the EIP-712 domain "version" of the token contract.
	Version string

	// USDCAddress is the token contract address.
	USDCAddress common.Address

	// Decimals is the number of decimal places of the token.
	Decimals uint8
}

// Predefined chain configurations.
var (
	// USDC address and EIP-3009 parameters verified 2025-10-28.
	BaseMainnet = ChainConfig{
		ChainID:     ChainIDBase,
		Network:     "base",
		Name:        "USD Coin",
		Version:     "2",
		USDCAddress: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		Decimals:    6,
	}

	PolygonMainnet = ChainConfig{
		ChainID:     ChainIDPolygon,
		Network:     "polygon",
		Name:        "USD Coin",
		Version:     "2",
		USDCAddress: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
		Decimals:    6,
	}

	AvalancheMainnet = ChainConfig{
		ChainID:     ChainIDAvalanche,
		Network:     "avalanche",
		Name:        "USD Coin",
		Version:     "2",
		USDCAddress: common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"),
		Decimals:    6,
	}

	EthereumMainnet = ChainConfig{
		ChainID:     ChainIDEthereum,
		Network:     "ethereum",
		Name:        "USD Coin",
		Version:     "2",
		USDCAddress: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Decimals:    6,
	}

	// USDC address and EIP-3009 parameters verified 2025-10-30.
	BaseSepolia = ChainConfig{
		ChainID:     ChainIDBaseSepolia,
		Network:     "base-sepolia",
		Name:        "USDC",
		Version:     "2",
		USDCAddress: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		Decimals:    6,
	}

	PolygonAmoy = ChainConfig{
		ChainID:     ChainIDPolygonAmoy,
		Network:     "polygon-amoy",
		Name:        "USDC",
		Version:     "2",
		USDCAddress: common.HexToAddress("0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582"),
		Decimals:    6,
	}

	AvalancheFuji = ChainConfig{
		ChainID:     ChainIDAvalancheFuji,
		Network:     "avalanche-fuji",
		Name:        "USD Coin",
		Version:     "2",
		USDCAddress: common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65"),
		Decimals:    6,
	}

	Sepolia = ChainConfig{
		ChainID:     ChainIDSepolia,
		Network:     "sepolia",
		Name:        "USDC",
		Version:     "2",
		USDCAddress: common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		Decimals:    6,
	}
)

// ChainTable is an immutable chain id → ChainConfig lookup.
// It is safe for concurrent reads without synchronization.
type ChainTable struct {
	byID map[uint64]ChainConfig
}

// NewChainTable builds a table from the given chains.
// Returns an error on duplicate chain ids or missing domain names.
func NewChainTable(chains ...ChainConfig) (*ChainTable, error) {
	byID := make(map[uint64]ChainConfig, len(chains))
	for _, c := range chains {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: chain %d has no domain name", ErrChainNotConfigured, c.ChainID)
		}
		if _, dup := byID[c.ChainID]; dup {
			return nil, fmt.Errorf("duplicate chain id %d", c.ChainID)
		}
		byID[c.ChainID] = c
	}
	return &ChainTable{byID: byID}, nil
}

// MustChainTable is like NewChainTable but panics on error.
func MustChainTable(chains ...ChainConfig) *ChainTable {
	t, err := NewChainTable(chains...)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultChains holds every predefined chain configuration.
var DefaultChains = MustChainTable(
	BaseMainnet, PolygonMainnet, AvalancheMainnet, EthereumMainnet,
	BaseSepolia, PolygonAmoy, AvalancheFuji, Sepolia,
)

// Lookup returns the configuration for chainID.
func (t *ChainTable) Lookup(chainID uint64) (ChainConfig, bool) {
	if t == nil {
		return ChainConfig{}, false
	}
	c, ok := t.byID[chainID]
	return c, ok
}

// Get is like Lookup but returns ErrChainNotConfigured for unknown chains.
func (t *ChainTable) Get(chainID uint64) (ChainConfig, error) {
	c, ok := t.Lookup(chainID)
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %d", ErrChainNotConfigured, chainID)
	}
	return c, nil
}

// Chains returns a copy of all configurations ordered by chain id.
func (t *ChainTable) Chains() []ChainConfig {
	if t == nil {
		return nil
	}
	out := make([]ChainConfig, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// ParseChainID extracts the chain id from a network identifier.
// Accepts a bare decimal id ("84532") or a CAIP-2 EIP-155 id ("eip155:84532").
func ParseChainID(network string) (uint64, error) {
	ref := network
	if ns, rest, ok := strings.Cut(network, ":"); ok {
		if ns != "eip155" {
			return 0, fmt.Errorf("%w: not an EVM network: %s", ErrInvalidNetwork, network)
		}
		ref = rest
	}
	if ref == "" {
		return 0, fmt.Errorf("%w: network cannot be empty", ErrInvalidNetwork)
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid chain id: %s", ErrInvalidNetwork, ref)
	}
	return id, nil
}
