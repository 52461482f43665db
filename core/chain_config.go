// Package core implements the state-transition and block-assembly engine:
// transaction processing, block production and genesis.
package core

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Chain defaults.
const (
	DefaultChainID  uint64 = 1337
	DefaultGasLimit uint64 = 30_000_000
	// DefaultBaseFee is 1 gwei.
	DefaultBaseFee uint64 = 1_000_000_000
)

// ChainConfig holds the parameters blocks are produced and transactions
// validated with.
type ChainConfig struct {
	ChainID    uint64
	Coinbase   common.Address
	GasLimit   uint64
	BaseFee    *uint256.Int
	Difficulty *uint256.Int
	ExtraData  []byte

	// EnableInitCodeWordGas charges init-code word gas and caps init-code
	// size at twice MaxCodeSize (EIP-3860).
	EnableInitCodeWordGas bool
	// EnableRefundCap limits refunds to a fifth of the gas used (EIP-3529)
	// instead of half.
	EnableRefundCap bool
	// MaxCodeSize caps deployed code (EIP-170).
	MaxCodeSize int
	// ForceFeeCapCheck rejects transactions whose fee cap, or gas price for
	// non-dynamic transactions, is below the block base fee.
	ForceFeeCapCheck bool
}

// DefaultChainConfig returns the configuration of a fresh dev chain.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		ChainID:               DefaultChainID,
		GasLimit:              DefaultGasLimit,
		BaseFee:               uint256.NewInt(DefaultBaseFee),
		Difficulty:            uint256.NewInt(1),
		EnableInitCodeWordGas: true,
		EnableRefundCap:       true,
		MaxCodeSize:           MaxCodeSize,
		ForceFeeCapCheck:      true,
	}
}

// Validate checks the configuration for values no chain can run with.
func (c *ChainConfig) Validate() error {
	switch {
	case c.ChainID == 0:
		return errors.New("chain id must be non-zero")
	case c.GasLimit < TxGas:
		return errors.New("gas limit below the cost of a transfer")
	case c.MaxCodeSize <= 0:
		return errors.New("max code size must be positive")
	}
	return nil
}

// Copy returns a deep copy.
func (c *ChainConfig) Copy() *ChainConfig {
	cpy := *c
	if c.BaseFee != nil {
		cpy.BaseFee = new(uint256.Int).Set(c.BaseFee)
	}
	if c.Difficulty != nil {
		cpy.Difficulty = new(uint256.Int).Set(c.Difficulty)
	}
	cpy.ExtraData = common.CopyBytes(c.ExtraData)
	return &cpy
}

// Signer returns the signer that recovers senders of every supported
// transaction variant on this chain.
func (c *ChainConfig) Signer() gethtypes.Signer {
	return gethtypes.LatestSignerForChainID(new(big.Int).SetUint64(c.ChainID))
}

// MaxInitCodeSize is the init-code limit when EnableInitCodeWordGas is set.
func (c *ChainConfig) MaxInitCodeSize() int { return 2 * c.MaxCodeSize }

func (c *ChainConfig) refundQuotient() uint64 {
	if c.EnableRefundCap {
		return RefundQuotientEIP3529
	}
	return RefundQuotient
}
