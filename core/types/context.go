// Package types defines the engine's own data records. Wire-level Ethereum
// types (transactions, headers, receipts, logs) come from go-ethereum's
// core/types; this package adds the per-block execution context, the
// account record, the variant-independent transaction view and the
// execution result.
package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockContext is the environment a block's transactions execute in.
type BlockContext struct {
	ChainID    uint64
	Number     uint64
	Timestamp  uint64
	ParentHash common.Hash
	Coinbase   common.Address
	GasLimit   uint64
	BaseFee    *uint256.Int
	Difficulty *uint256.Int
	PrevRandao common.Hash
}

// Copy returns a deep copy of the context.
func (c *BlockContext) Copy() *BlockContext {
	cpy := *c
	if c.BaseFee != nil {
		cpy.BaseFee = new(uint256.Int).Set(c.BaseFee)
	}
	if c.Difficulty != nil {
		cpy.Difficulty = new(uint256.Int).Set(c.Difficulty)
	}
	return &cpy
}

// BaseFeeOrZero returns the base fee, treating nil as zero.
func (c *BlockContext) BaseFeeOrZero() *uint256.Int {
	if c.BaseFee == nil {
		return new(uint256.Int)
	}
	return c.BaseFee
}
