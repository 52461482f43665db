package geth

import (
	"math/big"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/core/vm"
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// GetHashFunc resolves the hash of a canonical block by number.
type GetHashFunc func(number uint64) gethcommon.Hash

// MakeBlockContext converts a block context into the EVM's. PREVRANDAO is
// only populated once the merge is active in config.
func MakeBlockContext(config *params.ChainConfig, b *types.BlockContext, getHash GetHashFunc) gethvm.BlockContext {
	if getHash == nil {
		getHash = func(uint64) gethcommon.Hash { return gethcommon.Hash{} }
	}
	ctx := gethvm.BlockContext{
		CanTransfer: gethcore.CanTransfer,
		Transfer:    gethcore.Transfer,
		GetHash:     gethvm.GetHashFunc(getHash),
		Coinbase:    b.Coinbase,
		GasLimit:    b.GasLimit,
		BlockNumber: new(big.Int).SetUint64(b.Number),
		Time:        b.Timestamp,
		Difficulty:  FromUint256(b.Difficulty),
		BaseFee:     b.BaseFeeOrZero().ToBig(),
		BlobBaseFee: big.NewInt(1),
	}
	if config.TerminalTotalDifficulty != nil {
		random := b.PrevRandao
		ctx.Random = &random
	}
	return ctx
}

// toMessage builds the message view the EVM derives its transaction
// context from.
func toMessage(c *vm.Context) *gethcore.Message {
	price := FromUint256(c.GasPrice)
	return &gethcore.Message{
		From:       c.Origin,
		To:         c.To,
		Nonce:      c.CreateNonce,
		Value:      FromUint256(c.Value),
		GasLimit:   c.Gas,
		GasPrice:   price,
		GasFeeCap:  price,
		GasTipCap:  price,
		Data:       c.Input,
		AccessList: c.AccessList,
	}
}

// ToUint256 converts *big.Int to *uint256.Int, treating nil as zero.
func ToUint256(b *big.Int) *uint256.Int {
	if b == nil {
		return new(uint256.Int)
	}
	u, _ := uint256.FromBig(b)
	return u
}

// FromUint256 converts *uint256.Int to *big.Int, treating nil as zero.
func FromUint256(u *uint256.Int) *big.Int {
	if u == nil {
		return new(big.Int)
	}
	return u.ToBig()
}
