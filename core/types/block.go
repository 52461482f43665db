package types

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Block is the persisted block record: the sealed header, its hash and the
// hashes of the included transactions in order.
type Block struct {
	Header       *gethtypes.Header
	Hash         common.Hash
	Transactions []common.Hash
}

// NewBlock seals header and records the given transaction hashes.
func NewBlock(header *gethtypes.Header, txs []common.Hash) *Block {
	return &Block{
		Header:       gethtypes.CopyHeader(header),
		Hash:         header.Hash(),
		Transactions: txs,
	}
}

// Number returns the block height.
func (b *Block) Number() uint64 { return b.Header.Number.Uint64() }

// Time returns the block timestamp.
func (b *Block) Time() uint64 { return b.Header.Time }

// TxLocation locates a transaction inside the chain.
type TxLocation struct {
	BlockHash   common.Hash
	BlockNumber uint64
	Index       uint64
}
