package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eth2030/devchain/core"
	"github.com/eth2030/devchain/core/rawdb"
	"github.com/eth2030/devchain/core/state"
	"github.com/eth2030/devchain/core/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// BlockNumber selects a block: a non-negative height or one of the tags.
type BlockNumber int64

const (
	PendingBlockNumber BlockNumber = -2
	LatestBlockNumber  BlockNumber = -1
)

// ParseBlockNumber reads "latest", "pending", a decimal height or a
// 0x-prefixed hex height. The empty string means latest.
func ParseBlockNumber(s string) (BlockNumber, error) {
	switch s = strings.TrimSpace(strings.ToLower(s)); s {
	case "", "latest":
		return LatestBlockNumber, nil
	case "pending":
		return PendingBlockNumber, nil
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") {
		v, err = strconv.ParseUint(s[2:], 16, 63)
	} else {
		v, err = strconv.ParseUint(s, 10, 63)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q", s)
	}
	return BlockNumber(v), nil
}

func (b BlockNumber) String() string {
	switch b {
	case LatestBlockNumber:
		return "latest"
	case PendingBlockNumber:
		return "pending"
	}
	return strconv.FormatInt(int64(b), 10)
}

// stateAt returns the state reader for block. Only the head state exists;
// pending reads see it too since buffered transactions have not run. The
// caller holds the manager's shared lock so head and state agree.
func (n *Node) stateAt(ctx context.Context, block BlockNumber) (state.Reader, error) {
	if block >= 0 {
		head, err := n.head(ctx)
		if err != nil {
			return nil, err
		}
		if uint64(block) != head.Number() {
			return nil, fmt.Errorf("%w: block %d, head %d", ErrHistoricalState, block, head.Number())
		}
	}
	return n.state, nil
}

// ChainID returns the chain id.
func (n *Node) ChainID() uint64 { return n.chain.ChainID }

// GasPrice returns the price a transaction needs to be included: the base
// fee.
func (n *Node) GasPrice() *uint256.Int {
	return new(uint256.Int).Set(n.chain.BaseFee)
}

// BlockNumber returns the head height.
func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := n.head(ctx)
	if err != nil {
		return 0, err
	}
	return head.Number(), nil
}

// GetAccount returns the account at addr, or an empty account.
func (n *Node) GetAccount(ctx context.Context, addr common.Address, block BlockNumber) (acc *types.Account, err error) {
	err = n.manager.Shared(func() error {
		acc, err = n.account(ctx, addr, block)
		return err
	})
	return acc, err
}

// account reads addr without holding off block production.
func (n *Node) account(ctx context.Context, addr common.Address, block BlockNumber) (*types.Account, error) {
	r, err := n.stateAt(ctx, block)
	if err != nil {
		return nil, err
	}
	acc, err := r.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	return acc, nil
}

// GetBalance returns the balance of addr.
func (n *Node) GetBalance(ctx context.Context, addr common.Address, block BlockNumber) (*uint256.Int, error) {
	acc, err := n.GetAccount(ctx, addr, block)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// GetTransactionCount returns the nonce of addr. At the pending block it
// also counts the sender's buffered transactions that continue the nonce
// sequence.
func (n *Node) GetTransactionCount(ctx context.Context, addr common.Address, block BlockNumber) (uint64, error) {
	acc, err := n.GetAccount(ctx, addr, block)
	if err != nil {
		return 0, err
	}
	nonce := acc.Nonce
	if block != PendingBlockNumber {
		return nonce, nil
	}
	queued := make(map[uint64]bool)
	for _, ptx := range n.pool.Pending(0) {
		if ptx.Sender == addr {
			queued[ptx.Tx.Nonce()] = true
		}
	}
	for queued[nonce] {
		nonce++
	}
	return nonce, nil
}

// GetCode returns the code at addr.
func (n *Node) GetCode(ctx context.Context, addr common.Address, block BlockNumber) (code []byte, err error) {
	err = n.manager.Shared(func() error {
		acc, err := n.account(ctx, addr, block)
		if err != nil || !acc.HasCode() {
			return err
		}
		code, err = n.state.GetCode(ctx, acc.CodeHash)
		return err
	})
	return code, err
}

// GetStorageAt returns a storage slot of addr.
func (n *Node) GetStorageAt(ctx context.Context, addr common.Address, slot common.Hash, block BlockNumber) (value common.Hash, err error) {
	err = n.manager.Shared(func() error {
		r, err := n.stateAt(ctx, block)
		if err != nil {
			return err
		}
		value, err = r.GetStorage(ctx, addr, slot)
		return err
	})
	return value, err
}

// BlockByNumber returns a block by height; both tags select the head.
func (n *Node) BlockByNumber(ctx context.Context, number BlockNumber) (*types.Block, error) {
	if number < 0 {
		return n.head(ctx)
	}
	return n.blocks.GetBlockByNumber(ctx, uint64(number))
}

// BlockByHash returns a block by hash.
func (n *Node) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return n.blocks.GetBlockByHash(ctx, hash)
}

// TransactionByHash returns a mined transaction with its location, or a
// buffered one with a nil location.
func (n *Node) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, *types.TxLocation, error) {
	tx, loc, err := n.blocks.GetTransaction(ctx, hash)
	if errors.Is(err, rawdb.ErrNotFound) {
		if ptx, ok := n.pool.Get(hash); ok {
			return ptx.Tx, nil, nil
		}
	}
	return tx, loc, err
}

// TransactionReceipt returns the receipt of a mined transaction.
func (n *Node) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return n.blocks.GetReceipt(ctx, hash)
}

// BlockReceipts returns the receipts of a block in transaction order.
func (n *Node) BlockReceipts(ctx context.Context, number BlockNumber) ([]*gethtypes.Receipt, error) {
	block, err := n.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	out := make([]*gethtypes.Receipt, len(block.Transactions))
	for i, h := range block.Transactions {
		if out[i], err = n.blocks.GetReceipt(ctx, h); err != nil {
			return nil, fmt.Errorf("receipt %v: %w", h, err)
		}
	}
	return out, nil
}

// SendTransaction submits a signed transaction. Under auto-mine the result
// of its block is returned; otherwise core.ErrNotYetMined.
func (n *Node) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) (*types.ExecutionResult, error) {
	res, err := n.manager.SendTransaction(ctx, tx)
	if err == nil || errors.Is(err, core.ErrNotYetMined) {
		n.events.Publish(EventNewTx, tx.Hash())
	}
	return res, err
}

// SendRawTransaction decodes and submits a binary-encoded signed
// transaction and returns its hash. A transaction buffered for a later
// block is not an error; one rejected when mined is.
func (n *Node) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("decode transaction: %w", err)
	}
	res, err := n.SendTransaction(ctx, tx)
	switch {
	case errors.Is(err, core.ErrNotYetMined):
		return tx.Hash(), nil
	case err != nil:
		return common.Hash{}, err
	case res.Rejected:
		return tx.Hash(), fmt.Errorf("%w: %s", ErrTransactionRejected, res.Error)
	}
	return tx.Hash(), nil
}

// Mine mines count blocks from the pending buffer.
func (n *Node) Mine(ctx context.Context, count int) ([]*core.BlockResult, error) {
	out := make([]*core.BlockResult, 0, count)
	for range count {
		res, err := n.manager.MineBlock(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}
