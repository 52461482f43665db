package node

import (
	"context"
	"fmt"

	"github.com/eth2030/devchain/core"
	"github.com/eth2030/devchain/core/state"
	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/core/vm"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// CallMsg is a message to simulate. A zero Gas uses the block gas limit; a
// nil To deploys Data as init code.
type CallMsg struct {
	From       common.Address
	To         *common.Address
	Gas        uint64
	GasPrice   *uint256.Int
	Value      *uint256.Int
	Data       []byte
	AccessList gethtypes.AccessList
}

// CallResult is the outcome of a simulated message.
type CallResult struct {
	Success      bool
	ReturnData   []byte
	RevertReason string
	// GasUsed includes intrinsic gas. For creations it excludes the code
	// deposit.
	GasUsed uint64
	// Error describes a failed execution.
	Error string
}

// AccessListResult is what CreateAccessList discovered.
type AccessListResult struct {
	AccessList gethtypes.AccessList
	GasUsed    uint64
	// Error is set when the traced execution failed.
	Error string
}

// blockContext returns the context a simulation at block runs in: the
// head's own context for latest, the next block's for pending.
func (n *Node) blockContext(ctx context.Context, block BlockNumber) (*types.BlockContext, error) {
	if block == PendingBlockNumber {
		return n.manager.PendingContext(ctx)
	}
	head, err := n.head(ctx)
	if err != nil {
		return nil, err
	}
	if block >= 0 && uint64(block) != head.Number() {
		return nil, fmt.Errorf("%w: block %d, head %d", ErrHistoricalState, block, head.Number())
	}
	h := head.Header
	bctx := &types.BlockContext{
		ChainID:    n.chain.ChainID,
		Number:     head.Number(),
		Timestamp:  h.Time,
		ParentHash: h.ParentHash,
		Coinbase:   h.Coinbase,
		GasLimit:   h.GasLimit,
		BaseFee:    new(uint256.Int),
		Difficulty: new(uint256.Int),
		PrevRandao: h.MixDigest,
	}
	if h.BaseFee != nil {
		bctx.BaseFee.SetFromBig(h.BaseFee)
	}
	if h.Difficulty != nil {
		bctx.Difficulty.SetFromBig(h.Difficulty)
	}
	return bctx, nil
}

// simulate runs msg on a scratch overlay over the committed state. The
// overlay is discarded. Callers hold off block production.
func (n *Node) simulate(ctx context.Context, msg *CallMsg, bctx *types.BlockContext, track bool) (*CallResult, *vm.Result, error) {
	gas := msg.Gas
	if gas == 0 {
		gas = bctx.GasLimit
	}
	intrinsic, err := core.IntrinsicGas(msg.Data, msg.AccessList, msg.To == nil, n.chain.EnableInitCodeWordGas)
	if err != nil {
		return nil, nil, err
	}
	if gas < intrinsic {
		return &CallResult{GasUsed: gas, Error: fmt.Sprintf("%v: have %d, want %d", core.ErrIntrinsicGas, gas, intrinsic)}, nil, nil
	}
	price := msg.GasPrice
	if price == nil {
		price = new(uint256.Int)
	}
	value := msg.Value
	if value == nil {
		value = new(uint256.Int)
	}

	overlay := state.NewOverlay(ctx, n.state, n.hasher)
	out, err := n.executor.Execute(ctx, &vm.Context{
		Origin:      msg.From,
		To:          msg.To,
		Input:       msg.Data,
		Value:       value,
		Gas:         gas - intrinsic,
		GasPrice:    price,
		CreateNonce: overlay.GetNonce(msg.From),
		AccessList:  msg.AccessList,
		TrackAccess: track,
		Block:       bctx,
		State:       overlay,
	})
	if err != nil {
		return nil, nil, err
	}
	res := &CallResult{
		Success:      out.Success,
		ReturnData:   out.ReturnData,
		RevertReason: out.RevertReason,
		GasUsed:      min(intrinsic+out.GasUsed, gas),
	}
	if !out.Success {
		res.Error = out.RevertReason
		if res.Error == "" && out.Err != nil {
			res.Error = out.Err.Error()
		}
		if res.Error == "" {
			res.Error = "execution failed"
		}
	}
	return res, out, nil
}

// Call executes msg against the state at block without committing
// anything.
func (n *Node) Call(ctx context.Context, msg CallMsg, block BlockNumber) (*CallResult, error) {
	var res *CallResult
	err := n.manager.Exclusive(func() error {
		bctx, err := n.blockContext(ctx, block)
		if err != nil {
			return err
		}
		res, _, err = n.simulate(ctx, &msg, bctx, false)
		return err
	})
	return res, err
}

// EstimateGas returns the lowest gas limit under which msg succeeds, found
// by binary search between the intrinsic gas and msg.Gas (or the block gas
// limit).
func (n *Node) EstimateGas(ctx context.Context, msg CallMsg, block BlockNumber) (uint64, error) {
	intrinsic, err := core.IntrinsicGas(msg.Data, msg.AccessList, msg.To == nil, n.chain.EnableInitCodeWordGas)
	if err != nil {
		return 0, err
	}

	var hi uint64
	err = n.manager.Exclusive(func() error {
		bctx, err := n.blockContext(ctx, block)
		if err != nil {
			return err
		}
		run := func(gas uint64) (*CallResult, error) {
			m := msg
			m.Gas = gas
			res, _, err := n.simulate(ctx, &m, bctx, false)
			return res, err
		}
		hi = msg.Gas
		if hi == 0 {
			hi = bctx.GasLimit
		}
		res, err := run(hi)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrExecutionFailed, res.Error)
		}
		// Anything below the gas actually consumed fails.
		lo := max(intrinsic, res.GasUsed) - 1
		for lo+1 < hi {
			mid := lo + (hi-lo)/2
			res, err := run(mid)
			if err != nil {
				return err
			}
			if res.Success {
				hi = mid
			} else {
				lo = mid
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return hi, nil
}

// EstimateContractCreationGas simulates deploying msg.Data and returns the
// gas a creation transaction would use, code deposit included.
func (n *Node) EstimateContractCreationGas(ctx context.Context, msg CallMsg, block BlockNumber) (*CallResult, error) {
	msg.To = nil
	res, err := n.Call(ctx, msg, block)
	if err != nil {
		return nil, err
	}
	if res.Success && len(res.ReturnData) > 0 {
		res.GasUsed += uint64(len(res.ReturnData)) * core.CreateDataGas
	}
	return res, nil
}

// CreateAccessList traces the addresses and slots msg touches. Unlike Call
// it reports the list and gas even when execution fails.
func (n *Node) CreateAccessList(ctx context.Context, msg CallMsg, block BlockNumber) (*AccessListResult, error) {
	var (
		res *CallResult
		out *vm.Result
	)
	err := n.manager.Exclusive(func() error {
		bctx, err := n.blockContext(ctx, block)
		if err != nil {
			return err
		}
		res, out, err = n.simulate(ctx, &msg, bctx, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	al := &AccessListResult{AccessList: gethtypes.AccessList{}, GasUsed: res.GasUsed, Error: res.Error}
	if out != nil && out.AccessList != nil {
		al.AccessList = out.AccessList
	}
	return al, nil
}
