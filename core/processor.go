package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/eth2030/devchain/core/state"
	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/core/vm"
	"github.com/eth2030/devchain/crypto"
	"github.com/eth2030/devchain/log"
	"github.com/eth2030/devchain/metrics"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Chain    *ChainConfig
	State    state.Store
	Executor vm.Executor
	Hasher   *crypto.Hasher // nil creates one

	Logger  *log.Logger
	Metrics *metrics.Registry
}

// Processor applies single transactions to the state store. Each call is
// atomic: the store either receives every effect of the transaction or,
// when execution fails, only the nonce increment and the gas payment.
type Processor struct {
	chain    *ChainConfig
	state    state.Store
	executor vm.Executor
	signer   gethtypes.Signer
	hasher   *crypto.Hasher
	log      *log.Logger

	reverts *metrics.Counter
	gasUsed *metrics.Counter
}

// NewProcessor creates a processor. Chain, State and Executor are required.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Chain == nil || cfg.State == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("%w: processor needs chain config, state and executor", ErrNilCollaborator)
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = crypto.NewHasher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().Module("processor")
	}
	reg := metrics.Or(cfg.Metrics)
	return &Processor{
		chain:    cfg.Chain,
		state:    cfg.State,
		executor: cfg.Executor,
		signer:   cfg.Chain.Signer(),
		hasher:   hasher,
		log:      logger,
		reverts:  reg.Counter(metrics.ProcessorReverts),
		gasUsed:  reg.Counter(metrics.ProcessorGasUsed),
	}, nil
}

// Signer returns the signer used for sender recovery.
func (p *Processor) Signer() gethtypes.Signer { return p.signer }

// Sender recovers the sender of tx.
func (p *Processor) Sender(tx *gethtypes.Transaction) (common.Address, error) {
	return gethtypes.Sender(p.signer, tx)
}

// Apply executes tx as transaction index of the block described by block,
// after cumulativeGas has been used by the transactions before it.
//
// Protocol outcomes are reported in the result: validation failures set
// Rejected, execution failures clear Success. The returned error is non-nil
// only when the state store failed, in which case the store is left as it
// was before the call.
func (p *Processor) Apply(ctx context.Context, tx *gethtypes.Transaction, block *types.BlockContext, index int, cumulativeGas uint64) (*types.ExecutionResult, error) {
	res := &types.ExecutionResult{TxHash: tx.Hash()}

	from, err := gethtypes.Sender(p.signer, tx)
	if err != nil {
		return p.reject(res, fmt.Errorf("%w: %v", ErrInvalidSender, err)), nil
	}
	res.Sender = from

	fields, err := types.ExtractFields(tx)
	if err != nil {
		return p.reject(res, err), nil
	}
	price := fields.EffectiveGasPrice(block.BaseFee)
	res.EffectiveGasPrice = price

	acc, err := p.state.GetAccount(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("load sender %v: %w", from, err)
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	intrinsic, err := p.preCheck(acc, fields, price, block, cumulativeGas)
	if err != nil {
		return p.reject(res, err), nil
	}

	snap, err := p.state.CreateSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.execute(ctx, res, tx, fields, price, intrinsic, block, index); err != nil {
		if rerr := p.state.RevertSnapshot(ctx, snap); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	if res.Rejected {
		return res, p.state.RevertSnapshot(ctx, snap)
	}
	if err := p.state.CommitSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	res.CumulativeGasUsed = cumulativeGas + res.GasUsed
	res.Receipt = p.receipt(tx, res, block, index)
	if !res.Success {
		p.reverts.Inc()
	}
	p.gasUsed.Add(int64(res.GasUsed))
	p.log.Debug("Applied transaction", "hash", res.TxHash, "from", from, "nonce", fields.Nonce,
		"gas", res.GasUsed, "success", res.Success, "err", res.Error)
	return res, nil
}

func (p *Processor) reject(res *types.ExecutionResult, err error) *types.ExecutionResult {
	res.Rejected = true
	res.Error = err.Error()
	p.log.Debug("Rejected transaction", "hash", res.TxHash, "err", err)
	return res
}

// preCheck validates tx against the sender account and the block. It
// returns the intrinsic gas.
func (p *Processor) preCheck(acc *types.Account, f *types.TxFields, price *uint256.Int, block *types.BlockContext, cumulativeGas uint64) (uint64, error) {
	if cumulativeGas > block.GasLimit || f.Gas > block.GasLimit-cumulativeGas {
		return 0, fmt.Errorf("%w: tx gas %d, block remaining %d", ErrGasLimitReached, f.Gas, block.GasLimit-min(cumulativeGas, block.GasLimit))
	}
	intrinsic, err := IntrinsicGas(f.Data, f.AccessList, f.IsCreate(), p.chain.EnableInitCodeWordGas)
	if err != nil {
		return 0, err
	}
	if f.Gas < intrinsic {
		return 0, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, f.Gas, intrinsic)
	}
	if f.IsCreate() && p.chain.EnableInitCodeWordGas && len(f.Data) > p.chain.MaxInitCodeSize() {
		return 0, fmt.Errorf("%w: code size %d, limit %d", ErrMaxInitCodeSizeExceeded, len(f.Data), p.chain.MaxInitCodeSize())
	}
	if f.Kind == types.TxDynamicFee && f.GasTipCap.Gt(f.GasFeeCap) {
		return 0, fmt.Errorf("%w: tip %v, fee cap %v", ErrTipAboveFeeCap, f.GasTipCap, f.GasFeeCap)
	}
	if p.chain.ForceFeeCapCheck && block.BaseFee != nil && f.GasFeeCap.Lt(block.BaseFee) {
		return 0, fmt.Errorf("%w: fee cap %v, base fee %v", ErrFeeCapTooLow, f.GasFeeCap, block.BaseFee)
	}
	if f.Nonce < acc.Nonce {
		return 0, fmt.Errorf("%w: tx %d, state %d", ErrNonceTooLow, f.Nonce, acc.Nonce)
	}
	if f.Nonce > acc.Nonce {
		return 0, fmt.Errorf("%w: tx %d, state %d", ErrNonceTooHigh, f.Nonce, acc.Nonce)
	}
	cost, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(f.Gas))
	if !overflow {
		cost, overflow = cost.AddOverflow(cost, f.Value)
	}
	if overflow || acc.Balance.Lt(cost) {
		return 0, fmt.Errorf("%w: have %v, want %v", ErrInsufficientFunds, acc.Balance, cost)
	}
	return intrinsic, nil
}

// execute runs a validated transaction and writes its effects to the store.
// It fills res; errors are store failures.
func (p *Processor) execute(ctx context.Context, res *types.ExecutionResult, tx *gethtypes.Transaction, f *types.TxFields, price *uint256.Int, intrinsic uint64, block *types.BlockContext, index int) error {
	from := res.Sender
	overlay := state.NewOverlay(ctx, p.state, p.hasher)
	overlay.SetNonce(from, f.Nonce+1)
	overlay.SubBalance(from, gasCost(f.Gas, price))

	var contract common.Address
	if f.IsCreate() {
		contract = p.hasher.CreateAddress(from, f.Nonce)
		res.ContractAddress = &contract
	}

	var (
		out     *vm.Result
		failure error // charges the whole gas limit
	)
	if f.IsCreate() || len(overlay.GetCode(*f.To)) > 0 || p.executor.IsPrecompile(*f.To, block) {
		var err error
		out, err = p.executor.Execute(ctx, &vm.Context{
			TxHash:      res.TxHash,
			TxIndex:     index,
			Origin:      from,
			To:          f.To,
			Input:       f.Data,
			Value:       f.Value,
			Gas:         f.Gas - intrinsic,
			GasPrice:    price,
			CreateNonce: f.Nonce,
			AccessList:  f.AccessList,
			Block:       block,
			State:       overlay,
		})
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			failure = fmt.Errorf("execution backend: %w", err)
		case out.IsValidationError:
			res.Rejected = true
			res.Error = out.RevertReason
			return nil
		}
	} else {
		if !f.Value.IsZero() {
			overlay.SubBalance(from, f.Value)
			overlay.AddBalance(*f.To, f.Value)
		}
		out = &vm.Result{Success: true}
	}
	if err := overlay.Error(); err != nil {
		return err
	}

	gasUsed := f.Gas
	if failure == nil {
		gasUsed = min(intrinsic+out.GasUsed, f.Gas)
	}
	if failure == nil && out.Success && f.IsCreate() {
		gasUsed, failure = p.deposit(overlay, contract, out.ReturnData, gasUsed, f.Gas)
	}

	if failure != nil || !out.Success {
		if failure == nil {
			failure = out.Err
			if out.RevertReason != "" {
				failure = errors.New(out.RevertReason)
			}
		}
		if failure == nil {
			failure = errors.New("execution failed")
		}
		res.Success = false
		res.GasUsed = gasUsed
		res.Error = failure.Error()
		if out != nil {
			res.ReturnData = out.ReturnData
		}
		res.Logs = []*gethtypes.Log{}
		return p.chargeOnly(ctx, from, f.Nonce+1, gasUsed, price, block.Coinbase)
	}

	refund := min(out.Refund, gasUsed/p.chain.refundQuotient())
	gasUsed -= refund
	overlay.AddBalance(from, gasCost(f.Gas-gasUsed, price))
	if fee := gasCost(gasUsed, price); !fee.IsZero() {
		overlay.AddBalance(block.Coinbase, fee)
	}
	if err := overlay.Flush(ctx, p.state); err != nil {
		return err
	}

	logs := out.Logs
	if logs == nil {
		logs = []*gethtypes.Log{}
	}
	for _, l := range logs {
		l.TxHash = res.TxHash
		l.TxIndex = uint(index)
		l.BlockNumber = block.Number
	}
	res.Success = true
	res.GasUsed = gasUsed
	res.ReturnData = out.ReturnData
	res.Logs = logs
	res.Bloom = types.LogsBloom(p.hasher, logs)
	return nil
}

// deposit charges and stores the code returned by a successful creation.
func (p *Processor) deposit(overlay *state.Overlay, contract common.Address, code []byte, gasUsed, gasLimit uint64) (uint64, error) {
	if len(code) > p.chain.MaxCodeSize {
		return gasLimit, fmt.Errorf("%w: %d bytes", ErrMaxCodeSizeExceeded, len(code))
	}
	cost := uint64(len(code)) * CreateDataGas
	if gasUsed+cost > gasLimit {
		return gasLimit, ErrCodeStoreOutOfGas
	}
	if len(code) > 0 {
		overlay.SetCode(contract, code)
	}
	return gasUsed + cost, nil
}

// chargeOnly writes the effects a failed transaction keeps: the nonce
// increment and, for a non-zero fee, the gas debit and coinbase credit.
func (p *Processor) chargeOnly(ctx context.Context, from common.Address, nonce, gasUsed uint64, price *uint256.Int, coinbase common.Address) error {
	charge := state.NewOverlay(ctx, p.state, p.hasher)
	charge.SetNonce(from, nonce)
	if fee := gasCost(gasUsed, price); !fee.IsZero() {
		charge.SubBalance(from, fee)
		charge.AddBalance(coinbase, fee)
	}
	return charge.Flush(ctx, p.state)
}

func (p *Processor) receipt(tx *gethtypes.Transaction, res *types.ExecutionResult, block *types.BlockContext, index int) *gethtypes.Receipt {
	r := &gethtypes.Receipt{
		Type:              tx.Type(),
		CumulativeGasUsed: res.CumulativeGasUsed,
		Bloom:             res.Bloom,
		Logs:              res.Logs,
		TxHash:            res.TxHash,
		GasUsed:           res.GasUsed,
		EffectiveGasPrice: res.EffectiveGasPrice.ToBig(),
		BlockNumber:       new(big.Int).SetUint64(block.Number),
		TransactionIndex:  uint(index),
	}
	if res.Success {
		r.Status = gethtypes.ReceiptStatusSuccessful
	} else {
		r.Status = gethtypes.ReceiptStatusFailed
	}
	if res.ContractAddress != nil {
		r.ContractAddress = *res.ContractAddress
	}
	return r
}

func gasCost(gas uint64, price *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(gas), price)
}
