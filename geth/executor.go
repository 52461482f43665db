package geth

import (
	"context"
	"errors"
	"math/big"
	"slices"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/core/vm"
	"github.com/eth2030/devchain/crypto"
	"github.com/eth2030/devchain/log"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

var (
	errNoChainConfig                 = errors.New("geth: nil chain config")
	errIncompleteContext             = errors.New("geth: execution context without state or block")
	_                    vm.Executor = (*Executor)(nil)
)

// Config configures an Executor.
type Config struct {
	ChainConfig *params.ChainConfig
	// GetHash serves the BLOCKHASH opcode. Nil answers the zero hash.
	GetHash GetHashFunc
	Logger  *log.Logger
}

// Executor runs messages on go-ethereum's EVM directly against the caller's
// overlay. Reads are served lazily and writes land in the overlay, where
// the caller keeps or discards them.
type Executor struct {
	config  *params.ChainConfig
	getHash GetHashFunc
	hasher  *crypto.Hasher
	log     *log.Logger
}

// NewExecutor creates an executor for the given chain rules.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.ChainConfig == nil {
		return nil, errNoChainConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().Module("evm")
	}
	return &Executor{
		config:  cfg.ChainConfig,
		getHash: cfg.GetHash,
		hasher:  crypto.NewHasher(),
		log:     logger,
	}, nil
}

// ChainConfig returns the rules the executor runs under.
func (e *Executor) ChainConfig() *params.ChainConfig { return e.config }

func (e *Executor) rules(b *types.BlockContext) params.Rules {
	return e.config.Rules(new(big.Int).SetUint64(b.Number), e.config.TerminalTotalDifficulty != nil, b.Timestamp)
}

// IsPrecompile reports whether addr is a precompiled contract for block.
func (e *Executor) IsPrecompile(addr common.Address, block *types.BlockContext) bool {
	return slices.Contains(gethvm.ActivePrecompiles(e.rules(block)), addr)
}

// Execute runs c. Protocol failures come back in the Result; an error means
// the overlay could not be read or ctx was cancelled.
func (e *Executor) Execute(ctx context.Context, c *vm.Context) (*vm.Result, error) {
	if c == nil || c.State == nil || c.Block == nil {
		return nil, errIncompleteContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		sdb    = newStateDB(c.State, c.TxHash, c.TxIndex)
		access *vm.AccessListTracker
		hooks  *tracing.Hooks
	)
	if c.TrackAccess {
		access = vm.NewAccessListTracker(c.AccessList)
		hooks = &tracing.Hooks{OnOpcode: accessTracer(access)}
	}
	evm := gethvm.NewEVM(MakeBlockContext(e.config, c.Block, e.getHash), sdb, e.config, gethvm.Config{Tracer: hooks})
	evm.SetTxContext(gethcore.NewEVMTxContext(toMessage(c)))
	stop := context.AfterFunc(ctx, evm.Cancel)
	defer stop()

	rules := e.rules(c.Block)
	precompiles := gethvm.ActivePrecompiles(rules)
	sdb.Prepare(rules, c.Origin, c.Block.Coinbase, c.To, precompiles, c.AccessList)

	value := c.Value
	if value == nil {
		value = new(uint256.Int)
	}
	res := new(vm.Result)
	var (
		ret      []byte
		leftover uint64
		vmerr    error
		target   common.Address
	)
	if c.IsCreate() {
		target = e.hasher.CreateAddress(c.Origin, c.CreateNonce)
		res.ContractAddress = &target
		nonce := sdb.GetNonce(c.Origin)
		sdb.SetNonce(c.Origin, c.CreateNonce, tracing.NonceChangeUnspecified)
		ret, _, leftover, vmerr = evm.Create(c.Origin, c.Input, c.Gas, value)
		if sdb.GetNonce(c.Origin) < nonce {
			sdb.SetNonce(c.Origin, nonce, tracing.NonceChangeUnspecified)
		}
	} else {
		target = *c.To
		ret, leftover, vmerr = evm.Call(c.Origin, target, c.Input, c.Gas, value)
	}
	if evm.Cancelled() {
		return nil, context.Cause(ctx)
	}

	res.GasUsed = c.Gas - leftover
	res.Refund = sdb.GetRefund()
	res.ReturnData = ret
	switch {
	case vmerr == nil:
		res.Success = true
		if c.IsCreate() {
			// Deposit is charged by the caller.
			if deposit := uint64(len(ret)) * params.CreateDataGas; deposit <= res.GasUsed {
				res.GasUsed -= deposit
			}
		}
		res.Logs = sdb.Logs(c.Block)
	case errors.Is(vmerr, gethvm.ErrExecutionReverted):
		res.Err = vmerr
		res.RevertReason = revertReason(ret)
	default:
		res.Err = vmerr
		res.RevertReason = vmerr.Error()
		res.IsValidationError = isValidationError(vmerr)
	}
	if c.TrackAccess {
		exclude := append([]common.Address{c.Origin, target}, precompiles...)
		res.AccessList = access.AccessList(exclude...)
	}

	sdb.Finalise(rules.IsEIP158)
	if err := c.State.Error(); err != nil {
		return nil, err
	}
	e.log.Debug("Executed message", "tx", c.TxHash, "create", c.IsCreate(), "gas", res.GasUsed, "success", res.Success)
	return res, nil
}

func revertReason(ret []byte) string {
	if reason, err := abi.UnpackRevert(ret); err == nil {
		return reason
	}
	return gethvm.ErrExecutionReverted.Error()
}

// isValidationError reports failures raised before the first opcode ran.
func isValidationError(err error) bool {
	return errors.Is(err, gethvm.ErrInsufficientBalance) ||
		errors.Is(err, gethvm.ErrDepth) ||
		errors.Is(err, gethvm.ErrNonceUintOverflow)
}

// accessTracer records the addresses and slots opcodes reach into t.
func accessTracer(t *vm.AccessListTracker) tracing.OpcodeHook {
	return func(_ uint64, op byte, _, _ uint64, scope tracing.OpContext, _ []byte, _ int, _ error) {
		stack := scope.StackData()
		n := len(stack)
		switch gethvm.OpCode(op) {
		case gethvm.SLOAD, gethvm.SSTORE:
			if n >= 1 {
				t.TouchSlot(scope.Address(), common.Hash(stack[n-1].Bytes32()))
			}
		case gethvm.BALANCE, gethvm.EXTCODESIZE, gethvm.EXTCODECOPY, gethvm.EXTCODEHASH, gethvm.SELFDESTRUCT:
			if n >= 1 {
				t.TouchAddress(common.Address(stack[n-1].Bytes20()))
			}
		case gethvm.CALL, gethvm.CALLCODE, gethvm.DELEGATECALL, gethvm.STATICCALL:
			if n >= 5 {
				t.TouchAddress(common.Address(stack[n-2].Bytes20()))
			}
		}
	}
}
