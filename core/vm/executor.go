// Package vm defines the contract between the transaction processor and the
// bytecode execution engine: the execution context handed in, the result
// handed back, and the state view execution mutates.
package vm

//go:generate mockgen -destination=./executor_mock.go -package=vm . Executor

import (
	"context"

	"github.com/eth2030/devchain/core/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// StateOverlay is the mutable state view an Executor runs against. Writes
// are provisional: the caller decides whether to flush or discard them.
type StateOverlay interface {
	Exist(addr common.Address) bool
	GetBalance(addr common.Address) *uint256.Int
	GetNonce(addr common.Address) uint64
	GetCode(addr common.Address) []byte
	GetCodeHash(addr common.Address) common.Hash
	GetState(addr common.Address, slot common.Hash) common.Hash

	CreateAccount(addr common.Address)
	SetBalance(addr common.Address, amount *uint256.Int)
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)
	SetNonce(addr common.Address, nonce uint64)
	SetCode(addr common.Address, code []byte)
	SetState(addr common.Address, slot, value common.Hash)
	DeleteAccount(addr common.Address)

	Snapshot() int
	RevertToSnapshot(id int)

	// HasStorage reports whether addr holds any non-zero slot.
	HasStorage(addr common.Address) bool

	// Error reports a failure of the store below the overlay.
	Error() error
}

// Context is one unit of execution: a message call or a contract creation.
type Context struct {
	TxHash  common.Hash
	TxIndex int

	Origin   common.Address
	To       *common.Address // nil deploys Input as init code
	Input    []byte
	Value    *uint256.Int
	Gas      uint64 // gas available after the intrinsic charge
	GasPrice *uint256.Int

	// CreateNonce is the sender nonce the contract address derives from.
	CreateNonce uint64
	AccessList  gethtypes.AccessList

	// TrackAccess makes the executor report every address and slot the
	// execution touched.
	TrackAccess bool

	Block *types.BlockContext
	State StateOverlay
}

// IsCreate reports whether the context deploys a contract.
func (c *Context) IsCreate() bool { return c.To == nil }

// Result is what an execution produced. A false Success with a nil error
// from Execute is a protocol outcome (revert, out of gas, invalid opcode);
// an error from Execute means the engine itself failed.
type Result struct {
	Success bool
	// GasUsed excludes the code deposit charge of a successful creation.
	GasUsed uint64
	// Refund is the refund counter at the end of execution, uncapped.
	Refund     uint64
	ReturnData []byte
	Logs       []*gethtypes.Log

	RevertReason    string
	ContractAddress *common.Address
	// IsValidationError marks failures detected before any opcode ran.
	IsValidationError bool
	Err               error

	// AccessList is set when the context asked for access tracking.
	AccessList gethtypes.AccessList
}

// Executor runs bytecode.
type Executor interface {
	Execute(ctx context.Context, c *Context) (*Result, error)
	// IsPrecompile reports whether addr is a precompiled contract under the
	// rules in force for block.
	IsPrecompile(addr common.Address, block *types.BlockContext) bool
}
