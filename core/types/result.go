package types

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ExecutionResult is the outcome of applying one transaction.
//
// Validation failures set Rejected: the transaction touched no state, paid
// no gas and gets no receipt. Execution failures (revert, out of gas,
// backend error) have Success false, a receipt with status 0 and charged
// gas.
type ExecutionResult struct {
	TxHash            common.Hash
	Sender            common.Address
	Success           bool
	Rejected          bool
	GasUsed           uint64
	CumulativeGasUsed uint64
	EffectiveGasPrice *uint256.Int
	ContractAddress   *common.Address
	ReturnData        []byte
	Logs              []*gethtypes.Log
	Bloom             gethtypes.Bloom
	Error             string
	Receipt           *gethtypes.Receipt
}

// Failed reports whether the transaction did not execute successfully,
// whether it was rejected or reverted.
func (r *ExecutionResult) Failed() bool { return !r.Success }

// Included reports whether the transaction belongs in a block.
func (r *ExecutionResult) Included() bool { return !r.Rejected }
