package core

import "errors"

// Transaction validation failures. A transaction failing any of these is
// rejected: it touches no state and pays no gas.
var (
	ErrInvalidSender           = errors.New("invalid sender")
	ErrNonceTooLow             = errors.New("nonce too low")
	ErrNonceTooHigh            = errors.New("nonce too high")
	ErrInsufficientFunds       = errors.New("insufficient funds for gas * price + value")
	ErrIntrinsicGas            = errors.New("intrinsic gas too low")
	ErrGasLimitReached         = errors.New("gas limit reached")
	ErrFeeCapTooLow            = errors.New("max fee per gas less than block base fee")
	ErrTipAboveFeeCap          = errors.New("max priority fee per gas higher than max fee per gas")
	ErrMaxInitCodeSizeExceeded = errors.New("max initcode size exceeded")
	ErrGasUintOverflow         = errors.New("gas uint64 overflow")
)

// Execution failures. These charge gas.
var (
	ErrMaxCodeSizeExceeded = errors.New("max code size exceeded")
	ErrCodeStoreOutOfGas   = errors.New("contract creation code storage out of gas")
)

// Block production errors.
var (
	ErrNotYetMined     = errors.New("transaction pending: auto-mine disabled")
	ErrPendingFull     = errors.New("pending transaction buffer full")
	ErrNoGenesis       = errors.New("chain has no genesis block")
	ErrNilCollaborator = errors.New("required collaborator is nil")
	ErrTimestampTooLow = errors.New("timestamp must be after the head block")
)
