package core

import (
	"math"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Gas schedule.
const (
	// TxGas is the base cost of every transaction.
	TxGas uint64 = 21_000
	// TxGasContractCreation is the base cost of a creation (21000 + 32000).
	TxGasContractCreation uint64 = 53_000
	// TxDataZeroGas is charged per zero byte of data.
	TxDataZeroGas uint64 = 4
	// TxDataNonZeroGas is charged per non-zero byte of data (EIP-2028).
	TxDataNonZeroGas uint64 = 16
	// TxAccessListAddressGas is charged per access-list address.
	TxAccessListAddressGas uint64 = 2400
	// TxAccessListStorageKeyGas is charged per access-list storage key.
	TxAccessListStorageKeyGas uint64 = 1900
	// InitCodeWordGas is charged per 32-byte word of init code (EIP-3860).
	InitCodeWordGas uint64 = 2
	// CreateDataGas is charged per byte of deployed code.
	CreateDataGas uint64 = 200

	// MaxCodeSize is the deployed code limit (EIP-170).
	MaxCodeSize = 24_576

	RefundQuotient        uint64 = 2
	RefundQuotientEIP3529 uint64 = 5
)

// IntrinsicGas returns the gas a transaction pays before any code runs.
func IntrinsicGas(data []byte, accessList gethtypes.AccessList, isCreate, initCodeWordGas bool) (uint64, error) {
	var g txGasCounts
	for _, b := range data {
		if b == 0 {
			g.zeros++
		} else {
			g.nonZeros++
		}
	}
	if isCreate && initCodeWordGas {
		g.words = (uint64(len(data)) + 31) / 32
	}
	g.addresses = uint64(len(accessList))
	g.keys = uint64(accessList.StorageKeys())
	return g.gas(isCreate)
}

// txGasCounts holds the sizes intrinsic gas is priced on.
type txGasCounts struct {
	zeros, nonZeros uint64
	words           uint64 // init code words, 0 when not charged
	addresses, keys uint64
}

func (g txGasCounts) gas(isCreate bool) (uint64, error) {
	gas := TxGas
	if isCreate {
		gas = TxGasContractCreation
	}
	for _, c := range []struct{ n, price uint64 }{
		{g.nonZeros, TxDataNonZeroGas},
		{g.zeros, TxDataZeroGas},
		{g.words, InitCodeWordGas},
		{g.addresses, TxAccessListAddressGas},
		{g.keys, TxAccessListStorageKeyGas},
	} {
		if (math.MaxUint64-gas)/c.price < c.n {
			return 0, ErrGasUintOverflow
		}
		gas += c.n * c.price
	}
	return gas, nil
}
