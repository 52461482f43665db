package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var (
	// ErrUnsupportedTxType is returned for transaction types the engine does
	// not execute (blob and set-code transactions).
	ErrUnsupportedTxType = errors.New("unsupported transaction type")

	// ErrUint256Overflow is returned when a value or fee field does not fit
	// in 256 bits.
	ErrUint256Overflow = errors.New("value exceeds 256 bits")
)

// TxKind identifies the variant of a signed transaction.
type TxKind uint8

const (
	TxLegacy        TxKind = iota // pre-EIP-155, no chain id in the signature
	TxLegacyChainID               // EIP-155 replay protected
	TxAccessList                  // EIP-2930
	TxDynamicFee                  // EIP-1559
)

func (k TxKind) String() string {
	switch k {
	case TxLegacy:
		return "legacy"
	case TxLegacyChainID:
		return "legacy-eip155"
	case TxAccessList:
		return "access-list"
	case TxDynamicFee:
		return "dynamic-fee"
	}
	return fmt.Sprintf("TxKind(%d)", uint8(k))
}

// TxFields is the variant-independent view of a transaction. Legacy and
// access-list transactions carry their gas price in all three fee fields.
type TxFields struct {
	Kind       TxKind
	Hash       common.Hash
	Nonce      uint64
	Gas        uint64
	GasPrice   *uint256.Int
	GasFeeCap  *uint256.Int
	GasTipCap  *uint256.Int
	To         *common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList gethtypes.AccessList
}

// IsCreate reports whether the transaction deploys a contract.
func (f *TxFields) IsCreate() bool { return f.To == nil }

// EffectiveGasPrice returns the per-gas price paid under baseFee. Dynamic-fee
// transactions pay min(feeCap, baseFee+tip); all others pay their gas price.
func (f *TxFields) EffectiveGasPrice(baseFee *uint256.Int) *uint256.Int {
	if f.Kind != TxDynamicFee || baseFee == nil {
		return new(uint256.Int).Set(f.GasPrice)
	}
	price, overflow := new(uint256.Int).AddOverflow(baseFee, f.GasTipCap)
	if overflow || price.Gt(f.GasFeeCap) {
		return new(uint256.Int).Set(f.GasFeeCap)
	}
	return price
}

// ExtractFields maps any supported variant onto TxFields.
func ExtractFields(tx *gethtypes.Transaction) (*TxFields, error) {
	var kind TxKind
	switch tx.Type() {
	case gethtypes.LegacyTxType:
		kind = TxLegacy
		if tx.Protected() {
			kind = TxLegacyChainID
		}
	case gethtypes.AccessListTxType:
		kind = TxAccessList
	case gethtypes.DynamicFeeTxType:
		kind = TxDynamicFee
	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnsupportedTxType, tx.Type())
	}
	f := &TxFields{
		Kind:       kind,
		Hash:       tx.Hash(),
		Nonce:      tx.Nonce(),
		Gas:        tx.Gas(),
		To:         tx.To(),
		Data:       tx.Data(),
		AccessList: tx.AccessList(),
	}

	var err error
	if f.Value, err = toU256(tx.Value()); err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	if f.GasFeeCap, err = toU256(tx.GasFeeCap()); err != nil {
		return nil, fmt.Errorf("fee cap: %w", err)
	}
	if f.GasTipCap, err = toU256(tx.GasTipCap()); err != nil {
		return nil, fmt.Errorf("tip cap: %w", err)
	}
	if f.GasPrice, err = toU256(tx.GasPrice()); err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return f, nil
}

// PriorityPrice is the price used to rank transactions in the pool: the fee
// cap of dynamic-fee transactions, the gas price of everything else.
func PriorityPrice(tx *gethtypes.Transaction) *big.Int {
	return tx.GasFeeCap()
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrUint256Overflow
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrUint256Overflow
	}
	return u, nil
}
