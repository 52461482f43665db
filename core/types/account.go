package types

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Account is the consensus view of an address: nonce, balance and the
// commitments to its code and storage.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Root     common.Hash
}

// NewAccount returns an empty account with the canonical empty code hash
// and empty storage root.
func NewAccount() *Account {
	return &Account{
		Balance:  new(uint256.Int),
		CodeHash: gethtypes.EmptyCodeHash,
		Root:     gethtypes.EmptyRootHash,
	}
}

// Copy returns a deep copy.
func (a *Account) Copy() *Account {
	cpy := *a
	cpy.Balance = new(uint256.Int)
	if a.Balance != nil {
		cpy.Balance.Set(a.Balance)
	}
	return &cpy
}

// HasCode reports whether the account carries contract code.
func (a *Account) HasCode() bool {
	return a.CodeHash != gethtypes.EmptyCodeHash && a.CodeHash != (common.Hash{})
}

// IsEmpty follows EIP-161: zero nonce, zero balance and no code.
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero()) && !a.HasCode()
}

// StateAccount converts to the RLP shape committed in the state trie.
func (a *Account) StateAccount() *gethtypes.StateAccount {
	bal := new(uint256.Int)
	if a.Balance != nil {
		bal.Set(a.Balance)
	}
	codeHash := a.CodeHash
	if codeHash == (common.Hash{}) {
		codeHash = gethtypes.EmptyCodeHash
	}
	root := a.Root
	if root == (common.Hash{}) {
		root = gethtypes.EmptyRootHash
	}
	return &gethtypes.StateAccount{
		Nonce:    a.Nonce,
		Balance:  bal,
		Root:     root,
		CodeHash: codeHash.Bytes(),
	}
}

// AccountFromState is the inverse of StateAccount.
func AccountFromState(sa *gethtypes.StateAccount) *Account {
	acc := &Account{
		Nonce:    sa.Nonce,
		Balance:  new(uint256.Int),
		CodeHash: common.BytesToHash(sa.CodeHash),
		Root:     sa.Root,
	}
	if sa.Balance != nil {
		acc.Balance.Set(sa.Balance)
	}
	return acc
}
