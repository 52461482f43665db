package state

import (
	"context"
	"maps"
	"slices"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/crypto"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Overlay is a copy-on-write view over a Reader. Writes stay in memory until
// Flush; nested Snapshot/RevertToSnapshot calls undo them through a journal.
// Reads of the base that fail are remembered and reported by Error, while the
// read itself yields the zero value. An Overlay is not safe for concurrent
// use.
type Overlay struct {
	ctx    context.Context
	base   Reader
	hasher *crypto.Hasher

	accounts map[common.Address]*types.Account // nil value: deleted
	storage  map[common.Address]map[common.Hash]common.Hash
	cleared  map[common.Address]bool // storage wiped below the overlay
	code     map[common.Hash][]byte

	journal []func()
	snaps   []int
	err     error
}

// NewOverlay returns an empty overlay over base. Base reads use ctx.
func NewOverlay(ctx context.Context, base Reader, hasher *crypto.Hasher) *Overlay {
	if hasher == nil {
		hasher = crypto.NewHasher()
	}
	return &Overlay{
		ctx:      ctx,
		base:     base,
		hasher:   hasher,
		accounts: make(map[common.Address]*types.Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		cleared:  make(map[common.Address]bool),
		code:     make(map[common.Hash][]byte),
	}
}

// Error returns the first base read failure, if any.
func (o *Overlay) Error() error { return o.err }

func (o *Overlay) fail(err error) {
	if o.err == nil {
		o.err = err
	}
}

// account returns the current account without copying; nil if absent.
func (o *Overlay) account(addr common.Address) *types.Account {
	if acc, ok := o.accounts[addr]; ok {
		return acc
	}
	acc, err := o.base.GetAccount(o.ctx, addr)
	if err != nil {
		o.fail(err)
		return nil
	}
	return acc
}

func (o *Overlay) setAccount(addr common.Address, acc *types.Account) {
	prev, had := o.accounts[addr]
	o.journal = append(o.journal, func() {
		if had {
			o.accounts[addr] = prev
		} else {
			delete(o.accounts, addr)
		}
	})
	o.accounts[addr] = acc
}

// mutate applies fn to a copy of the account, creating it if needed.
func (o *Overlay) mutate(addr common.Address, fn func(acc *types.Account)) {
	var acc *types.Account
	if cur := o.account(addr); cur != nil {
		acc = cur.Copy()
	} else {
		acc = types.NewAccount()
	}
	fn(acc)
	o.setAccount(addr, acc)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Exist reports whether addr has an account.
func (o *Overlay) Exist(addr common.Address) bool { return o.account(addr) != nil }

// GetAccount returns a copy of the account, or nil.
func (o *Overlay) GetAccount(addr common.Address) *types.Account {
	if acc := o.account(addr); acc != nil {
		return acc.Copy()
	}
	return nil
}

// GetBalance returns the balance, zero for missing accounts.
func (o *Overlay) GetBalance(addr common.Address) *uint256.Int {
	if acc := o.account(addr); acc != nil {
		return new(uint256.Int).Set(acc.Balance)
	}
	return new(uint256.Int)
}

// GetNonce returns the nonce, zero for missing accounts.
func (o *Overlay) GetNonce(addr common.Address) uint64 {
	if acc := o.account(addr); acc != nil {
		return acc.Nonce
	}
	return 0
}

// GetCodeHash returns the code hash, or the zero hash for missing accounts.
func (o *Overlay) GetCodeHash(addr common.Address) common.Hash {
	if acc := o.account(addr); acc != nil {
		return acc.CodeHash
	}
	return common.Hash{}
}

// GetCode returns the account's code.
func (o *Overlay) GetCode(addr common.Address) []byte {
	acc := o.account(addr)
	if acc == nil || !acc.HasCode() {
		return nil
	}
	if code, ok := o.code[acc.CodeHash]; ok {
		return code
	}
	code, err := o.base.GetCode(o.ctx, acc.CodeHash)
	if err != nil {
		o.fail(err)
		return nil
	}
	return code
}

// GetState returns a storage slot.
func (o *Overlay) GetState(addr common.Address, slot common.Hash) common.Hash {
	if v, ok := o.storage[addr][slot]; ok {
		return v
	}
	if o.cleared[addr] {
		return common.Hash{}
	}
	v, err := o.base.GetStorage(o.ctx, addr, slot)
	if err != nil {
		o.fail(err)
		return common.Hash{}
	}
	return v
}

// HasStorage reports whether addr holds any non-zero slot. Only the
// account's own storage is scanned.
func (o *Overlay) HasStorage(addr common.Address) bool {
	for _, v := range o.storage[addr] {
		if v != (common.Hash{}) {
			return true
		}
	}
	if o.cleared[addr] {
		return false
	}
	base, err := o.base.GetAllStorage(o.ctx, addr)
	if err != nil {
		o.fail(err)
		return false
	}
	for slot := range base {
		if _, shadowed := o.storage[addr][slot]; !shadowed {
			return true
		}
	}
	return false
}

// AllAccounts merges the base accounts with the overlay's writes.
func (o *Overlay) AllAccounts() (map[common.Address]*types.Account, error) {
	out, err := o.base.GetAllAccounts(o.ctx)
	if err != nil {
		return nil, err
	}
	for addr, acc := range o.accounts {
		if acc == nil {
			delete(out, addr)
		} else {
			out[addr] = acc.Copy()
		}
	}
	return out, nil
}

// AllStorage merges the base storage of addr with the overlay's writes. Zero
// slots are omitted.
func (o *Overlay) AllStorage(addr common.Address) (map[common.Hash]common.Hash, error) {
	out := make(map[common.Hash]common.Hash)
	if !o.cleared[addr] {
		base, err := o.base.GetAllStorage(o.ctx, addr)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, base)
	}
	maps.Copy(out, o.storage[addr])
	maps.DeleteFunc(out, func(_ common.Hash, v common.Hash) bool { return v == (common.Hash{}) })
	return out, nil
}

// GetAllAccounts and GetAllStorage let an overlay feed the root calculator
// directly, for state roots over uncommitted changes.
func (o *Overlay) GetAllAccounts(context.Context) (map[common.Address]*types.Account, error) {
	return o.AllAccounts()
}

func (o *Overlay) GetAllStorage(_ context.Context, addr common.Address) (map[common.Hash]common.Hash, error) {
	return o.AllStorage(addr)
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// CreateAccount (re)creates addr with empty storage, carrying over any
// existing balance.
func (o *Overlay) CreateAccount(addr common.Address) {
	bal := o.GetBalance(addr)
	o.wipeStorage(addr)
	acc := types.NewAccount()
	acc.Balance = bal
	o.setAccount(addr, acc)
}

// SetBalance sets the balance.
func (o *Overlay) SetBalance(addr common.Address, amount *uint256.Int) {
	o.mutate(addr, func(acc *types.Account) { acc.Balance.Set(amount) })
}

// AddBalance credits amount.
func (o *Overlay) AddBalance(addr common.Address, amount *uint256.Int) {
	o.mutate(addr, func(acc *types.Account) { acc.Balance.Add(acc.Balance, amount) })
}

// SubBalance debits amount. Callers check funds beforehand.
func (o *Overlay) SubBalance(addr common.Address, amount *uint256.Int) {
	o.mutate(addr, func(acc *types.Account) { acc.Balance.Sub(acc.Balance, amount) })
}

// SetNonce sets the nonce.
func (o *Overlay) SetNonce(addr common.Address, nonce uint64) {
	o.mutate(addr, func(acc *types.Account) { acc.Nonce = nonce })
}

// SetCode installs code and updates the code hash.
func (o *Overlay) SetCode(addr common.Address, code []byte) {
	hash := gethtypes.EmptyCodeHash
	if len(code) > 0 {
		hash = o.hasher.Hash(code)
		o.code[hash] = common.CopyBytes(code)
	}
	o.mutate(addr, func(acc *types.Account) { acc.CodeHash = hash })
}

// SetState writes a storage slot.
func (o *Overlay) SetState(addr common.Address, slot, value common.Hash) {
	m, ok := o.storage[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		o.storage[addr] = m
	}
	prev, had := m[slot]
	o.journal = append(o.journal, func() {
		if had {
			m[slot] = prev
		} else {
			delete(m, slot)
		}
	})
	m[slot] = value
}

// DeleteAccount removes the account and its storage.
func (o *Overlay) DeleteAccount(addr common.Address) {
	o.wipeStorage(addr)
	o.setAccount(addr, nil)
}

func (o *Overlay) wipeStorage(addr common.Address) {
	prevMap, hadMap := o.storage[addr]
	prevCleared := o.cleared[addr]
	o.journal = append(o.journal, func() {
		if hadMap {
			o.storage[addr] = prevMap
		} else {
			delete(o.storage, addr)
		}
		if prevCleared {
			o.cleared[addr] = true
		} else {
			delete(o.cleared, addr)
		}
	})
	o.storage[addr] = make(map[common.Hash]common.Hash)
	o.cleared[addr] = true
}

// ---------------------------------------------------------------------------
// Snapshots and flushing
// ---------------------------------------------------------------------------

// Snapshot opens a nested revision and returns its id.
func (o *Overlay) Snapshot() int {
	o.snaps = append(o.snaps, len(o.journal))
	return len(o.snaps) - 1
}

// RevertToSnapshot undoes every write made since Snapshot returned id and
// discards any later revisions. Unknown ids are ignored.
func (o *Overlay) RevertToSnapshot(id int) {
	if id < 0 || id >= len(o.snaps) {
		return
	}
	mark := o.snaps[id]
	for i := len(o.journal) - 1; i >= mark; i-- {
		o.journal[i]()
	}
	o.journal = o.journal[:mark]
	o.snaps = o.snaps[:id]
}

// Dirty returns the addresses written through the overlay, sorted.
func (o *Overlay) Dirty() []common.Address {
	set := make(map[common.Address]struct{}, len(o.accounts))
	for addr := range o.accounts {
		set[addr] = struct{}{}
	}
	for addr := range o.storage {
		set[addr] = struct{}{}
	}
	for addr := range o.cleared {
		set[addr] = struct{}{}
	}
	return slices.SortedFunc(maps.Keys(set), func(a, b common.Address) int { return a.Cmp(b) })
}

// Flush writes the overlay's changes into store in address order.
func (o *Overlay) Flush(ctx context.Context, store Store) error {
	if o.err != nil {
		return o.err
	}
	for _, addr := range o.Dirty() {
		acc, touched := o.accounts[addr]
		if o.cleared[addr] || (touched && acc == nil) {
			if err := store.DeleteAccount(ctx, addr); err != nil {
				return err
			}
		}
		if touched && acc != nil {
			if code, ok := o.code[acc.CodeHash]; ok {
				if err := store.SaveCode(ctx, acc.CodeHash, code); err != nil {
					return err
				}
			}
			if err := store.SaveAccount(ctx, addr, acc); err != nil {
				return err
			}
		}
		if touched && acc == nil {
			continue
		}
		slots := o.storage[addr]
		for _, slot := range slices.SortedFunc(maps.Keys(slots), func(a, b common.Hash) int { return a.Cmp(b) }) {
			if err := store.SaveStorage(ctx, addr, slot, slots[slot]); err != nil {
				return err
			}
		}
	}
	return nil
}
