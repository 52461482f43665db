package geth

import (
	"maps"
	"slices"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/core/vm"
	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"
)

var _ gethvm.StateDB = (*stateDB)(nil)

// nonEmptyStorageRoot stands in for the storage root of an account that
// holds storage. The EVM only compares storage roots against the empty root.
var nonEmptyStorageRoot = common.Hash{1}

// revision pairs an overlay snapshot with the local journal length.
type revision struct {
	overlay int
	journal int
}

// stateDB is the EVM's view of a vm.StateOverlay. Accounts, code and
// storage are read from the overlay on demand and written straight into
// it. Per-transaction data the overlay does not hold lives here, under a
// journal that reverts together with the overlay's.
type stateDB struct {
	overlay vm.StateOverlay
	txHash  common.Hash
	txIndex int

	refund     uint64
	logs       []*gethtypes.Log
	committed  map[common.Address]map[common.Hash]common.Hash // slot values at the start of the execution
	created    map[common.Address]bool
	destructed map[common.Address]bool
	dirty      map[common.Address]int // journal entries per address
	transient  map[common.Address]map[common.Hash]common.Hash
	warmAddrs  map[common.Address]bool
	warmSlots  map[common.Address]map[common.Hash]bool

	journal   []func()
	revisions []revision
}

func newStateDB(overlay vm.StateOverlay, txHash common.Hash, txIndex int) *stateDB {
	return &stateDB{
		overlay:    overlay,
		txHash:     txHash,
		txIndex:    txIndex,
		committed:  make(map[common.Address]map[common.Hash]common.Hash),
		created:    make(map[common.Address]bool),
		destructed: make(map[common.Address]bool),
		dirty:      make(map[common.Address]int),
		transient:  make(map[common.Address]map[common.Hash]common.Hash),
		warmAddrs:  make(map[common.Address]bool),
		warmSlots:  make(map[common.Address]map[common.Hash]bool),
	}
}

// markDirty records that addr changed, so Finalise looks at it.
func (s *stateDB) markDirty(addr common.Address) {
	s.dirty[addr]++
	s.journal = append(s.journal, func() {
		s.dirty[addr]--
		if s.dirty[addr] == 0 {
			delete(s.dirty, addr)
		}
	})
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (s *stateDB) CreateAccount(addr common.Address) {
	s.overlay.CreateAccount(addr)
	s.markDirty(addr)
}

func (s *stateDB) CreateContract(addr common.Address) {
	if s.created[addr] {
		return
	}
	s.created[addr] = true
	s.journal = append(s.journal, func() { delete(s.created, addr) })
}

func (s *stateDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	prev := s.overlay.GetBalance(addr)
	if !amount.IsZero() {
		s.overlay.SubBalance(addr, amount)
	}
	s.markDirty(addr)
	return *prev
}

func (s *stateDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	prev := s.overlay.GetBalance(addr)
	if !amount.IsZero() {
		s.overlay.AddBalance(addr, amount)
	}
	s.markDirty(addr)
	return *prev
}

func (s *stateDB) GetBalance(addr common.Address) *uint256.Int { return s.overlay.GetBalance(addr) }

func (s *stateDB) GetNonce(addr common.Address) uint64 { return s.overlay.GetNonce(addr) }

func (s *stateDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	s.overlay.SetNonce(addr, nonce)
	s.markDirty(addr)
}

func (s *stateDB) GetCodeHash(addr common.Address) common.Hash { return s.overlay.GetCodeHash(addr) }

func (s *stateDB) GetCode(addr common.Address) []byte { return s.overlay.GetCode(addr) }

func (s *stateDB) SetCode(addr common.Address, code []byte, _ tracing.CodeChangeReason) []byte {
	prev := s.overlay.GetCode(addr)
	s.overlay.SetCode(addr, code)
	s.markDirty(addr)
	return prev
}

func (s *stateDB) GetCodeSize(addr common.Address) int { return len(s.overlay.GetCode(addr)) }

func (s *stateDB) Exist(addr common.Address) bool { return s.overlay.Exist(addr) }

// Empty follows EIP-161: no balance, no nonce and no code.
func (s *stateDB) Empty(addr common.Address) bool {
	if !s.overlay.Exist(addr) {
		return true
	}
	hash := s.overlay.GetCodeHash(addr)
	return s.overlay.GetBalance(addr).IsZero() && s.overlay.GetNonce(addr) == 0 &&
		(hash == (common.Hash{}) || hash == gethtypes.EmptyCodeHash)
}

// SelfDestruct zeroes the balance and marks addr for deletion at Finalise.
// The caller has already credited the beneficiary.
func (s *stateDB) SelfDestruct(addr common.Address) uint256.Int {
	if !s.overlay.Exist(addr) {
		return uint256.Int{}
	}
	prev := s.overlay.GetBalance(addr)
	s.overlay.SetBalance(addr, new(uint256.Int))
	if !s.destructed[addr] {
		s.destructed[addr] = true
		s.journal = append(s.journal, func() { delete(s.destructed, addr) })
	}
	s.markDirty(addr)
	return *prev
}

func (s *stateDB) HasSelfDestructed(addr common.Address) bool { return s.destructed[addr] }

// SelfDestruct6780 only destroys contracts created in this execution.
func (s *stateDB) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	if !s.overlay.Exist(addr) {
		return uint256.Int{}, false
	}
	if s.created[addr] {
		return s.SelfDestruct(addr), true
	}
	return *s.overlay.GetBalance(addr), false
}

// ---------------------------------------------------------------------------
// Storage
// ---------------------------------------------------------------------------

// origin returns the value slot held when the execution started, given
// current, the value it holds now, if the slot has not been seen before.
func (s *stateDB) origin(addr common.Address, slot, current common.Hash) common.Hash {
	if s.created[addr] {
		return common.Hash{}
	}
	m, ok := s.committed[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		s.committed[addr] = m
	}
	if v, ok := m[slot]; ok {
		return v
	}
	m[slot] = current
	return current
}

func (s *stateDB) GetState(addr common.Address, slot common.Hash) common.Hash {
	return s.overlay.GetState(addr, slot)
}

func (s *stateDB) GetStateAndCommittedState(addr common.Address, slot common.Hash) (common.Hash, common.Hash) {
	current := s.overlay.GetState(addr, slot)
	return current, s.origin(addr, slot, current)
}

func (s *stateDB) SetState(addr common.Address, slot, value common.Hash) common.Hash {
	prev := s.overlay.GetState(addr, slot)
	s.origin(addr, slot, prev)
	if prev != value {
		s.overlay.SetState(addr, slot, value)
	}
	s.markDirty(addr)
	return prev
}

func (s *stateDB) GetStorageRoot(addr common.Address) common.Hash {
	if !s.overlay.Exist(addr) {
		return common.Hash{}
	}
	if s.overlay.HasStorage(addr) {
		return nonEmptyStorageRoot
	}
	return gethtypes.EmptyRootHash
}

func (s *stateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return s.transient[addr][key]
}

func (s *stateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	m, ok := s.transient[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		s.transient[addr] = m
	}
	prev := m[key]
	if prev == value {
		return
	}
	m[key] = value
	s.journal = append(s.journal, func() { m[key] = prev })
}

// ---------------------------------------------------------------------------
// Refunds, logs and access lists
// ---------------------------------------------------------------------------

func (s *stateDB) AddRefund(gas uint64) {
	prev := s.refund
	s.refund += gas
	s.journal = append(s.journal, func() { s.refund = prev })
}

func (s *stateDB) SubRefund(gas uint64) {
	if gas > s.refund {
		panic("refund counter below zero")
	}
	prev := s.refund
	s.refund -= gas
	s.journal = append(s.journal, func() { s.refund = prev })
}

func (s *stateDB) GetRefund() uint64 { return s.refund }

func (s *stateDB) AddLog(l *gethtypes.Log) {
	l.TxHash = s.txHash
	l.TxIndex = uint(s.txIndex)
	l.Index = uint(len(s.logs))
	s.logs = append(s.logs, l)
	s.journal = append(s.journal, func() { s.logs = s.logs[:len(s.logs)-1] })
}

// Logs returns the logs emitted so far, stamped with the block.
func (s *stateDB) Logs(block *types.BlockContext) []*gethtypes.Log {
	for _, l := range s.logs {
		l.BlockNumber = block.Number
		l.BlockTimestamp = block.Timestamp
	}
	return s.logs
}

func (s *stateDB) AddPreimage(common.Hash, []byte) {}

func (s *stateDB) AddressInAccessList(addr common.Address) bool { return s.warmAddrs[addr] }

func (s *stateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	return s.warmAddrs[addr], s.warmSlots[addr][slot]
}

func (s *stateDB) AddAddressToAccessList(addr common.Address) {
	if s.warmAddrs[addr] {
		return
	}
	s.warmAddrs[addr] = true
	s.journal = append(s.journal, func() { delete(s.warmAddrs, addr) })
}

func (s *stateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.AddAddressToAccessList(addr)
	m, ok := s.warmSlots[addr]
	if !ok {
		m = make(map[common.Hash]bool)
		s.warmSlots[addr] = m
	}
	if m[slot] {
		return
	}
	m[slot] = true
	s.journal = append(s.journal, func() { delete(m, slot) })
}

// Prepare warms the addresses and slots EIP-2929 and EIP-3651 mark as
// accessed before execution, and clears transient storage.
func (s *stateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, list gethtypes.AccessList) {
	if rules.IsBerlin {
		clear(s.warmAddrs)
		clear(s.warmSlots)
		s.AddAddressToAccessList(sender)
		if dest != nil {
			s.AddAddressToAccessList(*dest)
		}
		for _, addr := range precompiles {
			s.AddAddressToAccessList(addr)
		}
		for _, el := range list {
			s.AddAddressToAccessList(el.Address)
			for _, key := range el.StorageKeys {
				s.AddSlotToAccessList(el.Address, key)
			}
		}
		if rules.IsShanghai {
			s.AddAddressToAccessList(coinbase)
		}
	}
	clear(s.transient)
}

// ---------------------------------------------------------------------------
// Revisions
// ---------------------------------------------------------------------------

func (s *stateDB) Snapshot() int {
	s.revisions = append(s.revisions, revision{overlay: s.overlay.Snapshot(), journal: len(s.journal)})
	return len(s.revisions) - 1
}

func (s *stateDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.revisions) {
		return
	}
	rev := s.revisions[id]
	s.overlay.RevertToSnapshot(rev.overlay)
	for i := len(s.journal) - 1; i >= rev.journal; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:rev.journal]
	s.revisions = s.revisions[:id]
}

// Finalise deletes self-destructed accounts and, when deleteEmpty is set,
// every changed account left empty.
func (s *stateDB) Finalise(deleteEmpty bool) {
	for _, addr := range slices.SortedFunc(maps.Keys(s.dirty), func(a, b common.Address) int { return a.Cmp(b) }) {
		if !s.overlay.Exist(addr) {
			continue
		}
		if s.destructed[addr] || (deleteEmpty && s.Empty(addr)) {
			s.overlay.DeleteAccount(addr)
		}
	}
	clear(s.dirty)
	clear(s.destructed)
	s.journal = s.journal[:0]
	s.revisions = s.revisions[:0]
}

// ---------------------------------------------------------------------------
// Stateless and verkle hooks, unused before those forks
// ---------------------------------------------------------------------------

func (s *stateDB) PointCache() *utils.PointCache { return nil }

func (s *stateDB) Witness() *stateless.Witness { return nil }

func (s *stateDB) AccessEvents() *gethstate.AccessEvents { return nil }
