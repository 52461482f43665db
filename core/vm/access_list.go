package vm

import (
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// AccessListTracker records every address and storage slot an execution
// touches. Unlike the warm set used for gas, entries survive reverts: an
// access list built from a reverted call still lists what the call read.
type AccessListTracker struct {
	slots map[common.Address]map[common.Hash]struct{}
}

// NewAccessListTracker returns a tracker seeded with an existing list.
func NewAccessListTracker(seed gethtypes.AccessList) *AccessListTracker {
	t := &AccessListTracker{slots: make(map[common.Address]map[common.Hash]struct{})}
	for _, tuple := range seed {
		t.TouchAddress(tuple.Address)
		for _, key := range tuple.StorageKeys {
			t.TouchSlot(tuple.Address, key)
		}
	}
	return t
}

// TouchAddress records addr.
func (t *AccessListTracker) TouchAddress(addr common.Address) {
	if _, ok := t.slots[addr]; !ok {
		t.slots[addr] = make(map[common.Hash]struct{})
	}
}

// TouchSlot records a slot of addr.
func (t *AccessListTracker) TouchSlot(addr common.Address, slot common.Hash) {
	t.TouchAddress(addr)
	t.slots[addr][slot] = struct{}{}
}

// ContainsAddress reports whether addr was recorded.
func (t *AccessListTracker) ContainsAddress(addr common.Address) bool {
	_, ok := t.slots[addr]
	return ok
}

// AccessList returns the recorded entries in address then slot order,
// leaving out any excluded address that carries no slots.
func (t *AccessListTracker) AccessList(exclude ...common.Address) gethtypes.AccessList {
	skip := make(map[common.Address]bool, len(exclude))
	for _, addr := range exclude {
		skip[addr] = true
	}
	list := gethtypes.AccessList{}
	for _, addr := range slices.SortedFunc(maps.Keys(t.slots), func(a, b common.Address) int { return a.Cmp(b) }) {
		keys := slices.SortedFunc(maps.Keys(t.slots[addr]), func(a, b common.Hash) int { return a.Cmp(b) })
		if skip[addr] && len(keys) == 0 {
			continue
		}
		if keys == nil {
			keys = []common.Hash{}
		}
		list = append(list, gethtypes.AccessTuple{Address: addr, StorageKeys: keys})
	}
	return list
}
