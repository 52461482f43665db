package state

import "github.com/ethereum/go-ethereum/common"

// Key layout of the state store. The chain stores in core/rawdb share the
// same key space and avoid these prefixes.
var (
	accountPrefix = []byte("a") // a + address -> RLP(StateAccount)
	storagePrefix = []byte("o") // o + address + slot -> 32-byte value
	codePrefix    = []byte("C") // C + code hash -> bytecode
)

func accountKey(addr common.Address) []byte {
	return append(append([]byte{}, accountPrefix...), addr[:]...)
}

func storageAccountPrefix(addr common.Address) []byte {
	return append(append([]byte{}, storagePrefix...), addr[:]...)
}

func storageKey(addr common.Address, slot common.Hash) []byte {
	return append(storageAccountPrefix(addr), slot[:]...)
}

func codeKey(hash common.Hash) []byte {
	return append(append([]byte{}, codePrefix...), hash[:]...)
}
