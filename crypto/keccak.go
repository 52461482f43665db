// Package crypto exposes the hashing and address derivation primitives the
// engine needs. Callers hold an explicit Hasher rather than reaching for a
// package-level singleton.
package crypto

import (
	"hash"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// Hasher computes legacy Keccak-256 digests. It is safe for concurrent use;
// sponge states are pooled per instance.
type Hasher struct {
	pool sync.Pool
}

// NewHasher returns a ready Hasher.
func NewHasher() *Hasher {
	h := new(Hasher)
	h.pool.New = func() any { return sha3.NewLegacyKeccak256() }
	return h
}

// Keccak256 hashes the concatenation of data.
func (h *Hasher) Keccak256(data ...[]byte) []byte {
	d := h.pool.Get().(hash.Hash)
	defer h.pool.Put(d)

	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Hash is Keccak256 returned as a common.Hash.
func (h *Hasher) Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(h.Keccak256(data...))
}

// CreateAddress derives the address of a contract deployed by sender with
// the given account nonce: the low 20 bytes of keccak(rlp([sender, nonce])).
func (h *Hasher) CreateAddress(sender common.Address, nonce uint64) common.Address {
	enc, err := rlp.EncodeToBytes([]any{sender, nonce})
	if err != nil {
		// Address and uint64 always encode.
		panic(err)
	}
	return common.BytesToAddress(h.Keccak256(enc)[12:])
}
