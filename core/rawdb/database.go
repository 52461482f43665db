// Package rawdb persists the chain: headers, transaction bodies and lookups,
// receipts, logs and per-block blooms, over a go-ethereum key-value store.
//
// Each record type owns a single-byte key prefix (see schema.go). The head
// marker is written after everything else of a block, so readers never see
// a partially persisted block.
package rawdb

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("rawdb: not found")

// KeyValueStore is the backend contract shared by the chain and state
// stores.
type KeyValueStore interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
	ethdb.Iteratee
	ethdb.Batcher
	Close() error
}

// NewMemoryDatabase returns an ephemeral backend.
func NewMemoryDatabase() KeyValueStore {
	return memorydb.New()
}

// NewLevelDBDatabase opens (or creates) a persistent backend in dir.
func NewLevelDBDatabase(dir string, cache, handles int, readonly bool) (KeyValueStore, error) {
	db, err := leveldb.New(dir, cache, handles, "devchain/db/", readonly)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return db, nil
}

// read returns the value under key, or ErrNotFound.
func read(db ethdb.KeyValueReader, key []byte) ([]byte, error) {
	ok, err := db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.Get(key)
}
