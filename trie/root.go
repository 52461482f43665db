// Package trie computes Merkle-Patricia commitment roots for the lists and
// maps a block commits to: transactions, receipts, account state and
// per-account storage.
package trie

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"slices"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/crypto"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"golang.org/x/sync/errgroup"
)

// NodeStore receives every trie node produced during a root computation,
// keyed by node hash. Implementations must be safe for concurrent use.
type NodeStore interface {
	Put(key, value []byte) error
}

// StateSource enumerates the full account state for a state root.
type StateSource interface {
	GetAllAccounts(ctx context.Context) (map[common.Address]*types.Account, error)
	GetAllStorage(ctx context.Context, addr common.Address) (map[common.Hash]common.Hash, error)
}

// KeyValuePair is one trie entry.
type KeyValuePair struct {
	Key   []byte
	Value []byte
}

// RootCalculator derives roots over a NodeStore. With no store configured
// each computation writes into its own throwaway in-memory database.
type RootCalculator struct {
	store   NodeStore
	hasher  *crypto.Hasher
	workers int
}

// NewRootCalculator returns a calculator writing nodes into store, which may
// be nil.
func NewRootCalculator(store NodeStore, hasher *crypto.Hasher) *RootCalculator {
	if hasher == nil {
		hasher = crypto.NewHasher()
	}
	return &RootCalculator{store: store, hasher: hasher, workers: runtime.GOMAXPROCS(0)}
}

// HashRoot builds a trie over pairs (sorted here, in any input order) and
// returns its root. Entries with empty values are skipped; no entries yields
// the empty trie root.
func (c *RootCalculator) HashRoot(pairs []KeyValuePair) (common.Hash, error) {
	return c.hashRoot(c.nodeStore(), pairs)
}

func (c *RootCalculator) nodeStore() NodeStore {
	if c.store != nil {
		return c.store
	}
	return memorydb.New()
}

func (c *RootCalculator) hashRoot(store NodeStore, pairs []KeyValuePair) (common.Hash, error) {
	pairs = slices.DeleteFunc(slices.Clone(pairs), func(p KeyValuePair) bool { return len(p.Value) == 0 })
	if len(pairs) == 0 {
		return gethtypes.EmptyRootHash, nil
	}
	slices.SortFunc(pairs, func(a, b KeyValuePair) int { return bytes.Compare(a.Key, b.Key) })

	var writeErr error
	st := gethtrie.NewStackTrie(func(_ []byte, hash common.Hash, blob []byte) {
		if err := store.Put(hash.Bytes(), common.CopyBytes(blob)); err != nil && writeErr == nil {
			writeErr = err
		}
	})
	for i, p := range pairs {
		if i > 0 && bytes.Equal(pairs[i-1].Key, p.Key) {
			return common.Hash{}, fmt.Errorf("duplicate trie key %x", p.Key)
		}
		if err := st.Update(p.Key, p.Value); err != nil {
			return common.Hash{}, err
		}
	}
	root := st.Hash()
	if writeErr != nil {
		return common.Hash{}, fmt.Errorf("write trie node: %w", writeErr)
	}
	return root, nil
}

// indexKey is the RLP encoding of a list position.
func indexKey(i int) []byte {
	k, _ := rlp.EncodeToBytes(uint64(i))
	return k
}

// TransactionsRoot commits to txs keyed by index, valued by their canonical
// (typed envelope) encoding.
func (c *RootCalculator) TransactionsRoot(txs []*gethtypes.Transaction) (common.Hash, error) {
	pairs := make([]KeyValuePair, len(txs))
	for i, tx := range txs {
		enc, err := tx.MarshalBinary()
		if err != nil {
			return common.Hash{}, fmt.Errorf("encode tx %d: %w", i, err)
		}
		pairs[i] = KeyValuePair{Key: indexKey(i), Value: enc}
	}
	return c.HashRoot(pairs)
}

// ReceiptsRoot commits to receipts keyed by index, valued by their consensus
// encoding.
func (c *RootCalculator) ReceiptsRoot(receipts []*gethtypes.Receipt) (common.Hash, error) {
	pairs := make([]KeyValuePair, len(receipts))
	for i, r := range receipts {
		enc, err := r.MarshalBinary()
		if err != nil {
			return common.Hash{}, fmt.Errorf("encode receipt %d: %w", i, err)
		}
		pairs[i] = KeyValuePair{Key: indexKey(i), Value: enc}
	}
	return c.HashRoot(pairs)
}

// StorageRoot commits to one account's storage. Keys are keccak(slot), values
// the RLP of the slot value with leading zeros trimmed. Zero slots are absent.
func (c *RootCalculator) StorageRoot(storage map[common.Hash]common.Hash) (common.Hash, error) {
	return c.storageRoot(c.nodeStore(), storage)
}

func (c *RootCalculator) storageRoot(store NodeStore, storage map[common.Hash]common.Hash) (common.Hash, error) {
	pairs := make([]KeyValuePair, 0, len(storage))
	for slot, val := range storage {
		if val == (common.Hash{}) {
			continue
		}
		enc, err := rlp.EncodeToBytes(common.TrimLeftZeroes(val[:]))
		if err != nil {
			return common.Hash{}, err
		}
		pairs = append(pairs, KeyValuePair{Key: c.hasher.Keccak256(slot[:]), Value: enc})
	}
	return c.hashRoot(store, pairs)
}

// StateRoot commits to every account in src. Each account's storage root is
// computed first, in parallel, and substituted into the encoded account. The
// computed storage roots are returned alongside the state root.
func (c *RootCalculator) StateRoot(ctx context.Context, src StateSource) (common.Hash, map[common.Address]common.Hash, error) {
	accounts, err := src.GetAllAccounts(ctx)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) == 0 {
		return gethtypes.EmptyRootHash, map[common.Address]common.Hash{}, nil
	}
	store := c.nodeStore()

	addrs := make([]common.Address, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}
	roots := make([]common.Hash, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, addr := range addrs {
		g.Go(func() error {
			storage, err := src.GetAllStorage(gctx, addr)
			if err != nil {
				return fmt.Errorf("load storage of %s: %w", addr, err)
			}
			root, err := c.storageRoot(store, storage)
			if err != nil {
				return fmt.Errorf("storage root of %s: %w", addr, err)
			}
			roots[i] = root
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return common.Hash{}, nil, err
	}

	pairs := make([]KeyValuePair, len(addrs))
	storageRoots := make(map[common.Address]common.Hash, len(addrs))
	for i, addr := range addrs {
		acc := accounts[addr].Copy()
		acc.Root = roots[i]
		enc, err := rlp.EncodeToBytes(acc.StateAccount())
		if err != nil {
			return common.Hash{}, nil, fmt.Errorf("encode account %s: %w", addr, err)
		}
		pairs[i] = KeyValuePair{Key: c.hasher.Keccak256(addr[:]), Value: enc}
		storageRoots[addr] = roots[i]
	}
	root, err := c.hashRoot(store, pairs)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return root, storageRoots, nil
}
