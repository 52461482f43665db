package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/log"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
)

// KeyValueStore is the subset of a go-ethereum key-value database the state
// store needs. Both memorydb and leveldb satisfy it.
type KeyValueStore interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
	ethdb.Iteratee
	ethdb.Batcher
}

// undoEntry restores one key to the value it held before a write.
type undoEntry struct {
	key     []byte
	prev    []byte
	existed bool
}

type snapshotMark struct {
	id    SnapshotID
	index int // journal length when the snapshot was opened
}

// Database is a Store over a key-value backend. While any snapshot is open
// every write records the previous value in an undo journal; reverting a
// snapshot replays the journal backwards down to the snapshot's mark.
type Database struct {
	db  KeyValueStore
	log *log.Logger

	mu      sync.RWMutex
	journal []undoEntry
	marks   []snapshotMark
	nextID  SnapshotID
}

// NewDatabase wraps db. A nil logger uses the default "state" module logger.
func NewDatabase(db KeyValueStore, logger *log.Logger) *Database {
	if logger == nil {
		logger = log.Default().Module("state")
	}
	return &Database{db: db, log: logger, nextID: 1}
}

// Backend returns the underlying key-value store.
func (d *Database) Backend() KeyValueStore { return d.db }

func (d *Database) get(key []byte) ([]byte, bool, error) {
	ok, err := d.db.Has(key)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := d.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// record appends the current value of key to the journal. Caller holds mu.
func (d *Database) record(key []byte) error {
	if len(d.marks) == 0 {
		return nil
	}
	prev, existed, err := d.get(key)
	if err != nil {
		return err
	}
	d.journal = append(d.journal, undoEntry{key: common.CopyBytes(key), prev: common.CopyBytes(prev), existed: existed})
	return nil
}

func (d *Database) put(key, value []byte) error {
	if err := d.record(key); err != nil {
		return err
	}
	return d.db.Put(key, value)
}

func (d *Database) delete(key []byte) error {
	if err := d.record(key); err != nil {
		return err
	}
	return d.db.Delete(key)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func decodeAccount(enc []byte) (*types.Account, error) {
	var sa gethtypes.StateAccount
	if err := rlp.DecodeBytes(enc, &sa); err != nil {
		return nil, err
	}
	return types.AccountFromState(&sa), nil
}

// GetAccount implements Reader.
func (d *Database) GetAccount(_ context.Context, addr common.Address) (*types.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	enc, ok, err := d.get(accountKey(addr))
	if err != nil {
		return nil, fmt.Errorf("read account %s: %w", addr, err)
	}
	if !ok {
		return nil, nil
	}
	acc, err := decodeAccount(enc)
	if err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}
	return acc, nil
}

// GetStorage implements Reader.
func (d *Database) GetStorage(_ context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok, err := d.get(storageKey(addr, slot))
	if err != nil {
		return common.Hash{}, fmt.Errorf("read storage %s/%x: %w", addr, slot, err)
	}
	if !ok {
		return common.Hash{}, nil
	}
	return common.BytesToHash(v), nil
}

// GetCode implements Reader.
func (d *Database) GetCode(_ context.Context, codeHash common.Hash) ([]byte, error) {
	if codeHash == gethtypes.EmptyCodeHash || codeHash == (common.Hash{}) {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	code, _, err := d.get(codeKey(codeHash))
	if err != nil {
		return nil, fmt.Errorf("read code %x: %w", codeHash, err)
	}
	return code, nil
}

// GetAllAccounts implements Reader.
func (d *Database) GetAllAccounts(_ context.Context) (map[common.Address]*types.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	it := d.db.NewIterator(accountPrefix, nil)
	defer it.Release()

	out := make(map[common.Address]*types.Account)
	for it.Next() {
		key := it.Key()
		if len(key) != len(accountPrefix)+common.AddressLength {
			continue
		}
		acc, err := decodeAccount(it.Value())
		if err != nil {
			return nil, fmt.Errorf("decode account %x: %w", key[len(accountPrefix):], err)
		}
		out[common.BytesToAddress(key[len(accountPrefix):])] = acc
	}
	return out, it.Error()
}

// GetAllStorage implements Reader.
func (d *Database) GetAllStorage(_ context.Context, addr common.Address) (map[common.Hash]common.Hash, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	prefix := storageAccountPrefix(addr)
	it := d.db.NewIterator(prefix, nil)
	defer it.Release()

	out := make(map[common.Hash]common.Hash)
	for it.Next() {
		key := it.Key()
		if len(key) != len(prefix)+common.HashLength {
			continue
		}
		out[common.BytesToHash(key[len(prefix):])] = common.BytesToHash(it.Value())
	}
	return out, it.Error()
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// SaveAccount implements Store.
func (d *Database) SaveAccount(_ context.Context, addr common.Address, acc *types.Account) error {
	enc, err := rlp.EncodeToBytes(acc.StateAccount())
	if err != nil {
		return fmt.Errorf("encode account %s: %w", addr, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.put(accountKey(addr), enc); err != nil {
		return fmt.Errorf("write account %s: %w", addr, err)
	}
	return nil
}

// DeleteAccount implements Store.
func (d *Database) DeleteAccount(_ context.Context, addr common.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var slots [][]byte
	it := d.db.NewIterator(storageAccountPrefix(addr), nil)
	for it.Next() {
		slots = append(slots, common.CopyBytes(it.Key()))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return fmt.Errorf("iterate storage %s: %w", addr, err)
	}
	for _, key := range slots {
		if err := d.delete(key); err != nil {
			return fmt.Errorf("delete storage %s: %w", addr, err)
		}
	}
	if err := d.delete(accountKey(addr)); err != nil {
		return fmt.Errorf("delete account %s: %w", addr, err)
	}
	return nil
}

// SaveStorage implements Store.
func (d *Database) SaveStorage(_ context.Context, addr common.Address, slot, value common.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if value == (common.Hash{}) {
		err = d.delete(storageKey(addr, slot))
	} else {
		err = d.put(storageKey(addr, slot), value.Bytes())
	}
	if err != nil {
		return fmt.Errorf("write storage %s/%x: %w", addr, slot, err)
	}
	return nil
}

// SaveCode implements Store.
func (d *Database) SaveCode(_ context.Context, codeHash common.Hash, code []byte) error {
	if len(code) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.put(codeKey(codeHash), code); err != nil {
		return fmt.Errorf("write code %x: %w", codeHash, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// CreateSnapshot implements Store.
func (d *Database) CreateSnapshot(_ context.Context) (SnapshotID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.marks = append(d.marks, snapshotMark{id: id, index: len(d.journal)})
	return id, nil
}

// top validates that id is the innermost open snapshot. Caller holds mu.
func (d *Database) top(id SnapshotID) (snapshotMark, error) {
	if len(d.marks) == 0 {
		return snapshotMark{}, fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}
	last := d.marks[len(d.marks)-1]
	if last.id == id {
		return last, nil
	}
	for _, m := range d.marks {
		if m.id == id {
			return snapshotMark{}, fmt.Errorf("%w: %d is not the innermost snapshot (%d)", ErrSnapshotOrder, id, last.id)
		}
	}
	return snapshotMark{}, fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
}

// CommitSnapshot implements Store. The undo entries stay in the journal while
// an enclosing snapshot still needs them.
func (d *Database) CommitSnapshot(_ context.Context, id SnapshotID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.top(id); err != nil {
		return err
	}
	d.marks = d.marks[:len(d.marks)-1]
	if len(d.marks) == 0 {
		d.journal = nil
	}
	return nil
}

// RevertSnapshot implements Store.
func (d *Database) RevertSnapshot(_ context.Context, id SnapshotID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mark, err := d.top(id)
	if err != nil {
		return err
	}
	batch := d.db.NewBatch()
	for i := len(d.journal) - 1; i >= mark.index; i-- {
		e := d.journal[i]
		if e.existed {
			err = batch.Put(e.key, e.prev)
		} else {
			err = batch.Delete(e.key)
		}
		if err != nil {
			return fmt.Errorf("revert snapshot %d: %w", id, err)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("revert snapshot %d: %w", id, err)
	}
	d.log.Debug("Reverted state snapshot", "id", id, "entries", len(d.journal)-mark.index)

	d.journal = d.journal[:mark.index]
	d.marks = d.marks[:len(d.marks)-1]
	return nil
}

// Depth returns the number of open snapshots.
func (d *Database) Depth() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.marks)
}
