// Package state holds account, storage and code state for the chain. A Store
// is the committed state with nested snapshots; an Overlay is a scratch view
// over a Store that execution mutates freely and that is flushed back or
// discarded as a unit.
package state

import (
	"context"
	"errors"

	"github.com/eth2030/devchain/core/types"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrSnapshotNotFound is returned for an unknown or already consumed
	// snapshot id.
	ErrSnapshotNotFound = errors.New("state: snapshot not found")

	// ErrSnapshotOrder is returned when a snapshot other than the most
	// recent one is committed or reverted.
	ErrSnapshotOrder = errors.New("state: snapshots must be released in LIFO order")
)

// SnapshotID identifies an open snapshot.
type SnapshotID uint64

// Reader is the read half of the state store.
type Reader interface {
	// GetAccount returns a copy of the account, or nil if it does not exist.
	GetAccount(ctx context.Context, addr common.Address) (*types.Account, error)
	GetStorage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	GetCode(ctx context.Context, codeHash common.Hash) ([]byte, error)
	GetAllAccounts(ctx context.Context) (map[common.Address]*types.Account, error)
	GetAllStorage(ctx context.Context, addr common.Address) (map[common.Hash]common.Hash, error)
}

// Store is the committed state.
type Store interface {
	Reader

	SaveAccount(ctx context.Context, addr common.Address, acc *types.Account) error
	// DeleteAccount removes the account together with all of its storage.
	DeleteAccount(ctx context.Context, addr common.Address) error
	// SaveStorage writes a slot; the zero value deletes it.
	SaveStorage(ctx context.Context, addr common.Address, slot, value common.Hash) error
	SaveCode(ctx context.Context, codeHash common.Hash, code []byte) error

	// CreateSnapshot opens a nested snapshot. Snapshots are committed or
	// reverted strictly in reverse order of creation.
	CreateSnapshot(ctx context.Context) (SnapshotID, error)
	CommitSnapshot(ctx context.Context, id SnapshotID) error
	RevertSnapshot(ctx context.Context, id SnapshotID) error
}
