package state

import (
	"context"
	"errors"
	"testing"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/log"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
)

var (
	addrA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	slot1 = common.HexToHash("0x01")
	slot2 = common.HexToHash("0x02")
)

func newTestDatabase() *Database {
	return NewDatabase(memorydb.New(), log.Discard())
}

func account(nonce, balance uint64) *types.Account {
	acc := types.NewAccount()
	acc.Nonce = nonce
	acc.Balance = uint256.NewInt(balance)
	return acc
}

// dump captures accounts, storage and code for full-state comparisons.
type dump struct {
	Accounts map[common.Address]string
	Storage  map[common.Address]map[common.Hash]common.Hash
	Code     map[common.Hash][]byte
}

func dumpState(t *testing.T, r Reader) dump {
	t.Helper()
	ctx := context.Background()
	accs, err := r.GetAllAccounts(ctx)
	if err != nil {
		t.Fatalf("GetAllAccounts: %v", err)
	}
	d := dump{
		Accounts: make(map[common.Address]string),
		Storage:  make(map[common.Address]map[common.Hash]common.Hash),
		Code:     make(map[common.Hash][]byte),
	}
	for addr, acc := range accs {
		d.Accounts[addr] = acc.Balance.Dec() + "/" + acc.CodeHash.Hex() + "/" + uint256.NewInt(acc.Nonce).Dec()
		st, err := r.GetAllStorage(ctx, addr)
		if err != nil {
			t.Fatalf("GetAllStorage: %v", err)
		}
		if len(st) > 0 {
			d.Storage[addr] = st
		}
		if acc.HasCode() {
			code, err := r.GetCode(ctx, acc.CodeHash)
			if err != nil {
				t.Fatalf("GetCode: %v", err)
			}
			d.Code[acc.CodeHash] = code
		}
	}
	return d
}

// ---------------------------------------------------------------------------
// Reads and writes
// ---------------------------------------------------------------------------

func TestDatabaseAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase()

	if acc, err := db.GetAccount(ctx, addrA); err != nil || acc != nil {
		t.Fatalf("missing account = %v, %v", acc, err)
	}
	if err := db.SaveAccount(ctx, addrA, account(3, 100)); err != nil {
		t.Fatal(err)
	}
	acc, err := db.GetAccount(ctx, addrA)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Nonce != 3 || acc.Balance.Uint64() != 100 || acc.CodeHash != gethtypes.EmptyCodeHash {
		t.Fatalf("account = %+v", acc)
	}
}

func TestDatabaseStorageAndCode(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase()

	db.SaveStorage(ctx, addrA, slot1, common.HexToHash("0x2a"))
	db.SaveStorage(ctx, addrA, slot2, common.HexToHash("0x2b"))
	db.SaveStorage(ctx, addrB, slot1, common.HexToHash("0x99"))
	if v, _ := db.GetStorage(ctx, addrA, slot1); v != common.HexToHash("0x2a") {
		t.Fatalf("slot1 = %x", v)
	}

	// Writing zero deletes the slot.
	db.SaveStorage(ctx, addrA, slot2, common.Hash{})
	all, err := db.GetAllStorage(ctx, addrA)
	if err != nil {
		t.Fatal(err)
	}
	want := map[common.Hash]common.Hash{slot1: common.HexToHash("0x2a")}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Fatalf("storage mismatch (-want +got):\n%s", diff)
	}

	code := []byte{0x60, 0x01}
	hash := common.HexToHash("0xc0de")
	db.SaveCode(ctx, hash, code)
	if got, _ := db.GetCode(ctx, hash); string(got) != string(code) {
		t.Fatalf("code = %x", got)
	}
	if got, _ := db.GetCode(ctx, gethtypes.EmptyCodeHash); got != nil {
		t.Fatalf("empty code hash returned %x", got)
	}
}

func TestDatabaseDeleteAccount(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase()
	db.SaveAccount(ctx, addrA, account(1, 1))
	db.SaveStorage(ctx, addrA, slot1, common.HexToHash("0x01"))
	db.SaveAccount(ctx, addrB, account(1, 1))
	db.SaveStorage(ctx, addrB, slot1, common.HexToHash("0x02"))

	if err := db.DeleteAccount(ctx, addrA); err != nil {
		t.Fatal(err)
	}
	if acc, _ := db.GetAccount(ctx, addrA); acc != nil {
		t.Fatal("account survived deletion")
	}
	if st, _ := db.GetAllStorage(ctx, addrA); len(st) != 0 {
		t.Fatalf("storage survived deletion: %v", st)
	}
	if v, _ := db.GetStorage(ctx, addrB, slot1); v != common.HexToHash("0x02") {
		t.Fatal("deletion touched a neighbouring account")
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func TestDatabaseSnapshotRevertRestoresEverything(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase()
	db.SaveAccount(ctx, addrA, account(1, 1000))
	db.SaveStorage(ctx, addrA, slot1, common.HexToHash("0x11"))
	before := dumpState(t, db)

	id, err := db.CreateSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	db.SaveAccount(ctx, addrA, account(2, 1))
	db.SaveStorage(ctx, addrA, slot1, common.HexToHash("0x12"))
	db.SaveStorage(ctx, addrA, slot2, common.HexToHash("0x13"))
	codeAcc := account(0, 5)
	codeAcc.CodeHash = common.HexToHash("0xc0de")
	db.SaveCode(ctx, codeAcc.CodeHash, []byte{0xfe})
	db.SaveAccount(ctx, addrB, codeAcc)

	if err := db.RevertSnapshot(ctx, id); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, dumpState(t, db)); diff != "" {
		t.Fatalf("state after revert differs (-before +after):\n%s", diff)
	}
	if db.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", db.Depth())
	}
}

func TestDatabaseNestedSnapshots(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase()
	db.SaveAccount(ctx, addrA, account(0, 10))

	outer, _ := db.CreateSnapshot(ctx)
	db.SaveAccount(ctx, addrA, account(1, 20))
	inner, _ := db.CreateSnapshot(ctx)
	db.SaveAccount(ctx, addrA, account(2, 30))

	// The outer snapshot cannot be released while the inner one is open.
	if err := db.CommitSnapshot(ctx, outer); !errors.Is(err, ErrSnapshotOrder) {
		t.Fatalf("commit outer err = %v, want ErrSnapshotOrder", err)
	}
	if err := db.CommitSnapshot(ctx, inner); err != nil {
		t.Fatal(err)
	}
	// Reverting the outer snapshot also undoes the committed inner writes.
	if err := db.RevertSnapshot(ctx, outer); err != nil {
		t.Fatal(err)
	}
	acc, _ := db.GetAccount(ctx, addrA)
	if acc.Nonce != 0 || acc.Balance.Uint64() != 10 {
		t.Fatalf("account = %+v, want nonce 0 balance 10", acc)
	}
	if err := db.RevertSnapshot(ctx, inner); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("reuse err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestDatabaseCommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase()
	id, _ := db.CreateSnapshot(ctx)
	db.SaveAccount(ctx, addrA, account(7, 7))
	if err := db.CommitSnapshot(ctx, id); err != nil {
		t.Fatal(err)
	}
	if acc, _ := db.GetAccount(ctx, addrA); acc == nil || acc.Nonce != 7 {
		t.Fatalf("account = %+v", acc)
	}
	if len(db.journal) != 0 {
		t.Fatalf("journal not released: %d entries", len(db.journal))
	}
}

func TestDatabaseLevelDB(t *testing.T) {
	ctx := context.Background()
	kv, err := leveldb.New(t.TempDir(), 16, 16, "", false)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()

	db := NewDatabase(kv, log.Discard())
	db.SaveAccount(ctx, addrA, account(1, 1))
	id, _ := db.CreateSnapshot(ctx)
	db.SaveStorage(ctx, addrA, slot1, common.HexToHash("0x05"))
	db.DeleteAccount(ctx, addrA)
	if err := db.RevertSnapshot(ctx, id); err != nil {
		t.Fatal(err)
	}
	if acc, _ := db.GetAccount(ctx, addrA); acc == nil || acc.Nonce != 1 {
		t.Fatalf("account = %+v", acc)
	}
	if v, _ := db.GetStorage(ctx, addrA, slot1); v != (common.Hash{}) {
		t.Fatalf("slot = %x, want zero", v)
	}
}
