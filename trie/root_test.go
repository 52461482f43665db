package trie

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/crypto"
	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
)

type mapSource struct {
	accounts map[common.Address]*types.Account
	storage  map[common.Address]map[common.Hash]common.Hash
	err      error
}

func (m *mapSource) GetAllAccounts(context.Context) (map[common.Address]*types.Account, error) {
	return m.accounts, m.err
}

func (m *mapSource) GetAllStorage(_ context.Context, addr common.Address) (map[common.Hash]common.Hash, error) {
	return m.storage[addr], nil
}

type countingStore struct {
	mu    sync.Mutex
	nodes map[common.Hash][]byte
}

func (s *countingStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes == nil {
		s.nodes = make(map[common.Hash][]byte)
	}
	s.nodes[common.BytesToHash(key)] = value
	return nil
}

type failingStore struct{}

func (failingStore) Put(key, value []byte) error { return errors.New("disk full") }

func makeTxs(n int) []*gethtypes.Transaction {
	txs := make([]*gethtypes.Transaction, n)
	to := common.HexToAddress("0x1234")
	for i := range txs {
		txs[i] = gethtypes.NewTx(&gethtypes.LegacyTx{
			Nonce: uint64(i), GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(int64(i)),
			V: big.NewInt(27), R: big.NewInt(1), S: big.NewInt(1),
		})
	}
	return txs
}

// ---------------------------------------------------------------------------
// List roots
// ---------------------------------------------------------------------------

func TestEmptyRoots(t *testing.T) {
	c := NewRootCalculator(nil, nil)
	txRoot, err := c.TransactionsRoot(nil)
	if err != nil || txRoot != gethtypes.EmptyRootHash {
		t.Fatalf("tx root = %x, %v", txRoot, err)
	}
	rRoot, err := c.ReceiptsRoot(nil)
	if err != nil || rRoot != gethtypes.EmptyRootHash {
		t.Fatalf("receipt root = %x, %v", rRoot, err)
	}
	sRoot, err := c.StorageRoot(map[common.Hash]common.Hash{{1}: {}})
	if err != nil || sRoot != gethtypes.EmptyRootHash {
		t.Fatalf("storage root of zero slots = %x, %v", sRoot, err)
	}
	stRoot, _, err := c.StateRoot(context.Background(), &mapSource{})
	if err != nil || stRoot != gethtypes.EmptyRootHash {
		t.Fatalf("state root = %x, %v", stRoot, err)
	}
}

func TestTransactionsRootMatchesDeriveSha(t *testing.T) {
	c := NewRootCalculator(nil, nil)
	// 130 entries crosses the single-byte RLP index boundary at 128.
	for _, n := range []int{1, 2, 16, 130} {
		txs := makeTxs(n)
		got, err := c.TransactionsRoot(txs)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		want := gethtypes.DeriveSha(gethtypes.Transactions(txs), gethtrie.NewStackTrie(nil))
		if got != want {
			t.Errorf("n=%d: root = %x, want %x", n, got, want)
		}
	}
}

func TestReceiptsRootMatchesDeriveSha(t *testing.T) {
	c := NewRootCalculator(nil, nil)
	receipts := gethtypes.Receipts{
		{Type: gethtypes.LegacyTxType, Status: 1, CumulativeGasUsed: 21000, Logs: []*gethtypes.Log{}},
		{Type: gethtypes.DynamicFeeTxType, Status: 0, CumulativeGasUsed: 60000, Logs: []*gethtypes.Log{
			{Address: common.HexToAddress("0x01"), Topics: []common.Hash{{2}}, Data: []byte{3}},
		}},
	}
	receipts[1].Bloom[0] = 0x80
	got, err := c.ReceiptsRoot(receipts)
	if err != nil {
		t.Fatal(err)
	}
	want := gethtypes.DeriveSha(receipts, gethtrie.NewStackTrie(nil))
	if got != want {
		t.Fatalf("root = %x, want %x", got, want)
	}
}

func TestHashRootOrderIndependent(t *testing.T) {
	c := NewRootCalculator(nil, nil)
	a := []KeyValuePair{{Key: []byte{1}, Value: []byte("a")}, {Key: []byte{2}, Value: []byte("b")}}
	b := []KeyValuePair{a[1], a[0], {Key: []byte{3}}}
	ra, _ := c.HashRoot(a)
	rb, _ := c.HashRoot(b)
	if ra != rb {
		t.Fatalf("roots differ: %x vs %x", ra, rb)
	}
	if _, err := c.HashRoot([]KeyValuePair{a[0], a[0]}); err == nil {
		t.Fatal("duplicate keys accepted")
	}
}

// ---------------------------------------------------------------------------
// State root
// ---------------------------------------------------------------------------

func TestStateRootMatchesGethState(t *testing.T) {
	var (
		h     = crypto.NewHasher()
		alice = common.HexToAddress("0xa11ce")
		bob   = common.HexToAddress("0xb0b")
		code  = []byte{0x60, 0x00, 0x60, 0x00, 0xf3}
	)
	src := &mapSource{
		accounts: map[common.Address]*types.Account{
			alice: {Nonce: 3, Balance: uint256.NewInt(1e18), CodeHash: gethtypes.EmptyCodeHash, Root: gethtypes.EmptyRootHash},
			bob:   {Nonce: 1, Balance: uint256.NewInt(5), CodeHash: h.Hash(code), Root: gethtypes.EmptyRootHash},
		},
		storage: map[common.Address]map[common.Hash]common.Hash{
			bob: {
				common.HexToHash("0x01"): common.HexToHash("0x2a"),
				common.HexToHash("0x02"): common.HexToHash("0xff00"),
				common.HexToHash("0x03"): {},
			},
		},
	}
	store := &countingStore{}
	got, roots, err := NewRootCalculator(store, h).StateRoot(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	sdb, err := gethstate.New(gethtypes.EmptyRootHash, gethstate.NewDatabaseForTesting())
	if err != nil {
		t.Fatal(err)
	}
	sdb.SetNonce(alice, 3, tracing.NonceChangeUnspecified)
	sdb.SetBalance(alice, uint256.NewInt(1e18), tracing.BalanceChangeUnspecified)
	sdb.SetNonce(bob, 1, tracing.NonceChangeUnspecified)
	sdb.SetBalance(bob, uint256.NewInt(5), tracing.BalanceChangeUnspecified)
	sdb.SetCode(bob, code, tracing.CodeChangeUnspecified)
	sdb.SetState(bob, common.HexToHash("0x01"), common.HexToHash("0x2a"))
	sdb.SetState(bob, common.HexToHash("0x02"), common.HexToHash("0xff00"))
	want := sdb.IntermediateRoot(true)

	if got != want {
		t.Fatalf("state root = %x, want %x", got, want)
	}
	if roots[alice] != gethtypes.EmptyRootHash {
		t.Errorf("alice storage root = %x, want empty", roots[alice])
	}
	if roots[bob] != sdb.GetStorageRoot(bob) {
		t.Errorf("bob storage root = %x, want %x", roots[bob], sdb.GetStorageRoot(bob))
	}
	if len(store.nodes) == 0 {
		t.Error("no nodes written to the configured store")
	}
}

func TestStateRootDeterministic(t *testing.T) {
	src := &mapSource{accounts: map[common.Address]*types.Account{}}
	for i := 0; i < 64; i++ {
		acc := types.NewAccount()
		acc.Balance.SetUint64(uint64(i) * 1000)
		src.accounts[common.BigToAddress(big.NewInt(int64(i+1)))] = acc
	}
	c := NewRootCalculator(nil, nil)
	first, _, err := c.StateRoot(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, _, _ := c.StateRoot(context.Background(), src)
		if again != first {
			t.Fatalf("run %d: %x != %x", i, again, first)
		}
	}
}

func TestStateRootErrors(t *testing.T) {
	c := NewRootCalculator(nil, nil)
	if _, _, err := c.StateRoot(context.Background(), &mapSource{err: errors.New("boom")}); err == nil {
		t.Fatal("source error swallowed")
	}
	failing := NewRootCalculator(failingStore{}, nil)
	if _, err := failing.TransactionsRoot(makeTxs(40)); err == nil {
		t.Fatal("node store error swallowed")
	}
}

func TestDefaultStoreIsEphemeral(t *testing.T) {
	c := NewRootCalculator(nil, nil)
	if c.nodeStore() == c.nodeStore() {
		t.Fatal("default node store reused across computations")
	}
	db := memorydb.New()
	if NewRootCalculator(db, nil).nodeStore() != NodeStore(db) {
		t.Fatal("explicit store not used")
	}
}
