package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/core/vm"
	"github.com/eth2030/devchain/log"
	"github.com/eth2030/devchain/txpool"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// fakeClock is a settable wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestManager(t *testing.T, c *testChain, cfg ManagerConfig) (*BlockManager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(int64(genesisTime)+100, 0)}
	pool, err := txpool.New(txpool.Config{Signer: c.processor.Signer(), Logger: log.Discard(), Now: clock.Now})
	if err != nil {
		t.Fatalf("txpool.New: %v", err)
	}
	cfg.Producer = c.producer
	cfg.Pool = pool
	cfg.Now = clock.Now
	cfg.Logger = log.Discard()
	m, err := NewBlockManager(cfg)
	if err != nil {
		t.Fatalf("NewBlockManager: %v", err)
	}
	return m, clock
}

// hookedExecutor calls hook each time the processor asks whether a
// recipient is a precompile, which it does mid-block for every transfer.
type hookedExecutor struct {
	vm.Executor
	hook func()
}

func (e *hookedExecutor) IsPrecompile(addr common.Address, block *types.BlockContext) bool {
	if e.hook != nil {
		e.hook()
	}
	return e.Executor.IsPrecompile(addr, block)
}

func head(t *testing.T, c *testChain) uint64 {
	t.Helper()
	b, err := c.blocks.GetLatest(context.Background())
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	return b.Number()
}

func TestNewBlockManagerRequiresCollaborators(t *testing.T) {
	if _, err := NewBlockManager(ManagerConfig{}); !errors.Is(err, ErrNilCollaborator) {
		t.Fatalf("err = %v, want %v", err, ErrNilCollaborator)
	}
}

func TestManagerAutoMine(t *testing.T) {
	ctx := context.Background()
	c := newTestChain(t, fundedAlloc(testAddr), nil)
	m, _ := newTestManager(t, c, ManagerConfig{AutoMine: true})

	tx := transferTx(t, 0, testTo, 7, TxGas, gwei)
	res, err := m.SendTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if !res.Success || res.TxHash != tx.Hash() || res.GasUsed != TxGas {
		t.Fatalf("result = %+v", res)
	}
	if got := head(t, c); got != 1 {
		t.Errorf("head = %d, want 1", got)
	}
	if m.Pool().Len() != 0 {
		t.Errorf("pending = %d after auto-mine", m.Pool().Len())
	}
	if _, loc, err := c.blocks.GetTransaction(ctx, tx.Hash()); err != nil || loc.BlockNumber != 1 {
		t.Errorf("location = %+v, %v", loc, err)
	}

	// A rejected submission still produces an (empty) block.
	bad := transferTx(t, 5, testTo, 7, TxGas, gwei)
	res, err = m.SendTransaction(ctx, bad)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if !res.Rejected || !strings.Contains(res.Error, ErrNonceTooHigh.Error()) {
		t.Errorf("result = %+v, want nonce-too-high rejection", res)
	}
	if got := head(t, c); got != 2 {
		t.Errorf("head = %d, want 2", got)
	}
}

func TestManagerManualMining(t *testing.T) {
	ctx := context.Background()
	c := newTestChain(t, fundedAlloc(testAddr), nil)
	m, _ := newTestManager(t, c, ManagerConfig{})

	txs := []*gethtypes.Transaction{
		transferTx(t, 1, testTo, 1, TxGas, gwei),
		transferTx(t, 0, testTo, 1, TxGas, gwei),
	}
	for _, tx := range txs {
		if _, err := m.SendTransaction(ctx, tx); !errors.Is(err, ErrNotYetMined) {
			t.Fatalf("SendTransaction err = %v, want %v", err, ErrNotYetMined)
		}
	}
	if m.Pool().Len() != 2 || head(t, c) != 0 {
		t.Fatalf("pending/head = %d/%d", m.Pool().Len(), head(t, c))
	}

	res, err := m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if res.Succeeded != 2 || res.Block.Number() != 1 {
		t.Fatalf("succeeded/number = %d/%d", res.Succeeded, res.Block.Number())
	}
	if res.Block.Transactions[0] != txs[1].Hash() {
		t.Error("lower nonce not mined first")
	}
	if m.Pool().Len() != 0 {
		t.Errorf("pending = %d after mining", m.Pool().Len())
	}

	empty, err := m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if len(empty.Block.Transactions) != 0 || empty.Block.Number() != 2 {
		t.Errorf("empty block = %d txs at %d", len(empty.Block.Transactions), empty.Block.Number())
	}
}

func TestManagerPendingFull(t *testing.T) {
	ctx := context.Background()
	c := newTestChain(t, fundedAlloc(testAddr), nil)
	m, _ := newTestManager(t, c, ManagerConfig{MaxPending: 2})

	for i := range uint64(2) {
		if _, err := m.SendTransaction(ctx, transferTx(t, i, testTo, 1, TxGas, gwei)); !errors.Is(err, ErrNotYetMined) {
			t.Fatalf("tx %d: %v", i, err)
		}
	}
	if _, err := m.SendTransaction(ctx, transferTx(t, 2, testTo, 1, TxGas, gwei)); !errors.Is(err, ErrPendingFull) {
		t.Fatalf("err = %v, want %v", err, ErrPendingFull)
	}
	// Resubmitting a buffered transaction is not a new entry.
	if err := m.AddPendingTransaction(transferTx(t, 0, testTo, 1, TxGas, gwei)); err != nil {
		t.Errorf("resubmit: %v", err)
	}
}

func TestManagerInvalidSender(t *testing.T) {
	c := newTestChain(t, nil, nil)
	m, _ := newTestManager(t, c, ManagerConfig{AutoMine: true})

	unsigned := gethtypes.NewTx(&gethtypes.LegacyTx{Gas: TxGas, GasPrice: gwei.ToBig(), To: &testTo})
	if _, err := m.SendTransaction(context.Background(), unsigned); !errors.Is(err, txpool.ErrInvalidSender) {
		t.Fatalf("err = %v, want %v", err, txpool.ErrInvalidSender)
	}
	if got := head(t, c); got != 0 {
		t.Errorf("head = %d, want 0", got)
	}
}

func TestManagerTimestamps(t *testing.T) {
	ctx := context.Background()
	c := newTestChain(t, nil, nil)
	m, clock := newTestManager(t, c, ManagerConfig{})

	res, err := m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if want := genesisTime + 100; res.Header.Time != want {
		t.Errorf("time = %d, want wall clock %d", res.Header.Time, want)
	}

	if got := m.IncreaseTime(3600); got != 3600 || m.TimeOffset() != 3600 {
		t.Errorf("offset = %d", got)
	}
	clock.Set(time.Unix(int64(genesisTime)+200, 0))
	res, err = m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if want := genesisTime + 200 + 3600; res.Header.Time != want {
		t.Errorf("time = %d, want %d", res.Header.Time, want)
	}

	tests := []struct {
		name string
		ts   uint64
		err  error
	}{
		{"equal to head", res.Header.Time, ErrTimestampTooLow},
		{"below head", res.Header.Time - 1, ErrTimestampTooLow},
		{"ahead", res.Header.Time + 1000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.SetNextBlockTimestamp(ctx, tt.ts); !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
		})
	}

	pending, err := m.PendingContext(ctx)
	if err != nil {
		t.Fatalf("PendingContext: %v", err)
	}
	fixed := res.Header.Time + 1000
	if pending.Timestamp != fixed || pending.Number != 3 {
		t.Errorf("pending context = %d at %d", pending.Timestamp, pending.Number)
	}
	res, err = m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if res.Header.Time != fixed {
		t.Errorf("time = %d, want override %d", res.Header.Time, fixed)
	}

	// The override applies once; the clock is now behind the head, so the
	// next block reuses the parent timestamp.
	res, err = m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if res.Header.Time != fixed {
		t.Errorf("time = %d, want clamped %d", res.Header.Time, fixed)
	}
}

func TestManagerIntervalMining(t *testing.T) {
	c := newTestChain(t, fundedAlloc(testAddr), nil)
	m, _ := newTestManager(t, c, ManagerConfig{BlockTime: 5 * time.Millisecond})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx); !errors.Is(err, errManagerRunning) {
		t.Errorf("second Start err = %v", err)
	}
	if err := m.AddPendingTransaction(transferTx(t, 0, testTo, 1, TxGas, gwei)); err != nil {
		t.Fatalf("AddPendingTransaction: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.Pool().Len() != 0 || head(t, c) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("interval mining made no progress: head %d, pending %d", head(t, c), m.Pool().Len())
		}
		time.Sleep(time.Millisecond)
	}
	m.Stop()
	m.Stop()

	stopped := head(t, c)
	time.Sleep(20 * time.Millisecond)
	if got := head(t, c); got != stopped {
		t.Errorf("mined after Stop: %d -> %d", stopped, got)
	}
	acc := getAccount(t, c.state, testTo)
	if acc.Balance.Uint64() != 1 {
		t.Errorf("recipient balance = %v, want 1", acc.Balance)
	}
}

func TestManagerStartWithoutBlockTime(t *testing.T) {
	c := newTestChain(t, nil, nil)
	m, _ := newTestManager(t, c, ManagerConfig{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Stop()
	if m.AutoMine() {
		t.Error("auto-mine enabled by default")
	}
	m.SetAutoMine(true)
	if !m.AutoMine() {
		t.Error("SetAutoMine(true) not applied")
	}
}

func TestManagerSharedWaitsForBlock(t *testing.T) {
	ctx := context.Background()
	exec := &hookedExecutor{Executor: newGethExecutor(t)}
	c := newTestChain(t, fundedAlloc(testAddr), exec)
	m, _ := newTestManager(t, c, ManagerConfig{})

	entered, release := make(chan struct{}), make(chan struct{})
	calls := 0
	exec.hook = func() {
		// The first transfer is flushed by the time the second is looked at.
		if calls++; calls == 2 {
			close(entered)
			<-release
		}
	}
	for i := range uint64(2) {
		if err := m.AddPendingTransaction(transferTx(t, i, testTo, 1, TxGas, gwei)); err != nil {
			t.Fatalf("AddPendingTransaction: %v", err)
		}
	}
	mined := make(chan error, 1)
	go func() {
		_, err := m.MineBlock(ctx)
		mined <- err
	}()
	<-entered

	type view struct {
		number  uint64
		balance uint64
		err     error
	}
	seen := make(chan view, 1)
	go func() {
		var v view
		v.err = m.Shared(func() error {
			b, err := c.blocks.GetLatest(ctx)
			if err != nil {
				return err
			}
			acc, err := c.state.GetAccount(ctx, testTo)
			if err != nil {
				return err
			}
			v.number, v.balance = b.Number(), acc.Balance.Uint64()
			return nil
		})
		seen <- v
	}()

	select {
	case v := <-seen:
		t.Fatalf("Shared ran during block production: %+v", v)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-mined; err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	v := <-seen
	if v.err != nil || v.number != 1 || v.balance != 2 {
		t.Errorf("shared view = %+v, want block 1 with balance 2", v)
	}
}

func TestManagerPinSetWhileMining(t *testing.T) {
	ctx := context.Background()
	exec := &hookedExecutor{Executor: newGethExecutor(t)}
	c := newTestChain(t, fundedAlloc(testAddr), exec)
	m, clock := newTestManager(t, c, ManagerConfig{})

	first, second := genesisTime+50, genesisTime+500
	exec.hook = func() {
		if err := m.SetNextBlockTimestamp(ctx, second); err != nil {
			t.Errorf("SetNextBlockTimestamp during mining: %v", err)
		}
	}
	if err := m.SetNextBlockTimestamp(ctx, first); err != nil {
		t.Fatalf("SetNextBlockTimestamp: %v", err)
	}
	if err := m.AddPendingTransaction(transferTx(t, 0, testTo, 1, TxGas, gwei)); err != nil {
		t.Fatalf("AddPendingTransaction: %v", err)
	}
	res, err := m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if res.Header.Time != first {
		t.Errorf("block 1 time = %d, want %d", res.Header.Time, first)
	}

	exec.hook = nil
	res, err = m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if res.Header.Time != second {
		t.Errorf("block 2 time = %d, want pin set during block 1 %d", res.Header.Time, second)
	}

	clock.Set(time.Unix(int64(genesisTime)+1000, 0))
	res, err = m.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock: %v", err)
	}
	if want := genesisTime + 1000; res.Header.Time != want {
		t.Errorf("block 3 time = %d, want wall clock %d", res.Header.Time, want)
	}
}
