package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/log"
	"github.com/eth2030/devchain/txpool"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// DefaultMaxPending caps the pending buffer when no limit is configured.
const DefaultMaxPending = 1024

var errManagerRunning = errors.New("block manager already running")

// ManagerConfig wires a BlockManager.
type ManagerConfig struct {
	Producer *BlockProducer
	Pool     *txpool.Pool // pending buffer

	MaxPending int // 0 selects DefaultMaxPending
	AutoMine   bool
	// BlockTime enables interval mining once Start is called.
	BlockTime time.Duration
	// TimestampOffset is added, in seconds, to the wall clock.
	TimestampOffset int64

	// OnBlock, if set, is called with every mined block while block
	// production is still held.
	OnBlock func(*BlockResult)

	Now    func() time.Time
	Logger *log.Logger
}

// BlockManager buffers submitted transactions and mines them into blocks,
// immediately under auto-mine, on an interval, or on request.
type BlockManager struct {
	producer   *BlockProducer
	pool       *txpool.Pool
	maxPending int
	blockTime  time.Duration
	onBlock    func(*BlockResult)
	now        func() time.Time
	log        *log.Logger

	// mineMu is held for writing while a block is produced and for reading
	// by Shared.
	mineMu sync.RWMutex

	mu            sync.RWMutex
	autoMine      bool
	offset        int64
	nextTimestamp uint64 // 0 when unset
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewBlockManager creates a manager.
func NewBlockManager(cfg ManagerConfig) (*BlockManager, error) {
	if cfg.Producer == nil || cfg.Pool == nil {
		return nil, fmt.Errorf("%w: manager needs producer and pool", ErrNilCollaborator)
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().Module("miner")
	}
	return &BlockManager{
		producer:   cfg.Producer,
		pool:       cfg.Pool,
		maxPending: maxPending,
		blockTime:  cfg.BlockTime,
		onBlock:    cfg.OnBlock,
		now:        now,
		log:        logger,
		autoMine:   cfg.AutoMine,
		offset:     cfg.TimestampOffset,
	}, nil
}

// Pool returns the pending buffer.
func (m *BlockManager) Pool() *txpool.Pool { return m.pool }

// Producer returns the underlying block producer.
func (m *BlockManager) Producer() *BlockProducer { return m.producer }

// AutoMine reports whether submissions are mined immediately.
func (m *BlockManager) AutoMine() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.autoMine
}

// SetAutoMine toggles immediate mining of submissions.
func (m *BlockManager) SetAutoMine(on bool) {
	m.mu.Lock()
	m.autoMine = on
	m.mu.Unlock()
	m.log.Info("Auto-mine toggled", "enabled", on)
}

// IncreaseTime moves the clock used for future blocks forward by seconds
// and returns the total offset.
func (m *BlockManager) IncreaseTime(seconds uint64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset += int64(seconds)
	return m.offset
}

// TimeOffset returns the seconds added to the wall clock.
func (m *BlockManager) TimeOffset() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offset
}

// SetNextBlockTimestamp fixes the timestamp of the next mined block only.
func (m *BlockManager) SetNextBlockTimestamp(ctx context.Context, ts uint64) error {
	head, err := m.producer.blocks.GetLatest(ctx)
	if err != nil {
		return err
	}
	if ts <= head.Time() {
		return fmt.Errorf("%w: %d <= %d", ErrTimestampTooLow, ts, head.Time())
	}
	m.mu.Lock()
	m.nextTimestamp = ts
	m.mu.Unlock()
	return nil
}

// timestamp returns the time for the next block and whether it was pinned
// by SetNextBlockTimestamp.
func (m *BlockManager) timestamp() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.nextTimestamp != 0 {
		return m.nextTimestamp, true
	}
	return uint64(max(m.now().Unix()+m.offset, 0)), false
}

// PendingContext returns the context the next block would execute in.
func (m *BlockManager) PendingContext(ctx context.Context) (*types.BlockContext, error) {
	head, err := m.producer.blocks.GetLatest(ctx)
	if err != nil {
		return nil, err
	}
	ts, _ := m.timestamp()
	return m.producer.NextContext(head, ProduceOptions{Timestamp: ts}), nil
}

// AddPendingTransaction buffers tx for the next block.
func (m *BlockManager) AddPendingTransaction(tx *gethtypes.Transaction) error {
	if !m.pool.Has(tx.Hash()) && m.pool.Len() >= m.maxPending {
		return ErrPendingFull
	}
	if _, err := m.pool.Add(tx); err != nil {
		if errors.Is(err, txpool.ErrPoolFull) {
			return fmt.Errorf("%w: %w", ErrPendingFull, err)
		}
		return err
	}
	return nil
}

// MineBlock mines every buffered transaction, up to the buffer cap, into
// one block. The mined transactions leave the buffer whatever their outcome.
func (m *BlockManager) MineBlock(ctx context.Context) (*BlockResult, error) {
	m.mineMu.Lock()
	defer m.mineMu.Unlock()
	return m.mine(ctx)
}

// mine runs with mineMu held.
func (m *BlockManager) mine(ctx context.Context) (*BlockResult, error) {
	pending := m.pool.Pending(m.maxPending)
	txs := make([]*gethtypes.Transaction, len(pending))
	hashes := make([]common.Hash, len(pending))
	for i, ptx := range pending {
		txs[i] = ptx.Tx
		hashes[i] = ptx.Hash
	}
	head, err := m.producer.blocks.GetLatest(ctx)
	if err != nil {
		return nil, err
	}
	ts, pinned := m.timestamp()
	bctx := m.producer.NextContext(head, ProduceOptions{Timestamp: ts})
	res, err := m.producer.ProduceWithContext(ctx, txs, bctx)
	if err != nil {
		return nil, err
	}
	m.pool.RemoveAll(hashes...)

	// A pin set while the block was being produced belongs to the next one.
	if pinned {
		m.mu.Lock()
		if m.nextTimestamp == ts {
			m.nextTimestamp = 0
		}
		m.mu.Unlock()
	}

	if m.onBlock != nil {
		m.onBlock(res)
	}
	return res, nil
}

// Exclusive runs fn with block production held off.
func (m *BlockManager) Exclusive(fn func() error) error {
	m.mineMu.Lock()
	defer m.mineMu.Unlock()
	return fn()
}

// Shared runs fn between blocks: it waits for a block in progress and holds
// off the next one until fn returns. Shared calls may overlap each other
// and must not nest.
func (m *BlockManager) Shared(fn func() error) error {
	m.mineMu.RLock()
	defer m.mineMu.RUnlock()
	return fn()
}

// SendTransaction buffers tx and, under auto-mine, mines it right away and
// returns its result. Without auto-mine it returns ErrNotYetMined once tx is
// buffered.
func (m *BlockManager) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) (*types.ExecutionResult, error) {
	if !m.AutoMine() {
		if err := m.AddPendingTransaction(tx); err != nil {
			return nil, err
		}
		return nil, ErrNotYetMined
	}

	m.mineMu.Lock()
	defer m.mineMu.Unlock()
	if err := m.AddPendingTransaction(tx); err != nil {
		return nil, err
	}
	block, err := m.mine(ctx)
	if err != nil {
		return nil, err
	}
	hash := tx.Hash()
	for _, r := range block.Results {
		if r.TxHash == hash {
			return r, nil
		}
	}
	// Only reachable when the buffer cap left tx out of the block.
	return nil, ErrNotYetMined
}

// Start launches interval mining when a block time is configured.
func (m *BlockManager) Start(ctx context.Context) error {
	if m.blockTime <= 0 {
		return nil
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errManagerRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stop, done := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.loop(ctx, stop, done)
	m.log.Info("Interval mining started", "blocktime", m.blockTime)
	return nil
}

// Stop halts interval mining and waits for the loop to exit.
func (m *BlockManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
}

func (m *BlockManager) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.MineBlock(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("Interval mining failed", "err", err)
			}
		}
	}
}
