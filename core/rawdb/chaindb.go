package rawdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eth2030/devchain/core/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultBlockCacheSize = 256

// BlockStore persists blocks and the head marker.
type BlockStore interface {
	SaveBlock(ctx context.Context, block *types.Block) error
	SetHead(ctx context.Context, hash common.Hash) error
	GetBlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	GetLatest(ctx context.Context) (*types.Block, error)
	// GetHeight returns the head number; ok is false on an empty chain.
	GetHeight(ctx context.Context) (height uint64, ok bool, err error)
}

// TransactionStore persists included transactions and their locations.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx *gethtypes.Transaction, loc types.TxLocation) error
	GetTransaction(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, *types.TxLocation, error)
}

// ReceiptStore persists receipts.
type ReceiptStore interface {
	SaveReceipt(ctx context.Context, receipt *gethtypes.Receipt) error
	GetReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// LogStore persists logs and the per-block bloom index.
type LogStore interface {
	SaveLogs(ctx context.Context, number uint64, logs []*gethtypes.Log) error
	SaveBlockBloom(ctx context.Context, number uint64, bloom gethtypes.Bloom) error
	GetLogs(ctx context.Context, number uint64) ([]*gethtypes.Log, error)
	GetBlockBloom(ctx context.Context, number uint64) (gethtypes.Bloom, error)
}

// ChainStore bundles the chain stores.
type ChainStore interface {
	BlockStore
	TransactionStore
	ReceiptStore
	LogStore
	// TruncateAbove removes every block above number and makes number the
	// head.
	TruncateAbove(ctx context.Context, number uint64) error
	// DiscardBlock removes a block above the head together with the
	// transactions, receipts and logs saved for it.
	DiscardBlock(ctx context.Context, block *types.Block) error
}

// ChainDB is the ChainStore over a key-value backend, with an LRU cache of
// blocks by hash.
type ChainDB struct {
	db     KeyValueStore
	blocks *lru.Cache[common.Hash, *types.Block]

	// mu orders head moves against multi-record reads such as GetLatest.
	mu sync.RWMutex
}

// NewChainDB wraps db. cacheSize <= 0 selects the default.
func NewChainDB(db KeyValueStore, cacheSize int) (*ChainDB, error) {
	if cacheSize <= 0 {
		cacheSize = defaultBlockCacheSize
	}
	cache, err := lru.New[common.Hash, *types.Block](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ChainDB{db: db, blocks: cache}, nil
}

// Backend returns the underlying key-value store.
func (c *ChainDB) Backend() KeyValueStore { return c.db }

// Close closes the backend.
func (c *ChainDB) Close() error { return c.db.Close() }

// --- BlockStore ---

func (c *ChainDB) SaveBlock(_ context.Context, block *types.Block) error {
	batch := c.db.NewBatch()
	if err := WriteBlock(batch, block); err != nil {
		return fmt.Errorf("write block %d: %w", block.Number(), err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write block %d: %w", block.Number(), err)
	}
	c.blocks.Add(block.Hash, block)
	return nil
}

func (c *ChainDB) SetHead(_ context.Context, hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteHeadBlockHash(c.db, hash)
}

func (c *ChainDB) GetBlockByHash(_ context.Context, hash common.Hash) (*types.Block, error) {
	if b, ok := c.blocks.Get(hash); ok {
		return b, nil
	}
	num, err := ReadHeaderNumber(c.db, hash)
	if err != nil {
		return nil, err
	}
	b, err := ReadBlock(c.db, num, hash)
	if err != nil {
		return nil, err
	}
	c.blocks.Add(hash, b)
	return b, nil
}

// GetBlockByNumber returns the canonical block at number. Blocks above the
// head are not visible.
func (c *ChainDB) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	head, ok, err := c.height()
	if err != nil {
		return nil, err
	}
	if !ok || number > head {
		return nil, ErrNotFound
	}
	hash, err := ReadCanonicalHash(c.db, number)
	if err != nil {
		return nil, err
	}
	return c.GetBlockByHash(ctx, hash)
}

func (c *ChainDB) GetLatest(ctx context.Context) (*types.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hash, err := ReadHeadBlockHash(c.db)
	if err != nil {
		return nil, err
	}
	return c.GetBlockByHash(ctx, hash)
}

func (c *ChainDB) GetHeight(context.Context) (uint64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height()
}

// height reads the head number. Caller holds mu.
func (c *ChainDB) height() (uint64, bool, error) {
	hash, err := ReadHeadBlockHash(c.db)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	num, err := ReadHeaderNumber(c.db, hash)
	if err != nil {
		return 0, false, err
	}
	return num, true, nil
}

// --- TransactionStore ---

func (c *ChainDB) SaveTransaction(_ context.Context, tx *gethtypes.Transaction, loc types.TxLocation) error {
	batch := c.db.NewBatch()
	if err := WriteTransaction(batch, tx, loc); err != nil {
		return err
	}
	return batch.Write()
}

func (c *ChainDB) GetTransaction(_ context.Context, hash common.Hash) (*gethtypes.Transaction, *types.TxLocation, error) {
	return ReadTransaction(c.db, hash)
}

// --- ReceiptStore ---

func (c *ChainDB) SaveReceipt(_ context.Context, receipt *gethtypes.Receipt) error {
	return WriteReceipt(c.db, receipt)
}

func (c *ChainDB) GetReceipt(_ context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	return ReadReceipt(c.db, txHash)
}

// --- LogStore ---

func (c *ChainDB) SaveLogs(_ context.Context, number uint64, logs []*gethtypes.Log) error {
	return WriteLogs(c.db, number, logs)
}

func (c *ChainDB) SaveBlockBloom(_ context.Context, number uint64, bloom gethtypes.Bloom) error {
	return WriteBloom(c.db, number, bloom)
}

func (c *ChainDB) GetLogs(ctx context.Context, number uint64) ([]*gethtypes.Log, error) {
	hash, err := ReadCanonicalHash(c.db, number)
	if err != nil {
		return nil, err
	}
	return ReadLogs(c.db, number, hash)
}

func (c *ChainDB) GetBlockBloom(_ context.Context, number uint64) (gethtypes.Bloom, error) {
	return ReadBloom(c.db, number)
}

// --- Rewinding ---

// TruncateAbove implements ChainStore.
func (c *ChainDB) TruncateAbove(_ context.Context, number uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, ok, err := c.height()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if number > head {
		return fmt.Errorf("truncate to %d above head %d", number, head)
	}
	keep, err := ReadCanonicalHash(c.db, number)
	if err != nil {
		return fmt.Errorf("canonical hash %d: %w", number, err)
	}

	batch := c.db.NewBatch()
	if err := WriteHeadBlockHash(batch, keep); err != nil {
		return err
	}
	for n := head; n > number; n-- {
		hash, err := ReadCanonicalHash(c.db, n)
		if err != nil {
			return fmt.Errorf("canonical hash %d: %w", n, err)
		}
		block, err := ReadBlock(c.db, n, hash)
		if err != nil {
			return err
		}
		for _, txHash := range block.Transactions {
			if err := DeleteTransaction(batch, txHash); err != nil {
				return err
			}
		}
		if err := DeleteLogs(batch, n); err != nil {
			return err
		}
		if err := DeleteBlock(batch, n, hash); err != nil {
			return err
		}
		c.blocks.Remove(hash)
	}
	return batch.Write()
}

// DiscardBlock implements ChainStore. Transactions whose lookup points at
// another block are left alone.
func (c *ChainDB) DiscardBlock(_ context.Context, block *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	number := block.Number()
	head, ok, err := c.height()
	if err != nil {
		return err
	}
	if ok && number <= head {
		return fmt.Errorf("discard block %d at or below head %d", number, head)
	}

	batch := c.db.NewBatch()
	for _, txHash := range block.Transactions {
		loc, err := ReadTxLocation(c.db, txHash)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if loc.BlockHash != block.Hash {
			continue
		}
		if err := DeleteTransaction(batch, txHash); err != nil {
			return err
		}
	}
	if err := DeleteLogs(batch, number); err != nil {
		return err
	}
	if err := DeleteBlock(batch, number, block.Hash); err != nil {
		return err
	}
	c.blocks.Remove(block.Hash)
	return batch.Write()
}
