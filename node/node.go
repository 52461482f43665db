package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eth2030/devchain/core"
	"github.com/eth2030/devchain/core/rawdb"
	"github.com/eth2030/devchain/core/state"
	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/crypto"
	"github.com/eth2030/devchain/geth"
	"github.com/eth2030/devchain/log"
	"github.com/eth2030/devchain/metrics"
	"github.com/eth2030/devchain/trie"
	"github.com/eth2030/devchain/txpool"
	"github.com/ethereum/go-ethereum/common"
)

const (
	chainDataDir   = "chaindata"
	leveldbHandles = 64
	eventBuffer    = 64

	priorityMiner = 10
)

var (
	// ErrHistoricalState is returned for state reads at a block other than
	// the head.
	ErrHistoricalState = errors.New("historical state not available")
	// ErrUnknownSnapshot is returned when reverting to a snapshot that does
	// not exist or was already reverted.
	ErrUnknownSnapshot = errors.New("unknown snapshot")
	// ErrTransactionRejected is returned for a submitted transaction that
	// failed validation when mined.
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrExecutionFailed is returned when gas estimation cannot find any
	// gas limit under which the message succeeds.
	ErrExecutionFailed = errors.New("execution failed")

	errNodeClosed  = errors.New("node closed")
	errNodeRunning = errors.New("node already running")
)

// Node is a single-process dev chain.
type Node struct {
	config  Config
	chain   *core.ChainConfig
	log     *log.Logger
	metrics *metrics.Registry
	hasher  *crypto.Hasher
	now     func() time.Time

	db        rawdb.KeyValueStore
	state     *state.Database
	blocks    *rawdb.ChainDB
	roots     *trie.RootCalculator
	executor  *geth.Executor
	processor *core.Processor
	producer  *core.BlockProducer
	pool      *txpool.Pool
	manager   *core.BlockManager
	events    *EventBus
	lifecycle *LifecycleManager

	snapMu     sync.Mutex
	snapshots  []devSnapshot // open snapshots, oldest first
	nextSnapID uint64
	snapGauge  *metrics.Gauge

	mu      sync.Mutex
	running bool
	closed  bool
}

// New creates a node and makes sure its chain has a genesis block. Services
// such as interval mining run only after Start.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.RootLogger()
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var db rawdb.KeyValueStore
	if cfg.DataDir == "" {
		db = rawdb.NewMemoryDatabase()
	} else {
		var err error
		if db, err = rawdb.NewLevelDBDatabase(cfg.ResolvePath(chainDataDir), cfg.CacheSize, leveldbHandles, false); err != nil {
			return nil, err
		}
	}
	n, err := newNode(cfg, db, logger, now)
	if err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func newNode(cfg Config, db rawdb.KeyValueStore, logger *log.Logger, now func() time.Time) (*Node, error) {
	ctx := context.Background()
	n := &Node{
		config:  cfg,
		chain:   cfg.ChainConfig(),
		log:     logger.Module("node"),
		metrics: metrics.NewRegistry(),
		hasher:  crypto.NewHasher(),
		now:     now,
		db:      db,
	}
	n.snapGauge = n.metrics.Gauge(metrics.NodeSnapshots)
	n.events = NewEventBus(eventBuffer, now)
	n.lifecycle = NewLifecycleManager(n.log)
	n.state = state.NewDatabase(db, logger.Module("state"))
	n.roots = trie.NewRootCalculator(nil, n.hasher)

	var err error
	if n.blocks, err = rawdb.NewChainDB(db, cfg.CacheSize); err != nil {
		return nil, err
	}
	evmConfig, err := geth.NewChainConfig(cfg.ChainID, cfg.Hardfork)
	if err != nil {
		return nil, err
	}
	n.executor, err = geth.NewExecutor(geth.Config{ChainConfig: evmConfig, GetHash: n.canonicalHash, Logger: logger.Module("evm")})
	if err != nil {
		return nil, err
	}
	n.processor, err = core.NewProcessor(core.ProcessorConfig{
		Chain:    n.chain,
		State:    n.state,
		Executor: n.executor,
		Hasher:   n.hasher,
		Logger:   logger.Module("processor"),
		Metrics:  n.metrics,
	})
	if err != nil {
		return nil, err
	}
	n.producer, err = core.NewBlockProducer(core.ProducerConfig{
		Chain:     n.chain,
		State:     n.state,
		Blocks:    n.blocks,
		Processor: n.processor,
		Roots:     n.roots,
		Hasher:    n.hasher,
		Now:       now,
		Logger:    logger.Module("miner"),
		Metrics:   n.metrics,
	})
	if err != nil {
		return nil, err
	}
	ordering, err := txpool.ParseOrdering(cfg.PoolOrdering)
	if err != nil {
		return nil, err
	}
	n.pool, err = txpool.New(txpool.Config{
		MaxSize:  cfg.MaxPendingTransactions,
		Ordering: ordering,
		Signer:   n.processor.Signer(),
		Logger:   logger.Module("txpool"),
		Metrics:  n.metrics,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}
	n.manager, err = core.NewBlockManager(core.ManagerConfig{
		Producer:        n.producer,
		Pool:            n.pool,
		MaxPending:      cfg.MaxPendingTransactions,
		AutoMine:        cfg.AutoMine,
		BlockTime:       cfg.BlockTime,
		TimestampOffset: cfg.TimestampOffset,
		OnBlock:         n.onBlock,
		Now:             now,
		Logger:          logger.Module("miner"),
	})
	if err != nil {
		return nil, err
	}

	alloc, err := cfg.GenesisAlloc()
	if err != nil {
		return nil, err
	}
	genesis := &core.Genesis{Config: n.chain, Alloc: alloc, Timestamp: uint64(now().Unix())}
	block, err := core.SetupGenesis(ctx, n.state, n.blocks, n.roots, genesis)
	if err != nil {
		return nil, fmt.Errorf("setup genesis: %w", err)
	}
	if err := n.lifecycle.Register(&minerService{manager: n.manager}, priorityMiner); err != nil {
		return nil, err
	}

	head, err := n.blocks.GetLatest(ctx)
	if err != nil {
		return nil, err
	}
	n.metrics.Gauge(metrics.NodeChainHeight).Set(int64(head.Number()))
	n.log.Info("Initialised chain", "chainid", n.chain.ChainID, "genesis", block.Hash,
		"head", head.Number(), "automine", cfg.AutoMine, "datadir", cfg.DataDir)
	return n, nil
}

// Start starts the node's background services.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case n.closed:
		return errNodeClosed
	case n.running:
		return errNodeRunning
	}
	if err := n.lifecycle.StartAll(ctx); err != nil {
		return err
	}
	n.running = true
	n.log.Info("Node started", "services", n.lifecycle.RunningCount())
	return nil
}

// Close stops all services and releases the database. It is safe to call
// more than once.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	n.running = false
	errs := []error{n.lifecycle.StopAll()}
	n.events.Close()
	errs = append(errs, n.blocks.Close())
	n.log.Info("Node closed")
	return errors.Join(errs...)
}

// Config returns the node configuration.
func (n *Node) Config() Config { return n.config }

// ChainConfig returns the block and transaction rules.
func (n *Node) ChainConfig() *core.ChainConfig { return n.chain }

// Manager returns the block manager.
func (n *Node) Manager() *core.BlockManager { return n.manager }

// Pool returns the pending transaction pool.
func (n *Node) Pool() *txpool.Pool { return n.pool }

// Blocks returns the chain store.
func (n *Node) Blocks() rawdb.ChainStore { return n.blocks }

// State returns the committed state store.
func (n *Node) State() state.Store { return n.state }

// Metrics returns the node's metrics registry.
func (n *Node) Metrics() *metrics.Registry { return n.metrics }

// Events returns the event bus mined blocks and accepted transactions are
// published on.
func (n *Node) Events() *EventBus { return n.events }

func (n *Node) onBlock(res *core.BlockResult) {
	n.metrics.Gauge(metrics.NodeChainHeight).Set(int64(res.Block.Number()))
	n.events.Publish(EventNewBlock, res)
}

// canonicalHash serves BLOCKHASH.
func (n *Node) canonicalHash(number uint64) common.Hash {
	b, err := n.blocks.GetBlockByNumber(context.Background(), number)
	if err != nil {
		return common.Hash{}
	}
	return b.Hash
}

// head returns the latest block.
func (n *Node) head(ctx context.Context) (*types.Block, error) {
	return n.blocks.GetLatest(ctx)
}

// minerService runs interval mining as a node service.
type minerService struct {
	manager *core.BlockManager
}

func (s *minerService) Name() string { return "miner" }

func (s *minerService) Start(ctx context.Context) error { return s.manager.Start(ctx) }

func (s *minerService) Stop() error {
	s.manager.Stop()
	return nil
}
