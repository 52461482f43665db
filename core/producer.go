package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/eth2030/devchain/core/rawdb"
	"github.com/eth2030/devchain/core/state"
	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/crypto"
	"github.com/eth2030/devchain/log"
	"github.com/eth2030/devchain/metrics"
	"github.com/eth2030/devchain/trie"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ProducerConfig wires a BlockProducer.
type ProducerConfig struct {
	Chain     *ChainConfig
	State     state.Store
	Blocks    rawdb.ChainStore
	Processor *Processor
	Roots     *trie.RootCalculator // nil uses an ephemeral node store
	Hasher    *crypto.Hasher

	// Now is the wall clock for blocks without an explicit timestamp.
	Now func() time.Time

	Logger  *log.Logger
	Metrics *metrics.Registry
}

// BlockProducer turns an ordered batch of transactions into the next block
// on top of the current head.
type BlockProducer struct {
	chain     *ChainConfig
	state     state.Store
	blocks    rawdb.ChainStore
	processor *Processor
	roots     *trie.RootCalculator
	now       func() time.Time
	log       *log.Logger

	mined     *metrics.Counter
	succeeded *metrics.Counter
	failed    *metrics.Counter
	rejected  *metrics.Counter
	duration  *metrics.Histogram
	height    *metrics.Gauge
}

// NewBlockProducer creates a producer.
func NewBlockProducer(cfg ProducerConfig) (*BlockProducer, error) {
	if cfg.Chain == nil || cfg.State == nil || cfg.Blocks == nil || cfg.Processor == nil {
		return nil, fmt.Errorf("%w: producer needs chain config, state, block store and processor", ErrNilCollaborator)
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = crypto.NewHasher()
	}
	roots := cfg.Roots
	if roots == nil {
		roots = trie.NewRootCalculator(nil, hasher)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().Module("miner")
	}
	reg := metrics.Or(cfg.Metrics)
	return &BlockProducer{
		chain:     cfg.Chain,
		state:     cfg.State,
		blocks:    cfg.Blocks,
		processor: cfg.Processor,
		roots:     roots,
		now:       now,
		log:       logger,
		mined:     reg.Counter(metrics.MinerBlocks),
		succeeded: reg.Counter(metrics.MinerTxSucceeded),
		failed:    reg.Counter(metrics.MinerTxFailed),
		rejected:  reg.Counter(metrics.MinerTxRejected),
		duration:  reg.Histogram(metrics.MinerDuration),
		height:    reg.Gauge(metrics.NodeChainHeight),
	}, nil
}

// ProduceOptions tune a single block.
type ProduceOptions struct {
	// Timestamp of the block. Zero selects the wall clock. The result is
	// never earlier than the parent's timestamp.
	Timestamp  uint64
	PrevRandao common.Hash
}

// BlockResult is the outcome of producing one block.
type BlockResult struct {
	Block    *types.Block
	Header   *gethtypes.Header
	Receipts []*gethtypes.Receipt
	// Results holds one entry per submitted transaction in execution order,
	// rejected ones included.
	Results   []*types.ExecutionResult
	Succeeded int
	Failed    int
	Rejected  int
}

// NextContext derives the execution context of the block that would follow
// parent.
func (p *BlockProducer) NextContext(parent *types.Block, opts ProduceOptions) *types.BlockContext {
	ts := opts.Timestamp
	if ts == 0 {
		ts = uint64(p.now().Unix())
	}
	ts = max(ts, parent.Time())
	return &types.BlockContext{
		ChainID:    p.chain.ChainID,
		Number:     parent.Number() + 1,
		Timestamp:  ts,
		ParentHash: parent.Hash,
		Coinbase:   p.chain.Coinbase,
		GasLimit:   p.chain.GasLimit,
		BaseFee:    p.chain.BaseFee,
		Difficulty: p.chain.Difficulty,
		PrevRandao: opts.PrevRandao,
	}
}

// Produce executes txs in order on top of the head block and persists the
// resulting block. Transactions failing validation are reported but left out
// of the block. An error means the block was not produced and state is as
// before the call.
func (p *BlockProducer) Produce(ctx context.Context, txs []*gethtypes.Transaction, opts ProduceOptions) (*BlockResult, error) {
	parent, err := p.blocks.GetLatest(ctx)
	if errors.Is(err, rawdb.ErrNotFound) {
		return nil, ErrNoGenesis
	}
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}
	return p.ProduceWithContext(ctx, txs, p.NextContext(parent, opts))
}

// ProduceWithContext is Produce with a caller-built block context, which
// must extend the current head.
func (p *BlockProducer) ProduceWithContext(ctx context.Context, txs []*gethtypes.Transaction, bctx *types.BlockContext) (*BlockResult, error) {
	timer := metrics.NewTimer(p.duration)
	defer timer.Stop()

	snap, err := p.state.CreateSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	res, err := p.produce(ctx, p.sequence(txs), bctx)
	if err != nil {
		if rerr := p.state.RevertSnapshot(ctx, snap); rerr != nil {
			err = errors.Join(err, rerr)
		}
		p.log.Error("Block production failed", "number", bctx.Number, "err", err)
		return nil, err
	}
	if err := p.state.CommitSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	p.mined.Inc()
	p.succeeded.Add(int64(res.Succeeded))
	p.failed.Add(int64(res.Failed))
	p.rejected.Add(int64(res.Rejected))
	p.height.Set(int64(res.Block.Number()))
	p.log.Info("Mined block", "number", res.Block.Number(), "hash", res.Block.Hash,
		"txs", len(res.Block.Transactions), "gas", res.Header.GasUsed,
		"failed", res.Failed, "rejected", res.Rejected)
	return res, nil
}

func (p *BlockProducer) produce(ctx context.Context, txs []*gethtypes.Transaction, bctx *types.BlockContext) (*BlockResult, error) {
	var (
		res        = &BlockResult{Results: make([]*types.ExecutionResult, 0, len(txs))}
		included   []*gethtypes.Transaction
		cumulative uint64
	)
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := p.processor.Apply(ctx, tx, bctx, len(included), cumulative)
		if err != nil {
			return nil, fmt.Errorf("apply %v: %w", tx.Hash(), err)
		}
		res.Results = append(res.Results, r)
		switch {
		case r.Rejected:
			res.Rejected++
			continue
		case r.Success:
			res.Succeeded++
		default:
			res.Failed++
		}
		included = append(included, tx)
		res.Receipts = append(res.Receipts, r.Receipt)
		cumulative = r.CumulativeGasUsed
	}

	txRoot, err := p.roots.TransactionsRoot(included)
	if err != nil {
		return nil, fmt.Errorf("transactions root: %w", err)
	}
	receiptRoot, err := p.roots.ReceiptsRoot(res.Receipts)
	if err != nil {
		return nil, fmt.Errorf("receipts root: %w", err)
	}
	stateRoot, _, err := p.roots.StateRoot(ctx, p.state)
	if err != nil {
		return nil, fmt.Errorf("state root: %w", err)
	}
	blooms := make([]gethtypes.Bloom, len(res.Receipts))
	for i, r := range res.Receipts {
		blooms[i] = r.Bloom
	}

	header := &gethtypes.Header{
		ParentHash:  bctx.ParentHash,
		UncleHash:   gethtypes.EmptyUncleHash,
		Coinbase:    bctx.Coinbase,
		Root:        stateRoot,
		TxHash:      txRoot,
		ReceiptHash: receiptRoot,
		Bloom:       types.MergeBlooms(blooms...),
		Difficulty:  new(big.Int),
		Number:      new(big.Int).SetUint64(bctx.Number),
		GasLimit:    bctx.GasLimit,
		GasUsed:     cumulative,
		Time:        bctx.Timestamp,
		Extra:       common.CopyBytes(p.chain.ExtraData),
		MixDigest:   bctx.PrevRandao,
		Nonce:       gethtypes.BlockNonce{},
		BaseFee:     bctx.BaseFeeOrZero().ToBig(),
	}
	if bctx.Difficulty != nil {
		header.Difficulty = bctx.Difficulty.ToBig()
	}
	hashes := make([]common.Hash, len(included))
	for i, tx := range included {
		hashes[i] = tx.Hash()
	}
	block := types.NewBlock(header, hashes)
	res.Block = block
	res.Header = block.Header

	if err := p.persist(ctx, block, included, res.Receipts); err != nil {
		return nil, err
	}
	return res, nil
}

// persist writes the block and everything hanging off it, moving the head
// last so a partially written block is never the head. A failed write
// discards what was saved for the block.
func (p *BlockProducer) persist(ctx context.Context, block *types.Block, txs []*gethtypes.Transaction, receipts []*gethtypes.Receipt) error {
	if err := p.blocks.SaveBlock(ctx, block); err != nil {
		return err
	}
	if err := p.persistBody(ctx, block, txs, receipts); err != nil {
		if derr := p.blocks.DiscardBlock(ctx, block); derr != nil {
			return errors.Join(err, fmt.Errorf("discard block %d: %w", block.Number(), derr))
		}
		return err
	}
	return nil
}

// persistBody saves everything hanging off a stored block and then moves the
// head to it.
func (p *BlockProducer) persistBody(ctx context.Context, block *types.Block, txs []*gethtypes.Transaction, receipts []*gethtypes.Receipt) error {
	number := block.Number()
	var (
		logs     []*gethtypes.Log
		logIndex uint
	)
	for i, tx := range txs {
		loc := types.TxLocation{BlockHash: block.Hash, BlockNumber: number, Index: uint64(i)}
		if err := p.blocks.SaveTransaction(ctx, tx, loc); err != nil {
			return fmt.Errorf("save transaction %v: %w", tx.Hash(), err)
		}
		r := receipts[i]
		r.BlockHash = block.Hash
		for _, l := range r.Logs {
			l.BlockHash = block.Hash
			l.Index = logIndex
			logIndex++
		}
		if err := p.blocks.SaveReceipt(ctx, r); err != nil {
			return fmt.Errorf("save receipt %v: %w", r.TxHash, err)
		}
		logs = append(logs, r.Logs...)
	}
	if err := p.blocks.SaveLogs(ctx, number, logs); err != nil {
		return err
	}
	if err := p.blocks.SaveBlockBloom(ctx, number, block.Header.Bloom); err != nil {
		return err
	}
	return p.blocks.SetHead(ctx, block.Hash)
}

// sequence reorders each sender's transactions into ascending nonce order
// while keeping the positions the batch assigned to that sender. Transactions
// whose sender cannot be recovered keep their position.
func (p *BlockProducer) sequence(txs []*gethtypes.Transaction) []*gethtypes.Transaction {
	slots := make(map[common.Address][]int)
	var senders []common.Address
	for i, tx := range txs {
		from, err := p.processor.Sender(tx)
		if err != nil {
			continue
		}
		if _, ok := slots[from]; !ok {
			senders = append(senders, from)
		}
		slots[from] = append(slots[from], i)
	}
	out := slices.Clone(txs)
	for _, from := range senders {
		idx := slots[from]
		if len(idx) < 2 {
			continue
		}
		group := make([]*gethtypes.Transaction, len(idx))
		for i, j := range idx {
			group[i] = txs[j]
		}
		slices.SortStableFunc(group, func(a, b *gethtypes.Transaction) int {
			switch {
			case a.Nonce() < b.Nonce():
				return -1
			case a.Nonce() > b.Nonce():
				return 1
			}
			return 0
		})
		for i, j := range idx {
			out[j] = group[i]
		}
	}
	return out
}
