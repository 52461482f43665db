// Package txpool holds signed transactions that have not been mined yet.
package txpool

import (
	"errors"
	"sync"
	"time"

	"github.com/eth2030/devchain/log"
	"github.com/eth2030/devchain/metrics"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Pool defaults.
const (
	// DefaultMaxSize is the number of transactions a pool holds by default.
	DefaultMaxSize = 4096

	// senderCacheSize bounds the recovered-sender cache.
	senderCacheSize = 8192
)

var (
	ErrInvalidSender = errors.New("invalid transaction sender")
	ErrPoolFull      = errors.New("transaction pool is full")
	ErrNotFound      = errors.New("transaction not found in pool")
	errNoSigner      = errors.New("txpool: nil signer")
)

// Config holds pool configuration.
type Config struct {
	MaxSize  int      // 0 selects DefaultMaxSize
	Ordering Ordering // strategy used by Pending
	Signer   gethtypes.Signer

	Logger  *log.Logger
	Metrics *metrics.Registry
	// Now stamps arrivals. Nil uses time.Now.
	Now func() time.Time
}

// PendingTransaction is a pool entry.
type PendingTransaction struct {
	Tx      *gethtypes.Transaction
	Hash    common.Hash
	Sender  common.Address
	Arrival time.Time

	seq uint64 // arrival order, breaks timestamp ties
}

// Pool is a thread-safe holding area for unmined transactions keyed by hash.
type Pool struct {
	config  Config
	signer  gethtypes.Signer
	senders *lru.Cache[common.Hash, common.Address]
	log     *log.Logger

	pendingGauge *metrics.Gauge
	addedMeter   *metrics.Counter
	removedMeter *metrics.Counter

	mu  sync.RWMutex
	all map[common.Hash]*PendingTransaction
	seq uint64
}

// New creates an empty pool.
func New(config Config) (*Pool, error) {
	if config.Signer == nil {
		return nil, errNoSigner
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default().Module("txpool")
	}
	senders, err := lru.New[common.Hash, common.Address](senderCacheSize)
	if err != nil {
		return nil, err
	}
	reg := metrics.Or(config.Metrics)
	return &Pool{
		config:       config,
		signer:       config.Signer,
		senders:      senders,
		log:          logger,
		pendingGauge: reg.Gauge(metrics.TxPoolPending),
		addedMeter:   reg.Counter(metrics.TxPoolAdded),
		removedMeter: reg.Counter(metrics.TxPoolRemoved),
		all:          make(map[common.Hash]*PendingTransaction),
	}, nil
}

// Sender recovers the sender of tx, caching the result by hash.
func (pool *Pool) Sender(tx *gethtypes.Transaction) (common.Address, error) {
	hash := tx.Hash()
	if from, ok := pool.senders.Get(hash); ok {
		return from, nil
	}
	from, err := gethtypes.Sender(pool.signer, tx)
	if err != nil {
		return common.Address{}, errors.Join(ErrInvalidSender, err)
	}
	pool.senders.Add(hash, from)
	return from, nil
}

// Add inserts tx, or refreshes the arrival time of an entry with the same
// hash. Transactions whose sender cannot be recovered are rejected.
func (pool *Pool) Add(tx *gethtypes.Transaction) (*PendingTransaction, error) {
	from, err := pool.Sender(tx)
	if err != nil {
		return nil, err
	}
	hash := tx.Hash()

	pool.mu.Lock()
	defer pool.mu.Unlock()

	_, replace := pool.all[hash]
	if !replace && len(pool.all) >= pool.config.MaxSize {
		return nil, ErrPoolFull
	}
	pool.seq++
	ptx := &PendingTransaction{
		Tx:      tx,
		Hash:    hash,
		Sender:  from,
		Arrival: pool.config.Now(),
		seq:     pool.seq,
	}
	pool.all[hash] = ptx
	if !replace {
		pool.addedMeter.Inc()
		pool.pendingGauge.Set(int64(len(pool.all)))
	}
	pool.log.Debug("Pooled transaction", "hash", hash, "from", from, "nonce", tx.Nonce(), "replaced", replace)
	return ptx, nil
}

// Get returns the entry for hash.
func (pool *Pool) Get(hash common.Hash) (*PendingTransaction, bool) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	ptx, ok := pool.all[hash]
	return ptx, ok
}

// Has reports whether hash is pooled.
func (pool *Pool) Has(hash common.Hash) bool {
	_, ok := pool.Get(hash)
	return ok
}

// Remove drops hash from the pool and reports whether it was present.
func (pool *Pool) Remove(hash common.Hash) bool {
	return pool.RemoveAll(hash) == 1
}

// RemoveAll drops every listed hash and returns how many were present.
func (pool *Pool) RemoveAll(hashes ...common.Hash) int {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	removed := 0
	for _, hash := range hashes {
		if _, ok := pool.all[hash]; ok {
			delete(pool.all, hash)
			removed++
		}
	}
	pool.removedMeter.Add(int64(removed))
	pool.pendingGauge.Set(int64(len(pool.all)))
	return removed
}

// Clear empties the pool.
func (pool *Pool) Clear() {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	pool.removedMeter.Add(int64(len(pool.all)))
	pool.all = make(map[common.Hash]*PendingTransaction)
	pool.pendingGauge.Set(0)
}

// Len returns the number of pooled transactions.
func (pool *Pool) Len() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	return len(pool.all)
}

// Pending returns up to max entries ordered by the configured strategy.
// max <= 0 returns every entry. The result is a point-in-time copy; the
// pool is not modified.
func (pool *Pool) Pending(max int) []*PendingTransaction {
	pool.mu.RLock()
	list := make([]*PendingTransaction, 0, len(pool.all))
	for _, ptx := range pool.all {
		list = append(list, ptx)
	}
	pool.mu.RUnlock()

	pool.config.Ordering.sort(list)
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	return list
}
