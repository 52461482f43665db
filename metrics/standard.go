package metrics

// Metric names emitted by the engine. Components resolve them against the
// registry they are given, falling back to DefaultRegistry.
const (
	MinerBlocks      = "miner/blocks"
	MinerTxSucceeded = "miner/txs/succeeded"
	MinerTxFailed    = "miner/txs/failed"
	MinerTxRejected  = "miner/txs/rejected"
	MinerDuration    = "miner/duration_ms"
	TxPoolPending    = "txpool/pending"
	TxPoolAdded      = "txpool/added"
	TxPoolRemoved    = "txpool/removed"
	ProcessorReverts = "processor/reverts"
	ProcessorGasUsed = "processor/gas_used"
	NodeSnapshots    = "node/snapshots"
	NodeChainHeight  = "node/height"
)

// Or returns r, or DefaultRegistry when r is nil.
func Or(r *Registry) *Registry {
	if r == nil {
		return DefaultRegistry
	}
	return r
}
