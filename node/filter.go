package node

import (
	"context"
	"fmt"
	"slices"

	"github.com/eth2030/devchain/core/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// maxFilterRange caps the number of blocks a single GetLogs call scans.
const maxFilterRange = 10_000

// FilterQuery selects logs. Block tags resolve to the head. Topics[i]
// lists the accepted values at position i; an empty list accepts any.
type FilterQuery struct {
	FromBlock BlockNumber
	ToBlock   BlockNumber
	Addresses []common.Address
	Topics    [][]common.Hash
}

// GetLogs returns the logs matching q in block and index order. Blocks
// whose bloom cannot match are skipped without loading their logs.
func (n *Node) GetLogs(ctx context.Context, q FilterQuery) ([]*gethtypes.Log, error) {
	head, err := n.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	resolve := func(b BlockNumber) uint64 {
		if b < 0 {
			return head
		}
		return uint64(b)
	}
	from, to := resolve(q.FromBlock), min(resolve(q.ToBlock), head)
	if from > to {
		return []*gethtypes.Log{}, nil
	}
	if to-from >= maxFilterRange {
		return nil, fmt.Errorf("block range %d-%d exceeds %d blocks", from, to, maxFilterRange)
	}

	out := []*gethtypes.Log{}
	for num := from; num <= to; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bloom, err := n.blocks.GetBlockBloom(ctx, num)
		if err != nil {
			return nil, fmt.Errorf("bloom %d: %w", num, err)
		}
		if !n.bloomMatches(bloom, &q) {
			continue
		}
		logs, err := n.blocks.GetLogs(ctx, num)
		if err != nil {
			return nil, fmt.Errorf("logs %d: %w", num, err)
		}
		for _, l := range logs {
			if logMatches(l, &q) {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (n *Node) bloomMatches(bloom gethtypes.Bloom, q *FilterQuery) bool {
	anyIn := func(values [][]byte) bool {
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if types.BloomContains(n.hasher, bloom, v) {
				return true
			}
		}
		return false
	}
	addrs := make([][]byte, len(q.Addresses))
	for i, a := range q.Addresses {
		addrs[i] = a.Bytes()
	}
	if !anyIn(addrs) {
		return false
	}
	for _, position := range q.Topics {
		topics := make([][]byte, len(position))
		for i, t := range position {
			topics[i] = t.Bytes()
		}
		if !anyIn(topics) {
			return false
		}
	}
	return true
}

func logMatches(l *gethtypes.Log, q *FilterQuery) bool {
	if len(q.Addresses) > 0 && !slices.Contains(q.Addresses, l.Address) {
		return false
	}
	if len(q.Topics) > len(l.Topics) {
		return false
	}
	for i, position := range q.Topics {
		if len(position) > 0 && !slices.Contains(position, l.Topics[i]) {
			return false
		}
	}
	return true
}
