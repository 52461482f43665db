package node

import (
	"context"
	"fmt"

	"github.com/eth2030/devchain/core/state"
	"github.com/eth2030/devchain/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// devSnapshot pairs a state snapshot with the head it was taken at.
type devSnapshot struct {
	id    uint64
	state state.SnapshotID
	head  uint64
}

// Snapshot records the current state and head. Reverting to it later
// undoes every state change and block since.
func (n *Node) Snapshot(ctx context.Context) (uint64, error) {
	var id uint64
	err := n.manager.Exclusive(func() error {
		head, err := n.BlockNumber(ctx)
		if err != nil {
			return err
		}
		sid, err := n.state.CreateSnapshot(ctx)
		if err != nil {
			return err
		}
		n.snapMu.Lock()
		defer n.snapMu.Unlock()
		n.nextSnapID++
		id = n.nextSnapID
		n.snapshots = append(n.snapshots, devSnapshot{id: id, state: sid, head: head})
		n.snapGauge.Set(int64(len(n.snapshots)))
		return nil
	})
	if err != nil {
		return 0, err
	}
	n.log.Debug("Took snapshot", "id", id)
	return id, nil
}

// Revert restores the state and head recorded by snapshot id. The snapshot
// and every later one are consumed. Transactions still buffered stay
// buffered.
func (n *Node) Revert(ctx context.Context, id uint64) error {
	var head uint64
	err := n.manager.Exclusive(func() error {
		n.snapMu.Lock()
		defer n.snapMu.Unlock()

		idx := -1
		for i, s := range n.snapshots {
			if s.id == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %d", ErrUnknownSnapshot, id)
		}
		head = n.snapshots[idx].head
		for i := len(n.snapshots) - 1; i >= idx; i-- {
			if err := n.state.RevertSnapshot(ctx, n.snapshots[i].state); err != nil {
				return fmt.Errorf("revert state snapshot %d: %w", n.snapshots[i].id, err)
			}
			n.snapshots = n.snapshots[:i]
			n.snapGauge.Set(int64(len(n.snapshots)))
		}

		cur, err := n.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if cur > head {
			if err := n.blocks.TruncateAbove(ctx, head); err != nil {
				return fmt.Errorf("truncate chain to %d: %w", head, err)
			}
			n.metrics.Gauge(metrics.NodeChainHeight).Set(int64(head))
		}
		return nil
	})
	if err != nil {
		return err
	}
	n.events.Publish(EventChainRevert, head)
	n.log.Info("Reverted to snapshot", "id", id, "head", head)
	return nil
}

// modify applies fn to a scratch overlay and writes the result back with
// block production held off.
func (n *Node) modify(ctx context.Context, fn func(o *state.Overlay)) error {
	return n.manager.Exclusive(func() error {
		o := state.NewOverlay(ctx, n.state, n.hasher)
		fn(o)
		if err := o.Error(); err != nil {
			return err
		}
		return o.Flush(ctx, n.state)
	})
}

// SetBalance overwrites the balance of addr.
func (n *Node) SetBalance(ctx context.Context, addr common.Address, balance *uint256.Int) error {
	return n.modify(ctx, func(o *state.Overlay) { o.SetBalance(addr, balance) })
}

// SetNonce overwrites the nonce of addr.
func (n *Node) SetNonce(ctx context.Context, addr common.Address, nonce uint64) error {
	return n.modify(ctx, func(o *state.Overlay) { o.SetNonce(addr, nonce) })
}

// SetCode replaces the code at addr.
func (n *Node) SetCode(ctx context.Context, addr common.Address, code []byte) error {
	return n.modify(ctx, func(o *state.Overlay) { o.SetCode(addr, code) })
}

// SetStorageAt writes one storage slot of addr.
func (n *Node) SetStorageAt(ctx context.Context, addr common.Address, slot, value common.Hash) error {
	return n.modify(ctx, func(o *state.Overlay) { o.SetState(addr, slot, value) })
}

// SetAutoMine toggles mining on every submission.
func (n *Node) SetAutoMine(on bool) { n.manager.SetAutoMine(on) }

// IncreaseTime moves the clock of future blocks forward and returns the
// total offset in seconds.
func (n *Node) IncreaseTime(seconds uint64) int64 { return n.manager.IncreaseTime(seconds) }

// SetNextBlockTimestamp fixes the timestamp of the next block.
func (n *Node) SetNextBlockTimestamp(ctx context.Context, ts uint64) error {
	return n.manager.SetNextBlockTimestamp(ctx, ts)
}
