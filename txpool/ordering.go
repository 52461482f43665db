package txpool

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/eth2030/devchain/core/types"
)

// Ordering selects how Pending orders the pool.
type Ordering uint8

const (
	// OrderFIFO returns transactions by ascending arrival.
	OrderFIFO Ordering = iota
	// OrderGasPrice returns the highest priority price first: the max fee of
	// dynamic-fee transactions, the gas price otherwise. Ties go to the
	// earlier arrival.
	OrderGasPrice
)

// ParseOrdering maps "fifo" or "gasprice" to an Ordering.
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return OrderFIFO, nil
	case "gasprice", "fees", "price":
		return OrderGasPrice, nil
	}
	return OrderFIFO, fmt.Errorf("unknown pool ordering %q", s)
}

func (o Ordering) String() string {
	switch o {
	case OrderFIFO:
		return "fifo"
	case OrderGasPrice:
		return "gasprice"
	}
	return fmt.Sprintf("Ordering(%d)", uint8(o))
}

func byArrival(a, b *PendingTransaction) int {
	if c := a.Arrival.Compare(b.Arrival); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func (o Ordering) sort(list []*PendingTransaction) {
	switch o {
	case OrderGasPrice:
		slices.SortFunc(list, func(a, b *PendingTransaction) int {
			if c := types.PriorityPrice(b.Tx).Cmp(types.PriorityPrice(a.Tx)); c != 0 {
				return c
			}
			return byArrival(a, b)
		})
	default:
		slices.SortFunc(list, byArrival)
	}
}
