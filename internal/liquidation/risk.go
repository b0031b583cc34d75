package liquidation

import (
	"container/heap"

	"github.com/dexcore/perpchain/internal/position"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/types"
)

// riskEntry is a single position's priority in the at-risk index: lower
// MarginRatio means higher liquidation priority.
type riskEntry struct {
	Trader      types.Address
	Market      types.MarketID
	MarginRatio uint32
}

// riskHeap is a container/heap min-heap over MarginRatio, the same
// heap-over-a-comparable-field idiom internal/orderbook uses for its
// price-priority heaps, applied to a struct field instead of a bare price.
type riskHeap []riskEntry

func (h riskHeap) Len() int            { return len(h) }
func (h riskHeap) Less(i, j int) bool  { return h[i].MarginRatio < h[j].MarginRatio }
func (h riskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *riskHeap) Push(x interface{}) { *h = append(*h, x.(riskEntry)) }
func (h *riskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// RiskIndex is a per-market at-risk position index, rebuilt lazily from
// state on request rather than persisted — the position index is the
// durable entity this rebuilds from.
type RiskIndex struct {
	market types.MarketID
	heap   riskHeap
}

// RebuildRiskIndex recomputes the at-risk index for every open position in
// marketID at markPrice.
func RebuildRiskIndex(store *state.Store, marketID types.MarketID, markPrice uint64) (*RiskIndex, error) {
	positions, err := position.ListInMarket(store, marketID)
	if err != nil {
		return nil, err
	}
	idx := &RiskIndex{market: marketID}
	heap.Init(&idx.heap)
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		entry := riskEntry{Trader: p.Owner, Market: marketID, MarginRatio: MarginRatioBps(p, markPrice)}
		heap.Push(&idx.heap, entry)
	}
	return idx, nil
}

// AtRisk returns every indexed position whose margin ratio is below
// thresholdBps, most-at-risk (lowest ratio) first.
func (idx *RiskIndex) AtRisk(thresholdBps uint32) []riskEntry {
	// Copy so repeated calls don't mutate the underlying heap ordering.
	cp := make(riskHeap, len(idx.heap))
	copy(cp, idx.heap)
	heap.Init(&cp)

	var out []riskEntry
	for cp.Len() > 0 {
		entry := heap.Pop(&cp).(riskEntry)
		if entry.MarginRatio < thresholdBps {
			out = append(out, entry)
		}
	}
	return out
}
