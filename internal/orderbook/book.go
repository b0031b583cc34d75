package orderbook

import (
	"container/heap"

	"github.com/dexcore/perpchain/internal/types"
)

// Book is the in-memory order book for a single market.
type Book struct {
	market types.MarketID

	bidHeap maxPriceHeap
	askHeap minPriceHeap

	bids map[uint64][]*Order // price -> FIFO queue, best-priority first
	asks map[uint64][]*Order

	byID map[types.OrderID]*Order // O(1) lookup for cancel/modify
}

// New creates an empty book for market.
func New(market types.MarketID) *Book {
	b := &Book{
		market: market,
		bids:   make(map[uint64][]*Order),
		asks:   make(map[uint64][]*Order),
		byID:   make(map[types.OrderID]*Order),
	}
	heap.Init(&b.bidHeap)
	heap.Init(&b.askHeap)
	return b
}

func (b *Book) bestBid() (uint64, bool) { return b.bidHeap.Peek() }
func (b *Book) bestAsk() (uint64, bool) { return b.askHeap.Peek() }

// BestBid/BestAsk expose the top of book for mark-price fallback and
// post-only checks performed outside this package.
func (b *Book) BestBid() (uint64, bool) { return b.bestBid() }
func (b *Book) BestAsk() (uint64, bool) { return b.askHeap.Peek() }

func (b *Book) addResting(o *Order) {
	b.byID[o.ID] = o
	if o.Side == types.SideBuy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(&b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
		return
	}
	if len(b.asks[o.Price]) == 0 {
		heap.Push(&b.askHeap, o.Price)
	}
	b.asks[o.Price] = append(b.asks[o.Price], o)
}

func (b *Book) removeLevelIfEmpty(side types.Side, price uint64) {
	if side == types.SideBuy {
		if len(b.bids[price]) == 0 {
			delete(b.bids, price)
			removeFromHeap(&b.bidHeap, price)
		}
		return
	}
	if len(b.asks[price]) == 0 {
		delete(b.asks, price)
		removeFromHeap(&b.askHeap, price)
	}
}

func removeFromHeap(h heap.Interface, price uint64) {
	switch hh := h.(type) {
	case *maxPriceHeap:
		for i, p := range *hh {
			if p == price {
				heap.Remove(hh, i)
				return
			}
		}
	case *minPriceHeap:
		for i, p := range *hh {
			if p == price {
				heap.Remove(hh, i)
				return
			}
		}
	}
}

// willCross reports whether an opposing order exists that would match
// against a hypothetical order on side at price (0 meaning market). Used
// to enforce the post-only precondition: a post-only order that would
// cross is rejected rather than rested.
func (b *Book) willCross(side types.Side, price uint64) bool {
	if side == types.SideBuy {
		askP, ok := b.bestAsk()
		if !ok {
			return false
		}
		if price == 0 {
			return true
		}
		return askP <= price
	}
	bidP, ok := b.bestBid()
	if !ok {
		return false
	}
	if price == 0 {
		return true
	}
	return bidP >= price
}

// crossingLiquidity sums the size available to a taker on side at price
// (0 meaning market), excluding resting orders owned by owner
// (self-trade prevention), capped at need units since that's all a
// feasibility check requires.
func (b *Book) crossingLiquidity(side types.Side, price uint64, owner types.Address, need uint64) uint64 {
	var levels map[uint64][]*Order
	var priceCrosses func(levelPrice uint64) bool
	if side == types.SideBuy {
		levels = b.asks
		priceCrosses = func(levelPrice uint64) bool { return price == 0 || levelPrice <= price }
	} else {
		levels = b.bids
		priceCrosses = func(levelPrice uint64) bool { return price == 0 || levelPrice >= price }
	}

	var total uint64
	for levelPrice, queue := range levels {
		if !priceCrosses(levelPrice) {
			continue
		}
		for _, o := range queue {
			if o.Owner == owner {
				continue
			}
			total += o.RemainingSize
			if total >= need {
				return total
			}
		}
	}
	return total
}

// crossingLevelPrices returns the opposing-side price levels that cross
// taker, in priority order (asks low-to-high for a buy, bids high-to-low
// for a sell). Computed once per Place call so that a level consisting
// entirely of the taker's own resting orders (self-trade prevention)
// doesn't block matching against a further, crossing level.
func (b *Book) crossingLevelPrices(side types.Side, price uint64) []uint64 {
	var levels map[uint64][]*Order
	var crosses func(levelPrice uint64) bool
	var less func(a, b uint64) bool
	if side == types.SideBuy {
		levels = b.asks
		crosses = func(levelPrice uint64) bool { return price == 0 || levelPrice <= price }
		less = func(a, b uint64) bool { return a < b }
	} else {
		levels = b.bids
		crosses = func(levelPrice uint64) bool { return price == 0 || levelPrice >= price }
		less = func(a, b uint64) bool { return a > b }
	}

	prices := make([]uint64, 0, len(levels))
	for p := range levels {
		if crosses(p) {
			prices = append(prices, p)
		}
	}
	for i := 1; i < len(prices); i++ {
		for j := i; j > 0 && less(prices[j], prices[j-1]); j-- {
			prices[j], prices[j-1] = prices[j-1], prices[j]
		}
	}
	return prices
}

// match executes price-time-priority matching of taker against the book,
// mutating both the taker's RemainingSize and the resting makers it
// consumes. Self-trades (maker.Owner == taker.Owner) are skipped entirely.
func (b *Book) match(taker *Order) []Fill {
	var fills []Fill

	for _, levelPrice := range b.crossingLevelPrices(taker.Side, taker.Price) {
		if taker.RemainingSize == 0 {
			break
		}
		var queue []*Order
		if taker.Side == types.SideBuy {
			queue = b.asks[levelPrice]
		} else {
			queue = b.bids[levelPrice]
		}

		for i := 0; i < len(queue) && taker.RemainingSize > 0; i++ {
			maker := queue[i]
			if maker.Owner == taker.Owner {
				continue
			}
			fillSize := maker.RemainingSize
			if taker.RemainingSize < fillSize {
				fillSize = taker.RemainingSize
			}
			maker.RemainingSize -= fillSize
			taker.RemainingSize -= fillSize
			fills = append(fills, Fill{
				Maker:      maker.ID,
				MakerOwner: maker.Owner,
				Taker:      taker.ID,
				TakerOwner: taker.Owner,
				Market:     b.market,
				Price:      levelPrice,
				Size:       fillSize,
				TakerSide:  taker.Side,
			})
		}

		// Compact the level: drop fully-filled makers, preserving FIFO order.
		remaining := queue[:0]
		for _, o := range queue {
			if o.RemainingSize > 0 {
				remaining = append(remaining, o)
			} else {
				delete(b.byID, o.ID)
			}
		}
		if taker.Side == types.SideBuy {
			b.asks[levelPrice] = remaining
			b.removeLevelIfEmpty(types.SideSell, levelPrice)
		} else {
			b.bids[levelPrice] = remaining
			b.removeLevelIfEmpty(types.SideBuy, levelPrice)
		}
	}

	return fills
}

// Place runs the full admission-and-match pipeline for a resting-eligible
// order (market-param validation is the caller's responsibility). Returns
// the fills produced and the order's final resting/terminal disposition.
//
// FOK is pre-checked for fillability before any mutation occurs (DESIGN.md
// Open Question decision #1): if the crossing liquidity available to this
// taker (excluding self-trades) is less than the order's size, Place
// returns types.ErrOrderNotFilled and the book is left untouched.
func (b *Book) Place(o *Order) ([]Fill, error) {
	if o.PostOnly && b.willCross(o.Side, o.Price) {
		return nil, types.ErrPostOnlyWouldTake
	}

	if o.TIF == types.TIFFOK {
		available := b.crossingLiquidity(o.Side, o.Price, o.Owner, o.RemainingSize)
		if available < o.RemainingSize {
			return nil, types.ErrOrderNotFilled
		}
	}

	fills := b.match(o)

	switch o.TIF {
	case types.TIFGTC:
		if o.RemainingSize > 0 {
			b.addResting(o)
		}
	case types.TIFIOC, types.TIFFOK:
		// Residual (IOC) or guaranteed-zero residual (FOK) is not rested.
	}

	return fills, nil
}

// Cancel removes an active order from the book. Reports false if the
// order is not currently resting (already filled, cancelled, or unknown).
func (b *Book) Cancel(id types.OrderID) (*Order, bool) {
	o, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	delete(b.byID, id)

	var queue map[uint64][]*Order
	if o.Side == types.SideBuy {
		queue = b.bids
	} else {
		queue = b.asks
	}
	list := queue[o.Price]
	for i, candidate := range list {
		if candidate.ID == id {
			queue[o.Price] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.removeLevelIfEmpty(o.Side, o.Price)
	return o, true
}

// Get returns the resting order by ID, if active.
func (b *Book) Get(id types.OrderID) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// CancelAllForOwner removes and returns every resting order belonging to
// owner, for liquidation's pre-liquidation cancellation step.
func (b *Book) CancelAllForOwner(owner types.Address) []*Order {
	var cancelled []*Order
	for id, o := range b.byID {
		if o.Owner == owner {
			if removed, ok := b.Cancel(id); ok {
				cancelled = append(cancelled, removed)
			}
		}
	}
	return cancelled
}

// Level is one aggregated price point in a depth snapshot.
type Level struct {
	Price uint64
	Size  uint64
}

// Levels returns up to depth aggregated bid and ask levels, best price
// first, for read-only orderbook snapshots (internal/rpc's REST surface).
func (b *Book) Levels(depth int) (bids, asks []Level) {
	bids = aggregateLevels(b.bids, true, depth)
	asks = aggregateLevels(b.asks, false, depth)
	return bids, asks
}

func aggregateLevels(side map[uint64][]*Order, descending bool, depth int) []Level {
	prices := make([]uint64, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	for i := 1; i < len(prices); i++ {
		for j := i; j > 0; j-- {
			less := prices[j] < prices[j-1]
			if descending {
				less = prices[j] > prices[j-1]
			}
			if !less {
				break
			}
			prices[j], prices[j-1] = prices[j-1], prices[j]
		}
	}
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}
	out := make([]Level, 0, len(prices))
	for _, p := range prices {
		var size uint64
		for _, o := range side[p] {
			size += o.RemainingSize
		}
		out = append(out, Level{Price: p, Size: size})
	}
	return out
}

// Insert re-adds a previously-persisted Active order directly into the
// book without running matching, for recovery's rebuild pass. The caller
// is responsible for only passing Active,
// non-zero-remaining orders.
func (b *Book) Insert(o *Order) {
	b.addResting(o)
}
