// Package orderbook implements the in-memory price-time-priority limit
// order book per market, with GTC/IOC/FOK time-in-force, post-only
// admission, and self-trade prevention (reduce-only is checked by the
// caller, not by the book). Best-price tracking uses a heap over each side,
// FIFO queues hold price-level priority, and an ID index supports O(1)
// cancellation.
package orderbook

import "github.com/dexcore/perpchain/internal/types"

// Order is the in-memory resting-order representation. The authoritative
// record is the persisted statekey.Order entity (internal/state); this is
// the book's working copy, rebuilt from persisted ActiveOrder entries on
// recovery.
type Order struct {
	ID            types.OrderID
	Owner         types.Address
	Market        types.MarketID
	Side          types.Side
	Price         uint64 // 0 denotes a market order
	OriginalSize  uint64
	RemainingSize uint64
	ReduceOnly    bool
	PostOnly      bool
	TIF           types.TimeInForce
}

// IsMarketOrder reports whether the order carries no limit price.
func (o Order) IsMarketOrder() bool { return o.Price == 0 }

// Fill is one match produced during order placement.
type Fill struct {
	Maker      types.OrderID
	MakerOwner types.Address
	Taker      types.OrderID
	TakerOwner types.Address
	Market     types.MarketID
	Price      uint64
	Size       uint64
	TakerSide  types.Side
}
