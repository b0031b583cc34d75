package orderbook

import (
	"fmt"

	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

// NextOrderID assigns and persists a fresh monotonic order id, per spec
// §3's "globally monotonic 64-bit id" and §4.4 step 2.
func NextOrderID(store *state.Store) (types.OrderID, error) {
	val, found, err := store.Get(statekey.NextOrderID{})
	if err != nil {
		return 0, fmt.Errorf("orderbook: read next order id: %w", err)
	}
	var next uint64 = 1
	if found {
		current, err := codec.NewReader(val).U64()
		if err != nil {
			return 0, fmt.Errorf("orderbook: decode next order id: %w", err)
		}
		next = current
	}
	w := codec.NewWriter()
	w.PutU64(next + 1)
	store.Set(statekey.NextOrderID{}, w.Bytes())
	return types.OrderID(next), nil
}

func encodeOrder(o Order, status types.OrderStatus, createdVersion uint64) []byte {
	w := codec.NewWriter()
	w.PutAddress(o.Owner)
	w.PutU32(uint32(o.Market))
	w.PutI64(int64(o.Side))
	w.PutU64(o.Price)
	w.PutU64(o.OriginalSize)
	w.PutU64(o.RemainingSize)
	w.PutU8(uint8(status))
	w.PutU64(createdVersion)
	w.PutBool(o.ReduceOnly)
	w.PutBool(o.PostOnly)
	w.PutI64(int64(o.TIF))
	return w.Bytes()
}

// PersistedOrder carries the full on-disk record, including fields the
// in-memory Order (internal/orderbook.Order) doesn't track.
type PersistedOrder struct {
	Order
	Status         types.OrderStatus
	CreatedVersion uint64
}

func decodeOrder(id types.OrderID, b []byte) (PersistedOrder, error) {
	r := codec.NewReader(b)
	var p PersistedOrder
	p.ID = id
	var err error
	if p.Owner, err = r.Address(); err != nil {
		return p, err
	}
	var marketID uint32
	if marketID, err = r.U32(); err != nil {
		return p, err
	}
	p.Market = types.MarketID(marketID)
	var sideRaw int64
	if sideRaw, err = r.I64(); err != nil {
		return p, err
	}
	p.Side = types.Side(sideRaw)
	if p.Price, err = r.U64(); err != nil {
		return p, err
	}
	if p.OriginalSize, err = r.U64(); err != nil {
		return p, err
	}
	if p.RemainingSize, err = r.U64(); err != nil {
		return p, err
	}
	statusRaw, err := r.U8()
	if err != nil {
		return p, err
	}
	p.Status = types.OrderStatus(statusRaw)
	if p.CreatedVersion, err = r.U64(); err != nil {
		return p, err
	}
	if p.ReduceOnly, err = r.Bool(); err != nil {
		return p, err
	}
	if p.PostOnly, err = r.Bool(); err != nil {
		return p, err
	}
	var tifRaw int64
	if tifRaw, err = r.I64(); err != nil {
		return p, err
	}
	p.TIF = types.TimeInForce(tifRaw)
	return p, nil
}

// PutOrder persists o's full record and, for Active orders, adds the
// market's ActiveOrder index entry. That index is the authoritative list
// recovery rebuilds the in-memory book from. The content-addressed store
// (internal/state) has no native prefix-scan over
// logical keys — every key is addressed by its hash in the Merkle tree —
// so ActiveOrderList{market} additionally maintains an explicit encoded
// id list the same way internal/market maintains MarketList/AssetList;
// recovery reads that list rather than attempting a range scan.
func PutOrder(store *state.Store, o Order, status types.OrderStatus, createdVersion uint64) error {
	store.Set(statekey.Order{ID: o.ID}, encodeOrder(o, status, createdVersion))
	key := statekey.ActiveOrder{Market: o.Market, ID: o.ID}
	if status == types.OrderActive {
		store.Set(key, []byte{0x01})
		return addToActiveList(store, o.Market, uint64(o.ID))
	}
	store.Delete(key)
	return removeFromActiveList(store, o.Market, uint64(o.ID))
}

func encodeIDList(ids []uint64) []byte {
	w := codec.NewWriter()
	w.PutU32(uint32(len(ids)))
	for _, id := range ids {
		w.PutU64(id)
	}
	return w.Bytes()
}

func decodeIDList(b []byte) ([]uint64, error) {
	r := codec.NewReader(b)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.U64()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func activeOrderIDs(store *state.Store, market types.MarketID) ([]uint64, error) {
	val, found, err := store.Get(statekey.ActiveOrderList{Market: market})
	if err != nil {
		return nil, fmt.Errorf("orderbook: read active order list: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeIDList(val)
}

func addToActiveList(store *state.Store, market types.MarketID, id uint64) error {
	ids, err := activeOrderIDs(store, market)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	store.Set(statekey.ActiveOrderList{Market: market}, encodeIDList(ids))
	return nil
}

func removeFromActiveList(store *state.Store, market types.MarketID, id uint64) error {
	ids, err := activeOrderIDs(store, market)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	store.Set(statekey.ActiveOrderList{Market: market}, encodeIDList(out))
	return nil
}

// ActiveOrderIDs returns every order id the ActiveOrderList index records
// for market, for recovery's rebuild pass.
func ActiveOrderIDs(store *state.Store, market types.MarketID) ([]uint64, error) {
	return activeOrderIDs(store, market)
}

// GetOrder loads an order's full persisted record.
func GetOrder(store *state.Store, id types.OrderID) (PersistedOrder, bool, error) {
	val, found, err := store.Get(statekey.Order{ID: id})
	if err != nil {
		return PersistedOrder{}, false, fmt.Errorf("orderbook: get order %d: %w", id, err)
	}
	if !found {
		return PersistedOrder{}, false, nil
	}
	p, err := decodeOrder(id, val)
	if err != nil {
		return PersistedOrder{}, false, fmt.Errorf("orderbook: decode order %d: %w", id, err)
	}
	return p, true, nil
}

// Recover rebuilds an in-memory Book for market from persisted state:
// every id in the ActiveOrderList index is loaded and, if genuinely
// Active with non-zero remaining size, re-inserted into the book.
// Entries that are inconsistent (non-Active, or Active with zero
// remaining size) are dropped from the index instead, so a prior crash or
// bug can't leave a stale id haunting the index forever.
func Recover(store *state.Store, market types.MarketID) (*Book, error) {
	book := New(market)
	ids, err := ActiveOrderIDs(store, market)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		p, found, err := GetOrder(store, types.OrderID(id))
		if err != nil {
			return nil, err
		}
		if !found {
			if err := removeFromActiveList(store, market, id); err != nil {
				return nil, err
			}
			continue
		}
		if p.Status != types.OrderActive || p.RemainingSize == 0 {
			if err := removeFromActiveList(store, market, id); err != nil {
				return nil, err
			}
			continue
		}
		o := p.Order
		book.Insert(&o)
	}
	return book, nil
}
