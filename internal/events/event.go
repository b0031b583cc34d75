package events

import (
	"fmt"

	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

// Event is one logged domain event, addressed by (Height, TxHash, Index).
type Event struct {
	Height    uint64
	TxHash    [32]byte
	Index     uint32
	Timestamp int64
	Kind      Kind
	Addresses []types.Address
	Payload   Payload
}

func encodeEvent(e Event) ([]byte, error) {
	w := codec.NewWriter()
	w.PutI64(e.Timestamp)
	w.PutU8(uint8(e.Kind))
	w.PutU32(uint32(len(e.Addresses)))
	for _, a := range e.Addresses {
		w.PutAddress(a)
	}
	if err := e.Payload.encode(w); err != nil {
		return nil, fmt.Errorf("events: encode payload: %w", err)
	}
	return w.Bytes(), nil
}

func decodeEvent(height uint64, txHash [32]byte, index uint32, b []byte) (Event, error) {
	r := codec.NewReader(b)
	timestamp, err := r.I64()
	if err != nil {
		return Event{}, err
	}
	kindByte, err := r.U8()
	if err != nil {
		return Event{}, err
	}
	n, err := r.U32()
	if err != nil {
		return Event{}, err
	}
	addrs := make([]types.Address, 0, n)
	for i := uint32(0); i < n; i++ {
		a, err := r.Address()
		if err != nil {
			return Event{}, err
		}
		addrs = append(addrs, a)
	}
	payload, err := decodePayload(r, Kind(kindByte))
	if err != nil {
		return Event{}, fmt.Errorf("events: decode payload: %w", err)
	}
	return Event{Height: height, TxHash: txHash, Index: index, Timestamp: timestamp, Kind: Kind(kindByte), Addresses: addrs, Payload: payload}, nil
}

// Ref is a pointer to one logged event, used by the block/tx-hash/address
// indexes instead of duplicating the event body.
type Ref struct {
	Height uint64
	TxHash [32]byte
	Index  uint32
}

func encodeRefList(refs []Ref) []byte {
	w := codec.NewWriter()
	w.PutU32(uint32(len(refs)))
	for _, r := range refs {
		w.PutU64(r.Height)
		w.PutBytes(r.TxHash[:])
		w.PutU32(r.Index)
	}
	return w.Bytes()
}

func decodeRefList(b []byte) ([]Ref, error) {
	r := codec.NewReader(b)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]Ref, 0, n)
	for i := uint32(0); i < n; i++ {
		height, err := r.U64()
		if err != nil {
			return nil, err
		}
		h, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var txHash [32]byte
		copy(txHash[:], h)
		index, err := r.U32()
		if err != nil {
			return nil, err
		}
		out = append(out, Ref{Height: height, TxHash: txHash, Index: index})
	}
	return out, nil
}

// ByBlock returns every event logged at height, in emission order.
func ByBlock(store *state.Store, height uint64) ([]Event, error) {
	b, found, err := store.Get(statekey.EventsByBlock{Height: height})
	if err != nil || !found {
		return nil, err
	}
	refs, err := decodeRefList(b)
	if err != nil {
		return nil, err
	}
	return loadRefs(store, refs)
}

// ByTxHash returns every event a single transaction emitted, in emission
// order.
func ByTxHash(store *state.Store, txHash [32]byte) ([]Event, error) {
	b, found, err := store.Get(statekey.EventsByTxHash{TxHash: txHash})
	if err != nil || !found {
		return nil, err
	}
	refs, err := decodeRefList(b)
	if err != nil {
		return nil, err
	}
	return loadRefs(store, refs)
}

// ByAddress returns every event touching address, across every block, in
// emission order. This index is maintained explicitly since the store has
// no logical prefix scan (the same tradeoff internal/orderbook and
// internal/position make for their own indexes).
func ByAddress(store *state.Store, address types.Address) ([]Event, error) {
	b, found, err := store.Get(statekey.EventsByAddress{Address: address})
	if err != nil || !found {
		return nil, err
	}
	refs, err := decodeRefList(b)
	if err != nil {
		return nil, err
	}
	return loadRefs(store, refs)
}

func loadRefs(store *state.Store, refs []Ref) ([]Event, error) {
	out := make([]Event, 0, len(refs))
	for _, ref := range refs {
		b, found, err := store.Get(statekey.Event{Height: ref.Height, TxHash: ref.TxHash, Index: ref.Index})
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		e, err := decodeEvent(ref.Height, ref.TxHash, ref.Index, b)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
