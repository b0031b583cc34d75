package events

import (
	"fmt"

	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

type bufferedEvent struct {
	payload   Payload
	addresses []types.Address
}

// Buffer is the executor's tx-scoped event buffer. Emit accumulates
// events without touching the store; Flush is the only path that writes
// them, and the executor calls it only after the transaction's handler
// returns success. A Buffer that is simply discarded on failure leaves no
// trace in state.
type Buffer struct {
	events []bufferedEvent
}

// NewBuffer returns an empty event buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Emit records payload, tagged with the addresses it should be indexed
// under in the by-address event index. Addresses are supplied explicitly
// by the caller rather than inferred from the payload's fields.
func (b *Buffer) Emit(payload Payload, addresses ...types.Address) {
	b.events = append(b.events, bufferedEvent{payload: payload, addresses: addresses})
}

// Len returns the number of buffered (not-yet-flushed) events.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Flush persists every buffered event under (height, txHash, index) and
// updates the block/tx-hash/address indexes. The executor calls this once,
// after a transaction's handler returns nil, with the block height, the
// transaction's hash and the block timestamp.
func Flush(store *state.Store, buf *Buffer, height uint64, txHash [32]byte, timestamp int64) error {
	if buf == nil || len(buf.events) == 0 {
		return nil
	}

	var blockRefs, txRefs []Ref
	addressRefs := make(map[types.Address][]Ref)

	for i, be := range buf.events {
		index := uint32(i)
		e := Event{
			Height:    height,
			TxHash:    txHash,
			Index:     index,
			Timestamp: timestamp,
			Kind:      be.payload.Kind(),
			Addresses: be.addresses,
			Payload:   be.payload,
		}
		encoded, err := encodeEvent(e)
		if err != nil {
			return fmt.Errorf("events: flush event %d: %w", i, err)
		}
		store.Set(statekey.Event{Height: height, TxHash: txHash, Index: index}, encoded)

		ref := Ref{Height: height, TxHash: txHash, Index: index}
		blockRefs = append(blockRefs, ref)
		txRefs = append(txRefs, ref)
		for _, a := range be.addresses {
			addressRefs[a] = append(addressRefs[a], ref)
		}
	}

	if err := appendRefs(store, statekey.EventsByBlock{Height: height}, blockRefs); err != nil {
		return fmt.Errorf("events: update block index: %w", err)
	}
	if err := appendRefs(store, statekey.EventsByTxHash{TxHash: txHash}, txRefs); err != nil {
		return fmt.Errorf("events: update tx-hash index: %w", err)
	}
	for addr, refs := range addressRefs {
		if err := appendRefs(store, statekey.EventsByAddress{Address: addr}, refs); err != nil {
			return fmt.Errorf("events: update address index for %x: %w", addr, err)
		}
	}
	return nil
}

func appendRefs(store *state.Store, key statekey.Key, refs []Ref) error {
	existing, found, err := store.Get(key)
	if err != nil {
		return err
	}
	var all []Ref
	if found {
		all, err = decodeRefList(existing)
		if err != nil {
			return err
		}
	}
	all = append(all, refs...)
	store.Set(key, encodeRefList(all))
	return nil
}
