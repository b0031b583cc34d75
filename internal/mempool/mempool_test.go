package mempool

import (
	"math/big"
	"testing"

	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

func sampleTx(sender types.Address, nonce uint64, to types.Address) *tx.Transaction {
	return &tx.Transaction{
		Nonce:  nonce,
		Sender: sender,
		Payload: tx.Transfer{
			To:     to,
			Asset:  1,
			Amount: big.NewInt(100),
		},
	}
}

func TestAddReturnsStableHashAndIsRetrievable(t *testing.T) {
	m := New()
	sender := types.Address{0x01}
	to := types.Address{0x02}
	txn := sampleTx(sender, 0, to)

	hash, err := m.Add(txn)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !m.Has(hash) {
		t.Fatalf("expected hash to be present after add")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 pending tx, got %d", m.Len())
	}
}

func TestAddRejectsDuplicateHash(t *testing.T) {
	m := New()
	sender := types.Address{0x01}
	to := types.Address{0x02}
	txn := sampleTx(sender, 0, to)

	if _, err := m.Add(txn); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := m.Add(txn); err != types.ErrDuplicateTx {
		t.Fatalf("expected ErrDuplicateTx, got %v", err)
	}
}

func TestAddRejectsAtCapacity(t *testing.T) {
	m := NewWithCapacity(1, DefaultPerSenderCapacity)
	sender := types.Address{0x01}
	to := types.Address{0x02}

	if _, err := m.Add(sampleTx(sender, 0, to)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := m.Add(sampleTx(sender, 1, to)); err != types.ErrMempoolFull {
		t.Fatalf("expected ErrMempoolFull, got %v", err)
	}
}

func TestAddRejectsAtPerSenderCapacity(t *testing.T) {
	m := NewWithCapacity(DefaultCapacity, 1)
	sender := types.Address{0x01}
	to := types.Address{0x02}

	if _, err := m.Add(sampleTx(sender, 0, to)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := m.Add(sampleTx(sender, 1, to)); err != types.ErrSenderTxCapReached {
		t.Fatalf("expected ErrSenderTxCapReached, got %v", err)
	}
}

func TestReadyTxsOrdersBySenderThenNonce(t *testing.T) {
	m := New()
	alice := types.Address{0x01}
	bob := types.Address{0x02}
	to := types.Address{0x03}

	// Admit bob's txs and alice's out of nonce order; ReadyTxs must still
	// yield alice before bob (address order) and ascending nonce within
	// each sender.
	bobTx1 := sampleTx(bob, 1, to)
	bobTx0 := sampleTx(bob, 0, to)
	aliceTx0 := sampleTx(alice, 0, to)

	if _, err := m.Add(bobTx1); err != nil {
		t.Fatalf("add bob 1: %v", err)
	}
	if _, err := m.Add(bobTx0); err != nil {
		t.Fatalf("add bob 0: %v", err)
	}
	if _, err := m.Add(aliceTx0); err != nil {
		t.Fatalf("add alice 0: %v", err)
	}

	ready := m.ReadyTxs(0)
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready txs, got %d", len(ready))
	}

	decoded := make([]*tx.Transaction, len(ready))
	for i, raw := range ready {
		d, err := tx.Decode(raw)
		if err != nil {
			t.Fatalf("decode ready tx %d: %v", i, err)
		}
		decoded[i] = d
	}
	if decoded[0].Sender != alice || decoded[1].Sender != bob || decoded[1].Nonce != 0 || decoded[2].Sender != bob || decoded[2].Nonce != 1 {
		t.Fatalf("unexpected ready order: %+v", decoded)
	}
}

func TestReadyTxsRespectsLimit(t *testing.T) {
	m := New()
	sender := types.Address{0x01}
	to := types.Address{0x02}

	for n := uint64(0); n < 5; n++ {
		if _, err := m.Add(sampleTx(sender, n, to)); err != nil {
			t.Fatalf("add %d: %v", n, err)
		}
	}

	ready := m.ReadyTxs(2)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready txs under limit, got %d", len(ready))
	}
}

func TestRemoveEvictsSingleTx(t *testing.T) {
	m := New()
	sender := types.Address{0x01}
	to := types.Address{0x02}
	txn := sampleTx(sender, 0, to)

	hash, err := m.Add(txn)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	m.Remove(hash)
	if m.Has(hash) {
		t.Fatalf("expected tx to be removed")
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty mempool, got %d", m.Len())
	}
}

func TestPruneSenderNoncesEvictsUpToAndIncludingNonce(t *testing.T) {
	m := New()
	sender := types.Address{0x01}
	to := types.Address{0x02}

	for n := uint64(0); n < 3; n++ {
		if _, err := m.Add(sampleTx(sender, n, to)); err != nil {
			t.Fatalf("add %d: %v", n, err)
		}
	}

	m.PruneSenderNonces(sender, 1)
	if m.SenderLen(sender) != 1 {
		t.Fatalf("expected 1 remaining tx for sender, got %d", m.SenderLen(sender))
	}
	ready := m.ReadyTxs(0)
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready tx overall, got %d", len(ready))
	}
	d, err := tx.Decode(ready[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Nonce != 2 {
		t.Fatalf("expected surviving tx to be nonce 2, got %d", d.Nonce)
	}
}
