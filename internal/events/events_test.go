package events

import (
	"math/big"
	"testing"

	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/types"
)

func openTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin block: %v", err)
	}
	return s
}

func TestFlushOnEmptyBufferIsNoOp(t *testing.T) {
	s := openTestStore(t)
	buf := NewBuffer()
	if err := Flush(s, buf, 1, [32]byte{0xaa}, 100); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got, err := ByBlock(s, 1)
	if err != nil {
		t.Fatalf("by block: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events for an empty buffer, got %d", len(got))
	}
}

func TestFlushPersistsEventsAndAllThreeIndexes(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	counterparty := types.Address{0x02}
	txHash := [32]byte{0xde, 0xad}

	buf := NewBuffer()
	buf.Emit(BalanceChanged{
		Owner:      owner,
		Asset:      1,
		Delta:      big.NewInt(500),
		NewBalance: big.NewInt(1500),
		Reason:     types.ReasonDeposit,
	}, owner)
	buf.Emit(Transfer{
		From:   owner,
		To:     counterparty,
		Asset:  1,
		Amount: big.NewInt(200),
	}, owner, counterparty)

	if buf.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", buf.Len())
	}

	if err := Flush(s, buf, 1, txHash, 1_700_000_000); err != nil {
		t.Fatalf("flush: %v", err)
	}

	byBlock, err := ByBlock(s, 1)
	if err != nil {
		t.Fatalf("by block: %v", err)
	}
	if len(byBlock) != 2 {
		t.Fatalf("expected 2 events by block, got %d", len(byBlock))
	}
	if byBlock[0].Kind != KindBalanceChanged || byBlock[1].Kind != KindTransfer {
		t.Fatalf("unexpected event order/kinds: %+v", byBlock)
	}
	if byBlock[0].Index != 0 || byBlock[1].Index != 1 {
		t.Fatalf("expected sequential per-tx indices, got %d and %d", byBlock[0].Index, byBlock[1].Index)
	}

	byTx, err := ByTxHash(s, txHash)
	if err != nil {
		t.Fatalf("by tx hash: %v", err)
	}
	if len(byTx) != 2 {
		t.Fatalf("expected 2 events by tx hash, got %d", len(byTx))
	}

	byOwner, err := ByAddress(s, owner)
	if err != nil {
		t.Fatalf("by address owner: %v", err)
	}
	if len(byOwner) != 2 {
		t.Fatalf("expected owner indexed under both events, got %d", len(byOwner))
	}

	byCounterparty, err := ByAddress(s, counterparty)
	if err != nil {
		t.Fatalf("by address counterparty: %v", err)
	}
	if len(byCounterparty) != 1 {
		t.Fatalf("expected counterparty indexed under exactly 1 event, got %d", len(byCounterparty))
	}
	transfer, ok := byCounterparty[0].Payload.(Transfer)
	if !ok {
		t.Fatalf("expected decoded payload to be a Transfer, got %T", byCounterparty[0].Payload)
	}
	if transfer.Amount.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected transfer amount 200, got %s", transfer.Amount)
	}
}

func TestEventsSurviveCommitAndReopen(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x03}
	txHash := [32]byte{0x01}

	buf := NewBuffer()
	buf.Emit(NonceUpdated{Owner: owner, NewNonce: 1}, owner)
	if err := Flush(s, buf, 1, txHash, 42); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := ByAddress(s, owner)
	if err != nil {
		t.Fatalf("by address: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event after commit, got %d", len(got))
	}
	nu, ok := got[0].Payload.(NonceUpdated)
	if !ok {
		t.Fatalf("expected NonceUpdated payload, got %T", got[0].Payload)
	}
	if nu.NewNonce != 1 {
		t.Fatalf("expected new nonce 1, got %d", nu.NewNonce)
	}
	if got[0].Timestamp != 42 {
		t.Fatalf("expected timestamp 42, got %d", got[0].Timestamp)
	}
}

func TestDistinctTransactionsInSameBlockDoNotCollide(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}

	buf1 := NewBuffer()
	buf1.Emit(NonceUpdated{Owner: owner, NewNonce: 1}, owner)
	if err := Flush(s, buf1, 1, [32]byte{0x01}, 10); err != nil {
		t.Fatalf("flush 1: %v", err)
	}

	buf2 := NewBuffer()
	buf2.Emit(NonceUpdated{Owner: owner, NewNonce: 2}, owner)
	if err := Flush(s, buf2, 1, [32]byte{0x02}, 20); err != nil {
		t.Fatalf("flush 2: %v", err)
	}

	byBlock, err := ByBlock(s, 1)
	if err != nil {
		t.Fatalf("by block: %v", err)
	}
	if len(byBlock) != 2 {
		t.Fatalf("expected 2 events across both transactions, got %d", len(byBlock))
	}
}
