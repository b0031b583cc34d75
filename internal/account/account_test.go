package account

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

func TestCreditThenDebitRoundTrip(t *testing.T) {
	s := openTestStore(t)
	addr := types.Address{0x01}

	if err := Credit(s, addr, 0, big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := Debit(s, addr, 0, big.NewInt(400)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	bal, err := GetBalance(s, addr, 0)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected balance 600, got %s", bal)
	}
}

func TestDebitRejectsInsufficientBalance(t *testing.T) {
	s := openTestStore(t)
	addr := types.Address{0x01}
	if err := Credit(s, addr, 0, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := Debit(s, addr, 0, big.NewInt(200)); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestNonceGapAndReplayRejected(t *testing.T) {
	s := openTestStore(t)
	addr := types.Address{0x01}

	if err := CheckNonce(s, addr, 1); err == nil {
		t.Fatalf("expected nonce gap error for tx nonce 1 against account nonce 0")
	}
	if err := CheckNonce(s, addr, 0); err != nil {
		t.Fatalf("expected tx nonce 0 to match fresh account nonce 0, got %v", err)
	}
	if _, err := IncrementNonce(s, addr); err != nil {
		t.Fatalf("increment nonce: %v", err)
	}
	if err := CheckNonce(s, addr, 0); err == nil {
		t.Fatalf("expected nonce replay error for tx nonce 0 after account advanced to 1")
	}
}

func TestTransferMovesBalanceBetweenAccounts(t *testing.T) {
	s := openTestStore(t)
	a := types.Address{0x01}
	b := types.Address{0x02}
	if err := Credit(s, a, 0, big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := Transfer(s, a, b, 0, big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	balA, err := GetBalance(s, a, 0)
	if err != nil {
		t.Fatalf("get balance a: %v", err)
	}
	balB, err := GetBalance(s, b, 0)
	if err != nil {
		t.Fatalf("get balance b: %v", err)
	}
	if balA.Cmp(big.NewInt(300)) != 0 || balB.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected balances after transfer: a=%s b=%s", balA, balB)
	}
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	s := openTestStore(t)
	a := types.Address{0x01}
	if err := Transfer(s, a, a, 0, big.NewInt(1)); err == nil {
		t.Fatalf("expected self-transfer to be rejected")
	}
}
