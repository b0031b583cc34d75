package orderbook

import (
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

func TestNextOrderIDIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	first, err := NextOrderID(s)
	if err != nil {
		t.Fatalf("next order id: %v", err)
	}
	second, err := NextOrderID(s)
	if err != nil {
		t.Fatalf("next order id: %v", err)
	}
	if second <= first {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", first, second)
	}
}

func TestPutOrderThenGetOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	o := Order{ID: 1, Owner: owner, Market: 1, Side: types.SideBuy, Price: 50_000, OriginalSize: 10, RemainingSize: 10, TIF: types.TIFGTC}
	if err := PutOrder(s, o, types.OrderActive, 1); err != nil {
		t.Fatalf("put order: %v", err)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, found, err := GetOrder(s, 1)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !found || got.Status != types.OrderActive || got.RemainingSize != 10 {
		t.Fatalf("unexpected order after round trip: %+v", got)
	}
}

func TestRecoverRebuildsBookFromActiveOrderList(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	active := Order{ID: 1, Owner: owner, Market: 1, Side: types.SideBuy, Price: 50_000, OriginalSize: 10, RemainingSize: 10, TIF: types.TIFGTC}
	filled := Order{ID: 2, Owner: owner, Market: 1, Side: types.SideSell, Price: 51_000, OriginalSize: 5, RemainingSize: 0, TIF: types.TIFGTC}
	if err := PutOrder(s, active, types.OrderActive, 1); err != nil {
		t.Fatalf("put active: %v", err)
	}
	if err := PutOrder(s, filled, types.OrderActive, 1); err != nil {
		t.Fatalf("put filled: %v", err)
	}
	// Simulate the order having been filled without the index entry being
	// cleaned up yet (an inconsistency recovery must repair).
	if err := PutOrder(s, filled, types.OrderFilled, 1); err != nil {
		t.Fatalf("transition to filled: %v", err)
	}
	if err := addToActiveList(s, 1, 2); err != nil {
		t.Fatalf("force stale index entry: %v", err)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	book, err := Recover(s, 1)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if _, ok := book.Get(1); !ok {
		t.Fatalf("expected active order 1 to be present after recovery")
	}
	if _, ok := book.Get(2); ok {
		t.Fatalf("expected inconsistent order 2 to be excluded from recovered book")
	}
}
