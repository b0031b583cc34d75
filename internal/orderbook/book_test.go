package orderbook

import (
	"testing"

	"github.com/dexcore/perpchain/internal/types"
)

func TestFullCrossFillsBothOrders(t *testing.T) {
	b := New(1)
	addrA := types.Address{0x01}
	addrB := types.Address{0x02}

	buy := &Order{ID: 1, Owner: addrA, Market: 1, Side: types.SideBuy, Price: 50_000, OriginalSize: 10, RemainingSize: 10, TIF: types.TIFGTC}
	if _, err := b.Place(buy); err != nil {
		t.Fatalf("place buy: %v", err)
	}

	sell := &Order{ID: 2, Owner: addrB, Market: 1, Side: types.SideSell, Price: 50_000, OriginalSize: 10, RemainingSize: 10, TIF: types.TIFGTC}
	fills, err := b.Place(sell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if len(fills) != 1 || fills[0].Size != 10 || fills[0].Price != 50_000 {
		t.Fatalf("unexpected fills: %+v", fills)
	}
	if buy.RemainingSize != 0 || sell.RemainingSize != 0 {
		t.Fatalf("expected both orders fully filled, got buy=%d sell=%d", buy.RemainingSize, sell.RemainingSize)
	}
	if _, ok := b.Get(1); ok {
		t.Fatalf("expected filled buy order removed from book")
	}
}

func TestGTCRestsResidual(t *testing.T) {
	b := New(1)
	owner := types.Address{0x01}
	o := &Order{ID: 1, Owner: owner, Market: 1, Side: types.SideBuy, Price: 100, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFGTC}
	if _, err := b.Place(o); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, ok := b.Get(1); !ok {
		t.Fatalf("expected unmatched GTC order to rest in book")
	}
}

func TestIOCCancelsResidual(t *testing.T) {
	b := New(1)
	owner := types.Address{0x01}
	o := &Order{ID: 1, Owner: owner, Market: 1, Side: types.SideBuy, Price: 100, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFIOC}
	if _, err := b.Place(o); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, ok := b.Get(1); ok {
		t.Fatalf("expected IOC residual to not rest in book")
	}
}

func TestFOKFailsWithoutMutatingBookOnInsufficientLiquidity(t *testing.T) {
	b := New(1)
	maker := types.Address{0x01}
	taker := types.Address{0x02}

	resting := &Order{ID: 1, Owner: maker, Market: 1, Side: types.SideSell, Price: 100, OriginalSize: 3, RemainingSize: 3, TIF: types.TIFGTC}
	if _, err := b.Place(resting); err != nil {
		t.Fatalf("place resting: %v", err)
	}

	fokOrder := &Order{ID: 2, Owner: taker, Market: 1, Side: types.SideBuy, Price: 100, OriginalSize: 10, RemainingSize: 10, TIF: types.TIFFOK}
	_, err := b.Place(fokOrder)
	if err == nil {
		t.Fatalf("expected FOK to fail when liquidity is insufficient")
	}
	if resting.RemainingSize != 3 {
		t.Fatalf("expected resting order untouched after failed FOK, got remaining=%d", resting.RemainingSize)
	}
}

func TestFOKFillsFullyWhenLiquiditySufficient(t *testing.T) {
	b := New(1)
	maker := types.Address{0x01}
	taker := types.Address{0x02}

	resting := &Order{ID: 1, Owner: maker, Market: 1, Side: types.SideSell, Price: 100, OriginalSize: 10, RemainingSize: 10, TIF: types.TIFGTC}
	if _, err := b.Place(resting); err != nil {
		t.Fatalf("place resting: %v", err)
	}

	fokOrder := &Order{ID: 2, Owner: taker, Market: 1, Side: types.SideBuy, Price: 100, OriginalSize: 6, RemainingSize: 6, TIF: types.TIFFOK}
	fills, err := b.Place(fokOrder)
	if err != nil {
		t.Fatalf("expected FOK to succeed: %v", err)
	}
	if len(fills) != 1 || fills[0].Size != 6 {
		t.Fatalf("unexpected fills: %+v", fills)
	}
}

func TestSelfTradePreventionSkipsOwnOrders(t *testing.T) {
	b := New(1)
	owner := types.Address{0x01}
	other := types.Address{0x02}

	selfResting := &Order{ID: 1, Owner: owner, Market: 1, Side: types.SideSell, Price: 100, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFGTC}
	if _, err := b.Place(selfResting); err != nil {
		t.Fatalf("place self resting: %v", err)
	}
	otherResting := &Order{ID: 2, Owner: other, Market: 1, Side: types.SideSell, Price: 101, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFGTC}
	if _, err := b.Place(otherResting); err != nil {
		t.Fatalf("place other resting: %v", err)
	}

	taker := &Order{ID: 3, Owner: owner, Market: 1, Side: types.SideBuy, Price: 101, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFIOC}
	fills, err := b.Place(taker)
	if err != nil {
		t.Fatalf("place taker: %v", err)
	}
	if len(fills) != 1 || fills[0].Maker != 2 {
		t.Fatalf("expected taker to skip its own resting order and match the other owner's, got %+v", fills)
	}
}

func TestPostOnlyRejectedWhenWouldTake(t *testing.T) {
	b := New(1)
	maker := types.Address{0x01}
	taker := types.Address{0x02}

	resting := &Order{ID: 1, Owner: maker, Market: 1, Side: types.SideSell, Price: 100, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFGTC}
	if _, err := b.Place(resting); err != nil {
		t.Fatalf("place resting: %v", err)
	}

	postOnly := &Order{ID: 2, Owner: taker, Market: 1, Side: types.SideBuy, Price: 100, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFGTC, PostOnly: true}
	if _, err := b.Place(postOnly); err == nil {
		t.Fatalf("expected post-only order to be rejected")
	}
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	b := New(1)
	owner := types.Address{0x01}
	o := &Order{ID: 1, Owner: owner, Market: 1, Side: types.SideBuy, Price: 100, OriginalSize: 5, RemainingSize: 5, TIF: types.TIFGTC}
	if _, err := b.Place(o); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, ok := b.Cancel(1); !ok {
		t.Fatalf("expected cancel to succeed")
	}
	if _, ok := b.Get(1); ok {
		t.Fatalf("expected order removed after cancel")
	}
}

func TestPriceTimePriorityOrdersFIFOWithinLevel(t *testing.T) {
	b := New(1)
	maker1 := types.Address{0x01}
	maker2 := types.Address{0x02}
	taker := types.Address{0x03}

	first := &Order{ID: 1, Owner: maker1, Market: 1, Side: types.SideSell, Price: 100, OriginalSize: 3, RemainingSize: 3, TIF: types.TIFGTC}
	second := &Order{ID: 2, Owner: maker2, Market: 1, Side: types.SideSell, Price: 100, OriginalSize: 3, RemainingSize: 3, TIF: types.TIFGTC}
	if _, err := b.Place(first); err != nil {
		t.Fatalf("place first: %v", err)
	}
	if _, err := b.Place(second); err != nil {
		t.Fatalf("place second: %v", err)
	}

	takerOrder := &Order{ID: 3, Owner: taker, Market: 1, Side: types.SideBuy, Price: 100, OriginalSize: 4, RemainingSize: 4, TIF: types.TIFIOC}
	fills, err := b.Place(takerOrder)
	if err != nil {
		t.Fatalf("place taker: %v", err)
	}
	if len(fills) != 2 || fills[0].Maker != 1 || fills[1].Maker != 2 {
		t.Fatalf("expected FIFO priority (order 1 then order 2), got %+v", fills)
	}
	if fills[0].Size != 3 || fills[1].Size != 1 {
		t.Fatalf("unexpected fill sizes: %+v", fills)
	}
}
