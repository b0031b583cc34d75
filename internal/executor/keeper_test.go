package executor

import (
	"math/big"
	"testing"

	"github.com/dexcore/perpchain/internal/liquidation"
	"github.com/dexcore/perpchain/internal/position"
	"github.com/dexcore/perpchain/internal/types"
)

func TestUpdateFundingPersistsRateAndAdvancesIndex(t *testing.T) {
	mkt := sampleMarket()
	mkt.MaxFundingRateBps = 75
	s := genesis(t, mkt, nil, big.NewInt(0))
	exec := New(s, nil, nil)

	// The first update only records its timestamp (no time has elapsed
	// yet); the second, one full interval later, produces the rate.
	if _, err := exec.UpdateFunding(2, mkt.ID, 51_000, 50_000, 1_700_000_000); err != nil {
		t.Fatalf("first update funding: %v", err)
	}
	rate, err := exec.UpdateFunding(3, mkt.ID, 51_000, 50_000, 1_700_000_000+mkt.FundingIntervalSecs)
	if err != nil {
		t.Fatalf("update funding: %v", err)
	}
	if rate.CurrentBps <= 0 {
		t.Fatalf("expected a positive funding rate when mark > oracle, got %d", rate.CurrentBps)
	}
	if rate.Index.Sign() <= 0 {
		t.Fatalf("expected the cumulative funding index to advance, got %s", rate.Index)
	}

	height, _ := s.Head()
	if height != 3 {
		t.Fatalf("expected head height 3 after keeper commits, got %d", height)
	}
}

func TestLiquidateReducesUndercollateralizedPosition(t *testing.T) {
	mkt := sampleMarket()
	trader := newSigner(t)
	liquidator := newSigner(t)
	s := genesis(t, mkt, []types.Address{trader.Address(), liquidator.Address()}, big.NewInt(1_000_000_000))

	exec := New(s, nil, nil)
	if err := exec.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if err := s.BeginBlock(2); err != nil {
		t.Fatalf("begin block 2: %v", err)
	}
	p := position.Position{
		Owner:        trader.Address(),
		Market:       mkt.ID,
		Side:         types.SideBuy,
		Size:         1_000_000,
		EntryPrice:   50_000,
		Margin:       big.NewInt(2_500_000_000), // 5% of notional: above the 3% maintenance floor at entry, below it at 48,500
		FundingIndex: new(big.Int),
	}
	if err := position.Put(s, p); err != nil {
		t.Fatalf("put position: %v", err)
	}
	if _, err := s.Commit(2); err != nil {
		t.Fatalf("commit block 2: %v", err)
	}

	result, err := exec.Liquidate(3, mkt.ID, trader.Address(), 48_500, liquidator.Address(), liquidation.DefaultFeeSplit)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a liquidation result for an undercollateralized position")
	}
	if result.LiquidatedSize == 0 || result.LiquidatedSize > p.Size {
		t.Fatalf("unexpected liquidated size: %d", result.LiquidatedSize)
	}

	after, found, err := position.Get(s, trader.Address(), mkt.ID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if found && after.Size >= p.Size {
		t.Fatalf("expected position size to shrink after liquidation, before=%d after=%d", p.Size, after.Size)
	}
}

func TestLiquidateNoOpReturnsNilResult(t *testing.T) {
	mkt := sampleMarket()
	trader := newSigner(t)
	liquidator := newSigner(t)
	s := genesis(t, mkt, []types.Address{trader.Address(), liquidator.Address()}, big.NewInt(1_000_000_000))

	exec := New(s, nil, nil)
	if err := exec.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if err := s.BeginBlock(2); err != nil {
		t.Fatalf("begin block 2: %v", err)
	}
	p := position.Position{
		Owner:        trader.Address(),
		Market:       mkt.ID,
		Side:         types.SideBuy,
		Size:         1_000_000,
		EntryPrice:   50_000,
		Margin:       big.NewInt(3_000_000_000),
		FundingIndex: new(big.Int),
	}
	if err := position.Put(s, p); err != nil {
		t.Fatalf("put position: %v", err)
	}
	if _, err := s.Commit(2); err != nil {
		t.Fatalf("commit block 2: %v", err)
	}

	result, err := exec.Liquidate(3, mkt.ID, trader.Address(), 50_000, liquidator.Address(), liquidation.DefaultFeeSplit)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for a healthy position, got %+v", result)
	}
}
