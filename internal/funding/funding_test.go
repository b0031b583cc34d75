package funding

import (
	"math/big"
	"testing"

	"github.com/dexcore/perpchain/internal/market"
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

func sampleMarket() market.Market {
	return market.Market{
		ID:                  1,
		FundingIntervalSecs: 28_800,
		MaxFundingRateBps:   1000,
	}
}

func TestUpdateRatePositiveWhenMarkAboveOracle(t *testing.T) {
	s := openTestStore(t)
	mkt := sampleMarket()

	rate, err := UpdateRate(s, mkt, 51_000, 50_000, 1000)
	if err != nil {
		t.Fatalf("update rate: %v", err)
	}
	if rate.CurrentBps < 0 {
		t.Fatalf("expected positive funding rate when mark > oracle, got %d", rate.CurrentBps)
	}
	// First update has no elapsed time (last_update starts at 0), so the
	// scaled rate is zero regardless of premium sign.
	if rate.CurrentBps != 0 {
		t.Fatalf("expected zero scaled rate on first update (no elapsed time), got %d", rate.CurrentBps)
	}
}

func TestUpdateRateScalesByElapsedOverInterval(t *testing.T) {
	s := openTestStore(t)
	mkt := sampleMarket()

	if _, err := UpdateRate(s, mkt, 51_000, 50_000, 1000); err != nil {
		t.Fatalf("first update: %v", err)
	}
	rate, err := UpdateRate(s, mkt, 51_000, 50_000, 1000+mkt.FundingIntervalSecs)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if rate.CurrentBps <= 0 {
		t.Fatalf("expected positive funding rate after a full interval elapsed, got %d", rate.CurrentBps)
	}
	if rate.Index.Sign() <= 0 {
		t.Fatalf("expected cumulative index to advance positively, got %s", rate.Index)
	}
}

func TestUpdateRateClampsToMaxFundingRate(t *testing.T) {
	s := openTestStore(t)
	mkt := sampleMarket()
	mkt.MaxFundingRateBps = 10

	if _, err := UpdateRate(s, mkt, 100_000, 50_000, 1000); err != nil {
		t.Fatalf("first update: %v", err)
	}
	rate, err := UpdateRate(s, mkt, 100_000, 50_000, 1000+mkt.FundingIntervalSecs)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if rate.CurrentBps > mkt.MaxFundingRateBps {
		t.Fatalf("expected rate clamped to %d, got %d", mkt.MaxFundingRateBps, rate.CurrentBps)
	}
}

func TestUpdateRateRejectsZeroOracle(t *testing.T) {
	s := openTestStore(t)
	mkt := sampleMarket()
	if _, err := UpdateRate(s, mkt, 51_000, 0, 1000); err == nil {
		t.Fatalf("expected error for zero oracle price")
	}
}

func TestPaymentLongsPayWhenIndexIncreases(t *testing.T) {
	amount, paying := Payment(100, true, big.NewInt(1000), big.NewInt(1100))
	if amount.Sign() <= 0 {
		t.Fatalf("expected nonzero payment, got %s", amount)
	}
	if !paying {
		t.Fatalf("expected long position to pay when index increases")
	}
}

func TestPaymentShortsReceiveWhenIndexIncreases(t *testing.T) {
	amount, paying := Payment(100, false, big.NewInt(1000), big.NewInt(1100))
	if amount.Sign() <= 0 {
		t.Fatalf("expected nonzero payment, got %s", amount)
	}
	if paying {
		t.Fatalf("expected short position to receive when index increases")
	}
}

func TestPaymentZeroWhenIndexUnchanged(t *testing.T) {
	amount, _ := Payment(100, true, big.NewInt(500), big.NewInt(500))
	if amount.Sign() != 0 {
		t.Fatalf("expected zero payment for unchanged index, got %s", amount)
	}
}
