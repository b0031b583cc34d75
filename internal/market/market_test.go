package market

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

func sampleMarket(id types.MarketID) Market {
	return Market{
		ID:                   id,
		Symbol:               "BTC-PERP",
		BaseAsset:            1,
		QuoteAsset:           0,
		TickSize:             100,
		PriceDecimals:        2,
		SizeDecimals:         4,
		MinOrderSize:         1,
		MaxOrderSize:         1_000_000,
		MaxLeverage:          20,
		InitialMarginBps:     500,
		MaintenanceMarginBps: 300,
		LiquidationFeeBps:    50,
		FundingIntervalSecs:  3600,
		MaxFundingRateBps:    75,
	}
}

func TestValidateRejectsBadMarginOrdering(t *testing.T) {
	m := sampleMarket(1)
	m.InitialMarginBps = 200
	m.MaintenanceMarginBps = 300
	if err := m.Validate(); err == nil {
		t.Fatalf("expected validation error when initial margin <= maintenance margin")
	}
}

func TestPutGetMarketRoundTrip(t *testing.T) {
	s := openTestStore(t)
	m := sampleMarket(1)
	if err := PutMarket(s, m); err != nil {
		t.Fatalf("put market: %v", err)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, found, err := GetMarket(s, 1)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if !found {
		t.Fatalf("expected market 1 to be found")
	}
	if got.Symbol != m.Symbol || got.TickSize != m.TickSize || got.MaxLeverage != m.MaxLeverage {
		t.Fatalf("round-tripped market mismatch: got %+v, want %+v", got, m)
	}
}

func TestListMarketsReturnsAllRegistered(t *testing.T) {
	s := openTestStore(t)
	if err := PutMarket(s, sampleMarket(2)); err != nil {
		t.Fatalf("put market 2: %v", err)
	}
	if err := PutMarket(s, sampleMarket(1)); err != nil {
		t.Fatalf("put market 1: %v", err)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	markets, err := ListMarkets(s)
	if err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}
	if markets[0].ID != 1 || markets[1].ID != 2 {
		t.Fatalf("expected markets sorted by ID, got %d, %d", markets[0].ID, markets[1].ID)
	}
}

func TestAlignToTick(t *testing.T) {
	m := sampleMarket(1)
	if !m.AlignToTick(500) {
		t.Fatalf("expected 500 to align to tick size 100")
	}
	if m.AlignToTick(550) {
		t.Fatalf("expected 550 to not align to tick size 100")
	}
}

func TestMustGetMarketReturnsSentinelOnMiss(t *testing.T) {
	s := openTestStore(t)
	if _, err := MustGetMarket(s, 99); err == nil {
		t.Fatalf("expected error for unknown market")
	}
}

func TestAssetRoundTripAndCollateralWeightBound(t *testing.T) {
	s := openTestStore(t)
	a := Asset{ID: 0, Symbol: "USDC", Name: "USD Coin", Decimals: 6, IsCollateral: true, CollateralWeightBps: 10_000}
	if err := PutAsset(s, a); err != nil {
		t.Fatalf("put asset: %v", err)
	}
	bad := Asset{ID: 1, Symbol: "X", CollateralWeightBps: 10_001}
	if err := PutAsset(s, bad); err == nil {
		t.Fatalf("expected error for collateral weight over 10000 bps")
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, found, err := GetAsset(s, 0)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if !found || got.Symbol != "USDC" || !got.IsCollateral {
		t.Fatalf("unexpected asset after round trip: %+v", got)
	}
}
