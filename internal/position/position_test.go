package position

import (
	"math/big"
	"testing"

	"github.com/dexcore/perpchain/internal/account"
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
		ID:                   1,
		Symbol:               "BTC-PERP",
		BaseAsset:            1,
		QuoteAsset:           0,
		TickSize:             1,
		MinOrderSize:         1,
		MaxOrderSize:         1_000_000,
		MaxLeverage:          20,
		InitialMarginBps:     500,
		MaintenanceMarginBps: 300,
		LiquidationFeeBps:    50,
		FundingIntervalSecs:  3600,
	}
}

func TestApplyFillOpensPositionWithMargin(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	mkt := sampleMarket()

	_, _, final, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideBuy, 10, 50_000, mkt.InitialMarginBps)
	if err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	if final.Size != 10 || final.EntryPrice != 50_000 || final.Side != types.SideBuy {
		t.Fatalf("unexpected position after open: %+v", final)
	}
	wantMargin := RequiredMargin(Notional(10, 50_000), mkt.InitialMarginBps)
	if final.Margin.Cmp(wantMargin) != 0 {
		t.Fatalf("expected margin %s, got %s", wantMargin, final.Margin)
	}
}

func TestApplyFillVWAPOnIncrease(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	mkt := sampleMarket()

	if _, _, _, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideBuy, 10, 50_000, mkt.InitialMarginBps); err != nil {
		t.Fatalf("apply fill 1: %v", err)
	}
	_, _, final, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideBuy, 10, 60_000, mkt.InitialMarginBps)
	if err != nil {
		t.Fatalf("apply fill 2: %v", err)
	}
	if final.Size != 20 {
		t.Fatalf("expected size 20, got %d", final.Size)
	}
	if final.EntryPrice != 55_000 {
		t.Fatalf("expected VWAP entry price 55000, got %d", final.EntryPrice)
	}
}

func TestApplyFillReducesAndScalesMarginProportionally(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	mkt := sampleMarket()

	_, _, opened, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideBuy, 10, 50_000, mkt.InitialMarginBps)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _, reduced, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideSell, 4, 51_000, mkt.InitialMarginBps)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if reduced.Size != 6 {
		t.Fatalf("expected size 6 after reducing by 4, got %d", reduced.Size)
	}
	wantMargin := scaleMarginForReduction(opened.Margin, 10, 6)
	if reduced.Margin.Cmp(wantMargin) != 0 {
		t.Fatalf("expected proportionally scaled margin %s, got %s", wantMargin, reduced.Margin)
	}
}

func TestApplyFillFlipsDirection(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	mkt := sampleMarket()

	if _, _, _, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideBuy, 10, 50_000, mkt.InitialMarginBps); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _, flipped, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideSell, 15, 48_000, mkt.InitialMarginBps)
	if err != nil {
		t.Fatalf("flip: %v", err)
	}
	if flipped.Side != types.SideSell || flipped.Size != 5 || flipped.EntryPrice != 48_000 {
		t.Fatalf("unexpected flipped position: %+v", flipped)
	}
}

func TestApplyFillFullyClosesAndDeletesPosition(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	mkt := sampleMarket()

	if _, _, _, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideBuy, 10, 50_000, mkt.InitialMarginBps); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _, closed, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideSell, 10, 52_000, mkt.InitialMarginBps)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Size != 0 {
		t.Fatalf("expected position fully closed, got size %d", closed.Size)
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_, found, err := Get(s, owner, mkt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatalf("expected no position entity persisted after full close")
	}
}

func TestPnLLongProfitAndLoss(t *testing.T) {
	p := Position{Side: types.SideBuy, Size: 10, EntryPrice: 50_000, Margin: big.NewInt(50_000)}
	mag, isProfit := p.PnL(55_000)
	if !isProfit || mag.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("expected profit 50000, got %s profit=%v", mag, isProfit)
	}
	mag, isProfit = p.PnL(45_000)
	if isProfit || mag.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("expected loss 50000, got %s profit=%v", mag, isProfit)
	}
}

func TestEquitySaturatesAtZero(t *testing.T) {
	p := Position{Side: types.SideBuy, Size: 10, EntryPrice: 50_000, Margin: big.NewInt(1000)}
	eq := p.Equity(10_000) // huge loss
	if eq.Sign() != 0 {
		t.Fatalf("expected equity to saturate at zero, got %s", eq)
	}
}

func TestCheckReduceOnlyRejectsWhenNoPosition(t *testing.T) {
	if err := CheckReduceOnly(Position{}, false, types.SideSell, 5); err == nil {
		t.Fatalf("expected reduce-only rejection with no position")
	}
}

func TestCheckMarginAdmissionRejectsInsufficientMargin(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	mkt := sampleMarket()
	if err := account.Credit(s, owner, mkt.QuoteAsset, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := CheckMarginAdmission(s, owner, mkt, types.SideBuy, 10, 50_000, false, false)
	if err == nil {
		t.Fatalf("expected insufficient margin rejection")
	}
}

func TestCheckMarginAdmissionAcceptsWithinLeverage(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	mkt := sampleMarket()
	if err := account.Credit(s, owner, mkt.QuoteAsset, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := CheckMarginAdmission(s, owner, mkt, types.SideBuy, 10, 50_000, false, false); err != nil {
		t.Fatalf("expected admission to succeed, got %v", err)
	}
}

func TestListInMarketReturnsEveryOpenPosition(t *testing.T) {
	s := openTestStore(t)
	mkt := sampleMarket()
	a := types.Address{0x01}
	b := types.Address{0x02}

	if _, _, _, err := ApplyFill(s, a, mkt.ID, mkt, types.SideBuy, 10, 50_000, mkt.InitialMarginBps); err != nil {
		t.Fatalf("apply fill a: %v", err)
	}
	if _, _, _, err := ApplyFill(s, b, mkt.ID, mkt, types.SideSell, 5, 50_000, mkt.InitialMarginBps); err != nil {
		t.Fatalf("apply fill b: %v", err)
	}

	positions, err := ListInMarket(s, mkt.ID)
	if err != nil {
		t.Fatalf("list in market: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 open positions, got %d", len(positions))
	}
}

func TestListInMarketDropsFullyClosedOwnersFromIndex(t *testing.T) {
	s := openTestStore(t)
	mkt := sampleMarket()
	owner := types.Address{0x01}

	if _, _, _, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideBuy, 10, 50_000, mkt.InitialMarginBps); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, _, _, err := ApplyFill(s, owner, mkt.ID, mkt, types.SideSell, 10, 50_000, mkt.InitialMarginBps); err != nil {
		t.Fatalf("close: %v", err)
	}

	positions, err := ListInMarket(s, mkt.ID)
	if err != nil {
		t.Fatalf("list in market: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected no positions after full close, got %d", len(positions))
	}
}
