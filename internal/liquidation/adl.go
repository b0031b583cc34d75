package liquidation

import (
	"math/big"
	"sort"

	"github.com/dexcore/perpchain/internal/position"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/types"
)

// Candidate is a profitable counterparty eligible for auto-deleveraging,
// ranked by ProfitScore (unrealized PnL * leverage), highest first.
type Candidate struct {
	Trader         types.Address
	PositionSize   uint64
	UnrealizedPnL  *big.Int
	ProfitScore    *big.Int // signed; only positive-PnL positions are candidates, so always >= 0 in practice
}

// FindADLCandidates scans every open position in marketID and returns the
// profitable ones as ADL candidates, unsorted.
func FindADLCandidates(store *state.Store, marketID types.MarketID, markPrice uint64) ([]Candidate, error) {
	positions, err := position.ListInMarket(store, marketID)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		pnl, isProfit := p.PnL(markPrice)
		if !isProfit {
			continue
		}

		notional := notionalAtMark(p.Size, markPrice)
		equity := p.Equity(markPrice)

		var leverage *big.Int
		if equity.Sign() > 0 {
			leverage = new(big.Int).Mul(notional, big.NewInt(types.BasisPoints))
			leverage.Quo(leverage, equity)
		} else {
			leverage = new(big.Int).SetUint64(^uint64(0))
		}

		profitScore := new(big.Int).Mul(pnl, leverage)

		candidates = append(candidates, Candidate{
			Trader:        p.Owner,
			PositionSize:  p.Size,
			UnrealizedPnL: pnl,
			ProfitScore:   profitScore,
		})
	}
	return candidates, nil
}

// Deleveraged records one ADL execution's outcome.
type Deleveraged struct {
	Trader types.Address
	Size   uint64
}

// AutoDeleverage ranks profitable counterparties by ProfitScore and
// partially (or fully) closes them in priority order until requiredAmount
// notional has been absorbed.
func AutoDeleverage(store *state.Store, marketID types.MarketID, requiredAmount *big.Int, markPrice uint64) ([]Deleveraged, error) {
	candidates, err := FindADLCandidates(store, marketID, markPrice)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ProfitScore.Cmp(candidates[j].ProfitScore) > 0
	})

	var deleveraged []Deleveraged
	collected := new(big.Int)

	for _, c := range candidates {
		if collected.Cmp(requiredAmount) >= 0 {
			break
		}

		positionValue := notionalAtMark(c.PositionSize, markPrice)

		remaining := new(big.Int).Sub(requiredAmount, collected)
		var size uint64
		if new(big.Int).Add(collected, positionValue).Cmp(requiredAmount) > 0 {
			scaled := new(big.Int).Mul(remaining, new(big.Int).SetUint64(c.PositionSize))
			scaled.Quo(scaled, positionValue)
			size = scaled.Uint64()
			if size > c.PositionSize {
				size = c.PositionSize
			}
		} else {
			size = c.PositionSize
		}
		if size == 0 {
			continue
		}

		if err := executeADL(store, marketID, c.Trader, size); err != nil {
			return deleveraged, err
		}

		collected.Add(collected, notionalAtMark(size, markPrice))
		deleveraged = append(deleveraged, Deleveraged{Trader: c.Trader, Size: size})
	}

	return deleveraged, nil
}

// executeADL reduces (or fully closes) a position by size, scaling margin
// proportionally — the same update rule as a partial liquidation.
func executeADL(store *state.Store, marketID types.MarketID, trader types.Address, size uint64) error {
	p, found, err := position.Get(store, trader, marketID)
	if err != nil {
		return err
	}
	if !found || p.Size == 0 {
		return types.ErrPositionNotFound
	}

	if size >= p.Size {
		return position.Delete(store, trader, marketID)
	}

	reduceSize := p.Size - size
	scaled := new(big.Int).Mul(p.Margin, new(big.Int).SetUint64(size))
	scaled.Quo(scaled, new(big.Int).SetUint64(p.Size))
	updated := position.Position{
		Owner:        trader,
		Market:       marketID,
		Side:         p.Side,
		Size:         reduceSize,
		EntryPrice:   p.EntryPrice,
		Margin:       new(big.Int).Sub(p.Margin, scaled),
		FundingIndex: p.FundingIndex,
	}
	if updated.Margin.Sign() < 0 {
		updated.Margin = new(big.Int)
	}
	return position.Put(store, updated)
}
