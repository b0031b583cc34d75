package position

import (
	"math/big"

	"github.com/dexcore/perpchain/internal/account"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/types"
)

// CheckReduceOnly enforces the reduce-only constraint: reject if there is no
// open position, if the order is on the same side as the position, or if
// the order size exceeds the position size.
func CheckReduceOnly(existing Position, found bool, orderSide types.Side, orderSize uint64) error {
	if !found || existing.Size == 0 {
		return types.ErrReduceOnlyWouldIncrease
	}
	if orderSide == existing.Side {
		return types.ErrReduceOnlyWouldIncrease
	}
	if orderSize > existing.Size {
		return types.ErrReduceOnlyWouldIncrease
	}
	return nil
}

// isIncrease reports whether a fill of orderSize on orderSide would
// increase owner's existing position exposure (same side, or opening from
// flat) versus reduce it.
func isIncrease(existing Position, found bool, orderSide types.Side) bool {
	if !found || existing.Size == 0 {
		return true
	}
	return orderSide == existing.Side
}

// CheckMarginAdmission is the pre-trade admission check: required margin
// for the new order vs. available margin, and the leverage cap (the
// leverage cap is skipped for reduce-only orders and for pure market
// orders, since a market order's notional isn't known ahead of matching).
func CheckMarginAdmission(store *state.Store, owner types.Address, mkt market.Market, orderSide types.Side, orderSize, orderPrice uint64, reduceOnly, isMarketOrder bool) error {
	existing, found, err := Get(store, owner, mkt.ID)
	if err != nil {
		return err
	}

	orderNotional := Notional(orderSize, orderPrice)
	requiredMargin := RequiredMargin(orderNotional, mkt.InitialMarginBps)

	if reduceOnly {
		return nil
	}

	if !isIncrease(existing, found, orderSide) {
		// Reducing: no new margin required (freed proportionally on fill).
		return nil
	}

	balance, err := account.GetBalance(store, owner, mkt.QuoteAsset)
	if err != nil {
		return err
	}
	lockedInMarket := new(big.Int)
	if found {
		lockedInMarket = existing.Margin
	}
	available := new(big.Int).Sub(balance, lockedInMarket)
	if available.Sign() < 0 {
		available = new(big.Int)
	}

	if requiredMargin.Cmp(available) > 0 {
		return types.ErrInsufficientMargin
	}

	if !reduceOnly && !isMarketOrder {
		if requiredMargin.Sign() == 0 {
			return types.ErrInsufficientMargin
		}
		maxLeverage := new(big.Int).SetUint64(uint64(mkt.MaxLeverage))
		limit := new(big.Int).Mul(requiredMargin, maxLeverage)
		if orderNotional.Cmp(limit) > 0 {
			return types.ErrLeverageTooHigh
		}
	}
	return nil
}

// CheckWithdrawalAdmission is the withdrawal admission check: reject if
// amount exceeds balance minus total margin locked across every position
// the owner holds in this asset.
func CheckWithdrawalAdmission(store *state.Store, owner types.Address, asset types.AssetID, amount *big.Int, lockedMargin *big.Int) error {
	balance, err := account.GetBalance(store, owner, asset)
	if err != nil {
		return err
	}
	available := new(big.Int).Sub(balance, lockedMargin)
	if available.Sign() < 0 {
		available = new(big.Int)
	}
	if amount.Cmp(available) > 0 {
		return types.ErrInsufficientBalance
	}
	return nil
}
