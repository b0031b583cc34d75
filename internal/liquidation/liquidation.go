// Package liquidation implements the margin-trigger check, the
// pre-liquidation order-cancellation step, partial liquidation sizing, fee
// split, insurance fund settlement, and auto-deleveraging for positions
// that fall below a market's maintenance margin requirement.
package liquidation

import (
	"fmt"
	"math/big"

	"github.com/dexcore/perpchain/internal/account"
	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/orderbook"
	"github.com/dexcore/perpchain/internal/position"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

// MarginBufferBps is added to maintenance_margin_bps to compute the target
// margin ratio a partial liquidation restores to, so a position isn't left
// sitting exactly at the liquidation threshold.
const MarginBufferBps = 200

// MinLiquidationFraction is the denominator of the size floor a partial
// liquidation is clamped above: max(position_size / MinLiquidationFraction,
// min_order_size).
const MinLiquidationFraction = 10

// DefaultFeeSplit is the 50/50 liquidator/insurance-fund split used when a
// market has no governance-configured override.
var DefaultFeeSplit = FeeSplit{LiquidatorBps: 5000, InsuranceBps: 5000}

// FeeSplit divides the liquidation fee between the liquidator's reward and
// the insurance fund's contribution. Must sum to types.BasisPoints.
type FeeSplit struct {
	LiquidatorBps uint32
	InsuranceBps  uint32
}

// Validate enforces that the split sums to exactly 10000 bps. This is
// governance configuration, not a transaction outcome, so an invalid split
// is surfaced as a plain error rather than a panic.
func (f FeeSplit) Validate() error {
	if uint64(f.LiquidatorBps)+uint64(f.InsuranceBps) != uint64(types.BasisPoints) {
		return fmt.Errorf("%w: fee split must sum to %d bps, got %d+%d", types.ErrInvalidMarketSpec, types.BasisPoints, f.LiquidatorBps, f.InsuranceBps)
	}
	return nil
}

// Fund is a market's insurance pool, funded by liquidation fees and drawn
// down to cover shortfalls when a liquidated position's remaining equity
// can't cover the liquidation fee.
type Fund struct {
	Market             types.MarketID
	Balance            *big.Int
	TotalContributions *big.Int
	TotalPayouts       *big.Int
}

func encodeFund(f Fund) ([]byte, error) {
	w := codec.NewWriter()
	if err := w.PutU128(f.Balance); err != nil {
		return nil, err
	}
	if err := w.PutU128(f.TotalContributions); err != nil {
		return nil, err
	}
	if err := w.PutU128(f.TotalPayouts); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func decodeFund(marketID types.MarketID, b []byte) (Fund, error) {
	r := codec.NewReader(b)
	f := Fund{Market: marketID}
	var err error
	if f.Balance, err = r.U128(); err != nil {
		return f, err
	}
	if f.TotalContributions, err = r.U128(); err != nil {
		return f, err
	}
	if f.TotalPayouts, err = r.U128(); err != nil {
		return f, err
	}
	return f, nil
}

// GetFund loads the insurance fund for marketID, or a zero-valued Fund if
// it has never received a contribution.
func GetFund(store *state.Store, marketID types.MarketID) (Fund, error) {
	val, found, err := store.Get(statekey.InsuranceFund{Market: marketID})
	if err != nil {
		return Fund{}, fmt.Errorf("liquidation: get fund: %w", err)
	}
	if !found {
		return Fund{Market: marketID, Balance: new(big.Int), TotalContributions: new(big.Int), TotalPayouts: new(big.Int)}, nil
	}
	f, err := decodeFund(marketID, val)
	if err != nil {
		return Fund{}, fmt.Errorf("liquidation: decode fund: %w", err)
	}
	return f, nil
}

func putFund(store *state.Store, f Fund) error {
	enc, err := encodeFund(f)
	if err != nil {
		return fmt.Errorf("liquidation: encode fund: %w", err)
	}
	store.Set(statekey.InsuranceFund{Market: f.Market}, enc)
	return nil
}

// IsHealthy reports whether the fund's balance meets minInsuranceRatioBps
// of totalPositionsValue.
func (f Fund) IsHealthy(totalPositionsValue *big.Int, minInsuranceRatioBps uint32) bool {
	required := new(big.Int).Mul(totalPositionsValue, big.NewInt(int64(minInsuranceRatioBps)))
	required.Quo(required, big.NewInt(types.BasisPoints))
	return f.Balance.Cmp(required) >= 0
}

// notionalAtMark and requiredMaintenanceMargin compute the two sides of the
// liquidation trigger formula.
func notionalAtMark(size, markPrice uint64) *big.Int {
	return position.Notional(size, markPrice)
}

func requiredMaintenanceMargin(notional *big.Int, maintenanceMarginBps uint32) *big.Int {
	return position.RequiredMargin(notional, maintenanceMarginBps)
}

// MarginRatioBps computes equity / notional_at_mark in basis points,
// saturating to the uint32 max for a zero-notional (flat) position.
func MarginRatioBps(p position.Position, markPrice uint64) uint32 {
	if p.Size == 0 {
		return ^uint32(0)
	}
	notional := notionalAtMark(p.Size, markPrice)
	if notional.Sign() == 0 {
		return ^uint32(0)
	}
	equity := p.Equity(markPrice)
	ratio := new(big.Int).Mul(equity, big.NewInt(types.BasisPoints))
	ratio.Quo(ratio, notional)
	if !ratio.IsUint64() || ratio.Uint64() > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ratio.Uint64())
}

// ShouldLiquidate reports whether p is liquidatable at markPrice: its
// equity has fallen below the market's required maintenance margin.
func ShouldLiquidate(p position.Position, markPrice uint64, mkt market.Market) bool {
	if p.Size == 0 {
		return false
	}
	notional := notionalAtMark(p.Size, markPrice)
	required := requiredMaintenanceMargin(notional, mkt.MaintenanceMarginBps)
	return p.Equity(markPrice).Cmp(required) < 0
}

// CancelTraderOrders removes every active resting order owned by trader in
// book, marking each Cancelled in persisted state. Liquidation always
// clears a trader's resting orders before sizing the liquidation, so stale
// orders can't interact with the liquidated position.
func CancelTraderOrders(store *state.Store, book *orderbook.Book, trader types.Address) ([]types.OrderID, error) {
	cancelled := book.CancelAllForOwner(trader)
	ids := make([]types.OrderID, 0, len(cancelled))
	for _, o := range cancelled {
		persisted, found, err := orderbook.GetOrder(store, o.ID)
		createdVersion := uint64(0)
		if err != nil {
			return nil, err
		}
		if found {
			createdVersion = persisted.CreatedVersion
		}
		if err := orderbook.PutOrder(store, *o, types.OrderCancelled, createdVersion); err != nil {
			return nil, err
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// CalculatePartialLiquidationSize computes the smallest position reduction
// that restores the position's margin ratio to maintenance_margin_bps plus
// MarginBufferBps, clamped to [min_order_size, position.Size] and rounded
// up to the full position when the remainder would be dust.
func CalculatePartialLiquidationSize(p position.Position, markPrice uint64, mkt market.Market) (uint64, error) {
	if markPrice == 0 {
		return p.Size, nil
	}
	if p.Size == 0 {
		return 0, nil
	}

	targetMarginRatio := uint64(mkt.MaintenanceMarginBps) + MarginBufferBps
	positionValue := notionalAtMark(p.Size, markPrice)
	if positionValue.Sign() == 0 {
		return 0, nil
	}

	equity := p.Equity(markPrice)
	requiredEquity := new(big.Int).Mul(positionValue, new(big.Int).SetUint64(targetMarginRatio))
	requiredEquity.Quo(requiredEquity, big.NewInt(types.BasisPoints))

	if equity.Cmp(requiredEquity) >= 0 {
		return 0, nil
	}

	deficit := new(big.Int).Sub(requiredEquity, equity)
	if deficit.Sign() < 0 {
		deficit = new(big.Int)
	}

	denom := new(big.Int).Mul(new(big.Int).SetUint64(markPrice), new(big.Int).Add(big.NewInt(types.BasisPoints), big.NewInt(int64(mkt.LiquidationFeeBps))))
	if denom.Sign() == 0 {
		return 0, fmt.Errorf("%w: liquidation size denominator is zero", types.ErrDivisionByZero)
	}
	rawSize := new(big.Int).Mul(deficit, big.NewInt(types.BasisPoints))
	rawSize.Quo(rawSize, denom)
	if !rawSize.IsUint64() {
		return p.Size, nil
	}
	liquidationSizeRaw := rawSize.Uint64()

	minLiquidation := p.Size / MinLiquidationFraction
	if mkt.MinOrderSize > minLiquidation {
		minLiquidation = mkt.MinOrderSize
	}
	maxLiquidation := p.Size

	liquidationSize := liquidationSizeRaw
	if liquidationSize < minLiquidation {
		liquidationSize = minLiquidation
	}
	if liquidationSize > maxLiquidation {
		liquidationSize = maxLiquidation
	}

	if liquidationSize < mkt.MinOrderSize && p.Size > mkt.MinOrderSize {
		if mkt.MinOrderSize < p.Size {
			return mkt.MinOrderSize, nil
		}
		return p.Size, nil
	}

	var remaining uint64
	if p.Size > liquidationSize {
		remaining = p.Size - liquidationSize
	}
	if remaining > 0 && remaining < mkt.MinOrderSize {
		return p.Size, nil
	}

	return liquidationSize, nil
}

// Result is the outcome of one Liquidate call, the record a
// PositionLiquidated event is built from.
type Result struct {
	Trader                  types.Address
	Market                  types.MarketID
	LiquidatedSize          uint64
	LiquidationPrice        uint64
	LiquidationFee          *big.Int
	RemainingEquity         *big.Int
	Liquidator              types.Address
	LiquidatorReward        *big.Int
	InsuranceFundContribution *big.Int
	InsuranceFundUsage      *big.Int
}

// Liquidate runs the full single-position liquidation pipeline: trigger
// re-check, pre-liquidation cancellation, partial/full sizing, fee split,
// insurance-fund settlement, and position/balance updates. Returns nil,
// nil if the position no longer meets the liquidation threshold (a
// harmless no-op the caller can treat as "skip").
func Liquidate(store *state.Store, book *orderbook.Book, mkt market.Market, trader types.Address, markPrice uint64, liquidator types.Address, split FeeSplit) (*Result, error) {
	if markPrice == 0 {
		return nil, fmt.Errorf("%w: cannot liquidate at zero mark price", types.ErrInvalidMarkPrice)
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}

	p, found, err := position.Get(store, trader, mkt.ID)
	if err != nil {
		return nil, err
	}
	if !found || p.Size == 0 {
		return nil, nil
	}
	if !ShouldLiquidate(p, markPrice, mkt) {
		return nil, nil
	}

	liquidationPrice := markPrice
	if mkt.TickSize > 0 {
		liquidationPrice = markPrice - (markPrice % mkt.TickSize)
	}

	if _, err := CancelTraderOrders(store, book, trader); err != nil {
		return nil, err
	}

	// Re-read: cancellation does not change the position, but re-reading
	// keeps this call robust to callers that fold cancellation margin
	// effects into position state in a future revision.
	p, found, err = position.Get(store, trader, mkt.ID)
	if err != nil {
		return nil, err
	}
	if !found || p.Size == 0 {
		return nil, nil
	}

	liquidationSize, err := CalculatePartialLiquidationSize(p, liquidationPrice, mkt)
	if err != nil {
		return nil, err
	}
	if liquidationSize == 0 {
		liquidationSize = p.Size
	}

	liquidationValue := notionalAtMark(liquidationSize, liquidationPrice)
	liquidationFee := new(big.Int).Mul(liquidationValue, big.NewInt(int64(mkt.LiquidationFeeBps)))
	liquidationFee.Quo(liquidationFee, big.NewInt(types.BasisPoints))

	liquidatorReward := new(big.Int).Mul(liquidationFee, big.NewInt(int64(split.LiquidatorBps)))
	liquidatorReward.Quo(liquidatorReward, big.NewInt(types.BasisPoints))

	insuranceContribution := new(big.Int).Mul(liquidationFee, big.NewInt(int64(split.InsuranceBps)))
	insuranceContribution.Quo(insuranceContribution, big.NewInt(types.BasisPoints))

	equity := p.Equity(liquidationPrice)

	remainingEquity := new(big.Int)
	if equity.Cmp(liquidationFee) >= 0 {
		remainingEquity.Sub(equity, liquidationFee)
	}

	fund, err := GetFund(store, mkt.ID)
	if err != nil {
		return nil, err
	}

	insuranceFundUsage := new(big.Int)
	if equity.Cmp(liquidationFee) < 0 {
		shortfall := new(big.Int).Sub(liquidationFee, equity)
		if fund.Balance.Cmp(shortfall) >= 0 {
			fund.Balance.Sub(fund.Balance, shortfall)
			fund.TotalPayouts.Add(fund.TotalPayouts, shortfall)
			insuranceFundUsage = shortfall
		} else {
			covered := new(big.Int).Set(fund.Balance)
			fund.Balance = new(big.Int)
			fund.TotalPayouts.Add(fund.TotalPayouts, covered)
			insuranceFundUsage = covered
		}
		remainingEquity = new(big.Int)
	}

	if liquidationSize >= p.Size {
		if err := position.Delete(store, trader, mkt.ID); err != nil {
			return nil, err
		}
	} else {
		reduceSize := p.Size - liquidationSize
		scaled := new(big.Int).Mul(p.Margin, new(big.Int).SetUint64(liquidationSize))
		scaled.Quo(scaled, new(big.Int).SetUint64(p.Size))
		updated := position.Position{
			Owner:        trader,
			Market:       mkt.ID,
			Side:         p.Side,
			Size:         reduceSize,
			EntryPrice:   p.EntryPrice,
			Margin:       new(big.Int).Sub(p.Margin, scaled),
			FundingIndex: p.FundingIndex,
		}
		if updated.Margin.Sign() < 0 {
			updated.Margin = new(big.Int)
		}
		if err := position.Put(store, updated); err != nil {
			return nil, err
		}
	}

	if liquidatorReward.Sign() > 0 {
		if err := account.Credit(store, liquidator, mkt.QuoteAsset, liquidatorReward); err != nil {
			return nil, err
		}
	}

	fund.Balance.Add(fund.Balance, insuranceContribution)
	fund.TotalContributions.Add(fund.TotalContributions, insuranceContribution)
	if err := putFund(store, fund); err != nil {
		return nil, err
	}

	if remainingEquity.Sign() > 0 {
		if err := account.Credit(store, trader, mkt.QuoteAsset, remainingEquity); err != nil {
			return nil, err
		}
	}

	return &Result{
		Trader:                  trader,
		Market:                  mkt.ID,
		LiquidatedSize:          liquidationSize,
		LiquidationPrice:        liquidationPrice,
		LiquidationFee:          liquidationFee,
		RemainingEquity:         remainingEquity,
		Liquidator:              liquidator,
		LiquidatorReward:        liquidatorReward,
		InsuranceFundContribution: insuranceContribution,
		InsuranceFundUsage:      insuranceFundUsage,
	}, nil
}

// ProcessBatch consumes up to maxLiquidations at-risk candidates (ranked by
// the risk index, most-at-risk first) and liquidates each in turn.
func ProcessBatch(store *state.Store, book *orderbook.Book, mkt market.Market, markPrice uint64, liquidator types.Address, split FeeSplit, maxLiquidations int) ([]Result, error) {
	index, err := RebuildRiskIndex(store, mkt.ID, markPrice)
	if err != nil {
		return nil, err
	}
	candidates := index.AtRisk(mkt.MaintenanceMarginBps)

	var results []Result
	for i := 0; i < len(candidates) && len(results) < maxLiquidations; i++ {
		result, err := Liquidate(store, book, mkt, candidates[i].Trader, markPrice, liquidator, split)
		if err != nil {
			return results, err
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, nil
}
