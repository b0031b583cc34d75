// Package funding implements the per-market funding rate update and
// per-position funding payment calculation: a premium/clamp/scale/sign
// pipeline that advances a cumulative funding index each time it runs,
// using big.Int for the signed 128-bit cumulative index and explicit
// error returns throughout.
package funding

import (
	"fmt"
	"math/big"

	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

// Rate is the persisted per-market funding state.
type Rate struct {
	Market      types.MarketID
	CurrentBps  int64 // signed, basis points per interval
	LastUpdate  uint64
	Index       *big.Int // signed 128-bit, basis-point-seconds
	MarkPrice   uint64
	OraclePrice uint64
}

func encode(r Rate) ([]byte, error) {
	w := codec.NewWriter()
	w.PutI64(r.CurrentBps)
	w.PutU64(r.LastUpdate)
	if err := w.PutI128(r.Index); err != nil {
		return nil, err
	}
	w.PutU64(r.MarkPrice)
	w.PutU64(r.OraclePrice)
	return w.Bytes(), nil
}

func decode(market types.MarketID, b []byte) (Rate, error) {
	r := codec.NewReader(b)
	rate := Rate{Market: market}
	var err error
	if rate.CurrentBps, err = r.I64(); err != nil {
		return rate, err
	}
	if rate.LastUpdate, err = r.U64(); err != nil {
		return rate, err
	}
	if rate.Index, err = r.I128(); err != nil {
		return rate, err
	}
	if rate.MarkPrice, err = r.U64(); err != nil {
		return rate, err
	}
	if rate.OraclePrice, err = r.U64(); err != nil {
		return rate, err
	}
	return rate, nil
}

// Get loads the persisted funding state for market, or a zero-valued Rate
// (index 0, last_update 0) if funding has never been updated for it.
func Get(store *state.Store, marketID types.MarketID) (Rate, error) {
	val, found, err := store.Get(statekey.FundingRate{Market: marketID})
	if err != nil {
		return Rate{}, fmt.Errorf("funding: get: %w", err)
	}
	if !found {
		return Rate{Market: marketID, Index: new(big.Int)}, nil
	}
	r, err := decode(marketID, val)
	if err != nil {
		return Rate{}, fmt.Errorf("funding: decode: %w", err)
	}
	return r, nil
}

func put(store *state.Store, r Rate) error {
	enc, err := encode(r)
	if err != nil {
		return fmt.Errorf("funding: encode: %w", err)
	}
	store.Set(statekey.FundingRate{Market: r.Market}, enc)
	return nil
}

// calculatePremiumBps computes |mark - oracle| * 10000 / oracle and its
// sign. Sign is positive iff mark >= oracle.
func calculatePremiumBps(mark, oracle uint64) (magnitude uint64, isPositive bool, err error) {
	if oracle == 0 {
		return 0, true, fmt.Errorf("%w: oracle price is zero", types.ErrInvalidMarkPrice)
	}
	var diff uint64
	isPositive = mark >= oracle
	if isPositive {
		diff = mark - oracle
	} else {
		diff = oracle - mark
	}
	v := new(big.Int).Mul(new(big.Int).SetUint64(diff), big.NewInt(int64(types.BasisPoints)))
	v.Quo(v, new(big.Int).SetUint64(oracle))
	return v.Uint64(), isPositive, nil
}

// UpdateRate runs the full funding-rate update pipeline: premium, clamp to
// max_funding_rate_bps, scale by elapsed/interval, sign, advance the
// cumulative index, and persist.
func UpdateRate(store *state.Store, mkt market.Market, mark, oracle uint64, now uint64) (Rate, error) {
	current, err := Get(store, mkt.ID)
	if err != nil {
		return Rate{}, err
	}

	premium, isPositive, err := calculatePremiumBps(mark, oracle)
	if err != nil {
		return Rate{}, err
	}

	maxRate := mkt.MaxFundingRateBps
	if maxRate < 0 {
		maxRate = -maxRate
	}
	if int64(premium) > maxRate {
		premium = uint64(maxRate)
	}

	var elapsed uint64
	if current.LastUpdate > 0 && now > current.LastUpdate {
		elapsed = now - current.LastUpdate
	}

	scaled := premium
	if mkt.FundingIntervalSecs > 0 {
		scaled = premium * elapsed / mkt.FundingIntervalSecs
	}

	rateBps := int64(scaled)
	if !isPositive {
		rateBps = -rateBps
	}

	newIndex := new(big.Int).Add(current.Index, big.NewInt(rateBps))

	updated := Rate{
		Market:      mkt.ID,
		CurrentBps:  rateBps,
		LastUpdate:  now,
		Index:       newIndex,
		MarkPrice:   mark,
		OraclePrice: oracle,
	}
	if err := put(store, updated); err != nil {
		return Rate{}, err
	}
	return updated, nil
}

// Payment computes the funding payment owed by/to a position:
// payment = size * (current_index - entry_funding_index) / 10000.
// Positive paying means the position's owner pays (longs pay when the
// index increases, shorts pay when it decreases); the boolean reports
// whether the position pays (true) or receives (false).
func Payment(positionSize uint64, isLong bool, entryIndex, currentIndex *big.Int) (amount *big.Int, paying bool) {
	diff := new(big.Int).Sub(currentIndex, entryIndex)
	if diff.Sign() == 0 {
		return new(big.Int), true
	}
	payment := new(big.Int).Mul(new(big.Int).SetUint64(positionSize), diff)
	payment.Quo(payment, big.NewInt(int64(types.BasisPoints)))

	if payment.Sign() > 0 {
		return payment, isLong
	}
	return new(big.Int).Neg(payment), !isLong
}
