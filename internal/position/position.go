// Package position implements position state, VWAP entry-price tracking,
// PnL/equity math, and margin admission: open/increase VWAPs the entry
// price, a reduce scales margin proportionally, and a crossing fill flips
// the position (closing the old side and opening fresh in the new one).
// Size and price are u64, margin and funding index are u128/i128 via
// math/big, and positions persist through internal/state keyed by
// (owner, market).
package position

import (
	"fmt"
	"math/big"

	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

// Position is keyed by (owner, market). Size == 0 means the entity does
// not exist — callers must delete rather than persist a zero-size
// position.
type Position struct {
	Owner           types.Address
	Market          types.MarketID
	Side            types.Side
	Size            uint64
	EntryPrice      uint64
	Margin          *big.Int
	FundingIndex    *big.Int // signed, snapshotted at open and each funding realization
}

// Notional returns size * price as a big.Int to avoid u64 overflow on the
// product.
func Notional(size, price uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(size), new(big.Int).SetUint64(price))
}

// RequiredMargin computes notional * marginBps / 10000.
func RequiredMargin(notional *big.Int, marginBps uint32) *big.Int {
	v := new(big.Int).Mul(notional, big.NewInt(int64(marginBps)))
	return v.Quo(v, big.NewInt(int64(types.BasisPoints)))
}

// PnL returns the unsigned magnitude of unrealized PnL against markPrice
// and whether it is a profit, rather than a signed value, to avoid signed
// overflow on a u128 notional.
func (p Position) PnL(markPrice uint64) (magnitude *big.Int, isProfit bool) {
	entryValue := Notional(p.Size, p.EntryPrice)
	markValue := Notional(p.Size, markPrice)
	if p.Side == types.SideBuy {
		if markValue.Cmp(entryValue) >= 0 {
			return new(big.Int).Sub(markValue, entryValue), true
		}
		return new(big.Int).Sub(entryValue, markValue), false
	}
	if entryValue.Cmp(markValue) >= 0 {
		return new(big.Int).Sub(entryValue, markValue), true
	}
	return new(big.Int).Sub(markValue, entryValue), false
}

// Equity returns margin +/- unrealized PnL, saturating to zero on the
// loss side (equity never goes negative).
func (p Position) Equity(markPrice uint64) *big.Int {
	magnitude, isProfit := p.PnL(markPrice)
	if isProfit {
		return new(big.Int).Add(p.Margin, magnitude)
	}
	if p.Margin.Cmp(magnitude) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(p.Margin, magnitude)
}

// NotionalAtMark returns size * markPrice.
func (p Position) NotionalAtMark(markPrice uint64) *big.Int {
	return Notional(p.Size, markPrice)
}

func encode(p Position) ([]byte, error) {
	w := codec.NewWriter()
	w.PutU32(uint32(p.Market))
	w.PutI64(int64(p.Side))
	w.PutU64(p.Size)
	w.PutU64(p.EntryPrice)
	if err := w.PutU128(p.Margin); err != nil {
		return nil, err
	}
	if err := w.PutI128(p.FundingIndex); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func decode(owner types.Address, b []byte) (Position, error) {
	r := codec.NewReader(b)
	var p Position
	p.Owner = owner
	var err error
	var marketID, side uint32
	var sideRaw int64
	if marketID, err = r.U32(); err != nil {
		return p, err
	}
	p.Market = types.MarketID(marketID)
	if sideRaw, err = r.I64(); err != nil {
		return p, err
	}
	p.Side = types.Side(sideRaw)
	_ = side
	if p.Size, err = r.U64(); err != nil {
		return p, err
	}
	if p.EntryPrice, err = r.U64(); err != nil {
		return p, err
	}
	if p.Margin, err = r.U128(); err != nil {
		return p, err
	}
	if p.FundingIndex, err = r.I128(); err != nil {
		return p, err
	}
	return p, nil
}

// Get loads a position; ok is false if none is persisted (size == 0).
func Get(store *state.Store, owner types.Address, marketID types.MarketID) (Position, bool, error) {
	val, found, err := store.Get(statekey.Position{Address: owner, Market: marketID})
	if err != nil {
		return Position{}, false, fmt.Errorf("position: get: %w", err)
	}
	if !found {
		return Position{}, false, nil
	}
	p, err := decode(owner, val)
	if err != nil {
		return Position{}, false, fmt.Errorf("position: decode: %w", err)
	}
	return p, true, nil
}

// put persists p, or deletes the entity if p.Size == 0, maintaining the
// per-market PositionIndex alongside it so liquidation's
// risk-index rebuild and ADL candidate search can enumerate every open
// position in a market without a logical-key prefix scan (the same
// explicit-index pattern internal/orderbook uses for ActiveOrderList).
func put(store *state.Store, p Position) error {
	key := statekey.Position{Address: p.Owner, Market: p.Market}
	if p.Size == 0 {
		store.Delete(key)
		return removeFromPositionIndex(store, p.Market, p.Owner)
	}
	enc, err := encode(p)
	if err != nil {
		return fmt.Errorf("position: encode: %w", err)
	}
	store.Set(key, enc)
	return addToPositionIndex(store, p.Market, p.Owner)
}

// Put persists p directly (or deletes it if p.Size == 0), maintaining the
// PositionIndex. Exposed for callers — liquidation and auto-deleveraging —
// that compute a new position state themselves rather than through
// ApplyFill's fill-driven transitions.
func Put(store *state.Store, p Position) error {
	return put(store, p)
}

// Delete removes the position entity outright (used by full liquidation).
func Delete(store *state.Store, owner types.Address, marketID types.MarketID) error {
	store.Delete(statekey.Position{Address: owner, Market: marketID})
	return removeFromPositionIndex(store, marketID, owner)
}

func encodeAddressList(addrs []types.Address) []byte {
	w := codec.NewWriter()
	w.PutU32(uint32(len(addrs)))
	for _, a := range addrs {
		w.PutAddress(a)
	}
	return w.Bytes()
}

func decodeAddressList(b []byte) ([]types.Address, error) {
	r := codec.NewReader(b)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]types.Address, 0, n)
	for i := uint32(0); i < n; i++ {
		a, err := r.Address()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func positionIndexAddresses(store *state.Store, marketID types.MarketID) ([]types.Address, error) {
	val, found, err := store.Get(statekey.PositionIndex{Market: marketID})
	if err != nil {
		return nil, fmt.Errorf("position: read position index: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeAddressList(val)
}

func addToPositionIndex(store *state.Store, marketID types.MarketID, owner types.Address) error {
	addrs, err := positionIndexAddresses(store, marketID)
	if err != nil {
		return err
	}
	for _, existing := range addrs {
		if existing == owner {
			return nil
		}
	}
	addrs = append(addrs, owner)
	store.Set(statekey.PositionIndex{Market: marketID}, encodeAddressList(addrs))
	return nil
}

func removeFromPositionIndex(store *state.Store, marketID types.MarketID, owner types.Address) error {
	addrs, err := positionIndexAddresses(store, marketID)
	if err != nil {
		return err
	}
	out := addrs[:0]
	for _, existing := range addrs {
		if existing != owner {
			out = append(out, existing)
		}
	}
	store.Set(statekey.PositionIndex{Market: marketID}, encodeAddressList(out))
	return nil
}

// ListInMarket returns every position currently open in marketID, per the
// PositionIndex entity, an index maintained for recovery that is derivable
// from position state. It is written through the store like any other key,
// so it is folded into the Merkle root on commit. Stale
// entries (an owner
// indexed but whose position has since been fully closed) are dropped from
// the index as they're encountered rather than returned.
func ListInMarket(store *state.Store, marketID types.MarketID) ([]Position, error) {
	addrs, err := positionIndexAddresses(store, marketID)
	if err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(addrs))
	for _, owner := range addrs {
		p, found, err := Get(store, owner, marketID)
		if err != nil {
			return nil, err
		}
		if !found || p.Size == 0 {
			if err := removeFromPositionIndex(store, marketID, owner); err != nil {
				return nil, err
			}
			continue
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// ApplyFill updates owner's position in marketID after a fill of fillSize
// at fillPrice on fillSide (the side owner traded, buy or sell), adding
// margin to the resulting position on an increase. Returns the realized
// PnL magnitude and its sign (zero, true if no realization occurred), and
// the final position (size 0 if fully closed).
func ApplyFill(store *state.Store, owner types.Address, marketID types.MarketID, mkt market.Market, fillSide types.Side, fillSize, fillPrice uint64, initialMarginBps uint32) (realizedMagnitude *big.Int, realizedIsProfit bool, final Position, err error) {
	existing, found, err := Get(store, owner, marketID)
	if err != nil {
		return nil, false, Position{}, err
	}
	if !found {
		existing = Position{Owner: owner, Market: marketID, Margin: new(big.Int), FundingIndex: new(big.Int)}
	}

	signedDelta := int64(fillSize)
	if fillSide == types.SideSell {
		signedDelta = -signedDelta
	}
	oldSigned := int64(existing.Size)
	if existing.Side == types.SideSell {
		oldSigned = -oldSigned
	}
	newSigned := oldSigned + signedDelta

	incrementalNotional := Notional(fillSize, fillPrice)
	marginDelta := RequiredMargin(incrementalNotional, initialMarginBps)

	sameDirection := (oldSigned >= 0 && newSigned >= 0) || (oldSigned <= 0 && newSigned <= 0)

	realizedMagnitude = new(big.Int)
	realizedIsProfit = true

	switch {
	case newSigned == 0:
		// Fully closed: realize PnL against the entry price.
		realizedMagnitude, realizedIsProfit = closePnL(existing, fillPrice)
		final = Position{Owner: owner, Market: marketID, Margin: new(big.Int), FundingIndex: new(big.Int)}

	case sameDirection:
		// Open or increase: VWAP the entry price, add margin.
		var newEntry uint64
		if existing.Size == 0 {
			newEntry = fillPrice
		} else {
			oldNotional := new(big.Int).Mul(new(big.Int).SetUint64(existing.Size), new(big.Int).SetUint64(existing.EntryPrice))
			addNotional := new(big.Int).Mul(new(big.Int).SetUint64(fillSize), new(big.Int).SetUint64(fillPrice))
			total := new(big.Int).Add(oldNotional, addNotional)
			newSize := absInt64(newSigned)
			newEntry = new(big.Int).Quo(total, new(big.Int).SetUint64(uint64(newSize))).Uint64()
		}
		side := types.SideBuy
		if newSigned < 0 {
			side = types.SideSell
		}
		final = Position{
			Owner:        owner,
			Market:       marketID,
			Side:         side,
			Size:         uint64(absInt64(newSigned)),
			EntryPrice:   newEntry,
			Margin:       new(big.Int).Add(existing.Margin, marginDelta),
			FundingIndex: existing.FundingIndex,
		}
		realizedMagnitude = new(big.Int)

	default:
		// Reduce or flip.
		oldAbs := absInt64(oldSigned)
		deltaAbs := absInt64(signedDelta)
		closedSize := oldAbs
		if deltaAbs < oldAbs {
			closedSize = deltaAbs
		}
		realizedMagnitude, realizedIsProfit = partialClosePnL(existing, fillPrice, closedSize)

		if (oldSigned > 0 && newSigned < 0) || (oldSigned < 0 && newSigned > 0) {
			// Flip: close the old position, open fresh in the new direction.
			residualSize := uint64(absInt64(newSigned))
			side := types.SideBuy
			if newSigned < 0 {
				side = types.SideSell
			}
			freshMargin := RequiredMargin(Notional(residualSize, fillPrice), initialMarginBps)
			final = Position{
				Owner:        owner,
				Market:       marketID,
				Side:         side,
				Size:         residualSize,
				EntryPrice:   fillPrice,
				Margin:       freshMargin,
				FundingIndex: existing.FundingIndex,
			}
		} else {
			// Reduced but not flipped: scale margin proportionally.
			newSize := uint64(absInt64(newSigned))
			scaled := scaleMarginForReduction(existing.Margin, existing.Size, newSize)
			final = Position{
				Owner:        owner,
				Market:       marketID,
				Side:         existing.Side,
				Size:         newSize,
				EntryPrice:   existing.EntryPrice,
				Margin:       scaled,
				FundingIndex: existing.FundingIndex,
			}
		}
	}

	if err := put(store, final); err != nil {
		return nil, false, Position{}, err
	}
	return realizedMagnitude, realizedIsProfit, final, nil
}

// scaleMarginForReduction computes margin -= margin * reduction_size /
// current_size, proportionally freeing margin on a partial reduce.
func scaleMarginForReduction(margin *big.Int, currentSize, newSize uint64) *big.Int {
	if currentSize == 0 {
		return new(big.Int)
	}
	reduction := currentSize - newSize
	delta := new(big.Int).Mul(margin, new(big.Int).SetUint64(reduction))
	delta.Quo(delta, new(big.Int).SetUint64(currentSize))
	return new(big.Int).Sub(margin, delta)
}

func closePnL(p Position, exitPrice uint64) (*big.Int, bool) {
	return partialClosePnL(p, exitPrice, p.Size)
}

// partialClosePnL realizes PnL on closedSize units of p at exitPrice: a
// long profits when the exit price exceeds entry, a short profits when it
// falls below.
func partialClosePnL(p Position, exitPrice, closedSize uint64) (*big.Int, bool) {
	entryValue := Notional(closedSize, p.EntryPrice)
	exitValue := Notional(closedSize, exitPrice)
	if p.Side == types.SideBuy {
		if exitValue.Cmp(entryValue) >= 0 {
			return new(big.Int).Sub(exitValue, entryValue), true
		}
		return new(big.Int).Sub(entryValue, exitValue), false
	}
	if entryValue.Cmp(exitValue) >= 0 {
		return new(big.Int).Sub(entryValue, exitValue), true
	}
	return new(big.Int).Sub(exitValue, entryValue), false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
