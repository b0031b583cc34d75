// Package market implements the asset and market registry: the static
// (governance-set, not user-transaction-mutable) configuration every other
// module reads to know tick sizes, margin tiers, leverage caps and funding
// cadence. Markets and assets are a registry-over-storage pair backed by
// internal/state rather than a hardcoded list.
package market

import (
	"fmt"
	"sort"

	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

// Asset describes a fungible balance unit. Only is_collateral assets may
// back margin; non-collateral assets exist in balances (e.g. bridged
// tokens awaiting listing) but cannot be locked or withdrawn as margin.
type Asset struct {
	ID                types.AssetID
	Symbol            string
	Name              string
	Decimals          uint8
	IsCollateral       bool
	CollateralWeightBps uint32 // haircut applied when counting this asset toward margin, 0-10000
}

// Market describes a single perpetual futures market.
type Market struct {
	ID                    types.MarketID
	Symbol                string
	BaseAsset             types.AssetID
	QuoteAsset            types.AssetID
	TickSize              uint64 // minimum price increment, in quote-asset base units
	PriceDecimals         uint8
	SizeDecimals          uint8
	MinOrderSize          uint64
	MaxOrderSize          uint64
	MaxLeverage           uint32
	InitialMarginBps      uint32
	MaintenanceMarginBps  uint32
	LiquidationFeeBps     uint32
	FundingIntervalSecs   uint64
	MaxFundingRateBps     int64
}

// Validate enforces the invariants a market definition must satisfy.
func (m Market) Validate() error {
	if m.TickSize == 0 {
		return fmt.Errorf("%w: market %d tick_size must be positive", types.ErrInvalidTick, m.ID)
	}
	if m.MinOrderSize == 0 || m.MinOrderSize > m.MaxOrderSize {
		return fmt.Errorf("%w: market %d min_order_size must be positive and <= max_order_size", types.ErrInvalidMarketSpec, m.ID)
	}
	if m.InitialMarginBps == 0 || m.MaintenanceMarginBps == 0 || m.InitialMarginBps <= m.MaintenanceMarginBps {
		return fmt.Errorf("%w: market %d requires initial_margin_bps > maintenance_margin_bps > 0", types.ErrInvalidMarketSpec, m.ID)
	}
	if m.MaxLeverage == 0 {
		return fmt.Errorf("%w: market %d max_leverage must be positive", types.ErrInvalidMarketSpec, m.ID)
	}
	if m.FundingIntervalSecs == 0 {
		return fmt.Errorf("%w: market %d funding_interval must be positive", types.ErrInvalidMarketSpec, m.ID)
	}
	return nil
}

// AlignToTick reports whether price is an exact multiple of the market's
// tick size, the price-alignment precondition PlaceOrder enforces.
func (m Market) AlignToTick(price uint64) bool {
	return price%m.TickSize == 0
}

func encodeMarket(m Market) []byte {
	w := codec.NewWriter()
	w.PutU32(uint32(m.ID))
	w.PutString(m.Symbol)
	w.PutU32(uint32(m.BaseAsset))
	w.PutU32(uint32(m.QuoteAsset))
	w.PutU64(m.TickSize)
	w.PutU8(m.PriceDecimals)
	w.PutU8(m.SizeDecimals)
	w.PutU64(m.MinOrderSize)
	w.PutU64(m.MaxOrderSize)
	w.PutU32(m.MaxLeverage)
	w.PutU32(m.InitialMarginBps)
	w.PutU32(m.MaintenanceMarginBps)
	w.PutU32(m.LiquidationFeeBps)
	w.PutU64(m.FundingIntervalSecs)
	w.PutI64(m.MaxFundingRateBps)
	return w.Bytes()
}

func decodeMarket(b []byte) (Market, error) {
	r := codec.NewReader(b)
	var m Market
	var err error
	var id, base, quote uint32
	if id, err = r.U32(); err != nil {
		return m, err
	}
	m.ID = types.MarketID(id)
	if m.Symbol, err = r.String(); err != nil {
		return m, err
	}
	if base, err = r.U32(); err != nil {
		return m, err
	}
	m.BaseAsset = types.AssetID(base)
	if quote, err = r.U32(); err != nil {
		return m, err
	}
	m.QuoteAsset = types.AssetID(quote)
	if m.TickSize, err = r.U64(); err != nil {
		return m, err
	}
	if m.PriceDecimals, err = r.U8(); err != nil {
		return m, err
	}
	if m.SizeDecimals, err = r.U8(); err != nil {
		return m, err
	}
	if m.MinOrderSize, err = r.U64(); err != nil {
		return m, err
	}
	if m.MaxOrderSize, err = r.U64(); err != nil {
		return m, err
	}
	if m.MaxLeverage, err = r.U32(); err != nil {
		return m, err
	}
	if m.InitialMarginBps, err = r.U32(); err != nil {
		return m, err
	}
	if m.MaintenanceMarginBps, err = r.U32(); err != nil {
		return m, err
	}
	if m.LiquidationFeeBps, err = r.U32(); err != nil {
		return m, err
	}
	if m.FundingIntervalSecs, err = r.U64(); err != nil {
		return m, err
	}
	if m.MaxFundingRateBps, err = r.I64(); err != nil {
		return m, err
	}
	return m, nil
}

func encodeAsset(a Asset) []byte {
	w := codec.NewWriter()
	w.PutU32(uint32(a.ID))
	w.PutString(a.Symbol)
	w.PutString(a.Name)
	w.PutU8(a.Decimals)
	w.PutBool(a.IsCollateral)
	w.PutU32(a.CollateralWeightBps)
	return w.Bytes()
}

func decodeAsset(b []byte) (Asset, error) {
	r := codec.NewReader(b)
	var a Asset
	var err error
	var id uint32
	if id, err = r.U32(); err != nil {
		return a, err
	}
	a.ID = types.AssetID(id)
	if a.Symbol, err = r.String(); err != nil {
		return a, err
	}
	if a.Name, err = r.String(); err != nil {
		return a, err
	}
	if a.Decimals, err = r.U8(); err != nil {
		return a, err
	}
	if a.IsCollateral, err = r.Bool(); err != nil {
		return a, err
	}
	if a.CollateralWeightBps, err = r.U32(); err != nil {
		return a, err
	}
	return a, nil
}

func encodeIDList(ids []uint32) []byte {
	w := codec.NewWriter()
	w.PutU32(uint32(len(ids)))
	for _, id := range ids {
		w.PutU32(id)
	}
	return w.Bytes()
}

func decodeIDList(b []byte) ([]uint32, error) {
	r := codec.NewReader(b)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.U32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// PutMarket writes a market definition and adds it to the market-ID index.
// Registration is an administrative/genesis operation, not a user
// transaction payload.
func PutMarket(store *state.Store, m Market) error {
	if err := m.Validate(); err != nil {
		return err
	}
	ids, err := marketIDs(store)
	if err != nil {
		return err
	}
	store.Set(statekey.Market{ID: m.ID}, encodeMarket(m))
	if !containsID(ids, uint32(m.ID)) {
		ids = append(ids, uint32(m.ID))
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		store.Set(statekey.MarketList{}, encodeIDList(ids))
	}
	return nil
}

// GetMarket looks up a market by ID.
func GetMarket(store *state.Store, id types.MarketID) (Market, bool, error) {
	val, found, err := store.Get(statekey.Market{ID: id})
	if err != nil {
		return Market{}, false, fmt.Errorf("market: get market %d: %w", id, err)
	}
	if !found {
		return Market{}, false, nil
	}
	m, err := decodeMarket(val)
	if err != nil {
		return Market{}, false, fmt.Errorf("market: decode market %d: %w", id, err)
	}
	return m, true, nil
}

// MustGetMarket looks up a market and returns types.ErrUnknownMarket if it
// does not exist, for use by callers that treat an unknown market as a
// hard validation failure.
func MustGetMarket(store *state.Store, id types.MarketID) (Market, error) {
	m, found, err := GetMarket(store, id)
	if err != nil {
		return Market{}, err
	}
	if !found {
		return Market{}, fmt.Errorf("%w: market %d", types.ErrUnknownMarket, id)
	}
	return m, nil
}

// ListMarkets returns every registered market in ascending ID order.
func ListMarkets(store *state.Store) ([]Market, error) {
	ids, err := marketIDs(store)
	if err != nil {
		return nil, err
	}
	out := make([]Market, 0, len(ids))
	for _, id := range ids {
		m, found, err := GetMarket(store, types.MarketID(id))
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, m)
		}
	}
	return out, nil
}

func marketIDs(store *state.Store) ([]uint32, error) {
	val, found, err := store.Get(statekey.MarketList{})
	if err != nil {
		return nil, fmt.Errorf("market: read market list: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeIDList(val)
}

// PutAsset writes an asset definition and adds it to the asset-ID index.
func PutAsset(store *state.Store, a Asset) error {
	if a.CollateralWeightBps > types.BasisPoints {
		return fmt.Errorf("%w: asset %d collateral_weight_bps exceeds 10000", types.ErrInvalidMarketSpec, a.ID)
	}
	ids, err := assetIDs(store)
	if err != nil {
		return err
	}
	store.Set(statekey.Asset{ID: a.ID}, encodeAsset(a))
	if !containsID(ids, uint32(a.ID)) {
		ids = append(ids, uint32(a.ID))
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		store.Set(statekey.AssetList{}, encodeIDList(ids))
	}
	return nil
}

// GetAsset looks up an asset by ID.
func GetAsset(store *state.Store, id types.AssetID) (Asset, bool, error) {
	val, found, err := store.Get(statekey.Asset{ID: id})
	if err != nil {
		return Asset{}, false, fmt.Errorf("market: get asset %d: %w", id, err)
	}
	if !found {
		return Asset{}, false, nil
	}
	a, err := decodeAsset(val)
	if err != nil {
		return Asset{}, false, fmt.Errorf("market: decode asset %d: %w", id, err)
	}
	return a, true, nil
}

// ListAssets returns every registered asset in ascending ID order.
func ListAssets(store *state.Store) ([]Asset, error) {
	ids, err := assetIDs(store)
	if err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(ids))
	for _, id := range ids {
		a, found, err := GetAsset(store, types.AssetID(id))
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, a)
		}
	}
	return out, nil
}

func assetIDs(store *state.Store) ([]uint32, error) {
	val, found, err := store.Get(statekey.AssetList{})
	if err != nil {
		return nil, fmt.Errorf("market: read asset list: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeIDList(val)
}

func containsID(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
