// Package events implements the append-only typed domain event log.
// Events are buffered per-transaction by the executor and flushed to the
// log only once the transaction succeeds; a discarded buffer never
// touches the store. Each event variant carries its own discriminant tag,
// the same tagged-union idiom internal/tx uses for transaction payloads.
package events

import (
	"fmt"
	"math/big"

	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/types"
)

// Kind is the stable on-disk discriminant for a DomainEvent variant (spec
// §4.10: "each variant has a stable discriminant for on-disk
// compatibility").
type Kind uint8

const (
	KindBalanceChanged Kind = iota
	KindTransfer
	KindNonceUpdated
	KindOrderPlaced
	KindOrderCancelled
	KindOrderFilled
	KindPositionOpened
	KindPositionClosed
	KindPositionModified
	KindPositionLiquidated
	KindFundingPaid
	KindFundingRateUpdated
	KindBridgeDeposit
	KindBridgeWithdraw
	KindAgentSet
	KindAgentRemoved
	KindMarketUpdated
	KindInsuranceFundUpdated
)

func (k Kind) String() string {
	switch k {
	case KindBalanceChanged:
		return "BalanceChanged"
	case KindTransfer:
		return "Transfer"
	case KindNonceUpdated:
		return "NonceUpdated"
	case KindOrderPlaced:
		return "OrderPlaced"
	case KindOrderCancelled:
		return "OrderCancelled"
	case KindOrderFilled:
		return "OrderFilled"
	case KindPositionOpened:
		return "PositionOpened"
	case KindPositionClosed:
		return "PositionClosed"
	case KindPositionModified:
		return "PositionModified"
	case KindPositionLiquidated:
		return "PositionLiquidated"
	case KindFundingPaid:
		return "FundingPaid"
	case KindFundingRateUpdated:
		return "FundingRateUpdated"
	case KindBridgeDeposit:
		return "BridgeDeposit"
	case KindBridgeWithdraw:
		return "BridgeWithdraw"
	case KindAgentSet:
		return "AgentSet"
	case KindAgentRemoved:
		return "AgentRemoved"
	case KindMarketUpdated:
		return "MarketUpdated"
	case KindInsuranceFundUpdated:
		return "InsuranceFundUpdated"
	default:
		return "unknown"
	}
}

// Payload is implemented by every concrete DomainEvent variant.
type Payload interface {
	Kind() Kind
	encode(w *codec.Writer) error
}

// BalanceChanged records a single asset-balance mutation and its cause.
type BalanceChanged struct {
	Owner      types.Address
	Asset      types.AssetID
	Delta      *big.Int // signed
	NewBalance *big.Int
	Reason     types.BalanceChangeReason
}

func (BalanceChanged) Kind() Kind { return KindBalanceChanged }
func (p BalanceChanged) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Asset))
	if err := w.PutI128(p.Delta); err != nil {
		return err
	}
	if err := w.PutU128(p.NewBalance); err != nil {
		return err
	}
	w.PutU8(uint8(p.Reason))
	return nil
}

// Transfer records a balance move between two accounts.
type Transfer struct {
	From   types.Address
	To     types.Address
	Asset  types.AssetID
	Amount *big.Int
}

func (Transfer) Kind() Kind { return KindTransfer }
func (p Transfer) encode(w *codec.Writer) error {
	w.PutAddress(p.From)
	w.PutAddress(p.To)
	w.PutU32(uint32(p.Asset))
	return w.PutU128(p.Amount)
}

// NonceUpdated records an account's nonce advancing after a successful tx.
type NonceUpdated struct {
	Owner    types.Address
	NewNonce uint64
}

func (NonceUpdated) Kind() Kind { return KindNonceUpdated }
func (p NonceUpdated) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutU64(p.NewNonce)
	return nil
}

// OrderPlaced records a new resting or immediately-matched order admitted
// to the book.
type OrderPlaced struct {
	Order  types.OrderID
	Owner  types.Address
	Market types.MarketID
	Side   types.Side
	Price  uint64
	Size   uint64
	TIF    types.TimeInForce
}

func (OrderPlaced) Kind() Kind { return KindOrderPlaced }
func (p OrderPlaced) encode(w *codec.Writer) error {
	w.PutU64(uint64(p.Order))
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Market))
	w.PutU8(uint8(p.Side))
	w.PutU64(p.Price)
	w.PutU64(p.Size)
	w.PutU8(uint8(p.TIF))
	return nil
}

// OrderCancelled records an order leaving the book without a fill.
type OrderCancelled struct {
	Order  types.OrderID
	Owner  types.Address
	Market types.MarketID
}

func (OrderCancelled) Kind() Kind { return KindOrderCancelled }
func (p OrderCancelled) encode(w *codec.Writer) error {
	w.PutU64(uint64(p.Order))
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Market))
	return nil
}

// OrderFilled records one maker/taker match.
type OrderFilled struct {
	Maker      types.OrderID
	Taker      types.OrderID
	MakerOwner types.Address
	TakerOwner types.Address
	Market     types.MarketID
	Price      uint64
	Size       uint64
	TakerSide  types.Side
}

func (OrderFilled) Kind() Kind { return KindOrderFilled }
func (p OrderFilled) encode(w *codec.Writer) error {
	w.PutU64(uint64(p.Maker))
	w.PutU64(uint64(p.Taker))
	w.PutAddress(p.MakerOwner)
	w.PutAddress(p.TakerOwner)
	w.PutU32(uint32(p.Market))
	w.PutU64(p.Price)
	w.PutU64(p.Size)
	w.PutU8(uint8(p.TakerSide))
	return nil
}

// PositionOpened records a position's first fill from flat.
type PositionOpened struct {
	Owner      types.Address
	Market     types.MarketID
	Side       types.Side
	Size       uint64
	EntryPrice uint64
	Margin     *big.Int
}

func (PositionOpened) Kind() Kind { return KindPositionOpened }
func (p PositionOpened) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Market))
	w.PutU8(uint8(p.Side))
	w.PutU64(p.Size)
	w.PutU64(p.EntryPrice)
	return w.PutU128(p.Margin)
}

// PositionClosed records a position reducing to flat.
type PositionClosed struct {
	Owner       types.Address
	Market      types.MarketID
	RealizedPnL *big.Int
	IsProfit    bool
}

func (PositionClosed) Kind() Kind { return KindPositionClosed }
func (p PositionClosed) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Market))
	if err := w.PutU128(p.RealizedPnL); err != nil {
		return err
	}
	w.PutBool(p.IsProfit)
	return nil
}

// PositionModified records an increase, reduce, or flip that leaves the
// position open.
type PositionModified struct {
	Owner      types.Address
	Market     types.MarketID
	Side       types.Side
	Size       uint64
	EntryPrice uint64
	Margin     *big.Int
}

func (PositionModified) Kind() Kind { return KindPositionModified }
func (p PositionModified) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Market))
	w.PutU8(uint8(p.Side))
	w.PutU64(p.Size)
	w.PutU64(p.EntryPrice)
	return w.PutU128(p.Margin)
}

// PositionLiquidated records the outcome of a liquidation.
type PositionLiquidated struct {
	Owner                     types.Address
	Market                    types.MarketID
	Liquidator                types.Address
	LiquidatedSize            uint64
	LiquidationPrice          uint64
	LiquidationFee            *big.Int
	RemainingEquity           *big.Int
	InsuranceFundContribution *big.Int
	InsuranceFundUsage        *big.Int
}

func (PositionLiquidated) Kind() Kind { return KindPositionLiquidated }
func (p PositionLiquidated) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Market))
	w.PutAddress(p.Liquidator)
	w.PutU64(p.LiquidatedSize)
	w.PutU64(p.LiquidationPrice)
	if err := w.PutU128(p.LiquidationFee); err != nil {
		return err
	}
	if err := w.PutU128(p.RemainingEquity); err != nil {
		return err
	}
	if err := w.PutU128(p.InsuranceFundContribution); err != nil {
		return err
	}
	return w.PutU128(p.InsuranceFundUsage)
}

// FundingPaid records a single position's funding settlement.
type FundingPaid struct {
	Owner     types.Address
	Market    types.MarketID
	Amount    *big.Int
	IsPayment bool // true: owner paid; false: owner received
}

func (FundingPaid) Kind() Kind { return KindFundingPaid }
func (p FundingPaid) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutU32(uint32(p.Market))
	if err := w.PutU128(p.Amount); err != nil {
		return err
	}
	w.PutBool(p.IsPayment)
	return nil
}

// FundingRateUpdated records a market-wide funding rate recompute.
type FundingRateUpdated struct {
	Market          types.MarketID
	RateBps         int64
	CumulativeIndex *big.Int
}

func (FundingRateUpdated) Kind() Kind { return KindFundingRateUpdated }
func (p FundingRateUpdated) encode(w *codec.Writer) error {
	w.PutU32(uint32(p.Market))
	w.PutI64(p.RateBps)
	return w.PutI128(p.CumulativeIndex)
}

// BridgeDeposit records an operator-authorized external-chain deposit.
type BridgeDeposit struct {
	To             types.Address
	Asset          types.AssetID
	Amount         *big.Int
	ExternalTxHash [32]byte
}

func (BridgeDeposit) Kind() Kind { return KindBridgeDeposit }
func (p BridgeDeposit) encode(w *codec.Writer) error {
	w.PutAddress(p.To)
	w.PutU32(uint32(p.Asset))
	if err := w.PutU128(p.Amount); err != nil {
		return err
	}
	w.PutBytes(p.ExternalTxHash[:])
	return nil
}

// BridgeWithdraw records an operator-authorized external-chain withdrawal.
type BridgeWithdraw struct {
	From           types.Address
	Asset          types.AssetID
	Amount         *big.Int
	ExternalTxHash [32]byte
}

func (BridgeWithdraw) Kind() Kind { return KindBridgeWithdraw }
func (p BridgeWithdraw) encode(w *codec.Writer) error {
	w.PutAddress(p.From)
	w.PutU32(uint32(p.Asset))
	if err := w.PutU128(p.Amount); err != nil {
		return err
	}
	w.PutBytes(p.ExternalTxHash[:])
	return nil
}

// AgentSet records a trading-agent delegation grant.
type AgentSet struct {
	Owner       types.Address
	Agent       types.Address
	Permissions uint32
}

func (AgentSet) Kind() Kind { return KindAgentSet }
func (p AgentSet) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutAddress(p.Agent)
	w.PutU32(p.Permissions)
	return nil
}

// AgentRemoved records a trading-agent delegation revocation.
type AgentRemoved struct {
	Owner types.Address
	Agent types.Address
}

func (AgentRemoved) Kind() Kind { return KindAgentRemoved }
func (p AgentRemoved) encode(w *codec.Writer) error {
	w.PutAddress(p.Owner)
	w.PutAddress(p.Agent)
	return nil
}

// MarketUpdated records a governance change to a market's configuration.
type MarketUpdated struct {
	Market types.MarketID
}

func (MarketUpdated) Kind() Kind { return KindMarketUpdated }
func (p MarketUpdated) encode(w *codec.Writer) error {
	w.PutU32(uint32(p.Market))
	return nil
}

// InsuranceFundUpdated records a change to a market's insurance fund
// balance.
type InsuranceFundUpdated struct {
	Market       types.MarketID
	Balance      *big.Int
	Contribution *big.Int
	Usage        *big.Int
}

func (InsuranceFundUpdated) Kind() Kind { return KindInsuranceFundUpdated }
func (p InsuranceFundUpdated) encode(w *codec.Writer) error {
	w.PutU32(uint32(p.Market))
	if err := w.PutU128(p.Balance); err != nil {
		return err
	}
	if err := w.PutU128(p.Contribution); err != nil {
		return err
	}
	return w.PutU128(p.Usage)
}

func decodePayload(r *codec.Reader, k Kind) (Payload, error) {
	switch k {
	case KindBalanceChanged:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		asset, err := r.U32()
		if err != nil {
			return nil, err
		}
		delta, err := r.I128()
		if err != nil {
			return nil, err
		}
		newBalance, err := r.U128()
		if err != nil {
			return nil, err
		}
		reason, err := r.U8()
		if err != nil {
			return nil, err
		}
		return BalanceChanged{Owner: owner, Asset: types.AssetID(asset), Delta: delta, NewBalance: newBalance, Reason: types.BalanceChangeReason(reason)}, nil
	case KindTransfer:
		from, err := r.Address()
		if err != nil {
			return nil, err
		}
		to, err := r.Address()
		if err != nil {
			return nil, err
		}
		asset, err := r.U32()
		if err != nil {
			return nil, err
		}
		amount, err := r.U128()
		if err != nil {
			return nil, err
		}
		return Transfer{From: from, To: to, Asset: types.AssetID(asset), Amount: amount}, nil
	case KindNonceUpdated:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		nonce, err := r.U64()
		if err != nil {
			return nil, err
		}
		return NonceUpdated{Owner: owner, NewNonce: nonce}, nil
	case KindOrderPlaced:
		id, err := r.U64()
		if err != nil {
			return nil, err
		}
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		side, err := r.U8()
		if err != nil {
			return nil, err
		}
		price, err := r.U64()
		if err != nil {
			return nil, err
		}
		size, err := r.U64()
		if err != nil {
			return nil, err
		}
		tif, err := r.U8()
		if err != nil {
			return nil, err
		}
		return OrderPlaced{Order: types.OrderID(id), Owner: owner, Market: types.MarketID(market), Side: types.Side(int8(side)), Price: price, Size: size, TIF: types.TimeInForce(tif)}, nil
	case KindOrderCancelled:
		id, err := r.U64()
		if err != nil {
			return nil, err
		}
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		return OrderCancelled{Order: types.OrderID(id), Owner: owner, Market: types.MarketID(market)}, nil
	case KindOrderFilled:
		maker, err := r.U64()
		if err != nil {
			return nil, err
		}
		taker, err := r.U64()
		if err != nil {
			return nil, err
		}
		makerOwner, err := r.Address()
		if err != nil {
			return nil, err
		}
		takerOwner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		price, err := r.U64()
		if err != nil {
			return nil, err
		}
		size, err := r.U64()
		if err != nil {
			return nil, err
		}
		takerSide, err := r.U8()
		if err != nil {
			return nil, err
		}
		return OrderFilled{Maker: types.OrderID(maker), Taker: types.OrderID(taker), MakerOwner: makerOwner, TakerOwner: takerOwner, Market: types.MarketID(market), Price: price, Size: size, TakerSide: types.Side(int8(takerSide))}, nil
	case KindPositionOpened:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		side, err := r.U8()
		if err != nil {
			return nil, err
		}
		size, err := r.U64()
		if err != nil {
			return nil, err
		}
		entryPrice, err := r.U64()
		if err != nil {
			return nil, err
		}
		margin, err := r.U128()
		if err != nil {
			return nil, err
		}
		return PositionOpened{Owner: owner, Market: types.MarketID(market), Side: types.Side(int8(side)), Size: size, EntryPrice: entryPrice, Margin: margin}, nil
	case KindPositionClosed:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		pnl, err := r.U128()
		if err != nil {
			return nil, err
		}
		isProfit, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return PositionClosed{Owner: owner, Market: types.MarketID(market), RealizedPnL: pnl, IsProfit: isProfit}, nil
	case KindPositionModified:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		side, err := r.U8()
		if err != nil {
			return nil, err
		}
		size, err := r.U64()
		if err != nil {
			return nil, err
		}
		entryPrice, err := r.U64()
		if err != nil {
			return nil, err
		}
		margin, err := r.U128()
		if err != nil {
			return nil, err
		}
		return PositionModified{Owner: owner, Market: types.MarketID(market), Side: types.Side(int8(side)), Size: size, EntryPrice: entryPrice, Margin: margin}, nil
	case KindPositionLiquidated:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		liquidator, err := r.Address()
		if err != nil {
			return nil, err
		}
		liquidatedSize, err := r.U64()
		if err != nil {
			return nil, err
		}
		liquidationPrice, err := r.U64()
		if err != nil {
			return nil, err
		}
		fee, err := r.U128()
		if err != nil {
			return nil, err
		}
		remainingEquity, err := r.U128()
		if err != nil {
			return nil, err
		}
		contribution, err := r.U128()
		if err != nil {
			return nil, err
		}
		usage, err := r.U128()
		if err != nil {
			return nil, err
		}
		return PositionLiquidated{Owner: owner, Market: types.MarketID(market), Liquidator: liquidator, LiquidatedSize: liquidatedSize, LiquidationPrice: liquidationPrice, LiquidationFee: fee, RemainingEquity: remainingEquity, InsuranceFundContribution: contribution, InsuranceFundUsage: usage}, nil
	case KindFundingPaid:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		amount, err := r.U128()
		if err != nil {
			return nil, err
		}
		isPayment, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return FundingPaid{Owner: owner, Market: types.MarketID(market), Amount: amount, IsPayment: isPayment}, nil
	case KindFundingRateUpdated:
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		rateBps, err := r.I64()
		if err != nil {
			return nil, err
		}
		index, err := r.I128()
		if err != nil {
			return nil, err
		}
		return FundingRateUpdated{Market: types.MarketID(market), RateBps: rateBps, CumulativeIndex: index}, nil
	case KindBridgeDeposit:
		to, err := r.Address()
		if err != nil {
			return nil, err
		}
		asset, err := r.U32()
		if err != nil {
			return nil, err
		}
		amount, err := r.U128()
		if err != nil {
			return nil, err
		}
		h, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var hash [32]byte
		copy(hash[:], h)
		return BridgeDeposit{To: to, Asset: types.AssetID(asset), Amount: amount, ExternalTxHash: hash}, nil
	case KindBridgeWithdraw:
		from, err := r.Address()
		if err != nil {
			return nil, err
		}
		asset, err := r.U32()
		if err != nil {
			return nil, err
		}
		amount, err := r.U128()
		if err != nil {
			return nil, err
		}
		h, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var hash [32]byte
		copy(hash[:], h)
		return BridgeWithdraw{From: from, Asset: types.AssetID(asset), Amount: amount, ExternalTxHash: hash}, nil
	case KindAgentSet:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		agent, err := r.Address()
		if err != nil {
			return nil, err
		}
		perms, err := r.U32()
		if err != nil {
			return nil, err
		}
		return AgentSet{Owner: owner, Agent: agent, Permissions: perms}, nil
	case KindAgentRemoved:
		owner, err := r.Address()
		if err != nil {
			return nil, err
		}
		agent, err := r.Address()
		if err != nil {
			return nil, err
		}
		return AgentRemoved{Owner: owner, Agent: agent}, nil
	case KindMarketUpdated:
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		return MarketUpdated{Market: types.MarketID(market)}, nil
	case KindInsuranceFundUpdated:
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		balance, err := r.U128()
		if err != nil {
			return nil, err
		}
		contribution, err := r.U128()
		if err != nil {
			return nil, err
		}
		usage, err := r.U128()
		if err != nil {
			return nil, err
		}
		return InsuranceFundUpdated{Market: types.MarketID(market), Balance: balance, Contribution: contribution, Usage: usage}, nil
	default:
		return nil, fmt.Errorf("events: unknown kind discriminant %d", k)
	}
}
