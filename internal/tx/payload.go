package tx

import (
	"fmt"
	"math/big"

	"github.com/dexcore/perpchain/internal/types"
)

// PayloadType is the stable tagged-union discriminant.
type PayloadType uint8

const (
	PayloadDeposit PayloadType = iota
	PayloadWithdraw
	PayloadPlaceOrder
	PayloadCancelOrder
	PayloadModifyOrder
	PayloadClosePosition
	PayloadSetAgent
	PayloadRemoveAgent
	PayloadTransfer
	PayloadBridgeDeposit
	PayloadBridgeWithdraw
)

// Payload is implemented by every concrete payload variant. Dispatch in
// the executor is a type switch on the tag, never virtual dispatch.
type Payload interface {
	Type() PayloadType
	encode(w *Writer) error
}

func (PayloadDepositT) Type() PayloadType       { return PayloadDeposit }
func (PayloadWithdrawT) Type() PayloadType       { return PayloadWithdraw }
func (PlaceOrder) Type() PayloadType             { return PayloadPlaceOrder }
func (CancelOrder) Type() PayloadType            { return PayloadCancelOrder }
func (ModifyOrder) Type() PayloadType            { return PayloadModifyOrder }
func (ClosePosition) Type() PayloadType          { return PayloadClosePosition }
func (SetAgent) Type() PayloadType               { return PayloadSetAgent }
func (RemoveAgent) Type() PayloadType            { return PayloadRemoveAgent }
func (Transfer) Type() PayloadType               { return PayloadTransfer }
func (BridgeDeposit) Type() PayloadType          { return PayloadBridgeDeposit }
func (BridgeWithdraw) Type() PayloadType         { return PayloadBridgeWithdraw }

// PayloadDepositT credits the sender's own balance (a user-visible deposit
// acknowledgement; bridge-originated credits use BridgeDeposit instead).
type PayloadDepositT struct {
	Asset  types.AssetID
	Amount *big.Int
}

type PayloadWithdrawT struct {
	Asset  types.AssetID
	Amount *big.Int
}

type PlaceOrder struct {
	Market     types.MarketID
	Side       types.Side
	Price      uint64 // 0 denotes a market order
	Size       uint64
	TIF        types.TimeInForce
	ReduceOnly bool
	PostOnly   bool
}

type CancelOrder struct {
	Market  types.MarketID
	OrderID types.OrderID
}

// ModifyOrder replaces an existing order with new price/size, atomically
// (cancel-then-place under one order id's lifetime): see DESIGN.md for the
// rationale behind that mechanism.
type ModifyOrder struct {
	Market   types.MarketID
	OrderID  types.OrderID
	NewPrice uint64
	NewSize  uint64
}

// ClosePosition places a reduce-only IOC market order sized to the
// trader's full position in the market.
type ClosePosition struct {
	Market types.MarketID
}

type SetAgent struct {
	Agent       types.Address
	Permissions uint32
}

type RemoveAgent struct {
	Agent types.Address
}

type Transfer struct {
	To     types.Address
	Asset  types.AssetID
	Amount *big.Int
}

type BridgeDeposit struct {
	To             types.Address
	Asset          types.AssetID
	Amount         *big.Int
	ExternalTxHash [32]byte
}

type BridgeWithdraw struct {
	From           types.Address
	Asset          types.AssetID
	Amount         *big.Int
	ExternalTxHash [32]byte
}

func (p PayloadDepositT) encode(w *Writer) error {
	w.PutU32(uint32(p.Asset))
	return w.PutU128(p.Amount)
}

func (p PayloadWithdrawT) encode(w *Writer) error {
	w.PutU32(uint32(p.Asset))
	return w.PutU128(p.Amount)
}

func (p PlaceOrder) encode(w *Writer) error {
	w.PutU32(uint32(p.Market))
	w.PutU8(uint8((p.Side + 1) / 2)) // Side{-1,1} -> {0,1}
	w.PutU64(p.Price)
	w.PutU64(p.Size)
	w.PutU8(uint8(p.TIF))
	w.PutBool(p.ReduceOnly)
	w.PutBool(p.PostOnly)
	return nil
}

func (p CancelOrder) encode(w *Writer) error {
	w.PutU32(uint32(p.Market))
	w.PutU64(uint64(p.OrderID))
	return nil
}

func (p ModifyOrder) encode(w *Writer) error {
	w.PutU32(uint32(p.Market))
	w.PutU64(uint64(p.OrderID))
	w.PutU64(p.NewPrice)
	w.PutU64(p.NewSize)
	return nil
}

func (p ClosePosition) encode(w *Writer) error {
	w.PutU32(uint32(p.Market))
	return nil
}

func (p SetAgent) encode(w *Writer) error {
	w.PutAddress(p.Agent)
	w.PutU32(p.Permissions)
	return nil
}

func (p RemoveAgent) encode(w *Writer) error {
	w.PutAddress(p.Agent)
	return nil
}

func (p Transfer) encode(w *Writer) error {
	w.PutAddress(p.To)
	w.PutU32(uint32(p.Asset))
	return w.PutU128(p.Amount)
}

func (p BridgeDeposit) encode(w *Writer) error {
	w.PutAddress(p.To)
	w.PutU32(uint32(p.Asset))
	if err := w.PutU128(p.Amount); err != nil {
		return err
	}
	w.PutBytes(p.ExternalTxHash[:])
	return nil
}

func (p BridgeWithdraw) encode(w *Writer) error {
	w.PutAddress(p.From)
	w.PutU32(uint32(p.Asset))
	if err := w.PutU128(p.Amount); err != nil {
		return err
	}
	w.PutBytes(p.ExternalTxHash[:])
	return nil
}

func decodePayload(r *Reader, t PayloadType) (Payload, error) {
	switch t {
	case PayloadDeposit:
		asset, err := r.U32()
		if err != nil {
			return nil, err
		}
		amount, err := r.U128()
		if err != nil {
			return nil, err
		}
		return PayloadDepositT{Asset: types.AssetID(asset), Amount: amount}, nil
	case PayloadWithdraw:
		asset, err := r.U32()
		if err != nil {
			return nil, err
		}
		amount, err := r.U128()
		if err != nil {
			return nil, err
		}
		return PayloadWithdrawT{Asset: types.AssetID(asset), Amount: amount}, nil
	case PayloadPlaceOrder:
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		sideB, err := r.U8()
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
		reduceOnly, err := r.Bool()
		if err != nil {
			return nil, err
		}
		postOnly, err := r.Bool()
		if err != nil {
			return nil, err
		}
		side := types.SideSell
		if sideB == 1 {
			side = types.SideBuy
		}
		return PlaceOrder{
			Market:     types.MarketID(market),
			Side:       side,
			Price:      price,
			Size:       size,
			TIF:        types.TimeInForce(tif),
			ReduceOnly: reduceOnly,
			PostOnly:   postOnly,
		}, nil
	case PayloadCancelOrder:
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		id, err := r.U64()
		if err != nil {
			return nil, err
		}
		return CancelOrder{Market: types.MarketID(market), OrderID: types.OrderID(id)}, nil
	case PayloadModifyOrder:
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		id, err := r.U64()
		if err != nil {
			return nil, err
		}
		newPrice, err := r.U64()
		if err != nil {
			return nil, err
		}
		newSize, err := r.U64()
		if err != nil {
			return nil, err
		}
		return ModifyOrder{Market: types.MarketID(market), OrderID: types.OrderID(id), NewPrice: newPrice, NewSize: newSize}, nil
	case PayloadClosePosition:
		market, err := r.U32()
		if err != nil {
			return nil, err
		}
		return ClosePosition{Market: types.MarketID(market)}, nil
	case PayloadSetAgent:
		agent, err := r.Address()
		if err != nil {
			return nil, err
		}
		perms, err := r.U32()
		if err != nil {
			return nil, err
		}
		return SetAgent{Agent: agent, Permissions: perms}, nil
	case PayloadRemoveAgent:
		agent, err := r.Address()
		if err != nil {
			return nil, err
		}
		return RemoveAgent{Agent: agent}, nil
	case PayloadTransfer:
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
		return Transfer{To: to, Asset: types.AssetID(asset), Amount: amount}, nil
	case PayloadBridgeDeposit:
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
		hashBytes, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var h [32]byte
		copy(h[:], hashBytes)
		return BridgeDeposit{To: to, Asset: types.AssetID(asset), Amount: amount, ExternalTxHash: h}, nil
	case PayloadBridgeWithdraw:
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
		hashBytes, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var h [32]byte
		copy(h[:], hashBytes)
		return BridgeWithdraw{From: from, Asset: types.AssetID(asset), Amount: amount, ExternalTxHash: h}, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload type %d", types.ErrTxMalformed, t)
	}
}
