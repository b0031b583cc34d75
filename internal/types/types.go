// Package types holds the primitive identifiers and enums shared by every
// other package in the engine: addresses, ids, sides, statuses, and the
// stable error taxonomy transactions fail with.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Address is the 20-byte account identifier, matching go-ethereum's scheme.
type Address = common.Address

// AssetID identifies a registered asset (32-bit).
type AssetID uint32

// MarketID identifies a registered market (32-bit).
type MarketID uint32

// OrderID is a globally monotonic order identifier.
type OrderID uint64

// Side is the direction of an order or position.
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = -1
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// TimeInForce selects the order-book residual disposition rule.
type TimeInForce int8

const (
	TIFGTC TimeInForce = iota
	TIFIOC
	TIFFOK
)

func (t TimeInForce) String() string {
	switch t {
	case TIFGTC:
		return "GTC"
	case TIFIOC:
		return "IOC"
	case TIFFOK:
		return "FOK"
	default:
		return "unknown"
	}
}

// OrderStatus is the lifecycle state of an Order.
type OrderStatus uint8

const (
	OrderActive OrderStatus = iota
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderActive:
		return "active"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Agent permission bits. Values are stable across versions since they are
// persisted in account state.
const (
	PermPlaceOrder    uint32 = 1 << 0
	PermCancelOrder   uint32 = 1 << 1
	PermModifyOrder   uint32 = 1 << 2
	PermClosePosition uint32 = 1 << 3
	PermWithdraw      uint32 = 1 << 4
)

// BalanceChangeReason tags why a BalanceChanged event occurred.
type BalanceChangeReason uint8

const (
	ReasonDeposit BalanceChangeReason = iota
	ReasonWithdraw
	ReasonTransferIn
	ReasonTransferOut
	ReasonMarginLock
	ReasonMarginUnlock
	ReasonFee
	ReasonFundingPayment
	ReasonFundingReceipt
	ReasonLiquidationFee
	ReasonLiquidationReturn
	ReasonInsuranceContribution
	ReasonInsurancePayout
	ReasonBridgeDeposit
	ReasonBridgeWithdraw
)

// ZeroAmount reports whether a big.Int amount field is unset or zero.
func ZeroAmount(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// BasisPoints is the universal scale for bps math (per spec, 1/10000).
const BasisPoints int64 = 10_000
