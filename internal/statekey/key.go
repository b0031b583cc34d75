// Package statekey defines the typed state-key enum addressing every
// persisted entity, its canonical binary encoding, and its Merkle-tree
// hash. Two encodings exist for a key:
//
//   Encode() — discriminant byte + big-endian fixed-width fields, the
//   input to Hash(). internal/state keys its pebble records by Hash(), not
//   by Encode(), so the store offers no prefix scan over these encodings.
//
//   Hash() — sha256(Encode()), the 256-bit path used to address the key in
//   the sparse Merkle tree (internal/merkle).
package statekey

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/dexcore/perpchain/internal/types"
)

// Discriminant is the single-byte tag identifying a state-key variant.
type Discriminant byte

const (
	DBalance Discriminant = iota
	DNonce
	DPosition
	DOrder
	DMarket
	DFundingRate
	DNextOrderID
	DActiveOrder
	DActiveOrderList
	DMarketList
	DPositionIndex
	DBridgeOperator
	DAsset
	DAssetList
	// Agent permissions, admin-fed mark/oracle prices, and the
	// per-market insurance fund.
	DAgentPermission
	DMarkPrice
	DInsuranceFund
	// Event log — an append-only namespace that reuses this store's
	// typed-key/versioned-KV machinery rather than standing up a second
	// storage backend; like every other key, its entries are folded into
	// the tree's root on commit.
	DEvent
	DEventsByBlock
	DEventsByTxHash
	DEventsByAddress
)

// Key is implemented by every concrete state-key variant.
type Key interface {
	Encode() []byte
	Hash() [32]byte
}

func hashOf(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func putU32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func putU64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }

// Balance{address, asset}
type Balance struct {
	Address types.Address
	Asset   types.AssetID
}

func (k Balance) Encode() []byte {
	b := make([]byte, 1+20+4)
	b[0] = byte(DBalance)
	copy(b[1:21], k.Address[:])
	putU32(b[21:25], uint32(k.Asset))
	return b
}
func (k Balance) Hash() [32]byte { return hashOf(k.Encode()) }

// Nonce{address}
type Nonce struct {
	Address types.Address
}

func (k Nonce) Encode() []byte {
	b := make([]byte, 1+20)
	b[0] = byte(DNonce)
	copy(b[1:21], k.Address[:])
	return b
}
func (k Nonce) Hash() [32]byte { return hashOf(k.Encode()) }

// Position{address, market}
type Position struct {
	Address types.Address
	Market  types.MarketID
}

func (k Position) Encode() []byte {
	b := make([]byte, 1+20+4)
	b[0] = byte(DPosition)
	copy(b[1:21], k.Address[:])
	putU32(b[21:25], uint32(k.Market))
	return b
}
func (k Position) Hash() [32]byte { return hashOf(k.Encode()) }

// Order{id}
type Order struct {
	ID types.OrderID
}

func (k Order) Encode() []byte {
	b := make([]byte, 1+8)
	b[0] = byte(DOrder)
	putU64(b[1:9], uint64(k.ID))
	return b
}
func (k Order) Hash() [32]byte { return hashOf(k.Encode()) }

// Market{id}
type Market struct {
	ID types.MarketID
}

func (k Market) Encode() []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DMarket)
	putU32(b[1:5], uint32(k.ID))
	return b
}
func (k Market) Hash() [32]byte { return hashOf(k.Encode()) }

// FundingRate{market}
type FundingRate struct {
	Market types.MarketID
}

func (k FundingRate) Encode() []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DFundingRate)
	putU32(b[1:5], uint32(k.Market))
	return b
}
func (k FundingRate) Hash() [32]byte { return hashOf(k.Encode()) }

// NextOrderID (singleton)
type NextOrderID struct{}

func (k NextOrderID) Encode() []byte { return []byte{byte(DNextOrderID)} }
func (k NextOrderID) Hash() [32]byte { return hashOf(k.Encode()) }

// ActiveOrder{market, id}
type ActiveOrder struct {
	Market types.MarketID
	ID     types.OrderID
}

func (k ActiveOrder) Encode() []byte {
	b := make([]byte, 1+4+8)
	b[0] = byte(DActiveOrder)
	putU32(b[1:5], uint32(k.Market))
	putU64(b[5:13], uint64(k.ID))
	return b
}
func (k ActiveOrder) Hash() [32]byte { return hashOf(k.Encode()) }

// ActiveOrderListPrefix returns the Encode() prefix shared by every
// ActiveOrder entry for a market. Recovery does not scan by it: it reads
// the ActiveOrderList index instead.
func ActiveOrderListPrefix(market types.MarketID) []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DActiveOrder)
	putU32(b[1:5], uint32(market))
	return b
}

// ActiveOrderList{market} is the index entity: derivable from ActiveOrder
// entries, though, like every key, it is folded into the root on commit.
type ActiveOrderList struct {
	Market types.MarketID
}

func (k ActiveOrderList) Encode() []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DActiveOrderList)
	putU32(b[1:5], uint32(k.Market))
	return b
}
func (k ActiveOrderList) Hash() [32]byte { return hashOf(k.Encode()) }

// MarketList (singleton index)
type MarketList struct{}

func (k MarketList) Encode() []byte { return []byte{byte(DMarketList)} }
func (k MarketList) Hash() [32]byte { return hashOf(k.Encode()) }

// PositionIndex{market} (index entity)
type PositionIndex struct {
	Market types.MarketID
}

func (k PositionIndex) Encode() []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DPositionIndex)
	putU32(b[1:5], uint32(k.Market))
	return b
}
func (k PositionIndex) Hash() [32]byte { return hashOf(k.Encode()) }

// BridgeOperator{address}
type BridgeOperator struct {
	Address types.Address
}

func (k BridgeOperator) Encode() []byte {
	b := make([]byte, 1+20)
	b[0] = byte(DBridgeOperator)
	copy(b[1:21], k.Address[:])
	return b
}
func (k BridgeOperator) Hash() [32]byte { return hashOf(k.Encode()) }

// Asset{id}
type Asset struct {
	ID types.AssetID
}

func (k Asset) Encode() []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DAsset)
	putU32(b[1:5], uint32(k.ID))
	return b
}
func (k Asset) Hash() [32]byte { return hashOf(k.Encode()) }

// AssetList (singleton index)
type AssetList struct{}

func (k AssetList) Encode() []byte { return []byte{byte(DAssetList)} }
func (k AssetList) Hash() [32]byte { return hashOf(k.Encode()) }

// AgentPermission{owner, agent}
type AgentPermission struct {
	Owner types.Address
	Agent types.Address
}

func (k AgentPermission) Encode() []byte {
	b := make([]byte, 1+20+20)
	b[0] = byte(DAgentPermission)
	copy(b[1:21], k.Owner[:])
	copy(b[21:41], k.Agent[:])
	return b
}
func (k AgentPermission) Hash() [32]byte { return hashOf(k.Encode()) }

// AgentPermissionPrefix covers every agent a given owner has authorized.
func AgentPermissionPrefix(owner types.Address) []byte {
	b := make([]byte, 1+20)
	b[0] = byte(DAgentPermission)
	copy(b[1:21], owner[:])
	return b
}

// MarkPrice{market} — admin/oracle-fed mark & oracle price snapshot.
type MarkPrice struct {
	Market types.MarketID
}

func (k MarkPrice) Encode() []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DMarkPrice)
	putU32(b[1:5], uint32(k.Market))
	return b
}
func (k MarkPrice) Hash() [32]byte { return hashOf(k.Encode()) }

// InsuranceFund{market}
type InsuranceFund struct {
	Market types.MarketID
}

func (k InsuranceFund) Encode() []byte {
	b := make([]byte, 1+4)
	b[0] = byte(DInsuranceFund)
	putU32(b[1:5], uint32(k.Market))
	return b
}
func (k InsuranceFund) Hash() [32]byte { return hashOf(k.Encode()) }

// Event{height, tx_hash, index} — one logged DomainEvent. tx_hash makes the
// key unique within a block since index is scoped to a single transaction's
// event buffer.
type Event struct {
	Height uint64
	TxHash [32]byte
	Index  uint32
}

func (k Event) Encode() []byte {
	b := make([]byte, 1+8+32+4)
	b[0] = byte(DEvent)
	putU64(b[1:9], k.Height)
	copy(b[9:41], k.TxHash[:])
	putU32(b[41:45], k.Index)
	return b
}
func (k Event) Hash() [32]byte { return hashOf(k.Encode()) }

// EventsByBlock{height} (index entity: ordered list of event refs for a block)
type EventsByBlock struct {
	Height uint64
}

func (k EventsByBlock) Encode() []byte {
	b := make([]byte, 1+8)
	b[0] = byte(DEventsByBlock)
	putU64(b[1:9], k.Height)
	return b
}
func (k EventsByBlock) Hash() [32]byte { return hashOf(k.Encode()) }

// EventsByTxHash{tx_hash} (index entity: ordered list of event refs for a tx)
type EventsByTxHash struct {
	TxHash [32]byte
}

func (k EventsByTxHash) Encode() []byte {
	b := make([]byte, 1+32)
	b[0] = byte(DEventsByTxHash)
	copy(b[1:33], k.TxHash[:])
	return b
}
func (k EventsByTxHash) Hash() [32]byte { return hashOf(k.Encode()) }

// EventsByAddress{address} (index entity: ordered list of event refs touching address)
type EventsByAddress struct {
	Address types.Address
}

func (k EventsByAddress) Encode() []byte {
	b := make([]byte, 1+20)
	b[0] = byte(DEventsByAddress)
	copy(b[1:21], k.Address[:])
	return b
}
func (k EventsByAddress) Hash() [32]byte { return hashOf(k.Encode()) }

// String renders a key for logging purposes.
func String(k Key) string {
	return fmt.Sprintf("%x", k.Encode())
}
