// Package executor implements the deterministic per-block transaction
// pipeline: decode, verify, check nonce, dispatch by payload type, and
// commit, against a single eleven-payload dispatch table. Every handler
// reads and writes internal/state directly, so execution survives a
// restart rather than depending on any in-memory-only bookkeeping.
package executor

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/dexcore/perpchain/internal/account"
	"github.com/dexcore/perpchain/internal/auth"
	"github.com/dexcore/perpchain/internal/events"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/mempool"
	"github.com/dexcore/perpchain/internal/merkle"
	"github.com/dexcore/perpchain/internal/orderbook"
	"github.com/dexcore/perpchain/internal/position"
	"github.com/dexcore/perpchain/internal/snapshot"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

// Executor owns the in-memory order books and runs the
// begin_block -> execute_txs -> commit critical section against a single
// internal/state.Store, single-threaded.
type Executor struct {
	store    *state.Store
	pool     *mempool.Mempool
	books    map[types.MarketID]*orderbook.Book
	log      *zap.Logger
	snapshot *snapshot.Exporter
}

// New constructs an Executor. pool may be nil (e.g. in tests that feed
// transactions directly); log may be nil, in which case logging is a
// no-op.
func New(store *state.Store, pool *mempool.Mempool, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		store: store,
		pool:  pool,
		books: make(map[types.MarketID]*orderbook.Book),
		log:   log,
	}
}

// Recover rebuilds every market's in-memory order book from persisted
// ActiveOrder sets. Call once after opening the store and
// before executing the next block.
func (e *Executor) Recover() error {
	markets, err := market.ListMarkets(e.store)
	if err != nil {
		return fmt.Errorf("executor: recover: list markets: %w", err)
	}
	for _, m := range markets {
		book, err := orderbook.Recover(e.store, m.ID)
		if err != nil {
			return fmt.Errorf("executor: recover: market %d: %w", m.ID, err)
		}
		e.books[m.ID] = book
	}
	return nil
}

// SetSnapshotExporter attaches a snapshot exporter that ExecuteBlock
// consults after every commit. A nil exporter (the default) disables
// export; cmd/dexd wires one in when params.Config.Snapshot.Enabled.
func (e *Executor) SetSnapshotExporter(exp *snapshot.Exporter) {
	e.snapshot = exp
}

// book returns the in-memory book for a market, creating an empty one if
// the market has never been seen (e.g. a market created earlier this same
// block, before the next transaction references it).
func (e *Executor) book(id types.MarketID) *orderbook.Book {
	b, ok := e.books[id]
	if !ok {
		b = orderbook.New(id)
		e.books[id] = b
	}
	return b
}

// BookLevels returns a depth-limited snapshot of a market's resting
// orders, for read-only callers (internal/rpc's REST surface) that must
// not mutate the book. Returns two nils for a market with no orders yet.
func (e *Executor) BookLevels(id types.MarketID, depth int) (bids, asks []orderbook.Level) {
	b, ok := e.books[id]
	if !ok {
		return nil, nil
	}
	return b.Levels(depth)
}

// TxOutcome is one transaction's per-block result: the executor records a
// per-tx error string in its log rather than failing the whole block.
type TxOutcome struct {
	Hash [32]byte
	Err  error
}

// ExecuteBlock runs the per-block pipeline against an ordered batch of
// encoded transactions: begin_block, each transaction in order, then
// commit. timestamp tags every event emitted during this block.
func (e *Executor) ExecuteBlock(height uint64, timestamp int64, rawTxs [][]byte) (merkle.Hash, []TxOutcome, error) {
	if err := e.store.BeginBlock(height); err != nil {
		return merkle.Hash{}, nil, fmt.Errorf("executor: begin block %d: %w", height, err)
	}

	outcomes := make([]TxOutcome, 0, len(rawTxs))
	for _, raw := range rawTxs {
		hash, err := e.applyTx(height, timestamp, raw)
		outcomes = append(outcomes, TxOutcome{Hash: hash, Err: err})
		if err != nil {
			e.log.Info("transaction failed",
				zap.Uint64("height", height),
				zap.String("tx_hash", fmt.Sprintf("%x", hash)),
				zap.Error(err))
		}
	}

	root, err := e.store.Commit(height)
	if err != nil {
		return merkle.Hash{}, outcomes, fmt.Errorf("executor: commit block %d: %w", height, err)
	}

	if e.snapshot != nil && e.snapshot.Qualifies(height) {
		if err := e.snapshot.Export(e.store, height, root); err != nil {
			e.log.Error("snapshot export failed", zap.Uint64("height", height), zap.Error(err))
		}
	}
	return root, outcomes, nil
}

// applyTx decodes, verifies, and dispatches a single encoded transaction. A
// non-nil error means the transaction had no effect on state: no nonce
// bump, no flushed events, nothing removed from the mempool.
func (e *Executor) applyTx(height uint64, timestamp int64, raw []byte) ([32]byte, error) {
	t, err := tx.Decode(raw)
	if err != nil {
		return [32]byte{}, fmt.Errorf("executor: decode: %w", err)
	}
	hash, err := t.Hash()
	if err != nil {
		return [32]byte{}, fmt.Errorf("executor: hash: %w", err)
	}

	signer, err := t.RecoverSigner()
	if err != nil {
		return hash, fmt.Errorf("executor: recover signer: %w", err)
	}
	if err := account.CheckNonce(e.store, t.Sender, t.Nonce); err != nil {
		return hash, err
	}
	if err := auth.Authorize(e.store, t.Sender, signer, t.Payload); err != nil {
		return hash, err
	}
	switch t.Payload.(type) {
	case tx.BridgeDeposit, tx.BridgeWithdraw:
		if err := auth.AuthorizeBridge(e.store, signer); err != nil {
			return hash, err
		}
	}

	buf := events.NewBuffer()
	if err := e.dispatch(height, t.Sender, t.Payload, buf); err != nil {
		return hash, err
	}

	newNonce, err := account.IncrementNonce(e.store, t.Sender)
	if err != nil {
		return hash, fmt.Errorf("executor: increment nonce: %w", err)
	}
	buf.Emit(events.NonceUpdated{Owner: t.Sender, NewNonce: newNonce}, t.Sender)

	if err := events.Flush(e.store, buf, height, hash, timestamp); err != nil {
		return hash, fmt.Errorf("executor: flush events: %w", err)
	}
	if e.pool != nil {
		e.pool.Remove(hash)
	}
	return hash, nil
}

// dispatch is a type switch on the payload's concrete type, never virtual
// dispatch — payload variants are plain structs, not an interface
// hierarchy.
func (e *Executor) dispatch(height uint64, sender types.Address, payload tx.Payload, buf *events.Buffer) error {
	switch p := payload.(type) {
	case tx.PayloadDepositT:
		return e.handleDeposit(sender, p, buf)
	case tx.PayloadWithdrawT:
		return e.handleWithdraw(sender, p, buf)
	case tx.PlaceOrder:
		return e.handlePlaceOrder(height, sender, p, buf)
	case tx.CancelOrder:
		return e.handleCancelOrder(sender, p, buf)
	case tx.ModifyOrder:
		return e.handleModifyOrder(height, sender, p, buf)
	case tx.ClosePosition:
		return e.handleClosePosition(height, sender, p, buf)
	case tx.SetAgent:
		return e.handleSetAgent(sender, p, buf)
	case tx.RemoveAgent:
		return e.handleRemoveAgent(sender, p, buf)
	case tx.Transfer:
		return e.handleTransfer(sender, p, buf)
	case tx.BridgeDeposit:
		return e.handleBridgeDeposit(p, buf)
	case tx.BridgeWithdraw:
		return e.handleBridgeWithdraw(p, buf)
	default:
		return fmt.Errorf("%w: unhandled payload type %T", types.ErrTxMalformed, payload)
	}
}

func (e *Executor) handleDeposit(sender types.Address, p tx.PayloadDepositT, buf *events.Buffer) error {
	if _, found, err := market.GetAsset(e.store, p.Asset); err != nil {
		return err
	} else if !found {
		return types.ErrUnknownAsset
	}
	if err := account.Credit(e.store, sender, p.Asset, p.Amount); err != nil {
		return err
	}
	newBalance, err := account.GetBalance(e.store, sender, p.Asset)
	if err != nil {
		return err
	}
	buf.Emit(events.BalanceChanged{
		Owner: sender, Asset: p.Asset, Delta: new(big.Int).Set(p.Amount),
		NewBalance: newBalance, Reason: types.ReasonDeposit,
	}, sender)
	return nil
}

// totalLockedMargin sums the margin locked across every market whose quote
// asset is asset, for the withdrawal admission check.
func (e *Executor) totalLockedMargin(owner types.Address, asset types.AssetID) (*big.Int, error) {
	markets, err := market.ListMarkets(e.store)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, m := range markets {
		if m.QuoteAsset != asset {
			continue
		}
		pos, found, err := position.Get(e.store, owner, m.ID)
		if err != nil {
			return nil, err
		}
		if found {
			total.Add(total, pos.Margin)
		}
	}
	return total, nil
}

func (e *Executor) handleWithdraw(sender types.Address, p tx.PayloadWithdrawT, buf *events.Buffer) error {
	if _, found, err := market.GetAsset(e.store, p.Asset); err != nil {
		return err
	} else if !found {
		return types.ErrUnknownAsset
	}
	locked, err := e.totalLockedMargin(sender, p.Asset)
	if err != nil {
		return err
	}
	if err := position.CheckWithdrawalAdmission(e.store, sender, p.Asset, p.Amount, locked); err != nil {
		return err
	}
	if err := account.Debit(e.store, sender, p.Asset, p.Amount); err != nil {
		return err
	}
	newBalance, err := account.GetBalance(e.store, sender, p.Asset)
	if err != nil {
		return err
	}
	buf.Emit(events.BalanceChanged{
		Owner: sender, Asset: p.Asset, Delta: new(big.Int).Neg(p.Amount),
		NewBalance: newBalance, Reason: types.ReasonWithdraw,
	}, sender)
	return nil
}

func (e *Executor) handlePlaceOrder(height uint64, sender types.Address, p tx.PlaceOrder, buf *events.Buffer) error {
	mkt, found, err := market.GetMarket(e.store, p.Market)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrUnknownMarket
	}
	if p.Size < mkt.MinOrderSize || p.Size > mkt.MaxOrderSize {
		return types.ErrSizeOutOfBounds
	}
	isMarketOrder := p.Price == 0
	if !isMarketOrder && !mkt.AlignToTick(p.Price) {
		return types.ErrInvalidTick
	}
	if isMarketOrder && p.TIF == types.TIFGTC {
		return types.ErrMarketGTCInvalid
	}

	if p.ReduceOnly {
		existing, foundPos, err := position.Get(e.store, sender, p.Market)
		if err != nil {
			return err
		}
		if err := position.CheckReduceOnly(existing, foundPos, p.Side, p.Size); err != nil {
			return err
		}
	} else {
		if err := position.CheckMarginAdmission(e.store, sender, mkt, p.Side, p.Size, p.Price, p.ReduceOnly, isMarketOrder); err != nil {
			return err
		}
	}

	id, err := orderbook.NextOrderID(e.store)
	if err != nil {
		return err
	}
	order := &orderbook.Order{
		ID: id, Owner: sender, Market: p.Market, Side: p.Side, Price: p.Price,
		OriginalSize: p.Size, RemainingSize: p.Size,
		ReduceOnly: p.ReduceOnly, PostOnly: p.PostOnly, TIF: p.TIF,
	}

	fills, err := e.book(p.Market).Place(order)
	if err != nil {
		return err
	}

	buf.Emit(events.OrderPlaced{
		Order: id, Owner: sender, Market: p.Market, Side: p.Side,
		Price: p.Price, Size: p.Size, TIF: p.TIF,
	}, sender)

	for _, f := range fills {
		if err := e.settleFill(mkt, f, buf); err != nil {
			return err
		}
	}

	return orderbook.PutOrder(e.store, *order, terminalStatus(order), height)
}

// terminalStatus derives an order's persisted status from its post-match
// residual: still resting (GTC with size left), filled (nothing left), or
// cancelled (IOC/FOK with size left, whether or not part of it matched).
func terminalStatus(o *orderbook.Order) types.OrderStatus {
	if o.RemainingSize > 0 {
		if o.TIF == types.TIFGTC {
			return types.OrderActive
		}
		return types.OrderCancelled
	}
	if o.RemainingSize == o.OriginalSize {
		return types.OrderCancelled
	}
	return types.OrderFilled
}

func (e *Executor) handleCancelOrder(sender types.Address, p tx.CancelOrder, buf *events.Buffer) error {
	book := e.book(p.Market)
	existing, ok := book.Get(p.OrderID)
	if !ok {
		return types.ErrOrderNotFound
	}
	if existing.Owner != sender {
		return types.ErrNotOrderOwner
	}

	order, _ := book.Cancel(p.OrderID)
	persisted, found, err := orderbook.GetOrder(e.store, p.OrderID)
	createdVersion := uint64(0)
	if err != nil {
		return err
	}
	if found {
		createdVersion = persisted.CreatedVersion
	}
	if err := orderbook.PutOrder(e.store, *order, types.OrderCancelled, createdVersion); err != nil {
		return err
	}
	buf.Emit(events.OrderCancelled{Order: p.OrderID, Owner: sender, Market: p.Market}, sender)
	return nil
}

// handleModifyOrder implements ModifyOrder as cancel-then-place under the
// order's existing id (DESIGN.md C8 entry): the book is mutated only after
// every admission check has passed, and rolled back to its pre-modify
// state if the replacement placement itself fails, so a failed modify
// never leaves the in-memory book out of sync with persisted state.
func (e *Executor) handleModifyOrder(height uint64, sender types.Address, p tx.ModifyOrder, buf *events.Buffer) error {
	mkt, found, err := market.GetMarket(e.store, p.Market)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrUnknownMarket
	}

	book := e.book(p.Market)
	existing, ok := book.Get(p.OrderID)
	if !ok {
		return types.ErrOrderNotFound
	}
	if existing.Owner != sender {
		return types.ErrNotOrderOwner
	}
	if p.NewSize < mkt.MinOrderSize || p.NewSize > mkt.MaxOrderSize {
		return types.ErrSizeOutOfBounds
	}
	if !mkt.AlignToTick(p.NewPrice) {
		return types.ErrInvalidTick
	}

	side, reduceOnly, postOnly, tif := existing.Side, existing.ReduceOnly, existing.PostOnly, existing.TIF

	if reduceOnly {
		pos, foundPos, err := position.Get(e.store, sender, p.Market)
		if err != nil {
			return err
		}
		if err := position.CheckReduceOnly(pos, foundPos, side, p.NewSize); err != nil {
			return err
		}
	} else {
		if err := position.CheckMarginAdmission(e.store, sender, mkt, side, p.NewSize, p.NewPrice, reduceOnly, false); err != nil {
			return err
		}
	}

	removed, _ := book.Cancel(p.OrderID)
	replacement := &orderbook.Order{
		ID: p.OrderID, Owner: sender, Market: p.Market, Side: side, Price: p.NewPrice,
		OriginalSize: p.NewSize, RemainingSize: p.NewSize,
		ReduceOnly: reduceOnly, PostOnly: postOnly, TIF: tif,
	}
	fills, err := book.Place(replacement)
	if err != nil {
		book.Insert(removed)
		return err
	}

	buf.Emit(events.OrderCancelled{Order: p.OrderID, Owner: sender, Market: p.Market}, sender)
	buf.Emit(events.OrderPlaced{
		Order: p.OrderID, Owner: sender, Market: p.Market, Side: side,
		Price: p.NewPrice, Size: p.NewSize, TIF: tif,
	}, sender)

	for _, f := range fills {
		if err := e.settleFill(mkt, f, buf); err != nil {
			return err
		}
	}

	return orderbook.PutOrder(e.store, *replacement, terminalStatus(replacement), height)
}

func (e *Executor) handleClosePosition(height uint64, sender types.Address, p tx.ClosePosition, buf *events.Buffer) error {
	mkt, found, err := market.GetMarket(e.store, p.Market)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrUnknownMarket
	}

	pos, foundPos, err := position.Get(e.store, sender, p.Market)
	if err != nil {
		return err
	}
	if !foundPos || pos.Size == 0 {
		return types.ErrPositionNotFound
	}

	id, err := orderbook.NextOrderID(e.store)
	if err != nil {
		return err
	}
	closeSide := pos.Side.Opposite()
	order := &orderbook.Order{
		ID: id, Owner: sender, Market: p.Market, Side: closeSide, Price: 0,
		OriginalSize: pos.Size, RemainingSize: pos.Size,
		ReduceOnly: true, PostOnly: false, TIF: types.TIFIOC,
	}

	fills, err := e.book(p.Market).Place(order)
	if err != nil {
		return err
	}

	buf.Emit(events.OrderPlaced{
		Order: id, Owner: sender, Market: p.Market, Side: closeSide,
		Price: 0, Size: pos.Size, TIF: types.TIFIOC,
	}, sender)

	for _, f := range fills {
		if err := e.settleFill(mkt, f, buf); err != nil {
			return err
		}
	}

	return orderbook.PutOrder(e.store, *order, terminalStatus(order), height)
}

func (e *Executor) handleSetAgent(sender types.Address, p tx.SetAgent, buf *events.Buffer) error {
	auth.SetAgent(e.store, sender, p.Agent, p.Permissions)
	buf.Emit(events.AgentSet{Owner: sender, Agent: p.Agent, Permissions: p.Permissions}, sender, p.Agent)
	return nil
}

func (e *Executor) handleRemoveAgent(sender types.Address, p tx.RemoveAgent, buf *events.Buffer) error {
	auth.RemoveAgent(e.store, sender, p.Agent)
	buf.Emit(events.AgentRemoved{Owner: sender, Agent: p.Agent}, sender, p.Agent)
	return nil
}

func (e *Executor) handleTransfer(sender types.Address, p tx.Transfer, buf *events.Buffer) error {
	asset, found, err := market.GetAsset(e.store, p.Asset)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrUnknownAsset
	}
	if !asset.IsCollateral {
		return types.ErrNotTransferable
	}
	if err := account.Transfer(e.store, sender, p.To, p.Asset, p.Amount); err != nil {
		return err
	}
	buf.Emit(events.Transfer{From: sender, To: p.To, Asset: p.Asset, Amount: p.Amount}, sender, p.To)
	return nil
}

func (e *Executor) handleBridgeDeposit(p tx.BridgeDeposit, buf *events.Buffer) error {
	if _, found, err := market.GetAsset(e.store, p.Asset); err != nil {
		return err
	} else if !found {
		return types.ErrUnknownAsset
	}
	if err := account.Credit(e.store, p.To, p.Asset, p.Amount); err != nil {
		return err
	}
	newBalance, err := account.GetBalance(e.store, p.To, p.Asset)
	if err != nil {
		return err
	}
	buf.Emit(events.BridgeDeposit{To: p.To, Asset: p.Asset, Amount: p.Amount, ExternalTxHash: p.ExternalTxHash}, p.To)
	buf.Emit(events.BalanceChanged{
		Owner: p.To, Asset: p.Asset, Delta: new(big.Int).Set(p.Amount),
		NewBalance: newBalance, Reason: types.ReasonBridgeDeposit,
	}, p.To)
	return nil
}

func (e *Executor) handleBridgeWithdraw(p tx.BridgeWithdraw, buf *events.Buffer) error {
	if _, found, err := market.GetAsset(e.store, p.Asset); err != nil {
		return err
	} else if !found {
		return types.ErrUnknownAsset
	}
	if err := account.Debit(e.store, p.From, p.Asset, p.Amount); err != nil {
		return err
	}
	newBalance, err := account.GetBalance(e.store, p.From, p.Asset)
	if err != nil {
		return err
	}
	buf.Emit(events.BridgeWithdraw{From: p.From, Asset: p.Asset, Amount: p.Amount, ExternalTxHash: p.ExternalTxHash}, p.From)
	buf.Emit(events.BalanceChanged{
		Owner: p.From, Asset: p.Asset, Delta: new(big.Int).Neg(p.Amount),
		NewBalance: newBalance, Reason: types.ReasonBridgeWithdraw,
	}, p.From)
	return nil
}

// settleFill applies one match to both sides' positions, settles any
// realized PnL to the quote-asset balance, persists the maker's updated
// resting record, and emits OrderFilled.
func (e *Executor) settleFill(mkt market.Market, f orderbook.Fill, buf *events.Buffer) error {
	if err := e.applyFillToPosition(mkt, f.MakerOwner, f.TakerSide.Opposite(), f.Size, f.Price, buf); err != nil {
		return err
	}
	if err := e.applyFillToPosition(mkt, f.TakerOwner, f.TakerSide, f.Size, f.Price, buf); err != nil {
		return err
	}
	buf.Emit(events.OrderFilled{
		Maker: f.Maker, Taker: f.Taker, MakerOwner: f.MakerOwner, TakerOwner: f.TakerOwner,
		Market: f.Market, Price: f.Price, Size: f.Size, TakerSide: f.TakerSide,
	}, f.MakerOwner, f.TakerOwner)
	return e.updateMakerOrderRecord(f)
}

func (e *Executor) applyFillToPosition(mkt market.Market, owner types.Address, side types.Side, size, price uint64, buf *events.Buffer) error {
	before, foundBefore, err := position.Get(e.store, owner, mkt.ID)
	if err != nil {
		return err
	}

	realizedMagnitude, realizedIsProfit, final, err := position.ApplyFill(e.store, owner, mkt.ID, mkt, side, size, price, mkt.InitialMarginBps)
	if err != nil {
		return err
	}

	if realizedMagnitude.Sign() != 0 {
		delta := new(big.Int).Set(realizedMagnitude)
		if realizedIsProfit {
			if err := account.Credit(e.store, owner, mkt.QuoteAsset, realizedMagnitude); err != nil {
				return err
			}
		} else {
			delta.Neg(delta)
			if err := account.Debit(e.store, owner, mkt.QuoteAsset, realizedMagnitude); err != nil {
				return err
			}
		}
		newBalance, err := account.GetBalance(e.store, owner, mkt.QuoteAsset)
		if err != nil {
			return err
		}
		buf.Emit(events.BalanceChanged{
			Owner: owner, Asset: mkt.QuoteAsset, Delta: delta,
			NewBalance: newBalance, Reason: types.ReasonMarginUnlock,
		}, owner)
	}

	switch {
	case final.Size == 0:
		buf.Emit(events.PositionClosed{
			Owner: owner, Market: mkt.ID, RealizedPnL: realizedMagnitude, IsProfit: realizedIsProfit,
		}, owner)
	case !foundBefore || before.Size == 0:
		buf.Emit(events.PositionOpened{
			Owner: owner, Market: mkt.ID, Side: final.Side, Size: final.Size,
			EntryPrice: final.EntryPrice, Margin: final.Margin,
		}, owner)
	default:
		buf.Emit(events.PositionModified{
			Owner: owner, Market: mkt.ID, Side: final.Side, Size: final.Size,
			EntryPrice: final.EntryPrice, Margin: final.Margin,
		}, owner)
	}
	return nil
}

// updateMakerOrderRecord re-persists a resting maker's order after it
// absorbs a fill, since the in-memory book mutates the order's remaining
// size directly but the persisted record (and ActiveOrder index) must be
// kept in sync for recovery.
func (e *Executor) updateMakerOrderRecord(f orderbook.Fill) error {
	persisted, found, err := orderbook.GetOrder(e.store, f.Maker)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: maker order %d", types.ErrOrderNotFound, f.Maker)
	}
	persisted.RemainingSize -= f.Size
	status := types.OrderActive
	if persisted.RemainingSize == 0 {
		status = types.OrderFilled
	}
	return orderbook.PutOrder(e.store, persisted.Order, status, persisted.CreatedVersion)
}
