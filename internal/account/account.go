// Package account implements balance and nonce bookkeeping: a u128
// per-asset balance ledger and a monotonic per-account nonce. Balances are
// keyed by (address, asset) and stored through internal/state, so they
// survive restarts and fold into the Merkle root like any other state.
package account

import (
	"fmt"
	"math/big"

	"github.com/dexcore/perpchain/internal/codec"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

// GetBalance returns the current balance of asset for addr (0 if absent).
func GetBalance(store *state.Store, addr types.Address, asset types.AssetID) (*big.Int, error) {
	val, found, err := store.Get(statekey.Balance{Address: addr, Asset: asset})
	if err != nil {
		return nil, fmt.Errorf("account: get balance: %w", err)
	}
	if !found {
		return new(big.Int), nil
	}
	return codec.NewReader(val).U128()
}

func putBalance(store *state.Store, addr types.Address, asset types.AssetID, v *big.Int) error {
	w := codec.NewWriter()
	if err := w.PutU128(v); err != nil {
		return fmt.Errorf("account: encode balance: %w", err)
	}
	store.Set(statekey.Balance{Address: addr, Asset: asset}, w.Bytes())
	return nil
}

// Credit increases addr's balance of asset by amount. amount must be
// non-negative; a zero amount is a no-op write (still deterministic).
func Credit(store *state.Store, addr types.Address, asset types.AssetID, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("account: credit amount must be non-negative, got %s", amount)
	}
	if types.ZeroAmount(amount) {
		return nil
	}
	bal, err := GetBalance(store, addr, asset)
	if err != nil {
		return err
	}
	bal = new(big.Int).Add(bal, amount)
	return putBalance(store, addr, asset, bal)
}

// Debit decreases addr's balance of asset by amount, failing with
// ErrInsufficientBalance if the account does not hold enough: a balance
// must never go negative.
func Debit(store *state.Store, addr types.Address, asset types.AssetID, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("account: debit amount must be non-negative, got %s", amount)
	}
	if types.ZeroAmount(amount) {
		return nil
	}
	bal, err := GetBalance(store, addr, asset)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", types.ErrInsufficientBalance, bal, amount)
	}
	bal = new(big.Int).Sub(bal, amount)
	return putBalance(store, addr, asset, bal)
}

// GetNonce returns addr's current nonce (0 if the account has never
// transacted).
func GetNonce(store *state.Store, addr types.Address) (uint64, error) {
	val, found, err := store.Get(statekey.Nonce{Address: addr})
	if err != nil {
		return 0, fmt.Errorf("account: get nonce: %w", err)
	}
	if !found {
		return 0, nil
	}
	n, err := codec.NewReader(val).U64()
	if err != nil {
		return 0, fmt.Errorf("account: decode nonce: %w", err)
	}
	return n, nil
}

// CheckNonce requires a transaction's nonce to equal exactly the account's
// current nonce, neither a gap nor a replay.
func CheckNonce(store *state.Store, addr types.Address, txNonce uint64) error {
	current, err := GetNonce(store, addr)
	if err != nil {
		return err
	}
	if txNonce < current {
		return fmt.Errorf("%w: account %x nonce %d, tx nonce %d", types.ErrNonceReplay, addr, current, txNonce)
	}
	if txNonce > current {
		return fmt.Errorf("%w: account %x nonce %d, tx nonce %d", types.ErrNonceGap, addr, current, txNonce)
	}
	return nil
}

// IncrementNonce advances addr's nonce by exactly 1. Only the executor, on
// successful transaction execution, may call this.
func IncrementNonce(store *state.Store, addr types.Address) (uint64, error) {
	current, err := GetNonce(store, addr)
	if err != nil {
		return 0, err
	}
	next := current + 1
	w := codec.NewWriter()
	w.PutU64(next)
	store.Set(statekey.Nonce{Address: addr}, w.Bytes())
	return next, nil
}

// Transfer moves amount of asset from sender to recipient as a single
// market-neutral balance movement. The caller is responsible for enforcing
// any asset-transferability policy (see internal/market.Asset.IsCollateral)
// before invoking Transfer.
func Transfer(store *state.Store, sender, recipient types.Address, asset types.AssetID, amount *big.Int) error {
	if sender == recipient {
		return types.ErrSelfTransfer
	}
	if err := Debit(store, sender, asset, amount); err != nil {
		return err
	}
	return Credit(store, recipient, asset, amount)
}
