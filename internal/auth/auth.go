// Package auth implements the owner/agent permission model and the
// bridge-operator identity set: an owner can delegate specific trading
// permissions to an agent address via a permission bitmap, while
// delegation-sensitive operations (SetAgent/RemoveAgent, bridge transfers)
// always require the owner or a recognized bridge operator directly.
package auth

import (
	"encoding/binary"
	"fmt"

	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

// SetAgent authorizes agent to act for owner with the given permission
// bitmap. The caller (executor) must have already verified signer == owner
// before calling this.
func SetAgent(store *state.Store, owner, agent types.Address, permissions uint32) {
	key := statekey.AgentPermission{Owner: owner, Agent: agent}
	val := make([]byte, 4)
	binary.LittleEndian.PutUint32(val, permissions)
	store.Set(key, val)
}

// RemoveAgent revokes any permissions owner previously granted agent.
func RemoveAgent(store *state.Store, owner, agent types.Address) {
	store.Delete(statekey.AgentPermission{Owner: owner, Agent: agent})
}

// Permissions returns the permission bitmap owner has granted agent (0 if
// none).
func Permissions(store *state.Store, owner, agent types.Address) (uint32, error) {
	val, found, err := store.Get(statekey.AgentPermission{Owner: owner, Agent: agent})
	if err != nil {
		return 0, fmt.Errorf("auth: read agent permissions: %w", err)
	}
	if !found || len(val) != 4 {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(val), nil
}

// requiredPermission maps a payload family to the permission bit an agent
// must hold to submit it on the sender's behalf. Payload variants absent
// from this table can never be agent-submitted — signer must equal sender.
func requiredPermission(payload tx.Payload) (uint32, bool) {
	switch payload.(type) {
	case tx.PlaceOrder:
		return types.PermPlaceOrder, true
	case tx.CancelOrder:
		return types.PermCancelOrder, true
	case tx.ModifyOrder:
		return types.PermModifyOrder, true
	case tx.ClosePosition:
		return types.PermClosePosition, true
	case tx.PayloadWithdrawT:
		return types.PermWithdraw, true
	default:
		return 0, false
	}
}

// Authorize checks whether signer may submit payload on sender's behalf:
// if signer == sender, any payload is allowed (subject to sender-side
// checks performed downstream). Otherwise
// the signer must be an agent holding the permission bit for that payload
// family. SetAgent and RemoveAgent always require signer == sender,
// regardless of any agent bitmap.
func Authorize(store *state.Store, sender, signer types.Address, payload tx.Payload) error {
	switch payload.(type) {
	case tx.SetAgent, tx.RemoveAgent:
		if signer != sender {
			return types.ErrAgentMustBeOwner
		}
		return nil
	}

	if signer == sender {
		return nil
	}

	required, delegable := requiredPermission(payload)
	if !delegable {
		return types.ErrNotAuthorized
	}
	granted, err := Permissions(store, sender, signer)
	if err != nil {
		return err
	}
	if granted&required == 0 {
		return types.ErrNotAuthorized
	}
	return nil
}

// SetBridgeOperator adds or removes addr from the bridge-operator identity
// set. This is an administrative operation (genesis config or an
// operator-set-change flow), not a user transaction.
func SetBridgeOperator(store *state.Store, addr types.Address, isOperator bool) {
	key := statekey.BridgeOperator{Address: addr}
	if isOperator {
		store.Set(key, []byte{0x01})
		return
	}
	store.Delete(key)
}

// IsBridgeOperator reports whether addr is a recognized bridge operator.
func IsBridgeOperator(store *state.Store, addr types.Address) (bool, error) {
	_, found, err := store.Get(statekey.BridgeOperator{Address: addr})
	if err != nil {
		return false, fmt.Errorf("auth: read bridge operator: %w", err)
	}
	return found, nil
}

// AuthorizeBridge requires BridgeDeposit/BridgeWithdraw to be signed
// directly by a recognized bridge operator; no agent delegation applies to
// bridge authority.
func AuthorizeBridge(store *state.Store, signer types.Address) error {
	ok, err := IsBridgeOperator(store, signer)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotBridgeOperator
	}
	return nil
}
