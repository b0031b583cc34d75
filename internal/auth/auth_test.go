package auth

import (
	"testing"

	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

func openTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin block: %v", err)
	}
	return s
}

func TestAuthorizeSignerEqualsSenderAlwaysAllowed(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	if err := Authorize(s, owner, owner, tx.PlaceOrder{}); err != nil {
		t.Fatalf("expected self-signed tx to be authorized, got %v", err)
	}
}

func TestAuthorizeAgentNeedsPermissionBit(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	agent := types.Address{0x02}

	if err := Authorize(s, owner, agent, tx.PlaceOrder{}); err == nil {
		t.Fatalf("expected unauthorized agent to be rejected")
	}

	SetAgent(s, owner, agent, types.PermPlaceOrder)
	if err := Authorize(s, owner, agent, tx.PlaceOrder{}); err != nil {
		t.Fatalf("expected agent with PLACE_ORDER to be authorized, got %v", err)
	}
	if err := Authorize(s, owner, agent, tx.PayloadWithdrawT{}); err == nil {
		t.Fatalf("expected agent without WITHDRAW bit to be rejected")
	}
}

func TestSetAgentAlwaysRequiresSelfSignature(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{0x01}
	agent := types.Address{0x02}
	SetAgent(s, owner, agent, types.PermPlaceOrder|types.PermWithdraw)

	if err := Authorize(s, owner, agent, tx.SetAgent{Agent: agent, Permissions: 0xff}); err == nil {
		t.Fatalf("expected SetAgent submitted by an agent to be rejected")
	}
	if err := Authorize(s, owner, owner, tx.SetAgent{Agent: agent, Permissions: 0xff}); err != nil {
		t.Fatalf("expected owner-signed SetAgent to be authorized, got %v", err)
	}
}

func TestBridgeOperatorAuthorization(t *testing.T) {
	s := openTestStore(t)
	op := types.Address{0x03}
	notOp := types.Address{0x04}

	if err := AuthorizeBridge(s, notOp); err == nil {
		t.Fatalf("expected non-operator to be rejected")
	}
	SetBridgeOperator(s, op, true)
	if err := AuthorizeBridge(s, op); err != nil {
		t.Fatalf("expected operator to be authorized, got %v", err)
	}
	SetBridgeOperator(s, op, false)
	if err := AuthorizeBridge(s, op); err == nil {
		t.Fatalf("expected removed operator to be rejected")
	}
}
