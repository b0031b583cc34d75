package state

import (
	"testing"

	"github.com/dexcore/perpchain/internal/statekey"
	"github.com/dexcore/perpchain/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFreshStoreStartsAtVersionZero(t *testing.T) {
	s := openTestStore(t)
	head, _ := s.Head()
	if head != 0 {
		t.Fatalf("fresh store head = %d, want 0", head)
	}
}

func TestSetCommitGet(t *testing.T) {
	s := openTestStore(t)
	addr := types.Address{0x01}
	key := statekey.Nonce{Address: addr}

	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin block: %v", err)
	}
	s.Set(key, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01})
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	val, found, err := s.Get(key)
	if err != nil || !found {
		t.Fatalf("get after commit: found=%v err=%v", found, err)
	}
	if len(val) != 8 || val[7] != 1 {
		t.Fatalf("unexpected value %v", val)
	}
}

func TestReadYourWritesBeforeCommit(t *testing.T) {
	s := openTestStore(t)
	key := statekey.NextOrderID{}

	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin block: %v", err)
	}
	s.Set(key, []byte("staged"))

	val, found, err := s.Get(key)
	if err != nil || !found {
		t.Fatalf("expected staged read to be visible, found=%v err=%v", found, err)
	}
	if string(val) != "staged" {
		t.Fatalf("got %q", val)
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	s := openTestStore(t)
	key := statekey.MarketList{}

	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.Set(key, []byte("x"))
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.BeginBlock(2); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.Delete(key)
	if _, err := s.Commit(2); err != nil {
		t.Fatalf("commit: %v", err)
	}

	_, found, err := s.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatalf("expected key to be deleted")
	}
}

func TestHistoricalReadAtEarlierVersion(t *testing.T) {
	s := openTestStore(t)
	key := statekey.AssetList{}

	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.Set(key, []byte("v1"))
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	if err := s.BeginBlock(2); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.Set(key, []byte("v2"))
	if _, err := s.Commit(2); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	old, found, err := s.GetAt(key, 1)
	if err != nil || !found {
		t.Fatalf("historical get: found=%v err=%v", found, err)
	}
	if string(old) != "v1" {
		t.Fatalf("got %q, want v1", old)
	}

	cur, found, err := s.Get(key)
	if err != nil || !found || string(cur) != "v2" {
		t.Fatalf("current get: %q found=%v err=%v", cur, found, err)
	}
}

func TestRecoveryReopensAtCommittedHead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key := statekey.NextOrderID{}
	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.Set(key, []byte{0x01})
	root, err := s.Commit(1)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	head, headRoot := reopened.Head()
	if head != 1 {
		t.Fatalf("recovered head = %d, want 1", head)
	}
	if headRoot != root {
		t.Fatalf("recovered root mismatch")
	}
	val, found, err := reopened.Get(key)
	if err != nil || !found || val[0] != 0x01 {
		t.Fatalf("recovered value wrong: %v found=%v err=%v", val, found, err)
	}
}
