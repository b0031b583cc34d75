package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dexcore/perpchain/internal/state"
)

func openTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQualifiesOnIntervalBoundary(t *testing.T) {
	e := New(Config{Enabled: true, Interval: 10})
	if !e.Qualifies(10) || !e.Qualifies(20) {
		t.Fatalf("expected heights 10 and 20 to qualify")
	}
	if e.Qualifies(11) {
		t.Fatalf("expected height 11 not to qualify")
	}
}

func TestQualifiesFalseWhenDisabled(t *testing.T) {
	e := New(Config{Enabled: false, Interval: 1})
	if e.Qualifies(1) {
		t.Fatalf("expected a disabled exporter never to qualify")
	}
}

func TestExportWritesArchiveAndLatestPointer(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("begin block: %v", err)
	}
	root, err := s.Commit(1)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	dir := t.TempDir()
	e := New(Config{Enabled: true, Interval: 1, Dir: dir, ChainID: "test-chain"})
	if err := e.Export(s, 1, [32]byte(root)); err != nil {
		t.Fatalf("export: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "snapshot-1.tar.zst")); err != nil {
		t.Fatalf("expected archive on disk: %v", err)
	}
	meta, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if meta.Height != 1 || meta.ChainID != "test-chain" || meta.SnapshotSize == 0 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestExportNoOpWhenDisabled(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	e := New(Config{Enabled: false})
	if err := e.Export(s, 1, [32]byte{}); err != nil {
		t.Fatalf("export: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files written when disabled, got %d", len(entries))
	}
}
