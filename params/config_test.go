package params

import (
	"os"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	os.Setenv("CHAIN_ID", "test-chain")
	os.Setenv("RPC_LISTEN_ADDR", ":9090")
	os.Setenv("BRIDGE_OPERATORS", "0x1111111111111111111111111111111111111111, not-an-address, 0x2222222222222222222222222222222222222222")
	defer func() {
		os.Unsetenv("CHAIN_ID")
		os.Unsetenv("RPC_LISTEN_ADDR")
		os.Unsetenv("BRIDGE_OPERATORS")
	}()

	cfg := LoadFromEnv("")
	if cfg.ChainID != "test-chain" {
		t.Fatalf("expected chain id override, got %q", cfg.ChainID)
	}
	if cfg.RPC.ListenAddr != ":9090" {
		t.Fatalf("expected listen addr override, got %q", cfg.RPC.ListenAddr)
	}
	if len(cfg.BridgeOperators) != 2 {
		t.Fatalf("expected malformed address to be skipped, got %d operators", len(cfg.BridgeOperators))
	}
}

func TestValidateRejectsUnsupportedSnapshotProvider(t *testing.T) {
	cfg := Default()
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Provider = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validate to reject an unsupported snapshot provider")
	}
}
