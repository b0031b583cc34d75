// Package params defines daemon configuration: a Config struct with
// Default() and LoadFromEnv(path) layering godotenv-loaded .env values
// under os.Getenv overrides.
package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/dexcore/perpchain/internal/types"
)

// Snapshot controls periodic state export (see internal/snapshot).
type Snapshot struct {
	Enabled  bool
	Interval uint64 // blocks
	Dir      string
	Provider string // "local" is the only provider this pack wires; see DESIGN.md
}

// RPC controls the HTTP/WS listen address internal/rpc binds to.
type RPC struct {
	ListenAddr string
}

// Config is the daemon's full runtime configuration.
type Config struct {
	ChainID         string
	DBPath          string
	BridgeOperators []types.Address
	Snapshot        Snapshot
	RPC             RPC
	Debug           bool
	LogLevel        string
	LogFile         string
}

// Default returns a single-node devnet configuration.
func Default() Config {
	return Config{
		ChainID: "dexcore-devnet",
		DBPath:  "./data",
		Snapshot: Snapshot{
			Enabled:  false,
			Interval: 1000,
			Dir:      "./snapshots",
			Provider: "local",
		},
		RPC: RPC{
			ListenAddr: ":8080",
		},
		Debug:    false,
		LogLevel: "info",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > Default().
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		cfg.ChainID = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BRIDGE_OPERATORS"); v != "" {
		cfg.BridgeOperators = parseAddressList(v)
	}

	if v := os.Getenv("SNAPSHOT_ENABLED"); v != "" {
		cfg.Snapshot.Enabled = v == "true"
	}
	if v := os.Getenv("SNAPSHOT_INTERVAL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Snapshot.Interval = n
		}
	}
	if v := os.Getenv("SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
	if v := os.Getenv("SNAPSHOT_PROVIDER"); v != "" {
		cfg.Snapshot.Provider = v
	}

	if v := os.Getenv("RPC_LISTEN_ADDR"); v != "" {
		cfg.RPC.ListenAddr = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "true"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg
}

// parseAddressList parses a comma-separated list of 0x-prefixed hex
// addresses, skipping malformed entries rather than failing the whole
// load — an operator fixes a bad bridge-operator entry by re-checking
// BRIDGE_OPERATORS, not by losing the rest of their configuration.
func parseAddressList(v string) []types.Address {
	parts := strings.Split(v, ",")
	addrs := make([]types.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || !common.IsHexAddress(p) {
			continue
		}
		addrs = append(addrs, common.HexToAddress(p))
	}
	return addrs
}

// Validate reports a fatal configuration error, for cmd/dexd to check
// before opening the store.
func (c Config) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("params: chain id must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("params: db path must not be empty")
	}
	if c.Snapshot.Enabled && c.Snapshot.Provider != "local" {
		return fmt.Errorf("params: unsupported snapshot provider %q (only \"local\" is wired)", c.Snapshot.Provider)
	}
	return nil
}
