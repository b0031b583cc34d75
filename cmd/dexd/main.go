// Command dexd is the core daemon: it opens the versioned store, recovers
// the in-memory order books, and serves the block-execution RPC plus a
// read-only REST/WebSocket surface. Startup follows a fixed sequence:
// load config, build logger, open store, wire RPC, then a signal-aware
// run loop. Consensus and P2P transport are out of scope — dexd expects
// an external sequencer to feed it ordered transactions over the
// block-execution RPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dexcore/perpchain/internal/auth"
	"github.com/dexcore/perpchain/internal/executor"
	"github.com/dexcore/perpchain/internal/logging"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/mempool"
	"github.com/dexcore/perpchain/internal/rpc"
	"github.com/dexcore/perpchain/internal/snapshot"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/types"
	"github.com/dexcore/perpchain/params"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envPath          = flag.String("env", "", "path to a .env file (default: .env in the working directory)")
		dbPath           = flag.String("db-path", "", "override the store's on-disk path")
		chainID          = flag.String("chain-id", "", "override the configured chain id")
		rpcAddr          = flag.String("rpc-addr", "", "override the RPC listen address (e.g. :8080)")
		debug            = flag.Bool("debug", false, "enable debug-level logging regardless of LOG_LEVEL")
		bridgeOperators  = flag.String("bridge-operators", "", "comma-separated bridge operator addresses to register at startup")
		snapshotEnabled  = flag.Bool("snapshot-enabled", false, "enable periodic snapshot export")
		snapshotInterval = flag.Uint64("snapshot-interval", 0, "override the snapshot export interval, in blocks")
		snapshotDir      = flag.String("snapshot-dir", "", "override the snapshot export directory")
		logFile          = flag.String("log-file", "", "tee logs to this file in addition to stdout")
	)
	flag.Parse()

	cfg := params.LoadFromEnv(*envPath)
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *chainID != "" {
		cfg.ChainID = *chainID
	}
	if *rpcAddr != "" {
		cfg.RPC.ListenAddr = *rpcAddr
	}
	if *debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if *snapshotEnabled {
		cfg.Snapshot.Enabled = true
	}
	if *snapshotInterval > 0 {
		cfg.Snapshot.Interval = *snapshotInterval
	}
	if *snapshotDir != "" {
		cfg.Snapshot.Dir = *snapshotDir
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *bridgeOperators != "" {
		cfg.BridgeOperators = append(cfg.BridgeOperators, parseAddresses(*bridgeOperators)...)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("dexd: %w", err)
	}

	log, err := loggerFor(cfg)
	if err != nil {
		return fmt.Errorf("dexd: build logger: %w", err)
	}
	defer log.Sync()

	store, err := state.Open(cfg.DBPath, cfg.Snapshot.Interval)
	if err != nil {
		return fmt.Errorf("dexd: open store %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	height, root := store.Head()
	log.Sugar().Infow("store_opened", "db_path", cfg.DBPath, "height", height, "root", fmt.Sprintf("%x", root))

	if height == 0 {
		if err := bootstrapGenesis(store, cfg); err != nil {
			return fmt.Errorf("dexd: bootstrap genesis: %w", err)
		}
		log.Sugar().Infow("genesis_bootstrapped", "chain_id", cfg.ChainID)
	} else if len(cfg.BridgeOperators) > 0 {
		if err := registerBridgeOperators(store, height+1, cfg.BridgeOperators); err != nil {
			return fmt.Errorf("dexd: register bridge operators: %w", err)
		}
	}

	pool := mempool.New()
	exec := executor.New(store, pool, log)
	if err := exec.Recover(); err != nil {
		return fmt.Errorf("dexd: recover order books: %w", err)
	}
	if cfg.Snapshot.Enabled {
		exec.SetSnapshotExporter(snapshot.New(snapshot.Config{
			Enabled: true, Interval: cfg.Snapshot.Interval, Dir: cfg.Snapshot.Dir, ChainID: cfg.ChainID,
		}))
	}

	server := rpc.New(store, exec, pool, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Sugar().Infow("rpc_server_starting", "addr", cfg.RPC.ListenAddr)
		errCh <- server.Start(cfg.RPC.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		log.Sugar().Info("shutdown signal received")
		return nil
	case err := <-errCh:
		return fmt.Errorf("dexd: rpc server: %w", err)
	}
}

// parseAddresses splits a comma-separated address list, skipping entries
// that aren't valid hex addresses rather than failing the whole flag.
func parseAddresses(v string) []types.Address {
	var out []types.Address
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" || !common.IsHexAddress(part) {
			continue
		}
		out = append(out, common.HexToAddress(part))
	}
	return out
}

func loggerFor(cfg params.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	if cfg.LogFile != "" {
		return logging.NewWithFile(level, cfg.LogFile)
	}
	return logging.New(level)
}

// bootstrapGenesis registers the quote asset, a default BTC-PERP market,
// and any configured bridge operators at height 1 — the daemon's first
// commit on a fresh store, always leaving it with a ready-to-trade market.
func bootstrapGenesis(store *state.Store, cfg params.Config) error {
	if err := store.BeginBlock(1); err != nil {
		return err
	}
	if err := market.PutAsset(store, market.Asset{ID: 0, Symbol: "USDC", Decimals: 6, IsCollateral: true}); err != nil {
		return err
	}
	if err := market.PutAsset(store, market.Asset{ID: 1, Symbol: "BTC", Decimals: 8}); err != nil {
		return err
	}
	if err := market.PutMarket(store, market.Market{
		ID: 1, Symbol: "BTC-PERP", BaseAsset: 1, QuoteAsset: 0,
		TickSize: 1, MinOrderSize: 1, MaxOrderSize: 1_000_000_000,
		MaxLeverage: 20, InitialMarginBps: 500, MaintenanceMarginBps: 300,
		LiquidationFeeBps: 50, FundingIntervalSecs: 3600, MaxFundingRateBps: 75,
	}); err != nil {
		return err
	}
	for _, addr := range cfg.BridgeOperators {
		auth.SetBridgeOperator(store, addr, true)
	}
	_, err := store.Commit(1)
	return err
}

// registerBridgeOperators adds any configured operators not already known,
// for a daemon restarted against an existing store with a changed
// BRIDGE_OPERATORS list.
func registerBridgeOperators(store *state.Store, height uint64, operators []types.Address) error {
	if err := store.BeginBlock(height); err != nil {
		return err
	}
	for _, addr := range operators {
		auth.SetBridgeOperator(store, addr, true)
	}
	_, err := store.Commit(height)
	return err
}
