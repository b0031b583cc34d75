// Package testutil provides fixtures shared by other packages' tests: a
// temp-dir-backed internal/state.Store opened through a full genesis
// cycle, a deterministic clock, and a signed-transaction generator for
// randomized/fuzz-style block tests. The generator holds a pool of
// signers, a rand.Rand, and a per-address nonce table; its Sign method
// encodes any payload, and its RandomPlaceOrder and RandomBatch methods
// return ready-to-submit encoded PlaceOrder transactions (they generate no
// other payload type).
package testutil

import (
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/dexcore/perpchain/internal/account"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

// Clock abstracts time.Now so tests can control funding-interval and
// timestamp-dependent behavior deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// FakeClock is a manually-advanced Clock for deterministic tests.
type FakeClock struct {
	now time.Time
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{now: t} }

func (c *FakeClock) Now() time.Time { return c.now }

// After fires immediately on a closed, pre-buffered channel rather than
// waiting d, since fixtures need immediate deterministic progress.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.now = c.now.Add(d)
	ch <- c.now
	close(ch)
	return ch
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

// OpenStore opens a fresh temp-dir-backed store, cleaned up automatically
// at test end.
func OpenStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("testutil: open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Genesis opens a fresh store and, inside a single BeginBlock(1)/Commit(1)
// cycle, registers mkt, its quote asset (symbol "USDC", 6 decimals,
// collateral-eligible), and credits each of owners with balance units of
// the quote asset. internal/state.Store.Set only writes into a block
// already opened by BeginBlock, so every genesis fixture across this
// module follows this same open-write-commit shape.
func Genesis(t *testing.T, mkt market.Market, owners []types.Address, balance *big.Int) *state.Store {
	t.Helper()
	s := OpenStore(t)

	if err := s.BeginBlock(1); err != nil {
		t.Fatalf("testutil: begin genesis block: %v", err)
	}
	if err := market.PutAsset(s, market.Asset{ID: mkt.QuoteAsset, Symbol: "USDC", Decimals: 6, IsCollateral: true}); err != nil {
		t.Fatalf("testutil: put quote asset: %v", err)
	}
	if err := market.PutMarket(s, mkt); err != nil {
		t.Fatalf("testutil: put market: %v", err)
	}
	for _, owner := range owners {
		if err := account.Credit(s, owner, mkt.QuoteAsset, balance); err != nil {
			t.Fatalf("testutil: credit %x: %v", owner, err)
		}
	}
	if _, err := s.Commit(1); err != nil {
		t.Fatalf("testutil: commit genesis: %v", err)
	}
	return s
}

// SignerPool is a fixed set of generated keypairs plus a per-address
// nonce table, for tests that need to submit many transactions from a
// realistic population of traders.
type SignerPool struct {
	signers []*tx.Signer
	nonces  map[types.Address]uint64
	rng     *rand.Rand
}

// NewSignerPool generates n signers deterministically seeded by seed, so
// repeated test runs exercise the same population.
func NewSignerPool(t *testing.T, n int, seed int64) *SignerPool {
	t.Helper()
	signers := make([]*tx.Signer, n)
	nonces := make(map[types.Address]uint64, n)
	for i := 0; i < n; i++ {
		signer, err := tx.GenerateSigner()
		if err != nil {
			t.Fatalf("testutil: generate signer %d: %v", i, err)
		}
		signers[i] = signer
		nonces[signer.Address()] = 0
	}
	return &SignerPool{signers: signers, nonces: nonces, rng: rand.New(rand.NewSource(seed))}
}

// Addresses returns every pool member's address, in generation order.
func (p *SignerPool) Addresses() []types.Address {
	addrs := make([]types.Address, len(p.signers))
	for i, s := range p.signers {
		addrs[i] = s.Address()
	}
	return addrs
}

// Random returns a uniformly-chosen signer from the pool.
func (p *SignerPool) Random() *tx.Signer {
	return p.signers[p.rng.Intn(len(p.signers))]
}

// Sign builds, signs, and encodes a transaction from signer with the next
// nonce the pool has recorded for it, advancing that nonce for next time.
func (p *SignerPool) Sign(t *testing.T, signer *tx.Signer, payload tx.Payload) []byte {
	t.Helper()
	nonce := p.nonces[signer.Address()]
	p.nonces[signer.Address()] = nonce + 1

	txn := &tx.Transaction{Nonce: nonce, Sender: signer.Address(), Payload: payload}
	if err := txn.Sign(signer); err != nil {
		t.Fatalf("testutil: sign: %v", err)
	}
	raw, err := txn.Encode()
	if err != nil {
		t.Fatalf("testutil: encode: %v", err)
	}
	return raw
}

// RandomPlaceOrder builds a signed PlaceOrder from a random pool member
// against market, with price varying ±variation ticks around basePrice and
// size in [1, maxSize], for block-level randomized/load tests.
func (p *SignerPool) RandomPlaceOrder(t *testing.T, marketID types.MarketID, basePrice uint64, variation, maxSize uint64) []byte {
	t.Helper()
	signer := p.Random()

	delta := int64(p.rng.Intn(int(2*variation+1))) - int64(variation)
	price := int64(basePrice) + delta
	if price < 1 {
		price = 1
	}
	size := uint64(p.rng.Intn(int(maxSize))) + 1
	side := types.SideBuy
	if p.rng.Intn(2) == 1 {
		side = types.SideSell
	}
	tifRoll := p.rng.Intn(100)
	tif := types.TIFGTC
	switch {
	case tifRoll >= 90:
		tif = types.TIFFOK
	case tifRoll >= 70:
		tif = types.TIFIOC
	}

	return p.Sign(t, signer, tx.PlaceOrder{
		Market: marketID,
		Side:   side,
		Price:  uint64(price),
		Size:   size,
		TIF:    tif,
	})
}

// RandomBatch generates count independent signed PlaceOrder transactions
// against market, for load-test fixtures exercising internal/scheduler's
// parallelism heuristics or internal/executor's per-block throughput.
func (p *SignerPool) RandomBatch(t *testing.T, marketID types.MarketID, basePrice uint64, variation, maxSize uint64, count int) [][]byte {
	t.Helper()
	batch := make([][]byte, count)
	for i := 0; i < count; i++ {
		batch[i] = p.RandomPlaceOrder(t, marketID, basePrice, variation, maxSize)
	}
	return batch
}

// SampleMarket returns a representative BTC-PERP fixture market, the same
// shape every package's own tests hand-build; kept here so future
// packages can share one definition instead of redefining it.
func SampleMarket() market.Market {
	return market.Market{
		ID:                   1,
		Symbol:               "BTC-PERP",
		BaseAsset:            1,
		QuoteAsset:           0,
		TickSize:             1,
		MinOrderSize:         1,
		MaxOrderSize:         1_000_000,
		MaxLeverage:          20,
		InitialMarginBps:     500,
		MaintenanceMarginBps: 300,
		LiquidationFeeBps:    50,
		FundingIntervalSecs:  3600,
	}
}
