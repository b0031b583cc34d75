// Package scheduler is a non-core, analysis-only helper. It never sits on
// the executor's commit path — internal/executor always runs transactions
// sequentially in submission order. What it offers instead is an estimate
// of how much parallelism a block *would* admit, for operators deciding
// whether a future optimistic-execution engine is worth building:
// dependency-graph conflict detection over each transaction's declared
// read/write set, grouped into independent batches with a parallelism
// score and a should-parallelize heuristic.
//
// Declaring each transaction's access set concurrently uses
// golang.org/x/sync/errgroup for bounded fan-out; it is safe here because
// declaring access sets is a pure read over each transaction's own decoded
// fields, never a state mutation.
package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

// AccessKind distinguishes the state domains a transaction can touch.
type AccessKind uint8

const (
	AccessBalance AccessKind = iota
	AccessNonce
	AccessOrderBook
	AccessPosition
	AccessAgent
	AccessBridgeOperator
)

// Access identifies one logical piece of state a transaction reads or
// writes, the Go equivalent of the Rust prototype's StateAccess enum.
type Access struct {
	Kind   AccessKind
	Addr   types.Address
	Asset  types.AssetID
	Market types.MarketID
}

// declareAccesses enumerates the read/write set for one decoded
// transaction, mirroring block_stm.rs's Transaction::declare_accesses per
// payload variant. Every payload at minimum touches the sender's nonce;
// most also touch a balance, a market's order book, or a position.
func declareAccesses(t *tx.Transaction) []Access {
	accesses := []Access{{Kind: AccessNonce, Addr: t.Sender}}

	switch p := t.Payload.(type) {
	case tx.PayloadDepositT:
		accesses = append(accesses, Access{Kind: AccessBalance, Addr: t.Sender, Asset: p.Asset})
	case tx.PayloadWithdrawT:
		accesses = append(accesses, Access{Kind: AccessBalance, Addr: t.Sender, Asset: p.Asset})
	case tx.PlaceOrder:
		accesses = append(accesses,
			Access{Kind: AccessOrderBook, Market: p.Market},
			Access{Kind: AccessPosition, Addr: t.Sender, Market: p.Market},
		)
	case tx.CancelOrder:
		accesses = append(accesses, Access{Kind: AccessOrderBook, Market: p.Market})
	case tx.ModifyOrder:
		accesses = append(accesses,
			Access{Kind: AccessOrderBook, Market: p.Market},
			Access{Kind: AccessPosition, Addr: t.Sender, Market: p.Market},
		)
	case tx.ClosePosition:
		accesses = append(accesses,
			Access{Kind: AccessOrderBook, Market: p.Market},
			Access{Kind: AccessPosition, Addr: t.Sender, Market: p.Market},
		)
	case tx.SetAgent:
		accesses = append(accesses, Access{Kind: AccessAgent, Addr: t.Sender})
	case tx.RemoveAgent:
		accesses = append(accesses, Access{Kind: AccessAgent, Addr: t.Sender})
	case tx.Transfer:
		accesses = append(accesses,
			Access{Kind: AccessBalance, Addr: t.Sender, Asset: p.Asset},
			Access{Kind: AccessBalance, Addr: p.To, Asset: p.Asset},
		)
	case tx.BridgeDeposit:
		accesses = append(accesses,
			Access{Kind: AccessBridgeOperator, Addr: t.Sender},
			Access{Kind: AccessBalance, Addr: p.To, Asset: p.Asset},
		)
	case tx.BridgeWithdraw:
		accesses = append(accesses,
			Access{Kind: AccessBridgeOperator, Addr: t.Sender},
			Access{Kind: AccessBalance, Addr: p.From, Asset: p.Asset},
		)
	}
	return accesses
}

// node is one transaction's position in the dependency graph.
type node struct {
	index        int
	reads, write []Access
}

func conflicts(a, b []Access) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// DependencyGraph holds, for each transaction index, the set of earlier
// indices it must wait behind.
type DependencyGraph struct {
	nodes []node
	deps  [][]int
}

// BuildGraph decodes every raw transaction and computes pairwise
// read/write conflicts: tx j depends on tx i (i<j) if i's access set
// intersects j's. Decode failures are treated as a full-width dependency
// (conservatively depends on everything before it) since a malformed
// transaction's access set can't be trusted. Declaring each transaction's
// access set is independent per-index, so it is parallelized with an
// errgroup bounded to the number of raw transactions.
func BuildGraph(ctx context.Context, rawTxs [][]byte) (*DependencyGraph, error) {
	nodes := make([]node, len(rawTxs))

	g, _ := errgroup.WithContext(ctx)
	for i, raw := range rawTxs {
		i, raw := i, raw
		g.Go(func() error {
			t, err := tx.Decode(raw)
			if err != nil {
				nodes[i] = node{index: i} // no declared accesses; handled conservatively below
				return nil
			}
			accesses := declareAccesses(t)
			nodes[i] = node{index: i, reads: accesses, write: accesses}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scheduler: declare accesses: %w", err)
	}

	deps := make([][]int, len(nodes))
	for j := range nodes {
		for i := 0; i < j; i++ {
			if len(nodes[i].write) == 0 || len(nodes[j].reads) == 0 || conflicts(nodes[i].write, nodes[j].reads) {
				deps[j] = append(deps[j], i)
			}
		}
	}
	return &DependencyGraph{nodes: nodes, deps: deps}, nil
}

// IndependentGroups partitions transaction indices into waves that could,
// in principle, execute concurrently: wave k+1 may only contain
// transactions whose every dependency falls in waves 0..k.
func (g *DependencyGraph) IndependentGroups() [][]int {
	executed := make(map[int]bool, len(g.nodes))
	remaining := make(map[int]bool, len(g.nodes))
	for i := range g.nodes {
		remaining[i] = true
	}

	var groups [][]int
	for len(remaining) > 0 {
		var ready []int
		for idx := range remaining {
			ok := true
			for _, dep := range g.deps[idx] {
				if !executed[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, idx)
			}
		}
		if len(ready) == 0 {
			break // acyclic by construction; defensive exit only
		}
		groups = append(groups, ready)
		for _, idx := range ready {
			executed[idx] = true
			delete(remaining, idx)
		}
	}
	return groups
}

// ParallelismScore is the average transactions per independent group:
// total_txs / total_groups, matching block_stm.rs's parallelism_score.
func (g *DependencyGraph) ParallelismScore() float64 {
	groups := g.IndependentGroups()
	if len(groups) == 0 {
		return 0
	}
	return float64(len(g.nodes)) / float64(len(groups))
}

// BlockAnalysis summarizes a block's parallelism potential.
type BlockAnalysis struct {
	TotalTxs         int
	NumGroups        int
	ParallelismScore float64
	MaxGroupSize     int
}

// Analyze runs BuildGraph and summarizes the result.
func Analyze(ctx context.Context, rawTxs [][]byte) (BlockAnalysis, error) {
	g, err := BuildGraph(ctx, rawTxs)
	if err != nil {
		return BlockAnalysis{}, err
	}
	groups := g.IndependentGroups()
	maxGroup := 0
	for _, group := range groups {
		if len(group) > maxGroup {
			maxGroup = len(group)
		}
	}
	return BlockAnalysis{
		TotalTxs:         len(rawTxs),
		NumGroups:        len(groups),
		ParallelismScore: g.ParallelismScore(),
		MaxGroupSize:     maxGroup,
	}, nil
}

// ShouldParallelize applies block_stm.rs's should_parallelize heuristic:
// at least 10 transactions, a parallelism score of at least 1.5, and at
// least 2 independent groups.
func (a BlockAnalysis) ShouldParallelize() bool {
	return a.TotalTxs >= 10 && a.ParallelismScore >= 1.5 && a.NumGroups >= 2
}
