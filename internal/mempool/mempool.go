// Package mempool holds pending, not-yet-executed transactions outside of
// consensus. It is a process-local, in-memory component: transactions
// enter via Add, are offered to the proposer in per-sender nonce order via
// ReadyTxs, and are evicted either individually (Remove, which the executor
// calls for each successfully executed transaction) or in bulk per sender
// (PruneSenderNonces, which nothing in this module calls).
//
// The mempool is a sync.Mutex-guarded struct built around a per-sender
// nonce-indexed map, rather than FIFO queues, so that ReadyTxs can offer
// transactions in the exact order the executor's nonce check requires.
package mempool

import (
	"bytes"
	"sort"
	"sync"

	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

// Default capacities for New.
const (
	DefaultCapacity          = 10_000
	DefaultPerSenderCapacity = 100
)

type entry struct {
	hash   [32]byte
	sender types.Address
	nonce  uint64
	raw    []byte
}

// Mempool is a capacity-bounded, per-sender nonce-ordered holding area for
// encoded transactions.
type Mempool struct {
	mu sync.Mutex

	capacity          int
	perSenderCapacity int

	byHash   map[[32]byte]*entry
	bySender map[types.Address]map[uint64]*entry
}

// New returns a Mempool with the default capacities.
func New() *Mempool {
	return NewWithCapacity(DefaultCapacity, DefaultPerSenderCapacity)
}

// NewWithCapacity returns a Mempool with explicit total/per-sender capacities.
func NewWithCapacity(capacity, perSenderCapacity int) *Mempool {
	return &Mempool{
		capacity:          capacity,
		perSenderCapacity: perSenderCapacity,
		byHash:            make(map[[32]byte]*entry),
		bySender:          make(map[types.Address]map[uint64]*entry),
	}
}

// Add admits t, returning its hash. It rejects a tx whose hash is already
// present, a tx arriving once the mempool is at capacity, or a tx from a
// sender that has already reached its per-account cap.
func (m *Mempool) Add(t *tx.Transaction) ([32]byte, error) {
	hash, err := t.Hash()
	if err != nil {
		return [32]byte{}, err
	}
	raw, err := t.Encode()
	if err != nil {
		return [32]byte{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[hash]; exists {
		return hash, types.ErrDuplicateTx
	}
	if len(m.byHash) >= m.capacity {
		return [32]byte{}, types.ErrMempoolFull
	}
	senderTxs := m.bySender[t.Sender]
	if len(senderTxs) >= m.perSenderCapacity {
		return [32]byte{}, types.ErrSenderTxCapReached
	}

	e := &entry{hash: hash, sender: t.Sender, nonce: t.Nonce, raw: raw}
	m.byHash[hash] = e
	if senderTxs == nil {
		senderTxs = make(map[uint64]*entry)
		m.bySender[t.Sender] = senderTxs
	}
	senderTxs[t.Nonce] = e
	return hash, nil
}

// Remove evicts a single transaction by hash. It is a no-op if hash is
// unknown.
func (m *Mempool) Remove(hash [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(hash)
}

func (m *Mempool) removeLocked(hash [32]byte) {
	e, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(m.byHash, hash)
	if senderTxs := m.bySender[e.sender]; senderTxs != nil {
		delete(senderTxs, e.nonce)
		if len(senderTxs) == 0 {
			delete(m.bySender, e.sender)
		}
	}
}

// ReadyTxs returns up to limit encoded transactions (0 means unlimited),
// grouped by sender in a deterministic (address-ascending) order and ordered
// by nonce within each sender, the shape the block-execution RPC's get_txs
// relies on to feed the executor nonce-checked transactions in the order
// it can apply them.
func (m *Mempool) ReadyTxs(limit int) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	senders := make([]types.Address, 0, len(m.bySender))
	for s := range m.bySender {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool {
		return bytes.Compare(senders[i][:], senders[j][:]) < 0
	})

	var out [][]byte
	for _, s := range senders {
		if limit > 0 && len(out) >= limit {
			break
		}
		txs := m.bySender[s]
		nonces := make([]uint64, 0, len(txs))
		for n := range txs {
			nonces = append(nonces, n)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
		for _, n := range nonces {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, txs[n].raw)
		}
	}
	return out
}

// PruneSenderNonces drops every pending transaction from sender with a nonce
// at or below maxNonce. Nothing in this module calls it: the executor evicts
// each successfully executed transaction with Remove, and a transaction that
// failed stays in the pool.
func (m *Mempool) PruneSenderNonces(sender types.Address, maxNonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := m.bySender[sender]
	if txs == nil {
		return
	}
	for n, e := range txs {
		if n <= maxNonce {
			delete(m.byHash, e.hash)
			delete(txs, n)
		}
	}
	if len(txs) == 0 {
		delete(m.bySender, sender)
	}
}

// Len returns the total number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}

// SenderLen returns the number of pending transactions from sender.
func (m *Mempool) SenderLen(sender types.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bySender[sender])
}

// Has reports whether hash is currently pending.
func (m *Mempool) Has(hash [32]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byHash[hash]
	return ok
}
