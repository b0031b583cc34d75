// Package state implements the versioned KV/Merkle store: staged writes
// with read-your-writes, a Merkle fold on commit, historical reads,
// snapshots, pruning, and checkpoint export. It wraps
// github.com/cockroachdb/pebble for block/account persistence, keyed by
// the typed statekey enum (internal/statekey) rather than string-formatted
// keys, and every write goes through the sparse Merkle tree in
// internal/merkle rather than being written to pebble directly.
package state

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/dexcore/perpchain/internal/merkle"
	"github.com/dexcore/perpchain/internal/statekey"
)

// Pebble key-space prefixes for the store's own bookkeeping. These are a
// separate namespace from statekey's discriminants: statekey addresses
// *logical* state; these address the physical Merkle-tree/value
// representation backing it.
const (
	pfxNode     = 'n' // nodeHash(32) -> encoded merkle.Node
	pfxBlob     = 'b' // valueHash(32) -> raw value bytes (content-addressed)
	pfxLatest   = 'l' // keyHash(32) -> version(8BE) || valueHash(32)
	pfxRootAt   = 'o' // version(8BE) -> root(32)
	pfxSnapshot = 's' // version(8BE) -> 0x01
	pfxHead     = 'h' // (singleton) -> version(8BE) || root(32)
)

type stagedEntry struct {
	// value == nil marks a staged delete (tombstone).
	value []byte
}

// Store is the versioned KV/Merkle store. All state-mutating methods are
// intended to be called from the executor's single-threaded block-commit
// path; Get/GetAt may be called concurrently by read-only query paths once
// a block has committed.
type Store struct {
	mu sync.RWMutex

	db   *pebble.DB
	tree *merkle.Tree

	head     uint64
	headRoot merkle.Hash

	pending uint64
	staged  map[merkle.Hash]stagedEntry

	snapshotInterval uint64
}

// Open opens (or creates) a pebble-backed store at path and recovers the
// committed head: if no head key exists the store is fresh and starts at
// version 0 with the empty root.
func Open(path string, snapshotInterval uint64) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("state: open pebble store: %w", err)
	}
	s := &Store{
		db:               db,
		snapshotInterval: snapshotInterval,
		headRoot:         merkle.EmptyRoot(),
		staged:           make(map[merkle.Hash]stagedEntry),
	}
	s.tree = merkle.New((*nodeStoreAdapter)(s))

	head, root, ok, err := s.readHead()
	if err != nil {
		db.Close()
		return nil, err
	}
	if ok {
		s.head = head
		s.headRoot = root
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Head returns the last committed version and its root.
func (s *Store) Head() (uint64, merkle.Hash) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.headRoot
}

// BeginBlock opens a fresh staged-write buffer for height. height must be
// greater than the current head (gaps are accepted); a store whose head is
// 0 also accepts height 0.
func (s *Store) BeginBlock(height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height <= s.head && !(s.head == 0 && height == 0) {
		return fmt.Errorf("state: begin_block(%d) is not after head %d", height, s.head)
	}
	s.pending = height
	s.staged = make(map[merkle.Hash]stagedEntry)
	return nil
}

// Set stages a write against the in-progress block. Visible to Get within
// the same uncommitted batch; invisible to GetAt on any committed version.
func (s *Store) Set(key statekey.Key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), value...)
	s.staged[key.Hash()] = stagedEntry{value: cp}
}

// Delete stages a tombstone.
func (s *Store) Delete(key statekey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[key.Hash()] = stagedEntry{value: nil}
}

// Get reads key honoring the staged buffer (read-your-writes) and falling
// back to the last committed head.
func (s *Store) Get(key statekey.Key) ([]byte, bool, error) {
	s.mu.RLock()
	if e, ok := s.staged[key.Hash()]; ok {
		value := e.value
		s.mu.RUnlock()
		return value, value != nil, nil
	}
	head := s.head
	s.mu.RUnlock()
	return s.GetAt(key, head)
}

// GetAt reads key as of a specific committed version, ignoring any staged
// buffer. The common case (version == current head) is served in O(1) via
// the per-key latest-version pointer; any other version falls back to a
// tree walk at that version's recorded root.
func (s *Store) GetAt(key statekey.Key, version uint64) ([]byte, bool, error) {
	s.mu.RLock()
	head := s.head
	s.mu.RUnlock()

	keyHash := merkle.Hash(key.Hash())
	if version == head {
		ver, valueHash, ok, err := s.readLatestPointer(keyHash)
		if err != nil {
			return nil, false, err
		}
		if !ok || ver > version || valueHash.IsZero() {
			return nil, false, nil
		}
		return s.readBlob(valueHash)
	}

	root, ok, err := s.readRootAt(version)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("state: no root recorded at version %d", version)
	}
	valueHash, found, err := s.tree.Get(root, keyHash)
	if err != nil {
		return nil, false, fmt.Errorf("state: tree walk at version %d: %w", version, err)
	}
	if !found || valueHash.IsZero() {
		return nil, false, nil
	}
	return s.readBlob(valueHash)
}

// Commit folds the staged buffer into the Merkle tree at height, persists
// the new root, latest-version pointers, and committed-head marker, and
// returns the new root. On any failure the staged buffer is left intact
// and the store's head is unchanged — callers must treat this as fatal
// for the block.
func (s *Store) Commit(height uint64) (merkle.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height != s.pending {
		return merkle.Hash{}, fmt.Errorf("state: commit(%d) does not match pending block %d", height, s.pending)
	}

	batch := s.db.NewBatch()
	root := s.headRoot
	for keyHash, entry := range s.staged {
		var valueHash merkle.Hash
		if entry.value != nil {
			valueHash = merkle.Hash(sha256Sum(entry.value))
			if err := putBlob(batch, valueHash, entry.value); err != nil {
				return merkle.Hash{}, err
			}
		}
		var err error
		root, err = s.tree.Put(root, keyHash, valueHash)
		if err != nil {
			return merkle.Hash{}, fmt.Errorf("state: merkle put: %w", err)
		}
		if err := putLatestPointer(batch, keyHash, height, valueHash); err != nil {
			return merkle.Hash{}, err
		}
	}

	if err := putRootAt(batch, height, root); err != nil {
		return merkle.Hash{}, err
	}
	if s.snapshotInterval > 0 && height%s.snapshotInterval == 0 {
		if err := markSnapshot(batch, height); err != nil {
			return merkle.Hash{}, err
		}
	}
	if err := putHead(batch, height, root); err != nil {
		return merkle.Hash{}, err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return merkle.Hash{}, fmt.Errorf("state: commit batch: %w", err)
	}

	s.head = height
	s.headRoot = root
	s.staged = make(map[merkle.Hash]stagedEntry)
	return root, nil
}

// nodeStoreAdapter lets *Store satisfy merkle.NodeStore without exposing
// pebble internals on Store's own method set.
type nodeStoreAdapter Store

func (a *nodeStoreAdapter) GetNode(h merkle.Hash) (merkle.Node, bool, error) {
	s := (*Store)(a)
	key := append([]byte{pfxNode}, h[:]...)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return merkle.Node{}, false, nil
	}
	if err != nil {
		return merkle.Node{}, false, fmt.Errorf("state: get node: %w", err)
	}
	defer closer.Close()
	n, err := merkle.DecodeNode(val)
	if err != nil {
		return merkle.Node{}, false, err
	}
	return n, true, nil
}

func (a *nodeStoreAdapter) PutNode(h merkle.Hash, n merkle.Node) error {
	s := (*Store)(a)
	key := append([]byte{pfxNode}, h[:]...)
	if err := s.db.Set(key, merkle.EncodeNode(n), pebble.NoSync); err != nil {
		return fmt.Errorf("state: put node: %w", err)
	}
	return nil
}

func putBlob(w pebble.Writer, h merkle.Hash, value []byte) error {
	key := append([]byte{pfxBlob}, h[:]...)
	if err := w.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("state: put blob: %w", err)
	}
	return nil
}

func (s *Store) readBlob(h merkle.Hash) ([]byte, bool, error) {
	key := append([]byte{pfxBlob}, h[:]...)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: get blob: %w", err)
	}
	defer closer.Close()
	cp := append([]byte(nil), val...)
	return cp, true, nil
}

func putLatestPointer(w pebble.Writer, keyHash merkle.Hash, version uint64, valueHash merkle.Hash) error {
	key := append([]byte{pfxLatest}, keyHash[:]...)
	val := make([]byte, 8+32)
	binary.BigEndian.PutUint64(val[:8], version)
	copy(val[8:], valueHash[:])
	if err := w.Set(key, val, pebble.NoSync); err != nil {
		return fmt.Errorf("state: put latest pointer: %w", err)
	}
	return nil
}

func (s *Store) readLatestPointer(keyHash merkle.Hash) (uint64, merkle.Hash, bool, error) {
	key := append([]byte{pfxLatest}, keyHash[:]...)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, merkle.Hash{}, false, nil
	}
	if err != nil {
		return 0, merkle.Hash{}, false, fmt.Errorf("state: get latest pointer: %w", err)
	}
	defer closer.Close()
	if len(val) != 40 {
		return 0, merkle.Hash{}, false, fmt.Errorf("state: malformed latest pointer")
	}
	version := binary.BigEndian.Uint64(val[:8])
	var valueHash merkle.Hash
	copy(valueHash[:], val[8:])
	return version, valueHash, true, nil
}

func putRootAt(w pebble.Writer, version uint64, root merkle.Hash) error {
	key := make([]byte, 9)
	key[0] = pfxRootAt
	binary.BigEndian.PutUint64(key[1:], version)
	if err := w.Set(key, root[:], pebble.NoSync); err != nil {
		return fmt.Errorf("state: put root at version: %w", err)
	}
	return nil
}

func (s *Store) readRootAt(version uint64) (merkle.Hash, bool, error) {
	key := make([]byte, 9)
	key[0] = pfxRootAt
	binary.BigEndian.PutUint64(key[1:], version)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return merkle.Hash{}, false, nil
	}
	if err != nil {
		return merkle.Hash{}, false, fmt.Errorf("state: get root at version: %w", err)
	}
	defer closer.Close()
	var root merkle.Hash
	copy(root[:], val)
	return root, true, nil
}

func markSnapshot(w pebble.Writer, version uint64) error {
	key := make([]byte, 9)
	key[0] = pfxSnapshot
	binary.BigEndian.PutUint64(key[1:], version)
	if err := w.Set(key, []byte{0x01}, pebble.NoSync); err != nil {
		return fmt.Errorf("state: mark snapshot: %w", err)
	}
	return nil
}

func (s *Store) isSnapshot(version uint64) (bool, error) {
	key := make([]byte, 9)
	key[0] = pfxSnapshot
	binary.BigEndian.PutUint64(key[1:], version)
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: get snapshot marker: %w", err)
	}
	closer.Close()
	return true, nil
}

func putHead(w pebble.Writer, version uint64, root merkle.Hash) error {
	val := make([]byte, 8+32)
	binary.BigEndian.PutUint64(val[:8], version)
	copy(val[8:], root[:])
	if err := w.Set([]byte{pfxHead}, val, pebble.Sync); err != nil {
		return fmt.Errorf("state: put head: %w", err)
	}
	return nil
}

func (s *Store) readHead() (uint64, merkle.Hash, bool, error) {
	val, closer, err := s.db.Get([]byte{pfxHead})
	if err == pebble.ErrNotFound {
		return 0, merkle.Hash{}, false, nil
	}
	if err != nil {
		return 0, merkle.Hash{}, false, fmt.Errorf("state: get head: %w", err)
	}
	defer closer.Close()
	if len(val) != 40 {
		return 0, merkle.Hash{}, false, fmt.Errorf("state: malformed head marker")
	}
	version := binary.BigEndian.Uint64(val[:8])
	var root merkle.Hash
	copy(root[:], val[8:])
	return version, root, true, nil
}
