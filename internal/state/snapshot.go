package state

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
)

func sha256Sum(b []byte) [32]byte { return sha256.Sum256(b) }

// Prune deletes root-at-version pointers older than pruneBefore that do not
// fall on a snapshot boundary, then triggers a manual compaction so the
// underlying LSM actually reclaims the space. Value blobs and tree nodes
// are content-addressed and may be shared with a retained snapshot
// version, so they are left in place; a full mark-and-sweep GC of
// orphaned blobs/nodes is future work.
func (s *Store) Prune(pruneBefore uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := []byte{pfxRootAt}
	upper := make([]byte, 9)
	upper[0] = pfxRootAt
	binary.BigEndian.PutUint64(upper[1:], pruneBefore)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("state: prune iterator: %w", err)
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	for iter.First(); iter.Valid(); iter.Next() {
		version := binary.BigEndian.Uint64(iter.Key()[1:])
		isSnap, err := s.isSnapshot(version)
		if err != nil {
			return err
		}
		if isSnap || version == s.head {
			continue
		}
		if err := batch.Delete(iter.Key(), nil); err != nil {
			return fmt.Errorf("state: prune delete: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("state: prune commit: %w", err)
	}
	if err := s.db.Compact(lower, upper, true); err != nil {
		return fmt.Errorf("state: prune compact: %w", err)
	}
	return nil
}

// CreateCheckpoint produces a consistent physical copy of the store at dir
// using pebble's hard-link checkpoint feature. internal/snapshot
// compresses and exports the result.
func (s *Store) CreateCheckpoint(dir string) error {
	if err := s.db.Checkpoint(dir); err != nil {
		return fmt.Errorf("state: create checkpoint: %w", err)
	}
	return nil
}
