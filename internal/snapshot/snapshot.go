// Package snapshot implements periodic snapshot export: on each qualifying
// commit the core flushes the store, takes a hard-link checkpoint
// (internal/state.Store.CreateCheckpoint), tars-and-compresses it, writes
// it (and a sidecar metadata JSON) to a configured destination, and
// updates a latest.json pointer.
//
// Exporter targets a local directory using archive/tar plus
// github.com/klauspost/compress's zstd encoder for the archive body; a
// remote object-store destination can sit behind the same Config.Dir by
// mounting or syncing that directory externally.
package snapshot

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dexcore/perpchain/internal/state"
)

// Config controls when and where snapshots are produced.
type Config struct {
	Enabled  bool
	Interval uint64 // in blocks; a commit at height h qualifies when h % Interval == 0
	Dir      string // destination directory for archives + latest.json
	ChainID  string
}

// Meta is the sidecar JSON written alongside each snapshot archive.
type Meta struct {
	Height       uint64 `json:"height"`
	StateRoot    string `json:"state_root"`
	Timestamp    int64  `json:"timestamp"`
	DBSize       int64  `json:"db_size"`
	SnapshotSize int64  `json:"snapshot_size"`
	ChainID      string `json:"chain_id"`
	Version      string `json:"version"`
}

// SchemaVersion is stamped into every Meta.Version; bump it if the archive
// layout changes in a way old consumers can't read.
const SchemaVersion = "1"

// Exporter produces checkpoints on qualifying commits.
type Exporter struct {
	cfg Config
}

func New(cfg Config) *Exporter { return &Exporter{cfg: cfg} }

// Qualifies reports whether height should trigger a snapshot under this
// configuration.
func (e *Exporter) Qualifies(height uint64) bool {
	return e.cfg.Enabled && e.cfg.Interval > 0 && height%e.cfg.Interval == 0
}

// Export takes a checkpoint of store at height with the given committed
// root, archives it, and updates latest.json. Safe to call only after the
// commit for height has completed (the checkpoint must observe a
// consistent, fully-committed tree).
func (e *Exporter) Export(store *state.Store, height uint64, root [32]byte) error {
	if !e.cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir %s: %w", e.cfg.Dir, err)
	}

	checkpointDir := filepath.Join(e.cfg.Dir, fmt.Sprintf("checkpoint-%d", height))
	defer os.RemoveAll(checkpointDir)
	if err := store.CreateCheckpoint(checkpointDir); err != nil {
		return fmt.Errorf("snapshot: checkpoint: %w", err)
	}

	dbSize, err := dirSize(checkpointDir)
	if err != nil {
		return fmt.Errorf("snapshot: measure checkpoint: %w", err)
	}

	archivePath := filepath.Join(e.cfg.Dir, fmt.Sprintf("snapshot-%d.tar.zst", height))
	snapshotSize, err := archive(checkpointDir, archivePath)
	if err != nil {
		return fmt.Errorf("snapshot: archive: %w", err)
	}

	meta := Meta{
		Height:       height,
		StateRoot:    fmt.Sprintf("%x", root),
		Timestamp:    time.Now().Unix(),
		DBSize:       dbSize,
		SnapshotSize: snapshotSize,
		ChainID:      e.cfg.ChainID,
		Version:      SchemaVersion,
	}
	metaPath := filepath.Join(e.cfg.Dir, fmt.Sprintf("snapshot-%d.json", height))
	if err := writeJSON(metaPath, meta); err != nil {
		return fmt.Errorf("snapshot: write metadata: %w", err)
	}
	if err := writeJSON(filepath.Join(e.cfg.Dir, "latest.json"), meta); err != nil {
		return fmt.Errorf("snapshot: write latest pointer: %w", err)
	}
	return nil
}

// Latest reads the latest.json pointer, for recovery tooling that wants to
// find the newest exported snapshot without listing the directory.
func Latest(dir string) (Meta, error) {
	b, err := os.ReadFile(filepath.Join(dir, "latest.json"))
	if err != nil {
		return Meta{}, fmt.Errorf("snapshot: read latest pointer: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("snapshot: decode latest pointer: %w", err)
	}
	return m, nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// archive tars dir's contents and zstd-compresses the stream into
// destPath, returning the resulting archive's size.
func archive(dir, destPath string) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(zw)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		tw.Close()
		zw.Close()
		return 0, err
	}
	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}

	fi, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
