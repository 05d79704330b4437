package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tis24dev/flowsave/internal/seal"
	"github.com/tis24dev/flowsave/internal/types"
	"github.com/tis24dev/flowsave/pkg/utils"
)

const (
	snapshotPrefix    = "pre-restore-"
	snapshotTimestamp = "20060102-150405"
	manifestName      = "manifest.json"
)

// SnapshotArtifact describes one stored collection of a pre-restore snapshot.
type SnapshotArtifact struct {
	Kind    types.Kind `json:"kind"`
	File    string     `json:"file"`
	Records int        `json:"records"`
	Size    int64      `json:"size"`
	SHA256  string     `json:"sha256"`
	Sealed  bool       `json:"sealed"`
}

// SnapshotManifest is written next to the artifacts as manifest.json.
type SnapshotManifest struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Target    string             `json:"target"`
	Artifacts []SnapshotArtifact `json:"artifacts"`
}

// PreRestoreSnapshot is the on-host copy of the target state taken before
// a restore.
type PreRestoreSnapshot struct {
	Dir      string
	Manifest SnapshotManifest
}

// Artifact returns the stored artifact of kind.
func (s *PreRestoreSnapshot) Artifact(kind types.Kind) (SnapshotArtifact, bool) {
	for _, a := range s.Manifest.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return SnapshotArtifact{}, false
}

// TotalSize is the sum of the stored artifact sizes.
func (s *PreRestoreSnapshot) TotalSize() int64 {
	var total int64
	for _, a := range s.Manifest.Artifacts {
		total += a.Size
	}
	return total
}

// takeSnapshot exports the current state of every kind into a new snapshot
// directory and verifies it. On failure the directory is removed.
func (o *Orchestrator) takeSnapshot(ctx context.Context, kinds []types.Kind) (snap *PreRestoreSnapshot, err error) {
	if strings.TrimSpace(o.opts.SnapshotDir) == "" {
		return nil, errors.New("no snapshot directory configured")
	}
	if err := os.MkdirAll(o.opts.SnapshotDir, 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	now := o.clock.Now().UTC()
	id := o.shortID()
	dir := filepath.Join(o.opts.SnapshotDir, snapshotPrefix+now.Format(snapshotTimestamp)+"-"+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				o.logger.Warning("Failed to remove incomplete snapshot %s: %v", dir, rmErr)
			}
		}
	}()

	o.logger.Step("Taking pre-restore snapshot of %s into %s", o.opts.Target, dir)
	manifest := SnapshotManifest{ID: id, CreatedAt: now, Target: o.opts.Target}
	err = o.withStaging(ctx, false, func(staging string) error {
		for _, kind := range kinds {
			if _, err := o.exportKind(ctx, staging, kind, types.All(), types.LayoutSingleFile, dir, false, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sealed := o.opts.Sealer.CanSeal()
	for _, kind := range kinds {
		artifact, err := o.finishArtifact(dir, kind, sealed)
		if err != nil {
			return nil, newOpError("verify pre-restore snapshot", CategoryData, err)
		}
		manifest.Artifacts = append(manifest.Artifacts, artifact)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(filepath.Join(dir, manifestName), data, 0o600); err != nil {
		return nil, fmt.Errorf("write snapshot manifest: %w", err)
	}
	snap = &PreRestoreSnapshot{Dir: dir, Manifest: manifest}
	o.logger.Info("Pre-restore snapshot ready: %s (%s)", dir, humanize.Bytes(uint64(snap.TotalSize())))
	return snap, nil
}

// finishArtifact verifies the plain export of kind and seals it when sealed
// is set.
func (o *Orchestrator) finishArtifact(dir string, kind types.Kind, sealed bool) (SnapshotArtifact, error) {
	name := kind.SingleFileName()
	plain := filepath.Join(dir, name)
	data, err := os.ReadFile(plain)
	if err != nil {
		return SnapshotArtifact{}, err
	}
	records, err := countRecords(data, name)
	if err != nil {
		return SnapshotArtifact{}, err
	}

	stored := plain
	if sealed {
		stored = plain + seal.Ext
		if err := o.opts.Sealer.SealFile(plain, stored); err != nil {
			return SnapshotArtifact{}, fmt.Errorf("seal %s: %w", name, err)
		}
		if err := os.Remove(plain); err != nil {
			return SnapshotArtifact{}, fmt.Errorf("remove plain %s: %w", name, err)
		}
	}
	info, err := os.Stat(stored)
	if err != nil {
		return SnapshotArtifact{}, err
	}
	if info.Size() == 0 {
		return SnapshotArtifact{}, fmt.Errorf("%s is empty", filepath.Base(stored))
	}
	sum, err := utils.ComputeSHA256(stored)
	if err != nil {
		return SnapshotArtifact{}, err
	}
	o.logger.Debug("Snapshot artifact %s: %d record(s), %s", filepath.Base(stored), records, humanize.Bytes(uint64(info.Size())))
	return SnapshotArtifact{
		Kind:    kind,
		File:    filepath.Base(stored),
		Records: records,
		Size:    info.Size(),
		SHA256:  sum,
		Sealed:  sealed,
	}, nil
}

// LoadSnapshot reads and checks the manifest of a snapshot directory.
func LoadSnapshot(dir string) (*PreRestoreSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("read snapshot manifest: %w", err)
	}
	var manifest SnapshotManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse snapshot manifest: %w", err)
	}
	if len(manifest.Artifacts) == 0 {
		return nil, fmt.Errorf("snapshot manifest in %s lists no artifacts", dir)
	}
	for _, a := range manifest.Artifacts {
		if !a.Kind.Valid() {
			return nil, fmt.Errorf("snapshot manifest has unknown kind %q", a.Kind)
		}
		if a.File == "" || a.File != filepath.Base(a.File) {
			return nil, fmt.Errorf("snapshot manifest has invalid file name %q", a.File)
		}
	}
	return &PreRestoreSnapshot{Dir: dir, Manifest: manifest}, nil
}

// verify checks the stored artifact against the manifest checksum.
func (s *PreRestoreSnapshot) verify(a SnapshotArtifact) error {
	sum, err := utils.ComputeSHA256(filepath.Join(s.Dir, a.File))
	if err != nil {
		return err
	}
	if a.SHA256 != "" && sum != a.SHA256 {
		return fmt.Errorf("%s does not match its recorded checksum", a.File)
	}
	return nil
}

// ListSnapshots returns the snapshots under the snapshot directory, newest
// first. Directories without a readable manifest are skipped.
func (o *Orchestrator) ListSnapshots() ([]*PreRestoreSnapshot, error) {
	return ListSnapshots(o.opts.SnapshotDir)
}

// ListSnapshots returns the snapshots under dir, newest first.
func ListSnapshots(dir string) ([]*PreRestoreSnapshot, error) {
	matches, err := filepath.Glob(filepath.Join(dir, snapshotPrefix+"*"))
	if err != nil {
		return nil, err
	}
	var out []*PreRestoreSnapshot
	for _, m := range matches {
		snap, err := LoadSnapshot(m)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Manifest.CreatedAt.After(out[j].Manifest.CreatedAt)
	})
	return out, nil
}

// CleanupOldSnapshots removes pre-restore snapshots older than olderThan.
// A non-positive age disables the cleanup.
func (o *Orchestrator) CleanupOldSnapshots(olderThan time.Duration) (int, error) {
	if olderThan <= 0 || o.opts.SnapshotDir == "" {
		return 0, nil
	}
	matches, err := filepath.Glob(filepath.Join(o.opts.SnapshotDir, snapshotPrefix+"*"))
	if err != nil {
		return 0, err
	}

	now := o.clock.Now()
	removed := 0
	for _, match := range matches {
		created := time.Time{}
		if snap, err := LoadSnapshot(match); err == nil {
			created = snap.Manifest.CreatedAt
		} else if info, err := os.Stat(match); err == nil {
			created = info.ModTime()
		} else {
			continue
		}

		if now.Sub(created) > olderThan {
			if err := os.RemoveAll(match); err != nil {
				o.logger.Warning("Cannot remove old snapshot %s: %v", match, err)
			} else {
				o.logger.Debug("Removed old pre-restore snapshot: %s", match)
				removed++
			}
		}
	}

	if removed > 0 {
		o.logger.Info("Cleaned up %d old pre-restore snapshot(s)", removed)
	}
	return removed, nil
}
