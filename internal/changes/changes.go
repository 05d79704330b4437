// Package changes decides whether a fresh export differs from the last
// backup recorded in the store.
package changes

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tis24dev/flowsave/internal/logging"
	"github.com/tis24dev/flowsave/internal/types"
)

// Marker tags every backup commit message.
const Marker = "[flowsave-backup]"

// Status classifies one artifact.
type Status string

const (
	StatusNew       Status = "new"
	StatusModified  Status = "modified"
	StatusUnchanged Status = "unchanged"
	StatusRemoved   Status = "removed"
)

// ChangeSet maps a slash-separated artifact path to its status.
type ChangeSet map[string]Status

// HasChanges is false when every artifact is unchanged.
func (c ChangeSet) HasChanges() bool {
	for _, s := range c {
		if s != StatusUnchanged {
			return true
		}
	}
	return false
}

// Count returns how many artifacts have status s.
func (c ChangeSet) Count(s Status) int {
	n := 0
	for _, st := range c {
		if st == s {
			n++
		}
	}
	return n
}

// Paths returns the artifact paths in lexical order.
func (c ChangeSet) Paths() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Summary renders counts for logs, e.g. "1 new, 2 modified, 0 removed, 4 unchanged".
func (c ChangeSet) Summary() string {
	return fmt.Sprintf("%d new, %d modified, %d removed, %d unchanged",
		c.Count(StatusNew), c.Count(StatusModified), c.Count(StatusRemoved), c.Count(StatusUnchanged))
}

// Store is the subset of the snapshot store the detector reads from.
type Store interface {
	ListCommitsMatching(ctx context.Context, repoPath, pattern string) ([]string, error)
	ShowFileAtCommit(ctx context.Context, repoPath, commit, relPath string) ([]byte, bool, error)
	ListFilesAtCommit(ctx context.Context, repoPath, commit, dir string) ([]string, error)
}

// Request describes one comparison. ExportPath holds the candidate
// artifacts laid out exactly as they would be committed at the repository
// root.
type Request struct {
	RepoPath   string
	ExportPath string
	Layout     types.Layout
	Kinds      []types.Kind
	// DetectRemovals reports committed per-record files missing from the
	// export. Only meaningful for full separate-files exports.
	DetectRemovals bool
}

// Detector compares exports with the newest marked commit.
type Detector struct {
	store  Store
	logger *logging.Logger
}

// NewDetector returns a detector reading history from store.
func NewDetector(store Store, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Detector{store: store, logger: logger}
}

// Diff classifies every artifact of req. hasPriorBackup is false when no
// commit carries the marker; the caller then treats the run as a full
// backup and the ChangeSet is nil.
func (d *Detector) Diff(ctx context.Context, req Request) (ChangeSet, bool, error) {
	if !req.Layout.Concrete() {
		return nil, false, fmt.Errorf("diff requires a concrete layout, got %q", req.Layout)
	}
	commits, err := d.store.ListCommitsMatching(ctx, req.RepoPath, Marker)
	if err != nil {
		return nil, false, fmt.Errorf("search backup commits: %w", err)
	}
	if len(commits) == 0 {
		d.logger.Info("No previous backup commit found; a full backup is required")
		return nil, false, nil
	}
	base := commits[0]
	d.logger.Debug("Comparing export with backup commit %s", shortHash(base))

	set := ChangeSet{}
	for _, kind := range req.Kinds {
		rels, err := artifacts(req.ExportPath, kind, req.Layout)
		if err != nil {
			return nil, true, err
		}
		present := make(map[string]bool, len(rels))
		for _, rel := range rels {
			present[rel] = true
			status, err := d.compare(ctx, req, base, rel)
			if err != nil {
				return nil, true, err
			}
			set[rel] = status
		}
		if req.Layout == types.LayoutSeparateFiles && req.DetectRemovals {
			committed, err := d.store.ListFilesAtCommit(ctx, req.RepoPath, base, kind.Plural())
			if err != nil {
				return nil, true, fmt.Errorf("list %s at %s: %w", kind.Plural(), shortHash(base), err)
			}
			for _, rel := range committed {
				if strings.HasSuffix(rel, ".json") && path.Dir(rel) == kind.Plural() && !present[rel] {
					set[rel] = StatusRemoved
				}
			}
		}
	}
	d.logger.Info("Change detection: %s", set.Summary())
	return set, true, nil
}

func (d *Detector) compare(ctx context.Context, req Request, commit, rel string) (Status, error) {
	current, err := os.ReadFile(filepath.Join(req.ExportPath, filepath.FromSlash(rel)))
	if err != nil {
		return "", fmt.Errorf("read export %s: %w", rel, err)
	}
	previous, found, err := d.store.ShowFileAtCommit(ctx, req.RepoPath, commit, rel)
	if err != nil {
		return "", fmt.Errorf("read %s at %s: %w", rel, shortHash(commit), err)
	}
	switch {
	case !found:
		return StatusNew, nil
	case bytes.Equal(current, previous):
		return StatusUnchanged, nil
	}
	return StatusModified, nil
}

// artifacts lists the slash-separated relative paths of kind's artifacts
// under root.
func artifacts(root string, kind types.Kind, layout types.Layout) ([]string, error) {
	if layout == types.LayoutSingleFile {
		rel := kind.SingleFileName()
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			return nil, fmt.Errorf("missing export artifact %s: %w", rel, err)
		}
		return []string{rel}, nil
	}
	dir := filepath.Join(root, kind.Plural())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("missing export directory %s: %w", kind.Plural(), err)
	}
	var rels []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			rels = append(rels, kind.Plural()+"/"+e.Name())
		}
	}
	return rels, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
