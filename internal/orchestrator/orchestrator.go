// Package orchestrator drives backups of the automation instance into the
// git snapshot store and restores from it, including the pre-restore
// safety snapshot and rollback.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tis24dev/flowsave/internal/changes"
	"github.com/tis24dev/flowsave/internal/logging"
	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
)

const defaultStagingRoot = "/tmp"

// ErrItemNotFound reports a by-ID export of a record the target does not have.
var ErrItemNotFound = errors.New("item not found on target")

// Orchestrator runs backup, restore and rollback flows. It holds no state
// between runs; callers serialize invocations.
type Orchestrator struct {
	opts     Options
	logger   *logging.Logger
	target   Target
	store    Store
	chooser  SourceChooser
	clock    TimeProvider
	registry *TempDirRegistry
	newID    func() string
	detector *changes.Detector
}

// New creates an orchestrator. Target and Store are required.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Target == nil {
		return nil, fmt.Errorf("orchestrator requires a target")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if deps.Time == nil {
		deps.Time = realTime{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if strings.TrimSpace(opts.StagingRoot) == "" {
		opts.StagingRoot = defaultStagingRoot
	}
	if strings.TrimSpace(opts.Branch) == "" {
		opts.Branch = "main"
	}
	if strings.TrimSpace(opts.AuthorName) == "" {
		opts.AuthorName = "flowsave"
	}
	if strings.TrimSpace(opts.AuthorEmail) == "" {
		opts.AuthorEmail = "flowsave@localhost"
	}
	return &Orchestrator{
		opts:     opts,
		logger:   logger,
		target:   deps.Target,
		store:    deps.Store,
		chooser:  deps.Chooser,
		clock:    deps.Time,
		registry: deps.Registry,
		newID:    deps.NewID,
		detector: changes.NewDetector(deps.Store, logger),
	}, nil
}

// shortID returns the first eight hex characters of a fresh identifier.
func (o *Orchestrator) shortID() string {
	id := strings.ReplaceAll(o.newID(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

func (o *Orchestrator) checkTarget() error {
	if !target.ValidTargetName(o.opts.Target) {
		return fmt.Errorf("invalid target container name %q", o.opts.Target)
	}
	return nil
}

// workspace creates a registered host scratch directory. release removes
// it unless keep is set. Either way it is deregistered, so a retained
// directory is never reclaimed as an orphan by a later run.
func (o *Orchestrator) workspace(pattern string) (string, func(keep bool), error) {
	base := o.opts.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return "", nil, fmt.Errorf("create work dir base: %w", err)
	}
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	if o.registry != nil {
		if err := o.registry.Register(dir); err != nil {
			o.logger.Debug("Temp dir registry unavailable: %v", err)
		}
	}
	release := func(keep bool) {
		if keep {
			o.logger.Warning("Work directory retained: %s", dir)
		} else if err := os.RemoveAll(dir); err != nil {
			o.logger.Warning("Failed to remove work directory %s: %v", dir, err)
			return
		}
		if o.registry != nil {
			if err := o.registry.Deregister(dir); err != nil {
				o.logger.Debug("Temp dir registry unavailable: %v", err)
			}
		}
	}
	return dir, release, nil
}

// withStaging creates a per-run staging directory on the target, runs fn
// and removes the directory on every exit path.
func (o *Orchestrator) withStaging(ctx context.Context, dryRun bool, fn func(dir string) error) error {
	dir := path.Join(o.opts.StagingRoot, target.StagingPrefix+o.shortID())
	mkdir, err := target.MkdirCommand(dir)
	if err != nil {
		return newOpError("prepare staging", CategoryInput, err)
	}
	cleanup, err := target.CleanupCommand(dir)
	if err != nil {
		return newOpError("prepare staging", CategoryInput, err)
	}
	if _, err := o.target.Exec(ctx, o.opts.Target, mkdir, dryRun); err != nil {
		return newOpError("create staging directory", CategoryTarget, err)
	}
	defer func() {
		// Cleanup must run even when ctx was cancelled.
		if _, err := o.target.Exec(context.WithoutCancel(ctx), o.opts.Target, cleanup, dryRun); err != nil {
			o.logger.Warning("Failed to remove staging directory %s on %s: %v", dir, o.opts.Target, err)
		}
	}()
	return fn(dir)
}

// exportKind exports kind from the target into hostDir, writing the
// artifact named by layout. A "no items" answer produces a placeholder.
// It returns the number of exported records.
func (o *Orchestrator) exportKind(ctx context.Context, staging string, kind types.Kind, sel types.Selector, layout types.Layout, hostDir string, decrypted, dryRun bool) (int, error) {
	name := artifactName(kind, layout)
	remote := path.Join(staging, name)
	if sel.Mode == types.SelectByID {
		remote = path.Join(staging, kind.Plural()+"-"+sel.ID+path.Ext(name))
		if layout == types.LayoutSeparateFiles {
			remote = path.Join(staging, kind.Plural()+"-"+sel.ID)
		}
	}
	cmd, err := target.ExportCommand(kind, sel, layout, remote, decrypted && kind == types.KindCredential)
	if err != nil {
		return 0, newOpError("export "+kind.Plural(), CategoryInput, err)
	}
	o.logger.Step("Exporting %s (%s, %s)", kind.Plural(), sel, layout)
	res, err := o.target.Exec(ctx, o.opts.Target, cmd, dryRun)
	if dryRun {
		return 0, err
	}
	noItems := res != nil && target.IsNoItemsOutput(kind, res.Output)
	if err != nil && !noItems {
		return 0, newOpError("export "+kind.Plural(), CategoryTarget, err)
	}
	local := filepath.Join(hostDir, name)
	if noItems && sel.Mode == types.SelectByID {
		return 0, newOpError("export "+kind.String(), CategoryData, fmt.Errorf("%w: %s %s", ErrItemNotFound, kind, sel.ID))
	}
	if noItems {
		o.logger.Info("No %s found on %s; writing empty placeholder", kind.Plural(), o.opts.Target)
		return 0, writePlaceholder(local, layout)
	}
	tmp := local + ".incoming"
	_ = os.RemoveAll(tmp)
	if err := o.target.CopyFromTarget(ctx, o.opts.Target, remote, tmp, false); err != nil {
		return 0, newOpError("copy "+kind.Plural()+" from target", CategoryTarget, err)
	}
	defer os.RemoveAll(tmp)
	n, err := mergeExport(tmp, local, kind, layout)
	if err != nil {
		return 0, newOpError("read "+kind.Plural()+" export", CategoryData, err)
	}
	return n, nil
}

func writePlaceholder(local string, layout types.Layout) error {
	if layout == types.LayoutSeparateFiles {
		if err := os.MkdirAll(local, 0o755); err != nil {
			return err
		}
		if n, _ := countJSONFiles(local); n > 0 {
			return nil
		}
		return os.WriteFile(filepath.Join(local, placeholderFile), nil, 0o644)
	}
	if _, err := os.Stat(local); err == nil {
		return nil
	}
	return writeFileAtomic(local, []byte("[]\n"), 0o644)
}
