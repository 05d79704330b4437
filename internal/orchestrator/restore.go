package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/tis24dev/flowsave/internal/gitstore"
	"github.com/tis24dev/flowsave/internal/sanitize"
	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
)

// RunRestore imports a stored snapshot into the target. The current target
// state is saved first and kept when anything fails.
func (o *Orchestrator) RunRestore(ctx context.Context, plan RestorePlan) *RestoreResult {
	if plan.Type == "" {
		plan.Type = types.RestoreAll
	}
	if plan.Layout == "" {
		plan.Layout = types.LayoutAuto
	}
	res := &RestoreResult{Layout: plan.Layout, StartedAt: o.clock.Now()}
	res.advance(StateInit)
	defer func() { res.FinishedAt = o.clock.Now() }()

	if err := plan.Validate(); err != nil {
		return o.failRestore(res, newOpError("validate restore plan", CategoryInput, err))
	}
	if err := o.checkTarget(); err != nil {
		return o.failRestore(res, newOpError("validate restore plan", CategoryInput, err))
	}
	if o.opts.RemoteURL == "" {
		return o.failRestore(res, newOpError("validate restore plan", CategoryInput, errors.New("no remote repository configured")))
	}
	kinds := plan.Type.Kinds()
	o.logger.Phase("Restore of %s into %s from branch %s", plan.Type, o.opts.Target, o.opts.Branch)

	if plan.DryRun {
		o.logger.DryRun("Would take a pre-restore snapshot of %s into %s", plan.Type, o.opts.SnapshotDir)
	} else {
		snap, err := o.takeSnapshot(ctx, kinds)
		if err != nil {
			return o.failRestore(res, newOpError("pre-restore snapshot", "", err))
		}
		res.SnapshotPath = snap.Dir
		res.advance(StatePreSnapshotTaken)
	}

	work, release, err := o.workspace("flowsave-restore-*")
	if err != nil {
		return o.failRestore(res, newOpError("create work directory", CategoryInternal, err))
	}
	defer release(false)

	repo := filepath.Join(work, "repo")
	o.logger.Step("Fetching branch %s from %s", o.opts.Branch, gitstore.RedactURL(o.opts.RemoteURL))
	if err := o.store.Clone(ctx, o.opts.RemoteURL, o.opts.Branch, repo, true); err != nil {
		return o.failRestore(res, newOpError("fetch snapshot store", "", err))
	}
	res.advance(StateFetched)

	source, err := o.selectSource(ctx, repo, plan.Source)
	if err != nil {
		return o.failRestore(res, newOpError("select restore source", CategoryInput, err))
	}
	res.Source = source
	res.advance(StateSourceSelected)

	srcDir := repo
	if source != RootSource {
		srcDir = filepath.Join(repo, source)
	}
	layout := plan.Layout
	if layout == types.LayoutAuto {
		layout = detectLayout(srcDir, kinds)
		o.logger.Info("Detected %s layout in %s", layout, source)
	}
	res.Layout = layout
	for _, kind := range kinds {
		n, err := validateArtifact(srcDir, kind, layout)
		if err != nil {
			return o.failRestore(res, newOpError("validate "+kind.Plural(), CategoryData, err))
		}
		o.logger.Debug("%s: %d record(s) to import", kind.Plural(), n)
	}
	res.advance(StateValidated)

	if plan.ImportAsNew {
		sanitized := filepath.Join(work, "sanitized")
		if err := sanitizeArtifacts(srcDir, sanitized, kinds, layout); err != nil {
			return o.failRestore(res, newOpError("strip record IDs", CategoryData, err))
		}
		o.logger.Info("Record IDs removed; the target will assign new ones")
		srcDir = sanitized
	}

	if plan.DryRun {
		return o.dryRunImport(ctx, res, srcDir, kinds, layout, plan.importOptions())
	}

	err = o.withStaging(ctx, false, func(staging string) error {
		for _, kind := range kinds {
			name := artifactName(kind, layout)
			if err := o.target.CopyToTarget(ctx, o.opts.Target, filepath.Join(srcDir, name), path.Join(staging, name), false); err != nil {
				return newOpError("copy "+kind.Plural()+" to target", CategoryTarget, err)
			}
		}
		res.advance(StateTransferred)
		res.Kinds = o.importKinds(ctx, staging, kinds, layout, plan.importOptions(), false)
		return nil
	})
	if err != nil {
		return o.failRestore(res, err)
	}
	if failed := res.FailedKinds(); len(failed) > 0 {
		return o.failRestore(res, newOpError("import", CategoryTarget, fmt.Errorf("import failed for %v", failed)))
	}
	res.advance(StateImported)

	if err := os.RemoveAll(res.SnapshotPath); err != nil {
		o.logger.Warning("Failed to remove pre-restore snapshot %s: %v", res.SnapshotPath, err)
	} else {
		o.logger.Debug("Removed pre-restore snapshot %s", res.SnapshotPath)
		res.SnapshotPath = ""
	}
	res.Status = StatusSuccess
	res.advance(StateDone)
	o.logger.Info("Restore completed from %s (%s)", source, summarizeKinds(res.Kinds))
	return res
}

func (o *Orchestrator) failRestore(res *RestoreResult, err error) *RestoreResult {
	res.Status = StatusFailed
	res.Err = err
	res.advance(StateFailed)
	o.logger.Error("Restore failed: %v", err)
	if res.SnapshotPath != "" {
		o.logger.Warning("Pre-restore snapshot kept at %s; run `flowsave rollback --snapshot %s` to return to it", res.SnapshotPath, res.SnapshotPath)
	}
	return res
}

func (o *Orchestrator) dryRunImport(ctx context.Context, res *RestoreResult, srcDir string, kinds []types.Kind, layout types.Layout, opts target.ImportOptions) *RestoreResult {
	err := o.withStaging(ctx, true, func(staging string) error {
		for _, kind := range kinds {
			name := artifactName(kind, layout)
			if err := o.target.CopyToTarget(ctx, o.opts.Target, filepath.Join(srcDir, name), path.Join(staging, name), true); err != nil {
				return err
			}
		}
		res.Kinds = o.importKinds(ctx, staging, kinds, layout, opts, true)
		return nil
	})
	if err != nil {
		return o.failRestore(res, newOpError("import", "", err))
	}
	res.Status = StatusDryRun
	res.advance(StateDone)
	return res
}

// importKinds imports each kind in order. A failing kind does not stop
// the remaining ones.
func (o *Orchestrator) importKinds(ctx context.Context, staging string, kinds []types.Kind, layout types.Layout, opts target.ImportOptions, dryRun bool) []KindOutcome {
	outcomes := make([]KindOutcome, 0, len(kinds))
	for _, kind := range kinds {
		outcome := KindOutcome{Kind: kind}
		cmd, err := target.ImportCommand(kind, layout, path.Join(staging, artifactName(kind, layout)), opts)
		if err == nil {
			o.logger.Step("Importing %s", kind.Plural())
			_, err = o.target.Exec(ctx, o.opts.Target, cmd, dryRun)
		}
		if err != nil {
			outcome.Err = err
			o.logger.Error("Import of %s failed: %v", kind.Plural(), err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// selectSource resolves the restore source: an explicit name, else the
// newest dated directory (or the operator's choice when interactive), else
// the repository root.
func (o *Orchestrator) selectSource(ctx context.Context, repo, requested string) (string, error) {
	if requested == RootSource {
		return RootSource, nil
	}
	dated, err := listDatedDirs(repo)
	if err != nil {
		return "", fmt.Errorf("list dated snapshots: %w", err)
	}
	if requested != "" {
		for _, d := range dated {
			if d == requested {
				return requested, nil
			}
		}
		return "", fmt.Errorf("dated snapshot %s not found on branch %s", requested, o.opts.Branch)
	}
	if len(dated) == 0 {
		o.logger.Debug("No dated snapshots; restoring from the repository root")
		return RootSource, nil
	}
	if o.opts.Interactive && o.chooser != nil {
		choice, err := o.chooser.ChooseSource(ctx, dated)
		if err != nil {
			return "", err
		}
		if choice == "" {
			return RootSource, nil
		}
		return choice, nil
	}
	o.logger.Info("Using newest dated snapshot %s", dated[0])
	return dated[0], nil
}

// sanitizeArtifacts writes ID-free copies of the artifacts of kinds into dst.
func sanitizeArtifacts(srcDir, dst string, kinds []types.Kind, layout types.Layout) error {
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return err
	}
	for _, kind := range kinds {
		name := artifactName(kind, layout)
		var err error
		if layout == types.LayoutSeparateFiles {
			err = sanitize.StripDir(filepath.Join(srcDir, name), filepath.Join(dst, name), sanitize.DefaultIDField)
		} else {
			err = sanitize.StripFile(filepath.Join(srcDir, name), filepath.Join(dst, name), sanitize.DefaultIDField)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
