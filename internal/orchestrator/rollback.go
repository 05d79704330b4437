package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
)

// Rollback re-imports the state saved in a pre-restore snapshot. Records
// keep their IDs. The snapshot is removed only when every kind imports.
func (o *Orchestrator) Rollback(ctx context.Context, snapshotDir string, restoreType types.RestoreType, dryRun bool) *RollbackResult {
	res := &RollbackResult{SnapshotPath: snapshotDir}
	res.advance(StateInit)
	if restoreType == "" {
		restoreType = types.RestoreAll
	}

	if _, err := types.ParseRestoreType(string(restoreType)); err != nil {
		return o.failRollback(res, newOpError("validate rollback", CategoryInput, err), false)
	}
	if err := o.checkTarget(); err != nil {
		return o.failRollback(res, newOpError("validate rollback", CategoryInput, err), false)
	}
	snap, err := LoadSnapshot(snapshotDir)
	if err != nil {
		return o.failRollback(res, newOpError("load snapshot", CategoryInput, err), false)
	}

	var artifacts []SnapshotArtifact
	for _, kind := range restoreType.Kinds() {
		a, ok := snap.Artifact(kind)
		if !ok {
			if restoreType == types.RestoreAll {
				continue
			}
			return o.failRollback(res, newOpError("load snapshot", CategoryInput, fmt.Errorf("snapshot holds no %s", kind.Plural())), false)
		}
		if err := snap.verify(a); err != nil {
			return o.failRollback(res, newOpError("verify snapshot", CategoryData, err), false)
		}
		if a.Sealed && !o.opts.Sealer.CanOpen() {
			return o.failRollback(res, newOpError("open snapshot", CategoryInput, fmt.Errorf("%s is sealed and no age identity is configured", a.File)), false)
		}
		artifacts = append(artifacts, a)
	}
	o.logger.Phase("Rollback of %s from %s", o.opts.Target, snapshotDir)

	work, release, err := o.workspace("flowsave-rollback-*")
	if err != nil {
		return o.failRollback(res, newOpError("create work directory", CategoryInternal, err), false)
	}
	defer release(false)

	kinds := make([]types.Kind, 0, len(artifacts))
	for _, a := range artifacts {
		src := filepath.Join(snap.Dir, a.File)
		dst := filepath.Join(work, a.Kind.SingleFileName())
		if a.Sealed {
			err = o.opts.Sealer.OpenFile(src, dst)
		} else {
			err = copyFile(src, dst)
		}
		if err != nil {
			return o.failRollback(res, newOpError("open snapshot", CategoryData, err), false)
		}
		if _, err := validateArtifact(work, a.Kind, types.LayoutSingleFile); err != nil {
			return o.failRollback(res, newOpError("verify snapshot", CategoryData, err), false)
		}
		kinds = append(kinds, a.Kind)
	}

	err = o.withStaging(ctx, dryRun, func(staging string) error {
		for _, kind := range kinds {
			name := kind.SingleFileName()
			if err := o.target.CopyToTarget(ctx, o.opts.Target, filepath.Join(work, name), path.Join(staging, name), dryRun); err != nil {
				return newOpError("copy "+kind.Plural()+" to target", CategoryTarget, err)
			}
		}
		res.Kinds = o.importKinds(ctx, staging, kinds, types.LayoutSingleFile, target.ImportOptions{}, dryRun)
		return nil
	})
	if err != nil {
		return o.failRollback(res, err, true)
	}
	for _, k := range res.Kinds {
		if k.Err != nil {
			return o.failRollback(res, newOpError("import", CategoryTarget, fmt.Errorf("import of %s failed", k.Kind.Plural())), true)
		}
	}

	if dryRun {
		res.Status = StatusDryRun
		res.advance(StateDone)
		return res
	}
	res.advance(StateRolledBack)
	if err := os.RemoveAll(snap.Dir); err != nil {
		o.logger.Warning("Rollback succeeded but the snapshot %s could not be removed: %v", snap.Dir, err)
	} else {
		res.SnapshotPath = ""
	}
	res.Status = StatusSuccess
	res.advance(StateDone)
	o.logger.Info("Rollback completed (%s)", summarizeKinds(res.Kinds))
	return res
}

func (o *Orchestrator) failRollback(res *RollbackResult, err error, touched bool) *RollbackResult {
	res.Status = StatusFailed
	res.Err = err
	res.ManualIntervention = touched
	res.advance(StateFailed)
	o.logger.Error("Rollback failed: %v", err)
	if touched {
		o.logger.Critical("Manual intervention required: the target may be partially rolled back. Snapshot kept at %s", res.SnapshotPath)
	}
	return res
}
