package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tis24dev/flowsave/internal/changes"
	"github.com/tis24dev/flowsave/internal/discovery"
	"github.com/tis24dev/flowsave/internal/gitstore"
	"github.com/tis24dev/flowsave/internal/sanitize"
	"github.com/tis24dev/flowsave/internal/types"
	"github.com/tis24dev/flowsave/pkg/utils"
)

// CommitMessage renders the marked commit message of a backup.
func CommitMessage(qualifier string, at string) string {
	return fmt.Sprintf("%s %s backup %s", changes.Marker, qualifier, at)
}

// RunBackup exports the selected kinds from the target and records them in
// the snapshot store.
func (o *Orchestrator) RunBackup(ctx context.Context, req BackupRequest) *BackupResult {
	res := &BackupResult{
		Layout:    req.Layout,
		Qualifier: req.Qualifier(),
		StartedAt: o.clock.Now(),
	}
	res.advance(StateInit)
	defer func() { res.FinishedAt = o.clock.Now() }()

	if err := req.Validate(); err != nil {
		return o.failBackup(res, newOpError("validate backup request", CategoryInput, err))
	}
	if err := o.checkTarget(); err != nil {
		return o.failBackup(res, newOpError("validate backup request", CategoryInput, err))
	}
	if o.opts.RemoteURL == "" && !req.DryRun {
		return o.failBackup(res, newOpError("validate backup request", CategoryInput, errors.New("no remote repository configured")))
	}

	o.logger.Phase("Backup of %s (%s, %s) to branch %s", o.opts.Target, res.Qualifier, req.Layout, o.opts.Branch)
	if req.DryRun {
		return o.dryRunBackup(ctx, req, res)
	}

	work, release, err := o.workspace("flowsave-backup-*")
	if err != nil {
		return o.failBackup(res, newOpError("create work directory", CategoryInternal, err))
	}
	keep := false
	defer func() { release(keep) }()

	repo := filepath.Join(work, "repo")
	exportDir := filepath.Join(work, "export")
	stageDir := filepath.Join(work, "stage")
	for _, dir := range []string{exportDir, stageDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return o.failBackup(res, newOpError("create work directory", CategoryInternal, err))
		}
	}

	if err := o.prepareRemote(ctx, repo); err != nil {
		return o.failBackup(res, newOpError("prepare remote", "", err))
	}
	res.advance(StateRemotePrepared)

	outcomes, err := o.exportSelection(ctx, req, exportDir, false)
	res.Kinds = outcomes
	if err != nil {
		return o.failBackup(res, newOpError("export", "", err))
	}
	res.advance(StateExported)

	if req.Dated {
		res.Location = nextDatedName(repo, o.clock.Now())
	}
	written := make([]types.Kind, 0, len(outcomes))
	for _, k := range outcomes {
		written = append(written, k.Kind)
	}
	if err := o.prepareStage(req, written, repo, exportDir, stageDir, res.Location); err != nil {
		return o.failBackup(res, newOpError("prepare artifacts", CategoryData, err))
	}

	if req.Incremental {
		set, prior, err := o.detector.Diff(ctx, changes.Request{
			RepoPath:       repo,
			ExportPath:     stageDir,
			Layout:         req.Layout,
			Kinds:          written,
			DetectRemovals: req.Layout == types.LayoutSeparateFiles && mirrorsAll(req, written),
		})
		if err != nil {
			return o.failBackup(res, newOpError("detect changes", CategoryInternal, err))
		}
		res.HasPrior = prior
		res.Changes = set
		if prior && !set.HasChanges() {
			res.advance(StateIncrementalShortCircuit)
			res.Status = StatusNoChanges
			res.advance(StateDone)
			o.logger.Info("No changes since the last backup; nothing committed")
			return res
		}
	}

	locDir := filepath.Join(repo, res.Location)
	for _, kind := range written {
		if err := applyLayout(stageDir, locDir, kind, req.Layout); err != nil {
			return o.failBackup(res, newOpError("write "+kind.Plural(), CategoryInternal, err))
		}
	}
	if err := o.store.StageAll(ctx, repo, nil); err != nil {
		return o.failBackup(res, newOpError("stage changes", CategoryInternal, err))
	}
	res.advance(StateStaged)

	stamp := o.clock.Now().UTC().Format("2006-01-02 15:04:05") + " UTC"
	commitID, committed, err := o.store.Commit(ctx, repo, CommitMessage(res.Qualifier, stamp))
	if err != nil {
		return o.failBackup(res, newOpError("commit", CategoryInternal, err))
	}
	if !committed {
		res.Status = StatusNoChanges
		res.advance(StateDone)
		o.logger.Info("Snapshot store already up to date; nothing to push")
		return res
	}
	res.CommitID = commitID
	res.advance(StateCommitted)

	if err := o.store.Push(ctx, repo, o.opts.Branch); err != nil {
		keep = true
		res.RetainedPath = work
		return o.failBackup(res, newOpError("push", CategoryConnectivity, err))
	}
	res.advance(StatePushed)
	res.Status = StatusSuccess
	res.advance(StateDone)
	o.logger.Info("Backup committed as %s in %s (%s)", shortCommit(commitID), res.LocationLabel(), summarizeKinds(res.Kinds))
	return res
}

func (o *Orchestrator) failBackup(res *BackupResult, err error) *BackupResult {
	res.Status = StatusFailed
	res.Err = err
	res.advance(StateFailed)
	o.logger.Error("Backup failed: %v", err)
	if res.RetainedPath != "" {
		o.logger.Error("Work directory with the unpushed commit kept at %s", res.RetainedPath)
	}
	return res
}

func (o *Orchestrator) dryRunBackup(ctx context.Context, req BackupRequest, res *BackupResult) *BackupResult {
	if o.opts.RemoteURL != "" {
		o.logger.DryRun("Remote %s is not contacted", gitstore.RedactURL(o.opts.RemoteURL))
	}
	outcomes, err := o.exportSelection(ctx, req, "", true)
	res.Kinds = outcomes
	if err != nil {
		return o.failBackup(res, newOpError("export", "", err))
	}
	location := "repository root"
	if req.Dated {
		location = "a new " + DatedLayout + " directory"
	}
	o.logger.DryRun("Would commit %q to %s on branch %s and push",
		CommitMessage(res.Qualifier, "<timestamp>"), location, o.opts.Branch)
	res.Status = StatusDryRun
	res.advance(StateDone)
	return res
}

// prepareRemote initializes repo and checks out the configured branch,
// tracking the remote one when it exists.
func (o *Orchestrator) prepareRemote(ctx context.Context, repo string) error {
	o.logger.Step("Preparing snapshot store (%s)", gitstore.RedactURL(o.opts.RemoteURL))
	if err := o.store.Init(ctx, repo); err != nil {
		return err
	}
	if err := o.store.SetRemote(ctx, repo, o.opts.RemoteURL); err != nil {
		return err
	}
	if err := o.store.ConfigureIdentity(ctx, repo, o.opts.AuthorName, o.opts.AuthorEmail); err != nil {
		return err
	}
	exists, err := o.store.FetchBranch(ctx, repo, o.opts.Branch)
	if err != nil {
		return err
	}
	if !exists {
		o.logger.Info("Branch %s does not exist on the remote yet; it will be created", o.opts.Branch)
	}
	return o.store.CheckoutOrCreate(ctx, repo, o.opts.Branch, exists)
}

// exportSelection exports every selected kind into exportDir and, when
// requested, the credentials linked to a selected workflow.
func (o *Orchestrator) exportSelection(ctx context.Context, req BackupRequest, exportDir string, dryRun bool) ([]KindOutcome, error) {
	var outcomes []KindOutcome
	decrypted := o.opts.ExportDecryptedCredentials
	err := o.withStaging(ctx, dryRun, func(staging string) error {
		for _, kind := range req.Kinds() {
			n, err := o.exportKind(ctx, staging, kind, req.Selector(kind), req.Layout, exportDir, decrypted, dryRun)
			outcomes = append(outcomes, KindOutcome{Kind: kind, Records: n, Err: err})
			if err != nil {
				return err
			}
		}
		if !req.linkedCredentials() {
			return nil
		}
		if dryRun {
			o.logger.Skip("Linked credential discovery needs the exported workflow; skipped in dry-run")
			return nil
		}
		ids, err := discovery.LinkedIDsFromPath(filepath.Join(exportDir, artifactName(types.KindWorkflow, req.Layout)))
		if err != nil {
			return newOpError("discover linked credentials", CategoryData, err)
		}
		if len(ids) == 0 {
			o.logger.Info("Workflow %s references no credentials", req.Workflows.ID)
			return nil
		}
		o.logger.Info("Workflow %s references %d credential(s)", req.Workflows.ID, len(ids))
		outcome := KindOutcome{Kind: types.KindCredential}
		for _, id := range ids {
			if !types.ValidItemID(id) {
				o.logger.Warning("Skipping linked credential with unusable ID %q", id)
				continue
			}
			n, err := o.exportKind(ctx, staging, types.KindCredential, types.ByID(id), req.Layout, exportDir, decrypted, false)
			if errors.Is(err, ErrItemNotFound) {
				o.logger.Warning("Linked credential %s no longer exists on %s", id, o.opts.Target)
				continue
			}
			if err != nil {
				outcome.Err = err
				outcomes = append(outcomes, outcome)
				return err
			}
			outcome.Records = n
		}
		if outcome.Records == 0 {
			return nil
		}
		outcomes = append(outcomes, outcome)
		return nil
	})
	return outcomes, err
}

// prepareStage lays out in stageDir the artifacts as they must appear at
// the snapshot location. Partial selections merged into the rolling root
// keep the records that were not exported this time.
func (o *Orchestrator) prepareStage(req BackupRequest, kinds []types.Kind, repo, exportDir, stageDir, location string) error {
	for _, kind := range kinds {
		name := artifactName(kind, req.Layout)
		exported := filepath.Join(exportDir, name)
		staged := filepath.Join(stageDir, name)
		partial := req.Selector(kind).Mode != types.SelectAll
		current := filepath.Join(repo, location, name)

		if !partial || location != "" {
			if err := copyPath(exported, staged); err != nil {
				return err
			}
			continue
		}

		if req.Layout == types.LayoutSingleFile {
			update, err := os.ReadFile(exported)
			if err != nil {
				return err
			}
			base, err := os.ReadFile(current)
			if errors.Is(err, os.ErrNotExist) {
				base, err = nil, nil
				if other := filepath.Join(repo, location, artifactName(kind, types.LayoutSeparateFiles)); utils.DirExists(other) {
					o.logger.Info("%s are stored as separate files; converting them into %s", kind.Plural(), name)
					base, err = recordsFromDir(other)
				}
			}
			if err != nil {
				return err
			}
			merged, err := upsertRecords(base, update, sanitize.DefaultIDField)
			if err != nil {
				return fmt.Errorf("merge %s into existing collection: %w", name, err)
			}
			if err := writeFileAtomic(staged, merged, 0o644); err != nil {
				return err
			}
			continue
		}

		if _, err := os.Stat(current); err == nil {
			if err := copyPath(current, staged); err != nil {
				return err
			}
		} else if _, err := os.Stat(filepath.Join(repo, location, kind.SingleFileName())); err == nil {
			o.logger.Warning("%s are stored as a single file; switching layout with a partial backup keeps only the exported records", kind.Plural())
		}
		if err := copyPath(exported, staged); err != nil {
			return err
		}
		if n, _ := countJSONFiles(staged); n > 0 {
			_ = os.Remove(filepath.Join(staged, placeholderFile))
		}
	}
	return nil
}

// mirrorsAll reports whether every written kind was exported in full, so
// missing per-record files mean deletions on the target.
func mirrorsAll(req BackupRequest, kinds []types.Kind) bool {
	for _, k := range kinds {
		if req.Selector(k).Mode != types.SelectAll {
			return false
		}
	}
	return true
}

func shortCommit(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
