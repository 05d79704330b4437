package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
)

// Commit message qualifiers.
const (
	QualifierFull        = "full"
	QualifierSelective   = "selective"
	QualifierIncremental = "incremental"
)

// RootSource names the repository root as restore source.
const RootSource = "root"

// BackupRequest describes one backup run.
type BackupRequest struct {
	Workflows   types.Selector
	Credentials types.Selector
	Layout      types.Layout
	// Dated writes into a new YYYY-MM-DD_HH-MM-SS directory instead of the
	// repository root.
	Dated bool
	// Incremental skips commit and push when nothing changed since the last
	// marked backup commit.
	Incremental bool
	// IncludeLinkedCredentials exports the credentials referenced by a
	// selected workflow. Only used for by-id workflow backups.
	IncludeLinkedCredentials bool
	DryRun                   bool
}

// Selector returns the selector for kind.
func (r BackupRequest) Selector(kind types.Kind) types.Selector {
	if kind == types.KindCredential {
		return r.Credentials
	}
	return r.Workflows
}

// Kinds returns the selected kinds in import order.
func (r BackupRequest) Kinds() []types.Kind {
	var out []types.Kind
	for _, k := range types.AllKinds {
		if r.Selector(k).Active() {
			out = append(out, k)
		}
	}
	return out
}

// Validate rejects inconsistent requests before anything is contacted.
func (r BackupRequest) Validate() error {
	for _, k := range types.AllKinds {
		if err := r.Selector(k).Validate(); err != nil {
			return fmt.Errorf("%s selector: %w", k, err)
		}
	}
	if len(r.Kinds()) == 0 {
		return fmt.Errorf("nothing selected: choose workflows and/or credentials")
	}
	if !r.Layout.Concrete() {
		return fmt.Errorf("backup layout must be single-file or separate-files, got %q", r.Layout)
	}
	if r.Dated && r.Incremental {
		return fmt.Errorf("dated and incremental backups are mutually exclusive")
	}
	return nil
}

// Qualifier classifies the run for the commit message.
func (r BackupRequest) Qualifier() string {
	if r.Incremental {
		return QualifierIncremental
	}
	if r.Workflows.Mode == types.SelectAll && r.Credentials.Mode == types.SelectAll {
		return QualifierFull
	}
	return QualifierSelective
}

// linkedCredentials reports whether credential discovery applies.
func (r BackupRequest) linkedCredentials() bool {
	return r.IncludeLinkedCredentials &&
		r.Workflows.Mode == types.SelectByID &&
		!r.Credentials.Active()
}

// RestorePlan describes one restore run.
type RestorePlan struct {
	Type   types.RestoreType
	Layout types.Layout
	// Source is "" to pick automatically, RootSource, or a dated directory name.
	Source      string
	ProjectID   string
	UserID      string
	ImportAsNew bool
	DryRun      bool
}

// Validate rejects inconsistent plans.
func (p RestorePlan) Validate() error {
	if _, err := types.ParseRestoreType(string(p.Type)); err != nil {
		return err
	}
	switch p.Layout {
	case types.LayoutAuto, types.LayoutSingleFile, types.LayoutSeparateFiles, "":
	default:
		return fmt.Errorf("unknown layout %q", p.Layout)
	}
	if p.Source != "" && p.Source != RootSource && !IsDatedName(p.Source) {
		return fmt.Errorf("restore source must be %q or a YYYY-MM-DD_HH-MM-SS directory, got %q", RootSource, p.Source)
	}
	if p.ProjectID != "" && p.UserID != "" {
		return fmt.Errorf("project and user overrides are mutually exclusive")
	}
	for _, id := range []string{p.ProjectID, p.UserID} {
		if id != "" && !types.ValidItemID(id) {
			return fmt.Errorf("invalid identity override %q", id)
		}
	}
	return nil
}

func (p RestorePlan) importOptions() target.ImportOptions {
	return target.ImportOptions{
		UserID:    strings.TrimSpace(p.UserID),
		ProjectID: strings.TrimSpace(p.ProjectID),
	}
}
