package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tis24dev/flowsave/internal/input"
	"github.com/tis24dev/flowsave/internal/metrics"
	"github.com/tis24dev/flowsave/internal/notify"
	"github.com/tis24dev/flowsave/internal/orchestrator"
	"github.com/tis24dev/flowsave/internal/tui"
	"github.com/tis24dev/flowsave/internal/types"
)

// newSourceChooser is swapped in tests.
var newSourceChooser = func() orchestrator.SourceChooser { return tui.NewSourcePicker() }

type restoreFlags struct {
	restoreType string
	layout      string
	source      string
	projectID   string
	userID      string
	importAsNew bool
	interactive bool
}

func (f restoreFlags) plan(projectDefault, userDefault string) (orchestrator.RestorePlan, error) {
	rt, err := types.ParseRestoreType(f.restoreType)
	if err != nil {
		return orchestrator.RestorePlan{}, err
	}
	layout := types.LayoutAuto
	if f.layout != "" {
		if layout, err = types.ParseLayout(f.layout); err != nil {
			return orchestrator.RestorePlan{}, err
		}
	}
	p := orchestrator.RestorePlan{
		Type:        rt,
		Layout:      layout,
		Source:      strings.TrimSpace(f.source),
		ProjectID:   f.projectID,
		UserID:      f.userID,
		ImportAsNew: f.importAsNew,
	}
	if p.ProjectID == "" && p.UserID == "" {
		p.ProjectID, p.UserID = projectDefault, userDefault
	}
	return p, p.Validate()
}

func describePlan(p orchestrator.RestorePlan, branch string) string {
	source := p.Source
	if source == "" {
		source = "newest dated snapshot (or repository root)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Restore %s from %s on branch %s", joinKinds(p.Type.Kinds()), source, branch)
	if p.ImportAsNew {
		b.WriteString(" as new records")
	}
	if p.ProjectID != "" {
		fmt.Fprintf(&b, " into project %s", p.ProjectID)
	}
	if p.UserID != "" {
		fmt.Fprintf(&b, " for user %s", p.UserID)
	}
	return b.String()
}

// restoreQuestion is the confirmation prompt for plan. Imports as new
// records never replace anything on the target.
func restoreQuestion(p orchestrator.RestorePlan, branch string) string {
	effect := "Existing records with the same IDs are overwritten"
	if p.ImportAsNew {
		effect = "Records are created as new copies; existing records are left untouched"
	}
	return describePlan(p, branch) + ". " + effect + ". Continue?"
}

// confirm asks before a destructive action unless --yes or dry-run.
func confirm(ctx context.Context, streams IO, g globals, dryRun bool, question string) (bool, error) {
	if g.Yes || dryRun {
		return true, nil
	}
	if f, ok := streams.In.(*os.File); ok && !input.IsTerminal(int(f.Fd())) {
		return false, fmt.Errorf("refusing to prompt on a non-interactive stdin: pass --yes to confirm")
	}
	return input.Confirm(ctx, bufio.NewReader(streams.In), streams.Out, question, false)
}

func newRestoreCmd(streams IO) *cobra.Command {
	var f restoreFlags
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Import workflows and credentials from the git store into the container",
		Long: `Restore imports a backup from the git store into the container. The current
state of the container is saved first as a pre-restore snapshot; if an import
fails the snapshot is kept and can be replayed with "flowsave rollback".`,
		Example: `  flowsave restore
  flowsave restore --type workflows --source 2024-03-01_10-00-00
  flowsave restore --import-as-new --project-id 7
  flowsave restore --interactive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := readGlobals(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			plan, err := f.plan(cfg.RestoreProjectID, cfg.RestoreUserID)
			if err != nil {
				return withCode(types.ExitInputError, err)
			}

			ctx := cmd.Context()
			ro := runtimeOptions{Preflight: true}
			if f.interactive {
				if plan.Source != "" {
					return withCode(types.ExitInputError, fmt.Errorf("--interactive and --source are mutually exclusive"))
				}
				ro.Chooser = newSourceChooser()
			}
			rt, err := setupRuntime(ctx, cmd, streams, "restore", ro)
			if err != nil {
				return err
			}
			defer rt.Close()
			plan.DryRun = rt.dryRun

			if retention := rt.cfg.SnapshotRetentionHours; retention > 0 && !rt.dryRun {
				if n, err := rt.orch.CleanupOldSnapshots(hours(retention)); err != nil {
					rt.logger.Warning("Snapshot retention cleanup failed: %v", err)
				} else if n > 0 {
					rt.logger.Info("Removed %d pre-restore snapshot(s) older than %dh", n, retention)
				}
			}

			ok, err := confirm(ctx, streams, rt.globals, rt.dryRun, restoreQuestion(plan, rt.cfg.GitBranch))
			if err != nil {
				return rt.finish(types.ExitInputError, err)
			}
			if !ok {
				rt.logger.Info("Restore cancelled by user")
				return nil
			}

			res := rt.orch.RunRestore(ctx, plan)
			printRestoreSummary(streams.Out, res, rt.logPath)

			records, failed := kindRecords(res.Kinds)
			rt.exportMetrics(&metrics.RunMetrics{
				Status:      string(res.Status),
				StartTime:   res.StartedAt,
				EndTime:     res.FinishedAt,
				ExitCode:    res.ExitCode().Int(),
				Records:     records,
				FailedKinds: failed,
			})
			rt.notify(ctx, &notify.NotificationData{
				StatusMessage: "Restore " + statusLine(res.Status),
				ExitCode:      res.ExitCode().Int(),
				Branch:        rt.cfg.GitBranch,
				Source:        res.Source,
				SnapshotPath:  res.SnapshotPath,
				Kinds:         kindSummaries(res.Kinds),
				StartedAt:     res.StartedAt,
				Duration:      res.FinishedAt.Sub(res.StartedAt),
				Error:         errString(res.Err),
			})
			return rt.finish(res.ExitCode(), res.Err)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.restoreType, "type", "t", "all", "What to restore: all, workflows or credentials")
	flags.StringVar(&f.layout, "layout", "auto", "auto, single-file or separate-files")
	flags.StringVarP(&f.source, "source", "s", "", `"root" or a YYYY-MM-DD_HH-MM-SS directory (default: newest dated, else root)`)
	flags.StringVar(&f.projectID, "project-id", "", "Import into this project (default RESTORE_PROJECT_ID)")
	flags.StringVar(&f.userID, "user-id", "", "Import for this user (default RESTORE_USER_ID)")
	flags.BoolVar(&f.importAsNew, "import-as-new", false, "Strip record IDs so every record is created anew")
	flags.BoolVarP(&f.interactive, "interactive", "i", false, "Pick the source from a list of dated snapshots")
	return cmd
}
