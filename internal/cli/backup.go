package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tis24dev/flowsave/internal/changes"
	"github.com/tis24dev/flowsave/internal/metrics"
	"github.com/tis24dev/flowsave/internal/notify"
	"github.com/tis24dev/flowsave/internal/orchestrator"
	"github.com/tis24dev/flowsave/internal/types"
)

// parseSelectorFlag turns a --workflows/--credentials value into a
// selector: "all", an item ID, or "" / "none" for nothing.
func parseSelectorFlag(name, value string) (types.Selector, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "none":
		return types.NewSelector(false, "")
	case "all":
		return types.NewSelector(true, "")
	}
	sel, err := types.NewSelector(false, value)
	if err != nil {
		return types.Selector{}, fmt.Errorf("--%s: %w", name, err)
	}
	return sel, nil
}

type backupFlags struct {
	workflows     string
	credentials   string
	layout        string
	dated         bool
	incremental   bool
	includeLinked bool
}

// request builds the backup request. With neither selector given both
// kinds are backed up in full; layout and mode fall back to the
// configuration defaults.
func (f backupFlags) request(cmd *cobra.Command, defaults types.Layout, dated, incremental bool) (orchestrator.BackupRequest, error) {
	req := orchestrator.BackupRequest{IncludeLinkedCredentials: f.includeLinked}
	wf, cr := f.workflows, f.credentials
	if !cmd.Flags().Changed("workflows") && !cmd.Flags().Changed("credentials") {
		wf, cr = "all", "all"
	}
	var err error
	if req.Workflows, err = parseSelectorFlag("workflows", wf); err != nil {
		return req, err
	}
	if req.Credentials, err = parseSelectorFlag("credentials", cr); err != nil {
		return req, err
	}

	req.Layout = defaults
	if f.layout != "" {
		if req.Layout, err = types.ParseLayout(f.layout); err != nil {
			return req, err
		}
	}

	req.Dated, req.Incremental = dated, incremental
	if cmd.Flags().Changed("dated") {
		req.Dated = f.dated
		if f.dated && !cmd.Flags().Changed("incremental") {
			req.Incremental = false
		}
	}
	if cmd.Flags().Changed("incremental") {
		req.Incremental = f.incremental
		if f.incremental && !cmd.Flags().Changed("dated") {
			req.Dated = false
		}
	}
	return req, req.Validate()
}

func newBackupCmd(streams IO) *cobra.Command {
	var f backupFlags
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export workflows and credentials and push them to the git store",
		Example: `  flowsave backup
  flowsave backup --workflows all --layout separate-files --dated
  flowsave backup --workflows 42 --include-linked-credentials
  flowsave backup --incremental`,
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
			req, err := f.request(cmd, cfg.DefaultLayout, cfg.DatedBackups, cfg.IncrementalBackups)
			if err != nil {
				return withCode(types.ExitInputError, err)
			}

			ctx := cmd.Context()
			rt, err := setupRuntime(ctx, cmd, streams, "backup", runtimeOptions{Preflight: true})
			if err != nil {
				return err
			}
			defer rt.Close()
			req.DryRun = rt.dryRun

			res := rt.orch.RunBackup(ctx, req)
			printBackupSummary(streams.Out, res, rt.logPath)

			records, failed := kindRecords(res.Kinds)
			rt.exportMetrics(&metrics.RunMetrics{
				Status:      string(res.Status),
				Qualifier:   res.Qualifier,
				StartTime:   res.StartedAt,
				EndTime:     res.FinishedAt,
				ExitCode:    res.ExitCode().Int(),
				Records:     records,
				FailedKinds: failed,
				Changes:     len(res.Changes) - res.Changes.Count(changes.StatusUnchanged),
			})
			data := &notify.NotificationData{
				StatusMessage: "Backup " + statusLine(res.Status),
				ExitCode:      res.ExitCode().Int(),
				Branch:        rt.cfg.GitBranch,
				CommitID:      res.CommitID,
				Changes:       len(res.Changes) - res.Changes.Count(changes.StatusUnchanged),
				Kinds:         kindSummaries(res.Kinds),
				StartedAt:     res.StartedAt,
				Duration:      res.FinishedAt.Sub(res.StartedAt),
				Error:         errString(res.Err),
			}
			if res.Status == orchestrator.StatusSuccess {
				data.Location = res.LocationLabel()
			}
			rt.notify(ctx, data)
			return rt.finish(res.ExitCode(), res.Err)
		},
	}

	f.bind(cmd.Flags())
	return cmd
}

func (f *backupFlags) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&f.workflows, "workflows", "w", "", `Workflows to back up: "all", an ID, or "none"`)
	flags.StringVarP(&f.credentials, "credentials", "k", "", `Credentials to back up: "all", an ID, or "none"`)
	flags.StringVar(&f.layout, "layout", "", "single-file or separate-files (default from DEFAULT_LAYOUT)")
	flags.BoolVar(&f.dated, "dated", false, "Write into a new YYYY-MM-DD_HH-MM-SS directory")
	flags.BoolVar(&f.incremental, "incremental", false, "Skip commit and push when nothing changed")
	flags.BoolVar(&f.includeLinked, "include-linked-credentials", false, "Also back up credentials used by the selected workflow")
}
