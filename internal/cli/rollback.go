package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tis24dev/flowsave/internal/config"
	"github.com/tis24dev/flowsave/internal/input"
	"github.com/tis24dev/flowsave/internal/metrics"
	"github.com/tis24dev/flowsave/internal/notify"
	"github.com/tis24dev/flowsave/internal/orchestrator"
	"github.com/tis24dev/flowsave/internal/seal"
	"github.com/tis24dev/flowsave/internal/types"
	"github.com/tis24dev/flowsave/pkg/utils"
)

// resolveSnapshot accepts a snapshot path or a bare directory name under
// SNAPSHOT_DIR; latest picks the newest snapshot.
func resolveSnapshot(cfg *config.Config, ref string, latest bool) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case latest && ref != "":
		return "", fmt.Errorf("--snapshot and --latest are mutually exclusive")
	case latest:
		snaps, err := orchestrator.ListSnapshots(cfg.SnapshotDir)
		if err != nil {
			return "", err
		}
		if len(snaps) == 0 {
			return "", fmt.Errorf("no pre-restore snapshots in %s", cfg.SnapshotDir)
		}
		return snaps[0].Dir, nil
	case ref == "":
		return "", fmt.Errorf("--snapshot or --latest is required")
	}
	if !strings.ContainsRune(ref, os.PathSeparator) && !utils.DirExists(ref) {
		if candidate := filepath.Join(cfg.SnapshotDir, ref); utils.DirExists(candidate) {
			return candidate, nil
		}
	}
	return ref, nil
}

func snapshotSealed(snap *orchestrator.PreRestoreSnapshot) bool {
	for _, a := range snap.Manifest.Artifacts {
		if a.Sealed {
			return true
		}
	}
	return false
}

// unsealer returns a sealer able to open a sealed snapshot, prompting for
// the passphrase when the configuration holds no identity. nil means the
// configured sealer is used.
func unsealer(ctx context.Context, streams IO, cfg *config.Config, snapshotDir string) (*seal.Sealer, error) {
	snap, err := orchestrator.LoadSnapshot(snapshotDir)
	if err != nil || !snapshotSealed(snap) {
		return nil, nil
	}
	configured, err := buildSealer(cfg)
	if err != nil || configured.CanOpen() {
		return nil, nil
	}
	f, ok := streams.In.(*os.File)
	if !ok || !input.IsTerminal(int(f.Fd())) {
		return nil, nil
	}
	pass, err := input.PromptPassphrase(ctx, streams.Err, "Snapshot passphrase: ", int(f.Fd()))
	if err != nil {
		return nil, err
	}
	if pass == "" {
		return nil, fmt.Errorf("empty passphrase")
	}
	return seal.New(seal.Options{Passphrase: pass, IdentityFile: cfg.AgeIdentityFile})
}

func newRollbackCmd(streams IO) *cobra.Command {
	var (
		ref         string
		latest      bool
		restoreType string
	)
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Re-import the container state saved before a failed restore",
		Example: `  flowsave rollback --latest
  flowsave rollback --snapshot /var/lib/flowsave/snapshots/pre-restore-20240301-100000-1a2b3c4d
  flowsave rollback --snapshot pre-restore-20240301-100000-1a2b3c4d --type workflows`,
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
			rtype, err := types.ParseRestoreType(restoreType)
			if err != nil {
				return withCode(types.ExitInputError, err)
			}
			path, err := resolveSnapshot(cfg, ref, latest)
			if err != nil {
				return withCode(types.ExitInputError, err)
			}

			ctx := cmd.Context()
			sealer, err := unsealer(ctx, streams, cfg, path)
			if err != nil {
				return withCode(types.ExitInputError, err)
			}
			rt, err := setupRuntime(ctx, cmd, streams, "rollback", runtimeOptions{Preflight: true, Sealer: sealer})
			if err != nil {
				return err
			}
			defer rt.Close()

			question := fmt.Sprintf("Re-import %s into %s from %s?", joinKinds(rtype.Kinds()), rt.cfg.Container, path)
			ok, err := confirm(ctx, streams, rt.globals, rt.dryRun, question)
			if err != nil {
				return rt.finish(types.ExitInputError, err)
			}
			if !ok {
				rt.logger.Info("Rollback cancelled by user")
				return nil
			}

			started := time.Now()
			res := rt.orch.Rollback(ctx, path, rtype, rt.dryRun)
			printRollbackSummary(streams.Out, res, rt.logPath)

			records, failed := kindRecords(res.Kinds)
			rt.exportMetrics(&metrics.RunMetrics{
				Status:      string(res.Status),
				StartTime:   started,
				ExitCode:    res.ExitCode().Int(),
				Records:     records,
				FailedKinds: failed,
			})
			message := "Rollback " + statusLine(res.Status)
			if res.ManualIntervention {
				message += ": manual intervention required"
			}
			data := &notify.NotificationData{
				StatusMessage: message,
				ExitCode:      res.ExitCode().Int(),
				Kinds:         kindSummaries(res.Kinds),
				StartedAt:     started,
				Duration:      time.Since(started),
				Error:         errString(res.Err),
			}
			if res.Status == orchestrator.StatusFailed {
				data.SnapshotPath = res.SnapshotPath
			}
			rt.notify(ctx, data)
			return rt.finish(res.ExitCode(), res.Err)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&ref, "snapshot", "", "Snapshot directory (path, or name under SNAPSHOT_DIR)")
	flags.BoolVar(&latest, "latest", false, "Use the newest pre-restore snapshot")
	flags.StringVarP(&restoreType, "type", "t", "all", "What to roll back: all, workflows or credentials")
	return cmd
}

func newSnapshotsCmd(streams IO) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect and prune pre-restore snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List retained pre-restore snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := readGlobals(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			snaps, err := orchestrator.ListSnapshots(cfg.SnapshotDir)
			if err != nil {
				return withCode(types.ExitGenericError, err)
			}
			printSnapshots(streams.Out, snaps, time.Now())
			return nil
		},
	})

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove pre-restore snapshots older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setupRuntime(cmd.Context(), cmd, streams, "prune", runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			age := olderThan
			if !cmd.Flags().Changed("older-than") {
				age = hours(rt.cfg.SnapshotRetentionHours)
			}
			if age <= 0 {
				rt.logger.Info("Snapshot retention disabled; nothing to prune")
				return nil
			}
			if rt.dryRun {
				rt.logger.DryRun("Would remove snapshots older than %s from %s", age, rt.cfg.SnapshotDir)
				return nil
			}
			n, err := rt.orch.CleanupOldSnapshots(age)
			if err != nil {
				return rt.finish(types.ExitGenericError, err)
			}
			fmt.Fprintf(streams.Out, "Removed %d snapshot(s) older than %s\n", n, age)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (default SNAPSHOT_RETENTION_HOURS)")
	cmd.AddCommand(prune)
	return cmd
}
