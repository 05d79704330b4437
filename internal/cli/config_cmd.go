package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tis24dev/flowsave/internal/config"
	"github.com/tis24dev/flowsave/internal/gitstore"
	"github.com/tis24dev/flowsave/internal/types"
)

func newConfigCmd(streams IO) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, upgrade and inspect the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(streams))
	cmd.AddCommand(newConfigUpgradeCmd(streams))
	cmd.AddCommand(newConfigShowCmd(streams))
	return cmd
}

// targetConfigPath is --config, else the default location.
func targetConfigPath(cmd *cobra.Command) string {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if strings.TrimSpace(path) == "" {
		return config.DefaultConfigPath()
	}
	return path
}

func parseAssignments(pairs []string) (map[string]string, error) {
	values := map[string]string{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected KEY=VALUE", pair)
		}
		values[key] = value
	}
	return values, nil
}

func newConfigInitCmd(streams IO) *cobra.Command {
	var (
		force bool
		sets  []string
	)
	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write the commented default configuration",
		Example: `  flowsave config init --set GITHUB_REPO=acme/n8n-backups --set N8N_CONTAINER=n8n`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := parseAssignments(sets)
			if err != nil {
				return withCode(types.ExitInputError, err)
			}
			path := targetConfigPath(cmd)
			if err := config.WriteTemplate(path, values, force); err != nil {
				return withCode(types.ExitConfigError, err)
			}
			fmt.Fprintf(streams.Out, "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "KEY=VALUE to set in the new file (repeatable)")
	return cmd
}

func newConfigUpgradeCmd(streams IO) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Add settings introduced by newer versions, keeping existing values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := readGlobals(cmd)
			if err != nil {
				return err
			}
			path := targetConfigPath(cmd)

			var res *config.UpgradeResult
			if g.DryRun {
				res, err = config.PlanUpgradeConfigFile(path)
			} else {
				res, err = config.UpgradeConfigFile(path)
			}
			if err != nil {
				return withCode(types.ExitConfigError, err)
			}
			printUpgrade(streams.Out, path, res, g.DryRun)
			return nil
		},
	}
}

func printUpgrade(w io.Writer, path string, res *config.UpgradeResult, dryRun bool) {
	if !res.Changed {
		fmt.Fprintf(w, "%s is up to date (%d value(s))\n", path, res.PreservedValues)
		return
	}
	verb := "Added"
	if dryRun {
		verb = "Would add"
	}
	if len(res.MissingKeys) > 0 {
		fmt.Fprintf(w, "%s %d setting(s): %s\n", verb, len(res.MissingKeys), strings.Join(res.MissingKeys, ", "))
	}
	if len(res.ExtraKeys) > 0 {
		fmt.Fprintf(w, "Keeping %d custom key(s): %s\n", len(res.ExtraKeys), strings.Join(res.ExtraKeys, ", "))
	}
	if res.BackupPath != "" {
		fmt.Fprintf(w, "Previous file saved as %s\n", res.BackupPath)
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

func newConfigShowCmd(streams IO) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
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
			remote, err := cfg.RemoteURL()
			if err != nil {
				remote = "(" + err.Error() + ")"
			}

			source := g.ConfigPathSource
			if cfg.ConfigPath != "" {
				source = cfg.ConfigPath + " (" + source + ")"
			}
			tw := tabwriter.NewWriter(streams.Out, 0, 0, 2, ' ', 0)
			rows := [][2]string{
				{"Configuration", source},
				{"Container", cfg.Container},
				{"Staging dir", cfg.TargetStagingDir},
				{"Remote", gitstore.RedactURL(remote)},
				{"Branch", cfg.GitBranch},
				{"Token", mask(cfg.GitHubToken)},
				{"Default layout", string(cfg.DefaultLayout)},
				{"Dated backups", fmt.Sprint(cfg.DatedBackups)},
				{"Incremental backups", fmt.Sprint(cfg.IncrementalBackups)},
				{"Snapshot dir", cfg.SnapshotDir},
				{"Snapshot retention", fmt.Sprintf("%dh", cfg.SnapshotRetentionHours)},
				{"Snapshot encryption", fmt.Sprint(cfg.SnapshotEncrypt || cfg.SnapshotPassphrase != "")},
				{"Log level", cfg.DebugLevel.String()},
				{"Log path", cfg.LogPath},
				{"Lock path", cfg.LockPath},
				{"Metrics", fmt.Sprint(cfg.MetricsEnabled)},
			}
			for _, r := range rows {
				fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
			}
			return tw.Flush()
		},
	}
}
