// Package cli wires the flowsave command tree: configuration, logging,
// pre-flight checks and the orchestrator behind each subcommand.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tis24dev/flowsave/internal/config"
	"github.com/tis24dev/flowsave/internal/types"
	"github.com/tis24dev/flowsave/pkg/utils"
)

const (
	configSourceDefault = "default path"
	configSourceFlag    = "specified via --config/-c flag"
	configSourceEnv     = "environment only"
)

// IO bundles the process streams so tests can substitute them.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdIO returns the process streams.
func StdIO() IO {
	return IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// exitError carries an exit code through cobra. reported errors were
// already logged by the flow and are not printed again.
type exitError struct {
	code     types.ExitCode
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return e.code.String()
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code types.ExitCode, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	ConfigPath       string
	ConfigPathSource string
	LogLevel         types.LogLevel
	LogLevelSet      bool
	DryRun           bool
	Yes              bool
	NoColor          bool
}

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to configuration file (default "+config.DefaultConfigPath()+")")
	flags.StringP("log-level", "l", "", "Log level (debug|info|warning|error|critical)")
	flags.BoolP("dry-run", "n", false, "Show planned actions without making changes")
	flags.BoolP("yes", "y", false, "Assume 'yes' to prompts and run non-interactively")
	flags.Bool("no-color", false, "Disable colored output")
}

func readGlobals(cmd *cobra.Command) (globals, error) {
	flags := cmd.Root().PersistentFlags()
	g := globals{}
	g.ConfigPath, _ = flags.GetString("config")
	g.DryRun, _ = flags.GetBool("dry-run")
	g.Yes, _ = flags.GetBool("yes")
	g.NoColor, _ = flags.GetBool("no-color")

	switch {
	case strings.TrimSpace(g.ConfigPath) != "":
		g.ConfigPathSource = configSourceFlag
	case utils.FileExists(config.DefaultConfigPath()):
		g.ConfigPath = config.DefaultConfigPath()
		g.ConfigPathSource = configSourceDefault
	default:
		g.ConfigPathSource = configSourceEnv
	}

	if raw, _ := flags.GetString("log-level"); strings.TrimSpace(raw) != "" {
		level, ok := types.ParseLogLevel(raw)
		if !ok {
			return g, withCode(types.ExitInputError, fmt.Errorf("invalid --log-level %q", raw))
		}
		g.LogLevel, g.LogLevelSet = level, true
	}
	return g, nil
}

// NewRootCmd returns the root command.
func NewRootCmd(streams IO) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowsave",
		Short: "Back up and restore n8n workflows and credentials through a git repository",
		Long: `flowsave exports workflows and credentials from an n8n container into a git
repository and imports them back. Every restore is preceded by a snapshot of
the container's current state that "flowsave rollback" can replay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(streams.In)
	cmd.SetOut(streams.Out)
	cmd.SetErr(streams.Err)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(types.ExitInputError, err)
	})

	addGlobalFlags(cmd)

	cmd.AddCommand(newBackupCmd(streams))
	cmd.AddCommand(newRestoreCmd(streams))
	cmd.AddCommand(newRollbackCmd(streams))
	cmd.AddCommand(newSnapshotsCmd(streams))
	cmd.AddCommand(newConfigCmd(streams))
	cmd.AddCommand(newVersionCmd(streams))
	return cmd
}

// Execute runs the command tree with args and returns the process exit code.
func Execute(ctx context.Context, streams IO, args []string) int {
	root := NewRootCmd(streams)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return types.ExitSuccess.Int()
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.reported {
			fmt.Fprintf(streams.Err, "Error: %v\n", ee)
		}
		return ee.code.Int()
	}
	fmt.Fprintf(streams.Err, "Error: %v\n", err)
	if strings.HasPrefix(err.Error(), "unknown command") || strings.Contains(err.Error(), "accepts ") {
		return types.ExitInputError.Int()
	}
	return types.ExitGenericError.Int()
}
