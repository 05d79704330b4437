// Package target runs commands against the container hosting the
// automation instance and moves files in and out of it.
package target

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/tis24dev/flowsave/internal/logging"
)

// CommandRunner executes a host command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// Run executes name with args and returns combined stdout/stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExecResult is the captured outcome of a command on the target.
type ExecResult struct {
	Output   string
	ExitCode int
	DryRun   bool
}

// CommandError reports a command that ran but exited non-zero. Callers decide
// whether it is fatal.
type CommandError struct {
	Target   string
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 400 {
		out = out[:400] + "..."
	}
	if out == "" {
		return fmt.Sprintf("%s on %s exited with status %d", e.Command, e.Target, e.ExitCode)
	}
	return fmt.Sprintf("%s on %s exited with status %d: %s", e.Command, e.Target, e.ExitCode, out)
}

// Adapter drives a container through the docker CLI.
type Adapter struct {
	runner CommandRunner
	logger *logging.Logger
	binary string
}

// NewAdapter returns an adapter using runner (ExecRunner when nil).
func NewAdapter(runner CommandRunner, logger *logging.Logger) *Adapter {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Adapter{runner: runner, logger: logger, binary: "docker"}
}

// Exec runs cmd inside target. In dry-run mode the target is not contacted:
// the command is logged and reported as successful.
func (a *Adapter) Exec(ctx context.Context, target string, cmd Command, dryRun bool) (*ExecResult, error) {
	if !ValidTargetName(target) {
		return nil, fmt.Errorf("invalid target %q", target)
	}
	if cmd.IsZero() {
		return nil, fmt.Errorf("empty command")
	}
	args := append([]string{"exec", target}, cmd.argv...)
	return a.run(ctx, target, cmd.String(), args, dryRun)
}

// CopyFromTarget copies src (file or directory) out of the container to dst
// on the host. dst must not exist for directory copies.
func (a *Adapter) CopyFromTarget(ctx context.Context, target, src, dst string, dryRun bool) error {
	if !ValidTargetName(target) {
		return fmt.Errorf("invalid target %q", target)
	}
	if err := checkPath(src); err != nil {
		return err
	}
	args := []string{"cp", target + ":" + src, dst}
	_, err := a.run(ctx, target, "copy "+src+" -> "+dst, args, dryRun)
	return err
}

// CopyToTarget copies src from the host into the container at dst.
func (a *Adapter) CopyToTarget(ctx context.Context, target, src, dst string, dryRun bool) error {
	if !ValidTargetName(target) {
		return fmt.Errorf("invalid target %q", target)
	}
	if err := checkPath(dst); err != nil {
		return err
	}
	args := []string{"cp", src, target + ":" + dst}
	_, err := a.run(ctx, target, "copy "+src+" -> "+dst, args, dryRun)
	return err
}

// Ping checks that the container exists and is running.
func (a *Adapter) Ping(ctx context.Context, target string) error {
	if !ValidTargetName(target) {
		return fmt.Errorf("invalid target %q", target)
	}
	res, err := a.run(ctx, target, "inspect", []string{"inspect", "--format", "{{.State.Running}}", target}, false)
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Output) != "true" {
		return fmt.Errorf("container %s is not running", target)
	}
	return nil
}

func (a *Adapter) run(ctx context.Context, target, label string, args []string, dryRun bool) (*ExecResult, error) {
	rendered := shellquote.Join(append([]string{a.binary}, args...)...)
	if dryRun {
		a.logger.DryRun("Would run: %s", rendered)
		return &ExecResult{DryRun: true}, nil
	}

	a.logger.Debug("Running: %s", rendered)
	out, err := a.runner.Run(ctx, a.binary, args...)
	res := &ExecResult{Output: string(out)}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s on %s: %w", label, target, ctxErr)
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) && coded.ExitCode() > 0 {
		res.ExitCode = coded.ExitCode()
		return res, &CommandError{Target: target, Command: label, ExitCode: res.ExitCode, Output: res.Output}
	}
	return res, fmt.Errorf("%s on %s: %w", label, target, err)
}
