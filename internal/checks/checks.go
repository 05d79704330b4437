// Package checks runs the pre-flight validation performed before a backup,
// restore or rollback touches the container or the remote store.
package checks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/tis24dev/flowsave/internal/logging"
)

var (
	osStat      = os.Stat
	osRemove    = os.Remove
	osOpenFile  = os.OpenFile
	osMkdirAll  = os.MkdirAll
	osWriteFile = os.WriteFile
	lookPath    = exec.LookPath
	syncFile    = func(f *os.File) error { return f.Sync() }
)

// LockFileName is created inside CheckerConfig.LockDirPath.
const LockFileName = ".flowsave.lock"

// Pinger reports whether the execution target is reachable.
type Pinger interface {
	Ping(ctx context.Context, target string) error
}

// Checker performs pre-flight validation checks
type Checker struct {
	logger *logging.Logger
	config *CheckerConfig
	pinger Pinger
}

// CheckerConfig holds configuration for pre-flight checks
type CheckerConfig struct {
	WorkDir      string
	LogPath      string
	SnapshotDir  string
	LockDirPath  string
	LockFilePath string
	MaxLockAge   time.Duration
	Target       string
	Binaries     []string
	// SecretFiles hold tokens or keys and should not be readable by
	// group or others. Missing files are ignored.
	SecretFiles []string
	DryRun      bool
}

// Validate checks if the checker configuration is valid
func (c *CheckerConfig) Validate() error {
	if c.LockDirPath == "" && c.LockFilePath == "" {
		return fmt.Errorf("lock directory cannot be empty")
	}
	if c.MaxLockAge <= 0 {
		return fmt.Errorf("max lock age must be positive")
	}
	return nil
}

func (c *CheckerConfig) lockPath() string {
	if c.LockFilePath != "" {
		return c.LockFilePath
	}
	return filepath.Join(c.LockDirPath, LockFileName)
}

// CheckResult holds the result of a validation check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
	Code    string
}

// NewChecker creates a new pre-flight checker. pinger may be nil to skip
// the target reachability check.
func NewChecker(logger *logging.Logger, config *CheckerConfig, pinger Pinger) *Checker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Checker{
		logger: logger,
		config: config,
		pinger: pinger,
	}
}

// GetDefaultCheckerConfig returns a default checker configuration
func GetDefaultCheckerConfig(lockDir string) *CheckerConfig {
	return &CheckerConfig{
		LockDirPath:  lockDir,
		LockFilePath: filepath.Join(lockDir, LockFileName),
		MaxLockAge:   2 * time.Hour,
		Binaries:     []string{"git", "docker"},
	}
}

// RunAllChecks performs all pre-flight checks. The lock is taken last so a
// failed prerequisite never leaves a lock file behind.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	c.logger.Debug("Running pre-flight validation checks")

	var results []CheckResult
	steps := []struct {
		label string
		run   func() CheckResult
	}{
		{"binary", c.CheckBinaries},
		{"secret file", c.CheckSecretFiles},
		{"directory", c.CheckDirectories},
		{"target", func() CheckResult { return c.CheckTarget(ctx) }},
		{"lock file", c.CheckLockFile},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := step.run()
		results = append(results, res)
		if !res.Passed {
			return results, fmt.Errorf("%s check failed: %s", step.label, res.Message)
		}
	}

	c.logger.Debug("All pre-flight checks passed")
	return results, nil
}

// CheckSecretFiles warns about secret files readable by group or others.
// It never fails the run.
func (c *Checker) CheckSecretFiles() CheckResult {
	result := CheckResult{Name: "Secret files", Passed: true}
	loose := 0
	for _, path := range c.config.SecretFiles {
		if path == "" {
			continue
		}
		info, err := osStat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				c.logger.Debug("Cannot stat %s: %v", path, err)
			}
			continue
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			loose++
			c.logger.Warning("%s is accessible by group or others (mode %04o); run: chmod 600 %s", path, perm, path)
		}
	}
	result.Message = "Secret file permissions OK"
	if loose > 0 {
		result.Message = fmt.Sprintf("%d secret file(s) with loose permissions", loose)
	}
	return result
}

// CheckBinaries verifies the host tools flowsave shells out to.
func (c *Checker) CheckBinaries() CheckResult {
	result := CheckResult{Name: "Binaries"}
	for _, bin := range c.config.Binaries {
		if _, err := lookPath(bin); err != nil {
			result.Code = "MISSING_BINARY"
			result.Error = fmt.Errorf("required binary %q not found in PATH: %w", bin, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		c.logger.Debug("Found binary: %s", bin)
	}
	result.Passed = true
	result.Message = "All required binaries available"
	return result
}

// CheckTarget pings the execution target. Dry runs never contact it.
func (c *Checker) CheckTarget(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Target"}
	if c.pinger == nil || c.config.Target == "" {
		result.Passed = true
		result.Message = "Target check skipped"
		return result
	}
	if c.config.DryRun {
		c.logger.DryRun("Would check that target %s is running", c.config.Target)
		result.Passed = true
		result.Message = "Target check skipped (dry run)"
		return result
	}
	if err := c.pinger.Ping(ctx, c.config.Target); err != nil {
		result.Code = "TARGET_UNREACHABLE"
		result.Error = fmt.Errorf("target %s is not reachable: %w", c.config.Target, err)
		result.Message = result.Error.Error()
		c.logger.Error("%s", result.Message)
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("Target %s is running", c.config.Target)
	c.logger.Debug("%s", result.Message)
	return result
}

// CheckLockFile checks for stale lock files and creates a new lock
func (c *Checker) CheckLockFile() CheckResult {
	result := CheckResult{
		Name:   "Lock File",
		Passed: false,
	}

	lockPath := c.config.lockPath()
	c.logger.Debug("Lock file path: %s", lockPath)

	if info, err := osStat(lockPath); err == nil {
		age := time.Since(info.ModTime())
		if age > c.config.MaxLockAge {
			c.logger.Warning("Removing stale lock file (age: %v)", age.Round(time.Second))
			if err := osRemove(lockPath); err != nil {
				result.Error = fmt.Errorf("failed to remove stale lock: %w", err)
				result.Message = result.Error.Error()
				return result
			}
		} else {
			result.Code = "LOCKED"
			result.Message = fmt.Sprintf("Another flowsave run is in progress (lock age: %v)", age.Round(time.Second))
			c.logger.Error("%s", result.Message)
			return result
		}
	}

	if c.config.DryRun {
		c.logger.DryRun("Would create lock file: %s", lockPath)
		result.Passed = true
		result.Message = "Lock file skipped (dry run)"
		return result
	}

	c.logger.Debug("Creating lock file with PID %d", os.Getpid())
	f, err := osOpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			result.Code = "LOCKED"
			result.Message = "Another flowsave run acquired the lock"
			c.logger.Error("%s", result.Message)
			return result
		}
		result.Error = fmt.Errorf("failed to create lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	lockContent := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname, time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(lockContent); err != nil {
		result.Error = fmt.Errorf("failed to write lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	if err := syncFile(f); err != nil {
		c.logger.Warning("Failed to sync lock file %s: %v", lockPath, err)
	}

	result.Passed = true
	result.Message = "Lock file acquired successfully"
	c.logger.Debug("%s", result.Message)
	return result
}

// CheckDirectories verifies the host directories exist and are writable,
// creating missing ones.
func (c *Checker) CheckDirectories() CheckResult {
	result := CheckResult{
		Name:   "Directories",
		Passed: false,
	}

	seen := make(map[string]struct{})
	var dirs []string
	addDir := func(path string) {
		if path == "" {
			return
		}
		cleaned := filepath.Clean(path)
		if cleaned == "." || cleaned == "/" {
			return
		}
		if _, ok := seen[cleaned]; ok {
			return
		}
		seen[cleaned] = struct{}{}
		dirs = append(dirs, cleaned)
	}

	addDir(c.config.WorkDir)
	addDir(c.config.LogPath)
	addDir(c.config.SnapshotDir)
	addDir(filepath.Dir(c.config.lockPath()))

	for _, dir := range dirs {
		c.logger.Debug("Checking directory: %s", dir)
		info, err := osStat(dir)
		switch {
		case err == nil && !info.IsDir():
			result.Code = "NOT_DIRECTORY"
			result.Error = fmt.Errorf("required path is not a directory: %s", dir)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		case err != nil && !os.IsNotExist(err):
			result.Code = "STAT_FAILED"
			result.Error = fmt.Errorf("failed to stat directory %s: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		case err != nil:
			if c.config.DryRun {
				c.logger.DryRun("Would create directory: %s", dir)
				continue
			}
			if err := osMkdirAll(dir, 0o755); err != nil {
				result.Code = "CREATE_FAILED"
				result.Error = fmt.Errorf("failed to create directory %s: %w", dir, err)
				result.Message = result.Error.Error()
				c.logger.Error("%s", result.Message)
				return result
			}
			c.logger.Info("Created missing directory: %s", dir)
		}

		if c.config.DryRun {
			continue
		}
		testFile := filepath.Join(dir, ".flowsave-permission-test")
		if err := osWriteFile(testFile, []byte("test"), 0o600); err != nil {
			result.Code = "NOT_WRITABLE"
			result.Error = fmt.Errorf("directory not writable - path: %s: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		_ = osRemove(testFile)
	}

	result.Passed = true
	result.Message = "All required directories exist"
	c.logger.Debug("%s", result.Message)
	return result
}

// ReleaseLock removes the lock file
func (c *Checker) ReleaseLock() error {
	lockPath := c.config.lockPath()
	if c.config.DryRun {
		return nil
	}
	if err := osRemove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	c.logger.Debug("Lock file released: %s", lockPath)
	return nil
}
