package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tis24dev/flowsave/internal/checks"
	"github.com/tis24dev/flowsave/internal/config"
	"github.com/tis24dev/flowsave/internal/gitstore"
	"github.com/tis24dev/flowsave/internal/logging"
	"github.com/tis24dev/flowsave/internal/metrics"
	"github.com/tis24dev/flowsave/internal/notify"
	"github.com/tis24dev/flowsave/internal/orchestrator"
	"github.com/tis24dev/flowsave/internal/seal"
	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
	"github.com/tis24dev/flowsave/internal/version"
)

const (
	// orphanMaxAge bounds how long a registered scratch directory may live
	// before any later run removes it.
	orphanMaxAge = 24 * time.Hour

	notifyTimeout = 2 * time.Minute
)

var (
	newCommandRunner = func() target.CommandRunner { return target.ExecRunner{} }
	newStore         = func(logger *logging.Logger) orchestrator.Store { return gitstore.New(logger) }
)

// runtimeOptions tune what setupRuntime prepares for a flow.
type runtimeOptions struct {
	// Preflight runs the checks and takes the run lock.
	Preflight bool
	// Chooser is handed to the orchestrator for interactive restores.
	Chooser orchestrator.SourceChooser
	// Sealer overrides the sealer derived from the configuration.
	Sealer *seal.Sealer
}

// runtime is everything a flow needs once configuration is resolved.
type runtime struct {
	flow     string
	globals  globals
	cfg      *config.Config
	logger   *logging.Logger
	logPath  string
	adapter  *target.Adapter
	orch     *orchestrator.Orchestrator
	checker  *checks.Checker
	exporter *metrics.PrometheusExporter
	notifier notify.Notifier
	notifyOn string
	dryRun   bool
	started  time.Time
	closers  []func()
}

// Close releases the lock and closes the session log.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func loadConfig(g globals) (*config.Config, error) {
	cfg, err := config.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, withCode(types.ExitConfigError, err)
	}
	if g.LogLevelSet {
		cfg.DebugLevel = g.LogLevel
	}
	if g.NoColor {
		cfg.UseColor = false
	}
	return cfg, nil
}

// newLogger opens the per-run session log under LOG_PATH, falling back to a
// console-only logger when the directory is unusable.
func newLogger(cfg *config.Config, flow string, streams IO) (*logging.Logger, string, func()) {
	logger, logPath, closeFn, err := logging.StartSessionLogger(cfg.LogPath, flow, cfg.DebugLevel, cfg.UseColor)
	if err != nil {
		logger = logging.New(cfg.DebugLevel, cfg.UseColor)
		logger.SetOutput(streams.Err)
		logger.Warning("Unable to start %s log: %v", flow, err)
		logPath, closeFn = "", func() {}
	} else {
		logger.SetOutput(streams.Err)
	}
	logger.Redact(cfg.GitHubToken)
	logger.Redact(cfg.SnapshotPassphrase)
	logging.SetDefaultLogger(logger)
	return logger, logPath, closeFn
}

// buildSealer derives the snapshot sealer from the configuration. A
// passphrase both seals and opens, so it implies encryption. Without
// SNAPSHOT_ENCRYPT, recipients are ignored and only identities are loaded.
// It returns nil when no key material is configured.
func buildSealer(cfg *config.Config) (*seal.Sealer, error) {
	encrypt := cfg.SnapshotEncrypt || cfg.SnapshotPassphrase != ""
	opts := seal.Options{IdentityFile: cfg.AgeIdentityFile, Passphrase: cfg.SnapshotPassphrase}
	if encrypt {
		opts.Recipients = cfg.AgeRecipients
		opts.RecipientFile = cfg.AgeRecipientFile
	}
	if len(opts.Recipients) == 0 && opts.RecipientFile == "" && opts.IdentityFile == "" && opts.Passphrase == "" {
		if encrypt {
			return nil, fmt.Errorf("SNAPSHOT_ENCRYPT is enabled but no AGE_RECIPIENT, AGE_RECIPIENT_FILE or SNAPSHOT_PASSPHRASE is set")
		}
		return nil, nil
	}
	sealer, err := seal.New(opts)
	if err != nil {
		return nil, err
	}
	if encrypt && !sealer.CanSeal() {
		return nil, fmt.Errorf("SNAPSHOT_ENCRYPT is enabled but no age recipient could be resolved")
	}
	return sealer, nil
}

// preflightExitCode maps the failing check to an exit code.
func preflightExitCode(results []checks.CheckResult) types.ExitCode {
	if len(results) == 0 {
		return types.ExitConfigError
	}
	switch results[len(results)-1].Code {
	case "LOCKED":
		return types.ExitLockError
	case "TARGET_UNREACHABLE":
		return types.ExitTargetError
	case "MISSING_BINARY":
		return types.ExitGenericError
	}
	return types.ExitConfigError
}

// setupRuntime loads configuration, opens the session log, cleans orphaned
// scratch space, optionally runs the pre-flight checks and builds the
// orchestrator. The caller must Close the runtime.
func setupRuntime(ctx context.Context, cmd *cobra.Command, streams IO, flow string, ro runtimeOptions) (*runtime, error) {
	g, err := readGlobals(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	rt := &runtime{flow: flow, globals: g, cfg: cfg, dryRun: g.DryRun || cfg.DryRun, started: time.Now()}
	logger, logPath, closeLog := newLogger(cfg, flow, streams)
	rt.logger, rt.logPath = logger, logPath
	rt.closers = append(rt.closers, closeLog)

	logger.Info("flowsave %s (%s)", version.String(), flow)
	if cfg.ConfigPath != "" {
		logger.Debug("Configuration: %s (%s)", cfg.ConfigPath, g.ConfigPathSource)
	} else {
		logger.Debug("Configuration: %s", g.ConfigPathSource)
	}
	if logPath != "" {
		logger.Debug("Session log: %s", logPath)
	}
	if rt.dryRun {
		logger.DryRun("Dry run: no changes will be made")
	}

	fail := func(code types.ExitCode, err error) (*runtime, error) {
		logger.Error("%v", err)
		rt.Close()
		return nil, &exitError{code: code, err: err, reported: true}
	}

	registry, err := orchestrator.NewTempDirRegistry(logger, cfg.TempRegistryPath)
	if err != nil {
		logger.Warning("Temp directory registry unavailable: %v", err)
		registry = nil
	} else if n, err := registry.CleanupOrphaned(orphanMaxAge); err != nil {
		logger.Warning("Orphaned temp directory cleanup failed: %v", err)
	} else if n > 0 {
		logger.Info("Removed %d orphaned temp director(ies)", n)
	}

	rt.adapter = target.NewAdapter(newCommandRunner(), logger)

	if ro.Preflight {
		checkCfg := checks.GetDefaultCheckerConfig(cfg.LockPath)
		checkCfg.WorkDir = cfg.WorkDir
		checkCfg.LogPath = cfg.LogPath
		checkCfg.SnapshotDir = cfg.SnapshotDir
		checkCfg.Target = cfg.Container
		checkCfg.SecretFiles = []string{cfg.ConfigPath, cfg.AgeIdentityFile}
		checkCfg.DryRun = rt.dryRun
		if err := checkCfg.Validate(); err != nil {
			return fail(types.ExitConfigError, err)
		}
		rt.checker = checks.NewChecker(logger, checkCfg, rt.adapter)
		results, err := rt.checker.RunAllChecks(ctx)
		if err != nil {
			return fail(preflightExitCode(results), err)
		}
		rt.closers = append(rt.closers, func() {
			if err := rt.checker.ReleaseLock(); err != nil {
				logger.Warning("%v", err)
			}
		})
	}

	sealer := ro.Sealer
	if sealer == nil {
		if sealer, err = buildSealer(cfg); err != nil {
			return fail(types.ExitConfigError, err)
		}
	}

	remote, err := cfg.RemoteURL()
	if err != nil {
		logger.Debug("Remote store not configured: %v", err)
		remote = ""
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Target:                     cfg.Container,
		StagingRoot:                cfg.TargetStagingDir,
		RemoteURL:                  remote,
		Branch:                     cfg.GitBranch,
		AuthorName:                 cfg.GitAuthorName,
		AuthorEmail:                cfg.GitAuthorEmail,
		WorkDir:                    cfg.WorkDir,
		SnapshotDir:                cfg.SnapshotDir,
		Sealer:                     sealer,
		ExportDecryptedCredentials: cfg.ExportDecryptedCredentials,
		Interactive:                ro.Chooser != nil,
	}, orchestrator.Deps{
		Logger:   logger,
		Target:   rt.adapter,
		Store:    newStore(logger),
		Chooser:  ro.Chooser,
		Registry: registry,
	})
	if err != nil {
		return fail(types.ExitGenericError, err)
	}
	rt.orch = orch

	if cfg.MetricsEnabled {
		rt.exporter = metrics.NewPrometheusExporter(cfg.MetricsPath, logger)
	}
	if cfg.WebhookEnabled {
		wc := cfg.BuildWebhookConfig()
		for _, secret := range wc.Secrets() {
			logger.Redact(secret)
		}
		if n, err := notify.NewWebhookNotifier(wc, logger); err != nil {
			logger.Warning("Webhook notifications disabled: %v", err)
		} else {
			rt.notifier, rt.notifyOn = n, wc.NotifyOn
		}
	}
	return rt, nil
}

// exportMetrics publishes m when metrics are enabled. Dry runs are skipped.
func (rt *runtime) exportMetrics(m *metrics.RunMetrics) {
	if rt.exporter == nil || rt.dryRun {
		return
	}
	hostname, _ := os.Hostname()
	m.Flow = rt.flow
	m.Hostname = hostname
	m.ScriptVersion = version.String()
	m.WarningCount = rt.logger.Count(types.LogLevelWarning)
	m.ErrorCount = rt.logger.Count(types.LogLevelError) + rt.logger.Count(types.LogLevelCritical)
	if m.StartTime.IsZero() {
		m.StartTime = rt.started
	}
	if m.EndTime.IsZero() {
		m.EndTime = time.Now()
	}
	if err := rt.exporter.Export(m); err != nil {
		rt.logger.Warning("Failed to export metrics: %v", err)
	}
}

// notify sends the run outcome to the configured notifier. Delivery
// problems are logged and never change the exit code. The send outlives a
// cancelled run so interrupted flows are still reported.
func (rt *runtime) notify(ctx context.Context, data *notify.NotificationData) {
	if rt.notifier == nil || !rt.notifier.IsEnabled() {
		return
	}
	data.Flow = rt.flow
	data.Status = notify.StatusFromExitCode(data.ExitCode)
	if !notify.ShouldNotify(rt.notifyOn, data.Status) {
		return
	}
	if rt.dryRun {
		rt.logger.DryRun("Would send %s notification (%s)", rt.notifier.Name(), data.Status)
		return
	}
	data.Hostname, _ = os.Hostname()
	data.Target = rt.cfg.Container
	data.ScriptVersion = version.String()
	data.WarningCount = rt.logger.Count(types.LogLevelWarning)
	data.ErrorCount = rt.logger.Count(types.LogLevelError) + rt.logger.Count(types.LogLevelCritical)
	data.LogFilePath = rt.logPath
	if data.StartedAt.IsZero() {
		data.StartedAt = rt.started
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	res, err := rt.notifier.Send(sendCtx, data)
	switch {
	case err != nil:
		rt.logger.Warning("%s notification failed: %v", rt.notifier.Name(), err)
	case !res.Success:
		rt.logger.Warning("%s notification failed: %v", rt.notifier.Name(), res.Error)
	default:
		rt.logger.Debug("%s notification sent in %s", rt.notifier.Name(), res.Duration.Round(time.Millisecond))
	}
}

func kindSummaries(kinds []orchestrator.KindOutcome) []notify.KindSummary {
	out := make([]notify.KindSummary, 0, len(kinds))
	for _, k := range kinds {
		s := notify.KindSummary{Kind: k.Label(), Records: k.Records}
		if k.Err != nil {
			s.Error = k.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// finish turns a flow exit code into the command's error.
func (rt *runtime) finish(code types.ExitCode, err error) error {
	if code == types.ExitSuccess {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("%s failed", rt.flow)
	}
	return &exitError{code: code, err: err, reported: true}
}

func kindRecords(kinds []orchestrator.KindOutcome) (map[string]int, []string) {
	records := map[string]int{}
	var failed []string
	for _, k := range kinds {
		if k.Err != nil {
			failed = append(failed, string(k.Kind))
			continue
		}
		records[string(k.Kind)] = k.Records
	}
	return records, failed
}

func joinKinds(kinds []types.Kind) string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.Plural())
	}
	return strings.Join(names, ", ")
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
