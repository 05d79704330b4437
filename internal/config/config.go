// Package config loads flowsave settings from an env-style file with
// environment variable overrides.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tis24dev/flowsave/internal/types"
	"github.com/tis24dev/flowsave/pkg/utils"
)

// DefaultConfigPath is used when --config is not given.
func DefaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "flowsave", "flowsave.env")
	}
	return "/etc/flowsave/flowsave.env"
}

// Config holds the resolved settings for one invocation.
type Config struct {
	ConfigPath string

	// Execution target
	Container                  string
	TargetStagingDir           string
	ExportDecryptedCredentials bool

	// Remote store
	GitHubToken    string
	GitHubRepo     string
	GitBranch      string
	GitRemoteURL   string
	GitAuthorName  string
	GitAuthorEmail string

	// Backup defaults
	DefaultLayout      types.Layout
	DatedBackups       bool
	IncrementalBackups bool
	WorkDir            string

	// Restore safety net
	SnapshotDir            string
	SnapshotRetentionHours int
	SnapshotEncrypt        bool
	AgeRecipients          []string
	AgeRecipientFile       string
	AgeIdentityFile        string
	SnapshotPassphrase     string
	RestoreProjectID       string
	RestoreUserID          string

	// Logging, locking and metrics
	DebugLevel       types.LogLevel
	UseColor         bool
	LogPath          string
	LockPath         string
	MetricsEnabled   bool
	MetricsPath      string
	TempRegistryPath string
	DryRun           bool

	// Webhook notifications
	WebhookEnabled       bool
	WebhookEndpointNames []string
	WebhookDefaultFormat string
	WebhookNotifyOn      string
	WebhookTimeout       int
	WebhookMaxRetries    int
	WebhookRetryDelay    int

	raw map[string]string
}

// multiValueKeys may appear several times in the file; values accumulate.
var multiValueKeys = map[string]bool{
	"AGE_RECIPIENT": true,
}

// envKeys lists every key that can be overridden from the environment.
var envKeys = []string{
	"N8N_CONTAINER", "TARGET_STAGING_DIR", "EXPORT_DECRYPTED_CREDENTIALS",
	"GITHUB_TOKEN", "GITHUB_REPO", "GITHUB_BRANCH", "GIT_REMOTE_URL",
	"GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL",
	"DEFAULT_LAYOUT", "DATED_BACKUPS", "INCREMENTAL_BACKUPS", "WORK_DIR",
	"SNAPSHOT_DIR", "SNAPSHOT_RETENTION_HOURS", "SNAPSHOT_ENCRYPT",
	"AGE_RECIPIENT", "AGE_RECIPIENT_FILE", "AGE_IDENTITY_FILE", "SNAPSHOT_PASSPHRASE",
	"RESTORE_PROJECT_ID", "RESTORE_USER_ID",
	"DEBUG_LEVEL", "USE_COLOR", "LOG_PATH", "LOCK_PATH",
	"METRICS_ENABLED", "METRICS_PATH", "TEMP_REGISTRY_PATH", "DRY_RUN",
	"WEBHOOK_ENABLED", "WEBHOOK_ENDPOINTS", "WEBHOOK_FORMAT", "WEBHOOK_NOTIFY_ON",
	"WEBHOOK_TIMEOUT", "WEBHOOK_MAX_RETRIES", "WEBHOOK_RETRY_DELAY",
}

// LoadConfig reads configPath (when non-empty) and applies environment
// overrides. A missing explicit file is an error; an empty path means
// "environment only".
func LoadConfig(configPath string) (*Config, error) {
	raw := map[string]string{}
	if strings.TrimSpace(configPath) != "" {
		if !utils.FileExists(configPath) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		values, err := parseEnvFile(configPath)
		if err != nil {
			return nil, err
		}
		raw = values
	}

	cfg := &Config{ConfigPath: configPath, raw: raw}
	cfg.loadEnvOverrides()
	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadEnvOverrides() {
	for _, key := range envKeys {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			c.raw[key] = value
		}
	}
}

func (c *Config) parse() error {
	c.Container = c.getString("N8N_CONTAINER", "n8n")
	c.TargetStagingDir = c.getString("TARGET_STAGING_DIR", "/tmp")
	c.ExportDecryptedCredentials = c.getBool("EXPORT_DECRYPTED_CREDENTIALS", false)

	c.GitHubToken = c.getString("GITHUB_TOKEN", "")
	c.GitHubRepo = strings.Trim(c.getString("GITHUB_REPO", ""), "/")
	c.GitBranch = c.getString("GITHUB_BRANCH", "main")
	c.GitRemoteURL = c.getString("GIT_REMOTE_URL", "")
	c.GitAuthorName = c.getString("GIT_AUTHOR_NAME", "flowsave")
	c.GitAuthorEmail = c.getString("GIT_AUTHOR_EMAIL", "flowsave@localhost")

	layout, err := types.ParseLayout(c.getString("DEFAULT_LAYOUT", string(types.LayoutSingleFile)))
	if err != nil {
		return fmt.Errorf("DEFAULT_LAYOUT: %w", err)
	}
	if !layout.Concrete() {
		layout = types.LayoutSingleFile
	}
	c.DefaultLayout = layout
	c.DatedBackups = c.getBool("DATED_BACKUPS", false)
	c.IncrementalBackups = c.getBool("INCREMENTAL_BACKUPS", false)
	c.WorkDir = c.getString("WORK_DIR", "")

	c.SnapshotDir = c.getString("SNAPSHOT_DIR", "/var/lib/flowsave/snapshots")
	c.SnapshotRetentionHours = c.getNonNegativeInt("SNAPSHOT_RETENTION_HOURS", 168)
	c.SnapshotEncrypt = c.getBool("SNAPSHOT_ENCRYPT", false)
	c.AgeRecipients = c.getStringSlice("AGE_RECIPIENT")
	c.AgeRecipientFile = c.getString("AGE_RECIPIENT_FILE", "")
	c.AgeIdentityFile = c.getString("AGE_IDENTITY_FILE", "")
	c.SnapshotPassphrase = c.getString("SNAPSHOT_PASSPHRASE", "")
	c.RestoreProjectID = c.getString("RESTORE_PROJECT_ID", "")
	c.RestoreUserID = c.getString("RESTORE_USER_ID", "")

	c.DebugLevel = c.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo)
	c.UseColor = c.getBool("USE_COLOR", true)
	c.LogPath = c.getString("LOG_PATH", "/tmp/flowsave")
	c.LockPath = c.getString("LOCK_PATH", "/var/lock/flowsave")
	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	c.MetricsPath = c.getString("METRICS_PATH", "/var/lib/prometheus/node-exporter")
	c.TempRegistryPath = c.getString("TEMP_REGISTRY_PATH", "")
	c.DryRun = c.getBool("DRY_RUN", false)

	c.WebhookEnabled = c.getBool("WEBHOOK_ENABLED", false)
	c.WebhookEndpointNames = c.getStringSlice("WEBHOOK_ENDPOINTS")
	c.WebhookDefaultFormat = strings.ToLower(c.getString("WEBHOOK_FORMAT", "generic"))
	c.WebhookTimeout = c.getNonNegativeInt("WEBHOOK_TIMEOUT", 30)
	c.WebhookMaxRetries = c.getNonNegativeInt("WEBHOOK_MAX_RETRIES", 3)
	c.WebhookRetryDelay = c.getNonNegativeInt("WEBHOOK_RETRY_DELAY", 2)
	switch on := strings.ToLower(c.getString("WEBHOOK_NOTIFY_ON", NotifyOnFailure)); on {
	case NotifyOnFailure, NotifyAlways:
		c.WebhookNotifyOn = on
	default:
		return fmt.Errorf("WEBHOOK_NOTIFY_ON must be %q or %q, got %q", NotifyOnFailure, NotifyAlways, on)
	}

	if c.GitBranch == "" {
		return fmt.Errorf("GITHUB_BRANCH must not be empty")
	}
	return nil
}

// RemoteURL returns the git remote for the store. GIT_REMOTE_URL wins;
// otherwise an HTTPS GitHub URL is built, embedding the token when present.
func (c *Config) RemoteURL() (string, error) {
	if c.GitRemoteURL != "" {
		return c.GitRemoteURL, nil
	}
	if c.GitHubRepo == "" {
		return "", fmt.Errorf("GITHUB_REPO or GIT_REMOTE_URL must be set")
	}
	if strings.Count(c.GitHubRepo, "/") != 1 {
		return "", fmt.Errorf("GITHUB_REPO must look like owner/name, got %q", c.GitHubRepo)
	}
	u := url.URL{Scheme: "https", Host: "github.com", Path: "/" + c.GitHubRepo + ".git"}
	if c.GitHubToken != "" {
		u.User = url.UserPassword("x-access-token", c.GitHubToken)
	}
	return u.String(), nil
}

// Get returns the raw value of key.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.raw[key]
	return v, ok
}

// Set overrides a raw value; call Reparse to apply it.
func (c *Config) Set(key, value string) {
	if c.raw == nil {
		c.raw = map[string]string{}
	}
	c.raw[key] = value
}

// Reparse re-derives typed fields after Set.
func (c *Config) Reparse() error {
	return c.parse()
}

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok && strings.TrimSpace(val) != "" {
		return os.ExpandEnv(strings.TrimSpace(val))
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok && strings.TrimSpace(val) != "" {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getNonNegativeInt(key string, defaultValue int) int {
	val, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	if val, ok := c.raw[key]; ok {
		if level, ok := types.ParseLogLevel(val); ok {
			return level
		}
	}
	return defaultValue
}

func (c *Config) getStringSlice(key string) []string {
	val, ok := c.raw[key]
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(val, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		if trimmed := strings.Trim(strings.TrimSpace(part), `"'`); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if utils.IsComment(line) {
			continue
		}
		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, lineNo)
		}
		if multiValueKeys[key] && raw[key] != "" && value != "" {
			raw[key] += "\n" + value
			continue
		}
		raw[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}
