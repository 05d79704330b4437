package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tis24dev/flowsave"
	"github.com/tis24dev/flowsave/pkg/utils"
)

// templateSource is swapped in tests.
var templateSource = flowsave.ConfigTemplate

// WriteTemplate writes the default configuration to path, applying values
// (KEY -> value) on top of the template defaults. An existing file is only
// replaced when force is set.
func WriteTemplate(path string, values map[string]string, force bool) error {
	if utils.FileExists(path) && !force {
		return fmt.Errorf("configuration file %s already exists (use --force to overwrite)", path)
	}
	content := templateSource()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		content = utils.SetEnvValue(content, k, values[k])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return replaceFile(path, []byte(content), 0o600)
}

// UpgradeResult describes the outcome of a configuration upgrade.
type UpgradeResult struct {
	BackupPath      string
	MissingKeys     []string
	ExtraKeys       []string
	PreservedValues int
	Changed         bool
}

// PlanUpgradeConfigFile reports what UpgradeConfigFile would change.
func PlanUpgradeConfigFile(configPath string) (*UpgradeResult, error) {
	result, _, _, err := mergeWithTemplate(configPath)
	return result, err
}

// UpgradeConfigFile adds template keys missing from the user's file while
// keeping every existing value. Keys unknown to the template are kept in a
// trailing section. The previous file is saved as <path>.backup.<ts>.
func UpgradeConfigFile(configPath string) (*UpgradeResult, error) {
	result, merged, original, err := mergeWithTemplate(configPath)
	if err != nil || !result.Changed {
		return result, err
	}

	mode := os.FileMode(0o600)
	if info, err := os.Stat(configPath); err == nil {
		mode = info.Mode().Perm()
	}
	backupPath := fmt.Sprintf("%s.backup.%s", configPath, time.Now().Format("20060102_150405"))
	if err := os.WriteFile(backupPath, original, mode); err != nil {
		return result, fmt.Errorf("failed to create backup %s: %w", backupPath, err)
	}
	if err := replaceFile(configPath, []byte(merged), mode); err != nil {
		return result, err
	}
	result.BackupPath = backupPath

	if _, err := LoadConfig(configPath); err != nil {
		_ = os.Rename(backupPath, configPath)
		return result, fmt.Errorf("upgraded config invalid, restored backup: %w", err)
	}
	return result, nil
}

func mergeWithTemplate(configPath string) (*UpgradeResult, string, []byte, error) {
	result := &UpgradeResult{}
	if strings.TrimSpace(configPath) == "" {
		return result, "", nil, fmt.Errorf("configuration path is empty")
	}
	original, err := os.ReadFile(configPath)
	if err != nil {
		return result, "", nil, fmt.Errorf("cannot read configuration file %s: %w", configPath, err)
	}

	userValues := map[string][]string{}
	var userOrder []string
	for _, line := range strings.Split(strings.ReplaceAll(string(original), "\r\n", "\n"), "\n") {
		if utils.IsComment(line) {
			continue
		}
		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}
		if _, seen := userValues[key]; !seen {
			userOrder = append(userOrder, key)
		}
		userValues[key] = append(userValues[key], value)
	}

	known := map[string]bool{}
	var out []string
	for _, line := range strings.Split(templateSource(), "\n") {
		key, _, ok := utils.SplitKeyValue(line)
		if utils.IsComment(line) || !ok {
			out = append(out, line)
			continue
		}
		known[key] = true
		values, present := userValues[key]
		if !present {
			result.MissingKeys = append(result.MissingKeys, key)
			out = append(out, line)
			continue
		}
		for _, v := range values {
			out = append(out, key+"="+v)
			result.PreservedValues++
		}
	}

	var extra []string
	for _, key := range userOrder {
		if known[key] {
			continue
		}
		result.ExtraKeys = append(result.ExtraKeys, key)
		for _, v := range userValues[key] {
			extra = append(extra, key+"="+v)
		}
	}
	if len(extra) > 0 {
		out = append(out, "", "# Custom keys preserved from previous configuration")
		out = append(out, extra...)
	}

	result.Changed = len(result.MissingKeys) > 0 || len(result.ExtraKeys) > 0
	return result, strings.Join(out, "\n"), original, nil
}

func replaceFile(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write temporary config %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config %s: %w", path, err)
	}
	return nil
}
