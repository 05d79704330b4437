package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/flowsave/internal/types"
)

// DefaultSessionLogDir holds per-invocation log files when LOG_PATH is unset.
const DefaultSessionLogDir = "/tmp/flowsave"

// StartSessionLogger creates a logger that mirrors into
// <dir>/<flow>-<host>-<timestamp>.log. The returned cleanup closes the file.
func StartSessionLogger(dir, flow string, level types.LogLevel, useColor bool) (*Logger, string, func(), error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultSessionLogDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("create session log directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.log", slug(flow), slug(hostname()), time.Now().Format("20060102-150405"))
	logPath := filepath.Join(dir, name)

	logger := New(level, useColor)
	if err := logger.OpenLogFile(logPath); err != nil {
		return nil, "", nil, err
	}
	return logger, logPath, func() { _ = logger.CloseLogFile() }, nil
}

func slug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	lastDash := true
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "session"
	}
	return out
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "host"
	}
	return host
}
