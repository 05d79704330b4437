package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tis24dev/flowsave/internal/types"
)

type testStreams struct {
	out bytes.Buffer
	err bytes.Buffer
}

func (s *testStreams) io(in string) IO {
	return IO{In: strings.NewReader(in), Out: &s.out, Err: &s.err}
}

func run(t *testing.T, in string, args ...string) (int, *testStreams) {
	t.Helper()
	s := &testStreams{}
	code := Execute(context.Background(), s.io(in), args)
	return code, s
}

// writeConfig writes a minimal configuration rooted in a temp directory and
// clears environment overrides that would shadow it.
func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{"SNAPSHOT_DIR", "LOG_PATH", "LOCK_PATH", "GITHUB_TOKEN", "GITHUB_REPO", "GIT_REMOTE_URL", "N8N_CONTAINER"} {
		t.Setenv(key, "")
	}
	lines := []string{
		"N8N_CONTAINER=n8n-test",
		"SNAPSHOT_DIR=" + filepath.Join(dir, "snapshots"),
		"LOG_PATH=" + filepath.Join(dir, "logs"),
		"LOCK_PATH=" + filepath.Join(dir, "lock"),
		"USE_COLOR=false",
	}
	lines = append(lines, extra...)
	path := filepath.Join(dir, "flowsave.env")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecuteVersion(t *testing.T) {
	code, s := run(t, "", "version")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, s.err.String())
	}
	if !strings.HasPrefix(s.out.String(), "flowsave ") {
		t.Fatalf("unexpected version output %q", s.out.String())
	}
}

func TestExecuteExitCodes(t *testing.T) {
	cfg := writeConfig(t)
	tests := []struct {
		name string
		args []string
		want types.ExitCode
	}{
		{"unknown command", []string{"bogus"}, types.ExitInputError},
		{"unknown flag", []string{"backup", "--nope"}, types.ExitInputError},
		{"invalid log level", []string{"--log-level", "loud", "--config", cfg, "snapshots", "list"}, types.ExitInputError},
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "missing.env"), "snapshots", "list"}, types.ExitConfigError},
		{"bad backup layout", []string{"--config", cfg, "backup", "--layout", "zip"}, types.ExitInputError},
		{"nothing to back up", []string{"--config", cfg, "backup", "--workflows", "none"}, types.ExitInputError},
		{"bad restore source", []string{"--config", cfg, "restore", "--source", "yesterday"}, types.ExitInputError},
		{"rollback without snapshot", []string{"--config", cfg, "rollback"}, types.ExitInputError},
		{"interactive with source", []string{"--config", cfg, "restore", "--interactive", "--source", "root"}, types.ExitInputError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, s := run(t, "", tt.args...)
			if code != tt.want.Int() {
				t.Fatalf("exit code = %d, want %d (stderr: %s)", code, tt.want.Int(), s.err.String())
			}
			if !strings.Contains(s.err.String(), "Error:") {
				t.Fatalf("expected error on stderr, got %q", s.err.String())
			}
		})
	}
}

func TestExitError(t *testing.T) {
	err := &exitError{code: types.ExitRestoreError, err: errors.New("already logged"), reported: true}
	if got := err.Error(); got != "already logged" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, err.err) {
		t.Fatal("exitError should unwrap to its cause")
	}
	if withCode(types.ExitInputError, nil) != nil {
		t.Fatal("withCode(nil) should be nil")
	}
	bare := &exitError{code: types.ExitLockError}
	if bare.Error() != types.ExitLockError.String() {
		t.Fatalf("Error() without cause = %q", bare.Error())
	}
}

func TestReadGlobals(t *testing.T) {
	cfg := writeConfig(t)
	s := &testStreams{}
	root := NewRootCmd(s.io(""))
	if err := root.PersistentFlags().Parse([]string{"-c", cfg, "-n", "-y", "-l", "debug", "--no-color"}); err != nil {
		t.Fatal(err)
	}
	g, err := readGlobals(root)
	if err != nil {
		t.Fatalf("readGlobals: %v", err)
	}
	if g.ConfigPath != cfg || g.ConfigPathSource != configSourceFlag {
		t.Fatalf("config = %q (%s)", g.ConfigPath, g.ConfigPathSource)
	}
	if !g.DryRun || !g.Yes || !g.NoColor {
		t.Fatalf("bool flags not read: %+v", g)
	}
	if !g.LogLevelSet || g.LogLevel != types.LogLevelDebug {
		t.Fatalf("log level = %v (set=%v)", g.LogLevel, g.LogLevelSet)
	}

	loaded, err := loadConfig(g)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if loaded.DebugLevel != types.LogLevelDebug || loaded.UseColor {
		t.Fatalf("flag overrides not applied: level=%v color=%v", loaded.DebugLevel, loaded.UseColor)
	}
}
