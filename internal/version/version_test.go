package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func withPatchedGlobals(t *testing.T, versionValue, commit string, reader func() (*debug.BuildInfo, bool)) {
	t.Helper()
	origVersion, origCommit, origReader := Version, Commit, readBuildInfo
	Version = versionValue
	Commit = commit
	if reader != nil {
		readBuildInfo = reader
	}
	t.Cleanup(func() {
		Version, Commit, readBuildInfo = origVersion, origCommit, origReader
	})
}

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		version string
		info    *debug.BuildInfo
		want    string
	}{
		{name: "injected wins", version: " v1.2.3 ", info: &debug.BuildInfo{Main: debug.Module{Version: "v9.9.9"}}, want: "1.2.3"},
		{name: "build info", info: &debug.BuildInfo{Main: debug.Module{Version: "v2.3.4"}}, want: "2.3.4"},
		{name: "devel", info: &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, want: "0.0.0-dev"},
		{name: "no build info", want: "0.0.0-dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withPatchedGlobals(t, tt.version, "", func() (*debug.BuildInfo, bool) {
				return tt.info, tt.info != nil
			})
			if got := String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFullIncludesRevision(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}}}
	withPatchedGlobals(t, "1.0.0", "", func() (*debug.BuildInfo, bool) { return info, true })

	got := Full()
	for _, want := range []string{"flowsave 1.0.0\n", "commit:  0123456789ab\n", "go:      go"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Full() missing %q:\n%s", want, got)
		}
	}

	withPatchedGlobals(t, "1.0.0", "cafe", nil)
	if !strings.Contains(Full(), "commit:  cafe\n") {
		t.Fatalf("injected commit ignored:\n%s", Full())
	}
}
