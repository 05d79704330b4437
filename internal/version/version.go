// Package version reports the build version of the flowsave binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Populated at build time via -ldflags, for example:
//
//	-X github.com/tis24dev/flowsave/internal/version.Version=v0.3.0
//	-X github.com/tis24dev/flowsave/internal/version.Commit=abcdef123
//	-X github.com/tis24dev/flowsave/internal/version.Date=2025-01-01T12:34:56Z
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

const devVersion = "0.0.0-dev"

var readBuildInfo = debug.ReadBuildInfo

// String returns the injected version, else the main module version from
// the build info, else a development placeholder. A leading "v" is dropped.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}
	if v == "" {
		v = devVersion
	}
	return strings.TrimPrefix(v, "v")
}

// revision returns Commit, or the vcs.revision build setting.
func revision() string {
	if c := strings.TrimSpace(Commit); c != "" {
		return c
	}
	if info, ok := readBuildInfo(); ok && info != nil {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

// Full returns the multi-line text printed by `flowsave version`.
func Full() string {
	var b strings.Builder
	fmt.Fprintf(&b, "flowsave %s\n", String())
	if rev := revision(); rev != "" {
		if len(rev) > 12 {
			rev = rev[:12]
		}
		fmt.Fprintf(&b, "commit:  %s\n", rev)
	}
	if d := strings.TrimSpace(Date); d != "" {
		fmt.Fprintf(&b, "built:   %s\n", d)
	}
	fmt.Fprintf(&b, "go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return b.String()
}
