package target

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/tis24dev/flowsave/internal/types"
)

// CLI is the application binary invoked inside the container.
const CLI = "n8n"

// StagingPrefix names every per-run staging directory on the target.
const StagingPrefix = "flowsave-"

var containerNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidTargetName reports whether name is an acceptable container identifier.
func ValidTargetName(name string) bool {
	return len(name) <= 128 && containerNamePattern.MatchString(name)
}

// Command is a validated argv for the execution target. It can only be
// produced by the constructors below.
type Command struct {
	argv []string
}

// Args returns a copy of the argument vector.
func (c Command) Args() []string {
	return append([]string(nil), c.argv...)
}

// String renders the command shell-quoted, for logs and dry-run output.
func (c Command) String() string {
	return shellquote.Join(c.argv...)
}

// IsZero reports whether c was never built.
func (c Command) IsZero() bool {
	return len(c.argv) == 0
}

func checkPath(p string) error {
	if p == "" || !path.IsAbs(p) {
		return fmt.Errorf("target path %q must be absolute", p)
	}
	if c := path.Clean(p); c != p && c+"/" != p {
		return fmt.Errorf("target path %q is not clean", p)
	}
	if strings.ContainsAny(p, "\x00\n") {
		return fmt.Errorf("target path contains control characters")
	}
	return nil
}

// ExportCommand builds `n8n export:<kind>` for the given selector and layout.
// For separate-files the output path is a directory and gets a trailing slash.
func ExportCommand(kind types.Kind, sel types.Selector, layout types.Layout, output string, decrypted bool) (Command, error) {
	if !kind.Valid() {
		return Command{}, fmt.Errorf("invalid kind %q", kind)
	}
	if err := sel.Validate(); err != nil {
		return Command{}, err
	}
	if !sel.Active() {
		return Command{}, fmt.Errorf("export of %s requires a selector", kind.Plural())
	}
	if !layout.Concrete() {
		return Command{}, fmt.Errorf("export requires a concrete layout, got %q", layout)
	}
	if err := checkPath(output); err != nil {
		return Command{}, err
	}
	if decrypted && kind != types.KindCredential {
		return Command{}, fmt.Errorf("--decrypted only applies to credentials")
	}

	argv := []string{CLI, "export:" + kind.String()}
	if sel.Mode == types.SelectAll {
		argv = append(argv, "--all")
	} else {
		argv = append(argv, "--id="+sel.ID)
	}
	if layout == types.LayoutSeparateFiles {
		argv = append(argv, "--separate", "--output="+strings.TrimSuffix(output, "/")+"/")
	} else {
		argv = append(argv, "--output="+output)
	}
	argv = append(argv, "--pretty")
	if decrypted {
		argv = append(argv, "--decrypted")
	}
	return Command{argv: argv}, nil
}

// ImportOptions assigns imported records to a user or project.
type ImportOptions struct {
	UserID    string
	ProjectID string
}

// ImportCommand builds `n8n import:<kind>` reading from input.
func ImportCommand(kind types.Kind, layout types.Layout, input string, opts ImportOptions) (Command, error) {
	if !kind.Valid() {
		return Command{}, fmt.Errorf("invalid kind %q", kind)
	}
	if !layout.Concrete() {
		return Command{}, fmt.Errorf("import requires a concrete layout, got %q", layout)
	}
	if err := checkPath(input); err != nil {
		return Command{}, err
	}
	if opts.UserID != "" && opts.ProjectID != "" {
		return Command{}, fmt.Errorf("user and project overrides are mutually exclusive")
	}
	for _, id := range []string{opts.UserID, opts.ProjectID} {
		if id != "" && !types.ValidItemID(id) {
			return Command{}, fmt.Errorf("invalid identity override %q", id)
		}
	}

	argv := []string{CLI, "import:" + kind.String()}
	if layout == types.LayoutSeparateFiles {
		argv = append(argv, "--separate", "--input="+strings.TrimSuffix(input, "/")+"/")
	} else {
		argv = append(argv, "--input="+input)
	}
	if opts.UserID != "" {
		argv = append(argv, "--userId="+opts.UserID)
	}
	if opts.ProjectID != "" {
		argv = append(argv, "--projectId="+opts.ProjectID)
	}
	return Command{argv: argv}, nil
}

// checkStagingDir accepts paths at or below a flowsave-* directory that is
// not itself at the filesystem root.
func checkStagingDir(dir string) error {
	if err := checkPath(dir); err != nil {
		return err
	}
	parts := strings.Split(strings.Trim(path.Clean(dir), "/"), "/")
	for _, p := range parts[1:] {
		if strings.HasPrefix(p, StagingPrefix) && len(p) > len(StagingPrefix) {
			return nil
		}
	}
	return fmt.Errorf("refusing to manage %q: not inside a %s* staging directory", dir, StagingPrefix)
}

// MkdirCommand creates a staging directory on the target.
func MkdirCommand(dir string) (Command, error) {
	if err := checkStagingDir(dir); err != nil {
		return Command{}, err
	}
	return Command{argv: []string{"mkdir", "-p", "--", path.Clean(dir)}}, nil
}

// CleanupCommand removes a staging directory created by MkdirCommand.
func CleanupCommand(dir string) (Command, error) {
	if err := checkStagingDir(dir); err != nil {
		return Command{}, err
	}
	return Command{argv: []string{"rm", "-rf", "--", path.Clean(dir)}}, nil
}

// IsNoItemsOutput recognizes the CLI's "nothing to export" message, which is
// a legitimate outcome rather than a failure.
func IsNoItemsOutput(kind types.Kind, output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no "+kind.Plural()+" found")
}
