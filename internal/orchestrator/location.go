package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tis24dev/flowsave/internal/types"
)

// DatedLayout is the time format of dated snapshot directories (UTC).
const DatedLayout = "2006-01-02_15-04-05"

const placeholderFile = ".gitkeep"

var datedPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}$`)

// IsDatedName reports whether name is a dated snapshot directory name.
func IsDatedName(name string) bool {
	if !datedPattern.MatchString(name) {
		return false
	}
	_, err := time.Parse(DatedLayout, name)
	return err == nil
}

// nextDatedName returns the first free dated name at or after now.
func nextDatedName(repo string, now time.Time) string {
	ts := now.UTC().Truncate(time.Second)
	for {
		name := ts.Format(DatedLayout)
		if _, err := os.Lstat(filepath.Join(repo, name)); errors.Is(err, os.ErrNotExist) {
			return name
		}
		ts = ts.Add(time.Second)
	}
}

// listDatedDirs returns the dated directories under repo, newest first.
func listDatedDirs(repo string) ([]string, error) {
	entries, err := os.ReadDir(repo)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && IsDatedName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// artifactName is the file or directory name of kind in layout.
func artifactName(kind types.Kind, layout types.Layout) string {
	if layout == types.LayoutSeparateFiles {
		return kind.Plural()
	}
	return kind.SingleFileName()
}

// detectLayout reports separate-files when any in-scope kind has a
// directory holding *.json files, single-file otherwise.
func detectLayout(dir string, kinds []types.Kind) types.Layout {
	for _, k := range kinds {
		if n, _ := countJSONFiles(filepath.Join(dir, k.Plural())); n > 0 {
			return types.LayoutSeparateFiles
		}
	}
	return types.LayoutSingleFile
}

func countJSONFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

// validateArtifact checks that the artifact of kind under dir exists, is
// non-empty and parses. It returns the record count.
func validateArtifact(dir string, kind types.Kind, layout types.Layout) (int, error) {
	p := filepath.Join(dir, artifactName(kind, layout))
	if layout == types.LayoutSeparateFiles {
		entries, err := os.ReadDir(p)
		if err != nil {
			return 0, fmt.Errorf("%s directory missing: %w", kind.Plural(), err)
		}
		n := 0
		for _, e := range entries {
			if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(p, e.Name()))
			if err != nil {
				return 0, err
			}
			if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
				return 0, fmt.Errorf("%s/%s is not a JSON object", kind.Plural(), e.Name())
			}
			n++
		}
		if n == 0 {
			return 0, fmt.Errorf("%s directory contains no records", kind.Plural())
		}
		return n, nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return 0, fmt.Errorf("%s missing: %w", kind.SingleFileName(), err)
	}
	return countRecords(data, kind.SingleFileName())
}

// countRecords parses a single-file collection.
func countRecords(data []byte, name string) (int, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return 0, fmt.Errorf("%s is empty", name)
	}
	if !gjson.ValidBytes(data) {
		return 0, fmt.Errorf("%s is not valid JSON", name)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return 0, fmt.Errorf("%s is not a JSON array", name)
	}
	return len(root.Array()), nil
}

// applyLayout replaces kind's artifact in dst with the one in src and
// removes the artifact of the other layout.
func applyLayout(src, dst string, kind types.Kind, layout types.Layout) error {
	other := types.LayoutSingleFile
	if layout == types.LayoutSingleFile {
		other = types.LayoutSeparateFiles
	}
	if err := os.RemoveAll(filepath.Join(dst, artifactName(kind, other))); err != nil {
		return fmt.Errorf("remove %s: %w", artifactName(kind, other), err)
	}
	name := artifactName(kind, layout)
	if err := os.RemoveAll(filepath.Join(dst, name)); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return copyPath(filepath.Join(src, name), filepath.Join(dst, name))
}

// copyPath copies a regular file or a flat directory of regular files.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
