// Package sanitize strips identity fields from exported records so they are
// imported as new records instead of overwriting existing ones.
package sanitize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultIDField is the identity attribute of exported records.
const DefaultIDField = "id"

func escapePath(field string) string {
	r := strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(field)
}

// Strip removes idField from every record of a JSON array. Record order and
// all other fields are preserved; an empty array stays empty. Input that is
// not a JSON array of objects is rejected.
func Strip(data []byte, idField string) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("expected a JSON array of records, got %s", kindOf(root))
	}

	field := escapePath(idField)
	out := data
	var err error
	for i, rec := range root.Array() {
		if !rec.IsObject() {
			return nil, fmt.Errorf("record %d is %s, not an object", i, kindOf(rec))
		}
		if !rec.Get(field).Exists() {
			continue
		}
		out, err = sjson.DeleteBytes(out, fmt.Sprintf("%d.%s", i, field))
		if err != nil {
			return nil, fmt.Errorf("strip record %d: %w", i, err)
		}
	}
	return out, nil
}

// StripRecord removes idField from a single JSON object (one file of a
// separate-files export).
func StripRecord(data []byte, idField string) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	rec := gjson.ParseBytes(data)
	if !rec.IsObject() {
		return nil, fmt.Errorf("expected a JSON object, got %s", kindOf(rec))
	}
	field := escapePath(idField)
	if !rec.Get(field).Exists() {
		return data, nil
	}
	return sjson.DeleteBytes(data, field)
}

// StripAny dispatches on the top-level shape: arrays go through Strip,
// objects through StripRecord.
func StripAny(data []byte, idField string) ([]byte, error) {
	if gjson.ValidBytes(data) && gjson.ParseBytes(data).IsObject() {
		return StripRecord(data, idField)
	}
	return Strip(data, idField)
}

func kindOf(r gjson.Result) string {
	switch {
	case r.IsArray():
		return "an array"
	case r.IsObject():
		return "an object"
	}
	switch r.Type {
	case gjson.String:
		return "a string"
	case gjson.Number:
		return "a number"
	case gjson.True, gjson.False:
		return "a boolean"
	}
	return "null"
}

// StripFile writes the stripped form of src to dst. dst is written through a
// temporary file in the same directory and renamed into place, so a failure
// never leaves a partial dst behind.
func StripFile(src, dst, idField string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	out, err := StripAny(data, idField)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(src), err)
	}
	return writeAtomic(dst, out)
}

// StripDir applies StripFile to every *.json file in srcDir, writing the
// results to dstDir. On failure dstDir is removed.
func StripDir(srcDir, dstDir, idField string) (err error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcDir, err)
	}
	if err := os.MkdirAll(dstDir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dstDir, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dstDir)
		}
	}()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := StripFile(filepath.Join(srcDir, e.Name()), filepath.Join(dstDir, e.Name()), idField); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	return nil
}
