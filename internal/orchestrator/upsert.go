package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tis24dev/flowsave/internal/sanitize"
	"github.com/tis24dev/flowsave/internal/types"
)

// mergeExport folds a freshly copied export (incoming) into the local
// artifact, creating it when absent, and returns the local record count.
func mergeExport(incoming, local string, kind types.Kind, layout types.Layout) (int, error) {
	if layout == types.LayoutSeparateFiles {
		info, err := os.Stat(incoming)
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			return 0, fmt.Errorf("expected a directory of %s, got a file", kind.Plural())
		}
		if err := copyPath(incoming, local); err != nil {
			return 0, err
		}
		_ = os.Remove(filepath.Join(local, placeholderFile))
		return validateSeparate(local, kind)
	}

	data, err := os.ReadFile(incoming)
	if err != nil {
		return 0, err
	}
	records, err := asArray(data, filepath.Base(local))
	if err != nil {
		return 0, err
	}
	if existing, err := os.ReadFile(local); err == nil {
		records, err = upsertRecords(existing, records, sanitize.DefaultIDField)
		if err != nil {
			return 0, err
		}
	}
	if err := writeFileAtomic(local, records, 0o644); err != nil {
		return 0, err
	}
	return countRecords(records, filepath.Base(local))
}

func validateSeparate(dir string, kind types.Kind) (int, error) {
	n, err := countJSONFiles(dir)
	if err != nil || n == 0 {
		return n, err
	}
	return validateArtifact(filepath.Dir(dir), kind, types.LayoutSeparateFiles)
}

// asArray normalizes a single-file export: a bare object becomes a
// one-element array.
func asArray(data []byte, name string) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s is not valid JSON", name)
	}
	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		return data, nil
	case root.IsObject():
		return []byte("[" + strings.TrimSpace(root.Raw) + "]"), nil
	}
	return nil, fmt.Errorf("%s is neither a JSON array nor an object", name)
}

// upsertRecords merges the records of update into base, replacing records
// with the same idField and appending new ones. Record order of base is
// kept, and base is returned untouched when nothing differs.
func upsertRecords(base, update []byte, idField string) ([]byte, error) {
	if len(strings.TrimSpace(string(base))) == 0 {
		return update, nil
	}
	if !gjson.ValidBytes(base) || !gjson.ParseBytes(base).IsArray() {
		return nil, fmt.Errorf("existing collection is not a JSON array")
	}
	if !gjson.ValidBytes(update) || !gjson.ParseBytes(update).IsArray() {
		return nil, fmt.Errorf("update is not a JSON array")
	}
	key := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(idField)

	index := map[string]int{}
	existing := gjson.ParseBytes(base).Array()
	for i, r := range existing {
		if id := r.Get(key); id.Exists() {
			index[id.String()] = i
		}
	}

	records := make([]string, 0, len(existing))
	for _, r := range existing {
		records = append(records, r.Raw)
	}
	changed := false
	for _, r := range gjson.ParseBytes(update).Array() {
		id := r.Get(key)
		if pos, found := index[id.String()]; id.Exists() && found {
			if compact(records[pos]) != compact(r.Raw) {
				records[pos] = r.Raw
				changed = true
			}
			continue
		}
		if id.Exists() {
			index[id.String()] = len(records)
		}
		records = append(records, r.Raw)
		changed = true
	}
	if !changed {
		return base, nil
	}
	if len(records) == 0 {
		return []byte("[]\n"), nil
	}
	return []byte("[\n" + strings.Join(records, ",\n") + "\n]\n"), nil
}

// recordsFromDir collects the per-record files of a separate-files
// artifact into one collection, in file name order.
func recordsFromDir(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var records []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
			return nil, fmt.Errorf("%s is not a JSON object", e.Name())
		}
		records = append(records, strings.TrimSpace(string(data)))
	}
	if len(records) == 0 {
		return nil, nil
	}
	return []byte("[\n" + strings.Join(records, ",\n") + "\n]\n"), nil
}

func compact(raw string) string {
	return gjson.Get(raw, "@ugly").Raw
}
