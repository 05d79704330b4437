// Package discovery finds the credentials referenced by exported workflows.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// wrapperKeys are checked, in order, when the export is an object that wraps
// the workflow list.
var wrapperKeys = []string{"data", "workflows", "items"}

// LinkedIDs returns the sorted, de-duplicated IDs of every credential
// referenced by any node of the given workflows. The input may be a single
// workflow object, an array of workflows, or an object wrapping such an
// array. Anything else, and any malformed node, contributes nothing.
func LinkedIDs(data []byte) []string {
	if !gjson.ValidBytes(data) {
		return []string{}
	}
	seen := map[string]struct{}{}
	for _, wf := range workflows(gjson.ParseBytes(data)) {
		collect(wf, seen)
	}
	return sorted(seen)
}

func workflows(root gjson.Result) []gjson.Result {
	switch {
	case root.IsArray():
		return root.Array()
	case !root.IsObject():
		return nil
	case root.Get("nodes").Exists():
		return []gjson.Result{root}
	}
	for _, key := range wrapperKeys {
		if v := root.Get(key); v.IsArray() {
			return v.Array()
		}
	}
	var found []gjson.Result
	root.ForEach(func(_, v gjson.Result) bool {
		if v.IsArray() {
			found = v.Array()
			return false
		}
		return true
	})
	return found
}

func collect(wf gjson.Result, seen map[string]struct{}) {
	if !wf.IsObject() {
		return
	}
	nodes := wf.Get("nodes")
	if !nodes.IsArray() {
		return
	}
	nodes.ForEach(func(_, node gjson.Result) bool {
		creds := node.Get("credentials")
		if !node.IsObject() || !creds.IsObject() {
			return true
		}
		creds.ForEach(func(_, ref gjson.Result) bool {
			id := ref.Get("id")
			if ref.IsObject() && id.Type == gjson.String {
				if v := strings.TrimSpace(id.String()); v != "" {
					seen[v] = struct{}{}
				}
			}
			return true
		})
		return true
	})
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LinkedIDsFromPath runs LinkedIDs over a file, or over every *.json file of
// a directory (separate-files exports), merging the results.
func LinkedIDsFromPath(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.json"))
		if err != nil {
			return nil, err
		}
	}
	seen := map[string]struct{}{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for _, id := range LinkedIDs(data) {
			seen[id] = struct{}{}
		}
	}
	return sorted(seen), nil
}
