package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tis24dev/flowsave/internal/gitstore"
	"github.com/tis24dev/flowsave/internal/logging"
	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
)

const testContainer = "n8n"

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) ExitCode() int { return e.code }

// fakeContainer emulates `docker exec`/`docker cp` against an n8n container
// whose filesystem lives under root and whose records live in memory.
type fakeContainer struct {
	mu         sync.Mutex
	root       string
	records    map[types.Kind][]string
	imported   map[types.Kind][]string
	failExport map[types.Kind]bool
	failImport map[types.Kind]bool
	calls      []string
	nextID     int
}

func newFakeContainer(t *testing.T) *fakeContainer {
	t.Helper()
	return &fakeContainer{
		root:       t.TempDir(),
		records:    map[types.Kind][]string{},
		imported:   map[types.Kind][]string{},
		failExport: map[types.Kind]bool{},
		failImport: map[types.Kind]bool{},
	}
}

func (f *fakeContainer) seed(kind types.Kind, records ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[kind] = append([]string(nil), records...)
}

func (f *fakeContainer) wipe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = map[types.Kind][]string{}
	f.imported = map[types.Kind][]string{}
}

func (f *fakeContainer) ids(kind types.Kind) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.records[kind] {
		out = append(out, gjson.Get(r, "id").String())
	}
	sort.Strings(out)
	return out
}

// commandsMatching returns the recorded docker invocations containing sub.
func (f *fakeContainer) commandsMatching(sub string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.Contains(c, sub) {
			out = append(out, c)
		}
	}
	return out
}

// stagingLeftovers lists flowsave-* directories still present under /tmp.
func (f *fakeContainer) stagingLeftovers() []string {
	matches, _ := filepath.Glob(filepath.Join(f.root, "tmp", target.StagingPrefix+"*"))
	return matches
}

func (f *fakeContainer) local(p string) string {
	return filepath.Join(f.root, filepath.FromSlash(p))
}

func (f *fakeContainer) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(args, " "))
	if name != "docker" || len(args) < 3 {
		return nil, fmt.Errorf("unexpected command %s %v", name, args)
	}
	switch args[0] {
	case "cp":
		return nil, f.copy(args[1], args[2])
	case "exec":
		if args[1] != testContainer {
			return []byte("Error: No such container: " + args[1]), exitError{1}
		}
		return f.exec(args[2:])
	}
	return nil, fmt.Errorf("unexpected docker command %v", args)
}

func (f *fakeContainer) copy(src, dst string) error {
	prefix := testContainer + ":"
	if strings.HasPrefix(src, prefix) {
		src = f.local(strings.TrimPrefix(src, prefix))
	}
	if strings.HasPrefix(dst, prefix) {
		dst = f.local(strings.TrimPrefix(dst, prefix))
	}
	if _, err := os.Stat(src); err != nil {
		return exitError{1}
	}
	return copyPath(src, dst)
}

func (f *fakeContainer) exec(argv []string) ([]byte, error) {
	last := argv[len(argv)-1]
	switch {
	case argv[0] == "mkdir":
		return nil, os.MkdirAll(f.local(last), 0o755)
	case argv[0] == "rm":
		return nil, os.RemoveAll(f.local(last))
	case argv[0] == "n8n" && strings.HasPrefix(argv[1], "export:"):
		return f.export(types.Kind(strings.TrimPrefix(argv[1], "export:")), argv[2:])
	case argv[0] == "n8n" && strings.HasPrefix(argv[1], "import:"):
		return f.importKind(types.Kind(strings.TrimPrefix(argv[1], "import:")), argv[2:])
	}
	return []byte("unknown command"), exitError{127}
}

func flagValue(flags []string, name string) (string, bool) {
	for _, fl := range flags {
		if fl == name {
			return "", true
		}
		if strings.HasPrefix(fl, name+"=") {
			return strings.TrimPrefix(fl, name+"="), true
		}
	}
	return "", false
}

func (f *fakeContainer) export(kind types.Kind, flags []string) ([]byte, error) {
	if f.failExport[kind] {
		return []byte("Error exporting " + kind.Plural()), exitError{1}
	}
	id, byID := flagValue(flags, "--id")
	_, separate := flagValue(flags, "--separate")
	output, _ := flagValue(flags, "--output")

	var recs []string
	for _, r := range f.records[kind] {
		if !byID || gjson.Get(r, "id").String() == id {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return []byte("No " + kind.Plural() + " found with specified filters"), nil
	}
	if separate {
		dir := f.local(output)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		for _, r := range recs {
			name := gjson.Get(r, "id").String() + ".json"
			if err := os.WriteFile(filepath.Join(dir, name), []byte(r+"\n"), 0o644); err != nil {
				return nil, err
			}
		}
	} else {
		body := "[\n" + strings.Join(recs, ",\n") + "\n]\n"
		if err := os.WriteFile(f.local(output), []byte(body), 0o644); err != nil {
			return nil, err
		}
	}
	return []byte(fmt.Sprintf("Successfully exported %d %s.", len(recs), kind.Plural())), nil
}

func (f *fakeContainer) importKind(kind types.Kind, flags []string) ([]byte, error) {
	if f.failImport[kind] {
		return []byte("An error occurred while importing " + kind.Plural()), exitError{1}
	}
	input, _ := flagValue(flags, "--input")
	_, separate := flagValue(flags, "--separate")

	var incoming []string
	if separate {
		matches, _ := filepath.Glob(filepath.Join(f.local(input), "*.json"))
		sort.Strings(matches)
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				return nil, err
			}
			incoming = append(incoming, strings.TrimSpace(string(data)))
		}
	} else {
		data, err := os.ReadFile(f.local(input))
		if err != nil {
			return []byte(err.Error()), exitError{1}
		}
		for _, r := range gjson.ParseBytes(data).Array() {
			incoming = append(incoming, r.Raw)
		}
	}

	for _, raw := range incoming {
		f.imported[kind] = append(f.imported[kind], raw)
		rec := gjson.Get(raw, "@ugly").Raw
		id := gjson.Get(rec, "id")
		if !id.Exists() {
			f.nextID++
			rec, _ = sjson.Set(rec, "id", fmt.Sprintf("new-%d", f.nextID))
			id = gjson.Get(rec, "id")
		}
		replaced := false
		for i, existing := range f.records[kind] {
			if gjson.Get(existing, "id").String() == id.String() {
				f.records[kind][i] = rec
				replaced = true
			}
		}
		if !replaced {
			f.records[kind] = append(f.records[kind], rec)
		}
	}
	return []byte(fmt.Sprintf("Successfully imported %d %s.", len(incoming), kind.Plural())), nil
}

// failingStore wraps a real store and fails the remote operations it has
// an error for.
type failingStore struct {
	Store
	pushErr  error
	cloneErr error
}

func (s *failingStore) Push(ctx context.Context, path, branch string) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	return s.Store.Push(ctx, path, branch)
}

func (s *failingStore) Clone(ctx context.Context, url, branch, dest string, shallow bool) error {
	if s.cloneErr != nil {
		return s.cloneErr
	}
	return s.Store.Clone(ctx, url, branch, dest, shallow)
}

func remoteDown(op string) error {
	return &gitstore.RemoteError{Op: op, Err: fmt.Errorf("connection refused")}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type harness struct {
	t         *testing.T
	container *fakeContainer
	remote    string
	bare      string
	clock     *fakeClock
	orch      *Orchestrator
	opts      Options
	logs      *bytes.Buffer
	work      string
	// store and registry, when set, replace the git client and the
	// absent registry on the next rebuild.
	store    Store
	registry *TempDirRegistry
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	requireGit(t)

	bare := filepath.Join(t.TempDir(), "remote.git")
	if out, err := exec.Command("git", "init", "-q", "--bare", bare).CombinedOutput(); err != nil {
		t.Fatalf("git init --bare: %v: %s", err, out)
	}
	h := &harness{
		t:         t,
		container: newFakeContainer(t),
		remote:    "file://" + bare,
		bare:      bare,
		clock:     &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		logs:      &bytes.Buffer{},
		work:      t.TempDir(),
	}
	h.opts = Options{
		Target:      testContainer,
		RemoteURL:   h.remote,
		Branch:      "main",
		AuthorName:  "flowsave test",
		AuthorEmail: "test@example.invalid",
		WorkDir:     h.work,
		SnapshotDir: filepath.Join(t.TempDir(), "snapshots"),
	}
	if mutate != nil {
		mutate(&h.opts)
	}
	h.rebuild(nil)
	return h
}

// rebuild recreates the orchestrator after options changed.
func (h *harness) rebuild(chooser SourceChooser) {
	h.t.Helper()
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(h.logs)
	var store Store = gitstore.New(logger)
	if h.store != nil {
		store = h.store
	}
	orch, err := New(h.opts, Deps{
		Logger:   logger,
		Target:   target.NewAdapter(h.container, logger),
		Store:    store,
		Chooser:  chooser,
		Time:     h.clock,
		Registry: h.registry,
	})
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	h.orch = orch
}

func (h *harness) backup(req BackupRequest) *BackupResult {
	h.t.Helper()
	res := h.orch.RunBackup(context.Background(), req)
	if res.Status == StatusFailed {
		h.t.Fatalf("backup failed: %v\n%s", res.Err, h.logs.String())
	}
	return res
}

// remoteSubjects returns the commit subjects on main, newest first.
func (h *harness) remoteSubjects() []string {
	h.t.Helper()
	out, err := exec.Command("git", "--git-dir", h.bare, "log", "--format=%s", "main").CombinedOutput()
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(out)), "\n")
}

// checkout clones main from the remote and returns the working tree.
func (h *harness) checkout() string {
	h.t.Helper()
	dir := filepath.Join(h.t.TempDir(), "clone")
	if out, err := exec.Command("git", "clone", "-q", "--branch", "main", h.remote, dir).CombinedOutput(); err != nil {
		h.t.Fatalf("git clone: %v: %s", err, out)
	}
	return dir
}

func (h *harness) snapshotDirs() []string {
	matches, _ := filepath.Glob(filepath.Join(h.opts.SnapshotDir, snapshotPrefix+"*"))
	return matches
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func fullRequest(layout types.Layout) BackupRequest {
	return BackupRequest{Workflows: types.All(), Credentials: types.All(), Layout: layout}
}

func seedDefault(c *fakeContainer) {
	c.seed(types.KindWorkflow,
		`{"id":"wf1","name":"Daily report","nodes":[{"name":"HTTP","credentials":{"httpBasicAuth":{"id":"cr1","name":"api"}}}]}`,
		`{"id":"wf2","name":"Cleanup","nodes":[]}`,
	)
	c.seed(types.KindCredential,
		`{"id":"cr1","name":"api","type":"httpBasicAuth","data":"enc1"}`,
		`{"id":"cr2","name":"smtp","type":"smtp","data":"enc2"}`,
	)
}
