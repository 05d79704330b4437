package orchestrator

import (
	"context"
	"time"

	"github.com/tis24dev/flowsave/internal/changes"
	"github.com/tis24dev/flowsave/internal/logging"
	"github.com/tis24dev/flowsave/internal/seal"
	"github.com/tis24dev/flowsave/internal/target"
)

// Target abstracts the container hosting the automation instance.
type Target interface {
	Exec(ctx context.Context, name string, cmd target.Command, dryRun bool) (*target.ExecResult, error)
	CopyFromTarget(ctx context.Context, name, src, dst string, dryRun bool) error
	CopyToTarget(ctx context.Context, name, src, dst string, dryRun bool) error
}

// Store abstracts the git-backed snapshot store.
type Store interface {
	changes.Store
	Init(ctx context.Context, path string) error
	SetRemote(ctx context.Context, path, url string) error
	ConfigureIdentity(ctx context.Context, path, name, email string) error
	FetchBranch(ctx context.Context, path, branch string) (bool, error)
	CheckoutOrCreate(ctx context.Context, path, branch string, exists bool) error
	StageAll(ctx context.Context, path string, globs []string) error
	Commit(ctx context.Context, path, message string) (string, bool, error)
	Push(ctx context.Context, path, branch string) error
	Clone(ctx context.Context, url, branch, dest string, shallow bool) error
}

// SourceChooser lets an operator pick the restore source. dated is sorted
// newest first; an empty return selects the repository root.
type SourceChooser interface {
	ChooseSource(ctx context.Context, dated []string) (string, error)
}

// TimeProvider abstracts time acquisition for determinism in tests.
type TimeProvider interface {
	Now() time.Time
}

type realTime struct{}

func (realTime) Now() time.Time { return time.Now() }

// Options is the resolved configuration of one orchestrator.
type Options struct {
	// Target is the container name.
	Target string
	// StagingRoot is the directory on the target under which per-run
	// flowsave-<id> staging directories are created.
	StagingRoot string

	RemoteURL   string
	Branch      string
	AuthorName  string
	AuthorEmail string

	// WorkDir hosts host-side scratch directories (os.TempDir when empty).
	WorkDir string

	SnapshotDir string
	// Sealer, when able to seal, encrypts pre-restore snapshot artifacts.
	Sealer *seal.Sealer

	ExportDecryptedCredentials bool

	// Interactive enables the SourceChooser during restores.
	Interactive bool
}

// Deps groups the orchestrator collaborators. Nil fields get defaults
// where one exists.
type Deps struct {
	Logger   *logging.Logger
	Target   Target
	Store    Store
	Chooser  SourceChooser
	Time     TimeProvider
	Registry *TempDirRegistry
	// NewID returns a fresh random identifier (uuid.NewString by default).
	NewID func() string
}
