package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tis24dev/flowsave/internal/changes"
	"github.com/tis24dev/flowsave/internal/types"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusNoChanges Status = "no-changes"
	StatusDryRun    Status = "dry-run"
	StatusFailed    Status = "failed"
)

// State is a step of the backup, restore or rollback state machine.
type State string

const (
	StateInit                    State = "init"
	StateRemotePrepared          State = "remote-prepared"
	StateExported                State = "exported"
	StateIncrementalShortCircuit State = "incremental-short-circuit"
	StateStaged                  State = "staged"
	StateCommitted               State = "committed"
	StatePushed                  State = "pushed"

	StatePreSnapshotTaken State = "pre-snapshot-taken"
	StateFetched          State = "fetched"
	StateSourceSelected   State = "source-selected"
	StateValidated        State = "validated"
	StateTransferred      State = "transferred"
	StateImported         State = "imported"
	StateRolledBack       State = "rolled-back"

	StateDone   State = "done"
	StateFailed State = "failed"
)

// trail records state transitions in order.
type trail struct {
	State State
	Trail []State
}

func (t *trail) advance(s State) {
	t.State = s
	t.Trail = append(t.Trail, s)
}

// KindOutcome is the per-kind result of an export or import.
type KindOutcome struct {
	Kind    types.Kind
	Records int
	Err     error
}

var titleCaser = cases.Title(language.English)

// Label returns a display label such as "Workflows".
func (k KindOutcome) Label() string {
	return titleCaser.String(k.Kind.Plural())
}

func (k KindOutcome) String() string {
	if k.Err != nil {
		return fmt.Sprintf("%s: failed (%v)", k.Label(), k.Err)
	}
	return fmt.Sprintf("%s: %d record(s)", k.Label(), k.Records)
}

// BackupResult reports a backup run.
type BackupResult struct {
	trail
	Status    Status
	Qualifier string
	Layout    types.Layout
	Location  string
	CommitID  string
	Changes   changes.ChangeSet
	HasPrior  bool
	Kinds     []KindOutcome
	// RetainedPath is the work directory kept after a failed push.
	RetainedPath string
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ExitCode maps the result to a process exit code.
func (r *BackupResult) ExitCode() types.ExitCode {
	if r.Status != StatusFailed {
		return types.ExitSuccess
	}
	return exitCodeFor(r.Err, types.ExitBackupError)
}

// LocationLabel renders the snapshot location for humans.
func (r *BackupResult) LocationLabel() string {
	if r.Location == "" {
		return "repository root"
	}
	return r.Location
}

// RestoreResult reports a restore run.
type RestoreResult struct {
	trail
	Status Status
	Source string
	Layout types.Layout
	Kinds  []KindOutcome
	// SnapshotPath is set while a pre-restore snapshot is retained.
	SnapshotPath string
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ExitCode maps the result to a process exit code.
func (r *RestoreResult) ExitCode() types.ExitCode {
	if r.Status != StatusFailed {
		return types.ExitSuccess
	}
	return exitCodeFor(r.Err, types.ExitRestoreError)
}

// FailedKinds lists the kinds whose import failed.
func (r *RestoreResult) FailedKinds() []types.Kind {
	var out []types.Kind
	for _, k := range r.Kinds {
		if k.Err != nil {
			out = append(out, k.Kind)
		}
	}
	return out
}

// RollbackResult reports a rollback from a pre-restore snapshot.
type RollbackResult struct {
	trail
	Status       Status
	SnapshotPath string
	Kinds        []KindOutcome
	// ManualIntervention is set when the target may be left inconsistent.
	ManualIntervention bool
	Err                error
}

// ExitCode maps the result to a process exit code.
func (r *RollbackResult) ExitCode() types.ExitCode {
	if r.Status != StatusFailed {
		return types.ExitSuccess
	}
	if exit := exitCodeFor(r.Err, types.ExitRollbackError); exit == types.ExitInputError {
		return exit
	}
	return types.ExitRollbackError
}

func summarizeKinds(kinds []KindOutcome) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, "; ")
}
