package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tis24dev/flowsave/internal/changes"
	"github.com/tis24dev/flowsave/internal/orchestrator"
	"github.com/tis24dev/flowsave/internal/types"
)

func TestPrintSnapshots(t *testing.T) {
	var buf bytes.Buffer
	printSnapshots(&buf, nil, time.Now())
	if !strings.Contains(buf.String(), "No pre-restore snapshots found.") {
		t.Fatalf("empty listing = %q", buf.String())
	}

	now := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	snap := &orchestrator.PreRestoreSnapshot{
		Dir: "/var/lib/flowsave/snapshots/pre-restore-20240301-100000-1a2b3c4d",
		Manifest: orchestrator.SnapshotManifest{
			CreatedAt: now.Add(-3 * time.Hour),
			Target:    "n8n",
			Artifacts: []orchestrator.SnapshotArtifact{
				{Kind: types.KindCredential, Records: 4, Size: 1000, Sealed: true},
				{Kind: types.KindWorkflow, Records: 12, Size: 2000},
			},
		},
	}
	buf.Reset()
	printSnapshots(&buf, []*orchestrator.PreRestoreSnapshot{snap}, now)
	out := buf.String()
	for _, want := range []string{"CREATED", "2024-03-01 10:00:00", "3 hours ago", "4 credentials (sealed), 12 workflows", "3.0 kB", snap.Dir} {
		if !strings.Contains(out, want) {
			t.Fatalf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestPrintBackupSummary(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	res := &orchestrator.BackupResult{
		Status:    orchestrator.StatusSuccess,
		Qualifier: orchestrator.QualifierFull,
		Layout:    types.LayoutSingleFile,
		CommitID:  "abc1234",
		Changes: changes.ChangeSet{
			"workflows.json":   changes.StatusModified,
			"credentials.json": changes.StatusUnchanged,
		},
		Kinds:      []orchestrator.KindOutcome{{Kind: types.KindWorkflow, Records: 5}},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
	var buf bytes.Buffer
	printBackupSummary(&buf, res, "/tmp/flowsave/backup.log")
	out := buf.String()
	for _, want := range []string{"Backup SUCCESS (full, single-file)", "Workflows: 5 record(s)", "Commit:   abc1234", "workflows.json", "Duration: 1.5s", "Log: /tmp/flowsave/backup.log"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "credentials.json") {
		t.Fatalf("unchanged file listed:\n%s", out)
	}
}

func TestPrintRestoreSummaryRollbackHint(t *testing.T) {
	res := &orchestrator.RestoreResult{
		Status:       orchestrator.StatusFailed,
		Source:       "root",
		Layout:       types.LayoutSingleFile,
		SnapshotPath: "/snap/pre-restore-x",
		Err:          errors.New("import workflows: exit status 1"),
	}
	var buf bytes.Buffer
	printRestoreSummary(&buf, res, "")
	out := buf.String()
	for _, want := range []string{"Restore FAILED (source root, single-file)", "flowsave rollback --snapshot /snap/pre-restore-x", "Error: import workflows"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Log:") {
		t.Fatalf("log line printed without a log path:\n%s", out)
	}
}

func TestPrintRollbackSummary(t *testing.T) {
	res := &orchestrator.RollbackResult{
		Status:             orchestrator.StatusFailed,
		SnapshotPath:       "/snap/pre-restore-x",
		ManualIntervention: true,
	}
	var buf bytes.Buffer
	printRollbackSummary(&buf, res, "")
	out := buf.String()
	if !strings.Contains(out, "MANUAL INTERVENTION REQUIRED") || !strings.Contains(out, "Snapshot kept: /snap/pre-restore-x") {
		t.Fatalf("unexpected rollback summary:\n%s", out)
	}
}
