package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tis24dev/flowsave/internal/changes"
	"github.com/tis24dev/flowsave/internal/orchestrator"
)

const separator = "----------------------------------------------------------------"

func statusLine(status orchestrator.Status) string {
	return strings.ToUpper(strings.ReplaceAll(string(status), "-", " "))
}

func elapsed(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func printKinds(w io.Writer, kinds []orchestrator.KindOutcome) {
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s\n", k)
	}
}

func printBackupSummary(w io.Writer, res *orchestrator.BackupResult, logPath string) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Backup %s", statusLine(res.Status))
	if res.Qualifier != "" {
		fmt.Fprintf(w, " (%s, %s)", res.Qualifier, res.Layout)
	}
	fmt.Fprintln(w)
	printKinds(w, res.Kinds)
	if res.Status == orchestrator.StatusSuccess {
		fmt.Fprintf(w, "  Location: %s\n", res.LocationLabel())
		if res.CommitID != "" {
			fmt.Fprintf(w, "  Commit:   %s\n", res.CommitID)
		}
	}
	if res.Changes.HasChanges() {
		fmt.Fprintln(w, "  Changes since last backup:")
		for _, name := range res.Changes.Paths() {
			if st := res.Changes[name]; st != changes.StatusUnchanged {
				fmt.Fprintf(w, "    %-9s %s\n", st, name)
			}
		}
	}
	if res.RetainedPath != "" {
		fmt.Fprintf(w, "  Work directory kept for inspection: %s\n", res.RetainedPath)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  Error: %v\n", res.Err)
	}
	fmt.Fprintf(w, "  Duration: %s\n", elapsed(res.StartedAt, res.FinishedAt))
	if logPath != "" {
		fmt.Fprintf(w, "  Log: %s\n", logPath)
	}
	fmt.Fprintln(w, separator)
}

func printRestoreSummary(w io.Writer, res *orchestrator.RestoreResult, logPath string) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Restore %s", statusLine(res.Status))
	if res.Source != "" {
		fmt.Fprintf(w, " (source %s, %s)", res.Source, res.Layout)
	}
	fmt.Fprintln(w)
	printKinds(w, res.Kinds)
	if res.SnapshotPath != "" {
		fmt.Fprintf(w, "  Pre-restore snapshot kept: %s\n", res.SnapshotPath)
		fmt.Fprintf(w, "  Roll back with: flowsave rollback --snapshot %s\n", res.SnapshotPath)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  Error: %v\n", res.Err)
	}
	fmt.Fprintf(w, "  Duration: %s\n", elapsed(res.StartedAt, res.FinishedAt))
	if logPath != "" {
		fmt.Fprintf(w, "  Log: %s\n", logPath)
	}
	fmt.Fprintln(w, separator)
}

func printRollbackSummary(w io.Writer, res *orchestrator.RollbackResult, logPath string) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Rollback %s\n", statusLine(res.Status))
	printKinds(w, res.Kinds)
	if res.ManualIntervention {
		fmt.Fprintln(w, "  MANUAL INTERVENTION REQUIRED: the container may hold a partial state.")
	}
	if res.Status == orchestrator.StatusFailed {
		fmt.Fprintf(w, "  Snapshot kept: %s\n", res.SnapshotPath)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  Error: %v\n", res.Err)
	}
	if logPath != "" {
		fmt.Fprintf(w, "  Log: %s\n", logPath)
	}
	fmt.Fprintln(w, separator)
}

func printSnapshots(w io.Writer, snaps []*orchestrator.PreRestoreSnapshot, now time.Time) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No pre-restore snapshots found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tAGE\tTARGET\tCONTENT\tSIZE\tPATH")
	for _, s := range snaps {
		var content []string
		for _, a := range s.Manifest.Artifacts {
			item := fmt.Sprintf("%d %s", a.Records, a.Kind.Plural())
			if a.Sealed {
				item += " (sealed)"
			}
			content = append(content, item)
		}
		created := s.Manifest.CreatedAt.UTC()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			created.Format("2006-01-02 15:04:05"),
			humanize.RelTime(created, now, "ago", "from now"),
			s.Manifest.Target,
			strings.Join(content, ", "),
			humanize.Bytes(uint64(s.TotalSize())),
			s.Dir)
	}
	_ = tw.Flush()
}
