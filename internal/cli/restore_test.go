package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tis24dev/flowsave/internal/orchestrator"
	"github.com/tis24dev/flowsave/internal/types"
)

func TestRestoreFlagsPlan(t *testing.T) {
	tests := []struct {
		name           string
		flags          restoreFlags
		projectDefault string
		userDefault    string
		want           orchestrator.RestorePlan
		wantErr        string
	}{
		{
			name:  "defaults",
			flags: restoreFlags{restoreType: "all", layout: "auto"},
			want:  orchestrator.RestorePlan{Type: types.RestoreAll, Layout: types.LayoutAuto},
		},
		{
			name:  "workflows from a dated directory",
			flags: restoreFlags{restoreType: "workflows", layout: "separate-files", source: " 2024-03-01_10-00-00 "},
			want:  orchestrator.RestorePlan{Type: types.RestoreWorkflows, Layout: types.LayoutSeparateFiles, Source: "2024-03-01_10-00-00"},
		},
		{
			name:           "configured project applies without flags",
			flags:          restoreFlags{restoreType: "all", layout: "auto"},
			projectDefault: "p1",
			want:           orchestrator.RestorePlan{Type: types.RestoreAll, Layout: types.LayoutAuto, ProjectID: "p1"},
		},
		{
			name:           "user flag replaces configured project",
			flags:          restoreFlags{restoreType: "all", layout: "auto", userID: "u9", importAsNew: true},
			projectDefault: "p1",
			want:           orchestrator.RestorePlan{Type: types.RestoreAll, Layout: types.LayoutAuto, UserID: "u9", ImportAsNew: true},
		},
		{
			name:    "both overrides",
			flags:   restoreFlags{restoreType: "all", projectID: "p1", userID: "u1"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown type",
			flags:   restoreFlags{restoreType: "everything"},
			wantErr: "unknown restore type",
		},
		{
			name:    "invalid source",
			flags:   restoreFlags{restoreType: "all", source: "latest"},
			wantErr: "restore source",
		},
		{
			name:    "unknown layout",
			flags:   restoreFlags{restoreType: "all", layout: "zip"},
			wantErr: "unknown layout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.plan(tt.projectDefault, tt.userDefault)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDescribePlan(t *testing.T) {
	got := describePlan(orchestrator.RestorePlan{Type: types.RestoreAll, ImportAsNew: true, ProjectID: "p1"}, "main")
	want := "Restore credentials, workflows from newest dated snapshot (or repository root) on branch main as new records into project p1"
	if got != want {
		t.Fatalf("describePlan = %q\nwant %q", got, want)
	}

	got = describePlan(orchestrator.RestorePlan{Type: types.RestoreWorkflows, Source: "root", UserID: "u1"}, "backups")
	if !strings.Contains(got, "workflows from root on branch backups") || !strings.HasSuffix(got, "for user u1") {
		t.Fatalf("describePlan = %q", got)
	}
}

func TestRestoreQuestion(t *testing.T) {
	tests := []struct {
		name   string
		plan   orchestrator.RestorePlan
		want   string
		absent string
	}{
		{"overwrite", orchestrator.RestorePlan{Type: types.RestoreWorkflows, Source: "root"}, "Existing records with the same IDs are overwritten. Continue?", "new copies"},
		{"as new", orchestrator.RestorePlan{Type: types.RestoreWorkflows, Source: "root", ImportAsNew: true}, "Records are created as new copies; existing records are left untouched. Continue?", "overwritten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := restoreQuestion(tt.plan, "main")
			if !strings.HasPrefix(got, describePlan(tt.plan, "main")+". ") {
				t.Fatalf("question %q does not start with the plan summary", got)
			}
			if !strings.HasSuffix(got, tt.want) || strings.Contains(got, tt.absent) {
				t.Fatalf("restoreQuestion = %q", got)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name   string
		g      globals
		dryRun bool
		in     string
		want   bool
	}{
		{"--yes", globals{Yes: true}, false, "", true},
		{"dry run", globals{}, true, "", true},
		{"accepted", globals{}, false, "y\n", true},
		{"declined", globals{}, false, "n\n", false},
		{"default is no", globals{}, false, "\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &testStreams{}
			got, err := confirm(context.Background(), s.io(tt.in), tt.g, tt.dryRun, "Continue?")
			if err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if got != tt.want {
				t.Fatalf("confirm = %v, want %v", got, tt.want)
			}
			prompted := strings.Contains(s.out.String(), "Continue?")
			if prompted != (tt.in != "") {
				t.Fatalf("prompted = %v, output %q", prompted, s.out.String())
			}
		})
	}
}
