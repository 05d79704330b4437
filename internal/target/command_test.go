package target

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tis24dev/flowsave/internal/types"
)

func TestExportCommand(t *testing.T) {
	tests := []struct {
		name      string
		kind      types.Kind
		sel       types.Selector
		layout    types.Layout
		output    string
		decrypted bool
		want      []string
	}{
		{
			name:   "all single file",
			kind:   types.KindWorkflow,
			sel:    types.All(),
			layout: types.LayoutSingleFile,
			output: "/tmp/flowsave-1/workflows.json",
			want:   []string{"n8n", "export:workflow", "--all", "--output=/tmp/flowsave-1/workflows.json", "--pretty"},
		},
		{
			name:   "by id separate",
			kind:   types.KindWorkflow,
			sel:    types.ByID("abc123"),
			layout: types.LayoutSeparateFiles,
			output: "/tmp/flowsave-1/workflows",
			want:   []string{"n8n", "export:workflow", "--id=abc123", "--separate", "--output=/tmp/flowsave-1/workflows/", "--pretty"},
		},
		{
			name:      "decrypted credentials",
			kind:      types.KindCredential,
			sel:       types.All(),
			layout:    types.LayoutSingleFile,
			output:    "/tmp/flowsave-1/credentials.json",
			decrypted: true,
			want:      []string{"n8n", "export:credential", "--all", "--output=/tmp/flowsave-1/credentials.json", "--pretty", "--decrypted"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ExportCommand(tt.kind, tt.sel, tt.layout, tt.output, tt.decrypted)
			if err != nil {
				t.Fatalf("ExportCommand: %v", err)
			}
			if diff := cmp.Diff(tt.want, cmd.Args()); diff != "" {
				t.Fatalf("argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExportCommandRejectsInvalidCombinations(t *testing.T) {
	tests := []struct {
		name      string
		kind      types.Kind
		sel       types.Selector
		layout    types.Layout
		output    string
		decrypted bool
	}{
		{"unknown kind", types.Kind("tag"), types.All(), types.LayoutSingleFile, "/tmp/x.json", false},
		{"no selector", types.KindWorkflow, types.Selector{}, types.LayoutSingleFile, "/tmp/x.json", false},
		{"all plus id", types.KindWorkflow, types.Selector{Mode: types.SelectAll, ID: "x"}, types.LayoutSingleFile, "/tmp/x.json", false},
		{"injected id", types.KindWorkflow, types.ByID("1; rm -rf /"), types.LayoutSingleFile, "/tmp/x.json", false},
		{"auto layout", types.KindWorkflow, types.All(), types.LayoutAuto, "/tmp/x.json", false},
		{"relative path", types.KindWorkflow, types.All(), types.LayoutSingleFile, "x.json", false},
		{"dirty path", types.KindWorkflow, types.All(), types.LayoutSingleFile, "/tmp/../etc/x.json", false},
		{"decrypted workflows", types.KindWorkflow, types.All(), types.LayoutSingleFile, "/tmp/x.json", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ExportCommand(tt.kind, tt.sel, tt.layout, tt.output, tt.decrypted); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestImportCommand(t *testing.T) {
	cmd, err := ImportCommand(types.KindCredential, types.LayoutSeparateFiles, "/tmp/flowsave-1/credentials", ImportOptions{ProjectID: "proj1"})
	if err != nil {
		t.Fatalf("ImportCommand: %v", err)
	}
	want := []string{"n8n", "import:credential", "--separate", "--input=/tmp/flowsave-1/credentials/", "--projectId=proj1"}
	if diff := cmp.Diff(want, cmd.Args()); diff != "" {
		t.Fatalf("argv mismatch (-want +got):\n%s", diff)
	}

	if _, err := ImportCommand(types.KindWorkflow, types.LayoutSingleFile, "/tmp/w.json", ImportOptions{UserID: "u", ProjectID: "p"}); err == nil {
		t.Fatal("expected error for both overrides")
	}
	if _, err := ImportCommand(types.KindWorkflow, types.LayoutSingleFile, "/tmp/w.json", ImportOptions{UserID: "$(id)"}); err == nil {
		t.Fatal("expected error for unsafe user id")
	}
}

func TestStagingCommands(t *testing.T) {
	cmd, err := CleanupCommand("/tmp/flowsave-abc")
	if err != nil {
		t.Fatalf("CleanupCommand: %v", err)
	}
	if cmd.String() != "rm -rf -- /tmp/flowsave-abc" {
		t.Fatalf("unexpected cleanup %q", cmd.String())
	}
	for _, bad := range []string{"/", "/tmp", "/flowsave-x", "/home/user", "tmp/flowsave-x"} {
		if _, err := CleanupCommand(bad); err == nil {
			t.Errorf("expected %q to be refused", bad)
		}
	}
	for _, good := range []string{"/tmp/flowsave-abc", "/tmp/flowsave-abc/workflows"} {
		if _, err := MkdirCommand(good); err != nil {
			t.Fatalf("MkdirCommand(%q): %v", good, err)
		}
	}
}

func TestCommandStringQuotes(t *testing.T) {
	cmd, err := ExportCommand(types.KindWorkflow, types.All(), types.LayoutSingleFile, "/tmp/flowsave-1/my flows.json", false)
	if err != nil {
		t.Fatalf("ExportCommand: %v", err)
	}
	if !strings.Contains(cmd.String(), "'--output=/tmp/flowsave-1/my flows.json'") {
		t.Fatalf("expected quoted output arg, got %s", cmd.String())
	}
}

func TestIsNoItemsOutput(t *testing.T) {
	if !IsNoItemsOutput(types.KindWorkflow, "No workflows found with specified filters") {
		t.Fatal("expected match")
	}
	if IsNoItemsOutput(types.KindCredential, "No workflows found") {
		t.Fatal("kind mismatch should not match")
	}
}
