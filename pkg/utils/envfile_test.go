package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"enabled", true},
		{"TRUE", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ParseBool(tt.input); got != tt.expected {
			t.Errorf("ParseBool(%q) = %v; want %v", tt.input, got, tt.expected)
		}
	}
}

func TestSplitKeyValue(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		key   string
		value string
		ok    bool
	}{
		{"plain", "N8N_CONTAINER=n8n", "N8N_CONTAINER", "n8n", true},
		{"quoted", `GITHUB_REPO="acme/flows"`, "GITHUB_REPO", "acme/flows", true},
		{"inline comment", "DATED_BACKUPS=true # keep history", "DATED_BACKUPS", "true", true},
		{"hash inside quotes", `AGE_RECIPIENT="a#b" # note`, "AGE_RECIPIENT", "a#b", true},
		{"hash inside value", "GIT_REMOTE_URL=file:///srv/repo#x", "GIT_REMOTE_URL", "file:///srv/repo#x", true},
		{"export prefix", "export GITHUB_BRANCH=main", "GITHUB_BRANCH", "main", true},
		{"empty value", "LOG_PATH=", "LOG_PATH", "", true},
		{"no equals", "JUSTTEXT", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, ok := SplitKeyValue(tt.line)
			if ok != tt.ok || key != tt.key || value != tt.value {
				t.Fatalf("SplitKeyValue(%q) = (%q, %q, %v); want (%q, %q, %v)",
					tt.line, key, value, ok, tt.key, tt.value, tt.ok)
			}
		})
	}
}

func TestSetEnvValue(t *testing.T) {
	template := "# header\nN8N_CONTAINER=n8n # container name\n  GITHUB_BRANCH=main\n"

	got := SetEnvValue(template, "N8N_CONTAINER", "automation")
	want := "# header\nN8N_CONTAINER=automation # container name\n  GITHUB_BRANCH=main\n"
	if got != want {
		t.Fatalf("replace:\n got %q\nwant %q", got, want)
	}

	got = SetEnvValue(got, "GITHUB_BRANCH", "backups")
	if got != "# header\nN8N_CONTAINER=automation # container name\n  GITHUB_BRANCH=backups\n" {
		t.Fatalf("indent not preserved: %q", got)
	}

	got = SetEnvValue(got, "DATED_BACKUPS", "true")
	if got != "# header\nN8N_CONTAINER=automation # container name\n  GITHUB_BRANCH=backups\nDATED_BACKUPS=true\n" {
		t.Fatalf("append: %q", got)
	}
}

func TestComputeSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatal(err)
	}
	sum, err := ComputeSHA256(path)
	if err != nil {
		t.Fatalf("ComputeSHA256: %v", err)
	}
	if sum != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected sum %s", sum)
	}
	if !FileExists(path) || DirExists(path) {
		t.Fatal("existence helpers disagree")
	}
}
