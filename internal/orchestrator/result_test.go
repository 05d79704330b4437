package orchestrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tis24dev/flowsave/internal/gitstore"
	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
)

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{"input", newOpError("x", CategoryInput, errors.New("bad")), types.ExitInputError},
		{"remote", newOpError("x", "", &gitstore.RemoteError{Op: "push", Err: errors.New("denied")}), types.ExitNetworkError},
		{"target", newOpError("x", "", fmt.Errorf("wrapped: %w", &target.CommandError{ExitCode: 1})), types.ExitTargetError},
		{"missing branch", newOpError("x", "", fmt.Errorf("%w: main", gitstore.ErrBranchNotFound)), types.ExitDataError},
		{"internal", newOpError("x", "", errors.New("disk full")), types.ExitBackupError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &BackupResult{Status: StatusFailed, Err: tt.err}
			if got := res.ExitCode(); got != tt.want {
				t.Fatalf("ExitCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoOpOutcomesExitZero(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusNoChanges, StatusDryRun} {
		if got := (&BackupResult{Status: s}).ExitCode(); got != types.ExitSuccess {
			t.Fatalf("%s: exit %v", s, got)
		}
	}
}

func TestNewOpErrorKeepsInnerCategory(t *testing.T) {
	inner := newOpError("export workflows", CategoryTarget, errors.New("exit 1"))
	outer := newOpError("export", "", fmt.Errorf("step: %w", inner))
	if outer.Category != CategoryTarget || outer.Op != "export workflows" {
		t.Fatalf("outer = %+v", outer)
	}
}

func TestKindOutcomeLabel(t *testing.T) {
	k := KindOutcome{Kind: types.KindCredential, Records: 3}
	if got := k.String(); got != "Credentials: 3 record(s)" {
		t.Fatalf("String() = %q", got)
	}
}
