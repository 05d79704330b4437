package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tis24dev/flowsave/internal/gitstore"
	"github.com/tis24dev/flowsave/internal/target"
	"github.com/tis24dev/flowsave/internal/types"
)

// Category classifies a failure for reporting and exit codes.
type Category string

const (
	CategoryInput        Category = "input"
	CategoryConnectivity Category = "connectivity"
	CategoryTarget       Category = "target"
	CategoryData         Category = "data"
	CategoryInternal     Category = "internal"
)

// OpError is a failure of one orchestration step.
type OpError struct {
	Op       string
	Category Category
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Category, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// ExitCode maps the category to a process exit code. fallback is used for
// internal failures (backup or restore error, depending on the flow).
func (c Category) ExitCode(fallback types.ExitCode) types.ExitCode {
	switch c {
	case CategoryInput:
		return types.ExitInputError
	case CategoryConnectivity:
		return types.ExitNetworkError
	case CategoryTarget:
		return types.ExitTargetError
	case CategoryData:
		return types.ExitDataError
	}
	return fallback
}

// newOpError wraps err, deriving the category from its type when cat is empty.
func newOpError(op string, cat Category, err error) *OpError {
	var existing *OpError
	if errors.As(err, &existing) {
		return existing
	}
	if cat == "" {
		cat = classify(err)
	}
	return &OpError{Op: op, Category: cat, Err: err}
}

func classify(err error) Category {
	var cmdErr *target.CommandError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gitstore.ErrBranchNotFound):
		return CategoryData
	case gitstore.IsRemoteError(err):
		return CategoryConnectivity
	case errors.As(err, &cmdErr):
		return CategoryTarget
	}
	return CategoryInternal
}

// exitCodeFor returns the exit code for err within a flow.
func exitCodeFor(err error, fallback types.ExitCode) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Category.ExitCode(fallback)
	}
	return classify(err).ExitCode(fallback)
}
