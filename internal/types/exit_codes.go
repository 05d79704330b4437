// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully (also used for no-change and dry runs).
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration error.
	ExitConfigError ExitCode = 2

	// ExitInputError - Invalid request (selectors, layout, conflicting options).
	ExitInputError ExitCode = 3

	// ExitBackupError - Error during the backup operation (generic).
	ExitBackupError ExitCode = 4

	// ExitRestoreError - Error during the restore operation (generic).
	ExitRestoreError ExitCode = 5

	// ExitNetworkError - Remote store unreachable or authentication failed.
	ExitNetworkError ExitCode = 6

	// ExitTargetError - A command on the execution target failed.
	ExitTargetError ExitCode = 7

	// ExitDataError - Missing, empty or malformed artifact.
	ExitDataError ExitCode = 8

	// ExitRollbackError - Rollback from a pre-restore snapshot failed.
	ExitRollbackError ExitCode = 9

	// ExitLockError - Another invocation holds the lock.
	ExitLockError ExitCode = 10

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitInputError:
		return "input error"
	case ExitBackupError:
		return "backup error"
	case ExitRestoreError:
		return "restore error"
	case ExitNetworkError:
		return "network error"
	case ExitTargetError:
		return "target command error"
	case ExitDataError:
		return "data error"
	case ExitRollbackError:
		return "rollback error"
	case ExitLockError:
		return "lock error"
	case ExitPanicError:
		return "panic error"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an integer.
func (e ExitCode) Int() int {
	return int(e)
}
