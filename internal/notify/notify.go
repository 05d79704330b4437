// Package notify reports the outcome of backup, restore and rollback runs
// to external endpoints.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/tis24dev/flowsave/internal/config"
	"github.com/tis24dev/flowsave/internal/types"
)

// NotificationStatus represents the overall status of a run
type NotificationStatus int

const (
	StatusSuccess NotificationStatus = iota
	StatusWarning
	StatusFailure
)

// String returns the string representation of NotificationStatus
func (s NotificationStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StatusFromExitCode maps a process exit code to a notification status.
func StatusFromExitCode(exitCode int) NotificationStatus {
	switch exitCode {
	case types.ExitSuccess.Int():
		return StatusSuccess
	case types.ExitGenericError.Int():
		return StatusWarning
	default:
		return StatusFailure
	}
}

// KindSummary is the per-kind line of a notification.
type KindSummary struct {
	Kind    string `json:"kind"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// NotificationData contains all information to be sent in notifications
type NotificationData struct {
	Flow          string // backup, restore or rollback
	Status        NotificationStatus
	StatusMessage string
	ExitCode      int

	Hostname      string
	Target        string
	ScriptVersion string

	// Store side
	Branch   string
	Location string
	CommitID string
	Source   string
	Changes  int

	// SnapshotPath is the retained pre-restore snapshot, if any.
	SnapshotPath string

	Kinds     []KindSummary
	StartedAt time.Time
	Duration  time.Duration

	ErrorCount   int
	WarningCount int
	LogFilePath  string
	Error        string
}

// Title is the one-line headline used by every format.
func (d *NotificationData) Title() string {
	host := d.Hostname
	if host == "" {
		host = "unknown host"
	}
	verb := "succeeded"
	switch d.Status {
	case StatusWarning:
		verb = "finished with warnings"
	case StatusFailure:
		verb = "failed"
	}
	return fmt.Sprintf("%s flowsave %s %s on %s", GetStatusEmoji(d.Status), d.Flow, verb, host)
}

// NotificationResult represents the result of a notification attempt
type NotificationResult struct {
	Success  bool
	Method   string
	Error    error
	Duration time.Duration
}

// Notifier is implemented by every notification channel.
type Notifier interface {
	Name() string
	IsEnabled() bool
	// Send delivers data. Delivery problems are reported in the result;
	// the returned error is reserved for misuse.
	Send(ctx context.Context, data *NotificationData) (*NotificationResult, error)
}

// ShouldNotify applies WEBHOOK_NOTIFY_ON to a run status.
func ShouldNotify(notifyOn string, status NotificationStatus) bool {
	if notifyOn == config.NotifyAlways {
		return true
	}
	return status != StatusSuccess
}

// GetStatusEmoji returns the emoji for a given status
func GetStatusEmoji(status NotificationStatus) string {
	switch status {
	case StatusSuccess:
		return "✅"
	case StatusWarning:
		return "⚠️"
	case StatusFailure:
		return "❌"
	default:
		return "❓"
	}
}

// FormatDuration formats a duration in human-readable format (e.g., "2h 15m 30s")
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
