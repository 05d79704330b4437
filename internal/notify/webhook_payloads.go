package notify

import (
	"fmt"
	"strings"
)

// Embed and attachment colors.
const (
	colorSuccess = 0x2EB67D
	colorWarning = 0xECB22E
	colorFailure = 0xE01E5A
)

func statusColor(s NotificationStatus) int {
	switch s {
	case StatusSuccess:
		return colorSuccess
	case StatusWarning:
		return colorWarning
	}
	return colorFailure
}

// buildPayload builds the webhook payload for format.
func buildPayload(format string, data *NotificationData) (map[string]interface{}, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "generic", "":
		return buildGenericPayload(data), nil
	case "slack":
		return buildSlackPayload(data), nil
	case "discord":
		return buildDiscordPayload(data), nil
	case "gotify":
		return buildGotifyPayload(data), nil
	}
	return nil, fmt.Errorf("unknown webhook format %q", format)
}

// facts are the label/value pairs shown by the chat formats, in order.
func facts(data *NotificationData) [][2]string {
	var out [][2]string
	add := func(label, value string) {
		if value != "" {
			out = append(out, [2]string{label, value})
		}
	}
	add("Target", data.Target)
	add("Branch", data.Branch)
	add("Location", data.Location)
	add("Commit", data.CommitID)
	add("Source", data.Source)
	for _, k := range data.Kinds {
		if k.Error != "" {
			add(k.Kind, "failed: "+k.Error)
		} else {
			add(k.Kind, fmt.Sprintf("%d record(s)", k.Records))
		}
	}
	if data.Changes > 0 {
		add("Changed files", fmt.Sprint(data.Changes))
	}
	add("Snapshot", data.SnapshotPath)
	add("Duration", FormatDuration(data.Duration))
	if data.ErrorCount > 0 || data.WarningCount > 0 {
		add("Issues", fmt.Sprintf("%d error(s), %d warning(s)", data.ErrorCount, data.WarningCount))
	}
	add("Error", data.Error)
	add("Log", data.LogFilePath)
	return out
}

func messageText(data *NotificationData) string {
	lines := []string{}
	if data.StatusMessage != "" {
		lines = append(lines, data.StatusMessage)
	}
	for _, f := range facts(data) {
		lines = append(lines, f[0]+": "+f[1])
	}
	return strings.Join(lines, "\n")
}

func buildGenericPayload(data *NotificationData) map[string]interface{} {
	kinds := data.Kinds
	if kinds == nil {
		kinds = []KindSummary{}
	}
	return map[string]interface{}{
		"flow":           data.Flow,
		"title":          data.Title(),
		"status":         data.Status.String(),
		"status_message": data.StatusMessage,
		"exit_code":      data.ExitCode,
		"hostname":       data.Hostname,
		"target":         data.Target,
		"script_version": data.ScriptVersion,
		"timestamp":      data.StartedAt.Unix(),
		"timestamp_iso":  data.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		"store": map[string]interface{}{
			"branch":   data.Branch,
			"location": data.Location,
			"commit":   data.CommitID,
			"source":   data.Source,
			"changes":  data.Changes,
		},
		"kinds":            kinds,
		"snapshot_path":    data.SnapshotPath,
		"duration_seconds": data.Duration.Seconds(),
		"duration_human":   FormatDuration(data.Duration),
		"issues": map[string]interface{}{
			"errors":   data.ErrorCount,
			"warnings": data.WarningCount,
		},
		"error":    data.Error,
		"log_file": data.LogFilePath,
	}
}

func buildSlackPayload(data *NotificationData) map[string]interface{} {
	fields := []map[string]interface{}{}
	for _, f := range facts(data) {
		fields = append(fields, map[string]interface{}{
			"title": f[0],
			"value": f[1],
			"short": len(f[1]) < 40,
		})
	}
	return map[string]interface{}{
		"text": data.Title(),
		"attachments": []map[string]interface{}{{
			"color":  fmt.Sprintf("#%06X", statusColor(data.Status)),
			"text":   data.StatusMessage,
			"fields": fields,
			"footer": "flowsave " + data.ScriptVersion,
			"ts":     data.StartedAt.Unix(),
		}},
	}
}

// Discord rejects embeds with more than 25 fields.
const discordMaxFields = 25

func buildDiscordPayload(data *NotificationData) map[string]interface{} {
	fields := []map[string]interface{}{}
	for _, f := range facts(data) {
		if len(fields) == discordMaxFields {
			break
		}
		fields = append(fields, map[string]interface{}{
			"name":   f[0],
			"value":  f[1],
			"inline": len(f[1]) < 40,
		})
	}
	embed := map[string]interface{}{
		"title":       data.Title(),
		"description": data.StatusMessage,
		"color":       statusColor(data.Status),
		"fields":      fields,
		"footer":      map[string]interface{}{"text": "flowsave " + data.ScriptVersion},
	}
	if !data.StartedAt.IsZero() {
		embed["timestamp"] = data.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return map[string]interface{}{
		"username": "flowsave",
		"embeds":   []map[string]interface{}{embed},
	}
}

func buildGotifyPayload(data *NotificationData) map[string]interface{} {
	priority := 2
	switch data.Status {
	case StatusWarning:
		priority = 5
	case StatusFailure:
		priority = 8
	}
	return map[string]interface{}{
		"title":    data.Title(),
		"message":  messageText(data),
		"priority": priority,
		"extras": map[string]interface{}{
			"client::display": map[string]interface{}{"contentType": "text/plain"},
		},
	}
}
