// Package utils holds small parsing and filesystem helpers shared by the
// config loader and the orchestrator.
package utils

import "strings"

// ParseBool converts a string to a boolean (true/1/yes/on/enabled).
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on", "enabled":
		return true
	}
	return false
}

// TrimQuotes removes one pair of surrounding single or double quotes.
func TrimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// IsComment reports whether an env-file line carries no assignment.
func IsComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// scanValue returns the index where the value part of an assignment ends:
// the closing quote (inclusive) for quoted values, or the start of an
// unquoted inline "# comment".
func scanValue(value string) int {
	if value == "" {
		return 0
	}
	if q := value[0]; q == '"' || q == '\'' {
		for i := 1; i < len(value); i++ {
			switch value[i] {
			case '\\':
				i++
			case q:
				return i + 1
			}
		}
		return len(value)
	}
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '\\':
			i++
		case '#':
			if i == 0 || value[i-1] == ' ' || value[i-1] == '\t' {
				return i
			}
		}
	}
	return len(value)
}

// SplitKeyValue splits `KEY=value`, `export KEY="value" # note` and similar
// lines into key and unquoted value.
func SplitKeyValue(line string) (string, string, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(key), "export "))
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	value = strings.TrimSpace(value[:scanValue(value)])
	return key, TrimQuotes(value), true
}

// SetEnvValue replaces the value of key in an env-file template, keeping
// indentation and trailing comments. Unknown keys are appended.
func SetEnvValue(template, key, value string) string {
	lines := strings.Split(template, "\n")
	for i, line := range lines {
		if IsComment(line) {
			continue
		}
		k, _, ok := SplitKeyValue(line)
		if !ok || k != key {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		prefix := ""
		if strings.HasPrefix(strings.TrimSpace(line), "export ") {
			prefix = "export "
		}
		_, rest, _ := strings.Cut(line, "=")
		trimmedRest := strings.TrimLeft(rest, " \t")
		tail := strings.TrimLeft(trimmedRest[scanValue(trimmedRest):], " \t")

		lines[i] = indent + prefix + key + "=" + value
		if strings.HasPrefix(tail, "#") {
			lines[i] += " " + tail
		}
		return strings.Join(lines, "\n")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines[n-1] = key + "=" + value
		return strings.Join(lines, "\n") + "\n"
	}
	return strings.Join(append(lines, key+"="+value), "\n")
}
