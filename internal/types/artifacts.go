package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies one of the two collections moved between the target and the store.
type Kind string

const (
	// KindWorkflow - automation workflows
	KindWorkflow Kind = "workflow"

	// KindCredential - stored credentials referenced by workflows
	KindCredential Kind = "credential"
)

// AllKinds lists every kind in import order: credentials must exist before
// the workflows that reference them.
var AllKinds = []Kind{KindCredential, KindWorkflow}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Plural returns the directory/file stem used in the store ("workflows", "credentials").
func (k Kind) Plural() string {
	return string(k) + "s"
}

// SingleFileName returns the artifact name used by the single-file layout.
func (k Kind) SingleFileName() string {
	return k.Plural() + ".json"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindWorkflow || k == KindCredential
}

// ParseKind accepts singular and plural names.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "workflow", "workflows":
		return KindWorkflow, nil
	case "credential", "credentials":
		return KindCredential, nil
	}
	return "", fmt.Errorf("unknown kind %q", value)
}

// Layout is the on-disk arrangement of exported artifacts.
type Layout string

const (
	// LayoutSingleFile - one <kind>s.json array per kind
	LayoutSingleFile Layout = "single-file"

	// LayoutSeparateFiles - one <kind>s/<id>.json object per record
	LayoutSeparateFiles Layout = "separate-files"

	// LayoutAuto - detect from the stored artifacts (restore only)
	LayoutAuto Layout = "auto"
)

// String returns the string representation of the layout.
func (l Layout) String() string {
	return string(l)
}

// Concrete reports whether l names an actual layout rather than "auto".
func (l Layout) Concrete() bool {
	return l == LayoutSingleFile || l == LayoutSeparateFiles
}

// ParseLayout accepts the canonical names plus a few common aliases.
func ParseLayout(value string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "single-file", "single", "file":
		return LayoutSingleFile, nil
	case "separate-files", "separate", "directory", "dir":
		return LayoutSeparateFiles, nil
	case "auto", "":
		return LayoutAuto, nil
	}
	return "", fmt.Errorf("unknown layout %q", value)
}

// SelectorMode states how much of a kind an operation covers.
type SelectorMode string

const (
	SelectNone SelectorMode = "none"
	SelectAll  SelectorMode = "all"
	SelectByID SelectorMode = "by-id"
)

var itemIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidItemID reports whether id is safe to pass as a command argument and
// to use as a file name.
func ValidItemID(id string) bool {
	return len(id) <= 128 && itemIDPattern.MatchString(id)
}

// Selector scopes an operation for one kind. The zero value selects nothing.
type Selector struct {
	Mode SelectorMode
	ID   string
}

// NewSelector builds a selector from the "all" flag and an optional item ID.
// Supplying both is rejected.
func NewSelector(all bool, id string) (Selector, error) {
	id = strings.TrimSpace(id)
	switch {
	case all && id != "":
		return Selector{}, fmt.Errorf("cannot select all items and a specific ID (%s) at the same time", id)
	case all:
		return Selector{Mode: SelectAll}, nil
	case id != "":
		if !ValidItemID(id) {
			return Selector{}, fmt.Errorf("invalid item ID %q", id)
		}
		return Selector{Mode: SelectByID, ID: id}, nil
	}
	return Selector{Mode: SelectNone}, nil
}

// All returns a selector covering every item.
func All() Selector { return Selector{Mode: SelectAll} }

// ByID returns a selector for a single item. The ID is checked by Validate.
func ByID(id string) Selector { return Selector{Mode: SelectByID, ID: id} }

// Active reports whether the selector covers anything.
func (s Selector) Active() bool {
	return s.Mode == SelectAll || s.Mode == SelectByID
}

// Validate checks the selector's internal consistency.
func (s Selector) Validate() error {
	switch s.Mode {
	case "", SelectNone:
		if s.ID != "" {
			return fmt.Errorf("selector has ID %q but no mode", s.ID)
		}
	case SelectAll:
		if s.ID != "" {
			return fmt.Errorf("cannot select all items and a specific ID (%s) at the same time", s.ID)
		}
	case SelectByID:
		if !ValidItemID(s.ID) {
			return fmt.Errorf("invalid item ID %q", s.ID)
		}
	default:
		return fmt.Errorf("unknown selector mode %q", s.Mode)
	}
	return nil
}

// String renders the selector for logs.
func (s Selector) String() string {
	switch s.Mode {
	case SelectAll:
		return "all"
	case SelectByID:
		return "id=" + s.ID
	}
	return "none"
}

// RestoreType limits a restore to one or both kinds.
type RestoreType string

const (
	RestoreAll         RestoreType = "all"
	RestoreWorkflows   RestoreType = "workflows"
	RestoreCredentials RestoreType = "credentials"
)

// ParseRestoreType parses a restore type name.
func ParseRestoreType(value string) (RestoreType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "all", "":
		return RestoreAll, nil
	case "workflows", "workflow":
		return RestoreWorkflows, nil
	case "credentials", "credential":
		return RestoreCredentials, nil
	}
	return "", fmt.Errorf("unknown restore type %q", value)
}

// Kinds returns the in-scope kinds in import order.
func (r RestoreType) Kinds() []Kind {
	switch r {
	case RestoreWorkflows:
		return []Kind{KindWorkflow}
	case RestoreCredentials:
		return []Kind{KindCredential}
	}
	return append([]Kind(nil), AllKinds...)
}
