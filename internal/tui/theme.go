package tui

import (
	"github.com/gdamore/tcell/v2"
)

// Palette
var (
	Accent = tcell.NewRGBColor(234, 75, 113) // #EA4B71

	Dark  = tcell.NewRGBColor(40, 40, 40)
	Gray  = tcell.NewRGBColor(128, 128, 128)
	Light = tcell.NewRGBColor(200, 200, 200)

	SuccessGreen  = tcell.NewRGBColor(34, 197, 94)
	ErrorRed      = tcell.NewRGBColor(239, 68, 68)
	WarningYellow = tcell.NewRGBColor(234, 179, 8)
	InfoBlue      = tcell.NewRGBColor(59, 130, 246)
)

const (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolWarning  = "⚠"
	SymbolInfo     = "ℹ"
	SymbolSelected = "▸"
	SymbolBullet   = "•"
)

// StatusColor returns the color used for a flow status
// (success, no-changes, dry-run, failed).
func StatusColor(status string) tcell.Color {
	switch status {
	case "success", "done":
		return SuccessGreen
	case "failed", "error":
		return ErrorRed
	case "no-changes", "warning":
		return WarningYellow
	case "dry-run", "running":
		return InfoBlue
	default:
		return tcell.ColorLightGray
	}
}

// StatusSymbol returns the symbol used for a flow status.
func StatusSymbol(status string) string {
	switch status {
	case "success", "done":
		return SymbolSuccess
	case "failed", "error":
		return SymbolError
	case "no-changes", "warning":
		return SymbolWarning
	case "dry-run", "running":
		return SymbolInfo
	default:
		return SymbolBullet
	}
}
