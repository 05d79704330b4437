// Package tui holds the terminal UI used when flowsave needs an interactive
// choice from the operator.
package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// App wraps tview.Application with the flowsave theme.
type App struct {
	*tview.Application
	stopHook func()
}

// NewApp creates a new TUI application.
func NewApp() *App {
	app := &App{
		Application: tview.NewApplication(),
	}
	app.EnableMouse(true)

	tview.Styles.PrimitiveBackgroundColor = tcell.ColorBlack
	tview.Styles.ContrastBackgroundColor = tcell.ColorBlack
	tview.Styles.MoreContrastBackgroundColor = Dark
	tview.Styles.BorderColor = Accent
	tview.Styles.TitleColor = Accent
	tview.Styles.GraphicsColor = Accent
	tview.Styles.PrimaryTextColor = tcell.ColorWhite
	tview.Styles.SecondaryTextColor = Light
	tview.Styles.TertiaryTextColor = Gray
	tview.Styles.InverseTextColor = tcell.ColorBlack
	tview.Styles.ContrastSecondaryTextColor = tcell.ColorWhite

	bindAbortContext(app)
	return app
}

// Stop stops the application, or calls the test hook when set.
func (a *App) Stop() {
	if a == nil {
		return
	}
	if a.stopHook != nil {
		a.stopHook()
		return
	}
	if a.Application != nil {
		a.Application.Stop()
	}
}

// SetRootWithTitle sets root as full-screen root with a bordered title.
func (a *App) SetRootWithTitle(root tview.Primitive, title string) *App {
	type titled interface {
		SetBorder(bool) *tview.Box
		SetTitle(string) *tview.Box
	}
	if box, ok := root.(titled); ok {
		box.SetBorder(true)
		box.SetTitle(" " + title + " ").
			SetTitleAlign(tview.AlignCenter).
			SetTitleColor(Accent).
			SetBorderColor(Accent)
	}
	a.SetRoot(root, true)
	return a
}
