package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/flowsave/internal/orchestrator"
)

// ErrSelectionAborted is returned when the operator leaves the picker
// without choosing.
var ErrSelectionAborted = errors.New("source selection aborted")

const rootLabel = "Repository root (latest rolling backup)"

// SourcePicker lets the operator choose the restore source among the dated
// snapshot directories found on the branch.
type SourcePicker struct {
	now func() time.Time
	run func(app *App) error
}

// NewSourcePicker returns a picker that draws on the terminal.
func NewSourcePicker() *SourcePicker {
	return &SourcePicker{
		now: time.Now,
		run: func(app *App) error { return app.Run() },
	}
}

var _ orchestrator.SourceChooser = (*SourcePicker)(nil)

// ChooseSource shows the dated directories (newest first) below an entry
// for the repository root and returns the chosen name, or "" for the root.
func (p *SourcePicker) ChooseSource(ctx context.Context, dated []string) (string, error) {
	app := NewApp()
	var (
		choice   string
		selected bool
	)
	list := p.buildList(dated, func(name string) {
		choice, selected = name, true
		app.Stop()
	}, app.Stop)

	app.SetRootWithTitle(list, "Select restore source")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopOnDone(ctx, app)

	if err := p.run(app); err != nil {
		return "", fmt.Errorf("run source picker: %w", err)
	}
	if err := ctx.Err(); err != nil && !selected {
		return "", err
	}
	if !selected {
		return "", ErrSelectionAborted
	}
	return choice, nil
}

// buildList creates the list widget. onSelect receives "" for the root.
func (p *SourcePicker) buildList(dated []string, onSelect func(string), onCancel func()) *tview.List {
	list := tview.NewList().
		ShowSecondaryText(true).
		SetHighlightFullLine(true).
		SetSelectedBackgroundColor(Accent)

	list.AddItem(rootLabel, "What the last non-dated backup wrote", 'r', func() { onSelect("") })
	for i, name := range dated {
		name := name
		var shortcut rune
		if i < 9 {
			shortcut = rune('1' + i)
		}
		list.AddItem(SymbolBullet+" "+name, p.describe(name), shortcut, func() { onSelect(name) })
	}
	if len(dated) > 0 {
		list.SetCurrentItem(1)
	}

	list.SetDoneFunc(onCancel)
	list.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyRune && ev.Rune() == 'q' {
			onCancel()
			return nil
		}
		return ev
	})
	return list
}

func (p *SourcePicker) describe(name string) string {
	ts, err := time.ParseInLocation(orchestrator.DatedLayout, name, time.UTC)
	if err != nil {
		return "dated snapshot"
	}
	return fmt.Sprintf("%s UTC, %s", ts.Format("Mon 02 Jan 2006 15:04:05"), humanize.RelTime(ts, p.now(), "ago", "from now"))
}
