package tui

import (
	"context"
	"sync"
)

var (
	abortContextMu sync.RWMutex
	abortContext   context.Context
)

// SetAbortContext registers a process-wide context whose cancellation stops
// any running TUI app (e.g. on Ctrl+C).
func SetAbortContext(ctx context.Context) {
	abortContextMu.Lock()
	abortContext = ctx
	abortContextMu.Unlock()
}

func getAbortContext() context.Context {
	abortContextMu.RLock()
	defer abortContextMu.RUnlock()
	return abortContext
}

func bindAbortContext(app *App) {
	ctx := getAbortContext()
	if ctx == nil {
		return
	}
	stopOnDone(ctx, app)
}

func stopOnDone(ctx context.Context, app *App) {
	go func() {
		<-ctx.Done()
		app.Stop()
	}()
}
