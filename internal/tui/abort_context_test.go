package tui

import (
	"context"
	"testing"
	"time"
)

func stoppedApp() (*App, chan struct{}) {
	stopped := make(chan struct{})
	return &App{stopHook: func() { close(stopped) }}, stopped
}

func TestAbortContextStore(t *testing.T) {
	t.Cleanup(func() { SetAbortContext(nil) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetAbortContext(ctx)
	if getAbortContext() != ctx {
		t.Fatal("stored context not returned")
	}
	SetAbortContext(nil)
	if got := getAbortContext(); got != nil {
		t.Fatalf("context not cleared: %v", got)
	}
}

func TestBindAbortContext(t *testing.T) {
	t.Cleanup(func() { SetAbortContext(nil) })

	SetAbortContext(nil)
	app, stopped := stoppedApp()
	bindAbortContext(app)
	select {
	case <-stopped:
		t.Fatal("app stopped without an abort context")
	case <-time.After(30 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	SetAbortContext(ctx)
	app, stopped = stoppedApp()
	bindAbortContext(app)
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("app not stopped after cancellation")
	}
}
