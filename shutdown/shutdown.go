// Package shutdown coordinates process teardown: a signal (or an explicit
// call to Shutdown) cancels the root context after the registered hooks ran.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultHookTimeout bounds the time all hooks together may take.
const DefaultHookTimeout = 10 * time.Second

// Hook releases a resource. The context expires when the hook budget is spent.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

var (
	mut     sync.Mutex           //nolint:gochecknoglobals
	hooks   []namedHook          //nolint:gochecknoglobals
	channel chan os.Signal       //nolint:gochecknoglobals
	timeout = DefaultHookTimeout //nolint:gochecknoglobals
)

// BeforeShutdown registers a hook to run before the root context is
// canceled. Hooks run in reverse registration order, so a resource opened
// later is closed first.
func BeforeShutdown(name string, h Hook) {
	mut.Lock()
	defer mut.Unlock()

	hooks = append(hooks, namedHook{name: name, fn: h})
}

// SetHookTimeout changes the budget shared by all hooks.
func SetHookTimeout(d time.Duration) {
	mut.Lock()
	defer mut.Unlock()

	timeout = d
}

// Shutdown triggers the shutdown process programmatically. It is a no-op
// when no handler is installed or shutdown is already underway.
func Shutdown() {
	mut.Lock()
	ch := channel
	mut.Unlock()

	if ch == nil {
		return
	}

	select {
	case ch <- os.Interrupt:
	default:
	}
}

// SetupHandler installs a handler for SIGINT and SIGTERM and returns a
// context derived from parent that is canceled once the hooks finished.
func SetupHandler(parent context.Context) context.Context {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	mut.Lock()
	channel = ch
	mut.Unlock()

	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer cancel()

		select {
		case sig := <-ch:
			slog.Warn("Received " + sig.String() + ", shutting down...")
		case <-parent.Done():
		}

		signal.Stop(ch)

		mut.Lock()
		channel = nil
		mut.Unlock()

		cleanup(context.WithoutCancel(ctx))
	}()

	return ctx
}

func cleanup(ctx context.Context) {
	mut.Lock()
	pending := hooks
	budget := timeout
	hooks = nil
	mut.Unlock()

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for i := len(pending) - 1; i >= 0; i-- {
		h := pending[i]

		if err := h.fn(ctx); err != nil {
			slog.Error("shutdown hook failed", "hook", h.name, "error", err)
		}
	}
}
