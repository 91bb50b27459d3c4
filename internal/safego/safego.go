// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"context"
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. Use it for every fire-and-forget
// goroutine (usage recording, last-used touches, background jobs).
func Go(fn func()) {
	go func() {
		defer recoverAndLog()
		fn()
	}()
}

// GoWithTimeout launches fn with a fresh context bounded by timeout. The context
// is detached from any request context so work scheduled after a response is
// written is not cancelled when the client goes away.
func GoWithTimeout(timeout time.Duration, fn func(ctx context.Context)) {
	go func() {
		defer recoverAndLog()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	}()
}

func recoverAndLog() {
	if r := recover(); r != nil {
		slog.Error("recovered panic in background goroutine", "panic", r)
	}
}
