// Package signalhandler turns SIGINT/SIGTERM into a cancellable context for
// the scheduler's graceful drain, with a second signal escalating to an
// immediate process exit (spec §4.11 "graceful shutdown").
//
// Grounded on maruel-caic/internal/server/server.go's shutdown shape: a
// goroutine that waits on ctx.Done() and reacts, generalized from "close the
// listener" to "cancel the context the scheduler watches", plus signal
// handling adapted from the same package's use of context so the rest of
// the program never imports os/signal directly.
package signalhandler

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Context returns a context canceled on the first SIGINT/SIGTERM, and a
// stop function callers should defer to release the signal notification.
// A second signal after the first triggers os.Exit(1) immediately, so an
// operator is never stuck waiting on a candidate that refuses to drain
// (spec §4.11: "a second interrupt forces an immediate, ungraceful exit").
func Context(parent context.Context) (context.Context, func()) {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	escalate := make(chan os.Signal, 1)
	signal.Notify(escalate, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		slog.Info("signalhandler: shutdown requested, draining in-flight candidates")
		// The signal that triggered ctx.Done() (if any) may already be sitting
		// in escalate's buffer; discard it so only a genuine second signal
		// triggers the forced exit below.
		select {
		case <-escalate:
		default:
		}
		select {
		case <-escalate:
			slog.Warn("signalhandler: second signal received, exiting immediately")
			os.Exit(1)
		case <-done:
		}
	}()

	stop := func() {
		cancel()
		signal.Stop(escalate)
		close(done)
	}
	return ctx, stop
}
