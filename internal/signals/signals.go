// Package signals provides OS signal utilities for graceful shutdown. This is
// a leaf package: stdlib only, no internal imports, no logging.
package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ForceExitCode is the conventional exit status after a second interrupt.
const ForceExitCode = 130

// SetupSignalContext creates a context that's canceled on SIGINT/SIGTERM.
func SetupSignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return SetupInterruptContext(parent, nil)
}

// SetupInterruptContext creates a context that's canceled on the first
// SIGINT/SIGTERM. A second signal before the context's work winds down calls
// onForce, which is expected to terminate the process.
func SetupInterruptContext(parent context.Context, onForce func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	go func() {
		watch(ctx, cancel, sigChan, stop, onForce)
		signal.Stop(sigChan)
	}()

	return ctx, func() {
		cancel()
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
}

// watch cancels on the first signal and forces on the second. Without
// onForce it returns once ctx is done; with it, it keeps listening until
// stop is closed.
func watch(ctx context.Context, cancel context.CancelFunc, sigs <-chan os.Signal, stop <-chan struct{}, onForce func()) {
	select {
	case <-sigs:
		cancel()
	case <-ctx.Done():
		if onForce == nil {
			return
		}
	case <-stop:
		return
	}
	if onForce == nil {
		return
	}

	select {
	case <-sigs:
		onForce()
	case <-stop:
	}
}
