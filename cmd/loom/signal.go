package main

import (
	"context"
	"os"

	"golang.org/x/term"

	"github.com/loomtest/loom/internal/procutil"
)

// installInterruptHandler wires SIGINT/SIGTERM into ctx's cancellation,
// the way tast's command.InstallSignalHandler feeds its own run loop,
// except here cancel() only asks the dispatcher to begin a drain rather
// than exiting the process directly — the dispatcher still needs to
// finish draining and report an exit code.
func installInterruptHandler(ctx context.Context, cancel context.CancelFunc) {
	procutil.InstallSignalHandler(ctx, func(sig os.Signal) {
		cancel()
	})
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
