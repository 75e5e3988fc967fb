// Command loom is the parallel test runner's CLI entry point. It is
// simultaneously the dispatcher binary and, when re-exec'd with
// LOOM_WORKER_MODE set, a worker: the same self-exec trick tast's runner
// uses to let one compiled binary serve two roles depending on how it's
// invoked (see tast/internal/runner's local/remote runner split, adapted
// here to dispatcher/worker instead of local/remote).
//
// A concrete test suite is built by vendoring this package's root command
// into a binary that blank-imports the suite's test packages, the same
// way a tast bundle's main.go blank-imports its local tests before
// calling bundle.Local.
package main

import (
	"context"
	"os"

	"github.com/loomtest/loom/internal/dispatch"
	"github.com/loomtest/loom/internal/logging"
	"github.com/loomtest/loom/internal/worker"
)

func main() {
	if os.Getenv(dispatch.ExecLauncherEnvVar) != "" {
		ctx := logging.NewContext(context.Background(), logging.NewWriterLogger(os.Stderr, logging.LevelInfo))
		if err := worker.RunFromExtraFiles(ctx); err != nil {
			logging.ContextLogfLevel(ctx, logging.LevelError, "loom worker: %v", err)
			os.Exit(exitFatal)
		}
		return
	}
	os.Exit(Execute())
}
