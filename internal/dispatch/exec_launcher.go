package dispatch

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/ipc"
	"github.com/loomtest/loom/internal/procutil"
)

// ExecLauncherEnvVar marks a re-exec'd process as a worker; cmd/loom
// checks for it before doing anything else, the same self-exec trick
// tast's runner uses to turn one compiled binary into either the
// orchestrator or a bundle depending on how it's invoked.
const ExecLauncherEnvVar = "LOOM_WORKER_MODE"

// ExecLauncher launches workers as subprocesses of the current binary.
// The control channel travels over a dedicated pair of pipes (fd 3 for
// parent->worker, fd 4 for worker->parent) instead of stdout, so a test's
// own direct writes to stdout/stderr land on the inherited terminal
// rather than corrupting the protocol stream.
type ExecLauncher struct {
	// Path is the binary to re-exec; defaults to os.Args[0].
	Path string
	// Env is extra environment beyond the inherited one.
	Env []string
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context, args InitArgs) (*Conn, error) {
	path := l.Path
	if path == "" {
		path = os.Args[0]
	}

	parentToWorkerR, parentToWorkerW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "dispatch: creating control pipe")
	}
	workerToParentR, workerToParentW, err := os.Pipe()
	if err != nil {
		parentToWorkerR.Close()
		parentToWorkerW.Close()
		return nil, errors.Wrap(err, "dispatch: creating control pipe")
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Env = append(append([]string(nil), os.Environ()...), l.Env...)
	cmd.Env = append(cmd.Env, ExecLauncherEnvVar+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{parentToWorkerR, workerToParentW}

	if err := cmd.Start(); err != nil {
		parentToWorkerR.Close()
		parentToWorkerW.Close()
		workerToParentR.Close()
		workerToParentW.Close()
		return nil, errors.Wrap(err, "dispatch: starting worker")
	}
	// The child now owns the ends it needs; closing the parent's copies
	// of them keeps the pipes from staying open after the child exits.
	parentToWorkerR.Close()
	workerToParentW.Close()

	writer := ipc.NewParentWriter(parentToWorkerW)
	reader := ipc.NewWorkerReader(workerToParentR)

	fail := func(err error) (*Conn, error) {
		procutil.Terminate(ctx, cmd, time.Second)
		parentToWorkerW.Close()
		workerToParentR.Close()
		return nil, err
	}

	if err := writer.Write(&ipc.Init{
		WorkerIndex:  args.WorkerIndex,
		ProjectIndex: args.ProjectIndex,
		FixtureHash:  args.FixtureHash,
		Config:       args.Config,
	}); err != nil {
		return fail(errors.Wrap(err, "dispatch: sending init"))
	}
	msg, err := reader.Read()
	if err != nil {
		return fail(errors.Wrap(err, "dispatch: awaiting ready"))
	}
	if _, ok := msg.(*ipc.Ready); !ok {
		return fail(errors.Errorf("dispatch: expected ready, got %T", msg))
	}

	return &Conn{
		Index:  args.WorkerIndex,
		Writer: writer,
		Reader: reader,
		close: func(grace time.Duration) {
			parentToWorkerW.Close()
			procutil.Terminate(ctx, cmd, grace)
			workerToParentR.Close()
		},
	}, nil
}
