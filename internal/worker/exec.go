package worker

import (
	"context"
	"os"

	"github.com/loomtest/loom/internal/errors"
)

// controlInFD and controlOutFD are the file descriptors dispatch.ExecLauncher
// wires up via exec.Cmd.ExtraFiles, leaving fd 0-2 free for the worker's own
// stdin/stdout/stderr.
const (
	controlInFD  = 3
	controlOutFD = 4
)

// RunFromExtraFiles constructs a Worker from the control pipes a re-exec'd
// process inherits on fd 3/4 and runs its main loop. cmd/loom calls this
// when it detects it was launched in worker mode.
func RunFromExtraFiles(ctx context.Context) error {
	in := os.NewFile(controlInFD, "loom-control-in")
	out := os.NewFile(controlOutFD, "loom-control-out")
	if in == nil || out == nil {
		return errors.New("worker: control file descriptors not inherited")
	}
	return New(in, out).Run(ctx)
}
