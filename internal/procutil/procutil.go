// Package procutil manages worker subprocess lifecycles: graceful
// termination with a grace period, and a best-effort kill of anything the
// worker itself spawned. Grounded on
// tast/internal/runner/bundles.go's killSession (repeatedly walking the
// process table for processes in a session and signaling them) and
// tast/internal/command/signal.go's SIGTERM handling.
package procutil

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/loomtest/loom/internal/logging"
)

// Terminate sends SIGTERM to cmd's process, waits up to grace for it to
// exit, and sends SIGKILL if it hasn't. It also best-effort kills direct
// children, since a worker subprocess may itself have spawned helpers.
// Escalation and signal-delivery failures are logged via ctx's logger,
// if any, rather than silently dropped.
func Terminate(ctx context.Context, cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Signal(unix.SIGTERM); err != nil {
		logging.ContextLogfLevel(ctx, logging.LevelWarn, "procutil: sending SIGTERM to pid %d: %v", pid, err)
	}

	done := make(chan struct{})
	go func() {
		cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
	}

	logging.ContextLogfLevel(ctx, logging.LevelWarn, "procutil: pid %d did not exit within %s, sending SIGKILL", pid, grace)
	killChildren(ctx, pid, unix.SIGKILL)
	if err := cmd.Process.Signal(unix.SIGKILL); err != nil {
		logging.ContextLogfLevel(ctx, logging.LevelWarn, "procutil: sending SIGKILL to pid %d: %v", pid, err)
	}
}

// killChildren sends sig to every process whose parent is pid.
func killChildren(ctx context.Context, pid int, sig unix.Signal) {
	procs, err := process.Processes()
	if err != nil {
		return
	}
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil || int(ppid) != pid {
			continue
		}
		if err := unix.Kill(int(p.Pid), sig); err != nil {
			logging.ContextLogfLevel(ctx, logging.LevelWarn, "procutil: killing child pid %d: %v", p.Pid, err)
		}
	}
}

// InstallSignalHandler calls callback once when the process receives
// SIGINT or SIGTERM, then lets the caller decide what to do (typically:
// trigger the dispatcher's drain/interrupt path). It does not call
// os.Exit itself, unlike tast's command.InstallSignalHandler, because the
// dispatcher needs to finish draining and report an exit code.
func InstallSignalHandler(ctx context.Context, callback func(sig os.Signal)) {
	ch := make(chan os.Signal, 1)
	notify(ch)
	go func() {
		sig := <-ch
		logging.ContextLogfLevel(ctx, logging.LevelInfo, "procutil: received signal %v", sig)
		callback(sig)
	}()
}
