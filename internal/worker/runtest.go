package worker

import (
	"context"
	"strings"
	"time"

	"github.com/loomtest/loom/internal/artifacts"
	"github.com/loomtest/loom/internal/deadline"
	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/fixture"
	"github.com/loomtest/loom/internal/ipc"
	"github.com/loomtest/loom/internal/logging"
	"github.com/loomtest/loom/internal/registry"
	"github.com/loomtest/loom/internal/testtree"
	"github.com/loomtest/loom/loom"
)

// handleRun executes one assigned test end to end and reports its
// outcome. A worker already bound to a fixture hash that doesn't match
// the test it's asked to run rejects it outright: this should never
// happen if the dispatcher is doing its job, so it is reported as a
// failed test rather than silently skipped.
func (w *Worker) handleRun(ctx context.Context, m *ipc.Run) error {
	test, ok := w.tests[m.TestID]
	if !ok {
		return errors.Errorf("worker: unknown test id %q", m.TestID)
	}
	if test.FixtureHash != w.init.FixtureHash {
		mismatch := &errors.HashMismatchError{Want: w.init.FixtureHash, Got: test.FixtureHash}
		logging.ContextLogfLevel(ctx, logging.LevelError, "worker: %v", mismatch)
		if err := w.writer.Write(&ipc.TestEnd{TestID: m.TestID, Status: string(testtree.StatusFailed), Error: mismatch.Error()}); err != nil {
			return err
		}
		return w.writer.Write(&ipc.Done{PendingWorker: true})
	}

	if err := w.writer.Write(&ipc.TestBegin{TestID: m.TestID}); err != nil {
		return err
	}

	start := time.Now()
	status, errMsg := w.runOneTest(ctx, test, m.Timeout, m.Retry)
	dur := time.Since(start)

	if err := w.writer.Write(&ipc.TestEnd{TestID: m.TestID, Status: string(status), Error: errMsg, Duration: dur}); err != nil {
		return err
	}

	pending := status != testtree.StatusPassed
	return w.writer.Write(&ipc.Done{PendingWorker: pending})
}

// runOneTest resolves the test's declared fixtures, runs its body under a
// deadline, and tears the test-scope stack down under a second deadline
// that never grants less than cfg.TeardownFloor, even if the test itself
// consumed its whole budget.
func (w *Worker) runOneTest(ctx context.Context, test *testtree.Test, timeout time.Duration, attempt int) (testtree.Status, string) {
	testStk := fixture.NewStack(registry.Fixtures(), fixture.Test, w.workerStk)

	deadlineAt := time.Now().Add(timeout)
	runner := deadline.NewRunner(deadlineAt)

	logFn := func(s string) {
		_ = w.writer.Write(&ipc.Stdio{TestID: test.ID, Stream: "stdout", Data: s})
	}

	var outDir string
	if test.Project.OutputDir != "" {
		outDir = artifacts.TestDir(test.Project.OutputDir, test.Project.Name, test.Spec.File, test.Spec.Title, attempt)
		if err := artifacts.EnsureTestDir(outDir); err != nil {
			return testtree.StatusFailed, err.Error()
		}
	}
	var snapshotDir string
	if test.Project.SnapshotDir != "" {
		snapshotDir, _ = artifacts.SnapshotDir(test.Project.SnapshotDir, test.Project.TestDir, test.Spec.File)
	}

	res := runner.Run(ctx, func(ctx context.Context) (interface{}, error) {
		return execTest(ctx, test, testStk, logFn, outDir, snapshotDir, w.cfg.UpdateSnapshots)
	})

	var status testtree.Status
	var errMsg string
	switch {
	case res.TimedOut:
		status = testtree.StatusTimedOut
		errMsg = (&errors.TimeoutError{Timeout: timeout.String()}).Error()
	case res.Err != nil:
		status = testtree.StatusFailed
		errMsg = res.Err.Error()
	default:
		status = testtree.StatusPassed
	}

	teardownDeadline := deadlineAt
	if floor := time.Now().Add(w.cfg.TeardownFloor); floor.After(teardownDeadline) {
		teardownDeadline = floor
	}
	tdRunner := deadline.NewRunner(teardownDeadline)
	tdRes := tdRunner.Run(ctx, func(ctx context.Context) (interface{}, error) {
		if errs := testStk.Teardown(ctx); len(errs) > 0 {
			return nil, errs[0]
		}
		return nil, nil
	})
	if status == testtree.StatusPassed {
		switch {
		case tdRes.TimedOut:
			status = testtree.StatusFailed
			errMsg = "test fixture teardown timed out"
		case tdRes.Err != nil:
			status = testtree.StatusFailed
			errMsg = tdRes.Err.Error()
		}
	}

	return status, errMsg
}

// execTest resolves deps, runs the test body, and converts both Fatal
// unwinds and arbitrary panics into a returned error instead of letting
// them escape onto the goroutine deadline.Runner spawned for this op,
// which would otherwise crash the whole worker process.
func execTest(ctx context.Context, test *testtree.Test, stk *fixture.Stack, log func(string), outDir, snapshotDir string, updateSnapshots bool) (result interface{}, err error) {
	deps := make(map[string]interface{}, len(test.Fixtures))
	for _, name := range test.Fixtures {
		v, ferr := stk.Resolve(ctx, name)
		if ferr != nil {
			return nil, errors.Wrapf(ferr, "resolving fixture %q", name)
		}
		deps[name] = v
	}

	state := loom.NewT(ctx, deps, log, loom.ArtifactConfig{
		OutDir:          outDir,
		SnapshotDir:     snapshotDir,
		UpdateSnapshots: updateSnapshots,
	})
	defer func() {
		if r := recover(); r != nil {
			if loom.IsFatalSignal(r) {
				err = errors.New(strings.Join(state.Errors(), "; "))
				return
			}
			err = errors.Errorf("test panicked: %v", r)
		}
	}()

	test.Func(ctx, state)
	if state.HasError() {
		return nil, errors.New(strings.Join(state.Errors(), "; "))
	}
	return nil, nil
}
