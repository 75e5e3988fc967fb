// Package deadline implements the Deadline Runner: it races an
// asynchronous operation against a monotonic deadline, grounded on
// tast/internal/planner/stage.go's runStages, which runs a test's stages
// on a goroutine and gives up waiting (without killing the goroutine) once
// a stage's run timeout elapses.
package deadline

import (
	"context"
	"time"
)

// Result is what Run yields: either the operation's own result, or
// TimedOut if the deadline elapsed first.
type Result struct {
	Value    interface{}
	Err      error
	TimedOut bool
}

// Op is the operation a Runner races against a deadline.
type Op func(ctx context.Context) (interface{}, error)

// Runner races one Op against a fixed deadline. A test's body and its
// fixture teardown each get their own Runner (see internal/worker's
// runOneTest) rather than sharing one extended mid-flight, so the
// deadline a Runner races against never changes after construction.
type Runner struct {
	deadline time.Time
}

// NewRunner returns a Runner whose deadline is deadline. A zero Time
// means no deadline.
func NewRunner(deadline time.Time) *Runner {
	return &Runner{deadline: deadline}
}

// Run executes op on a goroutine and returns as soon as op finishes or the
// deadline elapses, whichever comes first. On timeout, op is abandoned:
// it keeps running in the background, but Run never waits for it and its
// eventual result is discarded. This matches the spec's "cancellation is
// cooperative" rule — user code is never forcibly killed, only ignored.
func (r *Runner) Run(ctx context.Context, op Op) Result {
	done := make(chan Result, 1)
	go func() {
		v, err := op(ctx)
		done <- Result{Value: v, Err: err}
	}()

	var timerC <-chan time.Time
	if !r.deadline.IsZero() {
		timer := time.NewTimer(time.Until(r.deadline))
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case res := <-done:
		return res
	case <-timerC:
		return Result{TimedOut: true}
	}
}
