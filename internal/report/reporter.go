// Package report implements the Report Aggregator: it subscribes to the
// dispatcher's event stream and fans each event out to the configured
// Reporter implementations, while also accumulating the run into a
// JSON-serialisable Snapshot per the report schema.
//
// Grounded on tast/internal/planner/internal/output.Stream, generalized
// from tast's single EntityStart/EntityLog/EntityError/EntityEnd interface
// to this runner's five-hook external contract.
package report

import "github.com/loomtest/loom/internal/testtree"

// Reporter is the five-hook external interface; dot/line/list/json/junit
// all implement it. The aggregator calls hooks synchronously and in
// order, so a Reporter never needs its own locking.
type Reporter interface {
	// OnBegin is called once, before any test runs, with the run's
	// configuration (opaque to the aggregator; each Reporter interprets
	// what it needs) and the per-project suite roots.
	OnBegin(config interface{}, roots map[string]*testtree.Suite)
	// OnTestBegin is called once per attempt, before the attempt's result
	// is known.
	OnTestBegin(test *testtree.Test)
	// OnStdio is called for every chunk of captured test-log output.
	OnStdio(test *testtree.Test, stream, data string)
	// OnTestEnd is called once per attempt, with that attempt's result.
	// A retried test therefore produces multiple OnTestEnd calls.
	OnTestEnd(test *testtree.Test, result *testtree.TestResult)
	// OnEnd is called once, after every test (and the run itself) has
	// concluded.
	OnEnd(status RunStatus, errs []RunError)
}

// RunStatus mirrors dispatch.RunStatus without importing internal/dispatch,
// so internal/report has no dependency on the scheduler that feeds it.
type RunStatus string

const (
	StatusPassed      RunStatus = "passed"
	StatusFailed      RunStatus = "failed"
	StatusInterrupted RunStatus = "interrupted"
	StatusTimedOut    RunStatus = "timedout"
)

// RunError is a run-level error not attributable to any single test, e.g.
// a retired worker's fixture teardown failure (see DESIGN.md's resolution
// of the open question on this).
type RunError struct {
	Message string
}
