package report

import (
	"github.com/loomtest/loom/internal/dispatch"
	"github.com/loomtest/loom/internal/testtree"
)

// Aggregator drains a dispatch.Event stream, translating it into Reporter
// hook calls and building up a Snapshot for the JSON report schema.
type Aggregator struct {
	config    interface{}
	reporters []Reporter

	roots   map[string]*testtree.Suite
	runErrs []RunError
}

// New constructs an Aggregator. config is opaque and forwarded verbatim
// to each Reporter's OnBegin; it is typically the resolved RunConfig.
func New(config interface{}, reporters ...Reporter) *Aggregator {
	return &Aggregator{config: config, reporters: reporters}
}

// Drain consumes events until the channel is closed, dispatching to every
// Reporter as it goes, and returns the run's final status alongside a
// Snapshot suitable for json.Marshal per §6.3. It is meant to run in its
// own goroutine alongside the dispatcher, the same way a tast output.Stream
// consumer runs alongside the planner it reports for.
func (a *Aggregator) Drain(events <-chan dispatch.Event) (RunStatus, *Snapshot) {
	status := StatusPassed
	for e := range events {
		switch e.Kind {
		case dispatch.EventBegin:
			a.roots = e.Roots
			for _, r := range a.reporters {
				r.OnBegin(a.config, a.roots)
			}
		case dispatch.EventTestBegin:
			for _, r := range a.reporters {
				r.OnTestBegin(e.Test)
			}
		case dispatch.EventStdio:
			for _, r := range a.reporters {
				r.OnStdio(e.Test, e.Stream, e.Data)
			}
		case dispatch.EventTestEnd:
			for _, r := range a.reporters {
				r.OnTestEnd(e.Test, e.Result)
			}
		case dispatch.EventRunError:
			a.runErrs = append(a.runErrs, RunError{Message: e.Data})
		case dispatch.EventRunEnd:
			status = RunStatus(e.RunStatus)
		}
	}
	for _, r := range a.reporters {
		r.OnEnd(status, a.runErrs)
	}
	return status, a.snapshot(status)
}
