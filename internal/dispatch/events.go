package dispatch

import "github.com/loomtest/loom/internal/testtree"

// EventKind identifies which Report Aggregator hook an Event feeds.
type EventKind int

const (
	EventBegin EventKind = iota
	EventTestBegin
	EventStdio
	EventTestEnd
	EventRunError
	EventRunEnd
)

// Event is one item in the dispatcher's output stream. internal/report
// subscribes to these and fans them out to reporter implementations; the
// dispatcher itself knows nothing about reporters.
type Event struct {
	Kind EventKind

	// Begin
	Roots map[string]*testtree.Suite

	// TestBegin, Stdio, TestEnd
	Test *testtree.Test

	// Stdio
	Stream string
	Data   string

	// TestEnd
	Result *testtree.TestResult

	// RunEnd
	RunStatus RunStatus
}

// RunStatus is the run-level outcome reported once, in a RunEnd event.
type RunStatus string

const (
	RunPassed      RunStatus = "passed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
	RunTimedOut    RunStatus = "timedout"
)
