// Package ipc implements the Worker IPC protocol of spec.md §6.4: a
// bidirectional, in-order, newline-delimited JSON message stream between
// the dispatcher and a worker. It is grounded on
// tast/control.MessageWriter/MessageReader (a JSON message-union
// encoder/decoder over an io.Writer/io.Reader), adapted to carry this
// protocol's two independent message sets instead of tast's one-directional
// control messages, and to run over a pair of pipes rather than a single
// stdout stream.
package ipc

import "time"

// Init is sent once, first, by the parent: it tells the worker which
// index it is, which project it's bound to, the fixture hash it was
// spawned for, and an opaque, already-serialized RunConfig.
type Init struct {
	WorkerIndex  int    `json:"workerIndex"`
	ProjectIndex int    `json:"projectIndex"`
	FixtureHash  string `json:"fixtureHash"`
	Config       []byte `json:"config"`
}

// Run assigns one test to the worker. The worker must not be sent another
// Run until it has emitted TestEnd for this one.
type Run struct {
	TestID         string        `json:"testId"`
	Timeout        time.Duration `json:"timeout"`
	Retry          int           `json:"retry"`
	ExpectedStatus string        `json:"expectedStatus"`
}

// Stop tells the worker to tear down its worker-scope fixtures and exit
// cleanly.
type Stop struct{}

// parentUnion aids marshaling/unmarshaling the parent->worker message set.
type parentUnion struct {
	Init *Init `json:"init,omitempty"`
	Run  *Run  `json:"run,omitempty"`
	Stop *Stop `json:"stop,omitempty"`
}

// Ready is sent once a worker has started and is waiting for its first
// Run.
type Ready struct{}

// TestBegin marks the start of a test the worker just received.
type TestBegin struct {
	TestID string `json:"testId"`
}

// Stdio carries one chunk of a test's log output (loom.T's Log/Logf).
// Direct writes to the worker's own stdout/stderr do not travel here.
type Stdio struct {
	TestID string `json:"testId"`
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}

// TestEnd marks the end of a test's execution.
type TestEnd struct {
	TestID   string        `json:"testId"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TeardownError reports a worker-scope fixture teardown failure. It is
// run-level, not attached to any particular test (see SPEC_FULL.md §9's
// resolution of the open question).
type TeardownError struct {
	Error string `json:"error"`
}

// Done tells the parent the worker is finished. PendingWorker is set after
// a test failure: the dispatcher must still send Stop before the worker
// will actually exit.
type Done struct {
	PendingWorker bool `json:"pendingWorker"`
}

// workerUnion aids marshaling/unmarshaling the worker->parent message set.
type workerUnion struct {
	Ready         *Ready         `json:"ready,omitempty"`
	TestBegin     *TestBegin     `json:"testBegin,omitempty"`
	Stdio         *Stdio         `json:"stdio,omitempty"`
	TestEnd       *TestEnd       `json:"testEnd,omitempty"`
	TeardownError *TeardownError `json:"teardownError,omitempty"`
	Done          *Done          `json:"done,omitempty"`
}
