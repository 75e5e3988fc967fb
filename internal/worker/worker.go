// Package worker is the Worker Runtime side of the protocol in
// internal/ipc: the loop a re-exec'd loom binary runs once it has been
// told (via ipc.Init) which fixture hash and project it was spawned for.
// Grounded on tast/internal/runner's request loop (read one control
// message, act, reply, repeat) and tast/internal/planner/run.go's stage
// sequencing for a single test (resolve fixtures, run, tear down).
package worker

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"time"

	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/fixture"
	"github.com/loomtest/loom/internal/ipc"
	"github.com/loomtest/loom/internal/logging"
	"github.com/loomtest/loom/internal/registry"
	"github.com/loomtest/loom/internal/testtree"
)

// InitConfig is the opaque payload carried inside ipc.Init.Config. A
// *testtree.Test's Func field is a Go closure and cannot cross the process
// boundary, so instead of shipping tests over the wire, the worker
// rebuilds the identical Test Tree itself from the same registrations and
// the same build parameters the dispatcher used. Because both are the
// same compiled binary observing the same deterministic registration
// order, the rebuild is byte-for-byte identical, including test IDs.
type InitConfig struct {
	Projects      []*testtree.Project `json:"projects"`
	GrepPattern   string              `json:"grepPattern,omitempty"`
	ProjectFilter []string            `json:"projectFilter,omitempty"`
	Shard         *testtree.Shard     `json:"shard,omitempty"`
	ForbidOnly    bool                `json:"forbidOnly"`

	// TeardownFloor is the minimum extra time granted to a test's fixture
	// teardown beyond the test's own deadline.
	TeardownFloor time.Duration `json:"teardownFloor"`

	// UpdateSnapshots makes a snapshot mismatch write the new value
	// instead of failing the test, per spec.md's --update-snapshots flag.
	UpdateSnapshots bool `json:"updateSnapshots"`
}

// BuildInitConfig marshals cfg for embedding in an ipc.Init.Config field.
func BuildInitConfig(cfg InitConfig) ([]byte, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "worker: marshaling init config")
	}
	return b, nil
}

// Worker runs one worker subprocess's side of the protocol. It owns a
// worker-scope fixture Stack that outlives every test it runs, plus a
// fresh test-scope Stack per test.
type Worker struct {
	reader *ipc.ParentReader
	writer *ipc.WorkerWriter

	init      *ipc.Init
	cfg       InitConfig
	tests     map[string]*testtree.Test
	workerStk *fixture.Stack
}

// New constructs a Worker that reads parent->worker messages from r and
// writes worker->parent messages to w. Call Run to start the main loop.
func New(r io.Reader, w io.Writer) *Worker {
	return &Worker{reader: ipc.NewParentReader(r), writer: ipc.NewWorkerWriter(w)}
}

// Run executes the worker's main loop: receive Init, announce Ready, then
// alternate between receiving Run/Stop and replying with TestBegin/
// Stdio/TestEnd/Done, until Stop arrives. It returns nil once the worker
// has cleanly finished (after Stop); any other return is a protocol or
// fixture failure the caller should treat as a worker crash.
func (w *Worker) Run(ctx context.Context) error {
	msg, err := w.reader.Read()
	if err != nil {
		return errors.Wrap(err, "worker: reading init")
	}
	initMsg, ok := msg.(*ipc.Init)
	if !ok {
		return errors.Errorf("worker: expected init, got %T", msg)
	}
	if err := w.handleInit(ctx, initMsg); err != nil {
		return err
	}
	logging.ContextLogfLevel(ctx, logging.LevelInfo, "worker %d: ready with %d tests", initMsg.WorkerIndex, len(w.tests))
	if err := w.writer.Write(&ipc.Ready{}); err != nil {
		return err
	}

	for {
		msg, err := w.reader.Read()
		if err != nil {
			return errors.Wrap(err, "worker: reading request")
		}
		switch m := msg.(type) {
		case *ipc.Run:
			if err := w.handleRun(ctx, m); err != nil {
				return err
			}
		case *ipc.Stop:
			return w.handleStop(ctx)
		default:
			return errors.Errorf("worker: unexpected message %T", msg)
		}
	}
}

func (w *Worker) handleInit(ctx context.Context, m *ipc.Init) error {
	w.init = m
	var cfg InitConfig
	if err := json.Unmarshal(m.Config, &cfg); err != nil {
		return errors.Wrap(err, "worker: decoding init config")
	}
	w.cfg = cfg

	var grep *regexp.Regexp
	if cfg.GrepPattern != "" {
		re, err := regexp.Compile(cfg.GrepPattern)
		if err != nil {
			return errors.Wrap(err, "worker: compiling grep pattern")
		}
		grep = re
	}

	result, err := testtree.Build(testtree.BuildInput{
		Registrations: registry.Tests(),
		Fixtures:      registry.Fixtures(),
		Projects:      cfg.Projects,
		Grep:          grep,
		ProjectFilter: cfg.ProjectFilter,
		Shard:         cfg.Shard,
		ForbidOnly:    cfg.ForbidOnly,
	})
	if err != nil {
		return errors.Wrap(err, "worker: rebuilding test tree")
	}
	if len(result.Errors) > 0 {
		return errors.Wrap(result.Errors[0], "worker: rebuilding test tree")
	}

	w.tests = make(map[string]*testtree.Test, len(result.Tests))
	for _, t := range result.Tests {
		w.tests[t.ID] = t
	}

	w.workerStk = fixture.NewStack(registry.Fixtures(), fixture.Worker, nil)
	return nil
}

func (w *Worker) handleStop(ctx context.Context) error {
	for _, e := range w.workerStk.Teardown(ctx) {
		logging.ContextLogfLevel(ctx, logging.LevelWarn, "worker: fixture teardown at stop: %v", e)
		if err := w.writer.Write(&ipc.TeardownError{Error: e.Error()}); err != nil {
			return err
		}
	}
	return w.writer.Write(&ipc.Done{PendingWorker: false})
}
