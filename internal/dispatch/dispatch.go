// Package dispatch implements the Dispatcher: the single-threaded event
// loop that partitions the ordered Test queue into worker-hash runs,
// assigns them to a bounded pool of workers, retries failures at the
// head of the queue, and drains on maxFailures/globalTimeout/interrupt.
// Grounded on tast/internal/planner/plan.go's pass-over-a-bundle-set
// scheduling and tast/internal/runner/bundles.go's worker-process
// bookkeeping, adapted from tast's fixed "one pass per bundle" model to
// this spec's hash-run/LRU-pool/retry-at-head model.
package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/ipc"
	"github.com/loomtest/loom/internal/testtree"
	"github.com/loomtest/loom/internal/worker"
)

// Config carries the scheduling knobs of RunConfig that the dispatcher
// itself consults.
type Config struct {
	Workers         int
	MaxFailures     int           // 0 = unlimited
	GlobalTimeout   time.Duration // 0 = unlimited
	GraceTerminate  time.Duration
	TeardownFloor   time.Duration
	GrepPattern     string
	ProjectFilter   []string
	Shard           *testtree.Shard
	ForbidOnly      bool
	UpdateSnapshots bool
}

// Dispatcher runs the scheduling algorithm of spec.md §4.5 over a fixed
// Test Tree, emitting Events for internal/report to consume.
type Dispatcher struct {
	cfg      Config
	projects []*testtree.Project
	projIdx  map[string]int
	roots    map[string]*testtree.Suite
	launcher Launcher
	events   chan<- Event

	queue      []*testtree.Test
	pool       *pool
	bySlot     map[int]*slot // every live slot, including ones pool no longer tracks (retiring)
	draining   bool
	drainCause RunStatus
	failures   int
	fatalErr   error
	nextWorker int // monotonic index assigned to newly spawned workers
}

// New constructs a Dispatcher. tests is the dispatch-ordered queue built
// by internal/testtree.Build; events receives the dispatcher's output
// stream and must not block for long (buffer it if a reporter is slow).
func New(cfg Config, projects []*testtree.Project, roots map[string]*testtree.Suite, tests []*testtree.Test, launcher Launcher, events chan<- Event) *Dispatcher {
	projIdx := make(map[string]int, len(projects))
	for i, p := range projects {
		projIdx[p.Name] = i
	}
	return &Dispatcher{
		cfg:      cfg,
		projects: projects,
		projIdx:  projIdx,
		roots:    roots,
		launcher: launcher,
		events:   events,
		queue:    append([]*testtree.Test(nil), tests...),
		pool:     newPool(cfg.Workers),
		bySlot:   make(map[int]*slot),
	}
}

// workerEvent is what each slot's read-loop goroutine funnels into the
// dispatcher's single select loop: a fan-in of N readers onto one channel,
// the standard Go idiom for multiplexing a dynamically-sized reader set
// onto a single select statement.
type workerEvent struct {
	slotIndex int
	msg       interface{}
	err       error
}

// Run executes the scheduling algorithm to completion and returns the
// run's final status. A non-nil error indicates a dispatcher-internal
// failure (fatal, exit 3), not a test failure.
func (d *Dispatcher) Run(ctx context.Context) (RunStatus, error) {
	d.emit(Event{Kind: EventBegin, Roots: d.roots})

	fanin := make(chan workerEvent, 64)

	var globalTimerC <-chan time.Time
	if d.cfg.GlobalTimeout > 0 {
		timer := time.NewTimer(d.cfg.GlobalTimeout)
		defer timer.Stop()
		globalTimerC = timer.C
	}

	d.tryDispatch(ctx, fanin)

	for !d.idle() {
		select {
		case we := <-fanin:
			d.handleWorkerEvent(we)
		case <-globalTimerC:
			d.beginDrain(RunTimedOut)
		case <-ctx.Done():
			d.beginDrain(RunInterrupted)
		}
		if d.fatalErr != nil {
			break
		}
		if !d.draining {
			d.tryDispatch(ctx, fanin)
		}
	}

	d.shutdownAll()

	status := d.finalStatus()
	d.emit(Event{Kind: EventRunEnd, RunStatus: status})
	return status, d.fatalErr
}

func (d *Dispatcher) idle() bool {
	return len(d.queue) == 0 && len(d.pool.busySlots()) == 0
}

func (d *Dispatcher) emit(e Event) {
	if d.events != nil {
		d.events <- e
	}
}

// tryDispatch assigns as many pending tests to workers as the pool
// allows, per spec.md §4.5's "prefer free worker bound to H, else spawn
// if capacity, else evict the LRU free worker with a different hash"
// rule.
func (d *Dispatcher) tryDispatch(ctx context.Context, fanin chan workerEvent) {
	for len(d.queue) > 0 {
		if d.draining || d.fatalErr != nil || d.maxFailuresReached() {
			return
		}
		next := d.queue[0]
		s := d.acquireSlot(ctx, fanin, next)
		if s == nil {
			return // pool fully busy; wait for a free event
		}
		d.queue = d.queue[1:]
		d.dispatchTo(s, next)
	}
}

// acquireSlot returns a slot ready to run test, spawning or evicting as
// needed, or nil if the pool has no room right now.
func (d *Dispatcher) acquireSlot(ctx context.Context, fanin chan workerEvent, test *testtree.Test) *slot {
	if s := d.pool.takeFreeForHash(test.FixtureHash); s != nil {
		return s
	}
	if d.pool.hasCapacity() {
		return d.spawn(ctx, fanin, test)
	}
	if victim := d.pool.evictLRU(); victim != nil {
		d.retireSlot(victim)
		return d.spawn(ctx, fanin, test)
	}
	return nil
}

func (d *Dispatcher) spawn(ctx context.Context, fanin chan workerEvent, test *testtree.Test) *slot {
	idx := d.nextWorker
	d.nextWorker++

	cfgBytes, err := worker.BuildInitConfig(worker.InitConfig{
		Projects:        d.projects,
		GrepPattern:     d.cfg.GrepPattern,
		ProjectFilter:   d.cfg.ProjectFilter,
		Shard:           d.cfg.Shard,
		ForbidOnly:      d.cfg.ForbidOnly,
		TeardownFloor:   d.cfg.TeardownFloor,
		UpdateSnapshots: d.cfg.UpdateSnapshots,
	})
	if err != nil {
		d.fatalErr = errors.Wrap(err, "dispatch: building worker init config")
		return nil
	}

	conn, err := d.launcher.Launch(ctx, InitArgs{
		WorkerIndex:  idx,
		ProjectIndex: d.projIdx[test.Project.Name],
		FixtureHash:  test.FixtureHash,
		Config:       cfgBytes,
	})
	if err != nil {
		d.fatalErr = errors.Wrapf(err, "dispatch: launching worker %d", idx)
		return nil
	}

	s := &slot{index: idx, hash: test.FixtureHash, conn: conn}
	d.pool.addSlot(s)
	d.bySlot[idx] = s
	go d.readLoop(s, fanin)
	return s
}

// readLoop funnels one worker's messages onto the shared fan-in channel
// until its connection breaks.
func (d *Dispatcher) readLoop(s *slot, fanin chan<- workerEvent) {
	for {
		msg, err := s.conn.Reader.Read()
		fanin <- workerEvent{slotIndex: s.index, msg: msg, err: err}
		if err != nil {
			return
		}
	}
}

func (d *Dispatcher) dispatchTo(s *slot, test *testtree.Test) {
	s.busy = true
	s.test = test
	s.attempt = len(test.Results)
	s.startTime = time.Now()
	s.stdout = nil
	s.stderr = nil
	if err := s.conn.Writer.Write(&ipc.Run{
		TestID:         test.ID,
		Timeout:        test.Timeout,
		Retry:          s.attempt,
		ExpectedStatus: string(test.ExpectedStatus),
	}); err != nil {
		d.finishTest(s, &testtree.TestResult{
			Status: testtree.StatusFailed,
			Error:  errors.Wrap(err, "sending run").Error(),
		})
		d.retireSlot(s)
		d.checkMaxFailures()
	}
}

// checkMaxFailures begins draining once the configured failure budget is
// exhausted; called right after every finishTest that might have pushed
// the count over the threshold.
func (d *Dispatcher) checkMaxFailures() {
	if d.maxFailuresReached() {
		d.beginDrain(RunFailed)
	}
}

// handleWorkerEvent processes one message (or connection failure) from a
// worker's read loop.
func (d *Dispatcher) handleWorkerEvent(we workerEvent) {
	s, ok := d.bySlot[we.slotIndex]
	if !ok {
		return // already fully retired; nothing left to do with this event
	}

	if we.err != nil {
		delete(d.bySlot, we.slotIndex)
		if s.retiring {
			return // expected: connection closed after we sent Stop
		}
		// Unexpected exit: internal/errors's WorkerCrashError per spec.md §4.5's
		// "any unexpected worker exit before its current testEnd" rule.
		if s.busy {
			crashErr := &errors.WorkerCrashError{WorkerIndex: s.index, Detail: we.err.Error()}
			d.finishTest(s, &testtree.TestResult{Status: testtree.StatusFailed, Error: crashErr.Error()})
			d.checkMaxFailures()
		}
		d.pool.removeSlot(s)
		return
	}

	switch m := we.msg.(type) {
	case *ipc.TestBegin:
		d.emit(Event{Kind: EventTestBegin, Test: s.test})
	case *ipc.Stdio:
		if m.Stream == "stderr" {
			s.stderr = append(s.stderr, m.Data)
		} else {
			s.stdout = append(s.stdout, m.Data)
		}
		d.emit(Event{Kind: EventStdio, Test: s.test, Stream: m.Stream, Data: m.Data})
	case *ipc.TestEnd:
		d.finishTest(s, &testtree.TestResult{
			Status:   testtree.Status(m.Status),
			Error:    m.Error,
			Duration: m.Duration,
			Stdout:   s.stdout,
			Stderr:   s.stderr,
		})
		d.checkMaxFailures()
	case *ipc.TeardownError:
		d.emit(Event{Kind: EventRunError, Data: m.Error})
	case *ipc.Done:
		if s.retiring {
			return // reply to our Stop: the worker is exiting, not free
		}
		if m.PendingWorker {
			d.retireSlot(s)
		} else {
			s.busy = false
			s.test = nil
			d.pool.addFree(s)
		}
	}
}

// finishTest records result against s's in-flight test, re-enqueuing it
// at the head of the queue if it failed and retries remain.
func (d *Dispatcher) finishTest(s *slot, result *testtree.TestResult) {
	test := s.test
	result.Attempt = s.attempt
	result.WorkerIndex = s.index
	result.StartTime = s.startTime
	result.Retry = s.attempt > 0
	test.Results = append(test.Results, result)
	d.emit(Event{Kind: EventTestEnd, Test: test, Result: result})

	if result.Status == testtree.StatusPassed {
		return
	}
	// Retries are never granted once draining has begun: tryDispatch is
	// gated off for the rest of the run (see Run's main loop), so
	// re-enqueuing here would sit in d.queue forever with nothing left to
	// service it, and idle() would never report true.
	if !d.draining && len(test.Results) <= test.Retries {
		d.queue = append([]*testtree.Test{test}, d.queue...)
		return
	}
	// Every attempt is exhausted (or the run is draining): this test's
	// final status is failed, and it counts against maxFailures. A
	// failure that still has retries left does not count yet outside of
	// drain, since it may turn out merely flaky.
	d.failures++
}

func (d *Dispatcher) maxFailuresReached() bool {
	return d.cfg.MaxFailures > 0 && d.failures >= d.cfg.MaxFailures
}

// retireSlot removes s from the pool and tells its worker to stop; the
// read loop is left running so any trailing teardownError/done still gets
// routed through handleWorkerEvent until the connection finally closes.
func (d *Dispatcher) retireSlot(s *slot) {
	s.retiring = true
	_ = s.conn.Writer.Write(&ipc.Stop{})
	d.pool.removeSlot(s)
}

func (d *Dispatcher) beginDrain(cause RunStatus) {
	if d.draining {
		return
	}
	d.draining = true
	d.drainCause = cause

	free := append([]*slot(nil), d.pool.free...)
	var g errgroup.Group
	for _, s := range free {
		d.retireSlot(s)
		s := s
		g.Go(func() error {
			s.conn.Close(d.cfg.GraceTerminate)
			return nil
		})
	}
	_ = g.Wait()
	d.skipRemainingQueue()
}

func (d *Dispatcher) skipRemainingQueue() {
	for _, t := range d.queue {
		result := &testtree.TestResult{Attempt: len(t.Results), StartTime: time.Now(), Status: testtree.StatusSkipped}
		t.Results = append(t.Results, result)
		d.emit(Event{Kind: EventTestBegin, Test: t})
		d.emit(Event{Kind: EventTestEnd, Test: t, Result: result})
	}
	d.queue = nil
}

// shutdownAll stops every worker still known to the dispatcher once the
// run is finished.
func (d *Dispatcher) shutdownAll() {
	var g errgroup.Group
	for _, s := range d.bySlot {
		s := s
		if !s.retiring {
			_ = s.conn.Writer.Write(&ipc.Stop{})
		}
		g.Go(func() error {
			s.conn.Close(d.cfg.GraceTerminate)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) finalStatus() RunStatus {
	if d.draining {
		return d.drainCause
	}
	if d.failures > 0 {
		return RunFailed
	}
	return RunPassed
}
