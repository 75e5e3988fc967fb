package dispatch

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/internal/ipc"
	"github.com/loomtest/loom/internal/registry"
	"github.com/loomtest/loom/internal/testtree"
	"github.com/loomtest/loom/internal/worker"
	"github.com/loomtest/loom/loom"
)

// fakeLauncher spawns workers as goroutines wired through in-memory
// pipes instead of real subprocesses, so the scheduling algorithm can be
// exercised without os/exec.
type fakeLauncher struct{}

func (fakeLauncher) Launch(ctx context.Context, args InitArgs) (*Conn, error) {
	parentR, parentW := io.Pipe()
	workerR, workerW := io.Pipe()

	w := worker.New(parentR, workerW)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	writer := ipc.NewParentWriter(parentW)
	reader := ipc.NewWorkerReader(workerR)

	if err := writer.Write(&ipc.Init{
		WorkerIndex:  args.WorkerIndex,
		ProjectIndex: args.ProjectIndex,
		FixtureHash:  args.FixtureHash,
		Config:       args.Config,
	}); err != nil {
		return nil, err
	}
	msg, err := reader.Read()
	if err != nil {
		return nil, err
	}
	if _, ok := msg.(*ipc.Ready); !ok {
		return nil, fmt.Errorf("fakeLauncher: expected ready, got %T", msg)
	}

	return &Conn{
		Index:  args.WorkerIndex,
		Writer: writer,
		Reader: reader,
		close: func(grace time.Duration) {
			parentW.Close()
			<-done
			workerR.Close()
		},
	}, nil
}

func buildTests(t *testing.T, project *testtree.Project) []*testtree.Test {
	t.Helper()
	result, err := testtree.Build(testtree.BuildInput{
		Registrations: registry.Tests(),
		Fixtures:      registry.Fixtures(),
		Projects:      []*testtree.Project{project},
	})
	require.NoError(t, err)
	return result.Tests
}

func drainEvents(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestDispatcherRunsAllPassing(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	loom.Test(loom.TestCase{Title: "a", Func: func(ctx context.Context, tt *loom.T) {}})
	loom.Test(loom.TestCase{Title: "b", Func: func(ctx context.Context, tt *loom.T) {}})

	project := &testtree.Project{Name: "default", Timeout: time.Second, Retries: 0}
	tests := buildTests(t, project)
	require.Len(t, tests, 2)

	events := make(chan Event, 256)
	d := New(Config{Workers: 2, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)

	status, err := d.Run(context.Background())
	close(events)
	require.NoError(t, err)
	assert.Equal(t, RunPassed, status)

	var ends int
	for _, e := range drainEvents(events) {
		if e.Kind == EventTestEnd {
			ends++
			assert.Equal(t, testtree.StatusPassed, e.Result.Status)
		}
	}
	assert.Equal(t, 2, ends)
}

func TestDispatcherRetriesThenFlaky(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	attempt := 0
	loom.Test(loom.TestCase{
		Title:   "flaky",
		Retries: 1,
		Func: func(ctx context.Context, tt *loom.T) {
			attempt++
			if attempt == 1 {
				tt.Fatal("first attempt fails")
			}
		},
	})

	project := &testtree.Project{Name: "default", Timeout: time.Second, Retries: 0}
	tests := buildTests(t, project)
	require.Len(t, tests, 1)

	events := make(chan Event, 256)
	d := New(Config{Workers: 1, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)

	status, err := d.Run(context.Background())
	close(events)
	require.NoError(t, err)
	assert.Equal(t, RunPassed, status)

	test := tests[0]
	require.Len(t, test.Results, 2)
	assert.Equal(t, testtree.StatusFailed, test.Results[0].Status)
	assert.Equal(t, testtree.StatusPassed, test.Results[1].Status)
	assert.Equal(t, testtree.StatusFlaky, test.FinalStatus())
}

func TestDispatcherExhaustsRetriesAndFails(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	loom.Test(loom.TestCase{
		Title:   "always fails",
		Retries: 1,
		Func: func(ctx context.Context, tt *loom.T) {
			tt.Fatal("nope")
		},
	})

	project := &testtree.Project{Name: "default", Timeout: time.Second, Retries: 0}
	tests := buildTests(t, project)

	events := make(chan Event, 256)
	d := New(Config{Workers: 1, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)

	status, err := d.Run(context.Background())
	close(events)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, status)

	test := tests[0]
	require.Len(t, test.Results, 2)
	assert.Equal(t, testtree.StatusFailed, test.FinalStatus())
}

// TestDispatcherDrainFinalizesInFlightRetryableFailure guards against a
// deadlock: once draining has begun, tryDispatch no longer services
// d.queue, so a failed result that still has retries left must not be
// re-enqueued — it would sit in the queue forever and idle() would never
// report true, hanging Run's select loop.
func TestDispatcherDrainFinalizesInFlightRetryableFailure(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	loom.Test(loom.TestCase{Title: "retryable", Retries: 1, Func: func(ctx context.Context, tt *loom.T) {}})

	project := &testtree.Project{Name: "default", Timeout: time.Second}
	tests := buildTests(t, project)
	require.Len(t, tests, 1)
	test := tests[0]

	events := make(chan Event, 16)
	d := New(Config{Workers: 1, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)
	d.draining = true
	d.drainCause = RunFailed
	// The test is in flight, so tryDispatch has already popped it off the queue.
	d.queue = nil

	s := &slot{index: 0, test: test, attempt: 0, startTime: time.Now()}
	d.finishTest(s, &testtree.TestResult{Status: testtree.StatusFailed, Error: "boom"})

	assert.Empty(t, d.queue, "a failed test must not be re-enqueued once draining has begun")
	assert.Equal(t, 1, d.failures)
	require.Len(t, test.Results, 1)
	assert.Equal(t, testtree.StatusFailed, test.Results[0].Status)
}

func TestDispatcherAccumulatesStdioIntoResult(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	loom.Test(loom.TestCase{Title: "logs", Func: func(ctx context.Context, tt *loom.T) {
		tt.Log("hello")
		tt.Log("world")
	}})

	project := &testtree.Project{Name: "default", Timeout: time.Second}
	tests := buildTests(t, project)
	require.Len(t, tests, 1)

	events := make(chan Event, 256)
	d := New(Config{Workers: 1, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)

	status, err := d.Run(context.Background())
	close(events)
	require.NoError(t, err)
	assert.Equal(t, RunPassed, status)

	test := tests[0]
	require.Len(t, test.Results, 1)
	assert.Equal(t, []string{"hello", "world"}, test.Results[0].Stdout)
}

// TestDispatcherMaxFailuresWithMultipleWorkersCanExceedBudget documents
// that maxFailures bounds when the dispatcher stops starting new tests,
// not the number of already in-flight tests allowed to finish: with more
// than one worker, several tests can be running when the budget trips,
// and every one of them still gets to report its own outcome.
func TestDispatcherMaxFailuresWithMultipleWorkersCanExceedBudget(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	for _, title := range []string{"a", "b", "c", "d"} {
		title := title
		loom.Test(loom.TestCase{Title: title, Func: func(ctx context.Context, tt *loom.T) {
			tt.Fatal("boom: " + title)
		}})
	}

	project := &testtree.Project{Name: "default", Timeout: time.Second, Retries: 0}
	tests := buildTests(t, project)
	require.Len(t, tests, 4)

	events := make(chan Event, 256)
	d := New(Config{Workers: 4, MaxFailures: 1, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)

	status, err := d.Run(context.Background())
	close(events)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, status)

	var failed int
	for _, test := range tests {
		if test.FinalStatus() == testtree.StatusFailed {
			failed++
		}
	}
	assert.GreaterOrEqual(t, failed, 1, "at least the budget-tripping failure must be reported")
	assert.LessOrEqual(t, failed, 4, "every dispatched test already in flight may still finish and fail")
}

func TestDispatcherReusesWorkerAcrossSameHash(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	loom.Fixture(loom.FixtureDef{
		Name:  "shared",
		Scope: loom.WorkerScope,
		Body: func(ctx context.Context, deps loom.Deps) (interface{}, loom.TeardownFunc, error) {
			return 1, nil, nil
		},
	})
	loom.Test(loom.TestCase{Title: "a", Fixtures: []string{"shared"}, Func: func(ctx context.Context, tt *loom.T) {}})
	loom.Test(loom.TestCase{Title: "b", Fixtures: []string{"shared"}, Func: func(ctx context.Context, tt *loom.T) {}})

	project := &testtree.Project{Name: "default", Timeout: time.Second, Retries: 0}
	tests := buildTests(t, project)
	require.Len(t, tests, 2)
	assert.Equal(t, tests[0].FixtureHash, tests[1].FixtureHash)

	events := make(chan Event, 256)
	d := New(Config{Workers: 1, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)

	status, err := d.Run(context.Background())
	close(events)
	require.NoError(t, err)
	assert.Equal(t, RunPassed, status)
	assert.Equal(t, 1, d.nextWorker, "both tests should have run in the single spawned worker")
}

func TestDispatcherMaxFailuresDrains(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	for _, title := range []string{"a", "b", "c"} {
		title := title
		loom.Test(loom.TestCase{Title: title, Func: func(ctx context.Context, tt *loom.T) {
			tt.Fatal("boom: " + title)
		}})
	}

	project := &testtree.Project{Name: "default", Timeout: time.Second, Retries: 0}
	tests := buildTests(t, project)
	require.Len(t, tests, 3)

	events := make(chan Event, 256)
	d := New(Config{Workers: 1, MaxFailures: 1, GraceTerminate: time.Second}, []*testtree.Project{project}, nil, tests, fakeLauncher{}, events)

	status, err := d.Run(context.Background())
	close(events)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, status)

	var skipped int
	for _, test := range tests {
		if len(test.Results) > 0 && test.Results[len(test.Results)-1].Status == testtree.StatusSkipped {
			skipped++
		}
	}
	assert.GreaterOrEqual(t, skipped, 1)
}
