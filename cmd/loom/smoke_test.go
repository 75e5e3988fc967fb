package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/internal/dispatch"
	"github.com/loomtest/loom/internal/registry"
	"github.com/loomtest/loom/internal/testtree"
	"github.com/loomtest/loom/internal/worker"
	"github.com/loomtest/loom/loom"
)

// This test binary doubles as a worker subprocess when ExecLauncher
// re-execs it with LOOM_WORKER_MODE set, the same self-exec trick
// main() uses for a real build. init runs before go test's own
// generated main, so the re-exec'd copy never reaches testing.Main.
// The smoke test is registered here, before the worker-mode check, so
// the re-exec'd worker rebuilds the same tree (and test IDs) as the
// dispatcher side.
func init() {
	loom.Test(loom.TestCase{
		Title: "smoke passes",
		Func:  func(ctx context.Context, tt *loom.T) {},
	})
	if os.Getenv(dispatch.ExecLauncherEnvVar) != "" {
		if err := worker.RunFromExtraFiles(context.Background()); err != nil {
			os.Exit(exitFatal)
		}
		os.Exit(exitOK)
	}
}

// TestRunRealWorkerSubprocess drives the dispatcher against a real
// ExecLauncher subprocess instead of the in-process fake internal/dispatch's
// own tests use, to catch anything only a real process boundary (fd
// inheritance, re-exec, pipe lifetime) would surface.
func TestRunRealWorkerSubprocess(t *testing.T) {
	project := &testtree.Project{Name: "default", Timeout: 5 * time.Second}
	build, err := testtree.Build(testtree.BuildInput{
		Registrations: registry.Tests(),
		Fixtures:      registry.Fixtures(),
		Projects:      []*testtree.Project{project},
	})
	require.NoError(t, err)
	require.Empty(t, build.Errors)
	require.Len(t, build.Tests, 1)

	events := make(chan dispatch.Event, 64)
	done := make(chan struct{})
	var ends []*dispatch.Event
	go func() {
		for e := range events {
			if e.Kind == dispatch.EventTestEnd {
				ev := e
				ends = append(ends, &ev)
			}
		}
		close(done)
	}()

	d := dispatch.New(dispatch.Config{
		Workers:        1,
		GraceTerminate: 2 * time.Second,
		TeardownFloor:  time.Second,
	}, []*testtree.Project{project}, build.Roots, build.Tests, &dispatch.ExecLauncher{}, events)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	status, runErr := d.Run(ctx)
	close(events)
	<-done

	require.NoError(t, runErr)
	assert.Equal(t, dispatch.RunPassed, status)
	require.Len(t, ends, 1)
	assert.Equal(t, testtree.StatusPassed, ends[0].Result.Status)
}
