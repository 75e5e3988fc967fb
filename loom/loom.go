// Package loom is the public API test packages import to register tests
// and fixtures. A test file registers its declarations from an init()
// function (directly, or via a package-level var whose initializer calls
// Test/Fixture); the loom binary discovers them by importing those
// packages before it starts dispatching.
package loom

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/loomtest/loom/internal/fixture"
	"github.com/loomtest/loom/internal/registry"
)

// Scope re-exports fixture.Scope so callers don't need to import the
// internal package directly.
type Scope = fixture.Scope

const (
	TestScope   = fixture.Test
	WorkerScope = fixture.Worker
)

// Deps re-exports fixture.Deps.
type Deps = fixture.Deps

// TeardownFunc re-exports fixture.TeardownFunc.
type TeardownFunc = fixture.TeardownFunc

// TestCase describes one test registration.
type TestCase struct {
	// Title is the spec title, reported concatenated with enclosing
	// Describe() titles for grep matching.
	Title string
	// Fixtures lists the names of fixtures this test directly depends on.
	Fixtures []string
	// Timeout overrides the project's default test timeout when positive.
	Timeout time.Duration
	// Retries overrides the project's default retry count when positive;
	// zero keeps the project's default.
	Retries int
	// Only marks this test for exclusive running; construction fails with
	// ForbiddenOnly if the run forbids it.
	Only bool
	// Annotations are freeform key/value metadata carried through to the
	// report.
	Annotations map[string]string
	// Func is the test body.
	Func func(ctx context.Context, t *T)
}

// Test registers tc. It must be called from an init()-time code path
// (typically a package-level var initializer or init() itself).
func Test(tc TestCase) {
	_, file, line, _ := runtime.Caller(1)
	retries := tc.Retries
	if retries == 0 {
		retries = -1
	}
	registry.AddTest(&registry.Registration{
		Title:       tc.Title,
		Location:    registry.Location{File: file, Line: line},
		Fixtures:    append([]string(nil), tc.Fixtures...),
		Annotations: tc.Annotations,
		Only:        tc.Only,
		Timeout:     int64(tc.Timeout),
		Retries:     retries,
		Func: func(ctx context.Context, s registry.TestState) {
			tc.Func(ctx, s.(*T))
		},
	})
}

// Describe groups every Test/Describe call made from body under a nested
// suite titled title. Fixtures are not scoped by Describe: a Fixture call
// made from body registers a process-wide fixture.
func Describe(title string, body func()) {
	registry.PushSuite(title)
	defer registry.PopSuite()
	body()
}

// FixtureDef describes one fixture registration.
type FixtureDef struct {
	Name  string
	Scope Scope
	Deps  []string
	Body  func(ctx context.Context, deps Deps) (value interface{}, teardown TeardownFunc, err error)
}

// Fixture registers f. It panics if the name is already registered, since
// fixture registration happens at init() time and a duplicate name is a
// programming error the author should fix immediately, not a runtime
// condition the CLI recovers from.
func Fixture(f FixtureDef) {
	if err := registry.AddFixture(&fixture.Fixture{
		Name:  f.Name,
		Scope: f.Scope,
		Deps:  append([]string(nil), f.Deps...),
		Body:  fixture.Body(f.Body),
	}); err != nil {
		panic(fmt.Sprintf("loom.Fixture: %v", err))
	}
}
