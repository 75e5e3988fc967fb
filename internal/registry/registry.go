// Package registry is the Loader of this implementation: a process-wide
// collection that test packages populate from their init() functions, the
// way tast test bundles populate a global testing.Registry. Both the
// dispatcher process and every worker subprocess are the same compiled
// binary, so they observe identical registrations in identical,
// deterministic order (Go guarantees package init order).
package registry

import (
	"context"
	"sync"

	"github.com/loomtest/loom/internal/fixture"
)

// Location identifies where a test or suite was declared.
type Location struct {
	File   string
	Line   int
	Column int
}

// TestFunc is the body of a registered test.
type TestFunc func(ctx context.Context, t TestState)

// TestState is the subset of per-test state a test body can use. It is
// implemented by the public loom.T so that internal/registry does not
// need to depend on the loom package (which itself depends on registry).
type TestState interface {
	Context() context.Context
	Fixture(name string) interface{}
	Log(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// Registration is a test declaration as produced by a user test package.
type Registration struct {
	Title       string
	SuitePath   []string // enclosing Describe() titles, outermost first
	Location    Location
	Func        TestFunc
	Fixtures    []string // direct fixture dependency names
	Annotations map[string]string
	Only        bool
	Timeout     int64 // nanoseconds; 0 = project default
	Retries     int   // -1 = project default
}

var (
	mu        sync.Mutex
	tests     []*Registration
	suiteTop  []string
	fixtures  = fixture.NewRegistry()
)

// AddTest appends r to the registry, stamping it with the currently open
// Describe() path.
func AddTest(r *Registration) {
	mu.Lock()
	defer mu.Unlock()
	r.SuitePath = append([]string(nil), suiteTop...)
	tests = append(tests, r)
}

// PushSuite opens a nested suite scope; titles registered until the
// matching PopSuite are attributed to it.
func PushSuite(title string) {
	mu.Lock()
	defer mu.Unlock()
	suiteTop = append(suiteTop, title)
}

// PopSuite closes the most recently opened suite scope.
func PopSuite() {
	mu.Lock()
	defer mu.Unlock()
	suiteTop = suiteTop[:len(suiteTop)-1]
}

// Fixtures returns the process-wide fixture registry.
func Fixtures() *fixture.Registry {
	return fixtures
}

// AddFixture registers f with the process-wide fixture registry.
func AddFixture(f *fixture.Fixture) error {
	return fixtures.Register(f)
}

// Tests returns every registration made so far, in registration order.
// Callers must not mutate the returned slice's elements.
func Tests() []*Registration {
	mu.Lock()
	defer mu.Unlock()
	return append([]*Registration(nil), tests...)
}

// Reset clears the registry. Exposed for tests that need a clean slate.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	tests = nil
	suiteTop = nil
	fixtures = fixture.NewRegistry()
}
