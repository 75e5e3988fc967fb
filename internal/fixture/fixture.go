// Package fixture implements the fixture registry and the worker-hash
// digest described by the Fixture Registry component of the design: named
// resources with setup/teardown, scoped to either a single test or a
// worker's entire lifetime.
//
// The registry is populated once, by every test package's init() function,
// the same way tast test bundles populate a global testing.Registry. Both
// the dispatcher process and every worker subprocess are the same compiled
// binary, so they observe identical registrations in identical order; a
// fixture's "definition identity" for hashing purposes is therefore just
// its position in that deterministic registration order.
package fixture

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/loomtest/loom/internal/errors"
)

// Scope indicates whether a fixture's value lives for a single test or for
// the lifetime of the worker that runs it.
type Scope int

const (
	// Test fixtures are instantiated per test and torn down at the end of
	// the test that (transitively) depends on them.
	Test Scope = iota
	// Worker fixtures are instantiated once per worker and reused across
	// every test the worker runs, as long as the worker's fixture hash
	// doesn't change.
	Worker
)

func (s Scope) String() string {
	if s == Worker {
		return "worker"
	}
	return "test"
}

// TeardownFunc releases resources acquired by a fixture's Body. Teardown
// failures are reported but never mask the outcome of the test (or
// fixture) that triggered them.
type TeardownFunc func(ctx context.Context) error

// Deps maps a fixture's declared dependency names to their resolved
// values.
type Deps map[string]interface{}

// Body is a fixture's implementation. It receives the resolved values of
// its declared dependencies and returns the value it publishes to
// consumers along with a teardown closure. This is the Go realization of
// the spec's "continuation" fixture body: instead of suspending on a
// callback, Body returns its published value and an explicit teardown
// function to run later, at scope end.
type Body func(ctx context.Context, deps Deps) (value interface{}, teardown TeardownFunc, err error)

// Fixture is a named, scoped resource with a dependency list.
type Fixture struct {
	Name  string
	Scope Scope
	Deps  []string
	Body  Body

	// definitionID is assigned at registration time and stands in for the
	// "definition identity" the spec's hash is keyed on.
	definitionID int
}

// Registry holds every fixture registered by the process, in registration
// order.
type Registry struct {
	byName map[string]*Fixture
	order  []string
	next   int
}

// NewRegistry returns an empty fixture registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Fixture)}
}

// Register adds f to the registry. It fails with *errors.DuplicateFixtureError
// if the name is already taken.
func (r *Registry) Register(f *Fixture) error {
	if _, ok := r.byName[f.Name]; ok {
		return &errors.DuplicateFixtureError{Name: f.Name}
	}
	cp := *f
	cp.definitionID = r.next
	r.next++
	r.byName[cp.Name] = &cp
	r.order = append(r.order, cp.Name)
	return nil
}

// Get returns the fixture registered under name, if any.
func (r *Registry) Get(name string) (*Fixture, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Names returns every registered fixture name in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Validate checks the full dependency graph for scope violations
// (*errors.InvalidScopeError) and cycles (*errors.CyclicFixtureError). It is
// called once all test packages have registered their fixtures, since a
// fixture may be declared before the fixtures it depends on exist.
func (r *Registry) Validate() error {
	for _, name := range r.order {
		f := r.byName[name]
		for _, dep := range f.Deps {
			d, ok := r.byName[dep]
			if !ok {
				return errors.Errorf("fixture %q depends on unknown fixture %q", f.Name, dep)
			}
			if f.Scope == Worker && d.Scope == Test {
				return &errors.InvalidScopeError{Fixture: f.Name, Dep: dep}
			}
		}
	}
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(r.order))
	var path []string
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			cycle := append(append([]string(nil), path...), name)
			return &errors.CyclicFixtureError{Cycle: cycle}
		}
		state[name] = visiting
		path = append(path, name)
		f := r.byName[name]
		for _, dep := range f.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = visited
		return nil
	}
	for _, name := range r.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// TransitiveDeps returns every fixture (transitively) required by names,
// including names themselves, in unspecified order.
func (r *Registry) TransitiveDeps(names []string) ([]*Fixture, error) {
	seen := make(map[string]bool)
	var out []*Fixture
	var walk func(name string) error
	walk = func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true
		f, ok := r.byName[name]
		if !ok {
			return errors.Errorf("unknown fixture %q", name)
		}
		out = append(out, f)
		for _, dep := range f.Deps {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := walk(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WorkerHash computes a stable digest over the worker-scope fixtures
// transitively required by a test declaring the given direct dependency
// names. Two tests share a worker if and only if their WorkerHash values
// match.
func (r *Registry) WorkerHash(requiredNames []string) (string, error) {
	all, err := r.TransitiveDeps(requiredNames)
	if err != nil {
		return "", err
	}
	type pair struct {
		name string
		id   int
	}
	var pairs []pair
	for _, f := range all {
		if f.Scope == Worker {
			pairs = append(pairs, pair{f.Name, f.definitionID})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })
	h := fnv.New64a()
	for _, p := range pairs {
		fmt.Fprintf(h, "%s#%d\x00", p.name, p.id)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
