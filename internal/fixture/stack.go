package fixture

import (
	"context"

	"github.com/loomtest/loom/internal/errors"
)

// entry is one instantiated fixture on a Stack.
type entry struct {
	name     string
	value    interface{}
	teardown TeardownFunc
}

// Stack instantiates fixtures of a single scope on demand, in topological
// order of their declared dependencies, and tears them down in reverse
// order at scope end. A test-scope Stack may resolve worker-scope values
// from a parent Stack (see NewStack's parent parameter); a worker-scope Stack
// has no parent.
type Stack struct {
	reg    *Registry
	scope  Scope
	parent *Stack // worker-scope stack consulted by a test-scope stack, if any

	entries map[string]*entry
	order   []string // instantiation order, for reverse teardown
}

// NewStack returns an empty Stack for scope. parent, if non-nil, is
// consulted to resolve names that belong to a different (necessarily
// wider) scope.
func NewStack(reg *Registry, scope Scope, parent *Stack) *Stack {
	return &Stack{reg: reg, scope: scope, parent: parent, entries: make(map[string]*entry)}
}

// Resolve returns the value published by the named fixture, instantiating
// it (and its not-yet-instantiated dependencies, in topological order) on
// first access. Instantiation is idempotent: subsequent calls for the same
// name return the cached value without re-running Body.
func (s *Stack) Resolve(ctx context.Context, name string) (interface{}, error) {
	if e, ok := s.entries[name]; ok {
		return e.value, nil
	}
	f, ok := s.reg.Get(name)
	if !ok {
		return nil, errors.Errorf("unknown fixture %q", name)
	}
	if f.Scope != s.scope {
		if s.parent == nil {
			return nil, errors.Errorf("fixture %q has scope %v, not available from a %v-scope stack", name, f.Scope, s.scope)
		}
		return s.parent.Resolve(ctx, name)
	}

	deps := make(Deps, len(f.Deps))
	for _, dep := range f.Deps {
		v, err := s.Resolve(ctx, dep)
		if err != nil {
			return nil, errors.Wrapf(err, "fixture %q: dependency %q unusable", name, dep)
		}
		deps[dep] = v
	}

	val, teardown, err := f.Body(ctx, deps)
	if err != nil {
		return nil, errors.Wrapf(err, "fixture %q setup failed", name)
	}
	s.entries[name] = &entry{name: name, value: val, teardown: teardown}
	s.order = append(s.order, name)
	return val, nil
}

// Teardown tears down every instantiated fixture on the stack in reverse
// instantiation order, collecting (rather than stopping on) teardown
// errors so that every fixture gets a chance to release its resources.
func (s *Stack) Teardown(ctx context.Context) []error {
	var errs []error
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		e := s.entries[name]
		if e.teardown == nil {
			continue
		}
		if err := e.teardown(ctx); err != nil {
			errs = append(errs, errors.Wrapf(err, "fixture %q teardown failed", name))
		}
	}
	s.entries = make(map[string]*entry)
	s.order = nil
	return errs
}

// Instantiated reports whether name has already been resolved on this
// stack (not inspecting its parent).
func (s *Stack) Instantiated(name string) bool {
	_, ok := s.entries[name]
	return ok
}
