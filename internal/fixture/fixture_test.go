package fixture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/internal/errors"
)

func body(val interface{}) Body {
	return func(ctx context.Context, deps Deps) (interface{}, TeardownFunc, error) {
		return val, nil, nil
	}
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Fixture{Name: "a", Body: body(1)}))

	err := r.Register(&Fixture{Name: "a", Body: body(2)})
	require.Error(t, err)
	assert.IsType(t, &errors.DuplicateFixtureError{}, err)
}

func TestValidateAcceptsAcyclicGraph(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Fixture{Name: "worker", Scope: Worker, Body: body(1)}))
	require.NoError(t, r.Register(&Fixture{Name: "test", Scope: Test, Deps: []string{"worker"}, Body: body(2)}))

	assert.NoError(t, r.Validate())
}

func TestValidateRejectsWorkerDependingOnTest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Fixture{Name: "leaf", Scope: Test, Body: body(1)}))
	require.NoError(t, r.Register(&Fixture{Name: "root", Scope: Worker, Deps: []string{"leaf"}, Body: body(2)}))

	err := r.Validate()
	require.Error(t, err)
	scopeErr, ok := err.(*errors.InvalidScopeError)
	require.True(t, ok, "expected *errors.InvalidScopeError, got %T", err)
	assert.Equal(t, "root", scopeErr.Fixture)
	assert.Equal(t, "leaf", scopeErr.Dep)
}

func TestValidateRejectsCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Fixture{Name: "a", Scope: Test, Deps: []string{"b"}, Body: body(1)}))
	require.NoError(t, r.Register(&Fixture{Name: "b", Scope: Test, Deps: []string{"a"}, Body: body(2)}))

	err := r.Validate()
	require.Error(t, err)
	assert.IsType(t, &errors.CyclicFixtureError{}, err)
}

func TestValidateRejectsSelfCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Fixture{Name: "a", Scope: Test, Deps: []string{"a"}, Body: body(1)}))

	err := r.Validate()
	require.Error(t, err)
	assert.IsType(t, &errors.CyclicFixtureError{}, err)
}

func TestWorkerHashMatchesForSharedWorkerDeps(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Fixture{Name: "shared", Scope: Worker, Body: body(1)}))
	require.NoError(t, r.Register(&Fixture{Name: "a", Scope: Test, Deps: []string{"shared"}, Body: body(2)}))
	require.NoError(t, r.Register(&Fixture{Name: "b", Scope: Test, Deps: []string{"shared"}, Body: body(3)}))

	ha, err := r.WorkerHash([]string{"a"})
	require.NoError(t, err)
	hb, err := r.WorkerHash([]string{"b"})
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestWorkerHashDiffersWithNoSharedWorkerDeps(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Fixture{Name: "wa", Scope: Worker, Body: body(1)}))
	require.NoError(t, r.Register(&Fixture{Name: "wb", Scope: Worker, Body: body(2)}))
	require.NoError(t, r.Register(&Fixture{Name: "a", Scope: Test, Deps: []string{"wa"}, Body: body(3)}))
	require.NoError(t, r.Register(&Fixture{Name: "b", Scope: Test, Deps: []string{"wb"}, Body: body(4)}))

	ha, err := r.WorkerHash([]string{"a"})
	require.NoError(t, err)
	hb, err := r.WorkerHash([]string{"b"})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}
