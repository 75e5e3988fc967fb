package loom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/internal/registry"
)

func TestTestRegistersWithCallerLocation(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	Test(TestCase{Title: "does a thing", Func: func(ctx context.Context, tt *T) {}})

	regs := registry.Tests()
	require.Len(t, regs, 1)
	assert.Equal(t, "does a thing", regs[0].Title)
	assert.Contains(t, regs[0].Location.File, "loom_test.go")
}

func TestDescribeNestsSuitePath(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	Describe("outer", func() {
		Describe("inner", func() {
			Test(TestCase{Title: "leaf", Func: func(ctx context.Context, tt *T) {}})
		})
	})

	regs := registry.Tests()
	require.Len(t, regs, 1)
	assert.Equal(t, []string{"outer", "inner"}, regs[0].SuitePath)
}

func TestFixturePanicsOnDuplicateName(t *testing.T) {
	registry.Reset()
	defer registry.Reset()

	Fixture(FixtureDef{Name: "dup", Scope: TestScope, Body: func(ctx context.Context, deps Deps) (interface{}, TeardownFunc, error) {
		return nil, nil, nil
	}})

	assert.Panics(t, func() {
		Fixture(FixtureDef{Name: "dup", Scope: TestScope, Body: func(ctx context.Context, deps Deps) (interface{}, TeardownFunc, error) {
			return nil, nil, nil
		}})
	})
}
