package loom

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalUnwindsViaPanic(t *testing.T) {
	state := NewT(context.Background(), nil, nil, ArtifactConfig{})
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			assert.True(t, IsFatalSignal(r))
		}()
		state.Fatal("boom")
	}()
	assert.True(t, state.HasError())
	assert.Equal(t, []string{"boom"}, state.Errors())
}

func TestFixturePanicsWhenUndeclared(t *testing.T) {
	state := NewT(context.Background(), map[string]interface{}{"a": 1}, nil, ArtifactConfig{})
	assert.Equal(t, 1, state.Fixture("a"))
	assert.Panics(t, func() { state.Fixture("b") })
}

func TestMatchSnapshotWritesOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	state := NewT(context.Background(), nil, nil, ArtifactConfig{SnapshotDir: dir})

	ok := state.MatchSnapshot("out.txt", []byte("hello"))
	assert.True(t, ok)
	assert.False(t, state.HasError())

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMatchSnapshotFailsOnMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("old"), 0o644))

	state := NewT(context.Background(), nil, nil, ArtifactConfig{SnapshotDir: dir})
	ok := state.MatchSnapshot("out.txt", []byte("new"))
	assert.False(t, ok)
	assert.True(t, state.HasError())
}

func TestMatchSnapshotUpdatesWhenRequested(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("old"), 0o644))

	state := NewT(context.Background(), nil, nil, ArtifactConfig{SnapshotDir: dir, UpdateSnapshots: true})
	ok := state.MatchSnapshot("out.txt", []byte("new"))
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestOutDirReturnsConfiguredDir(t *testing.T) {
	state := NewT(context.Background(), nil, nil, ArtifactConfig{OutDir: "/tmp/x"})
	assert.Equal(t, "/tmp/x", state.OutDir())
}
