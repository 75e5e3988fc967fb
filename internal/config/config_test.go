package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "list", cfg.Reporter)
	assert.Equal(t, "loom-output", cfg.Output)
	assert.Greater(t, cfg.Workers, 0)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.config.yml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\nreporter: dot\nmaxFailures: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "dot", cfg.Reporter)
	assert.Equal(t, 5, cfg.MaxFailures)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/loom.config.yml")
	require.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"workers": 2}`), 0o644))

	t.Setenv("LOOM_WORKERS", "7")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers)
}

func TestLoadEnvOverridesMultiWordCamelCaseKey(t *testing.T) {
	t.Setenv("LOOM_MAXFAILURES", "9")
	t.Setenv("LOOM_GLOBALTIMEOUT", "60000")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxFailures)
	assert.Equal(t, 60000, cfg.GlobalTimeout)
}

func TestBuildProjectsDefaultsToSingleProject(t *testing.T) {
	cfg := &RunConfig{Timeout: 1000, Retries: 2, Output: "loom-output"}
	projects := cfg.BuildProjects()
	require.Len(t, projects, 1)
	assert.Equal(t, "default", projects[0].Name)
	assert.Equal(t, 2, projects[0].Retries)
	assert.Equal(t, "loom-output", projects[0].OutputDir)
}

func TestBuildProjectsFallsBackToRunOutputDir(t *testing.T) {
	cfg := &RunConfig{Output: "loom-output", Projects: []ProjectSpec{
		{Name: "chrome"},
		{Name: "firefox", OutputDir: "firefox-output"},
	}}
	projects := cfg.BuildProjects()
	require.Len(t, projects, 2)
	assert.Equal(t, "loom-output", projects[0].OutputDir)
	assert.Equal(t, "firefox-output", projects[1].OutputDir)
}

func TestParseShardValidatesRange(t *testing.T) {
	shard, err := ParseShard("2/4")
	require.NoError(t, err)
	assert.Equal(t, 2, shard.Current)
	assert.Equal(t, 4, shard.Total)

	_, err = ParseShard("5/4")
	require.Error(t, err)

	shard, err = ParseShard("")
	require.NoError(t, err)
	assert.Nil(t, shard)
}
