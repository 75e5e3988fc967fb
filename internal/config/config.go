// Package config loads a run's configuration the way autospec's
// internal/config loads its Configuration: a koanf instance populated
// with defaults, then overlaid with a config file, then environment
// variables, and finally unmarshalled into a typed struct. loom has no
// user/project two-tier split (a run is invoked from one directory), so
// this is the defaults -> file -> env chain (env wins), without autospec's legacy
// JSON migration machinery, which has nothing to migrate from here.
package config

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/loomtest/loom/internal/errors"
)

// ProjectSpec is one named project entry, as it appears in a config file
// (before the time.Duration fields are resolved from their millisecond
// integers in the file into testtree.Project's time.Duration).
type ProjectSpec struct {
	Name        string            `koanf:"name"`
	TestDir     string            `koanf:"testDir"`
	TestMatch   string            `koanf:"testMatch"`
	TestIgnore  string            `koanf:"testIgnore"`
	Timeout     int               `koanf:"timeout"` // milliseconds
	Retries     int               `koanf:"retries"`
	RepeatEach  int               `koanf:"repeatEach"`
	OutputDir   string            `koanf:"outputDir"`
	SnapshotDir string            `koanf:"snapshotDir"`
	Metadata    map[string]string `koanf:"metadata"`
}

// RunConfig is the full set of knobs spec.md §6.5 exposes, merged from
// defaults, an optional config file, and LOOM_-prefixed environment
// variables, in that increasing order of precedence.
type RunConfig struct {
	Workers         int           `koanf:"workers"`
	Timeout         int           `koanf:"timeout"` // milliseconds
	Retries         int           `koanf:"retries"`
	Reporter        string        `koanf:"reporter"`
	Output          string        `koanf:"output"`
	Grep            string        `koanf:"grep"`
	Project         []string      `koanf:"project"`
	Shard           string        `koanf:"shard"`
	ForbidOnly      bool          `koanf:"forbidOnly"`
	UpdateSnapshots bool          `koanf:"updateSnapshots"`
	MaxFailures     int           `koanf:"maxFailures"`
	GlobalTimeout   int           `koanf:"globalTimeout"` // milliseconds
	Projects        []ProjectSpec `koanf:"projects"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"workers":  defaultWorkers(),
		"timeout":  30000,
		"retries":  0,
		"reporter": "list",
		"output":   "loom-output",
	}
}

// Load reads configPath (if non-empty; json or yaml by extension) over
// the built-in defaults, then applies LOOM_-prefixed environment variable
// overrides, and returns the merged, typed configuration. A missing
// configPath is not an error — the CLI only passes one when --config was
// given, and this function is never asked to guess a default path.
func Load(configPath string) (*RunConfig, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, errors.Wrap(err, "config: applying defaults")
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, &errors.ConfigError{Reason: "config file not found: " + configPath}
		}
		parser := parserFor(configPath)
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return nil, &errors.ConfigError{Reason: "parsing " + configPath + ": " + err.Error()}
		}
	}

	if err := k.Load(env.Provider("LOOM_", ".", envTransform), nil); err != nil {
		return nil, &errors.ConfigError{Reason: "reading environment: " + err.Error()}
	}

	var cfg RunConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &errors.ConfigError{Reason: "unmarshalling config: " + err.Error()}
	}
	if cfg.Workers <= 0 {
		return nil, &errors.ConfigError{Reason: "workers must be positive"}
	}
	return &cfg, nil
}

func parserFor(path string) koanf.Parser {
	if strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml") {
		return yaml.Parser()
	}
	return json.Parser()
}

// envKeys maps the lowercased form of each koanf key to its actual
// camelCase spelling. Environment variable names are conventionally
// all-uppercase, which loses the word boundaries a multi-word key like
// maxFailures needs: without this table, LOOM_MAXFAILURES would land on
// the key "maxfailures" rather than "maxFailures" and never reach the
// struct field koanf.Unmarshal looks up by exact key.
var envKeys = map[string]string{
	"workers":         "workers",
	"timeout":         "timeout",
	"retries":         "retries",
	"reporter":        "reporter",
	"output":          "output",
	"grep":            "grep",
	"project":         "project",
	"shard":           "shard",
	"forbidonly":      "forbidOnly",
	"updatesnapshots": "updateSnapshots",
	"maxfailures":     "maxFailures",
	"globaltimeout":   "globalTimeout",
}

func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "LOOM_"))
	if mapped, ok := envKeys[key]; ok {
		return mapped
	}
	return key
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// Timeout, GlobalTimeout as time.Duration helpers; the dispatch.Config
// and testtree.Project both want time.Duration, but the wire/file format
// is plain milliseconds for JSON/YAML friendliness.
func (c *RunConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c *RunConfig) GlobalTimeoutDuration() time.Duration {
	return time.Duration(c.GlobalTimeout) * time.Millisecond
}

func (p *ProjectSpec) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Millisecond
}
