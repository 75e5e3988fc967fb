package config

import (
	"strconv"
	"strings"

	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/testtree"
)

// BuildProjects turns the config file's Projects list into
// testtree.Project values, applying the run's top-level timeout/retries
// as the project-level default when a project doesn't set its own
// (testtree.Build then further overrides per-test via each registration's
// own Timeout/Retries). A
// config with no projects at all runs under a single implicit "default"
// project, so the common single-project case needs no projects: block.
func (c *RunConfig) BuildProjects() []*testtree.Project {
	if len(c.Projects) == 0 {
		return []*testtree.Project{{
			Name:      "default",
			Timeout:   c.TimeoutDuration(),
			Retries:   c.Retries,
			OutputDir: c.Output,
		}}
	}
	projects := make([]*testtree.Project, 0, len(c.Projects))
	for _, p := range c.Projects {
		timeout := p.TimeoutDuration()
		if timeout == 0 {
			timeout = c.TimeoutDuration()
		}
		retries := p.Retries
		if retries == 0 {
			retries = c.Retries
		}
		outputDir := p.OutputDir
		if outputDir == "" {
			outputDir = c.Output
		}
		projects = append(projects, &testtree.Project{
			Name:        p.Name,
			TestDir:     p.TestDir,
			TestMatch:   p.TestMatch,
			TestIgnore:  p.TestIgnore,
			Timeout:     timeout,
			Retries:     retries,
			RepeatEach:  p.RepeatEach,
			OutputDir:   outputDir,
			SnapshotDir: p.SnapshotDir,
			Metadata:    p.Metadata,
		})
	}
	return projects
}

// ParseShard parses the "--shard=c/t" flag format into a testtree.Shard.
// An empty string means no sharding.
func ParseShard(spec string) (*testtree.Shard, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 {
		return nil, &errors.ConfigError{Reason: "shard must be of the form current/total, got " + spec}
	}
	current, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, &errors.ConfigError{Reason: "invalid shard current: " + parts[0]}
	}
	total, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, &errors.ConfigError{Reason: "invalid shard total: " + parts[1]}
	}
	if current < 1 || total < 1 || current > total {
		return nil, &errors.ConfigError{Reason: "shard current/total out of range: " + spec}
	}
	return &testtree.Shard{Current: current, Total: total}, nil
}
