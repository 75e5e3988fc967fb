// Package testtree builds the Project/Suite/Spec/Test tree the dispatcher
// schedules against, from the registrations accumulated in
// internal/registry and the Projects in a run's configuration.
package testtree

import (
	"time"

	"github.com/loomtest/loom/internal/registry"
)

// Status is a test's outcome, or its declared expectation.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timedOut"
	StatusSkipped  Status = "skipped"
	StatusFlaky    Status = "flaky"
)

// Project is one named configuration a run applies to the registered spec
// set; a single spec yields one Test per project it's expanded for.
type Project struct {
	Name        string
	OutputDir   string
	TestDir     string
	TestMatch   string
	TestIgnore  string
	Timeout     time.Duration
	Retries     int
	RepeatEach  int
	SnapshotDir string
	Metadata    map[string]string
}

// Suite is a nested container of child suites and specs, corresponding to
// a source file's top-level scope plus any Describe() nesting within it.
type Suite struct {
	File   string
	Title  string
	Suites []*Suite
	Specs  []*Spec
}

// Spec is a registered test declaration, prior to per-project expansion.
type Spec struct {
	Title  string
	File   string
	Line   int
	Column int
	Tests  []*Test
}

// Test is a Spec expanded against one Project.
type Test struct {
	ID             string
	Spec           *Spec
	Project        *Project
	FixtureHash    string
	Timeout        time.Duration
	ExpectedStatus Status
	Annotations    map[string]string
	Retries        int
	Results        []*TestResult
	Fixtures       []string
	Only           bool

	Func registry.TestFunc
}

// TestResult is one attempt's outcome.
type TestResult struct {
	Attempt     int
	WorkerIndex int
	StartTime   time.Time
	Duration    time.Duration
	Status      Status
	Error       string
	Stdout      []string
	Stderr      []string
	Attachments []string
	Retry       bool
}

// FinalStatus implements the spec's status-derivation rule: the final
// status is the last attempt's status, promoted to flaky if an earlier
// attempt failed and the test's expectation is "passed".
func (t *Test) FinalStatus() Status {
	if len(t.Results) == 0 {
		return StatusSkipped
	}
	last := t.Results[len(t.Results)-1]
	if last.Status == StatusPassed && t.ExpectedStatus == StatusPassed {
		for _, r := range t.Results[:len(t.Results)-1] {
			if r.Status != StatusPassed {
				return StatusFlaky
			}
		}
	}
	return last.Status
}
