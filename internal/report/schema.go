package report

import (
	"sort"

	"github.com/loomtest/loom/internal/testtree"
)

// Snapshot is the §6.3 JSON report schema. Field order here is the
// on-the-wire field order, since encoding/json preserves declared struct
// field order; golden-file diffing depends on this staying stable.
type Snapshot struct {
	Config interface{} `json:"config"`
	Suites []Suite     `json:"suites"`
	Errors []TestError `json:"errors"`
	Status RunStatus   `json:"status"`
}

type Suite struct {
	Title  string  `json:"title"`
	File   string  `json:"file"`
	Specs  []Spec  `json:"specs"`
	Suites []Suite `json:"suites"`
}

type Spec struct {
	Title  string `json:"title"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Tests  []Test `json:"tests"`
}

type Test struct {
	ProjectName    string            `json:"projectName"`
	ExpectedStatus string            `json:"expectedStatus"`
	Timeout        int64             `json:"timeout"`
	Annotations    map[string]string `json:"annotations,omitempty"`
	Results        []Result          `json:"results"`
}

type Result struct {
	WorkerIndex int      `json:"workerIndex"`
	Status      string   `json:"status"`
	Duration    int64    `json:"duration"`
	Error       string   `json:"error,omitempty"`
	Stdout      []string `json:"stdout"`
	Stderr      []string `json:"stderr"`
	Attempt     int      `json:"attempt"`
	Retry       bool     `json:"retry"`
}

// TestError is the run-level error shape of spec.md §7: either a message
// (with an optional stack, folded into Message here since
// internal/errors's "%+v" already renders the chain as text) or an
// arbitrary thrown value, never both.
type TestError struct {
	Message string      `json:"message,omitempty"`
	Value   interface{} `json:"value,omitempty"`
}

// snapshot walks a's accumulated suite roots into the wire schema.
func (a *Aggregator) snapshot(status RunStatus) *Snapshot {
	return BuildSnapshot(a.config, a.roots, status, a.runErrs)
}

// BuildSnapshot walks roots (keyed by project name, sorted for
// determinism since map iteration order is not stable) into the §6.3
// wire schema. Exported so a Reporter that needs the full tree (the json
// and junit reporters) can build its own snapshot at OnEnd from the same
// roots it received in OnBegin, without depending on an Aggregator.
func BuildSnapshot(config interface{}, roots map[string]*testtree.Suite, status RunStatus, runErrs []RunError) *Snapshot {
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	sort.Strings(names)

	var suites []Suite
	for _, name := range names {
		suites = append(suites, convertSuite(roots[name]))
	}

	errs := make([]TestError, 0, len(runErrs))
	for _, e := range runErrs {
		errs = append(errs, TestError{Message: e.Message})
	}

	return &Snapshot{
		Config: config,
		Suites: suites,
		Errors: errs,
		Status: status,
	}
}

func convertSuite(s *testtree.Suite) Suite {
	out := Suite{Title: s.Title, File: s.File}
	for _, spec := range s.Specs {
		out.Specs = append(out.Specs, convertSpec(spec))
	}
	for _, child := range s.Suites {
		out.Suites = append(out.Suites, convertSuite(child))
	}
	return out
}

func convertSpec(spec *testtree.Spec) Spec {
	out := Spec{Title: spec.Title, File: spec.File, Line: spec.Line, Column: spec.Column}
	for _, t := range spec.Tests {
		out.Tests = append(out.Tests, convertTest(t))
	}
	return out
}

func convertTest(t *testtree.Test) Test {
	out := Test{
		ProjectName:    t.Project.Name,
		ExpectedStatus: string(t.ExpectedStatus),
		Timeout:        t.Timeout.Milliseconds(),
		Annotations:    t.Annotations,
	}
	for _, r := range t.Results {
		out.Results = append(out.Results, convertResult(r))
	}
	return out
}

func convertResult(r *testtree.TestResult) Result {
	return Result{
		WorkerIndex: r.WorkerIndex,
		Status:      string(r.Status),
		Duration:    r.Duration.Milliseconds(),
		Error:       r.Error,
		Stdout:      orEmpty(r.Stdout),
		Stderr:      orEmpty(r.Stderr),
		Attempt:     r.Attempt,
		Retry:       r.Retry,
	}
}

// orEmpty avoids serializing a nil slice as JSON null where the schema
// calls for an array.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
