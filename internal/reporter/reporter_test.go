package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/internal/report"
	"github.com/loomtest/loom/internal/testtree"
)

func sampleTree() (map[string]*testtree.Suite, *testtree.Test) {
	project := &testtree.Project{Name: "default"}
	spec := &testtree.Spec{Title: "adds two numbers", File: "math_test.go"}
	test := &testtree.Test{ID: "default::math_test.go::0", Spec: spec, Project: project, ExpectedStatus: testtree.StatusPassed}
	spec.Tests = []*testtree.Test{test}
	root := &testtree.Suite{Title: "default", Specs: []*testtree.Spec{spec}}
	return map[string]*testtree.Suite{"default": root}, test
}

func TestDotReporterWritesOneGlyphPerResult(t *testing.T) {
	roots, test := sampleTree()
	var buf bytes.Buffer
	r := NewDot(&buf)
	r.OnBegin(nil, roots)
	r.OnTestBegin(test)
	r.OnTestEnd(test, &testtree.TestResult{Status: testtree.StatusPassed})
	r.OnEnd(report.StatusPassed, nil)
	assert.Equal(t, 1, strings.Count(buf.String(), glyphPassed))
	assert.Contains(t, buf.String(), "PASSED")
}

func TestListReporterPrintsTitleAndStatus(t *testing.T) {
	roots, test := sampleTree()
	var buf bytes.Buffer
	r := NewList(&buf)
	r.OnBegin(nil, roots)
	r.OnTestEnd(test, &testtree.TestResult{Status: testtree.StatusFailed, Error: "boom"})
	r.OnEnd(report.StatusFailed, nil)
	assert.Contains(t, buf.String(), "adds two numbers")
	assert.Contains(t, buf.String(), "failed")
}

func TestJSONReporterWritesSchema(t *testing.T) {
	roots, test := sampleTree()
	test.Results = append(test.Results, &testtree.TestResult{Status: testtree.StatusPassed, Attempt: 0})

	var buf bytes.Buffer
	r := NewJSON(&buf, map[string]string{"workers": "4"})
	r.OnBegin(nil, roots)
	r.OnEnd(report.StatusPassed, nil)

	var snap report.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	require.Len(t, snap.Suites, 1)
	require.Len(t, snap.Suites[0].Specs, 1)
	assert.Equal(t, "adds two numbers", snap.Suites[0].Specs[0].Title)
	assert.Equal(t, report.StatusPassed, snap.Status)
}

func TestJUnitReporterProducesOneTestCase(t *testing.T) {
	roots, test := sampleTree()
	test.Results = append(test.Results, &testtree.TestResult{Status: testtree.StatusFailed, Error: "boom"})

	var buf bytes.Buffer
	r := NewJUnit(&buf)
	r.OnBegin(nil, roots)
	r.OnEnd(report.StatusFailed, nil)

	out := buf.String()
	assert.Contains(t, out, "<testsuites>")
	assert.Equal(t, 1, strings.Count(out, "<testcase "))
	assert.Contains(t, out, "adds two numbers")
	assert.Contains(t, out, "failure")
}

func TestBuildAllParsesCommaSeparatedSpec(t *testing.T) {
	var buf bytes.Buffer
	reporters, closeAll, err := BuildAll("dot,list", &buf, nil)
	require.NoError(t, err)
	defer closeAll()
	require.Len(t, reporters, 2)
}

func TestBuildRejectsUnknownReporter(t *testing.T) {
	var buf bytes.Buffer
	_, err := Build("nope", &buf, nil)
	require.Error(t, err)
}
