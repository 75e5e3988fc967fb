package reporter

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/loomtest/loom/internal/report"
	"github.com/loomtest/loom/internal/testtree"
)

// junitTestSuites is the top-level element of a JUnit result document.
// Grounded on tast's internal/run/reporting/junit_xml.go, adapted from
// Tast's flat success/failure/skip result list to this runner's
// per-project suite nesting and attempt-based retry reporting.
type junitTestSuites struct {
	XMLName   xml.Name          `xml:"testsuites"`
	TestSuite []*junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Skipped  int          `xml:"skipped,attr"`
	TestCase []*junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string `xml:"name,attr"`
	ClassName string `xml:"classname,attr"`
	Time      string `xml:"time,attr"`

	Failure *junitFailure `xml:"failure,omitempty"`
	Skipped *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Details string `xml:",cdata"`
}

type junitSkipped struct{}

// JUnitReporter writes JUnit XML to Out at OnEnd, for CI ingestion — an
// original-system-equivalent feature (see SPEC_FULL.md §6.2), not present
// in the distilled spec but present in every comparable runner including
// the teacher's own resultsjson/junit_results.go.
type JUnitReporter struct {
	Out io.Writer

	mu    sync.Mutex
	roots map[string]*testtree.Suite
}

func NewJUnit(out io.Writer) *JUnitReporter { return &JUnitReporter{Out: out} }

func (j *JUnitReporter) OnBegin(config interface{}, roots map[string]*testtree.Suite) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.roots = roots
}

func (j *JUnitReporter) OnTestBegin(test *testtree.Test)              {}
func (j *JUnitReporter) OnStdio(test *testtree.Test, stream, data string) {}
func (j *JUnitReporter) OnTestEnd(test *testtree.Test, result *testtree.TestResult) {}

func (j *JUnitReporter) OnEnd(status report.RunStatus, errs []report.RunError) {
	j.mu.Lock()
	defer j.mu.Unlock()

	names := make([]string, 0, len(j.roots))
	for name := range j.roots {
		names = append(names, name)
	}
	sort.Strings(names)

	var doc junitTestSuites
	for _, name := range names {
		root := j.roots[name]
		suite := &junitTestSuite{Name: name}
		var tests []*testtree.Test
		collectTests(root, &tests)
		suite.Tests = len(tests)
		for _, t := range tests {
			suite.TestCase = append(suite.TestCase, junitCaseFor(t))
			switch t.FinalStatus() {
			case testtree.StatusFailed, testtree.StatusTimedOut:
				suite.Failures++
			case testtree.StatusSkipped:
				suite.Skipped++
			}
		}
		doc.TestSuite = append(doc.TestSuite, suite)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprint(j.Out, xml.Header)
	j.Out.Write(data)
	fmt.Fprintln(j.Out)
}

func collectTests(s *testtree.Suite, out *[]*testtree.Test) {
	for _, spec := range s.Specs {
		*out = append(*out, spec.Tests...)
	}
	for _, child := range s.Suites {
		collectTests(child, out)
	}
}

func junitCaseFor(t *testtree.Test) *junitCase {
	var duration time.Duration
	for _, r := range t.Results {
		duration += r.Duration
	}
	tc := &junitCase{
		Name:      title(t),
		ClassName: t.Spec.File,
		Time:      fmt.Sprintf("%.3f", duration.Seconds()),
	}
	switch t.FinalStatus() {
	case testtree.StatusFailed, testtree.StatusTimedOut:
		last := t.Results[len(t.Results)-1]
		tc.Failure = &junitFailure{Message: last.Error, Details: last.Error}
	case testtree.StatusSkipped:
		tc.Skipped = &junitSkipped{}
	}
	return tc
}
