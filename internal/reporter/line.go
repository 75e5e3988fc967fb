package reporter

import (
	"fmt"
	"io"
	"sync"

	"github.com/loomtest/loom/internal/report"
	"github.com/loomtest/loom/internal/testtree"
)

// LineReporter keeps a single progress line updated in place (carriage
// return, no newline) until the run ends, then prints every result that
// neither passed nor was skipped on its own line, followed by the final
// summary.
type LineReporter struct {
	Out io.Writer

	mu       sync.Mutex
	total    int
	done     int
	failures []string
}

func NewLine(out io.Writer) *LineReporter { return &LineReporter{Out: out} }

func (l *LineReporter) OnBegin(config interface{}, roots map[string]*testtree.Suite) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = countTests(roots)
}

func (l *LineReporter) OnTestBegin(test *testtree.Test)              {}
func (l *LineReporter) OnStdio(test *testtree.Test, stream, data string) {}

func (l *LineReporter) OnTestEnd(test *testtree.Test, result *testtree.TestResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done++
	if result.Status != testtree.StatusPassed && result.Status != testtree.StatusSkipped {
		l.failures = append(l.failures, fmt.Sprintf("  %s %s (%s)", statusLabel(string(result.Status)), title(test), result.Error))
	}
	fmt.Fprintf(l.Out, "\r[%d/%d] %s", l.done, l.total, title(test))
}

func (l *LineReporter) OnEnd(status report.RunStatus, errs []report.RunError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.Out)
	for _, f := range l.failures {
		fmt.Fprintln(l.Out, f)
	}
	fmt.Fprintln(l.Out, summaryLine(status, errs))
}

func title(test *testtree.Test) string {
	if test.Spec == nil {
		return test.ID
	}
	return test.Spec.Title
}

func countTests(roots map[string]*testtree.Suite) int {
	var n int
	var walk func(s *testtree.Suite)
	walk = func(s *testtree.Suite) {
		for _, spec := range s.Specs {
			n += len(spec.Tests)
		}
		for _, child := range s.Suites {
			walk(child)
		}
	}
	for _, root := range roots {
		walk(root)
	}
	return n
}
