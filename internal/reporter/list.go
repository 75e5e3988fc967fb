package reporter

import (
	"fmt"
	"io"
	"sync"

	"github.com/loomtest/loom/internal/report"
	"github.com/loomtest/loom/internal/testtree"
)

// ListReporter prints each test's spec title and project followed by its
// outcome as soon as it's known, the way mocha's "list" reporter does.
// Enclosing Describe() titles are not included.
type ListReporter struct {
	Out io.Writer

	mu sync.Mutex
}

func NewList(out io.Writer) *ListReporter { return &ListReporter{Out: out} }

func (l *ListReporter) OnBegin(config interface{}, roots map[string]*testtree.Suite) {}
func (l *ListReporter) OnTestBegin(test *testtree.Test)                              {}
func (l *ListReporter) OnStdio(test *testtree.Test, stream, data string)             {}

func (l *ListReporter) OnTestEnd(test *testtree.Test, result *testtree.TestResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("  %s [%s] %s", title(test), test.Project.Name, statusLabel(string(result.Status)))
	if result.Retry {
		line += fmt.Sprintf(" (retry %d)", result.Attempt)
	}
	fmt.Fprintln(l.Out, line)
}

func (l *ListReporter) OnEnd(status report.RunStatus, errs []report.RunError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.Out, summaryLine(status, errs))
}
