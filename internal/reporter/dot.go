// Package reporter implements the built-in report.Reporter
// implementations named in SPEC_FULL.md §6.2, in the coloring style of
// the example pack's autospec/internal/output package.
package reporter

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/loomtest/loom/internal/report"
	"github.com/loomtest/loom/internal/testtree"
)

var (
	glyphPassed   = color.New(color.FgGreen).SprintFunc()("·")
	glyphFailed   = color.New(color.FgRed, color.Bold).SprintFunc()("F")
	glyphFlaky    = color.New(color.FgYellow, color.Bold).SprintFunc()("±")
	glyphSkipped  = color.New(color.FgCyan).SprintFunc()("-")
	glyphTimedOut = color.New(color.FgRed, color.Bold).SprintFunc()("T")
)

func glyphForStatus(status testtree.Status) string {
	switch status {
	case testtree.StatusPassed:
		return glyphPassed
	case testtree.StatusFailed:
		return glyphFailed
	case testtree.StatusFlaky:
		return glyphFlaky
	case testtree.StatusSkipped:
		return glyphSkipped
	case testtree.StatusTimedOut:
		return glyphTimedOut
	default:
		return "?"
	}
}

// DotReporter prints one colored glyph per attempt, wrapping at 80
// columns the way most dot-style test reporters do.
type DotReporter struct {
	Out io.Writer

	mu  sync.Mutex
	col int
}

func NewDot(out io.Writer) *DotReporter { return &DotReporter{Out: out} }

func (d *DotReporter) OnBegin(config interface{}, roots map[string]*testtree.Suite) {}
func (d *DotReporter) OnTestBegin(test *testtree.Test)                              {}
func (d *DotReporter) OnStdio(test *testtree.Test, stream, data string)             {}

func (d *DotReporter) OnTestEnd(test *testtree.Test, result *testtree.TestResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.Out, glyphForStatus(result.Status))
	d.col++
	if d.col >= 80 {
		fmt.Fprintln(d.Out)
		d.col = 0
	}
}

func (d *DotReporter) OnEnd(status report.RunStatus, errs []report.RunError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.col != 0 {
		fmt.Fprintln(d.Out)
	}
	fmt.Fprintln(d.Out, summaryLine(status, errs))
}
