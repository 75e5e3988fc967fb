package reporter

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/loomtest/loom/internal/report"
)

// summaryLine renders the one-line run summary every terminal reporter
// prints at OnEnd, shared so dot/line/list stay visually consistent.
func summaryLine(status report.RunStatus, errs []report.RunError) string {
	var styled string
	switch status {
	case report.StatusPassed:
		styled = color.New(color.FgGreen, color.Bold).Sprint("PASSED")
	case report.StatusFailed:
		styled = color.New(color.FgRed, color.Bold).Sprint("FAILED")
	case report.StatusInterrupted:
		styled = color.New(color.FgYellow, color.Bold).Sprint("INTERRUPTED")
	case report.StatusTimedOut:
		styled = color.New(color.FgYellow, color.Bold).Sprint("TIMED OUT")
	default:
		styled = string(status)
	}
	if len(errs) == 0 {
		return styled
	}
	return fmt.Sprintf("%s (%d run error(s))", styled, len(errs))
}

func statusLabel(status string) string {
	switch status {
	case "passed":
		return color.New(color.FgGreen).Sprint("passed")
	case "failed", "timedOut":
		return color.New(color.FgRed).Sprint(status)
	case "flaky":
		return color.New(color.FgYellow).Sprint("flaky")
	case "skipped":
		return color.New(color.FgCyan).Sprint("skipped")
	default:
		return status
	}
}
