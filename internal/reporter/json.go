package reporter

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/loomtest/loom/internal/report"
	"github.com/loomtest/loom/internal/testtree"
)

// JSONReporter writes the §6.3 schema to Out once, at OnEnd. It keeps no
// state beyond the roots and run errors it needs to rebuild the same
// snapshot the Aggregator itself computes, since a Reporter only sees the
// event stream's individual hooks, not the finished Snapshot.
type JSONReporter struct {
	Out    io.Writer
	Config interface{}

	mu      sync.Mutex
	roots   map[string]*testtree.Suite
	runErrs []report.RunError
}

func NewJSON(out io.Writer, config interface{}) *JSONReporter {
	return &JSONReporter{Out: out, Config: config}
}

func (j *JSONReporter) OnBegin(config interface{}, roots map[string]*testtree.Suite) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.roots = roots
}

func (j *JSONReporter) OnTestBegin(test *testtree.Test)              {}
func (j *JSONReporter) OnStdio(test *testtree.Test, stream, data string) {}
func (j *JSONReporter) OnTestEnd(test *testtree.Test, result *testtree.TestResult) {}

func (j *JSONReporter) OnEnd(status report.RunStatus, errs []report.RunError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := report.BuildSnapshot(j.Config, j.roots, status, errs)
	enc := json.NewEncoder(j.Out)
	enc.SetIndent("", "  ")
	// Best-effort: a reporter has no channel back to the run's exit code,
	// matching tast's own EntityEnd/reporter write path.
	_ = enc.Encode(snap)
}
