package reporter

import (
	"fmt"
	"io"
	"os"

	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/report"
)

// Build constructs the Reporter named by name, writing to out unless the
// name carries its own "=path" output override (used by json/junit, which
// write a file rather than streaming to the terminal).
func Build(name string, out io.Writer, config interface{}) (report.Reporter, error) {
	kind, dest := splitDest(name)
	w, closeFn, err := resolveDest(dest, out)
	if err != nil {
		return nil, err
	}
	r, err := buildKind(kind, w, config)
	if err != nil && closeFn != nil {
		closeFn()
	}
	return r, err
}

func buildKind(kind string, w io.Writer, config interface{}) (report.Reporter, error) {
	switch kind {
	case "dot":
		return NewDot(w), nil
	case "line":
		return NewLine(w), nil
	case "list":
		return NewList(w), nil
	case "json":
		return NewJSON(w, config), nil
	case "junit":
		return NewJUnit(w), nil
	default:
		return nil, &errors.ConfigError{Reason: fmt.Sprintf("unknown reporter %q", kind)}
	}
}

// splitDest splits "json=out.json" into ("json", "out.json"); dest is
// empty when the reporter wasn't given an explicit destination.
func splitDest(name string) (kind, dest string) {
	for i, c := range name {
		if c == '=' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}

func resolveDest(dest string, fallback io.Writer) (io.Writer, func(), error) {
	if dest == "" {
		return fallback, nil, nil
	}
	f, err := os.Create(dest)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reporter: opening %s", dest)
	}
	return f, func() { f.Close() }, nil
}

// BuildAll constructs one Reporter per comma-separated name in spec, e.g.
// "dot,json=report.json". The returned closer must be called after the
// run's final OnEnd, to flush and close any reporter-owned output files.
func BuildAll(spec string, out io.Writer, config interface{}) ([]report.Reporter, func(), error) {
	if spec == "" {
		spec = "list"
	}
	var names []string
	start := 0
	for i := 0; i <= len(spec); i++ {
		if i == len(spec) || spec[i] == ',' {
			if i > start {
				names = append(names, spec[start:i])
			}
			start = i + 1
		}
	}
	var reporters []report.Reporter
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, n := range names {
		kind, dest := splitDest(n)
		w, closeFn, err := resolveDest(dest, out)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		r, err := buildKind(kind, w, config)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		reporters = append(reporters, r)
	}
	return reporters, closeAll, nil
}
