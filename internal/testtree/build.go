package testtree

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loomtest/loom/internal/errors"
	"github.com/loomtest/loom/internal/fixture"
	"github.com/loomtest/loom/internal/registry"
)

// Shard selects every Total'th test, starting at the Current'th (1-based),
// after every other filter has been applied.
type Shard struct {
	Current, Total int
}

// BuildInput gathers everything Build needs to turn registrations into a
// schedulable tree.
type BuildInput struct {
	Registrations []*registry.Registration
	Fixtures      *fixture.Registry
	Projects      []*Project
	Grep          *regexp.Regexp
	ProjectFilter []string
	Shard         *Shard
	ForbidOnly    bool
}

// BuildResult is the outcome of Build: the suite tree (one root per
// project, keyed by project name, for reporting) and the flat,
// dispatch-ordered list of runnable tests.
type BuildResult struct {
	Roots  map[string]*Suite
	Tests  []*Test
	Errors []error
}

// Build constructs the Test Tree per spec.md §4.2: stable iteration order
// (registration order, which mirrors file-discovery-then-declaration
// order), grep/projectFilter/shard filters, and the forbidOnly fatal
// check.
func Build(in BuildInput) (*BuildResult, error) {
	if err := in.Fixtures.Validate(); err != nil {
		return nil, err
	}
	if in.ForbidOnly {
		for _, r := range in.Registrations {
			if r.Only {
				return nil, &errors.ForbiddenOnlyError{Location: fmt.Sprintf("%s:%d", r.Location.File, r.Location.Line)}
			}
		}
	}

	// When any registration is marked Only, only those registrations run.
	regs := in.Registrations
	var only []*registry.Registration
	for _, r := range regs {
		if r.Only {
			only = append(only, r)
		}
	}
	if len(only) > 0 {
		regs = only
	}

	projects := in.Projects
	if len(in.ProjectFilter) > 0 {
		allowed := make(map[string]bool, len(in.ProjectFilter))
		for _, n := range in.ProjectFilter {
			allowed[n] = true
		}
		var filtered []*Project
		for _, p := range projects {
			if allowed[p.Name] {
				filtered = append(filtered, p)
			}
		}
		projects = filtered
	}

	roots := make(map[string]*Suite, len(projects))
	suiteIndex := make(map[string]map[string]*Suite) // project name -> file -> suite
	for _, p := range projects {
		roots[p.Name] = &Suite{Title: p.Name}
		suiteIndex[p.Name] = make(map[string]*Suite)
	}

	var result BuildResult
	var flat []*Test

	for _, r := range regs {
		if in.Grep != nil && !in.Grep.MatchString(fullTitle(r)) {
			continue
		}
		hash, err := in.Fixtures.WorkerHash(r.Fixtures)
		if err != nil {
			result.Errors = append(result.Errors, errors.Wrapf(err, "%s:%d", r.Location.File, r.Location.Line))
			continue
		}
		spec := &Spec{
			Title:  r.Title,
			File:   r.Location.File,
			Line:   r.Location.Line,
			Column: r.Location.Column,
		}
		for _, p := range projects {
			test := &Test{
				ID:             fmt.Sprintf("%s::%s::%d", p.Name, spec.File, len(flat)),
				Spec:           spec,
				Project:        p,
				FixtureHash:    hash,
				Timeout:        effectiveTimeout(r, p),
				ExpectedStatus: expectedStatus(r),
				Annotations:    r.Annotations,
				Retries:        effectiveRetries(r, p),
				Fixtures:       r.Fixtures,
				Only:           r.Only,
				Func:           r.Func,
			}
			spec.Tests = append(spec.Tests, test)
			flat = append(flat, test)
			attachSpec(suiteIndex[p.Name], roots[p.Name], r, spec)
		}
	}

	flat = applyShard(flat, in.Shard)
	result.Tests = flat
	pruneToTests(roots, flat)
	result.Roots = roots
	return &result, nil
}

// pruneToTests removes every test not in kept from the suite tree, along
// with any spec or suite left empty as a result, so a sharded-out test
// doesn't show up in the reported tree with no results.
func pruneToTests(roots map[string]*Suite, kept []*Test) {
	keep := make(map[*Test]bool, len(kept))
	for _, t := range kept {
		keep[t] = true
	}
	for _, root := range roots {
		pruneSuite(root, keep)
	}
}

func pruneSuite(s *Suite, keep map[*Test]bool) bool {
	var specs []*Spec
	for _, spec := range s.Specs {
		var tests []*Test
		for _, t := range spec.Tests {
			if keep[t] {
				tests = append(tests, t)
			}
		}
		spec.Tests = tests
		if len(tests) > 0 {
			specs = append(specs, spec)
		}
	}
	s.Specs = specs

	var suites []*Suite
	for _, child := range s.Suites {
		if pruneSuite(child, keep) {
			suites = append(suites, child)
		}
	}
	s.Suites = suites

	return len(s.Specs) > 0 || len(s.Suites) > 0
}

func fullTitle(r *registry.Registration) string {
	parts := append(append([]string(nil), r.SuitePath...), r.Title)
	return strings.Join(parts, " ")
}

func effectiveTimeout(r *registry.Registration, p *Project) time.Duration {
	if r.Timeout > 0 {
		return time.Duration(r.Timeout)
	}
	return p.Timeout
}

func effectiveRetries(r *registry.Registration, p *Project) int {
	if r.Retries >= 0 {
		return r.Retries
	}
	return p.Retries
}

func expectedStatus(r *registry.Registration) Status {
	if v, ok := r.Annotations["expectedStatus"]; ok {
		return Status(v)
	}
	return StatusPassed
}

// applyShard picks every test whose 0-based index satisfies
// i mod total == current-1, after every other filter.
func applyShard(tests []*Test, shard *Shard) []*Test {
	if shard == nil || shard.Total <= 1 {
		return tests
	}
	var out []*Test
	for i, t := range tests {
		if i%shard.Total == shard.Current-1 {
			out = append(out, t)
		}
	}
	return out
}

// attachSpec places spec under the suite tree rooted at root, following
// r's SuitePath, creating intermediate suites as needed and attaching the
// top-level file suite to index for reuse across specs in the same file.
func attachSpec(index map[string]*Suite, root *Suite, r *registry.Registration, spec *Spec) {
	fileSuite, ok := index[spec.File]
	if !ok {
		fileSuite = &Suite{File: spec.File, Title: spec.File}
		index[spec.File] = fileSuite
		root.Suites = append(root.Suites, fileSuite)
	}
	cur := fileSuite
	for _, title := range r.SuitePath {
		cur = childSuite(cur, title, spec.File)
	}
	cur.Specs = append(cur.Specs, spec)
}

func childSuite(parent *Suite, title, file string) *Suite {
	for _, s := range parent.Suites {
		if s.Title == title {
			return s
		}
	}
	s := &Suite{File: file, Title: title}
	parent.Suites = append(parent.Suites, s)
	return s
}
