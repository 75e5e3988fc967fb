// Package artifacts resolves the on-disk output directory layout of
// spec.md §6.6: one directory per test attempt, and the snapshot
// directory a test's assertions compare against.
//
// Grounded on tast/internal/planner/run.go's runTest, which joins the
// run's OutDir with a per-test name before MkdirAll'ing and chmod'ing it
// world-writable-plus-sticky so multi-user test bodies can write freely;
// loom's workers run as a single user; the sticky-bit step is dropped,
// the MkdirAll convention is kept.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/loomtest/loom/internal/errors"
)

var slugPattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Slug turns an arbitrary title or file path into a filesystem-safe path
// component.
func Slug(s string) string {
	slug := slugPattern.ReplaceAllString(s, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "test"
	}
	return slug
}

// TestDir returns outputDir/<project>/<fileSlug>-<specSlug>[-retry<N>],
// per spec.md §6.6. attempt is 0 for the first try.
func TestDir(outputDir, project, file, specTitle string, attempt int) string {
	name := fmt.Sprintf("%s-%s", Slug(file), Slug(specTitle))
	if attempt > 0 {
		name = fmt.Sprintf("%s-retry%d", name, attempt)
	}
	return filepath.Join(outputDir, project, name)
}

// EnsureTestDir creates a test attempt's output directory, mirroring
// tast's MkdirAll-before-run step.
func EnsureTestDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "artifacts: creating %s", dir)
	}
	return nil
}

// SnapshotDir resolves a test's snapshot comparison directory:
// <snapshotDir>/<relpath>, where relpath is the test file's path relative
// to the project's test root, so snapshots sit alongside the source tree
// they cover rather than the ephemeral per-run output tree.
func SnapshotDir(snapshotRoot, testDir, file string) (string, error) {
	rel, err := filepath.Rel(testDir, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	return filepath.Join(snapshotRoot, rel), nil
}
