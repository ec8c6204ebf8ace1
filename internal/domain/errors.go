// Package domain implements the coverage contract: resolving test files to
// the sources they cover, collecting declarations, reconciling them against
// recorded coverage, and checking that the tree is completely tested.
package domain

import (
	"errors"
	"fmt"
	"strings"

	m "covguard.dev/pkg/covguard/internal/model"
)

var (
	// ErrNoTestDir is returned when a test path has no test or spec directory.
	ErrNoTestDir = errors.New("ambiguous path, no test or spec directory found")
	// ErrNoTestSuffix is returned when the test suffix cannot be removed.
	ErrNoTestSuffix = errors.New("cannot strip test suffix, only _test and _spec (or a test_ prefix) are supported")
	// ErrGuessedMissing is returned when the resolved source file does not exist.
	ErrGuessedMissing = errors.New("guessed file does not exist, specify it explicitly")
	// ErrMissingFile is returned when an explicitly declared file does not exist.
	ErrMissingFile = errors.New("declared file does not exist")
	// ErrAbsolutePath is returned when an explicit file is not root-relative.
	ErrAbsolutePath = errors.New("declared file must be relative to the project root")
	// ErrNegativeUncovered is returned for a negative expected uncovered count.
	ErrNegativeUncovered = errors.New("uncovered count must not be negative")
	// ErrAlreadyArmed is returned when a second guard is armed in the same process.
	ErrAlreadyArmed = errors.New("coverage guard is already armed in this process, load that tool after this one")
	// ErrCoverageDisabled is returned when the test binary was built without -cover.
	ErrCoverageDisabled = errors.New("coverage is not enabled, run the tests with -cover or -coverprofile")
	// ErrUnknownConvention is returned for an unsupported convention name.
	ErrUnknownConvention = errors.New("unknown path convention")
	// ErrUnknownPolicy is returned for an unsupported improvement policy name.
	ErrUnknownPolicy = errors.New("unknown improvement policy")
)

// ResolveError reports a test path that could not be mapped to a source file.
type ResolveError struct {
	Path   string
	Reason error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Reason)
}

func (e *ResolveError) Unwrap() error {
	return e.Reason
}

// Problem is one group of offending files found by a completeness check.
type Problem struct {
	Title string
	Files []m.Path
}

// CompletenessError aggregates every problem found by a completeness check.
type CompletenessError struct {
	Problems []Problem
}

func (e *CompletenessError) Error() string {
	var b strings.Builder

	for i, problem := range e.Problems {
		if i > 0 {
			b.WriteString("\n")
		}

		b.WriteString(problem.Title)
		b.WriteString(":")

		for _, file := range problem.Files {
			b.WriteString("\n")
			b.WriteString(string(file))
		}
	}

	return b.String()
}

// Files returns every offending file across all problems.
func (e *CompletenessError) Files() []m.Path {
	var files []m.Path
	for _, problem := range e.Problems {
		files = append(files, problem.Files...)
	}

	return files
}
