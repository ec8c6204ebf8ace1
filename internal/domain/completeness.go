package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"covguard.dev/pkg/covguard/internal/adapter"
	m "covguard.dev/pkg/covguard/internal/model"
)

const defaultScanLimit = 8

// Completeness performs the static checks that keep every file inside the
// coverage contract. None of them need coverage data.
type Completeness struct {
	root     m.Path
	resolver *Resolver
	fs       adapter.SourceFSAdapter
	files    adapter.GoFileAdapter
	limit    int
}

// NewCompleteness constructs a Completeness checker. Paths given to its
// methods are relative to the resolver's root.
func NewCompleteness(resolver *Resolver, fs adapter.SourceFSAdapter, files adapter.GoFileAdapter) *Completeness {
	return &Completeness{
		root:     resolver.Root(),
		resolver: resolver,
		fs:       fs,
		files:    files,
		limit:    defaultScanLimit,
	}
}

// Scan reads every test file concurrently and returns its declaration calls.
func (c *Completeness) Scan(ctx context.Context, tests []m.Path) (map[m.Path][]m.DeclarationCall, error) {
	var (
		mu     sync.Mutex
		result = make(map[m.Path][]m.DeclarationCall, len(tests))
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.limit)

	for _, test := range tests {
		group.Go(func() error {
			src, err := c.fs.ReadFile(groupCtx, c.fs.JoinPath(groupCtx, string(c.root), string(test)))
			if err != nil {
				slog.Error("Failed to read test file", "test", test, "error", err)
				return fmt.Errorf("read %s: %w", test, err)
			}

			calls, err := c.files.ScanDeclarations(groupCtx, test, src)
			if err != nil {
				slog.Error("Failed to scan test file", "test", test, "error", err)
				return err
			}

			mu.Lock()
			result[test] = calls
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

// AssertUsed fails when a test file neither declares coverage nor opts out.
func (c *Completeness) AssertUsed(ctx context.Context, tests []m.Path) error {
	scanned, err := c.Scan(ctx, tests)
	if err != nil {
		return err
	}

	var unused []m.Path

	for _, test := range tests {
		if len(scanned[test]) == 0 {
			unused = append(unused, test)
		}
	}

	if len(unused) == 0 {
		return nil
	}

	slices.Sort(unused)

	return &CompletenessError{Problems: []Problem{{
		Title: "Add covguard.Covered(covguard.ThisFile()) or covguard.NotCovered() to these tests",
		Files: unused,
	}}}
}

// Missing returns the files that no test maps to.
func (c *Completeness) Missing(ctx context.Context, files, tests []m.Path) []m.Path {
	tested := make(map[m.Path]struct{}, len(tests))

	for _, test := range tests {
		source, err := c.resolver.Resolve(string(c.fs.JoinPath(ctx, string(c.root), string(test))))
		if err != nil {
			slog.Debug("Test file does not map to a source", "test", test, "error", err)
			continue
		}

		tested[source] = struct{}{}
	}

	var missing []m.Path

	for _, file := range files {
		if _, ok := tested[file]; !ok {
			missing = append(missing, file)
		}
	}

	slices.Sort(missing)

	return missing
}

// AssertTested fails when a file has no test and is not allow-listed, or when
// an allow-listed file is no longer missing a test.
func (c *Completeness) AssertTested(ctx context.Context, files, tests, untested []m.Path) error {
	missing := c.Missing(ctx, files, tests)

	var stale, failing []m.Path

	for _, file := range untested {
		if !slices.Contains(missing, file) {
			stale = append(stale, file)
		}
	}

	for _, file := range missing {
		if !slices.Contains(untested, file) {
			failing = append(failing, file)
		}
	}

	var problems []Problem

	if len(stale) > 0 {
		slices.Sort(stale)
		problems = append(problems, Problem{
			Title: "Remove these files from the untested allow-list, they have tests now",
			Files: stale,
		})
	}

	if len(failing) > 0 {
		problems = append(problems, Problem{
			Title: "These files are missing tests",
			Files: failing,
		})
	}

	if len(problems) == 0 {
		return nil
	}

	return &CompletenessError{Problems: problems}
}

// Complete returns the test files whose declarations allow no uncovered lines.
func (c *Completeness) Complete(ctx context.Context, tests []m.Path) ([]m.Path, error) {
	scanned, err := c.Scan(ctx, tests)
	if err != nil {
		return nil, err
	}

	var complete []m.Path

	for _, test := range tests {
		if isComplete(scanned[test]) {
			complete = append(complete, test)
		}
	}

	slices.Sort(complete)

	return complete, nil
}

func isComplete(calls []m.DeclarationCall) bool {
	covered := false

	for _, call := range calls {
		if call.NotCovered {
			return false
		}

		if call.Uncovered != 0 {
			return false
		}

		covered = true
	}

	return covered
}

// AssertFullCoverage keeps the list of fully covered tests in sync with the
// declarations found in them.
func (c *Completeness) AssertFullCoverage(ctx context.Context, tests, currentlyComplete []m.Path) error {
	complete, err := c.Complete(ctx, tests)
	if err != nil {
		return err
	}

	var regressed, added []m.Path

	for _, test := range currentlyComplete {
		if !slices.Contains(complete, test) {
			regressed = append(regressed, test)
		}
	}

	for _, test := range complete {
		if !slices.Contains(currentlyComplete, test) {
			added = append(added, test)
		}
	}

	var problems []Problem

	if len(regressed) > 0 {
		slices.Sort(regressed)
		problems = append(problems, Problem{
			Title: "These tests are listed as complete but allow uncovered lines",
			Files: regressed,
		})
	}

	if len(added) > 0 {
		problems = append(problems, Problem{
			Title: "These tests are fully covered, add them to the complete list",
			Files: added,
		})
	}

	if len(problems) == 0 {
		return nil
	}

	return &CompletenessError{Problems: problems}
}

// StaticDeclarations turns scanned declaration calls into registry requests.
// NotCovered calls are skipped.
func StaticDeclarations(root m.Path, scanned map[m.Path][]m.DeclarationCall) []DeclareRequest {
	tests := make([]m.Path, 0, len(scanned))
	for test := range scanned {
		tests = append(tests, test)
	}

	slices.Sort(tests)

	var requests []DeclareRequest

	for _, test := range tests {
		for _, call := range scanned[test] {
			if call.NotCovered {
				continue
			}

			requests = append(requests, DeclareRequest{
				Origin:    filepath.Join(string(root), filepath.FromSlash(string(test))),
				File:      string(call.File),
				Uncovered: call.Uncovered,
			})
		}
	}

	return requests
}
