package adapter

import (
	"flag"
	"fmt"
	"path/filepath"
	"testing"
)

// Flags set by `go test` that restrict a run to a subset of tests.
var filterFlags = []string{"test.run", "test.skip", "test.list", "test.fuzz"}

const (
	coverProfileFlag = "test.coverprofile"
	outputDirFlag    = "test.outputdir"
)

// TestHost abstracts the host test framework: how the current invocation was
// filtered and where the coverage profile will be written.
type TestHost interface {
	// IsFilteredRun reports whether only a subset of tests will run.
	IsFilteredRun() bool
	// CoverageEnabled reports whether the binary was built with coverage.
	CoverageEnabled() bool
	// CoverProfile returns the profile path testing.M will write, or "".
	CoverProfile() string
	// SetCoverProfile asks testing.M to write the profile to path.
	SetCoverProfile(path string) error
}

// LocalTestHost reads the standard testing flags of the running test binary.
type LocalTestHost struct {
	flags *flag.FlagSet
}

// NewLocalTestHost constructs a LocalTestHost over flag.CommandLine.
func NewLocalTestHost() *LocalTestHost {
	return &LocalTestHost{flags: flag.CommandLine}
}

// NewFlagSetTestHost constructs a LocalTestHost over a custom flag set.
func NewFlagSetTestHost(flags *flag.FlagSet) *LocalTestHost {
	return &LocalTestHost{flags: flags}
}

func (h *LocalTestHost) ensureParsed() {
	if h.flags != flag.CommandLine {
		return
	}

	testing.Init()

	if !flag.Parsed() {
		flag.Parse()
	}
}

func (h *LocalTestHost) value(name string) string {
	h.ensureParsed()

	f := h.flags.Lookup(name)
	if f == nil {
		return ""
	}

	return f.Value.String()
}

// IsFilteredRun reports whether -run, -skip, -list or -fuzz was given.
func (h *LocalTestHost) IsFilteredRun() bool {
	for _, name := range filterFlags {
		if h.value(name) != "" {
			return true
		}
	}

	return false
}

// CoverageEnabled reports whether the test binary carries coverage counters.
func (h *LocalTestHost) CoverageEnabled() bool {
	if h.flags != flag.CommandLine {
		return h.value(coverProfileFlag) != ""
	}

	return testing.CoverMode() != ""
}

// CoverProfile returns the effective profile path, honoring -test.outputdir
// the same way testing.M does.
func (h *LocalTestHost) CoverProfile() string {
	profile := h.value(coverProfileFlag)
	if profile == "" || filepath.IsAbs(profile) {
		return profile
	}

	if dir := h.value(outputDirFlag); dir != "" {
		return filepath.Join(dir, profile)
	}

	return profile
}

// SetCoverProfile points -test.coverprofile at path.
func (h *LocalTestHost) SetCoverProfile(path string) error {
	h.ensureParsed()

	if err := h.flags.Set(coverProfileFlag, path); err != nil {
		return fmt.Errorf("set %s: %w", coverProfileFlag, err)
	}

	return nil
}
