package covguard

import (
	"io"

	"covguard.dev/pkg/covguard/internal/adapter"
)

// Option configures a Guard. Options override covguard.yaml.
type Option func(*settings)

type settings struct {
	root                string
	rewrite             func(string) string
	convention          string
	maxOutput           int
	policy              string
	marker              *string
	warnings            io.Writer
	skipWithoutCoverage *bool

	fs       adapter.SourceFSAdapter
	host     adapter.TestHost
	recorder adapter.CoverageRecorder
	lookup   func(string) (string, bool)
}

// WithRoot overrides the project root (default: the nearest go.mod).
func WithRoot(root string) Option {
	return func(s *settings) {
		s.root = root
	}
}

// WithRewrite adjusts every path resolved from a test file.
func WithRewrite(rewrite func(string) string) Option {
	return func(s *settings) {
		s.rewrite = rewrite
	}
}

// WithConvention selects the "go" or "classic" path convention.
func WithConvention(name string) Option {
	return func(s *settings) {
		s.convention = name
	}
}

// WithMaxOutput caps the number of diagnostic lines.
func WithMaxOutput(lines int) Option {
	return func(s *settings) {
		s.maxOutput = lines
	}
}

// WithPolicy sets how improved coverage is treated: "auto", "strict" or "lenient".
func WithPolicy(policy string) Option {
	return func(s *settings) {
		s.policy = policy
	}
}

// WithMarker sets the inline comment that exempts a line; "" disables it.
func WithMarker(marker string) Option {
	return func(s *settings) {
		s.marker = &marker
	}
}

// WithWarnings redirects diagnostics (default os.Stderr).
func WithWarnings(w io.Writer) Option {
	return func(s *settings) {
		s.warnings = w
	}
}

// WithSkipWithoutCoverage disarms the guard when tests run without -cover.
func WithSkipWithoutCoverage(skip bool) Option {
	return func(s *settings) {
		s.skipWithoutCoverage = &skip
	}
}

func withFS(fs adapter.SourceFSAdapter) Option {
	return func(s *settings) {
		s.fs = fs
	}
}

func withHost(host adapter.TestHost) Option {
	return func(s *settings) {
		s.host = host
	}
}

func withRecorder(recorder adapter.CoverageRecorder) Option {
	return func(s *settings) {
		s.recorder = recorder
	}
}

func withLookupEnv(lookup func(string) (string, bool)) Option {
	return func(s *settings) {
		s.lookup = lookup
	}
}

// DeclareOption refines a Covered declaration.
type DeclareOption func(*declaration)

type declaration struct {
	file      string
	uncovered int
}

// Uncovered declares how many lines are allowed to stay uncovered.
func Uncovered(lines int) DeclareOption {
	return func(d *declaration) {
		d.uncovered = lines
	}
}

// File names the covered source explicitly, relative to the project root.
func File(path string) DeclareOption {
	return func(d *declaration) {
		d.file = path
	}
}
