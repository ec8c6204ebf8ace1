// Package covguard fails a Go test run when a file's coverage drifts from
// what its test declared.
//
// Import it as covguard.dev/pkg/covguard/pkg/covguard. Each test file
// declares the source it covers and how many of its lines may stay
// uncovered:
//
//	var _ = covguard.Covered(covguard.ThisFile(), covguard.Uncovered(2))
//
// and the package's TestMain hands control to the guard:
//
//	func TestMain(m *testing.M) {
//		os.Exit(covguard.Main(m))
//	}
//
// Run the tests with -cover. Filtered runs (-run, -skip, -list, -fuzz) are
// not verified because they cannot produce whole-package coverage.
package covguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"covguard.dev/pkg/covguard/internal/adapter"
	"covguard.dev/pkg/covguard/internal/config"
	"covguard.dev/pkg/covguard/internal/domain"
	m "covguard.dev/pkg/covguard/internal/model"
)

// ErrConfigured is returned when options arrive after the guard was built.
var ErrConfigured = errors.New("covguard: guard is already configured")

// Runner runs the tests and returns their exit code; *testing.M satisfies it.
type Runner interface {
	Run() int
}

// Guard owns the declarations of one test binary. Declarations made before
// Arm are queued and validated when the guard is armed, so options given to
// Main apply to them.
type Guard struct {
	mu      sync.Mutex
	opts    []Option
	pending []domain.DeclareRequest
	built   bool
	flushed bool
	err     error

	root         m.Path
	cfg          config.Config
	fs           adapter.SourceFSAdapter
	registry     *domain.Registry
	completeness *domain.Completeness
	core         *domain.Guard
}

// New constructs a Guard; nothing is read from disk until it is used.
func New(opts ...Option) *Guard {
	return &Guard{opts: opts}
}

// Configure adds options. It fails once the guard was armed or used for a
// completeness check.
func (g *Guard) Configure(opts ...Option) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.built && len(opts) > 0 {
		return ErrConfigured
	}

	g.opts = append(g.opts, opts...)

	return nil
}

//nolint:cyclop // Settings precedence is a flat list of overrides.
func (g *Guard) build(ctx context.Context) error {
	if g.built {
		return g.err
	}

	g.built = true

	var s settings
	for _, opt := range g.opts {
		opt(&s)
	}

	g.fs = s.fs
	if g.fs == nil {
		g.fs = adapter.NewLocalSourceFSAdapter()
	}

	root, err := g.findRoot(ctx, s.root)
	if err != nil {
		g.err = err
		return err
	}

	cfg, err := config.Load(string(root))
	if err != nil {
		g.err = err
		return err
	}

	if s.root == "" && cfg.Root != "" {
		root = m.Path(absUnder(string(root), cfg.Root))
	}

	g.root = root
	g.cfg = cfg

	convention, err := domain.ConventionByName(firstNonEmpty(s.convention, cfg.Convention))
	if err != nil {
		g.err = err
		return err
	}

	policy, err := domain.ParsePolicy(firstNonEmpty(s.policy, cfg.Policy))
	if err != nil {
		g.err = err
		return err
	}

	var rewrite domain.RewriteFunc
	if s.rewrite != nil {
		rewrite = func(p m.Path) m.Path { return m.Path(s.rewrite(string(p))) }
	}

	marker := cfg.Marker
	if s.marker != nil {
		marker = *s.marker
	}

	maxOutput := cfg.MaxOutput
	if s.maxOutput > 0 {
		maxOutput = s.maxOutput
	}

	skip := cfg.SkipWithoutCoverage
	if s.skipWithoutCoverage != nil {
		skip = *s.skipWithoutCoverage
	}

	host := s.host
	if host == nil {
		host = adapter.NewLocalTestHost()
	}

	recorder := s.recorder
	if recorder == nil {
		recorder = adapter.NewProfileRecorder(root, host, g.fs)
	}

	warnings := s.warnings
	if warnings == nil {
		warnings = os.Stderr
	}

	files := adapter.NewLocalGoFileAdapter()
	resolver := domain.NewResolver(root, convention, rewrite)
	verifierOpts := []domain.VerifierOption{
		domain.WithMaxOutput(maxOutput),
		domain.WithPolicy(policy),
		domain.WithMarker(marker),
	}

	if s.lookup != nil {
		verifierOpts = append(verifierOpts, domain.WithLookupEnv(s.lookup))
	}

	g.registry = domain.NewRegistry(resolver, g.fs)
	g.completeness = domain.NewCompleteness(resolver, g.fs, files)
	g.core = domain.NewGuard(
		g.registry,
		domain.NewVerifier(root, g.fs, files, verifierOpts...),
		recorder,
		host,
		warnings,
		domain.WithSkipWithoutCoverage(skip),
	)

	slog.Debug("covguard configured", "root", root, "convention", firstNonEmpty(s.convention, cfg.Convention), "policy", policy)

	return nil
}

func (g *Guard) findRoot(ctx context.Context, override string) (m.Path, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}

		return m.Path(abs), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	root, err := g.fs.FindProjectRoot(ctx, m.Path(cwd))
	if err != nil {
		slog.Debug("No go.mod found, using working directory as root", "cwd", cwd, "error", err)
		return m.Path(cwd), nil
	}

	return root, nil
}

func absUnder(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(base, path)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}

// Covered declares that the source tested by origin has the given number of
// uncovered lines. Before Arm the declaration is queued.
func (g *Guard) Covered(ctx context.Context, origin string, opts ...DeclareOption) error {
	var d declaration
	for _, opt := range opts {
		opt(&d)
	}

	req := domain.DeclareRequest{Origin: origin, File: d.file, Uncovered: d.uncovered}
	if req.Uncovered < 0 {
		return fmt.Errorf("%w: %d", domain.ErrNegativeUncovered, req.Uncovered)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.flushed {
		g.pending = append(g.pending, req)
		return nil
	}

	_, err := g.registry.Declare(ctx, req)

	return err
}

// Arm validates queued declarations and starts coverage recording.
func (g *Guard) Arm(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.build(ctx); err != nil {
		return err
	}

	if !g.flushed {
		g.flushed = true

		var errs []error

		for _, req := range g.pending {
			if _, err := g.registry.Declare(ctx, req); err != nil {
				errs = append(errs, err)
			}
		}

		g.pending = nil

		if err := errors.Join(errs...); err != nil {
			return err
		}
	}

	return g.core.Arm(ctx)
}

// Finish verifies coverage after a clean run and returns the exit status.
func (g *Guard) Finish(ctx context.Context, code int, recovered any) int {
	g.mu.Lock()
	core := g.core
	g.mu.Unlock()

	if core == nil {
		return domain.NormalizeStatus(code, recovered)
	}

	return core.Finish(ctx, code, recovered)
}

// Run arms the guard, runs the tests and verifies coverage. Setup errors
// panic; a panic from the runner is re-raised after verification is skipped.
func (g *Guard) Run(r Runner) (code int) {
	ctx := context.Background()

	if err := g.Arm(ctx); err != nil {
		panic(fmt.Sprintf("covguard: %v", err))
	}

	defer func() {
		recovered := recover()
		code = g.Finish(ctx, code, recovered)

		if recovered != nil {
			panic(recovered)
		}
	}()

	return r.Run()
}

// State reports the guard's lifecycle state.
func (g *Guard) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.core == nil {
		return domain.StateIdle.String()
	}

	return g.core.State().String()
}

// Declarations returns the validated declarations as "file:uncovered".
func (g *Guard) Declarations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.registry == nil {
		return nil
	}

	decls := g.registry.Declarations()
	out := make([]string, 0, len(decls))

	for _, decl := range decls {
		out = append(out, fmt.Sprintf("%s:%d", decl.File, decl.Uncovered))
	}

	return out
}

func (g *Guard) ready(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.build(ctx)
}

func (g *Guard) tests(ctx context.Context, tests []string) ([]m.Path, error) {
	if tests != nil {
		return toPaths(tests), nil
	}

	return g.fs.Glob(ctx, g.root, g.cfg.Tests, g.cfg.Exclude)
}

func (g *Guard) files(ctx context.Context, files []string) ([]m.Path, error) {
	if files != nil {
		return toPaths(files), nil
	}

	return g.fs.Glob(ctx, g.root, g.cfg.Files, append(append([]string{}, g.cfg.Exclude...), g.cfg.Tests...))
}

// AssertUsed fails when a test file has no Covered or NotCovered call. A nil
// list means every test file matched by the configuration.
func (g *Guard) AssertUsed(ctx context.Context, tests []string) error {
	if err := g.ready(ctx); err != nil {
		return err
	}

	paths, err := g.tests(ctx, tests)
	if err != nil {
		return err
	}

	return g.completeness.AssertUsed(ctx, paths)
}

// AssertTested fails when a source file has no test, or when an entry of the
// untested allow-list has a test now. Nil lists fall back to the configuration.
func (g *Guard) AssertTested(ctx context.Context, files, tests, untested []string) error {
	if err := g.ready(ctx); err != nil {
		return err
	}

	filePaths, err := g.files(ctx, files)
	if err != nil {
		return err
	}

	testPaths, err := g.tests(ctx, tests)
	if err != nil {
		return err
	}

	if untested == nil {
		untested = g.cfg.Untested
	}

	return g.completeness.AssertTested(ctx, filePaths, testPaths, toPaths(untested))
}

// AssertFullCoverage fails when the list of fully covered tests is out of date.
func (g *Guard) AssertFullCoverage(ctx context.Context, tests, complete []string) error {
	if err := g.ready(ctx); err != nil {
		return err
	}

	testPaths, err := g.tests(ctx, tests)
	if err != nil {
		return err
	}

	if complete == nil {
		complete = g.cfg.Complete
	}

	return g.completeness.AssertFullCoverage(ctx, testPaths, toPaths(complete))
}

func toPaths(values []string) []m.Path {
	paths := make([]m.Path, 0, len(values))
	for _, value := range values {
		paths = append(paths, m.Path(filepath.ToSlash(value)))
	}

	return paths
}

var (
	defaultOnce  sync.Once
	defaultGuard *Guard
)

// Default returns the process-wide guard used by the package-level functions.
func Default() *Guard {
	defaultOnce.Do(func() {
		defaultGuard = New()
	})

	return defaultGuard
}

// Main configures the default guard, runs m and returns the exit code to pass
// to os.Exit.
func Main(r Runner, opts ...Option) int {
	g := Default()
	if err := g.Configure(opts...); err != nil {
		panic(err.Error())
	}

	return g.Run(r)
}

// Covered declares coverage for the source tested by origin, usually
// ThisFile(). It panics on invalid declarations and returns true so it can
// be used in a package-level var.
func Covered(origin string, opts ...DeclareOption) bool {
	if err := Default().Covered(context.Background(), origin, opts...); err != nil {
		panic(fmt.Sprintf("covguard: %v", err))
	}

	return true
}

// CoveredFile declares coverage for an explicit root-relative source file.
func CoveredFile(file string, uncovered int) bool {
	return Covered("", File(file), Uncovered(uncovered))
}

// NotCovered marks a test file as intentionally outside the coverage contract.
func NotCovered() bool {
	return true
}

// ThisFile returns the path of the calling source file.
func ThisFile() string {
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		panic("covguard: cannot determine calling file")
	}

	return file
}

// AssertUsed runs Guard.AssertUsed on the default guard.
func AssertUsed(tests []string) error {
	return Default().AssertUsed(context.Background(), tests)
}

// AssertTested runs Guard.AssertTested on the default guard.
func AssertTested(files, tests, untested []string) error {
	return Default().AssertTested(context.Background(), files, tests, untested)
}

// AssertFullCoverage runs Guard.AssertFullCoverage on the default guard.
func AssertFullCoverage(tests, complete []string) error {
	return Default().AssertFullCoverage(context.Background(), tests, complete)
}
