package covguard

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covguard.dev/pkg/covguard/internal/adapter"
	"covguard.dev/pkg/covguard/internal/domain"
	m "covguard.dev/pkg/covguard/internal/model"
)

type runnerFunc func() int

func (f runnerFunc) Run() int { return f() }

type fakeHost struct {
	filtered bool
	cover    bool
}

func (h fakeHost) IsFilteredRun() bool            { return h.filtered }
func (h fakeHost) CoverageEnabled() bool          { return h.cover }
func (h fakeHost) CoverProfile() string           { return "" }
func (h fakeHost) SetCoverProfile(_ string) error { return nil }

type fakeRecorder struct {
	started  bool
	snapshot m.Snapshot
	err      error
}

func (r *fakeRecorder) Start(context.Context) error {
	r.started = true
	return nil
}

func (r *fakeRecorder) Result(context.Context) (m.Snapshot, error) {
	return r.snapshot, r.err
}

const widgetTest = `package widget

import (
	"os"
	"testing"

	"covguard.dev/pkg/covguard/pkg/covguard"
)

var _ = covguard.Covered(covguard.ThisFile(), covguard.Uncovered(1))

func TestMain(m *testing.M) {
	os.Exit(covguard.Main(m))
}
`

func newWidgetProject(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"go.mod":         "module example.com/widget\n",
		"widget.go":      "package widget\n\nfunc A() int {\n\treturn 1\n}\n",
		"helper.go":      "package widget\n",
		"widget_test.go": widgetTest,
	}

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o600))
	}

	return root
}

// widgetSnapshot records uncovered lines at the given 1-based positions.
func widgetSnapshot(root string, uncovered ...int) m.Snapshot {
	counts := make(m.LineCounts, 5)
	for _, line := range []int{3, 4} {
		counts[line-1] = m.Count(1)
	}

	for _, line := range uncovered {
		counts[line-1] = m.Count(0)
	}

	snapshot := m.NewSnapshot()
	snapshot.Files[m.Path(filepath.Join(root, "widget.go"))] = counts

	return snapshot
}

func noEnv(string) (string, bool) { return "", false }

type guardFixture struct {
	root     string
	recorder *fakeRecorder
	warnings *bytes.Buffer
	guard    *Guard
}

func newFixture(t *testing.T, host fakeHost, opts ...Option) *guardFixture {
	t.Helper()

	f := &guardFixture{
		root:     newWidgetProject(t),
		recorder: &fakeRecorder{},
		warnings: &bytes.Buffer{},
	}

	base := []Option{
		WithRoot(f.root),
		WithWarnings(f.warnings),
		withHost(host),
		withRecorder(f.recorder),
		withLookupEnv(noEnv),
	}
	f.guard = New(append(base, opts...)...)

	return f
}

func (f *guardFixture) origin() string {
	return filepath.Join(f.root, "widget_test.go")
}

func TestGuard_RunVerifiesQueuedDeclarations(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})
	ctx := context.Background()

	require.NoError(t, f.guard.Covered(ctx, f.origin(), Uncovered(1)))
	assert.Nil(t, f.guard.Declarations(), "declarations stay queued until Arm")
	assert.Equal(t, "idle", f.guard.State())

	f.recorder.snapshot = widgetSnapshot(f.root, 4)

	code := f.guard.Run(runnerFunc(func() int { return 0 }))

	assert.Equal(t, 0, code)
	assert.True(t, f.recorder.started)
	assert.Equal(t, []string{"widget.go:1"}, f.guard.Declarations())
	assert.Equal(t, "verified", f.guard.State())
	assert.Empty(t, f.warnings.String())
}

func TestGuard_RunFailsOnRegression(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})

	require.NoError(t, f.guard.Covered(context.Background(), f.origin()))

	f.recorder.snapshot = widgetSnapshot(f.root, 3)

	code := f.guard.Run(runnerFunc(func() int { return 0 }))

	assert.Equal(t, 1, code)
	assert.Contains(t, f.warnings.String(), "widget.go new uncovered lines introduced (1 current vs 0 configured)")
	assert.Contains(t, f.warnings.String(), "widget.go:3")
}

func TestGuard_RunKeepsFailingStatus(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})

	require.NoError(t, f.guard.Covered(context.Background(), f.origin()))

	f.recorder.err = errors.New("must not be read")

	assert.Equal(t, 2, f.guard.Run(runnerFunc(func() int { return 2 })))
	assert.Empty(t, f.warnings.String())
}

func TestGuard_FilteredRunIsNotVerified(t *testing.T) {
	f := newFixture(t, fakeHost{filtered: true, cover: true})

	require.NoError(t, f.guard.Covered(context.Background(), f.origin()))

	assert.Equal(t, 0, f.guard.Run(runnerFunc(func() int { return 0 })))
	assert.False(t, f.recorder.started)
	assert.Equal(t, "skipped", f.guard.State())
}

func TestGuard_RunPanicsOnInvalidDeclaration(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})

	require.NoError(t, f.guard.Covered(context.Background(), filepath.Join(f.root, "missing_test.go")))

	defer func() {
		recovered := recover()
		require.NotNil(t, recovered)
		assert.True(t, strings.HasPrefix(recovered.(string), "covguard: "))
		assert.Contains(t, recovered.(string), "missing.go")
	}()

	f.guard.Run(runnerFunc(func() int {
		t.Fatal("tests must not run after a setup error")
		return 0
	}))
}

func TestGuard_RunReraisesPanic(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})

	assert.PanicsWithValue(t, "boom", func() {
		f.guard.Run(runnerFunc(func() int { panic("boom") }))
	})
	assert.Equal(t, "verified", f.guard.State())
}

func TestGuard_Configure(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})

	require.NoError(t, f.guard.Configure(WithMaxOutput(3)))
	require.NoError(t, f.guard.Arm(context.Background()))

	require.ErrorIs(t, f.guard.Configure(WithPolicy("strict")), ErrConfigured)
	require.NoError(t, f.guard.Configure())
}

func TestGuard_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want error
	}{
		{"convention", WithConvention("maven"), domain.ErrUnknownConvention},
		{"policy", WithPolicy("sometimes"), domain.ErrUnknownPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fakeHost{cover: true}, tt.opt)

			require.ErrorIs(t, f.guard.Arm(context.Background()), tt.want)
			require.ErrorIs(t, f.guard.Arm(context.Background()), tt.want, "the build error is sticky")
		})
	}
}

func TestGuard_CoverageDisabled(t *testing.T) {
	f := newFixture(t, fakeHost{})
	require.ErrorIs(t, f.guard.Arm(context.Background()), domain.ErrCoverageDisabled)

	skipping := newFixture(t, fakeHost{}, WithSkipWithoutCoverage(true))
	assert.Equal(t, 0, skipping.guard.Run(runnerFunc(func() int { return 0 })))
	assert.Equal(t, "skipped", skipping.guard.State())
}

func TestGuard_CoveredAfterArm(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})
	ctx := context.Background()

	require.NoError(t, f.guard.Arm(ctx))

	require.NoError(t, f.guard.Covered(ctx, "", File("helper.go")))
	require.ErrorIs(t, f.guard.Covered(ctx, "", File("nope.go")), domain.ErrMissingFile)
	require.ErrorIs(t, f.guard.Covered(ctx, f.origin(), Uncovered(-2)), domain.ErrNegativeUncovered)

	assert.Equal(t, []string{"helper.go:0"}, f.guard.Declarations())
}

func TestGuard_ConfigFile(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "covguard.yaml"), []byte("max_output: 2\n"), 0o600))

	require.NoError(t, f.guard.Covered(context.Background(), f.origin()))

	f.recorder.snapshot = widgetSnapshot(f.root, 3, 4)

	assert.Equal(t, 1, f.guard.Run(runnerFunc(func() int { return 0 })))
	assert.Equal(t, "widget.go new uncovered lines introduced (2 current vs 0 configured)\n"+domain.TruncatedLine+"\n", f.warnings.String())
}

func TestGuard_Completeness(t *testing.T) {
	f := newFixture(t, fakeHost{cover: true})
	ctx := context.Background()

	require.NoError(t, f.guard.AssertUsed(ctx, nil))

	err := f.guard.AssertTested(ctx, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helper.go")

	require.NoError(t, f.guard.AssertTested(ctx, nil, nil, []string{"helper.go"}))
	require.NoError(t, f.guard.AssertTested(ctx, []string{"widget.go"}, []string{"widget_test.go"}, nil))

	require.NoError(t, f.guard.AssertFullCoverage(ctx, nil, nil))

	err = f.guard.AssertFullCoverage(ctx, nil, []string{"widget_test.go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow uncovered lines")

	require.ErrorIs(t, f.guard.Configure(WithMaxOutput(1)), ErrConfigured)
}

func TestImportPath(t *testing.T) {
	assert.Equal(t, adapter.GuardImportPath, reflect.TypeOf((*Guard)(nil)).Elem().PkgPath(), "scanned test files import this package")
}

func TestThisFile(t *testing.T) {
	assert.Equal(t, "covguard_test.go", filepath.Base(ThisFile()))
}

func TestPackageHelpers(t *testing.T) {
	assert.True(t, NotCovered())

	assert.PanicsWithValue(t, "covguard: uncovered count must not be negative: -1", func() {
		Covered(ThisFile(), Uncovered(-1))
	})

	assert.Same(t, Default(), Default())
}
