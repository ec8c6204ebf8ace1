package adapter

import (
	"context"
	"go/token"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "covguard.dev/pkg/covguard/internal/model"
)

const declaringTest = `package widget_test

import (
	"os"
	"testing"

	"covguard.dev/pkg/covguard/pkg/covguard"
)

var _ = covguard.Covered(covguard.ThisFile(), covguard.Uncovered(2))

var _ = covguard.Covered(covguard.ThisFile(), covguard.File("internal/widget/extra.go"))

var _ = covguard.CoveredFile("internal/widget/other.go", 3)

func TestMain(m *testing.M) {
	os.Exit(covguard.Main(m))
}
`

func TestLocalGoFileAdapter_ScanDeclarations(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	got, err := adapter.ScanDeclarations(context.Background(), "internal/widget/widget_test.go", []byte(declaringTest))
	require.NoError(t, err)

	want := []m.DeclarationCall{
		{Test: "internal/widget/widget_test.go", Uncovered: 2, Line: 10},
		{Test: "internal/widget/widget_test.go", File: "internal/widget/extra.go", Line: 12},
		{Test: "internal/widget/widget_test.go", File: "internal/widget/other.go", Uncovered: 3, Line: 14},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ScanDeclarations() mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalGoFileAdapter_ScanNotCovered(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	src := `package widget

import "covguard.dev/pkg/covguard/pkg/covguard"

var _ = covguard.NotCovered()
`

	got, err := adapter.ScanDeclarations(context.Background(), "widget_test.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].NotCovered)
	assert.Equal(t, 5, got[0].Line)
}

func TestLocalGoFileAdapter_ScanWithoutDeclarations(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	src := `package widget

import "testing"

func TestWidget(t *testing.T) {}
`

	got, err := adapter.ScanDeclarations(context.Background(), "widget_test.go", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalGoFileAdapter_ScanIgnoresOtherCallees(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	src := `package widget

import (
	"context"
	"testing"

	"example.com/other/covguard"
)

type tracker struct{}

func (tracker) Covered(context.Context, string, ...string) error { return nil }

func NotCovered() bool { return true }

func TestWidget(t *testing.T) {
	var guard tracker
	_ = guard.Covered(context.Background(), "", File("nope.go"))
	_ = covguard.Covered("other.go")
	_ = NotCovered()
}
`

	got, err := adapter.ScanDeclarations(context.Background(), "widget_test.go", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalGoFileAdapter_ScanImportNames(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	tests := []struct {
		name string
		src  string
		want int
	}{
		{
			name: "renamed import",
			src:  "package widget\n\nimport cg \"" + GuardImportPath + "\"\n\nvar _ = cg.Covered(cg.ThisFile(), cg.Uncovered(1))\n",
			want: 1,
		},
		{
			name: "dot import",
			src:  "package widget\n\nimport . \"" + GuardImportPath + "\"\n\nvar _ = Covered(ThisFile(), Uncovered(1))\n",
			want: 1,
		},
		{
			name: "renamed import ignores the default name",
			src:  "package widget\n\nimport cg \"" + GuardImportPath + "\"\n\nvar covguard cg.Option\n\nfunc init() { covguard.Covered() }\n",
			want: 0,
		},
		{
			name: "blank import",
			src:  "package widget\n\nimport _ \"" + GuardImportPath + "\"\n\nvar _ = Covered(1)\n",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := adapter.ScanDeclarations(context.Background(), "widget_test.go", []byte(tt.src))
			require.NoError(t, err)
			require.Len(t, got, tt.want)

			for _, call := range got {
				assert.Equal(t, 1, call.Uncovered, "options are read through the same import name")
			}
		})
	}
}

func TestLocalGoFileAdapter_ScanNonLiteralArguments(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	src := `package widget

import "covguard.dev/pkg/covguard/pkg/covguard"

const allowed = 4

var _ = covguard.Covered(covguard.ThisFile(), covguard.Uncovered(allowed))
`

	got, err := adapter.ScanDeclarations(context.Background(), "widget_test.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Uncovered)
}

func TestLocalGoFileAdapter_ScanSyntaxError(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	_, err := adapter.ScanDeclarations(context.Background(), "broken_test.go", []byte("package broken\nfunc {"))
	require.Error(t, err)
}

func TestLocalGoFileAdapter_ScanText(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	src := `require "single_cov"
SingleCov.covered! uncovered: 3
SingleCov.covered! file: "lib/other.rb"
SingleCov.not_covered!
`

	got, err := adapter.ScanDeclarations(context.Background(), "test/foo_test.rb", []byte(src))
	require.NoError(t, err)

	want := []m.DeclarationCall{
		{Test: "test/foo_test.rb", Uncovered: 3, Line: 2},
		{Test: "test/foo_test.rb", File: "lib/other.rb", Line: 3},
		{Test: "test/foo_test.rb", NotCovered: true, Line: 4},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ScanDeclarations() mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalGoFileAdapter_MarkedLines(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	src := `package widget

func Widget() int {
	if broken() { // uncovered
		panic("unreachable")
	}
	# uncovered
	return 1 // uncoveredness is not a marker
}
`

	tests := []struct {
		name   string
		marker string
		want   map[int]bool
	}{
		{"default marker", "uncovered", map[int]bool{4: true, 7: true}},
		{"disabled", "", map[int]bool{}},
		{"custom marker", "nocover", map[int]bool{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.MarkedLines([]byte(src), tt.marker))
		})
	}
}

func TestLocalGoFileAdapter_ParseCanceled(t *testing.T) {
	adapter := NewLocalGoFileAdapter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.Parse(ctx, token.NewFileSet(), "x.go", []byte("package x\n"))
	require.ErrorIs(t, err, context.Canceled)
}
