package domain

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covguard.dev/pkg/covguard/internal/adapter"
	m "covguard.dev/pkg/covguard/internal/model"
)

func noEnv(string) (string, bool) { return "", false }

func ciEnv(key string) (string, bool) {
	if key == "CI" {
		return "true", true
	}

	return "", false
}

// counts builds LineCounts from compact values: -1 is a non-executable line.
func counts(values ...int64) m.LineCounts {
	lc := make(m.LineCounts, len(values))
	for i, v := range values {
		if v >= 0 {
			lc[i] = m.Count(v)
		}
	}

	return lc
}

func newTestVerifier(root string, opts ...VerifierOption) *Verifier {
	opts = append([]VerifierOption{WithLookupEnv(noEnv)}, opts...)

	return NewVerifier(m.Path(root), adapter.NewLocalSourceFSAdapter(), adapter.NewLocalGoFileAdapter(), opts...)
}

func snapshotOf(root string, files map[string]m.LineCounts) m.Snapshot {
	snapshot := m.NewSnapshot()
	for name, lc := range files {
		snapshot.Files[m.Path(filepath.Join(root, filepath.FromSlash(name)))] = lc
	}

	return snapshot
}

func TestVerifier_RegressionListsLines(t *testing.T) {
	root := t.TempDir()
	verifier := newTestVerifier(root)
	snapshot := snapshotOf(root, map[string]m.LineCounts{
		"lib/foo.rb": counts(1, 1, -1, 1, 0, 1, 1, -1, 1, 1),
	})

	ok, lines := verifier.AllCovered(context.Background(), []m.Declaration{{File: "lib/foo.rb"}}, snapshot)

	assert.False(t, ok)
	assert.Equal(t, []string{
		"lib/foo.rb new uncovered lines introduced (1 current vs 0 configured)",
		"Lines missing coverage:",
		"lib/foo.rb:5",
	}, lines)
}

func TestVerifier_ExactMatchIsSilent(t *testing.T) {
	root := t.TempDir()
	verifier := newTestVerifier(root)
	snapshot := snapshotOf(root, map[string]m.LineCounts{"a.go": counts(0, 1, 0)})

	ok, lines := verifier.AllCovered(context.Background(), []m.Declaration{{File: "a.go", Uncovered: 2}}, snapshot)

	assert.True(t, ok)
	assert.Empty(t, lines)
}

func TestVerifier_NotLoaded(t *testing.T) {
	root := t.TempDir()
	verifier := newTestVerifier(root, WithPolicy(PolicyLenient))

	snapshot := m.NewSnapshot()
	snapshot.Preloaded[m.Path(filepath.Join(root, "early.go"))] = true

	verdicts := verifier.Verify(context.Background(), []m.Declaration{{File: "never.go"}, {File: "early.go"}}, snapshot)
	require.Len(t, verdicts, 2)

	assert.Equal(t, m.StatusNotLoaded, verdicts[0].Status)
	assert.Equal(t, "never.go was expected to be covered, but was never loaded.", verdicts[0].Details)
	assert.False(t, verdicts[0].Soft)
	assert.Equal(t, "early.go was expected to be covered, but was already loaded without coverage counters, which makes it uncoverable.", verdicts[1].Details)

	ok, _ := verifier.Report(verdicts)
	assert.False(t, ok, "not loaded is always hard, even when lenient")
}

func TestVerifier_ImprovementPolicy(t *testing.T) {
	root := t.TempDir()
	improved := map[string]m.LineCounts{"a.go": counts(1, 1, 0), "b.go": counts(1)}
	soft := "a.go has less uncovered lines (1) than expected (3), decrement configured uncovered?"
	hard := "a.go has less uncovered lines (1) than expected (3), decrement configured uncovered."

	tests := []struct {
		name   string
		opts   []VerifierOption
		decls  []m.Declaration
		wantOK bool
		want   string
	}{
		{"auto single declaration", nil, []m.Declaration{{File: "a.go", Uncovered: 3}}, true, soft},
		{"auto batch", nil, []m.Declaration{{File: "a.go", Uncovered: 3}, {File: "b.go"}}, false, hard},
		{"auto on CI", []VerifierOption{WithLookupEnv(ciEnv)}, []m.Declaration{{File: "a.go", Uncovered: 3}}, false, hard},
		{"strict", []VerifierOption{WithPolicy(PolicyStrict)}, []m.Declaration{{File: "a.go", Uncovered: 3}}, false, hard},
		{"lenient batch", []VerifierOption{WithPolicy(PolicyLenient)}, []m.Declaration{{File: "a.go", Uncovered: 3}, {File: "b.go"}}, true, soft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := newTestVerifier(root, tt.opts...)

			ok, lines := verifier.AllCovered(context.Background(), tt.decls, snapshotOf(root, improved))

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, []string{tt.want}, lines)
		})
	}
}

func TestVerifier_CIValues(t *testing.T) {
	for value, batch := range map[string]bool{"": false, "false": false, "0": false, "1": true, "true": true} {
		t.Run(fmt.Sprintf("CI=%q", value), func(t *testing.T) {
			verifier := newTestVerifier(t.TempDir(), WithLookupEnv(func(string) (string, bool) { return value, true }))
			assert.Equal(t, batch, verifier.isBatch(1))
		})
	}
}

func TestVerifier_TruncatesOutput(t *testing.T) {
	root := t.TempDir()
	verifier := newTestVerifier(root, WithMaxOutput(5))

	values := make([]int64, 20)
	snapshot := snapshotOf(root, map[string]m.LineCounts{"a.go": counts(values...)})

	ok, lines := verifier.AllCovered(context.Background(), []m.Declaration{{File: "a.go"}}, snapshot)

	assert.False(t, ok)
	require.Len(t, lines, 5)
	assert.Equal(t, "a.go:1", lines[2])
	assert.Equal(t, TruncatedLine, lines[4])
}

func TestVerifier_TruncationDoesNotHideFailures(t *testing.T) {
	root := t.TempDir()
	verifier := newTestVerifier(root, WithMaxOutput(2), WithPolicy(PolicyLenient))

	decls := []m.Declaration{{File: "a.go", Uncovered: 2}, {File: "b.go", Uncovered: 2}, {File: "c.go"}}
	snapshot := snapshotOf(root, map[string]m.LineCounts{
		"a.go": counts(1),
		"b.go": counts(1),
		"c.go": counts(0),
	})

	ok, lines := verifier.AllCovered(context.Background(), decls, snapshot)

	assert.False(t, ok)
	assert.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], WarningSuffix))
	assert.Equal(t, TruncatedLine, lines[1])
}

func TestVerifier_MarkerComments(t *testing.T) {
	src := strings.Join([]string{
		"package a",
		"",
		"func A() {",
		"	if false { // uncovered",
		"		panic(1) // uncovered",
		"	}",
		"	b()",
		"}",
	}, "\n")
	root := newProject(t, map[string]string{"a.go": src})
	snapshot := snapshotOf(root, map[string]m.LineCounts{"a.go": counts(-1, -1, 1, 0, 0, -1, 0, -1)})

	t.Run("marked lines are exempt", func(t *testing.T) {
		verdicts := newTestVerifier(root).Verify(context.Background(), []m.Declaration{{File: "a.go", Uncovered: 1}}, snapshot)
		require.Len(t, verdicts, 1)
		assert.Equal(t, m.StatusOK, verdicts[0].Status)
		assert.Equal(t, []int{7}, verdicts[0].UncoveredLines)
	})

	t.Run("disabled marker counts every line", func(t *testing.T) {
		verdicts := newTestVerifier(root, WithMarker("")).Verify(context.Background(), []m.Declaration{{File: "a.go", Uncovered: 1}}, snapshot)
		require.Len(t, verdicts, 1)
		assert.Equal(t, m.StatusMismatch, verdicts[0].Status)
		assert.Equal(t, 3, verdicts[0].Actual)
	})
}

func TestParsePolicy(t *testing.T) {
	for input, want := range map[string]ImprovementPolicy{
		"":        PolicyAuto,
		"auto":    PolicyAuto,
		"STRICT":  PolicyStrict,
		"lenient": PolicyLenient,
	} {
		got, err := ParsePolicy(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := ParsePolicy("sometimes")
	require.ErrorIs(t, err, ErrUnknownPolicy)
}
