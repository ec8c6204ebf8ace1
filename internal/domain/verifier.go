package domain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"covguard.dev/pkg/covguard/internal/adapter"
	m "covguard.dev/pkg/covguard/internal/model"
)

const (
	// DefaultMaxOutput caps the number of diagnostic lines.
	DefaultMaxOutput = 40
	// DefaultMarker is the inline comment that exempts a line from counting.
	DefaultMarker = "uncovered"
	// WarningSuffix ends every soft warning line.
	WarningSuffix = "?"
	// TruncatedLine replaces diagnostic lines beyond the cap.
	TruncatedLine = "... coverage output truncated"
)

// ImprovementPolicy decides whether coverage that beats its declaration fails
// the run.
type ImprovementPolicy string

const (
	// PolicyAuto is strict for batch runs and lenient for a single declaration.
	PolicyAuto ImprovementPolicy = "auto"
	// PolicyStrict always fails when fewer lines are uncovered than declared.
	PolicyStrict ImprovementPolicy = "strict"
	// PolicyLenient only warns when fewer lines are uncovered than declared.
	PolicyLenient ImprovementPolicy = "lenient"
)

// ParsePolicy validates a policy name; "" means PolicyAuto.
func ParsePolicy(name string) (ImprovementPolicy, error) {
	switch policy := ImprovementPolicy(strings.ToLower(strings.TrimSpace(name))); policy {
	case "":
		return PolicyAuto, nil
	case PolicyAuto, PolicyStrict, PolicyLenient:
		return policy, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxOutput caps the diagnostic output; values below 1 are ignored.
func WithMaxOutput(lines int) VerifierOption {
	return func(v *Verifier) {
		if lines > 0 {
			v.maxOutput = lines
		}
	}
}

// WithPolicy sets the improvement policy.
func WithPolicy(policy ImprovementPolicy) VerifierOption {
	return func(v *Verifier) {
		v.policy = policy
	}
}

// WithMarker sets the inline comment marker; "" disables it.
func WithMarker(marker string) VerifierOption {
	return func(v *Verifier) {
		v.marker = marker
	}
}

// WithLookupEnv replaces os.LookupEnv when detecting batch runs.
func WithLookupEnv(lookup func(string) (string, bool)) VerifierOption {
	return func(v *Verifier) {
		v.lookupEnv = lookup
	}
}

// Verifier reconciles declarations with a coverage snapshot.
type Verifier struct {
	root      m.Path
	fs        adapter.SourceFSAdapter
	files     adapter.GoFileAdapter
	maxOutput int
	policy    ImprovementPolicy
	marker    string
	lookupEnv func(string) (string, bool)
}

// NewVerifier constructs a Verifier for the project at root.
func NewVerifier(root m.Path, fs adapter.SourceFSAdapter, files adapter.GoFileAdapter, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		root:      root,
		fs:        fs,
		files:     files,
		maxOutput: DefaultMaxOutput,
		policy:    PolicyAuto,
		marker:    DefaultMarker,
		lookupEnv: os.LookupEnv,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// AllCovered verifies every declaration and renders capped diagnostics. It
// passes when there is no output or every line is a soft warning.
func (v *Verifier) AllCovered(ctx context.Context, decls []m.Declaration, snapshot m.Snapshot) (bool, []string) {
	return v.Report(v.Verify(ctx, decls, snapshot))
}

// Verify returns one verdict per declaration, in declaration order.
func (v *Verifier) Verify(ctx context.Context, decls []m.Declaration, snapshot m.Snapshot) []m.Verdict {
	batch := v.isBatch(len(decls))
	verdicts := make([]m.Verdict, 0, len(decls))

	for _, decl := range decls {
		verdicts = append(verdicts, v.verify(ctx, decl, snapshot, batch))
	}

	return verdicts
}

// Report flattens verdict details into lines and applies the output cap.
func (v *Verifier) Report(verdicts []m.Verdict) (bool, []string) {
	var messages []string

	for _, verdict := range verdicts {
		if verdict.Details != "" {
			messages = append(messages, verdict.Details)
		}
	}

	if len(messages) == 0 {
		return true, nil
	}

	lines := strings.Split(strings.Join(messages, "\n"), "\n")

	ok := true

	for _, line := range lines {
		if !strings.HasSuffix(line, WarningSuffix) {
			ok = false
			break
		}
	}

	if len(lines) > v.maxOutput {
		lines = append(lines[:v.maxOutput-1], TruncatedLine)
	}

	return ok, lines
}

func (v *Verifier) isBatch(declarations int) bool {
	if declarations > 1 {
		return true
	}

	value, ok := v.lookupEnv("CI")

	return ok && value != "" && value != "false" && value != "0"
}

func (v *Verifier) verify(ctx context.Context, decl m.Declaration, snapshot m.Snapshot, batch bool) m.Verdict {
	abs := m.Path(filepath.Join(string(v.root), filepath.FromSlash(string(decl.File))))

	counts, ok := snapshot.Files[abs]
	if !ok {
		return m.Verdict{
			Declaration: decl,
			Status:      m.StatusNotLoaded,
			Details:     notLoadedMessage(decl.File, snapshot.Preloaded[abs]),
		}
	}

	uncovered := v.withoutMarked(ctx, abs, counts.Uncovered())
	verdict := m.Verdict{
		Declaration:    decl,
		Status:         m.StatusOK,
		Actual:         len(uncovered),
		UncoveredLines: uncovered,
	}

	switch {
	case len(uncovered) == decl.Uncovered:
		return verdict
	case decl.Uncovered > len(uncovered):
		verdict.Status = m.StatusMismatch
		verdict.Soft = v.policy == PolicyLenient || (v.policy == PolicyAuto && !batch)
		verdict.Details = improvedMessage(decl.File, len(uncovered), decl.Uncovered, verdict.Soft)
	default:
		verdict.Status = m.StatusMismatch
		verdict.Details = regressedMessage(decl.File, uncovered, decl.Uncovered)
	}

	return verdict
}

// withoutMarked drops lines that carry the inline marker comment.
func (v *Verifier) withoutMarked(ctx context.Context, abs m.Path, uncovered []int) []int {
	if v.marker == "" || len(uncovered) == 0 || v.files == nil {
		return uncovered
	}

	src, err := v.fs.ReadFile(ctx, abs)
	if err != nil {
		slog.Debug("Cannot read source for marker comments", "file", abs, "error", err)
		return uncovered
	}

	marked := v.files.MarkedLines(src, v.marker)
	if len(marked) == 0 {
		return uncovered
	}

	kept := make([]int, 0, len(uncovered))
	for _, line := range uncovered {
		if !marked[line] {
			kept = append(kept, line)
		}
	}

	return kept
}

func notLoadedMessage(file m.Path, preloaded bool) string {
	if preloaded {
		return fmt.Sprintf("%s was expected to be covered, but was already loaded without coverage counters, which makes it uncoverable.", file)
	}

	return fmt.Sprintf("%s was expected to be covered, but was never loaded.", file)
}

func improvedMessage(file m.Path, actual, expected int, soft bool) string {
	end := "."
	if soft {
		end = WarningSuffix
	}

	return fmt.Sprintf("%s has less uncovered lines (%d) than expected (%d), decrement configured uncovered%s", file, actual, expected, end)
}

func regressedMessage(file m.Path, uncovered []int, expected int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s new uncovered lines introduced (%d current vs %d configured)\n", file, len(uncovered), expected)
	b.WriteString("Lines missing coverage:")

	for _, line := range uncovered {
		fmt.Fprintf(&b, "\n%s:%d", file, line)
	}

	return b.String()
}
