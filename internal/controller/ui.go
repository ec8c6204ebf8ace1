// Package controller provides output adapters for displaying coverage results.
package controller

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	m "covguard.dev/pkg/covguard/internal/model"
)

// Resolution is the outcome of mapping one test file to its source.
type Resolution struct {
	Test   m.Path
	Source m.Path
	Err    error
}

// Check is the outcome of one completeness assertion.
type Check struct {
	Name string
	Err  error
}

// VerifyReport is what the verifier produced for a whole run.
type VerifyReport struct {
	Verdicts    []m.Verdict
	Diagnostics []string
	Passed      bool
}

// UI defines the interface for displaying coverage results.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	DisplayResolutions(ctx context.Context, resolutions []Resolution) error
	DisplayChecks(ctx context.Context, checks []Check) error
	DisplayVerifyReport(ctx context.Context, report VerifyReport) error
}

// NewUI returns the interactive TUI when tty is true, the plain UI otherwise.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return term.IsTerminal(int(f.Fd()))
}
