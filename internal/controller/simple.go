package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "covguard.dev/pkg/covguard/internal/model"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// SimpleUI implements UI using cobra Command's output streams.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// DisplayResolutions prints a test -> source table.
func (s *SimpleUI) DisplayResolutions(ctx context.Context, resolutions []Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s", renderResolutionTable(resolutions))

	return nil
}

// DisplayChecks prints one row per completeness check and the details of
// every failing one.
func (s *SimpleUI) DisplayChecks(ctx context.Context, checks []Check) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s", renderCheckTable(checks))

	for _, check := range checks {
		if check.Err != nil {
			s.printf("\n%s\n", check.Err)
		}
	}

	return nil
}

// DisplayVerifyReport prints the diagnostics followed by the verdict table.
func (s *SimpleUI) DisplayVerifyReport(ctx context.Context, report VerifyReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	writeDiagnostics(s.cmd.OutOrStdout(), report.Diagnostics)
	s.printf("\n%s", renderVerdictTable(report.Verdicts))
	s.printf("%s\n", summaryLine(report))

	return nil
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

func writeDiagnostics(w io.Writer, lines []string) {
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
}

func renderResolutionTable(resolutions []Resolution) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Test", "Source"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	failed := 0

	for _, resolution := range resolutions {
		source := string(resolution.Source)
		if resolution.Err != nil {
			source = failStyle.Render(reason(resolution.Err))
			failed++
		}

		table.Append([]string{string(resolution.Test), source})
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Tests %d", len(resolutions)),
		fmt.Sprintf("%d unresolved", failed),
	})

	table.Render()

	return tableBuffer.String()
}

// reason drops the path prefix from resolution errors, the table already
// shows the test file.
func reason(err error) string {
	var unwrapped interface{ Unwrap() error }
	if errors.As(err, &unwrapped) && unwrapped.Unwrap() != nil {
		return unwrapped.Unwrap().Error()
	}

	return err.Error()
}

func renderCheckTable(checks []Check) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Check", "Result"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

	for _, check := range checks {
		result := passStyle.Render("pass")
		if check.Err != nil {
			result = failStyle.Render("fail")
		}

		table.Append([]string{check.Name, result})
	}

	table.Render()

	return tableBuffer.String()
}

func renderVerdictTable(verdicts []m.Verdict) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"File", "Status", "Expected", "Actual", "Lines"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	for _, verdict := range verdicts {
		actual := strconv.Itoa(verdict.Actual)
		if verdict.Status == m.StatusNotLoaded {
			actual = dimStyle.Render("-")
		}

		table.Append([]string{
			string(verdict.Declaration.File),
			statusLabel(verdict),
			strconv.Itoa(verdict.Declaration.Uncovered),
			actual,
			formatLines(verdict.UncoveredLines),
		})
	}

	table.Render()

	return tableBuffer.String()
}

func statusLabel(verdict m.Verdict) string {
	switch {
	case verdict.Status == m.StatusOK:
		return passStyle.Render(verdict.Status.String())
	case verdict.Soft:
		return warnStyle.Render(verdict.Status.String() + " (warning)")
	default:
		return failStyle.Render(verdict.Status.String())
	}
}

const maxListedLines = 8

func formatLines(lines []int) string {
	if len(lines) == 0 {
		return ""
	}

	shown := lines
	if len(shown) > maxListedLines {
		shown = shown[:maxListedLines]
	}

	parts := make([]string, 0, len(shown)+1)
	for _, line := range shown {
		parts = append(parts, strconv.Itoa(line))
	}

	if len(lines) > len(shown) {
		parts = append(parts, fmt.Sprintf("+%d", len(lines)-len(shown)))
	}

	return strings.Join(parts, ",")
}

func summaryLine(report VerifyReport) string {
	failed, warned := 0, 0

	for _, verdict := range report.Verdicts {
		switch {
		case verdict.Status == m.StatusOK:
		case verdict.Soft:
			warned++
		default:
			failed++
		}
	}

	result := passStyle.Render("PASS")
	if !report.Passed {
		result = failStyle.Render("FAIL")
	}

	return fmt.Sprintf("%s: %d declaration(s), %d failing, %d warning(s)", result, len(report.Verdicts), failed, warned)
}
