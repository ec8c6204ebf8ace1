package controller

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	m "covguard.dev/pkg/covguard/internal/model"
)

// TUI implements UI using Bubble Tea for interactive display.
type TUI struct {
	output io.Writer
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// DisplayResolutions prints the resolution table; it is always short enough
// to print directly.
func (p *TUI) DisplayResolutions(ctx context.Context, resolutions []Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := fmt.Fprint(p.output, renderHeader()+renderResolutionTable(resolutions))

	return err
}

// DisplayChecks prints the completeness checks.
func (p *TUI) DisplayChecks(ctx context.Context, checks []Check) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder

	b.WriteString(renderHeader())
	b.WriteString(renderCheckTable(checks))

	for _, check := range checks {
		if check.Err != nil {
			fmt.Fprintf(&b, "\n%s\n", check.Err)
		}
	}

	_, err := fmt.Fprint(p.output, b.String())

	return err
}

// DisplayVerifyReport shows verdicts in a scrollable view when they do not
// fit on screen.
func (p *TUI) DisplayVerifyReport(ctx context.Context, report VerifyReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	model := newVerdictsModel(report)

	if f, ok := p.output.(*os.File); ok {
		width, height, err := term.GetSize(int(f.Fd()))
		if err == nil {
			model.height = height
			model.width = width
		}
	}

	// If the list is small, just print and exit
	if !model.needsPagination() {
		if _, err := fmt.Fprint(p.output, model.View()); err != nil {
			return err
		}

		writeDiagnostics(p.output, report.Diagnostics)

		return nil
	}

	program := tea.NewProgram(model, tea.WithOutput(p.output), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return err
	}

	// The alternate screen is gone once the program exits.
	writeDiagnostics(p.output, report.Diagnostics)

	return nil
}

func renderHeader() string {
	var b strings.Builder

	b.WriteString("╔════════════════════════════════════════════════════════════════╗\n")
	b.WriteString("║                  covguard - Coverage Contract                  ║\n")
	b.WriteString("╚════════════════════════════════════════════════════════════════╝\n")

	return b.String()
}

// verdictsModel is the Bubble Tea model for browsing verification verdicts.
type verdictsModel struct {
	report   VerifyReport
	lines    []string
	height   int
	width    int
	offset   int
	quitting bool
}

// reservedLines covers the header box, title, summary and footer.
const reservedLines = 11

func newVerdictsModel(report VerifyReport) verdictsModel {
	return verdictsModel{
		report: report,
		lines:  buildVerdictLines(report.Verdicts),
	}
}

func buildVerdictLines(verdicts []m.Verdict) []string {
	lines := []string{}

	for _, verdict := range verdicts {
		icon := "✓"

		switch {
		case verdict.Status == m.StatusOK:
		case verdict.Soft:
			icon = "?"
		default:
			icon = "✗"
		}

		lines = append(lines, fmt.Sprintf("  %s %s: %s", icon, verdict.Declaration.File, statusLabel(verdict)))

		if verdict.Status == m.StatusNotLoaded {
			continue
		}

		lines = append(lines, fmt.Sprintf("    expected %d uncovered, found %d", verdict.Declaration.Uncovered, verdict.Actual))

		if verdict.Status == m.StatusMismatch && !verdict.Soft {
			for _, line := range verdict.UncoveredLines {
				lines = append(lines, fmt.Sprintf("    %s:%d", verdict.Declaration.File, line))
			}
		}
	}

	return lines
}

func (vm verdictsModel) Init() tea.Cmd {
	return nil
}

func (vm verdictsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		vm.height = msg.Height
		vm.width = msg.Width

		return vm, nil

	case tea.KeyMsg:
		return vm.handleKeyPress(msg)
	}

	return vm, nil
}

func (vm verdictsModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	//nolint:exhaustive // We only handle specific navigation keys
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		vm.quitting = true
		return vm, tea.Quit
	default:
	}

	switch msg.String() {
	case "q":
		vm.quitting = true
		return vm, tea.Quit

	case "down", "j":
		return vm.scrollTo(vm.offset + 1), nil

	case "up", "k":
		return vm.scrollTo(vm.offset - 1), nil

	case "g", "home":
		return vm.scrollTo(0), nil

	case "G", "end":
		return vm.scrollTo(vm.maxOffset()), nil

	case "d", "pgdown":
		return vm.scrollTo(vm.offset + vm.itemsPerPage()), nil

	case "u", "pgup":
		return vm.scrollTo(vm.offset - vm.itemsPerPage()), nil
	}

	return vm, nil
}

func (vm verdictsModel) scrollTo(offset int) verdictsModel {
	vm.offset = min(max(offset, 0), vm.maxOffset())

	return vm
}

func (vm verdictsModel) itemsPerPage() int {
	if vm.height == 0 {
		return 10
	}

	available := vm.height - reservedLines
	if available < 1 {
		return 1
	}

	return available
}

func (vm verdictsModel) maxOffset() int {
	return max(len(vm.lines)-vm.itemsPerPage(), 0)
}

func (vm verdictsModel) needsPagination() bool {
	if len(vm.lines) == 0 || vm.height == 0 {
		return false
	}

	return len(vm.lines) > vm.itemsPerPage()
}

func (vm verdictsModel) View() string {
	var b strings.Builder

	b.WriteString(renderHeader())
	b.WriteString("  Coverage verdicts:\n\n")

	if len(vm.lines) == 0 {
		b.WriteString("  No declarations found\n")
		return b.String()
	}

	visible := vm.lines
	if vm.needsPagination() {
		end := min(vm.offset+vm.itemsPerPage(), len(vm.lines))
		visible = vm.lines[vm.offset:end]
	}

	for _, line := range visible {
		fmt.Fprintf(&b, "%s\n", line)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s\n", summaryLine(vm.report))

	if vm.needsPagination() {
		end := min(vm.offset+vm.itemsPerPage(), len(vm.lines))

		b.WriteString("\n")
		fmt.Fprintf(&b, "  Lines %d-%d of %d | %d declarations total\n",
			vm.offset+1, end, len(vm.lines), len(vm.report.Verdicts))
		b.WriteString("  ↑/k: up | ↓/j: down | g: top | G: bottom | q: quit\n")
	}

	return b.String()
}
