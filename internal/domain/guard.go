package domain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"covguard.dev/pkg/covguard/internal/adapter"
)

// State is the lifecycle position of a Guard.
type State int

const (
	// StateIdle is the state before Arm.
	StateIdle State = iota
	// StateArmed means the recorder runs and verification is pending.
	StateArmed
	// StateSkipped means verification was disarmed for this run.
	StateSkipped
	// StateVerified means the end-of-run verification already happened.
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateSkipped:
		return "skipped"
	case StateVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithSkipWithoutCoverage disarms the guard instead of failing when the
// binary was built without coverage.
func WithSkipWithoutCoverage(skip bool) GuardOption {
	return func(g *Guard) {
		g.skipWithoutCoverage = skip
	}
}

// Guard ties the registry, recorder and verifier into the test binary's
// lifecycle: Arm before tests run, Finish with the run's exit status.
type Guard struct {
	mu                  sync.Mutex
	state               State
	registry            *Registry
	verifier            *Verifier
	recorder            adapter.CoverageRecorder
	host                adapter.TestHost
	warnings            io.Writer
	skipWithoutCoverage bool
}

// NewGuard constructs an idle Guard.
func NewGuard(
	registry *Registry,
	verifier *Verifier,
	recorder adapter.CoverageRecorder,
	host adapter.TestHost,
	warnings io.Writer,
	opts ...GuardOption,
) *Guard {
	g := &Guard{
		registry: registry,
		verifier: verifier,
		recorder: recorder,
		host:     host,
		warnings: warnings,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// State returns the current lifecycle state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

// Arm starts the recorder unless the run is filtered. It must be called
// before any test runs.
func (g *Guard) Arm(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateIdle {
		return ErrAlreadyArmed
	}

	if g.host.IsFilteredRun() {
		slog.Info("Filtered test run, coverage verification skipped")
		g.state = StateSkipped

		return nil
	}

	if !g.host.CoverageEnabled() {
		if g.skipWithoutCoverage {
			slog.Warn("Coverage disabled, coverage verification skipped")
			g.state = StateSkipped

			return nil
		}

		return ErrCoverageDisabled
	}

	if err := g.recorder.Start(ctx); err != nil {
		slog.Error("Failed to start coverage recorder", "error", err)
		return fmt.Errorf("start coverage recorder: %w", err)
	}

	g.state = StateArmed

	return nil
}

// NormalizeStatus maps the run outcome to an exit status: the code itself
// when nothing panicked, 1 when a panic is in flight.
func NormalizeStatus(code int, recovered any) int {
	if recovered != nil {
		return 1
	}

	return code
}

// Finish runs verification for a clean run and returns the exit status the
// process should use. A failing test run is never masked by coverage output.
func (g *Guard) Finish(ctx context.Context, code int, recovered any) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := NormalizeStatus(code, recovered)

	if g.state != StateArmed {
		return status
	}

	g.state = StateVerified

	if status != 0 {
		slog.Debug("Test run failed, coverage verification skipped", "status", status)
		return status
	}

	snapshot, err := g.recorder.Result(ctx)
	if err != nil {
		slog.Error("Failed to read coverage results", "error", err)
		g.warn(fmt.Sprintf("covguard: failed to read coverage results: %v", err))

		return 1
	}

	ok, lines := g.verifier.AllCovered(ctx, g.registry.Declarations(), snapshot)
	if len(lines) > 0 {
		g.warn(strings.Join(lines, "\n"))
	}

	if !ok {
		return 1
	}

	return status
}

func (g *Guard) warn(message string) {
	if g.warnings == nil {
		return
	}

	_, _ = fmt.Fprintln(g.warnings, message)
}
