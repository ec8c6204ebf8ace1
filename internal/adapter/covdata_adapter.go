package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	m "covguard.dev/pkg/covguard/internal/model"
)

// CovdataAdapter abstracts the Go toolchain's binary coverage tooling.
type CovdataAdapter interface {
	// TextFormat converts a GOCOVERDIR directory into a text cover profile.
	// Returns the combined stdout/stderr output and any error.
	TextFormat(ctx context.Context, inputDir, outputFile string) (output string, err error)
}

// LocalCovdataAdapter runs `go tool covdata` through os/exec.
type LocalCovdataAdapter struct {
	timeout time.Duration
}

// NewLocalCovdataAdapter constructs a LocalCovdataAdapter with default 30s timeout.
func NewLocalCovdataAdapter() *LocalCovdataAdapter {
	return &LocalCovdataAdapter{
		timeout: 30 * time.Second,
	}
}

// TextFormat runs 'go tool covdata textfmt' on inputDir.
func (a *LocalCovdataAdapter) TextFormat(ctx context.Context, inputDir, outputFile string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// #nosec G204 - arguments are paths chosen by the caller, not shell input
	cmd := exec.CommandContext(ctx, "go", "tool", "covdata", "textfmt", "-i="+inputDir, "-o="+outputFile)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String() + stderr.String()

	return output, err
}

// CovdataRecorder reads coverage that a previous process wrote to GOCOVERDIR.
type CovdataRecorder struct {
	root    m.Path
	dir     m.Path
	fs      SourceFSAdapter
	tool    CovdataAdapter
	started bool
}

// NewCovdataRecorder constructs a recorder over a GOCOVERDIR directory.
func NewCovdataRecorder(root, dir m.Path, fs SourceFSAdapter, tool CovdataAdapter) *CovdataRecorder {
	return &CovdataRecorder{root: root, dir: dir, fs: fs, tool: tool}
}

// Start checks that the coverage directory exists; the data itself was
// recorded by the process that wrote it.
func (r *CovdataRecorder) Start(ctx context.Context) error {
	if r.started {
		return ErrRecorderStarted
	}

	info, err := r.fs.FileInfo(ctx, r.dir)
	if err != nil {
		slog.Error("Coverage directory unavailable", "dir", r.dir, "error", err)
		return fmt.Errorf("coverage directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("coverage directory: %s is not a directory", r.dir)
	}

	r.started = true

	return nil
}

// Result converts the directory to a text profile and parses it.
func (r *CovdataRecorder) Result(ctx context.Context) (m.Snapshot, error) {
	if !r.started {
		return m.Snapshot{}, ErrRecorderNotStarted
	}

	tmpDir, err := r.fs.CreateTempDir(ctx, "covguard-covdata-*")
	if err != nil {
		slog.Error("Failed to create temp dir", "error", err)
		return m.Snapshot{}, fmt.Errorf("failed to create temp dir: %w", err)
	}

	defer func() {
		if err := r.fs.RemoveAll(ctx, tmpDir); err != nil {
			slog.Error("Failed to cleanup temp dir", "tmpDir", tmpDir, "error", err)
		}
	}()

	profile := string(r.fs.JoinPath(ctx, string(tmpDir), "cover.out"))

	output, err := r.tool.TextFormat(ctx, string(r.dir), profile)
	if err != nil {
		slog.Error("covdata textfmt failed", "dir", r.dir, "output", output, "error", err)
		return m.Snapshot{}, fmt.Errorf("covdata textfmt: %w: %s", err, output)
	}

	return readProfile(ctx, r.fs, r.root, profile)
}
