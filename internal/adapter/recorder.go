package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/tools/cover"

	m "covguard.dev/pkg/covguard/internal/model"
)

// ErrRecorderStarted is returned when a recorder is started twice.
var ErrRecorderStarted = errors.New("coverage recorder already started")

// ErrRecorderNotStarted is returned when results are requested before Start.
var ErrRecorderNotStarted = errors.New("coverage recorder was never started")

// CoverageRecorder provides the per-line execution counts of a test process.
type CoverageRecorder interface {
	// Start must run before any test executes. It may be called once.
	Start(ctx context.Context) error
	// Result returns the recorded snapshot keyed by absolute file path.
	Result(ctx context.Context) (m.Snapshot, error)
}

// ProfileRecorder reads the text cover profile written by testing.M. When the
// user already asked for a profile it reads through that file, otherwise it
// points the binary at a private temporary profile.
type ProfileRecorder struct {
	root    m.Path
	host    TestHost
	fs      SourceFSAdapter
	profile string
	owned   m.Path
	started bool
}

// NewProfileRecorder constructs a recorder bound to the running test binary.
func NewProfileRecorder(root m.Path, host TestHost, fs SourceFSAdapter) *ProfileRecorder {
	return &ProfileRecorder{root: root, host: host, fs: fs}
}

// NewFileProfileRecorder constructs a recorder over an existing profile file.
func NewFileProfileRecorder(root m.Path, profile string, fs SourceFSAdapter) *ProfileRecorder {
	return &ProfileRecorder{root: root, profile: profile, fs: fs}
}

// Start arranges for a profile to be written at the end of the run.
func (r *ProfileRecorder) Start(ctx context.Context) error {
	if r.started {
		return ErrRecorderStarted
	}

	r.started = true

	if r.host == nil {
		return nil
	}

	if existing := r.host.CoverProfile(); existing != "" {
		slog.Debug("Reading through user cover profile", "profile", existing)
		r.profile = existing

		return nil
	}

	tmpDir, err := r.fs.CreateTempDir(ctx, "covguard-*")
	if err != nil {
		slog.Error("Failed to create temp dir", "error", err)
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	r.owned = tmpDir
	r.profile = string(r.fs.JoinPath(ctx, string(tmpDir), "cover.out"))

	if err := r.host.SetCoverProfile(r.profile); err != nil {
		slog.Error("Failed to set cover profile", "profile", r.profile, "error", err)
		return err
	}

	return nil
}

// Result parses the profile into a snapshot.
func (r *ProfileRecorder) Result(ctx context.Context) (m.Snapshot, error) {
	if !r.started {
		return m.Snapshot{}, ErrRecorderNotStarted
	}

	if r.owned != "" {
		defer func() {
			if err := r.fs.RemoveAll(ctx, r.owned); err != nil {
				slog.Error("Failed to cleanup temp dir", "tmpDir", r.owned, "error", err)
			}
		}()
	}

	return readProfile(ctx, r.fs, r.root, r.profile)
}

func readProfile(ctx context.Context, fs SourceFSAdapter, root m.Path, profile string) (m.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return m.Snapshot{}, err
	}

	profiles, err := cover.ParseProfiles(profile)
	if err != nil {
		slog.Error("Failed to parse cover profile", "profile", profile, "error", err)
		return m.Snapshot{}, fmt.Errorf("failed to parse cover profile: %w", err)
	}

	modulePath, err := fs.ModulePath(ctx, root)
	if err != nil {
		slog.Warn("Module path unavailable, only absolute profile names will map", "root", root, "error", err)
	}

	snapshot := SnapshotFromProfiles(root, modulePath, profiles, sourceLines(ctx, fs))
	addCounterless(ctx, fs, NewLocalGoFileAdapter(), root, snapshot)

	return snapshot, nil
}

// SourceLines returns the lines of file, or nil when it cannot be read.
type SourceLines func(file m.Path) []string

func sourceLines(ctx context.Context, fs SourceFSAdapter) SourceLines {
	return func(file m.Path) []string {
		src, err := fs.ReadFile(ctx, file)
		if err != nil {
			slog.Debug("Source unavailable, counting whole blocks", "file", file, "error", err)
			return nil
		}

		return strings.Split(string(src), "\n")
	}
}

// SnapshotFromProfiles converts cover profiles into per-line counters.
// Profile names inside modulePath are mapped under root; absolute names are
// kept; anything else is dropped. source may be nil.
func SnapshotFromProfiles(root m.Path, modulePath string, profiles []*cover.Profile, source SourceLines) m.Snapshot {
	snapshot := m.NewSnapshot()

	for _, profile := range profiles {
		file, ok := profileFile(root, modulePath, profile.FileName)
		if !ok {
			slog.Debug("Skipping profile outside module", "file", profile.FileName)
			continue
		}

		var lines []string
		if source != nil {
			lines = source(file)
		}

		snapshot.Files[file] = lineCounts(profile.Blocks, lines)
	}

	return snapshot
}

func profileFile(root m.Path, modulePath, name string) (m.Path, bool) {
	if filepath.IsAbs(name) {
		return m.Path(filepath.Clean(name)), true
	}

	if modulePath == "" {
		return "", false
	}

	rest, ok := strings.CutPrefix(name, modulePath+"/")
	if !ok {
		return "", false
	}

	return m.Path(filepath.Join(string(root), filepath.FromSlash(rest))), true
}

// lineCounts spreads block counts over the lines that hold code. A line
// touched by several blocks keeps the highest count, so it is uncovered only
// if every block on it is. Without source lines every line a block spans
// counts.
func lineCounts(blocks []cover.ProfileBlock, lines []string) m.LineCounts {
	maxLine := 0
	for _, block := range blocks {
		maxLine = max(maxLine, block.EndLine)
	}

	counts := make(m.LineCounts, maxLine)

	for _, block := range blocks {
		if block.NumStmt == 0 {
			continue
		}

		for line := block.StartLine; line <= block.EndLine; line++ {
			if lines != nil && !holdsCode(lines, block, line) {
				continue
			}

			current := counts[line-1]
			if current == nil || *current < int64(block.Count) {
				counts[line-1] = m.Count(int64(block.Count))
			}
		}
	}

	return counts
}

// holdsCode reports whether the part of line inside block is more than
// braces, blanks and a trailing comment. Blocks open at "{" and close just
// past "}", so the brace lines of a body are not code.
func holdsCode(lines []string, block cover.ProfileBlock, line int) bool {
	if line > len(lines) {
		return true
	}

	text := lines[line-1]

	end := len(text)
	if line == block.EndLine {
		end = min(end, max(block.EndCol-1, 0))
	}

	start := 0
	if line == block.StartLine {
		start = min(max(block.StartCol-1, 0), end)
	}

	segment := text[start:end]
	if i := strings.Index(segment, "//"); i >= 0 {
		segment = segment[:i]
	}

	return strings.Trim(segment, " \t\r{}") != ""
}

// addCounterless fills in the non-test Go files of profiled packages that
// carry no counters. Files without function bodies have no executable lines
// and get an empty entry. Files with bodies were left out of this build, for
// example by a build constraint, and are marked preloaded.
func addCounterless(ctx context.Context, fs SourceFSAdapter, goFile GoFileAdapter, root m.Path, snapshot m.Snapshot) {
	dirs := make(map[string]struct{})
	for file := range snapshot.Files {
		dirs[filepath.Dir(string(file))] = struct{}{}
	}

	for dir := range dirs {
		if !strings.HasPrefix(dir, string(root)) {
			continue
		}

		files, err := fs.Glob(ctx, m.Path(dir), []string{"*.go"}, []string{"*_test.go"})
		if err != nil {
			slog.Debug("Failed to list package files", "dir", dir, "error", err)
			continue
		}

		for _, file := range files {
			abs := m.Path(filepath.Join(dir, path.Base(string(file))))
			if _, ok := snapshot.Files[abs]; ok {
				continue
			}

			if hasBodies(ctx, fs, goFile, abs) {
				snapshot.Preloaded[abs] = true
				continue
			}

			snapshot.Files[abs] = m.LineCounts{}
		}
	}
}

func hasBodies(ctx context.Context, fs SourceFSAdapter, goFile GoFileAdapter, file m.Path) bool {
	src, err := fs.ReadFile(ctx, file)
	if err != nil {
		slog.Debug("Failed to read package file", "file", file, "error", err)
		return true
	}

	bodies, err := goFile.HasFunctionBodies(ctx, file, src)
	if err != nil {
		slog.Debug("Failed to parse package file", "file", file, "error", err)
		return true
	}

	return bodies
}
