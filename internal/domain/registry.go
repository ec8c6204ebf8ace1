package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"covguard.dev/pkg/covguard/internal/adapter"
	m "covguard.dev/pkg/covguard/internal/model"
)

// DeclareRequest describes one declaration call. Exactly one of Origin (the
// declaring test file, resolved through the Resolver) or File (an explicit
// root-relative source path) is used; File wins when both are set.
type DeclareRequest struct {
	Origin    string
	File      string
	Uncovered int
}

// Registry collects declarations made while tests load and hands them to the
// verifier once at the end of the run. Appends may come from parallel tests;
// reads happen after all tests finished.
type Registry struct {
	mu           sync.Mutex
	resolver     *Resolver
	fs           adapter.SourceFSAdapter
	declarations []m.Declaration
}

// NewRegistry constructs an empty Registry.
func NewRegistry(resolver *Resolver, fs adapter.SourceFSAdapter) *Registry {
	return &Registry{resolver: resolver, fs: fs}
}

// Declare validates req and appends the resulting declaration.
func (r *Registry) Declare(ctx context.Context, req DeclareRequest) (m.Declaration, error) {
	decl, err := r.build(ctx, req)
	if err != nil {
		return m.Declaration{}, err
	}

	r.mu.Lock()
	r.declarations = append(r.declarations, decl)
	r.mu.Unlock()

	slog.Debug("Declared coverage", "file", decl.File, "uncovered", decl.Uncovered, "origin", decl.Origin)

	return decl, nil
}

func (r *Registry) build(ctx context.Context, req DeclareRequest) (m.Declaration, error) {
	if req.Uncovered < 0 {
		return m.Declaration{}, fmt.Errorf("%w: %d", ErrNegativeUncovered, req.Uncovered)
	}

	if req.File != "" {
		if filepath.IsAbs(req.File) {
			return m.Declaration{}, fmt.Errorf("%w: %s", ErrAbsolutePath, req.File)
		}

		file := m.Path(filepath.ToSlash(filepath.Clean(req.File)))
		if !r.exists(ctx, file) {
			return m.Declaration{}, fmt.Errorf("%w: %s", ErrMissingFile, file)
		}

		return m.Declaration{File: file, Uncovered: req.Uncovered}, nil
	}

	file, err := r.resolver.Resolve(req.Origin)
	if err != nil {
		return m.Declaration{}, err
	}

	if !r.exists(ctx, file) {
		return m.Declaration{}, fmt.Errorf("%w: %s (guessed from %s)", ErrGuessedMissing, file, req.Origin)
	}

	return m.Declaration{File: file, Uncovered: req.Uncovered, Origin: m.Path(req.Origin)}, nil
}

func (r *Registry) exists(ctx context.Context, file m.Path) bool {
	info, err := r.fs.FileInfo(ctx, r.fs.JoinPath(ctx, string(r.resolver.Root()), string(file)))

	return err == nil && !info.IsDir()
}

// Declarations returns a copy of the declarations in insertion order.
func (r *Registry) Declarations() []m.Declaration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.declarations)
}

// Len returns the number of declarations made so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.declarations)
}

// Reset drops every declaration.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.declarations = nil
	r.mu.Unlock()
}
