package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	m "covguard.dev/pkg/covguard/internal/model"
)

// Convention names accepted by ConventionByName.
const (
	ConventionClassic = "classic"
	ConventionGo      = "go"
)

// RootMapping sends test files under Folder to sources under Root.
type RootMapping struct {
	Folder string
	Root   string
}

// Convention describes how test paths map to source paths.
type Convention struct {
	// Markers are directory names that separate a subproject from the test tree.
	Markers []string
	// Roots is checked in order; the first matching folder wins.
	Roots []RootMapping
	// LibRoot prefixes everything that matched no entry in Roots.
	LibRoot string
	// Suffixes are stripped from the file stem (before the extension).
	Suffixes []string
	// Prefixes are stripped from the base name when no suffix matched.
	Prefixes []string
	// Colocated allows test files that live next to their sources.
	Colocated bool
}

// ApplicationFolders are the folders whose tests correspond to sources under "app".
var ApplicationFolders = []string{
	"models", "serializers", "helpers", "controllers", "mailers", "views", "jobs", "channels",
}

// ClassicConvention maps test/ and spec/ trees onto app/ and lib/.
func ClassicConvention() Convention {
	roots := make([]RootMapping, 0, len(ApplicationFolders))
	for _, folder := range ApplicationFolders {
		roots = append(roots, RootMapping{Folder: folder, Root: "app"})
	}

	return Convention{
		Markers:  []string{"test", "spec"},
		Roots:    roots,
		LibRoot:  "lib",
		Suffixes: []string{"_test", "_spec"},
		Prefixes: []string{"test_"},
	}
}

// GoConvention maps foo_test.go to foo.go in the same directory. Directories
// named test or spec are ordinary packages here, not markers.
func GoConvention() Convention {
	return Convention{
		Suffixes:  []string{"_test"},
		Colocated: true,
	}
}

// ConventionByName returns a named convention.
func ConventionByName(name string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ConventionClassic, "":
		return ClassicConvention(), nil
	case ConventionGo:
		return GoConvention(), nil
	}

	return Convention{}, fmt.Errorf("%w: %q", ErrUnknownConvention, name)
}

// RewriteFunc adjusts a resolved path for project-specific layouts.
type RewriteFunc func(m.Path) m.Path

// callSite matches "file.ext:12", "file.ext:12:3" and "file.ext:12:in `block`".
var callSite = regexp.MustCompile(`^(.+?\.\w+):\d+(?::.*)?$`)

// Resolver maps test file paths to the source files they are presumed to test.
type Resolver struct {
	root       string
	convention Convention
	rewrite    RewriteFunc
}

// NewResolver constructs a Resolver rooted at root. rewrite may be nil.
func NewResolver(root m.Path, convention Convention, rewrite RewriteFunc) *Resolver {
	return &Resolver{
		root:       filepath.Clean(string(root)),
		convention: convention,
		rewrite:    rewrite,
	}
}

// Root returns the project root the resolver strips from paths.
func (r *Resolver) Root() m.Path {
	return m.Path(r.root)
}

// Resolve returns the root-relative source path for testFile.
func (r *Resolver) Resolve(testFile string) (m.Path, error) {
	file := stripCallSite(testFile)

	rel, err := r.relative(file)
	if err != nil {
		return "", &ResolveError{Path: testFile, Reason: err}
	}

	subfolder, remainder, found := r.splitMarker(rel)

	switch {
	case found:
		remainder = r.classify(remainder)
	case r.convention.Colocated:
		remainder = rel
	default:
		return "", &ResolveError{Path: rel, Reason: ErrNoTestDir}
	}

	stripped, ok := r.stripTestAffix(remainder)
	if !ok {
		return "", &ResolveError{Path: rel, Reason: ErrNoTestSuffix}
	}

	if subfolder != "" {
		stripped = subfolder + "/" + stripped
	}

	resolved := m.Path(stripped)
	if r.rewrite != nil {
		resolved = r.rewrite(resolved)
	}

	return resolved, nil
}

func stripCallSite(file string) string {
	if match := callSite.FindStringSubmatch(file); match != nil {
		return match[1]
	}

	return file
}

func (r *Resolver) relative(file string) (string, error) {
	abs := file
	if !filepath.IsAbs(abs) {
		var err error

		abs, err = filepath.Abs(file)
		if err != nil {
			return "", err
		}
	}

	abs = filepath.ToSlash(filepath.Clean(abs))
	root := filepath.ToSlash(r.root)

	return strings.TrimPrefix(abs, strings.TrimSuffix(root, "/")+"/"), nil
}

// splitMarker splits rel on the first directory segment that is a marker.
func (r *Resolver) splitMarker(rel string) (string, string, bool) {
	segments := strings.Split(rel, "/")

	for i := 0; i < len(segments)-1; i++ {
		if slices.Contains(r.convention.Markers, segments[i]) {
			return strings.Join(segments[:i], "/"), strings.Join(segments[i+1:], "/"), true
		}
	}

	return "", "", false
}

func (r *Resolver) classify(remainder string) string {
	for _, mapping := range r.convention.Roots {
		if strings.HasPrefix(remainder, mapping.Folder+"/") {
			return mapping.Root + "/" + remainder
		}
	}

	lib := r.convention.LibRoot
	if lib == "" || strings.HasPrefix(remainder, lib+"/") {
		return remainder
	}

	return lib + "/" + remainder
}

func (r *Resolver) stripTestAffix(file string) (string, bool) {
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	base := path.Base(stem)

	for _, suffix := range r.convention.Suffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			return strings.TrimSuffix(stem, suffix) + ext, true
		}
	}

	for _, prefix := range r.convention.Prefixes {
		if strings.HasPrefix(base, prefix) && len(base) > len(prefix) {
			return path.Join(path.Dir(stem), strings.TrimPrefix(base, prefix)) + ext, true
		}
	}

	return "", false
}
