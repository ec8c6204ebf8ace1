package adapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	m "covguard.dev/pkg/covguard/internal/model"
)

// GuardImportPath is the package whose declaration helpers are recognized.
const GuardImportPath = "covguard.dev/pkg/covguard/pkg/covguard"

// Names of the declaration helpers recognized when scanning test files.
const (
	CoveredFunc     = "Covered"
	CoveredFileFunc = "CoveredFile"
	NotCoveredFunc  = "NotCovered"
	UncoveredOption = "Uncovered"
	FileOption      = "File"
)

var (
	textDeclaration = regexp.MustCompile(`(?i)\b(not_?covered|covered(?:_?file)?)(!|\s*\()`)
	textUncovered   = regexp.MustCompile(`(?i)\buncovered(?:\s*:\s*|\s*\(\s*)(\d+)`)
	textFile        = regexp.MustCompile(`(?i)\bfile(?:\s*:\s*|\s*\(\s*)"([^"]+)"`)
)

// GoFileAdapter encapsulates source parsing so the domain layer can find
// coverage declarations and marker comments without knowing how files are
// read or which language they are written in.
type GoFileAdapter interface {
	// Parse builds an AST using the provided file set and optional source bytes.
	Parse(ctx context.Context, fileSet *token.FileSet, filename string, src []byte) (*ast.File, error)

	// ScanDeclarations finds Covered/NotCovered calls in a test file. Go files
	// are inspected through their AST, anything else line by line.
	ScanDeclarations(ctx context.Context, path m.Path, src []byte) ([]m.DeclarationCall, error)

	// MarkedLines returns the 1-based lines carrying an inline marker comment.
	MarkedLines(src []byte, marker string) map[int]bool

	// HasFunctionBodies reports whether a Go file holds statements inside a
	// function or function literal, where coverage counters are placed.
	HasFunctionBodies(ctx context.Context, path m.Path, src []byte) (bool, error)
}

// LocalGoFileAdapter provides a concrete GoFileAdapter backed by go/parser.
type LocalGoFileAdapter struct{}

// NewLocalGoFileAdapter constructs a LocalGoFileAdapter.
func NewLocalGoFileAdapter() *LocalGoFileAdapter {
	return &LocalGoFileAdapter{}
}

// Parse builds an AST for the provided filename/source pair.
func (a *LocalGoFileAdapter) Parse(ctx context.Context, fileSet *token.FileSet, filename string, src []byte) (*ast.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return parser.ParseFile(fileSet, filename, src, parser.ParseComments)
}

// ScanDeclarations returns every declaration call found in src.
func (a *LocalGoFileAdapter) ScanDeclarations(ctx context.Context, path m.Path, src []byte) ([]m.DeclarationCall, error) {
	if filepath.Ext(string(path)) != ".go" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		return scanText(path, src), nil
	}

	fileSet := token.NewFileSet()

	file, err := a.Parse(ctx, fileSet, string(path), src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	qualifiers := guardQualifiers(file)
	if len(qualifiers) == 0 {
		return nil, nil
	}

	var calls []m.DeclarationCall

	ast.Inspect(file, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpr)
		if !ok {
			return true
		}

		switch guardCallee(call.Fun, qualifiers) {
		case NotCoveredFunc:
			calls = append(calls, m.DeclarationCall{
				Test:       path,
				NotCovered: true,
				Line:       fileSet.Position(call.Pos()).Line,
			})

			return false
		case CoveredFunc:
			decl := m.DeclarationCall{
				Test: path,
				Line: fileSet.Position(call.Pos()).Line,
			}
			applyOptions(&decl, call.Args, qualifiers)
			calls = append(calls, decl)

			return false
		case CoveredFileFunc:
			decl := m.DeclarationCall{
				Test: path,
				Line: fileSet.Position(call.Pos()).Line,
			}
			applyPositional(&decl, call.Args)
			calls = append(calls, decl)

			return false
		}

		return true
	})

	return calls, nil
}

// HasFunctionBodies reports whether src declares a non-empty function body or
// literal.
func (a *LocalGoFileAdapter) HasFunctionBodies(ctx context.Context, path m.Path, src []byte) (bool, error) {
	file, err := a.Parse(ctx, token.NewFileSet(), string(path), src)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}

	found := false

	ast.Inspect(file, func(node ast.Node) bool {
		switch fn := node.(type) {
		case *ast.FuncDecl:
			found = found || (fn.Body != nil && len(fn.Body.List) > 0)
		case *ast.FuncLit:
			found = found || len(fn.Body.List) > 0
		}

		return !found
	})

	return found, nil
}

// applyOptions reads literal Uncovered(n) and File("...") option arguments.
func applyOptions(decl *m.DeclarationCall, args []ast.Expr, qualifiers map[string]bool) {
	for _, arg := range args {
		option, ok := arg.(*ast.CallExpr)
		if !ok || len(option.Args) != 1 {
			continue
		}

		lit, ok := option.Args[0].(*ast.BasicLit)
		if !ok {
			continue
		}

		switch guardCallee(option.Fun, qualifiers) {
		case UncoveredOption:
			if lit.Kind != token.INT {
				continue
			}

			if n, err := strconv.Atoi(lit.Value); err == nil {
				decl.Uncovered = n
			}
		case FileOption:
			if lit.Kind != token.STRING {
				continue
			}

			if value, err := strconv.Unquote(lit.Value); err == nil {
				decl.File = m.Path(value)
			}
		}
	}
}

// applyPositional reads CoveredFile("path", n) literal arguments.
func applyPositional(decl *m.DeclarationCall, args []ast.Expr) {
	if len(args) > 0 {
		if lit, ok := args[0].(*ast.BasicLit); ok && lit.Kind == token.STRING {
			if value, err := strconv.Unquote(lit.Value); err == nil {
				decl.File = m.Path(value)
			}
		}
	}

	if len(args) > 1 {
		if lit, ok := args[1].(*ast.BasicLit); ok && lit.Kind == token.INT {
			if n, err := strconv.Atoi(lit.Value); err == nil {
				decl.Uncovered = n
			}
		}
	}
}

// guardQualifiers returns the names file uses for the guard package. A dot
// import is recorded as "".
func guardQualifiers(file *ast.File) map[string]bool {
	qualifiers := make(map[string]bool)

	for _, spec := range file.Imports {
		importPath, err := strconv.Unquote(spec.Path.Value)
		if err != nil || importPath != GuardImportPath {
			continue
		}

		switch {
		case spec.Name == nil:
			qualifiers[path.Base(importPath)] = true
		case spec.Name.Name == ".":
			qualifiers[""] = true
		case spec.Name.Name != "_":
			qualifiers[spec.Name.Name] = true
		}
	}

	return qualifiers
}

// guardCallee returns the helper name when expr refers to the guard package,
// and "" for every other function or method.
func guardCallee(expr ast.Expr, qualifiers map[string]bool) string {
	switch fun := expr.(type) {
	case *ast.Ident:
		if qualifiers[""] {
			return fun.Name
		}
	case *ast.SelectorExpr:
		if pkg, ok := fun.X.(*ast.Ident); ok && qualifiers[pkg.Name] {
			return fun.Sel.Name
		}
	}

	return ""
}

func scanText(path m.Path, src []byte) []m.DeclarationCall {
	var calls []m.DeclarationCall

	scanner := bufio.NewScanner(bytes.NewReader(src))
	line := 0

	for scanner.Scan() {
		line++
		text := scanner.Text()

		match := textDeclaration.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		decl := m.DeclarationCall{
			Test:       path,
			Line:       line,
			NotCovered: strings.HasPrefix(strings.ToLower(match[1]), "not"),
		}

		if n := textUncovered.FindStringSubmatch(text); n != nil {
			decl.Uncovered, _ = strconv.Atoi(n[1])
		}

		if f := textFile.FindStringSubmatch(text); f != nil {
			decl.File = m.Path(f[1])
		}

		calls = append(calls, decl)
	}

	return calls
}

// MarkedLines finds lines with a "// marker" or "# marker" comment.
func (a *LocalGoFileAdapter) MarkedLines(src []byte, marker string) map[int]bool {
	lines := make(map[int]bool)
	if marker == "" {
		return lines
	}

	pattern := regexp.MustCompile(`(//|#)\s*` + regexp.QuoteMeta(marker) + `\b`)
	scanner := bufio.NewScanner(bytes.NewReader(src))
	line := 0

	for scanner.Scan() {
		line++

		if pattern.MatchString(scanner.Text()) {
			lines[line] = true
		}
	}

	return lines
}
