// Package future recognizes `from __future__ import ...` statements at the
// head of a compilation unit and turns them into feature flags.
package future

import (
	"fmt"
	"strings"

	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
)

// Flags is the set of future features in effect for a unit.
type Flags uint8

const (
	Division Flags = 1 << iota
	WithStatement
	AbsoluteImport
)

// Division reports whether `/` means true division.
func (f Flags) Division() bool { return f&Division != 0 }

// WithStatement reports whether the with_statement feature was imported.
func (f Flags) WithStatement() bool { return f&WithStatement != 0 }

// AbsoluteImport reports whether imports default to absolute.
func (f Flags) AbsoluteImport() bool { return f&AbsoluteImport != 0 }

// Or merges two flag sets.
func (f Flags) Or(other Flags) Flags { return f | other }

func (f Flags) String() string {
	var parts []string
	if f.Division() {
		parts = append(parts, config.FeatureDivision)
	}
	if f.WithStatement() {
		parts = append(parts, config.FeatureWithStatement)
	}
	if f.AbsoluteImport() {
		parts = append(parts, config.FeatureAbsoluteImport)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// FromNames builds flags from feature names, as listed in pybc.yaml.
// No-op features are accepted and contribute nothing.
func FromNames(names []string) (Flags, error) {
	var f Flags
	for _, name := range names {
		bit, err := feature(name, nil)
		if err != nil {
			return 0, err
		}
		f |= bit
	}
	return f, nil
}

// feature maps one feature name to its flag bit.
func feature(name string, node ast.Node) (Flags, error) {
	switch name {
	case config.FeatureNestedScopes, config.FeatureGenerators:
		return 0, nil
	case config.FeatureDivision:
		return Division, nil
	case config.FeatureWithStatement:
		return WithStatement, nil
	case config.FeatureAbsoluteImport:
		return AbsoluteImport, nil
	case config.FeatureBraces:
		return 0, diagnostics.NewError(diagnostics.ErrF002, node, "not a chance")
	case config.FeatureGIL, config.FeatureGILLong:
		return 0, diagnostics.NewError(diagnostics.ErrF002, node, "Never going to happen!")
	}
	return 0, diagnostics.NewError(diagnostics.ErrF001, node, "future feature %s is not defined", name)
}

// check validates a candidate future import. It reports false when the
// statement imports from some other module.
func check(stmt *ast.ImportFrom) (Flags, bool, error) {
	if stmt.Module != config.FutureModuleName {
		return 0, false, nil
	}
	if len(stmt.Names) == 0 {
		return 0, false, diagnostics.NewError(diagnostics.ErrF003, stmt, "future statement does not support import *")
	}
	var f Flags
	for _, alias := range stmt.Names {
		bit, err := feature(alias.Name, stmt)
		if err != nil {
			return 0, false, err
		}
		f |= bit
	}
	return f, true, nil
}

// Preprocess scans the leading run of future imports of mod and returns
// the resulting flags merged with known. Every ImportFrom in the run is
// marked checked so CheckFromFuture accepts it later.
func Preprocess(mod ast.Mod, known Flags) (Flags, error) {
	var body []ast.Stmt
	switch m := mod.(type) {
	case *ast.Module:
		body = m.Body
		if _, ok := ast.Docstring(body); ok {
			body = body[1:]
		}
	case *ast.Interactive:
		body = m.Body
	default:
		return known, nil
	}

	flags := known
	for _, stmt := range body {
		imp, ok := stmt.(*ast.ImportFrom)
		if !ok {
			break
		}
		imp.FutureChecked = true
		f, isFuture, err := check(imp)
		if err != nil {
			return known, err
		}
		if !isFuture {
			break
		}
		flags |= f
	}
	return flags, nil
}

// CheckFromFuture rejects a future import found outside the leading run.
// Other imports are marked checked and pass.
func CheckFromFuture(stmt *ast.ImportFrom) error {
	if stmt.FutureChecked {
		return nil
	}
	if stmt.Module == config.FutureModuleName {
		return diagnostics.NewError(diagnostics.ErrF004, stmt,
			"from __future__ imports must occur at the beginning of the file")
	}
	stmt.FutureChecked = true
	return nil
}

// MustFromNames is FromNames for constant feature lists.
func MustFromNames(names ...string) Flags {
	f, err := FromNames(names)
	if err != nil {
		panic(fmt.Sprintf("future: %v", err))
	}
	return f
}
