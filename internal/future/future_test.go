package future

import (
	"testing"

	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/diagnostics"
)

func parse(t *testing.T, src string) ast.Mod {
	t.Helper()
	mod, err := ast.Decode([]byte(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return mod
}

func TestPreprocess_Flags(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want Flags
	}{
		{"none", `
node: Module
body:
  - {node: Pass}
`, 0},
		{"division", `
node: Module
body:
  - {node: ImportFrom, module: __future__, names: [division]}
`, Division},
		{"after docstring", `
node: Module
body:
  - {node: Expr, value: {node: Str, s: "doc"}}
  - {node: ImportFrom, module: __future__, names: [with_statement, absolute_import]}
`, WithStatement | AbsoluteImport},
		{"no-op features", `
node: Module
body:
  - {node: ImportFrom, module: __future__, names: [nested_scopes, generators]}
`, 0},
		{"contiguous run", `
node: Interactive
body:
  - {node: ImportFrom, module: __future__, names: [division]}
  - {node: ImportFrom, module: __future__, names: [absolute_import]}
`, Division | AbsoluteImport},
		{"run stops at other import", `
node: Module
body:
  - {node: ImportFrom, module: os, names: [path]}
  - {node: ImportFrom, module: __future__, names: [division]}
`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Preprocess(parse(t, tt.src), 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("flags = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreprocess_KnownFlagsMerged(t *testing.T) {
	mod := parse(t, `
node: Module
body:
  - {node: ImportFrom, module: __future__, names: [division]}
`)
	got, err := Preprocess(mod, AbsoluteImport)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Division() || !got.AbsoluteImport() || got.WithStatement() {
		t.Errorf("flags = %v", got)
	}

	expr := &ast.Expression{Body: &ast.Name{Id: "x"}}
	if got, _ := Preprocess(expr, Division); got != Division {
		t.Errorf("expression units keep the known flags, got %v", got)
	}
}

func TestPreprocess_Errors(t *testing.T) {
	tests := []struct {
		name    string
		feature string
		code    diagnostics.ErrorCode
		msg     string
	}{
		{"braces", "braces", diagnostics.ErrF002, "not a chance"},
		{"gil", "GIL", diagnostics.ErrF002, "Never going to happen!"},
		{"gil long", "global_interpreter_lock", diagnostics.ErrF002, "Never going to happen!"},
		{"unknown", "antigravity", diagnostics.ErrF001, "future feature antigravity is not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := &ast.Module{Body: []ast.Stmt{
				&ast.ImportFrom{Pos: ast.Pos{Line: 1, Col: 1}, Module: "__future__", Names: []*ast.Alias{{Name: tt.feature}}},
			}}
			_, err := Preprocess(mod, 0)
			d, ok := diagnostics.As(err)
			if !ok {
				t.Fatalf("expected diagnostic, got %v", err)
			}
			if d.Code != tt.code || d.Message != tt.msg {
				t.Errorf("got %s %q, want %s %q", d.Code, d.Message, tt.code, tt.msg)
			}
			if !diagnostics.IsFutureError(err) {
				t.Errorf("expected a future error")
			}
		})
	}

	star := &ast.Module{Body: []ast.Stmt{&ast.ImportFrom{Module: "__future__"}}}
	_, err := Preprocess(star, 0)
	if d, ok := diagnostics.As(err); !ok || d.Code != diagnostics.ErrF003 {
		t.Errorf("import * from __future__: got %v", err)
	}
}

func TestCheckFromFuture(t *testing.T) {
	late := &ast.ImportFrom{Module: "__future__", Names: []*ast.Alias{{Name: "division"}}}
	other := &ast.ImportFrom{Module: "os", Names: []*ast.Alias{{Name: "path"}}}
	head := &ast.ImportFrom{Module: "__future__", Names: []*ast.Alias{{Name: "division"}}}
	mod := &ast.Module{Body: []ast.Stmt{head, &ast.Pass{}, other, late}}

	if _, err := Preprocess(mod, 0); err != nil {
		t.Fatal(err)
	}
	if err := CheckFromFuture(head); err != nil {
		t.Errorf("leading future import rejected: %v", err)
	}
	if err := CheckFromFuture(other); err != nil {
		t.Errorf("plain import rejected: %v", err)
	}
	if !other.FutureChecked {
		t.Errorf("plain import not marked checked")
	}
	err := CheckFromFuture(late)
	if d, ok := diagnostics.As(err); !ok || d.Code != diagnostics.ErrF004 {
		t.Fatalf("late future import: got %v", err)
	}
}

func TestFromNames(t *testing.T) {
	f, err := FromNames([]string{"division", "generators"})
	if err != nil || f != Division {
		t.Errorf("FromNames = %v, %v", f, err)
	}
	if _, err := FromNames([]string{"braces"}); err == nil {
		t.Errorf("braces accepted")
	}
	if got := MustFromNames("with_statement", "absolute_import").String(); got != "with_statement,absolute_import" {
		t.Errorf("String = %q", got)
	}
}
