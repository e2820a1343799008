package vm

import (
	"strings"
	"testing"

	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/symbols"
)

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code diagnostics.ErrorCode
	}{
		{
			name: "break outside loop",
			src: `
node: Module
body: [{node: Break}]
`,
			code: diagnostics.ErrC001,
		},
		{
			name: "continue outside loop",
			src: `
node: Module
body:
  - node: If
    test: {node: Num, n: 1}
    body: [{node: Continue}]
`,
			code: diagnostics.ErrC002,
		},
		{
			name: "continue inside finally",
			src: `
node: Module
body:
  - node: While
    test: {node: Num, n: 1}
    body:
      - node: TryFinally
        body: [{node: Pass}]
        finalbody: [{node: Continue}]
`,
			code: diagnostics.ErrC002,
		},
		{
			name: "yield inside try finally",
			src: `
node: Module
body:
  - node: FunctionDef
    name: g
    body:
      - node: TryFinally
        body: [{node: Expr, value: {node: Yield, value: {node: Num, n: 1}}}]
        finalbody: [{node: Pass}]
`,
			code: diagnostics.ErrC003,
		},
		{
			name: "yield inside finally body",
			src: `
node: Module
body:
  - node: FunctionDef
    name: g
    body:
      - node: TryFinally
        body: [{node: Pass}]
        finalbody: [{node: Expr, value: {node: Yield, value: {node: Num, n: 1}}}]
`,
			code: diagnostics.ErrC003,
		},
		{
			name: "yield inside loop inside finally body",
			src: `
node: Module
body:
  - node: FunctionDef
    name: g
    body:
      - node: TryFinally
        body: [{node: Pass}]
        finalbody:
          - node: For
            target: {node: Name, id: i, ctx: store}
            iter: {node: List, elts: [{node: Num, n: 1}]}
            body: [{node: Expr, value: {node: Yield, value: {node: Name, id: i}}}]
`,
			code: diagnostics.ErrC003,
		},
		{
			name: "bare except not last",
			src: `
node: Module
body:
  - node: TryExcept
    body: [{node: Pass}]
    handlers:
      - {node: excepthandler, body: [{node: Pass}]}
      - {node: excepthandler, type: {node: Name, id: ValueError}, body: [{node: Pass}]}
`,
			code: diagnostics.ErrC004,
		},
		{
			name: "delete of a cell variable",
			src: `
node: Module
body:
  - node: FunctionDef
    name: f
    body:
      - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 1}}
      - node: FunctionDef
        name: g
        body: [{node: Return, value: {node: Name, id: x}}]
      - {node: Delete, targets: [{node: Name, id: x, ctx: del}]}
`,
			code: diagnostics.ErrC006,
		},
		{
			name: "string constant too long",
			src: `
node: Module
body:
  - {node: Expr, value: {node: Str, s: ` + strings.Repeat("a", config.MaxStringConstant+1) + `}}
`,
			code: diagnostics.ErrC005,
		},
		{
			name: "parameter declared global",
			src: `
node: Module
body:
  - node: FunctionDef
    name: f
    args: {node: arguments, args: [{node: Name, id: x, ctx: param}]}
    body: [{node: Global, names: [x]}]
`,
			code: diagnostics.ErrS001,
		},
		{
			name: "unknown future feature",
			src: `
node: Module
body:
  - {node: ImportFrom, module: __future__, names: [antigravity]}
`,
			code: diagnostics.ErrF001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(decode(t, tt.src), 0, WithFile("test.yaml"))
			if err == nil {
				t.Fatalf("expected %s, compiled cleanly", tt.code)
			}
			d, ok := diagnostics.As(err)
			if !ok {
				t.Fatalf("expected a diagnostic, got %T: %s", err, err)
			}
			if d.Code != tt.code {
				t.Errorf("code = %s, want %s (%s)", d.Code, tt.code, err)
			}
			if d.File != "test.yaml" {
				t.Errorf("file = %q, want test.yaml", d.File)
			}
		})
	}
}

func TestGenerate_RequiresAnalyzedScope(t *testing.T) {
	src := `
node: Module
body: [{node: Pass}]
`
	analyzed := decode(t, src)
	tree, _, err := symbols.Analyze(analyzed)
	if err != nil {
		t.Fatalf("analyze: %s", err)
	}
	if _, err := Generate(analyzed, tree, 0); err != nil {
		t.Fatalf("generate with its own tree: %s", err)
	}

	_, err = Generate(decode(t, src), tree, 0, WithFile("other.yaml"))
	d, ok := diagnostics.As(err)
	if !ok || d.Code != diagnostics.ErrC007 {
		t.Fatalf("err = %v, want %s", err, diagnostics.ErrC007)
	}
}

func TestCompile_WarningsAreForwarded(t *testing.T) {
	src := `
node: Module
body:
  - node: FunctionDef
    name: f
    body:
      - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 1}}
      - {node: Global, names: [x]}
`
	var warnings []*diagnostics.DiagnosticError
	unit, err := Compile(decode(t, src), 0, WithWarnings(func(d *diagnostics.DiagnosticError) {
		warnings = append(warnings, d)
	}))
	if err != nil {
		t.Fatalf("warning treated as fatal: %s", err)
	}
	if len(warnings) != 1 || warnings[0].Code != diagnostics.ErrS002 {
		t.Fatalf("warnings = %v, want one S002", warnings)
	}
	f := findUnit(t, unit, "f")
	for _, ins := range f.Code {
		if ins.Op == OP_STORE_FAST {
			t.Errorf("global x stored as a fast local:\n%s", Disassemble(f))
		}
	}
}

func TestCompile_FixturesVerify(t *testing.T) {
	for name, src := range map[string]string{
		"generator":     generatorSrc,
		"closure":       closureSrc,
		"finally loops": finallyLoopSrc,
	} {
		t.Run(name, func(t *testing.T) {
			unit := compileSource(t, src, 0)
			depth, err := Verify(unit)
			if err != nil {
				t.Fatalf("verify: %s", err)
			}
			if depth > unit.MaxStack {
				t.Errorf("verified depth %d exceeds recorded MaxStack %d", depth, unit.MaxStack)
			}
		})
	}
}

func TestCompile_LineNumbers(t *testing.T) {
	src := `
node: Module
body:
  - {node: Assign, line: 1, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 1}}
  - {node: Assign, line: 4, targets: [{node: Name, id: y, ctx: store}], value: {node: Num, n: 2}}
`
	unit, err := Compile(decode(t, src), 0)
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if len(unit.LineTable) < 2 {
		t.Fatalf("line table = %v, want two entries", unit.LineTable)
	}
	if got := unit.LineAt(len(unit.Code) - 1); got != 4 {
		t.Errorf("line of last instruction = %d, want 4", got)
	}

	unit, err = Compile(decode(t, src), 0, WithLineNumbers(false))
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if len(unit.LineTable) != 0 {
		t.Errorf("line table emitted with line numbers off: %v", unit.LineTable)
	}
}

func TestCompile_ModuleDocstring(t *testing.T) {
	src := `
node: Module
body:
  - {node: Expr, value: {node: Str, s: Module docs.}}
  - node: FunctionDef
    name: f
    body:
      - {node: Expr, value: {node: Str, s: Function docs.}}
      - {node: Pass}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Attribute, value: {node: Name, id: f}, attr: __doc__}}
`
	unit := compileSource(t, src, 0)
	if got := findUnit(t, unit, "f").Doc; got != "Function docs." {
		t.Errorf("f.Doc = %q", got)
	}
	machine, _ := runSource(t, src)
	if got := globalRepr(t, machine, config.DocName); got != "'Module docs.'" {
		t.Errorf("__doc__ = %s", got)
	}
	if got := globalRepr(t, machine, "r"); got != "'Function docs.'" {
		t.Errorf("f.__doc__ = %s", got)
	}
}
