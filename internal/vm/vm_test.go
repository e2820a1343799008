package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/future"
)

func decode(t *testing.T, src string) ast.Mod {
	t.Helper()
	mod, err := ast.Decode([]byte(src))
	if err != nil {
		t.Fatalf("decode error: %s", err)
	}
	return mod
}

func compileSource(t *testing.T, src string, known future.Flags) *CodeUnit {
	t.Helper()
	unit, err := Compile(decode(t, src), known)
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if _, err := Verify(unit); err != nil {
		t.Fatalf("verify error: %s\n%s", err, Disassemble(unit))
	}
	return unit
}

// runSource compiles and runs src, returning the VM and captured output.
func runSource(t *testing.T, src string) (*VM, string) {
	t.Helper()
	unit := compileSource(t, src, 0)
	machine := New()
	var out bytes.Buffer
	machine.SetOutput(&out)
	if _, err := machine.Run(unit); err != nil {
		t.Fatalf("runtime error: %s\n%s", err, Disassemble(unit))
	}
	return machine, out.String()
}

func globalRepr(t *testing.T, machine *VM, name string) string {
	t.Helper()
	v, ok := machine.Global(name)
	if !ok {
		t.Fatalf("global %s is not defined", name)
	}
	return repr(v)
}

// findUnit returns the first nested unit called name.
func findUnit(t *testing.T, unit *CodeUnit, name string) *CodeUnit {
	t.Helper()
	for _, u := range unit.Units() {
		if u.Name == name {
			return u
		}
	}
	t.Fatalf("no unit named %s", name)
	return nil
}

func TestRun_Programs(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		global string
		want   string
	}{
		{
			name: "assignment",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 1}}
  - {node: Assign, targets: [{node: Name, id: y, ctx: store}], value: {node: BinOp, left: {node: Name, id: x}, op: add, right: {node: Num, n: 2}}}
`,
			global: "y",
			want:   "3",
		},
		{
			name: "classic division",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: q, ctx: store}], value: {node: BinOp, left: {node: Num, n: 7}, op: div, right: {node: Num, n: 2}}}
`,
			global: "q",
			want:   "3",
		},
		{
			name: "future division",
			src: `
node: Module
body:
  - {node: ImportFrom, module: __future__, names: [division]}
  - {node: Assign, targets: [{node: Name, id: q, ctx: store}], value: {node: BinOp, left: {node: Num, n: 7}, op: div, right: {node: Num, n: 2}}}
`,
			global: "q",
			want:   "3.5",
		},
		{
			name: "floor division of floats",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: q, ctx: store}], value: {node: BinOp, left: {node: Num, n: 7.0}, op: floordiv, right: {node: Num, n: 2}}}
`,
			global: "q",
			want:   "3.0",
		},
		{
			name: "long arithmetic",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: n, ctx: store}], value: {node: BinOp, left: {node: Num, n: 2}, op: pow, right: {node: Num, n: 64}}}
`,
			global: "n",
			want:   "18446744073709551616L",
		},
		{
			name: "augmented assignment",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 5}}
  - {node: AugAssign, target: {node: Name, id: x, ctx: store}, op: sub, value: {node: Num, n: 2}}
  - {node: AugAssign, target: {node: Name, id: x, ctx: store}, op: mult, value: {node: Num, n: 3}}
`,
			global: "x",
			want:   "9",
		},
		{
			name: "augmented subscript",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: l, ctx: store}], value: {node: List, elts: [{node: Num, n: 1}, {node: Num, n: 2}]}}
  - node: AugAssign
    target: {node: Subscript, value: {node: Name, id: l}, slice: {node: Index, value: {node: Num, n: 1}}, ctx: store}
    op: add
    value: {node: Num, n: 40}
`,
			global: "l",
			want:   "[1, 42]",
		},
		{
			name: "augmented assignment evaluates target once",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: calls, ctx: store}], value: {node: List}}
  - {node: Assign, targets: [{node: Name, id: l, ctx: store}], value: {node: List, elts: [{node: Num, n: 1}, {node: Num, n: 2}]}}
  - node: ClassDef
    name: Box
    body:
      - {node: Assign, targets: [{node: Name, id: v, ctx: store}], value: {node: Num, n: 1}}
  - {node: Assign, targets: [{node: Name, id: box, ctx: store}], value: {node: Call, func: {node: Name, id: Box}}}
  - node: FunctionDef
    name: o
    body:
      - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: calls}, attr: append}, args: [{node: Str, s: o}]}}
      - {node: Return, value: {node: Name, id: l}}
  - node: FunctionDef
    name: k
    body:
      - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: calls}, attr: append}, args: [{node: Str, s: k}]}}
      - {node: Return, value: {node: Num, n: 1}}
  - node: FunctionDef
    name: b
    body:
      - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: calls}, attr: append}, args: [{node: Str, s: b}]}}
      - {node: Return, value: {node: Name, id: box}}
  - node: AugAssign
    target: {node: Subscript, value: {node: Call, func: {node: Name, id: o}}, slice: {node: Index, value: {node: Call, func: {node: Name, id: k}}}, ctx: store}
    op: add
    value: {node: Num, n: 40}
  - node: AugAssign
    target: {node: Attribute, value: {node: Call, func: {node: Name, id: b}}, attr: v, ctx: store}
    op: add
    value: {node: Num, n: 9}
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value: {node: Tuple, elts: [{node: Name, id: calls}, {node: Name, id: l}, {node: Attribute, value: {node: Name, id: box}, attr: v}]}
`,
			global: "r",
			want:   "(['o', 'k', 'b'], [1, 42], 10)",
		},
		{
			name: "continue in a loop inside finally",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: n, ctx: store}], value: {node: Num, n: 0}}
  - node: TryFinally
    body: [{node: Pass}]
    finalbody:
      - node: For
        target: {node: Name, id: i, ctx: store}
        iter: {node: Call, func: {node: Name, id: range}, args: [{node: Num, n: 4}]}
        body:
          - node: If
            test: {node: Compare, left: {node: Name, id: i}, ops: [eq], comparators: [{node: Num, n: 1}]}
            body: [{node: Continue}]
          - {node: AugAssign, target: {node: Name, id: n, ctx: store}, op: add, value: {node: Name, id: i}}
`,
			global: "n",
			want:   "5",
		},
		{
			name: "chained comparison",
			src: `
node: Module
body:
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: Tuple
      elts:
        - {node: Compare, left: {node: Num, n: 1}, ops: [lt, lt], comparators: [{node: Num, n: 2}, {node: Num, n: 3}]}
        - {node: Compare, left: {node: Num, n: 1}, ops: [lt, lt], comparators: [{node: Num, n: 3}, {node: Num, n: 2}]}
        - {node: Compare, left: {node: Num, n: 2}, ops: [in], comparators: [{node: List, elts: [{node: Num, n: 1}, {node: Num, n: 2}]}]}
`,
			global: "r",
			want:   "(True, False, True)",
		},
		{
			name: "boolean operators keep operand",
			src: `
node: Module
body:
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: Tuple
      elts:
        - {node: BoolOp, op: or, values: [{node: Num, n: 0}, {node: Str, s: x}]}
        - {node: BoolOp, op: and, values: [{node: Num, n: 1}, {node: Num, n: 0}, {node: Num, n: 3}]}
        - {node: IfExp, test: {node: Num, n: 0}, body: {node: Num, n: 1}, orelse: {node: Num, n: 2}}
`,
			global: "r",
			want:   "('x', 0, 2)",
		},
		{
			name: "while with continue and break",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: i, ctx: store}], value: {node: Num, n: 0}}
  - {node: Assign, targets: [{node: Name, id: total, ctx: store}], value: {node: Num, n: 0}}
  - node: While
    test: {node: Compare, left: {node: Name, id: i}, ops: [lt], comparators: [{node: Num, n: 10}]}
    body:
      - {node: AugAssign, target: {node: Name, id: i, ctx: store}, op: add, value: {node: Num, n: 1}}
      - node: If
        test: {node: Compare, left: {node: Name, id: i}, ops: [eq], comparators: [{node: Num, n: 3}]}
        body: [{node: Continue}]
      - node: If
        test: {node: Compare, left: {node: Name, id: i}, ops: [eq], comparators: [{node: Num, n: 6}]}
        body: [{node: Break}]
      - {node: AugAssign, target: {node: Name, id: total, ctx: store}, op: add, value: {node: Name, id: i}}
    orelse:
      - {node: Assign, targets: [{node: Name, id: total, ctx: store}], value: {node: Num, n: -1}}
`,
			global: "total",
			want:   "12",
		},
		{
			name: "for with else",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: s, ctx: store}], value: {node: Num, n: 0}}
  - node: For
    target: {node: Name, id: x, ctx: store}
    iter: {node: List, elts: [{node: Num, n: 1}, {node: Num, n: 2}, {node: Num, n: 3}]}
    body:
      - {node: AugAssign, target: {node: Name, id: s, ctx: store}, op: add, value: {node: Name, id: x}}
    orelse:
      - {node: AugAssign, target: {node: Name, id: s, ctx: store}, op: add, value: {node: Num, n: 10}}
`,
			global: "s",
			want:   "16",
		},
		{
			name: "tuple unpacking",
			src: `
node: Module
body:
  - node: Assign
    targets: [{node: Tuple, ctx: store, elts: [{node: Name, id: a, ctx: store}, {node: List, ctx: store, elts: [{node: Name, id: b, ctx: store}, {node: Name, id: c, ctx: store}]}]}]
    value: {node: Tuple, elts: [{node: Num, n: 1}, {node: Tuple, elts: [{node: Num, n: 2}, {node: Num, n: 3}]}]}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: List, elts: [{node: Name, id: c}, {node: Name, id: b}, {node: Name, id: a}]}}
`,
			global: "r",
			want:   "[3, 2, 1]",
		},
		{
			name: "slices",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: l, ctx: store}], value: {node: Call, func: {node: Name, id: range}, args: [{node: Num, n: 6}]}}
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: Tuple
      elts:
        - {node: Subscript, value: {node: Name, id: l}, slice: {node: Slice, lower: {node: Num, n: 1}, upper: {node: Num, n: 3}}}
        - {node: Subscript, value: {node: Name, id: l}, slice: {node: Slice, step: {node: Num, n: -2}}}
        - {node: Subscript, value: {node: Str, s: hello}, slice: {node: Index, value: {node: Num, n: -1}}}
`,
			global: "r",
			want:   "([1, 2], [5, 3, 1], 'o')",
		},
		{
			name: "dict display and methods",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: d, ctx: store}], value: {node: Dict, keys: [{node: Str, s: a}], values: [{node: Num, n: 1}]}}
  - {node: Assign, targets: [{node: Subscript, value: {node: Name, id: d}, slice: {node: Index, value: {node: Str, s: b}}, ctx: store}], value: {node: Num, n: 2}}
  - {node: Delete, targets: [{node: Subscript, value: {node: Name, id: d}, slice: {node: Index, value: {node: Str, s: a}}, ctx: del}]}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Attribute, value: {node: Name, id: d}, attr: items}}}
`,
			global: "r",
			want:   "[('b', 2)]",
		},
		{
			name: "defaults varargs and keywords",
			src: `
node: Module
body:
  - node: FunctionDef
    name: f
    args:
      node: arguments
      args: [{node: Name, id: a, ctx: param}, {node: Name, id: b, ctx: param}]
      defaults: [{node: Num, n: 2}]
      vararg: rest
      kwarg: kw
    body:
      - node: Return
        value:
          node: Tuple
          elts:
            - {node: Name, id: a}
            - {node: Name, id: b}
            - {node: Call, func: {node: Name, id: len}, args: [{node: Name, id: rest}]}
            - {node: Call, func: {node: Name, id: len}, args: [{node: Name, id: kw}]}
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: List
      elts:
        - {node: Call, func: {node: Name, id: f}, args: [{node: Num, n: 1}]}
        - {node: Call, func: {node: Name, id: f}, args: [{node: Num, n: 1}, {node: Num, n: 5}, {node: Num, n: 6}, {node: Num, n: 7}], keywords: [{arg: k, value: {node: Num, n: 1}}]}
        - {node: Call, func: {node: Name, id: f}, keywords: [{arg: b, value: {node: Num, n: 9}}, {arg: a, value: {node: Num, n: 8}}]}
        - {node: Call, func: {node: Name, id: f}, starargs: {node: Tuple, elts: [{node: Num, n: 3}, {node: Num, n: 4}]}}
`,
			global: "r",
			want:   "[(1, 2, 0, 0), (1, 5, 2, 1), (8, 9, 0, 0), (3, 4, 0, 0)]",
		},
		{
			name: "tuple parameters",
			src: `
node: Module
body:
  - node: FunctionDef
    name: f
    args:
      node: arguments
      args: [{node: Tuple, ctx: store, elts: [{node: Name, id: a, ctx: store}, {node: Name, id: b, ctx: store}]}, {node: Name, id: c, ctx: param}]
    body:
      - {node: Return, value: {node: BinOp, left: {node: BinOp, left: {node: Name, id: a}, op: mult, right: {node: Name, id: b}}, op: add, right: {node: Name, id: c}}}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Name, id: f}, args: [{node: Tuple, elts: [{node: Num, n: 6}, {node: Num, n: 7}]}, {node: Num, n: 0}]}}
`,
			global: "r",
			want:   "42",
		},
		{
			name: "lambda and decorator",
			src: `
node: Module
body:
  - node: FunctionDef
    name: twice
    args: {node: arguments, args: [{node: Name, id: fn, ctx: param}]}
    body:
      - node: Return
        value:
          node: Lambda
          args: {node: arguments, args: [{node: Name, id: x, ctx: param}]}
          body: {node: Call, func: {node: Name, id: fn}, args: [{node: Call, func: {node: Name, id: fn}, args: [{node: Name, id: x}]}]}
  - node: FunctionDef
    name: inc
    decorators: [{node: Name, id: twice}]
    args: {node: arguments, args: [{node: Name, id: x, ctx: param}]}
    body:
      - {node: Return, value: {node: BinOp, left: {node: Name, id: x}, op: add, right: {node: Num, n: 1}}}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Name, id: inc}, args: [{node: Num, n: 40}]}}
`,
			global: "r",
			want:   "42",
		},
		{
			name: "list comprehension",
			src: `
node: Module
body:
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: ListComp
      elt: {node: BinOp, left: {node: Name, id: x}, op: mult, right: {node: Name, id: x}}
      generators:
        - target: {node: Name, id: x, ctx: store}
          iter: {node: Call, func: {node: Name, id: range}, args: [{node: Num, n: 4}]}
          ifs: [{node: Compare, left: {node: Name, id: x}, ops: [noteq], comparators: [{node: Num, n: 2}]}]
`,
			global: "r",
			want:   "[0, 1, 9]",
		},
		{
			name: "nested comprehension",
			src: `
node: Module
body:
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: ListComp
      elt: {node: Tuple, elts: [{node: Name, id: x}, {node: Name, id: y}]}
      generators:
        - {target: {node: Name, id: x, ctx: store}, iter: {node: List, elts: [{node: Num, n: 1}, {node: Num, n: 2}]}}
        - {target: {node: Name, id: y, ctx: store}, iter: {node: Str, s: ab}}
`,
			global: "r",
			want:   "[(1, 'a'), (1, 'b'), (2, 'a'), (2, 'b')]",
		},
		{
			name: "generator expression",
			src: `
node: Module
body:
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: Call
      func: {node: Name, id: sum}
      args:
        - node: GeneratorExp
          elt: {node: Name, id: x}
          generators:
            - {target: {node: Name, id: x, ctx: store}, iter: {node: Call, func: {node: Name, id: range}, args: [{node: Num, n: 4}]}}
`,
			global: "r",
			want:   "6",
		},
		{
			name: "class with methods",
			src: `
node: Module
body:
  - node: ClassDef
    name: C
    body:
      - {node: Expr, value: {node: Str, s: A counter.}}
      - node: FunctionDef
        name: __init__
        args: {node: arguments, args: [{node: Name, id: self, ctx: param}, {node: Name, id: v, ctx: param}]}
        body:
          - {node: Assign, targets: [{node: Attribute, value: {node: Name, id: self}, attr: v, ctx: store}], value: {node: Name, id: v}}
      - node: FunctionDef
        name: get
        args: {node: arguments, args: [{node: Name, id: self, ctx: param}]}
        body:
          - {node: Return, value: {node: BinOp, left: {node: Attribute, value: {node: Name, id: self}, attr: v}, op: mult, right: {node: Num, n: 2}}}
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: Tuple
      elts:
        - {node: Call, func: {node: Attribute, value: {node: Call, func: {node: Name, id: C}, args: [{node: Num, n: 21}]}, attr: get}}
        - {node: Attribute, value: {node: Name, id: C}, attr: __doc__}
        - {node: Attribute, value: {node: Name, id: C}, attr: __module__}
`,
			global: "r",
			want:   "(42, 'A counter.', '__main__')",
		},
		{
			name: "private name mangling",
			src: `
node: Module
body:
  - node: ClassDef
    name: _Box
    body:
      - {node: Assign, targets: [{node: Name, id: __x, ctx: store}], value: {node: Num, n: 7}}
      - node: FunctionDef
        name: get
        args: {node: arguments, args: [{node: Name, id: self, ctx: param}]}
        body:
          - {node: Return, value: {node: Attribute, value: {node: Name, id: self}, attr: __x}}
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: Tuple
      elts:
        - {node: Call, func: {node: Attribute, value: {node: Call, func: {node: Name, id: _Box}}, attr: get}}
        - {node: Attribute, value: {node: Name, id: _Box}, attr: _Box__x}
`,
			global: "r",
			want:   "(7, 7)",
		},
		{
			name: "inheritance",
			src: `
node: Module
body:
  - node: ClassDef
    name: A
    body:
      - node: FunctionDef
        name: who
        args: {node: arguments, args: [{node: Name, id: self, ctx: param}]}
        body: [{node: Return, value: {node: Str, s: a}}]
  - node: ClassDef
    name: B
    bases: [{node: Name, id: A}]
    body: [{node: Pass}]
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: Tuple
      elts:
        - {node: Call, func: {node: Attribute, value: {node: Call, func: {node: Name, id: B}}, attr: who}}
        - {node: Call, func: {node: Name, id: isinstance}, args: [{node: Call, func: {node: Name, id: B}}, {node: Name, id: A}]}
`,
			global: "r",
			want:   "('a', True)",
		},
		{
			name: "except clause binds the exception",
			src: `
node: Module
body:
  - node: TryExcept
    body:
      - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: BinOp, left: {node: Num, n: 1}, op: div, right: {node: Num, n: 0}}}
    handlers:
      - node: excepthandler
        type: {node: Name, id: ValueError}
        body: [{node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Str, s: wrong}}]
      - node: excepthandler
        type: {node: Tuple, elts: [{node: Name, id: KeyError}, {node: Name, id: ArithmeticError}]}
        name: {node: Name, id: e, ctx: store}
        body:
          - node: Assign
            targets: [{node: Name, id: r, ctx: store}]
            value: {node: Call, func: {node: Name, id: isinstance}, args: [{node: Name, id: e}, {node: Name, id: ZeroDivisionError}]}
    orelse:
      - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Str, s: no exception}}
`,
			global: "r",
			want:   "True",
		},
		{
			name: "try else runs without exception",
			src: `
node: Module
body:
  - node: TryExcept
    body: [{node: Pass}]
    handlers:
      - {node: excepthandler, body: [{node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Num, n: 1}}]}
    orelse:
      - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Num, n: 2}}
`,
			global: "r",
			want:   "2",
		},
		{
			name: "bare raise re-raises the handled exception",
			src: `
node: Module
body:
  - node: TryExcept
    body:
      - node: TryExcept
        body:
          - {node: Raise, type: {node: Name, id: KeyError}, inst: {node: Str, s: k}}
        handlers:
          - {node: excepthandler, body: [{node: Raise}]}
    handlers:
      - node: excepthandler
        type: {node: Name, id: LookupError}
        name: {node: Name, id: e, ctx: store}
        body:
          - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Name, id: str}, args: [{node: Name, id: e}]}}
`,
			global: "r",
			want:   "'k'",
		},
		{
			name: "finally runs on return",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: log, ctx: store}], value: {node: List}}
  - node: FunctionDef
    name: f
    body:
      - node: TryFinally
        body: [{node: Return, value: {node: Num, n: 1}}]
        finalbody:
          - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: log}, attr: append}, args: [{node: Str, s: f}]}}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Tuple, elts: [{node: Call, func: {node: Name, id: f}}, {node: Name, id: log}]}}
`,
			global: "r",
			want:   "(1, ['f'])",
		},
		{
			name: "finally runs on exception",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: log, ctx: store}], value: {node: List}}
  - node: TryExcept
    body:
      - node: TryFinally
        body: [{node: Raise, type: {node: Name, id: ValueError}}]
        finalbody:
          - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: log}, attr: append}, args: [{node: Str, s: finally}]}}
    handlers:
      - node: excepthandler
        type: {node: Name, id: ValueError}
        body:
          - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: log}, attr: append}, args: [{node: Str, s: handler}]}}
`,
			global: "log",
			want:   "['finally', 'handler']",
		},
		{
			name: "with statement swallows exception",
			src: `
node: Module
body:
  - {node: ImportFrom, module: __future__, names: [with_statement]}
  - {node: Assign, targets: [{node: Name, id: log, ctx: store}], value: {node: List}}
  - node: ClassDef
    name: CM
    body:
      - node: FunctionDef
        name: __enter__
        args: {node: arguments, args: [{node: Name, id: self, ctx: param}]}
        body: [{node: Return, value: {node: Str, s: in}}]
      - node: FunctionDef
        name: __exit__
        args: {node: arguments, args: [{node: Name, id: self, ctx: param}, {node: Name, id: t, ctx: param}, {node: Name, id: v, ctx: param}, {node: Name, id: tb, ctx: param}]}
        body:
          - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: log}, attr: append}, args: [{node: Name, id: t}]}}
          - {node: Return, value: {node: Name, id: True}}
  - node: With
    context_expr: {node: Call, func: {node: Name, id: CM}}
    optional_vars: {node: Name, id: v, ctx: store}
    body:
      - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: log}, attr: append}, args: [{node: Name, id: v}]}}
      - {node: Raise, type: {node: Name, id: ValueError}}
  - node: With
    context_expr: {node: Call, func: {node: Name, id: CM}}
    body:
      - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: log}, attr: append}, args: [{node: Num, n: 2}]}}
`,
			global: "log",
			want:   "['in', <class ValueError>, 2, None]",
		},
		{
			name: "assert",
			src: `
node: Module
body:
  - node: TryExcept
    body:
      - {node: Assert, test: {node: Num, n: 0}, msg: {node: Str, s: boom}}
    handlers:
      - node: excepthandler
        type: {node: Name, id: AssertionError}
        name: {node: Name, id: e, ctx: store}
        body:
          - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Name, id: str}, args: [{node: Name, id: e}]}}
`,
			global: "r",
			want:   "'boom'",
		},
		{
			name: "global declaration in function",
			src: `
node: Module
body:
  - node: FunctionDef
    name: set
    body:
      - {node: Global, names: [g]}
      - {node: Assign, targets: [{node: Name, id: g, ctx: store}], value: {node: Num, n: 5}}
  - {node: Expr, value: {node: Call, func: {node: Name, id: set}}}
`,
			global: "g",
			want:   "5",
		},
		{
			name: "import from future module",
			src: `
node: Module
body:
  - {node: Import, names: [__future__]}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Name, id: hasattr}, args: [{node: Name, id: __future__}, {node: Str, s: division}]}}
`,
			global: "r",
			want:   "True",
		},
		{
			name: "delete name",
			src: `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 1}}
  - {node: Delete, targets: [{node: Name, id: x, ctx: del}]}
  - node: TryExcept
    body:
      - {node: Expr, value: {node: Name, id: x}}
    handlers:
      - node: excepthandler
        type: {node: Name, id: NameError}
        body: [{node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Str, s: gone}}]
`,
			global: "r",
			want:   "'gone'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, _ := runSource(t, tt.src)
			if got := globalRepr(t, machine, tt.global); got != tt.want {
				t.Errorf("%s = %s, want %s", tt.global, got, tt.want)
			}
		})
	}
}

func TestRun_KnownDivisionFlag(t *testing.T) {
	src := `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: q, ctx: store}], value: {node: BinOp, left: {node: Num, n: 7}, op: div, right: {node: Num, n: 2}}}
`
	unit := compileSource(t, src, future.Division)
	if unit.Flags&FlagDivision == 0 {
		t.Errorf("unit flags %b lack FlagDivision", unit.Flags)
	}
	machine := New()
	if _, err := machine.Run(unit); err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	if got := globalRepr(t, machine, "q"); got != "3.5" {
		t.Errorf("q = %s, want 3.5", got)
	}
}

const generatorSrc = `
node: Module
body:
  - node: FunctionDef
    name: gen
    body:
      - {node: Expr, value: {node: Yield, value: {node: Num, n: 1}}}
      - {node: Expr, value: {node: Yield, value: {node: Num, n: 2}}}
  - {node: Assign, targets: [{node: Name, id: g, ctx: store}], value: {node: Call, func: {node: Name, id: gen}}}
`

func TestGenerator_YieldsThenCompletes(t *testing.T) {
	unit := compileSource(t, generatorSrc, 0)
	gen := findUnit(t, unit, "gen")
	if !gen.IsGenerator() {
		t.Fatalf("gen is not flagged as a generator")
	}
	if gen.GeneratorResumeCount != 2 {
		t.Errorf("GeneratorResumeCount = %d, want 2", gen.GeneratorResumeCount)
	}

	machine := New()
	if _, err := machine.Run(unit); err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	g, _ := machine.Global("g")
	for _, want := range []int64{1, 2} {
		v, ok, err := machine.Next(g)
		if err != nil {
			t.Fatalf("next: %s", err)
		}
		if !ok || v != want {
			t.Fatalf("next = %v, %v; want %d, true", v, ok, want)
		}
	}
	if _, ok, err := machine.Next(g); ok || err != nil {
		t.Errorf("generator did not complete: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := machine.Next(g); ok {
		t.Errorf("exhausted generator resumed")
	}
}

func TestGenerator_LocalsSurviveYield(t *testing.T) {
	src := `
node: Module
body:
  - node: FunctionDef
    name: count
    args: {node: arguments, args: [{node: Name, id: n, ctx: param}]}
    body:
      - {node: Assign, targets: [{node: Name, id: i, ctx: store}], value: {node: Num, n: 0}}
      - node: While
        test: {node: Compare, left: {node: Name, id: i}, ops: [lt], comparators: [{node: Name, id: n}]}
        body:
          - node: TryExcept
            body:
              - {node: Assign, targets: [{node: Name, id: got, ctx: store}], value: {node: Yield, value: {node: BinOp, left: {node: Num, n: 10}, op: add, right: {node: Yield, value: {node: Name, id: i}}}}}
            handlers:
              - {node: excepthandler, body: [{node: Pass}]}
          - {node: AugAssign, target: {node: Name, id: i, ctx: store}, op: add, value: {node: Num, n: 1}}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Name, id: list}, args: [{node: Call, func: {node: Name, id: count}, args: [{node: Num, n: 3}]}]}}
`
	unit := compileSource(t, src, 0)
	if got := findUnit(t, unit, "count").GeneratorResumeCount; got != 2 {
		t.Errorf("GeneratorResumeCount = %d, want 2", got)
	}
	machine, _ := runSource(t, src)
	// The inner yield receives None, so the outer one raises TypeError,
	// which the handler swallows.
	if got := globalRepr(t, machine, "r"); got != "[0, 1, 2]" {
		t.Errorf("r = %s, want [0, 1, 2]", got)
	}
}

func TestGenerator_Send(t *testing.T) {
	src := `
node: Module
body:
  - node: FunctionDef
    name: echo
    body:
      - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Yield, value: {node: Num, n: 0}}}
      - node: While
        test: {node: Name, id: True}
        body:
          - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Yield, value: {node: BinOp, left: {node: Name, id: x}, op: mult, right: {node: Num, n: 2}}}}
  - {node: Assign, targets: [{node: Name, id: g, ctx: store}], value: {node: Call, func: {node: Name, id: echo}}}
  - node: Assign
    targets: [{node: Name, id: r, ctx: store}]
    value:
      node: List
      elts:
        - {node: Call, func: {node: Attribute, value: {node: Name, id: g}, attr: next}}
        - {node: Call, func: {node: Attribute, value: {node: Name, id: g}, attr: send}, args: [{node: Num, n: 5}]}
        - {node: Call, func: {node: Attribute, value: {node: Name, id: g}, attr: send}, args: [{node: Num, n: 7}]}
`
	machine, _ := runSource(t, src)
	if got := globalRepr(t, machine, "r"); got != "[0, 10, 14]" {
		t.Errorf("r = %s, want [0, 10, 14]", got)
	}
}

const closureSrc = `
node: Module
body:
  - node: FunctionDef
    name: outer
    body:
      - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 1}}
      - node: FunctionDef
        name: inner
        body:
          - {node: Return, value: {node: Name, id: x}}
      - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 2}}
      - {node: Return, value: {node: Name, id: inner}}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Call, func: {node: Name, id: outer}}}}
`

func TestClosure_CellAndFree(t *testing.T) {
	unit := compileSource(t, closureSrc, 0)
	outer := findUnit(t, unit, "outer")
	inner := findUnit(t, unit, "inner")
	if len(outer.CellVars) != 1 || outer.CellVars[0] != "x" {
		t.Errorf("outer.CellVars = %v, want [x]", outer.CellVars)
	}
	if len(inner.FreeVars) != 1 || inner.FreeVars[0] != "x" {
		t.Errorf("inner.FreeVars = %v, want [x]", inner.FreeVars)
	}
	dis := Disassemble(unit)
	for _, op := range []string{"LOAD_CLOSURE", "MAKE_CLOSURE", "LOAD_DEREF", "STORE_DEREF"} {
		if !strings.Contains(dis, op) {
			t.Errorf("disassembly lacks %s:\n%s", op, dis)
		}
	}

	machine, _ := runSource(t, closureSrc)
	if got := globalRepr(t, machine, "r"); got != "2" {
		t.Errorf("r = %s, want 2 (closure sees the later binding)", got)
	}
}

func TestClosure_ThroughClassBody(t *testing.T) {
	src := `
node: Module
body:
  - node: FunctionDef
    name: make
    args: {node: arguments, args: [{node: Name, id: v, ctx: param}]}
    body:
      - node: ClassDef
        name: K
        body:
          - node: FunctionDef
            name: get
            args: {node: arguments, args: [{node: Name, id: self, ctx: param}]}
            body: [{node: Return, value: {node: Name, id: v}}]
      - {node: Return, value: {node: Call, func: {node: Name, id: K}}}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Attribute, value: {node: Call, func: {node: Name, id: make}, args: [{node: Num, n: 9}]}, attr: get}}}
`
	machine, _ := runSource(t, src)
	if got := globalRepr(t, machine, "r"); got != "9" {
		t.Errorf("r = %s, want 9", got)
	}
}

const finallyLoopSrc = `
node: Module
body:
  - {node: Assign, targets: [{node: Name, id: log, ctx: store}], value: {node: List}}
  - node: FunctionDef
    name: f
    body:
      - node: For
        target: {node: Name, id: i, ctx: store}
        iter: {node: Call, func: {node: Name, id: range}, args: [{node: Num, n: 3}]}
        body:
          - node: TryFinally
            body:
              - node: If
                test: {node: Compare, left: {node: Name, id: i}, ops: [eq], comparators: [{node: Num, n: 1}]}
                body: [{node: Continue}]
              - node: If
                test: {node: Compare, left: {node: Name, id: i}, ops: [eq], comparators: [{node: Num, n: 2}]}
                body: [{node: Break}]
            finalbody:
              - {node: Expr, value: {node: Call, func: {node: Attribute, value: {node: Name, id: log}, attr: append}, args: [{node: Name, id: i}]}}
      - {node: Return, value: {node: Call, func: {node: Name, id: len}, args: [{node: Name, id: log}]}}
  - {node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Call, func: {node: Name, id: f}}}
`

func TestFinally_InlinedOnEveryExit(t *testing.T) {
	unit := compileSource(t, finallyLoopSrc, 0)
	f := findUnit(t, unit, "f")

	var copies []int
	for pc, ins := range f.Code {
		if ins.Op == OP_LOAD_ATTR && f.Names[ins.A] == "append" {
			copies = append(copies, pc)
		}
	}
	// Fall-through, exception path, continue and break.
	if len(copies) != 4 {
		t.Fatalf("finally body emitted %d times, want 4:\n%s", len(copies), Disassemble(f))
	}
	if len(f.ExceptionTable) == 0 {
		t.Fatalf("no exception table rows:\n%s", Disassemble(f))
	}
	for _, pc := range copies {
		for _, r := range f.ExceptionTable {
			if r.Start <= pc && pc < r.End {
				t.Errorf("inlined finally at %d is covered by its own range %d-%d", pc, r.Start, r.End)
			}
		}
	}

	machine, _ := runSource(t, finallyLoopSrc)
	if got := globalRepr(t, machine, "log"); got != "[0, 1, 2]" {
		t.Errorf("log = %s, want [0, 1, 2]", got)
	}
	if got := globalRepr(t, machine, "r"); got != "3" {
		t.Errorf("r = %s, want 3", got)
	}
}

func TestExceptionTable_InnerRegionsFirst(t *testing.T) {
	src := `
node: Module
body:
  - node: TryExcept
    body:
      - node: TryExcept
        body: [{node: Raise, type: {node: Name, id: KeyError}}]
        handlers:
          - node: excepthandler
            type: {node: Name, id: KeyError}
            body: [{node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Str, s: inner}}]
    handlers:
      - node: excepthandler
        body: [{node: Assign, targets: [{node: Name, id: r, ctx: store}], value: {node: Str, s: outer}}]
`
	unit := compileSource(t, src, 0)
	table := unit.ExceptionTable
	if len(table) < 2 {
		t.Fatalf("exception table has %d rows, want at least 2", len(table))
	}
	inner, outer := table[0], table[len(table)-1]
	if inner.Start < outer.Start || inner.End > outer.End {
		t.Errorf("first row %v is not nested in last row %v", inner, outer)
	}
	machine, _ := runSource(t, src)
	if got := globalRepr(t, machine, "r"); got != "'inner'" {
		t.Errorf("r = %s, want 'inner'", got)
	}
}

func TestRun_Print(t *testing.T) {
	src := `
node: Module
body:
  - {node: Print, values: [{node: Num, n: 1}, {node: Str, s: two}]}
  - {node: Print, values: [{node: Num, n: 3.5}], nl: false}
  - {node: Print, values: [{node: List, elts: [{node: Str, s: x}]}]}
  - {node: Print}
`
	_, out := runSource(t, src)
	want := "1 two\n3.5 ['x']\n\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRun_Interactive(t *testing.T) {
	src := `
node: Interactive
body:
  - {node: Assign, targets: [{node: Name, id: x, ctx: store}], value: {node: Num, n: 2}}
  - {node: Expr, value: {node: BinOp, left: {node: Name, id: x}, op: mult, right: {node: Num, n: 21}}}
  - {node: Expr, value: {node: Name, id: None}}
`
	_, out := runSource(t, src)
	if out != "42\n" {
		t.Errorf("output = %q, want %q", out, "42\n")
	}
}

func TestRun_Expression(t *testing.T) {
	src := `
node: Expression
body: {node: BinOp, left: {node: Num, n: 6}, op: mult, right: {node: Num, n: 7}}
`
	unit := compileSource(t, src, 0)
	if unit.Kind != KindExpression {
		t.Errorf("kind = %s, want expression", unit.Kind)
	}
	got, err := New().Run(unit)
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	if got != int64(42) {
		t.Errorf("result = %v, want 42", got)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		class string
	}{
		{
			name: "uncaught raise",
			src: `
node: Module
body:
  - {node: Raise, type: {node: Name, id: ValueError}, inst: {node: Str, s: bad}}
`,
			class: "ValueError",
		},
		{
			name: "unbound local",
			src: `
node: Module
body:
  - node: FunctionDef
    name: f
    body:
      - {node: Return, value: {node: Name, id: y}}
      - {node: Assign, targets: [{node: Name, id: y, ctx: store}], value: {node: Num, n: 1}}
  - {node: Expr, value: {node: Call, func: {node: Name, id: f}}}
`,
			class: "UnboundLocalError",
		},
		{
			name: "undefined global",
			src: `
node: Module
body:
  - {node: Expr, value: {node: Name, id: missing}}
`,
			class: "NameError",
		},
		{
			name: "wrong argument count",
			src: `
node: Module
body:
  - node: FunctionDef
    name: f
    args: {node: arguments, args: [{node: Name, id: a, ctx: param}]}
    body: [{node: Pass}]
  - {node: Expr, value: {node: Call, func: {node: Name, id: f}}}
`,
			class: "TypeError",
		},
		{
			name: "import of unknown module",
			src: `
node: Module
body:
  - {node: Import, names: [os]}
`,
			class: "ImportError",
		},
		{
			name: "exec is not supported",
			src: `
node: Module
body:
  - {node: Exec, body: {node: Str, s: x = 1}}
`,
			class: "TypeError",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := compileSource(t, tt.src, 0)
			_, err := New().Run(unit)
			var pyErr *PyError
			if !errors.As(err, &pyErr) {
				t.Fatalf("expected a raised exception, got %v", err)
			}
			if pyErr.Exc.Class.Name != tt.class {
				t.Errorf("raised %s, want %s", pyErr.Exc.Class.Name, tt.class)
			}
			if pyErr.Line == 0 {
				t.Errorf("exception carries no line: %s", pyErr)
			}
		})
	}
}

func TestRun_RecursionLimit(t *testing.T) {
	src := `
node: Module
body:
  - node: FunctionDef
    name: f
    body:
      - {node: Return, value: {node: Call, func: {node: Name, id: f}}}
  - {node: Expr, value: {node: Call, func: {node: Name, id: f}}}
`
	_, err := New().Run(compileSource(t, src, 0))
	if err == nil || !strings.Contains(err.Error(), "recursion") {
		t.Errorf("expected recursion error, got %v", err)
	}
}
