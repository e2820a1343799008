package ast

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeError reports a malformed tree document.
type DecodeError struct {
	Line int
	Col  int
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// Decode reads a tree document. The document is YAML (JSON is accepted as
// a subset); every node is a mapping with a `node` key naming its kind and
// optional `line`/`col` keys. Missing positions fall back to the position
// of the mapping inside the document.
func Decode(data []byte) (Mod, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing tree document: %w", err)
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, &DecodeError{Line: 1, Col: 1, Msg: "empty document"}
		}
		root = doc.Content[0]
	}
	return decodeMod(root)
}

// DecodeFile reads and decodes a tree document from disk.
func DecodeFile(path string) (Mod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	mod, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mod, nil
}

// mapping is a decoded node mapping with its kind.
type mapping struct {
	node   *yaml.Node
	kind   string
	fields map[string]*yaml.Node
}

func errorf(n *yaml.Node, format string, args ...interface{}) error {
	return &DecodeError{Line: n.Line, Col: n.Column, Msg: fmt.Sprintf(format, args...)}
}

func asMapping(n *yaml.Node) (*mapping, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Kind != yaml.MappingNode {
		return nil, errorf(n, "expected a node mapping")
	}
	m := &mapping{node: n, fields: make(map[string]*yaml.Node, len(n.Content)/2)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		m.fields[n.Content[i].Value] = n.Content[i+1]
	}
	kind, ok := m.fields["node"]
	if !ok {
		return nil, errorf(n, "missing node kind")
	}
	m.kind = kind.Value
	return m, nil
}

func (m *mapping) pos() Pos {
	p := Pos{Line: m.node.Line, Col: m.node.Column}
	if v, ok := m.fields["line"]; ok {
		_ = v.Decode(&p.Line)
	}
	if v, ok := m.fields["col"]; ok {
		_ = v.Decode(&p.Col)
	}
	return p
}

func (m *mapping) has(key string) bool {
	v, ok := m.fields[key]
	return ok && !(v.Kind == yaml.ScalarNode && v.Tag == "!!null")
}

func (m *mapping) str(key string) (string, error) {
	v, ok := m.fields[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := v.Decode(&s); err != nil {
		return "", errorf(v, "%s.%s: %v", m.kind, key, err)
	}
	return s, nil
}

func (m *mapping) requireStr(key string) (string, error) {
	if !m.has(key) {
		return "", errorf(m.node, "%s: missing %q", m.kind, key)
	}
	return m.str(key)
}

func (m *mapping) boolean(key string) (bool, error) {
	v, ok := m.fields[key]
	if !ok {
		return false, nil
	}
	var b bool
	if err := v.Decode(&b); err != nil {
		return false, errorf(v, "%s.%s: %v", m.kind, key, err)
	}
	return b, nil
}

func (m *mapping) integer(key string) (int, error) {
	v, ok := m.fields[key]
	if !ok {
		return 0, nil
	}
	var i int
	if err := v.Decode(&i); err != nil {
		return 0, errorf(v, "%s.%s: %v", m.kind, key, err)
	}
	return i, nil
}

func (m *mapping) strs(key string) ([]string, error) {
	v, ok := m.fields[key]
	if !ok {
		return nil, nil
	}
	var out []string
	if err := v.Decode(&out); err != nil {
		return nil, errorf(v, "%s.%s: %v", m.kind, key, err)
	}
	return out, nil
}

func (m *mapping) ctx() (ExprContext, error) {
	s, err := m.str("ctx")
	if err != nil || s == "" {
		return Load, err
	}
	for i, name := range contextNames {
		if name == s {
			return ExprContext(i), nil
		}
	}
	return Load, errorf(m.fields["ctx"], "%s: unknown context %q", m.kind, s)
}

func (m *mapping) seq(key string) ([]*yaml.Node, error) {
	v, ok := m.fields[key]
	if !ok || (v.Kind == yaml.ScalarNode && v.Tag == "!!null") {
		return nil, nil
	}
	if v.Kind != yaml.SequenceNode {
		return nil, errorf(v, "%s.%s: expected a list", m.kind, key)
	}
	return v.Content, nil
}

func (m *mapping) expr(key string) (Expr, error) {
	if !m.has(key) {
		return nil, nil
	}
	return decodeExpr(m.fields[key])
}

func (m *mapping) requireExpr(key string) (Expr, error) {
	if !m.has(key) {
		return nil, errorf(m.node, "%s: missing %q", m.kind, key)
	}
	return decodeExpr(m.fields[key])
}

func (m *mapping) exprs(key string) ([]Expr, error) {
	items, err := m.seq(key)
	if err != nil {
		return nil, err
	}
	out := make([]Expr, 0, len(items))
	for _, item := range items {
		e, err := decodeExpr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mapping) body(key string) ([]Stmt, error) {
	items, err := m.seq(key)
	if err != nil {
		return nil, err
	}
	out := make([]Stmt, 0, len(items))
	for _, item := range items {
		s, err := decodeStmt(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mapping) slice(key string) (SliceKind, error) {
	if !m.has(key) {
		return nil, errorf(m.node, "%s: missing %q", m.kind, key)
	}
	return decodeSlice(m.fields[key])
}

func (m *mapping) arguments(key string) (*Arguments, error) {
	if !m.has(key) {
		return &Arguments{Pos: m.pos()}, nil
	}
	am, err := asMapping(m.fields[key])
	if err != nil {
		return nil, err
	}
	if am.kind != "arguments" {
		return nil, errorf(am.node, "expected arguments, got %s", am.kind)
	}
	args := &Arguments{Pos: am.pos()}
	if args.Args, err = am.exprs("args"); err != nil {
		return nil, err
	}
	if args.Defaults, err = am.exprs("defaults"); err != nil {
		return nil, err
	}
	if args.Vararg, err = am.str("vararg"); err != nil {
		return nil, err
	}
	if args.Kwarg, err = am.str("kwarg"); err != nil {
		return nil, err
	}
	if len(args.Defaults) > len(args.Args) {
		return nil, errorf(am.node, "more defaults than parameters")
	}
	return args, nil
}

func (m *mapping) aliases(key string) ([]*Alias, error) {
	items, err := m.seq(key)
	if err != nil {
		return nil, err
	}
	out := make([]*Alias, 0, len(items))
	for _, item := range items {
		// A bare scalar is shorthand for an alias without `as`.
		if item.Kind == yaml.ScalarNode {
			out = append(out, &Alias{Name: item.Value})
			continue
		}
		var a struct {
			Name   string `yaml:"name"`
			AsName string `yaml:"asname"`
		}
		if err := item.Decode(&a); err != nil {
			return nil, errorf(item, "%s.%s: %v", m.kind, key, err)
		}
		if a.Name == "" {
			return nil, errorf(item, "%s.%s: alias without name", m.kind, key)
		}
		out = append(out, &Alias{Name: a.Name, AsName: a.AsName})
	}
	return out, nil
}

func decodeMod(n *yaml.Node) (Mod, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	switch m.kind {
	case "Module":
		body, err := m.body("body")
		return &Module{Pos: m.pos(), Body: body}, err
	case "Interactive":
		body, err := m.body("body")
		return &Interactive{Pos: m.pos(), Body: body}, err
	case "Expression":
		body, err := m.requireExpr("body")
		return &Expression{Pos: m.pos(), Body: body}, err
	}
	return nil, errorf(n, "unknown module kind %q", m.kind)
}

func decodeStmt(n *yaml.Node) (Stmt, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	pos := m.pos()
	switch m.kind {
	case "FunctionDef":
		s := &FunctionDef{Pos: pos}
		if s.Name, err = m.requireStr("name"); err != nil {
			return nil, err
		}
		if s.Args, err = m.arguments("args"); err != nil {
			return nil, err
		}
		if s.Decorators, err = m.exprs("decorators"); err != nil {
			return nil, err
		}
		s.Body, err = m.body("body")
		return s, err
	case "ClassDef":
		s := &ClassDef{Pos: pos}
		if s.Name, err = m.requireStr("name"); err != nil {
			return nil, err
		}
		if s.Bases, err = m.exprs("bases"); err != nil {
			return nil, err
		}
		s.Body, err = m.body("body")
		return s, err
	case "Return":
		v, err := m.expr("value")
		return &Return{Pos: pos, Value: v}, err
	case "Delete":
		t, err := m.exprs("targets")
		return &Delete{Pos: pos, Targets: t}, err
	case "Assign":
		s := &Assign{Pos: pos}
		if s.Targets, err = m.exprs("targets"); err != nil {
			return nil, err
		}
		if len(s.Targets) == 0 {
			return nil, errorf(n, "Assign: no targets")
		}
		s.Value, err = m.requireExpr("value")
		return s, err
	case "AugAssign":
		s := &AugAssign{Pos: pos}
		if s.Target, err = m.requireExpr("target"); err != nil {
			return nil, err
		}
		if s.Op, err = m.operator(); err != nil {
			return nil, err
		}
		s.Value, err = m.requireExpr("value")
		return s, err
	case "Print":
		s := &Print{Pos: pos, NL: true}
		if s.Dest, err = m.expr("dest"); err != nil {
			return nil, err
		}
		if s.Values, err = m.exprs("values"); err != nil {
			return nil, err
		}
		if m.has("nl") {
			s.NL, err = m.boolean("nl")
		}
		return s, err
	case "For":
		s := &For{Pos: pos}
		if s.Target, err = m.requireExpr("target"); err != nil {
			return nil, err
		}
		if s.Iter, err = m.requireExpr("iter"); err != nil {
			return nil, err
		}
		if s.Body, err = m.body("body"); err != nil {
			return nil, err
		}
		s.Orelse, err = m.body("orelse")
		return s, err
	case "While":
		s := &While{Pos: pos}
		if s.Test, err = m.requireExpr("test"); err != nil {
			return nil, err
		}
		if s.Body, err = m.body("body"); err != nil {
			return nil, err
		}
		s.Orelse, err = m.body("orelse")
		return s, err
	case "If":
		s := &If{Pos: pos}
		if s.Test, err = m.requireExpr("test"); err != nil {
			return nil, err
		}
		if s.Body, err = m.body("body"); err != nil {
			return nil, err
		}
		s.Orelse, err = m.body("orelse")
		return s, err
	case "With":
		s := &With{Pos: pos}
		if s.ContextExpr, err = m.requireExpr("context_expr"); err != nil {
			return nil, err
		}
		if s.OptionalVars, err = m.expr("optional_vars"); err != nil {
			return nil, err
		}
		s.Body, err = m.body("body")
		return s, err
	case "Raise":
		s := &Raise{Pos: pos}
		if s.Type, err = m.expr("type"); err != nil {
			return nil, err
		}
		if s.Inst, err = m.expr("inst"); err != nil {
			return nil, err
		}
		s.Tback, err = m.expr("tback")
		return s, err
	case "TryExcept":
		s := &TryExcept{Pos: pos}
		if s.Body, err = m.body("body"); err != nil {
			return nil, err
		}
		items, err := m.seq("handlers")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			h, err := decodeHandler(item)
			if err != nil {
				return nil, err
			}
			s.Handlers = append(s.Handlers, h)
		}
		s.Orelse, err = m.body("orelse")
		return s, err
	case "TryFinally":
		s := &TryFinally{Pos: pos}
		if s.Body, err = m.body("body"); err != nil {
			return nil, err
		}
		s.Finalbody, err = m.body("finalbody")
		return s, err
	case "Assert":
		s := &Assert{Pos: pos}
		if s.Test, err = m.requireExpr("test"); err != nil {
			return nil, err
		}
		s.Msg, err = m.expr("msg")
		return s, err
	case "Import":
		names, err := m.aliases("names")
		return &Import{Pos: pos, Names: names}, err
	case "ImportFrom":
		s := &ImportFrom{Pos: pos}
		if s.Module, err = m.requireStr("module"); err != nil {
			return nil, err
		}
		if s.Names, err = m.aliases("names"); err != nil {
			return nil, err
		}
		s.Level, err = m.integer("level")
		return s, err
	case "Exec":
		s := &Exec{Pos: pos}
		if s.Body, err = m.requireExpr("body"); err != nil {
			return nil, err
		}
		if s.Globals, err = m.expr("globals"); err != nil {
			return nil, err
		}
		s.Locals, err = m.expr("locals")
		return s, err
	case "Global":
		names, err := m.strs("names")
		return &Global{Pos: pos, Names: names}, err
	case "Expr":
		v, err := m.requireExpr("value")
		return &ExprStmt{Pos: pos, Value: v}, err
	case "Pass":
		return &Pass{Pos: pos}, nil
	case "Break":
		return &Break{Pos: pos}, nil
	case "Continue":
		return &Continue{Pos: pos}, nil
	}
	return nil, errorf(n, "unknown statement kind %q", m.kind)
}

func decodeHandler(n *yaml.Node) (*ExceptHandler, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	if m.kind != "excepthandler" {
		return nil, errorf(n, "expected excepthandler, got %s", m.kind)
	}
	h := &ExceptHandler{Pos: m.pos()}
	if h.Type, err = m.expr("type"); err != nil {
		return nil, err
	}
	if h.Name, err = m.expr("name"); err != nil {
		return nil, err
	}
	h.Body, err = m.body("body")
	return h, err
}

func (m *mapping) operator() (Operator, error) {
	s, err := m.requireStr("op")
	if err != nil {
		return 0, err
	}
	op, ok := operatorNames[strings.ToLower(s)]
	if !ok {
		return 0, errorf(m.fields["op"], "%s: unknown operator %q", m.kind, s)
	}
	return op, nil
}

func decodeExpr(n *yaml.Node) (Expr, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	pos := m.pos()
	switch m.kind {
	case "BoolOp":
		s, err := m.requireStr("op")
		if err != nil {
			return nil, err
		}
		op, ok := boolNames[strings.ToLower(s)]
		if !ok {
			return nil, errorf(n, "BoolOp: unknown operator %q", s)
		}
		values, err := m.exprs("values")
		if err != nil {
			return nil, err
		}
		if len(values) < 2 {
			return nil, errorf(n, "BoolOp: needs at least two values")
		}
		return &BoolOp{Pos: pos, Op: op, Values: values}, nil
	case "BinOp":
		e := &BinOp{Pos: pos}
		if e.Left, err = m.requireExpr("left"); err != nil {
			return nil, err
		}
		if e.Op, err = m.operator(); err != nil {
			return nil, err
		}
		e.Right, err = m.requireExpr("right")
		return e, err
	case "UnaryOp":
		s, err := m.requireStr("op")
		if err != nil {
			return nil, err
		}
		op, ok := unaryNames[strings.ToLower(s)]
		if !ok {
			return nil, errorf(n, "UnaryOp: unknown operator %q", s)
		}
		operand, err := m.requireExpr("operand")
		return &UnaryOp{Pos: pos, Op: op, Operand: operand}, err
	case "Lambda":
		e := &Lambda{Pos: pos}
		if e.Args, err = m.arguments("args"); err != nil {
			return nil, err
		}
		e.Body, err = m.requireExpr("body")
		return e, err
	case "IfExp":
		e := &IfExp{Pos: pos}
		if e.Test, err = m.requireExpr("test"); err != nil {
			return nil, err
		}
		if e.Body, err = m.requireExpr("body"); err != nil {
			return nil, err
		}
		e.Orelse, err = m.requireExpr("orelse")
		return e, err
	case "Dict":
		e := &Dict{Pos: pos}
		if e.Keys, err = m.exprs("keys"); err != nil {
			return nil, err
		}
		if e.Values, err = m.exprs("values"); err != nil {
			return nil, err
		}
		if len(e.Keys) != len(e.Values) {
			return nil, errorf(n, "Dict: %d keys but %d values", len(e.Keys), len(e.Values))
		}
		return e, nil
	case "ListComp", "GeneratorExp":
		elt, err := m.requireExpr("elt")
		if err != nil {
			return nil, err
		}
		gens, err := m.comprehensions()
		if err != nil {
			return nil, err
		}
		if m.kind == "ListComp" {
			return &ListComp{Pos: pos, Elt: elt, Generators: gens}, nil
		}
		return &GeneratorExp{Pos: pos, Elt: elt, Generators: gens}, nil
	case "Yield":
		v, err := m.expr("value")
		return &Yield{Pos: pos, Value: v}, err
	case "Compare":
		e := &Compare{Pos: pos}
		if e.Left, err = m.requireExpr("left"); err != nil {
			return nil, err
		}
		ops, err := m.strs("ops")
		if err != nil {
			return nil, err
		}
		for _, s := range ops {
			op, ok := cmpNames[strings.ToLower(s)]
			if !ok {
				return nil, errorf(n, "Compare: unknown operator %q", s)
			}
			e.Ops = append(e.Ops, op)
		}
		if e.Comparators, err = m.exprs("comparators"); err != nil {
			return nil, err
		}
		if len(e.Ops) == 0 || len(e.Ops) != len(e.Comparators) {
			return nil, errorf(n, "Compare: %d operators but %d comparators", len(e.Ops), len(e.Comparators))
		}
		return e, nil
	case "Call":
		e := &Call{Pos: pos}
		if e.Func, err = m.requireExpr("func"); err != nil {
			return nil, err
		}
		if e.Args, err = m.exprs("args"); err != nil {
			return nil, err
		}
		items, err := m.seq("keywords")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			km, err := asMapping(item)
			if err != nil {
				return nil, err
			}
			arg, err := km.requireStr("arg")
			if err != nil {
				return nil, err
			}
			v, err := km.requireExpr("value")
			if err != nil {
				return nil, err
			}
			e.Keywords = append(e.Keywords, &Keyword{Arg: arg, Value: v})
		}
		if e.Starargs, err = m.expr("starargs"); err != nil {
			return nil, err
		}
		e.Kwargs, err = m.expr("kwargs")
		return e, err
	case "Repr":
		v, err := m.requireExpr("value")
		return &Repr{Pos: pos, Value: v}, err
	case "Num":
		return m.num()
	case "Str":
		e := &Str{Pos: pos}
		if e.S, err = m.str("s"); err != nil {
			return nil, err
		}
		e.Unicode, err = m.boolean("unicode")
		return e, err
	case "Attribute":
		e := &Attribute{Pos: pos}
		if e.Value, err = m.requireExpr("value"); err != nil {
			return nil, err
		}
		if e.Attr, err = m.requireStr("attr"); err != nil {
			return nil, err
		}
		e.Ctx, err = m.ctx()
		return e, err
	case "Subscript":
		e := &Subscript{Pos: pos}
		if e.Value, err = m.requireExpr("value"); err != nil {
			return nil, err
		}
		if e.Slice, err = m.slice("slice"); err != nil {
			return nil, err
		}
		e.Ctx, err = m.ctx()
		return e, err
	case "Name":
		e := &Name{Pos: pos}
		if e.Id, err = m.requireStr("id"); err != nil {
			return nil, err
		}
		e.Ctx, err = m.ctx()
		return e, err
	case "List":
		e := &List{Pos: pos}
		if e.Elts, err = m.exprs("elts"); err != nil {
			return nil, err
		}
		e.Ctx, err = m.ctx()
		return e, err
	case "Tuple":
		e := &Tuple{Pos: pos}
		if e.Elts, err = m.exprs("elts"); err != nil {
			return nil, err
		}
		e.Ctx, err = m.ctx()
		return e, err
	}
	return nil, errorf(n, "unknown expression kind %q", m.kind)
}

func (m *mapping) comprehensions() ([]*Comprehension, error) {
	items, err := m.seq("generators")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errorf(m.node, "%s: no generators", m.kind)
	}
	out := make([]*Comprehension, 0, len(items))
	for _, item := range items {
		cm, err := asMapping(item)
		if err != nil {
			return nil, err
		}
		c := &Comprehension{Pos: cm.pos()}
		if c.Target, err = cm.requireExpr("target"); err != nil {
			return nil, err
		}
		if c.Iter, err = cm.requireExpr("iter"); err != nil {
			return nil, err
		}
		if c.Ifs, err = cm.exprs("ifs"); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mapping) num() (Expr, error) {
	e := &Num{Pos: m.pos()}
	switch {
	case m.has("long"):
		s, err := m.str("long")
		if err != nil {
			return nil, err
		}
		v, ok := new(big.Int).SetString(strings.TrimSuffix(strings.TrimSuffix(s, "L"), "l"), 0)
		if !ok {
			return nil, errorf(m.fields["long"], "Num: bad long literal %q", s)
		}
		e.N = v
	case m.has("imag"):
		var f float64
		if err := m.fields["imag"].Decode(&f); err != nil {
			return nil, errorf(m.fields["imag"], "Num: %v", err)
		}
		e.N = complex(0, f)
	case m.has("n"):
		v := m.fields["n"]
		if v.Tag == "!!int" {
			var i int64
			if err := v.Decode(&i); err != nil {
				return nil, errorf(v, "Num: %v", err)
			}
			e.N = i
			break
		}
		var f float64
		if err := v.Decode(&f); err != nil {
			return nil, errorf(v, "Num: %v", err)
		}
		e.N = f
	default:
		return nil, errorf(m.node, "Num: missing value")
	}
	return e, nil
}

func decodeSlice(n *yaml.Node) (SliceKind, error) {
	m, err := asMapping(n)
	if err != nil {
		return nil, err
	}
	pos := m.pos()
	switch m.kind {
	case "Index":
		v, err := m.requireExpr("value")
		return &Index{Pos: pos, Value: v}, err
	case "Slice":
		s := &Slice{Pos: pos}
		if s.Lower, err = m.expr("lower"); err != nil {
			return nil, err
		}
		if s.Upper, err = m.expr("upper"); err != nil {
			return nil, err
		}
		s.Step, err = m.expr("step")
		return s, err
	case "ExtSlice":
		items, err := m.seq("dims")
		if err != nil {
			return nil, err
		}
		s := &ExtSlice{Pos: pos}
		for _, item := range items {
			d, err := decodeSlice(item)
			if err != nil {
				return nil, err
			}
			s.Dims = append(s.Dims, d)
		}
		return s, nil
	case "Ellipsis":
		return &Ellipsis{Pos: pos}, nil
	}
	return nil, errorf(n, "unknown slice kind %q", m.kind)
}
