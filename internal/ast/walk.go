package ast

// Visitor is invoked by Walk for each node. If Visit returns a non-nil
// visitor w, Walk visits the children of node with w, then calls w.Visit(nil).
type Visitor interface {
	Visit(node Node) (w Visitor)
}

// Walk traverses the tree depth-first in source evaluation order.
func Walk(v Visitor, node Node) {
	if v = v.Visit(node); v == nil {
		return
	}
	for _, child := range Children(node) {
		Walk(v, child)
	}
	v.Visit(nil)
}

type inspector func(Node) bool

func (f inspector) Visit(node Node) Visitor {
	if f(node) {
		return f
	}
	return nil
}

// Inspect calls f for every node; returning false prunes the subtree.
func Inspect(node Node, f func(Node) bool) {
	Walk(inspector(f), node)
}

// Children returns the direct child nodes of n, skipping nil optional fields.
// Optional Expr fields must hold an untyped nil when absent.
func Children(n Node) []Node {
	var out []Node
	add := func(nodes ...Node) {
		for _, c := range nodes {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	stmts := func(body []Stmt) {
		for _, s := range body {
			add(s)
		}
	}
	exprs := func(list []Expr) {
		for _, e := range list {
			add(e)
		}
	}

	switch n := n.(type) {
	case *Module:
		stmts(n.Body)
	case *Interactive:
		stmts(n.Body)
	case *Expression:
		add(n.Body)
	case *Suite:
		stmts(n.Body)

	case *FunctionDef:
		exprs(n.Decorators)
		if n.Args != nil {
			add(n.Args)
		}
		stmts(n.Body)
	case *Arguments:
		exprs(n.Defaults)
		exprs(n.Args)
	case *ClassDef:
		exprs(n.Bases)
		stmts(n.Body)
	case *Return:
		add(n.Value)
	case *Delete:
		exprs(n.Targets)
	case *Assign:
		add(n.Value)
		exprs(n.Targets)
	case *AugAssign:
		add(n.Value, n.Target)
	case *Print:
		add(n.Dest)
		exprs(n.Values)
	case *For:
		add(n.Iter, n.Target)
		stmts(n.Body)
		stmts(n.Orelse)
	case *While:
		add(n.Test)
		stmts(n.Body)
		stmts(n.Orelse)
	case *If:
		add(n.Test)
		stmts(n.Body)
		stmts(n.Orelse)
	case *With:
		add(n.ContextExpr, n.OptionalVars)
		stmts(n.Body)
	case *Raise:
		add(n.Type, n.Inst, n.Tback)
	case *TryExcept:
		stmts(n.Body)
		for _, h := range n.Handlers {
			add(h)
		}
		stmts(n.Orelse)
	case *ExceptHandler:
		add(n.Type, n.Name)
		stmts(n.Body)
	case *TryFinally:
		stmts(n.Body)
		stmts(n.Finalbody)
	case *Assert:
		add(n.Test, n.Msg)
	case *Exec:
		add(n.Body, n.Globals, n.Locals)
	case *ExprStmt:
		add(n.Value)

	case *BoolOp:
		exprs(n.Values)
	case *BinOp:
		add(n.Left, n.Right)
	case *UnaryOp:
		add(n.Operand)
	case *Lambda:
		if n.Args != nil {
			add(n.Args)
		}
		add(n.Body)
	case *IfExp:
		add(n.Test, n.Body, n.Orelse)
	case *Dict:
		for i := range n.Keys {
			add(n.Keys[i], n.Values[i])
		}
	case *ListComp:
		for _, g := range n.Generators {
			add(g)
		}
		add(n.Elt)
	case *GeneratorExp:
		for _, g := range n.Generators {
			add(g)
		}
		add(n.Elt)
	case *Comprehension:
		add(n.Iter, n.Target)
		exprs(n.Ifs)
	case *Yield:
		add(n.Value)
	case *Compare:
		add(n.Left)
		exprs(n.Comparators)
	case *Call:
		add(n.Func)
		exprs(n.Args)
		for _, k := range n.Keywords {
			add(k.Value)
		}
		add(n.Starargs, n.Kwargs)
	case *Repr:
		add(n.Value)
	case *Attribute:
		add(n.Value)
	case *Subscript:
		add(n.Value, n.Slice)
	case *List:
		exprs(n.Elts)
	case *Tuple:
		exprs(n.Elts)
	case *Index:
		add(n.Value)
	case *Slice:
		add(n.Lower, n.Upper, n.Step)
	case *ExtSlice:
		for _, d := range n.Dims {
			add(d)
		}
	}
	return out
}
