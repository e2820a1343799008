package symbols

import (
	"fmt"
	"strings"

	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/future"
)

// Option configures Analyze.
type Option func(*analyzer)

// WithFile attributes diagnostics to file.
func WithFile(file string) Option {
	return func(a *analyzer) { a.file = file }
}

// builder carries the walk-only state of an open scope.
type builder struct {
	scope      *Scope
	innerFree  []string
	innerSeen  map[string]bool
	openWith   int
	returnNode ast.Node // First `return value`, checked against Generator at close
}

func (b *builder) addInnerFree(name string) {
	if !b.innerSeen[name] {
		b.innerSeen[name] = true
		b.innerFree = append(b.innerFree, name)
	}
}

type analyzer struct {
	file     string
	tree     *ScopeTree
	stack    []*builder
	cur      *builder
	warnings []*diagnostics.DiagnosticError
}

// Analyze builds the scope tree of mod. It returns the tree, the non-fatal
// diagnostics found along the way, and the first fatal error.
func Analyze(mod ast.Mod, opts ...Option) (*ScopeTree, []*diagnostics.DiagnosticError, error) {
	a := &analyzer{tree: &ScopeTree{scopes: make(map[ast.Node]*Scope)}}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.visitMod(mod); err != nil {
		if d, ok := diagnostics.As(err); ok && a.file != "" {
			err = d.WithFile(a.file)
		}
		return nil, a.warnings, err
	}
	a.tree.Walk(setupClosure)
	return a.tree, a.warnings, nil
}

func (a *analyzer) beginScope(name string, typ ScopeType, node ast.Node) {
	var parent *Scope
	if a.cur != nil {
		a.stack = append(a.stack, a.cur)
		parent = a.cur.scope
	}
	s := newScope(name, typ, node, parent)
	a.tree.scopes[node] = s
	if a.tree.Root == nil {
		a.tree.Root = s
	}
	a.cur = &builder{scope: s, innerSeen: make(map[string]bool)}
}

// endScope cooks the current scope against its nearest non-class ancestor.
func (a *analyzer) endScope() error {
	var up *builder
	if n := len(a.stack); n > 0 {
		up = a.stack[n-1]
		a.stack = a.stack[:n-1]
	}
	dist := 1
	ref := up
	for i := len(a.stack) - 1; i >= 0 && ref != nil && ref.scope.Type == ScopeClass; i-- {
		ref = a.stack[i]
		dist++
	}
	if err := cook(a.cur, ref, dist); err != nil {
		return err
	}
	a.cur = up
	return nil
}

func (a *analyzer) warn(code diagnostics.ErrorCode, node ast.Node, format string, args ...interface{}) {
	w := diagnostics.NewWarning(code, node, format, args...)
	if a.file != "" {
		w = w.WithFile(a.file)
	}
	a.warnings = append(a.warnings, w)
}

func (a *analyzer) visitMod(mod ast.Mod) error {
	switch m := mod.(type) {
	case *ast.Module:
		a.beginScope(config.ModuleUnit, ScopeModule, m)
		if err := a.suite(m.Body); err != nil {
			return err
		}
	case *ast.Interactive:
		a.beginScope(config.ModuleUnit, ScopeModule, m)
		if err := a.suite(m.Body); err != nil {
			return err
		}
	case *ast.Expression:
		a.beginScope(config.ModuleUnit, ScopeModule, m)
		if err := a.visit(m.Body); err != nil {
			return err
		}
	case *ast.Suite:
		a.beginScope(config.ModuleUnit, ScopeModule, m)
		if err := a.suite(m.Body); err != nil {
			return err
		}
	default:
		return diagnostics.NewError(diagnostics.ErrC007, mod, "unsupported unit %T", mod)
	}
	return a.endScope()
}

func (a *analyzer) suite(body []ast.Stmt) error {
	for _, s := range body {
		if err := a.visit(s); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) visitAll(nodes []ast.Expr) error {
	for _, n := range nodes {
		if err := a.visit(n); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) children(n ast.Node) error {
	for _, c := range ast.Children(n) {
		if err := a.visit(c); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) visit(n ast.Node) error {
	cur := a.cur.scope
	switch n := n.(type) {
	case *ast.FunctionDef:
		a.bind(n.Name)
		if err := a.visitAll(ArgumentsOf(n.Args).Defaults); err != nil {
			return err
		}
		if err := a.visitAll(n.Decorators); err != nil {
			return err
		}
		a.beginScope(n.Name, ScopeFunction, n)
		if err := a.params(n.Args); err != nil {
			return err
		}
		if err := a.suite(n.Body); err != nil {
			return err
		}
		return a.endScope()

	case *ast.Lambda:
		if err := a.visitAll(ArgumentsOf(n.Args).Defaults); err != nil {
			return err
		}
		a.beginScope(config.LambdaName, ScopeLambda, n)
		if err := a.params(n.Args); err != nil {
			return err
		}
		if err := a.visit(n.Body); err != nil {
			return err
		}
		return a.endScope()

	case *ast.ClassDef:
		a.bind(n.Name)
		if err := a.visitAll(n.Bases); err != nil {
			return err
		}
		a.beginScope(n.Name, ScopeClass, n)
		if err := a.suite(n.Body); err != nil {
			return err
		}
		return a.endScope()

	case *ast.Import:
		for _, alias := range n.Names {
			if alias.AsName != "" {
				a.bind(alias.AsName)
				continue
			}
			name := alias.Name
			if i := strings.IndexByte(name, '.'); i > 0 {
				name = name[:i]
			}
			a.bind(name)
		}
		return nil

	case *ast.ImportFrom:
		if err := future.CheckFromFuture(n); err != nil {
			return err
		}
		if len(n.Names) == 0 {
			cur.HasImportStar = true
			return nil
		}
		for _, alias := range n.Names {
			if alias.AsName != "" {
				a.bind(alias.AsName)
			} else {
				a.bind(alias.Name)
			}
		}
		return nil

	case *ast.Global:
		return a.global(n)

	case *ast.Exec:
		cur.UsesExec = true
		if n.Globals == nil && n.Locals == nil {
			cur.UnqualifiedExec = true
		}
		return a.children(n)

	case *ast.With:
		a.cur.openWith++
		if a.cur.openWith > cur.MaxWithCount {
			cur.MaxWithCount = a.cur.openWith
		}
		err := a.children(n)
		a.cur.openWith--
		return err

	case *ast.Return:
		if !cur.Type.IsFunction() {
			return diagnostics.NewError(diagnostics.ErrS005, n, "'return' outside function")
		}
		if n.Value != nil && a.cur.returnNode == nil {
			a.cur.returnNode = n
		}
		return a.children(n)

	case *ast.Yield:
		if !cur.Type.IsFunction() {
			return diagnostics.NewError(diagnostics.ErrS004, n, "'yield' outside function")
		}
		cur.Generator = true
		cur.YieldCount++
		return a.children(n)

	case *ast.Name:
		if n.Ctx != ast.Load && n.Ctx != ast.AugLoad {
			if n.Id == config.DebugName {
				return diagnostics.NewError(diagnostics.ErrS003, n, "can not assign to %s", config.DebugName)
			}
			a.bind(n.Id)
			return nil
		}
		cur.symbol(n.Id).Flags |= Used
		return nil

	case *ast.ListComp:
		return a.comprehension(n, n.Generators, n.Elt, false)

	case *ast.GeneratorExp:
		return a.comprehension(n, n.Generators, n.Elt, true)
	}
	return a.children(n)
}

func (a *analyzer) bind(name string) {
	a.cur.scope.symbol(name).Flags |= Bound
}

func (a *analyzer) addParam(node ast.Node, name string) error {
	s := a.cur.scope
	if sym, ok := s.Lookup(name); ok && sym.Has(Param) {
		return diagnostics.NewError(diagnostics.ErrS008, node, "duplicate argument name found: %s", name)
	}
	sym := s.symbol(name)
	sym.Flags |= Param | Bound
	sym.LocalIndex = len(s.LocalNames)
	s.LocalNames = append(s.LocalNames, name)
	s.Params = append(s.Params, name)
	return nil
}

var noArguments = &ast.Arguments{}

// ArgumentsOf returns args, or an empty parameter list when args is nil.
func ArgumentsOf(args *ast.Arguments) *ast.Arguments {
	if args == nil {
		return noArguments
	}
	return args
}

// TupleParamName is the synthetic parameter that receives an unpacked
// tuple argument at position i.
func TupleParamName(i int) string { return fmt.Sprintf(".%d", i) }

// params declares the parameters of the current function scope, binds
// the names of unpacked tuple parameters, and marks everything bound so
// far as coming from the parameter list.
func (a *analyzer) params(args *ast.Arguments) error {
	args = ArgumentsOf(args)
	var tuples []ast.Expr
	for i, arg := range args.Args {
		switch p := arg.(type) {
		case *ast.Name:
			if err := a.addParam(p, p.Id); err != nil {
				return err
			}
		case *ast.Tuple:
			if err := a.addParam(p, TupleParamName(i)); err != nil {
				return err
			}
			tuples = append(tuples, p)
		default:
			return diagnostics.NewError(diagnostics.ErrC007, arg, "unsupported parameter %T", arg)
		}
	}
	if args.Vararg != "" {
		if err := a.addParam(args, args.Vararg); err != nil {
			return err
		}
	}
	if args.Kwarg != "" {
		if err := a.addParam(args, args.Kwarg); err != nil {
			return err
		}
	}
	for _, t := range tuples {
		if err := a.storeTarget(t); err != nil {
			return err
		}
	}
	for _, sym := range a.cur.scope.symbols {
		sym.Flags |= FromParam
	}
	return nil
}

// storeTarget binds every name in an unpacking target regardless of the
// context recorded on its nodes.
func (a *analyzer) storeTarget(e ast.Expr) error {
	switch t := e.(type) {
	case *ast.Name:
		if t.Id == config.DebugName {
			return diagnostics.NewError(diagnostics.ErrS003, t, "can not assign to %s", config.DebugName)
		}
		a.bind(t.Id)
	case *ast.Tuple:
		for _, elt := range t.Elts {
			if err := a.storeTarget(elt); err != nil {
				return err
			}
		}
	case *ast.List:
		for _, elt := range t.Elts {
			if err := a.storeTarget(elt); err != nil {
				return err
			}
		}
	default:
		return a.visit(e)
	}
	return nil
}

// global declares names global in the current scope. A parameter declared
// global is fatal; a name already bound or used only draws a warning.
func (a *analyzer) global(n *ast.Global) error {
	s := a.cur.scope
	for _, name := range n.Names {
		sym, existed := s.Lookup(name)
		if !existed {
			s.symbol(name).Flags |= Global | Bound
			continue
		}
		prev := sym.Flags
		sym.Flags |= Global | Bound
		if prev&FromParam != 0 {
			return diagnostics.NewError(diagnostics.ErrS001, n, "name '%s' is local and global", name)
		}
		if prev&Global != 0 {
			continue
		}
		what := "use"
		if prev&Bound != 0 {
			what = "assignment"
		}
		a.warn(diagnostics.ErrS002, n, "name '%s' declared global after %s", name, what)
	}
	return nil
}

// comprehension opens the implicit scope of a list comprehension or
// generator expression. The first iterable belongs to the enclosing scope
// and reaches the new scope through the fed parameter.
func (a *analyzer) comprehension(node ast.Expr, gens []*ast.Comprehension, elt ast.Expr, generator bool) error {
	if len(gens) == 0 {
		return diagnostics.NewError(diagnostics.ErrC007, node, "comprehension without generators")
	}
	if err := a.visit(gens[0].Iter); err != nil {
		return err
	}
	name := config.ListCompName
	if generator {
		name = config.GenExpName
	}
	a.beginScope(name, ScopeComprehension, node)
	s := a.cur.scope
	if err := a.addParam(node, ast.FedName); err != nil {
		return err
	}
	for _, sym := range s.symbols {
		sym.Flags |= FromParam
	}
	if generator {
		s.Generator = true
		s.YieldCount++
	} else {
		a.bind(ast.AccumulatorName)
	}
	for i, g := range gens {
		if i > 0 {
			if err := a.visit(g.Iter); err != nil {
				return err
			}
		}
		if err := a.storeTarget(g.Target); err != nil {
			return err
		}
		if err := a.visitAll(g.Ifs); err != nil {
			return err
		}
	}
	if err := a.visit(elt); err != nil {
		return err
	}
	return a.endScope()
}
