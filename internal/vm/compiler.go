package vm

import (
	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/future"
	"github.com/funvibe/pybc/internal/symbols"
)

// LoopContext tracks loop information for break/continue
type LoopContext struct {
	breakLabel    Label
	continueLabel Label
	handlerLevel  int // Open regions when the loop started; exits inline finally bodies above it
	inFinally     int // Enclosing finally-body depth, restored when the loop ends
}

// Compiler generates the code unit of one scope. Nested scopes get their
// own Compiler linked through enclosing; no state is shared between
// independent compilations.
type Compiler struct {
	unit  *CodeUnit
	scope *symbols.Scope
	tree  *symbols.ScopeTree
	flags future.Flags
	opts  *compileOptions

	// Enclosing compiler (for nested scopes)
	enclosing *Compiler

	// Class whose private names are mangled in this scope
	className string

	labels   []labelInfo
	depth    int
	dead     bool
	line     int
	stackErr error

	lineNumbers bool
	tempCount   int
	freeTemps   []int

	loopStack   []LoopContext
	handlers    []*handlerRegion
	ranges      []exceptionRange
	inFinally   int // Finally-body depth for the continue rule; loops reset it
	finallyBody int // Finally-body depth that loops never reset

	resumeLabels []Label
	yieldCount   int

	divOp int
}

type compileOptions struct {
	file        string
	lineNumbers bool
	warn        func(*diagnostics.DiagnosticError)
}

// CompileOption configures Compile and Generate.
type CompileOption func(*compileOptions)

// WithFile sets the file name recorded in code units and diagnostics.
func WithFile(file string) CompileOption {
	return func(o *compileOptions) { o.file = file }
}

// WithLineNumbers controls whether line tables are emitted.
func WithLineNumbers(on bool) CompileOption {
	return func(o *compileOptions) { o.lineNumbers = on }
}

// WithWarnings receives the non-fatal diagnostics of scope analysis.
func WithWarnings(fn func(*diagnostics.DiagnosticError)) CompileOption {
	return func(o *compileOptions) { o.warn = fn }
}

func newOptions(opts []CompileOption) *compileOptions {
	o := &compileOptions{lineNumbers: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compile runs future-feature preprocessing, scope analysis and code
// generation over mod. known holds features already in effect for the
// caller.
func Compile(mod ast.Mod, known future.Flags, opts ...CompileOption) (*CodeUnit, error) {
	o := newOptions(opts)
	flags, err := future.Preprocess(mod, known)
	if err != nil {
		return nil, o.attach(err)
	}
	tree, warnings, err := symbols.Analyze(mod, symbols.WithFile(o.file))
	if o.warn != nil {
		for _, w := range warnings {
			o.warn(w)
		}
	}
	if err != nil {
		return nil, err
	}
	return generate(mod, tree, flags, o)
}

// Generate emits the code unit of mod from an already analyzed scope tree.
func Generate(mod ast.Mod, tree *symbols.ScopeTree, flags future.Flags, opts ...CompileOption) (*CodeUnit, error) {
	return generate(mod, tree, flags, newOptions(opts))
}

func generate(mod ast.Mod, tree *symbols.ScopeTree, flags future.Flags, o *compileOptions) (*CodeUnit, error) {
	scope := tree.Lookup(mod)
	if scope == nil || !scope.IsCooked() {
		return nil, o.attach(diagnostics.NewError(diagnostics.ErrC007, mod, "unit was not analyzed"))
	}
	kind := KindModule
	switch mod.(type) {
	case *ast.Interactive:
		kind = KindInteractive
	case *ast.Expression:
		kind = KindExpression
	}
	c := newCompiler(nil, scope, tree, flags, o, config.ModuleUnit, kind)
	unit, err := c.compileUnit(mod)
	if err != nil {
		return nil, o.attach(err)
	}
	return unit, nil
}

func (o *compileOptions) attach(err error) error {
	if d, ok := diagnostics.As(err); ok && o.file != "" && d.File == "" {
		return d.WithFile(o.file)
	}
	return err
}

func newCompiler(enclosing *Compiler, scope *symbols.Scope, tree *symbols.ScopeTree, flags future.Flags, o *compileOptions, name string, kind UnitKind) *Compiler {
	c := &Compiler{
		unit:        newCodeUnit(name, kind),
		scope:       scope,
		tree:        tree,
		flags:       flags,
		opts:        o,
		enclosing:   enclosing,
		lineNumbers: o.lineNumbers,
		divOp:       BinDiv,
	}
	if flags.Division() {
		c.divOp = BinTrueDiv
		c.unit.Flags |= FlagDivision
	}
	if enclosing != nil {
		c.className = enclosing.className
	}
	if kind == KindClass {
		c.className = name
	}
	c.unit.File = o.file
	c.unit.FirstLine = scope.Node.GetPos().Line
	c.line = c.unit.FirstLine
	c.unit.CellVars = scope.CellVars
	c.unit.FreeVars = scope.FreeVars
	if scope.Optimized() {
		c.unit.Flags |= FlagOptimized
	}
	if scope.Type.IsFunction() || scope.Type == symbols.ScopeClass {
		c.unit.Flags |= FlagNewLocals
	}
	if scope.Generator {
		c.unit.Flags |= FlagGenerator
	}
	// Class bodies use name operations; their locals stay in the dictionary.
	if scope.Type.IsFunction() {
		c.unit.LocalNames = scope.LocalNames
	}
	return c
}

// compileUnit emits the body of the compiler's scope and finalizes it.
func (c *Compiler) compileUnit(node ast.Node) (*CodeUnit, error) {
	if err := c.prologue(); err != nil {
		return nil, err
	}
	var err error
	switch n := node.(type) {
	case *ast.Module:
		err = c.compileModuleBody(n.Body, false)
	case *ast.Interactive:
		err = c.compileModuleBody(n.Body, true)
	case *ast.Suite:
		err = c.compileModuleBody(n.Body, false)
	case *ast.Expression:
		if err = c.compileExpression(n.Body); err == nil {
			c.emitOp(OP_RETURN_VALUE)
		}
	case *ast.FunctionDef:
		err = c.compileFunctionBody(n.Body)
	case *ast.Lambda:
		err = c.compileLambdaBody(n)
	case *ast.ClassDef:
		err = c.compileClassBody(n)
	case *ast.ListComp:
		err = c.compileComprehensionBody(n.Generators, n.Elt, false)
	case *ast.GeneratorExp:
		err = c.compileComprehensionBody(n.Generators, n.Elt, true)
	default:
		err = diagnostics.NewError(diagnostics.ErrC007, node, "unsupported unit %T", node)
	}
	if err != nil {
		return nil, err
	}
	if c.yieldCount != len(c.resumeLabels) {
		return nil, diagnostics.NewError(diagnostics.ErrC008, node, "%d resume points emitted for %d yields", c.yieldCount, len(c.resumeLabels))
	}
	c.unit.GeneratorResumeCount = c.yieldCount
	if err := c.finalize(); err != nil {
		return nil, err
	}
	return c.unit, nil
}

func (c *Compiler) compileModuleBody(body []ast.Stmt, interactive bool) error {
	if doc, ok := ast.Docstring(body); ok && !interactive {
		c.setLine(doc)
		if err := c.compileExpression(doc); err != nil {
			return err
		}
		if err := c.storeName(config.DocName, doc); err != nil {
			return err
		}
		body = body[1:]
	}
	for _, stmt := range body {
		if interactive {
			if es, ok := stmt.(*ast.ExprStmt); ok {
				c.setLine(es)
				if err := c.compileExpression(es.Value); err != nil {
					return err
				}
				c.emitOp(OP_PRINT_EXPR)
				continue
			}
		}
		if err := c.compileStatement(stmt); err != nil {
			return err
		}
	}
	c.loadConst(nil)
	c.emitOp(OP_RETURN_VALUE)
	return nil
}

// compileChild compiles the scope introduced by node into a nested code
// unit.
func (c *Compiler) compileChild(node ast.Node, name string, kind UnitKind) (*CodeUnit, *symbols.Scope, error) {
	scope := c.tree.Lookup(node)
	if scope == nil || !scope.IsCooked() {
		return nil, nil, diagnostics.NewError(diagnostics.ErrC007, node, "no analyzed scope for %s", name)
	}
	child := newCompiler(c, scope, c.tree, c.flags, c.opts, name, kind)
	unit, err := child.compileUnit(node)
	if err != nil {
		return nil, nil, err
	}
	return unit, scope, nil
}
