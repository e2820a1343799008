package vm

import (
	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/symbols"
)

// prologue emits the code that runs before the body of a function scope:
// resume dispatch for generators, copying captured parameters into their
// cells and unpacking tuple parameters.
func (c *Compiler) prologue() error {
	if c.scope.Generator {
		for k := 1; k <= c.scope.YieldCount; k++ {
			l := c.newLabel()
			c.resumeLabels = append(c.resumeLabels, l)
			c.emit(OP_RESUME_JUMP, k, int(l))
		}
	}
	var args *ast.Arguments
	switch n := c.scope.Node.(type) {
	case *ast.FunctionDef:
		args = symbols.ArgumentsOf(n.Args)
	case *ast.Lambda:
		args = symbols.ArgumentsOf(n.Args)
	case *ast.ListComp, *ast.GeneratorExp:
		c.unit.ArgCount = 1
		return nil
	default:
		return nil
	}
	c.unit.ArgCount = len(args.Args)
	if args.Vararg != "" {
		c.unit.VarArgs = true
		c.unit.Flags |= FlagVarArgs
	}
	if args.Kwarg != "" {
		c.unit.VarKeywords = true
		c.unit.Flags |= FlagVarKeywords
	}
	for _, name := range c.scope.Params {
		sym, _ := c.scope.Lookup(name)
		if sym.Has(symbols.Cell) {
			c.emitA(OP_LOAD_FAST, sym.LocalIndex)
			c.emitA(OP_STORE_DEREF, sym.EnvIndex)
		}
	}
	for i, arg := range args.Args {
		if t, ok := arg.(*ast.Tuple); ok {
			c.setLine(t)
			if err := c.loadName(symbols.TupleParamName(i), t); err != nil {
				return err
			}
			if err := c.storeTarget(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Compiler) compileFunctionBody(body []ast.Stmt) error {
	if doc, ok := ast.Docstring(body); ok {
		c.unit.Doc = doc.S
		body = body[1:]
	}
	if err := c.compileBlock(body); err != nil {
		return err
	}
	if !c.dead {
		c.loadConst(nil)
		c.emitOp(OP_RETURN_VALUE)
	}
	return nil
}

func (c *Compiler) compileLambdaBody(n *ast.Lambda) error {
	c.setLine(n.Body)
	if err := c.compileExpression(n.Body); err != nil {
		return err
	}
	if c.scope.Generator {
		c.emitOp(OP_POP)
		c.loadConst(nil)
	}
	c.emitOp(OP_RETURN_VALUE)
	return nil
}

// compileClassBody emits a class body; it returns its namespace.
func (c *Compiler) compileClassBody(n *ast.ClassDef) error {
	body := n.Body
	if err := c.loadName(config.ModuleName, n); err != nil {
		return err
	}
	if err := c.storeName(config.ModuleAttr, n); err != nil {
		return err
	}
	if doc, ok := ast.Docstring(body); ok {
		if err := c.compileExpression(doc); err != nil {
			return err
		}
		if err := c.storeName(config.DocName, doc); err != nil {
			return err
		}
		body = body[1:]
	}
	if err := c.compileBlock(body); err != nil {
		return err
	}
	c.emitOp(OP_LOAD_LOCALS)
	c.emitOp(OP_RETURN_VALUE)
	return nil
}

// compileComprehensionBody emits the synthetic function behind a list
// comprehension or generator expression. The loops are rebuilt as
// statements over the fed iterator so they compile like ordinary code.
func (c *Compiler) compileComprehensionBody(gens []*ast.Comprehension, elt ast.Expr, generator bool) error {
	pos := c.scope.Node.GetPos()
	var inner ast.Stmt
	if generator {
		inner = &ast.ExprStmt{Pos: elt.GetPos(), Value: &ast.Yield{Pos: elt.GetPos(), Value: elt}}
	} else {
		inner = &ast.ExprStmt{Pos: elt.GetPos(), Value: &ast.Call{
			Pos:  elt.GetPos(),
			Func: &ast.Attribute{Pos: elt.GetPos(), Value: &ast.Name{Pos: pos, Id: ast.AccumulatorName, Ctx: ast.Load}, Attr: "append", Ctx: ast.Load},
			Args: []ast.Expr{elt},
		}}
	}
	for i := len(gens) - 1; i >= 0; i-- {
		g := gens[i]
		for j := len(g.Ifs) - 1; j >= 0; j-- {
			inner = &ast.If{Pos: g.Ifs[j].GetPos(), Test: g.Ifs[j], Body: []ast.Stmt{inner}}
		}
		iter := g.Iter
		if i == 0 {
			iter = &ast.Name{Pos: g.Pos, Id: ast.FedName, Ctx: ast.Load}
		}
		inner = &ast.For{Pos: g.Pos, Target: g.Target, Iter: iter, Body: []ast.Stmt{inner}}
	}
	body := []ast.Stmt{inner}
	if !generator {
		acc := &ast.Name{Pos: pos, Id: ast.AccumulatorName, Ctx: ast.Store}
		body = append([]ast.Stmt{&ast.Assign{Pos: pos, Targets: []ast.Expr{acc}, Value: &ast.List{Pos: pos, Ctx: ast.Load}}}, body...)
		body = append(body, &ast.Return{Pos: pos, Value: &ast.Name{Pos: pos, Id: ast.AccumulatorName, Ctx: ast.Load}})
	}
	return c.compileFunctionBody(body)
}

// makeFunction pushes a function object for unit. Defaults must already be
// on the stack. Free variables are captured as cells from the frame that
// owns them: the current one, or an outer frame when defining inside a
// class body.
func (c *Compiler) makeFunction(unit *CodeUnit, scope *symbols.Scope, ndefaults int) {
	if len(scope.FreeVars) == 0 {
		c.loadConst(unit)
		c.emitA(OP_MAKE_FUNCTION, ndefaults)
		return
	}
	hops := 0
	if scope.Up != c.scope {
		hops = scope.Distance - 1
	}
	for _, name := range scope.FreeVars {
		sym, _ := scope.Up.Lookup(name)
		c.emit(OP_LOAD_CLOSURE, hops, sym.EnvIndex)
	}
	c.emitA(OP_BUILD_TUPLE, len(scope.FreeVars))
	c.loadConst(unit)
	c.emitA(OP_MAKE_CLOSURE, ndefaults)
}

func (c *Compiler) compileDefaults(args *ast.Arguments) error {
	for _, d := range args.Defaults {
		if err := c.compileExpression(d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileFunctionDef(n *ast.FunctionDef) error {
	for _, d := range n.Decorators {
		if err := c.compileExpression(d); err != nil {
			return err
		}
	}
	args := symbols.ArgumentsOf(n.Args)
	if err := c.compileDefaults(args); err != nil {
		return err
	}
	unit, scope, err := c.compileChild(n, n.Name, KindFunction)
	if err != nil {
		return err
	}
	c.setLine(n)
	c.makeFunction(unit, scope, len(args.Defaults))
	for range n.Decorators {
		c.emit(OP_CALL_FUNCTION, 1, 0)
	}
	return c.storeName(n.Name, n)
}

func (c *Compiler) compileLambda(n *ast.Lambda) error {
	args := symbols.ArgumentsOf(n.Args)
	if err := c.compileDefaults(args); err != nil {
		return err
	}
	unit, scope, err := c.compileChild(n, config.LambdaName, KindLambda)
	if err != nil {
		return err
	}
	c.makeFunction(unit, scope, len(args.Defaults))
	return nil
}

func (c *Compiler) compileClassDef(n *ast.ClassDef) error {
	c.loadConst(n.Name)
	for _, b := range n.Bases {
		if err := c.compileExpression(b); err != nil {
			return err
		}
	}
	c.emitA(OP_BUILD_TUPLE, len(n.Bases))
	unit, scope, err := c.compileChild(n, n.Name, KindClass)
	if err != nil {
		return err
	}
	c.setLine(n)
	c.makeFunction(unit, scope, 0)
	c.emit(OP_CALL_FUNCTION, 0, 0)
	c.emitOp(OP_BUILD_CLASS)
	return c.storeName(n.Name, n)
}

// compileComprehension calls the synthetic function of a comprehension
// with an iterator over its first iterable.
func (c *Compiler) compileComprehension(node ast.Expr, gens []*ast.Comprehension, generator bool) error {
	if len(gens) == 0 {
		return diagnostics.NewError(diagnostics.ErrC007, node, "comprehension without generators")
	}
	name := config.ListCompName
	if generator {
		name = config.GenExpName
	}
	unit, scope, err := c.compileChild(node, name, KindComprehension)
	if err != nil {
		return err
	}
	c.makeFunction(unit, scope, 0)
	if err := c.compileExpression(gens[0].Iter); err != nil {
		return err
	}
	c.emitOp(OP_GET_ITER)
	c.emit(OP_CALL_FUNCTION, 1, 0)
	return nil
}

// compileYield suspends the generator. Values below the yielded one are
// spilled to temporaries so the stack is empty across the suspension, and
// the re-entry code runs outside every handler range.
func (c *Compiler) compileYield(n *ast.Yield) error {
	if !c.scope.Generator {
		return diagnostics.NewError(diagnostics.ErrS004, n, "'yield' outside function")
	}
	if c.inFinallyRegion() {
		return diagnostics.NewError(diagnostics.ErrC003, n, "'yield' not allowed in a 'try' block with a 'finally' clause")
	}
	if n.Value != nil {
		if err := c.compileExpression(n.Value); err != nil {
			return err
		}
	} else {
		c.loadConst(nil)
	}
	if c.yieldCount >= len(c.resumeLabels) {
		return diagnostics.NewError(diagnostics.ErrC008, n, "more yields than resume points")
	}
	value := c.storeTemp()
	spills := make([]int, c.depth)
	for i := range spills {
		spills[i] = c.storeTemp()
	}
	c.emitA(OP_LOAD_FAST, value)
	c.freeTemp(value)

	resume := c.resumeLabels[c.yieldCount]
	c.yieldCount++
	c.emitA(OP_SAVE_LOCALS, 0)
	c.emitA(OP_YIELD_VALUE, c.yieldCount)

	c.endRanges()
	c.bind(resume)
	c.emitA(OP_RESTORE_LOCALS, 0)
	for i := len(spills) - 1; i >= 0; i-- {
		c.emitA(OP_LOAD_FAST, spills[i])
	}
	for i := 0; i < len(spills); i++ {
		c.freeTemp(spills[i])
	}
	c.restartRanges()
	c.emitOp(OP_LOAD_SENT)
	return nil
}
