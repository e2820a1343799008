package vm

import (
	"strings"

	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/future"
)

func (c *Compiler) compileBlock(body []ast.Stmt) error {
	for _, stmt := range body {
		if err := c.compileStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

// compileStatement emits one statement. A statement leaves the operand
// stack as it found it.
func (c *Compiler) compileStatement(stmt ast.Stmt) error {
	c.setLine(stmt)
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
		c.emitOp(OP_POP)
		return nil
	case *ast.Assign:
		return c.compileAssign(s)
	case *ast.AugAssign:
		return c.compileAugAssign(s)
	case *ast.Delete:
		for _, t := range s.Targets {
			if err := c.deleteTarget(t); err != nil {
				return err
			}
		}
		return nil
	case *ast.Print:
		return c.compilePrint(s)
	case *ast.If:
		return c.compileIf(s)
	case *ast.While:
		return c.compileWhileStatement(s)
	case *ast.For:
		return c.compileForStatement(s)
	case *ast.Break:
		return c.compileBreakStatement(s)
	case *ast.Continue:
		return c.compileContinueStatement(s)
	case *ast.Return:
		return c.compileReturn(s)
	case *ast.Raise:
		return c.compileRaise(s)
	case *ast.TryExcept:
		return c.compileTryExcept(s)
	case *ast.TryFinally:
		return c.compileTryFinally(s)
	case *ast.With:
		return c.compileWith(s)
	case *ast.Assert:
		return c.compileAssert(s)
	case *ast.Import:
		return c.compileImport(s)
	case *ast.ImportFrom:
		return c.compileImportFrom(s)
	case *ast.Exec:
		return c.compileExec(s)
	case *ast.FunctionDef:
		return c.compileFunctionDef(s)
	case *ast.ClassDef:
		return c.compileClassDef(s)
	case *ast.Global, *ast.Pass:
		return nil
	}
	return diagnostics.NewError(diagnostics.ErrC007, stmt, "unsupported statement %T", stmt)
}

func (c *Compiler) compileAssign(s *ast.Assign) error {
	if err := c.compileExpression(s.Value); err != nil {
		return err
	}
	for i, t := range s.Targets {
		if i < len(s.Targets)-1 {
			c.emitOp(OP_DUP)
		}
		if err := c.storeTarget(t); err != nil {
			return err
		}
	}
	return nil
}

// storeTarget pops the top of stack into an assignment target.
func (c *Compiler) storeTarget(target ast.Expr) error {
	switch t := target.(type) {
	case *ast.Name:
		return c.storeName(t.Id, t)
	case *ast.Attribute:
		if err := c.compileExpression(t.Value); err != nil {
			return err
		}
		c.emitA(OP_STORE_ATTR, c.unit.AddName(c.mangle(t.Attr)))
		return nil
	case *ast.Subscript:
		if err := c.compileExpression(t.Value); err != nil {
			return err
		}
		if err := c.compileSlice(t.Slice); err != nil {
			return err
		}
		c.emitOp(OP_STORE_SUBSCR)
		return nil
	case *ast.Tuple:
		return c.unpackTo(t.Elts)
	case *ast.List:
		return c.unpackTo(t.Elts)
	}
	return diagnostics.NewError(diagnostics.ErrC007, target, "can't assign to %T", target)
}

func (c *Compiler) unpackTo(elts []ast.Expr) error {
	c.emitA(OP_UNPACK_SEQUENCE, len(elts))
	for _, e := range elts {
		if err := c.storeTarget(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) deleteTarget(target ast.Expr) error {
	switch t := target.(type) {
	case *ast.Name:
		return c.deleteName(t.Id, t)
	case *ast.Attribute:
		if err := c.compileExpression(t.Value); err != nil {
			return err
		}
		c.emitA(OP_DELETE_ATTR, c.unit.AddName(c.mangle(t.Attr)))
		return nil
	case *ast.Subscript:
		if err := c.compileExpression(t.Value); err != nil {
			return err
		}
		if err := c.compileSlice(t.Slice); err != nil {
			return err
		}
		c.emitOp(OP_DELETE_SUBSCR)
		return nil
	case *ast.Tuple:
		return c.deleteAll(t.Elts)
	case *ast.List:
		return c.deleteAll(t.Elts)
	}
	return diagnostics.NewError(diagnostics.ErrC007, target, "can't delete %T", target)
}

func (c *Compiler) deleteAll(elts []ast.Expr) error {
	for _, e := range elts {
		if err := c.deleteTarget(e); err != nil {
			return err
		}
	}
	return nil
}

// compileAugAssign evaluates the container and key of the target once,
// keeping them in temporaries for the final store.
func (c *Compiler) compileAugAssign(s *ast.AugAssign) error {
	op := c.binaryOp(s.Op)
	switch t := s.Target.(type) {
	case *ast.Name:
		if err := c.loadName(t.Id, t); err != nil {
			return err
		}
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
		c.emitA(OP_INPLACE_OP, op)
		return c.storeName(t.Id, t)

	case *ast.Attribute:
		if err := c.compileExpression(t.Value); err != nil {
			return err
		}
		obj := c.storeTemp()
		attr := c.unit.AddName(c.mangle(t.Attr))
		c.emitA(OP_LOAD_FAST, obj)
		c.emitA(OP_LOAD_ATTR, attr)
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
		c.emitA(OP_INPLACE_OP, op)
		c.emitA(OP_LOAD_FAST, obj)
		c.emitA(OP_STORE_ATTR, attr)
		c.freeTemp(obj)
		return nil

	case *ast.Subscript:
		if err := c.compileExpression(t.Value); err != nil {
			return err
		}
		obj := c.storeTemp()
		if err := c.compileSlice(t.Slice); err != nil {
			return err
		}
		key := c.storeTemp()
		c.emitA(OP_LOAD_FAST, obj)
		c.emitA(OP_LOAD_FAST, key)
		c.emitOp(OP_BINARY_SUBSCR)
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
		c.emitA(OP_INPLACE_OP, op)
		c.emitA(OP_LOAD_FAST, obj)
		c.emitA(OP_LOAD_FAST, key)
		c.emitOp(OP_STORE_SUBSCR)
		c.freeTemp(key)
		c.freeTemp(obj)
		return nil
	}
	return diagnostics.NewError(diagnostics.ErrC007, s.Target, "illegal expression for augmented assignment")
}

func (c *Compiler) compilePrint(s *ast.Print) error {
	dest := -1
	if s.Dest != nil {
		if err := c.compileExpression(s.Dest); err != nil {
			return err
		}
		dest = c.storeTemp()
	}
	for _, v := range s.Values {
		if err := c.compileExpression(v); err != nil {
			return err
		}
		if dest >= 0 {
			c.emitA(OP_LOAD_FAST, dest)
			c.emitOp(OP_PRINT_ITEM_TO)
		} else {
			c.emitOp(OP_PRINT_ITEM)
		}
	}
	if s.NL {
		if dest >= 0 {
			c.emitA(OP_LOAD_FAST, dest)
			c.emitOp(OP_PRINT_NEWLINE_TO)
		} else {
			c.emitOp(OP_PRINT_NEWLINE)
		}
	}
	if dest >= 0 {
		c.freeTemp(dest)
	}
	return nil
}

func (c *Compiler) compileIf(s *ast.If) error {
	orelse := c.newLabel()
	end := c.newLabel()
	if err := c.compileExpression(s.Test); err != nil {
		return err
	}
	c.jump(OP_POP_JUMP_IF_FALSE, orelse)
	if err := c.compileBlock(s.Body); err != nil {
		return err
	}
	if len(s.Orelse) > 0 {
		if !c.dead {
			c.jump(OP_JUMP, end)
		}
		c.bind(orelse)
		if err := c.compileBlock(s.Orelse); err != nil {
			return err
		}
	} else {
		c.bind(orelse)
	}
	c.bind(end)
	return nil
}

// compileReturn parks the value in a temporary while pending finally
// bodies run.
func (c *Compiler) compileReturn(s *ast.Return) error {
	if !c.scope.Type.IsFunction() {
		return diagnostics.NewError(diagnostics.ErrS005, s, "'return' outside function")
	}
	if s.Value != nil {
		if c.scope.Generator {
			return diagnostics.NewError(diagnostics.ErrS006, s, "'return' with argument inside generator")
		}
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
	} else {
		c.loadConst(nil)
	}
	if len(c.handlers) > 0 {
		tmp := c.storeTemp()
		if err := c.doFinallysDownTo(0); err != nil {
			return err
		}
		c.emitA(OP_LOAD_FAST, tmp)
		c.freeTemp(tmp)
	}
	c.emitOp(OP_RETURN_VALUE)
	return nil
}

func (c *Compiler) compileRaise(s *ast.Raise) error {
	n := 0
	switch {
	case s.Tback != nil:
		n = 3
	case s.Inst != nil:
		n = 2
	case s.Type != nil:
		n = 1
	}
	for _, e := range []ast.Expr{s.Type, s.Inst, s.Tback}[:n] {
		if e == nil {
			c.loadConst(nil)
			continue
		}
		if err := c.compileExpression(e); err != nil {
			return err
		}
	}
	c.emitA(OP_RAISE_VARARGS, n)
	return nil
}

func (c *Compiler) compileAssert(s *ast.Assert) error {
	end := c.newLabel()
	c.emitA(OP_LOAD_GLOBAL, c.unit.AddName(config.DebugName))
	c.jump(OP_POP_JUMP_IF_FALSE, end)
	if err := c.compileExpression(s.Test); err != nil {
		return err
	}
	c.jump(OP_POP_JUMP_IF_TRUE, end)
	c.emitA(OP_LOAD_GLOBAL, c.unit.AddName(config.AssertionErrorName))
	n := 1
	if s.Msg != nil {
		if err := c.compileExpression(s.Msg); err != nil {
			return err
		}
		n = 2
	}
	c.emitA(OP_RAISE_VARARGS, n)
	c.bind(end)
	return nil
}

// importLevel is the search level for an import without explicit dots.
func (c *Compiler) importLevel() int {
	if c.flags.AbsoluteImport() {
		return config.ImportLevelAbsolute
	}
	return config.ImportLevelRelative
}

// compileImport binds the top-level package, or with `as` the named
// submodule reached through attribute loads.
func (c *Compiler) compileImport(s *ast.Import) error {
	for _, alias := range s.Names {
		c.emit(OP_IMPORT_NAME, c.unit.AddName(alias.Name), c.importLevel())
		parts := strings.Split(alias.Name, ".")
		if alias.AsName == "" {
			if err := c.storeName(parts[0], s); err != nil {
				return err
			}
			continue
		}
		for _, p := range parts[1:] {
			c.emitA(OP_LOAD_ATTR, c.unit.AddName(p))
		}
		if err := c.storeName(alias.AsName, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileImportFrom(s *ast.ImportFrom) error {
	if err := future.CheckFromFuture(s); err != nil {
		return err
	}
	level := s.Level
	if level == 0 {
		level = c.importLevel()
	}
	c.emit(OP_IMPORT_NAME, c.unit.AddName(s.Module), level)
	for _, p := range strings.Split(s.Module, ".")[1:] {
		c.emitA(OP_LOAD_ATTR, c.unit.AddName(p))
	}
	if len(s.Names) == 0 {
		c.emitOp(OP_IMPORT_STAR)
		return nil
	}
	for _, alias := range s.Names {
		c.emitA(OP_IMPORT_FROM, c.unit.AddName(alias.Name))
		name := alias.AsName
		if name == "" {
			name = alias.Name
		}
		if err := c.storeName(name, s); err != nil {
			return err
		}
	}
	c.emitOp(OP_POP)
	return nil
}

func (c *Compiler) compileExec(s *ast.Exec) error {
	if err := c.compileExpression(s.Body); err != nil {
		return err
	}
	if s.Globals == nil {
		c.loadConst(nil)
	} else if err := c.compileExpression(s.Globals); err != nil {
		return err
	}
	switch {
	case s.Locals != nil:
		if err := c.compileExpression(s.Locals); err != nil {
			return err
		}
	case s.Globals != nil:
		c.emitOp(OP_DUP)
	default:
		c.loadConst(nil)
	}
	c.emitOp(OP_EXEC_STMT)
	return nil
}

// compileTryExcept emits the protected body followed by a dispatcher that
// tests each handler type in order and re-raises when none matches.
func (c *Compiler) compileTryExcept(s *ast.TryExcept) error {
	for i, h := range s.Handlers {
		if h.Type == nil && i != len(s.Handlers)-1 {
			return diagnostics.NewError(diagnostics.ErrC004, h, "bare except must be last except clause")
		}
	}
	handlerEnd := c.newLabel()
	end := c.newLabel()

	region := c.pushRegion(nil)
	if err := c.compileBlock(s.Body); err != nil {
		return err
	}
	c.popRegion()
	if !c.dead {
		c.jump(OP_JUMP, handlerEnd)
	}

	c.bindHandler(region.handler, region.depth)
	exc := c.storeTemp()
	for _, h := range s.Handlers {
		c.setLine(h)
		next := c.newLabel()
		if h.Type != nil {
			c.emitA(OP_LOAD_FAST, exc)
			if err := c.compileExpression(h.Type); err != nil {
				return err
			}
			c.emitA(OP_COMPARE_OP, CmpExcMatch)
			c.jump(OP_POP_JUMP_IF_FALSE, next)
		}
		if h.Name != nil {
			c.emitA(OP_LOAD_FAST, exc)
			if err := c.storeTarget(h.Name); err != nil {
				return err
			}
		}
		if err := c.compileBlock(h.Body); err != nil {
			return err
		}
		if !c.dead {
			c.jump(OP_JUMP, end)
		}
		if h.Type != nil {
			c.bind(next)
		}
	}
	if n := len(s.Handlers); n == 0 || s.Handlers[n-1].Type != nil {
		c.emitA(OP_LOAD_FAST, exc)
		c.emitOp(OP_RERAISE)
	}
	c.freeTemp(exc)

	c.bind(handlerEnd)
	if err := c.compileBlock(s.Orelse); err != nil {
		return err
	}
	c.bind(end)
	c.commitRegion(region)
	return nil
}

// compileTryFinally inlines the finally body on every exit from the
// protected body: fall-through, the exception path, and each return,
// break or continue crossing it.
func (c *Compiler) compileTryFinally(s *ast.TryFinally) error {
	end := c.newLabel()
	finally := func() error {
		c.inFinally++
		c.finallyBody++
		defer func() {
			c.inFinally--
			c.finallyBody--
		}()
		return c.compileBlock(s.Finalbody)
	}

	region := c.pushRegion(finally)
	if err := c.compileBlock(s.Body); err != nil {
		return err
	}
	c.popRegion()
	if !c.dead {
		if err := c.inlineFinally(region); err != nil {
			return err
		}
		if !c.dead {
			c.jump(OP_JUMP, end)
		}
	}

	c.bindHandler(region.handler, region.depth)
	exc := c.storeTemp()
	if err := c.inlineFinally(region); err != nil {
		return err
	}
	if !c.dead {
		c.emitA(OP_LOAD_FAST, exc)
		c.emitOp(OP_RERAISE)
	}
	c.freeTemp(exc)

	c.bind(end)
	c.commitRegion(region)
	return nil
}

// compileWith calls __exit__(None, None, None) on every normal exit from
// the body and __exit__(type, value, tb) when it raises, swallowing the
// exception if that call returns true.
func (c *Compiler) compileWith(s *ast.With) error {
	if err := c.compileExpression(s.ContextExpr); err != nil {
		return err
	}
	c.emitOp(OP_DUP)
	c.emitA(OP_LOAD_ATTR, c.unit.AddName(config.ExitMethod))
	exit := c.storeTemp()
	c.emitA(OP_LOAD_ATTR, c.unit.AddName(config.EnterMethod))
	c.emit(OP_CALL_FUNCTION, 0, 0)
	if s.OptionalVars != nil {
		if err := c.storeTarget(s.OptionalVars); err != nil {
			return err
		}
	} else {
		c.emitOp(OP_POP)
	}

	end := c.newLabel()
	normalExit := func() error {
		c.emitA(OP_LOAD_FAST, exit)
		c.loadConst(nil)
		c.loadConst(nil)
		c.loadConst(nil)
		c.emit(OP_CALL_FUNCTION, 3, 0)
		c.emitOp(OP_POP)
		return nil
	}

	region := c.pushRegion(normalExit)
	if err := c.compileBlock(s.Body); err != nil {
		return err
	}
	c.popRegion()
	if !c.dead {
		if err := c.inlineFinally(region); err != nil {
			return err
		}
		c.jump(OP_JUMP, end)
	}

	c.bindHandler(region.handler, region.depth)
	exc := c.storeTemp()
	c.emitA(OP_LOAD_FAST, exit)
	c.emitA(OP_LOAD_FAST, exc)
	c.emitOp(OP_UNPACK_EXCEPTION)
	c.emit(OP_CALL_FUNCTION, 3, 0)
	c.jump(OP_POP_JUMP_IF_TRUE, end)
	c.emitA(OP_LOAD_FAST, exc)
	c.emitOp(OP_RERAISE)
	c.freeTemp(exc)

	c.bind(end)
	c.freeTemp(exit)
	c.commitRegion(region)
	return nil
}
