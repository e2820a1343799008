package vm

import (
	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
)

var cmpOpcodes = map[ast.CmpOp]int{
	ast.Eq:    CmpEq,
	ast.NotEq: CmpNe,
	ast.Lt:    CmpLt,
	ast.LtE:   CmpLe,
	ast.Gt:    CmpGt,
	ast.GtE:   CmpGe,
	ast.Is:    CmpIs,
	ast.IsNot: CmpIsNot,
	ast.In:    CmpIn,
	ast.NotIn: CmpNotIn,
}

var unaryOpcodes = map[ast.UnaryOperator]int{
	ast.Invert: UnaryInvert,
	ast.Not:    UnaryNot,
	ast.UAdd:   UnaryPos,
	ast.USub:   UnaryNeg,
}

// binaryOp maps an operator to its table id. Division was resolved for the
// whole unit when the compiler was created.
func (c *Compiler) binaryOp(op ast.Operator) int {
	if op == ast.Div {
		return c.divOp
	}
	return int(op) - int(ast.Add)
}

// compileExpression emits code leaving exactly one value on the stack.
func (c *Compiler) compileExpression(expr ast.Expr) error {
	switch e := expr.(type) {
	case *ast.Num:
		c.loadConst(e.N)
	case *ast.Str:
		if len([]rune(e.S)) > config.MaxStringConstant {
			return diagnostics.NewError(diagnostics.ErrC005, e, "string constant too large (more than %d characters)", config.MaxStringConstant)
		}
		c.loadConst(e.S)
	case *ast.Name:
		return c.loadName(e.Id, e)
	case *ast.Attribute:
		if err := c.compileExpression(e.Value); err != nil {
			return err
		}
		c.emitA(OP_LOAD_ATTR, c.unit.AddName(c.mangle(e.Attr)))
	case *ast.Subscript:
		if err := c.compileExpression(e.Value); err != nil {
			return err
		}
		if err := c.compileSlice(e.Slice); err != nil {
			return err
		}
		c.emitOp(OP_BINARY_SUBSCR)
	case *ast.BinOp:
		if err := c.compileExpression(e.Left); err != nil {
			return err
		}
		if err := c.compileExpression(e.Right); err != nil {
			return err
		}
		c.emitA(OP_BINARY_OP, c.binaryOp(e.Op))
	case *ast.UnaryOp:
		if err := c.compileExpression(e.Operand); err != nil {
			return err
		}
		op, ok := unaryOpcodes[e.Op]
		if !ok {
			return diagnostics.NewError(diagnostics.ErrC007, e, "unknown unary operator %d", e.Op)
		}
		c.emitA(OP_UNARY_OP, op)
	case *ast.Repr:
		if err := c.compileExpression(e.Value); err != nil {
			return err
		}
		c.emitA(OP_UNARY_OP, UnaryRepr)
	case *ast.BoolOp:
		return c.compileBoolOp(e)
	case *ast.Compare:
		return c.compileCompare(e)
	case *ast.IfExp:
		return c.compileIfExp(e)
	case *ast.Call:
		return c.compileCall(e)
	case *ast.Tuple:
		if err := c.compileAll(e.Elts); err != nil {
			return err
		}
		c.emitA(OP_BUILD_TUPLE, len(e.Elts))
	case *ast.List:
		if err := c.compileAll(e.Elts); err != nil {
			return err
		}
		c.emitA(OP_BUILD_LIST, len(e.Elts))
	case *ast.Dict:
		if len(e.Keys) != len(e.Values) {
			return diagnostics.NewError(diagnostics.ErrC007, e, "dict with %d keys and %d values", len(e.Keys), len(e.Values))
		}
		for i := range e.Keys {
			if err := c.compileExpression(e.Keys[i]); err != nil {
				return err
			}
			if err := c.compileExpression(e.Values[i]); err != nil {
				return err
			}
		}
		c.emitA(OP_BUILD_MAP, len(e.Keys))
	case *ast.Lambda:
		return c.compileLambda(e)
	case *ast.ListComp:
		return c.compileComprehension(e, e.Generators, false)
	case *ast.GeneratorExp:
		return c.compileComprehension(e, e.Generators, true)
	case *ast.Yield:
		return c.compileYield(e)
	default:
		return diagnostics.NewError(diagnostics.ErrC007, expr, "unsupported expression %T", expr)
	}
	return nil
}

func (c *Compiler) compileAll(exprs []ast.Expr) error {
	for _, e := range exprs {
		if err := c.compileExpression(e); err != nil {
			return err
		}
	}
	return nil
}

// compileSlice pushes the key object of a subscript.
func (c *Compiler) compileSlice(s ast.SliceKind) error {
	switch k := s.(type) {
	case *ast.Index:
		return c.compileExpression(k.Value)
	case *ast.Ellipsis:
		c.loadConst(Ellipsis)
		return nil
	case *ast.Slice:
		parts := []ast.Expr{k.Lower, k.Upper}
		if k.Step != nil {
			parts = append(parts, k.Step)
		}
		for _, p := range parts {
			if p == nil {
				c.loadConst(nil)
				continue
			}
			if err := c.compileExpression(p); err != nil {
				return err
			}
		}
		c.emitA(OP_BUILD_SLICE, len(parts))
		return nil
	case *ast.ExtSlice:
		for _, d := range k.Dims {
			if err := c.compileSlice(d); err != nil {
				return err
			}
		}
		c.emitA(OP_BUILD_TUPLE, len(k.Dims))
		return nil
	}
	return diagnostics.NewError(diagnostics.ErrC007, s, "unsupported subscript %T", s)
}

// compileBoolOp keeps the deciding operand as the result:
//
//	a; DUP; POP_JUMP_IF_FALSE end; POP; b; ... end:
func (c *Compiler) compileBoolOp(e *ast.BoolOp) error {
	if len(e.Values) == 0 {
		return diagnostics.NewError(diagnostics.ErrC007, e, "empty boolean operation")
	}
	jump := OP_POP_JUMP_IF_FALSE
	if e.Op == ast.Or {
		jump = OP_POP_JUMP_IF_TRUE
	}
	end := c.newLabel()
	if err := c.compileExpression(e.Values[0]); err != nil {
		return err
	}
	for _, v := range e.Values[1:] {
		c.emitOp(OP_DUP)
		c.jump(jump, end)
		c.emitOp(OP_POP)
		if err := c.compileExpression(v); err != nil {
			return err
		}
	}
	c.bind(end)
	return nil
}

// compileCompare evaluates each operand once. The right operand of every
// link but the last is kept in a temporary to become the next left one;
// the first false result short-circuits to the end.
func (c *Compiler) compileCompare(e *ast.Compare) error {
	if len(e.Ops) == 0 || len(e.Ops) != len(e.Comparators) {
		return diagnostics.NewError(diagnostics.ErrC007, e, "malformed comparison")
	}
	if err := c.compileExpression(e.Left); err != nil {
		return err
	}
	end := c.newLabel()
	last := len(e.Ops) - 1
	tmp := -1
	for i, op := range e.Ops {
		cmp, ok := cmpOpcodes[op]
		if !ok {
			return diagnostics.NewError(diagnostics.ErrC007, e, "unknown comparison %d", op)
		}
		if err := c.compileExpression(e.Comparators[i]); err != nil {
			return err
		}
		if i == last {
			c.emitA(OP_COMPARE_OP, cmp)
			break
		}
		if tmp < 0 {
			tmp = c.allocTemp()
		}
		c.emitOp(OP_DUP)
		c.emitA(OP_STORE_FAST, tmp)
		c.emitA(OP_COMPARE_OP, cmp)
		c.emitOp(OP_DUP)
		c.jump(OP_POP_JUMP_IF_FALSE, end)
		c.emitOp(OP_POP)
		c.emitA(OP_LOAD_FAST, tmp)
	}
	if tmp >= 0 {
		c.freeTemp(tmp)
	}
	c.bind(end)
	return nil
}

func (c *Compiler) compileIfExp(e *ast.IfExp) error {
	orelse := c.newLabel()
	end := c.newLabel()
	if err := c.compileExpression(e.Test); err != nil {
		return err
	}
	c.jump(OP_POP_JUMP_IF_FALSE, orelse)
	if err := c.compileExpression(e.Body); err != nil {
		return err
	}
	c.jump(OP_JUMP, end)
	c.bind(orelse)
	if err := c.compileExpression(e.Orelse); err != nil {
		return err
	}
	c.bind(end)
	return nil
}

func (c *Compiler) compileCall(e *ast.Call) error {
	if err := c.compileExpression(e.Func); err != nil {
		return err
	}
	if err := c.compileAll(e.Args); err != nil {
		return err
	}
	for _, kw := range e.Keywords {
		c.loadConst(kw.Arg)
		if err := c.compileExpression(kw.Value); err != nil {
			return err
		}
	}
	op := OP_CALL_FUNCTION
	if e.Starargs != nil {
		if err := c.compileExpression(e.Starargs); err != nil {
			return err
		}
		op = OP_CALL_FUNCTION_VAR
	}
	if e.Kwargs != nil {
		if err := c.compileExpression(e.Kwargs); err != nil {
			return err
		}
		if op == OP_CALL_FUNCTION_VAR {
			op = OP_CALL_FUNCTION_VAR_KW
		} else {
			op = OP_CALL_FUNCTION_KW
		}
	}
	c.emit(op, len(e.Args), len(e.Keywords))
	return nil
}
