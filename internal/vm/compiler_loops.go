package vm

import (
	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/diagnostics"
)

func (c *Compiler) beginLoop(breakLabel, continueLabel Label) {
	c.loopStack = append(c.loopStack, LoopContext{
		breakLabel:    breakLabel,
		continueLabel: continueLabel,
		handlerLevel:  len(c.handlers),
		inFinally:     c.inFinally,
	})
	c.inFinally = 0
}

func (c *Compiler) endLoop() {
	loop := c.loopStack[len(c.loopStack)-1]
	c.loopStack = c.loopStack[:len(c.loopStack)-1]
	c.inFinally = loop.inFinally
}

// compileWhileStatement places the test after the body:
//
//	JUMP test; body: ...; test: cond; POP_JUMP_IF_TRUE body; else...; break:
func (c *Compiler) compileWhileStatement(stmt *ast.While) error {
	body := c.newLabel()
	test := c.newLabel()
	end := c.newLabel()

	c.jump(OP_JUMP, test)
	c.bind(body)
	c.beginLoop(end, test)
	if err := c.compileBlock(stmt.Body); err != nil {
		return err
	}
	c.endLoop()

	c.bind(test)
	c.setLine(stmt)
	if err := c.compileExpression(stmt.Test); err != nil {
		return err
	}
	c.jump(OP_POP_JUMP_IF_TRUE, body)
	if err := c.compileBlock(stmt.Orelse); err != nil {
		return err
	}
	c.bind(end)
	return nil
}

// compileForStatement keeps the iterator in a temporary slot so the
// operand stack is empty inside the body.
func (c *Compiler) compileForStatement(stmt *ast.For) error {
	if err := c.compileExpression(stmt.Iter); err != nil {
		return err
	}
	c.emitOp(OP_GET_ITER)
	iter := c.storeTemp()

	next := c.newLabel()
	exhausted := c.newLabel()
	end := c.newLabel()

	c.bind(next)
	c.setLine(stmt)
	c.emit(OP_FOR_ITER, iter, int(exhausted))
	if err := c.storeTarget(stmt.Target); err != nil {
		return err
	}
	c.beginLoop(end, next)
	if err := c.compileBlock(stmt.Body); err != nil {
		return err
	}
	c.endLoop()
	c.jump(OP_JUMP, next)

	c.bind(exhausted)
	if err := c.compileBlock(stmt.Orelse); err != nil {
		return err
	}
	c.bind(end)
	c.freeTemp(iter)
	return nil
}

func (c *Compiler) compileBreakStatement(stmt *ast.Break) error {
	if len(c.loopStack) == 0 {
		return diagnostics.NewError(diagnostics.ErrC001, stmt, "'break' outside loop")
	}
	loop := c.loopStack[len(c.loopStack)-1]
	if err := c.doFinallysDownTo(loop.handlerLevel); err != nil {
		return err
	}
	c.jump(OP_JUMP, loop.breakLabel)
	return nil
}

func (c *Compiler) compileContinueStatement(stmt *ast.Continue) error {
	if len(c.loopStack) == 0 {
		return diagnostics.NewError(diagnostics.ErrC002, stmt, "'continue' not properly in loop")
	}
	if c.inFinally > 0 {
		return diagnostics.NewError(diagnostics.ErrC002, stmt, "'continue' not supported inside 'finally' clause")
	}
	loop := c.loopStack[len(c.loopStack)-1]
	if err := c.doFinallysDownTo(loop.handlerLevel); err != nil {
		return err
	}
	c.jump(OP_JUMP, loop.continueLabel)
	return nil
}
