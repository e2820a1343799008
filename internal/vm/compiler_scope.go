package vm

import (
	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/diagnostics"
)

// Label is a jump target created before the instruction it names is known.
type Label int

type labelInfo struct {
	offset int // -1 until bound
	depth  int // Stack depth on arrival, -1 until some edge reaches it
}

func (c *Compiler) newLabel() Label {
	c.labels = append(c.labels, labelInfo{offset: -1, depth: -1})
	return Label(len(c.labels) - 1)
}

// bind places l at the next instruction. After unconditional control
// transfer the stack depth is taken from the edges that reach l.
func (c *Compiler) bind(l Label) {
	info := &c.labels[l]
	info.offset = len(c.unit.Code)
	switch {
	case c.dead && info.depth >= 0:
		c.depth = info.depth
	case info.depth >= 0 && info.depth != c.depth:
		c.imbalance("label %d reached with depth %d and %d", l, info.depth, c.depth)
	default:
		info.depth = c.depth
	}
	c.dead = false
}

// bindHandler places an exception handler entry. The handler runs with
// the stack cut to depth and the exception pushed.
func (c *Compiler) bindHandler(l Label, depth int) {
	c.labels[l].depth = depth + 1
	c.dead = true
	c.bind(l)
}

// here returns the offset of the next instruction.
func (c *Compiler) here() int { return len(c.unit.Code) }

func (c *Compiler) setLine(n ast.Node) {
	if line := n.GetPos().Line; line > 0 {
		c.line = line
	}
}

// emit appends one instruction and tracks its stack effect. Jump operands
// are labels.
func (c *Compiler) emit(op Opcode, a, b int) {
	if c.lineNumbers && c.line > 0 {
		lt := c.unit.LineTable
		if len(lt) == 0 || lt[len(lt)-1].Line != c.line {
			c.unit.LineTable = append(c.unit.LineTable, LineEntry{Offset: c.here(), Line: c.line})
		}
	}
	c.unit.Code = append(c.unit.Code, Instruction{Op: op, A: a, B: b, Line: c.line})

	switch jumpOperand(op) {
	case 1:
		c.reach(Label(a), c.depth+StackEffect(op, a, b, true))
	case 2:
		c.reach(Label(b), c.depth+StackEffect(op, a, b, true))
	}
	c.depth += StackEffect(op, a, b, false)
	if c.depth < 0 {
		c.imbalance("stack underflow at %s", op)
		c.depth = 0
	}
	if c.depth > c.unit.MaxStack {
		c.unit.MaxStack = c.depth
	}
	if IsTerminator(op) {
		c.dead = true
	}
}

func (c *Compiler) emitOp(op Opcode)       { c.emit(op, 0, 0) }
func (c *Compiler) emitA(op Opcode, a int) { c.emit(op, a, 0) }

func (c *Compiler) jump(op Opcode, l Label) { c.emit(op, int(l), 0) }

// reach records the stack depth with which an edge arrives at l.
func (c *Compiler) reach(l Label, depth int) {
	info := &c.labels[l]
	if info.depth < 0 {
		info.depth = depth
		return
	}
	if info.depth != depth {
		c.imbalance("label %d reached with depth %d and %d", l, info.depth, depth)
	}
}

func (c *Compiler) imbalance(format string, args ...interface{}) {
	if c.stackErr == nil {
		c.stackErr = diagnostics.NewError(diagnostics.ErrC008, ast.Pos{Line: c.line}, format, args...)
	}
}

func (c *Compiler) loadConst(value interface{}) {
	c.emitA(OP_LOAD_CONST, c.unit.AddConstant(value))
}

// Temporaries occupy fast slots after the named locals. They are freed in
// LIFO order and reused.

func (c *Compiler) allocTemp() int {
	if n := len(c.freeTemps); n > 0 {
		slot := c.freeTemps[n-1]
		c.freeTemps = c.freeTemps[:n-1]
		return slot
	}
	slot := len(c.unit.LocalNames) + c.tempCount
	c.tempCount++
	if slot+1 > c.unit.LocalCount {
		c.unit.LocalCount = slot + 1
	}
	return slot
}

func (c *Compiler) freeTemp(slot int) {
	c.freeTemps = append(c.freeTemps, slot)
}

// storeTemp pops the top of stack into a fresh temporary.
func (c *Compiler) storeTemp() int {
	slot := c.allocTemp()
	c.emitA(OP_STORE_FAST, slot)
	return slot
}

// finalize resolves labels into offsets and fills the exception table.
func (c *Compiler) finalize() error {
	if c.stackErr != nil {
		return c.stackErr
	}
	if c.unit.LocalCount < len(c.unit.LocalNames) {
		c.unit.LocalCount = len(c.unit.LocalNames)
	}
	resolve := func(l int) (int, error) {
		off := c.labels[l].offset
		if off < 0 {
			return 0, diagnostics.NewError(diagnostics.ErrC008, ast.Pos{Line: c.line}, "unbound label %d in %s", l, c.unit.Name)
		}
		return off, nil
	}
	var err error
	for i := range c.unit.Code {
		ins := &c.unit.Code[i]
		switch jumpOperand(ins.Op) {
		case 1:
			ins.A, err = resolve(ins.A)
		case 2:
			ins.B, err = resolve(ins.B)
		}
		if err != nil {
			return err
		}
		if ins.Op == OP_SAVE_LOCALS || ins.Op == OP_RESTORE_LOCALS {
			ins.A = c.unit.LocalCount
		}
	}
	for _, r := range c.ranges {
		handler, err := resolve(int(r.handler))
		if err != nil {
			return err
		}
		c.unit.ExceptionTable = append(c.unit.ExceptionTable, ExceptionRange{
			Start:   r.start,
			End:     r.end,
			Handler: handler,
			Depth:   r.depth,
		})
	}
	return nil
}
