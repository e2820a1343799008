package vm

import (
	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/diagnostics"
)

// Verify simulates operand stack depth over every path of unit that is
// reachable from its entry, including exception handler entries, and
// reports the first inconsistency. Every nested unit is verified as well.
// It returns the maximum depth of unit itself.
func Verify(unit *CodeUnit) (int, error) {
	max, err := verifyUnit(unit)
	if err != nil {
		return 0, err
	}
	for _, k := range unit.Constants {
		if sub, ok := k.(*CodeUnit); ok {
			if _, err := Verify(sub); err != nil {
				return 0, err
			}
		}
	}
	return max, nil
}

func verifyUnit(unit *CodeUnit) (int, error) {
	n := len(unit.Code)
	depth := make([]int, n+1)
	for i := range depth {
		depth[i] = -1
	}
	fail := func(pc int, format string, args ...interface{}) (int, error) {
		args = append([]interface{}{unit.Name, pc}, args...)
		return 0, diagnostics.NewError(diagnostics.ErrC008, ast.Pos{Line: unit.LineAt(pc)}, "%s@%d: "+format, args...)
	}

	var work []int
	max := 0
	var flowErr error
	flow := func(from, to, d int) {
		if flowErr != nil {
			return
		}
		if to < 0 || to > n {
			_, flowErr = fail(from, "jump to %d outside the unit", to)
			return
		}
		if d < 0 {
			_, flowErr = fail(from, "stack underflow")
			return
		}
		if to == n {
			_, flowErr = fail(from, "control falls off the end")
			return
		}
		if depth[to] < 0 {
			depth[to] = d
			work = append(work, to)
			return
		}
		if depth[to] != d {
			_, flowErr = fail(to, "reached with depth %d and %d", depth[to], d)
		}
	}

	if n == 0 {
		return 0, nil
	}
	depth[0] = 0
	work = append(work, 0)
	for len(work) > 0 && flowErr == nil {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		ins := unit.Code[pc]
		d := depth[pc]
		if d > max {
			max = d
		}
		for _, r := range unit.ExceptionTable {
			if r.Start <= pc && pc < r.End {
				if d < r.Depth {
					return fail(pc, "handler depth %d above stack depth %d", r.Depth, d)
				}
				flow(pc, r.Handler, r.Depth+1)
			}
		}
		switch jumpOperand(ins.Op) {
		case 1:
			flow(pc, ins.A, d+StackEffect(ins.Op, ins.A, ins.B, true))
		case 2:
			flow(pc, ins.B, d+StackEffect(ins.Op, ins.A, ins.B, true))
		}
		after := d + StackEffect(ins.Op, ins.A, ins.B, false)
		if after > max {
			max = after
		}
		if !IsTerminator(ins.Op) {
			flow(pc, pc+1, after)
		} else if after < 0 {
			return fail(pc, "stack underflow")
		}
	}
	if flowErr != nil {
		return 0, flowErr
	}
	return max, nil
}
