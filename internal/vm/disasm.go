package vm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	ansiReset = "\x1b[0m"
	ansiOp    = "\x1b[1;36m"
	ansiNote  = "\x1b[2m"
)

// Disassemble returns a human-readable listing of unit and every nested unit
func Disassemble(unit *CodeUnit) string {
	return disassemble(unit, false)
}

// DisassembleColor is Disassemble with ANSI highlighting of opcodes.
func DisassembleColor(unit *CodeUnit) string {
	return disassemble(unit, true)
}

func disassemble(unit *CodeUnit, color bool) string {
	var sb strings.Builder
	for i, u := range unit.Units() {
		if i > 0 {
			sb.WriteString("\n")
		}
		disassembleUnit(&sb, u, color)
	}
	return sb.String()
}

func disassembleUnit(sb *strings.Builder, unit *CodeUnit, color bool) {
	sb.WriteString(fmt.Sprintf("== %s (%s) ==\n", unit.Name, unit.Kind))
	sb.WriteString(fmt.Sprintf("args %d  locals %d  stack %d", unit.ArgCount, unit.LocalCount, unit.MaxStack))
	if unit.IsGenerator() {
		sb.WriteString(fmt.Sprintf("  resume %d", unit.GeneratorResumeCount))
	}
	sb.WriteString("\n")
	if len(unit.CellVars) > 0 {
		sb.WriteString(fmt.Sprintf("cells %s\n", strings.Join(unit.CellVars, ", ")))
	}
	if len(unit.FreeVars) > 0 {
		sb.WriteString(fmt.Sprintf("frees %s\n", strings.Join(unit.FreeVars, ", ")))
	}

	for offset, ins := range unit.Code {
		sb.WriteString(fmt.Sprintf("%04d ", offset))

		// Print line number
		if offset > 0 && unit.Code[offset-1].Line == ins.Line {
			sb.WriteString("   | ")
		} else {
			sb.WriteString(fmt.Sprintf("%4d ", ins.Line))
		}

		name := fmt.Sprintf("%-20s", ins.Op)
		if color {
			name = ansiOp + name + ansiReset
		}
		sb.WriteString(name)
		operands, note := describe(unit, ins)
		sb.WriteString(operands)
		if note != "" {
			if color {
				note = ansiNote + note + ansiReset
			}
			sb.WriteString(" (" + note + ")")
		}
		sb.WriteString("\n")
	}

	if len(unit.ExceptionTable) > 0 {
		sb.WriteString("exception table:\n")
		for _, r := range unit.ExceptionTable {
			sb.WriteString(fmt.Sprintf("  %04d-%04d -> %04d depth %d\n", r.Start, r.End, r.Handler, r.Depth))
		}
	}
}

func describe(unit *CodeUnit, ins Instruction) (string, string) {
	a := fmt.Sprintf("%4d", ins.A)
	switch ins.Op {
	case OP_LOAD_CONST:
		if ins.A >= 0 && ins.A < len(unit.Constants) {
			return a, constRepr(unit.Constants[ins.A])
		}
		return a, "invalid"
	case OP_LOAD_NAME, OP_STORE_NAME, OP_DELETE_NAME,
		OP_LOAD_GLOBAL, OP_STORE_GLOBAL, OP_DELETE_GLOBAL,
		OP_LOAD_ATTR, OP_STORE_ATTR, OP_DELETE_ATTR, OP_IMPORT_FROM:
		return a, nameAt(unit.Names, ins.A)
	case OP_IMPORT_NAME:
		return fmt.Sprintf("%4d %4d", ins.A, ins.B), nameAt(unit.Names, ins.A)
	case OP_LOAD_FAST, OP_STORE_FAST, OP_DELETE_FAST:
		if ins.A < len(unit.LocalNames) {
			return a, unit.LocalNames[ins.A]
		}
		return a, "tmp"
	case OP_LOAD_DEREF, OP_STORE_DEREF:
		return a, envName(unit, ins.A)
	case OP_LOAD_CLOSURE:
		return fmt.Sprintf("%4d %4d", ins.A, ins.B), fmt.Sprintf("up %d", ins.A)
	case OP_BINARY_OP:
		return a, tableName(BinaryOps[:], ins.A)
	case OP_INPLACE_OP:
		return a, tableName(InplaceOps[:], ins.A)
	case OP_UNARY_OP:
		return a, tableName(UnaryOps[:], ins.A)
	case OP_COMPARE_OP:
		return a, tableName(CompareOps[:], ins.A)
	case OP_JUMP, OP_POP_JUMP_IF_FALSE, OP_POP_JUMP_IF_TRUE:
		return fmt.Sprintf("-> %d", ins.A), ""
	case OP_FOR_ITER, OP_RESUME_JUMP:
		return fmt.Sprintf("%4d -> %d", ins.A, ins.B), ""
	case OP_CALL_FUNCTION, OP_CALL_FUNCTION_VAR, OP_CALL_FUNCTION_KW, OP_CALL_FUNCTION_VAR_KW:
		return fmt.Sprintf("%4d %4d", ins.A, ins.B), ""
	case OP_POP, OP_DUP, OP_ROT_TWO, OP_ROT_THREE, OP_NOP, OP_LOAD_LOCALS,
		OP_BINARY_SUBSCR, OP_STORE_SUBSCR, OP_DELETE_SUBSCR, OP_GET_ITER,
		OP_RETURN_VALUE, OP_BUILD_CLASS, OP_RERAISE, OP_UNPACK_EXCEPTION,
		OP_PRINT_ITEM, OP_PRINT_ITEM_TO, OP_PRINT_NEWLINE, OP_PRINT_NEWLINE_TO,
		OP_PRINT_EXPR, OP_EXEC_STMT, OP_IMPORT_STAR, OP_LOAD_SENT:
		return "", ""
	}
	return a, ""
}

func nameAt(names []string, i int) string {
	if i >= 0 && i < len(names) {
		return names[i]
	}
	return "invalid"
}

func tableName(table []string, i int) string {
	if i >= 0 && i < len(table) {
		return table[i]
	}
	return "invalid"
}

func envName(unit *CodeUnit, i int) string {
	if i < len(unit.CellVars) {
		return unit.CellVars[i]
	}
	if j := i - len(unit.CellVars); j < len(unit.FreeVars) {
		return unit.FreeVars[j]
	}
	return "invalid"
}

func constRepr(k interface{}) string {
	switch v := k.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(v, 10)
	case *big.Int:
		return v.String() + "L"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case complex128:
		return fmt.Sprintf("%gj", imag(v))
	case string:
		return strconv.Quote(v)
	case EllipsisType:
		return "Ellipsis"
	case *CodeUnit:
		return "<code " + v.Name + ">"
	}
	return fmt.Sprintf("%v", k)
}
