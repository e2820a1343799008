// Package vm compiles analyzed syntax trees into code units for a stack
// machine and provides a reference interpreter for the instruction set.
package vm

// Opcode represents a single VM instruction
type Opcode byte

const (
	OP_NOP Opcode = iota

	// Stack manipulation
	OP_POP       // Discard top of stack
	OP_DUP       // Duplicate top of stack
	OP_ROT_TWO   // Swap the two top items
	OP_ROT_THREE // [a, b, c] -> [c, a, b]

	// Constants and names
	OP_LOAD_CONST    // A = constant index
	OP_LOAD_NAME     // A = name index; locals, then globals, then builtins
	OP_STORE_NAME    // A = name index
	OP_DELETE_NAME   // A = name index
	OP_LOAD_GLOBAL   // A = name index; globals, then builtins
	OP_STORE_GLOBAL  // A = name index
	OP_DELETE_GLOBAL // A = name index
	OP_LOAD_FAST     // A = local slot
	OP_STORE_FAST    // A = local slot
	OP_DELETE_FAST   // A = local slot
	OP_LOAD_DEREF    // A = env index
	OP_STORE_DEREF   // A = env index
	OP_LOAD_CLOSURE  // A = frame distance, B = env index in that frame; pushes the cell
	OP_LOAD_LOCALS   // Push the class namespace

	// Attributes and subscripts
	OP_LOAD_ATTR     // A = name index: [obj] -> [obj.name]
	OP_STORE_ATTR    // A = name index: [value, obj] -> []
	OP_DELETE_ATTR   // A = name index: [obj] -> []
	OP_BINARY_SUBSCR // [obj, key] -> [obj[key]]
	OP_STORE_SUBSCR  // [value, obj, key] -> []
	OP_DELETE_SUBSCR // [obj, key] -> []
	OP_BUILD_SLICE   // A = 2 or 3: [lower, upper(, step)] -> [slice]

	// Operators; A indexes the matching operator table
	OP_BINARY_OP  // [a, b] -> [a op b]
	OP_INPLACE_OP // [a, b] -> [a op= b]
	OP_UNARY_OP   // [a] -> [op a]
	OP_COMPARE_OP // [a, b] -> [a cmp b]

	// Containers
	OP_BUILD_TUPLE     // A = count
	OP_BUILD_LIST      // A = count
	OP_BUILD_MAP       // A = pair count: [k0, v0, ...] -> [dict]
	OP_UNPACK_SEQUENCE // A = count: [seq] -> [x(A-1), ..., x0]

	// Control flow; jump operands hold labels until the unit is finalized
	OP_JUMP              // A = target
	OP_POP_JUMP_IF_FALSE // A = target
	OP_POP_JUMP_IF_TRUE  // A = target
	OP_GET_ITER          // [iterable] -> [iterator]
	OP_FOR_ITER          // A = slot holding the iterator, B = target on exhaustion; pushes next item

	// Functions
	OP_MAKE_FUNCTION     // A = default count: [defaults..., code] -> [function]
	OP_MAKE_CLOSURE      // A = default count: [defaults..., cells, code] -> [function]
	OP_CALL_FUNCTION     // A = positional count, B = keyword count
	OP_CALL_FUNCTION_VAR // As CALL_FUNCTION with a trailing *args sequence
	OP_CALL_FUNCTION_KW  // As CALL_FUNCTION with a trailing **kwargs mapping
	OP_CALL_FUNCTION_VAR_KW
	OP_RETURN_VALUE
	OP_BUILD_CLASS // [name, bases, namespace] -> [class]

	// Exceptions
	OP_RAISE_VARARGS    // A = operand count (0..3)
	OP_RERAISE          // [exc] -> raise exc again
	OP_UNPACK_EXCEPTION // [exc] -> [type, value, traceback]

	// Statements
	OP_PRINT_ITEM
	OP_PRINT_ITEM_TO // [value, dest] -> []
	OP_PRINT_NEWLINE
	OP_PRINT_NEWLINE_TO // [dest] -> []
	OP_PRINT_EXPR       // Interactive expression statement
	OP_EXEC_STMT        // [code, globals, locals] -> []
	OP_IMPORT_NAME      // A = name index, B = level
	OP_IMPORT_FROM      // A = name index: [module] -> [module, attr]
	OP_IMPORT_STAR      // [module] -> []

	// Generators
	OP_RESUME_JUMP    // A = resume index, B = target: jump when the frame resumes at A
	OP_SAVE_LOCALS    // A = slot count saved into the frame
	OP_RESTORE_LOCALS // A = slot count restored from the frame
	OP_YIELD_VALUE    // A = resume index: suspend returning top of stack
	OP_LOAD_SENT      // Push the value sent into the resumed generator
)

// OpcodeNames maps opcodes to their string names (for debugging)
var OpcodeNames = map[Opcode]string{
	OP_NOP: "NOP",

	OP_POP:       "POP",
	OP_DUP:       "DUP",
	OP_ROT_TWO:   "ROT_TWO",
	OP_ROT_THREE: "ROT_THREE",

	OP_LOAD_CONST:    "LOAD_CONST",
	OP_LOAD_NAME:     "LOAD_NAME",
	OP_STORE_NAME:    "STORE_NAME",
	OP_DELETE_NAME:   "DELETE_NAME",
	OP_LOAD_GLOBAL:   "LOAD_GLOBAL",
	OP_STORE_GLOBAL:  "STORE_GLOBAL",
	OP_DELETE_GLOBAL: "DELETE_GLOBAL",
	OP_LOAD_FAST:     "LOAD_FAST",
	OP_STORE_FAST:    "STORE_FAST",
	OP_DELETE_FAST:   "DELETE_FAST",
	OP_LOAD_DEREF:    "LOAD_DEREF",
	OP_STORE_DEREF:   "STORE_DEREF",
	OP_LOAD_CLOSURE:  "LOAD_CLOSURE",
	OP_LOAD_LOCALS:   "LOAD_LOCALS",

	OP_LOAD_ATTR:     "LOAD_ATTR",
	OP_STORE_ATTR:    "STORE_ATTR",
	OP_DELETE_ATTR:   "DELETE_ATTR",
	OP_BINARY_SUBSCR: "BINARY_SUBSCR",
	OP_STORE_SUBSCR:  "STORE_SUBSCR",
	OP_DELETE_SUBSCR: "DELETE_SUBSCR",
	OP_BUILD_SLICE:   "BUILD_SLICE",

	OP_BINARY_OP:  "BINARY_OP",
	OP_INPLACE_OP: "INPLACE_OP",
	OP_UNARY_OP:   "UNARY_OP",
	OP_COMPARE_OP: "COMPARE_OP",

	OP_BUILD_TUPLE:     "BUILD_TUPLE",
	OP_BUILD_LIST:      "BUILD_LIST",
	OP_BUILD_MAP:       "BUILD_MAP",
	OP_UNPACK_SEQUENCE: "UNPACK_SEQUENCE",

	OP_JUMP:              "JUMP",
	OP_POP_JUMP_IF_FALSE: "POP_JUMP_IF_FALSE",
	OP_POP_JUMP_IF_TRUE:  "POP_JUMP_IF_TRUE",
	OP_GET_ITER:          "GET_ITER",
	OP_FOR_ITER:          "FOR_ITER",

	OP_MAKE_FUNCTION:        "MAKE_FUNCTION",
	OP_MAKE_CLOSURE:         "MAKE_CLOSURE",
	OP_CALL_FUNCTION:        "CALL_FUNCTION",
	OP_CALL_FUNCTION_VAR:    "CALL_FUNCTION_VAR",
	OP_CALL_FUNCTION_KW:     "CALL_FUNCTION_KW",
	OP_CALL_FUNCTION_VAR_KW: "CALL_FUNCTION_VAR_KW",
	OP_RETURN_VALUE:         "RETURN_VALUE",
	OP_BUILD_CLASS:          "BUILD_CLASS",

	OP_RAISE_VARARGS:    "RAISE_VARARGS",
	OP_RERAISE:          "RERAISE",
	OP_UNPACK_EXCEPTION: "UNPACK_EXCEPTION",

	OP_PRINT_ITEM:       "PRINT_ITEM",
	OP_PRINT_ITEM_TO:    "PRINT_ITEM_TO",
	OP_PRINT_NEWLINE:    "PRINT_NEWLINE",
	OP_PRINT_NEWLINE_TO: "PRINT_NEWLINE_TO",
	OP_PRINT_EXPR:       "PRINT_EXPR",
	OP_EXEC_STMT:        "EXEC_STMT",
	OP_IMPORT_NAME:      "IMPORT_NAME",
	OP_IMPORT_FROM:      "IMPORT_FROM",
	OP_IMPORT_STAR:      "IMPORT_STAR",

	OP_RESUME_JUMP:    "RESUME_JUMP",
	OP_SAVE_LOCALS:    "SAVE_LOCALS",
	OP_RESTORE_LOCALS: "RESTORE_LOCALS",
	OP_YIELD_VALUE:    "YIELD_VALUE",
	OP_LOAD_SENT:      "LOAD_SENT",
}

func (op Opcode) String() string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// Binary operator ids, the operand of BINARY_OP and INPLACE_OP.
const (
	BinAdd = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinPow
	BinLShift
	BinRShift
	BinOr
	BinXor
	BinAnd
	BinFloorDiv
	BinTrueDiv
)

// BinaryOps names the operation behind each binary operator id.
var BinaryOps = [...]string{
	BinAdd:      "add",
	BinSub:      "sub",
	BinMul:      "mul",
	BinDiv:      "div",
	BinMod:      "mod",
	BinPow:      "pow",
	BinLShift:   "lshift",
	BinRShift:   "rshift",
	BinOr:       "or",
	BinXor:      "xor",
	BinAnd:      "and",
	BinFloorDiv: "floordiv",
	BinTrueDiv:  "truediv",
}

// InplaceOps names the in-place variant of each binary operator id.
var InplaceOps = [...]string{
	BinAdd:      "iadd",
	BinSub:      "isub",
	BinMul:      "imul",
	BinDiv:      "idiv",
	BinMod:      "imod",
	BinPow:      "ipow",
	BinLShift:   "ilshift",
	BinRShift:   "irshift",
	BinOr:       "ior",
	BinXor:      "ixor",
	BinAnd:      "iand",
	BinFloorDiv: "ifloordiv",
	BinTrueDiv:  "itruediv",
}

// Unary operator ids, the operand of UNARY_OP.
const (
	UnaryInvert = iota
	UnaryNot
	UnaryPos
	UnaryNeg
	UnaryRepr
)

var UnaryOps = [...]string{
	UnaryInvert: "invert",
	UnaryNot:    "not",
	UnaryPos:    "pos",
	UnaryNeg:    "neg",
	UnaryRepr:   "repr",
}

// Comparison ids, the operand of COMPARE_OP.
const (
	CmpLt = iota
	CmpLe
	CmpEq
	CmpNe
	CmpGt
	CmpGe
	CmpIn
	CmpNotIn
	CmpIs
	CmpIsNot
	CmpExcMatch
)

var CompareOps = [...]string{
	CmpLt:       "lt",
	CmpLe:       "le",
	CmpEq:       "eq",
	CmpNe:       "ne",
	CmpGt:       "gt",
	CmpGe:       "ge",
	CmpIn:       "in",
	CmpNotIn:    "not in",
	CmpIs:       "is",
	CmpIsNot:    "is not",
	CmpExcMatch: "exception match",
}

// jumpOperand reports which operand of op holds a jump target: 1 for A,
// 2 for B, 0 when op does not jump.
func jumpOperand(op Opcode) int {
	switch op {
	case OP_JUMP, OP_POP_JUMP_IF_FALSE, OP_POP_JUMP_IF_TRUE:
		return 1
	case OP_FOR_ITER, OP_RESUME_JUMP:
		return 2
	}
	return 0
}

// IsJump reports whether op may transfer control to a target.
func IsJump(op Opcode) bool { return jumpOperand(op) != 0 }

// IsTerminator reports whether control never falls through op.
func IsTerminator(op Opcode) bool {
	switch op {
	case OP_JUMP, OP_RETURN_VALUE, OP_RAISE_VARARGS, OP_RERAISE:
		return true
	}
	return false
}

// StackEffect returns the change in operand stack depth caused by op with
// operands a and b. For jumps, jump selects the effect along the taken
// edge rather than the fall-through edge.
func StackEffect(op Opcode, a, b int, jump bool) int {
	switch op {
	case OP_NOP, OP_ROT_TWO, OP_ROT_THREE, OP_JUMP, OP_GET_ITER,
		OP_LOAD_ATTR, OP_UNARY_OP, OP_DELETE_NAME, OP_DELETE_GLOBAL,
		OP_DELETE_FAST, OP_PRINT_NEWLINE, OP_RESUME_JUMP,
		OP_SAVE_LOCALS, OP_RESTORE_LOCALS:
		return 0
	case OP_POP, OP_STORE_NAME, OP_STORE_GLOBAL, OP_STORE_FAST,
		OP_STORE_DEREF, OP_DELETE_ATTR, OP_BINARY_SUBSCR,
		OP_BINARY_OP, OP_INPLACE_OP, OP_COMPARE_OP,
		OP_POP_JUMP_IF_FALSE, OP_POP_JUMP_IF_TRUE, OP_RETURN_VALUE,
		OP_RERAISE, OP_PRINT_ITEM, OP_PRINT_NEWLINE_TO, OP_PRINT_EXPR,
		OP_IMPORT_STAR, OP_YIELD_VALUE:
		return -1
	case OP_DUP, OP_LOAD_CONST, OP_LOAD_NAME, OP_LOAD_GLOBAL,
		OP_LOAD_FAST, OP_LOAD_DEREF, OP_LOAD_CLOSURE, OP_LOAD_LOCALS,
		OP_IMPORT_NAME, OP_IMPORT_FROM, OP_LOAD_SENT:
		return 1
	case OP_STORE_ATTR, OP_DELETE_SUBSCR, OP_PRINT_ITEM_TO, OP_BUILD_CLASS:
		return -2
	case OP_STORE_SUBSCR, OP_EXEC_STMT:
		return -3
	case OP_BUILD_SLICE, OP_BUILD_TUPLE, OP_BUILD_LIST:
		return 1 - a
	case OP_BUILD_MAP:
		return 1 - 2*a
	case OP_UNPACK_SEQUENCE:
		return a - 1
	case OP_FOR_ITER:
		if jump {
			return 0
		}
		return 1
	case OP_MAKE_FUNCTION:
		return -a
	case OP_MAKE_CLOSURE:
		return -a - 1
	case OP_CALL_FUNCTION:
		return -(a + 2*b)
	case OP_CALL_FUNCTION_VAR, OP_CALL_FUNCTION_KW:
		return -(a + 2*b) - 1
	case OP_CALL_FUNCTION_VAR_KW:
		return -(a + 2*b) - 2
	case OP_RAISE_VARARGS:
		return -a
	case OP_UNPACK_EXCEPTION:
		return 2
	}
	return 0
}
