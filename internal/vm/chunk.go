package vm

import "math/big"

// UnitKind tells which construct a code unit was compiled from.
type UnitKind int

const (
	KindModule UnitKind = iota
	KindInteractive
	KindExpression
	KindFunction
	KindLambda
	KindClass
	KindComprehension
)

var unitKindNames = [...]string{
	KindModule:        "module",
	KindInteractive:   "interactive",
	KindExpression:    "expression",
	KindFunction:      "function",
	KindLambda:        "lambda",
	KindClass:         "class",
	KindComprehension: "comprehension",
}

func (k UnitKind) String() string { return unitKindNames[k] }

// UnitFlags describe how a code unit must be executed.
type UnitFlags uint8

const (
	FlagGenerator UnitFlags = 1 << iota
	FlagOptimized           // Locals live in numbered slots
	FlagDivision            // Compiled with true division
	FlagVarArgs
	FlagVarKeywords
	FlagNewLocals // Executes with a fresh local namespace
)

// Instruction is one decoded VM instruction. Jump operands hold label ids
// while the unit is being emitted and instruction offsets afterwards.
type Instruction struct {
	Op   Opcode
	A    int
	B    int
	Line int
}

// ExceptionRange routes exceptions raised in [Start, End) to Handler.
// Depth is the operand stack depth restored before the exception is
// pushed for the handler. Rows are ordered innermost first.
type ExceptionRange struct {
	Start   int
	End     int
	Handler int
	Depth   int
}

// LineEntry marks the first instruction of a source line.
type LineEntry struct {
	Offset int
	Line   int
}

// EllipsisType is the type of the Ellipsis constant.
type EllipsisType uint8

// Ellipsis is the constant pushed for `...` subscripts.
const Ellipsis EllipsisType = 1

// CodeUnit is the compiled form of one scope. Constants hold nil (None),
// bool, int64, *big.Int, float64, complex128, string, EllipsisType and
// *CodeUnit for nested scopes.
type CodeUnit struct {
	Name      string
	Kind      UnitKind
	File      string
	FirstLine int
	Flags     UnitFlags
	Doc       string // Function docstring

	Code      []Instruction
	Constants []interface{}
	Names     []string

	LocalNames []string // Named fast locals; temporaries follow them
	LocalCount int      // Named locals plus the temporary high-water mark
	CellVars   []string
	FreeVars   []string

	ArgCount    int // Positional parameters
	VarArgs     bool
	VarKeywords bool

	ExceptionTable       []ExceptionRange
	LineTable            []LineEntry
	GeneratorResumeCount int
	MaxStack             int

	constIndex map[interface{}]int
	nameIndex  map[string]int
}

func newCodeUnit(name string, kind UnitKind) *CodeUnit {
	return &CodeUnit{
		Name:       name,
		Kind:       kind,
		constIndex: make(map[interface{}]int),
		nameIndex:  make(map[string]int),
	}
}

// IsGenerator reports whether calling the unit creates a generator.
func (c *CodeUnit) IsGenerator() bool { return c.Flags&FlagGenerator != 0 }

// IsOptimized reports whether the unit uses fast local slots.
func (c *CodeUnit) IsOptimized() bool { return c.Flags&FlagOptimized != 0 }

// EnvSize is the length of the unit's closure environment.
func (c *CodeUnit) EnvSize() int { return len(c.CellVars) + len(c.FreeVars) }

// AddConstant adds a constant to the pool and returns its index. Hashable
// scalars are interned; long integers and code units always get a new slot.
func (c *CodeUnit) AddConstant(value interface{}) int {
	key, interned := constKey(value)
	if interned {
		if idx, ok := c.constIndex[key]; ok {
			return idx
		}
	}
	c.Constants = append(c.Constants, value)
	idx := len(c.Constants) - 1
	if interned {
		c.constIndex[key] = idx
	}
	return idx
}

// constKey distinguishes constants that compare equal across types, such
// as 1 and 1.0 or True and 1.
type constKeyT struct {
	kind  byte
	value interface{}
}

func constKey(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case nil:
		return constKeyT{'N', nil}, true
	case bool:
		return constKeyT{'b', v}, true
	case int64:
		return constKeyT{'i', v}, true
	case float64:
		if v != v {
			return nil, false
		}
		return constKeyT{'f', v}, true
	case complex128:
		return constKeyT{'c', v}, true
	case string:
		return constKeyT{'s', v}, true
	case EllipsisType:
		return constKeyT{'e', nil}, true
	case *big.Int:
		return constKeyT{'l', v.String()}, true
	}
	return nil, false
}

// AddName interns an identifier used by name, global, attribute and import
// instructions.
func (c *CodeUnit) AddName(name string) int {
	if idx, ok := c.nameIndex[name]; ok {
		return idx
	}
	c.Names = append(c.Names, name)
	idx := len(c.Names) - 1
	c.nameIndex[name] = idx
	return idx
}

// LineAt returns the source line of the instruction at offset.
func (c *CodeUnit) LineAt(offset int) int {
	if offset >= 0 && offset < len(c.Code) {
		return c.Code[offset].Line
	}
	return 0
}

// Units returns the unit followed by every nested unit, depth first.
func (c *CodeUnit) Units() []*CodeUnit {
	out := []*CodeUnit{c}
	for _, k := range c.Constants {
		if sub, ok := k.(*CodeUnit); ok {
			out = append(out, sub.Units()...)
		}
	}
	return out
}
