package ast

// ExprContext tells how a Name, Attribute, Subscript, List or Tuple is used.
type ExprContext int

const (
	Load ExprContext = iota
	Store
	Del
	AugLoad
	AugStore
	Param
)

var contextNames = [...]string{
	Load:     "load",
	Store:    "store",
	Del:      "del",
	AugLoad:  "augload",
	AugStore: "augstore",
	Param:    "param",
}

func (c ExprContext) String() string { return contextNames[c] }

// Operator is a binary arithmetic or bitwise operator.
type Operator int

const (
	Add Operator = iota + 1
	Sub
	Mult
	Div
	Modulo
	Pow
	LShift
	RShift
	BitOr
	BitXor
	BitAnd
	FloorDiv
)

var operatorNames = map[string]Operator{
	"add":      Add,
	"sub":      Sub,
	"mult":     Mult,
	"div":      Div,
	"mod":      Modulo,
	"pow":      Pow,
	"lshift":   LShift,
	"rshift":   RShift,
	"bitor":    BitOr,
	"bitxor":   BitXor,
	"bitand":   BitAnd,
	"floordiv": FloorDiv,
}

// UnaryOperator is a prefix operator.
type UnaryOperator int

const (
	Invert UnaryOperator = iota + 1
	Not
	UAdd
	USub
)

var unaryNames = map[string]UnaryOperator{
	"invert": Invert,
	"not":    Not,
	"uadd":   UAdd,
	"usub":   USub,
}

// BoolOperator is a short-circuit operator.
type BoolOperator int

const (
	And BoolOperator = iota + 1
	Or
)

var boolNames = map[string]BoolOperator{
	"and": And,
	"or":  Or,
}

// CmpOp is a comparison operator inside a Compare chain.
type CmpOp int

const (
	Eq CmpOp = iota + 1
	NotEq
	Lt
	LtE
	Gt
	GtE
	Is
	IsNot
	In
	NotIn
)

var cmpNames = map[string]CmpOp{
	"eq":    Eq,
	"noteq": NotEq,
	"lt":    Lt,
	"lte":   LtE,
	"gt":    Gt,
	"gte":   GtE,
	"is":    Is,
	"isnot": IsNot,
	"in":    In,
	"notin": NotIn,
}
