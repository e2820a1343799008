package ast

// BoolOp is `a and b and c` or `a or b or c`.
type BoolOp struct {
	Pos
	Op     BoolOperator
	Values []Expr
}

type BinOp struct {
	Pos
	Left  Expr
	Op    Operator
	Right Expr
}

type UnaryOp struct {
	Pos
	Op      UnaryOperator
	Operand Expr
}

type Lambda struct {
	Pos
	Args *Arguments
	Body Expr
}

// IfExp is `body if test else orelse`.
type IfExp struct {
	Pos
	Test   Expr
	Body   Expr
	Orelse Expr
}

type Dict struct {
	Pos
	Keys   []Expr
	Values []Expr
}

// Yield is a yield expression; Value is nil for a bare yield.
type Yield struct {
	Pos
	Value Expr
}

// Compare is a comparison chain `left op0 c0 op1 c1 ...`.
type Compare struct {
	Pos
	Left        Expr
	Ops         []CmpOp
	Comparators []Expr
}

type Call struct {
	Pos
	Func     Expr
	Args     []Expr
	Keywords []*Keyword
	Starargs Expr
	Kwargs   Expr
}

type Keyword struct {
	Arg   string
	Value Expr
}

// Repr is the backquote expression.
type Repr struct {
	Pos
	Value Expr
}

// Num is a numeric literal. N holds an int64, a *big.Int for long
// literals, a float64, or a complex128 for imaginary literals.
type Num struct {
	Pos
	N interface{}
}

type Str struct {
	Pos
	S       string
	Unicode bool
}

type Attribute struct {
	Pos
	Value Expr
	Attr  string
	Ctx   ExprContext
}

type Subscript struct {
	Pos
	Value Expr
	Slice SliceKind
	Ctx   ExprContext
}

type Name struct {
	Pos
	Id  string
	Ctx ExprContext
}

type List struct {
	Pos
	Elts []Expr
	Ctx  ExprContext
}

type Tuple struct {
	Pos
	Elts []Expr
	Ctx  ExprContext
}

// Index is a plain subscript index.
type Index struct {
	Pos
	Value Expr
}

// Slice is `lower:upper:step`; any part may be nil.
type Slice struct {
	Pos
	Lower Expr
	Upper Expr
	Step  Expr
}

// ExtSlice is a multi-dimensional subscript `a[1:2, 3]`.
type ExtSlice struct {
	Pos
	Dims []SliceKind
}

type Ellipsis struct{ Pos }

func (e *BoolOp) exprNode()       {}
func (e *BinOp) exprNode()        {}
func (e *UnaryOp) exprNode()      {}
func (e *Lambda) exprNode()       {}
func (e *IfExp) exprNode()        {}
func (e *Dict) exprNode()         {}
func (e *ListComp) exprNode()     {}
func (e *GeneratorExp) exprNode() {}
func (e *Yield) exprNode()        {}
func (e *Compare) exprNode()      {}
func (e *Call) exprNode()         {}
func (e *Repr) exprNode()         {}
func (e *Num) exprNode()          {}
func (e *Str) exprNode()          {}
func (e *Attribute) exprNode()    {}
func (e *Subscript) exprNode()    {}
func (e *Name) exprNode()         {}
func (e *List) exprNode()         {}
func (e *Tuple) exprNode()        {}

func (s *Index) sliceNode()    {}
func (s *Slice) sliceNode()    {}
func (s *ExtSlice) sliceNode() {}
func (s *Ellipsis) sliceNode() {}
