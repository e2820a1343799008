package ast

// FunctionDef is a def statement. Decorators are listed outermost first.
type FunctionDef struct {
	Pos
	Name       string
	Args       *Arguments
	Body       []Stmt
	Decorators []Expr
}

// Arguments is a parameter list shared by FunctionDef and Lambda.
// Args holds Name nodes in Param context, or Tuple nodes for unpacked
// parameters. Defaults align with the tail of Args.
type Arguments struct {
	Pos
	Args     []Expr
	Vararg   string
	Kwarg    string
	Defaults []Expr
}

// ClassDef is a class statement.
type ClassDef struct {
	Pos
	Name  string
	Bases []Expr
	Body  []Stmt
}

type Return struct {
	Pos
	Value Expr // nil for a bare return
}

type Delete struct {
	Pos
	Targets []Expr
}

// Assign is `t1 = t2 = value`.
type Assign struct {
	Pos
	Targets []Expr
	Value   Expr
}

// AugAssign is `target op= value`. Target carries AugStore context.
type AugAssign struct {
	Pos
	Target Expr
	Op     Operator
	Value  Expr
}

// Print is the print statement; NL is false when a trailing comma suppresses the newline.
type Print struct {
	Pos
	Dest   Expr
	Values []Expr
	NL     bool
}

type For struct {
	Pos
	Target Expr
	Iter   Expr
	Body   []Stmt
	Orelse []Stmt
}

type While struct {
	Pos
	Test   Expr
	Body   []Stmt
	Orelse []Stmt
}

type If struct {
	Pos
	Test   Expr
	Body   []Stmt
	Orelse []Stmt
}

type With struct {
	Pos
	ContextExpr  Expr
	OptionalVars Expr
	Body         []Stmt
}

type Raise struct {
	Pos
	Type  Expr
	Inst  Expr
	Tback Expr
}

// TryExcept is try/except/else.
type TryExcept struct {
	Pos
	Body     []Stmt
	Handlers []*ExceptHandler
	Orelse   []Stmt
}

// ExceptHandler is one except clause. Type is nil for a bare except.
type ExceptHandler struct {
	Pos
	Type Expr
	Name Expr
	Body []Stmt
}

type TryFinally struct {
	Pos
	Body      []Stmt
	Finalbody []Stmt
}

type Assert struct {
	Pos
	Test Expr
	Msg  Expr
}

type Import struct {
	Pos
	Names []*Alias
}

// ImportFrom is `from module import names`. An empty Names list means
// `import *`. FutureChecked is set once the statement has been validated
// as a legal future import (or as not a future import at all).
type ImportFrom struct {
	Pos
	Module        string
	Names         []*Alias
	Level         int
	FutureChecked bool
}

type Alias struct {
	Name   string
	AsName string
}

// Exec is the exec statement.
type Exec struct {
	Pos
	Body    Expr
	Globals Expr
	Locals  Expr
}

type Global struct {
	Pos
	Names []string
}

// ExprStmt is an expression evaluated for its side effects.
type ExprStmt struct {
	Pos
	Value Expr
}

type Pass struct{ Pos }

type Break struct{ Pos }

type Continue struct{ Pos }

func (s *FunctionDef) stmtNode() {}
func (s *ClassDef) stmtNode()    {}
func (s *Return) stmtNode()      {}
func (s *Delete) stmtNode()      {}
func (s *Assign) stmtNode()      {}
func (s *AugAssign) stmtNode()   {}
func (s *Print) stmtNode()       {}
func (s *For) stmtNode()         {}
func (s *While) stmtNode()       {}
func (s *If) stmtNode()          {}
func (s *With) stmtNode()        {}
func (s *Raise) stmtNode()       {}
func (s *TryExcept) stmtNode()   {}
func (s *TryFinally) stmtNode()  {}
func (s *Assert) stmtNode()      {}
func (s *Import) stmtNode()      {}
func (s *ImportFrom) stmtNode()  {}
func (s *Exec) stmtNode()        {}
func (s *Global) stmtNode()      {}
func (s *ExprStmt) stmtNode()    {}
func (s *Pass) stmtNode()        {}
func (s *Break) stmtNode()       {}
func (s *Continue) stmtNode()    {}
