// Package ast defines the syntax tree consumed by the compiler passes.
//
// The tree is produced by an external parser and arrives already validated.
// Node kinds form a closed set: Mod, Stmt, Expr and SliceKind carry
// unexported marker methods, so only this package can introduce variants.
package ast

import "fmt"

// Pos is a source position. Lines and columns are 1-based; zero means unknown.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) GetPos() Pos { return p }

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Node is the base interface for all AST nodes.
type Node interface {
	GetPos() Pos
}

// Mod is a compilation unit root.
type Mod interface {
	Node
	modNode()
}

// Stmt is a Node that represents a statement.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is a Node that represents an expression.
type Expr interface {
	Node
	exprNode()
}

// SliceKind is the index part of a subscript.
type SliceKind interface {
	Node
	sliceNode()
}

// Module is a source file.
type Module struct {
	Pos
	Body []Stmt
}

func (m *Module) modNode() {}

// Interactive is one interactive-prompt input; expression statements print their value.
type Interactive struct {
	Pos
	Body []Stmt
}

func (i *Interactive) modNode() {}

// Expression is an eval-mode unit: a single expression whose value is returned.
type Expression struct {
	Pos
	Body Expr
}

func (e *Expression) modNode() {}

// Suite wraps a statement list as a unit root. The code generator uses it
// for function and class bodies.
type Suite struct {
	Pos
	Body []Stmt
}

func (s *Suite) modNode() {}

// Docstring returns the leading string literal of a body, if any.
func Docstring(body []Stmt) (*Str, bool) {
	if len(body) == 0 {
		return nil, false
	}
	es, ok := body[0].(*ExprStmt)
	if !ok {
		return nil, false
	}
	s, ok := es.Value.(*Str)
	return s, ok
}
