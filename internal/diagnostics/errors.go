// Package diagnostics defines the error taxonomy shared by the compiler passes.
package diagnostics

import (
	"errors"
	"fmt"

	"github.com/funvibe/pybc/internal/ast"
)

// ErrorCode identifies a diagnostic. The leading letter names the pass:
// A for tree decoding, F for future imports, S for scope analysis and
// C for code generation.
type ErrorCode string

const (
	// Tree decoding
	ErrA001 ErrorCode = "A001" // malformed tree document

	// Future imports
	ErrF001 ErrorCode = "F001" // unknown future feature
	ErrF002 ErrorCode = "F002" // forbidden future feature
	ErrF003 ErrorCode = "F003" // future import *
	ErrF004 ErrorCode = "F004" // future import not at the beginning of the file

	// Scope analysis
	ErrS001 ErrorCode = "S001" // name is parameter and global
	ErrS002 ErrorCode = "S002" // declared global after assignment or use (warning)
	ErrS003 ErrorCode = "S003" // assignment to __debug__
	ErrS004 ErrorCode = "S004" // yield outside function
	ErrS005 ErrorCode = "S005" // return outside function
	ErrS006 ErrorCode = "S006" // return with argument inside generator
	ErrS007 ErrorCode = "S007" // unqualified exec or import * with nested free variables
	ErrS008 ErrorCode = "S008" // duplicate argument name

	// Code generation
	ErrC001 ErrorCode = "C001" // break outside loop
	ErrC002 ErrorCode = "C002" // continue outside loop or inside finally
	ErrC003 ErrorCode = "C003" // yield inside try/finally
	ErrC004 ErrorCode = "C004" // bare except not last
	ErrC005 ErrorCode = "C005" // string constant too long
	ErrC006 ErrorCode = "C006" // delete of a variable referenced in nested scope
	ErrC007 ErrorCode = "C007" // unsupported node shape
	ErrC008 ErrorCode = "C008" // stack imbalance found by the verifier
)

// Severity distinguishes fatal errors from reported warnings.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// DiagnosticError is a compiler error or warning tied to a source position.
type DiagnosticError struct {
	Code     ErrorCode
	Pos      ast.Pos
	Message  string
	Severity Severity
	File     string
}

func (e *DiagnosticError) Error() string {
	prefix := ""
	if e.File != "" {
		prefix = e.File + ":"
	}
	if e.Severity == SeverityWarning {
		return fmt.Sprintf("%s%d:%d: warning %s: %s", prefix, e.Pos.Line, e.Pos.Col, e.Code, e.Message)
	}
	return fmt.Sprintf("%s%d:%d: %s: %s", prefix, e.Pos.Line, e.Pos.Col, e.Code, e.Message)
}

// NewError creates a fatal diagnostic at the position of node.
func NewError(code ErrorCode, node ast.Node, format string, args ...interface{}) *DiagnosticError {
	return &DiagnosticError{
		Code:    code,
		Pos:     positionOf(node),
		Message: fmt.Sprintf(format, args...),
	}
}

// NewWarning creates a non-fatal diagnostic at the position of node.
func NewWarning(code ErrorCode, node ast.Node, format string, args ...interface{}) *DiagnosticError {
	d := NewError(code, node, format, args...)
	d.Severity = SeverityWarning
	return d
}

// WithFile returns a copy of e attributed to file.
func (e *DiagnosticError) WithFile(file string) *DiagnosticError {
	c := *e
	c.File = file
	return &c
}

func positionOf(node ast.Node) ast.Pos {
	if node == nil {
		return ast.Pos{}
	}
	return node.GetPos()
}

// As extracts a *DiagnosticError from err's chain.
func As(err error) (*DiagnosticError, bool) {
	var d *DiagnosticError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

func hasFamily(err error, family byte) bool {
	d, ok := As(err)
	return ok && len(d.Code) > 0 && d.Code[0] == family
}

// IsScopeError reports whether err is a scope analysis error.
func IsScopeError(err error) bool { return hasFamily(err, 'S') }

// IsFutureError reports whether err is a future import error.
func IsFutureError(err error) bool { return hasFamily(err, 'F') }

// IsCodeGenError reports whether err is a code generation error.
func IsCodeGenError(err error) bool { return hasFamily(err, 'C') }
