// Package symbols implements lexical scope analysis: it builds one scope
// per module, function, lambda, class body and comprehension, classifies
// every name, and computes closure layout for nested functions.
package symbols

import (
	"strings"

	"github.com/funvibe/pybc/internal/ast"
)

type ScopeType int

const (
	ScopeModule ScopeType = iota // Module, interactive input or eval expression
	ScopeFunction
	ScopeLambda
	ScopeClass
	ScopeComprehension // Implicit scope of a list comprehension or generator expression
)

var scopeTypeNames = [...]string{
	ScopeModule:        "module",
	ScopeFunction:      "function",
	ScopeLambda:        "lambda",
	ScopeClass:         "class",
	ScopeComprehension: "comprehension",
}

func (t ScopeType) String() string { return scopeTypeNames[t] }

// IsFunction reports whether the scope executes as a function frame.
func (t ScopeType) IsFunction() bool {
	return t == ScopeFunction || t == ScopeLambda || t == ScopeComprehension
}

// Flag classifies a name within one scope.
type Flag uint8

const (
	Bound     Flag = 1 << iota // Assigned, deleted, imported or defined here
	Param                      // Declared as a parameter
	FromParam                  // Bound before the body started (parameters and their unpacking)
	Global                     // Declared global
	Cell                       // Bound here and captured by a nested scope
	Free                       // Captured from an enclosing scope
	Used                       // Read somewhere in this scope
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{Bound, "bound"}, {Param, "param"}, {FromParam, "from_param"},
	{Global, "global"}, {Cell, "cell"}, {Free, "free"}, {Used, "used"},
}

func (f Flag) String() string {
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// Symbol is one name in one scope. LocalIndex is the fast-local slot
// (-1 when the name has none) and EnvIndex the position in the closure
// environment (-1 when the name is neither cell nor free).
type Symbol struct {
	Name       string
	Flags      Flag
	LocalIndex int
	EnvIndex   int
}

// Has reports whether all of flags are set.
func (s *Symbol) Has(flags Flag) bool { return s.Flags&flags == flags }

// Any reports whether any of flags is set.
func (s *Symbol) Any(flags Flag) bool { return s.Flags&flags != 0 }

// Scope is the analyzed symbol table of one scope. It is mutated only
// while the analyzer walks its body and is read-only once cooked.
type Scope struct {
	Name      string
	Type      ScopeType
	Level     int // Nesting depth; the module scope is 0
	FuncLevel int // Number of enclosing function scopes including this one
	Node      ast.Node

	Parent   *Scope // Lexical parent
	Up       *Scope // Nearest enclosing non-class scope, nil for the module
	Children []*Scope

	Generator       bool
	UsesExec        bool
	UnqualifiedExec bool // exec without explicit globals/locals
	HasImportStar   bool
	MaxWithCount    int // Deepest nesting of open with blocks
	YieldCount      int

	// Distance is the number of frame hops from this scope's defining frame
	// to the frame of Up, counting skipped class bodies.
	Distance int

	Params     []string // Declaration order: positional, *vararg, **kwarg
	LocalNames []string // Indexed by Symbol.LocalIndex
	CellVars   []string // Env slots 0..len(CellVars)-1
	FreeVars   []string // Env slots following the cells

	symbols []*Symbol
	index   map[string]*Symbol
	cooked  bool
}

func newScope(name string, typ ScopeType, node ast.Node, parent *Scope) *Scope {
	s := &Scope{
		Name:   name,
		Type:   typ,
		Node:   node,
		Parent: parent,
		index:  make(map[string]*Symbol),
	}
	if parent != nil {
		s.Level = parent.Level + 1
		s.FuncLevel = parent.FuncLevel
		parent.Children = append(parent.Children, s)
	}
	if typ.IsFunction() {
		s.FuncLevel++
	}
	return s
}

// Lookup returns the symbol for name.
func (s *Scope) Lookup(name string) (*Symbol, bool) {
	sym, ok := s.index[name]
	return sym, ok
}

// Symbols returns the scope's symbols in first-occurrence order.
func (s *Scope) Symbols() []*Symbol { return s.symbols }

// Optimized reports whether locals live in numbered slots rather than a
// name dictionary. exec and import * force dictionary locals.
func (s *Scope) Optimized() bool {
	return s.Type.IsFunction() && !s.UsesExec && !s.HasImportStar
}

// IsCooked reports whether the scope has been closed by the analyzer.
func (s *Scope) IsCooked() bool { return s.cooked }

func (s *Scope) symbol(name string) *Symbol {
	if sym, ok := s.index[name]; ok {
		return sym
	}
	sym := &Symbol{Name: name, LocalIndex: -1, EnvIndex: -1}
	s.index[name] = sym
	s.symbols = append(s.symbols, sym)
	return sym
}

// ScopeTree maps scope-introducing nodes to their analyzed scopes.
type ScopeTree struct {
	Root   *Scope
	scopes map[ast.Node]*Scope
}

// Lookup returns the scope introduced by node, or nil.
func (t *ScopeTree) Lookup(node ast.Node) *Scope {
	return t.scopes[node]
}

// Walk visits every scope in pre-order.
func (t *ScopeTree) Walk(f func(*Scope)) {
	var walk func(*Scope)
	walk = func(s *Scope) {
		f(s)
		for _, c := range s.Children {
			walk(c)
		}
	}
	if t.Root != nil {
		walk(t.Root)
	}
}
