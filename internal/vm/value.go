package vm

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Value is a runtime value of the reference interpreter. Scalars are plain
// Go values: nil (None), bool, int64, float64, complex128 and string; every
// other value is an Object.
type Value interface{}

// Object is a heap value with a type name and a printable form.
type Object interface {
	Type() string
	Inspect() string
}

// unbound marks a local slot or cell that has no value yet.
type unboundT struct{}

var unbound = unboundT{}

type Tuple struct{ Items []Value }

func (t *Tuple) Type() string    { return "tuple" }
func (t *Tuple) Inspect() string { return seqRepr("(", t.Items, ")", len(t.Items) == 1) }

type List struct{ Items []Value }

func (l *List) Type() string    { return "list" }
func (l *List) Inspect() string { return seqRepr("[", l.Items, "]", false) }

type SliceObj struct{ Lower, Upper, Step Value }

func (s *SliceObj) Type() string { return "slice" }
func (s *SliceObj) Inspect() string {
	return fmt.Sprintf("slice(%s, %s, %s)", repr(s.Lower), repr(s.Upper), repr(s.Step))
}

// Cell is a shared variable captured by a closure.
type Cell struct{ Value Value }

func (c *Cell) Type() string    { return "cell" }
func (c *Cell) Inspect() string { return "<cell>" }

type Function struct {
	Name     string
	Code     *CodeUnit
	Globals  *Dict
	Defaults []Value
	Closure  []*Cell
}

func (f *Function) Type() string    { return "function" }
func (f *Function) Inspect() string { return "<function " + f.Name + ">" }

type Class struct {
	Name  string
	Bases []*Class
	Dict  *Dict
}

func (c *Class) Type() string    { return "classobj" }
func (c *Class) Inspect() string { return "<class " + c.Name + ">" }

// Lookup finds an attribute on the class or its bases, depth first.
func (c *Class) Lookup(name string) (Value, bool) {
	if v, ok := c.Dict.GetStr(name); ok {
		return v, true
	}
	for _, b := range c.Bases {
		if v, ok := b.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

// IsSubclass reports whether c is other or derives from it.
func (c *Class) IsSubclass(other *Class) bool {
	if c == other {
		return true
	}
	for _, b := range c.Bases {
		if b.IsSubclass(other) {
			return true
		}
	}
	return false
}

type Instance struct {
	Class *Class
	Dict  *Dict
}

func (i *Instance) Type() string { return i.Class.Name }
func (i *Instance) Inspect() string {
	if isException(i) {
		return i.Class.Name + "(" + strings.TrimSuffix(strings.TrimPrefix(repr(exceptionArgs(i)), "("), ",)") + ")"
	}
	return "<" + i.Class.Name + " instance>"
}

type BoundMethod struct {
	Self Value
	Func Value
}

func (m *BoundMethod) Type() string    { return "instancemethod" }
func (m *BoundMethod) Inspect() string { return "<bound method " + inspect(m.Func) + ">" }

// Builtin is a function implemented by the interpreter.
type Builtin struct {
	Name string
	Fn   func(vm *VM, args []Value, kwargs *Dict) (Value, error)
}

func (b *Builtin) Type() string    { return "builtin_function_or_method" }
func (b *Builtin) Inspect() string { return "<built-in function " + b.Name + ">" }

type Module struct {
	Name string
	Dict *Dict
}

func (m *Module) Type() string    { return "module" }
func (m *Module) Inspect() string { return "<module '" + m.Name + "'>" }

// Iterator walks a Go-side sequence.
type Iterator struct {
	next func() (Value, bool)
}

func (it *Iterator) Type() string    { return "iterator" }
func (it *Iterator) Inspect() string { return "<iterator>" }

func sliceIterator(items []Value) *Iterator {
	i := 0
	return &Iterator{next: func() (Value, bool) {
		if i >= len(items) {
			return nil, false
		}
		i++
		return items[i-1], true
	}}
}

// Generator is the suspended state of a generator function call. Each
// resumption runs a fresh activation of the code unit that restores the
// saved slots and jumps to the resume point.
type Generator struct {
	fn      *Function
	args    []Value
	env     []*Cell
	locals  *Dict
	saved   []Value
	resume  int
	sent    Value
	running bool
	done    bool
}

func (g *Generator) Type() string    { return "generator" }
func (g *Generator) Inspect() string { return "<generator object " + g.fn.Name + ">" }

func typeName(v Value) string {
	switch x := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case *big.Int:
		return "long"
	case float64:
		return "float"
	case complex128:
		return "complex"
	case string:
		return "str"
	case EllipsisType:
		return "ellipsis"
	case Object:
		return x.Type()
	}
	return fmt.Sprintf("%T", v)
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case *big.Int:
		return x.Sign() != 0
	case float64:
		return x != 0
	case complex128:
		return x != 0
	case string:
		return x != ""
	case *Tuple:
		return len(x.Items) > 0
	case *List:
		return len(x.Items) > 0
	case *Dict:
		return x.Len() > 0
	}
	return true
}

func formatFloat(f float64, prec int) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', prec, 64)
	if !strings.ContainsAny(s, ".eIn") {
		s += ".0"
	}
	return s
}

// str is the print form of v.
func str(v Value) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return formatFloat(x, 12)
	case *Instance:
		if isException(x) {
			args := exceptionArgs(x)
			switch len(args.Items) {
			case 0:
				return ""
			case 1:
				return str(args.Items[0])
			}
			return repr(args)
		}
	}
	return repr(v)
}

// repr is the source-like form of v.
func repr(v Value) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case *big.Int:
		return x.String() + "L"
	case float64:
		return formatFloat(x, 17)
	case complex128:
		return fmt.Sprintf("(%s+%sj)", formatFloat(real(x), 17), formatFloat(imag(x), 17))
	case string:
		q := strconv.Quote(x)
		q = strings.ReplaceAll(q[1:len(q)-1], `\"`, `"`)
		return "'" + strings.ReplaceAll(q, "'", `\'`) + "'"
	case EllipsisType:
		return "Ellipsis"
	case unboundT:
		return "<unbound>"
	case Object:
		return x.Inspect()
	}
	return fmt.Sprintf("%v", v)
}

func inspect(v Value) string { return repr(v) }

func seqRepr(open string, items []Value, close string, trailingComma bool) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = repr(it)
	}
	s := open + strings.Join(parts, ", ")
	if trailingComma {
		s += ","
	}
	return s + close
}
