package vm

import (
	"fmt"
	"math/big"
	"strings"
)

// Dict is an insertion-ordered hash map.
type Dict struct {
	keys   []Value
	values []Value
	index  map[interface{}]int
}

func NewDict() *Dict {
	return &Dict{index: make(map[interface{}]int)}
}

func (d *Dict) Type() string { return "dict" }

func (d *Dict) Inspect() string {
	parts := make([]string, 0, len(d.keys))
	for i, k := range d.keys {
		if k == unbound {
			continue
		}
		parts = append(parts, repr(k)+": "+repr(d.values[i]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (d *Dict) Len() int { return len(d.index) }

// hashKey maps equal values to the same Go map key.
func hashKey(v Value) (interface{}, error) {
	switch x := v.(type) {
	case nil, string, EllipsisType:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int64:
		return x, nil
	case *big.Int:
		if x.IsInt64() {
			return x.Int64(), nil
		}
		return "long:" + x.String(), nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), nil
		}
		return x, nil
	case complex128:
		if imag(x) == 0 {
			return hashKey(real(x))
		}
		return x, nil
	case *Tuple:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			k, err := hashKey(it)
			if err != nil {
				return nil, err
			}
			parts[i] = fmt.Sprintf("%T:%v", k, k)
		}
		return "tuple:" + strings.Join(parts, ","), nil
	case *List, *Dict:
		return nil, fmt.Errorf("unhashable type: '%s'", typeName(v))
	}
	return v, nil
}

func (d *Dict) Get(key Value) (Value, bool, error) {
	k, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[k]
	if !ok {
		return nil, false, nil
	}
	return d.values[i], true, nil
}

func (d *Dict) GetStr(key string) (Value, bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.values[i], true
}

func (d *Dict) Set(key, value Value) error {
	k, err := hashKey(key)
	if err != nil {
		return err
	}
	if i, ok := d.index[k]; ok {
		d.values[i] = value
		return nil
	}
	d.index[k] = len(d.keys)
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
	return nil
}

func (d *Dict) SetStr(key string, value Value) {
	_ = d.Set(key, value)
}

// Delete removes key and reports whether it was present. Removed entries
// leave a tombstone so iteration order is kept.
func (d *Dict) Delete(key Value) (bool, error) {
	k, err := hashKey(key)
	if err != nil {
		return false, err
	}
	i, ok := d.index[k]
	if !ok {
		return false, nil
	}
	delete(d.index, k)
	d.keys[i] = unbound
	d.values[i] = nil
	return true, nil
}

// Keys returns the live keys in insertion order.
func (d *Dict) Keys() []Value {
	out := make([]Value, 0, d.Len())
	for _, k := range d.keys {
		if k != unbound {
			out = append(out, k)
		}
	}
	return out
}

func (d *Dict) Items() [][2]Value {
	out := make([][2]Value, 0, d.Len())
	for i, k := range d.keys {
		if k != unbound {
			out = append(out, [2]Value{k, d.values[i]})
		}
	}
	return out
}

// equal is value equality as used by ==, in and dictionary lookup.
func equal(a, b Value) bool {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return numEqual(na, nb)
		}
		return false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *Tuple:
		y, ok := b.(*Tuple)
		return ok && equalItems(x.Items, y.Items)
	case *List:
		y, ok := b.(*List)
		return ok && equalItems(x.Items, y.Items)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, kv := range x.Items() {
			v, found, err := y.Get(kv[0])
			if err != nil || !found || !equal(kv[1], v) {
				return false
			}
		}
		return true
	}
	return a == b
}

func equalItems(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Exceptions

// PyError carries a raised exception instance through Go returns.
type PyError struct {
	Exc  *Instance
	Unit string
	Line int
}

func (e *PyError) Error() string {
	msg := str(e.Exc)
	name := e.Exc.Class.Name
	if msg != "" {
		name += ": " + msg
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s (%s line %d)", name, e.Unit, e.Line)
	}
	return name
}

// Class returns the class of the raised exception.
func (e *PyError) Class() *Class { return e.Exc.Class }

const argsAttr = "args"

func isException(i *Instance) bool {
	return i.Class.IsSubclass(builtinExceptions["BaseException"])
}

func exceptionArgs(i *Instance) *Tuple {
	if v, ok := i.Dict.GetStr(argsAttr); ok {
		if t, ok := v.(*Tuple); ok {
			return t
		}
	}
	return &Tuple{}
}

var builtinExceptions = map[string]*Class{}

func newBuiltinClass(name string, bases ...*Class) *Class {
	return &Class{Name: name, Bases: bases, Dict: NewDict()}
}

func init() {
	base := newBuiltinClass("BaseException")
	base.Dict.SetStr("__init__", &Builtin{Name: "__init__", Fn: func(vm *VM, args []Value, kwargs *Dict) (Value, error) {
		self := args[0].(*Instance)
		self.Dict.SetStr(argsAttr, &Tuple{Items: append([]Value(nil), args[1:]...)})
		return nil, nil
	}})
	builtinExceptions["BaseException"] = base
	exc := newBuiltinClass("Exception", base)
	builtinExceptions["Exception"] = exc
	for _, name := range []string{"StopIteration", "StandardError"} {
		builtinExceptions[name] = newBuiltinClass(name, exc)
	}
	std := builtinExceptions["StandardError"]
	for _, name := range []string{"ValueError", "TypeError", "NameError", "ArithmeticError",
		"AssertionError", "LookupError", "AttributeError", "ImportError", "RuntimeError"} {
		builtinExceptions[name] = newBuiltinClass(name, std)
	}
	builtinExceptions["ZeroDivisionError"] = newBuiltinClass("ZeroDivisionError", builtinExceptions["ArithmeticError"])
	builtinExceptions["OverflowError"] = newBuiltinClass("OverflowError", builtinExceptions["ArithmeticError"])
	builtinExceptions["KeyError"] = newBuiltinClass("KeyError", builtinExceptions["LookupError"])
	builtinExceptions["IndexError"] = newBuiltinClass("IndexError", builtinExceptions["LookupError"])
	builtinExceptions["UnboundLocalError"] = newBuiltinClass("UnboundLocalError", builtinExceptions["NameError"])
}

// newException instantiates a builtin exception class with a message.
func newException(class string, format string, args ...interface{}) *PyError {
	cls := builtinExceptions[class]
	inst := &Instance{Class: cls, Dict: NewDict()}
	inst.Dict.SetStr(argsAttr, &Tuple{Items: []Value{fmt.Sprintf(format, args...)}})
	return &PyError{Exc: inst}
}
