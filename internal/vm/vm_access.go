package vm

import (
	"errors"
	"math/big"
	"strings"

	"github.com/funvibe/pybc/internal/config"
)

// Attributes

func (vm *VM) getAttr(obj Value, name string) (Value, error) {
	switch o := obj.(type) {
	case *Module:
		if v, ok := o.Dict.GetStr(name); ok {
			return v, nil
		}
		if name == config.ModuleName {
			return o.Name, nil
		}
	case *Instance:
		if v, ok := o.Dict.GetStr(name); ok {
			return v, nil
		}
		if name == "__class__" {
			return o.Class, nil
		}
		if v, ok := o.Class.Lookup(name); ok {
			switch v.(type) {
			case *Function, *Builtin:
				return &BoundMethod{Self: o, Func: v}, nil
			}
			return v, nil
		}
	case *Class:
		if v, ok := o.Lookup(name); ok {
			return v, nil
		}
		switch name {
		case config.ModuleName:
			return o.Name, nil
		case "__dict__":
			return o.Dict, nil
		case "__bases__":
			bases := make([]Value, len(o.Bases))
			for i, b := range o.Bases {
				bases[i] = b
			}
			return &Tuple{Items: bases}, nil
		}
	case *Function:
		switch name {
		case config.ModuleName:
			return o.Name, nil
		case config.DocName:
			if o.Code.Doc == "" {
				return nil, nil
			}
			return o.Code.Doc, nil
		}
	case *Cell:
		if name == "cell_contents" && o.Value != unbound {
			return o.Value, nil
		}
	}
	if m, ok := methodFor(obj, name); ok {
		return &BoundMethod{Self: obj, Func: m}, nil
	}
	return nil, newException("AttributeError", "'%s' object has no attribute '%s'", typeName(obj), name)
}

func (vm *VM) setAttr(obj Value, name string, value Value) error {
	switch o := obj.(type) {
	case *Instance:
		o.Dict.SetStr(name, value)
		return nil
	case *Class:
		o.Dict.SetStr(name, value)
		return nil
	case *Module:
		o.Dict.SetStr(name, value)
		return nil
	}
	return newException("AttributeError", "'%s' object has no attribute '%s'", typeName(obj), name)
}

func (vm *VM) delAttr(obj Value, name string) error {
	var d *Dict
	switch o := obj.(type) {
	case *Instance:
		d = o.Dict
	case *Class:
		d = o.Dict
	case *Module:
		d = o.Dict
	}
	if d != nil {
		if ok, _ := d.Delete(name); ok {
			return nil
		}
	}
	return newException("AttributeError", "'%s' object has no attribute '%s'", typeName(obj), name)
}

// Subscripts

func index(v Value) (int, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int64:
		return int(x), true
	case *big.Int:
		if x.IsInt64() {
			return int(x.Int64()), true
		}
	}
	return 0, false
}

// normIndex resolves a possibly negative index against length n.
func normIndex(key Value, n int, what string) (int, error) {
	i, ok := index(key)
	if !ok {
		return 0, newException("TypeError", "%s indices must be integers, not %s", what, typeName(key))
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, newException("IndexError", "%s index out of range", what)
	}
	return i, nil
}

// sliceIndices returns the positions a slice selects from a sequence of
// length n.
func sliceIndices(s *SliceObj, n int) ([]int, error) {
	step := 1
	if s.Step != nil {
		st, ok := index(s.Step)
		if !ok {
			return nil, newException("TypeError", "slice indices must be integers or None")
		}
		if st == 0 {
			return nil, newException("ValueError", "slice step cannot be zero")
		}
		step = st
	}
	bound := func(v Value, def int) (int, error) {
		if v == nil {
			return def, nil
		}
		i, ok := index(v)
		if !ok {
			return 0, newException("TypeError", "slice indices must be integers or None")
		}
		if i < 0 {
			i += n
		}
		lo, hi := 0, n
		if step < 0 {
			lo, hi = -1, n-1
		}
		if i < lo {
			i = lo
		}
		if i > hi {
			i = hi
		}
		return i, nil
	}
	var start, stop int
	var err error
	if step > 0 {
		if start, err = bound(s.Lower, 0); err != nil {
			return nil, err
		}
		if stop, err = bound(s.Upper, n); err != nil {
			return nil, err
		}
	} else {
		if start, err = bound(s.Lower, n-1); err != nil {
			return nil, err
		}
		if stop, err = bound(s.Upper, -1); err != nil {
			return nil, err
		}
	}
	var out []int
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, i)
	}
	return out, nil
}

func pick(items []Value, idx []int) []Value {
	out := make([]Value, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

func (vm *VM) getItem(obj, key Value) (Value, error) {
	switch o := obj.(type) {
	case *List:
		if s, ok := key.(*SliceObj); ok {
			idx, err := sliceIndices(s, len(o.Items))
			if err != nil {
				return nil, err
			}
			return &List{Items: pick(o.Items, idx)}, nil
		}
		i, err := normIndex(key, len(o.Items), "list")
		if err != nil {
			return nil, err
		}
		return o.Items[i], nil
	case *Tuple:
		if s, ok := key.(*SliceObj); ok {
			idx, err := sliceIndices(s, len(o.Items))
			if err != nil {
				return nil, err
			}
			return &Tuple{Items: pick(o.Items, idx)}, nil
		}
		i, err := normIndex(key, len(o.Items), "tuple")
		if err != nil {
			return nil, err
		}
		return o.Items[i], nil
	case string:
		if s, ok := key.(*SliceObj); ok {
			idx, err := sliceIndices(s, len(o))
			if err != nil {
				return nil, err
			}
			var sb strings.Builder
			for _, j := range idx {
				sb.WriteByte(o[j])
			}
			return sb.String(), nil
		}
		i, err := normIndex(key, len(o), "string")
		if err != nil {
			return nil, err
		}
		return o[i : i+1], nil
	case *Dict:
		v, found, err := o.Get(key)
		if err != nil {
			return nil, newException("TypeError", "%s", err)
		}
		if !found {
			return nil, newException("KeyError", "%s", repr(key))
		}
		return v, nil
	case *Instance:
		if m, err := vm.getAttr(o, "__getitem__"); err == nil {
			return vm.call(m, []Value{key}, nil)
		}
	}
	return nil, newException("TypeError", "'%s' object is unsubscriptable", typeName(obj))
}

func (vm *VM) setItem(obj, key, value Value) error {
	switch o := obj.(type) {
	case *List:
		if s, ok := key.(*SliceObj); ok {
			items, err := vm.sequence(value)
			if err != nil {
				return err
			}
			if s.Step != nil {
				idx, err := sliceIndices(s, len(o.Items))
				if err != nil {
					return err
				}
				if len(idx) != len(items) {
					return newException("ValueError", "attempt to assign sequence of size %d to extended slice of size %d", len(items), len(idx))
				}
				for i, j := range idx {
					o.Items[j] = items[i]
				}
				return nil
			}
			lo, hi := sliceBounds(s, len(o.Items))
			o.Items = concat(concat(o.Items[:lo:lo], items), o.Items[hi:])
			return nil
		}
		i, err := normIndex(key, len(o.Items), "list assignment")
		if err != nil {
			return err
		}
		o.Items[i] = value
		return nil
	case *Dict:
		if err := o.Set(key, value); err != nil {
			return newException("TypeError", "%s", err)
		}
		return nil
	case *Instance:
		if m, err := vm.getAttr(o, "__setitem__"); err == nil {
			_, err = vm.call(m, []Value{key, value}, nil)
			return err
		}
	}
	return newException("TypeError", "'%s' object does not support item assignment", typeName(obj))
}

func (vm *VM) delItem(obj, key Value) error {
	switch o := obj.(type) {
	case *List:
		if s, ok := key.(*SliceObj); ok && s.Step == nil {
			lo, hi := sliceBounds(s, len(o.Items))
			o.Items = concat(o.Items[:lo:lo], o.Items[hi:])
			return nil
		}
		i, err := normIndex(key, len(o.Items), "list assignment")
		if err != nil {
			return err
		}
		o.Items = concat(o.Items[:i:i], o.Items[i+1:])
		return nil
	case *Dict:
		found, err := o.Delete(key)
		if err != nil {
			return newException("TypeError", "%s", err)
		}
		if !found {
			return newException("KeyError", "%s", repr(key))
		}
		return nil
	case *Instance:
		if m, err := vm.getAttr(o, "__delitem__"); err == nil {
			_, err = vm.call(m, []Value{key}, nil)
			return err
		}
	}
	return newException("TypeError", "'%s' object doesn't support item deletion", typeName(obj))
}

// sliceBounds clamps the bounds of a step-less slice to [0, n].
func sliceBounds(s *SliceObj, n int) (int, int) {
	clamp := func(v Value, def int) int {
		i, ok := index(v)
		if !ok {
			return def
		}
		if i < 0 {
			i += n
		}
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	lo := clamp(s.Lower, 0)
	hi := clamp(s.Upper, n)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Iteration

func (vm *VM) iter(v Value) (Value, error) {
	switch o := v.(type) {
	case *Iterator, *Generator:
		return o, nil
	case *List:
		i := 0
		return &Iterator{next: func() (Value, bool) {
			if i >= len(o.Items) {
				return nil, false
			}
			i++
			return o.Items[i-1], true
		}}, nil
	case *Tuple:
		return sliceIterator(o.Items), nil
	case string:
		chars := make([]Value, len(o))
		for i := range o {
			chars[i] = o[i : i+1]
		}
		return sliceIterator(chars), nil
	case *Dict:
		return sliceIterator(o.Keys()), nil
	case *Instance:
		if m, err := vm.getAttr(o, "__iter__"); err == nil {
			return vm.call(m, nil, nil)
		}
	}
	return nil, newException("TypeError", "'%s' object is not iterable", typeName(v))
}

// next advances an iterator. ok is false once it is exhausted.
func (vm *VM) next(it Value) (Value, bool, error) {
	switch o := it.(type) {
	case *Iterator:
		v, ok := o.next()
		return v, ok, nil
	case *Generator:
		return vm.resume(o, nil)
	case *Instance:
		m, err := vm.getAttr(o, "next")
		if err != nil {
			return nil, false, newException("TypeError", "%s object is not an iterator", typeName(it))
		}
		v, err := vm.call(m, nil, nil)
		if err != nil {
			var pyErr *PyError
			if errors.As(err, &pyErr) && pyErr.Class().IsSubclass(builtinExceptions["StopIteration"]) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return v, true, nil
	}
	return nil, false, newException("TypeError", "%s object is not an iterator", typeName(it))
}

// sequence returns the items of an iterable.
func (vm *VM) sequence(v Value) ([]Value, error) {
	switch o := v.(type) {
	case *Tuple:
		return o.Items, nil
	case *List:
		return append([]Value(nil), o.Items...), nil
	}
	it, err := vm.iter(v)
	if err != nil {
		return nil, err
	}
	var out []Value
	for {
		item, ok, err := vm.next(it)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

// Imports

func (vm *VM) importModule(name string) (*Module, error) {
	top := strings.SplitN(name, ".", 2)[0]
	if m, ok := vm.modules[top]; ok {
		return m, nil
	}
	return nil, newException("ImportError", "No module named %s", name)
}
