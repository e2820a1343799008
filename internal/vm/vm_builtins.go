package vm

import (
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/future"
)

type builtinFn func(vm *VM, args []Value, kwargs *Dict) (Value, error)

func builtin(name string, fn builtinFn) *Builtin {
	return &Builtin{Name: name, Fn: fn}
}

// checkArgs validates the positional argument count of a builtin that
// takes no keywords.
func checkArgs(name string, args []Value, kwargs *Dict, min, max int) error {
	if kwargs != nil && kwargs.Len() > 0 {
		return newException("TypeError", "%s() takes no keyword arguments", name)
	}
	switch {
	case min == max && len(args) != min:
		return newException("TypeError", "%s() takes exactly %d argument(s) (%d given)", name, min, len(args))
	case len(args) < min:
		return newException("TypeError", "%s() takes at least %d argument(s) (%d given)", name, min, len(args))
	case max >= 0 && len(args) > max:
		return newException("TypeError", "%s() takes at most %d argument(s) (%d given)", name, max, len(args))
	}
	return nil
}

// fixed wraps a builtin taking between min and max positional arguments;
// max < 0 means no upper bound.
func fixed(name string, min, max int, fn func(vm *VM, args []Value) (Value, error)) *Builtin {
	return builtin(name, func(vm *VM, args []Value, kwargs *Dict) (Value, error) {
		if err := checkArgs(name, args, kwargs, min, max); err != nil {
			return nil, err
		}
		return fn(vm, args)
	})
}

var objectClass = newBuiltinClass("object")

func newBuiltins() *Dict {
	b := NewDict()
	b.SetStr(config.NoneName, nil)
	b.SetStr("True", true)
	b.SetStr("False", false)
	b.SetStr("Ellipsis", Ellipsis)
	b.SetStr(config.DebugName, true)
	b.SetStr("object", objectClass)
	for name, cls := range builtinExceptions {
		b.SetStr(name, cls)
	}

	for _, fn := range []*Builtin{
		fixed("len", 1, 1, builtinLen),
		fixed("range", 1, 3, builtinRange),
		fixed("xrange", 1, 3, builtinRange),
		fixed("list", 0, 1, func(vm *VM, args []Value) (Value, error) {
			if len(args) == 0 {
				return &List{}, nil
			}
			items, err := vm.sequence(args[0])
			return &List{Items: append([]Value(nil), items...)}, err
		}),
		fixed("tuple", 0, 1, func(vm *VM, args []Value) (Value, error) {
			if len(args) == 0 {
				return &Tuple{}, nil
			}
			if t, ok := args[0].(*Tuple); ok {
				return t, nil
			}
			items, err := vm.sequence(args[0])
			return &Tuple{Items: items}, err
		}),
		builtin("dict", builtinDict),
		fixed("str", 0, 1, func(vm *VM, args []Value) (Value, error) {
			if len(args) == 0 {
				return "", nil
			}
			return str(args[0]), nil
		}),
		fixed("repr", 1, 1, func(vm *VM, args []Value) (Value, error) { return repr(args[0]), nil }),
		fixed("int", 0, 1, builtinInt),
		fixed("float", 0, 1, builtinFloat),
		fixed("bool", 0, 1, func(vm *VM, args []Value) (Value, error) {
			return len(args) == 1 && truthy(args[0]), nil
		}),
		fixed("abs", 1, 1, func(vm *VM, args []Value) (Value, error) {
			c, err := order(args[0], int64(0))
			if err != nil {
				return nil, err
			}
			if c < 0 {
				return unaryOp(UnaryNeg, args[0])
			}
			return unaryOp(UnaryPos, args[0])
		}),
		fixed("min", 1, -1, func(vm *VM, args []Value) (Value, error) { return vm.extreme("min", args, -1) }),
		fixed("max", 1, -1, func(vm *VM, args []Value) (Value, error) { return vm.extreme("max", args, 1) }),
		fixed("sum", 1, 2, func(vm *VM, args []Value) (Value, error) {
			items, err := vm.sequence(args[0])
			if err != nil {
				return nil, err
			}
			var total Value = int64(0)
			if len(args) == 2 {
				total = args[1]
			}
			for _, it := range items {
				if total, err = binaryOp(BinAdd, total, it); err != nil {
					return nil, err
				}
			}
			return total, nil
		}),
		fixed("sorted", 1, 1, func(vm *VM, args []Value) (Value, error) {
			items, err := vm.sequence(args[0])
			if err != nil {
				return nil, err
			}
			l := &List{Items: append([]Value(nil), items...)}
			return l, sortItems(l.Items)
		}),
		fixed("enumerate", 1, 1, func(vm *VM, args []Value) (Value, error) {
			items, err := vm.sequence(args[0])
			if err != nil {
				return nil, err
			}
			pairs := make([]Value, len(items))
			for i, it := range items {
				pairs[i] = &Tuple{Items: []Value{int64(i), it}}
			}
			return sliceIterator(pairs), nil
		}),
		fixed("zip", 0, -1, func(vm *VM, args []Value) (Value, error) {
			var seqs [][]Value
			n := -1
			for _, a := range args {
				items, err := vm.sequence(a)
				if err != nil {
					return nil, err
				}
				seqs = append(seqs, items)
				if n < 0 || len(items) < n {
					n = len(items)
				}
			}
			out := &List{}
			for i := 0; i < n; i++ {
				row := make([]Value, len(seqs))
				for j, s := range seqs {
					row[j] = s[i]
				}
				out.Items = append(out.Items, &Tuple{Items: row})
			}
			return out, nil
		}),
		fixed("isinstance", 2, 2, func(vm *VM, args []Value) (Value, error) {
			return isInstance(args[0], args[1])
		}),
		fixed("issubclass", 2, 2, func(vm *VM, args []Value) (Value, error) {
			c, ok := args[0].(*Class)
			if !ok {
				return nil, newException("TypeError", "issubclass() arg 1 must be a class")
			}
			return classMatch(c, args[1])
		}),
		fixed("hasattr", 2, 2, func(vm *VM, args []Value) (Value, error) {
			name, ok := args[1].(string)
			if !ok {
				return nil, newException("TypeError", "hasattr(): attribute name must be string")
			}
			_, err := vm.getAttr(args[0], name)
			return err == nil, nil
		}),
		fixed("getattr", 2, 3, func(vm *VM, args []Value) (Value, error) {
			name, ok := args[1].(string)
			if !ok {
				return nil, newException("TypeError", "getattr(): attribute name must be string")
			}
			v, err := vm.getAttr(args[0], name)
			if err != nil && len(args) == 3 {
				return args[2], nil
			}
			return v, err
		}),
		fixed("setattr", 3, 3, func(vm *VM, args []Value) (Value, error) {
			name, ok := args[1].(string)
			if !ok {
				return nil, newException("TypeError", "setattr(): attribute name must be string")
			}
			return nil, vm.setAttr(args[0], name, args[2])
		}),
		fixed("callable", 1, 1, func(vm *VM, args []Value) (Value, error) {
			switch args[0].(type) {
			case *Function, *BoundMethod, *Builtin, *Class:
				return true, nil
			}
			return false, nil
		}),
		fixed("iter", 1, 1, func(vm *VM, args []Value) (Value, error) { return vm.iter(args[0]) }),
		fixed("next", 1, 2, func(vm *VM, args []Value) (Value, error) {
			v, ok, err := vm.next(args[0])
			if err != nil {
				return nil, err
			}
			if !ok {
				if len(args) == 2 {
					return args[1], nil
				}
				return nil, newException("StopIteration", "")
			}
			return v, nil
		}),
	} {
		b.SetStr(fn.Name, fn)
	}
	return b
}

// registerModules installs the modules that import statements can reach.
func (vm *VM) registerModules() {
	m := &Module{Name: config.FutureModuleName, Dict: NewDict()}
	for _, name := range config.SelectableFeatures {
		flags := future.MustFromNames(name)
		m.Dict.SetStr(name, int64(flags))
	}
	vm.modules[m.Name] = m
}

func builtinLen(vm *VM, args []Value) (Value, error) {
	switch o := args[0].(type) {
	case string:
		return int64(len(o)), nil
	case *Tuple:
		return int64(len(o.Items)), nil
	case *List:
		return int64(len(o.Items)), nil
	case *Dict:
		return int64(o.Len()), nil
	case *Instance:
		if m, err := vm.getAttr(o, "__len__"); err == nil {
			return vm.call(m, nil, nil)
		}
	}
	return nil, newException("TypeError", "object of type '%s' has no len()", typeName(args[0]))
}

func builtinRange(vm *VM, args []Value) (Value, error) {
	bounds := make([]int, len(args))
	for i, a := range args {
		n, ok := index(a)
		if !ok {
			return nil, newException("TypeError", "range() integer argument expected, got %s", typeName(a))
		}
		bounds[i] = n
	}
	start, stop, step := 0, 0, 1
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	default:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	}
	if step == 0 {
		return nil, newException("ValueError", "range() step argument must not be zero")
	}
	out := &List{}
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out.Items = append(out.Items, int64(i))
	}
	return out, nil
}

func builtinDict(vm *VM, args []Value, kwargs *Dict) (Value, error) {
	if len(args) > 1 {
		return nil, newException("TypeError", "dict expected at most 1 arguments, got %d", len(args))
	}
	d := NewDict()
	if len(args) == 1 {
		if src, ok := args[0].(*Dict); ok {
			for _, kv := range src.Items() {
				_ = d.Set(kv[0], kv[1])
			}
		} else {
			items, err := vm.sequence(args[0])
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				pair, err := vm.sequence(it)
				if err != nil {
					return nil, err
				}
				if len(pair) != 2 {
					return nil, newException("ValueError", "dictionary update sequence element has length %d; 2 is required", len(pair))
				}
				if err := d.Set(pair[0], pair[1]); err != nil {
					return nil, newException("TypeError", "%s", err)
				}
			}
		}
	}
	if kwargs != nil {
		for _, kv := range kwargs.Items() {
			_ = d.Set(kv[0], kv[1])
		}
	}
	return d, nil
}

func builtinInt(vm *VM, args []Value) (Value, error) {
	if len(args) == 0 {
		return int64(0), nil
	}
	switch x := args[0].(type) {
	case bool, int64, *big.Int:
		n, _ := toNumber(x)
		return n, nil
	case float64:
		if x >= -9.2e18 && x <= 9.2e18 {
			return int64(x), nil
		}
		r, _ := big.NewFloat(x).Int(nil)
		return r, nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if r, ok := new(big.Int).SetString(s, 10); ok {
			return r, nil
		}
		return nil, newException("ValueError", "invalid literal for int() with base 10: %s", repr(x))
	}
	return nil, newException("TypeError", "int() argument must be a string or a number, not '%s'", typeName(args[0]))
}

func builtinFloat(vm *VM, args []Value) (Value, error) {
	if len(args) == 0 {
		return 0.0, nil
	}
	if s, ok := args[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, newException("ValueError", "invalid literal for float(): %s", s)
		}
		return f, nil
	}
	n, ok := toNumber(args[0])
	if !ok || numKind(n) == kindComplex {
		return nil, newException("TypeError", "float() argument must be a string or a number")
	}
	return toFloat(n), nil
}

func (vm *VM) extreme(name string, args []Value, sign int) (Value, error) {
	items := args
	if len(args) == 1 {
		var err error
		if items, err = vm.sequence(args[0]); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return nil, newException("ValueError", "%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, it := range items[1:] {
		c, err := order(it, best)
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best = it
		}
	}
	return best, nil
}

func sortItems(items []Value) error {
	var err error
	sort.SliceStable(items, func(i, j int) bool {
		c, e := order(items[i], items[j])
		if e != nil && err == nil {
			err = e
		}
		return c < 0
	})
	return err
}

func classOf(v Value) *Class {
	if inst, ok := v.(*Instance); ok {
		return inst.Class
	}
	return nil
}

func isInstance(v, classinfo Value) (Value, error) {
	if c := classOf(v); c != nil {
		return classMatch(c, classinfo)
	}
	if classinfo == objectClass {
		return true, nil
	}
	switch t := classinfo.(type) {
	case *Builtin:
		return typeName(v) == t.Name, nil
	case *Tuple:
		for _, s := range t.Items {
			m, err := isInstance(v, s)
			if err != nil || m.(bool) {
				return m, err
			}
		}
		return false, nil
	case *Class:
		return false, nil
	}
	return nil, newException("TypeError", "isinstance() arg 2 must be a class, type, or tuple of classes and types")
}

func classMatch(c *Class, classinfo Value) (Value, error) {
	switch t := classinfo.(type) {
	case *Class:
		return t == objectClass || c.IsSubclass(t), nil
	case *Tuple:
		for _, s := range t.Items {
			m, err := classMatch(c, s)
			if err != nil || m.(bool) {
				return m, err
			}
		}
		return false, nil
	case *Builtin:
		return false, nil
	}
	return nil, newException("TypeError", "issubclass() arg 2 must be a class or tuple of classes")
}

// Methods of builtin types. The receiver is args[0].

func methodFor(obj Value, name string) (*Builtin, bool) {
	var table map[string]builtinFn
	switch obj.(type) {
	case *List:
		table = listMethods
	case *Tuple:
		table = tupleMethods
	case *Dict:
		table = dictMethods
	case string:
		table = strMethods
	case *Generator:
		table = generatorMethods
	default:
		return nil, false
	}
	fn, ok := table[name]
	if !ok {
		return nil, false
	}
	return builtin(name, fn), true
}

func method(name string, min, max int, fn func(vm *VM, self Value, args []Value) (Value, error)) builtinFn {
	return func(vm *VM, args []Value, kwargs *Dict) (Value, error) {
		if err := checkArgs(name, args[1:], kwargs, min, max); err != nil {
			return nil, err
		}
		return fn(vm, args[0], args[1:])
	}
}

func seqIndex(items []Value, v Value) (Value, error) {
	for i, it := range items {
		if equal(it, v) {
			return int64(i), nil
		}
	}
	return nil, newException("ValueError", "%s is not in list", repr(v))
}

func seqCount(items []Value, v Value) Value {
	n := int64(0)
	for _, it := range items {
		if equal(it, v) {
			n++
		}
	}
	return n
}

var listMethods map[string]builtinFn
var tupleMethods map[string]builtinFn
var dictMethods map[string]builtinFn
var strMethods map[string]builtinFn
var generatorMethods map[string]builtinFn

func init() {
	listMethods = map[string]builtinFn{
		"append": method("append", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			l := self.(*List)
			l.Items = append(l.Items, args[0])
			return nil, nil
		}),
		"extend": method("extend", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			_, err := vm.inplaceOp(BinAdd, self, args[0])
			return nil, err
		}),
		"insert": method("insert", 2, 2, func(vm *VM, self Value, args []Value) (Value, error) {
			l := self.(*List)
			i, ok := index(args[0])
			if !ok {
				return nil, newException("TypeError", "an integer is required")
			}
			if i < 0 {
				i += len(l.Items)
			}
			if i < 0 {
				i = 0
			}
			if i > len(l.Items) {
				i = len(l.Items)
			}
			l.Items = append(l.Items[:i], append([]Value{args[1]}, l.Items[i:]...)...)
			return nil, nil
		}),
		"pop": method("pop", 0, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			l := self.(*List)
			if len(l.Items) == 0 {
				return nil, newException("IndexError", "pop from empty list")
			}
			var key Value = int64(-1)
			if len(args) == 1 {
				key = args[0]
			}
			i, err := normIndex(key, len(l.Items), "pop")
			if err != nil {
				return nil, err
			}
			v := l.Items[i]
			l.Items = concat(l.Items[:i:i], l.Items[i+1:])
			return v, nil
		}),
		"remove": method("remove", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			l := self.(*List)
			i, err := seqIndex(l.Items, args[0])
			if err != nil {
				return nil, newException("ValueError", "list.remove(x): x not in list")
			}
			n := int(i.(int64))
			l.Items = concat(l.Items[:n:n], l.Items[n+1:])
			return nil, nil
		}),
		"index": method("index", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			return seqIndex(self.(*List).Items, args[0])
		}),
		"count": method("count", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			return seqCount(self.(*List).Items, args[0]), nil
		}),
		"reverse": method("reverse", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			items := self.(*List).Items
			for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
				items[i], items[j] = items[j], items[i]
			}
			return nil, nil
		}),
		"sort": method("sort", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			return nil, sortItems(self.(*List).Items)
		}),
	}

	tupleMethods = map[string]builtinFn{
		"index": method("index", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			return seqIndex(self.(*Tuple).Items, args[0])
		}),
		"count": method("count", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			return seqCount(self.(*Tuple).Items, args[0]), nil
		}),
	}

	dictMethods = map[string]builtinFn{
		"keys": method("keys", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			return &List{Items: self.(*Dict).Keys()}, nil
		}),
		"values": method("values", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			out := &List{}
			for _, kv := range self.(*Dict).Items() {
				out.Items = append(out.Items, kv[1])
			}
			return out, nil
		}),
		"items": method("items", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			out := &List{}
			for _, kv := range self.(*Dict).Items() {
				out.Items = append(out.Items, &Tuple{Items: []Value{kv[0], kv[1]}})
			}
			return out, nil
		}),
		"get": method("get", 1, 2, func(vm *VM, self Value, args []Value) (Value, error) {
			v, found, err := self.(*Dict).Get(args[0])
			if err != nil {
				return nil, newException("TypeError", "%s", err)
			}
			if !found && len(args) == 2 {
				return args[1], nil
			}
			return v, nil
		}),
		"has_key": method("has_key", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			return vm.contains(self, args[0])
		}),
		"setdefault": method("setdefault", 1, 2, func(vm *VM, self Value, args []Value) (Value, error) {
			d := self.(*Dict)
			v, found, err := d.Get(args[0])
			if err != nil {
				return nil, newException("TypeError", "%s", err)
			}
			if found {
				return v, nil
			}
			var def Value
			if len(args) == 2 {
				def = args[1]
			}
			return def, d.Set(args[0], def)
		}),
		"pop": method("pop", 1, 2, func(vm *VM, self Value, args []Value) (Value, error) {
			d := self.(*Dict)
			v, found, err := d.Get(args[0])
			if err != nil {
				return nil, newException("TypeError", "%s", err)
			}
			if !found {
				if len(args) == 2 {
					return args[1], nil
				}
				return nil, newException("KeyError", "%s", repr(args[0]))
			}
			_, _ = d.Delete(args[0])
			return v, nil
		}),
		"update": method("update", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			src, ok := args[0].(*Dict)
			if !ok {
				return nil, newException("TypeError", "update() argument must be a dict")
			}
			for _, kv := range src.Items() {
				_ = self.(*Dict).Set(kv[0], kv[1])
			}
			return nil, nil
		}),
	}

	strMethods = map[string]builtinFn{
		"join": method("join", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			items, err := vm.sequence(args[0])
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(items))
			for i, it := range items {
				s, ok := it.(string)
				if !ok {
					return nil, newException("TypeError", "sequence item %d: expected string, %s found", i, typeName(it))
				}
				parts[i] = s
			}
			return strings.Join(parts, self.(string)), nil
		}),
		"split": method("split", 0, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			var parts []string
			if len(args) == 0 || args[0] == nil {
				parts = strings.Fields(self.(string))
			} else {
				sep, ok := args[0].(string)
				if !ok || sep == "" {
					return nil, newException("ValueError", "empty separator")
				}
				parts = strings.Split(self.(string), sep)
			}
			out := &List{}
			for _, p := range parts {
				out.Items = append(out.Items, p)
			}
			return out, nil
		}),
		"strip": method("strip", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			return strings.TrimSpace(self.(string)), nil
		}),
		"upper": method("upper", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			return strings.ToUpper(self.(string)), nil
		}),
		"lower": method("lower", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			return strings.ToLower(self.(string)), nil
		}),
		"startswith": method("startswith", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			p, _ := args[0].(string)
			return strings.HasPrefix(self.(string), p), nil
		}),
		"endswith": method("endswith", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			p, _ := args[0].(string)
			return strings.HasSuffix(self.(string), p), nil
		}),
		"replace": method("replace", 2, 2, func(vm *VM, self Value, args []Value) (Value, error) {
			old, _ := args[0].(string)
			repl, _ := args[1].(string)
			return strings.ReplaceAll(self.(string), old, repl), nil
		}),
		"find": method("find", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			sub, _ := args[0].(string)
			return int64(strings.Index(self.(string), sub)), nil
		}),
	}

	generatorMethods = map[string]builtinFn{
		"next": method("next", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			return generatorStep(vm, self.(*Generator), nil)
		}),
		"send": method("send", 1, 1, func(vm *VM, self Value, args []Value) (Value, error) {
			return generatorStep(vm, self.(*Generator), args[0])
		}),
		"close": method("close", 0, 0, func(vm *VM, self Value, args []Value) (Value, error) {
			self.(*Generator).done = true
			return nil, nil
		}),
	}
}

func generatorStep(vm *VM, g *Generator, sent Value) (Value, error) {
	v, ok, err := vm.resume(g, sent)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newException("StopIteration", "")
	}
	return v, nil
}
