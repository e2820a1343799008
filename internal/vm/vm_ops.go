package vm

import (
	"math"
	"math/big"
	"math/cmplx"
	"strconv"
	"strings"
)

// Numeric tower, lowest first.
const (
	kindInt = iota
	kindLong
	kindFloat
	kindComplex
)

// toNumber returns v as a numeric value, with booleans as ints.
func toNumber(v Value) (Value, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case int64, *big.Int, float64, complex128:
		return x, true
	}
	return nil, false
}

func numKind(v Value) int {
	switch v.(type) {
	case *big.Int:
		return kindLong
	case float64:
		return kindFloat
	case complex128:
		return kindComplex
	}
	return kindInt
}

func toBig(v Value) *big.Int {
	switch x := v.(type) {
	case int64:
		return big.NewInt(x)
	case *big.Int:
		return x
	}
	return new(big.Int)
}

func toFloat(v Value) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case float64:
		return x
	}
	return 0
}

func toComplex(v Value) complex128 {
	if c, ok := v.(complex128); ok {
		return c
	}
	return complex(toFloat(v), 0)
}

// intResult narrows a big result to int64 when both operands were ints.
func intResult(r *big.Int, kind int) Value {
	if kind == kindInt && r.IsInt64() {
		return r.Int64()
	}
	return r
}

func numEqual(a, b Value) bool {
	kind := numKind(a)
	if k := numKind(b); k > kind {
		kind = k
	}
	switch kind {
	case kindInt, kindLong:
		return toBig(a).Cmp(toBig(b)) == 0
	case kindFloat:
		return toFloat(a) == toFloat(b)
	}
	return toComplex(a) == toComplex(b)
}

func numCompare(a, b Value) (int, error) {
	kind := numKind(a)
	if k := numKind(b); k > kind {
		kind = k
	}
	switch kind {
	case kindInt, kindLong:
		return toBig(a).Cmp(toBig(b)), nil
	case kindFloat:
		x, y := toFloat(a), toFloat(b)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	return 0, newException("TypeError", "no ordering relation is defined for complex numbers")
}

func binaryOp(op int, a, b Value) (Value, error) {
	if op == BinTrueDiv || op == BinDiv || op == BinFloorDiv || op == BinMod {
		if na, ok := toNumber(a); ok {
			if nb, ok := toNumber(b); ok {
				return numericOp(op, na, nb)
			}
		}
	}
	switch op {
	case BinAdd:
		switch x := a.(type) {
		case string:
			if y, ok := b.(string); ok {
				return x + y, nil
			}
		case *Tuple:
			if y, ok := b.(*Tuple); ok {
				return &Tuple{Items: concat(x.Items, y.Items)}, nil
			}
		case *List:
			if y, ok := b.(*List); ok {
				return &List{Items: concat(x.Items, y.Items)}, nil
			}
		}
	case BinMul:
		if n, ok := b.(int64); ok {
			if v, ok := repeat(a, n); ok {
				return v, nil
			}
		}
		if n, ok := a.(int64); ok {
			if v, ok := repeat(b, n); ok {
				return v, nil
			}
		}
	case BinMod:
		if f, ok := a.(string); ok {
			return formatString(f, b)
		}
	}
	na, okA := toNumber(a)
	nb, okB := toNumber(b)
	if !okA || !okB {
		return nil, unsupported(op, a, b)
	}
	return numericOp(op, na, nb)
}

func (vm *VM) inplaceOp(op int, a, b Value) (Value, error) {
	if l, ok := a.(*List); ok {
		switch op {
		case BinAdd:
			items, err := vm.sequence(b)
			if err != nil {
				return nil, err
			}
			l.Items = append(l.Items, items...)
			return l, nil
		case BinMul:
			if n, ok := b.(int64); ok {
				v, _ := repeat(l, n)
				l.Items = v.(*List).Items
				return l, nil
			}
		}
	}
	return binaryOp(op, a, b)
}

func unsupported(op int, a, b Value) error {
	return newException("TypeError", "unsupported operand type(s) for %s: '%s' and '%s'", BinaryOps[op], typeName(a), typeName(b))
}

func concat(a, b []Value) []Value {
	out := make([]Value, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func repeat(v Value, n int64) (Value, bool) {
	if n < 0 {
		n = 0
	}
	switch x := v.(type) {
	case string:
		return strings.Repeat(x, int(n)), true
	case *Tuple:
		return &Tuple{Items: repeatItems(x.Items, n)}, true
	case *List:
		return &List{Items: repeatItems(x.Items, n)}, true
	}
	return nil, false
}

func repeatItems(items []Value, n int64) []Value {
	out := make([]Value, 0, len(items)*int(n))
	for i := int64(0); i < n; i++ {
		out = append(out, items...)
	}
	return out
}

func numericOp(op int, a, b Value) (Value, error) {
	kind := numKind(a)
	if k := numKind(b); k > kind {
		kind = k
	}
	switch kind {
	case kindInt, kindLong:
		return integerOp(op, toBig(a), toBig(b), kind)
	case kindFloat:
		return floatOp(op, toFloat(a), toFloat(b))
	}
	return complexOp(op, toComplex(a), toComplex(b))
}

func integerOp(op int, x, y *big.Int, kind int) (Value, error) {
	r := new(big.Int)
	switch op {
	case BinAdd:
		r.Add(x, y)
	case BinSub:
		r.Sub(x, y)
	case BinMul:
		r.Mul(x, y)
	case BinDiv, BinFloorDiv, BinMod:
		if y.Sign() == 0 {
			return nil, newException("ZeroDivisionError", "integer division or modulo by zero")
		}
		q, m := new(big.Int).QuoRem(x, y, new(big.Int))
		if m.Sign() != 0 && m.Sign() != y.Sign() {
			q.Sub(q, big.NewInt(1))
			m.Add(m, y)
		}
		if op == BinMod {
			return intResult(m, kind), nil
		}
		return intResult(q, kind), nil
	case BinTrueDiv:
		if y.Sign() == 0 {
			return nil, newException("ZeroDivisionError", "division by zero")
		}
		f, _ := new(big.Rat).SetFrac(x, y).Float64()
		return f, nil
	case BinPow:
		if y.Sign() < 0 {
			return floatOp(op, toFloat(x), toFloat(y))
		}
		r.Exp(x, y, nil)
	case BinLShift, BinRShift:
		if y.Sign() < 0 {
			return nil, newException("ValueError", "negative shift count")
		}
		if !y.IsInt64() || y.Int64() > math.MaxInt32 {
			return nil, newException("OverflowError", "shift count too large")
		}
		if op == BinLShift {
			r.Lsh(x, uint(y.Int64()))
		} else {
			r.Rsh(x, uint(y.Int64()))
		}
	case BinOr:
		r.Or(x, y)
	case BinXor:
		r.Xor(x, y)
	case BinAnd:
		r.And(x, y)
	default:
		return nil, unsupported(op, x, y)
	}
	return intResult(r, kind), nil
}

func floatOp(op int, x, y float64) (Value, error) {
	switch op {
	case BinAdd:
		return x + y, nil
	case BinSub:
		return x - y, nil
	case BinMul:
		return x * y, nil
	case BinDiv, BinTrueDiv:
		if y == 0 {
			return nil, newException("ZeroDivisionError", "float division")
		}
		return x / y, nil
	case BinFloorDiv:
		if y == 0 {
			return nil, newException("ZeroDivisionError", "float divmod()")
		}
		return math.Floor(x / y), nil
	case BinMod:
		if y == 0 {
			return nil, newException("ZeroDivisionError", "float modulo")
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return m, nil
	case BinPow:
		if x < 0 && y != math.Trunc(y) {
			return nil, newException("ValueError", "negative number cannot be raised to a fractional power")
		}
		if x == 0 && y < 0 {
			return nil, newException("ZeroDivisionError", "0.0 cannot be raised to a negative power")
		}
		return math.Pow(x, y), nil
	}
	return nil, unsupported(op, x, y)
}

func complexOp(op int, x, y complex128) (Value, error) {
	switch op {
	case BinAdd:
		return x + y, nil
	case BinSub:
		return x - y, nil
	case BinMul:
		return x * y, nil
	case BinDiv, BinTrueDiv:
		if y == 0 {
			return nil, newException("ZeroDivisionError", "complex division")
		}
		return x / y, nil
	case BinPow:
		if x == 0 && (real(y) < 0 || imag(y) != 0) {
			return nil, newException("ZeroDivisionError", "0.0 to a negative or complex power")
		}
		return cmplx.Pow(x, y), nil
	}
	return nil, unsupported(op, x, y)
}

func unaryOp(op int, v Value) (Value, error) {
	switch op {
	case UnaryNot:
		return !truthy(v), nil
	case UnaryRepr:
		return repr(v), nil
	}
	n, ok := toNumber(v)
	if !ok {
		return nil, newException("TypeError", "bad operand type for unary %s: '%s'", UnaryOps[op], typeName(v))
	}
	switch op {
	case UnaryPos:
		return n, nil
	case UnaryNeg:
		switch x := n.(type) {
		case int64:
			if x == math.MinInt64 {
				return new(big.Int).Neg(big.NewInt(x)), nil
			}
			return -x, nil
		case *big.Int:
			return new(big.Int).Neg(x), nil
		case float64:
			return -x, nil
		case complex128:
			return -x, nil
		}
	case UnaryInvert:
		switch x := n.(type) {
		case int64:
			return ^x, nil
		case *big.Int:
			return new(big.Int).Not(x), nil
		}
	}
	return nil, newException("TypeError", "bad operand type for unary %s: '%s'", UnaryOps[op], typeName(v))
}

func (vm *VM) compareOp(op int, a, b Value) (Value, error) {
	switch op {
	case CmpEq:
		return equal(a, b), nil
	case CmpNe:
		return !equal(a, b), nil
	case CmpIs:
		return identical(a, b), nil
	case CmpIsNot:
		return !identical(a, b), nil
	case CmpIn, CmpNotIn:
		found, err := vm.contains(b, a)
		if err != nil {
			return nil, err
		}
		return found == (op == CmpIn), nil
	case CmpExcMatch:
		return excMatch(a, b)
	}
	c, err := order(a, b)
	if err != nil {
		return nil, err
	}
	switch op {
	case CmpLt:
		return c < 0, nil
	case CmpLe:
		return c <= 0, nil
	case CmpGt:
		return c > 0, nil
	}
	return c >= 0, nil
}

func identical(a, b Value) bool { return a == b }

// order compares a and b, returning -1, 0 or 1.
func order(a, b Value) (int, error) {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return numCompare(na, nb)
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case *Tuple:
		if y, ok := b.(*Tuple); ok {
			return orderItems(x.Items, y.Items)
		}
	case *List:
		if y, ok := b.(*List); ok {
			return orderItems(x.Items, y.Items)
		}
	}
	return 0, newException("TypeError", "unorderable types: %s and %s", typeName(a), typeName(b))
}

func orderItems(a, b []Value) (int, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if equal(a[i], b[i]) {
			continue
		}
		return order(a[i], b[i])
	}
	switch {
	case len(a) < len(b):
		return -1, nil
	case len(a) > len(b):
		return 1, nil
	}
	return 0, nil
}

func (vm *VM) contains(container, item Value) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, newException("TypeError", "'in <string>' requires string as left operand")
		}
		return strings.Contains(c, s), nil
	case *Dict:
		_, found, err := c.Get(item)
		if err != nil {
			return false, newException("TypeError", "%s", err)
		}
		return found, nil
	}
	items, err := vm.sequence(container)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if equal(it, item) {
			return true, nil
		}
	}
	return false, nil
}

// excMatch reports whether exception instance a matches the class or tuple
// of classes b of an except clause.
func excMatch(a, b Value) (Value, error) {
	inst, ok := a.(*Instance)
	if !ok {
		return false, nil
	}
	switch t := b.(type) {
	case *Class:
		return inst.Class.IsSubclass(t), nil
	case *Tuple:
		for _, it := range t.Items {
			m, err := excMatch(a, it)
			if err != nil {
				return nil, err
			}
			if m.(bool) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, newException("TypeError", "catching %s is not allowed", typeName(b))
}

// formatString implements the % operator on strings for the s, r, d, i, f
// and % conversions.
func formatString(format string, args Value) (Value, error) {
	var items []Value
	if t, ok := args.(*Tuple); ok {
		items = t.Items
	} else {
		items = []Value{args}
	}
	var sb strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' {
			sb.WriteByte(ch)
			continue
		}
		i++
		if i >= len(format) {
			return nil, newException("ValueError", "incomplete format")
		}
		conv := format[i]
		if conv == '%' {
			sb.WriteByte('%')
			continue
		}
		if next >= len(items) {
			return nil, newException("TypeError", "not enough arguments for format string")
		}
		arg := items[next]
		next++
		switch conv {
		case 's':
			sb.WriteString(str(arg))
		case 'r':
			sb.WriteString(repr(arg))
		case 'd', 'i':
			n, ok := toNumber(arg)
			if !ok {
				return nil, newException("TypeError", "%%%c format: a number is required, not %s", conv, typeName(arg))
			}
			if f, ok := n.(float64); ok {
				n = int64(f)
			}
			sb.WriteString(strings.TrimSuffix(repr(n), "L"))
		case 'f':
			n, ok := toNumber(arg)
			if !ok {
				return nil, newException("TypeError", "float argument required, not %s", typeName(arg))
			}
			sb.WriteString(strconv.FormatFloat(toFloat(n), 'f', 6, 64))
		default:
			return nil, newException("ValueError", "unsupported format character '%c'", conv)
		}
	}
	if next < len(items) {
		return nil, newException("TypeError", "not all arguments converted during string formatting")
	}
	return sb.String(), nil
}
