package vm

import (
	"io"
)

func (vm *VM) constant(frame *Frame, i int) Value {
	return frame.code.Constants[i]
}

func (vm *VM) name(frame *Frame, i int) string { return frame.code.Names[i] }

// step executes one instruction. done reports that the frame returned or
// yielded result.
func (vm *VM) step(frame *Frame, ins Instruction) (result Value, done bool, err error) {
	switch ins.Op {
	case OP_NOP:

	case OP_POP:
		frame.pop()
	case OP_DUP:
		frame.push(frame.top())
	case OP_ROT_TWO:
		b, a := frame.pop(), frame.pop()
		frame.push(b)
		frame.push(a)
	case OP_ROT_THREE:
		c, b, a := frame.pop(), frame.pop(), frame.pop()
		frame.push(c)
		frame.push(a)
		frame.push(b)

	case OP_LOAD_CONST:
		frame.push(vm.constant(frame, ins.A))

	case OP_LOAD_NAME:
		name := vm.name(frame, ins.A)
		if v, ok := frame.locals.GetStr(name); ok {
			frame.push(v)
			break
		}
		v, err := vm.loadGlobal(frame, name)
		if err != nil {
			return nil, false, err
		}
		frame.push(v)
	case OP_STORE_NAME:
		frame.locals.SetStr(vm.name(frame, ins.A), frame.pop())
	case OP_DELETE_NAME:
		name := vm.name(frame, ins.A)
		if ok, _ := frame.locals.Delete(name); !ok {
			return nil, false, newException("NameError", "name '%s' is not defined", name)
		}

	case OP_LOAD_GLOBAL:
		v, err := vm.loadGlobal(frame, vm.name(frame, ins.A))
		if err != nil {
			return nil, false, err
		}
		frame.push(v)
	case OP_STORE_GLOBAL:
		frame.globals.SetStr(vm.name(frame, ins.A), frame.pop())
	case OP_DELETE_GLOBAL:
		name := vm.name(frame, ins.A)
		if ok, _ := frame.globals.Delete(name); !ok {
			return nil, false, newException("NameError", "global name '%s' is not defined", name)
		}

	case OP_LOAD_FAST:
		v := frame.slots[ins.A]
		if v == unbound {
			return nil, false, newException("UnboundLocalError", "local variable '%s' referenced before assignment", slotName(frame.code, ins.A))
		}
		frame.push(v)
	case OP_STORE_FAST:
		frame.slots[ins.A] = frame.pop()
	case OP_DELETE_FAST:
		if frame.slots[ins.A] == unbound {
			return nil, false, newException("UnboundLocalError", "local variable '%s' referenced before assignment", slotName(frame.code, ins.A))
		}
		frame.slots[ins.A] = unbound

	case OP_LOAD_DEREF:
		v := frame.env[ins.A].Value
		if v == unbound {
			return nil, false, newException("NameError", "free variable '%s' referenced before assignment in enclosing scope", envName(frame.code, ins.A))
		}
		frame.push(v)
	case OP_STORE_DEREF:
		frame.env[ins.A].Value = frame.pop()
	case OP_LOAD_CLOSURE:
		f := frame
		for i := 0; i < ins.A; i++ {
			f = f.back
		}
		frame.push(f.env[ins.B])
	case OP_LOAD_LOCALS:
		frame.push(frame.locals)

	case OP_LOAD_ATTR:
		v, err := vm.getAttr(frame.pop(), vm.name(frame, ins.A))
		if err != nil {
			return nil, false, err
		}
		frame.push(v)
	case OP_STORE_ATTR:
		obj, value := frame.pop(), frame.pop()
		if err := vm.setAttr(obj, vm.name(frame, ins.A), value); err != nil {
			return nil, false, err
		}
	case OP_DELETE_ATTR:
		if err := vm.delAttr(frame.pop(), vm.name(frame, ins.A)); err != nil {
			return nil, false, err
		}

	case OP_BINARY_SUBSCR:
		key, obj := frame.pop(), frame.pop()
		v, err := vm.getItem(obj, key)
		if err != nil {
			return nil, false, err
		}
		frame.push(v)
	case OP_STORE_SUBSCR:
		key, obj, value := frame.pop(), frame.pop(), frame.pop()
		if err := vm.setItem(obj, key, value); err != nil {
			return nil, false, err
		}
	case OP_DELETE_SUBSCR:
		key, obj := frame.pop(), frame.pop()
		if err := vm.delItem(obj, key); err != nil {
			return nil, false, err
		}
	case OP_BUILD_SLICE:
		parts := frame.popN(ins.A)
		s := &SliceObj{Lower: parts[0], Upper: parts[1]}
		if ins.A == 3 {
			s.Step = parts[2]
		}
		frame.push(s)

	case OP_BINARY_OP:
		b, a := frame.pop(), frame.pop()
		v, err := binaryOp(ins.A, a, b)
		if err != nil {
			return nil, false, err
		}
		frame.push(v)
	case OP_INPLACE_OP:
		b, a := frame.pop(), frame.pop()
		v, err := vm.inplaceOp(ins.A, a, b)
		if err != nil {
			return nil, false, err
		}
		frame.push(v)
	case OP_UNARY_OP:
		v, err := unaryOp(ins.A, frame.pop())
		if err != nil {
			return nil, false, err
		}
		frame.push(v)
	case OP_COMPARE_OP:
		b, a := frame.pop(), frame.pop()
		v, err := vm.compareOp(ins.A, a, b)
		if err != nil {
			return nil, false, err
		}
		frame.push(v)

	case OP_BUILD_TUPLE:
		frame.push(&Tuple{Items: frame.popN(ins.A)})
	case OP_BUILD_LIST:
		frame.push(&List{Items: frame.popN(ins.A)})
	case OP_BUILD_MAP:
		items := frame.popN(2 * ins.A)
		d := NewDict()
		for i := 0; i < len(items); i += 2 {
			if err := d.Set(items[i], items[i+1]); err != nil {
				return nil, false, newException("TypeError", "%s", err)
			}
		}
		frame.push(d)
	case OP_UNPACK_SEQUENCE:
		items, err := vm.sequence(frame.pop())
		if err != nil {
			return nil, false, err
		}
		if len(items) != ins.A {
			if len(items) > ins.A {
				return nil, false, newException("ValueError", "too many values to unpack")
			}
			return nil, false, newException("ValueError", "need more than %d values to unpack", len(items))
		}
		for i := len(items) - 1; i >= 0; i-- {
			frame.push(items[i])
		}

	case OP_JUMP:
		frame.ip = ins.A
	case OP_POP_JUMP_IF_FALSE:
		if !truthy(frame.pop()) {
			frame.ip = ins.A
		}
	case OP_POP_JUMP_IF_TRUE:
		if truthy(frame.pop()) {
			frame.ip = ins.A
		}
	case OP_GET_ITER:
		it, err := vm.iter(frame.pop())
		if err != nil {
			return nil, false, err
		}
		frame.push(it)
	case OP_FOR_ITER:
		v, ok, err := vm.next(frame.slots[ins.A])
		if err != nil {
			return nil, false, err
		}
		if !ok {
			frame.ip = ins.B
			break
		}
		frame.push(v)

	case OP_MAKE_FUNCTION:
		code := frame.pop().(*CodeUnit)
		frame.push(&Function{Name: code.Name, Code: code, Globals: frame.globals, Defaults: frame.popN(ins.A)})
	case OP_MAKE_CLOSURE:
		code := frame.pop().(*CodeUnit)
		cells := frame.pop().(*Tuple)
		closure := make([]*Cell, len(cells.Items))
		for i, c := range cells.Items {
			closure[i] = c.(*Cell)
		}
		frame.push(&Function{Name: code.Name, Code: code, Globals: frame.globals, Defaults: frame.popN(ins.A), Closure: closure})

	case OP_CALL_FUNCTION, OP_CALL_FUNCTION_VAR, OP_CALL_FUNCTION_KW, OP_CALL_FUNCTION_VAR_KW:
		v, err := vm.callFromStack(frame, ins)
		if err != nil {
			return nil, false, err
		}
		frame.push(v)

	case OP_RETURN_VALUE:
		v := frame.pop()
		if frame.gen != nil {
			return nil, true, nil
		}
		return v, true, nil

	case OP_BUILD_CLASS:
		ns, bases, name := frame.pop(), frame.pop(), frame.pop()
		cls, err := buildClass(name, bases, ns)
		if err != nil {
			return nil, false, err
		}
		frame.push(cls)

	case OP_RAISE_VARARGS:
		return nil, false, vm.raise(frame.popN(ins.A))
	case OP_RERAISE:
		exc, ok := frame.pop().(*Instance)
		if !ok {
			return nil, false, newException("TypeError", "exceptions must be instances")
		}
		return nil, false, &PyError{Exc: exc}
	case OP_UNPACK_EXCEPTION:
		exc := frame.pop().(*Instance)
		frame.push(exc.Class)
		frame.push(exc)
		frame.push(nil)

	case OP_PRINT_ITEM:
		if err := vm.printItem(nil, frame.pop()); err != nil {
			return nil, false, err
		}
	case OP_PRINT_ITEM_TO:
		dest, v := frame.pop(), frame.pop()
		if err := vm.printItem(dest, v); err != nil {
			return nil, false, err
		}
	case OP_PRINT_NEWLINE:
		if err := vm.printNewline(nil); err != nil {
			return nil, false, err
		}
	case OP_PRINT_NEWLINE_TO:
		if err := vm.printNewline(frame.pop()); err != nil {
			return nil, false, err
		}
	case OP_PRINT_EXPR:
		v := frame.pop()
		if v != nil {
			if err := vm.write(nil, repr(v)+"\n"); err != nil {
				return nil, false, err
			}
			vm.builtins.SetStr("_", v)
		}
	case OP_EXEC_STMT:
		frame.popN(3)
		return nil, false, newException("TypeError", "exec of dynamic code is not supported")

	case OP_IMPORT_NAME:
		m, err := vm.importModule(vm.name(frame, ins.A))
		if err != nil {
			return nil, false, err
		}
		frame.push(m)
	case OP_IMPORT_FROM:
		name := vm.name(frame, ins.A)
		v, err := vm.getAttr(frame.top(), name)
		if err != nil {
			return nil, false, newException("ImportError", "cannot import name %s", name)
		}
		frame.push(v)
	case OP_IMPORT_STAR:
		m, ok := frame.pop().(*Module)
		if !ok {
			return nil, false, newException("ImportError", "import * from a non-module")
		}
		for _, kv := range m.Dict.Items() {
			if k, ok := kv[0].(string); ok && (k == "" || k[0] != '_') {
				frame.locals.SetStr(k, kv[1])
			}
		}

	case OP_RESUME_JUMP:
		if frame.gen != nil && frame.gen.resume == ins.A {
			frame.ip = ins.B
		}
	case OP_SAVE_LOCALS:
		frame.gen.saved = append(frame.gen.saved[:0], frame.slots...)
	case OP_RESTORE_LOCALS:
		copy(frame.slots, frame.gen.saved)
	case OP_YIELD_VALUE:
		frame.gen.resume = ins.A
		frame.yielded = true
		return frame.pop(), true, nil
	case OP_LOAD_SENT:
		frame.push(frame.gen.sent)

	default:
		return nil, false, newException("RuntimeError", "unknown opcode %d", ins.Op)
	}
	return nil, false, nil
}

func slotName(code *CodeUnit, i int) string {
	if i < len(code.LocalNames) {
		return code.LocalNames[i]
	}
	return "<tmp>"
}

func (vm *VM) loadGlobal(frame *Frame, name string) (Value, error) {
	if v, ok := frame.globals.GetStr(name); ok {
		return v, nil
	}
	if v, ok := vm.builtins.GetStr(name); ok {
		return v, nil
	}
	return nil, newException("NameError", "name '%s' is not defined", name)
}

// raise builds the exception of a raise statement from its operands.
func (vm *VM) raise(args []Value) error {
	if len(args) == 0 {
		if vm.handling == nil {
			return newException("TypeError", "exceptions must be classes or instances, not NoneType")
		}
		return &PyError{Exc: vm.handling.Exc}
	}
	var value Value
	if len(args) > 1 {
		value = args[1]
	}
	switch t := args[0].(type) {
	case *Instance:
		if value != nil {
			return newException("TypeError", "instance exception may not have a separate value")
		}
		return &PyError{Exc: t}
	case *Class:
		if inst, ok := value.(*Instance); ok && inst.Class.IsSubclass(t) {
			return &PyError{Exc: inst}
		}
		var ctorArgs []Value
		switch v := value.(type) {
		case nil:
		case *Tuple:
			ctorArgs = v.Items
		default:
			ctorArgs = []Value{v}
		}
		exc, err := vm.call(t, ctorArgs, nil)
		if err != nil {
			return err
		}
		inst, ok := exc.(*Instance)
		if !ok {
			return newException("TypeError", "exceptions must derive from BaseException")
		}
		return &PyError{Exc: inst}
	}
	return newException("TypeError", "exceptions must be classes or instances, not %s", typeName(args[0]))
}

func buildClass(name, bases, ns Value) (*Class, error) {
	n, _ := name.(string)
	dict, ok := ns.(*Dict)
	if !ok {
		return nil, newException("TypeError", "class body must return a namespace")
	}
	cls := &Class{Name: n, Dict: dict}
	if t, ok := bases.(*Tuple); ok {
		for _, b := range t.Items {
			bc, ok := b.(*Class)
			if !ok {
				return nil, newException("TypeError", "base %s is not a class", repr(b))
			}
			cls.Bases = append(cls.Bases, bc)
		}
	}
	return cls, nil
}

func (vm *VM) write(dest Value, s string) error {
	if dest == nil {
		_, err := io.WriteString(vm.out, s)
		return err
	}
	w, err := vm.getAttr(dest, "write")
	if err != nil {
		return err
	}
	_, err = vm.call(w, []Value{s}, nil)
	return err
}

func (vm *VM) printItem(dest Value, v Value) error {
	key := softspaceKey(dest)
	s := str(v)
	if vm.softspace[key] {
		s = " " + s
	}
	vm.softspace[key] = len(s) == 0 || s[len(s)-1] != '\n'
	return vm.write(dest, s)
}

func (vm *VM) printNewline(dest Value) error {
	vm.softspace[softspaceKey(dest)] = false
	return vm.write(dest, "\n")
}

func softspaceKey(dest Value) interface{} {
	if dest == nil {
		return nil
	}
	return dest
}
