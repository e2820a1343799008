package vm

// callFromStack pops a callable and its arguments as laid out by the
// CALL_FUNCTION family and calls it.
func (vm *VM) callFromStack(frame *Frame, ins Instruction) (Value, error) {
	var kwmap, star Value
	if ins.Op == OP_CALL_FUNCTION_KW || ins.Op == OP_CALL_FUNCTION_VAR_KW {
		kwmap = frame.pop()
	}
	if ins.Op == OP_CALL_FUNCTION_VAR || ins.Op == OP_CALL_FUNCTION_VAR_KW {
		star = frame.pop()
	}
	pairs := frame.popN(2 * ins.B)
	args := frame.popN(ins.A)
	fn := frame.pop()

	var kwargs *Dict
	if ins.B > 0 || kwmap != nil {
		kwargs = NewDict()
		for i := 0; i < len(pairs); i += 2 {
			kwargs.SetStr(pairs[i].(string), pairs[i+1])
		}
	}
	if star != nil {
		items, err := vm.sequence(star)
		if err != nil {
			return nil, err
		}
		args = append(args, items...)
	}
	if kwmap != nil {
		d, ok := kwmap.(*Dict)
		if !ok {
			return nil, newException("TypeError", "argument after ** must be a dictionary")
		}
		for _, kv := range d.Items() {
			k, ok := kv[0].(string)
			if !ok {
				return nil, newException("TypeError", "keywords must be strings")
			}
			if _, dup := kwargs.GetStr(k); dup {
				return nil, newException("TypeError", "got multiple values for keyword argument '%s'", k)
			}
			kwargs.SetStr(k, kv[1])
		}
	}
	return vm.call(fn, args, kwargs)
}

// call invokes fn. kwargs may be nil.
func (vm *VM) call(fn Value, args []Value, kwargs *Dict) (Value, error) {
	switch f := fn.(type) {
	case *Function:
		return vm.callFunction(f, args, kwargs)
	case *BoundMethod:
		return vm.call(f.Func, append([]Value{f.Self}, args...), kwargs)
	case *Builtin:
		return f.Fn(vm, args, kwargs)
	case *Class:
		return vm.instantiate(f, args, kwargs)
	case *Instance:
		if m, err := vm.getAttr(f, "__call__"); err == nil {
			return vm.call(m, args, kwargs)
		}
	}
	return nil, newException("TypeError", "'%s' object is not callable", typeName(fn))
}

func (vm *VM) callFunction(f *Function, args []Value, kwargs *Dict) (Value, error) {
	code := f.Code
	params, err := bindArguments(f, args, kwargs)
	if err != nil {
		return nil, err
	}
	env := newEnv(code, f.Closure)
	if code.IsGenerator() {
		return &Generator{fn: f, args: params, env: env, locals: NewDict()}, nil
	}
	frame := vm.newFrame(code, f.Globals, NewDict(), env)
	enterParams(frame, params)
	return vm.run(frame)
}

// enterParams stores bound parameters in their slots, and in the name
// dictionary of unoptimized frames.
func enterParams(frame *Frame, params []Value) {
	copy(frame.slots, params)
	if frame.code.IsOptimized() {
		return
	}
	for i, v := range params {
		frame.locals.SetStr(frame.code.LocalNames[i], v)
	}
}

// newEnv allocates fresh cells for the unit's cell variables followed by
// the captured closure cells.
func newEnv(code *CodeUnit, closure []*Cell) []*Cell {
	if code.EnvSize() == 0 {
		return nil
	}
	env := make([]*Cell, code.EnvSize())
	for i := range code.CellVars {
		env[i] = &Cell{Value: unbound}
	}
	copy(env[len(code.CellVars):], closure)
	return env
}

// bindArguments matches call arguments to the parameter slots of f:
// positionals, then *args, then **kwargs.
func bindArguments(f *Function, args []Value, kwargs *Dict) ([]Value, error) {
	code := f.Code
	n := code.ArgCount
	size := n
	if code.VarArgs {
		size++
	}
	if code.VarKeywords {
		size++
	}
	params := make([]Value, size)
	for i := range params {
		params[i] = unbound
	}

	for i := 0; i < len(args) && i < n; i++ {
		params[i] = args[i]
	}
	if len(args) > n && !code.VarArgs {
		return nil, arityError(f, len(args))
	}
	slot := n
	if code.VarArgs {
		var extra []Value
		if len(args) > n {
			extra = append(extra, args[n:]...)
		}
		params[slot] = &Tuple{Items: extra}
		slot++
	}

	var extraKw *Dict
	if code.VarKeywords {
		extraKw = NewDict()
		params[slot] = extraKw
	}
	if kwargs != nil {
		for _, kv := range kwargs.Items() {
			name := kv[0].(string)
			i := paramIndex(code, name)
			switch {
			case i >= 0 && params[i] != unbound:
				return nil, newException("TypeError", "%s() got multiple values for keyword argument '%s'", f.Name, name)
			case i >= 0:
				params[i] = kv[1]
			case extraKw != nil:
				extraKw.SetStr(name, kv[1])
			default:
				return nil, newException("TypeError", "%s() got an unexpected keyword argument '%s'", f.Name, name)
			}
		}
	}

	first := n - len(f.Defaults)
	for i := 0; i < n; i++ {
		if params[i] != unbound {
			continue
		}
		if i < first {
			return nil, arityError(f, len(args))
		}
		params[i] = f.Defaults[i-first]
	}
	return params, nil
}

func paramIndex(code *CodeUnit, name string) int {
	for i := 0; i < code.ArgCount && i < len(code.LocalNames); i++ {
		if code.LocalNames[i] == name {
			return i
		}
	}
	return -1
}

func arityError(f *Function, given int) error {
	code := f.Code
	how := "exactly"
	switch {
	case code.VarArgs:
		how = "at least"
	case len(f.Defaults) > 0:
		how = "at most"
	}
	want := code.ArgCount
	if how == "at least" {
		want -= len(f.Defaults)
	}
	plural := "s"
	if want == 1 {
		plural = ""
	}
	return newException("TypeError", "%s() takes %s %d argument%s (%d given)", f.Name, how, want, plural, given)
}

func (vm *VM) instantiate(cls *Class, args []Value, kwargs *Dict) (Value, error) {
	inst := &Instance{Class: cls, Dict: NewDict()}
	init, ok := cls.Lookup("__init__")
	if !ok {
		if len(args) > 0 || (kwargs != nil && kwargs.Len() > 0) {
			return nil, newException("TypeError", "this constructor takes no arguments")
		}
		return inst, nil
	}
	r, err := vm.call(init, append([]Value{inst}, args...), kwargs)
	if err != nil {
		return nil, err
	}
	if r != nil {
		return nil, newException("TypeError", "__init__() should return None")
	}
	return inst, nil
}

// resume runs a generator up to its next yield. ok is false when the
// generator finished instead of yielding.
func (vm *VM) resume(g *Generator, sent Value) (Value, bool, error) {
	if g.done {
		return nil, false, nil
	}
	if g.running {
		return nil, false, newException("ValueError", "generator already executing")
	}
	frame := vm.newFrame(g.fn.Code, g.fn.Globals, g.locals, g.env)
	frame.gen = g
	if g.resume == 0 {
		if sent != nil {
			return nil, false, newException("TypeError", "can't send non-None value to a just-started generator")
		}
		enterParams(frame, g.args)
	}
	g.sent = sent
	g.running = true
	v, err := vm.run(frame)
	g.running = false
	if err != nil {
		g.done = true
		return nil, false, err
	}
	if frame.yielded {
		return v, true, nil
	}
	g.done = true
	return nil, false, nil
}
