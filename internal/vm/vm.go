package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/funvibe/pybc/internal/config"
)

var errStackUnderflow = errors.New("stack underflow")

// Maximum call depth to prevent infinite recursion
const MaxFrameCount = 1000

// How many instructions run between context checks
const contextCheckInterval = 1024

// Frame is one activation of a code unit.
type Frame struct {
	code    *CodeUnit
	globals *Dict
	locals  *Dict // Name-based locals; the globals for module code
	slots   []Value
	env     []*Cell
	stack   []Value
	ip      int
	back    *Frame
	gen     *Generator
	yielded bool
}

// VM is a reference interpreter for code units. It executes every
// instruction the code generator emits against a small object model.
type VM struct {
	globals  *Dict
	builtins *Dict
	modules  map[string]*Module

	frame      *Frame // Innermost running frame
	frameCount int
	steps      int

	// Exception being handled, for bare raise
	handling *PyError

	softspace map[interface{}]bool

	// Output writer (defaults to os.Stdout)
	out io.Writer

	// Context for cancellation
	Context context.Context
}

// New creates a new VM instance
func New() *VM {
	vm := &VM{
		globals:   NewDict(),
		modules:   make(map[string]*Module),
		softspace: make(map[interface{}]bool),
		out:       os.Stdout,
		Context:   context.Background(),
	}
	vm.builtins = newBuiltins()
	vm.globals.SetStr(config.ModuleName, config.MainModule)
	vm.registerModules()
	return vm
}

// SetOutput sets the writer used by print statements
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// SetContext sets the context for cancellation
func (vm *VM) SetContext(ctx context.Context) {
	vm.Context = ctx
}

// Globals returns the module namespace that Run executes in.
func (vm *VM) Globals() *Dict { return vm.globals }

// Global returns a module-level name.
func (vm *VM) Global(name string) (Value, bool) {
	return vm.globals.GetStr(name)
}

// Run executes a module, interactive or expression unit and returns the
// value the unit returns.
func (vm *VM) Run(unit *CodeUnit) (Value, error) {
	frame := vm.newFrame(unit, vm.globals, vm.globals, nil)
	return vm.run(frame)
}

// Call invokes a callable value with positional arguments.
func (vm *VM) Call(fn Value, args ...Value) (Value, error) {
	return vm.call(fn, args, nil)
}

// Next resumes an iterator. It reports false once the iterator is
// exhausted.
func (vm *VM) Next(it Value) (Value, bool, error) {
	return vm.next(it)
}

func (vm *VM) newFrame(code *CodeUnit, globals, locals *Dict, env []*Cell) *Frame {
	f := &Frame{
		code:    code,
		globals: globals,
		locals:  locals,
		env:     env,
		slots:   make([]Value, code.LocalCount),
		stack:   make([]Value, 0, code.MaxStack),
	}
	for i := range f.slots {
		f.slots[i] = unbound
	}
	return f
}

func (f *Frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *Frame) pop() Value {
	n := len(f.stack) - 1
	if n < 0 {
		panic(errStackUnderflow)
	}
	v := f.stack[n]
	f.stack = f.stack[:n]
	return v
}

func (f *Frame) top() Value {
	if len(f.stack) == 0 {
		panic(errStackUnderflow)
	}
	return f.stack[len(f.stack)-1]
}

// popN removes and returns the top n values in push order.
func (f *Frame) popN(n int) []Value {
	if n > len(f.stack) {
		panic(errStackUnderflow)
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

// run executes frame until it returns, yields or raises an exception
// that no handler in the frame catches.
func (vm *VM) run(frame *Frame) (result Value, err error) {
	if vm.frameCount >= MaxFrameCount {
		return nil, newException("RuntimeError", "maximum recursion depth exceeded")
	}
	frame.back = vm.frame
	vm.frame = frame
	vm.frameCount++
	defer func() {
		vm.frame = frame.back
		vm.frameCount--
		if r := recover(); r != nil {
			if r == errStackUnderflow {
				err = fmt.Errorf("%s@%d: %w", frame.code.Name, frame.ip, errStackUnderflow)
				return
			}
			panic(r)
		}
	}()

	code := frame.code.Code
	for {
		if frame.ip >= len(code) {
			return nil, fmt.Errorf("%s: control fell off the end of the code", frame.code.Name)
		}
		vm.steps++
		if vm.steps%contextCheckInterval == 0 {
			if err := vm.Context.Err(); err != nil {
				return nil, err
			}
		}
		pc := frame.ip
		ins := code[pc]
		frame.ip++

		result, done, err := vm.step(frame, ins)
		if err == nil {
			if done {
				return result, nil
			}
			continue
		}
		var pyErr *PyError
		if !errors.As(err, &pyErr) {
			return nil, err
		}
		if pyErr.Line == 0 {
			pyErr.Unit = frame.code.Name
			pyErr.Line = ins.Line
		}
		handler, ok := findHandler(frame.code, pc)
		if !ok {
			return nil, pyErr
		}
		frame.stack = frame.stack[:handler.Depth]
		frame.push(pyErr.Exc)
		vm.handling = pyErr
		frame.ip = handler.Handler
	}
}

// findHandler returns the first exception table row covering pc.
func findHandler(code *CodeUnit, pc int) (ExceptionRange, bool) {
	for _, r := range code.ExceptionTable {
		if r.Start <= pc && pc < r.End {
			return r, true
		}
	}
	return ExceptionRange{}, false
}
