package vm

import (
	"strings"

	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/symbols"
)

type nameAccess int

const (
	accessName nameAccess = iota
	accessGlobal
	accessFast
	accessDeref
)

var nameOps = [...][3]Opcode{
	accessName:   {OP_LOAD_NAME, OP_STORE_NAME, OP_DELETE_NAME},
	accessGlobal: {OP_LOAD_GLOBAL, OP_STORE_GLOBAL, OP_DELETE_GLOBAL},
	accessFast:   {OP_LOAD_FAST, OP_STORE_FAST, OP_DELETE_FAST},
	accessDeref:  {OP_LOAD_DEREF, OP_STORE_DEREF, OP_NOP},
}

// resolveName classifies name in the current scope and returns the
// operand for the matching instruction family.
func (c *Compiler) resolveName(name string) (nameAccess, int) {
	var flags symbols.Flag
	sym, ok := c.scope.Lookup(name)
	if ok {
		flags = sym.Flags
	}
	optimized := c.scope.Optimized()
	switch {
	case flags&symbols.Global != 0,
		optimized && flags&(symbols.Bound|symbols.Cell|symbols.Free) == 0:
		return accessGlobal, c.unit.AddName(c.mangle(name))
	case flags&symbols.Cell != 0:
		return accessDeref, sym.EnvIndex
	case optimized && flags&symbols.Bound != 0:
		return accessFast, sym.LocalIndex
	case flags&symbols.Free != 0 && flags&symbols.Bound == 0:
		return accessDeref, sym.EnvIndex
	}
	return accessName, c.unit.AddName(c.mangle(name))
}

func (c *Compiler) loadName(name string, node ast.Node) error {
	access, arg := c.resolveName(name)
	c.emitA(nameOps[access][0], arg)
	return nil
}

func (c *Compiler) storeName(name string, node ast.Node) error {
	access, arg := c.resolveName(name)
	c.emitA(nameOps[access][1], arg)
	return nil
}

func (c *Compiler) deleteName(name string, node ast.Node) error {
	access, arg := c.resolveName(name)
	if access == accessDeref {
		return diagnostics.NewError(diagnostics.ErrC006, node, "can not delete variable '%s' referenced in nested scope", name)
	}
	c.emitA(nameOps[access][2], arg)
	return nil
}

// mangle rewrites a private name used inside a class as _Class__name.
func (c *Compiler) mangle(name string) string {
	if c.className == "" || !strings.HasPrefix(name, "__") || strings.HasSuffix(name, "__") || strings.Contains(name, ".") {
		return name
	}
	cls := strings.TrimLeft(c.className, "_")
	if cls == "" {
		return name
	}
	return "_" + cls + name
}
