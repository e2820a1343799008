package symbols

import "github.com/funvibe/pybc/internal/diagnostics"

// cook closes scope b. Names captured by nested scopes become cells,
// remaining bound names get local slots, and unbound used names become
// free and are pushed to up so the enclosing scope can turn them into
// cells. up is the nearest non-class ancestor and dist the frame hops to
// it. The module scope has no up and keeps every name in its dictionary.
func cook(b *builder, up *builder, dist int) error {
	s := b.scope
	defer func() { s.cooked = true }()

	if s.Generator && b.returnNode != nil {
		return diagnostics.NewError(diagnostics.ErrS006, b.returnNode, "'return' with argument inside generator")
	}
	if up == nil {
		return nil
	}
	s.Up = up.scope
	s.Distance = dist

	fn := s.Type.IsFunction()
	someInnerFree := len(b.innerFree) > 0
	for _, name := range b.innerFree {
		sym, ok := s.Lookup(name)
		if !ok {
			s.symbol(name).Flags |= Free
			continue
		}
		if fn {
			if sym.Flags&Global == 0 && sym.Flags&Bound != 0 {
				sym.Flags |= Cell
				sym.EnvIndex = len(s.CellVars)
				s.CellVars = append(s.CellVars, name)
			}
			continue
		}
		sym.Flags |= Free
	}

	someFree := false
	nested := up.scope.Type != ScopeModule
	for _, sym := range s.symbols {
		if nested && sym.Flags&Free != 0 {
			up.addInnerFree(sym.Name)
		}
		if sym.Flags&(Global|Param|Cell) != 0 {
			continue
		}
		if sym.Flags&Bound != 0 {
			sym.LocalIndex = len(s.LocalNames)
			s.LocalNames = append(s.LocalNames, sym.Name)
			continue
		}
		sym.Flags |= Free
		someFree = true
		if nested {
			up.addInnerFree(sym.Name)
		}
	}

	if s.UnqualifiedExec || s.HasImportStar {
		if someInnerFree {
			return dynamicNamesError(s, "contains a nested function with free variables")
		}
		if s.FuncLevel > 1 && someFree {
			return dynamicNamesError(s, "is a nested function")
		}
	}
	return nil
}

func dynamicNamesError(s *Scope, why string) error {
	var what string
	switch {
	case s.UnqualifiedExec && s.HasImportStar:
		what = "function '" + s.Name + "' uses import * and bare exec, which are illegal"
	case s.UnqualifiedExec:
		what = "unqualified exec is not allowed in function '" + s.Name + "'"
	default:
		what = "import * is not allowed in function '" + s.Name + "'"
	}
	return diagnostics.NewError(diagnostics.ErrS007, s.Node, "%s because it %s", what, why)
}

// setupClosure resolves the free names of s against its cooked Up scope.
// A name the ancestor holds as cell or free joins FreeVars after the
// cells; any other free name falls back to a global lookup. Scopes must
// be visited parents first so an ancestor's demotions are already final.
func setupClosure(s *Scope) {
	if s.Up == nil {
		return
	}
	for _, sym := range s.symbols {
		if sym.Flags&Free == 0 {
			continue
		}
		if upSym, ok := s.Up.Lookup(sym.Name); ok && upSym.Flags&(Cell|Free) != 0 {
			sym.EnvIndex = len(s.CellVars) + len(s.FreeVars)
			s.FreeVars = append(s.FreeVars, sym.Name)
			continue
		}
		sym.Flags &^= Free
	}
}
