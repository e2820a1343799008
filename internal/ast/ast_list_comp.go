package ast

// ListComp is `[elt for target in iter if cond ...]`.
type ListComp struct {
	Pos
	Elt        Expr
	Generators []*Comprehension
}

// GeneratorExp is `(elt for target in iter if cond ...)`.
type GeneratorExp struct {
	Pos
	Elt        Expr
	Generators []*Comprehension
}

// Comprehension is one `for target in iter if ...` clause.
type Comprehension struct {
	Pos
	Target Expr
	Iter   Expr
	Ifs    []Expr
}

// FedName is the synthetic parameter through which a comprehension scope
// receives its first iterable.
const FedName = "_(x)"

// AccumulatorName is the synthetic local holding the list a list
// comprehension scope builds.
const AccumulatorName = "_[0]"

// ComprehensionGenerators returns the clauses of a ListComp or GeneratorExp.
func ComprehensionGenerators(e Expr) ([]*Comprehension, Expr, bool) {
	switch n := e.(type) {
	case *ListComp:
		return n.Generators, n.Elt, true
	case *GeneratorExp:
		return n.Generators, n.Elt, true
	}
	return nil, nil, false
}
