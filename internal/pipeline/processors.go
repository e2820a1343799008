package pipeline

import (
	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/future"
	"github.com/funvibe/pybc/internal/symbols"
	"github.com/funvibe/pybc/internal/vm"
)

// DecodeProcessor reads the tree document in ctx.Source. A context that
// already holds a tree is left alone.
type DecodeProcessor struct{}

func (dp *DecodeProcessor) Process(ctx *PipelineContext) *PipelineContext {
	if ctx.Failed() {
		return ctx
	}
	if ctx.AstRoot == nil {
		mod, err := ast.Decode(ctx.Source)
		if err != nil {
			return ctx.fail(err)
		}
		ctx.AstRoot = mod
	}
	if m, ok := ctx.AstRoot.(*ast.Module); ok && ctx.Interactive {
		ctx.AstRoot = &ast.Interactive{Pos: m.Pos, Body: m.Body}
	}
	return ctx
}

// FutureProcessor collects the future features of the tree.
type FutureProcessor struct{}

func (fp *FutureProcessor) Process(ctx *PipelineContext) *PipelineContext {
	if ctx.Failed() {
		return ctx
	}
	flags, err := future.Preprocess(ctx.AstRoot, ctx.Known)
	if err != nil {
		return ctx.fail(err)
	}
	ctx.Features = flags
	return ctx
}

// ScopeProcessor builds the scope tree. Warnings are kept even when the
// analysis fails.
type ScopeProcessor struct{}

func (sp *ScopeProcessor) Process(ctx *PipelineContext) *PipelineContext {
	if ctx.Failed() {
		return ctx
	}
	tree, warnings, err := symbols.Analyze(ctx.AstRoot, symbols.WithFile(ctx.FilePath))
	for _, w := range warnings {
		ctx.warn(w)
	}
	if err != nil {
		return ctx.fail(err)
	}
	ctx.Scopes = tree
	return ctx
}

// CodegenProcessor emits the code unit from the scope tree.
type CodegenProcessor struct{}

func (cp *CodegenProcessor) Process(ctx *PipelineContext) *PipelineContext {
	if ctx.Failed() {
		return ctx
	}
	if ctx.Scopes == nil {
		return ctx.fail(diagnostics.NewError(diagnostics.ErrC007, ctx.AstRoot, "code generation before scope analysis"))
	}
	unit, err := vm.Generate(ctx.AstRoot, ctx.Scopes, ctx.Features,
		vm.WithFile(ctx.FilePath),
		vm.WithLineNumbers(ctx.LineNumbers),
	)
	if err != nil {
		return ctx.fail(err)
	}
	ctx.Unit = unit
	return ctx
}

// VerifyProcessor checks the stack balance of every emitted unit.
type VerifyProcessor struct{}

func (vp *VerifyProcessor) Process(ctx *PipelineContext) *PipelineContext {
	if ctx.Failed() || ctx.Unit == nil {
		return ctx
	}
	depth, err := vm.Verify(ctx.Unit)
	if err != nil {
		return ctx.fail(err)
	}
	ctx.MaxDepth = depth
	return ctx
}
