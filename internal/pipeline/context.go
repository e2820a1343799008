package pipeline

import (
	"errors"

	"github.com/funvibe/pybc/internal/ast"
	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/diagnostics"
	"github.com/funvibe/pybc/internal/future"
	"github.com/funvibe/pybc/internal/symbols"
	"github.com/funvibe/pybc/internal/vm"
)

// PipelineContext carries one document through the compiler passes.
type PipelineContext struct {
	FilePath string
	Source   []byte

	// Known future features, from pybc.yaml or an enclosing session
	Known       future.Flags
	LineNumbers bool
	Interactive bool

	AstRoot  ast.Mod
	Features future.Flags
	Scopes   *symbols.ScopeTree
	Unit     *vm.CodeUnit
	MaxDepth int
	Errors   []*diagnostics.DiagnosticError
	Warnings []*diagnostics.DiagnosticError
}

// NewPipelineContext creates a context for source with default settings.
func NewPipelineContext(source []byte) *PipelineContext {
	return &PipelineContext{Source: source, LineNumbers: true}
}

// ApplyConfig copies the compiler settings of cfg into the context.
func (ctx *PipelineContext) ApplyConfig(cfg *config.Config) error {
	known, err := future.FromNames(cfg.Futures)
	if err != nil {
		return err
	}
	ctx.Known |= known
	ctx.LineNumbers = cfg.WantLineNumbers()
	ctx.Interactive = cfg.PrintResults
	return nil
}

// Failed reports whether any stage recorded a fatal error.
func (ctx *PipelineContext) Failed() bool { return len(ctx.Errors) > 0 }

// fail records err as a diagnostic. Errors that carry no code are wrapped
// as tree-document errors.
func (ctx *PipelineContext) fail(err error) *PipelineContext {
	d, ok := diagnostics.As(err)
	if !ok {
		d = &diagnostics.DiagnosticError{Code: diagnostics.ErrA001, Message: err.Error()}
		var de *ast.DecodeError
		if errors.As(err, &de) {
			d.Pos = ast.Pos{Line: de.Line, Col: de.Col}
			d.Message = de.Msg
		}
	}
	if d.File == "" && ctx.FilePath != "" {
		d = d.WithFile(ctx.FilePath)
	}
	ctx.Errors = append(ctx.Errors, d)
	return ctx
}

func (ctx *PipelineContext) warn(d *diagnostics.DiagnosticError) {
	if d.File == "" && ctx.FilePath != "" {
		d = d.WithFile(ctx.FilePath)
	}
	ctx.Warnings = append(ctx.Warnings, d)
}
