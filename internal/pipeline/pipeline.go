// Package pipeline chains the compiler passes over a shared context.
package pipeline

// Processor is one stage of a pipeline.
type Processor interface {
	Process(ctx *PipelineContext) *PipelineContext
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx *PipelineContext) *PipelineContext

func (f ProcessorFunc) Process(ctx *PipelineContext) *PipelineContext { return f(ctx) }

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Default is the full compilation chain: decode, future features, scope
// analysis, code generation and stack verification.
func Default() *Pipeline {
	return New(
		&DecodeProcessor{},
		&FutureProcessor{},
		&ScopeProcessor{},
		&CodegenProcessor{},
		&VerifyProcessor{},
	)
}

// Analysis is the front half of Default. It stops after scope analysis,
// which is where every warning is raised.
func Analysis() *Pipeline {
	return New(
		&DecodeProcessor{},
		&FutureProcessor{},
		&ScopeProcessor{},
	)
}

// Run executes the pipeline.
func (p *Pipeline) Run(initialCtx *PipelineContext) *PipelineContext {
	ctx := initialCtx
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
		// Stages skip themselves once an earlier one failed, so warnings
		// collected so far still reach the caller.
	}
	return ctx
}
