// Command pybc compiles syntax tree documents to stack-VM code units.
//
//	pybc [flags] file.yaml...
//
// By default the disassembly of every compiled unit is printed. -run
// executes each module through the reference interpreter instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/funvibe/pybc/internal/config"
	"github.com/funvibe/pybc/internal/pipeline"
	"github.com/funvibe/pybc/internal/store"
	"github.com/funvibe/pybc/internal/vm"
)

func main() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

type options struct {
	dis     bool
	exec    bool
	verify  bool
	store   string
	config  string
	jobs    int
	color   string
	verbose bool
}

// compiled is the outcome of one input file.
type compiled struct {
	path   string
	cached bool
	pc     *pipeline.PipelineContext
	unit   *vm.CodeUnit
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("pybc", flag.ContinueOnError)
	fs.BoolVar(&opts.dis, "dis", false, "print the disassembly of every unit (default unless -run or -verify)")
	fs.BoolVar(&opts.exec, "run", false, "execute modules with the reference interpreter")
	fs.BoolVar(&opts.verify, "verify", false, "report the verified stack depth of every unit")
	fs.StringVar(&opts.store, "store", "", "SQLite bundle store path")
	fs.StringVar(&opts.config, "config", "", "path to "+config.ConfigFileName)
	fs.IntVar(&opts.jobs, "j", 0, "files compiled concurrently")
	fs.StringVar(&opts.color, "color", "", "disassembly coloring: auto, always or never")
	fs.BoolVar(&opts.verbose, "v", false, "log progress and warnings")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pybc [flags] file.yaml...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	files := fs.Args()
	if len(files) == 0 {
		fs.Usage()
		return 2
	}
	if !opts.exec && !opts.verify {
		opts.dis = true
	}

	cfg, cfgPath, err := loadConfig(opts.config, files[0])
	if err != nil {
		log.Printf("pybc: %s", err)
		return 1
	}
	if opts.jobs > 0 {
		cfg.Jobs = opts.jobs
	}
	if opts.color != "" {
		cfg.Color = opts.color
	}
	storePath := cfg.ResolveStore(cfgPath)
	if opts.store != "" {
		storePath = opts.store
	}

	var bundles *store.Store
	if storePath != "" {
		bundles, err = store.Open(storePath)
		if err != nil {
			log.Printf("pybc: %s", err)
			return 1
		}
		defer bundles.Close()
	}

	results, err := compileAll(ctx, files, cfg, bundles, opts.verbose)
	if err != nil {
		log.Printf("pybc: %s", err)
		return 1
	}
	return report(ctx, results, cfg, opts, stdout)
}

// loadConfig reads the explicit config file or the nearest pybc.yaml
// above the first input.
func loadConfig(explicit, firstFile string) (*config.Config, string, error) {
	path := explicit
	if path == "" {
		found, err := config.FindConfig(filepath.Dir(firstFile))
		if err != nil {
			return nil, "", err
		}
		path = found
	}
	if path == "" {
		return config.Default(), "", nil
	}
	cfg, err := config.LoadConfig(path)
	return cfg, path, err
}

// compileAll runs the pipeline over every file, cfg.Jobs at a time. Each
// file gets its own pipeline context and compiler state.
func compileAll(ctx context.Context, files []string, cfg *config.Config, bundles *store.Store, verbose bool) ([]*compiled, error) {
	results := make([]*compiled, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			r, err := compileFile(gctx, path, cfg, bundles)
			if err != nil {
				return err
			}
			if verbose {
				state := "compiled"
				if r.cached {
					state = "cached"
				}
				log.Printf("%s: %s", path, state)
			}
			results[i] = r
			return nil
		})
	}
	return results, g.Wait()
}

func compileFile(ctx context.Context, path string, cfg *config.Config, bundles *store.Store) (*compiled, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pc := pipeline.NewPipelineContext(source)
	pc.FilePath = path
	if err := pc.ApplyConfig(cfg); err != nil {
		return nil, err
	}

	digest := cacheKey(source, pc)
	if bundles != nil {
		b, err := bundles.Get(ctx, digest, pc.Known)
		switch {
		case err == nil:
			// Bundles carry no diagnostics; rerun the analysis for warnings.
			pc = pipeline.Analysis().Run(pc)
			return &compiled{path: path, cached: true, pc: pc, unit: b.Unit}, nil
		case !errors.Is(err, store.ErrNotFound):
			log.Printf("%s: ignoring stored bundle: %s", path, err)
		}
	}

	pc = pipeline.Default().Run(pc)
	r := &compiled{path: path, pc: pc, unit: pc.Unit}
	if bundles != nil && !pc.Failed() {
		if err := bundles.Put(ctx, vm.NewBundle(pc.Unit, path, digest, pc.Known)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// cacheKey digests source together with the settings that change the
// emitted code beyond the known future features.
func cacheKey(source []byte, pc *pipeline.PipelineContext) string {
	key := append([]byte(nil), source...)
	key = fmt.Appendf(key, "\x00interactive=%t lines=%t", pc.Interactive, pc.LineNumbers)
	return store.Digest(key)
}

// report prints diagnostics and the requested output in input order.
func report(ctx context.Context, results []*compiled, cfg *config.Config, opts options, stdout io.Writer) int {
	status := 0
	color := useColor(cfg.Color, stdout)
	for _, r := range results {
		if opts.verbose {
			for _, w := range r.pc.Warnings {
				log.Print(w)
			}
		}
		if r.pc.Failed() {
			for _, e := range r.pc.Errors {
				log.Print(e)
			}
			status = 1
			continue
		}
		if opts.verify {
			depth, err := vm.Verify(r.unit)
			if err != nil {
				log.Printf("%s: %s", r.path, err)
				status = 1
				continue
			}
			fmt.Fprintf(stdout, "%s: ok, max stack %d\n", r.path, depth)
		}
		if opts.dis {
			if color {
				fmt.Fprint(stdout, vm.DisassembleColor(r.unit))
			} else {
				fmt.Fprint(stdout, vm.Disassemble(r.unit))
			}
		}
		if opts.exec {
			machine := vm.New()
			machine.SetOutput(stdout)
			machine.SetContext(ctx)
			if _, err := machine.Run(r.unit); err != nil {
				log.Printf("%s: %s", r.path, err)
				status = 1
			}
		}
	}
	return status
}

func useColor(mode string, w io.Writer) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
